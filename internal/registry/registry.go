// Package registry 维护当前输入设备列表及其分类
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/Hara602/inputSentry/internal/analysis"
	"github.com/Hara602/inputSentry/internal/inputdev"
	"github.com/Hara602/inputSentry/internal/model"
	"github.com/Hara602/inputSentry/internal/sysutil"
)

type Registry struct {
	backend inputdev.Backend

	refreshMu sync.Mutex // 串行化 Refresh, 保证回调顺序
	mu        sync.RWMutex
	devices   map[string]model.Device

	hookMu   sync.RWMutex
	onAdd    []func(model.Device)
	onRemove []func(model.Device)
}

func New(backend inputdev.Backend) *Registry {
	return &Registry{
		backend: backend,
		devices: make(map[string]model.Device),
	}
}

// OnAdd 新设备出现时回调
func (r *Registry) OnAdd(fn func(model.Device)) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.onAdd = append(r.onAdd, fn)
}

// OnRemove 设备消失时回调, capture 在这里释放独占句柄
func (r *Registry) OnRemove(fn func(model.Device)) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.onRemove = append(r.onRemove, fn)
}

// Classify 设备分类
func (r *Registry) Classify(info inputdev.Info) model.DeviceType {
	return analysis.Classify(info.Name, info.Caps)
}

// Refresh 重新枚举并与现有列表对账, 可重复调用
func (r *Registry) Refresh() []model.Device {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	paths, err := r.backend.List()
	if err != nil {
		sysutil.Log.Error("Failed to enumerate input devices", zap.Error(err))
		return r.List()
	}

	r.mu.RLock()
	previous := make(map[string]model.Device, len(r.devices))
	for p, d := range r.devices {
		previous[p] = d
	}
	r.mu.RUnlock()

	current := make(map[string]model.Device, len(paths))
	for _, path := range paths {
		info, err := r.backend.Probe(path)
		if err != nil {
			if old, ok := previous[path]; ok && !isGone(err) {
				// 暂时读不到 (权限等) 的已知设备保留原样
				current[path] = old
			}
			logProbeError(path, err)
			continue
		}
		current[path] = r.describe(info)
	}

	var added, removed []model.Device
	for path, old := range previous {
		if dev, ok := current[path]; !ok || !sameHardware(old, dev) {
			removed = append(removed, old)
		}
	}
	for path, dev := range current {
		if old, ok := previous[path]; !ok || !sameHardware(old, dev) {
			added = append(added, dev)
		}
	}
	sortByPath(added)
	sortByPath(removed)

	r.mu.Lock()
	r.devices = current
	r.mu.Unlock()

	// 先移除再添加: 同一路径被新硬件复用时旧句柄先释放
	for _, dev := range removed {
		sysutil.Log.Info("❌ Input device removed", zap.String("path", dev.Path), zap.String("name", dev.Name))
		r.fire(r.removeHooks(), dev)
	}
	for _, dev := range added {
		sysutil.Log.Info("✅ Input device detected",
			zap.String("path", dev.Path),
			zap.String("name", dev.Name),
			zap.String("type", string(dev.Type)),
			zap.String("vid", dev.Vendor),
			zap.String("pid", dev.Product),
		)
		r.fire(r.addHooks(), dev)
	}

	return r.List()
}

// Remove 后台读取发现设备消失时调用, 返回设备此前是否存在
// 与 Refresh 互斥, 否则 Refresh 会用移除前的快照把设备放回去而不触发 OnAdd
func (r *Registry) Remove(path string) bool {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	r.mu.Lock()
	dev, ok := r.devices[path]
	delete(r.devices, path)
	r.mu.Unlock()
	if !ok {
		return false
	}
	sysutil.Log.Info("❌ Input device gone", zap.String("path", path), zap.String("name", dev.Name))
	r.fire(r.removeHooks(), dev)
	return true
}

func (r *Registry) Get(path string) (model.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[path]
	return d, ok
}

// List 按路径排序的快照
func (r *Registry) List() []model.Device {
	r.mu.RLock()
	out := make([]model.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	r.mu.RUnlock()
	sortByPath(out)
	return out
}

// Summary 各类型设备数量
func (r *Registry) Summary() map[model.DeviceType]int {
	out := make(map[model.DeviceType]int, len(model.AllDeviceTypes))
	for _, t := range model.AllDeviceTypes {
		out[t] = 0
	}
	for _, d := range r.List() {
		out[d.Type]++
	}
	return out
}

func (r *Registry) describe(info inputdev.Info) model.Device {
	return model.Device{
		Path:    info.Path,
		Name:    info.Name,
		Phys:    orUnknown(info.Phys),
		Vendor:  fmt.Sprintf("%04x", info.Vendor),
		Product: fmt.Sprintf("%04x", info.Product),
		Type:    r.Classify(info),
		Caps:    info.Caps,
	}
}

func (r *Registry) addHooks() []func(model.Device) {
	r.hookMu.RLock()
	defer r.hookMu.RUnlock()
	return append([]func(model.Device){}, r.onAdd...)
}

func (r *Registry) removeHooks() []func(model.Device) {
	r.hookMu.RLock()
	defer r.hookMu.RUnlock()
	return append([]func(model.Device){}, r.onRemove...)
}

func (r *Registry) fire(hooks []func(model.Device), dev model.Device) {
	for _, fn := range hooks {
		fn(dev)
	}
}

func sameHardware(a, b model.Device) bool {
	return a.Name == b.Name && a.Phys == b.Phys && a.Vendor == b.Vendor && a.Product == b.Product
}

func isGone(err error) bool {
	return errors.Is(err, model.ErrDeviceGone) || errors.Is(err, model.ErrNotFound)
}

func logProbeError(path string, err error) {
	if isGone(err) {
		// USB 拔出之类的瞬时断开, 正常现象
		sysutil.Log.Debug("Device vanished during refresh", zap.String("path", path), zap.Error(err))
		return
	}
	sysutil.Log.Warn("Failed to probe input device", zap.String("path", path), zap.Error(err))
}

func sortByPath(devs []model.Device) {
	sort.Slice(devs, func(i, j int) bool { return devs[i].Path < devs[j].Path })
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
