// Package capture 管理设备的独占 (锁定) 状态
package capture

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Hara602/inputSentry/internal/eventbus"
	"github.com/Hara602/inputSentry/internal/inputdev"
	"github.com/Hara602/inputSentry/internal/model"
	"github.com/Hara602/inputSentry/internal/sysutil"
)

// ErrTouchscreenBypass 配置禁止锁定触摸屏
var ErrTouchscreenBypass = errors.New("touchscreen locking disabled by touchscreen_bypass")

// Lister 当前已知设备, 由 registry 提供
type Lister interface {
	List() []model.Device
}

// Excluder 批量锁定时跳过的设备 (白名单)
type Excluder interface {
	Excluded(path string) bool
}

// Failure 批量操作中单个设备的失败
type Failure struct {
	Path string
	Err  error
}

// BulkResult 批量操作结果, Affected 为实际发生状态变化的设备数
type BulkResult struct {
	Affected int
	Failures []Failure
}

// Err 汇总所有失败
func (r BulkResult) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, fmt.Errorf("%s: %w", f.Path, f.Err))
	}
	return err
}

// TransitionFunc 在设备锁状态真正变化后调用 (持有该设备的锁), 不得回调 Controller
type TransitionFunc func(path string, locked bool, lockedTotal int)

type Options struct {
	Backend  inputdev.Backend
	Devices  Lister
	Bus      eventbus.Publisher
	Sink     KeySink
	Excluder Excluder
	// 批量操作永不独占触摸屏
	TouchscreenBypass bool
	OnTransition      TransitionFunc
	// 独占中的设备被拔出
	OnGone func(path string)
}

type entry struct {
	mu     sync.Mutex
	handle *Handle
}

type Controller struct {
	opts   Options
	bypass atomic.Bool

	mu      sync.Mutex
	entries map[string]*entry

	locked atomic.Int64
	pumps  sync.WaitGroup
}

func New(opts Options) *Controller {
	c := &Controller{opts: opts, entries: make(map[string]*entry)}
	c.bypass.Store(opts.TouchscreenBypass)
	return c
}

// SetTouchscreenBypass 配置热更新
func (c *Controller) SetTouchscreenBypass(on bool) {
	c.bypass.Store(on)
}

func (c *Controller) entry(path string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok {
		e = &entry{}
		c.entries[path] = e
	}
	return e
}

// Lock 独占单个设备, 已锁定时直接成功
func (c *Controller) Lock(path string) error {
	_, err := c.lock(path)
	return err
}

// Unlock 释放单个设备, 未锁定或设备已消失都视为成功
func (c *Controller) Unlock(path string) error {
	c.unlock(path, "unlock")
	return nil
}

// Release 设备被移除时释放句柄
func (c *Controller) Release(path string) {
	c.unlock(path, "device removed")
}

// Toggle 在同一把锁内翻转状态, 返回新状态
func (c *Controller) Toggle(path string) (bool, error) {
	e := c.entry(path)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != nil {
		c.releaseLocked(path, e, "toggle")
		return false, nil
	}
	if err := c.acquireLocked(path, e); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Controller) lock(path string) (bool, error) {
	e := c.entry(path)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != nil {
		return false, nil
	}
	if err := c.acquireLocked(path, e); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Controller) unlock(path, reason string) bool {
	c.mu.Lock()
	e, ok := c.entries[path]
	c.mu.Unlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle == nil {
		return false
	}
	c.releaseLocked(path, e, reason)
	return true
}

// acquireLocked 调用方持有 e.mu
func (c *Controller) acquireLocked(path string, e *entry) error {
	node, err := c.opts.Backend.Open(path)
	if err != nil {
		sysutil.Log.Warn("Failed to open device for locking", zap.String("path", path), zap.Error(err))
		return err
	}
	if err := node.Grab(); err != nil {
		_ = node.Close()
		sysutil.Log.Warn("Failed to grab device", zap.String("path", path), zap.Error(err))
		return err
	}

	h := newHandle(node)
	e.handle = h
	c.pumps.Add(1)
	go func() {
		defer c.pumps.Done()
		h.pump(c.opts.Sink, c.opts.OnGone, func(error) { c.fault(path, h) })
	}()

	sysutil.Log.Info("🔒 Device locked", zap.String("path", path))
	c.transition(path, true)
	return nil
}

// fault 释放读取失败的句柄; 句柄已被替换时忽略
func (c *Controller) fault(path string, h *Handle) {
	c.mu.Lock()
	e, ok := c.entries[path]
	c.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != h {
		return
	}
	c.releaseLocked(path, e, "read error")
}

// releaseLocked 调用方持有 e.mu
func (c *Controller) releaseLocked(path string, e *entry, reason string) {
	e.handle.release()
	e.handle = nil
	sysutil.Log.Info("🔓 Device unlocked", zap.String("path", path), zap.String("reason", reason))
	c.transition(path, false)
}

func (c *Controller) transition(path string, locked bool) {
	var total int64
	if locked {
		total = c.locked.Add(1)
	} else {
		total = c.locked.Add(-1)
	}
	if c.opts.Bus != nil {
		c.opts.Bus.Publish(eventbus.NewEvent(model.KindDeviceUpdate, model.DeviceUpdate{Path: path, Locked: locked}))
	}
	if c.opts.OnTransition != nil {
		c.opts.OnTransition(path, locked, int(total))
	}
}

// LockAll 锁定除触摸屏/other/白名单/exclude 类型外的全部设备
func (c *Controller) LockAll(exclude []model.DeviceType) (BulkResult, error) {
	skip := make(map[model.DeviceType]bool, len(exclude)+2)
	for _, t := range exclude {
		skip[t] = true
	}
	skip[model.Touchscreen] = true
	skip[model.Other] = true

	return c.lockWhere(func(d model.Device) bool { return !skip[d.Type] })
}

// LockByTypes 只增不减地锁定指定类型
// 显式请求的触摸屏照常锁定; 开启 bypass 时每个触摸屏记为一条 ErrTouchscreenBypass 失败
func (c *Controller) LockByTypes(types []model.DeviceType) (BulkResult, error) {
	want := make(map[model.DeviceType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	delete(want, model.Other)
	refused := want[model.Touchscreen] && c.bypass.Load()
	if refused {
		delete(want, model.Touchscreen)
	}

	res, _ := c.lockWhere(func(d model.Device) bool { return want[d.Type] })
	if refused && c.opts.Devices != nil {
		for _, d := range c.opts.Devices.List() {
			if d.Type == model.Touchscreen {
				res.Failures = append(res.Failures, Failure{Path: d.Path, Err: ErrTouchscreenBypass})
			}
		}
	}
	return res, res.Err()
}

func (c *Controller) lockWhere(match func(model.Device) bool) (BulkResult, error) {
	var res BulkResult
	if c.opts.Devices == nil {
		return res, nil
	}
	devs := c.opts.Devices.List()
	sort.Slice(devs, func(i, j int) bool { return devs[i].Path < devs[j].Path })

	for _, d := range devs {
		if !match(d) {
			continue
		}
		if c.opts.Excluder != nil && c.opts.Excluder.Excluded(d.Path) {
			sysutil.Log.Debug("Skipping whitelisted device", zap.String("path", d.Path))
			continue
		}
		changed, err := c.lock(d.Path)
		if err != nil {
			res.Failures = append(res.Failures, Failure{Path: d.Path, Err: err})
			continue
		}
		if changed {
			res.Affected++
		}
	}
	return res, res.Err()
}

// UnlockAll 尽力释放所有已锁定设备
func (c *Controller) UnlockAll() (BulkResult, error) {
	var res BulkResult
	for _, path := range c.LockedPaths() {
		if c.unlock(path, "unlock all") {
			res.Affected++
		}
	}
	return res, res.Err()
}

func (c *Controller) IsLocked(path string) bool {
	c.mu.Lock()
	e, ok := c.entries[path]
	c.mu.Unlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handle != nil
}

// LockedPaths 按路径排序
func (c *Controller) LockedPaths() []string {
	c.mu.Lock()
	paths := make([]string, 0, len(c.entries))
	entries := make([]*entry, 0, len(c.entries))
	for p, e := range c.entries {
		paths = append(paths, p)
		entries = append(entries, e)
	}
	c.mu.Unlock()

	var out []string
	for i, e := range entries {
		e.mu.Lock()
		if e.handle != nil {
			out = append(out, paths[i])
		}
		e.mu.Unlock()
	}
	sort.Strings(out)
	return out
}

func (c *Controller) LockedCount() int {
	return int(c.locked.Load())
}

// Close 释放全部句柄并等待读取协程退出
func (c *Controller) Close() {
	res, _ := c.UnlockAll()
	c.pumps.Wait()
	sysutil.Log.Info("Capture controller stopped", zap.Int("released", res.Affected))
}
