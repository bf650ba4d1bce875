package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Hara602/inputSentry/internal/capture"
	"github.com/Hara602/inputSentry/internal/config"
	"github.com/Hara602/inputSentry/internal/eventbus"
	"github.com/Hara602/inputSentry/internal/model"
	"github.com/Hara602/inputSentry/internal/sysutil"
	"github.com/Hara602/inputSentry/internal/timer"
)

// Devices 设备快照, Locked 由 capture 给出
func (e *Engine) Devices() []model.Device {
	devs := e.registry.List()
	for i := range devs {
		devs[i].Locked = e.capture.IsLocked(devs[i].Path)
	}
	return devs
}

// Refresh 重新枚举设备
func (e *Engine) Refresh() []model.Device {
	e.registry.Refresh()
	e.publishDevices()
	e.publishStatus()
	return e.Devices()
}

// Summary 各类型设备数量
func (e *Engine) Summary() map[model.DeviceType]int {
	return e.registry.Summary()
}

func (e *Engine) LockAll() (capture.BulkResult, error) {
	res, err := e.lockAll()
	e.publishDevices()
	return res, err
}

func (e *Engine) lockAll() (capture.BulkResult, error) {
	res, err := e.capture.LockAll(nil)
	logBulk("lock all", res)
	return res, err
}

func (e *Engine) UnlockAll() (capture.BulkResult, error) {
	res := e.unlockAll()
	e.publishDevices()
	return res, nil
}

func (e *Engine) unlockAll() capture.BulkResult {
	res, _ := e.capture.UnlockAll()
	logBulk("unlock all", res)
	return res
}

// LockByTypes 只增不减, 不会解锁已锁定的其他类型
func (e *Engine) LockByTypes(names []string) (capture.BulkResult, error) {
	types, err := config.ParseTypes(names)
	if err != nil {
		return capture.BulkResult{}, err
	}
	res, err := e.capture.LockByTypes(types)
	logBulk("lock by types", res, zap.Strings("types", names))
	e.publishDevices()
	return res, err
}

// ApplyProfile 按配置中的方案锁定, 同样只增不减
func (e *Engine) ApplyProfile(name string) (capture.BulkResult, error) {
	p, err := e.currentConfig().Profile(name)
	if err != nil {
		return capture.BulkResult{}, err
	}
	res, err := e.capture.LockByTypes(p.Types)
	logBulk("apply profile", res, zap.String("profile", p.Name))
	e.publishDevices()
	return res, err
}

func (e *Engine) Lock(path string) error {
	return e.capture.Lock(path)
}

func (e *Engine) Unlock(path string) error {
	return e.capture.Unlock(path)
}

// Toggle 返回设备的新状态
func (e *Engine) Toggle(path string) (bool, error) {
	return e.capture.Toggle(path)
}

// ToggleAll 有设备被锁定时全部解锁, 否则全部锁定; 返回之后是否处于锁定
func (e *Engine) ToggleAll() (bool, capture.BulkResult, error) {
	if e.capture.LockedCount() > 0 {
		res, err := e.UnlockAll()
		return false, res, err
	}
	res, err := e.LockAll()
	return e.capture.LockedCount() > 0, res, err
}

// SetTimer minutes 分钟后解锁 target (为空则全部)
func (e *Engine) SetTimer(minutes int, target string) (timer.Status, error) {
	return e.SetTimerDuration(time.Duration(minutes)*time.Minute, target)
}

func (e *Engine) SetTimerDuration(d time.Duration, target string) (timer.Status, error) {
	return e.timer.Set(d, target)
}

// LockFor 先全部锁定, 再安排自动解锁
func (e *Engine) LockFor(minutes int) (timer.Status, capture.BulkResult, error) {
	if minutes <= 0 {
		return timer.Status{}, capture.BulkResult{}, timer.ErrInvalidDuration
	}
	res, err := e.LockAll()
	if err != nil && res.Affected == 0 && e.capture.LockedCount() == 0 {
		return timer.Status{}, res, err
	}
	st, terr := e.SetTimer(minutes, "")
	if terr != nil {
		return st, res, terr
	}
	return st, res, err
}

func (e *Engine) CancelTimer() bool {
	return e.timer.Cancel()
}

func (e *Engine) TimerStatus() timer.Status {
	return e.timer.Status()
}

// Subscribe 订阅之后的状态变化
func (e *Engine) Subscribe() *eventbus.Subscription {
	return e.bus.Subscribe()
}

func (e *Engine) Status() model.StatusUpdate {
	uptime := 0
	if !e.started.IsZero() {
		uptime = int(time.Since(e.started) / time.Second)
	}
	return model.StatusUpdate{
		Running:          e.running.Load(),
		ActiveBlocks:     e.capture.LockedCount(),
		ConnectedDevices: len(e.registry.List()),
		Uptime:           uptime,
	}
}

func logBulk(op string, res capture.BulkResult, fields ...zap.Field) {
	fields = append(fields, zap.Int("affected", res.Affected), zap.Int("failed", len(res.Failures)))
	sysutil.Log.Info(fmt.Sprintf("📦 %s finished", op), fields...)
	for _, f := range res.Failures {
		sysutil.Log.Warn("Device operation failed", zap.String("op", op), zap.String("path", f.Path), zap.Error(f.Err))
	}
}
