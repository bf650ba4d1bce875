// Package engine 设备锁定引擎: 把设备列表, 独占控制, 热键, 解锁图案和定时器串起来
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Hara602/inputSentry/internal/capture"
	"github.com/Hara602/inputSentry/internal/config"
	"github.com/Hara602/inputSentry/internal/eventbus"
	"github.com/Hara602/inputSentry/internal/hotkey"
	"github.com/Hara602/inputSentry/internal/inputdev"
	"github.com/Hara602/inputSentry/internal/model"
	"github.com/Hara602/inputSentry/internal/monitor"
	"github.com/Hara602/inputSentry/internal/notify"
	"github.com/Hara602/inputSentry/internal/pattern"
	"github.com/Hara602/inputSentry/internal/registry"
	"github.com/Hara602/inputSentry/internal/store"
	"github.com/Hara602/inputSentry/internal/sysutil"
	"github.com/Hara602/inputSentry/internal/timer"
)

var ErrNoStore = errors.New("persistent store not configured")

type Options struct {
	Backend inputdev.Backend
	Config  config.Config
	// 可选: 白名单与统计
	Store *store.Store
	// 可选: 桌面通知
	Notifier notify.Sender
	// 可选: 热插拔事件
	Hotplug <-chan model.HotplugEvent
}

type Engine struct {
	backend  inputdev.Backend
	registry *registry.Registry
	bus      *eventbus.Bus
	monitor  monitor.KeyMonitor
	capture  *capture.Controller
	timer    *timer.Service
	hotkeys  *hotkey.Listener
	store    *store.Store
	sender   notify.Sender
	notifier *notify.Notifier
	hotplug  <-chan model.HotplugEvent

	cfgMu sync.RWMutex
	cfg   config.Config

	// 解锁图案只在有键盘被锁定时存在
	patMu        sync.Mutex
	patSeq       pattern.Sequence
	matcher      *pattern.Matcher
	lockedBoards map[string]bool

	sessMu      sync.Mutex
	lockedSince time.Time

	// 当前操作来源, 用于历史记录
	source atomic.Value

	started time.Time
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(opts Options) *Engine {
	e := &Engine{
		backend:      opts.Backend,
		bus:          eventbus.New(),
		store:        opts.Store,
		sender:       opts.Notifier,
		hotplug:      opts.Hotplug,
		cfg:          opts.Config,
		hotkeys:      hotkey.NewListener(opts.Config.Combo()),
		patSeq:       opts.Config.Pattern(),
		lockedBoards: make(map[string]bool),
	}
	if e.backend == nil {
		e.backend = inputdev.New()
	}
	e.source.Store(model.SourceAPI)

	e.registry = registry.New(e.backend)
	e.monitor = monitor.New(e.backend)

	var excl capture.Excluder
	if e.store != nil {
		excl = e.store
	}
	e.capture = capture.New(capture.Options{
		Backend:           e.backend,
		Devices:           e.registry,
		Bus:               e.bus,
		Sink:              e.monitor,
		Excluder:          excl,
		TouchscreenBypass: opts.Config.TouchscreenBypass,
		OnTransition:      e.onTransition,
		OnGone:            e.deviceGone,
	})
	e.timer = timer.New(e.bus, e.timerExpired)

	e.registry.OnAdd(e.deviceAdded)
	e.registry.OnRemove(e.deviceRemoved)
	return e
}

// Start 枚举设备, 开始监听键盘; 只有这里的失败会返回给调用方
func (e *Engine) Start(ctx context.Context) error {
	if e.running.Swap(true) {
		return nil
	}
	e.started = time.Now()

	devs := e.registry.Refresh()
	if len(devs) == 0 {
		sysutil.Log.Warn("No input devices found (missing permissions?)")
	}
	e.monitor.Start()

	if e.sender != nil && e.currentConfig().ShowNotifications {
		e.notifier = notify.Start(e.bus, e.sender)
	}

	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.dispatch(ctx)
	}()

	sysutil.Log.Info("🛡️ Input locking engine started",
		zap.Int("devices", len(devs)),
		zap.String("hotkey", e.hotkeys.Combo().String()),
		zap.String("pattern", e.patternSequence().String()),
	)

	if e.currentConfig().AutoLockOnStart {
		if _, err := e.LockAll(); err != nil {
			sysutil.Log.Warn("Auto-lock on start incomplete", zap.Error(err))
		}
	}
	e.publishStatus()
	return nil
}

// Stop 释放所有设备后返回
func (e *Engine) Stop() {
	if !e.running.Swap(false) {
		return
	}
	e.cancel()
	e.wg.Wait()

	e.timer.Cancel()
	e.monitor.Stop()
	e.capture.Close()
	if e.notifier != nil {
		e.notifier.Stop()
	}
	e.bus.Close()
	sysutil.Log.Info("Input locking engine stopped")
}

// dispatch 单一事件分发协程: 键盘事件, 设备消失, 热插拔
func (e *Engine) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.monitor.Events():
			e.handleKey(ev)
		case path := <-e.monitor.Gone():
			e.deviceGone(path)
		case hp, ok := <-e.hotplug:
			if !ok {
				e.hotplug = nil
				continue
			}
			e.handleHotplug(hp)
		}
	}
}

func (e *Engine) handleKey(ev model.KeyEvent) {
	dev, ok := e.registry.Get(ev.Path)
	if !ok || dev.Type != model.Keyboard {
		return
	}

	if e.hotkeys.Feed(ev) {
		e.hotkeyTriggered()
		return
	}

	if ev.Value != model.KeyDown {
		return
	}
	e.patMu.Lock()
	m := e.matcher
	matched := m != nil && e.lockedBoards[ev.Path] && m.Feed(ev.Code, ev.TimeStamp)
	e.patMu.Unlock()
	if matched {
		e.patternMatched()
	}
}

// hotkeyTriggered 未锁定时全部锁定, 否则全部解锁
func (e *Engine) hotkeyTriggered() {
	e.source.Store(model.SourceHotkey)
	defer e.source.Store(model.SourceAPI)

	if e.capture.LockedCount() == 0 {
		sysutil.Log.Info("⌨️ Hotkey pressed, locking all devices")
		if _, err := e.lockAll(); err != nil {
			sysutil.Log.Warn("Hotkey lock incomplete", zap.Error(err))
		}
		e.publishAction(model.SourceHotkey, "locked")
		return
	}
	sysutil.Log.Info("⌨️ Hotkey pressed, unlocking all devices")
	e.unlockAll()
	e.publishAction(model.SourceHotkey, "unlocked")
}

func (e *Engine) patternMatched() {
	e.source.Store(model.SourcePattern)
	defer e.source.Store(model.SourceAPI)

	sysutil.Log.Info("🔓 Unlock pattern recognised, unlocking all devices")
	e.unlockAll()
	e.publishAction(model.SourcePattern, "unlocked")
}

func (e *Engine) timerExpired(target string) {
	e.source.Store(model.SourceTimer)
	defer e.source.Store(model.SourceAPI)

	if target == "" {
		e.unlockAll()
	} else {
		_ = e.capture.Unlock(target)
	}
	e.publishAction(model.SourceTimer, "unlocked")
}

func (e *Engine) handleHotplug(hp model.HotplugEvent) {
	switch hp.Action {
	case "add":
		// BadUSB 告警由 watcher 记录
		sysutil.Log.Info("✅ Input device connected",
			zap.String("path", hp.DevicePath),
			zap.String("vid", hp.Vendor),
			zap.String("product", hp.Product),
			zap.Bool("suspicious", hp.Suspicious))
	case "remove":
		sysutil.Log.Info("❌ Input device disconnected", zap.String("path", hp.DevicePath))
	}
	e.Refresh()
}

// deviceAdded registry 回调: 键盘在注册时打开监听描述符
func (e *Engine) deviceAdded(dev model.Device) {
	if dev.Type != model.Keyboard {
		return
	}
	if err := e.monitor.AddWatch(dev.Path); err != nil {
		sysutil.Log.Warn("Cannot monitor keyboard", zap.String("path", dev.Path), zap.Error(err))
	}
}

// deviceRemoved registry 回调: 释放句柄, 不泄漏
func (e *Engine) deviceRemoved(dev model.Device) {
	e.capture.Release(dev.Path)
	e.monitor.RemoveWatch(dev.Path)
	e.hotkeys.Forget(dev.Path)
}

// deviceGone 后台读取发现设备消失
func (e *Engine) deviceGone(path string) {
	if e.registry.Remove(path) {
		e.publishDevices()
		e.publishStatus()
	}
}

// onTransition 在设备锁内调用, 不能回调 capture
func (e *Engine) onTransition(path string, locked bool, total int) {
	e.trackKeyboard(path, locked)

	switch {
	case locked && total == 1:
		e.sessionStarted()
	case !locked && total == 0:
		e.sessionEnded()
	default:
		return
	}
	e.publishStatus()
}

func (e *Engine) trackKeyboard(path string, locked bool) {
	e.patMu.Lock()
	defer e.patMu.Unlock()
	if locked {
		dev, ok := e.registry.Get(path)
		if !ok || dev.Type != model.Keyboard {
			return
		}
		e.lockedBoards[path] = true
		if e.matcher == nil {
			e.matcher = pattern.NewMatcher(e.patSeq)
			sysutil.Log.Info("🎮 Unlock pattern armed", zap.String("pattern", e.patSeq.String()))
		}
		return
	}
	delete(e.lockedBoards, path)
	if len(e.lockedBoards) == 0 {
		e.matcher = nil
	}
}

func (e *Engine) patternSequence() pattern.Sequence {
	e.patMu.Lock()
	defer e.patMu.Unlock()
	return e.patSeq
}

func (e *Engine) currentConfig() config.Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// ApplyConfig 配置热更新: 热键, 解锁图案, 触摸屏策略
func (e *Engine) ApplyConfig(cfg config.Config) {
	e.cfgMu.Lock()
	e.cfg = cfg
	e.cfgMu.Unlock()

	e.hotkeys.SetCombo(cfg.Combo())
	e.capture.SetTouchscreenBypass(cfg.TouchscreenBypass)

	seq := cfg.Pattern()
	e.patMu.Lock()
	e.patSeq = seq
	if e.matcher != nil {
		e.matcher = pattern.NewMatcher(seq)
	}
	e.patMu.Unlock()
}

func (e *Engine) publishAction(source, action string) {
	e.bus.Publish(eventbus.NewEvent(model.KindHotkeyAction, model.HotkeyAction{Type: source, Action: action}))
}

func (e *Engine) publishDevices() {
	e.bus.Publish(eventbus.NewEvent(model.KindDevicesUpdate, model.DevicesUpdate{Devices: e.Devices()}))
}

func (e *Engine) publishStatus() {
	e.bus.Publish(eventbus.NewEvent(model.KindStatusUpdate, e.Status()))
}
