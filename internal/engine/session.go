package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/Hara602/inputSentry/internal/store"
	"github.com/Hara602/inputSentry/internal/sysutil"
)

// 统计里保留的历史条数
const historyLimit = 50

func (e *Engine) currentSource() string {
	s, _ := e.source.Load().(string)
	return s
}

// sessionStarted 第一个设备被锁定
func (e *Engine) sessionStarted() {
	now := time.Now()
	e.sessMu.Lock()
	e.lockedSince = now
	e.sessMu.Unlock()

	if e.store != nil {
		if err := e.store.RecordLock(e.currentSource(), now); err != nil {
			sysutil.Log.Warn("Failed to record lock", zap.Error(err))
		}
	}
}

// sessionEnded 最后一个设备被解锁
func (e *Engine) sessionEnded() {
	now := time.Now()
	e.sessMu.Lock()
	held := time.Duration(0)
	if !e.lockedSince.IsZero() {
		held = now.Sub(e.lockedSince)
	}
	e.lockedSince = time.Time{}
	e.sessMu.Unlock()

	if e.store != nil {
		if err := e.store.RecordUnlock(e.currentSource(), held, now); err != nil {
			sysutil.Log.Warn("Failed to record unlock", zap.Error(err))
		}
	}
}

// Statistics 已持久化的统计, 加上进行中的锁定时长
func (e *Engine) Statistics() (store.Statistics, error) {
	if e.store == nil {
		return store.Statistics{}, ErrNoStore
	}
	st, err := e.store.Statistics(historyLimit)
	if err != nil {
		return st, err
	}
	e.sessMu.Lock()
	if !e.lockedSince.IsZero() {
		st.TotalLocked += time.Since(e.lockedSince)
	}
	e.sessMu.Unlock()
	return st, nil
}

// AddWhitelist 白名单设备不参与批量锁定
func (e *Engine) AddWhitelist(path string) error {
	if e.store == nil {
		return ErrNoStore
	}
	name := ""
	if dev, ok := e.registry.Get(path); ok {
		name = dev.Name
	}
	if err := e.store.AddWhitelist(path, name); err != nil {
		return err
	}
	sysutil.Log.Info("🏳️ Device whitelisted", zap.String("path", path), zap.String("name", name))
	return nil
}

func (e *Engine) RemoveWhitelist(path string) error {
	if e.store == nil {
		return ErrNoStore
	}
	if err := e.store.RemoveWhitelist(path); err != nil {
		return err
	}
	sysutil.Log.Info("Device removed from whitelist", zap.String("path", path))
	return nil
}

// ToggleWhitelist 返回设备之后是否在白名单中
func (e *Engine) ToggleWhitelist(path string) (bool, error) {
	if e.store == nil {
		return false, ErrNoStore
	}
	if e.store.Excluded(path) {
		return false, e.RemoveWhitelist(path)
	}
	return true, e.AddWhitelist(path)
}

func (e *Engine) Whitelist() ([]store.WhitelistEntry, error) {
	if e.store == nil {
		return nil, ErrNoStore
	}
	return e.store.Whitelist()
}
