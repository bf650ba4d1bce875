package capture

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	evdev "github.com/holoplot/go-evdev"
	"go.uber.org/zap"

	"github.com/Hara602/inputSentry/internal/inputdev"
	"github.com/Hara602/inputSentry/internal/model"
	"github.com/Hara602/inputSentry/internal/sysutil"
)

// KeySink 接收被独占键盘上读到的按键
// 独占后其他描述符收不到事件, 热键和解锁图案只能靠这里转发
type KeySink interface {
	Forward(ev model.KeyEvent)
}

// Handle 一个设备的独占句柄
type Handle struct {
	node     inputdev.Node
	lockedAt time.Time
	once     sync.Once
	// 主动释放后读取协程的退出不算设备消失
	released atomic.Bool
}

func newHandle(node inputdev.Node) *Handle {
	return &Handle{node: node, lockedAt: time.Now()}
}

func (h *Handle) LockedAt() time.Time { return h.lockedAt }

// release 释放独占并关闭描述符, 设备已消失时的错误忽略
// Close 唤不醒阻塞在 read 上的 pump, 先 Revoke
func (h *Handle) release() {
	h.once.Do(func() {
		h.released.Store(true)
		path := h.node.Path()
		if err := h.node.Ungrab(); err != nil && !gone(err) {
			sysutil.Log.Warn("Ungrab failed", zap.String("path", path), zap.Error(err))
		}
		if err := h.node.Revoke(); err != nil && !gone(err) {
			sysutil.Log.Warn("Revoke failed", zap.String("path", path), zap.Error(err))
		}
		if err := h.node.Close(); err != nil && !gone(err) {
			sysutil.Log.Warn("Close failed", zap.String("path", path), zap.Error(err))
		}
	})
}

// pump 读独占描述符, 把按键转发给 sink, 直到句柄释放或读取失败
// 设备消失交给 onGone, 其他读取错误交给 onFault
func (h *Handle) pump(sink KeySink, onGone func(path string), onFault func(err error)) {
	path := h.node.Path()
	for {
		ev, err := h.node.ReadOne()
		if err != nil {
			switch {
			case h.released.Load():
			case gone(err):
				sysutil.Log.Info("Locked device disappeared", zap.String("path", path))
				if onGone != nil {
					go onGone(path)
				}
			default:
				sysutil.Log.Error("Read from locked device failed, releasing it", zap.String("path", path), zap.Error(err))
				if onFault != nil {
					onFault(err)
				}
			}
			return
		}
		if ev.Type != evdev.EV_KEY || sink == nil {
			continue
		}
		sink.Forward(model.KeyEvent{Path: path, Code: ev.Code, Value: ev.Value, TimeStamp: time.Now()})
	}
}

func gone(err error) bool {
	return errors.Is(err, model.ErrDeviceGone) || errors.Is(err, model.ErrNotFound) || errors.Is(err, os.ErrClosed)
}
