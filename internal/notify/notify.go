// Package notify 通过 D-Bus 桌面通知提示锁定/解锁
package notify

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/Hara602/inputSentry/internal/eventbus"
	"github.com/Hara602/inputSentry/internal/model"
	"github.com/Hara602/inputSentry/internal/sysutil"
)

const appName = "inputSentry"

// Sender 发送一条通知
type Sender interface {
	Send(summary, body string) error
	Close() error
}

// dbusSender org.freedesktop.Notifications 实现
type dbusSender struct {
	conn *dbus.Conn
	obj  dbus.BusObject

	mu     sync.Mutex
	lastID uint32
}

// NewDBus 连接会话总线; 以 root 运行且没有 DBUS_SESSION_BUS_ADDRESS 时会失败
func NewDBus() (Sender, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &dbusSender{
		conn: conn,
		obj:  conn.Object("org.freedesktop.Notifications", "/org/freedesktop/Notifications"),
	}, nil
}

func (d *dbusSender) Send(summary, body string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	// 复用上一条通知的 ID, 连续切换时只显示最新状态
	var id uint32
	err := d.obj.Call("org.freedesktop.Notifications.Notify", 0,
		appName, d.lastID, "input-keyboard", summary, body,
		[]string{}, map[string]dbus.Variant{}, int32(3000),
	).Store(&id)
	if err != nil {
		return err
	}
	d.lastID = id
	return nil
}

func (d *dbusSender) Close() error {
	return d.conn.Close()
}

// Message 总线事件对应的通知文本, 不需要通知时 ok=false
func Message(ev eventbus.Event) (summary, body string, ok bool) {
	switch p := ev.Payload.(type) {
	case model.HotkeyAction:
		via := map[string]string{
			model.SourceHotkey:  "hotkey",
			model.SourcePattern: "unlock pattern",
			model.SourceTimer:   "timer",
			model.SourceAPI:     "request",
		}[p.Type]
		if via == "" {
			via = p.Type
		}
		if p.Action == "locked" {
			return "🔒 Input locked", "Devices locked by " + via, true
		}
		return "🔓 Input unlocked", "Devices unlocked by " + via, true
	case model.TimerUpdate:
		if !p.Active {
			return "", "", false
		}
		mins := (p.TotalSeconds + 59) / 60
		return "⏱️ Auto-unlock scheduled", fmt.Sprintf("Devices will be unlocked in %d min", mins), true
	}
	return "", "", false
}

// Notifier 订阅总线并转发为桌面通知
type Notifier struct {
	sender Sender
	sub    *eventbus.Subscription
	done   chan struct{}
}

func Start(bus *eventbus.Bus, sender Sender) *Notifier {
	n := &Notifier{sender: sender, sub: bus.Subscribe(), done: make(chan struct{})}
	go n.run()
	return n
}

func (n *Notifier) run() {
	defer close(n.done)
	for ev := range n.sub.C {
		summary, body, ok := Message(ev)
		if !ok {
			continue
		}
		if err := n.sender.Send(summary, body); err != nil {
			sysutil.Log.Debug("Desktop notification failed", zap.Error(err))
		}
	}
}

func (n *Notifier) Stop() {
	n.sub.Close()
	<-n.done
	_ = n.sender.Close()
}
