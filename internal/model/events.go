package model

import (
	"time"

	evdev "github.com/holoplot/go-evdev"
)

// HotplugEvent 输入设备插拔事件
type HotplugEvent struct {
	Action     string // "add", "remove"
	DevicePath string // e.g., /dev/input/event5
	SysPath    string // e.g., /sys/devices/.../input/input12/event5
	Vendor     string // USB idVendor, 非 USB 设备为空
	Product    string
	Serial     string
	// USB 设备同时带有存储接口
	Suspicious bool
	TimeStamp  time.Time
}

// 按键状态, 与内核 input_event.value 一致
const (
	KeyUp     int32 = 0
	KeyDown   int32 = 1
	KeyRepeat int32 = 2
)

// KeyEvent 从某个键盘读到的一次 EV_KEY 事件
type KeyEvent struct {
	Path      string
	Code      evdev.EvCode
	Value     int32
	TimeStamp time.Time
}

// EventKind 事件总线上的事件类型
type EventKind string

const (
	KindDeviceUpdate  EventKind = "device_update"
	KindDevicesUpdate EventKind = "devices_update"
	KindTimerUpdate   EventKind = "timer_update"
	KindStatusUpdate  EventKind = "status_update"
	KindHotkeyAction  EventKind = "hotkey_action"
)

// DeviceUpdate 单个设备锁状态变化
type DeviceUpdate struct {
	Path   string `json:"path"`
	Locked bool   `json:"blocked"`
}

// DevicesUpdate 全量设备快照
type DevicesUpdate struct {
	Devices []Device `json:"devices"`
}

// TimerUpdate 定时器状态
type TimerUpdate struct {
	Active           bool   `json:"active"`
	RemainingSeconds int    `json:"remainingSeconds"`
	TotalSeconds     int    `json:"totalSeconds"`
	Target           string `json:"devicePath,omitempty"`
}

// StatusUpdate 引擎整体状态
type StatusUpdate struct {
	Running          bool `json:"running"`
	ActiveBlocks     int  `json:"activeBlocks"`
	ConnectedDevices int  `json:"connectedDevices"`
	Uptime           int  `json:"uptime"`
}

// 触发来源
const (
	SourceHotkey  = "hotkey"
	SourcePattern = "pattern"
	SourceTimer   = "timer"
	SourceAPI     = "api"
)

// HotkeyAction 由热键/解锁图案/定时器触发的动作
type HotkeyAction struct {
	Type   string `json:"type"`   // hotkey, pattern, timer
	Action string `json:"action"` // locked, unlocked
}
