// Package inputdev 封装 /dev/input/event* 的访问, 方便在测试中替换
package inputdev

import (
	evdev "github.com/holoplot/go-evdev"

	"github.com/Hara602/inputSentry/internal/model"
)

// Info 探测到的设备静态信息
type Info struct {
	Path    string
	Name    string
	Phys    string
	Vendor  uint16
	Product uint16
	Caps    model.Capabilities
}

// Node 一个打开的设备描述符
type Node interface {
	Path() string
	Grab() error
	Ungrab() error
	ReadOne() (*evdev.InputEvent, error)
	// Revoke 撤销描述符 (EVIOCREVOKE), 阻塞中的 ReadOne 以 ErrDeviceGone 返回
	// Close 不会唤醒阻塞的读取, 停止读取前必须先 Revoke
	Revoke() error
	Close() error
}

// Backend 设备枚举/打开
type Backend interface {
	List() ([]string, error)
	Probe(path string) (Info, error)
	Open(path string) (Node, error)
}

func New() Backend {
	return newBackend()
}
