// Package monitor 非独占地读取键盘事件, 供热键和解锁图案使用
package monitor

import (
	"github.com/Hara602/inputSentry/internal/inputdev"
	"github.com/Hara602/inputSentry/internal/model"
)

type KeyMonitor interface {
	Start()
	Stop()
	AddWatch(devPath string) error // 设备注册时打开监听描述符
	RemoveWatch(devPath string)
	// Forward 由独占读取协程注入事件, 与普通事件进入同一个流
	Forward(ev model.KeyEvent)
	Events() <-chan model.KeyEvent
	// Gone 读取中发现已拔出的设备路径
	Gone() <-chan string
	Watching() []string
}

func New(backend inputdev.Backend) KeyMonitor {
	return newMonitor(backend)
}
