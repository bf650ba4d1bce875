package watcher

import "github.com/Hara602/inputSentry/internal/model"

// DeviceWatcher 输入设备热插拔
type DeviceWatcher interface {
	Start() (<-chan model.HotplugEvent, error)
	Stop()
}

func New() DeviceWatcher {
	return newWatcher()
}
