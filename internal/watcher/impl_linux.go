//go:build linux

package watcher

import (
	"strings"
	"sync"
	"time"

	"github.com/pilebones/go-udev/netlink"
	"go.uber.org/zap"

	"github.com/Hara602/inputSentry/internal/analysis"
	"github.com/Hara602/inputSentry/internal/model"
	"github.com/Hara602/inputSentry/internal/sysutil"
)

type linuxWatcher struct {
	events chan model.HotplugEvent
	stop   chan struct{}
	once   sync.Once

	// udev 规则可能晚于事件创建节点
	waitNode func(devPath string) bool
	inspect  func(sysPath string) (analysis.USBInfo, bool)
}

func newWatcher() *linuxWatcher {
	return &linuxWatcher{
		events:   make(chan model.HotplugEvent, 10),
		stop:     make(chan struct{}),
		waitNode: func(p string) bool { return sysutil.WaitForNode(p, 2*time.Second) },
		inspect:  analysis.InspectUSB,
	}
}

func (w *linuxWatcher) Start() (<-chan model.HotplugEvent, error) {
	// 连接 NETLINK_KOBJECT_UEVENT, 只要 udev 处理过的事件, 过滤在 handleUdevEvent 里做
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return nil, err
	}
	queue := make(chan netlink.UEvent)
	errChan := make(chan error)
	quit := conn.Monitor(queue, errChan, nil)

	go func() {
		defer conn.Close()
		for {
			select {
			case <-w.stop:
				close(quit)
				return
			case err := <-errChan:
				sysutil.Log.Debug("udev monitor error", zap.Error(err))
			case uevent := <-queue:
				w.handleUdevEvent(uevent)
			}
		}
	}()
	sysutil.Log.Info("🔌 Hotplug watcher started")
	return w.events, nil
}

func (w *linuxWatcher) Stop() {
	w.once.Do(func() { close(w.stop) })
}

// handleUdevEvent 只关心 input 子系统的 eventN 节点
func (w *linuxWatcher) handleUdevEvent(uevent netlink.UEvent) {
	if uevent.Env["SUBSYSTEM"] != "input" {
		return
	}
	devName := uevent.Env["DEVNAME"]
	if devName == "" {
		// inputN 父节点没有 DEVNAME
		return
	}
	if !strings.HasPrefix(devName, "/dev/") {
		devName = "/dev/" + devName
	}
	if !strings.HasPrefix(devName, "/dev/input/event") {
		return
	}

	switch string(uevent.Action) {
	case "add":
		go w.handleAdd(devName, "/sys"+uevent.Env["DEVPATH"])
	case "remove":
		w.emit(model.HotplugEvent{Action: "remove", DevicePath: devName, SysPath: "/sys" + uevent.Env["DEVPATH"], TimeStamp: time.Now()})
	}
}

func (w *linuxWatcher) handleAdd(devName, sysPath string) {
	if !w.waitNode(devName) {
		sysutil.Log.Warn("Input device announced but node not ready (timeout)", zap.String("dev", devName))
		return
	}

	ev := model.HotplugEvent{Action: "add", DevicePath: devName, SysPath: sysPath, TimeStamp: time.Now()}
	if usb, ok := w.inspect(sysPath); ok {
		ev.Vendor = usb.Vendor
		ev.Product = usb.Product
		ev.Serial = usb.Serial
		ev.Suspicious = usb.HIDWithStorage
		sysutil.Log.Info("USB input device information",
			zap.String("dev", devName),
			zap.String("vid", usb.Vendor),
			zap.String("product", usb.Product),
			zap.String("serial", usb.Serial))
		if usb.HIDWithStorage {
			sysutil.Log.Warn("🚨 POTENTIAL BADUSB: input device also exposes mass storage", zap.String("dev", devName), zap.String("serial", usb.Serial))
		}
	}
	w.emit(ev)
}

func (w *linuxWatcher) emit(ev model.HotplugEvent) {
	select {
	case w.events <- ev:
	case <-w.stop:
	}
}
