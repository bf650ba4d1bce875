//go:build linux

package watcher

import (
	"testing"
	"time"

	"github.com/pilebones/go-udev/netlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Hara602/inputSentry/internal/analysis"
	"github.com/Hara602/inputSentry/internal/model"
	"github.com/Hara602/inputSentry/internal/sysutil"
)

func testWatcher() *linuxWatcher {
	w := newWatcher()
	w.waitNode = func(string) bool { return true }
	w.inspect = func(string) (analysis.USBInfo, bool) {
		return analysis.USBInfo{Vendor: "046d", Product: "USB Receiver", Serial: "unknown", HIDWithStorage: true}, true
	}
	return w
}

func uevent(action, devName string) netlink.UEvent {
	return netlink.UEvent{
		Action: netlink.KObjAction(action),
		KObj:   "/devices/pci0000:00/usb1/1-1/1-1:1.0/input/input12/event5",
		Env: map[string]string{
			"ACTION":    action,
			"SUBSYSTEM": "input",
			"DEVNAME":   devName,
			"DEVPATH":   "/devices/pci0000:00/usb1/1-1/1-1:1.0/input/input12/event5",
		},
	}
}

func next(t *testing.T, w *linuxWatcher) model.HotplugEvent {
	t.Helper()
	select {
	case ev := <-w.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no hotplug event")
	}
	return model.HotplugEvent{}
}

func TestHandleAdd(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	sysutil.SetLogger(zap.New(core))
	t.Cleanup(func() { sysutil.SetLogger(zap.NewNop()) })

	w := testWatcher()
	defer w.Stop()

	w.handleUdevEvent(uevent("add", "input/event5"))
	ev := next(t, w)
	assert.Equal(t, "add", ev.Action)
	assert.Equal(t, "/dev/input/event5", ev.DevicePath)
	assert.Equal(t, "/sys/devices/pci0000:00/usb1/1-1/1-1:1.0/input/input12/event5", ev.SysPath)
	assert.Equal(t, "046d", ev.Vendor)
	assert.True(t, ev.Suspicious)
	assert.Equal(t, 1, logs.FilterMessageSnippet("BADUSB").Len())
}

func TestHandleRemove(t *testing.T) {
	w := testWatcher()
	defer w.Stop()

	w.handleUdevEvent(uevent("remove", "/dev/input/event5"))
	ev := next(t, w)
	assert.Equal(t, "remove", ev.Action)
	assert.Equal(t, "/dev/input/event5", ev.DevicePath)
}

func TestIgnoresOtherNodes(t *testing.T) {
	w := testWatcher()
	defer w.Stop()

	w.handleUdevEvent(uevent("add", "input/mouse0"))
	w.handleUdevEvent(uevent("add", ""))
	other := uevent("add", "sdb1")
	other.Env["SUBSYSTEM"] = "block"
	w.handleUdevEvent(other)
	w.handleUdevEvent(uevent("change", "input/event5"))

	select {
	case ev := <-w.events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAddDroppedWhenNodeMissing(t *testing.T) {
	w := testWatcher()
	defer w.Stop()
	w.waitNode = func(string) bool { return false }

	w.handleAdd("/dev/input/event5", "/sys/devices/virtual/input/input12/event5")
	require.Len(t, w.events, 0)
}
