//go:build linux

package inputdev

import (
	"errors"
	"fmt"
	"sort"

	evdev "github.com/holoplot/go-evdev"
	"golang.org/x/sys/unix"

	"github.com/Hara602/inputSentry/internal/model"
)

type evdevBackend struct{}

func newBackend() Backend { return evdevBackend{} }

func (evdevBackend) List() ([]string, error) {
	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return nil, fmt.Errorf("list input devices: %w", err)
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, p.Path)
	}
	sort.Strings(out)
	return out, nil
}

func (evdevBackend) Probe(path string) (Info, error) {
	d, err := evdev.Open(path)
	if err != nil {
		return Info{}, Classify(err)
	}
	defer d.Close()

	info := Info{Path: path}
	if info.Name, err = d.Name(); err != nil {
		return Info{}, Classify(err)
	}
	// phys 对虚拟设备可能为空
	info.Phys, _ = d.PhysicalLocation()
	if id, err := d.InputID(); err == nil {
		info.Vendor = id.Vendor
		info.Product = id.Product
	}

	info.Caps.Events = make(map[evdev.EvType][]evdev.EvCode)
	for _, t := range d.CapableTypes() {
		info.Caps.Events[t] = d.CapableEvents(t)
	}
	info.Caps.Props = d.Properties()
	return info, nil
}

func (evdevBackend) Open(path string) (Node, error) {
	d, err := evdev.Open(path)
	if err != nil {
		return nil, Classify(err)
	}
	return &evdevNode{dev: d}, nil
}

type evdevNode struct {
	dev *evdev.InputDevice
}

func (n *evdevNode) Path() string { return n.dev.Path() }
func (n *evdevNode) Grab() error  { return Classify(n.dev.Grab()) }
func (n *evdevNode) Ungrab() error {
	return Classify(n.dev.Ungrab())
}
func (n *evdevNode) Revoke() error { return Classify(n.dev.Revoke()) }
func (n *evdevNode) Close() error  { return n.dev.Close() }

func (n *evdevNode) ReadOne() (*evdev.InputEvent, error) {
	ev, err := n.dev.ReadOne()
	if err != nil {
		return nil, Classify(err)
	}
	return ev, nil
}

// Classify 把 errno 映射到 model 中定义的错误分类, 原始错误保留在链上
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return fmt.Errorf("%w: %w", model.ErrPermissionDenied, err)
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENXIO):
		return fmt.Errorf("%w: %w", model.ErrNotFound, err)
	case errors.Is(err, unix.EBUSY):
		return fmt.Errorf("%w: %w", model.ErrAlreadyInUse, err)
	case errors.Is(err, unix.ENODEV):
		return fmt.Errorf("%w: %w", model.ErrDeviceGone, err)
	}
	return err
}
