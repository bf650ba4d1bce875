// Package fakedev 内存中的 inputdev.Backend, 模拟内核的 EVIOCGRAB 语义:
// 被某个描述符独占后, 事件只投递给该描述符.
// 与真实设备一样, Close 不会唤醒阻塞的 ReadOne, 只有 Revoke 或拔出会
package fakedev

import (
	"fmt"
	"os"
	"sort"
	"sync"

	evdev "github.com/holoplot/go-evdev"

	"github.com/Hara602/inputSentry/internal/inputdev"
	"github.com/Hara602/inputSentry/internal/model"
)

type device struct {
	info    inputdev.Info
	nodes   map[*Node]struct{}
	grabber *Node
	// 模拟其他进程持有独占
	external bool
}

type Backend struct {
	mu      sync.Mutex
	devices map[string]*device
	// 下一次 Open/Probe 返回的错误
	openErr  map[string]error
	probeErr map[string]error
	opens    map[string]int
	revokes  map[string]int
}

func New() *Backend {
	return &Backend{
		devices:  make(map[string]*device),
		openErr:  make(map[string]error),
		probeErr: make(map[string]error),
		opens:    make(map[string]int),
		revokes:  make(map[string]int),
	}
}

// Add 插入一个设备
func (b *Backend) Add(info inputdev.Info) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices[info.Path] = &device{info: info, nodes: make(map[*Node]struct{})}
}

// Remove 拔出设备, 所有打开的描述符读到 ErrDeviceGone
func (b *Backend) Remove(path string) {
	b.mu.Lock()
	d, ok := b.devices[path]
	delete(b.devices, path)
	b.mu.Unlock()
	if !ok {
		return
	}
	for n := range d.nodes {
		n.gone()
	}
}

// FailOpen 让 path 的 Open 返回 err, 传 nil 取消
func (b *Backend) FailOpen(path string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.openErr, path)
		return
	}
	b.openErr[path] = err
}

// FailProbe 让 path 的 Probe 返回 err
func (b *Backend) FailProbe(path string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeErr[path] = err
}

// GrabExternally 模拟其他进程独占设备
func (b *Backend) GrabExternally(path string, on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d, ok := b.devices[path]; ok {
		d.external = on
	}
}

// Grabbed 当前是否被本进程某个描述符独占
func (b *Backend) Grabbed(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.devices[path]
	return ok && d.grabber != nil
}

// OpenNodes 当前打开的描述符数量
func (b *Backend) OpenNodes(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.devices[path]
	if !ok {
		return 0
	}
	return len(d.nodes)
}

// Opens Open 被调用的累计次数
func (b *Backend) Opens(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens[path]
}

// FailRead 让当前独占描述符的下一次读取返回 err
func (b *Backend) FailRead(path string, err error) {
	b.mu.Lock()
	d, ok := b.devices[path]
	var n *Node
	if ok {
		n = d.grabber
	}
	b.mu.Unlock()
	if n == nil {
		return
	}
	select {
	case n.fail <- err:
	default:
	}
}

// Revokes Revoke 被调用的累计次数
func (b *Backend) Revokes(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.revokes[path]
}

// Emit 产生一个输入事件
func (b *Backend) Emit(path string, t evdev.EvType, code evdev.EvCode, value int32) {
	b.mu.Lock()
	d, ok := b.devices[path]
	if !ok {
		b.mu.Unlock()
		return
	}
	var targets []*Node
	if d.grabber != nil {
		targets = []*Node{d.grabber}
	} else {
		for n := range d.nodes {
			targets = append(targets, n)
		}
	}
	b.mu.Unlock()

	for _, n := range targets {
		n.push(&evdev.InputEvent{Type: t, Code: code, Value: value})
	}
}

// Key 产生一个 EV_KEY 事件
func (b *Backend) Key(path string, code evdev.EvCode, value int32) {
	b.Emit(path, evdev.EV_KEY, code, value)
}

func (b *Backend) List() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.devices))
	for p := range b.devices {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (b *Backend) Probe(path string) (inputdev.Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.probeErr[path]; ok {
		return inputdev.Info{}, err
	}
	d, ok := b.devices[path]
	if !ok {
		return inputdev.Info{}, fmt.Errorf("probe %s: %w", path, model.ErrNotFound)
	}
	return d.info, nil
}

func (b *Backend) Open(path string) (inputdev.Node, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.openErr[path]; ok {
		return nil, err
	}
	d, ok := b.devices[path]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, model.ErrNotFound)
	}
	b.opens[path]++
	n := &Node{
		b:      b,
		path:   path,
		queue:  make(chan *evdev.InputEvent, 256),
		closed: make(chan struct{}),
		lost:   make(chan struct{}),
		fail:   make(chan error, 1),
	}
	d.nodes[n] = struct{}{}
	return n, nil
}

// Node 一个打开的假描述符
type Node struct {
	b    *Backend
	path string

	queue     chan *evdev.InputEvent
	closed    chan struct{}
	lost      chan struct{}
	fail      chan error
	closeOnce sync.Once
	lostOnce  sync.Once
}

func (n *Node) Path() string { return n.path }

func (n *Node) Grab() error {
	n.b.mu.Lock()
	defer n.b.mu.Unlock()
	d, ok := n.b.devices[n.path]
	if !ok {
		return fmt.Errorf("grab %s: %w", n.path, model.ErrDeviceGone)
	}
	if d.external || (d.grabber != nil && d.grabber != n) {
		return fmt.Errorf("grab %s: %w", n.path, model.ErrAlreadyInUse)
	}
	d.grabber = n
	return nil
}

func (n *Node) Ungrab() error {
	n.b.mu.Lock()
	defer n.b.mu.Unlock()
	if d, ok := n.b.devices[n.path]; ok && d.grabber == n {
		d.grabber = nil
	}
	return nil
}

func (n *Node) ReadOne() (*evdev.InputEvent, error) {
	// 已关闭的描述符上新的读取立即失败, 已阻塞的读取不受 Close 影响
	select {
	case <-n.closed:
		return nil, os.ErrClosed
	default:
	}
	select {
	case <-n.lost:
		return nil, fmt.Errorf("read %s: %w", n.path, model.ErrDeviceGone)
	case err := <-n.fail:
		return nil, err
	case ev := <-n.queue:
		return ev, nil
	}
}

// Revoke 唤醒阻塞的读取, 之后的读取都返回 ErrDeviceGone
func (n *Node) Revoke() error {
	n.b.mu.Lock()
	n.b.revokes[n.path]++
	if d, ok := n.b.devices[n.path]; ok && d.grabber == n {
		d.grabber = nil
	}
	n.b.mu.Unlock()
	n.gone()
	return nil
}

func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		n.b.mu.Lock()
		if d, ok := n.b.devices[n.path]; ok {
			// 关闭描述符会隐式释放独占
			if d.grabber == n {
				d.grabber = nil
			}
			delete(d.nodes, n)
		}
		n.b.mu.Unlock()
		close(n.closed)
	})
	return nil
}

func (n *Node) push(ev *evdev.InputEvent) {
	select {
	case n.queue <- ev:
	case <-n.closed:
	}
}

func (n *Node) gone() {
	n.lostOnce.Do(func() { close(n.lost) })
}

// 常用设备模板

var letterKeys = []evdev.EvCode{
	evdev.KEY_Q, evdev.KEY_W, evdev.KEY_E, evdev.KEY_R, evdev.KEY_T, evdev.KEY_Y, evdev.KEY_U, evdev.KEY_I, evdev.KEY_O, evdev.KEY_P,
	evdev.KEY_A, evdev.KEY_S, evdev.KEY_D, evdev.KEY_F, evdev.KEY_G, evdev.KEY_H, evdev.KEY_J, evdev.KEY_K, evdev.KEY_L,
	evdev.KEY_Z, evdev.KEY_X, evdev.KEY_C, evdev.KEY_V, evdev.KEY_B, evdev.KEY_N, evdev.KEY_M,
}

func KeyboardInfo(path, name string) inputdev.Info {
	keys := append([]evdev.EvCode{}, letterKeys...)
	keys = append(keys,
		evdev.KEY_ENTER, evdev.KEY_SPACE, evdev.KEY_ESC, evdev.KEY_LEFTCTRL, evdev.KEY_RIGHTCTRL,
		evdev.KEY_LEFTALT, evdev.KEY_RIGHTALT, evdev.KEY_LEFTSHIFT, evdev.KEY_LEFTMETA,
		evdev.KEY_UP, evdev.KEY_DOWN, evdev.KEY_LEFT, evdev.KEY_RIGHT)
	return inputdev.Info{
		Path: path, Name: name, Phys: "usb-0000:00:14.0-1/input0", Vendor: 0x046d, Product: 0xc31c,
		Caps: model.Capabilities{Events: map[evdev.EvType][]evdev.EvCode{
			evdev.EV_SYN: {evdev.SYN_REPORT},
			evdev.EV_KEY: keys,
		}},
	}
}

func MouseInfo(path, name string) inputdev.Info {
	return inputdev.Info{
		Path: path, Name: name, Phys: "usb-0000:00:14.0-2/input0", Vendor: 0x046d, Product: 0xc077,
		Caps: model.Capabilities{Events: map[evdev.EvType][]evdev.EvCode{
			evdev.EV_KEY: {evdev.BTN_LEFT, evdev.BTN_RIGHT, evdev.BTN_MIDDLE},
			evdev.EV_REL: {evdev.REL_X, evdev.REL_Y, evdev.REL_WHEEL},
		}},
	}
}

func TouchpadInfo(path, name string) inputdev.Info {
	return inputdev.Info{
		Path: path, Name: name, Phys: "i2c-SYNA2B52:00",
		Caps: model.Capabilities{
			Events: map[evdev.EvType][]evdev.EvCode{
				evdev.EV_KEY: {evdev.BTN_LEFT, evdev.BTN_TOOL_FINGER, evdev.BTN_TOUCH},
				evdev.EV_ABS: {evdev.ABS_X, evdev.ABS_Y, evdev.ABS_MT_SLOT, evdev.ABS_MT_POSITION_X, evdev.ABS_MT_POSITION_Y, evdev.ABS_MT_TRACKING_ID},
			},
			Props: []evdev.EvProp{evdev.INPUT_PROP_POINTER},
		},
	}
}

func TouchscreenInfo(path, name string) inputdev.Info {
	return inputdev.Info{
		Path: path, Name: name, Phys: "i2c-ELAN9008:00",
		Caps: model.Capabilities{
			Events: map[evdev.EvType][]evdev.EvCode{
				evdev.EV_KEY: {evdev.BTN_TOUCH},
				evdev.EV_ABS: {evdev.ABS_X, evdev.ABS_Y, evdev.ABS_MT_SLOT, evdev.ABS_MT_POSITION_X, evdev.ABS_MT_POSITION_Y, evdev.ABS_MT_TRACKING_ID},
			},
			Props: []evdev.EvProp{evdev.INPUT_PROP_DIRECT},
		},
	}
}

func PowerButtonInfo(path string) inputdev.Info {
	return inputdev.Info{
		Path: path, Name: "Power Button", Phys: "LNXPWRBN/button/input0",
		Caps: model.Capabilities{Events: map[evdev.EvType][]evdev.EvCode{
			evdev.EV_KEY: {evdev.KEY_POWER},
		}},
	}
}
