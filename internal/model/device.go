package model

import (
	"fmt"
	"strings"

	evdev "github.com/holoplot/go-evdev"
)

// DeviceType 设备分类
type DeviceType string

const (
	Keyboard    DeviceType = "keyboard"
	Mouse       DeviceType = "mouse"
	Touchpad    DeviceType = "touchpad"
	Touchscreen DeviceType = "touchscreen"
	Other       DeviceType = "other"
)

// AllDeviceTypes 按固定顺序列出全部分类
var AllDeviceTypes = []DeviceType{Keyboard, Mouse, Touchpad, Touchscreen, Other}

// ParseDeviceType 解析外部传入的类型名 (大小写不敏感)
func ParseDeviceType(s string) (DeviceType, error) {
	switch t := DeviceType(strings.ToLower(strings.TrimSpace(s))); t {
	case Keyboard, Mouse, Touchpad, Touchscreen, Other:
		return t, nil
	}
	return "", fmt.Errorf("unknown device type %q", s)
}

// Capabilities 设备上报的能力集合 (EV 类型 -> 事件码) 以及输入属性
type Capabilities struct {
	Events map[evdev.EvType][]evdev.EvCode
	Props  []evdev.EvProp
}

// HasType 是否支持某一类事件
func (c Capabilities) HasType(t evdev.EvType) bool {
	_, ok := c.Events[t]
	return ok
}

// Has 是否支持某个具体事件码
func (c Capabilities) Has(t evdev.EvType, code evdev.EvCode) bool {
	for _, v := range c.Events[t] {
		if v == code {
			return true
		}
	}
	return false
}

// CountOf 返回 codes 中被支持的个数
func (c Capabilities) CountOf(t evdev.EvType, codes ...evdev.EvCode) int {
	n := 0
	for _, code := range codes {
		if c.Has(t, code) {
			n++
		}
	}
	return n
}

// HasProp 是否带有某个 INPUT_PROP_* 属性
func (c Capabilities) HasProp(p evdev.EvProp) bool {
	for _, v := range c.Props {
		if v == p {
			return true
		}
	}
	return false
}

// Device 一个 /dev/input/eventN 节点
// Locked 只由 capture 控制器给出, registry 内保存的副本不带锁状态
type Device struct {
	Path    string       `json:"path"`
	Name    string       `json:"name"`
	Phys    string       `json:"physicalPath"`
	Vendor  string       `json:"vendor"`
	Product string       `json:"product"`
	Type    DeviceType   `json:"type"`
	Caps    Capabilities `json:"-"`
	Locked  bool         `json:"blocked"`
}

func (d Device) String() string {
	return fmt.Sprintf("%s (%s) %s", d.Name, d.Type, d.Path)
}

// LockProfile 一组设备类型, 作为一次部分锁定请求的参数使用
type LockProfile struct {
	Name  string       `json:"name"`
	Types []DeviceType `json:"types"`
}
