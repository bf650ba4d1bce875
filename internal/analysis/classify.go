package analysis

import (
	"regexp"

	evdev "github.com/holoplot/go-evdev"

	"github.com/Hara602/inputSentry/internal/model"
)

// 触控板常见的命名
var touchpadName = regexp.MustCompile(`(?i)touchpad|trackpad|synaptics|glidepoint|alps|elan.*(tp|pad)`)

var multitouchAxes = []evdev.EvCode{
	evdev.ABS_MT_POSITION_X,
	evdev.ABS_MT_POSITION_Y,
	evdev.ABS_MT_SLOT,
	evdev.ABS_MT_TRACKING_ID,
}

// 完整字母键盘: A-Z + Enter + Space
var alphanumericKeys = []evdev.EvCode{
	evdev.KEY_Q, evdev.KEY_W, evdev.KEY_E, evdev.KEY_R, evdev.KEY_T, evdev.KEY_Y, evdev.KEY_U, evdev.KEY_I, evdev.KEY_O, evdev.KEY_P,
	evdev.KEY_A, evdev.KEY_S, evdev.KEY_D, evdev.KEY_F, evdev.KEY_G, evdev.KEY_H, evdev.KEY_J, evdev.KEY_K, evdev.KEY_L,
	evdev.KEY_Z, evdev.KEY_X, evdev.KEY_C, evdev.KEY_V, evdev.KEY_B, evdev.KEY_N, evdev.KEY_M,
	evdev.KEY_ENTER, evdev.KEY_SPACE,
}

var mouseButtons = []evdev.EvCode{evdev.BTN_LEFT, evdev.BTN_RIGHT, evdev.BTN_MIDDLE, evdev.BTN_MOUSE}

// Classify 根据能力集合(以及名称)判断设备类型
// 顺序: touchscreen > touchpad > keyboard > mouse > other
func Classify(name string, caps model.Capabilities) model.DeviceType {
	if IsTouchscreen(name, caps) {
		return model.Touchscreen
	}
	if isTouchpad(name, caps) {
		return model.Touchpad
	}
	if caps.CountOf(evdev.EV_KEY, alphanumericKeys...) == len(alphanumericKeys) {
		return model.Keyboard
	}
	if caps.HasType(evdev.EV_REL) && caps.CountOf(evdev.EV_KEY, mouseButtons...) > 0 {
		return model.Mouse
	}
	return model.Other
}

// IsTouchscreen 多点触控绝对坐标 + 直接触控特征
func IsTouchscreen(name string, caps model.Capabilities) bool {
	if caps.CountOf(evdev.EV_ABS, multitouchAxes...) < 2 {
		return false
	}
	if caps.HasProp(evdev.INPUT_PROP_DIRECT) {
		return true
	}
	// 老驱动不上报 INPUT_PROP: 有 BTN_TOUCH 但没有手指工具/指针属性, 且名称不像触控板
	return caps.Has(evdev.EV_KEY, evdev.BTN_TOUCH) &&
		!caps.Has(evdev.EV_KEY, evdev.BTN_TOOL_FINGER) &&
		!caps.HasProp(evdev.INPUT_PROP_POINTER) &&
		!touchpadName.MatchString(name)
}

func isTouchpad(name string, caps model.Capabilities) bool {
	if !caps.HasType(evdev.EV_ABS) {
		return false
	}
	if caps.HasProp(evdev.INPUT_PROP_POINTER) || caps.Has(evdev.EV_KEY, evdev.BTN_TOOL_FINGER) {
		return true
	}
	return touchpadName.MatchString(name)
}
