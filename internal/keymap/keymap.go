// Package keymap 按键名称与 evdev 键码互转
package keymap

import (
	"strconv"
	"strings"

	evdev "github.com/holoplot/go-evdev"
)

var byName = map[string]evdev.EvCode{
	"ctrl": evdev.KEY_LEFTCTRL, "control": evdev.KEY_LEFTCTRL,
	"alt":   evdev.KEY_LEFTALT,
	"shift": evdev.KEY_LEFTSHIFT,
	"super": evdev.KEY_LEFTMETA, "win": evdev.KEY_LEFTMETA, "cmd": evdev.KEY_LEFTMETA, "meta": evdev.KEY_LEFTMETA,

	"up": evdev.KEY_UP, "down": evdev.KEY_DOWN, "left": evdev.KEY_LEFT, "right": evdev.KEY_RIGHT,
	"enter": evdev.KEY_ENTER, "return": evdev.KEY_ENTER,
	"space": evdev.KEY_SPACE, "esc": evdev.KEY_ESC, "escape": evdev.KEY_ESC,
	"tab": evdev.KEY_TAB, "backspace": evdev.KEY_BACKSPACE,

	"a": evdev.KEY_A, "b": evdev.KEY_B, "c": evdev.KEY_C, "d": evdev.KEY_D, "e": evdev.KEY_E,
	"f": evdev.KEY_F, "g": evdev.KEY_G, "h": evdev.KEY_H, "i": evdev.KEY_I, "j": evdev.KEY_J,
	"k": evdev.KEY_K, "l": evdev.KEY_L, "m": evdev.KEY_M, "n": evdev.KEY_N, "o": evdev.KEY_O,
	"p": evdev.KEY_P, "q": evdev.KEY_Q, "r": evdev.KEY_R, "s": evdev.KEY_S, "t": evdev.KEY_T,
	"u": evdev.KEY_U, "v": evdev.KEY_V, "w": evdev.KEY_W, "x": evdev.KEY_X, "y": evdev.KEY_Y,
	"z": evdev.KEY_Z,

	"0": evdev.KEY_0, "1": evdev.KEY_1, "2": evdev.KEY_2, "3": evdev.KEY_3, "4": evdev.KEY_4,
	"5": evdev.KEY_5, "6": evdev.KEY_6, "7": evdev.KEY_7, "8": evdev.KEY_8, "9": evdev.KEY_9,

	"f1": evdev.KEY_F1, "f2": evdev.KEY_F2, "f3": evdev.KEY_F3, "f4": evdev.KEY_F4,
	"f5": evdev.KEY_F5, "f6": evdev.KEY_F6, "f7": evdev.KEY_F7, "f8": evdev.KEY_F8,
	"f9": evdev.KEY_F9, "f10": evdev.KEY_F10, "f11": evdev.KEY_F11, "f12": evdev.KEY_F12,
}

var displayNames = map[evdev.EvCode]string{
	evdev.KEY_LEFTCTRL: "Ctrl", evdev.KEY_LEFTALT: "Alt", evdev.KEY_LEFTSHIFT: "Shift", evdev.KEY_LEFTMETA: "Super",
	evdev.KEY_UP: "Up", evdev.KEY_DOWN: "Down", evdev.KEY_LEFT: "Left", evdev.KEY_RIGHT: "Right",
	evdev.KEY_ENTER: "Enter", evdev.KEY_SPACE: "Space", evdev.KEY_ESC: "Esc",
	evdev.KEY_TAB: "Tab", evdev.KEY_BACKSPACE: "Backspace",
}

// 右侧修饰键映射到左侧
var rightToLeft = map[evdev.EvCode]evdev.EvCode{
	evdev.KEY_RIGHTCTRL:  evdev.KEY_LEFTCTRL,
	evdev.KEY_RIGHTALT:   evdev.KEY_LEFTALT,
	evdev.KEY_RIGHTSHIFT: evdev.KEY_LEFTSHIFT,
	evdev.KEY_RIGHTMETA:  evdev.KEY_LEFTMETA,
}

// Lookup 名称大小写不敏感
func Lookup(name string) (evdev.EvCode, bool) {
	code, ok := byName[strings.ToLower(strings.TrimSpace(name))]
	return code, ok
}

// Normalize 左右修饰键视为同一个
func Normalize(code evdev.EvCode) evdev.EvCode {
	if left, ok := rightToLeft[code]; ok {
		return left
	}
	return code
}

func IsModifier(code evdev.EvCode) bool {
	switch Normalize(code) {
	case evdev.KEY_LEFTCTRL, evdev.KEY_LEFTALT, evdev.KEY_LEFTSHIFT, evdev.KEY_LEFTMETA:
		return true
	}
	return false
}

// Name 人类可读名称, 用于日志和配置回显
func Name(code evdev.EvCode) string {
	code = Normalize(code)
	if n, ok := displayNames[code]; ok {
		return n
	}
	for n, c := range byName {
		if c == code && len(n) <= 3 {
			return strings.ToUpper(n)
		}
	}
	return "KEY_" + strconv.Itoa(int(code))
}
