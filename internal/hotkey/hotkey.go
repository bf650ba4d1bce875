// Package hotkey 全局锁定组合键
package hotkey

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	evdev "github.com/holoplot/go-evdev"
	"go.uber.org/zap"

	"github.com/Hara602/inputSentry/internal/keymap"
	"github.com/Hara602/inputSentry/internal/model"
	"github.com/Hara602/inputSentry/internal/sysutil"
)

const DefaultCombo = "Ctrl+Alt+L"

var ErrInvalidCombo = errors.New("invalid hotkey")

// Combo 一组需要同时按住的键, 已归一化并排序
type Combo struct {
	keys []evdev.EvCode
}

// ParseCombo 形如 "Ctrl+Alt+L": 至少一个修饰键, 恰好一个普通键
func ParseCombo(s string) (Combo, error) {
	parts := strings.Split(s, "+")
	seen := make(map[evdev.EvCode]bool, len(parts))
	var mods, plain int
	for _, p := range parts {
		code, ok := keymap.Lookup(p)
		if !ok {
			return Combo{}, fmt.Errorf("%w %q: unknown key %q", ErrInvalidCombo, s, strings.TrimSpace(p))
		}
		code = keymap.Normalize(code)
		if seen[code] {
			continue
		}
		seen[code] = true
		if keymap.IsModifier(code) {
			mods++
		} else {
			plain++
		}
	}
	if mods == 0 || plain != 1 {
		return Combo{}, fmt.Errorf("%w %q: need at least one modifier and exactly one key", ErrInvalidCombo, s)
	}

	keys := make([]evdev.EvCode, 0, len(seen))
	for c := range seen {
		keys = append(keys, c)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return Combo{keys: keys}, nil
}

// ComboOrDefault 无效时回退到 Ctrl+Alt+L
func ComboOrDefault(s string) Combo {
	c, err := ParseCombo(s)
	if err != nil {
		sysutil.Log.Warn("Invalid hotkey, falling back to default", zap.String("hotkey", s), zap.String("default", DefaultCombo), zap.Error(err))
		c, _ = ParseCombo(DefaultCombo)
	}
	return c
}

func (c Combo) Keys() []evdev.EvCode { return append([]evdev.EvCode(nil), c.keys...) }

func (c Combo) contains(code evdev.EvCode) bool {
	for _, k := range c.keys {
		if k == code {
			return true
		}
	}
	return false
}

func (c Combo) String() string {
	var mods, rest []string
	for _, k := range c.keys {
		if keymap.IsModifier(k) {
			mods = append(mods, keymap.Name(k))
		} else {
			rest = append(rest, keymap.Name(k))
		}
	}
	return strings.Join(append(mods, rest...), "+")
}

type deviceState struct {
	pressed map[evdev.EvCode]bool
	// 已触发, 等待组合键全部松开
	latched bool
}

// Listener 按设备分别跟踪按下的键
type Listener struct {
	mu      sync.Mutex
	combo   Combo
	devices map[string]*deviceState
}

func NewListener(c Combo) *Listener {
	return &Listener{combo: c, devices: make(map[string]*deviceState)}
}

// SetCombo 热更新组合键, 清空已有按键状态
func (l *Listener) SetCombo(c Combo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.combo = c
	l.devices = make(map[string]*deviceState)
	sysutil.Log.Info("⌨️ Hotkey updated", zap.String("hotkey", c.String()))
}

func (l *Listener) Combo() Combo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.combo
}

// Feed 处理一次按键事件, 组合键在按下补全时返回 true
func (l *Listener) Feed(ev model.KeyEvent) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.devices[ev.Path]
	if !ok {
		st = &deviceState{pressed: make(map[evdev.EvCode]bool)}
		l.devices[ev.Path] = st
	}
	// 记录原始键码, 左右修饰键同时按住时松开一侧不影响另一侧
	code := ev.Code

	switch ev.Value {
	case model.KeyDown:
		st.pressed[code] = true
		if st.latched || !l.combo.contains(keymap.Normalize(code)) {
			return false
		}
		for _, k := range l.combo.keys {
			if !st.held(k) {
				return false
			}
		}
		st.latched = true
		return true
	case model.KeyUp:
		delete(st.pressed, code)
		if st.latched {
			for _, k := range l.combo.keys {
				if st.held(k) {
					return false
				}
			}
			st.latched = false
		}
	}
	return false
}

// held 归一化后的 k 是否有任一侧处于按下状态
func (st *deviceState) held(k evdev.EvCode) bool {
	for code := range st.pressed {
		if keymap.Normalize(code) == k {
			return true
		}
	}
	return false
}

// Forget 设备移除时丢弃其按键状态
func (l *Listener) Forget(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.devices, path)
}
