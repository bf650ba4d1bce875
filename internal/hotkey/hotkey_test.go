package hotkey

import (
	"testing"

	evdev "github.com/holoplot/go-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hara602/inputSentry/internal/model"
)

const kbd = "/dev/input/event3"

func down(code evdev.EvCode) model.KeyEvent {
	return model.KeyEvent{Path: kbd, Code: code, Value: model.KeyDown}
}

func up(code evdev.EvCode) model.KeyEvent {
	return model.KeyEvent{Path: kbd, Code: code, Value: model.KeyUp}
}

func repeat(code evdev.EvCode) model.KeyEvent {
	return model.KeyEvent{Path: kbd, Code: code, Value: model.KeyRepeat}
}

func TestParseCombo(t *testing.T) {
	c, err := ParseCombo("ctrl + alt + l")
	require.NoError(t, err)
	assert.Equal(t, "Ctrl+Alt+L", c.String())
	assert.Len(t, c.Keys(), 3)

	for _, bad := range []string{"", "L", "Ctrl+Alt", "Ctrl+A+B", "Ctrl+Hyper"} {
		_, err := ParseCombo(bad)
		assert.ErrorIs(t, err, ErrInvalidCombo, bad)
	}
}

func TestComboOrDefault(t *testing.T) {
	assert.Equal(t, "Ctrl+Alt+L", ComboOrDefault("Alt").String())
	assert.Equal(t, "Ctrl+Shift+K", ComboOrDefault("Shift+Ctrl+K").String())
}

func TestFiresOnCompletingKeyDown(t *testing.T) {
	l := NewListener(ComboOrDefault(DefaultCombo))
	assert.False(t, l.Feed(down(evdev.KEY_LEFTCTRL)))
	assert.False(t, l.Feed(down(evdev.KEY_LEFTALT)))
	assert.True(t, l.Feed(down(evdev.KEY_L)))
}

func TestHoldDoesNotRetrigger(t *testing.T) {
	l := NewListener(ComboOrDefault(DefaultCombo))
	l.Feed(down(evdev.KEY_LEFTCTRL))
	l.Feed(down(evdev.KEY_LEFTALT))
	require.True(t, l.Feed(down(evdev.KEY_L)))

	assert.False(t, l.Feed(repeat(evdev.KEY_L)))
	// 只松开 L 再按下, 修饰键仍按住: 不重新触发
	assert.False(t, l.Feed(up(evdev.KEY_L)))
	assert.False(t, l.Feed(down(evdev.KEY_L)))

	// 全部松开后重新武装
	l.Feed(up(evdev.KEY_L))
	l.Feed(up(evdev.KEY_LEFTALT))
	l.Feed(up(evdev.KEY_LEFTCTRL))
	l.Feed(down(evdev.KEY_LEFTCTRL))
	l.Feed(down(evdev.KEY_LEFTALT))
	assert.True(t, l.Feed(down(evdev.KEY_L)))
}

func TestRightModifiersNormalised(t *testing.T) {
	l := NewListener(ComboOrDefault(DefaultCombo))
	l.Feed(down(evdev.KEY_RIGHTCTRL))
	l.Feed(down(evdev.KEY_RIGHTALT))
	assert.True(t, l.Feed(down(evdev.KEY_L)))
}

func TestBothSidesOfModifierHeld(t *testing.T) {
	l := NewListener(ComboOrDefault(DefaultCombo))
	l.Feed(down(evdev.KEY_LEFTCTRL))
	l.Feed(down(evdev.KEY_RIGHTCTRL))
	// 左 Ctrl 仍按住
	l.Feed(up(evdev.KEY_RIGHTCTRL))
	l.Feed(down(evdev.KEY_LEFTALT))
	require.True(t, l.Feed(down(evdev.KEY_L)))

	// 组合键仍有一侧按住时保持锁存
	l.Feed(down(evdev.KEY_RIGHTCTRL))
	l.Feed(up(evdev.KEY_L))
	l.Feed(up(evdev.KEY_LEFTALT))
	l.Feed(up(evdev.KEY_LEFTCTRL))
	l.Feed(down(evdev.KEY_LEFTALT))
	assert.False(t, l.Feed(down(evdev.KEY_L)))

	l.Feed(up(evdev.KEY_L))
	l.Feed(up(evdev.KEY_LEFTALT))
	l.Feed(up(evdev.KEY_RIGHTCTRL))
	l.Feed(down(evdev.KEY_RIGHTCTRL))
	l.Feed(down(evdev.KEY_RIGHTALT))
	assert.True(t, l.Feed(down(evdev.KEY_L)))
}

func TestReleasedModifierBreaksCombo(t *testing.T) {
	l := NewListener(ComboOrDefault(DefaultCombo))
	l.Feed(down(evdev.KEY_LEFTCTRL))
	l.Feed(down(evdev.KEY_LEFTALT))
	l.Feed(up(evdev.KEY_LEFTALT))
	assert.False(t, l.Feed(down(evdev.KEY_L)))
}

func TestKeysTrackedPerDevice(t *testing.T) {
	l := NewListener(ComboOrDefault(DefaultCombo))
	l.Feed(down(evdev.KEY_LEFTCTRL))
	l.Feed(down(evdev.KEY_LEFTALT))
	other := model.KeyEvent{Path: "/dev/input/event4", Code: evdev.KEY_L, Value: model.KeyDown}
	assert.False(t, l.Feed(other))

	l.Forget(kbd)
	assert.False(t, l.Feed(down(evdev.KEY_L)))
}

func TestSetCombo(t *testing.T) {
	l := NewListener(ComboOrDefault(DefaultCombo))
	c, err := ParseCombo("Super+B")
	require.NoError(t, err)
	l.SetCombo(c)
	assert.Equal(t, "Super+B", l.Combo().String())

	l.Feed(down(evdev.KEY_LEFTMETA))
	assert.True(t, l.Feed(down(evdev.KEY_B)))
}
