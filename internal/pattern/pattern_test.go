package pattern

import (
	"testing"
	"time"

	evdev "github.com/holoplot/go-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func feedAll(m *Matcher, codes []evdev.EvCode, gap time.Duration) bool {
	now := t0
	matched := false
	for _, c := range codes {
		matched = m.Feed(c, now)
		now = now.Add(gap)
	}
	return matched
}

var konami = []evdev.EvCode{evdev.KEY_UP, evdev.KEY_UP, evdev.KEY_DOWN, evdev.KEY_DOWN, evdev.KEY_ENTER}

func TestDefaultSequenceMatches(t *testing.T) {
	m := NewMatcher(nil)
	assert.True(t, feedAll(m, konami, 500*time.Millisecond))
	st, idx := m.State()
	assert.Equal(t, Idle, st)
	assert.Equal(t, 0, idx)
}

func TestGapOverWindowDoesNotMatch(t *testing.T) {
	m := NewMatcher(Default())
	assert.False(t, feedAll(m, konami, 3100*time.Millisecond))

	// 间隔恰好 3 秒仍然有效
	m.Reset()
	assert.True(t, feedAll(m, konami, 3*time.Second))
}

func TestTimeoutMidSequence(t *testing.T) {
	m := NewMatcher(Default())
	assert.False(t, m.Feed(evdev.KEY_UP, t0))
	assert.False(t, m.Feed(evdev.KEY_UP, t0.Add(time.Second)))
	// 超时后这个 Up 作为新序列的第一步
	assert.False(t, m.Feed(evdev.KEY_UP, t0.Add(5*time.Second)))
	st, idx := m.State()
	assert.Equal(t, Matching, st)
	assert.Equal(t, 1, idx)
}

func TestMismatchResetsFully(t *testing.T) {
	m := NewMatcher(Default())
	now := t0
	for _, c := range []evdev.EvCode{evdev.KEY_UP, evdev.KEY_UP, evdev.KEY_UP} {
		m.Feed(c, now)
		now = now.Add(100 * time.Millisecond)
	}
	st, idx := m.State()
	assert.Equal(t, Idle, st)
	assert.Equal(t, 0, idx)

	// 剩余步骤无法再凑成完整序列
	assert.False(t, feedAll(m, []evdev.EvCode{evdev.KEY_DOWN, evdev.KEY_DOWN, evdev.KEY_ENTER}, 100*time.Millisecond))
}

func TestModifiersIgnored(t *testing.T) {
	m := NewMatcher(Default())
	codes := []evdev.EvCode{evdev.KEY_UP, evdev.KEY_LEFTSHIFT, evdev.KEY_UP, evdev.KEY_RIGHTCTRL, evdev.KEY_DOWN, evdev.KEY_DOWN, evdev.KEY_ENTER}
	assert.True(t, feedAll(m, codes, 100*time.Millisecond))
}

func TestParse(t *testing.T) {
	seq, err := Parse([]string{"up", "UP", "Down", "down", "enter"})
	require.NoError(t, err)
	assert.Equal(t, Default(), seq)
	assert.Equal(t, "Up → Up → Down → Down → Enter", seq.String())

	_, err = Parse(nil)
	assert.Error(t, err)
	_, err = Parse([]string{"Up", "Hyper"})
	assert.Error(t, err)
	_, err = Parse([]string{"Ctrl", "Up"})
	assert.Error(t, err)
}

func TestWasdPreset(t *testing.T) {
	tokens, ok := Preset("WASD")
	require.True(t, ok)
	seq, err := Parse(tokens)
	require.NoError(t, err)

	m := NewMatcher(seq)
	assert.True(t, feedAll(m, []evdev.EvCode{evdev.KEY_W, evdev.KEY_W, evdev.KEY_S, evdev.KEY_S, evdev.KEY_ENTER}, time.Second))
	assert.False(t, feedAll(m, konami, time.Second))
}
