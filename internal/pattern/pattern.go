// Package pattern 紧急解锁按键序列
package pattern

import (
	"fmt"
	"strings"
	"time"

	evdev "github.com/holoplot/go-evdev"

	"github.com/Hara602/inputSentry/internal/keymap"
)

// Window 相邻两步之间允许的最长间隔
const Window = 3 * time.Second

var DefaultTokens = []string{"Up", "Up", "Down", "Down", "Enter"}

var presets = map[string][]string{
	"arrows": DefaultTokens,
	"wasd":   {"W", "W", "S", "S", "Enter"},
}

// Preset 内置序列
func Preset(name string) ([]string, bool) {
	p, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

type Sequence []evdev.EvCode

// Parse 把名称序列转换为键码, 修饰键不能出现在序列中
func Parse(tokens []string) (Sequence, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty pattern")
	}
	seq := make(Sequence, 0, len(tokens))
	for _, tok := range tokens {
		code, ok := keymap.Lookup(tok)
		if !ok {
			return nil, fmt.Errorf("unknown key %q in pattern", tok)
		}
		if keymap.IsModifier(code) {
			return nil, fmt.Errorf("modifier %q not allowed in pattern", tok)
		}
		seq = append(seq, code)
	}
	return seq, nil
}

// Default Up Up Down Down Enter
func Default() Sequence {
	seq, _ := Parse(DefaultTokens)
	return seq
}

func (s Sequence) String() string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = keymap.Name(c)
	}
	return strings.Join(names, " → ")
}

type State int

const (
	Idle State = iota
	Matching
	Matched
)

func (s State) String() string {
	switch s {
	case Matching:
		return "matching"
	case Matched:
		return "matched"
	}
	return "idle"
}

// Matcher 非并发安全, 由引擎的事件分发协程独占使用
// 按错键时完全回到 Idle, 不做部分重试
type Matcher struct {
	seq    Sequence
	window time.Duration
	index  int
	last   time.Time
}

func NewMatcher(seq Sequence) *Matcher {
	if len(seq) == 0 {
		seq = Default()
	}
	return &Matcher{seq: seq, window: Window}
}

// Feed 输入一次按下事件, 序列完成时返回 true 并复位
func (m *Matcher) Feed(code evdev.EvCode, now time.Time) bool {
	if keymap.IsModifier(code) {
		return false
	}
	if m.index > 0 && now.Sub(m.last) > m.window {
		m.Reset()
	}
	if code != m.seq[m.index] {
		m.Reset()
		return false
	}
	m.index++
	m.last = now
	if m.index == len(m.seq) {
		m.Reset()
		return true
	}
	return false
}

// State 当前状态及已匹配步数; Matched 只在 Feed 内部短暂存在
func (m *Matcher) State() (State, int) {
	if m.index == 0 {
		return Idle, 0
	}
	return Matching, m.index
}

func (m *Matcher) Reset() {
	m.index = 0
	m.last = time.Time{}
}

func (m *Matcher) Sequence() Sequence { return m.seq }
