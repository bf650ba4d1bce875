// Package eventbus 状态变化通知的扇出
// 每个订阅者一个无界队列: 不丢事件, 保持发布顺序, 不回放历史
package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Hara602/inputSentry/internal/model"
)

type Event struct {
	ID      string          `json:"id"`
	Kind    model.EventKind `json:"type"`
	Time    time.Time       `json:"time"`
	Payload any             `json:"data"`
}

func NewEvent(kind model.EventKind, payload any) Event {
	return Event{Kind: kind, Payload: payload}
}

// Publisher 只需要发布能力的组件依赖这个接口
type Publisher interface {
	Publish(ev Event) Event
}

type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Publish 补全 ID/时间后投递给当前所有订阅者, 不阻塞
func (b *Bus) Publish(ev Event) Event {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		s.enqueue(ev)
	}
	return ev
}

// Subscribe 只会收到订阅之后发布的事件
func (b *Bus) Subscribe() *Subscription {
	out := make(chan Event)
	s := &Subscription{
		C:    out,
		out:  out,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		bus:  b,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(out)
		return s
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.pump()
	return s
}

// Subscribers 当前订阅者数量
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close 关闭所有订阅, 之后的 Publish 是空操作
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*Subscription]struct{})
	b.closed = true
	b.mu.Unlock()

	for s := range subs {
		s.stop()
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

type Subscription struct {
	// C 在订阅关闭后被 close
	C <-chan Event

	out  chan Event
	bus  *Bus
	wake chan struct{}
	done chan struct{}
	once sync.Once

	mu    sync.Mutex
	queue []Event
}

// Close 取消订阅, 尚未读取的事件被丢弃
func (s *Subscription) Close() {
	s.bus.remove(s)
	s.stop()
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) enqueue(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range batch {
			select {
			case s.out <- ev:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}
