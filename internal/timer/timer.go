// Package timer 自动解锁定时器, 全局最多一个
package timer

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Hara602/inputSentry/internal/eventbus"
	"github.com/Hara602/inputSentry/internal/model"
	"github.com/Hara602/inputSentry/internal/sysutil"
)

var ErrInvalidDuration = errors.New("timer duration must be positive")

// ExpireFunc 到期回调, target 为空表示全部解锁
type ExpireFunc func(target string)

type Status struct {
	Active    bool
	Total     time.Duration
	Remaining time.Duration
	Deadline  time.Time
	Target    string
}

// Update 转换为总线事件负载
func (s Status) Update() model.TimerUpdate {
	return model.TimerUpdate{
		Active:           s.Active,
		RemainingSeconds: int((s.Remaining + time.Second - 1) / time.Second),
		TotalSeconds:     int(s.Total / time.Second),
		Target:           s.Target,
	}
}

// generation 一次 Set 对应一代, s.active 指针是取消与到期的唯一裁决点
type generation struct {
	t        *time.Timer
	total    time.Duration
	deadline time.Time
	target   string
}

type Service struct {
	bus      eventbus.Publisher
	onExpire ExpireFunc

	mu     sync.Mutex
	active *generation
}

func New(bus eventbus.Publisher, onExpire ExpireFunc) *Service {
	return &Service{bus: bus, onExpire: onExpire}
}

// Set 替换现有定时器
func (s *Service) Set(d time.Duration, target string) (Status, error) {
	if d <= 0 {
		return Status{}, ErrInvalidDuration
	}

	s.mu.Lock()
	if s.active != nil {
		s.active.t.Stop()
		sysutil.Log.Info("⏱️ Replacing active timer", zap.String("target", s.active.target))
	}
	g := &generation{total: d, deadline: time.Now().Add(d), target: target}
	g.t = time.AfterFunc(d, func() { s.fire(g) })
	s.active = g
	st := statusOf(g)
	s.mu.Unlock()

	sysutil.Log.Info("⏱️ Auto-unlock timer set", zap.Duration("duration", d), zap.String("target", target))
	s.publish(st)
	return st, nil
}

// Cancel 返回 true 时保证该代的到期回调不会执行
func (s *Service) Cancel() bool {
	s.mu.Lock()
	g := s.active
	if g == nil {
		s.mu.Unlock()
		return false
	}
	s.active = nil
	g.t.Stop()
	s.mu.Unlock()

	sysutil.Log.Info("⏱️ Auto-unlock timer cancelled")
	s.publish(Status{})
	return true
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return Status{}
	}
	return statusOf(s.active)
}

func (s *Service) fire(g *generation) {
	s.mu.Lock()
	if s.active != g {
		// 已被取消或替换
		s.mu.Unlock()
		return
	}
	s.active = nil
	s.mu.Unlock()

	sysutil.Log.Info("⏰ Auto-unlock timer expired", zap.String("target", g.target))
	if s.onExpire != nil {
		s.onExpire(g.target)
	}
	s.publish(Status{})
}

func (s *Service) publish(st Status) {
	if s.bus != nil {
		s.bus.Publish(eventbus.NewEvent(model.KindTimerUpdate, st.Update()))
	}
}

func statusOf(g *generation) Status {
	remaining := time.Until(g.deadline)
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		Active:    true,
		Total:     g.total,
		Remaining: remaining,
		Deadline:  g.deadline,
		Target:    g.target,
	}
}
