package signaling

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"sudooom.im.relay/internal/event"
	"sudooom.im.relay/internal/task"
)

// Action 一次需要投递到房间的出站事件
type Action struct {
	Room string
	Out  event.Outbound
}

// Scheduler 定时任务（offer 超时）
type Scheduler interface {
	AddAfter(id, target string, after time.Duration, fn task.TaskFunc) (*task.Task, error)
	RemoveTask(taskID string) error
}

// Option Machine 选项
type Option func(*Machine)

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithSessionGauge 会话数变化回调（指标用）
func WithSessionGauge(fn func(modality event.Modality, delta float64)) Option {
	return func(m *Machine) { m.gauge = fn }
}

const lockShards = 64

// Machine 通话信令状态机
type Machine struct {
	store        Store
	scheduler    Scheduler
	offerTimeout time.Duration
	onTimeout    func(ctx context.Context, actions []Action)
	logger       *slog.Logger
	now          func() time.Time
	gauge        func(modality event.Modality, delta float64)
	locks        [lockShards]sync.Mutex
}

// NewMachine scheduler 为 nil 时不启用 offer 超时
func NewMachine(store Store, scheduler Scheduler, offerTimeout time.Duration, logger *slog.Logger, opts ...Option) *Machine {
	m := &Machine{
		store:        store,
		scheduler:    scheduler,
		offerTimeout: offerTimeout,
		logger:       logger,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnTimeout 设置 offer 超时后的投递回调
func (m *Machine) OnTimeout(fn func(ctx context.Context, actions []Action)) {
	m.onTimeout = fn
}

func (m *Machine) lock(pair string) func() {
	h := fnv.New32a()
	h.Write([]byte(pair))
	mu := &m.locks[h.Sum32()%lockShards]
	mu.Lock()
	return mu.Unlock
}

// Offer 处理 call_user / video_call
func (m *Machine) Offer(ctx context.Context, from, to string, offer json.RawMessage, modality event.Modality) []Action {
	pair := event.PairKey(from, to)
	unlock := m.lock(pair)
	defer unlock()

	incoming := Action{Room: to, Out: &event.Incoming{From: from, Offer: offer, Modality: modality}}

	s, err := m.store.Get(ctx, pair, modality)
	if err != nil {
		m.logger.Error("Failed to load call session", "pair", pair, "modality", modality, "error", err)
		return []Action{incoming}
	}

	switch {
	case s == nil:
		m.open(ctx, pair, from, to, modality)
		return []Action{incoming}

	case s.State == StateOffered && s.Caller == to:
		// 双方同时发起：id 较小的一方胜出
		if from < to {
			m.cancelTimeout(s)
			m.replace(ctx, s, from, to)
			m.logger.Info("Crossed offers resolved", "pair", pair, "modality", modality, "winner", from)
			return []Action{
				{Room: to, Out: &event.Ended{From: from, Reason: event.ReasonGlare, Modality: modality}},
				incoming,
			}
		}
		m.logger.Info("Crossed offers resolved", "pair", pair, "modality", modality, "winner", to)
		return []Action{
			{Room: from, Out: &event.Ended{From: to, Reason: event.ReasonGlare, Modality: modality}},
		}

	default:
		// 主叫重发 offer 或通话中重协商：原样转发，不改变状态
		return []Action{incoming}
	}
}

func (m *Machine) open(ctx context.Context, pair, caller, callee string, modality event.Modality) {
	s := &Session{
		ID:        uuid.NewString(),
		Pair:      pair,
		Modality:  modality,
		Caller:    caller,
		Callee:    callee,
		State:     StateOffered,
		OfferedAt: m.now(),
	}
	if err := m.store.Put(ctx, s); err != nil {
		m.logger.Error("Failed to store call session", "pair", pair, "modality", modality, "error", err)
		return
	}
	m.observe(modality, 1)
	m.scheduleTimeout(s)
}

func (m *Machine) replace(ctx context.Context, s *Session, caller, callee string) {
	s.ID = uuid.NewString()
	s.Caller = caller
	s.Callee = callee
	s.State = StateOffered
	s.OfferedAt = m.now()
	s.AnsweredAt = time.Time{}
	if err := m.store.Put(ctx, s); err != nil {
		m.logger.Error("Failed to store call session", "pair", s.Pair, "modality", s.Modality, "error", err)
		return
	}
	m.scheduleTimeout(s)
}

// Signal 处理 call_signal / video_signal：无条件转发给对方
// 被叫在 OFFERED 状态下回复 answer 时会话进入 ACTIVE
func (m *Machine) Signal(ctx context.Context, from, to string, data json.RawMessage, answer bool, modality event.Modality) []Action {
	forward := []Action{{Room: to, Out: &event.Signal{From: from, Data: data, Modality: modality}}}
	if !answer {
		return forward
	}

	pair := event.PairKey(from, to)
	unlock := m.lock(pair)
	defer unlock()

	s, err := m.store.Get(ctx, pair, modality)
	if err != nil {
		m.logger.Error("Failed to load call session", "pair", pair, "modality", modality, "error", err)
		return forward
	}
	if s == nil || s.State != StateOffered || s.Callee != from {
		return forward
	}

	s.State = StateActive
	s.AnsweredAt = m.now()
	m.cancelTimeout(s)
	if err := m.store.Put(ctx, s); err != nil {
		m.logger.Error("Failed to store call session", "pair", pair, "modality", modality, "error", err)
	}
	return forward
}

// End 处理 end_call / video_end：任意状态回到 IDLE，双方都收到结束事件
func (m *Machine) End(ctx context.Context, from, to string, modality event.Modality) []Action {
	pair := event.PairKey(from, to)
	unlock := m.lock(pair)
	defer unlock()

	if s, err := m.store.Get(ctx, pair, modality); err != nil {
		m.logger.Error("Failed to load call session", "pair", pair, "modality", modality, "error", err)
	} else if s != nil {
		m.close(ctx, s)
	}

	ended := &event.Ended{From: from, Modality: modality}
	if from == to {
		return []Action{{Room: to, Out: ended}}
	}
	return []Action{{Room: to, Out: ended}, {Room: from, Out: ended}}
}

// Teardown 用户在集群内完全离线：结束其所有会话并通知对方
func (m *Machine) Teardown(ctx context.Context, user string) []Action {
	sessions, err := m.store.ListByUser(ctx, user)
	if err != nil {
		m.logger.Error("Failed to list call sessions", "user_id", user, "error", err)
		return nil
	}

	var actions []Action
	for _, listed := range sessions {
		unlock := m.lock(listed.Pair)
		s, err := m.store.Get(ctx, listed.Pair, listed.Modality)
		if err == nil && s != nil && s.Involves(user) {
			m.close(ctx, s)
			if peer := s.Peer(user); peer != user {
				actions = append(actions, Action{
					Room: peer,
					Out:  &event.Ended{From: user, Reason: event.ReasonTeardown, Modality: s.Modality},
				})
			}
		}
		unlock()
	}
	return actions
}

func (m *Machine) close(ctx context.Context, s *Session) {
	m.cancelTimeout(s)
	if err := m.store.Delete(ctx, s); err != nil {
		m.logger.Error("Failed to delete call session", "pair", s.Pair, "modality", s.Modality, "error", err)
		return
	}
	m.observe(s.Modality, -1)
}

// Lookup 查询会话（nil 即 IDLE）
func (m *Machine) Lookup(ctx context.Context, a, b string, modality event.Modality) (*Session, error) {
	return m.store.Get(ctx, event.PairKey(a, b), modality)
}

func timeoutTaskID(s *Session) string {
	return "offer:" + s.Pair + ":" + string(s.Modality)
}

func (m *Machine) scheduleTimeout(s *Session) {
	if m.scheduler == nil || m.offerTimeout <= 0 {
		return
	}
	sessionID := s.ID
	pair := s.Pair
	modality := s.Modality

	_, err := m.scheduler.AddAfter(timeoutTaskID(s), pair, m.offerTimeout,
		func(ctx context.Context, target string) error {
			m.expire(ctx, target, modality, sessionID)
			return nil
		})
	if err != nil {
		m.logger.Warn("Failed to schedule offer timeout", "pair", pair, "modality", modality, "error", err)
	}
}

func (m *Machine) cancelTimeout(s *Session) {
	if m.scheduler == nil {
		return
	}
	// 任务可能已到期或未创建
	_ = m.scheduler.RemoveTask(timeoutTaskID(s))
}

// expire offer 超时：仍是同一个 OFFERED 会话时结束它
func (m *Machine) expire(ctx context.Context, pair string, modality event.Modality, sessionID string) {
	unlock := m.lock(pair)
	s, err := m.store.Get(ctx, pair, modality)
	if err != nil || s == nil || s.ID != sessionID || s.State != StateOffered {
		unlock()
		return
	}
	if err := m.store.Delete(ctx, s); err != nil {
		unlock()
		m.logger.Error("Failed to delete call session", "pair", pair, "modality", modality, "error", err)
		return
	}
	m.observe(modality, -1)
	unlock()

	m.logger.Info("Call offer timed out", "pair", pair, "modality", modality, "caller", s.Caller, "callee", s.Callee)

	ended := &event.Ended{From: s.Caller, Reason: event.ReasonTimeout, Modality: modality}
	if m.onTimeout != nil {
		m.onTimeout(ctx, []Action{{Room: s.Callee, Out: ended}, {Room: s.Caller, Out: ended}})
	}
}

func (m *Machine) observe(modality event.Modality, delta float64) {
	if m.gauge != nil {
		m.gauge(modality, delta)
	}
}
