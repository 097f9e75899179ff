package signaling

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sudooom.im.relay/internal/event"
	relayRedis "sudooom.im.relay/internal/redis"
	"sudooom.im.relay/internal/task"
)

// manualScheduler 手动触发的调度器
type manualScheduler struct {
	mu    sync.Mutex
	tasks map[string]*task.Task
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{tasks: make(map[string]*task.Task)}
}

func (s *manualScheduler) AddAfter(id, target string, after time.Duration, fn task.TaskFunc) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := task.NewTask(id, target, int(after/time.Second), fn)
	s.tasks[id] = t
	return t, nil
}

func (s *manualScheduler) RemoveTask(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; !ok {
		return task.ErrTaskNotFound
	}
	delete(s.tasks, taskID)
	return nil
}

func (s *manualScheduler) pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	return ids
}

// fire 执行所有到期任务
func (s *manualScheduler) fire(t *testing.T) {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = make(map[string]*task.Task)
	s.mu.Unlock()
	for _, tk := range tasks {
		require.NoError(t, tk.Execute(context.Background()))
	}
}

var (
	offerSDP  = json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	answerSDP = json.RawMessage(`{"answer":{"type":"answer","sdp":"v=0"}}`)
	candidate = json.RawMessage(`{"candidate":{"candidate":"c1"}}`)
)

func newTestMachine(store Store, sched Scheduler) *Machine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewMachine(store, sched, 30*time.Second, logger)
}

func stateOf(t *testing.T, m *Machine, a, b string, modality event.Modality) State {
	t.Helper()
	s, err := m.Lookup(context.Background(), a, b, modality)
	require.NoError(t, err)
	if s == nil {
		return StateIdle
	}
	return s.State
}

func TestMachine_OfferAnswerEnd(t *testing.T) {
	ctx := context.Background()
	sched := newManualScheduler()
	m := newTestMachine(NewMemoryStore(), sched)

	actions := m.Offer(ctx, "alice", "bob", offerSDP, event.Voice)
	require.Len(t, actions, 1)
	assert.Equal(t, "bob", actions[0].Room)
	assert.Equal(t, &event.Incoming{From: "alice", Offer: offerSDP, Modality: event.Voice}, actions[0].Out)
	assert.Equal(t, StateOffered, stateOf(t, m, "alice", "bob", event.Voice))
	assert.Len(t, sched.pending(), 1)

	// 视频状态机互不影响
	assert.Equal(t, StateIdle, stateOf(t, m, "alice", "bob", event.Video))

	// 候选在 answer 之前到达：转发且不改变状态
	actions = m.Signal(ctx, "alice", "bob", candidate, false, event.Voice)
	require.Len(t, actions, 1)
	assert.Equal(t, "bob", actions[0].Room)
	assert.Equal(t, StateOffered, stateOf(t, m, "alice", "bob", event.Voice))

	// 主叫发送 answer 不会激活会话
	m.Signal(ctx, "alice", "bob", answerSDP, true, event.Voice)
	assert.Equal(t, StateOffered, stateOf(t, m, "alice", "bob", event.Voice))

	actions = m.Signal(ctx, "bob", "alice", answerSDP, true, event.Voice)
	require.Len(t, actions, 1)
	assert.Equal(t, "alice", actions[0].Room)
	assert.Equal(t, &event.Signal{From: "bob", Data: answerSDP, Modality: event.Voice}, actions[0].Out)
	assert.Equal(t, StateActive, stateOf(t, m, "alice", "bob", event.Voice))
	assert.Empty(t, sched.pending(), "answer 后应取消超时")

	actions = m.End(ctx, "bob", "alice", event.Voice)
	require.Len(t, actions, 2)
	assert.ElementsMatch(t, []string{"alice", "bob"}, []string{actions[0].Room, actions[1].Room})
	assert.Equal(t, &event.Ended{From: "bob", Modality: event.Voice}, actions[0].Out)
	assert.Equal(t, StateIdle, stateOf(t, m, "alice", "bob", event.Voice))
}

func TestMachine_EndIsIdempotent(t *testing.T) {
	m := newTestMachine(NewMemoryStore(), nil)

	for i := 0; i < 2; i++ {
		actions := m.End(context.Background(), "alice", "bob", event.Video)
		require.Len(t, actions, 2)
		assert.Equal(t, "bob", actions[0].Room)
		assert.Equal(t, "alice", actions[1].Room)
		assert.Equal(t, event.VideoEnded, actions[0].Out.OutboundName())
	}
}

func TestMachine_RejectBeforeAnswer(t *testing.T) {
	ctx := context.Background()
	sched := newManualScheduler()
	m := newTestMachine(NewMemoryStore(), sched)

	m.Offer(ctx, "alice", "bob", offerSDP, event.Video)
	actions := m.End(ctx, "bob", "alice", event.Video)

	assert.Len(t, actions, 2)
	assert.Equal(t, StateIdle, stateOf(t, m, "alice", "bob", event.Video))
	assert.Empty(t, sched.pending())
}

// TestMachine_PairsWithSeparatorStayApart id 中带 '_' 的两对用户互不影响
func TestMachine_PairsWithSeparatorStayApart(t *testing.T) {
	ctx := context.Background()
	sched := newManualScheduler()
	m := newTestMachine(NewMemoryStore(), sched)

	m.Offer(ctx, "a", "b_c", offerSDP, event.Voice)
	require.Equal(t, StateOffered, stateOf(t, m, "a", "b_c", event.Voice))

	m.End(ctx, "c", "a_b", event.Voice)
	m.Signal(ctx, "a_b", "c", answerSDP, true, event.Voice)
	assert.Equal(t, StateOffered, stateOf(t, m, "a", "b_c", event.Voice))
	assert.Equal(t, StateIdle, stateOf(t, m, "c", "a_b", event.Voice))
	assert.Len(t, sched.pending(), 1)
}

func TestMachine_CrossedOffers_LowerIDWins(t *testing.T) {
	ctx := context.Background()

	t.Run("较小 id 后到", func(t *testing.T) {
		m := newTestMachine(NewMemoryStore(), newManualScheduler())
		m.Offer(ctx, "bob", "alice", offerSDP, event.Voice)

		actions := m.Offer(ctx, "alice", "bob", offerSDP, event.Voice)
		require.Len(t, actions, 2)
		assert.Equal(t, Action{Room: "bob", Out: &event.Ended{From: "alice", Reason: event.ReasonGlare, Modality: event.Voice}}, actions[0])
		assert.Equal(t, "bob", actions[1].Room)
		assert.IsType(t, &event.Incoming{}, actions[1].Out)

		s, err := m.Lookup(ctx, "alice", "bob", event.Voice)
		require.NoError(t, err)
		assert.Equal(t, "alice", s.Caller)
		assert.Equal(t, "bob", s.Callee)
		assert.Equal(t, StateOffered, s.State)
	})

	t.Run("较大 id 后到", func(t *testing.T) {
		m := newTestMachine(NewMemoryStore(), newManualScheduler())
		m.Offer(ctx, "alice", "bob", offerSDP, event.Voice)

		actions := m.Offer(ctx, "bob", "alice", offerSDP, event.Voice)
		require.Len(t, actions, 1)
		assert.Equal(t, Action{Room: "bob", Out: &event.Ended{From: "alice", Reason: event.ReasonGlare, Modality: event.Voice}}, actions[0])

		s, err := m.Lookup(ctx, "alice", "bob", event.Voice)
		require.NoError(t, err)
		assert.Equal(t, "alice", s.Caller)
	})
}

func TestMachine_ReofferForwarded(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(NewMemoryStore(), nil)

	m.Offer(ctx, "alice", "bob", offerSDP, event.Voice)
	m.Signal(ctx, "bob", "alice", answerSDP, true, event.Voice)

	// 通话中任意一方重协商
	actions := m.Offer(ctx, "bob", "alice", offerSDP, event.Voice)
	require.Len(t, actions, 1)
	assert.Equal(t, "alice", actions[0].Room)
	assert.Equal(t, StateActive, stateOf(t, m, "alice", "bob", event.Voice))
}

func TestMachine_OfferTimeout(t *testing.T) {
	ctx := context.Background()
	sched := newManualScheduler()
	m := newTestMachine(NewMemoryStore(), sched)

	var fired []Action
	m.OnTimeout(func(_ context.Context, actions []Action) {
		fired = append(fired, actions...)
	})

	m.Offer(ctx, "alice", "bob", offerSDP, event.Video)
	sched.fire(t)

	require.Len(t, fired, 2)
	ended := &event.Ended{From: "alice", Reason: event.ReasonTimeout, Modality: event.Video}
	assert.Equal(t, Action{Room: "bob", Out: ended}, fired[0])
	assert.Equal(t, Action{Room: "alice", Out: ended}, fired[1])
	assert.Equal(t, StateIdle, stateOf(t, m, "alice", "bob", event.Video))
}

func TestMachine_StaleTimeoutIgnored(t *testing.T) {
	ctx := context.Background()
	sched := newManualScheduler()
	m := newTestMachine(NewMemoryStore(), sched)

	var fired int
	m.OnTimeout(func(context.Context, []Action) { fired++ })

	m.Offer(ctx, "alice", "bob", offerSDP, event.Voice)
	stale := sched.tasks["offer:alice_bob:voice"]
	require.NotNil(t, stale)

	// 会话结束后重新发起，旧任务携带的会话 id 已失效
	m.End(ctx, "alice", "bob", event.Voice)
	m.Offer(ctx, "alice", "bob", offerSDP, event.Voice)

	require.NoError(t, stale.Execute(ctx))
	assert.Zero(t, fired)
	assert.Equal(t, StateOffered, stateOf(t, m, "alice", "bob", event.Voice))
}

func TestMachine_Teardown(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(NewMemoryStore(), newManualScheduler())

	m.Offer(ctx, "alice", "bob", offerSDP, event.Voice)
	m.Offer(ctx, "carol", "alice", offerSDP, event.Video)
	m.Offer(ctx, "bob", "carol", offerSDP, event.Voice)

	actions := m.Teardown(ctx, "alice")
	require.Len(t, actions, 2)
	assert.ElementsMatch(t, []Action{
		{Room: "bob", Out: &event.Ended{From: "alice", Reason: event.ReasonTeardown, Modality: event.Voice}},
		{Room: "carol", Out: &event.Ended{From: "alice", Reason: event.ReasonTeardown, Modality: event.Video}},
	}, actions)

	assert.Equal(t, StateIdle, stateOf(t, m, "alice", "bob", event.Voice))
	assert.Equal(t, StateOffered, stateOf(t, m, "bob", "carol", event.Voice))
	assert.Empty(t, m.Teardown(ctx, "alice"))
}

func TestMachine_SessionGauge(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	gauge := map[event.Modality]float64{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewMachine(NewMemoryStore(), nil, 0, logger, WithSessionGauge(func(mod event.Modality, d float64) {
		mu.Lock()
		gauge[mod] += d
		mu.Unlock()
	}))

	m.Offer(ctx, "alice", "bob", offerSDP, event.Voice)
	m.Offer(ctx, "alice", "carol", offerSDP, event.Video)
	assert.Equal(t, 1.0, gauge[event.Voice])
	assert.Equal(t, 1.0, gauge[event.Video])

	m.End(ctx, "alice", "bob", event.Voice)
	m.End(ctx, "alice", "bob", event.Voice)
	assert.Equal(t, 0.0, gauge[event.Voice])
}

func TestRedisStore(t *testing.T) {
	client := relayRedis.NewTestClient(t)
	ctx := context.Background()
	store := NewRedisStore(client)
	m := newTestMachine(store, nil)

	m.Offer(ctx, "alice", "bob", offerSDP, event.Voice)
	m.Signal(ctx, "bob", "alice", answerSDP, true, event.Voice)
	assert.Equal(t, StateActive, stateOf(t, m, "bob", "alice", event.Voice))

	sessions, err := store.ListByUser(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "alice_bob", sessions[0].Pair)

	actions := m.Teardown(ctx, "bob")
	require.Len(t, actions, 1)
	assert.Equal(t, "alice", actions[0].Room)
	assert.Equal(t, StateIdle, stateOf(t, m, "alice", "bob", event.Voice))
}
