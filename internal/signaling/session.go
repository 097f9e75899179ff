// Package signaling 实现语音 / 视频通话的信令状态机。
//
// 每个（无序用户对, 模态）最多一个会话：IDLE → OFFERED → ACTIVE → IDLE。
// 状态机只是参考信息：转发从不依赖状态迁移是否成功，Machine 的每个操作
// 都返回需要投递的动作列表，由调用方负责发送。
package signaling

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"sudooom.im.relay/internal/event"
)

var ErrSessionNotFound = errors.New("call session not found")

// State 会话状态
type State string

const (
	StateIdle    State = "idle"
	StateOffered State = "offered"
	StateActive  State = "active"
)

// Session 一次通话
type Session struct {
	ID         string         `json:"id"`
	Pair       string         `json:"pair"`
	Modality   event.Modality `json:"modality"`
	Caller     string         `json:"caller"`
	Callee     string         `json:"callee"`
	State      State          `json:"state"`
	OfferedAt  time.Time      `json:"offeredAt"`
	AnsweredAt time.Time      `json:"answeredAt"`
}

// Peer 返回会话中另一方
func (s *Session) Peer(user string) string {
	if s.Caller == user {
		return s.Callee
	}
	return s.Caller
}

// Involves 用户是否为会话一方
func (s *Session) Involves(user string) bool {
	return s.Caller == user || s.Callee == user
}

// Store 会话表；不存在的会话即 IDLE
type Store interface {
	Get(ctx context.Context, pair string, modality event.Modality) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, s *Session) error
	ListByUser(ctx context.Context, user string) ([]*Session, error)
}

type sessionKey struct {
	pair     string
	modality event.Modality
}

// MemoryStore 进程内会话表（单节点默认）
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[sessionKey]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[sessionKey]Session)}
}

func (m *MemoryStore) Get(_ context.Context, pair string, modality event.Modality) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionKey{pair, modality}]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryStore) Put(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionKey{s.Pair, s.Modality}] = *s
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionKey{s.Pair, s.Modality})
	return nil
}

func (m *MemoryStore) ListByUser(_ context.Context, user string) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Session
	for _, s := range m.sessions {
		if s.Involves(user) {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pair != out[j].Pair {
			return out[i].Pair < out[j].Pair
		}
		return out[i].Modality < out[j].Modality
	})
	return out, nil
}
