package reconcile

import (
	"context"
	"slices"
	"sync"
)

// Store 会话历史的持久化
type Store interface {
	// Load 读取会话；不存在时返回空历史
	Load(ctx context.Context, pair string) (*History, error)
	// Append 追加条目，id 已存在时忽略
	Append(ctx context.Context, pair string, e Entry) error
	// Tombstone 记录墓碑并删除对应条目
	Tombstone(ctx context.Context, pair string, ids []string) error
	// Pairs 已有记录的会话
	Pairs(ctx context.Context) ([]string, error)
	Close() error
}

type memoryPair struct {
	entries    []Entry
	tombstones []string
}

// MemoryStore 进程内存储
type MemoryStore struct {
	mu    sync.Mutex
	pairs map[string]*memoryPair
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pairs: make(map[string]*memoryPair)}
}

func (s *MemoryStore) get(pair string) *memoryPair {
	p, ok := s.pairs[pair]
	if !ok {
		p = &memoryPair{}
		s.pairs[pair] = p
	}
	return p
}

func (s *MemoryStore) Load(_ context.Context, pair string) (*History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pairs[pair]
	if !ok {
		return NewHistory(pair), nil
	}
	return restore(pair, p.entries, p.tombstones), nil
}

func (s *MemoryStore) Append(_ context.Context, pair string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.get(pair)
	if slices.ContainsFunc(p.entries, func(x Entry) bool { return x.ID == e.ID }) {
		return nil
	}
	p.entries = append(p.entries, e)
	return nil
}

func (s *MemoryStore) Tombstone(_ context.Context, pair string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.get(pair)
	for _, id := range ids {
		if !slices.Contains(p.tombstones, id) {
			p.tombstones = append(p.tombstones, id)
		}
	}
	p.entries = slices.DeleteFunc(p.entries, func(e Entry) bool { return slices.Contains(ids, e.ID) })
	return nil
}

func (s *MemoryStore) Pairs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pairs := make([]string, 0, len(s.pairs))
	for pair := range s.pairs {
		pairs = append(pairs, pair)
	}
	slices.Sort(pairs)
	return pairs, nil
}

func (s *MemoryStore) Close() error { return nil }
