package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"sudooom.im.relay/internal/model"
)

// MemoryUsers 进程内用户仓库（单机开发与测试）
type MemoryUsers struct {
	mu    sync.RWMutex
	users map[string]model.User
}

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{users: make(map[string]model.User)}
}

func (m *MemoryUsers) Create(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.UserID]; ok {
		return ErrUserExists
	}
	for _, u := range m.users {
		if u.Email == user.Email {
			return ErrEmailExists
		}
	}
	user.CreatedAt = time.Now().UTC()
	m.users[user.UserID] = *user
	return nil
}

func (m *MemoryUsers) GetByUserID(_ context.Context, userID string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (m *MemoryUsers) Exists(_ context.Context, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.users[userID]
	return ok, nil
}

func (m *MemoryUsers) ExistsByEmail(_ context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryUsers) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return ErrUserNotFound
	}
	delete(m.users, userID)
	return nil
}

func (m *MemoryUsers) List(_ context.Context) ([]*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]*model.User, 0, len(m.users))
	for _, u := range m.users {
		u.PasswordHash = ""
		users = append(users, &u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users, nil
}

// MemoryTokens 进程内 Token 仓库，忽略过期时间
type MemoryTokens struct {
	mu     sync.RWMutex
	tokens map[string]TokenInfo
}

func NewMemoryTokens() *MemoryTokens {
	return &MemoryTokens{tokens: make(map[string]TokenInfo)}
}

func (m *MemoryTokens) SaveToken(_ context.Context, info *TokenInfo, accessToken string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[accessToken] = *info
	return nil
}

func (m *MemoryTokens) IsActive(_ context.Context, userID, accessToken string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.tokens[accessToken]
	return ok && info.UserID == userID, nil
}

func (m *MemoryTokens) DeleteToken(_ context.Context, _ string, accessToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, accessToken)
	return nil
}

func (m *MemoryTokens) DeleteUserTokens(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for token, info := range m.tokens {
		if info.UserID == userID {
			delete(m.tokens, token)
		}
	}
	return nil
}
