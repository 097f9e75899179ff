package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/redis/go-redis/v9"
	relayRedis "sudooom.im.relay/internal/redis"
)

// Subscriptions 每个用户一条推送订阅，保存时覆盖旧值
type Subscriptions interface {
	Save(ctx context.Context, userID string, sub *webpush.Subscription) error
	Get(ctx context.Context, userID string) (*webpush.Subscription, error)
	Delete(ctx context.Context, userID string) error
}

// ValidateSubscription 检查浏览器上报的订阅是否完整
func ValidateSubscription(sub *webpush.Subscription) error {
	if sub == nil || sub.Endpoint == "" {
		return errors.New("subscription endpoint is required")
	}
	if sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return errors.New("subscription keys are required")
	}
	return nil
}

// RedisSubscriptions Key: im:push:sub:{userId} -> JSON
type RedisSubscriptions struct {
	client *redis.Client
}

func NewRedisSubscriptions(client *redis.Client) *RedisSubscriptions {
	return &RedisSubscriptions{client: client}
}

func (r *RedisSubscriptions) Save(ctx context.Context, userID string, sub *webpush.Subscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}
	if err := r.client.Set(ctx, relayRedis.BuildPushSubKey(userID), data, 0).Err(); err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

func (r *RedisSubscriptions) Get(ctx context.Context, userID string) (*webpush.Subscription, error) {
	data, err := r.client.Get(ctx, relayRedis.BuildPushSubKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}

	var sub webpush.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscription: %w", err)
	}
	return &sub, nil
}

func (r *RedisSubscriptions) Delete(ctx context.Context, userID string) error {
	return r.client.Del(ctx, relayRedis.BuildPushSubKey(userID)).Err()
}

// MemorySubscriptions 进程内实现
type MemorySubscriptions struct {
	mu   sync.RWMutex
	subs map[string]webpush.Subscription
}

func NewMemorySubscriptions() *MemorySubscriptions {
	return &MemorySubscriptions{subs: make(map[string]webpush.Subscription)}
}

func (m *MemorySubscriptions) Save(_ context.Context, userID string, sub *webpush.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[userID] = *sub
	return nil
}

func (m *MemorySubscriptions) Get(_ context.Context, userID string) (*webpush.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[userID]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (m *MemorySubscriptions) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, userID)
	return nil
}
