package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"sudooom.im.relay/internal/event"
	relayRedis "sudooom.im.relay/internal/redis"
)

// sessionTTL 会话最长保留时间，防止节点崩溃后残留
const sessionTTL = 6 * time.Hour

// RedisStore 多节点共享的会话表
// 会话: im:call:session:{pair}:{modality} -> JSON
// 索引: im:call:user:{userId} -> set of session keys
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Get(ctx context.Context, pair string, modality event.Modality) (*Session, error) {
	return r.get(ctx, relayRedis.BuildCallSessionKey(pair, string(modality)))
}

func (r *RedisStore) get(ctx context.Context, key string) (*Session, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get call session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call session: %w", err)
	}
	return &s, nil
}

func (r *RedisStore) Put(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal call session: %w", err)
	}
	key := relayRedis.BuildCallSessionKey(s.Pair, string(s.Modality))

	pipe := r.client.Pipeline()
	pipe.Set(ctx, key, data, sessionTTL)
	for _, user := range []string{s.Caller, s.Callee} {
		userKey := relayRedis.BuildCallUserKey(user)
		pipe.SAdd(ctx, userKey, key)
		pipe.Expire(ctx, userKey, sessionTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put call session: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, s *Session) error {
	key := relayRedis.BuildCallSessionKey(s.Pair, string(s.Modality))

	pipe := r.client.Pipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, relayRedis.BuildCallUserKey(s.Caller), key)
	pipe.SRem(ctx, relayRedis.BuildCallUserKey(s.Callee), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete call session: %w", err)
	}
	return nil
}

func (r *RedisStore) ListByUser(ctx context.Context, user string) ([]*Session, error) {
	userKey := relayRedis.BuildCallUserKey(user)
	keys, err := r.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list call sessions: %w", err)
	}

	var out []*Session
	for _, key := range keys {
		s, err := r.get(ctx, key)
		if err != nil {
			return out, err
		}
		if s == nil || !s.Involves(user) {
			// 会话已过期或被替换
			r.client.SRem(ctx, userKey, key)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
