package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	relayRedis "sudooom.im.relay/internal/redis"
)

// TokenInfo 存储在 Redis 中的登录信息
type TokenInfo struct {
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	DeviceID string `json:"device_id,omitempty"`
}

// TokenRepository Token 数据访问层
// 1. user:token:{userId} -> set(accessToken)
// 2. token:info:{accessToken} -> TokenInfo JSON
type TokenRepository struct {
	rdb *redis.Client
}

// NewTokenRepository 创建 Token Repository
func NewTokenRepository(rdb *redis.Client) *TokenRepository {
	return &TokenRepository{rdb: rdb}
}

// SaveToken 保存 Token，同一用户可以有多个有效 Token（多设备）
func (r *TokenRepository) SaveToken(ctx context.Context, info *TokenInfo, accessToken string, expiration time.Duration) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal token info: %w", err)
	}

	userTokenKey := relayRedis.BuildUserTokenKey(info.UserID)

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, relayRedis.BuildTokenInfoKey(accessToken), data, expiration)
	pipe.SAdd(ctx, userTokenKey, accessToken)
	pipe.Expire(ctx, userTokenKey, expiration)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// GetTokenInfo 根据 Token 获取登录信息，不存在时返回 nil
func (r *TokenRepository) GetTokenInfo(ctx context.Context, accessToken string) (*TokenInfo, error) {
	data, err := r.rdb.Get(ctx, relayRedis.BuildTokenInfoKey(accessToken)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var info TokenInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token info: %w", err)
	}
	return &info, nil
}

// IsActive Token 未被吊销且属于该用户
func (r *TokenRepository) IsActive(ctx context.Context, userID, accessToken string) (bool, error) {
	info, err := r.GetTokenInfo(ctx, accessToken)
	if err != nil || info == nil {
		return false, err
	}
	return info.UserID == userID, nil
}

// DeleteToken 吊销单个 Token（登出）
func (r *TokenRepository) DeleteToken(ctx context.Context, userID, accessToken string) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, relayRedis.BuildTokenInfoKey(accessToken))
	pipe.SRem(ctx, relayRedis.BuildUserTokenKey(userID), accessToken)
	_, err := pipe.Exec(ctx)
	return err
}

// DeleteUserTokens 吊销用户全部 Token（注销账号）
func (r *TokenRepository) DeleteUserTokens(ctx context.Context, userID string) error {
	userTokenKey := relayRedis.BuildUserTokenKey(userID)
	tokens, err := r.rdb.SMembers(ctx, userTokenKey).Result()
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(tokens)+1)
	for _, token := range tokens {
		keys = append(keys, relayRedis.BuildTokenInfoKey(token))
	}
	keys = append(keys, userTokenKey)
	return r.rdb.Del(ctx, keys...).Err()
}
