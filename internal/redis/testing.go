package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewTestClient 返回测试用 Redis 客户端（DB 15，已清空）
// 未设置 INTEGRATION_TEST 或 Redis 不可达时跳过测试
func NewTestClient(t testing.TB) *redis.Client {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") == "" {
		t.Skip("跳过集成测试，设置 INTEGRATION_TEST=1 来运行")
	}

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   15,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("跳过测试：无法连接 Redis: %v", err)
	}
	client.FlushDB(ctx)
	t.Cleanup(func() { _ = client.Close() })
	return client
}
