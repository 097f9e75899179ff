package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv 加载 .env 文件（不存在时忽略），已有环境变量优先
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			slog.Warn("Failed to load env file", "file", f, "error", err)
		}
	}
}

// GetEnv 读取字符串环境变量
func GetEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// GetEnvInt 读取整数环境变量
func GetEnvInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Invalid int env, using default", "key", key, "value", v)
		return def
	}
	return n
}

// GetEnvInt64 读取 int64 环境变量
func GetEnvInt64(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("Invalid int64 env, using default", "key", key, "value", v)
		return def
	}
	return n
}

// GetEnvBool 读取布尔环境变量
func GetEnvBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("Invalid bool env, using default", "key", key, "value", v)
		return def
	}
	return b
}

// GetEnvDuration 读取时长环境变量（如 30s、5m）
func GetEnvDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("Invalid duration env, using default", "key", key, "value", v)
		return def
	}
	return d
}

// GetEnvList 读取逗号分隔的列表
func GetEnvList(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// NewLogger 按配置创建 slog.Logger
func NewLogger(cfg LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	PoolSize int    `yaml:"pool_size" mapstructure:"pool_size"`
}

// NATSConfig NATS 配置
type NATSConfig struct {
	URL           string        `yaml:"url" mapstructure:"url"`
	MaxReconnects int           `yaml:"max_reconnects" mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait" mapstructure:"reconnect_wait"`
}

// PushConfig Web Push (VAPID) 配置
type PushConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	Subscriber      string `yaml:"subscriber" mapstructure:"subscriber"`
	VAPIDPublicKey  string `yaml:"vapid_public_key" mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key" mapstructure:"vapid_private_key"`
	TTL             int    `yaml:"ttl" mapstructure:"ttl"`
}

func (c *RedisConfig) applyEnv() {
	c.Addr = GetEnv("REDIS_ADDR", c.Addr)
	c.Password = GetEnv("REDIS_PASSWORD", c.Password)
	c.DB = GetEnvInt("REDIS_DB", c.DB)
	c.PoolSize = GetEnvInt("REDIS_POOL_SIZE", c.PoolSize)
}

func (c *NATSConfig) applyEnv() {
	c.URL = GetEnv("NATS_URL", c.URL)
	c.MaxReconnects = GetEnvInt("NATS_MAX_RECONNECTS", c.MaxReconnects)
	c.ReconnectWait = GetEnvDuration("NATS_RECONNECT_WAIT", c.ReconnectWait)
}

func (c *PushConfig) applyEnv() {
	c.Enabled = GetEnvBool("PUSH_ENABLED", c.Enabled)
	c.Subscriber = GetEnv("VAPID_SUBSCRIBER", c.Subscriber)
	c.VAPIDPublicKey = GetEnv("VAPID_PUBLIC_KEY", c.VAPIDPublicKey)
	c.VAPIDPrivateKey = GetEnv("VAPID_PRIVATE_KEY", c.VAPIDPrivateKey)
}
