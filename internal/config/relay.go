package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// 认证模式
const (
	AuthModeNone      = "none"      // 身份由客户端自报
	AuthModeToken     = "token"     // join 时校验 JWT
	AuthModeDirectory = "directory" // join 时校验用户存在
)

// 存储后端
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// RelayConfig 中继节点配置
type RelayConfig struct {
	Server    ServerConfig    `yaml:"server"`
	QUIC      QUICConfig      `yaml:"quic"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	NATS      NATSConfig      `yaml:"nats"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Signaling SignalingConfig `yaml:"signaling"`
	Relay     RelayOptions    `yaml:"relay"`
	Push      PushConfig      `yaml:"push"`
	Health    HealthConfig    `yaml:"health"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig 实时通道配置
type ServerConfig struct {
	Addr                   string        `yaml:"addr"`
	NodeID                 string        `yaml:"node_id"`
	MaxConnections         int           `yaml:"max_connections"`
	MaxPayload             int64         `yaml:"max_payload"`
	AllowedOrigins         []string      `yaml:"allowed_origins"`
	PingInterval           time.Duration `yaml:"ping_interval"`
	HeartbeatTimeout       time.Duration `yaml:"heartbeat_timeout"`
	HeartbeatCheckInterval time.Duration `yaml:"heartbeat_check_interval"`
	JoinTimeout            time.Duration `yaml:"join_timeout"`
	EventsPerSecond        float64       `yaml:"events_per_second"`
	EventBurst             int           `yaml:"event_burst"`
	InboundQueue           int           `yaml:"inbound_queue"`
}

// QUICConfig WebTransport (HTTP/3) 配置，Addr 为空时不启动
type QUICConfig struct {
	Addr                  string        `yaml:"addr"`
	MaxIdleTimeout        time.Duration `yaml:"max_idle_timeout"`
	KeepAlivePeriod       time.Duration `yaml:"keep_alive_period"`
	MaxIncomingStreams    int64         `yaml:"max_incoming_streams"`
	MaxIncomingUniStreams int64         `yaml:"max_incoming_uni_streams"`
	Allow0RTT             bool          `yaml:"allow_0rtt"`
	CertFile              string        `yaml:"cert_file"`
	KeyFile               string        `yaml:"key_file"`
}

// ClusterConfig 集群配置：memory 为单节点，redis 需配合 NATS
type ClusterConfig struct {
	Presence string `yaml:"presence"`
	Sessions string `yaml:"sessions"`
}

// DatabaseConfig PostgreSQL 配置（directory 认证模式使用）
type DatabaseConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Name            string        `yaml:"name" mapstructure:"name"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// DSN 构建 PostgreSQL 连接串
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

func (c *DatabaseConfig) applyEnv() {
	c.Host = GetEnv("POSTGRES_HOST", c.Host)
	c.Port = GetEnvInt("POSTGRES_PORT", c.Port)
	c.User = GetEnv("POSTGRES_USER", c.User)
	c.Password = GetEnv("POSTGRES_PASSWORD", c.Password)
	c.Name = GetEnv("POSTGRES_DB", c.Name)
	c.MaxOpenConns = GetEnvInt("POSTGRES_MAX_OPEN_CONNS", c.MaxOpenConns)
	c.MaxIdleConns = GetEnvInt("POSTGRES_MAX_IDLE_CONNS", c.MaxIdleConns)
}

// AuthConfig join 认证配置
type AuthConfig struct {
	Mode        string        `yaml:"mode"`
	TokenSecret string        `yaml:"token_secret"`
	TokenExpire time.Duration `yaml:"token_expire"`
}

// SignalingConfig 通话信令配置
type SignalingConfig struct {
	OfferTimeout time.Duration `yaml:"offer_timeout"`
	Workers      int           `yaml:"workers"`
}

// RelayOptions 转发行为配置
type RelayOptions struct {
	NotifyUnavailable bool `yaml:"notify_unavailable"`
	PushWorkers       int  `yaml:"push_workers"`
	PushQueue         int  `yaml:"push_queue"`
}

// HealthConfig 健康检查 / 指标 HTTP 配置
type HealthConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultRelayConfig 返回默认配置
func DefaultRelayConfig() *RelayConfig {
	return &RelayConfig{
		Server: ServerConfig{
			Addr:                   ":3000",
			NodeID:                 "relay-1",
			MaxPayload:             50_000_000,
			AllowedOrigins:         []string{"*"},
			PingInterval:           25 * time.Second,
			HeartbeatTimeout:       90 * time.Second,
			HeartbeatCheckInterval: 30 * time.Second,
			JoinTimeout:            30 * time.Second,
			EventsPerSecond:        50,
			EventBurst:             100,
			InboundQueue:           64,
		},
		QUIC: QUICConfig{
			MaxIdleTimeout:        60 * time.Second,
			KeepAlivePeriod:       15 * time.Second,
			MaxIncomingStreams:    100,
			MaxIncomingUniStreams: 100,
		},
		Cluster: ClusterConfig{
			Presence: BackendMemory,
			Sessions: BackendMemory,
		},
		NATS: NATSConfig{
			MaxReconnects: 60,
			ReconnectWait: 2 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 20,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Name:            "chat",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Hour,
		},
		Auth: AuthConfig{
			Mode:        AuthModeNone,
			TokenExpire: 24 * time.Hour,
		},
		Signaling: SignalingConfig{
			OfferTimeout: 30 * time.Second,
			Workers:      4,
		},
		Relay: RelayOptions{
			PushWorkers: 4,
			PushQueue:   1024,
		},
		Push: PushConfig{
			Subscriber: "mailto:admin@example.com",
			TTL:        60,
		},
		Health: HealthConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadRelay 读取 YAML 配置；path 为空时只使用默认值和环境变量
func LoadRelay(path string) (*RelayConfig, error) {
	cfg := DefaultRelayConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 从环境变量覆盖配置
func (c *RelayConfig) applyEnv() {
	c.Server.Addr = GetEnv("RELAY_ADDR", c.Server.Addr)
	c.Server.NodeID = GetEnv("RELAY_NODE_ID", c.Server.NodeID)
	c.Server.MaxPayload = GetEnvInt64("RELAY_MAX_PAYLOAD", c.Server.MaxPayload)
	c.Server.AllowedOrigins = GetEnvList("RELAY_ALLOWED_ORIGINS", c.Server.AllowedOrigins)
	c.QUIC.Addr = GetEnv("RELAY_QUIC_ADDR", c.QUIC.Addr)
	c.Cluster.Presence = GetEnv("RELAY_PRESENCE_BACKEND", c.Cluster.Presence)
	c.Cluster.Sessions = GetEnv("RELAY_SESSION_BACKEND", c.Cluster.Sessions)
	c.Auth.Mode = GetEnv("RELAY_AUTH_MODE", c.Auth.Mode)
	c.Auth.TokenSecret = GetEnv("JWT_SECRET", c.Auth.TokenSecret)
	c.Signaling.OfferTimeout = GetEnvDuration("RELAY_OFFER_TIMEOUT", c.Signaling.OfferTimeout)
	c.Health.Addr = GetEnv("RELAY_HEALTH_ADDR", c.Health.Addr)
	c.Logging.Level = GetEnv("LOG_LEVEL", c.Logging.Level)

	c.NATS.applyEnv()
	c.Redis.applyEnv()
	c.Database.applyEnv()
	c.Push.applyEnv()
}

// Validate 校验配置
func (c *RelayConfig) Validate() error {
	if c.Server.NodeID == "" {
		return fmt.Errorf("server.node_id is required")
	}
	if c.Server.MaxPayload <= 0 {
		return fmt.Errorf("server.max_payload must be positive")
	}
	switch c.Auth.Mode {
	case AuthModeNone, AuthModeDirectory:
	case AuthModeToken:
		if c.Auth.TokenSecret == "" {
			return fmt.Errorf("auth.token_secret is required in token mode")
		}
	default:
		return fmt.Errorf("unknown auth.mode %q", c.Auth.Mode)
	}
	for name, backend := range map[string]string{"cluster.presence": c.Cluster.Presence, "cluster.sessions": c.Cluster.Sessions} {
		if backend != BackendMemory && backend != BackendRedis {
			return fmt.Errorf("unknown %s backend %q", name, backend)
		}
	}
	if c.Cluster.Presence == BackendRedis && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when cluster.presence is redis")
	}
	if c.Signaling.OfferTimeout < time.Second || c.Signaling.OfferTimeout > time.Minute {
		return fmt.Errorf("signaling.offer_timeout must be within 1s..60s")
	}
	if c.Push.Enabled && (c.Push.VAPIDPublicKey == "" || c.Push.VAPIDPrivateKey == "") {
		return fmt.Errorf("push.vapid keys are required when push is enabled")
	}
	return nil
}

// NeedsRedis 是否需要 Redis 连接（token 模式用它检查 Token 是否已吊销）
func (c *RelayConfig) NeedsRedis() bool {
	return c.Cluster.Presence == BackendRedis || c.Cluster.Sessions == BackendRedis ||
		c.Push.Enabled || c.Auth.Mode == AuthModeToken
}
