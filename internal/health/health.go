package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	statusConnected     = "connected"
	statusDisconnected  = "disconnected"
	statusNotConfigured = "not configured"
)

// Status 健康状态
type Status struct {
	Service     string `json:"service"`
	Node        string `json:"node"`
	NATS        string `json:"nats"`
	Redis       string `json:"redis"`
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
}

// Healthy 已配置的依赖都可用
func (s *Status) Healthy() bool {
	return s.NATS != statusDisconnected && s.Redis != statusDisconnected
}

// ConnectionCounter 连接计数器接口
type ConnectionCounter interface {
	Count() int
	RoomCount() int
}

// NATSConn NATS 连接状态
type NATSConn interface {
	IsConnected() bool
}

// Checker 健康检查器
type Checker struct {
	service     string
	node        string
	nc          NATSConn
	redisClient *redis.Client
	connCounter ConnectionCounter
}

// NewChecker nc / redisClient 为 nil 表示未配置
func NewChecker(service, node string, nc NATSConn, redisClient *redis.Client, connCounter ConnectionCounter) *Checker {
	return &Checker{
		service:     service,
		node:        node,
		nc:          nc,
		redisClient: redisClient,
		connCounter: connCounter,
	}
}

// Check 执行健康检查
func (h *Checker) Check(ctx context.Context) *Status {
	status := &Status{
		Service: h.service,
		Node:    h.node,
		NATS:    statusNotConfigured,
		Redis:   statusNotConfigured,
	}

	if h.nc != nil {
		if h.nc.IsConnected() {
			status.NATS = statusConnected
		} else {
			status.NATS = statusDisconnected
		}
	}

	if h.redisClient != nil {
		redisCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		if err := h.redisClient.Ping(redisCtx).Err(); err == nil {
			status.Redis = statusConnected
		} else {
			status.Redis = statusDisconnected
		}
	}

	if h.connCounter != nil {
		status.Connections = h.connCounter.Count()
		status.Rooms = h.connCounter.RoomCount()
	}

	return status
}

// ServeHTTP HTTP 健康检查端点
func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if status.Healthy() {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// Ready 就绪检查：只返回状态码
func (h *Checker) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Check(r.Context()).Healthy() {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
}

// Handler /health、/ready、/metrics
func (h *Checker) Handler(metrics *Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/health", h)
	mux.HandleFunc("/ready", h.Ready)
	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}
	return mux
}
