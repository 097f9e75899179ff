package connection

import (
	"context"
	"log/slog"
	"time"
)

// 关闭原因
const (
	ReasonHeartbeatTimeout = "heartbeat timeout"
	ReasonJoinTimeout      = "join timeout"
)

// HeartbeatChecker 周期性清理失联连接与迟迟不 join 的连接
type HeartbeatChecker struct {
	manager       *Manager
	timeout       time.Duration
	joinTimeout   time.Duration
	checkInterval time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// SweepResult 一轮检查的结果
type SweepResult struct {
	Checked  int
	Idle     int // 心跳超时
	Unjoined int // 建连后超过 joinTimeout 仍未 join
}

// NewHeartbeatChecker 创建心跳检测器；joinTimeout <= 0 时不检查 join
func NewHeartbeatChecker(manager *Manager, timeout, joinTimeout, checkInterval time.Duration, logger *slog.Logger) *HeartbeatChecker {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	if checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}

	return &HeartbeatChecker{
		manager:       manager,
		timeout:       timeout,
		joinTimeout:   joinTimeout,
		checkInterval: checkInterval,
		logger:        logger,
		now:           time.Now,
	}
}

// Start 启动心跳检测（阻塞，应在 goroutine 中调用）
func (h *HeartbeatChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.checkInterval)
	defer ticker.Stop()

	h.logger.Info("Heartbeat checker started",
		"timeout", h.timeout,
		"join_timeout", h.joinTimeout,
		"check_interval", h.checkInterval)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Heartbeat checker stopped")
			return
		case <-ticker.C:
			if r := h.Sweep(); r.Idle+r.Unjoined > 0 {
				h.logger.Info("Heartbeat sweep closed connections",
					"checked", r.Checked,
					"idle", r.Idle,
					"unjoined", r.Unjoined)
			}
		}
	}
}

// Sweep 执行一轮检查。这里只关闭连接，房间与在线状态由连接的读协程退出时清理
func (h *HeartbeatChecker) Sweep() SweepResult {
	conns := h.manager.GetAllConnections()
	now := h.now()
	r := SweepResult{Checked: len(conns)}

	for _, conn := range conns {
		reason := h.expired(conn, now)
		if reason == "" {
			continue
		}
		if reason == ReasonJoinTimeout {
			r.Unjoined++
		} else {
			r.Idle++
		}
		h.logger.Debug("Closing stale connection",
			"conn_id", conn.ID(),
			"user_id", conn.UserID(),
			"last_active", conn.LastActiveTime(),
			"reason", reason)
		conn.CloseWithReason(reason)
	}
	return r
}

func (h *HeartbeatChecker) expired(conn *Connection, now time.Time) string {
	if now.Sub(conn.LastActiveTime()) > h.timeout {
		return ReasonHeartbeatTimeout
	}
	if h.joinTimeout > 0 && conn.UserID() == "" && now.Sub(conn.CreateTime()) > h.joinTimeout {
		return ReasonJoinTimeout
	}
	return ""
}
