// Package handler 负责单个实时连接的生命周期：读取帧、解析为类型化事件、
// 按连接顺序调度到 relay，并在断开时清理房间与在线状态。
package handler

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"sudooom.im.relay/internal/connection"
	appErrors "sudooom.im.relay/internal/errors"
	"sudooom.im.relay/internal/event"
	"sudooom.im.relay/internal/jwt"
	"sudooom.im.relay/internal/presence"
	"sudooom.im.relay/internal/relay"
)

const (
	defaultInboundQueue = 64
	roomLockShards      = 64
	cleanupTimeout      = 5 * time.Second
)

// EventMetrics 入站事件计数
type EventMetrics interface {
	ObserveEvent(name string)
	ObserveRejected(code int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveEvent(string) {}
func (noopMetrics) ObserveRejected(int) {}

// Option Handler 选项
type Option func(*Handler)

// WithAuthenticator join 认证，默认 AllowAll
func WithAuthenticator(a Authenticator) Option {
	return func(h *Handler) { h.auth = a }
}

// WithRateLimit 单连接入站事件限流，perSecond <= 0 表示不限流
func WithRateLimit(perSecond float64, burst int) Option {
	return func(h *Handler) {
		h.eventsPerSecond = perSecond
		h.eventBurst = burst
	}
}

// WithInboundQueue 读循环与调度循环之间的队列长度
func WithInboundQueue(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.inboundQueue = n
		}
	}
}

// WithUnavailableNotice 收件房间无连接时回 user_unavailable 给发送方
func WithUnavailableNotice(enabled bool) Option {
	return func(h *Handler) { h.notifyUnavailable = enabled }
}

// WithMetrics 事件指标
func WithMetrics(m EventMetrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// Handler 连接处理器
type Handler struct {
	connMgr           *connection.Manager
	presence          presence.Store
	relay             *relay.Relay
	auth              Authenticator
	metrics           EventMetrics
	eventsPerSecond   float64
	eventBurst        int
	inboundQueue      int
	notifyUnavailable bool
	logger            *slog.Logger
	roomLocks         [roomLockShards]sync.Mutex
}

func NewHandler(connMgr *connection.Manager, store presence.Store, r *relay.Relay, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		connMgr:      connMgr,
		presence:     store,
		relay:        r,
		auth:         AllowAll{},
		metrics:      noopMetrics{},
		inboundQueue: defaultInboundQueue,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve 处理连接直到其关闭，阻塞调用方
//
// 读循环只做解析与限流，事件经通道交给单独的调度 goroutine 顺序处理；
// 读循环退出后等待调度排空，再清理房间与在线状态。
func (h *Handler) Serve(ctx context.Context, conn *connection.Connection) {
	h.connMgr.Add(conn)

	inbound := make(chan event.Inbound, h.inboundQueue)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		for in := range inbound {
			h.dispatch(ctx, conn, in)
		}
	}()

	defer func() {
		close(inbound)
		<-dispatched
		h.disconnect(ctx, conn)
		conn.Close()
	}()

	limiter := h.newLimiter()
	for {
		raw, err := conn.ReadFrame()
		if err != nil {
			if errors.Is(err, connection.ErrFrameTooLarge) {
				h.rejected(conn, "", appErrors.ErrPayloadTooLarge.Wrap(err))
				return
			}
			conn.Logger().Debug("Read loop finished", "error", err)
			return
		}

		if !limiter.Allow() {
			h.rejected(conn, "", appErrors.ErrRateLimited)
			continue
		}

		in, err := decode(raw)
		if err != nil {
			conn.Logger().Warn("Malformed event dropped", "error", err)
			continue
		}

		select {
		case inbound <- in:
		case <-conn.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) newLimiter() *rate.Limiter {
	if h.eventsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := h.eventBurst
	if burst <= 0 {
		burst = int(h.eventsPerSecond)
	}
	return rate.NewLimiter(rate.Limit(h.eventsPerSecond), burst)
}

func decode(raw []byte) (event.Inbound, error) {
	f, err := event.DecodeFrame(raw)
	if err != nil {
		return nil, err
	}
	return event.Decode(f)
}

// dispatch 按事件类型分发
func (h *Handler) dispatch(ctx context.Context, conn *connection.Connection, in event.Inbound) {
	name := in.EventName()
	h.metrics.ObserveEvent(name)

	if req, ok := in.(*event.JoinRequest); ok {
		h.join(ctx, conn, req)
		return
	}

	user := conn.UserID()
	if user == "" {
		h.rejected(conn, name, appErrors.ErrNotJoined)
		return
	}

	routed, ok := in.(event.Routed)
	if !ok {
		conn.Logger().Warn("Unhandled event", "event", name)
		return
	}
	route := routed.Addressing()
	switch route.From {
	case "":
		route.From = user
	case user:
	default:
		h.rejected(conn, name, appErrors.ErrIdentityMismatch.Wrapf("from %q, joined as %q", route.From, user))
		return
	}

	var res relay.Result
	switch e := in.(type) {
	case event.Message:
		res = h.relay.Message(ctx, e)
	case *event.DeleteRequest:
		res = h.relay.Delete(ctx, e)
	case *event.CallOffer:
		res = h.relay.CallOffer(ctx, e)
	case *event.CallSignalRequest:
		res = h.relay.CallSignal(ctx, e)
	case *event.CallEnd:
		res = h.relay.CallEnd(ctx, e)
	default:
		conn.Logger().Warn("Unhandled event", "event", name)
		return
	}

	if !res.Reachable() && h.notifyUnavailable {
		h.reply(conn, &event.Unavailable{UserID: route.To, Event: name})
	}
}

// join 认证后把连接放入房间 userId
func (h *Handler) join(ctx context.Context, conn *connection.Connection, req *event.JoinRequest) {
	if err := h.auth.Authenticate(ctx, req); err != nil {
		h.rejected(conn, event.Join, appErrors.ErrJoinRejected.Wrap(err))
		h.reply(conn, &event.JoinFailure{UserID: req.UserID, Code: appErrors.CodeJoinRejected, Reason: rejectReason(err)})
		return
	}

	unlock := h.lockRoom(req.UserID)
	res, ok := h.connMgr.Join(conn.ID(), req.UserID)
	if ok && res.First {
		if err := h.presence.Join(ctx, req.UserID); err != nil {
			conn.Logger().Error("Failed to register presence", "user_id", req.UserID, "error", err)
		}
	}
	unlock()
	if !ok {
		return
	}
	if res.Previous != "" && res.PreviousEmptied {
		h.leaveRoom(ctx, res.Previous)
	}

	h.reply(conn, &event.JoinedAck{UserID: req.UserID})
	if !res.Unchanged {
		conn.Logger().Info("Joined room", "user_id", req.UserID, "previous", res.Previous)
	}
}

func rejectReason(err error) string {
	for _, known := range []error{ErrTokenRequired, ErrTokenMismatch, ErrTokenRevoked, ErrUnknownUser, jwt.ErrTokenInvalid, jwt.ErrTokenExpired} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal error"
}

// rejected 记录被丢弃的入站事件，不回写通道
func (h *Handler) rejected(conn *connection.Connection, name string, err *appErrors.AppError) {
	h.metrics.ObserveRejected(err.Code)
	conn.Logger().Warn("Event rejected", "event", name, "error", err)
}

// disconnect 移除连接；房间在本节点变空时更新集群在线状态
func (h *Handler) disconnect(ctx context.Context, conn *connection.Connection) {
	room, emptied := h.connMgr.Remove(conn.ID())
	if room == "" || !emptied {
		return
	}

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	h.leaveRoom(cleanupCtx, room)
}

// leaveRoom 本节点已无该房间的连接；集群内也离线时结束其通话
//
// 与 join 在同一把房间锁下执行，期间若已有新连接加入则保留在线状态。
func (h *Handler) leaveRoom(ctx context.Context, room string) {
	unlock := h.lockRoom(room)
	defer unlock()

	if h.connMgr.HasRoom(room) {
		return
	}
	offline, err := h.presence.Leave(ctx, room)
	if err != nil {
		h.logger.Error("Failed to update presence", "user_id", room, "error", err)
		return
	}
	if offline {
		h.logger.Info("User offline", "user_id", room)
		h.relay.Offline(ctx, room)
	}
}

// lockRoom 串行化同一房间的本地进出与集群在线状态更新
func (h *Handler) lockRoom(room string) func() {
	f := fnv.New32a()
	_, _ = f.Write([]byte(room))
	mu := &h.roomLocks[f.Sum32()%roomLockShards]
	mu.Lock()
	return mu.Unlock
}

func (h *Handler) reply(conn *connection.Connection, out event.Outbound) {
	data, err := event.Encode(out)
	if err != nil {
		conn.Logger().Error("Failed to encode reply", "event", out.OutboundName(), "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		conn.Logger().Debug("Failed to send reply", "event", out.OutboundName(), "error", err)
	}
}
