// Package relay 是无状态的转发核心：消息双发、删除传播以及通话信令的投递。
//
// 每个操作同步地产生零个或多个出站事件并立即返回，不等待任何投递确认。
package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"sudooom.im.relay/internal/event"
	"sudooom.im.relay/internal/push"
	"sudooom.im.relay/internal/router"
	"sudooom.im.relay/internal/signaling"
)

// Emitter 房间投递
type Emitter interface {
	EmitToRoom(ctx context.Context, room string, frame []byte) router.Delivery
}

// IDGenerator 服务端消息 id
type IDGenerator interface {
	NextString() string
}

// Notifier 推送通知（尽力而为）
type Notifier interface {
	Notify(userID string, n push.Notification)
}

// Metrics 转发指标
type Metrics interface {
	ObserveDelivery(d router.Delivery)
}

type noopMetrics struct{}

func (noopMetrics) ObserveDelivery(router.Delivery) {}

// Result 一次转发的结果
type Result struct {
	// Recipient 对收件人房间 to 的投递
	Recipient router.Delivery
}

// Reachable 收件人当前至少有一个连接
func (r Result) Reachable() bool {
	return !r.Recipient.Dropped()
}

// Option Relay 选项
type Option func(*Relay)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// WithNotifier 启用推送
func WithNotifier(n Notifier) Option {
	return func(r *Relay) { r.notifier = n }
}

// WithMetrics 启用指标
func WithMetrics(m Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// Relay 转发核心
type Relay struct {
	emitter  Emitter
	calls    *signaling.Machine
	ids      IDGenerator
	notifier Notifier
	metrics  Metrics
	now      func() time.Time
	logger   *slog.Logger
}

func New(emitter Emitter, calls *signaling.Machine, ids IDGenerator, logger *slog.Logger, opts ...Option) *Relay {
	r := &Relay{
		emitter: emitter,
		calls:   calls,
		ids:     ids,
		metrics: noopMetrics{},
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	calls.OnTimeout(func(ctx context.Context, actions []signaling.Action) {
		r.dispatch(ctx, actions)
	})
	return r
}

// Message 中继文本 / 图片 / 语音 / 文件：同一帧发往 to 与 from 两个房间
func (r *Relay) Message(ctx context.Context, msg event.Message) Result {
	route := msg.Addressing()

	id := msg.ClientID()
	if id == "" {
		id = r.ids.NextString()
	}
	at := r.now().UTC().Truncate(time.Millisecond)

	name, payload := msg.Receive(id, at)
	frame, err := event.Marshal(name, payload)
	if err != nil {
		r.logger.Error("Failed to encode relay frame", "event", name, "error", err)
		return Result{}
	}
	if len(frame) > 1<<20 {
		r.logger.Debug("Relaying large frame", "event", name, "size", humanize.Bytes(uint64(len(frame))))
	}

	res := Result{Recipient: r.emit(ctx, route.To, frame)}
	if route.From != route.To {
		r.emit(ctx, route.From, frame)
	}

	if text, ok := msg.(*event.TextMessage); ok && r.notifier != nil && route.From != route.To {
		r.notifier.Notify(route.To, push.NewMessage(route.From, text.Message))
	}
	return res
}

// Delete 删除传播：无条件发往双方房间，不检查 id 是否存在
func (r *Relay) Delete(ctx context.Context, req *event.DeleteRequest) Result {
	frame, err := event.Encode(&event.Deleted{IDs: req.IDs, From: req.From, To: req.To})
	if err != nil {
		r.logger.Error("Failed to encode delete frame", "error", err)
		return Result{}
	}

	res := Result{Recipient: r.emit(ctx, req.To, frame)}
	if req.From != req.To {
		r.emit(ctx, req.From, frame)
	}
	return res
}

// CallOffer call_user / video_call
func (r *Relay) CallOffer(ctx context.Context, offer *event.CallOffer) Result {
	actions := r.calls.Offer(ctx, offer.From, offer.To, offer.Offer, offer.Modality)
	res := r.dispatch(ctx, actions)[offer.To]

	if r.notifier != nil && offer.From != offer.To && delivers(actions, offer.To, offer.Modality.IncomingEvent()) {
		r.notifier.Notify(offer.To, push.IncomingCall(offer.From, offer.Modality == event.Video))
	}
	return Result{Recipient: res}
}

// CallSignal call_signal / video_signal
func (r *Relay) CallSignal(ctx context.Context, sig *event.CallSignalRequest) Result {
	actions := r.calls.Signal(ctx, sig.From, sig.To, sig.Data, sig.IsAnswer(), sig.Modality)
	return Result{Recipient: r.dispatch(ctx, actions)[sig.To]}
}

// CallEnd end_call / video_end
func (r *Relay) CallEnd(ctx context.Context, end *event.CallEnd) Result {
	actions := r.calls.End(ctx, end.From, end.To, end.Modality)
	return Result{Recipient: r.dispatch(ctx, actions)[end.To]}
}

// Offline 房间在集群内完全离线：结束其进行中的通话
func (r *Relay) Offline(ctx context.Context, user string) {
	actions := r.calls.Teardown(ctx, user)
	if len(actions) > 0 {
		r.logger.Info("Tearing down calls of offline user", "user_id", user, "sessions", len(actions))
	}
	r.dispatch(ctx, actions)
}

func (r *Relay) dispatch(ctx context.Context, actions []signaling.Action) map[string]router.Delivery {
	deliveries := make(map[string]router.Delivery, len(actions))
	for _, a := range actions {
		frame, err := event.Encode(a.Out)
		if err != nil {
			r.logger.Error("Failed to encode signaling frame", "event", a.Out.OutboundName(), "error", err)
			continue
		}
		d := r.emit(ctx, a.Room, frame)
		prev := deliveries[a.Room]
		deliveries[a.Room] = router.Delivery{Local: prev.Local + d.Local, Remote: prev.Remote + d.Remote}
	}
	return deliveries
}

func (r *Relay) emit(ctx context.Context, room string, frame []byte) router.Delivery {
	d := r.emitter.EmitToRoom(ctx, room, frame)
	r.metrics.ObserveDelivery(d)
	if d.Dropped() {
		r.logger.Debug("Room has no connections, event dropped", "room", room)
	}
	return d
}

func delivers(actions []signaling.Action, room, name string) bool {
	for _, a := range actions {
		if a.Room == room && a.Out.OutboundName() == name {
			return true
		}
	}
	return false
}
