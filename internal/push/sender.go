// Package push 以 Web Push (VAPID) 发送新消息与来电通知，失败只记录日志。
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"sudooom.im.relay/internal/config"
	"sudooom.im.relay/internal/workerpool"
)

const sendTimeout = 10 * time.Second

// Notification 推送内容
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// NewMessage 新消息通知
func NewMessage(from, message string) Notification {
	return Notification{
		Title: "New message",
		Body:  fmt.Sprintf("%s: %s", from, message),
		URL:   chatURL(from),
	}
}

// IncomingCall 来电通知
func IncomingCall(from string, video bool) Notification {
	if video {
		return Notification{
			Title: "Incoming video call",
			Body:  fmt.Sprintf("%s is video calling…", from),
			URL:   chatURL(from),
		}
	}
	return Notification{
		Title: "Incoming call",
		Body:  fmt.Sprintf("%s is calling…", from),
		URL:   chatURL(from),
	}
}

func chatURL(from string) string {
	return "/chat.html?userId=" + from
}

// SendFunc 发送一条推送
type SendFunc func(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)

// Sender 异步推送发送器
type Sender struct {
	subs    Subscriptions
	pool    *workerpool.Pool
	options webpush.Options
	send    SendFunc
	logger  *slog.Logger
}

func NewSender(cfg config.PushConfig, subs Subscriptions, pool *workerpool.Pool, logger *slog.Logger) *Sender {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 60
	}
	return &Sender{
		subs: subs,
		pool: pool,
		options: webpush.Options{
			Subscriber:      cfg.Subscriber,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			TTL:             ttl,
		},
		send:   webpush.SendNotificationWithContext,
		logger: logger,
	}
}

// WithSendFunc 替换发送实现（测试用）
func (s *Sender) WithSendFunc(fn SendFunc) *Sender {
	s.send = fn
	return s
}

// Notify 投递到工作池，队列满时直接丢弃
func (s *Sender) Notify(userID string, n Notification) {
	ok := s.pool.TrySubmit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := s.Send(ctx, userID, n); err != nil {
			s.logger.Warn("Push notification failed", "user_id", userID, "error", err)
		}
	})
	if !ok {
		s.logger.Warn("Push queue full, notification dropped", "user_id", userID)
	}
}

// Send 同步发送；用户没有订阅时什么都不做
func (s *Sender) Send(ctx context.Context, userID string, n Notification) error {
	sub, err := s.subs.Get(ctx, userID)
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	opts := s.options
	resp, err := s.send(ctx, payload, sub, &opts)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		// 订阅已失效
		s.logger.Info("Push subscription expired", "user_id", userID, "status", resp.StatusCode)
		return s.subs.Delete(ctx, userID)
	case resp.StatusCode >= 400:
		return fmt.Errorf("push service responded %d", resp.StatusCode)
	}
	return nil
}
