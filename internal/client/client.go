// Package client 是实时通道的 Go 客户端：建立 WebSocket 连接、join、发送事件，
// 并把收到的事件交给 reconcile.Reconciler 合并进本地历史。
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"sudooom.im.relay/internal/event"
	"sudooom.im.relay/internal/reconcile"
)

const joinTimeout = 10 * time.Second

var ErrJoinRejected = errors.New("join rejected")

// Options 连接参数
type Options struct {
	URL    string
	UserID string
	Token  string
}

// Client 单个用户的实时连接
type Client struct {
	ws      *websocket.Conn
	self    string
	history *reconcile.Reconciler
	logger  *slog.Logger
	now     func() time.Time
	writeMu sync.Mutex
}

// Dial 连接并完成 join
func Dial(ctx context.Context, opts Options, history *reconcile.Reconciler, logger *slog.Logger) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.URL, err)
	}

	c := &Client{
		ws:      ws,
		self:    opts.UserID,
		history: history,
		logger:  logger.With("user_id", opts.UserID),
		now:     time.Now,
	}
	if err := c.join(opts.Token); err != nil {
		ws.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) join(token string) error {
	var payload any = c.self
	if token != "" {
		payload = &event.JoinRequest{UserID: c.self, Token: token}
	}
	if err := c.send(event.Join, payload); err != nil {
		return err
	}

	if err := c.ws.SetReadDeadline(time.Now().Add(joinTimeout)); err != nil {
		return err
	}
	defer c.ws.SetReadDeadline(time.Time{})

	for {
		out, err := c.read()
		if err != nil {
			return fmt.Errorf("wait for join ack: %w", err)
		}
		switch ack := out.(type) {
		case *event.JoinedAck:
			c.logger.Info("Joined", "room", ack.UserID)
			return nil
		case *event.JoinFailure:
			return fmt.Errorf("%w: %s", ErrJoinRejected, ack.Reason)
		}
	}
}

// SendText 发送文本消息；先以客户端时间追加本地副本，服务端回显按 id 去重
func (c *Client) SendText(ctx context.Context, to, text string) (reconcile.Entry, error) {
	entry := reconcile.Entry{
		ID:   uuid.NewString(),
		Kind: event.KindText,
		From: c.self,
		To:   to,
		Body: text,
		Time: c.now().UTC(),
	}
	if _, err := c.history.Append(ctx, entry); err != nil {
		return entry, err
	}
	err := c.send(event.SendMessage, &event.TextMessage{
		Route:   event.Route{To: to, From: c.self},
		Message: text,
		ID:      entry.ID,
	})
	return entry, err
}

// Delete 删除会话中的消息；本地立即生效，对方由中继传播
func (c *Client) Delete(ctx context.Context, to string, ids ...string) error {
	if _, err := c.history.Delete(ctx, event.PairKey(c.self, to), ids); err != nil {
		return err
	}
	return c.send(event.DeleteMessage, &event.DeleteRequest{
		Route: event.Route{To: to, From: c.self},
		IDs:   ids,
	})
}

// Run 读循环，直到连接关闭或 ctx 取消；每个事件合并后回调 onEvent
func (c *Client) Run(ctx context.Context, onEvent func(event.Outbound, reconcile.Change)) error {
	stop := context.AfterFunc(ctx, func() { c.ws.Close() })
	defer stop()

	for {
		out, err := c.read()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		change, err := c.history.Apply(ctx, out)
		if err != nil {
			c.logger.Error("Failed to apply event", "event", out.OutboundName(), "error", err)
		}
		if onEvent != nil {
			onEvent(out, change)
		}
	}
}

func (c *Client) read() (event.Outbound, error) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		f, err := event.DecodeFrame(data)
		if err != nil {
			c.logger.Warn("Malformed frame", "error", err)
			continue
		}
		out, err := event.DecodeOutbound(f)
		if err != nil {
			c.logger.Debug("Unknown event", "event", f.Event, "error", err)
			continue
		}
		return out, nil
	}
}

func (c *Client) send(name string, payload any) error {
	data, err := event.Marshal(name, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close 发送关闭帧并断开
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}
