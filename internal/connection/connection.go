package connection

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

const defaultWriteBuffer = 256

var connIDCounter int64

// Transport 底层帧通道（WebSocket / WebTransport）
// WriteFrame 只会被 writeLoop 单协程调用
type Transport interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Close(reason string) error
	RemoteAddr() string
	Protocol() string
}

// Pinger 需要应用层保活的传输实现
type Pinger interface {
	Ping() error
}

// Connection 表示一个客户端连接
type Connection struct {
	id           int64
	userID       atomic.Pointer[string]
	transport    Transport
	logger       *slog.Logger
	writeChan    chan []byte
	closeChan    chan struct{}
	closeOnce    sync.Once
	createTime   time.Time
	lastActive   atomic.Int64
	pingInterval time.Duration
}

// Option 连接选项
type Option func(*Connection)

// WithPingInterval 设置保活间隔（仅对实现 Pinger 的传输生效）
func WithPingInterval(d time.Duration) Option {
	return func(c *Connection) { c.pingInterval = d }
}

// WithWriteBuffer 设置发送缓冲大小
func WithWriteBuffer(n int) Option {
	return func(c *Connection) {
		if n > 0 {
			c.writeChan = make(chan []byte, n)
		}
	}
}

// New 包装传输并启动写协程
func New(transport Transport, logger *slog.Logger, opts ...Option) *Connection {
	id := atomic.AddInt64(&connIDCounter, 1)
	c := &Connection{
		id:         id,
		transport:  transport,
		logger:     logger.With("conn_id", id, "protocol", transport.Protocol()),
		writeChan:  make(chan []byte, defaultWriteBuffer),
		closeChan:  make(chan struct{}),
		createTime: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.UpdateActive()
	go c.writeLoop()
	return c
}

func (c *Connection) ID() int64 {
	return c.id
}

// UserID 已加入的房间名，未 join 时为空
func (c *Connection) UserID() string {
	if p := c.userID.Load(); p != nil {
		return *p
	}
	return ""
}

// BindUser 绑定身份（由 Manager.Join 调用）
func (c *Connection) BindUser(userID string) {
	c.userID.Store(&userID)
}

func (c *Connection) RemoteAddr() string {
	return c.transport.RemoteAddr()
}

func (c *Connection) Protocol() string {
	return c.transport.Protocol()
}

func (c *Connection) Logger() *slog.Logger {
	return c.logger
}

// ReadFrame 读取下一帧（只能由该连接的读协程调用）
func (c *Connection) ReadFrame() ([]byte, error) {
	data, err := c.transport.ReadFrame()
	if err == nil {
		c.UpdateActive()
	}
	return data, err
}

// Send 非阻塞写入发送缓冲；缓冲满时丢弃该帧，不阻塞调用方
func (c *Connection) Send(data []byte) error {
	select {
	case <-c.closeChan:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeChan <- data:
		return nil
	case <-c.closeChan:
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

func (c *Connection) writeLoop() {
	var tick <-chan time.Time
	pinger, canPing := c.transport.(Pinger)
	if canPing && c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case data := <-c.writeChan:
			if err := c.transport.WriteFrame(data); err != nil {
				c.logger.Debug("Failed to write frame", "error", err)
				c.Close()
				return
			}
		case <-tick:
			if err := pinger.Ping(); err != nil {
				c.logger.Debug("Failed to ping", "error", err)
				c.Close()
				return
			}
		case <-c.closeChan:
			return
		}
	}
}

// Close 关闭连接（幂等）
func (c *Connection) Close() {
	c.CloseWithReason("connection closed")
}

// CloseWithReason 带原因关闭
func (c *Connection) CloseWithReason(reason string) {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		if err := c.transport.Close(reason); err != nil {
			c.logger.Debug("Transport close failed", "error", err)
		}
	})
}

// Done 连接关闭后可读
func (c *Connection) Done() <-chan struct{} {
	return c.closeChan
}

func (c *Connection) UpdateActive() {
	c.lastActive.Store(time.Now().UnixNano())
}

func (c *Connection) LastActiveTime() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

func (c *Connection) CreateTime() time.Time {
	return c.createTime
}
