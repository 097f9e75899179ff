package connection

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quic-go/webtransport-go"
)

// WebTransport 流帧格式：4 字节长度 + 2 字节类型 + body
const (
	HeaderSize = 6

	FrameTypeEvent     uint16 = 1
	FrameTypeHeartbeat uint16 = 2
)

var ErrFrameTooLarge = errors.New("frame too large")

// WSTransport 基于 gorilla/websocket 的传输
type WSTransport struct {
	conn     *websocket.Conn
	pongWait time.Duration
	onPong   func()
}

// NewWSTransport 设置读上限与 pong 续期
func NewWSTransport(conn *websocket.Conn, maxPayload int64, pongWait time.Duration) *WSTransport {
	t := &WSTransport{conn: conn, pongWait: pongWait}
	if maxPayload > 0 {
		conn.SetReadLimit(maxPayload)
	}
	if pongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			if t.onPong != nil {
				t.onPong()
			}
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}
	return t
}

// OnPong 收到 pong 时回调（用于刷新活跃时间）
func (t *WSTransport) OnPong(fn func()) {
	t.onPong = fn
}

func (t *WSTransport) ReadFrame() ([]byte, error) {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				return nil, fmt.Errorf("%w: %v", ErrFrameTooLarge, err)
			}
			return nil, err
		}
		if t.pongWait > 0 {
			_ = t.conn.SetReadDeadline(time.Now().Add(t.pongWait))
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (t *WSTransport) WriteFrame(data []byte) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *WSTransport) Ping() error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return t.conn.WriteMessage(websocket.PingMessage, nil)
}

func (t *WSTransport) Close(reason string) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return t.conn.Close()
}

func (t *WSTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (t *WSTransport) Protocol() string {
	return "websocket"
}

// StreamTransport 基于 WebTransport 单个双向流的传输
type StreamTransport struct {
	session    *webtransport.Session
	stream     *webtransport.Stream
	maxPayload int64
	writeMu    sync.Mutex
}

func NewStreamTransport(session *webtransport.Session, stream *webtransport.Stream, maxPayload int64) *StreamTransport {
	return &StreamTransport{session: session, stream: stream, maxPayload: maxPayload}
}

// ReadFrame 读取下一个事件帧，心跳帧只刷新活跃时间不上抛
func (t *StreamTransport) ReadFrame() ([]byte, error) {
	header := make([]byte, HeaderSize)
	for {
		if _, err := io.ReadFull(t.stream, header); err != nil {
			return nil, err
		}
		length := binary.BigEndian.Uint32(header[:4])
		msgType := binary.BigEndian.Uint16(header[4:6])

		if t.maxPayload > 0 && int64(length) > t.maxPayload {
			return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
		}

		body := make([]byte, length)
		if _, err := io.ReadFull(t.stream, body); err != nil {
			return nil, err
		}

		switch msgType {
		case FrameTypeEvent:
			return body, nil
		case FrameTypeHeartbeat:
			if err := t.write(FrameTypeHeartbeat, nil); err != nil {
				return nil, err
			}
		}
	}
}

func (t *StreamTransport) WriteFrame(data []byte) error {
	return t.write(FrameTypeEvent, data)
}

func (t *StreamTransport) write(msgType uint16, body []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err := t.stream.Write(EncodeStreamFrame(msgType, body))
	return err
}

func (t *StreamTransport) Close(reason string) error {
	_ = t.stream.Close()
	return t.session.CloseWithError(0, reason)
}

func (t *StreamTransport) RemoteAddr() string {
	return t.session.RemoteAddr().String()
}

func (t *StreamTransport) Protocol() string {
	return "webtransport"
}

// EncodeStreamFrame 构造 WebTransport 流帧
func EncodeStreamFrame(msgType uint16, body []byte) []byte {
	frame := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	binary.BigEndian.PutUint16(frame[4:6], msgType)
	copy(frame[HeaderSize:], body)
	return frame
}
