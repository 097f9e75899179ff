// Package event 定义实时通道上的事件帧以及入站/出站事件的类型化变体。
//
// 帧格式为 {"event": "<name>", "data": <json>}。入站事件经 Decode 解析为
// Inbound 的某个具体类型，调度层对其做穷尽的类型分支；出站事件由各变体构造，
// 再经 Encode 写回连接。
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrMalformed    = errors.New("malformed payload")
)

// 入站事件名
const (
	Join          = "join"
	SendMessage   = "send_message"
	SendImage     = "send_image"
	SendVoice     = "send_voice"
	SendFile      = "send_file"
	DeleteMessage = "delete_message"
	CallUser      = "call_user"
	CallSignal    = "call_signal"
	EndCall       = "end_call"
	VideoCall     = "video_call"
	VideoSignal   = "video_signal"
	VideoEnd      = "video_end"
)

// 出站事件名
const (
	Joined          = "joined"
	JoinFailed      = "join_failed"
	ReceiveMessage  = "receive_message"
	ReceiveImage    = "receive_image"
	ReceiveVoice    = "receive_voice"
	ReceiveFile     = "receive_file"
	MessageDeleted  = "delete_message"
	IncomingCall    = "incoming_call"
	IncomingVideo   = "incoming_video"
	CallSignalOut   = "call_signal"
	VideoSignalOut  = "video_signal"
	CallEnded       = "call_ended"
	VideoEnded      = "video_ended"
	UserUnavailable = "user_unavailable"
)

// Frame 线上帧
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame 序列化 payload 构造帧
func NewFrame(name string, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Event: name}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s: %w", name, err)
	}
	return Frame{Event: name, Data: data}, nil
}

// Encode 帧编码为 JSON
func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// Marshal 直接把事件编码为线上字节
func Marshal(name string, payload any) ([]byte, error) {
	f, err := NewFrame(name, payload)
	if err != nil {
		return nil, err
	}
	return f.Encode()
}

// DecodeFrame 解析线上字节
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("%w: missing event name", ErrMalformed)
	}
	return f, nil
}

var pairEscaper = strings.NewReplacer(`\`, `\\`, "_", `\_`)

// PairKey 会话双方的无序键，较小的 id 在前，如 "alice_bob"
//
// id 中的 '\' 与 '_' 会被转义，不同的双方不会得到同一个键。
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return pairEscaper.Replace(a) + "_" + pairEscaper.Replace(b)
}
