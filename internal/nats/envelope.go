package nats

import (
	"encoding/json"
)

// 下行消息类型
const (
	EnvelopeEmit  = "emit"  // 投递帧到房间
	EnvelopeEvict = "evict" // 关闭房间内所有连接
)

// Envelope 节点间传递的下行消息
type Envelope struct {
	Type   string          `json:"type"`
	Room   string          `json:"room"`
	Frame  json.RawMessage `json:"frame,omitempty"`
	Reason string          `json:"reason,omitempty"`
	Origin string          `json:"origin,omitempty"`
}

// EncodeEvict 构造踢出房间的广播消息（web 服务登出 / 注销时使用）
func EncodeEvict(room, reason string) ([]byte, error) {
	return json.Marshal(Envelope{Type: EnvelopeEvict, Room: room, Reason: reason})
}

// Evictor 通过广播让所有中继节点关闭某个房间的连接
type Evictor struct {
	client *Client
}

func NewEvictor(client *Client) *Evictor {
	return &Evictor{client: client}
}

// Evict 广播踢出房间
func (e *Evictor) Evict(room, reason string) error {
	data, err := EncodeEvict(room, reason)
	if err != nil {
		return err
	}
	return e.client.Publish(SubjectRelayBroadcast, data)
}
