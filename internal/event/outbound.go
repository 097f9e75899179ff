package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// 消息类型
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVoice Kind = "voice"
	KindFile  Kind = "file"
)

// Outbound 出站事件变体（客户端侧解析用）
type Outbound interface {
	OutboundName() string
}

// Received 投递给双方房间的消息类出站事件
type Received interface {
	Outbound
	EntryID() string
	Parties() (from, to string)
	EntryKind() Kind
	SentAt() time.Time
}

// MessageReceived receive_message
type MessageReceived struct {
	From    string    `json:"from"`
	To      string    `json:"to"`
	Message string    `json:"message"`
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
}

func (*MessageReceived) OutboundName() string { return ReceiveMessage }
func (m *MessageReceived) EntryID() string { return m.ID }
func (m *MessageReceived) Parties() (string, string) { return m.From, m.To }
func (*MessageReceived) EntryKind() Kind { return KindText }
func (m *MessageReceived) SentAt() time.Time { return m.Time }

// ImageReceived receive_image
type ImageReceived struct {
	From  string    `json:"from"`
	To    string    `json:"to"`
	Image string    `json:"image"`
	ID    string    `json:"id"`
	Time  time.Time `json:"time"`
}

func (*ImageReceived) OutboundName() string { return ReceiveImage }
func (m *ImageReceived) EntryID() string { return m.ID }
func (m *ImageReceived) Parties() (string, string) { return m.From, m.To }
func (*ImageReceived) EntryKind() Kind { return KindImage }
func (m *ImageReceived) SentAt() time.Time { return m.Time }

// VoiceReceived receive_voice
type VoiceReceived struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	AudioType string    `json:"audioType"`
	DataURL   string    `json:"dataUrl"`
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
}

func (*VoiceReceived) OutboundName() string { return ReceiveVoice }
func (m *VoiceReceived) EntryID() string { return m.ID }
func (m *VoiceReceived) Parties() (string, string) { return m.From, m.To }
func (*VoiceReceived) EntryKind() Kind { return KindVoice }
func (m *VoiceReceived) SentAt() time.Time { return m.Time }

// FileReceived receive_file
type FileReceived struct {
	From     string    `json:"from"`
	To       string    `json:"to"`
	FileName string    `json:"fileName"`
	FileType string    `json:"fileType"`
	DataURL  string    `json:"dataUrl"`
	ID       string    `json:"id"`
	Time     time.Time `json:"time"`
}

func (*FileReceived) OutboundName() string { return ReceiveFile }
func (m *FileReceived) EntryID() string { return m.ID }
func (m *FileReceived) Parties() (string, string) { return m.From, m.To }
func (*FileReceived) EntryKind() Kind { return KindFile }
func (m *FileReceived) SentAt() time.Time { return m.Time }

// Deleted delete_message（出站），From/To 为空时表示旧格式 {ids}
type Deleted struct {
	IDs  []string `json:"ids"`
	From string   `json:"from,omitempty"`
	To   string   `json:"to,omitempty"`
}

func (*Deleted) OutboundName() string { return MessageDeleted }

// Incoming incoming_call / incoming_video
type Incoming struct {
	From     string          `json:"from"`
	Offer    json.RawMessage `json:"offer"`
	Modality Modality        `json:"-"`
}

func (i *Incoming) OutboundName() string { return i.Modality.IncomingEvent() }

// Signal call_signal / video_signal（出站）
type Signal struct {
	From     string          `json:"from"`
	Data     json.RawMessage `json:"data"`
	Modality Modality        `json:"-"`
}

func (s *Signal) OutboundName() string { return s.Modality.SignalEvent() }

// 通话结束原因
const (
	ReasonHangup   = ""
	ReasonGlare    = "glare"
	ReasonTimeout  = "timeout"
	ReasonTeardown = "teardown"
)

// Ended call_ended / video_ended
type Ended struct {
	From     string   `json:"from,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Modality Modality `json:"-"`
}

func (e *Ended) OutboundName() string { return e.Modality.EndedEvent() }

// JoinedAck joined
type JoinedAck struct {
	UserID string `json:"userId"`
}

func (*JoinedAck) OutboundName() string { return Joined }

// JoinFailure join_failed
type JoinFailure struct {
	UserID string `json:"userId"`
	Code   int    `json:"code,omitempty"`
	Reason string `json:"reason"`
}

func (*JoinFailure) OutboundName() string { return JoinFailed }

// Unavailable user_unavailable
type Unavailable struct {
	UserID string `json:"userId"`
	Event  string `json:"event"`
}

func (*Unavailable) OutboundName() string { return UserUnavailable }

// Encode 编码出站事件
func Encode(out Outbound) ([]byte, error) {
	return Marshal(out.OutboundName(), out)
}

// DecodeOutbound 客户端解析出站帧
func DecodeOutbound(f Frame) (Outbound, error) {
	var out Outbound

	switch f.Event {
	case Joined:
		out = &JoinedAck{}
	case JoinFailed:
		out = &JoinFailure{}
	case ReceiveMessage:
		out = &MessageReceived{}
	case ReceiveImage:
		out = &ImageReceived{}
	case ReceiveVoice:
		out = &VoiceReceived{}
	case ReceiveFile:
		out = &FileReceived{}
	case MessageDeleted:
		out = &Deleted{}
	case IncomingCall:
		out = &Incoming{Modality: Voice}
	case IncomingVideo:
		out = &Incoming{Modality: Video}
	case CallSignalOut:
		out = &Signal{Modality: Voice}
	case VideoSignalOut:
		out = &Signal{Modality: Video}
	case CallEnded:
		out = &Ended{Modality: Voice}
	case VideoEnded:
		out = &Ended{Modality: Video}
	case UserUnavailable:
		out = &Unavailable{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, f.Event)
	}

	if isEmptyJSON(f.Data) {
		return out, nil
	}
	if err := json.Unmarshal(f.Data, out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, f.Event, err)
	}
	return out, nil
}
