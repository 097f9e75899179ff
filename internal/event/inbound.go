package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Modality 通话模态，语音与视频各有一套独立的状态机
type Modality string

const (
	Voice Modality = "voice"
	Video Modality = "video"
)

// OfferEvent 入站 offer 事件名
func (m Modality) OfferEvent() string {
	if m == Video {
		return VideoCall
	}
	return CallUser
}

// IncomingEvent 出站 offer 事件名
func (m Modality) IncomingEvent() string {
	if m == Video {
		return IncomingVideo
	}
	return IncomingCall
}

// SignalEvent 信令事件名（入站与出站同名）
func (m Modality) SignalEvent() string {
	if m == Video {
		return VideoSignalOut
	}
	return CallSignalOut
}

// EndedEvent 出站结束事件名
func (m Modality) EndedEvent() string {
	if m == Video {
		return VideoEnded
	}
	return CallEnded
}

// Inbound 入站事件变体
type Inbound interface {
	EventName() string
	validate() error
}

// Routed 带收发双方的入站事件
type Routed interface {
	Inbound
	Addressing() *Route
}

// Route 收发双方
type Route struct {
	To   string `json:"to"`
	From string `json:"from"`
}

// Addressing 返回自身，便于调度层统一改写 From
func (r *Route) Addressing() *Route { return r }

func (r *Route) validate() error {
	if strings.TrimSpace(r.To) == "" {
		return fmt.Errorf("%w: missing to", ErrMalformed)
	}
	return nil
}

// JoinRequest join 事件；payload 可以是裸字符串或对象
type JoinRequest struct {
	UserID string `json:"userId"`
	Token  string `json:"token,omitempty"`
}

func (*JoinRequest) EventName() string { return Join }

func (j *JoinRequest) validate() error {
	if strings.TrimSpace(j.UserID) == "" {
		return fmt.Errorf("%w: missing userId", ErrMalformed)
	}
	return nil
}

// Message 可中继的消息类入站事件（文本、图片、语音、文件）
type Message interface {
	Routed
	ClientID() string
	// Receive 构造投递给双方房间的出站事件
	Receive(id string, at time.Time) (string, any)
}

// TextMessage send_message
type TextMessage struct {
	Route
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

func (*TextMessage) EventName() string { return SendMessage }
func (m *TextMessage) ClientID() string { return m.ID }

func (m *TextMessage) validate() error {
	if err := m.Route.validate(); err != nil {
		return err
	}
	if m.Message == "" {
		return fmt.Errorf("%w: missing message", ErrMalformed)
	}
	return nil
}

func (m *TextMessage) Receive(id string, at time.Time) (string, any) {
	return ReceiveMessage, &MessageReceived{
		From: m.From, To: m.To, Message: m.Message, ID: id, Time: at,
	}
}

// ImageMessage send_image
type ImageMessage struct {
	Route
	Image string `json:"image"`
	ID    string `json:"id,omitempty"`
}

func (*ImageMessage) EventName() string { return SendImage }
func (m *ImageMessage) ClientID() string { return m.ID }

func (m *ImageMessage) validate() error {
	if err := m.Route.validate(); err != nil {
		return err
	}
	if m.Image == "" {
		return fmt.Errorf("%w: missing image", ErrMalformed)
	}
	return nil
}

func (m *ImageMessage) Receive(id string, at time.Time) (string, any) {
	return ReceiveImage, &ImageReceived{
		From: m.From, To: m.To, Image: m.Image, ID: id, Time: at,
	}
}

// VoiceMessage send_voice
type VoiceMessage struct {
	Route
	AudioType string `json:"audioType"`
	DataURL   string `json:"dataUrl"`
	ID        string `json:"id,omitempty"`
}

func (*VoiceMessage) EventName() string { return SendVoice }
func (m *VoiceMessage) ClientID() string { return m.ID }

func (m *VoiceMessage) validate() error {
	if err := m.Route.validate(); err != nil {
		return err
	}
	if m.DataURL == "" {
		return fmt.Errorf("%w: missing dataUrl", ErrMalformed)
	}
	return nil
}

func (m *VoiceMessage) Receive(id string, at time.Time) (string, any) {
	return ReceiveVoice, &VoiceReceived{
		From: m.From, To: m.To, AudioType: m.AudioType, DataURL: m.DataURL, ID: id, Time: at,
	}
}

// FileMessage send_file
type FileMessage struct {
	Route
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	DataURL  string `json:"dataUrl"`
	ID       string `json:"id,omitempty"`
}

func (*FileMessage) EventName() string { return SendFile }
func (m *FileMessage) ClientID() string { return m.ID }

func (m *FileMessage) validate() error {
	if err := m.Route.validate(); err != nil {
		return err
	}
	if m.DataURL == "" {
		return fmt.Errorf("%w: missing dataUrl", ErrMalformed)
	}
	return nil
}

func (m *FileMessage) Receive(id string, at time.Time) (string, any) {
	return ReceiveFile, &FileReceived{
		From: m.From, To: m.To, FileName: m.FileName, FileType: m.FileType, DataURL: m.DataURL, ID: id, Time: at,
	}
}

// DeleteRequest delete_message
type DeleteRequest struct {
	Route
	IDs []string `json:"ids"`
}

func (*DeleteRequest) EventName() string { return DeleteMessage }

func (d *DeleteRequest) validate() error {
	if err := d.Route.validate(); err != nil {
		return err
	}
	if len(d.IDs) == 0 {
		return fmt.Errorf("%w: empty ids", ErrMalformed)
	}
	for _, id := range d.IDs {
		if id == "" {
			return fmt.Errorf("%w: empty id in ids", ErrMalformed)
		}
	}
	return nil
}

// CallOffer call_user / video_call
type CallOffer struct {
	Route
	Offer    json.RawMessage `json:"offer"`
	Modality Modality        `json:"-"`
}

func (c *CallOffer) EventName() string { return c.Modality.OfferEvent() }

func (c *CallOffer) validate() error {
	if err := c.Route.validate(); err != nil {
		return err
	}
	if isEmptyJSON(c.Offer) {
		return fmt.Errorf("%w: missing offer", ErrMalformed)
	}
	return nil
}

// CallSignalRequest call_signal / video_signal
type CallSignalRequest struct {
	Route
	Data     json.RawMessage `json:"data"`
	Modality Modality        `json:"-"`
}

func (c *CallSignalRequest) EventName() string { return c.Modality.SignalEvent() }

func (c *CallSignalRequest) validate() error {
	if err := c.Route.validate(); err != nil {
		return err
	}
	if isEmptyJSON(c.Data) {
		return fmt.Errorf("%w: missing data", ErrMalformed)
	}
	return nil
}

// IsAnswer data 中是否携带 answer
func (c *CallSignalRequest) IsAnswer() bool {
	var peek struct {
		Answer json.RawMessage `json:"answer"`
	}
	if err := json.Unmarshal(c.Data, &peek); err != nil {
		return false
	}
	return !isEmptyJSON(peek.Answer)
}

// CallEnd end_call / video_end
type CallEnd struct {
	Route
	Modality Modality `json:"-"`
}

func (c *CallEnd) EventName() string {
	if c.Modality == Video {
		return VideoEnd
	}
	return EndCall
}

func (c *CallEnd) validate() error { return c.Route.validate() }

// Decode 把帧解析为具体的入站变体并校验必填字段
func Decode(f Frame) (Inbound, error) {
	var in Inbound

	switch f.Event {
	case Join:
		return decodeJoin(f.Data)
	case SendMessage:
		in = &TextMessage{}
	case SendImage:
		in = &ImageMessage{}
	case SendVoice:
		in = &VoiceMessage{}
	case SendFile:
		in = &FileMessage{}
	case DeleteMessage:
		in = &DeleteRequest{}
	case CallUser:
		in = &CallOffer{Modality: Voice}
	case VideoCall:
		in = &CallOffer{Modality: Video}
	case CallSignal:
		in = &CallSignalRequest{Modality: Voice}
	case VideoSignal:
		in = &CallSignalRequest{Modality: Video}
	case EndCall:
		in = &CallEnd{Modality: Voice}
	case VideoEnd:
		in = &CallEnd{Modality: Video}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, f.Event)
	}

	if isEmptyJSON(f.Data) {
		return nil, fmt.Errorf("%w: %s without data", ErrMalformed, f.Event)
	}
	if err := json.Unmarshal(f.Data, in); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, f.Event, err)
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	return in, nil
}

func decodeJoin(data json.RawMessage) (Inbound, error) {
	j := &JoinRequest{}
	trimmed := bytes.TrimSpace(data)

	switch {
	case len(trimmed) > 0 && trimmed[0] == '"':
		if err := json.Unmarshal(trimmed, &j.UserID); err != nil {
			return nil, fmt.Errorf("%w: join: %v", ErrMalformed, err)
		}
	case len(trimmed) > 0 && trimmed[0] == '{':
		if err := json.Unmarshal(trimmed, j); err != nil {
			return nil, fmt.Errorf("%w: join: %v", ErrMalformed, err)
		}
	default:
		return nil, fmt.Errorf("%w: join payload must be a string or object", ErrMalformed)
	}

	j.UserID = strings.TrimSpace(j.UserID)
	if err := j.validate(); err != nil {
		return nil, err
	}
	return j, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
