// Package reconcile 维护客户端本地的会话历史：按到达顺序追加、按 id 去重，
// 并用只增不减的墓碑集合处理删除，使迟到的消息也不会复活。
package reconcile

import (
	"time"

	"sudooom.im.relay/internal/event"
)

// Entry 会话中的一条消息
type Entry struct {
	ID   string     `json:"id"`
	Kind event.Kind `json:"kind"`
	From string     `json:"from"`
	To   string     `json:"to"`
	// Body 文本内容，或图片 / 语音 / 文件的 data URL
	Body string `json:"body"`
	// Name 文件名（仅 file）
	Name string `json:"name,omitempty"`
	// MIME 语音或文件的类型
	MIME string    `json:"mime,omitempty"`
	Time time.Time `json:"time"`
}

// EntryFrom 把消息类出站事件转换为历史条目
func EntryFrom(r event.Received) Entry {
	from, to := r.Parties()
	e := Entry{
		ID:   r.EntryID(),
		Kind: r.EntryKind(),
		From: from,
		To:   to,
		Time: r.SentAt(),
	}
	switch m := r.(type) {
	case *event.MessageReceived:
		e.Body = m.Message
	case *event.ImageReceived:
		e.Body = m.Image
	case *event.VoiceReceived:
		e.Body = m.DataURL
		e.MIME = m.AudioType
	case *event.FileReceived:
		e.Body = m.DataURL
		e.Name = m.FileName
		e.MIME = m.FileType
	}
	return e
}

// Pair 条目所属会话的键
func (e Entry) Pair() string {
	return event.PairKey(e.From, e.To)
}

// History 单个会话的历史，非并发安全，由 Reconciler 加锁
type History struct {
	pair       string
	entries    []Entry
	ids        map[string]struct{}
	tombstones map[string]struct{}
}

func NewHistory(pair string) *History {
	return &History{
		pair:       pair,
		ids:        make(map[string]struct{}),
		tombstones: make(map[string]struct{}),
	}
}

// restore 从持久化状态重建，entries 已按到达顺序排列
func restore(pair string, entries []Entry, tombstones []string) *History {
	h := NewHistory(pair)
	for _, id := range tombstones {
		h.tombstones[id] = struct{}{}
	}
	for _, e := range entries {
		h.Append(e)
	}
	return h
}

func (h *History) Pair() string {
	return h.pair
}

// Append 追加到末尾；id 已存在或已被删除时忽略并返回 false
func (h *History) Append(e Entry) bool {
	if _, dup := h.ids[e.ID]; dup {
		return false
	}
	if _, dead := h.tombstones[e.ID]; dead {
		return false
	}
	h.ids[e.ID] = struct{}{}
	h.entries = append(h.entries, e)
	return true
}

// ApplyTombstones 删除匹配的条目并记录墓碑（包括尚未见过的 id），返回实际移除的 id
func (h *History) ApplyTombstones(ids []string) []string {
	var removed []string
	for _, id := range ids {
		h.tombstones[id] = struct{}{}
		if _, ok := h.ids[id]; ok {
			delete(h.ids, id)
			removed = append(removed, id)
		}
	}
	if len(removed) == 0 {
		return nil
	}

	kept := h.entries[:0]
	for _, e := range h.entries {
		if _, dead := h.tombstones[e.ID]; !dead {
			kept = append(kept, e)
		}
	}
	clear(h.entries[len(kept):])
	h.entries = kept
	return removed
}

// Render 按到达顺序返回可见条目（不按 time 排序）
func (h *History) Render() []Entry {
	out := make([]Entry, 0, len(h.entries))
	for _, e := range h.entries {
		if _, dead := h.tombstones[e.ID]; !dead {
			out = append(out, e)
		}
	}
	return out
}

// Tombstoned id 是否已被删除
func (h *History) Tombstoned(id string) bool {
	_, ok := h.tombstones[id]
	return ok
}

// Tombstones 墓碑数量
func (h *History) Tombstones() int {
	return len(h.tombstones)
}

func (h *History) Len() int {
	return len(h.entries)
}
