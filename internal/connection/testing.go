package connection

import (
	"io"
	"sync"
)

// Recorder 记录写入帧的内存传输，供其他包的测试使用
type Recorder struct {
	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	reason  string
	inbound chan []byte
	done    chan struct{}
	once    sync.Once
}

func NewRecorder() *Recorder {
	return &Recorder{
		inbound: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

// Feed 模拟客户端发来的帧
func (r *Recorder) Feed(data []byte) {
	r.inbound <- data
}

func (r *Recorder) ReadFrame() ([]byte, error) {
	select {
	case data := <-r.inbound:
		return data, nil
	case <-r.done:
		return nil, io.EOF
	}
}

func (r *Recorder) WriteFrame(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, data)
	return nil
}

func (r *Recorder) Close(reason string) error {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.reason = reason
		r.mu.Unlock()
		close(r.done)
	})
	return nil
}

func (r *Recorder) RemoteAddr() string { return "recorder" }
func (r *Recorder) Protocol() string   { return "recorder" }

// Frames 已写入的帧快照
func (r *Recorder) Frames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.frames...)
}

// Closed 是否已关闭及关闭原因
func (r *Recorder) Closed() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed, r.reason
}
