// Package workerpool 固定数量的 goroutine 消费有界队列，用于推送和延时任务这类旁路工作
package workerpool

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

type Task func()

// Stats 运行计数
type Stats struct {
	Completed uint64
	Panicked  uint64
	Rejected  uint64
	Queued    int
}

type Pool struct {
	name   string
	queue  chan Task
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	logger *slog.Logger

	completed atomic.Uint64
	panicked  atomic.Uint64
	rejected  atomic.Uint64
}

// New 立即启动 workers 个 goroutine；workers <= 0 时取 4
func New(name string, workers, queueSize int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	p := &Pool{
		name:   name,
		queue:  make(chan Task, max(queueSize, 0)),
		logger: logger.With("pool", name),
	}

	p.wg.Add(workers)
	for i := range workers {
		go p.loop(i)
	}
	p.logger.Debug("Worker pool started", "workers", workers, "queue_size", cap(p.queue))
	return p
}

func (p *Pool) loop(worker int) {
	defer p.wg.Done()
	for task := range p.queue {
		p.exec(worker, task)
	}
}

func (p *Pool) exec(worker int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.logger.Error("Task panic recovered", "worker_id", worker, "panic", r)
			return
		}
		p.completed.Add(1)
	}()
	task()
}

// Submit 队列满时阻塞；池已关闭返回 false
func (p *Pool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.rejected.Add(1)
		return false
	}
	p.queue <- task
	return true
}

// TrySubmit 队列满或池已关闭时立即返回 false
func (p *Pool) TrySubmit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.closed {
		select {
		case p.queue <- task:
			return true
		default:
		}
	}
	p.rejected.Add(1)
	return false
}

// Pending 排队未执行的任务数
func (p *Pool) Pending() int {
	return len(p.queue)
}

func (p *Pool) Stats() Stats {
	return Stats{
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
		Rejected:  p.rejected.Load(),
		Queued:    len(p.queue),
	}
}

// Shutdown 拒绝新任务并等待已入队任务执行完，可重复调用
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	st := p.Stats()
	p.logger.Info("Worker pool stopped", "completed", st.Completed, "panicked", st.Panicked, "rejected", st.Rejected)
}
