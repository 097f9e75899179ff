package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"sudooom.im.relay/internal/workerpool"
)

var (
	ErrNotRunning     = errors.New("调度器未运行")
	ErrAlreadyRunning = errors.New("调度器已经在运行中")
	ErrInvalidTask    = errors.New("任务无效")
	ErrTaskNotFound   = errors.New("任务不存在")
)

// DefaultTick 默认刻度
const DefaultTick = time.Second

// Scheduler 任务调度器：时间轮 + 工作协程池
type Scheduler struct {
	wheel       *TimeWheel
	pool        *workerpool.Pool
	workerCount int
	tick        time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
	stop        chan struct{}
	wg          sync.WaitGroup
	logger      *slog.Logger
	running     bool
	runningMu   sync.RWMutex
}

// NewScheduler 创建任务调度器，tick 为时间轮每格的时长
func NewScheduler(workerCount int, tick time.Duration, logger *slog.Logger) *Scheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	if workerCount <= 0 {
		workerCount = 4
	}
	return &Scheduler{
		wheel:       NewTimeWheel(),
		workerCount: workerCount,
		tick:        tick,
		logger:      logger,
	}
}

// Start 启动调度器
func (s *Scheduler) Start() error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.stop = make(chan struct{})
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.pool = workerpool.New("timer", s.workerCount, s.workerCount*2, s.logger)

	s.wg.Add(1)
	go s.tickLoop(s.stop)

	s.logger.Info("Task scheduler started", "tick", s.tick, "workers", s.workerCount)
	return nil
}

func (s *Scheduler) tickLoop(stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.onTick()
		}
	}
}

func (s *Scheduler) onTick() {
	tasks := s.wheel.Tick()
	if len(tasks) == 0 {
		return
	}

	s.logger.Debug("Timer tick",
		"slot", s.wheel.GetCurrentSlot(),
		"tasks", len(tasks))

	for _, task := range tasks {
		task := task
		if !s.pool.Submit(func() { s.execute(task) }) {
			s.logger.Warn("Scheduler stopped, task dropped", "task_id", task.ID)
		}
	}
}

func (s *Scheduler) execute(task *Task) {
	if err := task.Execute(s.ctx); err != nil {
		s.logger.Error("Task failed",
			"task_id", task.ID,
			"target", task.Target,
			"error", err)
	}
}

// Stop 停止调度器，未到期的任务被丢弃
func (s *Scheduler) Stop() {
	s.runningMu.Lock()
	if !s.running {
		s.runningMu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.runningMu.Unlock()

	s.wg.Wait()
	s.cancel()
	s.pool.Shutdown()

	s.logger.Info("Task scheduler stopped")
}

// AddTask 添加任务，同 ID 的旧任务被替换
func (s *Scheduler) AddTask(task *Task) error {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()

	if !s.running {
		return ErrNotRunning
	}
	if task == nil || task.ID == "" {
		return ErrInvalidTask
	}

	s.wheel.AddTask(task)
	return nil
}

// AddAfter 按时长添加任务，向上取整到刻度，超出时间轮范围时截断到最大值
func (s *Scheduler) AddAfter(id, target string, after time.Duration, fn TaskFunc) (*Task, error) {
	delay := int((after + s.tick - 1) / s.tick)
	if delay < 1 {
		delay = 1
	}
	if delay > SlotCount {
		delay = SlotCount
	}
	task := NewTask(id, target, delay, fn)
	task.Deadline = time.Now().Add(time.Duration(delay) * s.tick)
	return task, s.AddTask(task)
}

// RemoveTask 删除任务
func (s *Scheduler) RemoveTask(taskID string) error {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()

	if !s.running {
		return ErrNotRunning
	}
	if taskID == "" {
		return ErrInvalidTask
	}
	if !s.wheel.RemoveTask(taskID) {
		return ErrTaskNotFound
	}
	return nil
}

// IsRunning 检查调度器是否运行中
func (s *Scheduler) IsRunning() bool {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()
	return s.running
}

// Pending 尚未到期的任务数
func (s *Scheduler) Pending() int {
	return s.wheel.GetTotalTaskCount()
}
