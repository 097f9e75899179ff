package task

import (
	"context"
	"time"
)

// TaskFunc 到期回调，target 为创建任务时传入的操作对象
type TaskFunc func(ctx context.Context, target string) error

// Task 时间轮中的延迟任务，同 ID 的任务互相替换
type Task struct {
	ID       string
	Target   string
	Delay    int // 延迟刻度数 (1-SlotCount)
	Fn       TaskFunc
	Deadline time.Time
}

// NewTask 创建任务；Deadline 由调度器按刻度时长填写
func NewTask(id, target string, delay int, fn TaskFunc) *Task {
	return &Task{
		ID:     id,
		Target: target,
		Delay:  delay,
		Fn:     fn,
	}
}

// Execute 执行任务
func (t *Task) Execute(ctx context.Context) error {
	if t.Fn == nil {
		return nil
	}
	return t.Fn(ctx, t.Target)
}
