package task

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestNewTask 测试创建任务
func TestNewTask(t *testing.T) {
	var got string
	fn := func(ctx context.Context, target string) error {
		got = target
		return nil
	}

	task := NewTask("task-1", "alice_bob", 5, fn)

	if task.ID != "task-1" {
		t.Errorf("期望 ID = task-1, 实际 = %s", task.ID)
	}
	if task.Target != "alice_bob" {
		t.Errorf("期望 Target = alice_bob, 实际 = %s", task.Target)
	}
	if task.Delay != 5 {
		t.Errorf("期望 Delay = 5, 实际 = %d", task.Delay)
	}
	if err := task.Execute(context.Background()); err != nil {
		t.Fatalf("执行任务失败: %v", err)
	}
	if got != "alice_bob" {
		t.Errorf("期望回调 target = alice_bob, 实际 = %s", got)
	}
}

// TestSlot 测试槽位存取
func TestSlot(t *testing.T) {
	s := newSlot()
	s.put(NewTask("task-1", "a", 5, nil))
	s.put(NewTask("task-2", "b", 5, nil))

	if s.count() != 2 {
		t.Errorf("期望任务数 = 2, 实际 = %d", s.count())
	}
	if s.take("task-1") == nil {
		t.Error("期望取出 task-1")
	}
	if s.take("task-1") != nil {
		t.Error("期望重复取出失败")
	}

	tasks := s.drain()
	if len(tasks) != 1 {
		t.Errorf("期望获取1个任务, 实际 = %d", len(tasks))
	}
	if s.drain() != nil {
		t.Error("期望清空后为 nil")
	}
}

// TestTimeWheelTick 测试时间轮推进
func TestTimeWheelTick(t *testing.T) {
	wheel := NewTimeWheel()
	wheel.AddTask(NewTask("task-1", "a", 1, nil))
	wheel.AddTask(NewTask("task-2", "b", 3, nil))

	if wheel.GetTotalTaskCount() != 2 {
		t.Errorf("期望总任务数 = 2, 实际 = %d", wheel.GetTotalTaskCount())
	}

	tasks := wheel.Tick()
	if len(tasks) != 1 || tasks[0].ID != "task-1" {
		t.Fatalf("期望第1刻获取 task-1, 实际 = %v", tasks)
	}
	if tasks := wheel.Tick(); len(tasks) != 0 {
		t.Errorf("期望第2刻无任务, 实际 = %d", len(tasks))
	}
	if tasks := wheel.Tick(); len(tasks) != 1 {
		t.Errorf("期望第3刻获取1个任务, 实际 = %d", len(tasks))
	}
	if wheel.GetTotalTaskCount() != 0 {
		t.Errorf("期望总任务数 = 0, 实际 = %d", wheel.GetTotalTaskCount())
	}
}

// TestTimeWheelReplaceAndRemove 测试同 ID 替换与删除
func TestTimeWheelReplaceAndRemove(t *testing.T) {
	wheel := NewTimeWheel()
	wheel.AddTask(NewTask("task-1", "a", 1, nil))
	wheel.AddTask(NewTask("task-1", "a", 2, nil))

	if wheel.GetTotalTaskCount() != 1 {
		t.Errorf("期望总任务数 = 1, 实际 = %d", wheel.GetTotalTaskCount())
	}
	if tasks := wheel.Tick(); len(tasks) != 0 {
		t.Errorf("期望旧任务已被替换, 实际 = %d", len(tasks))
	}

	if !wheel.RemoveTask("task-1") {
		t.Error("期望删除成功")
	}
	if wheel.RemoveTask("task-1") {
		t.Error("期望重复删除失败")
	}
	if tasks := wheel.Tick(); len(tasks) != 0 {
		t.Errorf("期望删除后无任务, 实际 = %d", len(tasks))
	}
}

// TestTimeWheelDelayOutOfRange 测试越界延迟
func TestTimeWheelDelayOutOfRange(t *testing.T) {
	wheel := NewTimeWheel()
	task := NewTask("task-1", "a", 100, nil)
	wheel.AddTask(task)

	if task.Delay != 1 {
		t.Errorf("期望 Delay 被修正为 1, 实际 = %d", task.Delay)
	}
}

// TestSchedulerStartStop 测试调度器启动和停止
func TestSchedulerStartStop(t *testing.T) {
	scheduler := NewScheduler(2, 10*time.Millisecond, testLogger())

	if err := scheduler.AddTask(NewTask("task-1", "a", 1, nil)); !errors.Is(err, ErrNotRunning) {
		t.Errorf("期望 ErrNotRunning, 实际 = %v", err)
	}

	if err := scheduler.Start(); err != nil {
		t.Fatalf("启动调度器失败: %v", err)
	}
	if !scheduler.IsRunning() {
		t.Error("期望调度器运行中")
	}
	if err := scheduler.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("期望 ErrAlreadyRunning, 实际 = %v", err)
	}

	scheduler.Stop()
	if scheduler.IsRunning() {
		t.Error("期望调度器已停止")
	}
	scheduler.Stop()
}

// TestSchedulerExecute 测试任务到期执行
func TestSchedulerExecute(t *testing.T) {
	scheduler := NewScheduler(2, 5*time.Millisecond, testLogger())
	if err := scheduler.Start(); err != nil {
		t.Fatalf("启动调度器失败: %v", err)
	}
	defer scheduler.Stop()

	var executed atomic.Int32
	var target atomic.Value
	_, err := scheduler.AddAfter("task-1", "alice_bob", 12*time.Millisecond, func(ctx context.Context, tgt string) error {
		target.Store(tgt)
		executed.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("添加任务失败: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for executed.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if executed.Load() != 1 {
		t.Fatalf("期望执行1次, 实际 = %d", executed.Load())
	}
	if target.Load() != "alice_bob" {
		t.Errorf("期望 target = alice_bob, 实际 = %v", target.Load())
	}
}

// TestSchedulerRemove 测试删除后不执行
func TestSchedulerRemove(t *testing.T) {
	scheduler := NewScheduler(1, 5*time.Millisecond, testLogger())
	if err := scheduler.Start(); err != nil {
		t.Fatalf("启动调度器失败: %v", err)
	}
	defer scheduler.Stop()

	var executed atomic.Bool
	task, err := scheduler.AddAfter("task-1", "a", 50*time.Millisecond, func(context.Context, string) error {
		executed.Store(true)
		return nil
	})
	if err != nil {
		t.Fatalf("添加任务失败: %v", err)
	}
	if task.Delay != 10 {
		t.Errorf("期望 Delay = 10, 实际 = %d", task.Delay)
	}
	if scheduler.Pending() != 1 {
		t.Errorf("期望待执行任务数 = 1, 实际 = %d", scheduler.Pending())
	}

	if err := scheduler.RemoveTask("task-1"); err != nil {
		t.Fatalf("删除任务失败: %v", err)
	}
	if err := scheduler.RemoveTask("task-1"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("期望 ErrTaskNotFound, 实际 = %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if executed.Load() {
		t.Error("期望已删除的任务不执行")
	}
}

// TestSchedulerPanicRecovered 测试任务 panic 不影响后续任务
func TestSchedulerPanicRecovered(t *testing.T) {
	scheduler := NewScheduler(1, 5*time.Millisecond, testLogger())
	if err := scheduler.Start(); err != nil {
		t.Fatalf("启动调度器失败: %v", err)
	}
	defer scheduler.Stop()

	var ok atomic.Bool
	scheduler.AddAfter("panic", "a", 5*time.Millisecond, func(context.Context, string) error {
		panic("boom")
	})
	scheduler.AddAfter("ok", "b", 10*time.Millisecond, func(context.Context, string) error {
		ok.Store(true)
		return nil
	})

	deadline := time.Now().Add(time.Second)
	for !ok.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !ok.Load() {
		t.Error("期望 panic 之后的任务仍然执行")
	}
}
