package task

import (
	"sync"
)

const (
	// SlotCount 时间轮槽位数量
	SlotCount = 60
)

// TimeWheel 单层时间轮，每次 Tick 推进一个槽位
// 同一 ID 的任务只保留最新一次添加
type TimeWheel struct {
	mu          sync.Mutex
	slots       [SlotCount]*slot
	currentSlot int
	index       map[string]int // taskID -> 槽位
}

// NewTimeWheel 创建时间轮
func NewTimeWheel() *TimeWheel {
	tw := &TimeWheel{index: make(map[string]int)}
	for i := 0; i < SlotCount; i++ {
		tw.slots[i] = newSlot()
	}
	return tw
}

// AddTask 添加任务到时间轮；Delay 越界时按 1 处理
func (tw *TimeWheel) AddTask(task *Task) {
	if task.Delay < 1 || task.Delay > SlotCount {
		task.Delay = 1
	}

	tw.mu.Lock()
	defer tw.mu.Unlock()

	if old, ok := tw.index[task.ID]; ok {
		tw.slots[old].take(task.ID)
	}
	target := (tw.currentSlot + task.Delay) % SlotCount
	tw.slots[target].put(task)
	tw.index[task.ID] = target
}

// RemoveTask 从时间轮删除任务
func (tw *TimeWheel) RemoveTask(taskID string) bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	idx, ok := tw.index[taskID]
	if !ok {
		return false
	}
	delete(tw.index, taskID)
	return tw.slots[idx].take(taskID) != nil
}

// Tick 推进时间轮，返回到期任务
func (tw *TimeWheel) Tick() []*Task {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	tw.currentSlot = (tw.currentSlot + 1) % SlotCount
	tasks := tw.slots[tw.currentSlot].drain()
	for _, task := range tasks {
		delete(tw.index, task.ID)
	}
	return tasks
}

// GetCurrentSlot 获取当前槽位索引
func (tw *TimeWheel) GetCurrentSlot() int {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.currentSlot
}

// GetSlotTaskCount 获取指定槽位的任务数量
func (tw *TimeWheel) GetSlotTaskCount(slot int) int {
	if slot < 0 || slot >= SlotCount {
		return 0
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.slots[slot].count()
}

// GetTotalTaskCount 获取所有槽位的任务总数
func (tw *TimeWheel) GetTotalTaskCount() int {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return len(tw.index)
}
