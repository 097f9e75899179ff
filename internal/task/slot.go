package task

// slot 时间轮槽位，由 TimeWheel 的锁保护
type slot struct {
	tasks map[string]*Task // key: taskID
}

func newSlot() *slot {
	return &slot{tasks: make(map[string]*Task)}
}

func (s *slot) put(task *Task) {
	s.tasks[task.ID] = task
}

// take 取出并删除任务，不存在时返回 nil
func (s *slot) take(taskID string) *Task {
	task, ok := s.tasks[taskID]
	if !ok {
		return nil
	}
	delete(s.tasks, taskID)
	return task
}

// drain 取出所有任务并清空槽位
func (s *slot) drain() []*Task {
	if len(s.tasks) == 0 {
		return nil
	}

	tasks := make([]*Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	s.tasks = make(map[string]*Task)
	return tasks
}

func (s *slot) count() int {
	return len(s.tasks)
}
