package evaluation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Task is the in-process handle of one background evaluation.
type Task struct {
	ArxivID   string
	StartedAt time.Time
	Force     bool

	ctx  context.Context
	done chan struct{}
}

// Done is closed when the task finished, successfully or not.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Cancelled reports whether the task's context was cancelled before it finished.
func (t *Task) Cancelled() bool {
	return t.ctx != nil && t.ctx.Err() != nil
}

func (t *Task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// TaskInfo is the reported view of a live task.
type TaskInfo struct {
	Status    string    `json:"status"`
	Done      bool      `json:"done"`
	Cancelled bool      `json:"cancelled"`
	Force     bool      `json:"force_reevaluate"`
	StartedAt time.Time `json:"started_at"`
}

// Snapshot lists live tasks alongside the tracked total.
type Snapshot struct {
	ActiveTasks  map[string]TaskInfo `json:"active_tasks"`
	TotalActive  int                 `json:"total_active"`
	TotalTracked int                 `json:"total_tracked"`
}

// TaskManager owns the live-task set. Check and insert happen under one lock.
type TaskManager struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewTaskManager returns an empty manager.
func NewTaskManager() *TaskManager {
	return &TaskManager{tasks: make(map[string]*Task)}
}

// TryRegister inserts a task for arxivID unless a live one already exists.
// Finished entries that were not yet removed are replaced.
func (m *TaskManager) TryRegister(ctx context.Context, arxivID string, force bool, now time.Time) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.tasks[arxivID]; ok && !existing.finished() {
		return nil, false
	}
	task := &Task{
		ArxivID:   arxivID,
		StartedAt: now,
		Force:     force,
		ctx:       ctx,
		done:      make(chan struct{}),
	}
	m.tasks[arxivID] = task
	return task, true
}

// Complete removes task from the set. A newer task registered under the same
// id is left untouched.
func (m *TaskManager) Complete(task *Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.tasks[task.ArxivID]; ok && current == task {
		delete(m.tasks, task.ArxivID)
	}
}

// IsRunning reports whether a live task exists for arxivID.
func (m *TaskManager) IsRunning(arxivID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[arxivID]
	return ok && !task.finished()
}

// Snapshot reports live tasks and the number of tracked entries.
func (m *TaskManager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{
		ActiveTasks:  make(map[string]TaskInfo),
		TotalTracked: len(m.tasks),
	}
	for id, task := range m.tasks {
		if task.finished() {
			continue
		}
		snap.ActiveTasks[id] = TaskInfo{
			Status:    "running",
			Done:      false,
			Cancelled: task.Cancelled(),
			Force:     task.Force,
			StartedAt: task.StartedAt,
		}
	}
	snap.TotalActive = len(snap.ActiveTasks)
	return snap
}

// ActiveIDs returns the ids of live tasks in sorted order.
func (m *TaskManager) ActiveIDs() []string {
	snap := m.Snapshot()
	ids := make([]string, 0, len(snap.ActiveTasks))
	for id := range snap.ActiveTasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
