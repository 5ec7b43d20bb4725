package task

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "ChainFlow-Agent/internal/errors"
)

// MemoryStore 以内存方式保存任务记录，主要用于测试与单机部署。
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	if task.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	if _, ok := m.tasks[task.ID]; ok {
		return ErrTaskConflict
	}
	now := time.Now().UnixMilli()
	if task.StartedAt == 0 {
		task.StartedAt = now
	}
	if task.LastUpdatedAt < task.StartedAt {
		task.LastUpdatedAt = task.StartedAt
	}
	m.tasks[task.ID] = task.Clone()
	return nil
}

// Update 整体替换存量记录。终态记录是不可变的审计历史，拒绝覆盖。
func (m *MemoryStore) Update(_ context.Context, task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task == nil || task.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	stored, ok := m.tasks[task.ID]
	if !ok {
		return ErrTaskNotFound
	}
	if stored.Terminal() {
		return ErrTaskTerminal
	}
	m.tasks[task.ID] = task.Clone()
	return nil
}

// Get 返回任务。
func (m *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task.Clone(), nil
}

// ListActive 返回全部仍在推进中的任务。
func (m *MemoryStore) ListActive(_ context.Context) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*Task, 0)
	for _, task := range m.tasks {
		if task.Active() {
			results = append(results, task.Clone())
		}
	}
	sortTasks(results, SortByStartedAsc)
	return results, nil
}

// List 返回符合过滤条件的任务。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		if !matchesListFilters(task, opts) {
			continue
		}
		results = append(results, task.Clone())
	}

	sortTasks(results, opts.Order)

	if opts.Offset > 0 {
		if opts.Offset >= len(results) {
			return []*Task{}, nil
		}
		results = results[opts.Offset:]
	}
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的任务数量与时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (TaskStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := TaskStats{}
	for _, task := range m.tasks {
		if !matchesListFilters(task, opts) {
			continue
		}
		stats.Total++
		switch task.Status {
		case StatusPreStart:
			stats.PreStart++
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusError:
			stats.Errored++
		case StatusFailed:
			stats.Failed++
		}
		if task.StartedAt > stats.NewestStartedAt {
			stats.NewestStartedAt = task.StartedAt
		}
		if stats.OldestStartedAt == 0 || (task.StartedAt != 0 && task.StartedAt < stats.OldestStartedAt) {
			stats.OldestStartedAt = task.StartedAt
		}
	}
	if stats.Total == 0 {
		stats.OldestStartedAt = 0
		stats.NewestStartedAt = 0
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func sortTasks(tasks []*Task, order SortOrder) {
	sort.Slice(tasks, func(i, j int) bool {
		if order == SortByStartedAsc {
			if tasks[i].StartedAt == tasks[j].StartedAt {
				return tasks[i].ID < tasks[j].ID
			}
			return tasks[i].StartedAt < tasks[j].StartedAt
		}
		if tasks[i].StartedAt == tasks[j].StartedAt {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].StartedAt > tasks[j].StartedAt
	})
}

func matchesListFilters(task *Task, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if task.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.Definition != "" && task.DefinitionName != opts.Definition {
		return false
	}
	if opts.StartedGTE > 0 && task.StartedAt < opts.StartedGTE {
		return false
	}
	if opts.StartedLTE > 0 && task.StartedAt > opts.StartedLTE {
		return false
	}
	return true
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
