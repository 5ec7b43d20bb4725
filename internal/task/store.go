package task

import "context"

// Store 抽象了任务记录的持久化接口。
// 存储层只负责 CRUD，不做任何业务校验；终态任务不可再被修改是
// 这里唯一强制的约束（审计记录不可篡改）。
type Store interface {
	// Create 插入一条新任务；ID 已存在时返回 ErrTaskConflict。
	Create(ctx context.Context, task *Task) error
	// Update 以新状态整体替换存量记录；记录不存在时返回 ErrTaskNotFound，
	// 存量记录已是终态时返回 ErrTaskTerminal。
	Update(ctx context.Context, task *Task) error
	// Get 返回指定任务。
	Get(ctx context.Context, id string) (*Task, error)
	// ListActive 返回状态为 pre_start 或 running 的全部任务。
	ListActive(ctx context.Context) ([]*Task, error)
	// List 返回符合过滤条件的任务列表。
	List(ctx context.Context, opts ListOptions) ([]*Task, error)
	// Stats 统计符合过滤条件的任务数量与时间范围。
	Stats(ctx context.Context, opts ListOptions) (TaskStats, error)
	Close() error
}
