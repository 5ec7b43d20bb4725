package task

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "ChainFlow-Agent/internal/errors"
	storage "ChainFlow-Agent/internal/storage/mysql"
)

// MySQLStore 使用 MySQL 持久化任务记录。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 建立连接池并应用迁移。
func NewMySQLStore(ctx context.Context, cfg storage.Config) (*MySQLStore, error) {
	db, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "应用任务表迁移失败")
	}
	return &MySQLStore{db: db}, nil
}

const taskColumns = `id, definition_name, status, resources_taken, status_message, task_data, started_at, last_updated_at, finished_at`

// Create 插入新的任务记录。
func (s *MySQLStore) Create(ctx context.Context, task *Task) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	if strings.TrimSpace(task.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}

	now := time.Now().UnixMilli()
	if task.StartedAt == 0 {
		task.StartedAt = now
	}
	if task.LastUpdatedAt < task.StartedAt {
		task.LastUpdatedAt = task.StartedAt
	}

	resources, err := json.Marshal(task.ResourcesTaken)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码资源列表失败")
	}

	const stmt = `INSERT INTO tasks
        (id, definition_name, status, resources_taken, status_message, task_data, started_at, last_updated_at, finished_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		task.ID,
		task.DefinitionName,
		task.Status,
		string(resources),
		task.StatusMessage,
		string(task.Data),
		task.StartedAt,
		task.LastUpdatedAt,
		task.FinishedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrTaskConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	return nil
}

// Update 整体替换存量记录。已终态的记录不会被覆盖。
func (s *MySQLStore) Update(ctx context.Context, task *Task) error {
	if task == nil || strings.TrimSpace(task.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}

	resources, err := json.Marshal(task.ResourcesTaken)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码资源列表失败")
	}

	const stmt = `UPDATE tasks SET definition_name = ?, status = ?, resources_taken = ?, status_message = ?,
        task_data = ?, started_at = ?, last_updated_at = ?, finished_at = ?
        WHERE id = ? AND status NOT IN (?, ?, ?)`

	res, err := s.db.ExecContext(ctx, stmt,
		task.DefinitionName,
		task.Status,
		string(resources),
		task.StatusMessage,
		string(task.Data),
		task.StartedAt,
		task.LastUpdatedAt,
		task.FinishedAt,
		task.ID,
		StatusCompleted,
		StatusError,
		StatusFailed,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		// 区分记录缺失与终态保护。
		existing, getErr := s.Get(ctx, task.ID)
		if getErr != nil {
			return getErr
		}
		if existing.Terminal() {
			return ErrTaskTerminal
		}
		return ErrTaskNotFound
	}
	return nil
}

// Get 查询指定任务。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Task, error) {
	stmt := fmt.Sprintf(`SELECT %s FROM tasks WHERE id = ?`, taskColumns)
	row := s.db.QueryRowContext(ctx, stmt, id)
	task, err := scanTask(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return task, nil
}

// ListActive 返回全部仍在推进中的任务，按启动时间升序。
func (s *MySQLStore) ListActive(ctx context.Context) ([]*Task, error) {
	stmt := fmt.Sprintf(`SELECT %s FROM tasks WHERE status IN (?, ?) ORDER BY started_at ASC, id ASC`, taskColumns)
	rows, err := s.db.QueryContext(ctx, stmt, StatusPreStart, StatusRunning)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询活跃任务失败")
	}
	defer rows.Close()
	return collectTasks(rows)
}

// List 返回符合过滤条件的任务。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Task, error) {
	opts.applyDefaults()

	var conditions []string
	var args []any
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}
	if opts.Definition != "" {
		conditions = append(conditions, "definition_name = ?")
		args = append(args, opts.Definition)
	}
	if opts.StartedGTE > 0 {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, opts.StartedGTE)
	}
	if opts.StartedLTE > 0 {
		conditions = append(conditions, "started_at <= ?")
		args = append(args, opts.StartedLTE)
	}

	stmt := fmt.Sprintf(`SELECT %s FROM tasks`, taskColumns)
	if len(conditions) > 0 {
		stmt += " WHERE " + strings.Join(conditions, " AND ")
	}
	if opts.Order == SortByStartedAsc {
		stmt += " ORDER BY started_at ASC, id ASC"
	} else {
		stmt += " ORDER BY started_at DESC, id ASC"
	}
	stmt += " LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()
	return collectTasks(rows)
}

// Stats 统计符合过滤条件的任务数量与时间范围。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (TaskStats, error) {
	opts.applyDefaults()

	var conditions []string
	var args []any
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}
	if opts.Definition != "" {
		conditions = append(conditions, "definition_name = ?")
		args = append(args, opts.Definition)
	}
	if opts.StartedGTE > 0 {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, opts.StartedGTE)
	}
	if opts.StartedLTE > 0 {
		conditions = append(conditions, "started_at <= ?")
		args = append(args, opts.StartedLTE)
	}

	stmt := `SELECT status, COUNT(*), MIN(started_at), MAX(started_at) FROM tasks`
	if len(conditions) > 0 {
		stmt += " WHERE " + strings.Join(conditions, " AND ")
	}
	stmt += " GROUP BY status"

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return TaskStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计任务失败")
	}
	defer rows.Close()

	stats := TaskStats{}
	for rows.Next() {
		var status Status
		var count int
		var oldest, newest int64
		if err := rows.Scan(&status, &count, &oldest, &newest); err != nil {
			return TaskStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务统计失败")
		}
		stats.Total += count
		switch status {
		case StatusPreStart:
			stats.PreStart += count
		case StatusRunning:
			stats.Running += count
		case StatusCompleted:
			stats.Completed += count
		case StatusError:
			stats.Errored += count
		case StatusFailed:
			stats.Failed += count
		}
		if stats.OldestStartedAt == 0 || (oldest != 0 && oldest < stats.OldestStartedAt) {
			stats.OldestStartedAt = oldest
		}
		if newest > stats.NewestStartedAt {
			stats.NewestStartedAt = newest
		}
	}
	if err := rows.Err(); err != nil {
		return TaskStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务统计失败")
	}
	if stats.Total == 0 {
		stats.OldestStartedAt = 0
		stats.NewestStartedAt = 0
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var task Task
	var resources sql.NullString
	var message sql.NullString
	var data sql.NullString

	if err := row.Scan(
		&task.ID,
		&task.DefinitionName,
		&task.Status,
		&resources,
		&message,
		&data,
		&task.StartedAt,
		&task.LastUpdatedAt,
		&task.FinishedAt,
	); err != nil {
		return nil, err
	}

	if resources.Valid && resources.String != "" {
		if err := json.Unmarshal([]byte(resources.String), &task.ResourcesTaken); err != nil {
			return nil, fmt.Errorf("解析资源列表失败: %w", err)
		}
	}
	task.StatusMessage = message.String
	if data.Valid && data.String != "" {
		task.Data = json.RawMessage(data.String)
	}
	return &task, nil
}

func collectTasks(rows *sql.Rows) ([]*Task, error) {
	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务记录失败")
	}
	return tasks, nil
}

var _ Store = (*MySQLStore)(nil)
