package task

import (
	"encoding/json"
	stdErrors "errors"
	"time"

	xerrors "ChainFlow-Agent/internal/errors"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	// StatusPreStart 表示任务刚由动作定义创建，尚未执行第一次推进。
	StatusPreStart Status = "pre_start"
	// StatusRunning 表示任务正在逐步推进。
	StatusRunning Status = "running"
	// StatusCompleted 表示任务成功结束。
	StatusCompleted Status = "completed"
	// StatusError 表示任务因 update 抛出的异常而终止。
	StatusError Status = "error"
	// StatusFailed 保留给动作自身判定的业务失败，与异常区分。
	StatusFailed Status = "failed"
)

// Task 描述了一次动作定义的具体执行记录。
type Task struct {
	ID             string          `json:"id"`
	DefinitionName string          `json:"definition_name"`
	Status         Status          `json:"status"`
	ResourcesTaken []string        `json:"resources_taken"`
	StartedAt      int64           `json:"started_at"`
	LastUpdatedAt  int64           `json:"last_updated_at"`
	FinishedAt     int64           `json:"finished_at,omitempty"`
	StatusMessage  string          `json:"status_message,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

var (
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrTaskConflict 表示任务 ID 已存在。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "task id already exists", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrTaskTerminal 表示试图修改已处于终态的任务。
	ErrTaskTerminal = xerrors.New(CodeTaskTerminal, "task already terminal", xerrors.WithSeverity(xerrors.SeverityWarning))
)

const (
	CodeTaskNotFound     xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict     xerrors.Code = "TASK_CONFLICT"
	CodeTaskTerminal     xerrors.Code = "TASK_TERMINAL"
	CodeTaskUpdateFailed xerrors.Code = "TASK_UPDATE_FAILED"
	CodeTaskStartDecline xerrors.Code = "TASK_START_DECLINED"
	CodeTaskEventPublish xerrors.Code = "TASK_EVENT_PUBLISH_FAILED"
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:   "task not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:   "task id already exists",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskTerminal, xerrors.Attributes{
		Message:   "task already terminal",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskUpdateFailed, xerrors.Attributes{
		Message:   "task update failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeTaskStartDecline, xerrors.Attributes{
		Message:   "task start declined",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskEventPublish, xerrors.Attributes{
		Message:   "failed to publish task event",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// Active 判断任务是否仍在占用资源。
func (t *Task) Active() bool {
	return t != nil && (t.Status == StatusPreStart || t.Status == StatusRunning)
}

// Terminal 判断任务是否进入终态。终态任务不允许再被修改。
func (t *Task) Terminal() bool {
	if t == nil {
		return false
	}
	switch t.Status {
	case StatusCompleted, StatusError, StatusFailed:
		return true
	default:
		return false
	}
}

// Touch 将 LastUpdatedAt 推进到 now，保证时间戳单调不减。
func (t *Task) Touch(now time.Time) {
	ts := now.UnixMilli()
	if ts < t.LastUpdatedAt {
		ts = t.LastUpdatedAt
	}
	t.LastUpdatedAt = ts
}

// Finish 将任务置为给定终态并固化 FinishedAt。
func (t *Task) Finish(status Status, message string, now time.Time) {
	t.Status = status
	t.StatusMessage = message
	t.Touch(now)
	t.FinishedAt = t.LastUpdatedAt
}

// Clone 返回任务的深拷贝，避免存储层与调用方共享底层切片。
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	if t.ResourcesTaken != nil {
		clone.ResourcesTaken = append([]string(nil), t.ResourcesTaken...)
	}
	if t.Data != nil {
		clone.Data = append(json.RawMessage(nil), t.Data...)
	}
	return &clone
}

// DecodeData 将任务负载解码到动作自己的负载类型。
func (t *Task) DecodeData(v any) error {
	if t == nil || len(t.Data) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务负载为空")
	}
	if err := json.Unmarshal(t.Data, v); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析任务负载失败")
	}
	return nil
}

// EncodeData 序列化动作负载并写回任务。
func (t *Task) EncodeData(v any) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化任务负载失败")
	}
	t.Data = encoded
	return nil
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPreStart, StatusRunning, StatusCompleted, StatusError, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTaskError 判断错误是否为统一任务错误。
func IsTaskError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	switch target {
	case CodeTaskNotFound:
		return stdErrors.Is(err, ErrTaskNotFound)
	case CodeTaskConflict:
		return stdErrors.Is(err, ErrTaskConflict)
	case CodeTaskTerminal:
		return stdErrors.Is(err, ErrTaskTerminal)
	default:
		return false
	}
}
