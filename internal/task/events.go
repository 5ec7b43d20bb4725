package task

import (
	"context"
	"time"
)

// EventKind 表示任务生命周期事件的类型。
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventUpdated   EventKind = "updated"
	EventCompleted EventKind = "completed"
	EventErrored   EventKind = "errored"
	EventFailed    EventKind = "failed"
)

// Event 是调度器在任务状态落库后对外广播的生命周期事件。
type Event struct {
	Kind           EventKind `json:"kind"`
	TaskID         string    `json:"task_id"`
	DefinitionName string    `json:"definition_name"`
	Status         Status    `json:"status"`
	StatusMessage  string    `json:"status_message,omitempty"`
	Resources      []string  `json:"resources,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Publisher 负责将生命周期事件投递给下游消费者（仪表盘、告警）。
// 发布失败不应阻断调度循环，由调用方自行记录日志。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher 丢弃所有事件，用于未配置消息队列的部署。
type NopPublisher struct{}

// Publish 实现 Publisher 接口。
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close 实现 Publisher 接口。
func (NopPublisher) Close() error { return nil }

// NewEvent 根据落库后的任务状态构造事件。
func NewEvent(t *Task, kind EventKind) Event {
	return Event{
		Kind:           kind,
		TaskID:         t.ID,
		DefinitionName: t.DefinitionName,
		Status:         t.Status,
		StatusMessage:  t.StatusMessage,
		Resources:      append([]string(nil), t.ResourcesTaken...),
		OccurredAt:     time.Now(),
	}
}

// KindForStatus 返回任务状态对应的事件类型。
func KindForStatus(status Status) EventKind {
	switch status {
	case StatusCompleted:
		return EventCompleted
	case StatusError:
		return EventErrored
	case StatusFailed:
		return EventFailed
	case StatusPreStart:
		return EventStarted
	default:
		return EventUpdated
	}
}
