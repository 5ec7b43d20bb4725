package task

// TaskStats 聚合了任务状态的统计信息，常用于仪表盘或健康检查。
type TaskStats struct {
	Total           int   `json:"total"`
	PreStart        int   `json:"pre_start"`
	Running         int   `json:"running"`
	Completed       int   `json:"completed"`
	Errored         int   `json:"errored"`
	Failed          int   `json:"failed"`
	OldestStartedAt int64 `json:"oldest_started_at,omitempty"`
	NewestStartedAt int64 `json:"newest_started_at,omitempty"`
}
