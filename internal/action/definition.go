package action

import (
	"context"

	"ChainFlow-Agent/internal/task"
)

// Definition 描述一个可被调度器编排的动作。实现必须保证
// LockResources 与 ShouldStart 为纯决策逻辑，不做任何 I/O；
// 只有 Start 与 Update 允许挂起在链上调用或存储上。
type Definition interface {
	// Name 返回动作定义的唯一名称，也是任务记录上的 definition_name。
	Name() string
	// LockResources 返回动作活跃期间需要独占的资源锁集合。
	LockResources() []string
	// ShouldStart 查询评分与当前全部活跃任务，判断此刻是否值得启动。
	ShouldStart(active []*task.Task) bool
	// Start 尝试创建新任务。动作也可以拒绝启动，此时返回
	// 空任务与一条说明原因的消息。force 为真时跳过 ShouldStart
	// 级别的业务闸门（资源锁检查仍由调度器负责）。
	Start(ctx context.Context, active []*task.Task, force bool) (*task.Task, string, error)
	// Update 把任务向前推进一步并返回其下一个状态。
	// 首次 Update 必须完成 pre_start 到 running 的迁移。
	Update(ctx context.Context, t *task.Task) (*task.Task, error)
	// Stop 是面向外部中断的尽力而为钩子，调度循环本身不会调用。
	Stop(ctx context.Context) error
}

// LockResource 按照 "<子系统>:<链ID>:<资产类别>" 约定拼接资源锁。
func LockResource(subsystem, chainID, assetClass string) string {
	return subsystem + ":" + chainID + ":" + assetClass
}

// hasActiveTask 判断给定定义是否已有活跃任务。
func hasActiveTask(active []*task.Task, definition string) bool {
	for _, t := range active {
		if t.DefinitionName == definition && t.Active() {
			return true
		}
	}
	return false
}
