package runner

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"ChainFlow-Agent/internal/action"
	xerrors "ChainFlow-Agent/internal/errors"
	"ChainFlow-Agent/internal/observability/alerting"
	"ChainFlow-Agent/internal/observability/metrics"
	"ChainFlow-Agent/internal/task"
	"ChainFlow-Agent/pkg/logger"
)

// defaultTickInterval 是外部定时器缺省的触发周期。
const defaultTickInterval = 30 * time.Second

// Runner 是动作编排的核心调度器。每个 tick 依次完成三件事：
// 推进所有活跃任务、重算空闲资源、启动新近可行的动作。
// 资源锁是唯一的互斥机制：两个任务可以同时活跃，当且仅当它们的
// 资源锁集合不相交。
//
// 调度是单线程协作式的：Run 串行执行 tick，上一个 tick 未结束时
// 绝不会开始下一个，重入会破坏资源锁不变式。
type Runner struct {
	store       task.Store
	definitions []action.Definition

	log           *slog.Logger
	audit         *slog.Logger
	publisher     task.Publisher
	alerts        alerting.Dispatcher
	interval      time.Duration
	updateTimeout time.Duration
	now           func() time.Time
}

// Option 定义可选的 Runner 配置。
type Option func(*Runner)

// WithInterval 设置 tick 周期。
func WithInterval(interval time.Duration) Option {
	return func(r *Runner) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

// WithUpdateTimeout 为每次 Update 调用设置上限，防止单个挂起的
// 任务拖住整个 tick。为零表示不限制。
func WithUpdateTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		if timeout > 0 {
			r.updateTimeout = timeout
		}
	}
}

// WithPublisher 配置任务生命周期事件的下游投递。
func WithPublisher(publisher task.Publisher) Option {
	return func(r *Runner) {
		if publisher != nil {
			r.publisher = publisher
		}
	}
}

// WithAlertDispatcher 配置告警分发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) Option {
	return func(r *Runner) {
		r.alerts = dispatcher
	}
}

// WithClock 替换时间源，仅测试使用。
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// New 创建调度器。definitions 的传入顺序即为每个 tick 内
// 更新与启动评估的固定顺序。
func New(store task.Store, definitions []action.Definition, opts ...Option) (*Runner, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置任务存储")
	}
	if len(definitions) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置任何动作定义")
	}
	seen := make(map[string]struct{}, len(definitions))
	for _, def := range definitions {
		if def == nil {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "动作定义不能为空")
		}
		if _, ok := seen[def.Name()]; ok {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "动作定义名称重复: "+def.Name())
		}
		seen[def.Name()] = struct{}{}
	}

	r := &Runner{
		store:       store,
		definitions: definitions,
		log:         logger.Named("runner"),
		audit:       logger.Audit(),
		publisher:   task.NopPublisher{},
		interval:    defaultTickInterval,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Run 以固定周期串行执行调度 tick，直到上下文被取消。
// 退出前依次调用所有动作定义的 Stop 钩子。
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("调度器启动",
		slog.Duration("interval", r.interval),
		slog.Int("definitions", len(r.definitions)),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// 启动后立即执行一轮，不等首个周期。
	if err := r.RunActionLoop(ctx); err != nil {
		r.log.Error("调度 tick 失败", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return ctx.Err()
		case <-ticker.C:
			if err := r.RunActionLoop(ctx); err != nil {
				r.log.Error("调度 tick 失败", slog.Any("error", err))
			}
		}
	}
}

func (r *Runner) shutdown() {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, def := range r.definitions {
		if err := def.Stop(stopCtx); err != nil {
			r.log.Warn("动作停止钩子失败",
				slog.String("definition", def.Name()),
				slog.Any("error", err),
			)
		}
	}
	r.log.Info("调度器退出")
}

// RunActionLoop 执行一个完整的调度 tick。只有任务存储不可读时
// 才返回错误；单个任务的更新失败被就地记录，绝不波及同一 tick
// 内的其他任务。
func (r *Runner) RunActionLoop(ctx context.Context) error {
	tickStart := r.now()

	active, err := r.store.ListActive(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "加载活跃任务失败")
	}

	// 更新阶段：按定义顺序、再按任务启动时间推进所有活跃任务。
	survivors := r.updatePhase(ctx, active)

	// 资源重算严格发生在全部更新之后：本 tick 刚结束的任务已经
	// 释放资源，其定义在同一 tick 的启动阶段即可再次满足条件。
	held := heldResources(survivors)

	r.startPhase(ctx, survivors, held)

	metrics.ObserveTick(r.now().Sub(tickStart))
	return nil
}

// updatePhase 逐个推进活跃任务并落库，返回更新后仍然活跃的任务。
func (r *Runner) updatePhase(ctx context.Context, active []*task.Task) []*task.Task {
	ordered := r.orderTasks(active)
	survivors := make([]*task.Task, 0, len(ordered))

	for _, t := range ordered {
		updated := r.updateOne(ctx, t)
		if updated.Active() {
			survivors = append(survivors, updated)
		}
	}
	return survivors
}

// updateOne 推进单个任务。Update 返回错误时任务被置为 error 终态，
// 错误信息原样写入 statusMessage。
func (r *Runner) updateOne(ctx context.Context, t *task.Task) *task.Task {
	def := r.definition(t.DefinitionName)
	if def == nil {
		// 配置变更后遗留的孤儿任务：没有定义可以推进它。
		t.Finish(task.StatusError, "未知的动作定义: "+t.DefinitionName, r.now())
		r.persist(ctx, t)
		r.auditRecord(t)
		r.alert(ctx, t, xerrors.New(xerrors.CodeInvalidArgument, t.StatusMessage))
		metrics.ObserveTaskUpdate(t.DefinitionName, string(task.StatusError))
		return t
	}

	wasPreStart := t.Status == task.StatusPreStart

	updateCtx := ctx
	if r.updateTimeout > 0 {
		var cancel context.CancelFunc
		updateCtx, cancel = context.WithTimeout(ctx, r.updateTimeout)
		defer cancel()
	}

	updated, err := def.Update(updateCtx, t.Clone())
	if err != nil {
		t.Finish(task.StatusError, err.Error(), r.now())
		r.persist(ctx, t)
		r.auditRecord(t)
		r.publish(ctx, t, task.EventErrored)
		r.alert(ctx, t, err)
		metrics.ObserveTaskUpdate(t.DefinitionName, string(task.StatusError))
		r.log.Warn("任务更新失败",
			slog.String("definition", t.DefinitionName),
			slog.String("task_id", t.ID),
			slog.Any("error", err),
		)
		return t
	}

	// 首次更新必须完成 pre_start 到 running 的迁移。
	if wasPreStart && updated.Status == task.StatusPreStart {
		updated.Status = task.StatusRunning
	}
	updated.Touch(r.now())
	if updated.Terminal() && updated.FinishedAt == 0 {
		updated.FinishedAt = updated.LastUpdatedAt
	}

	r.persist(ctx, updated)
	r.auditRecord(updated)
	r.publish(ctx, updated, task.KindForStatus(updated.Status))
	metrics.ObserveTaskUpdate(updated.DefinitionName, string(updated.Status))
	return updated
}

// startPhase 评估每个定义的启动资格并持久化新任务。
// active 与 held 在循环内随新任务增长，保证同一 tick 内后评估的
// 定义能看到先启动者占用的资源。
func (r *Runner) startPhase(ctx context.Context, active []*task.Task, held map[string]struct{}) {
	for _, def := range r.definitions {
		if hasActiveTask(active, def.Name()) {
			continue
		}
		if anyHeld(held, def.LockResources()) {
			continue
		}
		if !def.ShouldStart(active) {
			continue
		}

		created, reason, err := def.Start(ctx, active, false)
		if err != nil {
			// Start 失败按未启动处理：记录日志，下个 tick 重新评估。
			r.log.Warn("动作启动失败",
				slog.String("definition", def.Name()),
				slog.Any("error", err),
			)
			continue
		}
		if created == nil {
			metrics.ObserveStartDeclined(def.Name())
			r.log.Debug("动作拒绝启动",
				slog.String("definition", def.Name()),
				slog.String("reason", reason),
			)
			continue
		}

		if err := r.store.Create(ctx, created); err != nil {
			r.log.Error("新任务落库失败",
				slog.String("definition", def.Name()),
				slog.String("task_id", created.ID),
				slog.Any("error", err),
			)
			continue
		}

		active = append(active, created)
		for _, resource := range created.ResourcesTaken {
			held[resource] = struct{}{}
		}

		r.auditRecord(created)
		r.publish(ctx, created, task.EventStarted)
		metrics.ObserveTaskStarted(def.Name())
		r.log.Info("任务已启动",
			slog.String("definition", def.Name()),
			slog.String("task_id", created.ID),
		)
	}
}

// orderTasks 返回确定性的更新顺序：先按定义的注册顺序，同一定义
// 内按 StartedAt、再按 ID 升序。
func (r *Runner) orderTasks(active []*task.Task) []*task.Task {
	rank := make(map[string]int, len(r.definitions))
	for idx, def := range r.definitions {
		rank[def.Name()] = idx
	}

	ordered := make([]*task.Task, len(active))
	copy(ordered, active)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, iKnown := rank[ordered[i].DefinitionName]
		rj, jKnown := rank[ordered[j].DefinitionName]
		if !iKnown {
			ri = len(r.definitions)
		}
		if !jKnown {
			rj = len(r.definitions)
		}
		if ri != rj {
			return ri < rj
		}
		if ordered[i].StartedAt != ordered[j].StartedAt {
			return ordered[i].StartedAt < ordered[j].StartedAt
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}

func (r *Runner) definition(name string) action.Definition {
	for _, def := range r.definitions {
		if def.Name() == name {
			return def
		}
	}
	return nil
}

func (r *Runner) persist(ctx context.Context, t *task.Task) {
	if err := r.store.Update(ctx, t); err != nil {
		r.log.Error("任务落库失败",
			slog.String("task_id", t.ID),
			slog.Any("error", err),
		)
	}
}

// auditRecord 把已落库的生命周期迁移写入审计日志。
func (r *Runner) auditRecord(t *task.Task) {
	r.audit.Info("task_transition",
		slog.String("task_id", t.ID),
		slog.String("definition", t.DefinitionName),
		slog.String("status", string(t.Status)),
		slog.String("message", t.StatusMessage),
		slog.Int64("last_updated_at", t.LastUpdatedAt),
	)
}

func (r *Runner) publish(ctx context.Context, t *task.Task, kind task.EventKind) {
	if err := r.publisher.Publish(ctx, task.NewEvent(t, kind)); err != nil {
		r.log.Warn("任务事件发布失败",
			slog.String("task_id", t.ID),
			slog.String("kind", string(kind)),
			slog.Any("error", err),
		)
	}
}

func (r *Runner) alert(ctx context.Context, t *task.Task, cause error) {
	if r.alerts == nil {
		return
	}
	event := alerting.Event{
		Code:       xerrors.CodeOf(cause),
		Message:    t.StatusMessage,
		Severity:   xerrors.SeverityOf(cause),
		Definition: t.DefinitionName,
		TaskID:     t.ID,
		OccurredAt: r.now(),
	}
	if err := r.alerts.Notify(ctx, event); err != nil {
		r.log.Warn("告警发送失败",
			slog.String("task_id", t.ID),
			slog.Any("error", err),
		)
	}
}

// heldResources 汇总活跃任务占用的全部资源锁。
func heldResources(active []*task.Task) map[string]struct{} {
	held := make(map[string]struct{})
	for _, t := range active {
		for _, resource := range t.ResourcesTaken {
			held[resource] = struct{}{}
		}
	}
	return held
}

func anyHeld(held map[string]struct{}, resources []string) bool {
	for _, resource := range resources {
		if _, ok := held[resource]; ok {
			return true
		}
	}
	return false
}

func hasActiveTask(active []*task.Task, definition string) bool {
	for _, t := range active {
		if t.DefinitionName == definition && t.Active() {
			return true
		}
	}
	return false
}
