package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ChainFlow-Agent/internal/action"
	"ChainFlow-Agent/internal/observability/alerting"
	"ChainFlow-Agent/internal/task"
)

// fakeDefinition 以固定步数推进任务，用于驱动调度场景。
type fakeDefinition struct {
	name      string
	resources []string
	eligible  bool
	steps     int
	// maxStarts 限制任务创建次数，0 表示不限。
	maxStarts int
	startErr  error
	updateErr error

	mu       sync.Mutex
	created  int
	updates  int
	stopped  bool
	progress map[string]int
}

func newFakeDefinition(name string, resources []string, steps int) *fakeDefinition {
	return &fakeDefinition{
		name:      name,
		resources: resources,
		eligible:  true,
		steps:     steps,
		progress:  make(map[string]int),
	}
}

func (f *fakeDefinition) Name() string            { return f.name }
func (f *fakeDefinition) LockResources() []string { return append([]string(nil), f.resources...) }

func (f *fakeDefinition) ShouldStart([]*task.Task) bool {
	if !f.eligible {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxStarts == 0 || f.created < f.maxStarts
}

func (f *fakeDefinition) Start(_ context.Context, _ []*task.Task, _ bool) (*task.Task, string, error) {
	if f.startErr != nil {
		return nil, "", f.startErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	now := time.Now().UnixMilli()
	return &task.Task{
		ID:             fmt.Sprintf("%s-%d", f.name, f.created),
		DefinitionName: f.name,
		Status:         task.StatusPreStart,
		ResourcesTaken: f.LockResources(),
		StartedAt:      now,
		LastUpdatedAt:  now,
	}, "", nil
}

func (f *fakeDefinition) Update(_ context.Context, t *task.Task) (*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.progress[t.ID]++
	if f.progress[t.ID] >= f.steps {
		t.Status = task.StatusCompleted
		t.StatusMessage = "done"
	} else {
		t.Status = task.StatusRunning
	}
	return t, nil
}

func (f *fakeDefinition) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

var _ action.Definition = (*fakeDefinition)(nil)

// fakeClock 返回严格递增的时间，保证时间戳断言确定。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestRunner(t *testing.T, store task.Store, defs ...action.Definition) *Runner {
	t.Helper()
	clock := &fakeClock{now: time.Now()}
	r, err := New(store, defs, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return r
}

func mustTick(t *testing.T, r *Runner) {
	t.Helper()
	if err := r.RunActionLoop(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
}

func activeTasks(t *testing.T, store task.Store) []*task.Task {
	t.Helper()
	active, err := store.ListActive(context.Background())
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	return active
}

func allTasks(t *testing.T, store task.Store) []*task.Task {
	t.Helper()
	tasks, err := store.List(context.Background(), task.ListOptions{Limit: 200, Order: task.SortByStartedAsc})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return tasks
}

func TestResourceBlockingScenario(t *testing.T) {
	store := task.NewMemoryStore()
	actionA := newFakeDefinition("action-a", []string{"chain:8453:liquidity"}, 2)
	actionA.maxStarts = 1
	actionB := newFakeDefinition("action-b", []string{"chain:8453:liquidity"}, 1)
	actionB.maxStarts = 1
	r := newTestRunner(t, store, actionA, actionB)

	// Tick 1: A 启动，B 因资源冲突不启动。
	mustTick(t, r)
	active := activeTasks(t, store)
	if len(active) != 1 || active[0].DefinitionName != "action-a" {
		t.Fatalf("tick 1: expected only action-a active, got %+v", active)
	}

	// Tick 2: A 进入 running，B 仍被阻塞。
	mustTick(t, r)
	active = activeTasks(t, store)
	if len(active) != 1 || active[0].Status != task.StatusRunning {
		t.Fatalf("tick 2: expected action-a running, got %+v", active)
	}

	// Tick 3: A 完成并释放资源，B 在同一 tick 启动。
	mustTick(t, r)
	tasks := allTasks(t, store)
	if len(tasks) != 2 {
		t.Fatalf("tick 3: expected 2 tasks total, got %d", len(tasks))
	}
	byDef := map[string]*task.Task{}
	for _, entry := range tasks {
		byDef[entry.DefinitionName] = entry
	}
	if byDef["action-a"].Status != task.StatusCompleted {
		t.Fatalf("expected action-a completed, got %s", byDef["action-a"].Status)
	}
	if !byDef["action-b"].Active() {
		t.Fatalf("expected action-b active, got %s", byDef["action-b"].Status)
	}
}

func TestDisjointResourcesStartTogether(t *testing.T) {
	store := task.NewMemoryStore()
	actionA := newFakeDefinition("action-a", []string{"vault:8453:USDC"}, 2)
	actionB := newFakeDefinition("action-b", []string{"vault:42161:USDC"}, 2)
	r := newTestRunner(t, store, actionA, actionB)

	mustTick(t, r)
	active := activeTasks(t, store)
	if len(active) != 2 {
		t.Fatalf("expected both actions active in first tick, got %d", len(active))
	}
}

func TestMultiResourceLockBlocksBoth(t *testing.T) {
	store := task.NewMemoryStore()
	both := newFakeDefinition("action-xy", []string{"res:x", "res:y"}, 2)
	both.maxStarts = 1
	onlyX := newFakeDefinition("action-x", []string{"res:x"}, 1)
	onlyY := newFakeDefinition("action-y", []string{"res:y"}, 1)
	r := newTestRunner(t, store, both, onlyX, onlyY)

	// Tick 1: 多资源动作先启动，另外两个都被挡住。
	mustTick(t, r)
	active := activeTasks(t, store)
	if len(active) != 1 || active[0].DefinitionName != "action-xy" {
		t.Fatalf("tick 1: expected only action-xy, got %+v", active)
	}

	// Tick 2: action-xy 仍在运行。
	mustTick(t, r)
	if active = activeTasks(t, store); len(active) != 1 {
		t.Fatalf("tick 2: expected 1 active task, got %d", len(active))
	}

	// Tick 3: action-xy 完成，两个单资源动作同 tick 启动。
	mustTick(t, r)
	active = activeTasks(t, store)
	if len(active) != 2 {
		t.Fatalf("tick 3: expected both blocked actions started, got %d", len(active))
	}
}

func TestSameTickRestart(t *testing.T) {
	store := task.NewMemoryStore()
	def := newFakeDefinition("action-a", []string{"res:x"}, 1)
	r := newTestRunner(t, store, def)

	mustTick(t, r)
	// Tick 2: 第一轮任务完成后，同一 tick 内立即重启。
	mustTick(t, r)

	tasks := allTasks(t, store)
	if len(tasks) != 2 {
		t.Fatalf("expected a fresh task in the completion tick, got %d tasks", len(tasks))
	}
	var completed, pending int
	for _, entry := range tasks {
		switch {
		case entry.Status == task.StatusCompleted:
			completed++
		case entry.Active():
			pending++
		}
	}
	if completed != 1 || pending != 1 {
		t.Fatalf("expected 1 completed and 1 active task, got %+v", tasks)
	}
}

func TestUpdateErrorIsIsolated(t *testing.T) {
	store := task.NewMemoryStore()
	failing := newFakeDefinition("action-bad", []string{"res:x"}, 3)
	failing.updateErr = errors.New("rpc unreachable")
	healthy := newFakeDefinition("action-good", []string{"res:y"}, 2)
	r := newTestRunner(t, store, failing, healthy)

	mustTick(t, r)
	mustTick(t, r)

	tasks := allTasks(t, store)
	byDef := map[string][]*task.Task{}
	for _, entry := range tasks {
		byDef[entry.DefinitionName] = append(byDef[entry.DefinitionName], entry)
	}

	bad := byDef["action-bad"][0]
	if bad.Status != task.StatusError {
		t.Fatalf("expected error status, got %s", bad.Status)
	}
	if bad.StatusMessage != "rpc unreachable" {
		t.Fatalf("expected error message preserved, got %q", bad.StatusMessage)
	}
	if bad.FinishedAt == 0 {
		t.Fatalf("expected finishedAt set on errored task")
	}

	good := byDef["action-good"][0]
	if good.Status != task.StatusRunning {
		t.Fatalf("expected sibling task unaffected, got %s", good.Status)
	}
}

func TestLifecycleAndTimestampsMonotonic(t *testing.T) {
	store := task.NewMemoryStore()
	def := newFakeDefinition("action-a", []string{"res:x"}, 2)
	r := newTestRunner(t, store, def)

	mustTick(t, r)
	created := activeTasks(t, store)[0]
	if created.Status != task.StatusPreStart {
		t.Fatalf("expected pre_start after creation, got %s", created.Status)
	}

	mustTick(t, r)
	running, err := store.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if running.Status != task.StatusRunning {
		t.Fatalf("expected running after first update, got %s", running.Status)
	}
	if running.LastUpdatedAt < created.LastUpdatedAt {
		t.Fatalf("lastUpdatedAt went backwards: %d -> %d", created.LastUpdatedAt, running.LastUpdatedAt)
	}

	mustTick(t, r)
	done, err := store.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if done.Status != task.StatusCompleted {
		t.Fatalf("expected completed after second update, got %s", done.Status)
	}
	if done.LastUpdatedAt < running.LastUpdatedAt {
		t.Fatalf("lastUpdatedAt went backwards: %d -> %d", running.LastUpdatedAt, done.LastUpdatedAt)
	}
	if done.FinishedAt == 0 || done.FinishedAt < done.StartedAt {
		t.Fatalf("unexpected finishedAt: %d", done.FinishedAt)
	}
}

func TestStartErrorTreatedAsNotStarted(t *testing.T) {
	store := task.NewMemoryStore()
	def := newFakeDefinition("action-a", []string{"res:x"}, 1)
	def.startErr = errors.New("quote service down")
	r := newTestRunner(t, store, def)

	mustTick(t, r)
	if tasks := allTasks(t, store); len(tasks) != 0 {
		t.Fatalf("expected no tasks after failed start, got %d", len(tasks))
	}

	// 故障恢复后的下一个 tick 正常启动。
	def.startErr = nil
	mustTick(t, r)
	if tasks := allTasks(t, store); len(tasks) != 1 {
		t.Fatalf("expected start retried on next tick, got %d tasks", len(tasks))
	}
}

func TestIneligibleDefinitionNeverStarts(t *testing.T) {
	store := task.NewMemoryStore()
	def := newFakeDefinition("action-a", []string{"res:x"}, 1)
	def.eligible = false
	r := newTestRunner(t, store, def)

	mustTick(t, r)
	mustTick(t, r)
	if tasks := allTasks(t, store); len(tasks) != 0 {
		t.Fatalf("expected no tasks, got %d", len(tasks))
	}
}

func TestOnlyOneActiveTaskPerDefinition(t *testing.T) {
	store := task.NewMemoryStore()
	def := newFakeDefinition("action-a", []string{"res:x"}, 5)
	r := newTestRunner(t, store, def)

	mustTick(t, r)
	mustTick(t, r)
	mustTick(t, r)

	if tasks := allTasks(t, store); len(tasks) != 1 {
		t.Fatalf("expected a single in-flight task, got %d", len(tasks))
	}
}

// capturePublisher 记录所有发布的生命周期事件。
type capturePublisher struct {
	mu     sync.Mutex
	events []task.Event
}

func (p *capturePublisher) Publish(_ context.Context, event task.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func TestLifecycleEventsPublished(t *testing.T) {
	store := task.NewMemoryStore()
	def := newFakeDefinition("action-a", []string{"res:x"}, 1)
	publisher := &capturePublisher{}
	clock := &fakeClock{now: time.Now()}

	r, err := New(store, []action.Definition{def}, WithClock(clock.Now), WithPublisher(publisher))
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	mustTick(t, r)
	mustTick(t, r)

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	var kinds []task.EventKind
	for _, event := range publisher.events {
		kinds = append(kinds, event.Kind)
	}
	// tick1: started；tick2: completed，随后同 tick 重启又一条 started。
	if len(kinds) < 3 || kinds[0] != task.EventStarted || kinds[1] != task.EventCompleted {
		t.Fatalf("unexpected event sequence: %v", kinds)
	}
}

// captureNotifier 记录分发到单一渠道的告警事件。
type captureNotifier struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (n *captureNotifier) Channel() alerting.Channel { return alerting.ChannelSlack }

func (n *captureNotifier) Notify(_ context.Context, event alerting.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func TestUpdateErrorTriggersAlert(t *testing.T) {
	store := task.NewMemoryStore()
	def := newFakeDefinition("action-bad", []string{"res:x"}, 2)
	def.updateErr = errors.New("rpc unreachable")
	notifier := &captureNotifier{}
	clock := &fakeClock{now: time.Now()}

	r, err := New(store, []action.Definition{def},
		WithClock(clock.Now),
		WithAlertDispatcher(alerting.NewFanout(notifier)),
	)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	mustTick(t, r)
	mustTick(t, r)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.events) != 1 {
		t.Fatalf("expected one alert, got %d", len(notifier.events))
	}
	event := notifier.events[0]
	if event.Definition != "action-bad" || event.Message != "rpc unreachable" {
		t.Fatalf("unexpected alert event: %+v", event)
	}
}

func TestMutualExclusionInvariantAcrossTicks(t *testing.T) {
	store := task.NewMemoryStore()
	defs := []action.Definition{
		newFakeDefinition("a1", []string{"res:x"}, 2),
		newFakeDefinition("a2", []string{"res:x", "res:y"}, 1),
		newFakeDefinition("a3", []string{"res:y"}, 3),
		newFakeDefinition("a4", []string{"res:z"}, 1),
	}
	r := newTestRunner(t, store, defs...)

	for tick := 0; tick < 6; tick++ {
		mustTick(t, r)
		active := activeTasks(t, store)
		held := map[string]string{}
		for _, entry := range active {
			for _, resource := range entry.ResourcesTaken {
				if owner, ok := held[resource]; ok {
					t.Fatalf("tick %d: resource %s held by both %s and %s", tick+1, resource, owner, entry.ID)
				}
				held[resource] = entry.ID
			}
		}
	}
}
