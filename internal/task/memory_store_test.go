package task

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreCreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	created := &Task{
		ID:             "t1",
		DefinitionName: "swap/base/USDC-WETH",
		Status:         StatusPreStart,
		ResourcesTaken: []string{"vault:8453:USDC", "vault:8453:WETH"},
		StartedAt:      time.Now().UnixMilli(),
	}
	if err := store.Create(ctx, created); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, created); !errors.Is(err, ErrTaskConflict) {
		t.Fatalf("expected conflict on duplicate id, got %v", err)
	}

	got, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DefinitionName != created.DefinitionName {
		t.Fatalf("unexpected definition: %s", got.DefinitionName)
	}

	// 存储返回的是副本，修改它不应影响存量记录。
	got.ResourcesTaken[0] = "mutated"
	again, _ := store.Get(ctx, "t1")
	if again.ResourcesTaken[0] != "vault:8453:USDC" {
		t.Fatalf("stored record mutated through returned copy")
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreUpdateRejectsTerminal(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	created := &Task{ID: "t1", DefinitionName: "vault-sync/base", Status: StatusRunning, StartedAt: 100}
	if err := store.Create(ctx, created); err != nil {
		t.Fatalf("create: %v", err)
	}

	finished := created.Clone()
	finished.Finish(StatusCompleted, "done", time.Now())
	if err := store.Update(ctx, finished); err != nil {
		t.Fatalf("update to terminal: %v", err)
	}

	// 终态任务是不可篡改的审计记录。
	tampered := finished.Clone()
	tampered.Status = StatusRunning
	if err := store.Update(ctx, tampered); !errors.Is(err, ErrTaskTerminal) {
		t.Fatalf("expected terminal rejection, got %v", err)
	}

	if err := store.Update(ctx, &Task{ID: "missing", Status: StatusRunning}); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreListActive(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seed := []*Task{
		{ID: "a", DefinitionName: "d1", Status: StatusPreStart, StartedAt: 300},
		{ID: "b", DefinitionName: "d2", Status: StatusRunning, StartedAt: 100},
		{ID: "c", DefinitionName: "d3", Status: StatusCompleted, StartedAt: 200, LastUpdatedAt: 250, FinishedAt: 250},
		{ID: "d", DefinitionName: "d4", Status: StatusError, StartedAt: 400, LastUpdatedAt: 450, FinishedAt: 450},
	}
	for _, entry := range seed {
		if err := store.Create(ctx, entry); err != nil {
			t.Fatalf("create %s: %v", entry.ID, err)
		}
	}

	active, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active tasks, got %d", len(active))
	}
	// 按 StartedAt 升序。
	if active[0].ID != "b" || active[1].ID != "a" {
		t.Fatalf("unexpected order: %s, %s", active[0].ID, active[1].ID)
	}
}

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seed := []*Task{
		{ID: "t1", DefinitionName: "swap", Status: StatusCompleted, StartedAt: 100, LastUpdatedAt: 150, FinishedAt: 150},
		{ID: "t2", DefinitionName: "bridge", Status: StatusError, StartedAt: 200, LastUpdatedAt: 260, FinishedAt: 260},
		{ID: "t3", DefinitionName: "swap", Status: StatusRunning, StartedAt: 300},
	}
	for _, entry := range seed {
		if err := store.Create(ctx, entry); err != nil {
			t.Fatalf("create %s: %v", entry.ID, err)
		}
	}

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(all))
	}
	if all[0].ID != "t3" {
		t.Fatalf("expected newest first, got %s", all[0].ID)
	}

	swaps, err := store.List(ctx, ListOptions{Definition: "swap"})
	if err != nil {
		t.Fatalf("list by definition: %v", err)
	}
	if len(swaps) != 2 {
		t.Fatalf("expected 2 swap tasks, got %d", len(swaps))
	}

	errored, err := store.List(ctx, ListOptions{Statuses: []Status{StatusError}})
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(errored) != 1 || errored[0].ID != "t2" {
		t.Fatalf("unexpected errored list: %+v", errored)
	}

	windowed, err := store.List(ctx, ListOptions{StartedGTE: 150, StartedLTE: 250})
	if err != nil {
		t.Fatalf("list by window: %v", err)
	}
	if len(windowed) != 1 || windowed[0].ID != "t2" {
		t.Fatalf("unexpected windowed list: %+v", windowed)
	}

	limited, err := store.List(ctx, ListOptions{Limit: 1, Offset: 1, Order: SortByStartedAsc})
	if err != nil {
		t.Fatalf("list with paging: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "t2" {
		t.Fatalf("unexpected paged list: %+v", limited)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seed := []*Task{
		{ID: "t1", DefinitionName: "swap", Status: StatusCompleted, StartedAt: 100, LastUpdatedAt: 150, FinishedAt: 150},
		{ID: "t2", DefinitionName: "swap", Status: StatusRunning, StartedAt: 200},
		{ID: "t3", DefinitionName: "bridge", Status: StatusFailed, StartedAt: 300, LastUpdatedAt: 350, FinishedAt: 350},
	}
	for _, entry := range seed {
		if err := store.Create(ctx, entry); err != nil {
			t.Fatalf("create %s: %v", entry.ID, err)
		}
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Completed != 1 || stats.Running != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.OldestStartedAt != 100 || stats.NewestStartedAt != 300 {
		t.Fatalf("unexpected time range: %+v", stats)
	}

	swapStats, err := store.Stats(ctx, ListOptions{Definition: "swap"})
	if err != nil {
		t.Fatalf("stats by definition: %v", err)
	}
	if swapStats.Total != 2 || swapStats.Failed != 0 {
		t.Fatalf("unexpected swap stats: %+v", swapStats)
	}
}

func TestTaskTouchIsMonotonic(t *testing.T) {
	now := time.Now()
	entry := &Task{ID: "t1", Status: StatusRunning, StartedAt: now.UnixMilli(), LastUpdatedAt: now.UnixMilli()}

	entry.Touch(now.Add(-time.Minute))
	if entry.LastUpdatedAt != now.UnixMilli() {
		t.Fatalf("Touch moved LastUpdatedAt backwards: %d", entry.LastUpdatedAt)
	}

	entry.Touch(now.Add(time.Minute))
	if entry.LastUpdatedAt != now.Add(time.Minute).UnixMilli() {
		t.Fatalf("Touch did not advance LastUpdatedAt: %d", entry.LastUpdatedAt)
	}
}
