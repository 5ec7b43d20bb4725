package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ChainFlow-Agent/internal/scoring"
	"ChainFlow-Agent/internal/task"
)

func seedStore(t *testing.T) *task.MemoryStore {
	t.Helper()
	store := task.NewMemoryStore()
	ctx := context.Background()

	seed := []*task.Task{
		{ID: "t1", DefinitionName: "swap/base/USDC-WETH", Status: task.StatusCompleted, StartedAt: 100, LastUpdatedAt: 150, FinishedAt: 150},
		{ID: "t2", DefinitionName: "bridge/base-arbitrum/USDC", Status: task.StatusRunning, StartedAt: 200, LastUpdatedAt: 210},
		{ID: "t3", DefinitionName: "swap/base/USDC-WETH", Status: task.StatusError, StartedAt: 300, LastUpdatedAt: 330, FinishedAt: 330, StatusMessage: "rpc unreachable"},
	}
	for _, entry := range seed {
		if err := store.Create(ctx, entry); err != nil {
			t.Fatalf("seed %s: %v", entry.ID, err)
		}
	}
	return store
}

func TestHandleListTasksWithFilters(t *testing.T) {
	server := NewServer(":0", seedStore(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks?status=error&definition=swap/base/USDC-WETH", nil)
	rec := httptest.NewRecorder()
	server.handleListTasks(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var tasks []task.Task
	if err := json.NewDecoder(rec.Body).Decode(&tasks); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t3" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
}

func TestHandleListTasksRejectsBadLimit(t *testing.T) {
	server := NewServer(":0", seedStore(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks?limit=abc", nil)
	rec := httptest.NewRecorder()
	server.handleListTasks(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleGetTask(t *testing.T) {
	server := NewServer(":0", seedStore(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/t2", nil)
	req.SetPathValue("id", "t2")
	rec := httptest.NewRecorder()
	server.handleGetTask(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var got task.Task
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "t2" || got.Status != task.StatusRunning {
		t.Fatalf("unexpected task: %+v", got)
	}

	missing := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/nope", nil)
	missing.SetPathValue("id", "nope")
	rec = httptest.NewRecorder()
	server.handleGetTask(rec, missing)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleStats(t *testing.T) {
	server := NewServer(":0", seedStore(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	server.handleStats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var stats task.TaskStats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Total != 3 || stats.Running != 1 || stats.Errored != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestHandleScores(t *testing.T) {
	feed := scoring.NewStaticFeed(scoring.ChainScore{ChainID: "8453", Score: 0.7, UpdatedAt: time.Now()})
	server := NewServer(":0", task.NewMemoryStore(), feed)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/scores", nil)
	rec := httptest.NewRecorder()
	server.handleScores(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var scores []scoring.ChainScore
	if err := json.NewDecoder(rec.Body).Decode(&scores); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(scores) != 1 || scores[0].ChainID != "8453" {
		t.Fatalf("unexpected scores: %+v", scores)
	}
}

func TestHandleScoresWithoutFeed(t *testing.T) {
	server := NewServer(":0", task.NewMemoryStore(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/scores", nil)
	rec := httptest.NewRecorder()
	server.handleScores(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
