package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"ChainFlow-Agent/internal/observability/metrics"
	"ChainFlow-Agent/internal/scoring"
	"ChainFlow-Agent/internal/task"
)

// Server 暴露只读的观测接口：任务列表、任务详情、统计与评分快照。
// 调度决策不经过这里，接口只服务仪表盘与排障。
type Server struct {
	addr  string
	store task.Store
	feed  scoring.Feed
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, store task.Store, feed scoring.Feed) *Server {
	return &Server{addr: addr, store: store, feed: feed}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/tasks", s.instrument("tasks", s.handleListTasks))
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.instrument("task_detail", s.handleGetTask))
	mux.HandleFunc("GET /api/v1/stats", s.instrument("stats", s.handleStats))
	mux.HandleFunc("GET /api/v1/scores", s.instrument("scores", s.handleScores))
	mux.Handle("GET /metrics", metrics.Handler())

	// 配置 HTTP 服务器。
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 启动服务器并监听关闭信号。
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// handleListTasks 按时间倒序返回任务记录，支持 limit/offset、
// status、definition 与 started_after/started_before 过滤。
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "任务存储未初始化", http.StatusServiceUnavailable)
		return
	}

	opts, err := parseListOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tasks, err := s.store.List(r.Context(), opts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "任务存储未初始化", http.StatusServiceUnavailable)
		return
	}

	t, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if task.IsTaskError(err, task.CodeTaskNotFound) {
			http.Error(w, "任务不存在", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, t)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "任务存储未初始化", http.StatusServiceUnavailable)
		return
	}

	opts, err := parseListOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	stats, err := s.store.Stats(r.Context(), opts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, stats)
}

func (s *Server) handleScores(w http.ResponseWriter, _ *http.Request) {
	if s.feed == nil {
		http.Error(w, "评分数据源未初始化", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.feed.Snapshots())
}

// parseListOptions 从查询参数组装任务列表过滤条件。
func parseListOptions(r *http.Request) (task.ListOptions, error) {
	opts := task.ListOptions{}
	query := r.URL.Query()

	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return opts, errors.New("limit 必须为正整数")
		}
		opts.Limit = parsed
	}
	if raw := query.Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return opts, errors.New("offset 必须为非负整数")
		}
		opts.Offset = parsed
	}
	for _, raw := range query["status"] {
		status := task.Status(raw)
		if !task.IsValidStatus(status) {
			return opts, errors.New("非法的任务状态: " + raw)
		}
		opts.Statuses = append(opts.Statuses, status)
	}
	opts.Definition = query.Get("definition")

	if raw := query.Get("started_after"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return opts, errors.New("started_after 必须为毫秒时间戳")
		}
		opts.StartedGTE = parsed
	}
	if raw := query.Get("started_before"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return opts, errors.New("started_before 必须为毫秒时间戳")
		}
		opts.StartedLTE = parsed
	}
	if query.Get("order") == "asc" {
		opts.Order = task.SortByStartedAsc
	}

	return opts, nil
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// instrument 记录每个请求的指标。
func (s *Server) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	// 包装处理器以检查上下文状态。
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
