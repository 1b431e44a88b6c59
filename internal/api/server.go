package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"Kurashi-Agents/internal/agent"
	"Kurashi-Agents/internal/auth"
	"Kurashi-Agents/internal/dispatch"
	xerrors "Kurashi-Agents/internal/errors"
	"Kurashi-Agents/internal/observability/metrics"
	"Kurashi-Agents/pkg/logger"
)

// JobService 是 API 依赖的任务服务能力。
type JobService interface {
	Submit(ctx context.Context, msg dispatch.Message) (*dispatch.Job, error)
	Get(ctx context.Context, id string) (*dispatch.Job, error)
	List(ctx context.Context, opts ...dispatch.ListOption) ([]*dispatch.Job, error)
	Stats(ctx context.Context, opts ...dispatch.ListOption) (dispatch.JobStats, error)
	WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*dispatch.Job, error)
}

// AgentDirectory 列出已注册的智能体。
type AgentDirectory interface {
	List() []agent.Info
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr        string
	jobs        JobService
	agents      AgentDirectory
	auth        *auth.TokenAuthenticator
	waitTimeout time.Duration
	metrics     bool
}

// Option 定义可选配置。
type Option func(*Server)

// WithAuthenticator 启用令牌认证。
func WithAuthenticator(a *auth.TokenAuthenticator) Option {
	return func(s *Server) {
		s.auth = a
	}
}

// WithWaitTimeout 设置 ?wait=1 的最长等待时间。
func WithWaitTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.waitTimeout = d
		}
	}
}

// WithoutMetrics 不在 API 上挂载 /metrics（指标使用独立端口时）。
func WithoutMetrics() Option {
	return func(s *Server) {
		s.metrics = false
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, jobs JobService, agents AgentDirectory, opts ...Option) *Server {
	s := &Server{
		addr:        addr,
		jobs:        jobs,
		agents:      agents,
		waitTimeout: 30 * time.Second,
		metrics:     true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	protected := func(h http.HandlerFunc) http.Handler {
		if s.auth == nil {
			return h
		}
		return s.auth.Middleware(auth.MiddlewareConfig{RequiredPermissions: auth.DefaultPermissions})(h)
	}

	mux := http.NewServeMux()
	s.route(mux, "GET /healthz", "healthz", http.HandlerFunc(s.handleHealth))
	if s.metrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}
	s.route(mux, "GET /api/v1/agents", "agents.list", protected(s.handleAgents))
	s.route(mux, "POST /api/v1/messages", "messages.create", protected(s.handleCreateMessage))
	s.route(mux, "GET /api/v1/jobs", "jobs.list", protected(s.handleListJobs))
	s.route(mux, "GET /api/v1/jobs/stats", "jobs.stats", protected(s.handleJobStats))
	s.route(mux, "GET /api/v1/jobs/{id}", "jobs.get", protected(s.handleJobDetail))
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.L().Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.Handler) {
	method, _, _ := strings.Cut(pattern, " ")
	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(sw, r)
		metrics.ObserveHTTPRequest(name, method, sw.status, time.Since(start))
	}))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	count := 0
	if s.agents != nil {
		count = len(s.agents.List())
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "agents": count})
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	if s.agents == nil {
		writeJSON(w, http.StatusOK, []agent.Info{})
		return
	}
	writeJSON(w, http.StatusOK, s.agents.List())
}

type messageRequest struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}
	var req messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}

	ctx := r.Context()
	job, err := s.jobs.Submit(ctx, dispatch.Message{
		ID:        req.ID,
		Source:    dispatch.SourceAPI,
		UserID:    req.UserID,
		ChannelID: req.ChannelID,
		Text:      req.Text,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		writeJSON(w, http.StatusAccepted, job)
		return
	}
	waitCtx, cancel := context.WithTimeout(ctx, s.waitTimeout)
	defer cancel()
	done, err := s.jobs.WaitUntilCompleted(waitCtx, job.ID, 50*time.Millisecond)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			writeJSON(w, http.StatusAccepted, job)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, done)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	jobs, err := s.jobs.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.jobs.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少任务 ID"))
		return
	}
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func parseListOptions(r *http.Request) ([]dispatch.ListOption, error) {
	q := r.URL.Query()
	var opts []dispatch.ListOption

	for key, apply := range map[string]func(int) dispatch.ListOption{
		"limit":  dispatch.WithLimit,
		"offset": dispatch.WithOffset,
	} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "无效的 "+key)
		}
		opts = append(opts, apply(n))
	}

	if raw := q.Get("status"); raw != "" {
		var statuses []dispatch.Status
		for _, part := range strings.Split(raw, ",") {
			status := dispatch.Status(strings.TrimSpace(part))
			if !dispatch.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "无效的状态: "+part)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, dispatch.WithStatuses(statuses...))
	}
	if v := q.Get("source"); v != "" {
		opts = append(opts, dispatch.WithSource(v))
	}
	if v := q.Get("user"); v != "" {
		opts = append(opts, dispatch.WithUser(v))
	}
	if v := q.Get("agent"); v != "" {
		opts = append(opts, dispatch.WithAgent(v))
	}
	if v := q.Get("q"); v != "" {
		opts = append(opts, dispatch.WithQuery(v))
	}
	if raw := q.Get("rejected"); raw != "" {
		rejected, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "无效的 rejected")
		}
		opts = append(opts, dispatch.WithRejected(rejected))
	}
	for key, apply := range map[string]func(time.Time) dispatch.ListOption{
		"since": dispatch.WithUpdatedSince,
		"until": dispatch.WithUpdatedUntil,
	} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "无效的 "+key+"（需要 RFC3339）")
		}
		opts = append(opts, apply(ts))
	}
	if strings.EqualFold(q.Get("order"), "asc") {
		opts = append(opts, dispatch.WithSortOrder(dispatch.SortByUpdatedAsc))
	}
	return opts, nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case xerrors.CodeInvalidArgument, dispatch.CodeJobValidation:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound, dispatch.CodeJobNotFound:
		status = http.StatusNotFound
	case xerrors.CodeConflict, dispatch.CodeJobConflict:
		status = http.StatusConflict
	case xerrors.CodeRateLimited:
		status = http.StatusTooManyRequests
	case xerrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	case xerrors.CodeInitializationFailure:
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		logger.L().Error("API 请求失败", slog.Any("error", err))
	}
	writeJSON(w, status, map[string]errorBody{"error": {Code: string(code), Message: err.Error()}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusWriter 捕获响应状态码。
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
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
