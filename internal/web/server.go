package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"botward/internal/agent"
	"botward/internal/approval"
	"botward/internal/audit"
	"botward/internal/metrics"
	"botward/internal/permission"
)

const maxRequestBody = 1 << 20 // 1 MB

// Store is the database surface the handlers need.
type Store interface {
	UpsertOverride(ctx context.Context, o permission.Override) error
	DeleteOverride(ctx context.Context, scope, scopeID string, key permission.Key) error
	ListRuns(ctx context.Context, botID string, limit int) ([]byte, error)
	GetRun(ctx context.Context, runID string) ([]byte, error)
	ListSteps(ctx context.Context, runID string) ([]byte, error)
	CreateSchedule(ctx context.Context, payload []byte) (string, error)
	ListSchedules(ctx context.Context, limit int) ([]byte, error)
	DeleteSchedule(ctx context.Context, scheduleID string) error
}

// PermissionResolver is the read side of policy for the permissions endpoint.
type PermissionResolver interface {
	ResolveAll(ctx context.Context, botID string) (map[permission.Key]permission.Effective, error)
}

// ApprovalBroker is the gate surface the approvals endpoints need.
type ApprovalBroker interface {
	Pending() []approval.Request
	Approve(ctx context.Context, requestID string, scope approval.ResolutionScope, actor string) error
	Deny(ctx context.Context, requestID, actor string) error
}

type GoalPlanner interface {
	Plan(ctx context.Context, botID, goal string) (agent.Plan, error)
}

type RunStarter interface {
	Execute(ctx context.Context, req agent.Request) (agent.RunResult, error)
}

type Server struct {
	Mux         *http.ServeMux
	DB          Store
	DBConn      *sql.DB
	Resolver    PermissionResolver
	Gate        ApprovalBroker
	Audit       *audit.Recorder
	Planner     GoalPlanner
	Executor    RunStarter
	AuthToken   string
	RateLimiter *RateLimiter

	log *slog.Logger
}

func NewServer(store Store, resolver PermissionResolver, gate ApprovalBroker) *Server {
	s := &Server{
		Mux:      http.NewServeMux(),
		DB:       store,
		Resolver: resolver,
		Gate:     gate,
		log:      slog.Default().With(slog.String("component", "web")),
	}
	if c, ok := store.(interface{ Conn() *sql.DB }); ok {
		// store may be a typed-nil in tests: interface value set, underlying pointer nil.
		if conn := c.Conn(); conn != nil {
			s.DBConn = conn
		}
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.Mux.HandleFunc("/healthz", s.handleHealthz)
	s.Mux.HandleFunc("/readyz", s.handleReadyz)
	s.Mux.Handle("/metrics", metrics.Handler())

	// Write endpoints get rate limiting.
	s.Mux.Handle("/v1/bots/", s.auth(http.HandlerFunc(s.handleBotSubresource)))
	s.Mux.Handle("/v1/permissions", s.withRateLimit(s.auth(http.HandlerFunc(s.handlePermissions))))
	s.Mux.Handle("/v1/approvals", s.auth(http.HandlerFunc(s.handleApprovals)))
	s.Mux.Handle("/v1/approvals/", s.withRateLimit(s.auth(http.HandlerFunc(s.handleApprovalByID))))
	s.Mux.Handle("/v1/audit/entries", s.auth(http.HandlerFunc(s.handleAuditEntries)))
	s.Mux.Handle("/v1/agent/plan", s.withRateLimit(s.auth(http.HandlerFunc(s.handleAgentPlan))))
	s.Mux.Handle("/v1/agent/runs", s.withRateLimit(s.auth(http.HandlerFunc(s.handleAgentRuns))))
	s.Mux.Handle("/v1/agent/runs/", s.auth(http.HandlerFunc(s.handleAgentRunByID)))
	s.Mux.Handle("/v1/schedules", s.withRateLimit(s.auth(http.HandlerFunc(s.handleSchedules))))
	s.Mux.Handle("/v1/schedules/", s.withRateLimit(s.auth(http.HandlerFunc(s.handleScheduleByID))))
}

func (s *Server) Handler() http.Handler {
	return metrics.Middleware(s.Mux)
}

// withRateLimit reads s.RateLimiter per request so wiring it after
// NewServer still takes effect, same as AuthToken.
func (s *Server) withRateLimit(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.RateLimiter != nil && !s.RateLimiter.Allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		h.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write json response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseLimit reads ?limit= with the store's defaults applied downstream.
func parseLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 0
}
