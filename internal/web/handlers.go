package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"botward/internal/agent"
	"botward/internal/approval"
	"botward/internal/audit"
	"botward/internal/permission"
)

func writeRaw(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func readBody(w http.ResponseWriter, r *http.Request, out any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// GET /v1/bots/{id}/permissions
func (s *Server) handleBotSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/bots/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "permissions" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	effective, err := s.Resolver.ResolveAll(r.Context(), parts[0])
	if err != nil {
		s.log.Error("resolve permissions", slog.String("bot_id", parts[0]), slog.Any("error", err))
		writeError(w, http.StatusServiceUnavailable, "policy store unavailable")
		return
	}
	out := make(map[string]permission.Effective, len(effective))
	for key, eff := range effective {
		out[string(key)] = eff
	}
	writeJSON(w, http.StatusOK, map[string]any{"bot_id": parts[0], "permissions": out})
}

type overrideRequest struct {
	Scope   string            `json:"scope"`
	ScopeID string            `json:"scope_id"`
	Key     string            `json:"permission_key"`
	Value   *permission.Value `json:"value"`
}

// PUT/DELETE /v1/permissions
func (s *Server) handlePermissions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut:
		s.upsertPermission(w, r)
	case http.MethodDelete:
		s.deletePermission(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) upsertPermission(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if !readBody(w, r, &req) {
		return
	}
	key := permission.Key(req.Key)
	if !permission.Known(key) {
		writeError(w, http.StatusBadRequest, "unknown permission key")
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "value required")
		return
	}
	if err := req.Value.Validate(key); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o := permission.Override{Scope: req.Scope, ScopeID: req.ScopeID, Key: key, Value: *req.Value}
	if err := s.DB.UpsertOverride(r.Context(), o); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.appendAudit(r, req.ScopeID, key, audit.EventOverrideSet, map[string]any{"scope": req.Scope, "mode": string(req.Value.Mode)})
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) deletePermission(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope, scopeID := q.Get("scope"), q.Get("scope_id")
	key := permission.Key(q.Get("permission_key"))
	if !permission.Known(key) {
		writeError(w, http.StatusBadRequest, "unknown permission key")
		return
	}
	if err := s.DB.DeleteOverride(r.Context(), scope, scopeID, key); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.appendAudit(r, scopeID, key, audit.EventOverrideDeleted, map[string]any{"scope": scope})
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /v1/approvals
func (s *Server) handleApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s.Gate.Pending()})
}

// POST /v1/approvals/{id}/approve | /v1/approvals/{id}/deny
func (s *Server) handleApprovalByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/approvals/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	requestID := parts[0]
	var err error
	switch parts[1] {
	case "approve":
		var body struct {
			Scope string `json:"scope"`
		}
		if !readBody(w, r, &body) {
			return
		}
		if body.Scope == "" {
			body.Scope = string(approval.ScopeOnce)
		}
		err = s.Gate.Approve(r.Context(), requestID, approval.ResolutionScope(body.Scope), actor(r))
	case "deny":
		err = s.Gate.Deny(r.Context(), requestID, actor(r))
	default:
		http.NotFound(w, r)
		return
	}
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
	case errors.Is(err, approval.ErrUnknownRequest):
		writeError(w, http.StatusNotFound, "approval request not found")
	case errors.Is(err, approval.ErrInvalidScope):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// GET /v1/audit/entries?bot_id=&since_days=&limit=
func (s *Server) handleAuditEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sinceDays := 0
	if v := r.URL.Query().Get("since_days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			sinceDays = n
		}
	}
	payload, err := s.Audit.Query(r.Context(), r.URL.Query().Get("bot_id"), sinceDays, parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query audit log")
		return
	}
	writeRaw(w, http.StatusOK, payload)
}

// POST /v1/agent/plan
func (s *Server) handleAgentPlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		BotID string `json:"bot_id"`
		Goal  string `json:"goal"`
	}
	if !readBody(w, r, &body) {
		return
	}
	if body.BotID == "" || strings.TrimSpace(body.Goal) == "" {
		writeError(w, http.StatusBadRequest, "bot_id and goal required")
		return
	}
	plan, err := s.Planner.Plan(r.Context(), body.BotID, body.Goal)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

// POST /v1/agent/runs  |  GET /v1/agent/runs?bot_id=&limit=
func (s *Server) handleAgentRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.startRun(w, r)
	case http.MethodGet:
		payload, err := s.DB.ListRuns(r.Context(), r.URL.Query().Get("bot_id"), parseLimit(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list runs")
			return
		}
		writeRaw(w, http.StatusOK, payload)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BotID  string `json:"bot_id"`
		Goal   string `json:"goal"`
		PlanID string `json:"plan_id"`
	}
	if !readBody(w, r, &body) {
		return
	}
	if body.BotID == "" {
		writeError(w, http.StatusBadRequest, "bot_id required")
		return
	}
	res, err := s.Executor.Execute(r.Context(), agent.Request{
		BotID:   body.BotID,
		Goal:    body.Goal,
		PlanID:  body.PlanID,
		Trigger: agent.TriggerManual,
	})
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	if payload, dbErr := s.DB.GetRun(r.Context(), res.RunID); dbErr == nil && payload != nil {
		writeRaw(w, http.StatusOK, payload)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// writeRunError maps executor entry rejections. Policy denials carry the
// per-key message so the UI can explain the refusal.
func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, agent.ErrManualMode):
		msg := permission.MessageFor(permission.KeyAutonomyLevel)
		writeJSON(w, http.StatusForbidden, map[string]any{"error": err.Error(), "message": msg})
	case errors.Is(err, agent.ErrPlanRequired):
		writeJSON(w, http.StatusForbidden, map[string]any{"error": err.Error()})
	case errors.Is(err, agent.ErrCooldown):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, agent.ErrPlanNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, permission.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "policy store unavailable")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// GET /v1/agent/runs/{id}  |  GET /v1/agent/runs/{id}/steps
func (s *Server) handleAgentRunByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/agent/runs/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		payload, err := s.DB.GetRun(r.Context(), parts[0])
		if err != nil {
			writeError(w, http.StatusInternalServerError, "get run")
			return
		}
		if payload == nil {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeRaw(w, http.StatusOK, payload)
	case len(parts) == 2 && parts[1] == "steps":
		payload, err := s.DB.ListSteps(r.Context(), parts[0])
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list steps")
			return
		}
		writeRaw(w, http.StatusOK, payload)
	default:
		http.NotFound(w, r)
	}
}

// GET/POST /v1/schedules
func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		payload, err := s.DB.ListSchedules(r.Context(), parseLimit(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list schedules")
			return
		}
		writeRaw(w, http.StatusOK, payload)
	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "read body")
			return
		}
		id, err := s.DB.CreateSchedule(r.Context(), body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"schedule_id": id})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// DELETE /v1/schedules/{id}
func (s *Server) handleScheduleByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/schedules/"), "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if err := s.DB.DeleteSchedule(r.Context(), id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) appendAudit(r *http.Request, botID string, key permission.Key, event string, details map[string]any) {
	if s.Audit == nil {
		return
	}
	entry := audit.Entry{BotID: botID, EventType: event, Key: string(key), ActorKind: audit.ActorUser, Details: details}
	if err := s.Audit.Append(r.Context(), entry); err != nil {
		s.log.Error("audit append failed", slog.String("event", event), slog.Any("error", err))
	}
}
