package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"botward/internal/audit"
	"botward/internal/metrics"
	"botward/internal/permission"
)

type Outcome string

const (
	OutcomeAllowed          Outcome = "allowed"
	OutcomeDenied           Outcome = "denied"
	OutcomeRequiresApproval Outcome = "requires_approval"
)

// ResolutionScope is how broadly an approval applies.
type ResolutionScope string

const (
	ScopeOnce   ResolutionScope = "once"
	ScopeBot    ResolutionScope = "bot"
	ScopeGlobal ResolutionScope = "global"
)

var (
	ErrUnknownRequest  = errors.New("unknown approval request")
	ErrInvalidScope    = errors.New("invalid resolution scope")
	ErrApprovalTimeout = errors.New("approval wait timed out")
)

// Resolution is the answer to a pending request.
type Resolution struct {
	Approved bool
	Scope    ResolutionScope
	Actor    string
}

// Decision is the gate's answer for one intended action.
type Decision struct {
	Outcome   Outcome            `json:"outcome"`
	Key       permission.Key     `json:"permission_key"`
	Source    permission.Source  `json:"source,omitempty"`
	Reason    string             `json:"reason,omitempty"`
	Message   permission.Message `json:"message,omitempty"`
	Scopes    []ResolutionScope  `json:"scopes,omitempty"`
	RequestID string             `json:"request_id,omitempty"`
}

// Request is a pending approval visible to operators.
type Request struct {
	RequestID      string         `json:"request_id"`
	BotID          string         `json:"bot_id"`
	Key            permission.Key `json:"permission_key"`
	Action         string         `json:"action"`
	PayloadSummary string         `json:"payload_summary,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

type pendingRequest struct {
	Request
	done     chan Resolution
	once     sync.Once
	resolved atomic.Bool
}

// resolve fires the one-shot. Reports whether this call won; losers see the
// request as already resolved.
func (p *pendingRequest) resolve(r Resolution) bool {
	fired := false
	p.once.Do(func() {
		p.done <- r
		p.resolved.Store(true)
		fired = true
	})
	return fired
}

type resolver interface {
	Resolve(ctx context.Context, botID string, key permission.Key) (permission.Effective, error)
}

type overrideWriter interface {
	UpsertOverride(ctx context.Context, o permission.Override) error
}

// Gate decides whether an intended action may proceed, and brokers the
// human round-trip when policy says approval is required.
type Gate struct {
	Resolver resolver
	Store    overrideWriter
	Audit    *audit.Recorder
	Now      func() time.Time

	log     *slog.Logger
	mu      sync.Mutex
	pending map[string]*pendingRequest
}

func NewGate(res resolver, store overrideWriter, rec *audit.Recorder) *Gate {
	return &Gate{
		Resolver: res,
		Store:    store,
		Audit:    rec,
		Now:      time.Now,
		log:      slog.Default().With(slog.String("component", "approval")),
		pending:  map[string]*pendingRequest{},
	}
}

// Check resolves policy for one intended action. It never blocks: when
// policy requires approval it registers a pending request and returns
// immediately; callers that can wait use Wait with the returned request id.
func (g *Gate) Check(ctx context.Context, botID string, key permission.Key, action, payloadSummary string) Decision {
	eff, err := g.Resolver.Resolve(ctx, botID, key)
	if err != nil {
		// Fail closed. An unreadable policy store is a denial, never an allow.
		g.log.Error("policy resolution failed, denying", slog.String("bot_id", botID), slog.String("key", string(key)), slog.Any("error", err))
		metrics.StoreErrorsTotal.Inc()
		metrics.PolicyDecisionsTotal.WithLabelValues("denied", "store_error").Inc()
		g.appendAudit(ctx, botID, key, audit.EventStoreError, audit.ActorSystem, map[string]any{"action": action, "error": err.Error()})
		return Decision{Outcome: OutcomeDenied, Key: key, Reason: "policy store unavailable"}
	}

	switch {
	case !eff.Value.Enabled, eff.Value.Mode == permission.ModeAutoDenied:
		metrics.PolicyDecisionsTotal.WithLabelValues("denied", string(eff.Source)).Inc()
		g.appendAudit(ctx, botID, key, audit.EventAutoDenied, audit.ActorAgent, map[string]any{"action": action, "source": string(eff.Source)})
		return Decision{Outcome: OutcomeDenied, Key: key, Source: eff.Source, Reason: fmt.Sprintf("%s is disabled by policy", key)}
	case eff.Value.Mode == permission.ModeAutoAllowed:
		metrics.PolicyDecisionsTotal.WithLabelValues("allowed", string(eff.Source)).Inc()
		g.appendAudit(ctx, botID, key, audit.EventAutoAllowed, audit.ActorAgent, map[string]any{"action": action, "source": string(eff.Source)})
		return Decision{Outcome: OutcomeAllowed, Key: key, Source: eff.Source}
	}

	req := &pendingRequest{
		Request: Request{
			RequestID:      uuid.NewString(),
			BotID:          botID,
			Key:            key,
			Action:         action,
			PayloadSummary: payloadSummary,
			CreatedAt:      g.now(),
		},
		done: make(chan Resolution, 1),
	}
	g.mu.Lock()
	g.pending[req.RequestID] = req
	g.mu.Unlock()
	metrics.PendingApprovals.Inc()
	metrics.PolicyDecisionsTotal.WithLabelValues("requires_approval", string(eff.Source)).Inc()
	g.appendAudit(ctx, botID, key, audit.EventApprovalRequested, audit.ActorAgent, map[string]any{"action": action, "request_id": req.RequestID})

	return Decision{
		Outcome:   OutcomeRequiresApproval,
		Key:       key,
		Source:    eff.Source,
		Message:   permission.MessageFor(key),
		Scopes:    legalScopes(botID),
		RequestID: req.RequestID,
	}
}

// legalScopes lists how an operator may resolve a request. Bot scope only
// exists when the request is tied to a bot.
func legalScopes(botID string) []ResolutionScope {
	if botID == "" {
		return []ResolutionScope{ScopeOnce, ScopeGlobal}
	}
	return []ResolutionScope{ScopeOnce, ScopeBot, ScopeGlobal}
}

// Approve resolves a pending request in the caller's favor. Scope once
// covers exactly the single pending action; bot and global scopes also
// write a durable auto_allowed override before waking the waiter.
func (g *Gate) Approve(ctx context.Context, requestID string, scope ResolutionScope, actor string) error {
	req, err := g.lookup(requestID)
	if err != nil {
		return err
	}

	event := ""
	switch scope {
	case ScopeOnce:
		event = audit.EventApprovedOnce
	case ScopeBot:
		if req.BotID == "" {
			return fmt.Errorf("%w: request has no bot", ErrInvalidScope)
		}
		event = audit.EventApprovedBot
	case ScopeGlobal:
		event = audit.EventApprovedGlobal
	default:
		return fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}

	if scope != ScopeOnce && g.Store != nil {
		o := permission.Override{
			Scope: permission.ScopeGlobal,
			Key:   req.Key,
			Value: permission.Value{Enabled: true, Mode: permission.ModeAutoAllowed},
		}
		if scope == ScopeBot {
			o.Scope = permission.ScopeBot
			o.ScopeID = req.BotID
		}
		if err := g.Store.UpsertOverride(ctx, o); err != nil {
			return fmt.Errorf("persist approval override: %w", err)
		}
	}

	if !req.resolve(Resolution{Approved: true, Scope: scope, Actor: actor}) {
		return ErrUnknownRequest
	}
	metrics.PendingApprovals.Dec()
	metrics.ApprovalsTotal.WithLabelValues(string(scope)).Inc()
	g.appendAudit(ctx, req.BotID, req.Key, event, audit.ActorUser, map[string]any{"request_id": requestID, "action": req.Action, "actor": actor})
	return nil
}

// Deny resolves a pending request against the caller. No override is
// written; a retried action goes through a full fresh Check.
func (g *Gate) Deny(ctx context.Context, requestID, actor string) error {
	req, err := g.lookup(requestID)
	if err != nil {
		return err
	}
	if !req.resolve(Resolution{Approved: false, Actor: actor}) {
		return ErrUnknownRequest
	}
	metrics.PendingApprovals.Dec()
	metrics.ApprovalsTotal.WithLabelValues("deny").Inc()
	g.appendAudit(ctx, req.BotID, req.Key, audit.EventDenied, audit.ActorUser, map[string]any{"request_id": requestID, "action": req.Action, "actor": actor})
	return nil
}

// Wait blocks until the request is resolved, the timeout elapses, or ctx is
// cancelled. On timeout or cancellation the request is abandoned so a late
// Approve cannot authorize an action nobody is waiting on.
func (g *Gate) Wait(ctx context.Context, requestID string, timeout time.Duration) (Resolution, error) {
	g.mu.Lock()
	req, ok := g.pending[requestID]
	g.mu.Unlock()
	if !ok {
		return Resolution{}, ErrUnknownRequest
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-req.done:
		g.remove(requestID)
		return res, nil
	case <-timer.C:
		g.abandon(requestID, req)
		return Resolution{}, ErrApprovalTimeout
	case <-ctx.Done():
		g.abandon(requestID, req)
		return Resolution{}, ctx.Err()
	}
}

// Pending lists current unresolved requests, oldest first.
func (g *Gate) Pending() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Request, 0, len(g.pending))
	for _, req := range g.pending {
		if req.resolved.Load() {
			continue
		}
		out = append(out, req.Request)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.Before(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (g *Gate) lookup(requestID string) (*pendingRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.pending[requestID]
	if !ok || req.resolved.Load() {
		return nil, ErrUnknownRequest
	}
	return req, nil
}

// remove drops a request from the registry once its resolution has been
// consumed or abandoned. The entry stays in the map between resolution and
// the waiter's receive so an Approve landing before Wait is not lost.
func (g *Gate) remove(requestID string) {
	g.mu.Lock()
	delete(g.pending, requestID)
	g.mu.Unlock()
}

// abandon drops a request whose waiter gave up. Firing the one-shot here
// makes any later Approve or Deny report ErrUnknownRequest instead of
// authorizing an action nobody is waiting on.
func (g *Gate) abandon(requestID string, req *pendingRequest) {
	if req.resolve(Resolution{Approved: false, Actor: "system"}) {
		metrics.PendingApprovals.Dec()
	}
	g.remove(requestID)
}

func (g *Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *Gate) appendAudit(ctx context.Context, botID string, key permission.Key, event, actor string, details map[string]any) {
	if g.Audit == nil {
		return
	}
	if err := g.Audit.Append(ctx, audit.Entry{BotID: botID, EventType: event, Key: string(key), ActorKind: actor, Details: details}); err != nil {
		g.log.Error("audit append failed", slog.String("event", event), slog.Any("error", err))
	}
}
