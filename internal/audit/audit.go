package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Event types recorded by the gateway. Every permission decision and every
// agent lifecycle transition produces exactly one entry.
const (
	EventAutoAllowed       = "auto_allowed"
	EventAutoDenied        = "auto_denied"
	EventApprovalRequested = "approval_requested"
	EventApprovedOnce      = "approved_once"
	EventApprovedBot       = "approved_bot"
	EventApprovedGlobal    = "approved_global"
	EventDenied            = "denied"
	EventPlanCreated       = "plan_created"
	EventRunStarted        = "run_started"
	EventRunFinished       = "run_finished"
	EventStepFinished      = "step_finished"
	EventStoreError        = "store_error"
	EventOverrideSet       = "override_set"
	EventOverrideDeleted   = "override_deleted"
)

// Actor kinds: who caused the entry.
const (
	ActorUser   = "user"
	ActorAgent  = "agent"
	ActorSystem = "system"
)

type Entry struct {
	BotID     string
	EventType string
	Key       string
	ActorKind string
	Details   map[string]any
}

type Writer interface {
	InsertAuditEntry(ctx context.Context, botID, eventType, permissionKey, actorKind string, details []byte) (string, error)
	ListAuditEntries(ctx context.Context, botID string, since time.Time, limit int) ([]byte, error)
}

// Recorder appends immutable audit entries. Appends within one process are
// serialized under a mutex so the bigserial row order matches decision order.
type Recorder struct {
	mu sync.Mutex
	db Writer
}

func New() *Recorder {
	return &Recorder{}
}

func NewWithDB(db Writer) *Recorder {
	return &Recorder{db: db}
}

func (r *Recorder) Append(ctx context.Context, e Entry) error {
	if r == nil || r.db == nil {
		return nil
	}
	var details []byte
	if len(e.Details) > 0 {
		details, _ = json.Marshal(e.Details)
	}
	if e.ActorKind == "" {
		e.ActorKind = ActorSystem
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.InsertAuditEntry(ctx, e.BotID, e.EventType, e.Key, e.ActorKind, details)
	return err
}

// Query returns recent entries newest-first, optionally filtered by bot.
func (r *Recorder) Query(ctx context.Context, botID string, sinceDays, limit int) ([]byte, error) {
	if r == nil || r.db == nil {
		return []byte(`[]`), nil
	}
	if sinceDays <= 0 {
		sinceDays = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -sinceDays)
	return r.db.ListAuditEntries(ctx, botID, since, limit)
}
