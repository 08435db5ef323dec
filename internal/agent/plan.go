package agent

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"botward/internal/permission"
)

// ErrPlanNotFound means the plan id is stale or never existed. It is
// deliberately distinct from a policy denial.
var ErrPlanNotFound = errors.New("plan not found")

type PlanStep struct {
	ToolKey       string              `json:"tool_key"`
	Description   string              `json:"description"`
	PermissionKey permission.Key      `json:"permission_key"`
	RiskTier      permission.RiskTier `json:"risk_tier"`
	Critical      bool                `json:"critical"`
}

// RiskSummary tallies plan steps by static risk tier.
type RiskSummary struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

func (s *RiskSummary) add(tier permission.RiskTier) {
	switch tier {
	case permission.RiskLow:
		s.Low++
	case permission.RiskMedium:
		s.Medium++
	default:
		s.High++
	}
}

// Plan is a proposal, not an authorization. Policy is re-checked per step at
// execution time.
type Plan struct {
	PlanID              string           `json:"plan_id"`
	BotID               string           `json:"bot_id"`
	Goal                string           `json:"goal"`
	Steps               []PlanStep       `json:"steps"`
	RequiredPermissions []permission.Key `json:"required_permissions"`
	RiskSummary         RiskSummary      `json:"risk_summary"`
	CreatedAt           time.Time        `json:"created_at"`
}

// PlanRegistry holds plans in memory for the caller's session. Plans expire
// after the TTL; execution against an expired or unknown id fails with
// ErrPlanNotFound.
type PlanRegistry struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	plans map[string]Plan
}

func NewPlanRegistry(ttl time.Duration) *PlanRegistry {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &PlanRegistry{
		ttl:   ttl,
		now:   time.Now,
		plans: map[string]Plan{},
	}
}

// Put stores the plan and assigns its id when empty.
func (r *PlanRegistry) Put(p Plan) Plan {
	if p.PlanID == "" {
		p.PlanID = "plan_" + uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune()
	r.plans[p.PlanID] = p
	return p
}

func (r *PlanRegistry) Get(planID string) (Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune()
	p, ok := r.plans[planID]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return p, nil
}

// prune drops expired plans. Caller holds the lock.
func (r *PlanRegistry) prune() {
	cutoff := r.now().Add(-r.ttl)
	for id, p := range r.plans {
		if p.CreatedAt.Before(cutoff) {
			delete(r.plans, id)
		}
	}
}
