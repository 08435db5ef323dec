package agent

import (
	"errors"
	"testing"
	"time"

	"botward/internal/permission"
)

func TestPlanRegistryPutGet(t *testing.T) {
	r := NewPlanRegistry(time.Minute)
	p := r.Put(Plan{BotID: "bot1", Goal: "do things"})
	if p.PlanID == "" {
		t.Fatalf("missing plan id")
	}
	got, err := r.Get(p.PlanID)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if got.Goal != "do things" {
		t.Fatalf("goal: %s", got.Goal)
	}
}

func TestPlanRegistryUnknown(t *testing.T) {
	r := NewPlanRegistry(time.Minute)
	if _, err := r.Get("plan_nope"); !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("err: %v", err)
	}
}

func TestPlanRegistryExpiry(t *testing.T) {
	r := NewPlanRegistry(time.Minute)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	p := r.Put(Plan{Goal: "stale"})
	now = now.Add(2 * time.Minute)
	if _, err := r.Get(p.PlanID); !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("expired plan should be gone, got %v", err)
	}
}

func TestRiskSummaryTally(t *testing.T) {
	var s RiskSummary
	s.add(permission.RiskLow)
	s.add(permission.RiskMedium)
	s.add(permission.RiskMedium)
	s.add(permission.RiskHigh)
	if s.Low != 1 || s.Medium != 2 || s.High != 1 {
		t.Fatalf("summary: %+v", s)
	}
}
