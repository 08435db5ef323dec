package web

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"botward/internal/agent"
)

type fakeScheduleStore struct {
	schedules []Schedule
	listErr   error
	updated   map[string]time.Time
	updateErr error
}

func (f *fakeScheduleStore) ListSchedules(ctx context.Context, limit int) ([]byte, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return json.Marshal(f.schedules)
}

func (f *fakeScheduleStore) UpdateScheduleLastRun(ctx context.Context, scheduleID string, at time.Time) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if f.updated == nil {
		f.updated = map[string]time.Time{}
	}
	f.updated[scheduleID] = at
	return nil
}

func testScheduler(store *fakeScheduleStore, exec RunStarter, now time.Time) *Scheduler {
	s := NewScheduler(store, exec)
	s.Now = func() time.Time { return now }
	return s
}

func TestSchedulerFiresDueSchedule(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeScheduleStore{schedules: []Schedule{{
		ScheduleID: "sched_1",
		BotID:      "bot1",
		Cron:       "0 9 * * *",
		Goal:       "morning digest",
		Enabled:    true,
		CreatedAt:  now.Add(-48 * time.Hour),
		LastRunAt:  now.Add(-24 * time.Hour),
	}}}
	exec := &fakeExecutor{res: agent.RunResult{RunID: "run_1", Status: agent.StatusSuccess}}
	s := testScheduler(store, exec, now)

	count, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if count != 1 {
		t.Fatalf("count: %d", count)
	}
	if len(exec.reqs) != 1 || exec.reqs[0].Trigger != agent.TriggerScheduled || exec.reqs[0].Goal != "morning digest" {
		t.Fatalf("reqs: %+v", exec.reqs)
	}
	if !store.updated["sched_1"].Equal(now) {
		t.Fatalf("last_run_at: %v", store.updated["sched_1"])
	}
}

func TestSchedulerSkipsNotDue(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	store := &fakeScheduleStore{schedules: []Schedule{{
		ScheduleID: "sched_1",
		BotID:      "bot1",
		Cron:       "0 9 * * *",
		Enabled:    true,
		LastRunAt:  time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC),
	}}}
	exec := &fakeExecutor{}
	s := testScheduler(store, exec, now)

	count, err := s.RunOnce(context.Background())
	if err != nil || count != 0 {
		t.Fatalf("count=%d err=%v", count, err)
	}
	if len(exec.reqs) != 0 {
		t.Fatalf("executor should not run: %+v", exec.reqs)
	}
}

func TestSchedulerSkipsDisabled(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeScheduleStore{schedules: []Schedule{{
		ScheduleID: "sched_1",
		BotID:      "bot1",
		Cron:       "0 9 * * *",
		Enabled:    false,
		LastRunAt:  now.Add(-24 * time.Hour),
	}}}
	exec := &fakeExecutor{}
	s := testScheduler(store, exec, now)

	if count, _ := s.RunOnce(context.Background()); count != 0 {
		t.Fatalf("count: %d", count)
	}
	if len(exec.reqs) != 0 {
		t.Fatalf("executor should not run")
	}
}

func TestSchedulerBadCronSkipped(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeScheduleStore{schedules: []Schedule{
		{ScheduleID: "bad", BotID: "bot1", Cron: "not a cron", Enabled: true},
		{ScheduleID: "good", BotID: "bot1", Cron: "0 9 * * *", Enabled: true, LastRunAt: now.Add(-24 * time.Hour)},
	}}
	exec := &fakeExecutor{res: agent.RunResult{RunID: "run_1", Status: agent.StatusSuccess}}
	s := testScheduler(store, exec, now)

	count, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if count != 1 || len(exec.reqs) != 1 {
		t.Fatalf("count=%d reqs=%d", count, len(exec.reqs))
	}
}

func TestSchedulerAdvancesLastRunOnRejection(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeScheduleStore{schedules: []Schedule{{
		ScheduleID: "sched_1",
		BotID:      "bot1",
		Cron:       "0 9 * * *",
		Enabled:    true,
		LastRunAt:  now.Add(-24 * time.Hour),
	}}}
	exec := &fakeExecutor{err: agent.ErrManualMode}
	s := testScheduler(store, exec, now)

	count, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("rejections are not scheduler errors: %v", err)
	}
	if count != 0 {
		t.Fatalf("count: %d", count)
	}
	// last_run_at still moved so the blocked schedule does not retry every poll.
	if !store.updated["sched_1"].Equal(now) {
		t.Fatalf("last_run_at: %v", store.updated["sched_1"])
	}
}

func TestSchedulerNeverRunBeforeUsesCreatedAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeScheduleStore{schedules: []Schedule{{
		ScheduleID: "sched_1",
		BotID:      "bot1",
		Cron:       "0 9 * * *",
		Enabled:    true,
		CreatedAt:  now.Add(-5 * time.Hour),
	}}}
	exec := &fakeExecutor{res: agent.RunResult{RunID: "run_1", Status: agent.StatusSuccess}}
	s := testScheduler(store, exec, now)

	if count, _ := s.RunOnce(context.Background()); count != 1 {
		t.Fatalf("schedule created before today's 09:00 should fire, count=%d", count)
	}
}

func TestSchedulerListError(t *testing.T) {
	store := &fakeScheduleStore{listErr: errors.New("db down")}
	s := testScheduler(store, &fakeExecutor{}, time.Now())
	if _, err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSchedulerRunRequiresDeps(t *testing.T) {
	s := &Scheduler{}
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("expected error without store")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s = NewScheduler(&fakeScheduleStore{}, &fakeExecutor{})
	if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err: %v", err)
	}
}
