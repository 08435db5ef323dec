package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"botward/internal/agent"
)

type Schedule struct {
	ScheduleID string    `json:"schedule_id"`
	BotID      string    `json:"bot_id"`
	Cron       string    `json:"cron"`
	Goal       string    `json:"goal"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
	LastRunAt  time.Time `json:"last_run_at"`
}

type ScheduleStore interface {
	ListSchedules(ctx context.Context, limit int) ([]byte, error)
	UpdateScheduleLastRun(ctx context.Context, scheduleID string, at time.Time) error
}

// Scheduler polls bot_schedules and starts runs for due entries with the
// scheduled trigger. A schedule the executor refuses (manual mode, cooldown)
// is logged and skipped; last_run_at still advances so a blocked schedule
// does not retry every poll.
type Scheduler struct {
	Store        ScheduleStore
	Executor     RunStarter
	PollInterval time.Duration
	Now          func() time.Time
	Parser       *cron.Parser

	log *slog.Logger
}

func NewScheduler(store ScheduleStore, executor RunStarter) *Scheduler {
	return &Scheduler{
		Store:    store,
		Executor: executor,
		log:      slog.Default().With(slog.String("component", "scheduler")),
	}
}

func (s *Scheduler) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Store == nil {
		return errors.New("store required")
	}
	if s.Executor == nil {
		return errors.New("executor required")
	}
	s.defaults()
	if _, err := s.RunOnce(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				return err
			}
		}
	}
}

func (s *Scheduler) defaults() {
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.Parser == nil {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		s.Parser = &parser
	}
	if s.PollInterval <= 0 {
		s.PollInterval = 30 * time.Second
	}
	if s.log == nil {
		s.log = slog.Default().With(slog.String("component", "scheduler"))
	}
}

// RunOnce fires every due schedule and returns how many runs started.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	if s.Store == nil {
		return 0, errors.New("store required")
	}
	s.defaults()
	payload, err := s.Store.ListSchedules(ctx, 200)
	if err != nil {
		return 0, err
	}
	var schedules []Schedule
	if err := json.Unmarshal(payload, &schedules); err != nil {
		return 0, err
	}
	now := s.Now().UTC()
	count := 0
	for _, schedule := range schedules {
		if !schedule.Enabled {
			continue
		}
		spec, err := s.Parser.Parse(strings.TrimSpace(schedule.Cron))
		if err != nil {
			s.log.Error("bad cron expression", slog.String("schedule_id", schedule.ScheduleID), slog.Any("error", err))
			continue
		}
		last := schedule.LastRunAt
		if last.IsZero() {
			last = schedule.CreatedAt
		}
		if spec.Next(last).After(now) {
			continue
		}
		if err := s.Store.UpdateScheduleLastRun(ctx, schedule.ScheduleID, now); err != nil {
			return count, err
		}
		res, err := s.Executor.Execute(ctx, agent.Request{
			BotID:   schedule.BotID,
			Goal:    schedule.Goal,
			Trigger: agent.TriggerScheduled,
		})
		if err != nil {
			s.log.Warn("scheduled run rejected",
				slog.String("schedule_id", schedule.ScheduleID),
				slog.String("bot_id", schedule.BotID),
				slog.Any("error", err))
			continue
		}
		s.log.Info("scheduled run finished",
			slog.String("schedule_id", schedule.ScheduleID),
			slog.String("run_id", res.RunID),
			slog.String("status", res.Status))
		count++
	}
	return count, nil
}
