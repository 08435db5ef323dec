package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"botward/internal/approval"
	"botward/internal/audit"
	"botward/internal/db"
	"botward/internal/llm"
	"botward/internal/metrics"
	"botward/internal/permission"
)

// Run and step statuses as persisted.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
	StatusTimeout = "timeout"
	StatusBlocked = "blocked"
	StatusDenied  = "denied"
)

// Run triggers.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
	TriggerChat      = "chat"
)

var (
	// ErrManualMode rejects execution at autonomy L0, before any run row exists.
	ErrManualMode = errors.New("bot is in manual mode")
	// ErrCooldown rejects a run while the previous run's cooldown is active.
	ErrCooldown = errors.New("bot is cooling down")
	// ErrPlanRequired rejects a non-trivial L1 goal submitted without an
	// approved plan.
	ErrPlanRequired = errors.New("autonomy level requires an approved plan")
)

const summaryLimit = 512

// Budget bounds one run.
type Budget struct {
	MaxSteps     int
	RunTimeout   time.Duration
	MaxLLMCalls  int
	MaxToolCalls int
	Cooldown     time.Duration
	ApprovalWait time.Duration
}

func DefaultBudget() Budget {
	return Budget{
		MaxSteps:     5,
		RunTimeout:   30 * time.Second,
		MaxLLMCalls:  3,
		MaxToolCalls: 5,
		Cooldown:     60 * time.Second,
		ApprovalWait: 5 * time.Minute,
	}
}

type runStore interface {
	CreateRun(ctx context.Context, botID, trigger, goal string, autonomyLevel int, startedAt time.Time) (string, error)
	CompleteRun(ctx context.Context, runID, status, summary string, finishedAt time.Time, durationMs int64) error
	LatestRun(ctx context.Context, botID string) (*db.RunRef, error)
	CreateStep(ctx context.Context, runID string, stepIndex int, toolKey, permissionKey string, startedAt time.Time) (string, error)
	FinishStep(ctx context.Context, stepID, status, inputSummary, outputSummary, rationale string, durationMs int64) error
}

type stepGate interface {
	Check(ctx context.Context, botID string, key permission.Key, action, payloadSummary string) approval.Decision
	Wait(ctx context.Context, requestID string, timeout time.Duration) (approval.Resolution, error)
}

type autonomyResolver interface {
	Autonomy(ctx context.Context, botID string) (permission.AutonomyLevel, error)
}

// Request asks for one run.
type Request struct {
	BotID   string
	Goal    string
	PlanID  string
	Trigger string
}

// RunResult is the executor's answer once the run reached a terminal state.
type RunResult struct {
	RunID     string `json:"run_id"`
	Status    string `json:"status"`
	StepCount int    `json:"step_count"`
	Summary   string `json:"summary"`
}

// Executor drives one run at a time per invocation: entry checks, then the
// per-step loop with budget enforcement, gate checks, and tool invocation.
// It is the only writer of run and step rows for runs it created.
type Executor struct {
	Store     runStore
	Gate      stepGate
	Tools     *Registry
	Plans     *PlanRegistry
	Resolver  autonomyResolver
	Planner   *Planner
	Completer llm.Completer
	Audit     *audit.Recorder
	Budget    Budget
	Now       func() time.Time

	log *slog.Logger
}

func NewExecutor(store runStore, gate stepGate, tools *Registry, plans *PlanRegistry, res autonomyResolver) *Executor {
	return &Executor{
		Store:    store,
		Gate:     gate,
		Tools:    tools,
		Plans:    plans,
		Resolver: res,
		Budget:   DefaultBudget(),
		Now:      time.Now,
		log:      slog.Default().With(slog.String("component", "executor")),
	}
}

// Execute runs the request to a terminal state. Entry rejections (manual
// mode, cooldown, missing plan) happen before any run row exists and are
// returned as errors; everything after run creation terminates in a run
// status, never an error thrown past the caller.
func (e *Executor) Execute(ctx context.Context, req Request) (RunResult, error) {
	if req.BotID == "" {
		return RunResult{}, errors.New("bot id required")
	}
	if req.Trigger == "" {
		req.Trigger = TriggerManual
	}

	level, err := e.Resolver.Autonomy(ctx, req.BotID)
	if err != nil {
		// Fail closed: unreadable policy means no autonomous run.
		return RunResult{}, err
	}
	if level == permission.AutonomyL0 {
		return RunResult{}, ErrManualMode
	}
	if err := e.checkCooldown(ctx, req.BotID); err != nil {
		return RunResult{}, err
	}

	llmCalls := 0
	plan, err := e.resolvePlan(ctx, req, level, &llmCalls)
	if err != nil {
		return RunResult{}, err
	}

	start := e.now()
	runID, err := e.Store.CreateRun(ctx, req.BotID, req.Trigger, req.Goal, int(level), start)
	if err != nil {
		return RunResult{}, fmt.Errorf("create run: %w", err)
	}
	e.appendAudit(ctx, req.BotID, audit.EventRunStarted, "", map[string]any{"run_id": runID, "trigger": req.Trigger, "goal": req.Goal})

	res := e.drive(ctx, runID, req, plan, start, llmCalls)

	finished := e.now()
	durationMs := finished.Sub(start).Milliseconds()
	if err := e.Store.CompleteRun(ctx, runID, res.Status, res.Summary, finished, durationMs); err != nil {
		e.log.Error("complete run failed", slog.String("run_id", runID), slog.Any("error", err))
	}
	metrics.AgentRunsTotal.WithLabelValues(res.Status, req.Trigger).Inc()
	metrics.AgentRunDuration.WithLabelValues(req.Trigger).Observe(finished.Sub(start).Seconds())
	e.appendAudit(ctx, req.BotID, audit.EventRunFinished, "", map[string]any{"run_id": runID, "status": res.Status, "steps": res.StepCount})
	res.RunID = runID
	return res, nil
}

func (e *Executor) checkCooldown(ctx context.Context, botID string) error {
	last, err := e.Store.LatestRun(ctx, botID)
	if err != nil {
		return fmt.Errorf("latest run: %w", err)
	}
	if last == nil || !last.FinishedAt.Valid {
		return nil
	}
	if remaining := e.Budget.Cooldown - e.now().Sub(last.FinishedAt.Time); remaining > 0 {
		return fmt.Errorf("%w: %s remaining", ErrCooldown, remaining.Round(time.Second))
	}
	return nil
}

// resolvePlan decides what steps the run will attempt. At L1 a plan id is
// required unless the goal resolves to a single low-risk step; at L2+ a goal
// without a plan is planned on the fly when a planner is wired.
func (e *Executor) resolvePlan(ctx context.Context, req Request, level permission.AutonomyLevel, llmCalls *int) (Plan, error) {
	if req.PlanID != "" {
		return e.Plans.Get(req.PlanID)
	}
	if e.Planner == nil {
		return Plan{}, ErrPlanRequired
	}
	*llmCalls++
	plan, err := e.Planner.Plan(ctx, req.BotID, req.Goal)
	if err != nil {
		return Plan{}, err
	}
	if level == permission.AutonomyL1 && !trivialAsk(plan) {
		return Plan{}, ErrPlanRequired
	}
	return plan, nil
}

// trivialAsk is the L1 planning bypass: a single low-risk step.
func trivialAsk(plan Plan) bool {
	return len(plan.Steps) == 1 && plan.Steps[0].RiskTier == permission.RiskLow
}

// drive runs the per-step loop and returns the terminal result. Run row
// completion happens in Execute, exactly once.
func (e *Executor) drive(ctx context.Context, runID string, req Request, plan Plan, start time.Time, llmCalls int) RunResult {
	budget := e.Budget
	toolCalls := 0
	var outputs []string

	for i, step := range plan.Steps {
		// Budget and cancellation are enforced at the step boundary.
		if err := ctx.Err(); err != nil {
			return RunResult{Status: StatusError, StepCount: i, Summary: "run cancelled"}
		}
		elapsed := e.now().Sub(start)
		if elapsed >= budget.RunTimeout {
			e.recordCutoff(ctx, runID, i, plan, StatusTimeout, "wall-clock budget exhausted")
			return RunResult{Status: StatusTimeout, StepCount: i, Summary: fmt.Sprintf("wall-clock budget exhausted after %d of %d steps", i, len(plan.Steps))}
		}
		if i >= budget.MaxSteps {
			e.recordCutoff(ctx, runID, i, plan, StatusBlocked, fmt.Sprintf("step budget exhausted: %d steps max", budget.MaxSteps))
			return RunResult{Status: StatusBlocked, StepCount: i, Summary: fmt.Sprintf("step budget exhausted: %d steps max", budget.MaxSteps)}
		}
		if toolCalls >= budget.MaxToolCalls {
			e.recordCutoff(ctx, runID, i, plan, StatusBlocked, fmt.Sprintf("tool budget exhausted: %d calls max", budget.MaxToolCalls))
			return RunResult{Status: StatusBlocked, StepCount: i, Summary: fmt.Sprintf("tool budget exhausted: %d calls max", budget.MaxToolCalls)}
		}
		if llmCalls >= budget.MaxLLMCalls {
			e.recordCutoff(ctx, runID, i, plan, StatusBlocked, fmt.Sprintf("reasoning budget exhausted: %d calls max", budget.MaxLLMCalls))
			return RunResult{Status: StatusBlocked, StepCount: i, Summary: fmt.Sprintf("reasoning budget exhausted: %d calls max", budget.MaxLLMCalls)}
		}

		stepStart := e.now()
		stepID, err := e.Store.CreateStep(ctx, runID, i, step.ToolKey, string(step.PermissionKey), stepStart)
		if err != nil {
			e.log.Error("create step failed", slog.String("run_id", runID), slog.Any("error", err))
			return RunResult{Status: StatusError, StepCount: i, Summary: "step persistence failed"}
		}

		if step.PermissionKey != "" {
			decision := e.Gate.Check(ctx, req.BotID, step.PermissionKey, step.Description, truncate(step.Description))
			switch decision.Outcome {
			case approval.OutcomeDenied:
				e.finishStep(ctx, stepID, StatusDenied, step.Description, decision.Reason, "", stepStart)
				return RunResult{Status: StatusDenied, StepCount: i + 1, Summary: denialSummary(step, decision)}
			case approval.OutcomeRequiresApproval:
				remaining := budget.RunTimeout - e.now().Sub(start)
				wait := budget.ApprovalWait
				if remaining < wait {
					wait = remaining
				}
				resolution, err := e.Gate.Wait(ctx, decision.RequestID, wait)
				if err != nil {
					e.finishStep(ctx, stepID, StatusTimeout, step.Description, "no approval within wait window", "", stepStart)
					return RunResult{Status: StatusTimeout, StepCount: i + 1, Summary: fmt.Sprintf("approval for %s not resolved in time", step.PermissionKey)}
				}
				if !resolution.Approved {
					e.finishStep(ctx, stepID, StatusDenied, step.Description, "denied by "+resolution.Actor, "", stepStart)
					return RunResult{Status: StatusDenied, StepCount: i + 1, Summary: denialSummary(step, approval.Decision{Reason: "denied by operator"})}
				}
			}
		}

		tool, err := e.Tools.Get(step.ToolKey)
		if err != nil {
			e.finishStep(ctx, stepID, StatusError, step.Description, err.Error(), "", stepStart)
			if step.Critical {
				return RunResult{Status: StatusError, StepCount: i + 1, Summary: err.Error()}
			}
			continue
		}

		toolCalls++
		result, invokeErr := tool.Invoke(ctx, step.Description)
		outcome := StatusSuccess
		if invokeErr != nil {
			outcome = StatusError
		}
		metrics.ToolInvocationsTotal.WithLabelValues(step.ToolKey, outcome).Inc()
		if invokeErr != nil {
			e.finishStep(ctx, stepID, StatusError, step.Description, invokeErr.Error(), result.Rationale, stepStart)
			if step.Critical {
				return RunResult{Status: StatusError, StepCount: i + 1, Summary: fmt.Sprintf("%s failed: %v", step.ToolKey, invokeErr)}
			}
			continue
		}
		e.finishStep(ctx, stepID, StatusSuccess, step.Description, result.Output, result.Rationale, stepStart)
		outputs = append(outputs, result.Output)
	}

	return RunResult{
		Status:    StatusSuccess,
		StepCount: len(plan.Steps),
		Summary:   e.synthesize(ctx, req.Goal, outputs, &llmCalls),
	}
}

// recordCutoff writes the final step row a budget exit owes the trail: the
// step that was about to start, marked with the terminal status and naming
// every step that was never attempted.
func (e *Executor) recordCutoff(ctx context.Context, runID string, i int, plan Plan, status, reason string) {
	step := plan.Steps[i]
	started := e.now()
	stepID, err := e.Store.CreateStep(ctx, runID, i, step.ToolKey, string(step.PermissionKey), started)
	if err != nil {
		e.log.Error("record cutoff failed", slog.String("run_id", runID), slog.Any("error", err))
		return
	}
	remaining := make([]string, 0, len(plan.Steps)-i)
	for _, s := range plan.Steps[i:] {
		remaining = append(remaining, s.ToolKey)
	}
	e.finishStep(ctx, stepID, status, step.Description,
		fmt.Sprintf("%s; not attempted: %s", reason, strings.Join(remaining, ", ")), "", started)
}

func (e *Executor) finishStep(ctx context.Context, stepID, status, input, output, rationale string, started time.Time) {
	durationMs := e.now().Sub(started).Milliseconds()
	if err := e.Store.FinishStep(ctx, stepID, status, truncate(input), truncate(output), truncate(rationale), durationMs); err != nil {
		e.log.Error("finish step failed", slog.String("step_id", stepID), slog.Any("error", err))
	}
	e.appendAudit(ctx, "", audit.EventStepFinished, "", map[string]any{"step_id": stepID, "status": status})
}

// synthesize produces the run summary, via the reasoning collaborator when
// budget allows, otherwise by joining step outputs.
func (e *Executor) synthesize(ctx context.Context, goal string, outputs []string, llmCalls *int) string {
	if len(outputs) == 0 {
		return "completed with no output"
	}
	fallback := truncate(strings.Join(outputs, "; "))
	if e.Completer == nil || *llmCalls >= e.Budget.MaxLLMCalls {
		return fallback
	}
	*llmCalls++
	prompt := fmt.Sprintf("Summarize in two sentences what was accomplished for the goal %q given these step outputs:\n%s", goal, strings.Join(outputs, "\n"))
	out, err := e.Completer.Complete(ctx, prompt, 256)
	if err != nil {
		return fallback
	}
	return truncate(out)
}

func denialSummary(step PlanStep, decision approval.Decision) string {
	msg := permission.MessageFor(step.PermissionKey)
	if decision.Reason != "" {
		return fmt.Sprintf("%s: %s (%s)", step.PermissionKey, decision.Reason, msg.Impact)
	}
	return fmt.Sprintf("%s denied (%s)", step.PermissionKey, msg.Impact)
}

// truncate bounds summaries persisted on steps and runs so the audit surface
// never carries full payloads. The cut backs up to a rune boundary so a
// truncated summary is still valid UTF-8.
func truncate(s string) string {
	if len(s) <= summaryLimit {
		return s
	}
	cut := summaryLimit - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Executor) appendAudit(ctx context.Context, botID, event, key string, details map[string]any) {
	if e.Audit == nil {
		return
	}
	if err := e.Audit.Append(ctx, audit.Entry{BotID: botID, EventType: event, Key: key, ActorKind: audit.ActorAgent, Details: details}); err != nil {
		e.log.Error("audit append failed", slog.String("event", event), slog.Any("error", err))
	}
}
