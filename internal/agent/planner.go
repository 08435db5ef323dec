package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"botward/internal/audit"
	"botward/internal/llm"
	"botward/internal/permission"
)

// planSchema constrains what the reasoning collaborator may hand back. The
// collaborator proposes tool keys and descriptions only; permission keys and
// risk tiers are annotated locally from the registry, never trusted from the
// model.
const planSchema = `{
	"type": "object",
	"required": ["steps"],
	"properties": {
		"steps": {
			"type": "array",
			"minItems": 1,
			"maxItems": 10,
			"items": {
				"type": "object",
				"required": ["tool_key", "description"],
				"properties": {
					"tool_key": {"type": "string", "minLength": 1},
					"description": {"type": "string", "minLength": 1},
					"critical": {"type": "boolean"}
				}
			}
		}
	}
}`

const plannerMaxTokens = 1024

// Planner turns a goal into a sequential plan. It is pure with respect to
// policy: no tool runs, no gate checks, only a plan_created audit entry.
type Planner struct {
	Completer llm.Completer
	Tools     *Registry
	Plans     *PlanRegistry
	Audit     *audit.Recorder
}

func NewPlanner(completer llm.Completer, tools *Registry, plans *PlanRegistry, rec *audit.Recorder) *Planner {
	return &Planner{Completer: completer, Tools: tools, Plans: plans, Audit: rec}
}

type rawPlan struct {
	Steps []struct {
		ToolKey     string `json:"tool_key"`
		Description string `json:"description"`
		Critical    bool   `json:"critical"`
	} `json:"steps"`
}

func (p *Planner) Plan(ctx context.Context, botID, goal string) (Plan, error) {
	if strings.TrimSpace(goal) == "" {
		return Plan{}, fmt.Errorf("goal required")
	}
	out, err := p.Completer.Complete(ctx, p.prompt(goal), plannerMaxTokens)
	if err != nil {
		return Plan{}, fmt.Errorf("plan completion: %w", err)
	}
	raw, err := parsePlanJSON(out)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{BotID: botID, Goal: goal}
	seen := map[permission.Key]bool{}
	for _, s := range raw.Steps {
		tool, err := p.Tools.Get(s.ToolKey)
		if err != nil {
			return Plan{}, fmt.Errorf("plan references %w", err)
		}
		key := tool.Permission()
		step := PlanStep{
			ToolKey:       s.ToolKey,
			Description:   s.Description,
			PermissionKey: key,
			RiskTier:      permission.Risk(key),
			Critical:      s.Critical || tool.Critical(),
		}
		plan.Steps = append(plan.Steps, step)
		plan.RiskSummary.add(step.RiskTier)
		if !seen[key] {
			seen[key] = true
			plan.RequiredPermissions = append(plan.RequiredPermissions, key)
		}
	}
	plan = p.Plans.Put(plan)

	if p.Audit != nil {
		_ = p.Audit.Append(ctx, audit.Entry{
			BotID:     botID,
			EventType: audit.EventPlanCreated,
			ActorKind: audit.ActorAgent,
			Details: map[string]any{
				"plan_id": plan.PlanID,
				"goal":    goal,
				"steps":   len(plan.Steps),
			},
		})
	}
	return plan, nil
}

func (p *Planner) prompt(goal string) string {
	var b strings.Builder
	b.WriteString("You are a planning assistant for an automated bot. ")
	b.WriteString("Break the goal into an ordered list of tool invocations.\n")
	b.WriteString("Available tools: ")
	b.WriteString(strings.Join(p.Tools.Keys(), ", "))
	b.WriteString("\nRespond with JSON only, no prose, of the form ")
	b.WriteString(`{"steps":[{"tool_key":"...","description":"...","critical":false}]}.`)
	b.WriteString("\nGoal: ")
	b.WriteString(goal)
	return b.String()
}

// parsePlanJSON validates the collaborator's output before trusting it.
func parsePlanJSON(out string) (rawPlan, error) {
	out = strings.TrimSpace(out)
	// Tolerate markdown fences some models insist on.
	if strings.HasPrefix(out, "```") {
		out = strings.TrimPrefix(out, "```json")
		out = strings.TrimPrefix(out, "```")
		out = strings.TrimSuffix(out, "```")
		out = strings.TrimSpace(out)
	}
	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(planSchema), gojsonschema.NewStringLoader(out))
	if err != nil {
		return rawPlan{}, fmt.Errorf("plan is not valid JSON: %w", err)
	}
	if !result.Valid() {
		return rawPlan{}, fmt.Errorf("plan rejected by schema: %s", result.Errors()[0].String())
	}
	var raw rawPlan
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return rawPlan{}, err
	}
	return raw, nil
}
