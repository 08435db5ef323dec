package agent

import (
	"context"
	"fmt"
	"sort"

	"botward/internal/permission"
)

// Result is a tool invocation's output. Rationale is optional free text
// explaining what the tool did, recorded on the step.
type Result struct {
	Output    string
	Rationale string
}

// Tool is one capability the executor may invoke. Permission names the key
// the approval gate checks before every invocation. Critical tools abort the
// run on error; non-critical tools record the error and let the run continue.
type Tool interface {
	Key() string
	Permission() permission.Key
	Critical() bool
	Invoke(ctx context.Context, input string) (Result, error)
}

// Cancellable marks tools whose Invoke honors ctx cancellation mid-call.
// Tools without it are only cancelled at step boundaries.
type Cancellable interface {
	Cancellable() bool
}

// Registry maps tool keys to tools. Registration happens at startup; reads
// during runs need no locking.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: map[string]Tool{}}
	for _, t := range tools {
		r.tools[t.Key()] = t
	}
	return r
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Key()] = t
}

func (r *Registry) Get(key string) (Tool, error) {
	t, ok := r.tools[key]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", key)
	}
	return t, nil
}

// Keys lists registered tool keys, sorted for stable prompts.
func (r *Registry) Keys() []string {
	out := make([]string, 0, len(r.tools))
	for k := range r.tools {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
