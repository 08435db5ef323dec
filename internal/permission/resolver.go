package permission

import (
	"context"
	"errors"
	"fmt"
)

// Source records which policy layer produced an effective value.
type Source string

const (
	SourceDefault Source = "default"
	SourceGlobal  Source = "global"
	SourceBot     Source = "bot"
)

// Override scope names as stored.
const (
	ScopeGlobal = "global"
	ScopeBot    = "bot"
)

// ErrStoreUnavailable wraps a policy store read failure. Callers must treat
// it as a denial (fail closed), never as an allow.
var ErrStoreUnavailable = errors.New("policy store unavailable")

// Override is one stored row: a value pinned at a scope.
type Override struct {
	Scope   string `json:"scope"`
	ScopeID string `json:"scope_id"` // bot id, or "" for global
	Key     Key    `json:"permission_key"`
	Value   Value  `json:"value"`
}

// OverrideStore is the read side of the policy store.
type OverrideStore interface {
	GetOverride(ctx context.Context, scope, scopeID string, key Key) (*Value, error)
	// ListOverrides returns every global override plus every override for
	// botID in a single read, so batch resolution sees one snapshot.
	ListOverrides(ctx context.Context, botID string) ([]Override, error)
}

// Env is the trust signal from the hosting environment. It only influences
// the autonomy clamp applied at resolution time; stored values are never
// rewritten.
type Env struct {
	TrustedHost bool
}

// MaxAutonomy is the highest level the environment will honor.
func (e Env) MaxAutonomy() AutonomyLevel {
	if e.TrustedHost {
		return AutonomyL3
	}
	return AutonomyL2
}

// Effective is a resolved (bot, key) policy with its provenance.
type Effective struct {
	Key    Key    `json:"permission_key"`
	Value  Value  `json:"value"`
	Source Source `json:"source"`
}

// lookupFn is one link in the resolution chain: return a value if this
// layer has an opinion, nil to fall through.
type lookupFn func(ctx context.Context, botID string, key Key) (*Value, Source, error)

// Resolver merges default, global, and bot-scope policy. The scopes form an
// ordered chain; the first layer with a value wins, so adding a scope means
// inserting a link, not editing conditionals.
type Resolver struct {
	Store OverrideStore
	Env   Env

	chain []lookupFn
}

func NewResolver(store OverrideStore, env Env) *Resolver {
	r := &Resolver{Store: store, Env: env}
	r.chain = []lookupFn{r.lookupBot, r.lookupGlobal, lookupDefault}
	return r
}

func (r *Resolver) lookupBot(ctx context.Context, botID string, key Key) (*Value, Source, error) {
	if botID == "" {
		return nil, SourceBot, nil
	}
	v, err := r.Store.GetOverride(ctx, ScopeBot, botID, key)
	if err != nil {
		return nil, SourceBot, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return v, SourceBot, nil
}

func (r *Resolver) lookupGlobal(ctx context.Context, botID string, key Key) (*Value, Source, error) {
	v, err := r.Store.GetOverride(ctx, ScopeGlobal, "", key)
	if err != nil {
		return nil, SourceGlobal, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return v, SourceGlobal, nil
}

func lookupDefault(_ context.Context, _ string, key Key) (*Value, Source, error) {
	v, ok := DefaultValue(key)
	if !ok {
		return nil, SourceDefault, fmt.Errorf("unknown permission key %q", key)
	}
	return &v, SourceDefault, nil
}

// Resolve computes the effective policy for (botID, key). The result always
// has a definite approval mode; absence of overrides is not an error.
func (r *Resolver) Resolve(ctx context.Context, botID string, key Key) (Effective, error) {
	for _, lookup := range r.chain {
		v, source, err := lookup(ctx, botID, key)
		if err != nil {
			return Effective{}, err
		}
		if v == nil {
			continue
		}
		eff := Effective{Key: key, Value: *v, Source: source}
		r.clamp(&eff)
		return eff, nil
	}
	return Effective{}, fmt.Errorf("no resolution for key %q", key)
}

// ResolveAll resolves every defined key from one store snapshot. Results are
// identical to calling Resolve per key against that snapshot.
func (r *Resolver) ResolveAll(ctx context.Context, botID string) (map[Key]Effective, error) {
	rows, err := r.Store.ListOverrides(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	botRows := map[Key]Value{}
	globalRows := map[Key]Value{}
	for _, row := range rows {
		switch row.Scope {
		case ScopeBot:
			if row.ScopeID == botID && botID != "" {
				botRows[row.Key] = row.Value
			}
		case ScopeGlobal:
			globalRows[row.Key] = row.Value
		}
	}
	out := make(map[Key]Effective, len(keyTable))
	for _, key := range Keys() {
		eff := Effective{Key: key}
		if v, ok := botRows[key]; ok {
			eff.Value, eff.Source = v, SourceBot
		} else if v, ok := globalRows[key]; ok {
			eff.Value, eff.Source = v, SourceGlobal
		} else {
			v, _ := DefaultValue(key)
			eff.Value, eff.Source = v, SourceDefault
		}
		r.clamp(&eff)
		out[key] = eff
	}
	return out, nil
}

// Autonomy resolves the effective autonomy level for a bot, clamp included.
func (r *Resolver) Autonomy(ctx context.Context, botID string) (AutonomyLevel, error) {
	eff, err := r.Resolve(ctx, botID, KeyAutonomyLevel)
	if err != nil {
		return AutonomyL0, err
	}
	return AutonomyFromValue(eff.Value), nil
}

// clamp caps the autonomy level at what the environment allows. Applied at
// resolution time only: the stored value remains the user's intent.
func (r *Resolver) clamp(eff *Effective) {
	if eff.Key != KeyAutonomyLevel || eff.Value.Scope == nil {
		return
	}
	if eff.Value.Scope.Kind != ScopeKindAutonomy {
		return
	}
	max := r.Env.MaxAutonomy()
	if eff.Value.Scope.Level > max {
		scope := *eff.Value.Scope
		scope.Level = max
		eff.Value.Scope = &scope
	}
}
