package permission

import (
	"errors"
	"fmt"
)

// Mode is the per-permission disposition stored in policy.
type Mode string

const (
	ModeAutoAllowed      Mode = "auto_allowed"
	ModeApprovalRequired Mode = "approval_required"
	ModeAutoDenied       Mode = "auto_denied"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAutoAllowed, ModeApprovalRequired, ModeAutoDenied:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown approval mode %q", s)
	}
}

// EgressLevel bounds how much content may be sent to an external AI provider.
type EgressLevel string

const (
	EgressNone     EgressLevel = "none"
	EgressMetadata EgressLevel = "metadata"
	EgressFull     EgressLevel = "full"
)

// AutonomyLevel orders how much a bot may act without per-step confirmation.
// L0 is fully manual; L3 is only honored on a trusted host.
type AutonomyLevel int

const (
	AutonomyL0 AutonomyLevel = 0
	AutonomyL1 AutonomyLevel = 1
	AutonomyL2 AutonomyLevel = 2
	AutonomyL3 AutonomyLevel = 3
)

func (l AutonomyLevel) String() string {
	return fmt.Sprintf("L%d", int(l))
}

func (l AutonomyLevel) Valid() bool {
	return l >= AutonomyL0 && l <= AutonomyL3
}

// Resource scope kinds. The scope payload is a tagged union keyed by Kind so
// validation and clamping stay exhaustive over the defined categories.
const (
	ScopeKindAutonomy = "autonomy"
	ScopeKindEgress   = "egress"
)

// ResourceScope carries the structured extra data some keys store alongside
// the approval mode. Exactly the fields for its Kind are meaningful.
type ResourceScope struct {
	Kind   string        `json:"kind"`
	Level  AutonomyLevel `json:"level,omitempty"`
	Egress EgressLevel   `json:"egress,omitempty"`
}

func (s *ResourceScope) Validate() error {
	if s == nil {
		return nil
	}
	switch s.Kind {
	case ScopeKindAutonomy:
		if !s.Level.Valid() {
			return fmt.Errorf("autonomy level out of range: %d", int(s.Level))
		}
		return nil
	case ScopeKindEgress:
		switch s.Egress {
		case EgressNone, EgressMetadata, EgressFull:
			return nil
		default:
			return fmt.Errorf("unknown egress level %q", s.Egress)
		}
	default:
		return fmt.Errorf("unknown resource scope kind %q", s.Kind)
	}
}

// Value is the stored policy for one key at one scope.
type Value struct {
	Enabled bool           `json:"enabled"`
	Mode    Mode           `json:"approval_mode"`
	Scope   *ResourceScope `json:"resource_scope,omitempty"`
}

func (v Value) Validate(key Key) error {
	if _, err := ParseMode(string(v.Mode)); err != nil {
		return err
	}
	if err := v.Scope.Validate(); err != nil {
		return err
	}
	// The two scoped keys must carry a scope of the matching kind; scalar
	// keys must not smuggle one in.
	switch key {
	case KeyAutonomyLevel:
		if v.Scope == nil || v.Scope.Kind != ScopeKindAutonomy {
			return errors.New("autonomy_level requires an autonomy resource scope")
		}
	case KeyLLMEgress:
		if v.Scope == nil || v.Scope.Kind != ScopeKindEgress {
			return errors.New("llm_egress_level requires an egress resource scope")
		}
	default:
		if v.Scope != nil {
			return fmt.Errorf("key %s does not take a resource scope", key)
		}
	}
	return nil
}

// AutonomyFromValue extracts the autonomy level from a resolved
// autonomy_level value. Disabled or malformed values degrade to L0:
// manual is the safe floor.
func AutonomyFromValue(v Value) AutonomyLevel {
	if !v.Enabled || v.Scope == nil || v.Scope.Kind != ScopeKindAutonomy {
		return AutonomyL0
	}
	if !v.Scope.Level.Valid() {
		return AutonomyL0
	}
	return v.Scope.Level
}
