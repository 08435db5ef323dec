package permission

// Key identifies a gated capability. Keys are defined at compile time;
// every key carries a static risk tier, an egress flag, a conservative
// default value, and the human-readable message shown when the gate asks
// for approval or reports a denial.
type Key string

const (
	KeyWebFetch      Key = "web_fetch"
	KeyWebRSS        Key = "web_rss"
	KeyLLMUse        Key = "llm_use"
	KeyLLMEgress     Key = "llm_egress_level"
	KeyFSWrite       Key = "fs_write"
	KeyFSDelete      Key = "fs_delete"
	KeyCalWrite      Key = "cal_write"
	KeyScheduleWrite Key = "schedule_write"
	KeySourceWrite   Key = "source_write"
	KeyAutonomyLevel Key = "autonomy_level"
)

type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// Message is the localization-agnostic why/impact/risk payload attached to
// approval prompts and denials for a key.
type Message struct {
	Why    string `json:"why"`
	Impact string `json:"impact"`
	Risk   string `json:"risk"`
}

type keyInfo struct {
	Risk    RiskTier
	Egress  bool
	Default Value
	Message Message
}

// keyTable is the static default policy. Conservative: anything that writes
// or sends data out requires approval by default; destructive operations are
// denied outright until a human opts in.
var keyTable = map[Key]keyInfo{
	KeyWebFetch: {
		Risk:    RiskLow,
		Default: Value{Enabled: true, Mode: ModeAutoAllowed},
		Message: Message{
			Why:    "The bot wants to fetch a web page.",
			Impact: "An outbound HTTP request is made to a public site.",
			Risk:   "Low: read-only, no local data leaves the system.",
		},
	},
	KeyWebRSS: {
		Risk:    RiskLow,
		Default: Value{Enabled: true, Mode: ModeAutoAllowed},
		Message: Message{
			Why:    "The bot wants to poll a subscribed feed.",
			Impact: "An outbound request is made to the feed host.",
			Risk:   "Low: read-only, no local data leaves the system.",
		},
	},
	KeyLLMUse: {
		Risk:    RiskMedium,
		Egress:  true,
		Default: Value{Enabled: true, Mode: ModeAutoAllowed},
		Message: Message{
			Why:    "The bot wants to call the AI provider.",
			Impact: "Prompt content is sent to an external AI service.",
			Risk:   "Medium: content leaves the system subject to the egress level.",
		},
	},
	KeyLLMEgress: {
		Risk:   RiskHigh,
		Egress: true,
		Default: Value{
			Enabled: true,
			Mode:    ModeApprovalRequired,
			Scope:   &ResourceScope{Kind: ScopeKindEgress, Egress: EgressMetadata},
		},
		Message: Message{
			Why:    "The bot wants to raise how much content may be sent to the AI provider.",
			Impact: "Full article or file content could leave the system.",
			Risk:   "High: widens the data-egress surface for every later AI call.",
		},
	},
	KeyFSWrite: {
		Risk:    RiskMedium,
		Default: Value{Enabled: true, Mode: ModeApprovalRequired},
		Message: Message{
			Why:    "The bot wants to write a file in the workspace.",
			Impact: "A file is created or overwritten on disk.",
			Risk:   "Medium: reversible, but may clobber existing content.",
		},
	},
	KeyFSDelete: {
		Risk:    RiskHigh,
		Default: Value{Enabled: false, Mode: ModeAutoDenied},
		Message: Message{
			Why:    "The bot wants to delete a file.",
			Impact: "A file is permanently removed from disk.",
			Risk:   "High: destructive and not reversible.",
		},
	},
	KeyCalWrite: {
		Risk:    RiskMedium,
		Default: Value{Enabled: true, Mode: ModeApprovalRequired},
		Message: Message{
			Why:    "The bot wants to create or change a calendar entry.",
			Impact: "Your calendar is mutated; invitations may be sent.",
			Risk:   "Medium: visible to other people on shared calendars.",
		},
	},
	KeyScheduleWrite: {
		Risk:    RiskMedium,
		Default: Value{Enabled: true, Mode: ModeApprovalRequired},
		Message: Message{
			Why:    "The bot wants to change its own run schedule.",
			Impact: "The bot would run at different times or more often.",
			Risk:   "Medium: a misconfigured schedule multiplies every other risk.",
		},
	},
	KeySourceWrite: {
		Risk:    RiskLow,
		Default: Value{Enabled: true, Mode: ModeApprovalRequired},
		Message: Message{
			Why:    "The bot wants to add or edit a content source.",
			Impact: "Future collection runs read from the changed source list.",
			Risk:   "Low: affects what is collected, not what leaves the system.",
		},
	},
	KeyAutonomyLevel: {
		Risk: RiskHigh,
		Default: Value{
			Enabled: true,
			Mode:    ModeApprovalRequired,
			Scope:   &ResourceScope{Kind: ScopeKindAutonomy, Level: AutonomyL1},
		},
		Message: Message{
			Why:    "The bot wants more autonomy.",
			Impact: "The bot would act with fewer per-step confirmations.",
			Risk:   "High: loosens every other gate at once.",
		},
	},
}

// Keys returns every defined permission key in a stable order.
func Keys() []Key {
	return []Key{
		KeyWebFetch,
		KeyWebRSS,
		KeyLLMUse,
		KeyLLMEgress,
		KeyFSWrite,
		KeyFSDelete,
		KeyCalWrite,
		KeyScheduleWrite,
		KeySourceWrite,
		KeyAutonomyLevel,
	}
}

// Known reports whether k is a defined permission key.
func Known(k Key) bool {
	_, ok := keyTable[k]
	return ok
}

// Risk returns the static risk tier for k. Unknown keys report high so a
// typo can never downgrade a check.
func Risk(k Key) RiskTier {
	if info, ok := keyTable[k]; ok {
		return info.Risk
	}
	return RiskHigh
}

// IsEgress reports whether k controls data egress toward an external provider.
func IsEgress(k Key) bool {
	return keyTable[k].Egress
}

// MessageFor returns the approval/denial message payload for k.
func MessageFor(k Key) Message {
	return keyTable[k].Message
}

// DefaultValue returns the compiled-in default policy for k and whether k
// is defined at all.
func DefaultValue(k Key) (Value, bool) {
	info, ok := keyTable[k]
	return info.Default, ok
}
