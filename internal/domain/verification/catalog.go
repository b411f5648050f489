package verification

// Mode is a named, fixed-cost bundle of verification checks scaled to risk.
type Mode string

const (
	ModeNone     Mode = "none"
	ModeLint     Mode = "lint"
	ModeStandard Mode = "standard"
	ModeVisual   Mode = "visual"
	ModeFull     Mode = "full"
)

// ModeConfig declares the agent set and relative cost weight of a mode.
// Adding a mode means adding a catalog row, not new branching logic.
type ModeConfig struct {
	Mode       Mode        `json:"mode"`
	AgentTypes []AgentType `json:"agent_types"`
	Weight     int         `json:"weight"`   // relative cost
	Severity   int         `json:"severity"` // escalation rank, higher is stricter
}

// catalog is the fixed verification mode table, ordered by severity.
var catalog = []ModeConfig{
	{Mode: ModeNone, AgentTypes: nil, Weight: 0, Severity: 0},
	{Mode: ModeLint, AgentTypes: []AgentType{AgentStatic}, Weight: 1, Severity: 1},
	{Mode: ModeStandard, AgentTypes: []AgentType{AgentStatic, AgentFunctional}, Weight: 2, Severity: 2},
	{Mode: ModeVisual, AgentTypes: []AgentType{AgentStatic, AgentFunctional, AgentVisual}, Weight: 3, Severity: 3},
	{Mode: ModeFull, AgentTypes: []AgentType{AgentStatic, AgentFunctional, AgentVisual, AgentSecurity, AgentIntent}, Weight: 5, Severity: 4},
}

// AllModes returns the full catalog, ordered lightest first.
func AllModes() []ModeConfig {
	out := make([]ModeConfig, len(catalog))
	copy(out, catalog)
	return out
}

// GetModeConfig returns the catalog row for a mode.
func GetModeConfig(m Mode) (ModeConfig, bool) {
	for _, cfg := range catalog {
		if cfg.Mode == m {
			return cfg, true
		}
	}
	return ModeConfig{}, false
}

// IsValidMode reports whether m names a catalog mode.
func IsValidMode(m Mode) bool {
	_, ok := GetModeConfig(m)
	return ok
}

// Severity returns the escalation rank of a mode. Unknown modes rank lowest.
func Severity(m Mode) int {
	cfg, ok := GetModeConfig(m)
	if !ok {
		return 0
	}
	return cfg.Severity
}
