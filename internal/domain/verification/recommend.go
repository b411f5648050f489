package verification

// Signals carries the task properties that drive mode recommendation.
type Signals struct {
	FilesChanged        int  `json:"files_changed"`
	IsVisualChange      bool `json:"is_visual_change"`
	IsSecuritySensitive bool `json:"is_security_sensitive"`
	HasNewComponents    bool `json:"has_new_components"`
	UserPreference      Mode `json:"user_preference,omitempty"`
}

// RecommendMode maps task signals to a verification mode. Pure function:
// identical input always yields identical output. A valid user preference is
// honored verbatim; otherwise each signal independently escalates and the
// strictest triggered mode wins.
func RecommendMode(sig Signals) Mode {
	if sig.UserPreference != "" && IsValidMode(sig.UserPreference) {
		return sig.UserPreference
	}

	recommended := ModeLint

	if sig.FilesChanged >= 3 || sig.HasNewComponents {
		recommended = escalate(recommended, ModeStandard)
	}
	if sig.IsVisualChange {
		recommended = escalate(recommended, ModeVisual)
	}
	if sig.FilesChanged >= 10 || sig.IsSecuritySensitive {
		recommended = escalate(recommended, ModeFull)
	}

	return recommended
}

// escalate returns the stricter of two modes. Modes never average down.
func escalate(current, candidate Mode) Mode {
	if Severity(candidate) > Severity(current) {
		return candidate
	}
	return current
}
