// Package verification defines the verification mode catalog, the mode
// recommendation logic, and the result aggregation for verification runs.
package verification

import "time"

// AgentType identifies one kind of automated verification check.
type AgentType string

const (
	AgentStatic     AgentType = "static"     // lint / static analysis
	AgentFunctional AgentType = "functional" // behavioral checks against the diff
	AgentVisual     AgentType = "visual"     // screenshot / design comparison
	AgentSecurity   AgentType = "security"   // vulnerability scan
	AgentIntent     AgentType = "intent"     // does the change satisfy the stated intent
)

// Feature describes the change under verification.
type Feature struct {
	ID           string   `json:"id"`
	Description  string   `json:"description"`
	TouchedFiles []string `json:"touched_files,omitempty"`
}

// AgentResult is the outcome of a single verification agent.
type AgentResult struct {
	AgentType AgentType `json:"agent_type"`
	Passed    bool      `json:"passed"`
	Score     float64   `json:"score"` // 0-100
	Issues    []string  `json:"issues,omitempty"`
}

// Result is the immutable outcome of one verification run.
type Result struct {
	Mode         Mode          `json:"mode"`
	ProjectID    string        `json:"project_id"`
	SessionID    string        `json:"session_id"`
	Feature      Feature       `json:"feature"`
	AgentResults []AgentResult `json:"agent_results"`
	OverallScore float64       `json:"overall_score"`
	Verdict      Verdict       `json:"verdict"`
	Passed       bool          `json:"passed"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
}

// Verdict is a short classification of a verification result.
type Verdict string

const (
	VerdictPass        Verdict = "pass"
	VerdictNeedsReview Verdict = "needs-review"
	VerdictFail        Verdict = "fail"
)

// Aggregate computes the overall score, passed flag, and verdict from
// per-agent results. With zero results the run vacuously passes with score 0.
func Aggregate(results []AgentResult) (overall float64, passed bool, verdict Verdict) {
	if len(results) == 0 {
		return 0, true, VerdictPass
	}

	passed = true
	var sum float64
	for _, r := range results {
		sum += clampScore(r.Score)
		if !r.Passed {
			passed = false
		}
	}
	overall = sum / float64(len(results))

	switch {
	case passed && overall >= 85:
		verdict = VerdictPass
	case passed || overall >= 60:
		verdict = VerdictNeedsReview
	default:
		verdict = VerdictFail
	}
	return overall, passed, verdict
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
