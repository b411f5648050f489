package verification

import "testing"

func TestAggregate_ZeroResults(t *testing.T) {
	overall, passed, verdict := Aggregate(nil)
	if overall != 0 {
		t.Errorf("expected score 0, got %v", overall)
	}
	if !passed {
		t.Error("expected vacuous pass")
	}
	if verdict != VerdictPass {
		t.Errorf("expected pass verdict, got %s", verdict)
	}
}

func TestAggregate_Banding(t *testing.T) {
	tests := []struct {
		name    string
		results []AgentResult
		passed  bool
		score   float64
		verdict Verdict
	}{
		{
			name: "all passing high score",
			results: []AgentResult{
				{Passed: true, Score: 90},
				{Passed: true, Score: 94},
			},
			passed: true, score: 92, verdict: VerdictPass,
		},
		{
			name: "all passing low score",
			results: []AgentResult{
				{Passed: true, Score: 70},
			},
			passed: true, score: 70, verdict: VerdictNeedsReview,
		},
		{
			name: "failing but decent score",
			results: []AgentResult{
				{Passed: true, Score: 80},
				{Passed: false, Score: 60},
			},
			passed: false, score: 70, verdict: VerdictNeedsReview,
		},
		{
			name: "failing low score",
			results: []AgentResult{
				{Passed: false, Score: 10},
				{Passed: false, Score: 30},
			},
			passed: false, score: 20, verdict: VerdictFail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			overall, passed, verdict := Aggregate(tt.results)
			if overall != tt.score {
				t.Errorf("score = %v, want %v", overall, tt.score)
			}
			if passed != tt.passed {
				t.Errorf("passed = %v, want %v", passed, tt.passed)
			}
			if verdict != tt.verdict {
				t.Errorf("verdict = %s, want %s", verdict, tt.verdict)
			}
		})
	}
}

func TestAggregate_ClampsScores(t *testing.T) {
	overall, _, _ := Aggregate([]AgentResult{
		{Passed: true, Score: 150},
		{Passed: true, Score: -50},
	})
	if overall != 50 {
		t.Errorf("expected clamped mean 50, got %v", overall)
	}
}

func TestCatalog_SeverityOrdering(t *testing.T) {
	modes := AllModes()
	if len(modes) != 5 {
		t.Fatalf("expected 5 modes, got %d", len(modes))
	}
	for i := 1; i < len(modes); i++ {
		if modes[i].Severity <= modes[i-1].Severity {
			t.Errorf("catalog not ordered by severity at %d", i)
		}
		if len(modes[i].AgentTypes) < len(modes[i-1].AgentTypes) {
			t.Errorf("stricter mode %s declares fewer agents", modes[i].Mode)
		}
	}
}

func TestIsValidMode(t *testing.T) {
	for _, m := range []Mode{ModeNone, ModeLint, ModeStandard, ModeVisual, ModeFull} {
		if !IsValidMode(m) {
			t.Errorf("expected %s valid", m)
		}
	}
	if IsValidMode("turbo") {
		t.Error("expected turbo invalid")
	}
}
