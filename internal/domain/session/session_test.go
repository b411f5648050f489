package session

import "testing"

func TestStatusCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusActive, StatusPaused, true},
		{StatusActive, StatusEnded, true},
		{StatusActive, StatusActive, false},
		{StatusPaused, StatusActive, true},
		{StatusPaused, StatusEnded, true},
		{StatusPaused, StatusPaused, false},
		{StatusEnded, StatusActive, false},
		{StatusEnded, StatusPaused, false},
		{StatusEnded, StatusEnded, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatusIsTerminal(t *testing.T) {
	if StatusActive.IsTerminal() || StatusPaused.IsTerminal() {
		t.Error("active and paused must not be terminal")
	}
	if !StatusEnded.IsTerminal() {
		t.Error("ended must be terminal")
	}
}

func TestStartRequestValidate(t *testing.T) {
	tests := []struct {
		name   string
		req    StartRequest
		errMsg string
	}{
		{"valid", StartRequest{ProjectID: "p1", UserID: "u1"}, ""},
		{"missing project", StartRequest{UserID: "u1"}, "project_id is required"},
		{"missing user", StartRequest{ProjectID: "p1"}, "user_id is required"},
		{"negative budget", StartRequest{ProjectID: "p1", UserID: "u1", BudgetLimit: -1}, "budget_limit must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.errMsg == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.errMsg {
				t.Fatalf("error = %v, want %q", err, tt.errMsg)
			}
		})
	}
}
