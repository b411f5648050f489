package service

import (
	"context"
	"errors"
	"testing"

	"github.com/kriptik-ai/devmode/internal/domain"
	"github.com/kriptik-ai/devmode/internal/domain/credits"
	"github.com/kriptik-ai/devmode/internal/domain/event"
	"github.com/kriptik-ai/devmode/internal/domain/session"
)

func TestStartSession_Defaults(t *testing.T) {
	f := newFixture(t)

	sess, err := f.orch.StartSession(context.Background(), session.StartRequest{
		ProjectID: "proj-1",
		UserID:    "user-1",
	})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	if sess.Status != session.StatusActive {
		t.Errorf("expected active status, got %s", sess.Status)
	}
	if sess.DefaultModel != testConfig().DefaultModel {
		t.Errorf("expected default model %s, got %s", testConfig().DefaultModel, sess.DefaultModel)
	}
	if sess.VerificationMode != "standard" {
		t.Errorf("expected standard verification mode, got %s", sess.VerificationMode)
	}
	if sess.BaseBranch != "main" {
		t.Errorf("expected base branch main, got %s", sess.BaseBranch)
	}
	if len(f.bus.ofType(event.TypeSessionCreated)) != 1 {
		t.Error("expected session:created event")
	}
}

func TestStartSession_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.orch.StartSession(ctx, session.StartRequest{UserID: "u"}); err == nil {
		t.Error("expected error for missing project_id")
	}
	if _, err := f.orch.StartSession(ctx, session.StartRequest{ProjectID: "p"}); err == nil {
		t.Error("expected error for missing user_id")
	}
	if _, err := f.orch.StartSession(ctx, session.StartRequest{
		ProjectID: "p", UserID: "u", VerificationMode: "turbo",
	}); err == nil {
		t.Error("expected error for invalid verification mode")
	}
}

func TestGetSession_Miss(t *testing.T) {
	f := newFixture(t)
	if _, ok := f.orch.GetSession("nope"); ok {
		t.Error("expected miss for unknown session")
	}
}

func TestGetActiveSessionForProject(t *testing.T) {
	f := newFixture(t)
	sess := f.startSession(t)

	got, ok := f.orch.GetActiveSessionForProject(context.Background(), "proj-1")
	if !ok {
		t.Fatal("expected active session for project")
	}
	if got.ID != sess.ID {
		t.Errorf("expected session %s, got %s", sess.ID, got.ID)
	}

	if _, ok := f.orch.GetActiveSessionForProject(context.Background(), "proj-2"); ok {
		t.Error("expected miss for unknown project")
	}

	if err := f.orch.EndSession(context.Background(), sess.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.orch.GetActiveSessionForProject(context.Background(), "proj-1"); ok {
		t.Error("expected miss after session ended")
	}
}

func TestGetUserSessions_Limit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, p := range []string{"p1", "p2", "p3"} {
		if _, err := f.orch.StartSession(ctx, session.StartRequest{ProjectID: p, UserID: "user-1"}); err != nil {
			t.Fatal(err)
		}
	}

	if got := f.orch.GetUserSessions("user-1", 0); len(got) != 3 {
		t.Errorf("expected 3 sessions, got %d", len(got))
	}
	if got := f.orch.GetUserSessions("user-1", 2); len(got) != 2 {
		t.Errorf("expected 2 sessions with limit, got %d", len(got))
	}
	if got := f.orch.GetUserSessions("user-2", 0); len(got) != 0 {
		t.Errorf("expected no sessions for other user, got %d", len(got))
	}
}

func TestSessionLifecycle_Transitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.startSession(t)

	// active -> active via resume is invalid
	if err := f.orch.ResumeSession(ctx, sess.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition resuming active session, got %v", err)
	}

	if err := f.orch.PauseSession(ctx, sess.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	got, _ := f.orch.GetSession(sess.ID)
	if got.Status != session.StatusPaused {
		t.Fatalf("expected paused, got %s", got.Status)
	}

	// paused -> paused is invalid
	if err := f.orch.PauseSession(ctx, sess.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition pausing paused session, got %v", err)
	}

	if err := f.orch.ResumeSession(ctx, sess.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}

	if err := f.orch.EndSession(ctx, sess.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	got, _ = f.orch.GetSession(sess.ID)
	if got.Status != session.StatusEnded {
		t.Fatalf("expected ended, got %s", got.Status)
	}

	// Ended is absorbing.
	if err := f.orch.PauseSession(ctx, sess.ID); !errors.Is(err, domain.ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded pausing ended session, got %v", err)
	}
	if err := f.orch.ResumeSession(ctx, sess.ID); !errors.Is(err, domain.ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded resuming ended session, got %v", err)
	}
	if err := f.orch.EndSession(ctx, sess.ID); !errors.Is(err, domain.ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded ending ended session, got %v", err)
	}
	got, _ = f.orch.GetSession(sess.ID)
	if got.Status != session.StatusEnded {
		t.Error("rejected transition must leave status unchanged")
	}
}

func TestUpdateSessionConfig(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.startSession(t)

	model := "gpt-5"
	auto := true
	budget := 500
	got, err := f.orch.UpdateSessionConfig(ctx, sess.ID, session.ConfigPatch{
		DefaultModel:     &model,
		AutoMergeEnabled: &auto,
		BudgetLimit:      &budget,
	})
	if err != nil {
		t.Fatalf("update config: %v", err)
	}
	if got.DefaultModel != "gpt-5" || !got.AutoMergeEnabled || got.BudgetLimit != 500 {
		t.Errorf("patch not applied: %+v", got)
	}
	if got.Status != session.StatusActive {
		t.Error("config update must not change status")
	}

	bad := "turbo"
	if _, err := f.orch.UpdateSessionConfig(ctx, sess.ID, session.ConfigPatch{VerificationMode: &bad}); err == nil {
		t.Error("expected error for invalid verification mode")
	}

	if len(f.bus.ofType(event.TypeSessionConfigUpdated)) != 1 {
		t.Error("expected session:config-updated event")
	}

	_ = f.orch.EndSession(ctx, sess.ID)
	if _, err := f.orch.UpdateSessionConfig(ctx, sess.ID, session.ConfigPatch{DefaultModel: &model}); !errors.Is(err, domain.ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded, got %v", err)
	}
}

func TestEstimateCredits_Monotonicity(t *testing.T) {
	f := newFixture(t)

	opusComplex := f.orch.EstimateCredits("claude-opus-4-5", credits.ComplexityComplex)
	haikuSimple := f.orch.EstimateCredits("claude-haiku-3-5", credits.ComplexitySimple)
	if opusComplex <= haikuSimple {
		t.Errorf("expected opus/complex (%d) > haiku/simple (%d)", opusComplex, haikuSimple)
	}
}
