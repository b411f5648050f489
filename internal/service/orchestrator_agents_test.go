package service

import (
	"context"
	"errors"
	"testing"

	"github.com/kriptik-ai/devmode/internal/domain"
	"github.com/kriptik-ai/devmode/internal/domain/agent"
	"github.com/kriptik-ai/devmode/internal/domain/session"
	"github.com/kriptik-ai/devmode/internal/port/generation"
)

func TestDeployAgent_SessionNotActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.startSession(t)

	req := agent.DeployRequest{Name: "fix-bug", TaskPrompt: "fix it"}

	if _, err := f.orch.DeployAgent(ctx, "nope", req); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	_ = f.orch.PauseSession(ctx, sess.ID)
	if _, err := f.orch.DeployAgent(ctx, sess.ID, req); !errors.Is(err, domain.ErrSessionNotActive) {
		t.Errorf("expected ErrSessionNotActive on paused session, got %v", err)
	}

	_ = f.orch.EndSession(ctx, sess.ID)
	if _, err := f.orch.DeployAgent(ctx, sess.ID, req); !errors.Is(err, domain.ErrSessionNotActive) {
		t.Errorf("expected ErrSessionNotActive on ended session, got %v", err)
	}
}

func TestDeployAgent_Validation(t *testing.T) {
	f := newFixture(t)
	sess := f.startSession(t)
	ctx := context.Background()

	if _, err := f.orch.DeployAgent(ctx, sess.ID, agent.DeployRequest{TaskPrompt: "x"}); err == nil {
		t.Error("expected error for missing name")
	}
	if _, err := f.orch.DeployAgent(ctx, sess.ID, agent.DeployRequest{Name: "x"}); err == nil {
		t.Error("expected error for missing task_prompt")
	}
	if _, err := f.orch.DeployAgent(ctx, sess.ID, agent.DeployRequest{
		Name: "x", TaskPrompt: "y", EffortLevel: "extreme",
	}); err == nil {
		t.Error("expected error for invalid effort_level")
	}
}

func TestDeployAgent_InheritsSessionModel(t *testing.T) {
	f := newFixture(t)
	sess := f.startSession(t)

	a, err := f.orch.DeployAgent(context.Background(), sess.ID, agent.DeployRequest{
		Name: "worker", TaskPrompt: "do the thing",
	})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if a.Model != sess.DefaultModel {
		t.Errorf("expected model %s, got %s", sess.DefaultModel, a.Model)
	}
	if a.EffortLevel != agent.EffortMedium {
		t.Errorf("expected medium effort default, got %s", a.EffortLevel)
	}
	f.waitForAgentStatus(t, a.ID, agent.StatusCompleted)
}

func TestDeployAgent_BudgetExceeded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.orch.StartSession(ctx, session.StartRequest{
		ProjectID: "proj-1", UserID: "user-1", BudgetLimit: 3,
	})
	if err != nil {
		t.Fatal(err)
	}

	// claude-sonnet-4-5 at medium complexity costs 15 credits.
	_, err = f.orch.DeployAgent(ctx, sess.ID, agent.DeployRequest{
		Name: "big", TaskPrompt: "expensive task",
	})
	if !errors.Is(err, domain.ErrBudgetExceeded) {
		t.Errorf("expected ErrBudgetExceeded, got %v", err)
	}
	if got := f.orch.ListAgents(sess.ID); len(got) != 0 {
		t.Error("rejected deploy must not create an agent")
	}
}

func TestDeployAgent_AgentLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAgentsPerSession = 1
	f := newFixtureWith(cfg, passingRegistry(95))
	sess := f.startSession(t)
	ctx := context.Background()

	if _, err := f.orch.DeployAgent(ctx, sess.ID, agent.DeployRequest{Name: "a", TaskPrompt: "t"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.orch.DeployAgent(ctx, sess.ID, agent.DeployRequest{Name: "b", TaskPrompt: "t"}); err == nil {
		t.Error("expected error once agent limit is reached")
	}
}

func TestRenameAndChangeModel(t *testing.T) {
	f := newFixture(t)
	sess := f.startSession(t)
	ctx := context.Background()

	a, err := f.orch.DeployAgent(ctx, sess.ID, agent.DeployRequest{Name: "old", TaskPrompt: "t"})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.orch.RenameAgent(ctx, a.ID, "new-name"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := f.orch.ChangeAgentModel(ctx, a.ID, "gpt-5"); err != nil {
		t.Fatalf("change model: %v", err)
	}

	got, _ := f.orch.GetAgent(a.ID)
	if got.Name != "new-name" || got.Model != "gpt-5" {
		t.Errorf("mutations not applied: %+v", got)
	}

	if err := f.orch.RenameAgent(ctx, a.ID, ""); err == nil {
		t.Error("expected error for empty name")
	}
	if err := f.orch.RenameAgent(ctx, "nope", "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteAgent_RequiresNotRunning(t *testing.T) {
	f := newFixture(t)
	sess := f.startSession(t)
	ctx := context.Background()

	hold := make(chan struct{})
	f.gen.add("long task", &scriptedStream{hold: hold})

	a, err := f.orch.DeployAgent(ctx, sess.ID, agent.DeployRequest{Name: "runner", TaskPrompt: "long task"})
	if err != nil {
		t.Fatal(err)
	}
	f.waitForAgentStatus(t, a.ID, agent.StatusRunning)

	if err := f.orch.DeleteAgent(ctx, a.ID); !errors.Is(err, domain.ErrAgentRunning) {
		t.Errorf("expected ErrAgentRunning, got %v", err)
	}

	close(hold)
	f.waitForAgentStatus(t, a.ID, agent.StatusCompleted)

	if err := f.orch.DeleteAgent(ctx, a.ID); err != nil {
		t.Fatalf("delete after completion: %v", err)
	}
	if _, ok := f.orch.GetAgent(a.ID); ok {
		t.Error("expected agent gone after delete")
	}
	got, _ := f.orch.GetSession(sess.ID)
	for _, id := range got.AgentIDs {
		if id == a.ID {
			t.Error("expected agent removed from session")
		}
	}
}

func TestGetAgentLogs(t *testing.T) {
	f := newFixture(t)
	sess := f.startSession(t)

	f.gen.add("chatty", &scriptedStream{chunks: []generation.Chunk{
		{Type: generation.ChunkText, Content: "line one"},
		{Type: generation.ChunkText, Content: "line two"},
	}})

	a, err := f.orch.DeployAgent(context.Background(), sess.ID, agent.DeployRequest{Name: "c", TaskPrompt: "chatty"})
	if err != nil {
		t.Fatal(err)
	}
	f.waitForAgentStatus(t, a.ID, agent.StatusCompleted)

	logs, ok := f.orch.GetAgentLogs(a.ID, 0)
	if !ok {
		t.Fatal("expected logs for agent")
	}
	// task started + two text lines + task completed
	if len(logs) < 4 {
		t.Errorf("expected at least 4 log entries, got %d", len(logs))
	}

	tail, _ := f.orch.GetAgentLogs(a.ID, 2)
	if len(tail) != 2 {
		t.Errorf("expected 2 entries with limit, got %d", len(tail))
	}
	if tail[len(tail)-1].Message != "task completed" {
		t.Errorf("expected newest entry last, got %q", tail[len(tail)-1].Message)
	}

	if _, ok := f.orch.GetAgentLogs("nope", 10); ok {
		t.Error("expected miss for unknown agent")
	}
}
