package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kriptik-ai/devmode/internal/domain"
	"github.com/kriptik-ai/devmode/internal/domain/agent"
	"github.com/kriptik-ai/devmode/internal/domain/merge"
	"github.com/kriptik-ai/devmode/internal/domain/session"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Sessions ---

func (s *Store) SaveSession(ctx context.Context, sess *session.Session) error {
	agentIDs, err := json.Marshal(sess.AgentIDs)
	if err != nil {
		return fmt.Errorf("marshal agent ids: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (id, project_id, user_id, default_model, verification_mode,
		                       auto_merge_enabled, base_branch, budget_limit, credits_spent,
		                       status, agent_ids, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO UPDATE SET
		   default_model = EXCLUDED.default_model,
		   verification_mode = EXCLUDED.verification_mode,
		   auto_merge_enabled = EXCLUDED.auto_merge_enabled,
		   budget_limit = EXCLUDED.budget_limit,
		   credits_spent = EXCLUDED.credits_spent,
		   status = EXCLUDED.status,
		   agent_ids = EXCLUDED.agent_ids,
		   updated_at = EXCLUDED.updated_at`,
		sess.ID, sess.ProjectID, sess.UserID, sess.DefaultModel, sess.VerificationMode,
		sess.AutoMergeEnabled, sess.BaseBranch, sess.BudgetLimit, sess.CreditsSpent,
		sess.Status, agentIDs, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

const sessionColumns = `id, project_id, user_id, default_model, verification_mode,
	auto_merge_enabled, base_branch, budget_limit, credits_spent, status, agent_ids,
	created_at, updated_at`

func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)

	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get session %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *Store) ListSessionsByUser(ctx context.Context, userID string, limit int) ([]session.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func scanSession(row pgx.Row) (session.Session, error) {
	var sess session.Session
	var agentIDs []byte
	err := row.Scan(&sess.ID, &sess.ProjectID, &sess.UserID, &sess.DefaultModel,
		&sess.VerificationMode, &sess.AutoMergeEnabled, &sess.BaseBranch,
		&sess.BudgetLimit, &sess.CreditsSpent, &sess.Status, &agentIDs,
		&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return sess, err
	}
	if len(agentIDs) > 0 {
		if err := json.Unmarshal(agentIDs, &sess.AgentIDs); err != nil {
			return sess, fmt.Errorf("unmarshal agent ids: %w", err)
		}
	}
	return sess, nil
}

// --- Agents ---

func (s *Store) SaveAgent(ctx context.Context, a *agent.Agent) error {
	touched, err := json.Marshal(a.TouchedFiles)
	if err != nil {
		return fmt.Errorf("marshal touched files: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO agents (id, session_id, user_id, name, task_prompt, model,
		                     effort_level, thinking_budget, verification_mode, status,
		                     progress, current_step, steps_completed, steps_total,
		                     touched_files, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   model = EXCLUDED.model,
		   status = EXCLUDED.status,
		   progress = EXCLUDED.progress,
		   current_step = EXCLUDED.current_step,
		   steps_completed = EXCLUDED.steps_completed,
		   steps_total = EXCLUDED.steps_total,
		   touched_files = EXCLUDED.touched_files,
		   error = EXCLUDED.error,
		   updated_at = EXCLUDED.updated_at`,
		a.ID, a.SessionID, a.UserID, a.Name, a.TaskPrompt, a.Model,
		a.EffortLevel, a.ThinkingBudget, a.VerificationMode, a.Status,
		a.Progress, a.CurrentStep, a.StepsCompleted, a.StepsTotal,
		touched, a.Error, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.ID, err)
	}
	return nil
}

const agentColumns = `id, session_id, user_id, name, task_prompt, model, effort_level,
	thinking_budget, verification_mode, status, progress, current_step,
	steps_completed, steps_total, touched_files, error, created_at, updated_at`

func (s *Store) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)

	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get agent %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	return &a, nil
}

func (s *Store) ListAgentsBySession(ctx context.Context, sessionID string) ([]agent.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []agent.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete agent %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete agent %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanAgent(row pgx.Row) (agent.Agent, error) {
	var a agent.Agent
	var touched []byte
	err := row.Scan(&a.ID, &a.SessionID, &a.UserID, &a.Name, &a.TaskPrompt, &a.Model,
		&a.EffortLevel, &a.ThinkingBudget, &a.VerificationMode, &a.Status,
		&a.Progress, &a.CurrentStep, &a.StepsCompleted, &a.StepsTotal,
		&touched, &a.Error, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return a, err
	}
	if len(touched) > 0 {
		if err := json.Unmarshal(touched, &a.TouchedFiles); err != nil {
			return a, fmt.Errorf("unmarshal touched files: %w", err)
		}
	}
	return a, nil
}

// --- Merge queue ---

func (s *Store) SaveMergeEntry(ctx context.Context, e *merge.Entry) error {
	touched, err := json.Marshal(e.TouchedFiles)
	if err != nil {
		return fmt.Errorf("marshal touched files: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO merge_entries (id, session_id, agent_id, title, diff, touched_files,
		                            status, verification_ref, approved_by, rejection_reason,
		                            error, created_at, approved_at, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   verification_ref = EXCLUDED.verification_ref,
		   approved_by = EXCLUDED.approved_by,
		   rejection_reason = EXCLUDED.rejection_reason,
		   error = EXCLUDED.error,
		   approved_at = EXCLUDED.approved_at,
		   resolved_at = EXCLUDED.resolved_at`,
		e.ID, e.SessionID, e.AgentID, e.Title, e.Diff, touched,
		e.Status, e.VerificationRef, e.ApprovedBy, e.RejectionReason,
		e.Error, e.CreatedAt, e.ApprovedAt, e.ResolvedAt)
	if err != nil {
		return fmt.Errorf("save merge entry %s: %w", e.ID, err)
	}
	return nil
}

func (s *Store) ListMergeEntriesBySession(ctx context.Context, sessionID string) ([]merge.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, agent_id, title, diff, touched_files, status,
		        verification_ref, approved_by, rejection_reason, error,
		        created_at, approved_at, resolved_at
		 FROM merge_entries WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list merge entries: %w", err)
	}
	defer rows.Close()

	var entries []merge.Entry
	for rows.Next() {
		var e merge.Entry
		var touched []byte
		err := rows.Scan(&e.ID, &e.SessionID, &e.AgentID, &e.Title, &e.Diff, &touched,
			&e.Status, &e.VerificationRef, &e.ApprovedBy, &e.RejectionReason,
			&e.Error, &e.CreatedAt, &e.ApprovedAt, &e.ResolvedAt)
		if err != nil {
			return nil, err
		}
		if len(touched) > 0 {
			if err := json.Unmarshal(touched, &e.TouchedFiles); err != nil {
				return nil, fmt.Errorf("unmarshal touched files: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
