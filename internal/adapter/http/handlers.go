package http

import (
	"net/http"
	"strconv"

	"github.com/kriptik-ai/devmode/internal/adapter/ws"
	"github.com/kriptik-ai/devmode/internal/domain/agent"
	"github.com/kriptik-ai/devmode/internal/domain/credits"
	"github.com/kriptik-ai/devmode/internal/domain/event"
	"github.com/kriptik-ai/devmode/internal/domain/merge"
	"github.com/kriptik-ai/devmode/internal/domain/session"
	"github.com/kriptik-ai/devmode/internal/domain/verification"
	"github.com/kriptik-ai/devmode/internal/service"
)

// Handlers bundles the service dependencies behind the REST surface.
type Handlers struct {
	Orchestrator *service.Orchestrator
	Verify       *service.Verification
	Hub          *ws.Hub
}

// --- Sessions ---

// StartSession handles POST /api/v1/sessions
func (h *Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[session.StartRequest](w, r, maxRequestBody)
	if !ok {
		return
	}
	sess, err := h.Orchestrator.StartSession(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// GetSession handles GET /api/v1/sessions/{id}
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.Orchestrator.GetSession(urlParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// ListUserSessions handles GET /api/v1/sessions?user_id=...&limit=...
func (h *Handlers) ListUserSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	limit := queryInt(r, "limit", 20)
	sessions := h.Orchestrator.GetUserSessions(userID, limit)
	if sessions == nil {
		sessions = []session.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GetProjectSession handles GET /api/v1/projects/{id}/session
func (h *Handlers) GetProjectSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.Orchestrator.GetActiveSessionForProject(r.Context(), urlParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "no active session for project")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// PauseSession handles POST /api/v1/sessions/{id}/pause
func (h *Handlers) PauseSession(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Orchestrator.PauseSession(r.Context(), id); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	h.writeSession(w, id)
}

// ResumeSession handles POST /api/v1/sessions/{id}/resume
func (h *Handlers) ResumeSession(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Orchestrator.ResumeSession(r.Context(), id); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	h.writeSession(w, id)
}

// EndSession handles POST /api/v1/sessions/{id}/end
func (h *Handlers) EndSession(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Orchestrator.EndSession(r.Context(), id); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	h.writeSession(w, id)
}

// UpdateSessionConfig handles PUT /api/v1/sessions/{id}/config
func (h *Handlers) UpdateSessionConfig(w http.ResponseWriter, r *http.Request) {
	patch, ok := readJSON[session.ConfigPatch](w, r, maxRequestBody)
	if !ok {
		return
	}
	sess, err := h.Orchestrator.UpdateSessionConfig(r.Context(), urlParam(r, "id"), patch)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handlers) writeSession(w http.ResponseWriter, id string) {
	sess, ok := h.Orchestrator.GetSession(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// GetSessionEvents handles GET /api/v1/sessions/{id}/events?limit=...
func (h *Handlers) GetSessionEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Orchestrator.GetSessionEvents(r.Context(), urlParam(r, "id"), queryInt(r, "limit", 100))
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Agents ---

// DeployAgent handles POST /api/v1/sessions/{id}/agents
func (h *Handlers) DeployAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[agent.DeployRequest](w, r, maxRequestBody)
	if !ok {
		return
	}
	a, err := h.Orchestrator.DeployAgent(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// ListAgents handles GET /api/v1/sessions/{id}/agents
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.Orchestrator.ListAgents(urlParam(r, "id"))
	if agents == nil {
		agents = []agent.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

// GetAgent handles GET /api/v1/agents/{id}
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := h.Orchestrator.GetAgent(urlParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// StopAgent handles POST /api/v1/agents/{id}/stop
func (h *Handlers) StopAgent(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Orchestrator.StopAgent(r.Context(), id); err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	h.writeAgent(w, id)
}

// ResumeAgent handles POST /api/v1/agents/{id}/resume
func (h *Handlers) ResumeAgent(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Orchestrator.ResumeAgent(r.Context(), id); err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	h.writeAgent(w, id)
}

type renameRequest struct {
	Name string `json:"name"`
}

// RenameAgent handles PUT /api/v1/agents/{id}/name
func (h *Handlers) RenameAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[renameRequest](w, r, maxRequestBody)
	if !ok {
		return
	}
	id := urlParam(r, "id")
	if err := h.Orchestrator.RenameAgent(r.Context(), id, req.Name); err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	h.writeAgent(w, id)
}

type changeModelRequest struct {
	Model string `json:"model"`
}

// ChangeAgentModel handles PUT /api/v1/agents/{id}/model
func (h *Handlers) ChangeAgentModel(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[changeModelRequest](w, r, maxRequestBody)
	if !ok {
		return
	}
	id := urlParam(r, "id")
	if err := h.Orchestrator.ChangeAgentModel(r.Context(), id, req.Model); err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	h.writeAgent(w, id)
}

// DeleteAgent handles DELETE /api/v1/agents/{id}
func (h *Handlers) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.Orchestrator.DeleteAgent(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetAgentLogs handles GET /api/v1/agents/{id}/logs?limit=...
func (h *Handlers) GetAgentLogs(w http.ResponseWriter, r *http.Request) {
	logs, ok := h.Orchestrator.GetAgentLogs(urlParam(r, "id"), queryInt(r, "limit", 0))
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	if logs == nil {
		logs = []agent.LogEntry{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *Handlers) writeAgent(w http.ResponseWriter, id string) {
	a, ok := h.Orchestrator.GetAgent(id)
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// --- Locks / Credits ---

// GetLockedFiles handles GET /api/v1/locks
func (h *Handlers) GetLockedFiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Orchestrator.GetLockedFiles())
}

type creditEstimate struct {
	Model      string `json:"model"`
	Complexity string `json:"complexity"`
	Credits    int    `json:"credits"`
}

// EstimateCredits handles GET /api/v1/credits/estimate?model=...&complexity=...
func (h *Handlers) EstimateCredits(w http.ResponseWriter, r *http.Request) {
	model := r.URL.Query().Get("model")
	if model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	complexity := r.URL.Query().Get("complexity")
	if complexity == "" {
		complexity = string(credits.ComplexityMedium)
	}
	writeJSON(w, http.StatusOK, creditEstimate{
		Model:      model,
		Complexity: complexity,
		Credits:    h.Orchestrator.EstimateCredits(model, credits.Complexity(complexity)),
	})
}

// ListModels handles GET /api/v1/models
func (h *Handlers) ListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, credits.KnownModels())
}

// --- Merge queue ---

// GetMergeQueue handles GET /api/v1/sessions/{id}/merges
func (h *Handlers) GetMergeQueue(w http.ResponseWriter, r *http.Request) {
	entries := h.Orchestrator.GetMergeQueue(urlParam(r, "id"))
	if entries == nil {
		entries = []merge.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetMerge handles GET /api/v1/merges/{id}
func (h *Handlers) GetMerge(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.Orchestrator.GetMergeEntry(urlParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "merge not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type approvalRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

// ApproveMerge handles POST /api/v1/merges/{id}/approve
func (h *Handlers) ApproveMerge(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[approvalRequest](w, r, maxRequestBody)
	if !ok {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if err := h.Orchestrator.ApproveMerge(r.Context(), urlParam(r, "id"), req.UserID); err != nil {
		writeDomainError(w, err, "merge not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

// RejectMerge handles POST /api/v1/merges/{id}/reject
func (h *Handlers) RejectMerge(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[approvalRequest](w, r, maxRequestBody)
	if !ok {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if err := h.Orchestrator.RejectMerge(r.Context(), urlParam(r, "id"), req.UserID, req.Reason); err != nil {
		writeDomainError(w, err, "merge not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// ExecuteMerge handles POST /api/v1/merges/{id}/execute
func (h *Handlers) ExecuteMerge(w http.ResponseWriter, r *http.Request) {
	if err := h.Orchestrator.ExecuteMerge(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "merge not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// --- Verification ---

// RecommendVerificationMode handles POST /api/v1/verification/recommend
func (h *Handlers) RecommendVerificationMode(w http.ResponseWriter, r *http.Request) {
	sig, ok := readJSON[verification.Signals](w, r, maxRequestBody)
	if !ok {
		return
	}
	mode := h.Verify.RecommendMode(sig)
	cfg, _ := h.Verify.GetModeConfig(mode)
	writeJSON(w, http.StatusOK, cfg)
}

// ListVerificationModes handles GET /api/v1/verification/modes
func (h *Handlers) ListVerificationModes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Verify.AllModes())
}

// GetVerificationResult handles GET /api/v1/verification/results/{id}
func (h *Handlers) GetVerificationResult(w http.ResponseWriter, r *http.Request) {
	result, ok := h.Verify.CachedResult(r.Context(), urlParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "verification result not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Health ---

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"ws_connections": h.Hub.ConnectionCount(),
	})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return fallback
}
