package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)
	r.Get("/ws", h.Hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Sessions
		r.Post("/sessions", h.StartSession)
		r.Get("/sessions", h.ListUserSessions)
		r.Get("/sessions/{id}", h.GetSession)
		r.Post("/sessions/{id}/pause", h.PauseSession)
		r.Post("/sessions/{id}/resume", h.ResumeSession)
		r.Post("/sessions/{id}/end", h.EndSession)
		r.Put("/sessions/{id}/config", h.UpdateSessionConfig)
		r.Get("/sessions/{id}/events", h.GetSessionEvents)
		r.Get("/projects/{id}/session", h.GetProjectSession)

		// Agents (nested under sessions)
		r.Post("/sessions/{id}/agents", h.DeployAgent)
		r.Get("/sessions/{id}/agents", h.ListAgents)

		// Agents (direct access)
		r.Get("/agents/{id}", h.GetAgent)
		r.Delete("/agents/{id}", h.DeleteAgent)
		r.Post("/agents/{id}/stop", h.StopAgent)
		r.Post("/agents/{id}/resume", h.ResumeAgent)
		r.Put("/agents/{id}/name", h.RenameAgent)
		r.Put("/agents/{id}/model", h.ChangeAgentModel)
		r.Get("/agents/{id}/logs", h.GetAgentLogs)

		// File locks
		r.Get("/locks", h.GetLockedFiles)

		// Credits
		r.Get("/credits/estimate", h.EstimateCredits)
		r.Get("/models", h.ListModels)

		// Merge queue
		r.Get("/sessions/{id}/merges", h.GetMergeQueue)
		r.Get("/merges/{id}", h.GetMerge)
		r.Post("/merges/{id}/approve", h.ApproveMerge)
		r.Post("/merges/{id}/reject", h.RejectMerge)
		r.Post("/merges/{id}/execute", h.ExecuteMerge)

		// Verification
		r.Post("/verification/recommend", h.RecommendVerificationMode)
		r.Get("/verification/modes", h.ListVerificationModes)
		r.Get("/verification/results/{id}", h.GetVerificationResult)
	})
}
