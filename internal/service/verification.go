package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kriptik-ai/devmode/internal/adapter/otel"
	"github.com/kriptik-ai/devmode/internal/domain/event"
	"github.com/kriptik-ai/devmode/internal/domain/verification"
	"github.com/kriptik-ai/devmode/internal/port/cache"
	"github.com/kriptik-ai/devmode/internal/port/eventbus"
	"github.com/kriptik-ai/devmode/internal/port/verifier"
)

const verificationCacheTTL = 10 * time.Minute

func verificationCacheKey(featureID string) string {
	return "verification:" + featureID
}

// Verification is the verification mode scaler: it recommends a mode from
// task signals and runs the mode's agent set against a change. Run always
// returns a result; individual agent failures are recorded, never propagated.
type Verification struct {
	registry verifier.Registry
	bus      eventbus.Bus
	cache    cache.Cache
	metrics  *otel.Metrics
	timeout  time.Duration
}

// NewVerification creates a verification service. timeout bounds each
// individual verifier call; 0 means no bound.
func NewVerification(registry verifier.Registry, bus eventbus.Bus, c cache.Cache, metrics *otel.Metrics, timeout time.Duration) *Verification {
	return &Verification{
		registry: registry,
		bus:      bus,
		cache:    c,
		metrics:  metrics,
		timeout:  timeout,
	}
}

// RecommendMode maps task signals to a verification mode.
func (v *Verification) RecommendMode(sig verification.Signals) verification.Mode {
	return verification.RecommendMode(sig)
}

// AllModes returns the mode catalog, lightest first.
func (v *Verification) AllModes() []verification.ModeConfig {
	return verification.AllModes()
}

// GetModeConfig returns the catalog row for a mode.
func (v *Verification) GetModeConfig(m verification.Mode) (verification.ModeConfig, bool) {
	return verification.GetModeConfig(m)
}

// Run executes the mode's verification agents concurrently and aggregates
// their results. An unknown mode runs zero agents and vacuously passes.
func (v *Verification) Run(ctx context.Context, mode verification.Mode, projectID, sessionID string, feature verification.Feature, codeFiles map[string]string, intent string) *verification.Result {
	cfg, ok := verification.GetModeConfig(mode)
	if !ok {
		slog.Warn("unknown verification mode, running no agents", "mode", mode)
	}

	started := time.Now().UTC()
	v.publish(event.New(event.TypeVerificationStarted, sessionID, map[string]any{
		"mode": mode, "feature_id": feature.ID, "agent_types": cfg.AgentTypes,
	}))

	in := verifier.Input{
		ProjectID: projectID,
		SessionID: sessionID,
		Feature:   feature,
		CodeFiles: codeFiles,
		Intent:    intent,
	}

	results := make([]verification.AgentResult, len(cfg.AgentTypes))
	g, gctx := errgroup.WithContext(ctx)
	for i, agentType := range cfg.AgentTypes {
		g.Go(func() error {
			results[i] = v.runOne(gctx, agentType, in)
			return nil
		})
	}
	_ = g.Wait()

	overall, passed, verdict := verification.Aggregate(results)
	result := &verification.Result{
		Mode:         mode,
		ProjectID:    projectID,
		SessionID:    sessionID,
		Feature:      feature,
		AgentResults: results,
		OverallScore: overall,
		Verdict:      verdict,
		Passed:       passed,
		StartedAt:    started,
		Duration:     time.Since(started),
	}

	v.publish(event.New(event.TypeVerificationCompleted, sessionID, result))
	if v.metrics != nil {
		v.metrics.VerificationRuns.Add(ctx, 1)
		v.metrics.VerificationScore.Record(ctx, overall)
	}
	if v.cache != nil {
		if data, err := json.Marshal(result); err == nil {
			_ = v.cache.Set(ctx, verificationCacheKey(feature.ID), data, verificationCacheTTL)
		}
	}
	slog.Info("verification completed",
		"session_id", sessionID, "mode", mode, "score", overall, "verdict", verdict)
	return result
}

// CachedResult returns a previously computed result for a feature, if still
// cached.
func (v *Verification) CachedResult(ctx context.Context, featureID string) (*verification.Result, bool) {
	if v.cache == nil {
		return nil, false
	}
	data, found, err := v.cache.Get(ctx, verificationCacheKey(featureID))
	if err != nil || !found {
		return nil, false
	}
	var result verification.Result
	if json.Unmarshal(data, &result) != nil {
		return nil, false
	}
	return &result, true
}

// runOne executes a single verification agent. Any error or panic becomes a
// failed result with score 0 so the aggregate run still completes.
func (v *Verification) runOne(ctx context.Context, agentType verification.AgentType, in verifier.Input) (result verification.AgentResult) {
	result = verification.AgentResult{AgentType: agentType}

	defer func() {
		if r := recover(); r != nil {
			result = verification.AgentResult{
				AgentType: agentType,
				Passed:    false,
				Score:     0,
				Issues:    []string{fmt.Sprintf("verifier panicked: %v", r)},
			}
			slog.Error("verification agent panicked", "agent_type", agentType, "panic", r)
		}
	}()

	vf, ok := v.registry.Lookup(agentType)
	if !ok {
		result.Issues = []string{fmt.Sprintf("no verifier registered for %s", agentType)}
		return result
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	res, err := vf.Verify(ctx, in)
	if err != nil {
		result.Issues = []string{fmt.Sprintf("verifier failed: %v", err)}
		return result
	}
	res.AgentType = agentType
	return res
}

func (v *Verification) publish(ev event.Event) {
	ev.ID = uuid.NewString()
	v.bus.Publish(ev)
}
