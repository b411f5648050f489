package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kriptik-ai/devmode/internal/domain/verification"
	"github.com/kriptik-ai/devmode/internal/port/verifier"
)

// verifyRequest is the wire form of one verification agent call.
type verifyRequest struct {
	AgentType verification.AgentType `json:"agent_type"`
	Input     verifier.Input         `json:"input"`
}

// Registry resolves verification agent types to gateway-backed verifiers.
// Every catalog agent type runs behind the same gateway endpoint.
type Registry struct {
	client *Client
}

// NewRegistry creates a verifier registry backed by the gateway.
func NewRegistry(client *Client) *Registry {
	return &Registry{client: client}
}

// Lookup returns a verifier for any known agent type.
func (r *Registry) Lookup(t verification.AgentType) (verifier.Verifier, bool) {
	switch t {
	case verification.AgentStatic, verification.AgentFunctional, verification.AgentVisual,
		verification.AgentSecurity, verification.AgentIntent:
		return &remoteVerifier{client: r.client, agentType: t}, true
	}
	return nil, false
}

// remoteVerifier runs one check through the gateway's verification endpoint.
type remoteVerifier struct {
	client    *Client
	agentType verification.AgentType
}

func (v *remoteVerifier) Verify(ctx context.Context, in verifier.Input) (verification.AgentResult, error) {
	body, err := json.Marshal(verifyRequest{AgentType: v.agentType, Input: in})
	if err != nil {
		return verification.AgentResult{}, fmt.Errorf("marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.client.baseURL+"/v1/verify", bytes.NewReader(body))
	if err != nil {
		return verification.AgentResult{}, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if v.client.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.client.apiKey)
	}

	resp, err := v.client.httpClient.Do(req)
	if err != nil {
		return verification.AgentResult{}, fmt.Errorf("gateway verify: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return verification.AgentResult{}, fmt.Errorf("gateway verify: status %d: %s", resp.StatusCode, msg)
	}

	var result verification.AgentResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return verification.AgentResult{}, fmt.Errorf("decode verify result: %w", err)
	}
	result.AgentType = v.agentType
	return result, nil
}
