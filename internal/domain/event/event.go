// Package event defines the typed event envelope emitted by the orchestrator
// for every state transition.
package event

import (
	"encoding/json"
	"log/slog"
	"time"
)

// Type identifies the kind of orchestrator event.
type Type string

const (
	TypeSessionCreated       Type = "session:created"
	TypeSessionPaused        Type = "session:paused"
	TypeSessionResumed       Type = "session:resumed"
	TypeSessionEnded         Type = "session:ended"
	TypeSessionConfigUpdated Type = "session:config-updated"

	TypeAgentCreated       Type = "agent:created"
	TypeAgentDeployed      Type = "agent:deployed"
	TypeAgentTaskStarted   Type = "agent:task-started"
	TypeAgentProgress      Type = "agent:progress"
	TypeAgentLog           Type = "agent:log"
	TypeAgentError         Type = "agent:error"
	TypeAgentPaused        Type = "agent:paused"
	TypeAgentResumed       Type = "agent:resumed"
	TypeAgentStopped       Type = "agent:stopped"
	TypeAgentTaskCompleted Type = "agent:task-completed"

	TypeMergeQueued    Type = "merge:queued"
	TypeMergeApproved  Type = "merge:approved"
	TypeMergeRejected  Type = "merge:rejected"
	TypeMergeExecuting Type = "merge:executing"
	TypeMergeCompleted Type = "merge:completed"
	TypeMergeFailed    Type = "merge:failed"

	TypeVerificationStarted   Type = "verification:started"
	TypeVerificationCompleted Type = "verification:completed"
)

// Event is the envelope every subscriber receives. SessionID is always set;
// AgentID and MergeID are set when the event concerns that entity.
type Event struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	SessionID string          `json:"session_id"`
	AgentID   string          `json:"agent_id,omitempty"`
	MergeID   string          `json:"merge_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Time      time.Time       `json:"time"`
}

// New builds an event envelope, marshaling the payload. A payload that fails
// to marshal is dropped with a log line rather than failing the transition.
func New(t Type, sessionID string, payload any) Event {
	ev := Event{Type: t, SessionID: sessionID, Time: time.Now().UTC()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			slog.Error("marshal event payload", "type", t, "error", err)
		} else {
			ev.Payload = data
		}
	}
	return ev
}

// WithAgent returns a copy of the event tagged with an agent ID.
func (e Event) WithAgent(agentID string) Event {
	e.AgentID = agentID
	return e
}

// WithMerge returns a copy of the event tagged with a merge entry ID.
func (e Event) WithMerge(mergeID string) Event {
	e.MergeID = mergeID
	return e
}
