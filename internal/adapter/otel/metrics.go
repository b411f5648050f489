package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "devmode"

// Metrics holds all devmode metric instruments.
type Metrics struct {
	AgentsDeployed    metric.Int64Counter
	AgentsCompleted   metric.Int64Counter
	AgentsFailed      metric.Int64Counter
	MergesExecuted    metric.Int64Counter
	MergesFailed      metric.Int64Counter
	VerificationRuns  metric.Int64Counter
	VerificationScore metric.Float64Histogram
	LockContention    metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.AgentsDeployed, err = meter.Int64Counter("devmode.agents.deployed",
		metric.WithDescription("Number of agents deployed"))
	if err != nil {
		return nil, err
	}

	m.AgentsCompleted, err = meter.Int64Counter("devmode.agents.completed",
		metric.WithDescription("Number of agents completed"))
	if err != nil {
		return nil, err
	}

	m.AgentsFailed, err = meter.Int64Counter("devmode.agents.failed",
		metric.WithDescription("Number of agents failed"))
	if err != nil {
		return nil, err
	}

	m.MergesExecuted, err = meter.Int64Counter("devmode.merges.executed",
		metric.WithDescription("Number of merge entries executed"))
	if err != nil {
		return nil, err
	}

	m.MergesFailed, err = meter.Int64Counter("devmode.merges.failed",
		metric.WithDescription("Number of merge executions that failed"))
	if err != nil {
		return nil, err
	}

	m.VerificationRuns, err = meter.Int64Counter("devmode.verification.runs",
		metric.WithDescription("Number of verification runs"))
	if err != nil {
		return nil, err
	}

	m.VerificationScore, err = meter.Float64Histogram("devmode.verification.score",
		metric.WithDescription("Overall verification scores"))
	if err != nil {
		return nil, err
	}

	m.LockContention, err = meter.Int64Counter("devmode.locks.contention",
		metric.WithDescription("Number of rejected file lock acquisitions"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
