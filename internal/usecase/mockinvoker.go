package usecase

import (
	"context"
	"fmt"
	"time"

	"genesis-ngx/internal/domain"
)

// mockInvoker answers deterministically and instantly for a configured
// agent, with no network calls and zero LLM cost. The response body carries
// a "[mock:<id>]" marker so tests and operators can recognize it.
type mockInvoker struct {
	spec AgentSpec
}

func newMockInvoker(spec AgentSpec) *mockInvoker {
	return &mockInvoker{spec: spec}
}

func (m *mockInvoker) Invoke(_ context.Context, req domain.InvocationRequest) (*domain.InvocationResult, error) {
	name := m.spec.Name
	if name == "" {
		name = m.spec.ID
	}
	return &domain.InvocationResult{
		AgentID:  m.spec.ID,
		Method:   req.Method,
		Response: fmt.Sprintf("[mock:%s] %s handled %q deterministically.", m.spec.ID, name, req.Method),
		Payload: map[string]any{
			"mock":   true,
			"agent":  m.spec.ID,
			"method": req.Method,
		},
		Status:    domain.StatusSuccess,
		CreatedAt: time.Now(),
	}, nil
}

func (m *mockInvoker) Card(context.Context) (*domain.AgentCard, error) {
	return CardForSpec(m.spec), nil
}

// CardForSpec builds an AgentCard from a registry spec. Used by the mock
// invoker and by the specialist server when no hand-written card exists.
func CardForSpec(spec AgentSpec) *domain.AgentCard {
	return &domain.AgentCard{
		ID:           spec.ID,
		Name:         spec.Name,
		Version:      "1.0.0",
		Protocol:     domain.ProtocolVersion,
		Capabilities: append([]string{}, spec.Capabilities...),
		Methods: []domain.MethodSpec{
			{Name: "handle_query", Description: "Answer a free-text domain question."},
		},
		Limits: domain.ResourceLimits{
			MaxInputTokens:      8192,
			MaxOutputTokens:     2048,
			MaxLatencyMS:        30000,
			MaxCostPerInvokeUSD: spec.MinCostUSD,
		},
	}
}
