package domain

import (
	"context"
	"time"
)

// InvocationStatus is the terminal status of a single agent invocation.
type InvocationStatus string

const (
	StatusSuccess        InvocationStatus = "success"
	StatusError          InvocationStatus = "error"
	StatusBudgetExceeded InvocationStatus = "budget_exceeded"
)

// InvocationRequest is one RPC call to a specialist agent.
type InvocationRequest struct {
	Protocol  string         `json:"protocol"`
	Method    string         `json:"method"`
	Params    map[string]any `json:"params,omitempty"`
	RequestID string         `json:"request_id,omitempty"` // client-assigned correlation id
	UserID    string         `json:"user_id,omitempty"`
	BudgetUSD float64        `json:"budget_usd,omitempty"`
}

// InvocationResult is the normalized outcome of a call, regardless of
// whether the agent was reached in-process or over the wire.
type InvocationResult struct {
	AgentID   string           `json:"agent_id"`
	Method    string           `json:"method"`
	Response  string           `json:"response"`
	Payload   map[string]any   `json:"payload,omitempty"`
	Status    InvocationStatus `json:"status"`
	Error     string           `json:"error,omitempty"`
	Usage     Usage            `json:"usage"`
	CostUSD   float64          `json:"cost_usd"`
	LatencyMS int64            `json:"latency_ms"`
	CreatedAt time.Time        `json:"created_at"`
}

// Succeeded reports whether the invocation completed with StatusSuccess.
func (r *InvocationResult) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}

// Invoker reaches one agent, locally or remotely. Implementations must
// translate transport failures into domain sentinels so callers can
// decide retryability with IsRetryable.
type Invoker interface {
	// Invoke performs one call and returns the normalized result.
	Invoke(ctx context.Context, req InvocationRequest) (*InvocationResult, error)
	// Card returns the agent's capability descriptor.
	Card(ctx context.Context) (*AgentCard, error)
}
