package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"genesis-ngx/internal/domain"
)

// AgentSpec describes one entry in the registry's target table: who the
// agent is, how it is reached, and what tier/budget constraints apply.
type AgentSpec struct {
	ID           string
	Name         string
	Endpoint     string // empty = in-process mock
	Tier         domain.ModelTier
	Capabilities []string
	// MinCostUSD mirrors the agent card's max_cost_per_invoke: invocations
	// carrying a smaller budget are rejected with status budget_exceeded.
	MinCostUSD float64
}

// InvokerFactory builds an Invoker for a remote target. Supplied by the
// composition root so this package stays transport-agnostic.
type InvokerFactory func(spec AgentSpec) domain.Invoker

type registeredAgent struct {
	spec    AgentSpec
	invoker domain.Invoker
}

// Registry is the single source of truth mapping agent ids to invocation
// targets. Constructed explicitly and passed by reference; building a new
// one (or calling Reset) yields a clean table with no leaked state.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*registeredAgent
	mock   bool
	dial   InvokerFactory
	logger *slog.Logger
}

// NewRegistry creates a Registry from the given target table. When mock is
// true every agent answers deterministically in-process, regardless of
// configured endpoints.
func NewRegistry(specs []AgentSpec, mock bool, dial InvokerFactory, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		agents: make(map[string]*registeredAgent),
		mock:   mock,
		dial:   dial,
		logger: logger,
	}
	if err := r.Reset(specs); err != nil {
		return nil, err
	}
	return r, nil
}

// Reset replaces the whole target table. Idempotent and safe to call
// repeatedly; tests use it to get a clean registry per case.
func (r *Registry) Reset(specs []AgentSpec) error {
	agents := make(map[string]*registeredAgent, len(specs))
	for _, spec := range specs {
		if spec.ID == "" {
			return fmt.Errorf("registry: agent spec with empty id")
		}
		if _, dup := agents[spec.ID]; dup {
			return fmt.Errorf("registry: agent %q declared twice", spec.ID)
		}
		if spec.Tier == "" {
			spec.Tier = domain.TierStandard
		}

		var invoker domain.Invoker
		switch {
		case r.mock || spec.Endpoint == "":
			invoker = newMockInvoker(spec)
		case r.dial != nil:
			invoker = r.dial(spec)
		default:
			return fmt.Errorf("registry: agent %q has remote endpoint but no dialer configured", spec.ID)
		}
		agents[spec.ID] = &registeredAgent{spec: spec, invoker: invoker}
	}

	r.mu.Lock()
	r.agents = agents
	r.mu.Unlock()

	r.logger.Info("registry configured", "agents", len(agents), "mock", r.mock)
	return nil
}

// Get returns the spec for the given agent id, or ErrAgentNotFound.
func (r *Registry) Get(agentID string) (AgentSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.agents[agentID]
	if !ok {
		return AgentSpec{}, domain.NewDomainError("Registry.Get", domain.ErrAgentNotFound, agentID)
	}
	return entry.spec, nil
}

// List returns all registered specs, sorted by id.
func (r *Registry) List() []AgentSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]AgentSpec, 0, len(r.agents))
	for _, entry := range r.agents {
		specs = append(specs, entry.spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return specs
}

// Invoke resolves agentID and performs one call with budget enforcement.
//
// Unknown agents return ErrAgentNotFound (callers translate this into a
// user-safe "agent unavailable" result). A budget below the agent's minimum
// returns a result with status budget_exceeded rather than an error, so the
// caller can continue with other agents. Transport and agent failures are
// likewise normalized into a result with status error.
func (r *Registry) Invoke(ctx context.Context, agentID, method string, params map[string]any, userID string, budgetUSD float64) (*domain.InvocationResult, error) {
	r.mu.RLock()
	entry, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.NewDomainError("Registry.Invoke", domain.ErrAgentNotFound, agentID)
	}

	if budgetUSD < entry.spec.MinCostUSD {
		r.logger.Warn("invocation under agent minimum budget",
			"agent_id", agentID,
			"budget_usd", budgetUSD,
			"min_cost_usd", entry.spec.MinCostUSD,
		)
		return &domain.InvocationResult{
			AgentID:   agentID,
			Method:    method,
			Status:    domain.StatusBudgetExceeded,
			Error:     fmt.Sprintf("budget %.4f below agent minimum %.4f", budgetUSD, entry.spec.MinCostUSD),
			CreatedAt: time.Now(),
		}, nil
	}

	req := domain.InvocationRequest{
		Protocol:  domain.ProtocolVersion,
		Method:    method,
		Params:    params,
		RequestID: ulid.Make().String(),
		UserID:    userID,
		BudgetUSD: budgetUSD,
	}

	start := time.Now()
	result, err := entry.invoker.Invoke(ctx, req)
	if err != nil {
		r.logger.Warn("agent invocation failed",
			"agent_id", agentID,
			"method", method,
			"error", err,
		)
		return &domain.InvocationResult{
			AgentID:   agentID,
			Method:    method,
			Status:    invocationStatusFor(err),
			Error:     err.Error(),
			LatencyMS: time.Since(start).Milliseconds(),
			CreatedAt: time.Now(),
		}, nil
	}

	result.AgentID = agentID
	if result.LatencyMS == 0 {
		result.LatencyMS = time.Since(start).Milliseconds()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now()
	}
	return result, nil
}

// Card returns the capability descriptor for the given agent.
func (r *Registry) Card(ctx context.Context, agentID string) (*domain.AgentCard, error) {
	r.mu.RLock()
	entry, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.NewDomainError("Registry.Card", domain.ErrAgentNotFound, agentID)
	}
	return entry.invoker.Card(ctx)
}

// Negotiate checks whether an agent can serve the given terms before any
// budget is spent. Remote invokers are asked over the wire; everything else
// is evaluated locally against the agent's card.
func (r *Registry) Negotiate(ctx context.Context, agentID string, n domain.Negotiation) (*domain.NegotiationOutcome, error) {
	r.mu.RLock()
	entry, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.NewDomainError("Registry.Negotiate", domain.ErrAgentNotFound, agentID)
	}

	if neg, ok := entry.invoker.(domain.Negotiator); ok {
		return neg.NegotiateTerms(ctx, n)
	}
	card, err := entry.invoker.Card(ctx)
	if err != nil {
		return nil, domain.WrapOp("Registry.Negotiate "+agentID, err)
	}
	return evaluateTerms(card, n), nil
}

// evaluateTerms mirrors the server-side negotiation verdict: capability
// coverage first, then the budget. A budget under the card's max cost per
// invocation is refused even when no budget was stated at all.
func evaluateTerms(card *domain.AgentCard, n domain.Negotiation) *domain.NegotiationOutcome {
	var missing []string
	for _, name := range n.Capabilities {
		if !card.HasCapability(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &domain.NegotiationOutcome{
			MissingCapabilities:   missing,
			AvailableCapabilities: card.Capabilities,
		}
	}
	if n.BudgetUSD < card.Limits.MaxCostPerInvokeUSD {
		return &domain.NegotiationOutcome{
			Reason:           "insufficient_budget",
			MinimumBudgetUSD: card.Limits.MaxCostPerInvokeUSD,
		}
	}
	return &domain.NegotiationOutcome{
		Accepted:        true,
		MaxInputTokens:  card.Limits.MaxInputTokens,
		MaxOutputTokens: card.Limits.MaxOutputTokens,
	}
}

// invocationStatusFor maps an invoker error to a result status.
func invocationStatusFor(err error) domain.InvocationStatus {
	if domain.ErrorCodeOf(err) == domain.CodeBudgetExceeded {
		return domain.StatusBudgetExceeded
	}
	return domain.StatusError
}
