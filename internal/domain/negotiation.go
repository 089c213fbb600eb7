package domain

import "context"

// Negotiation is a pre-invocation feasibility check: can this agent serve
// the required capabilities within the given budget.
type Negotiation struct {
	Capabilities []string `json:"capabilities"`
	BudgetUSD    float64  `json:"budget_usd"`
}

// NegotiationOutcome is the agent's verdict. A capability refusal names
// every missing capability and what the agent does offer; a budget refusal
// carries the "insufficient_budget" reason and the minimum that would be
// accepted; an acceptance carries the agent's token ceilings.
type NegotiationOutcome struct {
	Accepted              bool     `json:"accepted"`
	MissingCapabilities   []string `json:"missing_capabilities,omitempty"`
	AvailableCapabilities []string `json:"available_capabilities,omitempty"`
	Reason                string   `json:"reason,omitempty"`
	MinimumBudgetUSD      float64  `json:"minimum_budget_usd,omitempty"`
	MaxInputTokens        int      `json:"max_input_tokens,omitempty"`
	MaxOutputTokens       int      `json:"max_output_tokens,omitempty"`
}

// Negotiator is implemented by invokers whose transport offers a negotiate
// endpoint. Invokers without it are evaluated locally against their card.
type Negotiator interface {
	NegotiateTerms(ctx context.Context, n Negotiation) (*NegotiationOutcome, error)
}
