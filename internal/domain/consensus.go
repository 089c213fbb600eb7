package domain

// ConsensusResult is the unified reply built from zero or more specialist
// invocation results. Sources lists exactly the agents whose result had
// StatusSuccess; failed sources are excluded even if they were dispatched.
type ConsensusResult struct {
	UnifiedResponse   string   `json:"unified_response"`
	Confidence        float64  `json:"confidence"`
	Sources           []string `json:"sources"`
	FollowUpSuggested string   `json:"follow_up_suggested,omitempty"`
	TokensUsed        int      `json:"tokens_used"`
	CostUSD           float64  `json:"cost_usd"`
}
