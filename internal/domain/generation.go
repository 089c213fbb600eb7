package domain

import "context"

// ModelTier selects a capability/cost class for text generation.
// All specialists run on the standard tier; only the orchestrator's
// consensus synthesis uses the advanced tier.
type ModelTier string

const (
	TierStandard ModelTier = "standard"
	TierAdvanced ModelTier = "advanced"
)

// GenerateRequest is sent to a text-generation backend.
type GenerateRequest struct {
	Prompt      string    `json:"prompt"`
	System      string    `json:"system,omitempty"`
	Tier        ModelTier `json:"tier"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	BudgetUSD   float64   `json:"budget_usd,omitempty"` // 0 = no per-call ceiling
}

// GenerateResult is returned from a text-generation backend.
type GenerateResult struct {
	Text      string  `json:"text"`
	Model     string  `json:"model"`
	Usage     Usage   `json:"usage"`
	CostUSD   float64 `json:"cost_usd"`
	LatencyMS int64   `json:"latency_ms"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage record into this one.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// TextGenerator is the interface for any text-generation backend.
type TextGenerator interface {
	// Generate sends a request and returns a complete result.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
	// Name returns the backend's identifier (e.g., "gemini", "mock").
	Name() string
}

// StreamDelta is a single incremental chunk from a streaming generation.
type StreamDelta struct {
	Text  string `json:"text,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Usage *Usage `json:"usage,omitempty"`
}

// StreamingTextGenerator extends TextGenerator with streaming support.
type StreamingTextGenerator interface {
	TextGenerator
	// GenerateStream sends a request and returns a channel of incremental deltas.
	GenerateStream(ctx context.Context, req GenerateRequest) (<-chan StreamDelta, error)
}
