package usecase

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"genesis-ngx/internal/domain"
)

// tierPrice is USD per one million tokens, split by direction.
type tierPrice struct {
	inputPerM  float64
	outputPerM float64
}

// Published list prices for the two model tiers. Specialists run on the
// standard (fast/cheap) tier; only consensus synthesis uses advanced.
var defaultPrices = map[domain.ModelTier]tierPrice{
	domain.TierStandard: {inputPerM: 0.10, outputPerM: 0.40},
	domain.TierAdvanced: {inputPerM: 1.25, outputPerM: 5.00},
}

// fallbackCharsPerToken is the heuristic used when no BPE encoder is
// available: roughly four characters per token for mixed-language text.
const fallbackCharsPerToken = 4

// CostModel maps (model tier, token counts) to USD cost and estimates
// token counts for budget pre-checks. It is a pure value type: no state
// beyond the optional encoder.
type CostModel struct {
	enc    *tiktoken.Tiktoken
	prices map[domain.ModelTier]tierPrice
}

// NewCostModel creates a CostModel using the heuristic token estimator.
func NewCostModel() *CostModel {
	return &CostModel{prices: defaultPrices}
}

// WithEncoder attaches a BPE encoder for exact token estimation.
// Best effort: if the encoding cannot be loaded the heuristic stays in place.
func (m *CostModel) WithEncoder() *CostModel {
	if enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE); err == nil {
		m.enc = enc
	}
	return m
}

// Cost returns the USD cost of the given usage at the given tier.
// Unknown tiers price as standard.
func (m *CostModel) Cost(tier domain.ModelTier, usage domain.Usage) float64 {
	price, ok := m.prices[tier]
	if !ok {
		price = m.prices[domain.TierStandard]
	}
	return float64(usage.PromptTokens)*price.inputPerM/1e6 +
		float64(usage.CompletionTokens)*price.outputPerM/1e6
}

// EstimateTokens estimates the token count of text.
func (m *CostModel) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	if m.enc != nil {
		return len(m.enc.Encode(text, nil, nil))
	}
	n := utf8.RuneCountInString(text)
	tokens := n / fallbackCharsPerToken
	if n%fallbackCharsPerToken != 0 {
		tokens++
	}
	return tokens
}

// EstimateCost returns the worst-case USD cost of generating up to
// maxOutput tokens from the given prompt at the given tier. Used to reject
// calls before spending, per the budget invariant.
func (m *CostModel) EstimateCost(tier domain.ModelTier, prompt string, maxOutput int) float64 {
	return m.Cost(tier, domain.Usage{
		PromptTokens:     m.EstimateTokens(prompt),
		CompletionTokens: maxOutput,
	})
}
