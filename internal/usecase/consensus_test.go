package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genesis-ngx/internal/domain"
	"genesis-ngx/internal/infra/logger"
)

// stubGenerator returns a fixed text and records the last request.
type stubGenerator struct {
	text    string
	err     error
	lastReq *domain.GenerateRequest
	calls   int
}

func (s *stubGenerator) Generate(_ context.Context, req domain.GenerateRequest) (*domain.GenerateResult, error) {
	s.calls++
	s.lastReq = &req
	if s.err != nil {
		return nil, s.err
	}
	return &domain.GenerateResult{
		Text:    s.text,
		Model:   "stub",
		Usage:   domain.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
		CostUSD: 0.002,
	}, nil
}

func (s *stubGenerator) Name() string { return "stub" }

func successResult(agentID, response string) domain.InvocationResult {
	return domain.InvocationResult{
		AgentID:  agentID,
		Method:   "handle_query",
		Response: response,
		Status:   domain.StatusSuccess,
	}
}

func TestConsensusNoSources(t *testing.T) {
	gen := &stubGenerator{}
	b := NewConsensusBuilder(gen, newTestRegistry(t), logger.Discard())

	results := []domain.InvocationResult{
		{AgentID: "blaze", Status: domain.StatusError, Error: "boom"},
		{AgentID: "sage", Status: domain.StatusBudgetExceeded},
	}
	got, err := b.Build(context.Background(), "hola", results, nil, 0.25)
	require.NoError(t, err)

	assert.Contains(t, got.UnifiedResponse, "don't have enough information")
	assert.Less(t, got.Confidence, 0.5)
	assert.Empty(t, got.Sources)
	assert.Zero(t, got.TokensUsed)
	assert.Zero(t, got.CostUSD)
	assert.Zero(t, gen.calls, "no model call with zero sources")
}

func TestConsensusSingleSource(t *testing.T) {
	gen := &stubGenerator{}
	b := NewConsensusBuilder(gen, newTestRegistry(t), logger.Discard())

	results := []domain.InvocationResult{
		successResult("blaze", "Train three times per week."),
		{AgentID: "sage", Status: domain.StatusError, Error: "down"},
	}
	got, err := b.Build(context.Background(), "hola", results, nil, 0.25)
	require.NoError(t, err)

	assert.Contains(t, got.UnifiedResponse, "Blaze")
	assert.Contains(t, got.UnifiedResponse, "Train three times per week.")
	assert.Less(t, got.Confidence, 0.8)
	assert.Equal(t, []string{"blaze"}, got.Sources)
	assert.Zero(t, got.TokensUsed)
	assert.Zero(t, gen.calls, "single source must not call the model")
}

func TestConsensusSingleSourceKeyPoints(t *testing.T) {
	gen := &stubGenerator{}
	b := NewConsensusBuilder(gen, newTestRegistry(t), logger.Discard())

	long := "Squat twice per week. Add five kilos when all reps feel solid. " +
		"Deload every sixth week. Film your last set to check depth."
	got, err := b.Build(context.Background(), "hola",
		[]domain.InvocationResult{successResult("blaze", long)}, nil, 0.25)
	require.NoError(t, err)

	assert.Contains(t, got.UnifiedResponse, "Key points:")
	assert.Contains(t, got.UnifiedResponse, "- Squat twice per week")
	assert.Contains(t, got.UnifiedResponse, "- Add five kilos when all reps feel solid")
	assert.NotContains(t, got.UnifiedResponse, "- Deload", "at most two key points")
	assert.Zero(t, gen.calls)

	// An answer no longer than the key points gets no redundant block.
	short, err := b.Build(context.Background(), "hola",
		[]domain.InvocationResult{successResult("blaze", "Train three times per week.")}, nil, 0.25)
	require.NoError(t, err)
	assert.NotContains(t, short.UnifiedResponse, "Key points:")
}

func TestConsensusSynthesis(t *testing.T) {
	gen := &stubGenerator{text: "RESPUESTA: Eat more protein and lift heavy.\nSEGUIMIENTO: ¿Cuál es tu peso actual?"}
	b := NewConsensusBuilder(gen, newTestRegistry(t), logger.Discard())

	results := []domain.InvocationResult{
		successResult("blaze", "Lift heavy."),
		successResult("sage", "Eat more protein."),
	}
	userCtx := &domain.UserContext{ActiveSeason: "hypertrophy-block-2"}
	got, err := b.Build(context.Background(), "¿Cómo gano músculo?", results, userCtx, 0.25)
	require.NoError(t, err)

	assert.Equal(t, "Eat more protein and lift heavy.", got.UnifiedResponse)
	assert.Equal(t, "¿Cuál es tu peso actual?", got.FollowUpSuggested)
	assert.ElementsMatch(t, []string{"blaze", "sage"}, got.Sources)
	assert.Equal(t, 150, got.TokensUsed)
	assert.Equal(t, 1, gen.calls)

	require.NotNil(t, gen.lastReq)
	assert.Equal(t, domain.TierAdvanced, gen.lastReq.Tier)
	assert.Contains(t, gen.lastReq.Prompt, "hypertrophy-block-2")
	assert.Contains(t, gen.lastReq.Prompt, "Blaze")
	assert.Contains(t, gen.lastReq.Prompt, "Sage")
}

func TestConsensusThreeSourcesConfidence(t *testing.T) {
	gen := &stubGenerator{text: "RESPUESTA: combined\nSEGUIMIENTO: NONE"}
	b := NewConsensusBuilder(gen, newTestRegistry(t), logger.Discard())

	results := []domain.InvocationResult{
		successResult("blaze", "a"),
		successResult("sage", "b"),
		successResult("nova", "c"),
	}
	got, err := b.Build(context.Background(), "hola", results, nil, 0.25)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, got.Confidence, 0.7, "three or more sources")
	assert.Len(t, got.Sources, 3)
	assert.Empty(t, got.FollowUpSuggested, "NONE means no follow-up")
}

func TestConsensusSourcesExcludeFailures(t *testing.T) {
	gen := &stubGenerator{text: "RESPUESTA: ok"}
	b := NewConsensusBuilder(gen, newTestRegistry(t), logger.Discard())

	results := []domain.InvocationResult{
		successResult("blaze", "a"),
		successResult("sage", "b"),
		{AgentID: "nova", Status: domain.StatusError, Error: "timeout"},
	}
	got, err := b.Build(context.Background(), "hola", results, nil, 0.25)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"blaze", "sage"}, got.Sources)
	for _, src := range got.Sources {
		assert.NotEqual(t, "nova", src)
	}
}

func TestParseSynthesis(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantResp   string
		wantFollow string
	}{
		{
			name:       "both sections",
			text:       "RESPUESTA: hello\nSEGUIMIENTO: anything else?",
			wantResp:   "hello",
			wantFollow: "anything else?",
		},
		{
			name:     "no follow-up section",
			text:     "RESPUESTA: hello",
			wantResp: "hello",
		},
		{
			name:     "follow-up NONE",
			text:     "RESPUESTA: hello\nSEGUIMIENTO: NONE",
			wantResp: "hello",
		},
		{
			name:     "unformatted output used whole",
			text:     "just a plain answer",
			wantResp: "just a plain answer",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, follow := parseSynthesis(tt.text)
			assert.Equal(t, tt.wantResp, resp)
			assert.Equal(t, tt.wantFollow, follow)
		})
	}
}

func TestConsensusIgnoresBlankResponses(t *testing.T) {
	gen := &stubGenerator{}
	b := NewConsensusBuilder(gen, newTestRegistry(t), logger.Discard())

	results := []domain.InvocationResult{
		{AgentID: "blaze", Status: domain.StatusSuccess, Response: "   "},
	}
	got, err := b.Build(context.Background(), "hola", results, nil, 0.25)
	require.NoError(t, err)
	assert.True(t, strings.Contains(got.UnifiedResponse, "don't have enough information"))
}
