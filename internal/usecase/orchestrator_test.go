package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genesis-ngx/internal/domain"
	"genesis-ngx/internal/infra/logger"
)

// memStoreStub records appended messages for assertions.
type memStoreStub struct {
	conversations int
	userMsgs      []string
	agentMsgs     []string
	userCtx       *domain.UserContext
	failAppend    bool
}

func (s *memStoreStub) CreateConversation(_ context.Context, _ string) (string, error) {
	s.conversations++
	return "conv-1", nil
}

func (s *memStoreStub) AppendUserMessage(_ context.Context, _, _, content string) (string, error) {
	if s.failAppend {
		return "", domain.ErrStoreUnavailable
	}
	s.userMsgs = append(s.userMsgs, content)
	return "msg-1", nil
}

func (s *memStoreStub) AppendAgentMessage(_ context.Context, _, _, _, content string, _ int, _ float64) (string, error) {
	if s.failAppend {
		return "", domain.ErrStoreUnavailable
	}
	s.agentMsgs = append(s.agentMsgs, content)
	return "msg-2", nil
}

func (s *memStoreStub) GetUserContext(_ context.Context, _ string) (*domain.UserContext, error) {
	if s.userCtx == nil {
		return nil, domain.ErrConversationNotFound
	}
	return s.userCtx, nil
}

func fullMockRegistry(t *testing.T) *Registry {
	t.Helper()
	specs := []AgentSpec{
		{ID: "blaze", Name: "Blaze", MinCostUSD: 0.01},
		{ID: "sage", Name: "Sage", MinCostUSD: 0.01},
		{ID: "wave", Name: "Wave", MinCostUSD: 0.01},
		{ID: "spark", Name: "Spark", MinCostUSD: 0.01},
		{ID: "stella", Name: "Stella", MinCostUSD: 0.01},
		{ID: "nova", Name: "Nova", MinCostUSD: 0.01},
		{ID: "luna", Name: "Luna", MinCostUSD: 0.01},
		{ID: "code", Name: "Code", MinCostUSD: 0.01},
		{ID: "macro", Name: "Macro", MinCostUSD: 0.01},
		{ID: "aura", Name: "Aura", MinCostUSD: 0.01},
	}
	r, err := NewRegistry(specs, true, nil, logger.Discard())
	require.NoError(t, err)
	return r
}

func newTestOrchestrator(t *testing.T, reg *Registry, gen *stubGenerator, store domain.ConversationStore, ledger *DailyLedger) *Orchestrator {
	t.Helper()
	builder := NewConsensusBuilder(gen, reg, logger.Discard())
	return NewOrchestrator(reg, builder, store, ledger, OrchestratorOptions{
		MaxConcurrentDispatch: 3,
		DefaultBudgetUSD:      0.50,
		SpecialistTimeout:     5 * time.Second,
	}, logger.Discard())
}

func TestProcessTurnSafetyHalt(t *testing.T) {
	gen := &stubGenerator{}
	o := newTestOrchestrator(t, fullMockRegistry(t), gen, nil, nil)

	got, err := o.ProcessTurn(context.Background(), domain.TurnRequest{
		UserID:  "u1",
		Message: "Tengo dolor de pecho y no puedo respirar",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TurnSafetyHalt, got.State)
	assert.Empty(t, got.AgentsConsulted)
	assert.Contains(t, got.Response.UnifiedResponse, "emergency")
	assert.Zero(t, got.Response.TokensUsed)
	assert.Zero(t, gen.calls, "safety halt must not touch the model")
}

func TestProcessTurnSingleAgent(t *testing.T) {
	gen := &stubGenerator{}
	store := &memStoreStub{}
	o := newTestOrchestrator(t, fullMockRegistry(t), gen, store, nil)

	got, err := o.ProcessTurn(context.Background(), domain.TurnRequest{
		UserID:  "u1",
		Message: "Quiero mejorar mi movilidad y flexibilidad",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TurnDone, got.State)
	assert.Equal(t, []string{"wave"}, got.AgentsConsulted)
	assert.Equal(t, []string{"wave"}, got.Response.Sources)
	assert.Contains(t, got.Response.UnifiedResponse, "[mock:wave]")
	assert.Zero(t, gen.calls, "one source means no synthesis call")

	assert.Equal(t, 1, store.conversations)
	assert.Equal(t, "conv-1", got.ConversationID)
	require.Len(t, store.userMsgs, 1)
	require.Len(t, store.agentMsgs, 1)
}

func TestAllSpecialistsInvokableInMockMode(t *testing.T) {
	reg := fullMockRegistry(t)

	specs := reg.List()
	require.Len(t, specs, 10)
	for _, spec := range specs {
		res, err := reg.Invoke(context.Background(), spec.ID, "handle_query",
			map[string]any{"text": "hola"}, "u1", 0.05)
		require.NoError(t, err, "agent %s", spec.ID)
		assert.True(t, res.Succeeded(), "agent %s", spec.ID)
		assert.Contains(t, res.Response, "[mock:"+spec.ID+"]")
	}
}

func TestProcessTurnMultiAgentSynthesis(t *testing.T) {
	gen := &stubGenerator{text: "RESPUESTA: unified answer\nSEGUIMIENTO: NONE"}
	o := newTestOrchestrator(t, fullMockRegistry(t), gen, nil, nil)

	got, err := o.ProcessTurn(context.Background(), domain.TurnRequest{
		UserID:  "u1",
		Message: "¿Cuántas calorías y proteína necesito para ganar músculo y qué creatina tomar?",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TurnDone, got.State)
	assert.Equal(t, "unified answer", got.Response.UnifiedResponse)
	assert.GreaterOrEqual(t, len(got.Response.Sources), 2)
	assert.Equal(t, 1, gen.calls)
}

func TestProcessTurnUnknownAgentDegrades(t *testing.T) {
	// Registry without wave: mobility questions classify to an agent that
	// cannot be resolved, which must degrade, not fail the turn.
	specs := []AgentSpec{{ID: "blaze", Name: "Blaze", MinCostUSD: 0.01}}
	reg, err := NewRegistry(specs, true, nil, logger.Discard())
	require.NoError(t, err)

	gen := &stubGenerator{}
	o := newTestOrchestrator(t, reg, gen, nil, nil)

	got, err := o.ProcessTurn(context.Background(), domain.TurnRequest{
		UserID:  "u1",
		Message: "Quiero mejorar mi movilidad",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TurnDone, got.State)
	require.Len(t, got.Results, 1)
	assert.Equal(t, domain.StatusError, got.Results[0].Status)
	assert.Equal(t, unavailableNote, got.Results[0].Error)
	assert.Empty(t, got.AgentsConsulted, "a failed dispatch is not a consultation")
	assert.Contains(t, got.Response.UnifiedResponse, "don't have enough information")
}

func TestProcessTurnDailyBudgetExhausted(t *testing.T) {
	ledger := NewDailyLedger(1.00)
	require.NoError(t, ledger.Spend(1.00))

	gen := &stubGenerator{}
	o := newTestOrchestrator(t, fullMockRegistry(t), gen, nil, ledger)

	got, err := o.ProcessTurn(context.Background(), domain.TurnRequest{
		UserID:  "u1",
		Message: "Quiero ganar fuerza",
	})
	require.NoError(t, err)

	assert.Empty(t, got.AgentsConsulted)
	assert.Contains(t, got.Response.UnifiedResponse, "limit for today")
	assert.Zero(t, gen.calls)
}

func TestProcessTurnStoreFailureDegrades(t *testing.T) {
	gen := &stubGenerator{}
	store := &memStoreStub{failAppend: true}
	o := newTestOrchestrator(t, fullMockRegistry(t), gen, store, nil)

	got, err := o.ProcessTurn(context.Background(), domain.TurnRequest{
		UserID:  "u1",
		Message: "Quiero ganar fuerza y músculo",
	})
	require.NoError(t, err, "store failures must not abort the turn")
	assert.Equal(t, domain.TurnDone, got.State)
}

func TestProcessTurnGeneralChatNoAgents(t *testing.T) {
	gen := &stubGenerator{}
	o := newTestOrchestrator(t, fullMockRegistry(t), gen, nil, nil)

	got, err := o.ProcessTurn(context.Background(), domain.TurnRequest{
		UserID:  "u1",
		Message: "hola, buenos días",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TurnDone, got.State)
	assert.Empty(t, got.Response.Sources)
	assert.Contains(t, got.Response.UnifiedResponse, "don't have enough information")
}
