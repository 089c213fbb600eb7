package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"genesis-ngx/internal/domain"
	"genesis-ngx/internal/infra/tracer"
)

const emergencyResponse = "This sounds like it could be a medical emergency. " +
	"Please contact your local emergency services (911 / 112) or go to the nearest " +
	"emergency room right away. I'm not able to help with urgent medical situations."

const handoffResponse = "This touches on medical information I'm not able to handle. " +
	"Please talk to a healthcare professional who can review your situation directly."

const dailyBudgetResponse = "I've reached my processing limit for today. " +
	"Please try again tomorrow, or contact support if this keeps happening."

const unavailableNote = "agent unavailable"

// Orchestrator drives one user turn through classification, bounded
// specialist fan-out, and consensus. Per-agent failures degrade the answer
// but never abort the turn; only consensus synthesis failure is fatal.
type Orchestrator struct {
	registry  *Registry
	consensus *ConsensusBuilder
	store     domain.ConversationStore
	ledger    *DailyLedger
	logger    *slog.Logger

	maxConcurrent int
	defaultBudget float64
	agentTimeout  time.Duration
}

type OrchestratorOptions struct {
	MaxConcurrentDispatch int
	DefaultBudgetUSD      float64
	SpecialistTimeout     time.Duration
}

func NewOrchestrator(registry *Registry, consensus *ConsensusBuilder, store domain.ConversationStore, ledger *DailyLedger, opts OrchestratorOptions, logger *slog.Logger) *Orchestrator {
	if opts.MaxConcurrentDispatch <= 0 {
		opts.MaxConcurrentDispatch = 3
	}
	if opts.DefaultBudgetUSD <= 0 {
		opts.DefaultBudgetUSD = 0.50
	}
	if opts.SpecialistTimeout <= 0 {
		opts.SpecialistTimeout = 30 * time.Second
	}
	return &Orchestrator{
		registry:      registry,
		consensus:     consensus,
		store:         store,
		ledger:        ledger,
		logger:        logger,
		maxConcurrent: opts.MaxConcurrentDispatch,
		defaultBudget: opts.DefaultBudgetUSD,
		agentTimeout:  opts.SpecialistTimeout,
	}
}

// ProcessTurn runs the full turn state machine:
//
//	received -> classified -> safety_halt            (terminal)
//	received -> classified -> dispatched -> consensus -> done
//
// Safety halts spend zero tokens and consult zero agents.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req domain.TurnRequest) (*domain.TurnResult, error) {
	ctx, span := tracer.StartSpan(ctx, "orchestrator.ProcessTurn",
		trace.WithAttributes(tracer.StringAttr("user.id", req.UserID)),
	)
	defer span.End()

	logger := o.logger.With("user_id", req.UserID)

	conversationID, userCtx := o.prepareTurn(ctx, &req, logger)

	classification := ClassifyIntent(req.Message)
	logger.Info("turn classified",
		"state", domain.TurnClassified,
		"intent", classification.Primary,
		"confidence", classification.Confidence,
		"agents", classification.AgentsNeeded,
		"emergency", classification.IsEmergency,
	)
	span.SetAttributes(tracer.StringAttr("turn.intent", string(classification.Primary)))

	if classification.IsEmergency || classification.RequiresHumanHandoff {
		msg := handoffResponse
		if classification.IsEmergency {
			msg = emergencyResponse
		}
		logger.Warn("turn halted for safety", "state", domain.TurnSafetyHalt, "emergency", classification.IsEmergency)
		tracer.SetOK(span)
		result := &domain.TurnResult{
			ConversationID: conversationID,
			Response: domain.ConsensusResult{
				UnifiedResponse: msg,
				Confidence:      1.0,
				Sources:         []string{},
			},
			Classification:  classification,
			AgentsConsulted: []string{},
			State:           domain.TurnSafetyHalt,
		}
		o.persistTurn(ctx, conversationID, req.UserID, "orchestrator", result, logger)
		return result, nil
	}

	budget := req.BudgetUSD
	if budget <= 0 {
		budget = o.defaultBudget
	}
	if o.ledger != nil {
		remaining := o.ledger.Remaining()
		if remaining <= 0 {
			logger.Warn("daily budget exhausted, refusing turn")
			tracer.SetOK(span)
			return &domain.TurnResult{
				ConversationID: conversationID,
				Response: domain.ConsensusResult{
					UnifiedResponse: dailyBudgetResponse,
					Confidence:      1.0,
					Sources:         []string{},
				},
				Classification:  classification,
				AgentsConsulted: []string{},
				State:           domain.TurnDone,
			}, nil
		}
		if remaining < budget {
			budget = remaining
		}
	}

	results := o.dispatch(ctx, req, classification.AgentsNeeded, budget)
	logger.Debug("dispatch complete", "state", domain.TurnDispatched, "results", len(results))

	consensus, err := o.consensus.Build(ctx, req.Message, results, userCtx, budget)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("Orchestrator.ProcessTurn", err)
	}

	o.recordSpend(results, consensus, logger)

	// Only agents that actually answered count as consulted; dispatch
	// failures are visible in Results but not here.
	consulted := make([]string, 0, len(results))
	for _, res := range results {
		if res.Succeeded() {
			consulted = append(consulted, res.AgentID)
		}
	}

	result := &domain.TurnResult{
		ConversationID:  conversationID,
		Response:        *consensus,
		Classification:  classification,
		AgentsConsulted: consulted,
		State:           domain.TurnDone,
		Results:         results,
	}
	o.persistTurn(ctx, conversationID, req.UserID, "consensus", result, logger)

	logger.Info("turn complete",
		"state", domain.TurnDone,
		"sources", consensus.Sources,
		"confidence", consensus.Confidence,
		"cost_usd", turnCost(results, consensus),
	)
	tracer.SetOK(span)
	return result, nil
}

// prepareTurn resolves the conversation id and user context, creating a
// conversation and appending the user message when a store is wired.
// Store failures degrade to logging; the turn always proceeds.
func (o *Orchestrator) prepareTurn(ctx context.Context, req *domain.TurnRequest, logger *slog.Logger) (string, *domain.UserContext) {
	userCtx := req.Context

	if o.store == nil {
		return req.ConversationID, userCtx
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		id, err := o.store.CreateConversation(ctx, req.UserID)
		if err != nil {
			logger.Warn("conversation create failed, continuing without history", "error", err)
		} else {
			conversationID = id
			req.ConversationID = id
		}
	}

	if conversationID != "" {
		if _, err := o.store.AppendUserMessage(ctx, conversationID, req.UserID, req.Message); err != nil {
			logger.Warn("user message persist failed", "error", err)
		}
	}

	if userCtx == nil {
		stored, err := o.store.GetUserContext(ctx, req.UserID)
		if err != nil {
			logger.Debug("user context unavailable", "error", err)
		} else {
			userCtx = stored
		}
	}
	return conversationID, userCtx
}

// dispatch fans the message out to the named agents with a bounded degree
// of parallelism. Every agent produces exactly one InvocationResult; unknown
// agents yield a result marked unavailable rather than an error.
func (o *Orchestrator) dispatch(ctx context.Context, req domain.TurnRequest, agentIDs []string, budgetUSD float64) []domain.InvocationResult {
	if len(agentIDs) == 0 {
		return nil
	}

	perAgent := budgetUSD / float64(len(agentIDs))
	params := map[string]any{"text": req.Message}
	if req.Context != nil && req.Context.ActiveSeason != "" {
		params["active_season"] = req.Context.ActiveSeason
	}

	results := make([]domain.InvocationResult, len(agentIDs))
	sem := make(chan struct{}, o.maxConcurrent)
	var wg sync.WaitGroup

	for i, agentID := range agentIDs {
		wg.Add(1)
		go func(i int, agentID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			callCtx, cancel := context.WithTimeout(ctx, o.agentTimeout)
			defer cancel()

			res, err := o.registry.Invoke(callCtx, agentID, "handle_query", params, req.UserID, perAgent)
			if err != nil {
				// ErrAgentNotFound and any other resolution failure.
				o.logger.Warn("agent dispatch failed", "agent_id", agentID, "error", err)
				results[i] = domain.InvocationResult{
					AgentID:   agentID,
					Method:    "handle_query",
					Status:    domain.StatusError,
					Error:     unavailableNote,
					CreatedAt: time.Now(),
				}
				return
			}
			results[i] = *res
		}(i, agentID)
	}
	wg.Wait()
	return results
}

// recordSpend charges the turn's real cost against the daily ledger.
// A ledger rejection here means the turn crossed the ceiling mid-flight;
// the spend already happened, so it is recorded in the log only.
func (o *Orchestrator) recordSpend(results []domain.InvocationResult, consensus *domain.ConsensusResult, logger *slog.Logger) {
	if o.ledger == nil {
		return
	}
	cost := turnCost(results, consensus)
	if cost <= 0 {
		return
	}
	if err := o.ledger.Spend(cost); err != nil {
		logger.Warn("daily ledger ceiling crossed", "cost_usd", cost, "error", err)
	}
}

// persistTurn appends the final response to the conversation. Best effort.
func (o *Orchestrator) persistTurn(ctx context.Context, conversationID, userID, agentType string, result *domain.TurnResult, logger *slog.Logger) {
	if o.store == nil || conversationID == "" {
		return
	}
	_, err := o.store.AppendAgentMessage(ctx, conversationID, userID, agentType,
		result.Response.UnifiedResponse, result.Response.TokensUsed, result.Response.CostUSD)
	if err != nil {
		logger.Warn("agent message persist failed", "error", err)
	}
}

func turnCost(results []domain.InvocationResult, consensus *domain.ConsensusResult) float64 {
	cost := consensus.CostUSD
	for _, res := range results {
		cost += res.CostUSD
	}
	return cost
}
