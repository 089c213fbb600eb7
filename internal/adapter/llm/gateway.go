package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"genesis-ngx/internal/domain"
	"genesis-ngx/internal/infra/config"
	"genesis-ngx/internal/usecase"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// defaultMaxOutputTokens is assumed for worst-case cost estimation when a
// request does not bound its output.
const defaultMaxOutputTokens = 1024

// Gateway wraps a TextGenerator with per-call budget enforcement, cost
// accounting, and a circuit breaker. Every model call in the process goes
// through a Gateway; nothing talks to a backend directly.
//
// Budget discipline: a call whose worst-case cost exceeds its ceiling is
// rejected before any tokens are spent. Rejection, never silent truncation.
type Gateway struct {
	inner          domain.TextGenerator
	breaker        *gobreaker.CircuitBreaker[*domain.GenerateResult]
	costs          *usecase.CostModel
	maxCostPerCall float64
	logger         *slog.Logger
}

// NewGateway wraps inner with the configured protections.
func NewGateway(inner domain.TextGenerator, cfg config.LLMConfig, costs *usecase.CostModel, logger *slog.Logger) *Gateway {
	g := &Gateway{
		inner:          inner,
		costs:          costs,
		maxCostPerCall: cfg.MaxCostPerCall,
		logger:         logger,
	}

	if cfg.CircuitBreaker.Enabled {
		maxFailures := cfg.CircuitBreaker.MaxFailures
		if maxFailures == 0 {
			maxFailures = defaultCBMaxFailures
		}
		timeout := cfg.CircuitBreaker.Timeout
		if timeout == 0 {
			timeout = defaultCBTimeout
		}
		interval := cfg.CircuitBreaker.Interval
		if interval == 0 {
			interval = defaultCBInterval
		}

		g.breaker = gobreaker.NewCircuitBreaker[*domain.GenerateResult](gobreaker.Settings{
			Name:        "llm:" + inner.Name(),
			MaxRequests: 1, // one probe in half-open state
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state change",
					"breaker", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
			IsSuccessful: func(err error) bool {
				// Budget rejections are caller mistakes, not backend health.
				return err == nil || errors.Is(err, domain.ErrBudgetExceeded)
			},
		})
	}
	return g
}

// Generate implements domain.TextGenerator with budget enforcement.
func (g *Gateway) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResult, error) {
	if err := g.checkBudget(req); err != nil {
		return nil, err
	}

	var result *domain.GenerateResult
	var err error
	if g.breaker != nil {
		result, err = g.breaker.Execute(func() (*domain.GenerateResult, error) {
			return g.inner.Generate(ctx, req)
		})
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("backend %q circuit open: %w", g.inner.Name(), domain.ErrAgentEngine)
		}
	} else {
		result, err = g.inner.Generate(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	if result.CostUSD == 0 {
		result.CostUSD = g.costs.Cost(req.Tier, result.Usage)
	}
	return result, nil
}

// GenerateStream implements domain.StreamingTextGenerator when the inner
// backend supports it. The breaker protects stream initiation only; errors
// after the connection is up flow through the channel.
func (g *Gateway) GenerateStream(ctx context.Context, req domain.GenerateRequest) (<-chan domain.StreamDelta, error) {
	streamer, ok := g.inner.(domain.StreamingTextGenerator)
	if !ok {
		return nil, fmt.Errorf("backend %q does not support streaming", g.inner.Name())
	}
	if err := g.checkBudget(req); err != nil {
		return nil, err
	}

	if g.breaker == nil {
		return streamer.GenerateStream(ctx, req)
	}

	var ch <-chan domain.StreamDelta
	_, err := g.breaker.Execute(func() (*domain.GenerateResult, error) {
		var streamErr error
		ch, streamErr = streamer.GenerateStream(ctx, req)
		return nil, streamErr
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("backend %q circuit open: %w", g.inner.Name(), domain.ErrAgentEngine)
		}
		return nil, err
	}
	return ch, nil
}

// Name implements domain.TextGenerator.
func (g *Gateway) Name() string { return g.inner.Name() }

// State reports the circuit breaker state, closed when no breaker is wired.
func (g *Gateway) State() gobreaker.State {
	if g.breaker == nil {
		return gobreaker.StateClosed
	}
	return g.breaker.State()
}

// checkBudget rejects a request whose worst-case cost exceeds the tighter
// of the global per-call ceiling and the request's own budget.
func (g *Gateway) checkBudget(req domain.GenerateRequest) error {
	ceiling := g.maxCostPerCall
	if req.BudgetUSD > 0 && (ceiling == 0 || req.BudgetUSD < ceiling) {
		ceiling = req.BudgetUSD
	}
	if ceiling <= 0 {
		return nil
	}

	maxOutput := req.MaxTokens
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutputTokens
	}
	estimate := g.costs.EstimateCost(req.Tier, req.System+req.Prompt, maxOutput)
	if estimate > ceiling {
		g.logger.Warn("generation rejected, worst-case cost over ceiling",
			"backend", g.inner.Name(),
			"tier", req.Tier,
			"estimate_usd", estimate,
			"ceiling_usd", ceiling,
		)
		return domain.NewDomainError("Gateway.Generate", domain.ErrBudgetExceeded,
			fmt.Sprintf("estimated cost %.4f exceeds ceiling %.4f", estimate, ceiling))
	}
	return nil
}

// Compile-time interface checks.
var (
	_ domain.TextGenerator          = (*Gateway)(nil)
	_ domain.StreamingTextGenerator = (*Gateway)(nil)
)
