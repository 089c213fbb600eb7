// The specialist binary runs one domain agent as a standalone A2A server.
// The orchestrator reaches it over HTTP exactly as it would any third-party
// agent, which makes it the reference peer for the remote transport.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"genesis-ngx/internal/adapter/a2a"
	"genesis-ngx/internal/adapter/llm"
	"genesis-ngx/internal/domain"
	"genesis-ngx/internal/infra/config"
	"genesis-ngx/internal/infra/logger"
	"genesis-ngx/internal/infra/tracer"
	"genesis-ngx/internal/usecase"
)

var handleQuerySchema = []byte(`{
	"type": "object",
	"required": ["text"],
	"properties": {
		"text":          {"type": "string", "minLength": 1},
		"active_season": {"type": "string"}
	}
}`)

// personas gives each agent id its voice and scope for free-text questions.
var personas = map[string]string{
	"blaze":  "You are Blaze, a strength and conditioning coach. Give concrete, safe programming advice on training, cardio, and progressive overload.",
	"wave":   "You are Wave, a recovery and mobility specialist. Advise on rest, sleep, stretching, and injury-aware movement.",
	"sage":   "You are Sage, a sports nutritionist. Advise on macros, meal timing, and nutrition strategy. Never prescribe for medical conditions.",
	"nova":   "You are Nova, a supplementation and exercise-science educator. Explain evidence levels plainly and flag weak evidence.",
	"spark":  "You are Spark, a behavior-change and motivation coach. Focus on habits, adherence, and sustainable routines.",
	"stella": "You are Stella, a progress-tracking analyst. Interpret training and body metrics and suggest what to measure next.",
	"luna":   "You are Luna, a women's health and training specialist. Account for cycle phase and hormonal context where relevant.",
	"code":   "You are Code, a genetics and biometrics educator. Explain what genetic reports can and cannot say about fitness.",
	"macro":  "You are Macro, a meal-logging and nutrition-tracking assistant. Help estimate portions and keep daily intake records honest.",
	"aura":   "You are Aura, a mindfulness and stress-management guide. Offer short, practical breathing and recovery practices.",
}

const defaultPersona = "You are a wellness specialist. Answer clearly, within your domain, and say so when a question is out of scope."

type specialist struct {
	card      *domain.AgentCard
	generator domain.StreamingTextGenerator
	tier      domain.ModelTier
	system    string
	logger    *slog.Logger
}

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`genesis-specialist - standalone A2A specialist agent

USAGE:
    genesis-specialist --agent ID [FLAGS]

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)
    --agent ID         Agent id to serve (must appear in registry.agents)
    --addr ADDR        Listen address (default: :8091)

EXAMPLES:
    genesis-specialist --agent blaze --addr :8091
    genesis-specialist --agent sage --config /etc/genesis/config.yaml`)
}

func argValue(name string) string {
	for i := 1; i < len(os.Args); i++ {
		if os.Args[i] == name && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if v, ok := strings.CutPrefix(os.Args[i], name+"="); ok {
			return v
		}
	}
	return ""
}

func run() error {
	cfgPath := argValue("--config")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	agentID := argValue("--agent")
	if agentID == "" {
		return fmt.Errorf("--agent is required (one of the registry.agents ids)")
	}
	addr := argValue("--addr")
	if addr == "" {
		addr = ":8091"
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	spec, err := findAgent(cfg.Registry.Agents, agentID)
	if err != nil {
		return err
	}

	backend, err := buildGenerator(cfg, log)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	costs := usecase.NewCostModel().WithEncoder()
	generator := llm.NewGateway(backend, cfg.LLM, costs, log)

	sp := &specialist{
		card:      buildCard(spec),
		generator: generator,
		tier:      spec.Tier,
		system:    persona(spec.ID),
		logger:    log.With("agent_id", spec.ID),
	}

	srv := a2a.NewServer(sp.card, addr, log)
	if err := sp.register(srv); err != nil {
		return fmt.Errorf("register methods: %w", err)
	}

	log.Info("specialist starting",
		"agent_id", spec.ID,
		"addr", addr,
		"llm_backend", backend.Name(),
	)
	return srv.Start(ctx)
}

func findAgent(targets []config.AgentTarget, id string) (usecase.AgentSpec, error) {
	for _, t := range targets {
		if t.ID != id {
			continue
		}
		tier := domain.ModelTier(t.Tier)
		if tier == "" {
			tier = domain.TierStandard
		}
		return usecase.AgentSpec{
			ID:           t.ID,
			Name:         t.Name,
			Tier:         tier,
			Capabilities: t.Capabilities,
			MinCostUSD:   t.MinCostUSD,
		}, nil
	}
	return usecase.AgentSpec{}, fmt.Errorf("agent %q not found in registry.agents", id)
}

func persona(id string) string {
	if p, ok := personas[id]; ok {
		return p
	}
	return defaultPersona
}

// buildCard extends the base card with the calculator methods this binary
// serves alongside free-text handling.
func buildCard(spec usecase.AgentSpec) *domain.AgentCard {
	card := usecase.CardForSpec(spec)
	card.Methods = []domain.MethodSpec{
		{Name: "handle_query", Description: "Answer a free-text domain question.", ParamsSchema: handleQuerySchema},
		{Name: "calculate_tdee", Description: "Estimate BMR and daily energy expenditure (Mifflin-St Jeor).", ParamsSchema: tdeeSchema},
		{Name: "macro_split", Description: "Split a calorie target into protein, fat, and carb grams.", ParamsSchema: macroSchema},
		{Name: "heart_rate_zones", Description: "Compute five heart-rate training zones.", ParamsSchema: hrZonesSchema},
	}
	return card
}

func (s *specialist) register(srv *a2a.Server) error {
	if err := srv.RegisterMethod("handle_query", handleQuerySchema, s.handleQuery); err != nil {
		return err
	}
	srv.RegisterStream("handle_query", s.streamQuery)

	if err := srv.RegisterMethod("calculate_tdee", tdeeSchema, func(_ context.Context, params map[string]any) (*domain.InvocationResult, error) {
		return s.handleTDEE(params)
	}); err != nil {
		return err
	}
	if err := srv.RegisterMethod("macro_split", macroSchema, func(_ context.Context, params map[string]any) (*domain.InvocationResult, error) {
		return s.handleMacroSplit(params)
	}); err != nil {
		return err
	}
	return srv.RegisterMethod("heart_rate_zones", hrZonesSchema, func(_ context.Context, params map[string]any) (*domain.InvocationResult, error) {
		return s.handleHRZones(params)
	})
}

func (s *specialist) handleQuery(ctx context.Context, params map[string]any) (*domain.InvocationResult, error) {
	res, err := s.generator.Generate(ctx, s.generateRequest(params))
	if err != nil {
		return nil, err
	}
	return &domain.InvocationResult{
		AgentID:   s.card.ID,
		Method:    "handle_query",
		Response:  res.Text,
		Status:    domain.StatusSuccess,
		Usage:     res.Usage,
		CostUSD:   res.CostUSD,
		LatencyMS: res.LatencyMS,
		CreatedAt: time.Now(),
	}, nil
}

func (s *specialist) streamQuery(ctx context.Context, params map[string]any, emit func(chunk string) error) error {
	deltas, err := s.generator.GenerateStream(ctx, s.generateRequest(params))
	if err != nil {
		return err
	}
	for delta := range deltas {
		if delta.Done {
			return nil
		}
		if delta.Text == "" {
			continue
		}
		if err := emit(delta.Text); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (s *specialist) generateRequest(params map[string]any) domain.GenerateRequest {
	prompt, _ := params["text"].(string)
	if season, _ := params["active_season"].(string); season != "" {
		prompt = fmt.Sprintf("Current training season: %s.\n\n%s", season, prompt)
	}
	return domain.GenerateRequest{
		Prompt:    prompt,
		System:    s.system,
		Tier:      s.tier,
		MaxTokens: 1024,
	}
}
