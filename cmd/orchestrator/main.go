// The orchestrator binary runs the Genesis NGX coordination service: it
// classifies incoming turns, fans out to specialist agents over A2A, builds
// consensus answers, and serves the public chat gateway.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"genesis-ngx/internal/adapter/a2a"
	"genesis-ngx/internal/adapter/gateway"
	"genesis-ngx/internal/adapter/llm"
	"genesis-ngx/internal/adapter/persistence"
	"genesis-ngx/internal/domain"
	"genesis-ngx/internal/infra/config"
	"genesis-ngx/internal/infra/logger"
	"genesis-ngx/internal/infra/tracer"
	"genesis-ngx/internal/usecase"
)

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
	fmt.Println(`genesis-orchestrator - multi-agent wellness coordination service

USAGE:
    genesis-orchestrator [FLAGS]

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml
    Environment: GENESIS_* variables override config`)
}

// configPath returns the --config flag value or the default.
func configPath() string {
	for i := 1; i < len(os.Args); i++ {
		if os.Args[i] == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if v, ok := strings.CutPrefix(os.Args[i], "--config="); ok {
			return v
		}
	}
	return "config.yaml"
}

func run() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
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

	backend, err := buildGenerator(cfg, log)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	costs := usecase.NewCostModel().WithEncoder()
	generator := llm.NewGateway(backend, cfg.LLM, costs, log)

	store, closeStore, err := buildStore(cfg.Store, log)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer closeStore()

	ledger := usecase.NewDailyLedger(cfg.Orchestrator.DailyBudgetUSD)

	dial := func(spec usecase.AgentSpec) domain.Invoker {
		return a2a.NewClient(spec.Endpoint, spec.ID, "orchestrator", log)
	}
	registry, err := usecase.NewRegistry(agentSpecs(cfg.Registry.Agents), cfg.Registry.MockMode, dial, log)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}

	consensus := usecase.NewConsensusBuilder(generator, registry, log)
	orch := usecase.NewOrchestrator(registry, consensus, store, ledger, usecase.OrchestratorOptions{
		MaxConcurrentDispatch: cfg.Orchestrator.MaxConcurrentDispatch,
		DefaultBudgetUSD:      cfg.Orchestrator.DefaultBudgetUSD,
		SpecialistTimeout:     cfg.Orchestrator.SpecialistTimeout,
	}, log)

	// The ledger also rolls lazily on first spend after midnight; the cron
	// job resets it promptly and leaves a log line.
	sched := cron.New(cron.WithLocation(time.UTC))
	if _, err := sched.AddFunc("0 0 * * *", func() {
		ledger.Reset()
		log.Info("daily budget ledger reset", "cap_usd", cfg.Orchestrator.DailyBudgetUSD)
	}); err != nil {
		return fmt.Errorf("schedule ledger reset: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	log.Info("orchestrator starting",
		"llm_backend", backend.Name(),
		"agents", len(cfg.Registry.Agents),
		"mock_registry", cfg.Registry.MockMode,
		"daily_budget_usd", cfg.Orchestrator.DailyBudgetUSD,
	)

	if !cfg.Gateway.Enabled {
		log.Warn("gateway disabled, nothing to serve; exiting on signal")
		<-ctx.Done()
		return nil
	}

	srv, err := gateway.NewServer(orch, cfg.Gateway, log)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	return srv.Start(ctx)
}

func agentSpecs(targets []config.AgentTarget) []usecase.AgentSpec {
	specs := make([]usecase.AgentSpec, 0, len(targets))
	for _, t := range targets {
		specs = append(specs, usecase.AgentSpec{
			ID:           t.ID,
			Name:         t.Name,
			Endpoint:     t.Endpoint,
			Tier:         domain.ModelTier(t.Tier),
			Capabilities: t.Capabilities,
			MinCostUSD:   t.MinCostUSD,
		})
	}
	return specs
}

func buildStore(cfg config.StoreConfig, log *slog.Logger) (domain.ConversationStore, func(), error) {
	switch cfg.Driver {
	case "memory":
		return persistence.NewMemoryStore(), func() {}, nil
	case "sqlite", "":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, nil, fmt.Errorf("create store dir: %w", err)
		}
		store, err := persistence.NewSQLiteStore(cfg.Path, log)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("store driver %q not supported", cfg.Driver)
	}
}
