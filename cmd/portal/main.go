package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"studyportal/internal/adapter/agents"
	"studyportal/internal/adapter/console"
	"studyportal/internal/adapter/gateway"
	"studyportal/internal/adapter/llm"
	"studyportal/internal/adapter/store"
	"studyportal/internal/domain"
	"studyportal/internal/infra/config"
	"studyportal/internal/infra/logger"
	"studyportal/internal/infra/tracer"
	"studyportal/internal/usecase"
	"studyportal/internal/usecase/eventbus"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	cmd := "serve"
	if len(os.Args) >= 2 && !strings.HasPrefix(os.Args[1], "-") {
		cmd = os.Args[1]
	}

	switch cmd {
	case "serve":
		if err := run(false); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	case "console":
		if err := run(true); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'portal --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`portal - conversational study portal assistant

USAGE:
    portal [COMMAND]

COMMANDS:
    serve       Run the WebSocket gateway (default)
    console     Chat from the terminal without a gateway

CONFIGURATION:
    Config file: ./config.yaml
    Environment: PORTAL_* variables override config
                 PORTAL_CONFIG_KEY decrypts enc: secrets

EXAMPLES:
    portal                        # serve with config.yaml
    portal console                # local REPL as the demo user
    PORTAL_LLM_API_KEY=sk-... portal`)
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			return v
		}
	}
	return "config.yaml"
}

func run(consoleMode bool) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLog()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	bus := eventbus.New(log)
	defer bus.Close()

	assignments, err := store.NewAssignmentStore(cfg.Store.Path, cfg.Store.Seed)
	if err != nil {
		return fmt.Errorf("open assignment store: %w", err)
	}
	defer assignments.Close()

	provider := buildProvider(cfg, log)
	classifier, err := buildClassifier(provider, log)
	if err != nil {
		return fmt.Errorf("init classifier: %w", err)
	}

	registry, err := usecase.NewRegistry(cfg.Descriptors(), cfg.Router.FallbackAgent, log)
	if err != nil {
		return fmt.Errorf("init registry: %w", err)
	}

	conversations := usecase.NewConversationManager(cfg.Router.MaxHistory)

	router, err := usecase.NewRouter(
		registry,
		conversations,
		classifier,
		buildAgents(cfg, provider, assignments, log),
		bus,
		log,
		usecase.RouterOptions{
			ConfidenceThreshold: cfg.Router.ConfidenceThreshold,
			ClassifierWindow:    cfg.Router.ClassifierWindow,
			OracleTimeout:       cfg.Router.OracleTimeout,
		},
	)
	if err != nil {
		return fmt.Errorf("init router: %w", err)
	}

	reaper, err := usecase.NewReaper(conversations, bus, cfg.Router.ReapSchedule, cfg.Router.ConversationTTL, log)
	if err != nil {
		return fmt.Errorf("init reaper: %w", err)
	}
	reaper.Start()
	defer reaper.Stop()

	if consoleMode {
		repl := console.New(router, os.Stdin, os.Stdout, "demo", domain.RoleConsultant)
		return repl.Run(ctx)
	}

	if !cfg.Gateway.Enabled {
		return fmt.Errorf("gateway is disabled in config; use 'portal console' instead")
	}

	var auth gateway.Authenticator
	if cfg.Gateway.Auth.Type == "static" {
		entries := make([]gateway.TokenEntry, 0, len(cfg.Gateway.Auth.Tokens))
		for _, t := range cfg.Gateway.Auth.Tokens {
			entries = append(entries, gateway.TokenEntry{Token: t.Token, UserID: t.Name, Role: t.Role})
		}
		auth = gateway.NewStaticTokenAuth(entries)
	}

	srv := gateway.NewServer(router, bus, auth, cfg.Gateway.Addr, gateway.Options{
		RatePerSecond: cfg.Gateway.RateLimit.PerSecond,
		RateBurst:     cfg.Gateway.RateLimit.Burst,
		SendQueue:     cfg.Gateway.SendQueue,
		WriteWait:     cfg.Gateway.WriteWait,
	}, log)

	log.Info("study portal starting", "addr", cfg.Gateway.Addr, "agents", len(cfg.Agents))
	return srv.Start(ctx)
}

// buildProvider assembles the LLM stack: OpenAI-compatible client wrapped
// in a circuit breaker when enabled.
func buildProvider(cfg *config.Config, log *slog.Logger) domain.LLMProvider {
	var provider domain.LLMProvider = llm.NewOpenAIProvider(cfg.LLM.Provider, log)
	if cfg.LLM.CircuitBreaker.Enabled {
		provider = llm.NewCircuitBreakerProvider(provider, cfg.LLM.CircuitBreaker, log)
	}
	return provider
}

// buildClassifier prefers the LLM oracle and falls back to keyword
// matching when no API key is configured.
func buildClassifier(provider domain.LLMProvider, log *slog.Logger) (domain.Classifier, error) {
	if os.Getenv("PORTAL_CLASSIFIER") == "keyword" {
		log.Info("using keyword classifier")
		return usecase.NewKeywordClassifier(), nil
	}
	return llm.NewOracleClassifier(provider, log)
}

func buildAgents(cfg *config.Config, provider domain.LLMProvider, assignments *store.AssignmentStore, log *slog.Logger) []domain.SpecializedAgent {
	return []domain.SpecializedAgent{
		agents.NewAssignmentAgent("assignment_review", provider, assignments, log),
		agents.NewLearningPathAgent("learning_path", provider, log),
		agents.NewQuestionAgent("question_generation", provider, log),
		agents.NewFAQAgent("faq_fallback", provider, log),
	}
}
