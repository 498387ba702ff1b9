// Command gamemasterd is the main entry point for the Gamemaster role-play
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/gamemaster/internal/api"
	"github.com/MrWong99/gamemaster/internal/auth"
	"github.com/MrWong99/gamemaster/internal/chat"
	"github.com/MrWong99/gamemaster/internal/config"
	"github.com/MrWong99/gamemaster/internal/health"
	"github.com/MrWong99/gamemaster/internal/observe"
	"github.com/MrWong99/gamemaster/internal/resilience"
	"github.com/MrWong99/gamemaster/pkg/memory"
	"github.com/MrWong99/gamemaster/pkg/memory/mongosheets"
	"github.com/MrWong99/gamemaster/pkg/memory/postgres"
	"github.com/MrWong99/gamemaster/pkg/memory/redisfacts"
	"github.com/MrWong99/gamemaster/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/gamemaster/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/gamemaster/pkg/provider/embeddings/openai"
	"github.com/MrWong99/gamemaster/pkg/provider/llm"
	"github.com/MrWong99/gamemaster/pkg/provider/llm/anyllm"
)

// taskQueueBuffer caps pending deferred turn work before Act calls block.
const taskQueueBuffer = 64

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "gamemasterd: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "gamemasterd: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("gamemaster starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	llmProvider, embedder, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Stores ────────────────────────────────────────────────────────────────
	facts, err := redisfacts.New(ctx, cfg.Stores.RedisAddr, cfg.Stores.RedisDB)
	if err != nil {
		slog.Error("failed to connect to redis", "err", err)
		return 1
	}
	defer facts.Close()

	pg, err := postgres.NewStore(ctx, cfg.Stores.PostgresDSN, cfg.Stores.EmbeddingDimensions, embedder)
	if err != nil {
		slog.Error("failed to connect to postgres", "err", err)
		return 1
	}
	defer pg.Close()

	sheets, err := mongosheets.New(ctx, cfg.Stores.MongoURI)
	if err != nil {
		slog.Error("failed to connect to mongodb", "err", err)
		return 1
	}
	defer func() {
		if err := sheets.Close(context.Background()); err != nil {
			slog.Warn("mongodb close error", "err", err)
		}
	}()

	stores := memory.Stores{
		Facts:  facts,
		Log:    pg.Log(),
		Index:  pg.Index(),
		Sheets: sheets,
	}

	// ── Static assets ─────────────────────────────────────────────────────────
	rules, err := readOptionalFile(cfg.Chat.RulesPath)
	if err != nil {
		slog.Error("failed to read rule book", "path", cfg.Chat.RulesPath, "err", err)
		return 1
	}
	sheetSchema, err := readOptionalFile(cfg.Chat.SheetSchemaPath)
	if err != nil {
		slog.Error("failed to read sheet schema", "path", cfg.Chat.SheetSchemaPath, "err", err)
		return 1
	}

	// ── Auth ──────────────────────────────────────────────────────────────────
	tokens, err := buildTokenService(cfg.Auth)
	if err != nil {
		slog.Error("failed to initialise auth", "err", err)
		return 1
	}

	// ── Turn pipeline ─────────────────────────────────────────────────────────
	queue := chat.NewTaskQueue(taskQueueBuffer)
	defer queue.Close()

	orch := chat.NewOrchestrator(stores, llmProvider, queue,
		chat.WithRules(string(rules)),
		chat.WithSheetSchema(sheetSchema),
		chat.WithRecentTurns(cfg.Chat.RecentTurns),
		chat.WithRetrievalLimit(cfg.Chat.RetrievalLimit),
		chat.WithMetrics(metrics),
	)
	manager := chat.NewManager(stores, pg.Registry(), pg.Documents(), llmProvider, string(rules))

	// ── HTTP server ───────────────────────────────────────────────────────────
	apiCfg := api.Config{ListenAddr: cfg.Server.ListenAddr}
	if cfg.Server.TLS != nil {
		apiCfg.TLSCert = cfg.Server.TLS.CertFile
		apiCfg.TLSKey = cfg.Server.TLS.KeyFile
	}
	server := api.New(apiCfg, tokens, pg.Registry(), orch, manager,
		health.Checker{Name: "redis", Check: facts.Ping},
		health.Checker{Name: "postgres", Check: pg.Ping},
		health.Checker{Name: "mongodb", Check: sheets.Ping},
	)

	printStartupSummary(cfg)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			slog.Error("serve error", "err", err)
			return 1
		}
		return 0
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	// Drain deferred turn work before the store defers close connections.
	queue.Close()
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai, anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile
	// all share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})
}

// buildProviders instantiates the configured LLM and embeddings providers.
// The LLM is wrapped in a circuit breaker so a flapping backend fails fast
// instead of hanging every turn.
func buildProviders(cfg *config.Config, reg *config.Registry) (llm.Provider, embeddings.Provider, error) {
	base, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)
	llmProvider := resilience.NewLLMFallback(base, cfg.Providers.LLM.Name, resilience.FallbackConfig{})

	// The semantic index cannot operate without an embedder.
	name := cfg.Providers.Embeddings.Name
	if name == "" {
		return nil, nil, errors.New("providers.embeddings.name is required")
	}
	embedder, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		return nil, nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
	}
	slog.Info("provider created", "kind", "embeddings", "name", name)
	return llmProvider, embedder, nil
}

// buildTokenService loads the RSA key pair named in cfg and constructs the
// session token service. Without configured key files an ephemeral pair is
// generated, so sessions do not survive a restart.
func buildTokenService(cfg config.AuthConfig) (*auth.TokenService, error) {
	if cfg.PrivateKeyPath == "" {
		slog.Warn("no auth key pair configured, generating an ephemeral one; sessions will not survive restarts")
		privPEM, pubPEM, err := auth.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		return auth.NewTokenService(privPEM, pubPEM, cfg.Issuer, cfg.TokenTTL.Std())
	}

	privPEM, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	pubPEM, err := os.ReadFile(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return auth.NewTokenService(privPEM, pubPEM, cfg.Issuer, cfg.TokenTTL.Std())
}

// readOptionalFile reads path, treating an empty path as "no file".
func readOptionalFile(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Gamemaster — startup summary   ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	printValue("Redis", cfg.Stores.RedisAddr)
	printValue("MongoDB", "configured")
	printValue("Postgres", "configured")
	if cfg.Server.ListenAddr != "" {
		printValue("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printValue(kind, value)
}

func printValue(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
