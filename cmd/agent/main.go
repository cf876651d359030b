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

	"aembot/internal/adapter/channel"
	"aembot/internal/adapter/embedding"
	"aembot/internal/adapter/index"
	"aembot/internal/adapter/llm"
	"aembot/internal/adapter/toolhost"
	"aembot/internal/domain"
	"aembot/internal/infra/config"
	"aembot/internal/infra/logger"
	"aembot/internal/infra/tracer"
	"aembot/internal/usecase"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	case "index":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "index: missing directory argument")
			os.Exit(1)
		}
		if err := runIndex(os.Args[2]); err != nil {
			fmt.Fprintf(os.Stderr, "index: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'aembot --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`aembot - intent-routing chatbot for Adobe Experience Manager

USAGE:
    aembot [COMMAND]

COMMANDS:
    serve        Start the chat HTTP API (default when no command given)
    index DIR    Chunk and embed .md/.txt files under DIR into the
                 knowledge index

FLAGS:
    -h, --help   Show this help message

CONFIGURATION:
    Config file: ./config.yaml (optional)
    Environment: OPENAI_API_KEY, MCP_SERVER_URL, AEM_SERVER, AEM_TOKEN,
                 and AEMBOT_* variables override config

EXAMPLES:
    aembot index ./docs          # Build the knowledge index
    aembot                       # Serve the chat API on :8080`)
}

func configPath() string {
	if v := os.Getenv("AEMBOT_CONFIG"); v != "" {
		return v
	}
	return "./config.yaml"
}

func runServe() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLogger, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLogger() //nolint:errcheck
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Warn("tracer shutdown error", "error", err)
		}
	}()

	chatLLM := buildLLMProvider(cfg.LLM, log)

	fragments, err := openIndex(cfg, log)
	if err != nil {
		// A broken or absent index degrades retrieval; chat still works.
		log.Warn("knowledge index unavailable", "path", cfg.Retriever.IndexPath, "error", err)
	} else {
		defer fragments.Close()
	}

	var fragmentIndex domain.FragmentIndex
	if fragments != nil {
		fragmentIndex = fragments
	}
	retriever, err := usecase.NewRetriever(fragmentIndex, chatLLM, cfg.Retriever, log)
	if err != nil {
		// The token encoder is fetched over the network on first use, so
		// an offline host can land here. Chat still runs without retrieval.
		log.Warn("knowledge retriever unavailable", "error", err)
	}

	tools := toolhost.New(cfg.ToolHost, log)
	sessions := usecase.NewSessionStore(cfg.Session.MaxMessages)
	classifier := usecase.NewIntentClassifier(chatLLM, log)
	router := usecase.NewRouter(chatLLM, classifier, tools, retriever, sessions, log)

	api := channel.NewAPI(cfg.Server.Addr, router, sessions, cfg.Server.RequestsPerMin, cfg.Server.Burst, log)
	if err := api.Start(ctx); err != nil {
		return fmt.Errorf("start http api: %w", err)
	}

	health := router.Health(ctx)
	log.Info("aembot ready",
		"addr", api.Addr(),
		"retriever_ready", health.RetrieverReady,
		"tool_host_healthy", health.ToolHostHealthy,
		"tools", health.ToolCount,
	)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := api.Stop(shutdownCtx); err != nil {
		log.Warn("http shutdown error", "error", err)
	}
	return nil
}

func runIndex(dir string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLogger, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLogger() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openIndex(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	start := time.Now()
	n, err := store.IngestDir(ctx, dir)
	if err != nil {
		return err
	}

	fmt.Printf("indexed %d fragments from %s in %s\n", n, dir, time.Since(start).Round(time.Millisecond))
	return nil
}

func openIndex(cfg *config.Config, log *slog.Logger) (*index.Store, error) {
	if dir := filepath.Dir(cfg.Retriever.IndexPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
	}

	embedder := embedding.NewOpenAIProvider(cfg.Embedding.APIKey,
		embedding.WithOpenAIBaseURL(cfg.Embedding.BaseURL),
		embedding.WithOpenAIModel(cfg.Embedding.Model),
		embedding.WithOpenAIDimensions(cfg.Embedding.Dimensions),
	)
	return index.New(cfg.Retriever.IndexPath, embedder, log)
}

func buildLLMProvider(pc config.ProviderConfig, log *slog.Logger) domain.LLMProvider {
	var provider domain.LLMProvider = llm.NewOpenAIProvider(pc, log)
	if pc.CircuitBreaker.Enabled {
		provider = llm.NewCircuitBreakerProvider(provider, pc.CircuitBreaker, log)
	}
	return provider
}
