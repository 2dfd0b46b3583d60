// Memurid is the selective-memory daemon for conversational assistants.
//
// It gates candidate memories, persists accepted ones across a short-term
// cache and a long-term vector store, answers tiered retrieval queries
// with reranking, and adapts its classifier and gating rules from user
// feedback.
//
// Configuration is loaded from a YAML file with MEMURI_ environment
// overrides. See internal/config for details.
//
// Usage:
//
//	# Start with defaults (~/.config/memuri/memuri.yaml if present)
//	memurid
//
//	# Explicit config file
//	memurid -config /etc/memuri/memuri.yaml
//
//	# Environment override
//	MEMURI_OPS_LISTEN=:9191 memurid
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memuri/internal/cache"
	"github.com/fyrsmithlabs/memuri/internal/classifier"
	"github.com/fyrsmithlabs/memuri/internal/config"
	"github.com/fyrsmithlabs/memuri/internal/embeddings"
	"github.com/fyrsmithlabs/memuri/internal/feedback"
	"github.com/fyrsmithlabs/memuri/internal/gating"
	"github.com/fyrsmithlabs/memuri/internal/logging"
	"github.com/fyrsmithlabs/memuri/internal/memory"
	"github.com/fyrsmithlabs/memuri/internal/reranker"
	"github.com/fyrsmithlabs/memuri/internal/retrain"
	"github.com/fyrsmithlabs/memuri/internal/retrieval"
	"github.com/fyrsmithlabs/memuri/internal/service"
	"github.com/fyrsmithlabs/memuri/internal/telemetry"
	"github.com/fyrsmithlabs/memuri/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to memuri.yaml (default: ~/.config/memuri/memuri.yaml)")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  memurid           Start the memory daemon\n")
			fmt.Fprintf(os.Stderr, "  memurid version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("memurid: %v", err)
	}
	log.Println("Shutdown complete")
}

func printVersion() {
	fmt.Printf("memurid\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires the daemon and blocks until the context is cancelled:
//
//  1. Load and validate configuration
//  2. Initialize logger and trace pipeline
//  3. Open collaborators (embedder, vector store, cache, feedback store)
//  4. Publish the classifier model and rule table references
//  5. Build the gate, retrieval coordinator, and orchestrator
//  6. Start background loops (retrain scheduler, rules watcher, sweeper)
//  7. Serve /healthz and /metrics until shutdown
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logging.Sync(logger) }()

	logger.Info("starting memurid",
		zap.String("version", version),
		zap.String("ops_listen", cfg.Ops.Listen),
		zap.String("embeddings_provider", cfg.Embeddings.Provider),
		zap.String("vectorstore_provider", cfg.VectorStore.Provider))

	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.Endpoint,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	embedder, err := embeddings.NewProvider(cfg.Embeddings)
	if err != nil {
		return fmt.Errorf("initializing embeddings: %w", err)
	}
	defer embedder.Close()

	store, err := vectorstore.NewStore(ctx, cfg.VectorStore, logger)
	if err != nil {
		return fmt.Errorf("initializing vector store: %w", err)
	}
	defer store.Close()

	shortTerm, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("initializing cache: %w", err)
	}

	fbStore, err := openFeedbackStore(cfg.Feedback, logger)
	if err != nil {
		return fmt.Errorf("initializing feedback store: %w", err)
	}
	defer fbStore.Close()

	table, err := cfg.Rules.BuildRuleTable()
	if err != nil {
		return fmt.Errorf("building rule table: %w", err)
	}
	rules := memory.NewRuleTableRef(table)

	model := classifier.NewKeywordModel()
	models := classifier.NewRef(model)

	gate, err := gating.New(cfg.Gating, embedder, shortTerm, models, rules, logger)
	if err != nil {
		return fmt.Errorf("initializing gating: %w", err)
	}

	rr, err := reranker.New(cfg.Rerank, reranker.NewTermOverlapEncoder(), logger)
	if err != nil {
		return fmt.Errorf("initializing reranker: %w", err)
	}

	retriever, err := retrieval.New(cfg.Retrieval, embedder, store, shortTerm, rr, logger)
	if err != nil {
		return fmt.Errorf("initializing retrieval: %w", err)
	}

	scheduler, err := retrain.New(cfg.Retrain, fbStore, classifier.NewKeywordTrainer(model.Version()), models, rules, logger)
	if err != nil {
		return fmt.Errorf("initializing retrain scheduler: %w", err)
	}
	go scheduler.Run(ctx)

	if configPath != "" {
		watcher, err := config.NewRulesWatcher(configPath, rules, logger)
		if err != nil {
			logger.Warn("rules hot-reload unavailable", zap.Error(err))
		} else {
			go watcher.Run(ctx)
		}
	}

	mem, err := service.New(gate, retriever, embedder, store, shortTerm, rules, fbStore, scheduler, logger)
	if err != nil {
		return fmt.Errorf("initializing orchestrator: %w", err)
	}
	go mem.RunSweeper(ctx, cfg.Sweep.Interval.Duration())

	return serveOps(ctx, cfg.Ops.Listen, logger)
}

// openFeedbackStore selects the feedback backend. A configured path opens
// SQLite; otherwise feedback lives in memory and is lost on restart.
func openFeedbackStore(cfg config.FeedbackConfig, logger *zap.Logger) (feedback.Store, error) {
	if cfg.Path == "" {
		logger.Warn("feedback path not configured, using in-memory store")
		return feedback.NewMemStore(), nil
	}
	return feedback.NewSQLiteStore(cfg.Path)
}

// serveOps runs the operational HTTP listener until ctx is cancelled.
func serveOps(ctx context.Context, addr string, logger *zap.Logger) error {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(addr)
	}()
	logger.Info("ops listener started", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("ops listener shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ops listener: %w", err)
	}
}
