package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	cmdpkg "github.com/stupiduntilnot/chatrelay/internal/commander"
	"github.com/stupiduntilnot/chatrelay/internal/config"
	ctxpkg "github.com/stupiduntilnot/chatrelay/internal/context"
	"github.com/stupiduntilnot/chatrelay/internal/control"
	"github.com/stupiduntilnot/chatrelay/internal/db"
	"github.com/stupiduntilnot/chatrelay/internal/dummy"
	"github.com/stupiduntilnot/chatrelay/internal/gemini"
	"github.com/stupiduntilnot/chatrelay/internal/logging"
	"github.com/stupiduntilnot/chatrelay/internal/metrics"
	modelpkg "github.com/stupiduntilnot/chatrelay/internal/model"
	"github.com/stupiduntilnot/chatrelay/internal/openai"
	"github.com/stupiduntilnot/chatrelay/internal/persona"
	"github.com/stupiduntilnot/chatrelay/internal/relay"
	"github.com/stupiduntilnot/chatrelay/internal/search"
	"github.com/stupiduntilnot/chatrelay/internal/session"
	"github.com/stupiduntilnot/chatrelay/internal/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "relay",
		Short:        "Telegram relay to a generative model with personas and web search",
		SilenceUsage: true,
		RunE:         runRelay,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Poll the transport and answer messages (default)",
			RunE:  runRelay,
		},
		newPersonasCmd(),
	)
	return root
}

func newPersonasCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "personas",
		Short: "List the selectable modes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = os.Getenv("RELAY_PERSONAS_FILE")
			}
			registry, err := loadRegistry(file)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range registry.Personas() {
				marker := " "
				if p.Mode == registry.Default() {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %-10s %s\n", marker, p.Mode, p.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML file with custom personas (overrides RELAY_PERSONAS_FILE)")
	return cmd
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	registry, err := loadRegistry(cfg.PersonasFile)
	if err != nil {
		logger.Error("failed to load personas", zap.Error(err))
		return err
	}

	var journal relay.EventLogger
	var rootEventID *int64
	if cfg.DBPath != "" {
		database, err := db.OpenDB(cfg.DBPath)
		if err != nil {
			logger.Error("failed to open journal", zap.Error(err))
			return err
		}
		defer database.Close()
		if err := db.InitSchema(database); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
		j := &db.Journal{DB: database}
		id, err := j.LogEvent(nil, db.EventProcessStarted, map[string]any{
			"role":     "relay",
			"pid":      os.Getpid(),
			"provider": cfg.ModelProvider,
			"source":   cfg.Commander,
		})
		if err != nil {
			logger.Warn("failed to log process.started", zap.Error(err))
		} else {
			rootEventID = &id
		}
		defer func() {
			if _, err := j.LogEvent(rootEventID, db.EventProcessStopped, nil); err != nil {
				logger.Warn("failed to log process.stopped", zap.Error(err))
			}
		}()
		journal = j
	}

	ctx := cmd.Context()

	commander, err := newCommander(&cfg)
	if err != nil {
		logger.Error("failed to init commander", zap.Error(err))
		return err
	}
	provider, err := newModelProvider(ctx, &cfg)
	if err != nil {
		logger.Error("failed to init model provider", zap.Error(err))
		return err
	}
	searcher, err := newSearcher(&cfg)
	if err != nil {
		logger.Error("failed to init searcher", zap.Error(err))
		return err
	}

	store := session.NewMemoryStore(registry, cfg.HistoryLimit)
	orchestrator, err := relay.NewOrchestrator(relay.Options{
		Store:         store,
		Assembler:     &ctxpkg.StandardAssembler{Registry: registry},
		Provider:      provider,
		Searcher:      searcher,
		SearchCircuit: control.NewCircuitBreaker(5, time.Minute),
		MaxResults:    cfg.SearchMaxResults,
		Typing:        commander,
		Journal:       journal,
		RootEventID:   rootEventID,
		Policy: control.Policy{
			GenerateTimeout: cfg.GenerateTimeout(),
			SearchTimeout:   cfg.SearchTimeout(),
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	bot, err := relay.NewBot(relay.BotOptions{
		Commander:    commander,
		Orchestrator: orchestrator,
		Store:        store,
		Registry:     registry,
		Journal:      journal,
		RootEventID:  rootEventID,
		Logger:       logger,
		PollTimeout:  cfg.Timeout,
		Idle:         time.Duration(cfg.SleepSeconds) * time.Second,
		DropPending:  cfg.DropPending,
		Circuit:      control.NewCircuitBreaker(5, 30*time.Second),
	})
	if err != nil {
		return err
	}

	logger.Info("relay running",
		zap.String("provider", cfg.ModelProvider),
		zap.String("source", cfg.Commander),
		zap.Bool("search", searcher != nil),
		zap.Int("personas", len(registry.Personas())),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bot.Run(gctx)
	})
	if cfg.MetricsAddr != "" {
		srv := newMetricsServer(cfg.MetricsAddr)
		g.Go(func() error {
			logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("relay stopped with error", zap.Error(err))
		return err
	}
	logger.Info("relay stopped")
	return nil
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func loadRegistry(path string) (*persona.Registry, error) {
	if path == "" {
		return persona.NewRegistry()
	}
	extra, err := persona.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return persona.NewRegistry(extra...)
}

func newCommander(cfg *config.Config) (cmdpkg.Commander, error) {
	switch cfg.Commander {
	case "telegram":
		return telegram.NewClient(cfg.TelegramToken, cfg.TelegramAPIBase, time.Duration(cfg.Timeout+20)*time.Second)
	case "dummy":
		return dummy.NewCommander(cfg.DummyCommanderScript, cfg.DummySendScript)
	default:
		return nil, fmt.Errorf("unsupported commander: %s", cfg.Commander)
	}
}

func newModelProvider(ctx context.Context, cfg *config.Config) (modelpkg.Provider, error) {
	switch cfg.ModelProvider {
	case "gemini":
		return gemini.NewClient(ctx, cfg.GeminiAPIKey, gemini.Options{Model: cfg.GeminiModel, BaseURL: cfg.GeminiBaseURL})
	case "openai":
		return openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIChatCompURL, cfg.OpenAIModel, cfg.GenerateTimeout()), nil
	case "dummy":
		return dummy.NewProvider(cfg.OpenAIModel, cfg.DummyProviderScript)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.ModelProvider)
	}
}

// newSearcher returns nil when search is disabled.
func newSearcher(cfg *config.Config) (search.Searcher, error) {
	if !cfg.SearchEnabled {
		return nil, nil
	}
	switch cfg.SearchBackend {
	case "duckduckgo":
		return search.NewDuckDuckGo(cfg.SearchURL, cfg.SearchMaxResults, cfg.SearchTimeout()), nil
	case "dummy":
		return dummy.NewSearcher(cfg.DummySearchScript)
	default:
		return nil, fmt.Errorf("unsupported search backend: %s", cfg.SearchBackend)
	}
}
