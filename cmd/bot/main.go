package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/user/gitnotify/internal/config"
	"github.com/user/gitnotify/internal/github"
	"github.com/user/gitnotify/internal/gitremote"
	"github.com/user/gitnotify/internal/notifier"
	"github.com/user/gitnotify/internal/storage"
	"github.com/user/gitnotify/internal/telegram"
	"github.com/user/gitnotify/internal/watcher"
	"github.com/user/gitnotify/pkg/logger"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Try to initialize basic logger for error output
		logger.Init(true, "")
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	debug := cfg.Log.Level == "debug"
	if err := logger.Init(debug, cfg.Log.File); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	logger.Info().Msg("Starting GitNotify bot")

	// Initialize database
	db, err := storage.NewDatabase(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	store := storage.NewStore(db)
	logger.Info().Str("path", cfg.Database.Path).Msg("Database initialized")

	// Remote ref source, shared by the poller and the subscribe probe
	refSource := gitremote.NewClient()

	// Initialize Telegram bot
	bot, err := telegram.NewBot(cfg.Telegram.Token, cfg.Telegram.Debug, store, refSource, cfg.RemoteTimeout())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize Telegram bot")
	}

	// Pull request enrichment for github.com repositories
	enricher := github.NewClient(cfg.GitHub.Token)

	// Event fan-out pipeline
	builder := notifier.NewMessageBuilder(enricher)
	notify := notifier.NewNotifier(store, bot, builder)

	// Poll scheduler
	poller := watcher.NewPoller(refSource, store, notify, watcher.Options{
		Interval:        cfg.PollInterval(),
		CleanupInterval: cfg.CleanupInterval(),
		RemoteTimeout:   cfg.RemoteTimeout(),
		Concurrency:     cfg.Poll.Concurrency,
	})

	// Catch up once before the first tick
	logger.Info().Msg("Running initial cleanup and poll cycle")
	poller.Cleanup()
	poller.PollOnce(context.Background())

	poller.Start()

	// Set up HTTP router for operators
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		stats, err := store.GetStats()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"users":         stats.Users,
			"repositories":  stats.Repositories,
			"subscriptions": stats.Subscriptions,
			"last_poll":     poller.LastPoll(),
		})
	})

	// Start HTTP server
	server := &http.Server{
		Addr:    cfg.ServerAddress(),
		Handler: r,
	}

	go func() {
		logger.Info().Str("address", cfg.ServerAddress()).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Start Telegram bot
	bot.Start()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("Shutting down...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poller.Stop()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	bot.Stop()

	logger.Info().Msg("Shutdown complete")
}
