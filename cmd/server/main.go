package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"medisim/internal/config"
	"medisim/internal/core"
	"medisim/internal/db"
	"medisim/internal/events"
	httpserver "medisim/internal/http"
	"medisim/internal/llm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	slog.Info("Starting medisim",
		"port", cfg.Port,
		"db_driver", cfg.DBDriver,
		"llm_provider", cfg.LLMProvider,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open database connection
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	dbConn, dialect, err := db.Open(openCtx, cfg.DBDriver, cfg.DatabaseURL)
	cancel()
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()
	if err := db.Migrate(ctx, dbConn, dialect); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	repo := db.NewRepository(dbConn, dialect)
	slog.Info("Database ready", "dialect", dialect)

	client, err := newCompletionClient(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialise completion provider", "error", err)
		os.Exit(1)
	}

	feed := events.NewBroker()
	publisher := events.Multi{}
	if cfg.UsesPostgres() {
		// The local stream is fed from LISTEN so every replica sees every completion.
		notifier := db.NewNotifier(dbConn, cfg.NotifyChannel)
		handle := func(evt events.SimulationCompleted) {
			_ = feed.Publish(ctx, evt)
		}
		if err := notifier.Listen(ctx, cfg.DatabaseURL, handle); err != nil {
			slog.Error("Failed to listen for notifications", "error", err)
			os.Exit(1)
		}
		publisher = append(publisher, notifier)
	} else {
		publisher = append(publisher, feed)
	}
	if cfg.NatsURL != "" {
		nats, err := events.NewNATSPublisher(cfg.NatsURL)
		if err != nil {
			slog.Warn("NATS unavailable, completions will not be published", "error", err)
		} else {
			defer nats.Close()
			publisher = append(publisher, nats)
			slog.Info("Publishing completions to NATS", "subject", events.SubjectSimulationCompleted)
		}
	}

	sims := core.NewRegistry(client, repo, repo, publisher, core.NewDebriefer(client, cfg.ProviderTimeout), core.RegistryConfig{
		IdleTTL: cfg.SessionIdleTTL,
		SessionOptions: []core.Option{
			core.WithTimeout(cfg.ProviderTimeout),
			core.WithLanguage(cfg.PatientLanguage),
		},
	})
	defer sims.CloseAll()
	sims.StartSweeper(ctx, time.Minute)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     httpserver.NewServer(repo, sims, feed, cfg.CORSOrigins),
		ReadTimeout: 30 * time.Second,
		// No write timeout: the instructor stream and chat socket are long-lived.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()
	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	slog.Info("Server stopped", "open_sessions", sims.Len())
}

func newCompletionClient(ctx context.Context, cfg *config.Config) (llm.Client, error) {
	switch cfg.LLMProvider {
	case "gemini":
		g, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "openai":
		return llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel), nil
	default:
		slog.Warn("Using mock completion provider; patient replies are canned")
		return llm.NewMockClient(), nil
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
