// Command triad-server runs the HTTP API process: it wires together every
// collaborator the Orchestrator composes and serves spec.md §6's surface.
//
// Grounded on the teacher's cmd/tarsy/main.go startup sequence (load
// config, connect the database, construct services, wire the HTTP server,
// serve), adapted to log/slog instead of the teacher's plain `log` package
// (matching its own newer pkg/services/pkg/queue/pkg/api code, not its
// older cmd/tarsy/main.go, which predates the slog migration).
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/triadwork/triad/pkg/agent"
	"github.com/triadwork/triad/pkg/api"
	"github.com/triadwork/triad/pkg/artifact"
	"github.com/triadwork/triad/pkg/authn"
	"github.com/triadwork/triad/pkg/background"
	"github.com/triadwork/triad/pkg/config"
	"github.com/triadwork/triad/pkg/dispatch"
	"github.com/triadwork/triad/pkg/envelope"
	"github.com/triadwork/triad/pkg/executor"
	"github.com/triadwork/triad/pkg/orchestrator"
	"github.com/triadwork/triad/pkg/plan"
	"github.com/triadwork/triad/pkg/progress"
	"github.com/triadwork/triad/pkg/sessionstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadFromEnv()
	if err != nil {
		logger.Error("load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sessionstore.Open(ctx, cfg.Database)
	if err != nil {
		logger.Error("open session store", "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()
	logger.Info("connected to database", "host", cfg.Database.Host, "db", cfg.Database.Database)

	runner, err := agent.NewFromConfig(cfg.Agent)
	if err != nil {
		logger.Error("construct agent runner", "error", err)
		os.Exit(1)
	}
	logger.Info("agent runner ready", "provider", cfg.Agent.Provider)

	artifacts, err := artifact.NewFilesystemStore(cfg.Artifact.RootDir)
	if err != nil {
		logger.Error("construct artifact store", "error", err)
		os.Exit(1)
	}

	emitter := progress.NewPostgres(store.DB())
	envelopes := envelope.NewPostgres(store.DB())
	planModel := plan.New(store)
	exec := executor.New(store, runner, emitter, artifacts)
	bg := background.New(store, exec)

	if n, err := bg.RecoverOrphans(ctx); err != nil {
		logger.Error("recover orphaned sessions", "error", err)
	} else if n > 0 {
		logger.Warn("recovered orphaned sessions", "count", n)
	}

	orch := orchestrator.New(store, planModel, runner, emitter, envelopes, bg, artifacts)
	dispatcher := dispatch.New(orch)

	authSvc := authn.New(store, authn.ConsoleMailer{Logger: logger}, authn.Config{
		JWTSecret:  cfg.Auth.JWTSecret,
		TokenTTL:   cfg.Auth.TokenTTL,
		BcryptCost: cfg.Auth.BcryptCost,
	}, logger)

	server := api.NewServer(orch, dispatcher, authSvc, dbHealth{db: store.DB()}, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		errCh <- server.Start(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("http server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", "error", err)
	}
}

type dbHealth struct {
	db *sql.DB
}

func (h dbHealth) Ping(ctx context.Context) error {
	return h.db.PingContext(ctx)
}
