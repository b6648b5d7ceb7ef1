// Command triad is a small CLI that talks to the same Command Dispatcher
// the HTTP server uses, in-process against a local store — exercising
// go-opencode's cobra CLI convention without duplicating any orchestration
// logic (spec.md §4.8's "single command dispatcher for CLI and HTTP").
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/triadwork/triad/pkg/agent"
	"github.com/triadwork/triad/pkg/artifact"
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

// cliApp bundles the dispatcher and orchestrator the command tree calls
// into, built once in PersistentPreRunE and torn down in PersistentPostRunE.
type cliApp struct {
	store      *sessionstore.Postgres
	orch       *orchestrator.Orchestrator
	dispatcher *dispatch.Dispatcher
}

func newCLIApp(ctx context.Context) (*cliApp, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	store, err := sessionstore.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	runner, err := agent.NewFromConfig(cfg.Agent)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("construct agent runner: %w", err)
	}

	artifacts, err := artifact.NewFilesystemStore(cfg.Artifact.RootDir)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("construct artifact store: %w", err)
	}

	emitter := progress.NewPostgres(store.DB())
	envelopes := envelope.NewPostgres(store.DB())
	planModel := plan.New(store)
	exec := executor.New(store, runner, emitter, artifacts)
	bg := background.New(store, exec)

	orch := orchestrator.New(store, planModel, runner, emitter, envelopes, bg, artifacts)
	dispatcher := dispatch.New(orch)

	return &cliApp{store: store, orch: orch, dispatcher: dispatcher}, nil
}

func (a *cliApp) Close() error {
	if a == nil || a.store == nil {
		return nil
	}
	return a.store.Close()
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "triad:", err)
		os.Exit(1)
	}
}
