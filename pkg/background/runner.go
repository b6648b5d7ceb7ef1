// Package background implements the Background Runner (spec.md §4.7): the
// per-session goroutine that drives "next" (one subtask) and "all"
// (run-to-completion) execution requests outside the HTTP request/response
// cycle, polled for progress via pkg/progress.
//
// Grounded on the teacher's pkg/queue.Worker/WorkerPool: a goroutine-per-unit
// run loop with a stop channel, an in-memory session->cancel registry for
// cooperative cancellation, and a startup orphan-recovery sweep — narrowed
// from tarsy's fixed worker-pool-polls-a-shared-queue design (many workers,
// one queue) to this domain's one-goroutine-per-session-on-demand design
// (spec.md never describes a worker pool or a queue to poll; commands name
// the session to run directly).
package background

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/triadwork/triad/pkg/errs"
	"github.com/triadwork/triad/pkg/executor"
	"github.com/triadwork/triad/pkg/models"
)

// orphanRecoveryConcurrency bounds how many orphaned sessions RecoverOrphans
// resets at once, mirroring the batched fan-out github.com/telnet2/opencode's
// internal/tool batch runner gets from the same library.
const orphanRecoveryConcurrency = 8

// Mode selects how far a Runner.Start call should advance a session's plan.
type Mode string

const (
	ModeNext Mode = "next" // run exactly one subtask, then stop
	ModeAll  Mode = "all"  // run subtasks until the plan is exhausted or an error occurs
)

// Store is the subset of pkg/sessionstore.Postgres the Background Runner
// needs, beyond what it delegates to pkg/executor.Executor.
type Store interface {
	GetSession(ctx context.Context, id string, includeDeleted bool) (*models.Session, error)
	GetPlan(ctx context.Context, sessionID string) (*models.Plan, error)
	GetState(ctx context.Context, sessionID string) (*models.OrchestratorState, error)
	SaveState(ctx context.Context, state *models.OrchestratorState) error
	TouchSession(ctx context.Context, sessionID string) error
	FindOrphanedSessions(ctx context.Context, timeout time.Duration) ([]string, error)
}

// OrphanTimeout is how long a session may sit at status=running without a
// heartbeat before RecoverOrphans resets it, mirroring the teacher's
// orphan-detection sweep in pkg/queue/pool.go.
const OrphanTimeout = 5 * time.Minute

// Runner drives one background goroutine per running session.
type Runner struct {
	store    Store
	executor *executor.Executor

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New constructs a Runner.
func New(store Store, exec *executor.Executor) *Runner {
	return &Runner{
		store:   store,
		executor: exec,
		cancels: make(map[string]context.CancelFunc),
	}
}

// IsRunning reports whether sessionID currently has an active background
// goroutine in this process.
func (r *Runner) IsRunning(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cancels[sessionID]
	return ok
}

// Start launches a background goroutine for sessionID in the given mode. It
// refuses with errs.ErrAlreadyRunning if a goroutine for this session is
// already active, or if the persisted OrchestratorState says the session is
// running (covers the case where a prior process instance owns it, until an
// orphan sweep decides otherwise).
func (r *Runner) Start(ctx context.Context, sessionID string, mode Mode) error {
	r.mu.Lock()
	if _, ok := r.cancels[sessionID]; ok {
		r.mu.Unlock()
		return errs.ErrAlreadyRunning
	}
	r.mu.Unlock()

	state, err := r.store.GetState(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load state before starting session %s: %w", sessionID, err)
	}
	if state.Status == models.OrchestratorRunning {
		return errs.ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancels[sessionID] = cancel
	r.mu.Unlock()

	state.Status = models.OrchestratorRunning
	state.LastError = ""
	if err := r.store.SaveState(ctx, state); err != nil {
		r.mu.Lock()
		delete(r.cancels, sessionID)
		r.mu.Unlock()
		cancel()
		return fmt.Errorf("mark session %s running: %w", sessionID, err)
	}

	go r.run(runCtx, sessionID, mode)
	return nil
}

// Cancel requests that sessionID's background goroutine stop at its next
// cooperative-cancellation check. It is safe to call on a session with no
// active goroutine (a no-op).
func (r *Runner) Cancel(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.cancels[sessionID]; ok {
		cancel()
	}
}

func (r *Runner) run(ctx context.Context, sessionID string, mode Mode) {
	log := slog.With("session_id", sessionID, "mode", mode)
	log.Info("background run started")

	defer func() {
		r.mu.Lock()
		delete(r.cancels, sessionID)
		r.mu.Unlock()
	}()

	finalStatus := models.OrchestratorCompleted
	finalErr := ""

	for {
		select {
		case <-ctx.Done():
			finalStatus = models.OrchestratorIdle
			log.Info("background run cancelled")
			goto finish
		default:
		}

		plan, err := r.store.GetPlan(ctx, sessionID)
		if err != nil {
			finalStatus, finalErr = models.OrchestratorError, fmt.Sprintf("load plan: %v", err)
			log.Error("background run failed loading plan", "error", err)
			goto finish
		}

		next := plan.NextPending()
		if next == nil {
			log.Info("background run found no pending subtasks")
			goto finish
		}

		if err := r.store.TouchSession(ctx, sessionID); err != nil {
			log.Warn("heartbeat touch failed", "error", err)
		}

		outcome, err := r.executor.Run(ctx, sessionID, next.ID)
		if err != nil {
			finalStatus, finalErr = models.OrchestratorError, err.Error()
			log.Error("subtask execution failed", "subtask_id", next.ID, "error", err)
			goto finish
		}

		switch outcome {
		case executor.OutcomeRedo:
			// Subtask reset to pending; loop again immediately in "all" mode,
			// or stop after this single attempt in "next" mode.
		case executor.OutcomeDone, executor.OutcomeSkipped:
			// Subtask is terminal; continue the loop to find the next one.
		case executor.OutcomeError:
			finalStatus, finalErr = models.OrchestratorError, "executor reported an unspecified error"
			goto finish
		}

		if mode == ModeNext {
			log.Info("background run completed single-subtask step", "outcome", outcome)
			goto finish
		}
	}

finish:
	state, err := r.store.GetState(ctx, sessionID)
	if err != nil {
		log.Error("failed to load state for final status update", "error", err)
		return
	}
	state.Status = finalStatus
	state.LastError = finalErr
	if err := r.store.SaveState(context.Background(), state); err != nil {
		log.Error("failed to persist final status", "error", err)
	}
	log.Info("background run finished", "status", finalStatus)
}

// RecoverOrphans resets sessions left at status=running past OrphanTimeout
// by a crashed or killed process instance, so a later "next"/"all" command
// can claim them again. Intended to run once at process startup, mirroring
// pkg/queue/pool.go's runOrphanDetection sweep.
func (r *Runner) RecoverOrphans(ctx context.Context) (int, error) {
	ids, err := r.store.FindOrphanedSessions(ctx, OrphanTimeout)
	if err != nil {
		return 0, fmt.Errorf("find orphaned sessions: %w", err)
	}

	var recovered atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(orphanRecoveryConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			state, err := r.store.GetState(gctx, id)
			if err != nil {
				slog.Error("failed to load orphaned session state", "session_id", id, "error", err)
				return nil
			}
			state.Status = models.OrchestratorIdle
			state.LastError = "recovered from orphaned running state at startup"
			if err := r.store.SaveState(gctx, state); err != nil {
				slog.Error("failed to recover orphaned session", "session_id", id, "error", err)
				return nil
			}
			recovered.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(recovered.Load()), nil
}
