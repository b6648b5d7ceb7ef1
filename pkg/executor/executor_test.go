package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triadwork/triad/pkg/agent"
	"github.com/triadwork/triad/pkg/errs"
	"github.com/triadwork/triad/pkg/models"
)

// fakeStore is an in-memory implementation of executor.Store, the same
// small-fake-over-mock-library approach used in pkg/plan's tests.
type fakeStore struct {
	sessions       map[string]*models.Session
	plans          map[string]*models.Plan
	states         map[string]*models.OrchestratorState
	workerOutputs  map[string][]models.WorkerOutput
	chatMessages   map[models.ChatHistoryKind][]models.ChatMessage
}

func newFakeStore(sess *models.Session, plan *models.Plan) *fakeStore {
	return &fakeStore{
		sessions: map[string]*models.Session{sess.ID: sess},
		plans:    map[string]*models.Plan{sess.ID: plan},
		states: map[string]*models.OrchestratorState{
			sess.ID: {SessionID: sess.ID, Status: models.OrchestratorRunning},
		},
		workerOutputs: map[string][]models.WorkerOutput{},
		chatMessages:  map[models.ChatHistoryKind][]models.ChatMessage{},
	}
}

func (f *fakeStore) GetSession(_ context.Context, id string, _ bool) (*models.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) GetPlan(_ context.Context, sessionID string) (*models.Plan, error) {
	p, ok := f.plans[sessionID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) UpdateSubtask(_ context.Context, _ *models.Subtask) error {
	return nil // the fake's Subtask pointers are shared with the plan already
}

func (f *fakeStore) SaveWorkerOutput(_ context.Context, sessionID string, out models.WorkerOutput) error {
	f.workerOutputs[sessionID] = append(f.workerOutputs[sessionID], out)
	return nil
}

func (f *fakeStore) ListWorkerOutputs(_ context.Context, sessionID string) ([]models.WorkerOutput, error) {
	return f.workerOutputs[sessionID], nil
}

func (f *fakeStore) GetState(_ context.Context, sessionID string) (*models.OrchestratorState, error) {
	s, ok := f.states[sessionID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) SaveState(_ context.Context, state *models.OrchestratorState) error {
	f.states[state.SessionID] = state
	return nil
}

func (f *fakeStore) AppendChatMessage(_ context.Context, _ string, kind models.ChatHistoryKind, msg models.ChatMessage) error {
	f.chatMessages[kind] = append(f.chatMessages[kind], msg)
	return nil
}

// fakeEmitter is an in-memory progress.Emitter.
type fakeEmitter struct {
	events []models.ProgressEvent
}

func (e *fakeEmitter) Emit(_ context.Context, ev models.ProgressEvent) (int64, error) {
	e.events = append(e.events, ev)
	return int64(len(e.events)), nil
}

func (e *fakeEmitter) ListSince(_ context.Context, _ string, since int64) ([]models.ProgressEvent, error) {
	if since >= int64(len(e.events)) {
		return nil, nil
	}
	return e.events[since:], nil
}

// fakeArtifacts is an in-memory artifact.Store.
type fakeArtifacts struct{}

func (fakeArtifacts) Put(_ context.Context, _, label, contentType string, data []byte) (models.ArtifactRef, error) {
	return models.ArtifactRef{Label: label, ContentType: contentType, SizeBytes: int64(len(data)), Digest: "fake-digest"}, nil
}

func (fakeArtifacts) Get(_ context.Context, _, _ string) ([]byte, error) { return nil, errs.ErrNotFound }
func (fakeArtifacts) DeleteSession(_ context.Context, _ string) error    { return nil }

func newTestExecutor(runner agent.Runner, sess *models.Session, plan *models.Plan) (*Executor, *fakeStore, *fakeEmitter) {
	store := newFakeStore(sess, plan)
	emitter := &fakeEmitter{}
	return New(store, runner, emitter, fakeArtifacts{}), store, emitter
}

func TestRunAcceptsOnFirstReview(t *testing.T) {
	sess := &models.Session{ID: "sess-1"}
	subtask := &models.Subtask{ID: "st-1", Title: "draft chapter one"}
	plan := &models.Plan{Title: "a novel", Subtasks: []*models.Subtask{subtask}}

	runner := agent.NewStubClient()
	runner.AddScript(agent.PersonaWorker, agent.ScriptEntry{Response: "Once upon a time..."})
	runner.AddScript(agent.PersonaReviewer, agent.ScriptEntry{Response: "ACCEPT\nGreat opening."})

	exec, store, emitter := newTestExecutor(runner, sess, plan)

	outcome, err := exec.Run(context.Background(), "sess-1", "st-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, outcome)
	assert.Equal(t, models.SubtaskDone, subtask.Status)
	assert.Equal(t, "Great opening.", subtask.LastDecisionRef)
	require.Len(t, store.workerOutputs["sess-1"], 1)
	assert.Equal(t, "Once upon a time...", store.workerOutputs["sess-1"][0].Content)

	var stages []models.Stage
	for _, ev := range emitter.events {
		stages = append(stages, ev.Stage)
	}
	assert.Equal(t, []models.Stage{models.StageStart, models.StageFinish, models.StageStart, models.StageFinish}, stages)
}

func TestRunRedoesUnderBudgetThenForceAccepts(t *testing.T) {
	sess := &models.Session{ID: "sess-1"}
	subtask := &models.Subtask{ID: "st-1", Title: "draft chapter one"}
	plan := &models.Plan{Title: "a novel", Subtasks: []*models.Subtask{subtask}}

	runner := agent.NewStubClient()
	for i := 0; i < DefaultRedoBudget+1; i++ {
		runner.AddScript(agent.PersonaWorker, agent.ScriptEntry{Response: "draft attempt"})
		runner.AddScript(agent.PersonaReviewer, agent.ScriptEntry{Response: "REDO\nneeds more detail"})
	}

	exec, _, _ := newTestExecutor(runner, sess, plan)
	ctx := context.Background()

	for i := 0; i < DefaultRedoBudget; i++ {
		outcome, err := exec.Run(ctx, "sess-1", "st-1")
		require.NoError(t, err)
		assert.Equal(t, OutcomeRedo, outcome)
		assert.Equal(t, models.SubtaskPending, subtask.Status)
		assert.True(t, subtask.NeedsRedo)
	}

	// The (redoBudget+1)th REDO verdict force-accepts.
	outcome, err := exec.Run(ctx, "sess-1", "st-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, outcome)
	assert.Equal(t, models.SubtaskDone, subtask.Status)
	assert.Contains(t, subtask.LastDecisionRef, "redo budget exhausted")
}

// skipDuringWorkerRunner wraps a Runner and flips a subtask to Skipped the
// moment the Worker call completes, simulating a concurrent "ask" skip
// command landing while the Worker invocation was in flight.
type skipDuringWorkerRunner struct {
	agent.Runner
	subtask *models.Subtask
}

func (r skipDuringWorkerRunner) Invoke(ctx context.Context, req agent.Request) (agent.Response, error) {
	resp, err := r.Runner.Invoke(ctx, req)
	if req.Persona == agent.PersonaWorker {
		r.subtask.Status = models.SubtaskSkipped
	}
	return resp, err
}

func TestRunSkipsReviewWhenSubtaskSkippedMidFlight(t *testing.T) {
	sess := &models.Session{ID: "sess-1"}
	subtask := &models.Subtask{ID: "st-1", Title: "draft chapter one"}
	plan := &models.Plan{Title: "a novel", Subtasks: []*models.Subtask{subtask}}

	stub := agent.NewStubClient()
	stub.AddScript(agent.PersonaWorker, agent.ScriptEntry{Response: "draft"})
	runner := skipDuringWorkerRunner{Runner: stub, subtask: subtask}

	exec, _, _ := newTestExecutor(runner, sess, plan)

	outcome, err := exec.Run(context.Background(), "sess-1", "st-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
}

func TestParseVerdict(t *testing.T) {
	verdict, rationale, revised := parseVerdict("ACCEPT\nLooks solid.")
	assert.Equal(t, "ACCEPT", verdict)
	assert.Equal(t, "Looks solid.", rationale)
	assert.Empty(t, revised)

	verdict, rationale, revised = parseVerdict("REDO\nMissing a conclusion.\nREVISED: here is a better ending.")
	assert.Equal(t, "REDO", verdict)
	assert.Equal(t, "Missing a conclusion.", rationale)
	assert.Equal(t, "here is a better ending.", revised)

	verdict, _, _ = parseVerdict("I'm not sure about this one.")
	assert.Empty(t, verdict)
}

func TestRunUnparseableVerdictTreatedAsRedo(t *testing.T) {
	sess := &models.Session{ID: "sess-1"}
	subtask := &models.Subtask{ID: "st-1", Title: "draft chapter one"}
	plan := &models.Plan{Title: "a novel", Subtasks: []*models.Subtask{subtask}}

	runner := agent.NewStubClient()
	runner.AddScript(agent.PersonaWorker, agent.ScriptEntry{Response: "draft"})
	runner.AddScript(agent.PersonaReviewer, agent.ScriptEntry{Response: "not sure, maybe fine?"})

	exec, _, _ := newTestExecutor(runner, sess, plan)

	outcome, err := exec.Run(context.Background(), "sess-1", "st-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRedo, outcome)
	assert.Contains(t, subtask.LastDecisionRef, "unparseable reviewer verdict")
}

// TestRunAcceptingFourthNovelSubtaskRecordsRollingSummary covers spec.md
// §4.6 step 7: once t4 is accepted in novel mode, the executor must store a
// t1-4 summary so t5's Worker input carries it instead of all four full
// chapters.
func TestRunAcceptingFourthNovelSubtaskRecordsRollingSummary(t *testing.T) {
	sess := &models.Session{ID: "sess-1", Extra: map[string]any{"novel_mode": true}}
	subtasks := []*models.Subtask{
		{ID: "st-1", Title: "chapter one"},
		{ID: "st-2", Title: "chapter two"},
		{ID: "st-3", Title: "chapter three"},
		{ID: "st-4", Title: "chapter four"},
		{ID: "st-5", Title: "chapter five"},
	}
	plan := &models.Plan{Title: "a novel", Subtasks: subtasks}

	runner := agent.NewStubClient()
	for i, st := range subtasks[:4] {
		runner.AddScript(agent.PersonaWorker, agent.ScriptEntry{Response: "chapter text " + st.ID})
		runner.AddScript(agent.PersonaReviewer, agent.ScriptEntry{Response: "ACCEPT\nfine as chapter " + string(rune('1'+i))})
	}

	exec, store, _ := newTestExecutor(runner, sess, plan)
	ctx := context.Background()

	for _, st := range subtasks[:4] {
		outcome, err := exec.Run(ctx, "sess-1", st.ID)
		require.NoError(t, err)
		assert.Equal(t, OutcomeDone, outcome)
	}

	state, err := store.GetState(ctx, "sess-1")
	require.NoError(t, err)
	summary := state.GetString(models.ExtraNovelSummaryT1T4)
	assert.NotEmpty(t, summary)
	for _, st := range subtasks[:4] {
		assert.Contains(t, summary, st.ID)
	}

	input, err := exec.buildWorkerInput(ctx, sess, plan, subtasks[4])
	require.NoError(t, err)
	assert.Contains(t, input, "Rolling summary of chapters 1-4")
	assert.Contains(t, input, summary)
}
