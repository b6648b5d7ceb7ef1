package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/triadwork/triad/pkg/errs"
)

// ScriptEntry is one scripted reply for StubClient, modeled on the
// teacher's test/e2e ScriptedLLMClient entries (LLMScriptEntry): either a
// fixed response, or an instruction to fail so the redo-budget and
// provider-unavailable paths are exercisable without a live backend.
type ScriptEntry struct {
	Response       string
	Unavailable    bool // returns errs.ErrProviderUnavailable instead of Response
}

// StubClient is the deterministic, offline Runner used for tests and for
// AGENT_PROVIDER=stub deployments (spec.md §4.4). Replies are consumed in
// order per persona; once a persona's script is exhausted it falls back to
// a fixed default reply so long-running loops never block waiting on
// scripted input, mirroring ScriptedLLMClient's sequential-then-fallback
// behavior.
type StubClient struct {
	mu      sync.Mutex
	scripts map[Persona][]ScriptEntry
	indices map[Persona]int
	calls   []Request
}

// NewStubClient returns an empty StubClient; use AddScript to queue replies.
func NewStubClient() *StubClient {
	return &StubClient{
		scripts: make(map[Persona][]ScriptEntry),
		indices: make(map[Persona]int),
	}
}

// AddScript queues entry as the next reply for persona.
func (c *StubClient) AddScript(persona Persona, entry ScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[persona] = append(c.scripts[persona], entry)
}

// Calls returns every request this client has received, for test assertions.
func (c *StubClient) Calls() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Request, len(c.calls))
	copy(out, c.calls)
	return out
}

// Invoke returns the next scripted reply for req.Persona, or a deterministic
// default if the script is exhausted.
func (c *StubClient) Invoke(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, req)

	entries := c.scripts[req.Persona]
	idx := c.indices[req.Persona]
	if idx < len(entries) {
		entry := entries[idx]
		c.indices[req.Persona] = idx + 1
		if entry.Unavailable {
			return Response{}, fmt.Errorf("%w: scripted failure", errs.ErrProviderUnavailable)
		}
		return Response{Content: entry.Response}, nil
	}

	return Response{Content: defaultReply(req)}, nil
}

func defaultReply(req Request) string {
	var lastUser string
	for _, m := range req.Messages {
		if m.Role == "user" {
			lastUser = m.Content
		}
	}
	switch req.Persona {
	case PersonaReviewer:
		return "ACCEPT"
	case PersonaPlanner:
		return "Understood: " + strings.TrimSpace(lastUser)
	default:
		return "Completed: " + strings.TrimSpace(lastUser)
	}
}
