package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triadwork/triad/pkg/errs"
)

func TestSystemPromptPerPersona(t *testing.T) {
	assert.Contains(t, SystemPrompt(PersonaPlanner), "You are the Planner.")
	assert.Contains(t, SystemPrompt(PersonaWorker), "You are the Worker.")
	assert.Contains(t, SystemPrompt(PersonaReviewer), "You are the Reviewer.")
	assert.Empty(t, SystemPrompt(Persona("unknown")))
}

func TestWithRetryNoRetriesCallsOnce(t *testing.T) {
	calls := 0
	resp, err := withRetry(context.Background(), 0, func() (Response, error) {
		calls++
		return Response{}, errs.ErrProviderUnavailable
	})
	assert.ErrorIs(t, err, errs.ErrProviderUnavailable)
	assert.Equal(t, 1, calls)
	assert.Equal(t, Response{}, resp)
}

func TestWithRetryRetriesOnProviderUnavailableThenSucceeds(t *testing.T) {
	calls := 0
	resp, err := withRetry(context.Background(), 2, func() (Response, error) {
		calls++
		if calls < 2 {
			return Response{}, errs.ErrProviderUnavailable
		}
		return Response{Content: "ok"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 2, calls)
}

func TestWithRetryDoesNotRetryNonTransientErrors(t *testing.T) {
	calls := 0
	otherErr := errors.New("boom")
	_, err := withRetry(context.Background(), 3, func() (Response, error) {
		calls++
		return Response{}, otherErr
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, otherErr)
	assert.Equal(t, 1, calls, "non-transient errors are not retried")
}

func TestWithRetryGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	_, err := withRetry(context.Background(), 1, func() (Response, error) {
		calls++
		return Response{}, errs.ErrProviderUnavailable
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrProviderUnavailable)
	assert.Equal(t, 2, calls, "one initial attempt plus one retry")
}
