package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triadwork/triad/pkg/config"
)

func TestNewFromConfigStubProvider(t *testing.T) {
	runner, err := NewFromConfig(config.AgentConfig{Provider: config.AgentProviderStub})
	require.NoError(t, err)
	_, ok := runner.(*StubClient)
	assert.True(t, ok)
}

func TestNewFromConfigDefaultsToStubWhenEmpty(t *testing.T) {
	runner, err := NewFromConfig(config.AgentConfig{})
	require.NoError(t, err)
	_, ok := runner.(*StubClient)
	assert.True(t, ok)
}

func TestNewFromConfigUnknownProviderErrors(t *testing.T) {
	_, err := NewFromConfig(config.AgentConfig{Provider: "carrier-pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown agent provider")
}

func TestNewFromConfigWithoutOverridesReturnsBareRunner(t *testing.T) {
	runner, err := NewFromConfig(config.AgentConfig{Provider: config.AgentProviderStub})
	require.NoError(t, err)
	_, isRouter := runner.(*PersonaRouter)
	assert.False(t, isRouter, "no overrides configured means no router wrapping")
}

func TestNewFromConfigWithPersonaOverrideWrapsInRouter(t *testing.T) {
	runner, err := NewFromConfig(config.AgentConfig{
		Provider: config.AgentProviderStub,
		PersonaOverrides: map[string]config.PersonaOverride{
			"reviewer": {Provider: config.AgentProviderStub},
		},
	})
	require.NoError(t, err)
	_, ok := runner.(*PersonaRouter)
	assert.True(t, ok)
}

func TestNewFromConfigRejectsInvalidPersonaOverride(t *testing.T) {
	_, err := NewFromConfig(config.AgentConfig{
		Provider: config.AgentProviderStub,
		PersonaOverrides: map[string]config.PersonaOverride{
			"reviewer": {Provider: "carrier-pigeon"},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persona override")
}

func TestPersonaRouterDispatchesToOverrideThenFallsBackToBase(t *testing.T) {
	base := NewStubClient()
	base.AddScript(PersonaWorker, ScriptEntry{Response: "base worker reply"})

	override := NewStubClient()
	override.AddScript(PersonaReviewer, ScriptEntry{Response: "override reviewer reply"})

	router := NewPersonaRouter(base, map[Persona]Runner{PersonaReviewer: override})

	resp, err := router.Invoke(context.Background(), Request{Persona: PersonaReviewer, Messages: []Message{{Role: "user", Content: "x"}}})
	require.NoError(t, err)
	assert.Equal(t, "override reviewer reply", resp.Content)

	resp, err = router.Invoke(context.Background(), Request{Persona: PersonaWorker, Messages: []Message{{Role: "user", Content: "x"}}})
	require.NoError(t, err)
	assert.Equal(t, "base worker reply", resp.Content)
}
