package agent

import (
	"context"
	"fmt"

	"github.com/triadwork/triad/pkg/config"
)

func buildRunner(provider config.AgentProvider, apiKey, model string, maxRetries int) (Runner, error) {
	switch provider {
	case config.AgentProviderAnthropic:
		return NewAnthropicClient(apiKey, model, 0, maxRetries)
	case config.AgentProviderOpenAI:
		return NewOpenAIClient(apiKey, model, 0, maxRetries)
	case config.AgentProviderStub, "":
		return NewStubClient(), nil
	default:
		return nil, fmt.Errorf("unknown agent provider %q", provider)
	}
}

// NewFromConfig constructs the configured Runner backend, wrapping it in a
// PersonaRouter when cfg.PersonaOverrides names an alternate provider/model
// for one or more personas.
func NewFromConfig(cfg config.AgentConfig) (Runner, error) {
	base, err := buildRunner(cfg.Provider, cfg.APIKey, cfg.Model, cfg.MaxRetries)
	if err != nil {
		return nil, err
	}
	if len(cfg.PersonaOverrides) == 0 {
		return base, nil
	}

	overrides := make(map[Persona]Runner, len(cfg.PersonaOverrides))
	for name, override := range cfg.PersonaOverrides {
		runner, err := buildRunner(override.Provider, override.APIKey, override.Model, cfg.MaxRetries)
		if err != nil {
			return nil, fmt.Errorf("persona override %q: %w", name, err)
		}
		overrides[Persona(name)] = runner
	}
	return NewPersonaRouter(base, overrides), nil
}

// PersonaRouter dispatches each Request to the Runner configured for its
// Persona, falling back to a default Runner for any persona without an
// override. Grounded on the teacher's per-agent model selection (tarsy.yaml's
// `agents:` map lets each named agent use a distinct LLM), narrowed here to
// the fixed Planner/Worker/Reviewer persona set.
type PersonaRouter struct {
	base      Runner
	overrides map[Persona]Runner
}

// NewPersonaRouter constructs a PersonaRouter.
func NewPersonaRouter(base Runner, overrides map[Persona]Runner) *PersonaRouter {
	return &PersonaRouter{base: base, overrides: overrides}
}

// Invoke routes req to its persona's override Runner, or base if none is
// configured for that persona.
func (r *PersonaRouter) Invoke(ctx context.Context, req Request) (Response, error) {
	if runner, ok := r.overrides[req.Persona]; ok {
		return runner.Invoke(ctx, req)
	}
	return r.base.Invoke(ctx, req)
}
