package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// Completer is the reasoning collaborator seam. The planner and the
// executor's summary synthesis depend on this interface only, so tests can
// substitute fakes and the provider can be swapped by configuration.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

var marshalJSON = json.Marshal

// Options selects and configures a provider.
type Options struct {
	Provider  string
	APIBase   string
	APIKey    string
	Model     string
	TimeoutMS int
}

// New returns a Completer for the configured provider.
func New(opts Options) (Completer, error) {
	switch opts.Provider {
	case "", "openai":
		return &OpenAIClient{
			APIBase: opts.APIBase,
			APIKey:  opts.APIKey,
			Model:   opts.Model,
			Timeout: timeoutFromMS(opts.TimeoutMS),
		}, nil
	case "anthropic":
		return &AnthropicClient{
			APIBase: opts.APIBase,
			APIKey:  opts.APIKey,
			Model:   opts.Model,
			Timeout: timeoutFromMS(opts.TimeoutMS),
		}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", opts.Provider)
	}
}
