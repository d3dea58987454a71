package caption

import (
	"fmt"

	"github.com/dongyingyibadao/data-dealer-auto/internal/config"
	"github.com/dongyingyibadao/data-dealer-auto/internal/services/llm"
)

// Provider bundles a describer with the label used when it fails.
type Provider struct {
	Name      string
	Describer Describer
	Fallback  func(Request) string
}

// Remote reports whether the provider calls a network service.
func (p Provider) Remote() bool {
	_, ok := p.Describer.(HealthChecker)
	return ok
}

// NewProvider selects the describer named by cfg.Provider. Text providers
// fall back to the local heuristic; the vision provider falls back to
// "<verb> object".
func NewProvider(cfg config.Caption, opts ...llm.Option) (Provider, error) {
	localFallback := func(req Request) string { return LocalLabel(req.Kind, req.TaskLabel) }
	switch cfg.Provider {
	case "", config.ProviderLocal:
		return Provider{Name: config.ProviderLocal, Describer: Local{}, Fallback: localFallback}, nil
	case config.ProviderQwen, config.ProviderDeepSeek, config.ProviderOpenRouter:
		client := llm.NewClient(llm.Config{
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			TimeoutSeconds: cfg.TimeoutSeconds,
			Temperature:    0.3,
			MaxTokens:      100,
		}, opts...)
		return Provider{Name: cfg.Provider, Describer: NewText(client), Fallback: localFallback}, nil
	case config.ProviderGPT:
		vision := NewVision(VisionConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			APIVersion: cfg.APIVersion,
			Model:      cfg.Model,
			FastMode:   cfg.FastMode,
		})
		return Provider{Name: cfg.Provider, Describer: vision, Fallback: FallbackLabel}, nil
	default:
		return Provider{}, fmt.Errorf("unknown caption provider %q", cfg.Provider)
	}
}
