package testsupport

import (
	"path/filepath"
	"testing"

	"github.com/dongyingyibadao/data-dealer-auto/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.SourceDir = filepath.Join(base, "source")
	cfgVal.Paths.OutputDir = filepath.Join(base, "output")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Caption.Provider = config.ProviderLocal
	cfgVal.Caption.APIKey = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithCaptionProvider points the caption stage at provider and baseURL.
func WithCaptionProvider(provider, baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Caption.Provider = provider
		b.cfg.Caption.BaseURL = baseURL
		b.cfg.Caption.APIKey = "test"
		b.cfg.Caption.Model = "test-model"
	}
}

// WithSaveMode overrides assembly.save_mode.
func WithSaveMode(mode string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Assembly.SaveMode = mode
	}
}

// WithWindow overrides the before/after frame counts.
func WithWindow(before, after int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Window.Before = before
		b.cfg.Window.After = after
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
