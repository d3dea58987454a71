package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"github.com/dongyingyibadao/data-dealer-auto/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if resolved != filepath.Join(tempHome, ".config", "datadealer", "config.toml") {
		t.Fatalf("unexpected resolved path %q", resolved)
	}
	if cfg.Paths.StateDir != filepath.Join(tempHome, ".local", "share", "datadealer") {
		t.Fatalf("unexpected state dir %q", cfg.Paths.StateDir)
	}
	if !filepath.IsAbs(cfg.Paths.OutputDir) {
		t.Fatalf("expected absolute output dir, got %q", cfg.Paths.OutputDir)
	}
	if cfg.Detect.Threshold != 0.5 || cfg.Window.Before != 30 || cfg.Window.After != 30 {
		t.Fatalf("unexpected detection defaults: %+v %+v", cfg.Detect, cfg.Window)
	}
	if cfg.Merge.Enabled || cfg.Merge.MinGap != 50 {
		t.Fatalf("unexpected merge defaults: %+v", cfg.Merge)
	}
	if cfg.Assembly.BatchSize != 50 || cfg.Assembly.PlaceholderAction != -999 || !cfg.Assembly.Placeholders {
		t.Fatalf("unexpected assembly defaults: %+v", cfg.Assembly)
	}
	if cfg.Detect.UnknownPolicy != config.UnknownPolicyDrop {
		t.Fatalf("unexpected unknown policy %q", cfg.Detect.UnknownPolicy)
	}
	if cfg.Caption.Provider != config.ProviderLocal {
		t.Fatalf("unexpected provider %q", cfg.Caption.Provider)
	}
	if cfg.LedgerPath() != filepath.Join(cfg.Paths.StateDir, "ledger.db") {
		t.Fatalf("unexpected ledger path %q", cfg.LedgerPath())
	}
}

func TestLoadCustomConfigOverrides(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("DEEPSEEK_API_KEY", "env-key")

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
source_dir = "~/data/libero"
output_dir = "~/out"

[detect]
threshold = 0.8
unknown_policy = "KEEP"

[merge]
enabled = true
min_gap = 20

[assembly]
save_mode = "both"
max_segments = 12

[caption]
provider = "deepseek"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected config at %q, got %q exists=%v", configPath, resolved, exists)
	}
	if cfg.Paths.SourceDir != filepath.Join(tempHome, "data", "libero") {
		t.Fatalf("unexpected source dir %q", cfg.Paths.SourceDir)
	}
	if cfg.Detect.Threshold != 0.8 || cfg.Detect.UnknownPolicy != config.UnknownPolicyKeep {
		t.Fatalf("unexpected detect section %+v", cfg.Detect)
	}
	if !cfg.Merge.Enabled || cfg.Merge.MinGap != 20 {
		t.Fatalf("unexpected merge section %+v", cfg.Merge)
	}
	if cfg.Assembly.SaveMode != config.SaveModeBoth || cfg.Assembly.MaxSegments != 12 {
		t.Fatalf("unexpected assembly section %+v", cfg.Assembly)
	}
	if cfg.Caption.APIKey != "env-key" {
		t.Fatalf("expected env api key, got %q", cfg.Caption.APIKey)
	}
	if !strings.Contains(cfg.Caption.BaseURL, "deepseek") || cfg.Caption.Model != "deepseek-chat" {
		t.Fatalf("expected deepseek provider defaults, got %q %q", cfg.Caption.BaseURL, cfg.Caption.Model)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[detect]\nthreshhold = 0.4\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected parse error for misspelled key")
	}
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"threshold", func(c *config.Config) { c.Detect.Threshold = 0 }, "detect.threshold"},
		{"range", func(c *config.Config) { c.Detect.StartIndex = 10; c.Detect.EndIndex = 5 }, "detect.end_index"},
		{"policy", func(c *config.Config) { c.Detect.UnknownPolicy = "maybe" }, "detect.unknown_policy"},
		{"before", func(c *config.Config) { c.Window.Before = -1 }, "window.before"},
		{"batch", func(c *config.Config) { c.Assembly.BatchSize = 0 }, "assembly.batch_size"},
		{"save mode", func(c *config.Config) { c.Assembly.SaveMode = "video" }, "assembly.save_mode"},
		{"sentinel", func(c *config.Config) { c.Assembly.PlaceholderAction = 0.5 }, "assembly.placeholder_action"},
		{"provider", func(c *config.Config) { c.Caption.Provider = "claude" }, "caption.provider"},
		{"api key", func(c *config.Config) { c.Caption.Provider = config.ProviderQwen }, "caption.api_key"},
		{"azure", func(c *config.Config) {
			c.Caption.Provider = config.ProviderGPT
			c.Caption.APIKey = "k"
			c.Caption.APIVersion = "2024-02-01"
		}, "caption.base_url"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in %q", tt.want, err.Error())
			}
		})
	}
}

func TestValidateAllowsSentinelWhenPlaceholdersDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Assembly.Placeholders = false
	cfg.Assembly.PlaceholderAction = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSampleConfigParsesAndValidates(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var parsed config.Config
	if err := toml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("sample config is not valid TOML: %v", err)
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config failed to load: %v", err)
	}
}

func TestEncodeRoundTrips(t *testing.T) {
	cfg := config.Default()
	text, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if !strings.Contains(text, "unknown_policy") || !strings.Contains(text, "[assembly]") {
		t.Fatalf("unexpected encoded config %q", text)
	}
	var parsed config.Config
	if err := toml.Unmarshal([]byte(text), &parsed); err != nil {
		t.Fatalf("decode encoded config: %v", err)
	}
	if parsed.Assembly.BatchSize != cfg.Assembly.BatchSize {
		t.Fatalf("batch size lost in round trip")
	}
}
