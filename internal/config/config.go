package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	SourceDir string `toml:"source_dir"`
	OutputDir string `toml:"output_dir"`
	LogDir    string `toml:"log_dir"`
	StateDir  string `toml:"state_dir"`
}

// Detect configures the gripper transition scan.
type Detect struct {
	Threshold float64 `toml:"threshold"`
	// StartIndex and EndIndex bound the scan; EndIndex 0 means dataset end.
	StartIndex    int    `toml:"start_index"`
	EndIndex      int    `toml:"end_index"`
	UnknownPolicy string `toml:"unknown_policy"`
}

// Window configures how many frames surround each keyframe.
type Window struct {
	Before int `toml:"before"`
	After  int `toml:"after"`
}

// Merge configures the optional same-episode range merge.
type Merge struct {
	Enabled bool `toml:"enabled"`
	MinGap  int  `toml:"min_gap"`
}

// Assembly configures the streaming assembler and output writer.
type Assembly struct {
	BatchSize         int     `toml:"batch_size"`
	MaxSegments       int     `toml:"max_segments"`
	SaveMode          string  `toml:"save_mode"`
	Placeholders      bool    `toml:"placeholders"`
	PlaceholderAction float64 `toml:"placeholder_action"`
	ImageWorkers      int     `toml:"image_workers"`
	FPS               int     `toml:"fps"`
	RobotType         string  `toml:"robot_type"`
}

// Caption configures the task label provider.
type Caption struct {
	Provider           string `toml:"provider"`
	APIKey             string `toml:"api_key"`
	BaseURL            string `toml:"base_url"`
	APIVersion         string `toml:"api_version"`
	Model              string `toml:"model"`
	FastMode           bool   `toml:"fast_mode"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	RequestsPerMinute  int    `toml:"requests_per_minute"`
	CheckpointInterval int    `toml:"checkpoint_interval"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Notifications configures ntfy alerts for run lifecycle events. An empty
// topic disables notifications.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Config encapsulates all configuration values for datadealer.
//
// Configuration sections by subsystem:
//   - Paths: source dataset, output dataset, logs, run ledger
//   - Detect: change threshold, scan bounds, unknown-kind policy
//   - Window: frames before/after each keyframe
//   - Merge: same-episode range merging
//   - Assembly: batch size, segment cap, save mode, placeholders
//   - Caption: task label provider and checkpointing
//   - Logging: log format, level, and retention
//   - Notifications: ntfy topic for run completion and failure alerts
type Config struct {
	Paths    Paths    `toml:"paths"`
	Detect   Detect   `toml:"detect"`
	Window   Window   `toml:"window"`
	Merge    Merge    `toml:"merge"`
	Assembly Assembly `toml:"assembly"`
	Caption  Caption  `toml:"caption"`
	Logging  Logging  `toml:"logging"`

	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.Finalize(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// Finalize normalizes and validates the configuration. Callers that mutate a
// loaded config (CLI flag overrides) must call it again before use.
func (c *Config) Finalize() error {
	if err := c.normalize(); err != nil {
		return err
	}
	return c.Validate()
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("datadealer.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the output, log, and state directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.OutputDir, c.Paths.LogDir, c.Paths.StateDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LedgerPath returns the sqlite run ledger location.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.StateDir, "ledger.db")
}

// CheckpointDir returns where caption checkpoints live for the configured output.
func (c *Config) CheckpointDir() string {
	return filepath.Join(c.Paths.OutputDir, "checkpoints")
}

// CaptionUsesImages reports whether the configured provider looks at frames.
func (c *Config) CaptionUsesImages() bool {
	return c.Caption.Provider == ProviderGPT
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// SampleConfig returns the embedded sample configuration text.
func SampleConfig() string {
	return sampleConfig
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() (string, error) {
	var sb strings.Builder
	encoder := toml.NewEncoder(&sb)
	encoder.SetIndentTables(true)
	if err := encoder.Encode(c); err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return sb.String(), nil
}
