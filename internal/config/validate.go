package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable. Every failure names the
// offending key so the CLI can report it before any frame is read.
func (c *Config) Validate() error {
	for _, check := range []func() error{
		c.validateDetect,
		c.validateWindow,
		c.validateAssembly,
		c.validateCaption,
		c.validateLogging,
		c.validateNotifications,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateDetect() error {
	if c.Detect.Threshold <= 0 {
		return errors.New("detect.threshold must be positive")
	}
	if c.Detect.StartIndex < 0 {
		return errors.New("detect.start_index must not be negative")
	}
	if c.Detect.EndIndex < 0 {
		return errors.New("detect.end_index must not be negative")
	}
	if c.Detect.EndIndex > 0 && c.Detect.EndIndex <= c.Detect.StartIndex {
		return errors.New("detect.end_index must be greater than detect.start_index")
	}
	switch c.Detect.UnknownPolicy {
	case UnknownPolicyDrop, UnknownPolicyKeep:
	default:
		return fmt.Errorf("detect.unknown_policy must be %q or %q, got %q", UnknownPolicyDrop, UnknownPolicyKeep, c.Detect.UnknownPolicy)
	}
	return nil
}

func (c *Config) validateWindow() error {
	if c.Window.Before < 0 {
		return errors.New("window.before must not be negative")
	}
	if c.Window.After < 0 {
		return errors.New("window.after must not be negative")
	}
	if c.Merge.MinGap < 0 {
		return errors.New("merge.min_gap must not be negative")
	}
	return nil
}

func (c *Config) validateAssembly() error {
	if err := ensurePositiveMap(map[string]int{
		"assembly.batch_size":    c.Assembly.BatchSize,
		"assembly.image_workers": c.Assembly.ImageWorkers,
		"assembly.fps":           c.Assembly.FPS,
	}); err != nil {
		return err
	}
	if c.Assembly.MaxSegments < 0 {
		return errors.New("assembly.max_segments must not be negative (0 means unlimited)")
	}
	switch c.Assembly.SaveMode {
	case SaveModeDataset, SaveModeImage, SaveModeBoth:
	default:
		return fmt.Errorf("assembly.save_mode must be one of dataset, image, both; got %q", c.Assembly.SaveMode)
	}
	if c.Assembly.Placeholders && c.Assembly.PlaceholderAction >= -1 && c.Assembly.PlaceholderAction <= 1 {
		return errors.New("assembly.placeholder_action must lie outside the legal action range [-1, 1]")
	}
	return nil
}

func (c *Config) validateCaption() error {
	switch c.Caption.Provider {
	case ProviderLocal:
		return nil
	case ProviderQwen, ProviderDeepSeek, ProviderOpenRouter, ProviderGPT:
	default:
		return fmt.Errorf("caption.provider must be one of local, qwen, deepseek, openrouter, gpt; got %q", c.Caption.Provider)
	}
	if c.Caption.APIKey == "" {
		return fmt.Errorf("caption.api_key is required for provider %q (or set DATADEALER_API_KEY)", c.Caption.Provider)
	}
	if c.Caption.Provider == ProviderGPT && c.Caption.APIVersion != "" && c.Caption.BaseURL == "" {
		return errors.New("caption.base_url must be set to the Azure endpoint when caption.api_version is set")
	}
	if err := ensurePositiveMap(map[string]int{
		"caption.timeout_seconds":     c.Caption.TimeoutSeconds,
		"caption.requests_per_minute": c.Caption.RequestsPerMinute,
		"caption.checkpoint_interval": c.Caption.CheckpointInterval,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error; got %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic must be a full http(s) URL, got %q", topic)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
