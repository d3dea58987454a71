package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.Detect.UnknownPolicy = strings.ToLower(strings.TrimSpace(c.Detect.UnknownPolicy))
	if c.Detect.UnknownPolicy == "" {
		c.Detect.UnknownPolicy = defaultUnknownPolicy
	}
	c.Assembly.SaveMode = strings.ToLower(strings.TrimSpace(c.Assembly.SaveMode))
	if c.Assembly.SaveMode == "" {
		c.Assembly.SaveMode = defaultSaveMode
	}
	c.Assembly.RobotType = strings.TrimSpace(c.Assembly.RobotType)
	c.normalizeCaption()
	c.normalizeLogging()
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyTimeout
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.SourceDir, err = expandPath(strings.TrimSpace(c.Paths.SourceDir)); err != nil {
		return fmt.Errorf("paths.source_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeCaption() {
	c.Caption.Provider = strings.ToLower(strings.TrimSpace(c.Caption.Provider))
	if c.Caption.Provider == "" {
		c.Caption.Provider = defaultCaptionProvider
	}
	c.Caption.APIKey = strings.TrimSpace(c.Caption.APIKey)
	c.Caption.BaseURL = strings.TrimSpace(c.Caption.BaseURL)
	c.Caption.APIVersion = strings.TrimSpace(c.Caption.APIVersion)
	c.Caption.Model = strings.TrimSpace(c.Caption.Model)

	defaults, ok := providerDefaults[c.Caption.Provider]
	if !ok {
		return
	}
	if c.Caption.APIKey == "" {
		for _, env := range []string{"DATADEALER_API_KEY", defaults.EnvKey} {
			if value, ok := os.LookupEnv(env); ok && strings.TrimSpace(value) != "" {
				c.Caption.APIKey = strings.TrimSpace(value)
				break
			}
		}
	}
	if c.Caption.Provider == ProviderGPT && c.Caption.APIVersion != "" && c.Caption.APIKey == "" {
		if value, ok := os.LookupEnv("AZURE_OPENAI_API_KEY"); ok {
			c.Caption.APIKey = strings.TrimSpace(value)
		}
	}
	if c.Caption.BaseURL == "" {
		c.Caption.BaseURL = defaults.BaseURL
	}
	if c.Caption.Model == "" {
		c.Caption.Model = defaults.Model
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
