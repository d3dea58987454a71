package main

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/dongyingyibadao/data-dealer-auto/internal/config"
	"github.com/dongyingyibadao/data-dealer-auto/internal/logging"
	"github.com/dongyingyibadao/data-dealer-auto/internal/services"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "config", "load", resolved, err)
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

// logger builds the console+file logger for commands that do real work and
// prunes log files older than the configured retention.
func (c *commandContext) logger(cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "config", "logging", "", err)
	}
	if dir := strings.TrimSpace(cfg.Paths.LogDir); dir != "" {
		logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, logging.RetentionTarget{
			Dir:     dir,
			Pattern: "datadealer-*.log",
		})
	}
	return logger, nil
}

// applyOverrides finalizes cfg after flag overrides.
func applyOverrides(cfg *config.Config) error {
	if err := cfg.Finalize(); err != nil {
		return services.Wrap(services.ErrConfiguration, "config", "flags", "", err)
	}
	return nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func expandFlagPath(value string) (string, error) {
	expanded, err := config.ExpandPath(strings.TrimSpace(value))
	if err != nil {
		return "", err
	}
	return filepath.Clean(expanded), nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
