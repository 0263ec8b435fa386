package config

import (
	"fmt"
	"strings"

	"formdeploy/internal/logging"
)

// LoggingConfig configures logging. Whether category files are written is
// governed by the persisted debugMode option, not by this file.
type LoggingConfig struct {
	Level      string          `yaml:"level" json:"level,omitempty"`           // debug, info, warn, error
	Format     string          `yaml:"format" json:"format,omitempty"`         // json, text
	Categories map[string]bool `yaml:"categories" json:"categories,omitempty"` // Per-category toggles
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Categories not listed are enabled.
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if c.Categories == nil {
		return true
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true
	}
	return enabled
}

// Validate checks the level and format names.
func (c *LoggingConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", c.Level)
	}
	switch strings.ToLower(c.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid logging.format %q", c.Format)
	}
	for name := range c.Categories {
		if !isKnownCategory(name) {
			return fmt.Errorf("unknown logging category %q", name)
		}
	}
	return nil
}

func isKnownCategory(name string) bool {
	for _, c := range logging.Categories {
		if string(c) == name {
			return true
		}
	}
	return false
}

// Settings converts the section into logger settings.
func (c *LoggingConfig) Settings(debugMode bool) logging.Settings {
	return logging.Settings{
		DebugMode:  debugMode,
		Level:      strings.ToLower(c.Level),
		JSONFormat: strings.EqualFold(c.Format, "json"),
		Categories: c.Categories,
	}
}
