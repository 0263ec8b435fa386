package browser

import "time"

// Config holds browser configuration.
type Config struct {
	// DebuggerURL connects to an already running Chrome instead of launching one.
	DebuggerURL string `yaml:"debugger_url" json:"debugger_url"`
	// Launch is the binary followed by extra flags, e.g. ["/usr/bin/chromium", "--no-sandbox"].
	Launch   []string `yaml:"launch" json:"launch"`
	Headless bool     `yaml:"headless" json:"headless"`
	// UserDataDir keeps the profile (and therefore platform and spreadsheet
	// logins) between runs.
	UserDataDir         string `yaml:"user_data_dir" json:"user_data_dir"`
	ViewportWidth       int    `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight      int    `yaml:"viewport_height" json:"viewport_height"`
	NavigationTimeoutMs int    `yaml:"navigation_timeout_ms" json:"navigation_timeout_ms"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:            false,
		ViewportWidth:       1440,
		ViewportHeight:      900,
		NavigationTimeoutMs: 30000,
	}
}

// GetViewportWidth returns viewport width.
func (c Config) GetViewportWidth() int {
	if c.ViewportWidth == 0 {
		return 1440
	}
	return c.ViewportWidth
}

// GetViewportHeight returns viewport height.
func (c Config) GetViewportHeight() int {
	if c.ViewportHeight == 0 {
		return 900
	}
	return c.ViewportHeight
}

// NavigationTimeout returns the navigation timeout.
func (c Config) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}
