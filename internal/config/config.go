package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"formdeploy/internal/agent"
	"formdeploy/internal/browser"
	"formdeploy/internal/coordinator"
	"formdeploy/internal/watcher"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is the config file looked up in the working directory.
const DefaultFileName = "formdeploy.yaml"

// Config holds all formdeploy configuration.
type Config struct {
	// StateDir holds options, logs and the browser profile.
	StateDir string `yaml:"state_dir"`
	// OptionsPath overrides <state_dir>/options.json.
	OptionsPath string `yaml:"options_path"`

	Server   ServerConfig   `yaml:"server"`
	Browser  browser.Config `yaml:"browser"`
	Platform PlatformConfig `yaml:"platform"`
	Sheets   SheetsConfig   `yaml:"sheets"`
	Timing   TimingConfig   `yaml:"timing"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the trigger/status HTTP API.
type ServerConfig struct {
	Listen         string   `yaml:"listen"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// RateLimit is requests per second on /api/messages; 0 disables it.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
	BodyLimit string  `yaml:"body_limit"`
}

// PlatformConfig describes the form platform.
type PlatformConfig struct {
	DefaultServer  string           `yaml:"default_server"`
	DesignPath     string           `yaml:"design_path"`
	Match          string           `yaml:"match"`
	DialogSelector string           `yaml:"dialog_selector"`
	SuccessPhrases []string         `yaml:"success_phrases"`
	Heuristics     HeuristicsConfig `yaml:"heuristics"`
}

// HeuristicsConfig overrides the platform control heuristics. Empty fields
// keep the built-in values.
type HeuristicsConfig struct {
	Clickable           string   `yaml:"clickable,omitempty"`
	MenuItems           string   `yaml:"menu_items,omitempty"`
	Dialog              string   `yaml:"dialog,omitempty"`
	FileInput           string   `yaml:"file_input,omitempty"`
	Toggle              string   `yaml:"toggle,omitempty"`
	LocalSourceSelector string   `yaml:"local_source_selector,omitempty"`
	AddFormExact        []string `yaml:"add_form_exact,omitempty"`
	AddFormContains     []string `yaml:"add_form_contains,omitempty"`
	UploadOption        []string `yaml:"upload_option,omitempty"`
	LocalSource         []string `yaml:"local_source,omitempty"`
	PrimaryInputHints   []string `yaml:"primary_input_hints,omitempty"`
	AttachToggle        []string `yaml:"attach_toggle,omitempty"`
	SubmitExact         []string `yaml:"submit_exact,omitempty"`
}

// SheetsConfig describes the logging spreadsheet.
type SheetsConfig struct {
	Pattern     string `yaml:"pattern"`
	CallTimeout string `yaml:"call_timeout"`
}

// TimingConfig holds the waits of the upload and watch sequences.
type TimingConfig struct {
	ReadyPollInterval string `yaml:"ready_poll_interval"`
	ReadyTimeout      string `yaml:"ready_timeout"`
	StepTimeout       string `yaml:"step_timeout"`
	SettleDelay       string `yaml:"settle_delay"`
	RelayTimeout      string `yaml:"relay_timeout"`
	TabWait           string `yaml:"tab_wait"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	b := browser.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Listen:         "127.0.0.1:8765",
			AllowedOrigins: []string{"https://docs.google.com", "https://*.googleusercontent.com"},
			RateLimit:      5,
			RateBurst:      10,
			BodyLimit:      "50M",
		},
		Browser: b,
		Platform: PlatformConfig{
			DefaultServer:  "pspsicm.surveycto.com",
			DesignPath:     "/main.html#Design",
			Match:          "https://*.surveycto.com/*",
			DialogSelector: `[role="dialog"]`,
			SuccessPhrases: []string{"Form uploaded"},
		},
		Sheets: SheetsConfig{
			Pattern:     "*://docs.google.com/spreadsheets/*",
			CallTimeout: "30s",
		},
		Timing: TimingConfig{
			ReadyPollInterval: "500ms",
			ReadyTimeout:      "15s",
			StepTimeout:       "10s",
			SettleDelay:       "500ms",
			RelayTimeout:      "30s",
			TabWait:           "5s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FORMDEPLOY_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("FORMDEPLOY_DEBUGGER_URL"); v != "" {
		c.Browser.DebuggerURL = v
	}
	if v := os.Getenv("FORMDEPLOY_SERVER"); v != "" {
		c.Platform.DefaultServer = v
	}
	if v := os.Getenv("FORMDEPLOY_STATE_DIR"); v != "" {
		c.StateDir = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		return fmt.Errorf("invalid server.listen %q: %w", c.Server.Listen, err)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	if strings.TrimSpace(c.Platform.DefaultServer) == "" {
		return fmt.Errorf("platform.default_server is required")
	}
	if strings.Contains(c.Platform.DefaultServer, "/") {
		return fmt.Errorf("platform.default_server must be a host name, got %q", c.Platform.DefaultServer)
	}
	for name, pattern := range map[string]string{"platform.match": c.Platform.Match, "sheets.pattern": c.Sheets.Pattern} {
		if _, err := browser.ParseMatchPattern(pattern); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	for name, v := range map[string]string{
		"timing.ready_poll_interval": c.Timing.ReadyPollInterval,
		"timing.ready_timeout":       c.Timing.ReadyTimeout,
		"timing.step_timeout":        c.Timing.StepTimeout,
		"timing.settle_delay":        c.Timing.SettleDelay,
		"timing.relay_timeout":       c.Timing.RelayTimeout,
		"timing.tab_wait":            c.Timing.TabWait,
		"sheets.call_timeout":        c.Sheets.CallTimeout,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return c.Logging.Validate()
}

func duration(v string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetStateDir returns the state directory, defaulting to ~/.formdeploy.
func (c *Config) GetStateDir() string {
	if c.StateDir != "" {
		return c.StateDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".formdeploy"
	}
	return filepath.Join(home, ".formdeploy")
}

// GetOptionsPath returns where the persisted options live.
func (c *Config) GetOptionsPath() string {
	if c.OptionsPath != "" {
		return c.OptionsPath
	}
	return filepath.Join(c.GetStateDir(), "options.json")
}

// GetRelayTimeout returns the request timeout of the relay.
func (c *Config) GetRelayTimeout() time.Duration {
	return duration(c.Timing.RelayTimeout, 30*time.Second)
}

// GetSheetTimeout returns the timeout of one spreadsheet macro call.
func (c *Config) GetSheetTimeout() time.Duration {
	return duration(c.Sheets.CallTimeout, 30*time.Second)
}

// BrowserConfig returns the browser settings with the profile defaulted
// into the state directory.
func (c *Config) BrowserConfig() browser.Config {
	b := c.Browser
	if b.UserDataDir == "" && b.DebuggerURL == "" {
		b.UserDataDir = filepath.Join(c.GetStateDir(), "profile")
	}
	return b
}

// CoordinatorSettings maps the config onto the coordinator.
func (c *Config) CoordinatorSettings() coordinator.Settings {
	s := coordinator.DefaultSettings()
	if c.Platform.DefaultServer != "" {
		s.DefaultServer = c.Platform.DefaultServer
	}
	if c.Platform.DesignPath != "" {
		s.DesignPath = c.Platform.DesignPath
	}
	if c.Sheets.Pattern != "" {
		s.SheetsPattern = c.Sheets.Pattern
	}
	s.TabWait = duration(c.Timing.TabWait, s.TabWait)
	s.SheetTimeout = c.GetSheetTimeout()
	return s
}

// AgentTiming maps the timing section onto the upload agent.
func (c *Config) AgentTiming() agent.Timing {
	t := agent.DefaultTiming()
	t.ReadyPoll = duration(c.Timing.ReadyPollInterval, t.ReadyPoll)
	t.ReadyTimeout = duration(c.Timing.ReadyTimeout, t.ReadyTimeout)
	t.StepTimeout = duration(c.Timing.StepTimeout, t.StepTimeout)
	return t
}

// AgentHeuristics merges configured overrides into the built-in heuristics.
func (c *Config) AgentHeuristics() agent.Heuristics {
	h := agent.DefaultHeuristics()
	o := c.Platform.Heuristics
	str := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	list := func(dst *[]string, v []string) {
		if len(v) > 0 {
			*dst = v
		}
	}
	str(&h.Clickable, o.Clickable)
	str(&h.MenuItems, o.MenuItems)
	str(&h.Dialog, o.Dialog)
	str(&h.FileInput, o.FileInput)
	str(&h.Toggle, o.Toggle)
	str(&h.LocalSourceSelector, o.LocalSourceSelector)
	list(&h.AddFormExact, o.AddFormExact)
	list(&h.AddFormContains, o.AddFormContains)
	list(&h.UploadOption, o.UploadOption)
	list(&h.LocalSource, o.LocalSource)
	list(&h.PrimaryInputHints, o.PrimaryInputHints)
	list(&h.AttachToggle, o.AttachToggle)
	list(&h.SubmitExact, o.SubmitExact)
	return h
}

// WatcherTiming maps the settle delay onto the success watcher.
func (c *Config) WatcherTiming() watcher.Timing {
	t := watcher.DefaultTiming()
	t.Settle = duration(c.Timing.SettleDelay, t.Settle)
	return t
}

// WatcherSettings returns how the success dialog is recognised.
func (c *Config) WatcherSettings() watcher.Settings {
	s := watcher.DefaultSettings()
	if c.Platform.DialogSelector != "" {
		s.DialogSelector = c.Platform.DialogSelector
	}
	if len(c.Platform.SuccessPhrases) > 0 {
		s.SuccessPhrases = c.Platform.SuccessPhrases
	}
	return s
}
