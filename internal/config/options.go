package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"formdeploy/internal/agent"
)

// DefaultUploadTimeout is the dialog wait, in seconds, used when the stored
// value is missing or below one.
const DefaultUploadTimeout = 30

// Options is the user-editable record shared by every component.
type Options struct {
	AutoSubmit    bool `json:"autoSubmit"`
	UploadTimeout int  `json:"uploadTimeout"`
	DebugMode     bool `json:"debugMode"`
}

// DefaultOptions returns the options written on first run.
func DefaultOptions() Options {
	return Options{AutoSubmit: true, UploadTimeout: DefaultUploadTimeout}
}

// Normalize replaces out-of-range values with defaults.
func (o Options) Normalize() Options {
	if o.UploadTimeout < 1 {
		o.UploadTimeout = DefaultUploadTimeout
	}
	return o
}

// Agent converts the options into the upload agent's run options.
func (o Options) Agent() agent.Options {
	o = o.Normalize()
	return agent.Options{
		AutoSubmit:    o.AutoSubmit,
		UploadTimeout: time.Duration(o.UploadTimeout) * time.Second,
	}
}

// LoadOptions reads options from path. Missing keys keep their defaults and
// a missing file yields DefaultOptions.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return opts, nil
		}
		return opts, fmt.Errorf("failed to read options: %w", err)
	}
	if err := json.Unmarshal(data, &opts); err != nil {
		return DefaultOptions(), fmt.Errorf("failed to parse options: %w", err)
	}
	return opts.Normalize(), nil
}

// Save writes the options as JSON, replacing the file atomically.
func (o Options) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create options directory: %w", err)
	}

	data, err := json.MarshalIndent(o.Normalize(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".options-*.json")
	if err != nil {
		return fmt.Errorf("failed to write options: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write options: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write options: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace options: %w", err)
	}
	return nil
}

// ResetOptions writes and returns the defaults.
func ResetOptions(path string) (Options, error) {
	opts := DefaultOptions()
	return opts, opts.Save(path)
}

// EnsureOptions writes the defaults when no options file exists yet and
// reports whether it did.
func EnsureOptions(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat options: %w", err)
	}
	if _, err := ResetOptions(path); err != nil {
		return false, err
	}
	return true, nil
}
