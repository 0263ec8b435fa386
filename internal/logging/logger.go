// Package logging provides categorized logging for formdeploy.
//
// Every call goes to the console logger installed with SetConsole. When
// debug mode is on, each category additionally gets its own file under
// <state_dir>/logs/. Debug mode follows the debugMode option and can be
// toggled at runtime with SetDebugMode.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot        Category = "boot"        // Startup and shutdown
	CategoryCoordinator Category = "coordinator" // Deployment context and routing
	CategoryRelay       Category = "relay"       // Message delivery between contexts
	CategoryBrowser     Category = "browser"     // Browser connection, tabs, script attachment
	CategoryAgent       Category = "agent"       // Platform page automation
	CategoryWatcher     Category = "watcher"     // Deployment success detection
	CategoryBridge      Category = "bridge"      // Spreadsheet macro calls
	CategoryServer      Category = "server"      // HTTP API
	CategoryConfig      Category = "config"      // Config and options loading
)

// Categories lists every known category.
var Categories = []Category{
	CategoryBoot, CategoryCoordinator, CategoryRelay, CategoryBrowser,
	CategoryAgent, CategoryWatcher, CategoryBridge, CategoryServer, CategoryConfig,
}

// Settings mirrors config.LoggingConfig to avoid circular imports.
type Settings struct {
	DebugMode  bool
	Level      string
	JSONFormat bool
	Categories map[string]bool
}

// Logger writes to the console logger and, in debug mode, to a category file.
type Logger struct {
	category Category
	file     *zap.SugaredLogger
	closer   *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex

	settings   Settings
	logsDir    string
	settingsMu sync.RWMutex

	console   = zap.NewNop()
	consoleMu sync.RWMutex
)

// Initialize sets up the logs directory under stateDir. Files are only
// created when s.DebugMode is true.
func Initialize(stateDir string, s Settings) error {
	if stateDir == "" {
		return fmt.Errorf("state directory required")
	}

	settingsMu.Lock()
	settings = s
	logsDir = filepath.Join(stateDir, "logs")
	settingsMu.Unlock()
	CloseAll()

	if !s.DebugMode {
		return nil
	}
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== formdeploy logging initialized ===")
	boot.Info("Logs directory: %s", logsDir)
	boot.Info("Log level: %s", levelName(s.Level))
	return nil
}

// SetConsole installs the logger every category mirrors to.
func SetConsole(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	consoleMu.Lock()
	console = l
	consoleMu.Unlock()
}

// SetDebugMode turns category files on or off at runtime.
func SetDebugMode(enabled bool) {
	settingsMu.Lock()
	changed := settings.DebugMode != enabled
	settings.DebugMode = enabled
	dir := logsDir
	settingsMu.Unlock()

	if !changed {
		return
	}
	CloseAll()
	if enabled && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "[logging] Warning: could not create %s: %v\n", dir, err)
			return
		}
		Get(CategoryBoot).Info("Debug mode enabled")
	}
}

// IsDebugMode returns whether category files are written.
func IsDebugMode() bool {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settings.DebugMode
}

// IsCategoryEnabled returns whether a category writes its file.
// An empty category filter enables everything.
func IsCategoryEnabled(category Category) bool {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	if !settings.DebugMode {
		return false
	}
	if len(settings.Categories) == 0 {
		return true
	}
	enabled, ok := settings.Categories[string(category)]
	return !ok || enabled
}

// Get returns (or creates) a logger for the given category.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	settingsMu.RLock()
	dir, s := logsDir, settings
	settingsMu.RUnlock()
	if dir == "" {
		return &Logger{category: category}
	}

	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(dir, fmt.Sprintf("%s_%s.log", date, category))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if s.JSONFormat {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(file), parseLevel(s.Level))

	l := &Logger{
		category: category,
		file:     zap.New(core).Named(string(category)).Sugar(),
		closer:   file,
	}
	loggers[category] = l
	return l
}

func (l *Logger) consoleLogger() *zap.SugaredLogger {
	consoleMu.RLock()
	defer consoleMu.RUnlock()
	return console.Sugar().With("category", string(l.category))
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.consoleLogger().Debugf(format, args...)
	if l.file != nil {
		l.file.Debugf(format, args...)
	}
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.consoleLogger().Infof(format, args...)
	if l.file != nil {
		l.file.Infof(format, args...)
	}
}

// Warn logs a warning.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.consoleLogger().Warnf(format, args...)
	if l.file != nil {
		l.file.Warnf(format, args...)
	}
}

// Error logs an error.
func (l *Logger) Error(format string, args ...interface{}) {
	l.consoleLogger().Errorf(format, args...)
	if l.file != nil {
		l.file.Errorf(format, args...)
	}
}

// WithContext returns a context logger for structured logging. The
// category logger is looked up on every call, so the result stays valid
// across debug-mode changes.
func (l *Logger) WithContext(ctx map[string]interface{}) *ContextLogger {
	fields := make([]interface{}, 0, len(ctx)*2)
	for k, v := range ctx {
		fields = append(fields, k, v)
	}
	return &ContextLogger{category: l.category, fields: fields}
}

// ForTab returns a context logger tagging every entry with the tab ID.
func ForTab(category Category, tab string) *ContextLogger {
	return Get(category).WithContext(map[string]interface{}{"tab": tab})
}

// ContextLogger attaches key-value fields to every entry.
type ContextLogger struct {
	category Category
	fields   []interface{}
}

func (c *ContextLogger) log(level zapcore.Level, format string, args ...interface{}) {
	l := Get(c.category)
	msg := fmt.Sprintf(format, args...)
	targets := []*zap.SugaredLogger{l.consoleLogger()}
	if l.file != nil {
		targets = append(targets, l.file)
	}
	for _, t := range targets {
		switch level {
		case zapcore.DebugLevel:
			t.Debugw(msg, c.fields...)
		case zapcore.InfoLevel:
			t.Infow(msg, c.fields...)
		case zapcore.WarnLevel:
			t.Warnw(msg, c.fields...)
		default:
			t.Errorw(msg, c.fields...)
		}
	}
}

func (c *ContextLogger) Debug(format string, args ...interface{}) {
	c.log(zapcore.DebugLevel, format, args...)
}

func (c *ContextLogger) Info(format string, args ...interface{}) {
	c.log(zapcore.InfoLevel, format, args...)
}

func (c *ContextLogger) Warn(format string, args ...interface{}) {
	c.log(zapcore.WarnLevel, format, args...)
}

func (c *ContextLogger) Error(format string, args ...interface{}) {
	c.log(zapcore.ErrorLevel, format, args...)
}

// CloseAll flushes and closes all open log files (call at shutdown)
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.file != nil {
			_ = l.file.Sync()
		}
		if l.closer != nil {
			l.closer.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func levelName(level string) string {
	return parseLevel(level).String()
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// BootDebug logs debug to the boot category
func BootDebug(format string, args ...interface{}) {
	Get(CategoryBoot).Debug(format, args...)
}

// BootWarn logs warning to the boot category
func BootWarn(format string, args ...interface{}) {
	Get(CategoryBoot).Warn(format, args...)
}

// BootError logs error to the boot category
func BootError(format string, args ...interface{}) {
	Get(CategoryBoot).Error(format, args...)
}

// Coordinator logs to the coordinator category
func Coordinator(format string, args ...interface{}) {
	Get(CategoryCoordinator).Info(format, args...)
}

// CoordinatorDebug logs debug to the coordinator category
func CoordinatorDebug(format string, args ...interface{}) {
	Get(CategoryCoordinator).Debug(format, args...)
}

// CoordinatorWarn logs warning to the coordinator category
func CoordinatorWarn(format string, args ...interface{}) {
	Get(CategoryCoordinator).Warn(format, args...)
}

// CoordinatorError logs error to the coordinator category
func CoordinatorError(format string, args ...interface{}) {
	Get(CategoryCoordinator).Error(format, args...)
}

// Relay logs to the relay category
func Relay(format string, args ...interface{}) {
	Get(CategoryRelay).Info(format, args...)
}

// RelayDebug logs debug to the relay category
func RelayDebug(format string, args ...interface{}) {
	Get(CategoryRelay).Debug(format, args...)
}

// RelayWarn logs warning to the relay category
func RelayWarn(format string, args ...interface{}) {
	Get(CategoryRelay).Warn(format, args...)
}

// RelayError logs error to the relay category
func RelayError(format string, args ...interface{}) {
	Get(CategoryRelay).Error(format, args...)
}

// Browser logs to the browser category
func Browser(format string, args ...interface{}) {
	Get(CategoryBrowser).Info(format, args...)
}

// BrowserDebug logs debug to the browser category
func BrowserDebug(format string, args ...interface{}) {
	Get(CategoryBrowser).Debug(format, args...)
}

// BrowserWarn logs warning to the browser category
func BrowserWarn(format string, args ...interface{}) {
	Get(CategoryBrowser).Warn(format, args...)
}

// BrowserError logs error to the browser category
func BrowserError(format string, args ...interface{}) {
	Get(CategoryBrowser).Error(format, args...)
}

// Agent logs to the agent category
func Agent(format string, args ...interface{}) {
	Get(CategoryAgent).Info(format, args...)
}

// AgentDebug logs debug to the agent category
func AgentDebug(format string, args ...interface{}) {
	Get(CategoryAgent).Debug(format, args...)
}

// AgentWarn logs warning to the agent category
func AgentWarn(format string, args ...interface{}) {
	Get(CategoryAgent).Warn(format, args...)
}

// AgentError logs error to the agent category
func AgentError(format string, args ...interface{}) {
	Get(CategoryAgent).Error(format, args...)
}

// Watcher logs to the watcher category
func Watcher(format string, args ...interface{}) {
	Get(CategoryWatcher).Info(format, args...)
}

// WatcherDebug logs debug to the watcher category
func WatcherDebug(format string, args ...interface{}) {
	Get(CategoryWatcher).Debug(format, args...)
}

// WatcherWarn logs warning to the watcher category
func WatcherWarn(format string, args ...interface{}) {
	Get(CategoryWatcher).Warn(format, args...)
}

// WatcherError logs error to the watcher category
func WatcherError(format string, args ...interface{}) {
	Get(CategoryWatcher).Error(format, args...)
}

// Bridge logs to the bridge category
func Bridge(format string, args ...interface{}) {
	Get(CategoryBridge).Info(format, args...)
}

// BridgeDebug logs debug to the bridge category
func BridgeDebug(format string, args ...interface{}) {
	Get(CategoryBridge).Debug(format, args...)
}

// BridgeWarn logs warning to the bridge category
func BridgeWarn(format string, args ...interface{}) {
	Get(CategoryBridge).Warn(format, args...)
}

// BridgeError logs error to the bridge category
func BridgeError(format string, args ...interface{}) {
	Get(CategoryBridge).Error(format, args...)
}

// Server logs to the server category
func Server(format string, args ...interface{}) {
	Get(CategoryServer).Info(format, args...)
}

// ServerDebug logs debug to the server category
func ServerDebug(format string, args ...interface{}) {
	Get(CategoryServer).Debug(format, args...)
}

// ServerWarn logs warning to the server category
func ServerWarn(format string, args ...interface{}) {
	Get(CategoryServer).Warn(format, args...)
}

// ServerError logs error to the server category
func ServerError(format string, args ...interface{}) {
	Get(CategoryServer).Error(format, args...)
}

// Config logs to the config category
func Config(format string, args ...interface{}) {
	Get(CategoryConfig).Info(format, args...)
}

// ConfigDebug logs debug to the config category
func ConfigDebug(format string, args ...interface{}) {
	Get(CategoryConfig).Debug(format, args...)
}

// ConfigWarn logs warning to the config category
func ConfigWarn(format string, args ...interface{}) {
	Get(CategoryConfig).Warn(format, args...)
}
