package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func readCategoryLog(t *testing.T, dir string, cat Category) string {
	t.Helper()
	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(dir, "logs", date+"_"+string(cat)+".log"))
	if err != nil {
		t.Fatalf("Failed to read %s log: %v", cat, err)
	}
	return string(data)
}

// TestAllCategoriesLog tests that all categories create log files when debug mode is on
func TestAllCategoriesLog(t *testing.T) {
	dir := t.TempDir()
	if err := Initialize(dir, Settings{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	for _, cat := range Categories {
		Get(cat).Info("hello from %s", cat)
	}
	CloseAll()

	for _, cat := range Categories {
		content := readCategoryLog(t, dir, cat)
		if !strings.Contains(content, "hello from "+string(cat)) {
			t.Errorf("category %s: expected message in log, got %q", cat, content)
		}
	}
}

func TestProductionModeWritesNoFiles(t *testing.T) {
	dir := t.TempDir()
	if err := Initialize(dir, Settings{DebugMode: false}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	Agent("should not be written")
	if _, err := os.Stat(filepath.Join(dir, "logs")); !os.IsNotExist(err) {
		t.Fatalf("expected no logs directory, stat err = %v", err)
	}
}

func TestCategoryFilter(t *testing.T) {
	dir := t.TempDir()
	err := Initialize(dir, Settings{
		DebugMode:  true,
		Categories: map[string]bool{"agent": true, "watcher": false},
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	if !IsCategoryEnabled(CategoryAgent) {
		t.Error("agent should be enabled")
	}
	if IsCategoryEnabled(CategoryWatcher) {
		t.Error("watcher should be disabled")
	}
	if !IsCategoryEnabled(CategoryBridge) {
		t.Error("categories missing from the filter default to enabled")
	}
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	if err := Initialize(dir, Settings{DebugMode: true, Level: "warn"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	RelayDebug("debug line")
	Relay("info line")
	RelayWarn("warn line")
	CloseAll()

	content := readCategoryLog(t, dir, CategoryRelay)
	if strings.Contains(content, "debug line") || strings.Contains(content, "info line") {
		t.Errorf("lines below warn should be filtered: %q", content)
	}
	if !strings.Contains(content, "warn line") {
		t.Errorf("warn line missing: %q", content)
	}
}

func TestSetDebugModeToggle(t *testing.T) {
	dir := t.TempDir()
	if err := Initialize(dir, Settings{DebugMode: false}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	SetDebugMode(true)
	if !IsDebugMode() {
		t.Fatal("debug mode should be on")
	}
	Bridge("now recorded")
	CloseAll()
	if !strings.Contains(readCategoryLog(t, dir, CategoryBridge), "now recorded") {
		t.Error("expected bridge log after enabling debug mode")
	}

	SetDebugMode(false)
	if IsCategoryEnabled(CategoryBridge) {
		t.Error("categories should be disabled with debug mode off")
	}
}

func TestConsoleMirror(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetConsole(zap.New(core))
	defer SetConsole(nil)

	CoordinatorWarn("tab %s closed", "t1")
	Get(CategoryAgent).WithContext(map[string]interface{}{"tab": "t2"}).Info("step %d", 3)

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 console entries, got %d", len(entries))
	}
	if entries[0].Message != "tab t1 closed" || entries[0].Level != zapcore.WarnLevel {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[0].ContextMap()["category"] != "coordinator" {
		t.Errorf("missing category field: %v", entries[0].ContextMap())
	}
	if entries[1].ContextMap()["tab"] != "t2" {
		t.Errorf("missing context field: %v", entries[1].ContextMap())
	}
}

func TestTabLoggerFollowsDebugMode(t *testing.T) {
	dir := t.TempDir()
	if err := Initialize(dir, Settings{DebugMode: false}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	log := ForTab(CategoryWatcher, "tab-9")
	log.Info("before debug")
	SetDebugMode(true)
	log.Info("after debug")
	CloseAll()

	content := readCategoryLog(t, dir, CategoryWatcher)
	if strings.Contains(content, "before debug") {
		t.Errorf("entry written while debug mode was off: %q", content)
	}
	if !strings.Contains(content, "after debug") || !strings.Contains(content, "tab-9") {
		t.Errorf("expected tab-tagged entry, got %q", content)
	}
	SetDebugMode(false)
}

// TestConcurrentLogging exercises Get from many goroutines.
func TestConcurrentLogging(t *testing.T) {
	dir := t.TempDir()
	if err := Initialize(dir, Settings{DebugMode: true}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			Watcher("line %d", n)
		}(i)
	}
	wg.Wait()
}

func TestInitializeRequiresDir(t *testing.T) {
	if err := Initialize("", Settings{}); err == nil {
		t.Fatal("expected error for empty state dir")
	}
}
