package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const watcherYAMLv1 = `
server:
  log_level: info
agent:
  display_name: "Jenny"
`

const watcherYAMLv2 = `
server:
  log_level: debug
agent:
  display_name: "Jenny"
`

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcherDetectsChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, watcherYAMLv1)

	var mu sync.Mutex
	var gotNew *Config
	changed := make(chan struct{})

	w, err := NewWatcher(path, func(old, newCfg *Config) {
		mu.Lock()
		gotNew = newCfg
		mu.Unlock()
		close(changed)
	}, WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if w.Current().Server.LogLevel != LogInfo {
		t.Fatalf("initial log level = %q, want info", w.Current().Server.LogLevel)
	}

	// Ensure a different mtime even on coarse filesystems.
	time.Sleep(30 * time.Millisecond)
	writeConfig(t, path, watcherYAMLv2)

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never reported the change")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotNew.Server.LogLevel != LogDebug {
		t.Fatalf("reloaded log level = %q, want debug", gotNew.Server.LogLevel)
	}
}

func TestWatcherKeepsOldConfigOnInvalidEdit(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, watcherYAMLv1)

	w, err := NewWatcher(path, func(old, newCfg *Config) {
		t.Error("callback fired for an invalid config")
	}, WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	time.Sleep(30 * time.Millisecond)
	writeConfig(t, path, "server:\n  log_level: loud\nagent:\n  display_name: \"\"\n")

	// Give the watcher a few polls to (not) react.
	time.Sleep(150 * time.Millisecond)

	if w.Current().Server.LogLevel != LogInfo {
		t.Fatalf("current config changed despite invalid edit: %q", w.Current().Server.LogLevel)
	}
}
