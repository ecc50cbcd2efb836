package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxlink/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
  echo: false
audio:
  jitter_capacity: 16
`

const watcherUpdatedYAML = `
server:
  log_level: debug
  echo: true
audio:
  jitter_capacity: 32
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

func newWatcher(t *testing.T, content string, onChange func(old, new *config.Config)) (*config.Watcher, string) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "voxlink.yaml")
	writeFile(t, cfgPath, content)
	w, err := config.NewWatcher(cfgPath, onChange, config.WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, cfgPath
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := newWatcher(t, watcherValidYAML, nil)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Audio.FrameSamples != 4096 {
		t.Errorf("defaults not applied: frame_samples = %d", cfg.Audio.FrameSamples)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var callbackOld, callbackNew *config.Config
	called := make(chan struct{}, 1)

	w, cfgPath := newWatcher(t, watcherValidYAML, func(old, new *config.Config) {
		mu.Lock()
		callbackOld, callbackNew = old, new
		mu.Unlock()
		select {
		case called <- struct{}{}:
		default:
		}
	})

	writeFile(t, cfgPath, watcherUpdatedYAML)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	if callbackOld.Server.LogLevel != config.LogInfo {
		t.Errorf("old log_level: got %q, want %q", callbackOld.Server.LogLevel, config.LogInfo)
	}
	if callbackNew.Server.LogLevel != config.LogDebug || !callbackNew.Server.Echo {
		t.Errorf("new config not applied: %+v", callbackNew.Server)
	}
	d := config.Diff(callbackOld, callbackNew)
	if !d.LogLevelChanged || !d.EchoChanged || !d.JitterChanged {
		t.Errorf("Diff missed hot-reloadable changes: %+v", d)
	}
	if cur := w.Current(); cur.Audio.JitterCapacity != 32 {
		t.Errorf("Current() jitter_capacity: got %d, want 32", cur.Audio.JitterCapacity)
	}
}

func TestWatcher_ReplacedFile(t *testing.T) {
	t.Parallel()
	called := make(chan *config.Config, 1)
	_, cfgPath := newWatcher(t, watcherValidYAML, func(_, new *config.Config) {
		select {
		case called <- new:
		default:
		}
	})

	// Editors often write a temp file and rename it over the original.
	tmp := cfgPath + ".tmp"
	writeFile(t, tmp, watcherUpdatedYAML)
	if err := os.Rename(tmp, cfgPath); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-called:
		if cfg.Server.LogLevel != config.LogDebug {
			t.Errorf("log_level: got %q, want debug", cfg.Server.LogLevel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked after rename")
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	var calls int
	var mu sync.Mutex
	w, cfgPath := newWatcher(t, watcherValidYAML, func(_, _ *config.Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	writeFile(t, cfgPath, watcherInvalidYAML)
	time.Sleep(200 * time.Millisecond)

	if cfg := w.Current(); cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("config replaced by invalid file: log_level %q", cfg.Server.LogLevel)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("onChange called %d times for an invalid file", calls)
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	t.Parallel()
	called := make(chan struct{}, 1)
	_, cfgPath := newWatcher(t, watcherValidYAML, func(_, _ *config.Config) {
		called <- struct{}{}
	})

	writeFile(t, filepath.Join(filepath.Dir(cfgPath), "other.yaml"), watcherUpdatedYAML)

	select {
	case <-called:
		t.Fatal("onChange fired for an unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	_, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	w, _ := newWatcher(t, watcherValidYAML, nil)
	w.Stop()
	w.Stop()
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	called := make(chan struct{}, 1)
	_, cfgPath := newWatcher(t, watcherValidYAML, func(_, _ *config.Config) {
		called <- struct{}{}
	})

	writeFile(t, cfgPath, watcherValidYAML)

	select {
	case <-called:
		t.Fatal("onChange fired although content is identical")
	case <-time.After(200 * time.Millisecond):
	}
}
