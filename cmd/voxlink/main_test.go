package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/voxlink/internal/config"
)

// execute runs the root command with args and returns its output. The
// commands install a global logger, so these tests do not run in parallel.
func execute(t *testing.T, g *globals, args ...string) (string, error) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	root := newRootCmd(g)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
	err := root.Execute()
	return out.String(), err
}

func TestRecordingsList_EmptyMemoryStore(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, &globals{}, "recordings", "list", "--config", writeConfig(t, dir, "recording:\n  store: memory\n"))
	if err != nil {
		t.Fatalf("recordings list: %v", err)
	}
	if !strings.HasPrefix(out, "ID") {
		t.Errorf("output = %q, want a table header", out)
	}
}

func TestExport_UnknownRecording(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, &globals{}, "export", "nope", "--out", filepath.Join(dir, "x.wav"),
		"--config", writeConfig(t, dir, ""))
	if err == nil || !strings.Contains(err.Error(), "nope") {
		t.Errorf("export = %v, want not-found error", err)
	}
}

func TestRecordingsClear_RequiresConfirmation(t *testing.T) {
	_, err := execute(t, &globals{}, "recordings", "clear")
	if err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Errorf("clear without --yes = %v", err)
	}
}

func TestStream_RequiresAddress(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, &globals{}, "stream", "--no-record", "--config", writeConfig(t, dir, ""))
	if err == nil || !strings.Contains(err.Error(), "address") {
		t.Errorf("stream without address = %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("explicit missing file fails", func(t *testing.T) {
		_, err := execute(t, &globals{}, "recordings", "list", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
		if err == nil {
			t.Error("expected an error for an explicit missing config")
		}
	})

	t.Run("log level flag overrides file", func(t *testing.T) {
		dir := t.TempDir()
		g := &globals{}
		_, err := execute(t, g, "recordings", "list", "--log-level", "DEBUG",
			"--config", writeConfig(t, dir, "server:\n  log_level: warn\n"))
		if err != nil {
			t.Fatal(err)
		}
		if g.level.Level() != slog.LevelDebug {
			t.Errorf("level = %v, want debug", g.level.Level())
		}
	})

	t.Run("invalid log level flag", func(t *testing.T) {
		_, err := execute(t, &globals{}, "recordings", "list", "--log-level", "loud",
			"--config", writeConfig(t, t.TempDir(), ""))
		if err == nil || !strings.Contains(err.Error(), "loud") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("env file values apply", func(t *testing.T) {
		dir := t.TempDir()
		envFile := filepath.Join(dir, "test.env")
		if err := os.WriteFile(envFile, []byte("VOXLINK_LOG_LEVEL=error\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		t.Setenv("VOXLINK_LOG_LEVEL", "")
		os.Unsetenv("VOXLINK_LOG_LEVEL")

		g := &globals{}
		root := newRootCmd(g)
		root.SetOut(&bytes.Buffer{})
		root.SetArgs([]string{"recordings", "list", "--env-file", envFile, "--config", writeConfig(t, dir, "")})
		prev := slog.Default()
		defer slog.SetDefault(prev)
		if err := root.Execute(); err != nil {
			t.Fatal(err)
		}
		if g.level.Level() != slog.LevelError {
			t.Errorf("level = %v, want error from env file", g.level.Level())
		}
	})
}

func TestNewLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	var lv slog.LevelVar
	newLogger(&buf, config.LogFormatJSON, &lv).Info("hello", "k", "v")
	if !strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), `"k":"v"`) {
		t.Errorf("json output = %q", buf.String())
	}

	buf.Reset()
	lv.Set(slog.LevelWarn)
	logger := newLogger(&buf, config.LogFormatText, &lv)
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "msg=shown") {
		t.Errorf("text output = %q", buf.String())
	}
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "voxlink.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
