package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/voxlink/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	d := config.Diff(cfg, cfg)
	if d.Changed() {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level must not require restart, got %v", d.RestartRequired)
	}
}

func TestDiff_EchoAndRecord(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.Echo = true
	new.Server.Record = true

	d := config.Diff(old, new)
	if !d.EchoChanged || !d.NewEcho {
		t.Errorf("echo change not reported: %+v", d)
	}
	if !d.RecordChanged || !d.NewRecord {
		t.Errorf("record change not reported: %+v", d)
	}
}

func TestDiff_Jitter(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Audio.PrimeFrames = 3

	d := config.Diff(old, new)
	if !d.JitterChanged || d.NewPrimeFrames != 3 || d.NewJitterCapacity != old.Audio.JitterCapacity {
		t.Errorf("jitter change not reported: %+v", d)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.ListenAddr = ":9999"
	new.Recording.Store = config.StorePostgres
	new.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"}

	d := config.Diff(old, new)
	for _, field := range []string{"server.listen_addr", "recording.store", "server.tls"} {
		if !slices.Contains(d.RestartRequired, field) {
			t.Errorf("RestartRequired %v missing %q", d.RestartRequired, field)
		}
	}
	if d.LogLevelChanged || d.EchoChanged {
		t.Errorf("unexpected hot-reload flags: %+v", d)
	}
}
