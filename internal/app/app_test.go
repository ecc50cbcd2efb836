package app_test

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voxlink/internal/app"
	"github.com/MrWong99/voxlink/internal/config"
	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/pkg/recording"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return ln
}

// startApp runs a on ln until the test ends.
func startApp(t *testing.T, a *app.App) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := a.Shutdown(sctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func get(t *testing.T, url string) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// ─── App ─────────────────────────────────────────────────────────────────────

func TestApp_ServesRelay(t *testing.T) {
	t.Parallel()
	ln := listen(t)
	base := "http://" + ln.Addr().String()

	cfg := config.Default()
	cfg.Server.Echo = true
	a, err := app.New(context.Background(), cfg,
		app.WithStore(recording.NewMemStore()),
		app.WithListener(ln),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	startApp(t, a)

	eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, "healthz")
	if code := get(t, base+"/readyz"); code != http.StatusOK {
		t.Errorf("readyz = %d", code)
	}
	if code := get(t, base+"/recordings"); code != http.StatusOK {
		t.Errorf("recordings = %d", code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+ln.Addr().String()+"/ws/test", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()
	if err := conn.Write(ctx, websocket.MessageBinary, make([]byte, 64)); err != nil {
		t.Fatal(err)
	}
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if typ == websocket.MessageBinary {
			if len(data) != 64 {
				t.Errorf("echo returned %d bytes", len(data))
			}
			break
		}
	}
}

func TestApp_ShutdownDisconnectsPeers(t *testing.T) {
	t.Parallel()
	ln := listen(t)
	a, err := app.New(context.Background(), config.Default(),
		app.WithStore(recording.NewMemStore()),
		app.WithListener(ln),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	dctx, dcancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer dcancel()
	var conn *websocket.Conn
	eventually(t, func() bool {
		conn, _, err = websocket.Dial(dctx, "ws://"+ln.Addr().String()+"/ws/room", nil)
		return err == nil
	}, "dial")
	defer conn.CloseNow()

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(dctx); err != nil {
				readErr <- err
				return
			}
		}
	}()

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := a.Shutdown(sctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-readErr; websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("peer read after shutdown = %v, want going away", err)
	}
	// Idempotent.
	if err := a.Shutdown(sctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestApp_ConfigReload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "voxlink.yaml")
	writeFile(t, path, "server:\n  log_level: info\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	var lv slog.LevelVar
	ln := listen(t)
	a, err := app.New(context.Background(), cfg,
		app.WithStore(recording.NewMemStore()),
		app.WithListener(ln),
		app.WithMetrics(testMetrics(t)),
		app.WithLevelVar(&lv),
		app.WithConfigWatch(path),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	startApp(t, a)

	writeFile(t, path, "server:\n  log_level: debug\n  echo: true\n")
	eventually(t, func() bool { return lv.Level() == slog.LevelDebug }, "log level reload")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+ln.Addr().String()+"/ws/solo", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.CloseNow()
	if err := conn.Write(ctx, websocket.MessageBinary, make([]byte, 8)); err != nil {
		t.Fatal(err)
	}
	for {
		typ, _, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("echo was not enabled by reload: %v", err)
		}
		if typ == websocket.MessageBinary {
			break
		}
	}
}

func TestNew_BadWatchPath(t *testing.T) {
	t.Parallel()
	_, err := app.New(context.Background(), config.Default(),
		app.WithStore(recording.NewMemStore()),
		app.WithConfigWatch(filepath.Join(t.TempDir(), "missing.yaml")),
	)
	if err == nil {
		t.Fatal("New with a missing watch file succeeded")
	}
}

func TestApp_ListenFailure(t *testing.T) {
	t.Parallel()
	ln := listen(t)
	defer ln.Close()

	cfg := config.Default()
	cfg.Server.ListenAddr = ln.Addr().String()
	a, err := app.New(context.Background(), cfg, app.WithStore(recording.NewMemStore()))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "listen") {
		t.Errorf("Run on a taken port = %v, want listen error", err)
	}
}

// ─── OpenStore ───────────────────────────────────────────────────────────────

func TestOpenStore(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     config.RecordingConfig
		wantErr bool
	}{
		{name: "memory", cfg: config.RecordingConfig{Store: config.StoreMemory}},
		{name: "empty means memory", cfg: config.RecordingConfig{}},
		{name: "postgres without dsn", cfg: config.RecordingConfig{Store: config.StorePostgres}, wantErr: true},
		{name: "unknown", cfg: config.RecordingConfig{Store: "s3"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store, release, err := app.OpenStore(context.Background(), tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			defer release()
			if _, err := store.ListRecordings(context.Background()); err != nil {
				t.Errorf("ListRecordings: %v", err)
			}
		})
	}
}

func TestOpenStore_PostgresUnreachable(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := app.OpenStore(ctx, config.RecordingConfig{
		Store:       config.StorePostgres,
		PostgresDSN: "postgres://voxlink@127.0.0.1:1/voxlink?connect_timeout=1",
	})
	if err == nil || errors.Is(err, context.Canceled) {
		t.Errorf("OpenStore = %v, want connection error", err)
	}
}
