// Package app wires the voxlink subsystems into a running relay server.
//
// The App struct owns the full lifecycle: New opens the recording store and
// builds the relay, Run serves HTTP until its context ends, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithListener, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/voxlink/internal/config"
	"github.com/MrWong99/voxlink/internal/health"
	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/internal/relay"
	"github.com/MrWong99/voxlink/pkg/recording"
)

// readHeaderTimeout guards against slow-loris clients. Upgraded WebSocket
// connections are not affected.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes of the relay server.
type App struct {
	cfg     *config.Config
	level   *slog.LevelVar
	metrics *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	store    recording.Store
	checks   []health.Checker
	relay    *relay.Server
	server   *http.Server
	listener net.Listener

	watchPath string
	watcher   *config.Watcher

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a recording store instead of opening the configured one.
func WithStore(s recording.Store) Option {
	return func(a *App) { a.store = s }
}

// WithLevelVar lets config reloads change the level of the process logger.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithMetrics records relay metrics on m instead of the global provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithListener serves on ln instead of listening on server.listen_addr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// WithConfigWatch reloads path on change and applies the hot-reloadable
// settings (log level, echo, recording) without a restart.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.watchPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. It opens the recording store, builds the relay
// and the HTTP server, and starts the config watcher when requested. Nothing
// listens until Run is called.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Recording store ──────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Relay + HTTP server ──────────────────────────────────────────
	a.relay = relay.New(a.store,
		relay.WithEcho(cfg.Server.Echo),
		relay.WithRecording(cfg.Server.Record),
		relay.WithSampleRate(cfg.Audio.SampleRate),
		relay.WithPeerQueue(cfg.Audio.JitterCapacity),
		relay.WithRecorderOptions(
			recording.WithChunkFrames(cfg.Recording.ChunkFrames),
			recording.WithQueueSize(cfg.Recording.Queue),
		),
		relay.WithMetrics(a.metrics),
		relay.WithHealthChecks(a.checks...),
	)
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.relay.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	// ── 3. Config watcher ───────────────────────────────────────────────
	if a.watchPath != "" {
		w, err := config.NewWatcher(a.watchPath, a.applyConfig)
		if err != nil {
			a.runClosers()
			return nil, fmt.Errorf("app: %w", err)
		}
		a.watcher = w
	}

	return a, nil
}

// initStore opens the configured store unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		store, closeStore, err := OpenStore(ctx, a.cfg.Recording)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, func() error {
			closeStore()
			return nil
		})
	}
	if p, ok := a.store.(health.Pinger); ok {
		a.checks = append(a.checks, health.Ping("store", p))
	}
	return nil
}

// Relay returns the relay server.
func (a *App) Relay() *relay.Server { return a.relay }

// Store returns the recording store.
func (a *App) Store() recording.Store { return a.store }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled or the server fails. It returns nil
// when ctx ends; call Shutdown afterwards to drain connections.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
	}

	tls := a.cfg.Server.TLS
	errCh := make(chan error, 1)
	go func() {
		if tls != nil {
			errCh <- a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- a.server.Serve(ln)
	}()

	slog.Info("relay listening",
		"addr", ln.Addr().String(),
		"tls", tls != nil,
		"echo", a.cfg.Server.Echo,
		"record", a.cfg.Server.Record,
		"store", a.cfg.Recording.Store,
	)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Config reload ───────────────────────────────────────────────────────────

// applyConfig is the watcher callback. Settings that need a restart are only
// reported.
func (a *App) applyConfig(old, cfg *config.Config) {
	d := config.Diff(old, cfg)
	if !d.Changed() {
		return
	}
	if d.EchoChanged {
		a.relay.SetEcho(d.NewEcho)
		slog.Info("config reload: echo changed", "echo", d.NewEcho)
	}
	if d.RecordChanged {
		a.relay.SetRecording(d.NewRecord)
		slog.Info("config reload: recording changed", "record", d.NewRecord)
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Slog())
		slog.Info("config reload: log level changed", "level", d.NewLogLevel)
	}
	if d.JitterChanged {
		slog.Info("config reload: jitter settings apply to new client sessions",
			"jitter_capacity", d.NewJitterCapacity, "prime_frames", d.NewPrimeFrames)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: restart required to apply", "fields", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops accepting requests, disconnects every peer and waits for
// their recordings to flush, then releases the store. It respects the context
// deadline: if ctx expires first, the remaining steps are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.watcher != nil {
			a.watcher.Stop()
		}

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
			shutdownErr = err
		}

		// Upgraded connections are invisible to http.Server.Shutdown.
		done := make(chan struct{})
		go func() {
			_ = a.relay.Close()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded while closing peers")
			shutdownErr = ctx.Err()
			return
		}

		a.runClosers()
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for i, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
