package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxlink/internal/config"
	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/internal/session"
	"github.com/MrWong99/voxlink/pkg/audio/device"
	"github.com/MrWong99/voxlink/pkg/recording"
)

// ErrSessionActive is returned by [SessionManager.Start] while a session runs.
var ErrSessionActive = errors.New("app: a session is already active")

// ErrNoSession is returned by [SessionManager.Stop] when nothing runs.
var ErrNoSession = errors.New("app: no active session")

// Device is an open duplex audio device.
type Device interface {
	Start() error
	Close() error
}

// DeviceOpener opens the audio device that feeds capture and pulls render.
type DeviceOpener func(cfg device.Config, capture device.CaptureFunc, render device.RenderFunc) (Device, error)

// OpenDefaultDevice opens the system default microphone and speakers.
func OpenDefaultDevice(cfg device.Config, capture device.CaptureFunc, render device.RenderFunc) (Device, error) {
	d, err := device.Open(cfg, capture, render)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// SessionConfig maps the loaded configuration onto a client session.
func SessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		Address:        cfg.Transport.Address,
		SampleRate:     cfg.Audio.SampleRate,
		FrameSamples:   cfg.Audio.FrameSamples,
		CaptureQueue:   cfg.Audio.CaptureQueue,
		FramePool:      cfg.Audio.FramePool,
		JitterCapacity: cfg.Audio.JitterCapacity,
		PrimeFrames:    cfg.Audio.PrimeFrames,
		DialTimeout:    cfg.Transport.DialTimeout,
		OutboundQueue:  cfg.Transport.OutboundQueue,
		ChunkFrames:    cfg.Recording.ChunkFrames,
		RecorderQueue:  cfg.Recording.Queue,
	}
}

// SessionInfo holds metadata about the active session.
type SessionInfo struct {
	// Address is the endpoint the session streams to.
	Address string

	// RecordingID names the session's recording. Empty without a store.
	RecordingID string

	StartedAt time.Time
}

// SessionManager runs one client streaming session at a time, bound to an
// audio device. All exported methods are safe for concurrent use.
type SessionManager struct {
	mu     sync.Mutex
	active bool
	info   SessionInfo
	sess   *session.Session
	dev    Device
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	// Dependencies injected at construction.
	cfg     *config.Config
	store   recording.Store
	open    DeviceOpener
	metrics *observe.Metrics
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Config *config.Config

	// Store keeps the session recording. Nil disables recording.
	Store recording.Store

	// OpenDevice defaults to [OpenDefaultDevice].
	OpenDevice DeviceOpener

	Metrics *observe.Metrics
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		cfg:     cfg.Config,
		store:   cfg.Store,
		open:    cfg.OpenDevice,
		metrics: cfg.Metrics,
	}
	if sm.open == nil {
		sm.open = OpenDefaultDevice
	}
	return sm
}

// Start opens the device and begins streaming to address (the configured
// transport address when empty). recordingID names the recording; a new
// one is generated when empty.
func (sm *SessionManager) Start(ctx context.Context, address, recordingID string) (SessionInfo, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active {
		return SessionInfo{}, fmt.Errorf("%w (recording=%s)", ErrSessionActive, sm.info.RecordingID)
	}

	scfg := SessionConfig(sm.cfg)
	if address != "" {
		scfg.Address = address
	}
	scfg.RecordingID = recordingID

	var opts []session.Option
	if sm.store != nil {
		opts = append(opts, session.WithStore(sm.store))
	}
	if sm.metrics != nil {
		opts = append(opts, session.WithMetrics(sm.metrics))
	}
	opts = append(opts, session.WithTextHandler(func(msg string) {
		slog.Info("relay message", "msg", msg)
	}))

	sess, err := session.New(scfg, opts...)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("app: new session: %w", err)
	}

	dev, err := sm.open(device.Config{SampleRate: sm.cfg.Audio.SampleRate}, sess.Capture, sess.Render)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("app: open device: %w", err)
	}
	if err := dev.Start(); err != nil {
		_ = dev.Close()
		return SessionInfo{}, fmt.Errorf("app: start device: %w", err)
	}

	// The session outlives the request that started it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		err := sess.Run(runCtx)
		sm.mu.Lock()
		sm.err = err
		sm.mu.Unlock()
		close(done)
	}()

	sm.active = true
	sm.sess = sess
	sm.dev = dev
	sm.cancel = cancel
	sm.done = done
	sm.err = nil
	sm.info = SessionInfo{
		Address:     scfg.Address,
		RecordingID: sess.RecordingID(),
		StartedAt:   time.Now().UTC(),
	}

	slog.Info("session started", "address", scfg.Address, "recording_id", sm.info.RecordingID)
	return sm.info, nil
}

// Done returns a channel closed when the active session ends on its own or
// is stopped. It returns nil when no session is active.
func (sm *SessionManager) Done() <-chan struct{} {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.active {
		return nil
	}
	return sm.done
}

// Stop closes the device, ends the session and waits until its recording is
// flushed. It returns the final statistics and the session's error.
func (sm *SessionManager) Stop(ctx context.Context) (session.Stats, error) {
	sm.mu.Lock()
	if !sm.active {
		sm.mu.Unlock()
		return session.Stats{}, ErrNoSession
	}
	sess, dev, cancel, done := sm.sess, sm.dev, sm.cancel, sm.done
	sm.mu.Unlock()

	if err := dev.Close(); err != nil {
		slog.Warn("device close error", "err", err)
	}
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return sess.Stats(), ctx.Err()
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.active = false
	sm.sess = nil
	sm.dev = nil
	stats := sess.Stats()
	slog.Info("session stopped",
		"recording_id", sm.info.RecordingID,
		"duration", time.Since(sm.info.StartedAt).Round(time.Millisecond),
		"frames_sent", stats.Transport.FramesSent,
		"frames_received", stats.Transport.FramesReceived,
	)
	return stats, sm.err
}

// IsActive reports whether a session is running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// Info returns metadata about the active session. The second value is false
// when no session is active.
func (sm *SessionManager) Info() (SessionInfo, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info, sm.active
}

// Stats returns a snapshot of the active session's pipeline.
func (sm *SessionManager) Stats() (session.Stats, bool) {
	sm.mu.Lock()
	sess := sm.sess
	sm.mu.Unlock()
	if sess == nil {
		return session.Stats{}, false
	}
	return sess.Stats(), true
}
