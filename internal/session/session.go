// Package session wires the client streaming pipeline into one owned object.
//
// A [Session] connects the capture accumulator, the transport channel, the
// playback scheduler and an optional recorder:
//
//	device capture → Accumulator → queue → dispatcher ─┬→ Channel.SendPCM
//	                                                    └→ Recorder.Write
//	Channel (inbound) → Scheduler → Timeline → device render
//
// The dispatcher encodes each frame once and hands the same read-only payload
// to both sinks. Either sink may drop or fail without affecting the other.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/audio/capture"
	"github.com/MrWong99/voxlink/pkg/audio/playback"
	"github.com/MrWong99/voxlink/pkg/recording"
	"github.com/MrWong99/voxlink/pkg/transport"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// ErrRunning is returned by [Session.Run] when the session is already running
// or has finished.
var ErrRunning = errors.New("session: already started")

// DefaultStatsInterval is how often the session logs levels and reports
// metrics.
const DefaultStatsInterval = 5 * time.Second

// Config sizes the pipeline. Zero values fall back to package defaults.
type Config struct {
	// Address is the ws:// or wss:// endpoint to stream to.
	Address string

	SampleRate   int
	FrameSamples int

	// CaptureQueue bounds frames between the audio callback and the
	// dispatcher.
	CaptureQueue int
	FramePool    int

	JitterCapacity int
	PrimeFrames    int

	DialTimeout   time.Duration
	OutboundQueue int

	// RecordingID names the recording created in the store. A new UUID is
	// used when empty.
	RecordingID   string
	ChunkFrames   int
	RecorderQueue int

	StatsInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = audio.DefaultSampleRate
	}
	if c.FrameSamples <= 0 {
		c.FrameSamples = audio.DefaultFrameSamples
	}
	if c.CaptureQueue <= 0 {
		c.CaptureQueue = 8
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = DefaultStatsInterval
	}
	return c
}

// Option configures a [Session].
type Option func(*Session)

// WithStore records the captured audio into store.
func WithStore(store recording.Store) Option {
	return func(s *Session) { s.store = store }
}

// WithMetrics reports pipeline counters to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithOutput schedules playback on out instead of the built-in [playback.Timeline].
// [Session.Render] then produces silence.
func WithOutput(out playback.Output) Option {
	return func(s *Session) { s.output = out }
}

// WithTextHandler receives text messages from the peer.
func WithTextHandler(fn func(msg string)) Option {
	return func(s *Session) { s.onText = fn }
}

// WithTransportOptions passes extra options to the transport channel.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(s *Session) { s.transportOpts = append(s.transportOpts, opts...) }
}

// Stats is a snapshot of the whole pipeline.
type Stats struct {
	CapturedFrames  uint64
	CaptureDropped  uint64
	DispatchedBytes uint64

	Transport transport.Stats
	Playback  playback.Stats
	Recorder  recording.RecorderStats

	InputLevel  audio.Level
	OutputLevel audio.Level
}

// Session is one client streaming session. Create it with [New], feed the
// device callbacks into [Session.Capture] and [Session.Render], then call
// [Session.Run].
type Session struct {
	cfg           Config
	store         recording.Store
	metrics       *observe.Metrics
	output        playback.Output
	onText        func(string)
	transportOpts []transport.Option

	frames   *audio.Queue[audio.Frame]
	acc      *capture.Accumulator
	timeline *playback.Timeline
	sched    *playback.Scheduler
	conn     *transport.Channel
	recorder *recording.Recorder

	inMeter    audio.LevelMeter
	dispatched atomic.Uint64

	// capture gate: the audio callback never blocks on it.
	capturing atomic.Bool
	inCapture atomic.Int32

	started      atomic.Bool
	disconnected chan error
	recordingID  string

	mu   sync.Mutex
	last Stats
}

// New builds a session. Nothing is connected until [Session.Run].
func New(cfg Config, opts ...Option) (*Session, error) {
	cfg = cfg.withDefaults()
	if _, err := transport.ParseAddress(cfg.Address); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	s := &Session{
		cfg:          cfg,
		disconnected: make(chan error, 1),
	}
	for _, o := range opts {
		o(s)
	}

	s.frames = audio.NewQueue[audio.Frame](cfg.CaptureQueue)
	s.acc = capture.New(capture.Config{
		FrameSamples: cfg.FrameSamples,
		SampleRate:   cfg.SampleRate,
		PoolSize:     cfg.FramePool,
	}, s.frames)

	if s.output == nil {
		s.timeline = playback.NewTimeline(cfg.SampleRate, 0)
		s.output = s.timeline
	}
	s.sched = playback.New(s.output,
		playback.WithJitterCapacity(cfg.JitterCapacity),
		playback.WithPrimeFrames(cfg.PrimeFrames),
		playback.WithStatusHandler(s.playbackStatus),
	)

	topts := []transport.Option{
		transport.WithSampleRate(cfg.SampleRate),
		transport.WithStateHandler(s.transportState),
		transport.WithTextHandler(s.text),
	}
	if cfg.DialTimeout > 0 {
		topts = append(topts, transport.WithDialTimeout(cfg.DialTimeout))
	}
	if cfg.OutboundQueue > 0 {
		topts = append(topts, transport.WithOutboundQueue(cfg.OutboundQueue))
	}
	s.conn = transport.New(s.sched, append(topts, s.transportOpts...)...)

	if s.store != nil {
		s.recordingID = cfg.RecordingID
		if s.recordingID == "" {
			s.recordingID = recording.NewID()
		}
		s.recorder = recording.NewRecorder(s.store, s.recordingID,
			recording.WithChunkFrames(cfg.ChunkFrames),
			recording.WithQueueSize(cfg.RecorderQueue),
		)
	}
	return s, nil
}

// Capture feeds samples from the audio device. It is safe to call from a
// real-time callback: it never blocks and never allocates.
func (s *Session) Capture(samples []float32) {
	s.inCapture.Add(1)
	defer s.inCapture.Add(-1)
	if !s.capturing.Load() {
		return
	}
	s.acc.Write(samples)
}

// Render fills dst with the playback signal. It is safe to call from a
// real-time callback.
func (s *Session) Render(dst []float32) {
	if s.timeline == nil {
		clear(dst)
		return
	}
	s.timeline.Render(dst)
}

// RecordingID returns the ID of the session recording, or "" when no store
// is configured.
func (s *Session) RecordingID() string { return s.recordingID }

// State returns the transport connection state.
func (s *Session) State() transport.State { return s.conn.State() }

// Run connects, streams until ctx is cancelled or the connection ends, and
// tears the pipeline down. It returns nil when ctx is cancelled or the peer
// closes normally, and the [*transport.ConnectionError] otherwise.
func (s *Session) Run(ctx context.Context) (err error) {
	if !s.started.CompareAndSwap(false, true) {
		return ErrRunning
	}

	ctx = observe.WithPipeline(ctx, observe.Pipeline{Address: s.cfg.Address, RecordingID: s.recordingID})
	ctx, span := observe.StartSpan(ctx, "session.run")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	log := observe.Logger(ctx)

	if s.recorder != nil {
		if _, err := s.store.CreateRecording(ctx, s.recordingID); err != nil {
			return fmt.Errorf("session: create recording: %w", err)
		}
	}
	if err := s.sched.Start(); err != nil {
		return fmt.Errorf("session: start playback: %w", err)
	}
	if err := s.conn.Connect(ctx, s.cfg.Address); err != nil {
		_ = s.sched.Stop()
		return fmt.Errorf("session: connect: %w", err)
	}
	s.capturing.Store(true)
	log.Info("session started")

	stop := make(chan struct{})
	// Not derived from ctx: the recorder must outlive the dispatcher so the
	// final frames reach the store.
	var rec errgroup.Group
	if s.recorder != nil {
		rec.Go(func() error { return s.recorder.Run(context.WithoutCancel(ctx)) })
	}

	var g errgroup.Group
	g.Go(func() error {
		s.dispatch(stop)
		return nil
	})
	g.Go(func() error {
		s.statsLoop(stop)
		return nil
	})

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-s.disconnected:
	}

	s.stopCapture()
	close(stop)
	_ = g.Wait()

	if s.recorder != nil {
		s.recorder.Close()
		_ = rec.Wait()
	}
	if err := s.conn.Close(); err != nil {
		log.Warn("session: close transport", "err", err)
	}
	s.report()

	st := s.Stats()
	log.Info("session ended",
		"frames_sent", st.Transport.FramesSent,
		"frames_received", st.Transport.FramesReceived,
		"underruns", st.Playback.Underruns,
		"playback_failed", st.Playback.Failed,
	)
	if runErr != nil {
		return fmt.Errorf("session: %w", runErr)
	}
	return nil
}

// stopCapture closes the capture gate, waits for an in-flight callback to
// leave and flushes the partial frame.
func (s *Session) stopCapture() {
	s.capturing.Store(false)
	for s.inCapture.Load() > 0 {
		runtime.Gosched()
	}
	s.acc.Flush()
}

// dispatch encodes captured frames once and fans the payload out to the
// transport and the recorder. On stop it drains the queue before returning.
func (s *Session) dispatch(stop <-chan struct{}) {
	for {
		select {
		case f := <-s.frames.C():
			s.send(f)
		case <-stop:
			s.frames.Clear(s.send)
			return
		}
	}
}

func (s *Session) send(f audio.Frame) {
	s.inMeter.Observe(f.Samples)
	pcm := audio.AppendPCM16(make([]byte, 0, len(f.Samples)*audio.BytesPerSample), f.Samples)
	s.acc.Pool().Put(f.Samples)
	s.dispatched.Add(uint64(len(pcm)))

	if err := s.conn.SendPCM(pcm); err != nil && !errors.Is(err, transport.ErrNotConnected) {
		slog.Debug("session: send frame", "err", err)
	}
	if s.recorder != nil {
		s.recorder.Write(pcm)
	}
}

func (s *Session) statsLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			st := s.report()
			slog.Debug("session levels",
				"input_rms", st.InputLevel.RMS,
				"input_peak", st.InputLevel.Peak,
				"output_rms", st.OutputLevel.RMS,
				"output_peak", st.OutputLevel.Peak,
				"jitter_depth", st.Playback.Queued,
				"state", st.Transport.State,
			)
		}
	}
}

// report pushes counter deltas since the last call to the metrics and
// returns the current snapshot.
func (s *Session) report() Stats {
	st := s.Stats()

	s.mu.Lock()
	prev := s.last
	s.last = st
	s.mu.Unlock()

	m := s.metrics
	if m == nil {
		return st
	}
	ctx := context.Background()
	d := func(cur, old uint64) int64 { return int64(cur - old) }

	m.RecordFrames(ctx, "client",
		d(st.Transport.FramesSent, prev.Transport.FramesSent),
		d(st.Transport.FramesReceived, prev.Transport.FramesReceived))
	m.RecordDropped(ctx, observe.StageCapture, d(st.CaptureDropped, prev.CaptureDropped))
	m.RecordDropped(ctx, observe.StageOutbound, d(st.Transport.OutboundDropped, prev.Transport.OutboundDropped))
	m.RecordDropped(ctx, observe.StageJitter, d(st.Playback.Overflows, prev.Playback.Overflows))
	m.RecordDropped(ctx, observe.StageRecorder, d(st.Recorder.Dropped, prev.Recorder.Dropped))
	m.RecordMalformed(ctx, "client", d(st.Transport.Malformed, prev.Transport.Malformed))
	m.RecordRecording(ctx,
		d(st.Recorder.Chunks, prev.Recorder.Chunks),
		d(st.Recorder.Failures, prev.Recorder.Failures))
	if n := d(st.Playback.Underruns, prev.Playback.Underruns); n > 0 {
		m.Underruns.Add(ctx, n)
	}
	if st.Playback.Scheduled > prev.Playback.Scheduled {
		m.ScheduleLead.Record(ctx, st.Playback.Lead.Seconds())
	}
	m.JitterDepth.Record(ctx, int64(st.Playback.Queued))
	return st
}

// Stats returns a snapshot of all pipeline counters.
func (s *Session) Stats() Stats {
	st := Stats{
		CapturedFrames:  s.acc.Frames(),
		CaptureDropped:  s.acc.Dropped(),
		DispatchedBytes: s.dispatched.Load(),
		Transport:       s.conn.Stats(),
		Playback:        s.sched.Stats(),
		InputLevel:      s.inMeter.Level(),
		OutputLevel:     s.sched.Level(),
	}
	if s.recorder != nil {
		st.Recorder = s.recorder.Stats()
	}
	return st
}

func (s *Session) transportState(state transport.State, err error) {
	slog.Info("transport state changed", "state", state, "err", err)
	if state != transport.StateDisconnected {
		return
	}
	select {
	case s.disconnected <- err:
	default:
	}
}

func (s *Session) text(msg string) {
	if s.onText != nil {
		s.onText(msg)
		return
	}
	slog.Info("peer message", "text", msg)
}

func (s *Session) playbackStatus(err error) {
	switch {
	case errors.Is(err, playback.ErrUnderrun):
		slog.Debug("playback underrun")
	case errors.Is(err, audio.ErrOverflow):
		slog.Debug("playback jitter queue overflow")
	default:
		slog.Warn("playback error", "err", err)
	}
}
