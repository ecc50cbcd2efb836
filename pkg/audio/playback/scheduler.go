// Package playback turns frames arriving from the network into gapless,
// clock-driven output.
//
// A [Scheduler] owns a small FIFO jitter queue and the playback clock
// (nextPlayTime). Frames are committed to an [Output] one at a time, each
// starting exactly where the previous one ends, and the scheduler sleeps for
// half a frame between commits so the next frame is queued before the current
// one finishes. In steady state the lead over the device clock stays between
// half a frame and one and a half frames; while a backlog drains it grows by
// half a frame per commit until the queue is empty.
//
// An output that is temporarily full ([ErrTimelineFull]) keeps the frame at
// the head of the line and the scheduler retries it after half a frame. Any
// other schedule failure discards that one frame and is counted in
// [Stats].Failed.
//
// Ordering is arrival order. Gaps in the stream are played as silence
// (underrun) and excess frames are dropped from the head of the queue
// (overflow); neither condition is fatal.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxlink/pkg/audio"
)

const (
	// DefaultJitterCapacity is the default jitter queue bound in frames.
	DefaultJitterCapacity = 16

	// DefaultPrimeFrames is the number of frames that must be buffered
	// before the first frame is committed.
	DefaultPrimeFrames = 1
)

var (
	// ErrUnderrun is reported once per underrun episode: the queue ran dry
	// while playing.
	ErrUnderrun = errors.New("playback: jitter queue underrun")

	// ErrAlreadyStarted is returned by Start while the scheduler is running.
	ErrAlreadyStarted = errors.New("playback: scheduler already started")
)

// Output is a device-clocked audio sink.
//
// Now reports the device's current position. Schedule commits frame to start
// exactly at the given device time; it must not block. Stop silences every
// committed segment immediately.
type Output interface {
	Now() time.Duration
	Schedule(frame audio.Frame, at time.Duration) error
	Stop() error
}

// State is the scheduler lifecycle state.
type State int32

const (
	StateIdle State = iota
	StatePriming
	StatePlaying
	StateStopped
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePriming:
		return "priming"
	case StatePlaying:
		return "playing"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	State     State
	Scheduled uint64
	Underruns uint64
	Overflows uint64
	Failed    uint64
	Queued    int

	// Lead is how far ahead of the device clock the last commit ended.
	Lead time.Duration
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithJitterCapacity bounds the jitter queue to n frames.
func WithJitterCapacity(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.queue = audio.NewQueue[audio.Frame](n)
		}
	}
}

// WithPrimeFrames sets how many frames must be buffered before playback
// begins. Higher values trade latency for resilience against jitter.
func WithPrimeFrames(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.primeFrames = n
		}
	}
}

// WithStatusHandler registers fn to receive non-fatal conditions:
// [ErrUnderrun], [audio.ErrOverflow] and schedule failures. fn is called from
// the scheduler goroutine or from the goroutine calling Enqueue and must not
// block. fn must not call [Scheduler.Stop]: Stop waits for the scheduler
// goroutine, so calling it from there deadlocks.
func WithStatusHandler(fn func(error)) Option {
	return func(s *Scheduler) {
		s.onStatus = fn
	}
}

// Scheduler implements the jitter buffer and playback clock.
//
// Enqueue, Stop, Stats and Level are safe for concurrent use. The jitter queue
// contents and nextPlayTime belong to the scheduling goroutine.
type Scheduler struct {
	out         Output
	queue       *audio.Queue[audio.Frame]
	meter       audio.LevelMeter
	primeFrames int
	onStatus    func(error)

	mu     sync.Mutex // serialises Start and Stop
	state  atomic.Int32
	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup

	// Owned by the scheduling goroutine between Start and Stop.
	nextPlayTime time.Duration
	inUnderrun   bool
	held         audio.Frame // rejected with ErrTimelineFull, retried first
	holding      atomic.Bool

	scheduled atomic.Uint64
	failed    atomic.Uint64
	underruns atomic.Uint64
	lead      atomic.Int64
}

// New creates an idle scheduler that commits frames to out.
func New(out Output, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:         out,
		queue:       audio.NewQueue[audio.Frame](DefaultJitterCapacity),
		primeFrames: DefaultPrimeFrames,
		notify:      make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	s.primeFrames = min(s.primeFrames, s.queue.Cap())
	return s
}

// Start resets the playback clock to the device's current time, clears the
// jitter queue and launches the scheduling goroutine. A stopped scheduler may
// be started again.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case StatePriming, StatePlaying:
		return ErrAlreadyStarted
	}
	s.reset()
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.done)
	return nil
}

// reset prepares a new playback run. The scheduling goroutine must not be
// running.
func (s *Scheduler) reset() {
	s.queue.Clear(nil)
	s.meter.Reset()
	s.nextPlayTime = s.out.Now()
	s.inUnderrun = false
	s.release()
	s.lead.Store(0)
	s.state.Store(int32(StatePriming))
}

// Enqueue hands a decoded frame to the scheduler. Frames arriving while the
// scheduler is not running are dropped. Enqueue never blocks.
func (s *Scheduler) Enqueue(frame audio.Frame) {
	if st := s.State(); st != StatePriming && st != StatePlaying {
		return
	}
	if frame.Duration() <= 0 {
		return
	}
	s.meter.Observe(frame.Samples)
	if _, evicted := s.queue.Push(frame); evicted {
		s.report(audio.ErrOverflow)
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Stop halts scheduling, clears the queue, zeroes the level reading and
// silences everything already committed to the output. Stop is idempotent
// and safe in any state.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.State()
	if prev == StateStopped {
		return nil
	}
	s.state.Store(int32(StateStopped))
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.wg.Wait()

	s.release()
	s.queue.Clear(nil)
	s.meter.Reset()
	if prev == StateIdle {
		return nil
	}
	if err := s.out.Stop(); err != nil {
		return fmt.Errorf("playback: stop output: %w", err)
	}
	return nil
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Level returns the level of the most recently received frame.
func (s *Scheduler) Level() audio.Level { return s.meter.Level() }

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		State:     s.State(),
		Scheduled: s.scheduled.Load(),
		Underruns: s.underruns.Load(),
		Overflows: s.queue.Dropped(),
		Failed:    s.failed.Load(),
		Queued:    s.queued(),
		Lead:      time.Duration(s.lead.Load()),
	}
}

// queued counts buffered frames including one held for retry.
func (s *Scheduler) queued() int {
	n := s.queue.Len()
	if s.holding.Load() {
		n++
	}
	return n
}

// release drops the held frame, if any.
func (s *Scheduler) release() {
	s.held = audio.Frame{}
	s.holding.Store(false)
}

// next returns the held frame if there is one, otherwise the queue head.
func (s *Scheduler) next() (audio.Frame, bool) {
	if s.holding.Load() {
		f := s.held
		s.release()
		return f, true
	}
	return s.queue.Pop()
}

// run drives step with a single reusable timer until done is closed.
func (s *Scheduler) run(done <-chan struct{}) {
	defer s.wg.Done()

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		wait, ok := s.step()
		if !ok {
			// Nothing to commit: sleep until the next arrival.
			select {
			case <-done:
				return
			case <-s.notify:
			}
			continue
		}
		if wait <= 0 {
			continue
		}
		timer.Reset(wait)
		select {
		case <-done:
			return
		case <-timer.C:
		}
	}
}

// step commits at most one frame. It returns ok=false when the caller should
// wait for new frames, otherwise the delay until the next step.
func (s *Scheduler) step() (wait time.Duration, ok bool) {
	if s.State() == StatePriming && s.queued() < s.primeFrames {
		return 0, false
	}

	retry := s.holding.Load()
	frame, ok := s.next()
	if !ok {
		if !s.inUnderrun {
			s.inUnderrun = true
			s.underruns.Add(1)
			s.meter.Reset()
			s.report(ErrUnderrun)
		}
		return 0, false
	}
	s.inUnderrun = false

	now := s.out.Now()
	start := max(s.nextPlayTime, now)
	d := frame.Duration()
	if err := s.out.Schedule(frame, start); err != nil {
		full := errors.Is(err, ErrTimelineFull)
		if full {
			s.held = frame
			s.holding.Store(true)
		} else {
			s.failed.Add(1)
		}
		// A held frame is reported when first rejected, not on every retry.
		if !full || !retry {
			s.report(fmt.Errorf("playback: schedule at %v: %w", start, err))
		}
		return d / 2, true
	}
	s.nextPlayTime = start + d
	s.lead.Store(int64(s.nextPlayTime - now))
	s.scheduled.Add(1)
	s.state.CompareAndSwap(int32(StatePriming), int32(StatePlaying))

	return d / 2, true
}

func (s *Scheduler) report(err error) {
	if s.onStatus != nil {
		s.onStatus(err)
		return
	}
	if errors.Is(err, ErrUnderrun) || errors.Is(err, audio.ErrOverflow) {
		return
	}
	slog.Warn("playback: status", "err", err)
}
