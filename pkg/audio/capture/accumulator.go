// Package capture turns the sample stream delivered by a real-time audio
// callback into fixed-length [audio.Frame] values.
//
// The [Accumulator] is the only piece of the pipeline that runs inside the
// audio callback. It copies samples into a preallocated ring and, once the
// ring holds a full frame, hands a copy to a bounded [audio.Queue] without
// blocking. Frame buffers come from a [Pool] and are returned by the consumer
// once the frame has been encoded.
package capture

import (
	"sync/atomic"

	"github.com/MrWong99/voxlink/pkg/audio"
)

// Config holds the accumulator dimensions. Zero values fall back to the
// pipeline defaults.
type Config struct {
	// FrameSamples is the number of samples per emitted frame.
	FrameSamples int

	// SampleRate is stamped on every emitted frame.
	SampleRate int

	// PoolSize is the number of preallocated frame buffers.
	PoolSize int
}

func (c Config) withDefaults() Config {
	if c.FrameSamples <= 0 {
		c.FrameSamples = audio.DefaultFrameSamples
	}
	if c.SampleRate <= 0 {
		c.SampleRate = audio.DefaultSampleRate
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 8
	}
	return c
}

// Accumulator groups incoming samples into frames of [Config.FrameSamples].
//
// Write and Flush must not be called concurrently with each other: Write
// belongs to the audio callback and Flush is called once the device has
// stopped. The counters may be read from any goroutine.
type Accumulator struct {
	cfg  Config
	ring []float32
	pos  int
	pool *Pool
	out  *audio.Queue[audio.Frame]

	frames  atomic.Uint64
	samples atomic.Uint64
	dropped atomic.Uint64
}

// New creates an accumulator that pushes completed frames onto out.
func New(cfg Config, out *audio.Queue[audio.Frame]) *Accumulator {
	cfg = cfg.withDefaults()
	return &Accumulator{
		cfg:  cfg,
		ring: make([]float32, cfg.FrameSamples),
		pool: NewPool(cfg.PoolSize, cfg.FrameSamples),
		out:  out,
	}
}

// Write appends samples, emitting a frame each time the ring fills. It never
// blocks and only allocates when the pool is exhausted.
func (a *Accumulator) Write(samples []float32) {
	for len(samples) > 0 {
		n := copy(a.ring[a.pos:], samples)
		a.pos += n
		samples = samples[n:]
		if a.pos == len(a.ring) {
			a.emit(a.pos)
		}
	}
}

// Flush emits the buffered remainder as one short frame. It is a no-op when
// nothing is buffered.
func (a *Accumulator) Flush() {
	if a.pos > 0 {
		a.emit(a.pos)
	}
}

func (a *Accumulator) emit(n int) {
	buf := a.pool.Get()[:n]
	copy(buf, a.ring[:n])
	a.pos = 0

	frame := audio.Frame{Samples: buf, SampleRate: a.cfg.SampleRate}
	if old, evicted := a.out.Push(frame); evicted {
		a.dropped.Add(1)
		a.pool.Put(old.Samples)
	}
	a.frames.Add(1)
	a.samples.Add(uint64(n))
}

// Pool returns the buffer pool. Consumers call [Pool.Put] with a frame's
// samples once they no longer need them.
func (a *Accumulator) Pool() *Pool { return a.pool }

// Buffered returns the number of samples waiting for the next frame.
// Only meaningful from the goroutine that calls Write.
func (a *Accumulator) Buffered() int { return a.pos }

// Frames returns the number of frames emitted, including dropped ones.
func (a *Accumulator) Frames() uint64 { return a.frames.Load() }

// Samples returns the number of samples emitted.
func (a *Accumulator) Samples() uint64 { return a.samples.Load() }

// Dropped returns how many frames were evicted from the output queue because
// the consumer fell behind.
func (a *Accumulator) Dropped() uint64 { return a.dropped.Load() }
