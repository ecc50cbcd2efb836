// Package device drives a full-duplex audio device through miniaudio.
//
// The device delivers microphone samples to a capture callback and pulls
// speaker samples from a render callback, both from miniaudio's real-time
// thread. Both callbacks must therefore return quickly without blocking;
// [capture.Accumulator.Write] and [playback.Timeline.Render] are written for
// exactly this context.
package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/voxlink/pkg/audio"
)

// ErrClosed is returned when a closed device is started.
var ErrClosed = errors.New("device: closed")

// CaptureFunc receives microphone samples. The slice is reused after the
// call returns.
type CaptureFunc func(samples []float32)

// RenderFunc fills dst with the samples to play next.
type RenderFunc func(dst []float32)

// Config selects the device format. The pipeline is mono 16-bit.
type Config struct {
	// SampleRate in Hz. Zero means [audio.DefaultSampleRate].
	SampleRate int

	// PeriodFrames is the callback period in samples. Zero lets the backend
	// choose.
	PeriodFrames int
}

// Duplex is an open capture and playback device.
type Duplex struct {
	rate    int
	capture CaptureFunc
	render  RenderFunc

	ctx *malgo.AllocatedContext
	dev *malgo.Device

	// Scratch buffers owned by the real-time callback.
	in  []float32
	out []float32

	callbacks atomic.Uint64
	grown     atomic.Uint64

	mu     sync.Mutex
	closed bool
}

// Open initialises the default capture and playback devices. Either callback
// may be nil: a nil capture discards input, a nil render plays silence.
func Open(cfg Config, capture CaptureFunc, render RenderFunc) (*Duplex, error) {
	d := newDuplex(cfg, capture, render)

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("device: miniaudio", "msg", strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("device: init context: %w", err)
	}

	dc := malgo.DefaultDeviceConfig(malgo.Duplex)
	dc.Capture.Format = malgo.FormatS16
	dc.Capture.Channels = 1
	dc.Playback.Format = malgo.FormatS16
	dc.Playback.Channels = 1
	dc.SampleRate = uint32(d.rate)
	if cfg.PeriodFrames > 0 {
		dc.PeriodSizeInFrames = uint32(cfg.PeriodFrames)
	}

	dev, err := malgo.InitDevice(mctx.Context, dc, malgo.DeviceCallbacks{Data: d.process})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("device: init duplex device: %w", err)
	}
	d.ctx = mctx
	d.dev = dev

	slog.Info("device: opened",
		"sample_rate", d.rate,
		"period_frames", cfg.PeriodFrames,
	)
	return d, nil
}

func newDuplex(cfg Config, capture CaptureFunc, render RenderFunc) *Duplex {
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = audio.DefaultSampleRate
	}
	period := cfg.PeriodFrames
	if period <= 0 {
		period = rate / 100 * 4 // 40ms, grown on demand
	}
	return &Duplex{
		rate:    rate,
		capture: capture,
		render:  render,
		in:      make([]float32, period),
		out:     make([]float32, period),
	}
}

// SampleRate returns the device rate in Hz.
func (d *Duplex) SampleRate() int { return d.rate }

// Start begins streaming.
func (d *Duplex) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if err := d.dev.Start(); err != nil {
		return fmt.Errorf("device: start: %w", err)
	}
	return nil
}

// Stop pauses streaming. The callbacks are not invoked after Stop returns.
func (d *Duplex) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	if err := d.dev.Stop(); err != nil {
		return fmt.Errorf("device: stop: %w", err)
	}
	return nil
}

// Close stops the device and releases miniaudio resources. It is idempotent.
func (d *Duplex) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.dev.Uninit()
	err := d.ctx.Uninit()
	d.ctx.Free()
	if err != nil {
		return fmt.Errorf("device: uninit context: %w", err)
	}
	return nil
}

// Callbacks returns the number of real-time callbacks served.
func (d *Duplex) Callbacks() uint64 { return d.callbacks.Load() }

// process is the miniaudio data callback. Input and output are interleaved
// S16 mono.
func (d *Duplex) process(output, input []byte, frames uint32) {
	d.callbacks.Add(1)
	n := int(frames)

	if d.capture != nil && len(input) >= n*audio.BytesPerSample {
		d.in = d.ensure(d.in, n)
		for i := range n {
			d.in[i] = audio.DecodeSample(int16(binary.LittleEndian.Uint16(input[i*2:])))
		}
		d.capture(d.in[:n])
	}

	if len(output) < n*audio.BytesPerSample {
		return
	}
	d.out = d.ensure(d.out, n)
	dst := d.out[:n]
	if d.render != nil {
		d.render(dst)
	} else {
		clear(dst)
	}
	for i, s := range dst {
		binary.LittleEndian.PutUint16(output[i*2:], uint16(audio.EncodeSample(s)))
	}
}

// ensure grows buf to hold n samples. Growth only happens when the backend
// delivers a larger period than anticipated.
func (d *Duplex) ensure(buf []float32, n int) []float32 {
	if cap(buf) >= n {
		return buf[:cap(buf)]
	}
	d.grown.Add(1)
	return make([]float32, n)
}
