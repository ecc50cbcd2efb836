package recording

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxlink/pkg/audio"
)

const (
	// DefaultChunkFrames is the number of frames batched into one chunk.
	DefaultChunkFrames = 4

	// DefaultRecorderQueue bounds the recorder's inbound queue in frames.
	DefaultRecorderQueue = 64

	flushTimeout = 5 * time.Second
)

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithChunkFrames batches n frames into each stored chunk.
func WithChunkFrames(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.chunkFrames = n
		}
	}
}

// WithQueueSize bounds the inbound queue to n frames.
func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = audio.NewQueue[[]byte](n)
		}
	}
}

// WithErrorHandler registers fn to be called when a store write fails. fn is
// called from the recorder goroutine.
func WithErrorHandler(fn func(error)) RecorderOption {
	return func(r *Recorder) { r.onError = fn }
}

// RecorderStats is a snapshot of recorder counters.
type RecorderStats struct {
	Frames   uint64
	Chunks   uint64
	Bytes    uint64
	Dropped  uint64
	Failures uint64
}

// Recorder appends captured PCM to a recording in the background.
//
// Write never blocks: payloads go onto a bounded queue of their own, so a slow
// or failing store cannot stall streaming. Store failures are logged and
// counted, and the failed batch is discarded.
type Recorder struct {
	store       Store
	id          string
	chunkFrames int
	queue       *audio.Queue[[]byte]
	onError     func(error)

	notify chan struct{}
	done   chan struct{}
	once   sync.Once

	frames, chunks, bytes, failures atomic.Uint64
}

// NewRecorder creates a recorder appending to the existing recording id.
func NewRecorder(store Store, id string, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:       store,
		id:          id,
		chunkFrames: DefaultChunkFrames,
		queue:       audio.NewQueue[[]byte](DefaultRecorderQueue),
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ID returns the recording ID.
func (r *Recorder) ID() string { return r.id }

// Write queues one encoded frame. pcm is only read, never modified, so the
// same payload may be shared with the transport.
func (r *Recorder) Write(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	r.queue.Push(pcm)
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Close asks Run to flush what is queued and return. It is idempotent.
func (r *Recorder) Close() {
	r.once.Do(func() { close(r.done) })
}

// Run stores queued frames until ctx is cancelled or Close is called. On the
// way out it flushes everything still queued. Run returns nil on a normal
// shutdown; store failures never end it.
func (r *Recorder) Run(ctx context.Context) error {
	batch := make([][]byte, 0, r.chunkFrames)
	for {
		select {
		case <-ctx.Done():
			r.drain(context.WithoutCancel(ctx), batch)
			return nil
		case <-r.done:
			r.drain(ctx, batch)
			return nil
		case <-r.notify:
		}
		for {
			pcm, ok := r.queue.Pop()
			if !ok {
				break
			}
			batch = append(batch, pcm)
			if len(batch) == r.chunkFrames {
				r.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

func (r *Recorder) drain(ctx context.Context, batch [][]byte) {
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	r.queue.Clear(func(pcm []byte) { batch = append(batch, pcm) })
	for len(batch) > 0 {
		n := min(len(batch), r.chunkFrames)
		r.flush(ctx, batch[:n])
		batch = batch[n:]
	}
}

// flush joins batch into a single chunk and appends it.
func (r *Recorder) flush(ctx context.Context, batch [][]byte) {
	var size int
	for _, b := range batch {
		size += len(b)
	}
	chunk := make([]byte, 0, size)
	for _, b := range batch {
		chunk = append(chunk, b...)
	}

	if err := r.store.AppendChunks(ctx, r.id, [][]byte{chunk}); err != nil {
		r.failures.Add(1)
		err = fmt.Errorf("recording: append to %s: %w", r.id, err)
		if r.onError != nil {
			r.onError(err)
		} else {
			slog.Warn("recording: store write failed", "recording_id", r.id, "frames", len(batch), "err", err)
		}
		return
	}
	r.frames.Add(uint64(len(batch)))
	r.chunks.Add(1)
	r.bytes.Add(uint64(size))
}

// Stats returns a snapshot of the recorder counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Frames:   r.frames.Load(),
		Chunks:   r.chunks.Load(),
		Bytes:    r.bytes.Load(),
		Dropped:  r.queue.Dropped(),
		Failures: r.failures.Load(),
	}
}
