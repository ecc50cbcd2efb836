// Package recording keeps a copy of everything captured during a session.
//
// A recording is an ordered list of opaque chunks, each holding a batch of
// 16-bit little-endian PCM as it was sent on the wire. Chunks are stored
// without a container; [Export] wraps them in a WAV header on the way out.
//
// Two [Store] implementations exist: [MemStore] in this package and a
// PostgreSQL store in the postgres sub-package.
package recording

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for operations on an unknown recording ID.
	ErrNotFound = errors.New("recording: not found")

	// ErrExists is returned by CreateRecording when the ID is taken.
	ErrExists = errors.New("recording: already exists")
)

// Recording describes a stored recording.
type Recording struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	// Chunks is the number of stored chunks.
	Chunks int `json:"chunks"`

	// Bytes is the total PCM payload size.
	Bytes int64 `json:"bytes"`
}

// Duration returns the playback length of the recording at sampleRate Hz.
func (r Recording) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(r.Bytes / 2 * int64(time.Second) / int64(sampleRate))
}

// Store persists recordings. Implementations must be safe for concurrent use.
type Store interface {
	// CreateRecording registers a new, empty recording. An empty id is
	// replaced with a generated one. Returns [ErrExists] if id is taken.
	CreateRecording(ctx context.Context, id string) (Recording, error)

	// AppendChunks appends chunks in order. The store copies the data.
	// Returns [ErrNotFound] for an unknown id.
	AppendChunks(ctx context.Context, id string, chunks [][]byte) error

	// ListRecordings returns all recordings, newest first.
	ListRecordings(ctx context.Context) ([]Recording, error)

	// GetRecording returns the metadata of one recording.
	GetRecording(ctx context.Context, id string) (Recording, error)

	// Chunks returns the chunks of a recording in append order.
	Chunks(ctx context.Context, id string) ([][]byte, error)

	// DeleteRecording removes a recording and its chunks. Returns
	// [ErrNotFound] for an unknown id.
	DeleteRecording(ctx context.Context, id string) error

	// ClearAll removes every recording.
	ClearAll(ctx context.Context) error
}

// NewID returns a fresh recording ID.
func NewID() string { return uuid.NewString() }
