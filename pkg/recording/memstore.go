package recording

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

type memRecording struct {
	meta   Recording
	seq    uint64
	chunks [][]byte
}

// MemStore is a thread-safe, in-memory implementation of [Store]. Data is
// lost when the process exits. The zero value is ready to use.
type MemStore struct {
	mu   sync.RWMutex
	recs map[string]*memRecording
	seq  uint64
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{recs: make(map[string]*memRecording)}
}

// CreateRecording implements [Store.CreateRecording].
func (s *MemStore) CreateRecording(_ context.Context, id string) (Recording, error) {
	if id == "" {
		id = NewID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recs == nil {
		s.recs = make(map[string]*memRecording)
	}
	if _, ok := s.recs[id]; ok {
		return Recording{}, ErrExists
	}
	s.seq++
	rec := &memRecording{meta: Recording{ID: id, CreatedAt: time.Now().UTC()}, seq: s.seq}
	s.recs[id] = rec
	return rec.meta, nil
}

// AppendChunks implements [Store.AppendChunks].
func (s *MemStore) AppendChunks(_ context.Context, id string, chunks [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[id]
	if !ok {
		return ErrNotFound
	}
	for _, c := range chunks {
		rec.chunks = append(rec.chunks, slices.Clone(c))
		rec.meta.Chunks++
		rec.meta.Bytes += int64(len(c))
	}
	return nil
}

// ListRecordings implements [Store.ListRecordings].
func (s *MemStore) ListRecordings(_ context.Context) ([]Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make([]*memRecording, 0, len(s.recs))
	for _, r := range s.recs {
		recs = append(recs, r)
	}
	slices.SortFunc(recs, func(a, b *memRecording) int {
		if c := b.meta.CreatedAt.Compare(a.meta.CreatedAt); c != 0 {
			return c
		}
		return int(b.seq) - int(a.seq)
	})

	out := make([]Recording, len(recs))
	for i, r := range recs {
		out[i] = r.meta
	}
	return out, nil
}

// GetRecording implements [Store.GetRecording].
func (s *MemStore) GetRecording(_ context.Context, id string) (Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.recs[id]
	if !ok {
		return Recording{}, ErrNotFound
	}
	return rec.meta, nil
}

// Chunks implements [Store.Chunks]. The returned slices must not be modified.
func (s *MemStore) Chunks(_ context.Context, id string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(rec.chunks), nil
}

// DeleteRecording implements [Store.DeleteRecording].
func (s *MemStore) DeleteRecording(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.recs[id]; !ok {
		return ErrNotFound
	}
	delete(s.recs, id)
	return nil
}

// ClearAll implements [Store.ClearAll].
func (s *MemStore) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.recs)
	return nil
}
