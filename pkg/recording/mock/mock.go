// Package mock provides a configurable [recording.Store] for unit tests.
//
// The mock delegates to an in-memory store so behaviour stays realistic, and
// lets tests inject errors per method and inspect call counts.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxlink/pkg/recording"
)

var _ recording.Store = (*Store)(nil)

// Store is a mock implementation of [recording.Store].
type Store struct {
	mu    sync.Mutex
	inner recording.MemStore

	// CreateError, when non-nil, is returned by CreateRecording.
	CreateError error

	// AppendError, when non-nil, is returned by AppendChunks.
	AppendError error

	// ListError, when non-nil, is returned by ListRecordings.
	ListError error

	// DeleteError, when non-nil, is returned by DeleteRecording and ClearAll.
	DeleteError error

	// CallCountCreate records how many times CreateRecording was called.
	CallCountCreate int

	// CallCountAppend records how many times AppendChunks was called.
	CallCountAppend int

	// CallCountList records how many times ListRecordings was called.
	CallCountList int

	// CallCountDelete records how many times DeleteRecording was called.
	CallCountDelete int

	// CallCountClear records how many times ClearAll was called.
	CallCountClear int

	// Appended is signalled (non-blocking) after every AppendChunks call
	// when non-nil.
	Appended chan struct{}
}

// CreateRecording implements [recording.Store].
func (s *Store) CreateRecording(ctx context.Context, id string) (recording.Recording, error) {
	s.mu.Lock()
	s.CallCountCreate++
	err := s.CreateError
	s.mu.Unlock()
	if err != nil {
		return recording.Recording{}, err
	}
	return s.inner.CreateRecording(ctx, id)
}

// AppendChunks implements [recording.Store].
func (s *Store) AppendChunks(ctx context.Context, id string, chunks [][]byte) error {
	s.mu.Lock()
	s.CallCountAppend++
	err := s.AppendError
	notify := s.Appended
	s.mu.Unlock()

	if err == nil {
		err = s.inner.AppendChunks(ctx, id, chunks)
	}
	if notify != nil {
		select {
		case notify <- struct{}{}:
		default:
		}
	}
	return err
}

// ListRecordings implements [recording.Store].
func (s *Store) ListRecordings(ctx context.Context) ([]recording.Recording, error) {
	s.mu.Lock()
	s.CallCountList++
	err := s.ListError
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.inner.ListRecordings(ctx)
}

// GetRecording implements [recording.Store].
func (s *Store) GetRecording(ctx context.Context, id string) (recording.Recording, error) {
	return s.inner.GetRecording(ctx, id)
}

// Chunks implements [recording.Store].
func (s *Store) Chunks(ctx context.Context, id string) ([][]byte, error) {
	return s.inner.Chunks(ctx, id)
}

// DeleteRecording implements [recording.Store].
func (s *Store) DeleteRecording(ctx context.Context, id string) error {
	s.mu.Lock()
	s.CallCountDelete++
	err := s.DeleteError
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.inner.DeleteRecording(ctx, id)
}

// ClearAll implements [recording.Store].
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	s.CallCountClear++
	err := s.DeleteError
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.inner.ClearAll(ctx)
}

// SetAppendError replaces AppendError under the lock.
func (s *Store) SetAppendError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AppendError = err
}

// AppendCount returns CallCountAppend.
func (s *Store) AppendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountAppend
}
