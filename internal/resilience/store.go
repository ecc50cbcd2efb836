package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/voxlink/pkg/recording"
)

// GuardedStore routes recording writes through a [CircuitBreaker]. Reads are
// passed through so listing and export keep reporting the real error.
type GuardedStore struct {
	recording.Store
	cb *CircuitBreaker
}

// GuardStore wraps store so that CreateRecording and AppendChunks fail fast
// with [ErrCircuitOpen] while cb is open.
func GuardStore(store recording.Store, cb *CircuitBreaker) *GuardedStore {
	return &GuardedStore{Store: store, cb: cb}
}

// Breaker returns the breaker guarding the store.
func (g *GuardedStore) Breaker() *CircuitBreaker { return g.cb }

// CreateRecording implements [recording.Store].
func (g *GuardedStore) CreateRecording(ctx context.Context, id string) (recording.Recording, error) {
	var (
		rec recording.Recording
		err error
	)
	if berr := g.guard(ctx, func(ctx context.Context) error {
		rec, err = g.Store.CreateRecording(ctx, id)
		return err
	}); berr != nil {
		return recording.Recording{}, berr
	}
	return rec, err
}

// AppendChunks implements [recording.Store].
func (g *GuardedStore) AppendChunks(ctx context.Context, id string, chunks [][]byte) error {
	var err error
	if berr := g.guard(ctx, func(ctx context.Context) error {
		err = g.Store.AppendChunks(ctx, id, chunks)
		return err
	}); berr != nil {
		return berr
	}
	return err
}

// guard runs fn through the breaker. Errors the caller caused, such as a
// duplicate or unknown ID, say nothing about the store's health and do not
// count as failures; fn's own error is returned separately by the caller.
func (g *GuardedStore) guard(ctx context.Context, fn func(ctx context.Context) error) error {
	return g.cb.Execute(ctx, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, recording.ErrExists) || errors.Is(err, recording.ErrNotFound) {
			return nil
		}
		return err
	})
}

// Ping forwards to the wrapped store when it supports health probes.
func (g *GuardedStore) Ping(ctx context.Context) error {
	if p, ok := g.Store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}
