package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxlink/pkg/recording"
	"github.com/MrWong99/voxlink/pkg/recording/mock"
)

func TestGuardedStore_OpensOnStoreFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	inner := &mock.Store{}
	cb, clk := newTestBreaker(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Second, HalfOpenMax: 1})
	store := GuardStore(inner, cb)

	if _, err := store.CreateRecording(ctx, "r1"); err != nil {
		t.Fatal(err)
	}

	inner.AppendError = errors.New("connection refused")
	for range 2 {
		if err := store.AppendChunks(ctx, "r1", [][]byte{{1, 2}}); err == nil {
			t.Fatal("expected the store error")
		}
	}
	if err := store.AppendChunks(ctx, "r1", [][]byte{{1, 2}}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("AppendChunks = %v, want ErrCircuitOpen", err)
	}
	if inner.CallCountAppend != 2 {
		t.Errorf("store saw %d appends, want 2 (open breaker must not call it)", inner.CallCountAppend)
	}

	// Reads bypass the breaker.
	if _, err := store.GetRecording(ctx, "r1"); err != nil {
		t.Errorf("GetRecording through open breaker: %v", err)
	}

	inner.AppendError = nil
	clk.Advance(time.Second)
	if err := store.AppendChunks(ctx, "r1", [][]byte{{3, 4}}); err != nil {
		t.Fatalf("probe append: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after a successful probe", cb.State())
	}
}

func TestGuardedStore_CallerErrorsDoNotTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cb, _ := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1})
	store := GuardStore(recording.NewMemStore(), cb)

	if _, err := store.CreateRecording(ctx, "dup"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.CreateRecording(ctx, "dup"); !errors.Is(err, recording.ErrExists) {
		t.Errorf("duplicate create = %v, want ErrExists", err)
	}
	if err := store.AppendChunks(ctx, "missing", [][]byte{{0, 0}}); !errors.Is(err, recording.ErrNotFound) {
		t.Errorf("append to unknown = %v, want ErrNotFound", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, caller errors must not open the breaker", cb.State())
	}
	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping on a store without health probe = %v", err)
	}
}
