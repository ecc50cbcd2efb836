package recording_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxlink/pkg/recording"
	"github.com/MrWong99/voxlink/pkg/recording/mock"
)

func runRecorder(t *testing.T, r *recording.Recorder) (wait func()) {
	t.Helper()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := r.Run(context.Background()); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()
	return func() {
		r.Close()
		wg.Wait()
	}
}

func TestRecorder_BatchesFramesIntoChunks(t *testing.T) {
	t.Parallel()
	store := recording.NewMemStore()
	ctx := context.Background()
	rec, _ := store.CreateRecording(ctx, "")

	r := recording.NewRecorder(store, rec.ID, recording.WithChunkFrames(2))
	wait := runRecorder(t, r)
	for i := range 5 {
		r.Write([]byte{byte(i), 0})
	}
	wait()

	chunks, err := store.Chunks(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Chunks: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3 (2+2+1)", len(chunks))
	}
	joined := bytes.Join(chunks, nil)
	want := []byte{0, 0, 1, 0, 2, 0, 3, 0, 4, 0}
	if !bytes.Equal(joined, want) {
		t.Errorf("stored PCM = %v, want %v", joined, want)
	}
	st := r.Stats()
	if st.Frames != 5 || st.Chunks != 3 || st.Bytes != 10 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestRecorder_StoreFailureIsIsolated(t *testing.T) {
	t.Parallel()
	store := &mock.Store{Appended: make(chan struct{}, 8)}
	rec, _ := store.CreateRecording(context.Background(), "")
	store.SetAppendError(errors.New("disk full"))

	errs := make(chan error, 8)
	r := recording.NewRecorder(store, rec.ID,
		recording.WithChunkFrames(1),
		recording.WithErrorHandler(func(err error) { errs <- err }),
	)
	wait := runRecorder(t, r)

	r.Write([]byte{1, 0})
	select {
	case err := <-errs:
		if err == nil || !bytes.Contains([]byte(err.Error()), []byte("disk full")) {
			t.Errorf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("store failure was not reported")
	}

	// Recovery: later frames are stored again.
	store.SetAppendError(nil)
	r.Write([]byte{2, 0})
	wait()

	st := r.Stats()
	if st.Failures != 1 || st.Frames != 1 {
		t.Errorf("Stats = %+v, want 1 failure and 1 stored frame", st)
	}
}

func TestRecorder_WriteNeverBlocks(t *testing.T) {
	t.Parallel()
	store := recording.NewMemStore()
	rec, _ := store.CreateRecording(context.Background(), "")
	r := recording.NewRecorder(store, rec.ID, recording.WithQueueSize(2))

	// Not running: the queue fills and drops oldest instead of blocking.
	done := make(chan struct{})
	go func() {
		for range 10 {
			r.Write([]byte{1, 0})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Write blocked")
	}
	if r.Stats().Dropped != 8 {
		t.Errorf("Dropped = %d, want 8", r.Stats().Dropped)
	}
}

func TestRecorder_FlushesOnContextCancel(t *testing.T) {
	t.Parallel()
	store := recording.NewMemStore()
	rec, _ := store.CreateRecording(context.Background(), "")
	r := recording.NewRecorder(store, rec.ID, recording.WithChunkFrames(100))

	r.Write([]byte{1, 0})
	r.Write([]byte{2, 0})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, _ := store.GetRecording(context.Background(), rec.ID)
	if got.Bytes != 4 {
		t.Errorf("Bytes = %d, want 4 flushed on shutdown", got.Bytes)
	}
}
