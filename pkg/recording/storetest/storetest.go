// Package storetest holds behavioural tests shared by every
// [recording.Store] implementation.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxlink/pkg/recording"
)

// Run exercises the Store contract against stores produced by newStore. Each
// subtest gets a fresh, empty store.
func Run(t *testing.T, newStore func(t *testing.T) recording.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("create generates id", func(t *testing.T) {
		s := newStore(t)
		rec, err := s.CreateRecording(ctx, "")
		if err != nil {
			t.Fatalf("CreateRecording: %v", err)
		}
		if rec.ID == "" {
			t.Fatal("expected generated ID")
		}
		if rec.CreatedAt.IsZero() {
			t.Error("CreatedAt not set")
		}
	})

	t.Run("create duplicate", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.CreateRecording(ctx, "dup"); err != nil {
			t.Fatalf("CreateRecording: %v", err)
		}
		if _, err := s.CreateRecording(ctx, "dup"); !errors.Is(err, recording.ErrExists) {
			t.Errorf("second create = %v, want ErrExists", err)
		}
	})

	t.Run("append keeps order", func(t *testing.T) {
		s := newStore(t)
		mustCreate(t, s, "r1")
		first := [][]byte{{1, 0}, {2, 0, 3, 0}}
		if err := s.AppendChunks(ctx, "r1", first); err != nil {
			t.Fatalf("AppendChunks: %v", err)
		}
		if err := s.AppendChunks(ctx, "r1", [][]byte{{4, 0}}); err != nil {
			t.Fatalf("AppendChunks: %v", err)
		}
		got, err := s.Chunks(ctx, "r1")
		if err != nil {
			t.Fatalf("Chunks: %v", err)
		}
		want := [][]byte{{1, 0}, {2, 0, 3, 0}, {4, 0}}
		if len(got) != len(want) {
			t.Fatalf("got %d chunks, want %d", len(got), len(want))
		}
		for i := range want {
			if !bytes.Equal(got[i], want[i]) {
				t.Errorf("chunk %d = %v, want %v", i, got[i], want[i])
			}
		}
		rec, err := s.GetRecording(ctx, "r1")
		if err != nil {
			t.Fatalf("GetRecording: %v", err)
		}
		if rec.Chunks != 3 || rec.Bytes != 8 {
			t.Errorf("meta = %+v, want 3 chunks / 8 bytes", rec)
		}
	})

	t.Run("append copies data", func(t *testing.T) {
		s := newStore(t)
		mustCreate(t, s, "r1")
		buf := []byte{9, 9}
		_ = s.AppendChunks(ctx, "r1", [][]byte{buf})
		buf[0] = 0
		got, _ := s.Chunks(ctx, "r1")
		if got[0][0] != 9 {
			t.Error("store kept a reference to the caller's buffer")
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		s := newStore(t)
		if err := s.AppendChunks(ctx, "nope", [][]byte{{1, 0}}); !errors.Is(err, recording.ErrNotFound) {
			t.Errorf("AppendChunks = %v, want ErrNotFound", err)
		}
		if _, err := s.Chunks(ctx, "nope"); !errors.Is(err, recording.ErrNotFound) {
			t.Errorf("Chunks = %v, want ErrNotFound", err)
		}
		if _, err := s.GetRecording(ctx, "nope"); !errors.Is(err, recording.ErrNotFound) {
			t.Errorf("GetRecording = %v, want ErrNotFound", err)
		}
		if err := s.DeleteRecording(ctx, "nope"); !errors.Is(err, recording.ErrNotFound) {
			t.Errorf("DeleteRecording = %v, want ErrNotFound", err)
		}
	})

	t.Run("list newest first", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"a", "b", "c"} {
			mustCreate(t, s, id)
			time.Sleep(2 * time.Millisecond)
		}
		list, err := s.ListRecordings(ctx)
		if err != nil {
			t.Fatalf("ListRecordings: %v", err)
		}
		var ids []string
		for _, r := range list {
			ids = append(ids, r.ID)
		}
		if len(ids) != 3 || ids[0] != "c" || ids[1] != "b" || ids[2] != "a" {
			t.Errorf("order = %v, want [c b a]", ids)
		}
	})

	t.Run("delete and clear", func(t *testing.T) {
		s := newStore(t)
		mustCreate(t, s, "a")
		mustCreate(t, s, "b")
		_ = s.AppendChunks(ctx, "a", [][]byte{{1, 0}})
		if err := s.DeleteRecording(ctx, "a"); err != nil {
			t.Fatalf("DeleteRecording: %v", err)
		}
		if _, err := s.Chunks(ctx, "a"); !errors.Is(err, recording.ErrNotFound) {
			t.Errorf("deleted recording still readable: %v", err)
		}
		if err := s.ClearAll(ctx); err != nil {
			t.Fatalf("ClearAll: %v", err)
		}
		list, _ := s.ListRecordings(ctx)
		if len(list) != 0 {
			t.Errorf("%d recordings left after ClearAll", len(list))
		}
		if err := s.ClearAll(ctx); err != nil {
			t.Errorf("ClearAll on empty store: %v", err)
		}
	})
}

func mustCreate(t *testing.T, s recording.Store, id string) {
	t.Helper()
	if _, err := s.CreateRecording(context.Background(), id); err != nil {
		t.Fatalf("CreateRecording(%q): %v", id, err)
	}
}
