package recording

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/audio/wav"
)

// Export writes recording id to w as a mono 16-bit WAV file at sampleRate Hz
// (the pipeline rate if zero). It returns the number of bytes written.
func Export(ctx context.Context, store Store, id string, w io.Writer, sampleRate int) (int64, error) {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	chunks, err := store.Chunks(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("recording: export %s: %w", id, err)
	}
	n, err := wav.WriteChunks(w, chunks, sampleRate, 1)
	if err != nil {
		return n, fmt.Errorf("recording: export %s: %w", id, err)
	}
	return n, nil
}

// ExportFile exports recording id to path, creating parent directories as
// needed. The file is written to a temporary name first and renamed into
// place so readers never see a partial file.
func ExportFile(ctx context.Context, store Store, id, path string, sampleRate int) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("recording: export %s: %w", id, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".voxlink-*.wav")
	if err != nil {
		return 0, fmt.Errorf("recording: export %s: %w", id, err)
	}
	defer os.Remove(tmp.Name())

	n, err := Export(ctx, store, id, tmp, sampleRate)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("recording: export %s: %w", id, cerr)
	}
	if err != nil {
		return n, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return n, fmt.Errorf("recording: export %s: %w", id, err)
	}
	return n, nil
}
