// Package wav encodes and parses the RIFF/WAVE container used for exported
// recordings.
//
// Only uncompressed 16-bit little-endian PCM is produced. The encoder writes
// the canonical 44-byte header; the parser walks the chunk list so files with
// extra chunks (LIST, fact) written by other tools are accepted too.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// HeaderSize is the size of the canonical header written by this package.
const HeaderSize = 44

const (
	formatPCM     = 1
	bitsPerSample = 16
	fmtChunkSize  = 16
)

var (
	// ErrInvalid is returned when data is not a RIFF/WAVE container.
	ErrInvalid = errors.New("wav: not a RIFF/WAVE container")

	// ErrUnsupported is returned for containers holding anything other than
	// 16-bit integer PCM.
	ErrUnsupported = errors.New("wav: unsupported sample format")
)

// Format describes the sample layout of a container.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// Info is the metadata of a parsed container.
type Info struct {
	Format

	// DataOffset is the byte offset of the first sample.
	DataOffset int

	// DataSize is the length of the sample data in bytes.
	DataSize int

	// Samples is the number of samples per channel.
	Samples int

	Duration time.Duration
}

// header mirrors the canonical 44-byte layout.
type header struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

func newHeader(dataSize, sampleRate, channels int) header {
	if channels <= 0 {
		channels = 1
	}
	blockAlign := channels * bitsPerSample / 8
	return header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(HeaderSize - 8 + dataSize),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: fmtChunkSize,
		AudioFormat:   formatPCM,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * blockAlign),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(dataSize),
	}
}

func (h header) appendTo(dst []byte) []byte {
	dst = append(dst, h.ChunkID[:]...)
	dst = binary.LittleEndian.AppendUint32(dst, h.ChunkSize)
	dst = append(dst, h.Format[:]...)
	dst = append(dst, h.Subchunk1ID[:]...)
	dst = binary.LittleEndian.AppendUint32(dst, h.Subchunk1Size)
	dst = binary.LittleEndian.AppendUint16(dst, h.AudioFormat)
	dst = binary.LittleEndian.AppendUint16(dst, h.NumChannels)
	dst = binary.LittleEndian.AppendUint32(dst, h.SampleRate)
	dst = binary.LittleEndian.AppendUint32(dst, h.ByteRate)
	dst = binary.LittleEndian.AppendUint16(dst, h.BlockAlign)
	dst = binary.LittleEndian.AppendUint16(dst, h.BitsPerSample)
	dst = append(dst, h.Subchunk2ID[:]...)
	return binary.LittleEndian.AppendUint32(dst, h.Subchunk2Size)
}

// Encode wraps int16 samples in a WAV container. Encoding is total: an empty
// slice produces a header-only file.
//
// 32000 mono samples at 16 kHz encode to 64108 bytes.
func Encode(samples []int16, sampleRate, channels int) []byte {
	dataSize := len(samples) * 2
	out := newHeader(dataSize, sampleRate, channels).appendTo(make([]byte, 0, HeaderSize+dataSize))
	for _, s := range samples {
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}
	return out
}

// EncodePCM wraps already serialised little-endian PCM in a WAV container.
func EncodePCM(pcm []byte, sampleRate, channels int) []byte {
	out := newHeader(len(pcm), sampleRate, channels).appendTo(make([]byte, 0, HeaderSize+len(pcm)))
	return append(out, pcm...)
}

// WriteChunks streams a header followed by chunks to w without joining them
// first. It returns the number of bytes written.
func WriteChunks(w io.Writer, chunks [][]byte, sampleRate, channels int) (int64, error) {
	var dataSize int
	for _, c := range chunks {
		dataSize += len(c)
	}
	n, err := w.Write(newHeader(dataSize, sampleRate, channels).appendTo(make([]byte, 0, HeaderSize)))
	written := int64(n)
	if err != nil {
		return written, fmt.Errorf("wav: write header: %w", err)
	}
	for _, c := range chunks {
		n, err := w.Write(c)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("wav: write data: %w", err)
		}
	}
	return written, nil
}

// Inspect parses the container metadata without copying sample data.
func Inspect(data []byte) (Info, error) {
	if len(data) < 12 {
		return Info{}, fmt.Errorf("%w: %d bytes", ErrInvalid, len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Info{}, ErrInvalid
	}

	var (
		info     Info
		foundFmt bool
	)
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < fmtChunkSize || body+fmtChunkSize > len(data) {
				return Info{}, fmt.Errorf("%w: truncated fmt chunk", ErrInvalid)
			}
			f := data[body:]
			if af := binary.LittleEndian.Uint16(f[0:2]); af != formatPCM {
				return Info{}, fmt.Errorf("%w: audio format %d", ErrUnsupported, af)
			}
			info.Channels = int(binary.LittleEndian.Uint16(f[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(f[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(f[14:16]))
			if info.BitsPerSample != bitsPerSample {
				return Info{}, fmt.Errorf("%w: %d bits per sample", ErrUnsupported, info.BitsPerSample)
			}
			foundFmt = true
		case "data":
			if !foundFmt {
				return Info{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalid)
			}
			// Streaming writers leave the size open; trust the file length.
			if body+size > len(data) {
				size = len(data) - body
			}
			info.DataOffset = body
			info.DataSize = size
			if frame := info.Channels * 2; frame > 0 {
				info.Samples = size / frame
			}
			if info.SampleRate > 0 {
				info.Duration = time.Duration(int64(info.Samples) * int64(time.Second) / int64(info.SampleRate))
			}
			return info, nil
		}

		offset = body + size
		if size%2 != 0 {
			offset++
		}
	}
	return Info{}, fmt.Errorf("%w: missing data chunk", ErrInvalid)
}

// Decode returns the interleaved samples of a 16-bit PCM container.
func Decode(data []byte) ([]int16, Format, error) {
	info, err := Inspect(data)
	if err != nil {
		return nil, Format{}, err
	}
	pcm := data[info.DataOffset : info.DataOffset+info.DataSize]
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples, info.Format, nil
}
