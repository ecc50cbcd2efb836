package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// sampleScale maps a normalised sample onto the int16 range. Encoding never
// produces -32768, so [DecodeSample] is not an exact inverse at that value:
// -32768 decodes to slightly below -1. This lossy edge is accepted.
const sampleScale = 32767

// ErrOddLength is returned by [DecodePCM16] when a payload cannot hold a
// whole number of 16-bit samples.
var ErrOddLength = errors.New("audio: pcm payload length is not a multiple of 2")

// EncodeSample clamps s to [-1, 1], scales it by 32767 and rounds to the
// nearest integer (halves away from zero). NaN encodes as silence.
func EncodeSample(s float32) int16 {
	v := float64(s)
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	return int16(math.Round(v * sampleScale))
}

// DecodeSample converts an int16 sample into a normalised float.
func DecodeSample(s int16) float32 {
	return float32(s) / sampleScale
}

// Encode converts normalised samples to int16 samples. It returns a new slice.
func Encode(src []float32) []int16 {
	out := make([]int16, len(src))
	for i, s := range src {
		out[i] = EncodeSample(s)
	}
	return out
}

// Decode converts int16 samples to normalised samples. It returns a new slice.
func Decode(src []int16) []float32 {
	out := make([]float32, len(src))
	for i, s := range src {
		out[i] = DecodeSample(s)
	}
	return out
}

// AppendPCM16 encodes src as contiguous little-endian int16 samples and
// appends the bytes to dst. This is the wire format: no header, two bytes per
// sample.
func AppendPCM16(dst []byte, src []float32) []byte {
	for _, s := range src {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(EncodeSample(s)))
	}
	return dst
}

// DecodePCM16 decodes a little-endian int16 payload into normalised samples.
// It returns [ErrOddLength] when len(payload) is odd.
func DecodePCM16(payload []byte) ([]float32, error) {
	if len(payload)%BytesPerSample != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(payload))
	}
	out := make([]float32, len(payload)/BytesPerSample)
	for i := range out {
		out[i] = DecodeSample(int16(binary.LittleEndian.Uint16(payload[i*2:])))
	}
	return out, nil
}
