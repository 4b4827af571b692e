package realtime

import (
	"encoding/base64"
	"encoding/binary"
	"math"
)

const (
	// SampleRate is the fixed session sample rate. All audio crossing the
	// wire is little-endian 16-bit signed PCM, mono, at this rate.
	SampleRate = 24_000

	bytesPerSample = 2
)

// EncodeAudio base64-encodes raw PCM16LE bytes for the wire.
func EncodeAudio(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeAudio decodes base64 wire audio back into raw PCM16LE bytes.
func DecodeAudio(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// Float32ToPCM16 converts float samples in [-1, 1] to little-endian
// 16-bit signed PCM. Out-of-range samples are clamped.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		v := math.Round(float64(min(max(s, -1), 1)) * 32767)
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(int16(v)))
	}
	return out
}

// msToByteOffset converts a millisecond position into a byte offset
// within a PCM16 buffer at the session sample rate.
func msToByteOffset(ms int) int {
	return ms * SampleRate / 1000 * bytesPerSample
}

// sliceAudio copies the sample-accurate window [startMS, endMS) out of a
// PCM16 buffer. Bounds are clamped to the buffer.
func sliceAudio(buf []byte, startMS, endMS int) []byte {
	start := min(msToByteOffset(startMS), len(buf))
	end := min(msToByteOffset(endMS), len(buf))
	if start < 0 {
		start = 0
	}
	if end < start {
		end = start
	}
	out := make([]byte, end-start)
	copy(out, buf[start:end])
	return out
}
