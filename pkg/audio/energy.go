package audio

import "math"

// RMS16 computes the root-mean-square energy of little-endian int16 PCM.
// Returns 0 for buffers shorter than one sample. Trailing odd bytes are
// ignored. Values range from 0 (silence) to ~32768 (full-scale).
func RMS16(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < samples; i++ {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(samples))
}

// BytesToInt16s converts little-endian PCM bytes to int16 samples.
// A trailing odd byte is discarded.
func BytesToInt16s(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return samples
}

// Int16sToBytes converts int16 samples to little-endian PCM bytes.
func Int16sToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
