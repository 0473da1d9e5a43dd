// Package codec provides per-session transcoding between the negotiated wire
// codec and linear PCM. A Transcoder is built once from the format agreed in
// the session handshake and rebuilt whenever the client renegotiates.
package codec

import (
	"fmt"
	"time"
)

// Wire codec identifiers accepted in the session handshake.
const (
	Opus = "opus"
	PCM  = "pcm"
)

// Format is the immutable wire format negotiated with a client.
type Format struct {
	// Codec names the wire codec, e.g. "opus" or "pcm".
	Codec string

	// SampleRate in Hz.
	SampleRate int

	// Channels is the interleaved channel count.
	Channels int

	// FrameDuration is the length of audio carried by one wire frame.
	FrameDuration time.Duration
}

// SamplesPerFrame returns the per-channel sample count of one frame.
func (f Format) SamplesPerFrame() int {
	return int(int64(f.SampleRate) * f.FrameDuration.Milliseconds() / 1000)
}

// PCMBytesPerFrame returns the size in bytes of one frame as int16 PCM.
func (f Format) PCMBytesPerFrame() int {
	return f.SamplesPerFrame() * f.Channels * 2
}

// Validate reports whether the format can back a transcoder.
func (f Format) Validate() error {
	switch f.Codec {
	case Opus, PCM:
	default:
		return fmt.Errorf("codec: unsupported codec %q", f.Codec)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("codec: invalid sample rate %d", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("codec: invalid channel count %d", f.Channels)
	}
	if f.FrameDuration <= 0 {
		return fmt.Errorf("codec: invalid frame duration %v", f.FrameDuration)
	}
	return nil
}

func (f Format) String() string {
	return fmt.Sprintf("%s/%dHz/%dch/%v", f.Codec, f.SampleRate, f.Channels, f.FrameDuration)
}

// Transcoder converts between the wire codec and little-endian int16 PCM.
// Implementations hold per-stream codec state and are not safe for
// concurrent use; sessions own exactly one per direction pair.
type Transcoder interface {
	// Decode converts one wire frame to PCM.
	Decode(wire []byte) ([]byte, error)

	// Encode converts one PCM frame to the wire codec.
	Encode(pcm []byte) ([]byte, error)

	// Format returns the format this transcoder was built for.
	Format() Format
}

// New builds a Transcoder for the given format.
func New(f Format) (Transcoder, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	switch f.Codec {
	case Opus:
		return newOpusTranscoder(f)
	case PCM:
		return passthrough{format: f}, nil
	}
	return nil, fmt.Errorf("codec: unsupported codec %q", f.Codec)
}

// passthrough is the identity transcoder for sessions that negotiate raw PCM.
type passthrough struct {
	format Format
}

var _ Transcoder = passthrough{}

func (p passthrough) Decode(wire []byte) ([]byte, error) {
	if len(wire)%2 != 0 {
		return nil, fmt.Errorf("codec: odd byte count %d in PCM frame", len(wire))
	}
	return wire, nil
}

func (p passthrough) Encode(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("codec: odd byte count %d in PCM frame", len(pcm))
	}
	return pcm, nil
}

func (p passthrough) Format() Format { return p.format }
