package codec

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/parleyvoice/parley/pkg/audio"
)

// opusTranscoder pairs a gopus decoder and encoder for one session. Opus
// codec state is sequential across frames, so the pair must never be shared
// between sessions.
type opusTranscoder struct {
	format    Format
	frameSize int // samples per channel per frame
	dec       *gopus.Decoder
	enc       *gopus.Encoder
}

var _ Transcoder = (*opusTranscoder)(nil)

func newOpusTranscoder(f Format) (*opusTranscoder, error) {
	dec, err := gopus.NewDecoder(f.SampleRate, f.Channels)
	if err != nil {
		return nil, fmt.Errorf("codec: create opus decoder: %w", err)
	}
	enc, err := gopus.NewEncoder(f.SampleRate, f.Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("codec: create opus encoder: %w", err)
	}
	return &opusTranscoder{
		format:    f,
		frameSize: f.SamplesPerFrame(),
		dec:       dec,
		enc:       enc,
	}, nil
}

// Decode decodes one Opus packet into little-endian int16 PCM.
func (t *opusTranscoder) Decode(wire []byte) ([]byte, error) {
	pcm, err := t.dec.Decode(wire, t.frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("codec: opus decode: %w", err)
	}
	return audio.Int16sToBytes(pcm), nil
}

// Encode encodes one PCM frame (little-endian int16) into an Opus packet.
func (t *opusTranscoder) Encode(pcm []byte) ([]byte, error) {
	samples := audio.BytesToInt16s(pcm)
	wire, err := t.enc.Encode(samples, t.frameSize, len(pcm))
	if err != nil {
		return nil, fmt.Errorf("codec: opus encode: %w", err)
	}
	return wire, nil
}

func (t *opusTranscoder) Format() Format { return t.format }
