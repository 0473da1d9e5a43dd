package codec_test

import (
	"testing"
	"time"

	"github.com/parleyvoice/parley/pkg/audio/codec"
)

func TestFormatValidate(t *testing.T) {
	tests := []struct {
		name    string
		format  codec.Format
		wantErr bool
	}{
		{
			name:   "valid opus",
			format: codec.Format{Codec: codec.Opus, SampleRate: 16000, Channels: 1, FrameDuration: 60 * time.Millisecond},
		},
		{
			name:   "valid pcm stereo",
			format: codec.Format{Codec: codec.PCM, SampleRate: 48000, Channels: 2, FrameDuration: 20 * time.Millisecond},
		},
		{
			name:    "unknown codec",
			format:  codec.Format{Codec: "g729", SampleRate: 8000, Channels: 1, FrameDuration: 20 * time.Millisecond},
			wantErr: true,
		},
		{
			name:    "zero sample rate",
			format:  codec.Format{Codec: codec.Opus, SampleRate: 0, Channels: 1, FrameDuration: 20 * time.Millisecond},
			wantErr: true,
		},
		{
			name:    "too many channels",
			format:  codec.Format{Codec: codec.Opus, SampleRate: 16000, Channels: 3, FrameDuration: 20 * time.Millisecond},
			wantErr: true,
		},
		{
			name:    "zero frame duration",
			format:  codec.Format{Codec: codec.Opus, SampleRate: 16000, Channels: 1},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.format.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFormatSizes(t *testing.T) {
	f := codec.Format{Codec: codec.Opus, SampleRate: 16000, Channels: 1, FrameDuration: 60 * time.Millisecond}
	if got := f.SamplesPerFrame(); got != 960 {
		t.Errorf("SamplesPerFrame() = %d, want 960", got)
	}
	if got := f.PCMBytesPerFrame(); got != 1920 {
		t.Errorf("PCMBytesPerFrame() = %d, want 1920", got)
	}

	stereo := codec.Format{Codec: codec.PCM, SampleRate: 48000, Channels: 2, FrameDuration: 20 * time.Millisecond}
	if got := stereo.SamplesPerFrame(); got != 960 {
		t.Errorf("SamplesPerFrame() = %d, want 960", got)
	}
	if got := stereo.PCMBytesPerFrame(); got != 3840 {
		t.Errorf("PCMBytesPerFrame() = %d, want 3840", got)
	}
}

func TestPassthrough(t *testing.T) {
	f := codec.Format{Codec: codec.PCM, SampleRate: 16000, Channels: 1, FrameDuration: 20 * time.Millisecond}
	tr, err := codec.New(f)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if tr.Format() != f {
		t.Errorf("Format() = %v, want %v", tr.Format(), f)
	}

	pcm := []byte{1, 2, 3, 4}
	out, err := tr.Decode(pcm)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if &out[0] != &pcm[0] {
		t.Error("expected decode passthrough to return the input slice")
	}
	out, err = tr.Encode(pcm)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if &out[0] != &pcm[0] {
		t.Error("expected encode passthrough to return the input slice")
	}

	if _, err := tr.Decode([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for odd byte count")
	}
}

func TestNewRejectsInvalidFormat(t *testing.T) {
	_, err := codec.New(codec.Format{Codec: "mystery", SampleRate: 16000, Channels: 1, FrameDuration: 20 * time.Millisecond})
	if err == nil {
		t.Fatal("expected error for unsupported codec")
	}
}
