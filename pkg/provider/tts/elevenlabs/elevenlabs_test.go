package elevenlabs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/parleyvoice/parley/pkg/provider/tts"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New("", tts.Config{}); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestNew_DefaultVoice(t *testing.T) {
	s, err := New("key", tts.Config{SampleRate: 16000})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.cfg.Voice == "" {
		t.Error("expected a default voice ID")
	}
}

func TestOutputFormat(t *testing.T) {
	tests := []struct {
		rate int
		want string
	}{
		{16000, "pcm_16000"},
		{24000, "pcm_24000"},
		{48000, "pcm_48000"},
		{11025, "pcm_16000"}, // unsupported rate falls back
		{0, "pcm_16000"},
	}
	for _, tt := range tests {
		if got := outputFormat(tt.rate); got != tt.want {
			t.Errorf("outputFormat(%d) = %q, want %q", tt.rate, got, tt.want)
		}
	}
}

func TestTextMessageShape(t *testing.T) {
	b, err := json.Marshal(textMessage{Text: "hello"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"text":"hello"}`
	if string(b) != want {
		t.Errorf("payload = %s, want %s", b, want)
	}

	// Flush marker is an empty text with no voice settings.
	b, _ = json.Marshal(textMessage{Text: ""})
	if string(b) != `{"text":""}` {
		t.Errorf("flush payload = %s", b)
	}
}

func TestSynthesize_AfterClose(t *testing.T) {
	s, err := New("key", tts.Config{SampleRate: 16000})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := s.Synthesize(context.Background(), "hello"); err == nil {
		t.Error("Synthesize after Close should fail")
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	s, err := New("key", tts.Config{SampleRate: 16000})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Synthesize(context.Background(), ""); err == nil {
		t.Error("empty text should be rejected before dialing")
	}
}

func TestAudioResponseParsing(t *testing.T) {
	var resp audioResponse
	payload := `{"audio":"AAEC","isFinal":false}`
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Audio != "AAEC" || resp.IsFinal {
		t.Errorf("unexpected parse result: %+v", resp)
	}
}
