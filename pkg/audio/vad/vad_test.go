package vad_test

import (
	"testing"

	"github.com/parleyvoice/parley/pkg/audio"
	"github.com/parleyvoice/parley/pkg/audio/vad"
)

// tone returns a PCM buffer of constant amplitude, so its RMS equals amp.
func tone(amp int16, samples int) []byte {
	s := make([]int16, samples)
	for i := range s {
		if i%2 == 0 {
			s[i] = amp
		} else {
			s[i] = -amp
		}
	}
	return audio.Int16sToBytes(s)
}

func TestCheckBargeIn_ConsecutiveFrames(t *testing.T) {
	d := vad.New(vad.Config{Enabled: true, Threshold: 500, ConsecutiveFrames: 3})

	loud := tone(2000, 160)
	if d.CheckBargeIn(loud, true) {
		t.Error("frame 1: should not trigger yet")
	}
	if d.CheckBargeIn(loud, true) {
		t.Error("frame 2: should not trigger yet")
	}
	if !d.CheckBargeIn(loud, true) {
		t.Error("frame 3: expected barge-in trigger")
	}
	// Counter resets after a trigger.
	if d.CheckBargeIn(loud, true) {
		t.Error("frame 4: counter should have reset after trigger")
	}
}

func TestCheckBargeIn_CounterResetsOnQuiet(t *testing.T) {
	d := vad.New(vad.Config{Enabled: true, Threshold: 500, ConsecutiveFrames: 2})

	loud := tone(2000, 160)
	quiet := tone(10, 160)

	if d.CheckBargeIn(loud, true) {
		t.Error("single loud frame should not trigger")
	}
	if d.CheckBargeIn(quiet, true) {
		t.Error("quiet frame should not trigger")
	}
	// Counter was reset by the quiet frame; one loud frame is not enough.
	if d.CheckBargeIn(loud, true) {
		t.Error("counter should have reset on quiet frame")
	}
	if !d.CheckBargeIn(loud, true) {
		t.Error("second consecutive loud frame should trigger")
	}
}

func TestCheckBargeIn_DisabledOrIdle(t *testing.T) {
	loud := tone(5000, 160)

	d := vad.New(vad.Config{Enabled: false, Threshold: 500, ConsecutiveFrames: 1})
	if d.CheckBargeIn(loud, true) {
		t.Error("disabled detector must never trigger")
	}

	d = vad.New(vad.Config{Enabled: true, Threshold: 500, ConsecutiveFrames: 1})
	if d.CheckBargeIn(loud, false) {
		t.Error("must not trigger while TTS is not playing")
	}
}

func TestCheckBargeIn_AdaptiveThreshold(t *testing.T) {
	// With a very quiet ambient floor the effective threshold adapts well
	// below the configured one, so moderate speech still triggers.
	d := vad.New(vad.Config{Enabled: true, Threshold: 10000, ConsecutiveFrames: 1})

	quiet := tone(20, 160)
	for range 10 {
		d.CheckBargeIn(quiet, true)
	}

	// 3x floor (~60) clamps up to the 50 minimum; amplitude 200 clears it.
	moderate := tone(200, 160)
	if !d.CheckBargeIn(moderate, true) {
		t.Error("expected adaptive threshold to admit moderate speech over a quiet floor")
	}
}

func TestReset(t *testing.T) {
	d := vad.New(vad.Config{Enabled: true, Threshold: 500, ConsecutiveFrames: 2})
	loud := tone(2000, 160)

	d.CheckBargeIn(loud, true)
	d.Reset()
	if d.CheckBargeIn(loud, true) {
		t.Error("Reset should clear the consecutive-frame counter")
	}
}

func TestDefaults(t *testing.T) {
	d := vad.New(vad.Config{Enabled: true})
	// Below the default threshold: never triggers however often it is called.
	soft := tone(100, 160)
	for range 10 {
		if d.CheckBargeIn(soft, true) {
			t.Fatal("soft audio below default threshold must not trigger")
		}
	}
}
