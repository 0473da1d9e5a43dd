// Package vad implements energy-based voice activity detection used for
// barge-in: deciding whether inbound microphone audio during synthesized
// playback is the user talking over the assistant. Utterance segmentation is
// not done here; the speech recognizer handles that itself.
package vad

import (
	"sync"

	"github.com/parleyvoice/parley/pkg/audio"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultThreshold         = 1000.0
	DefaultConsecutiveFrames = 3
)

const (
	// Energy below this counts toward the ambient noise floor.
	noiseFloorCeiling = 200.0
	// Adaptive threshold never drops below this.
	minThreshold = 50.0
	// Number of recent quiet frames kept for noise-floor estimation.
	noiseWindow = 50
)

// Config is fixed at session creation from assistant policy and is not
// renegotiated mid-call.
type Config struct {
	// Enabled toggles barge-in detection entirely.
	Enabled bool

	// Threshold is the RMS energy above which a frame counts as speech.
	// It is also the upper clamp for the adaptive threshold.
	Threshold float64

	// ConsecutiveFrames is how many speech frames in a row trigger barge-in.
	ConsecutiveFrames int
}

// Detector classifies PCM buffers as speech or non-speech. Stateful only in
// its consecutive-frame counter and the trailing noise-floor window.
type Detector struct {
	cfg Config

	mu      sync.Mutex
	counter int
	noise   []float64
}

// New creates a Detector, filling zero Config fields with defaults.
func New(cfg Config) *Detector {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.ConsecutiveFrames <= 0 {
		cfg.ConsecutiveFrames = DefaultConsecutiveFrames
	}
	return &Detector{cfg: cfg}
}

// CheckBargeIn reports whether the given PCM chunk completes a barge-in:
// energy above the (adaptive) threshold for ConsecutiveFrames calls in a row.
// Always false when detection is disabled or TTS is not playing. The counter
// resets whenever energy drops below threshold, and after a trigger.
func (d *Detector) CheckBargeIn(pcm []byte, ttsPlaying bool) bool {
	if !d.cfg.Enabled || !ttsPlaying {
		return false
	}

	rms := audio.RMS16(pcm)

	d.mu.Lock()
	defer d.mu.Unlock()

	if rms < noiseFloorCeiling {
		d.noise = append(d.noise, rms)
		if len(d.noise) > noiseWindow {
			d.noise = d.noise[len(d.noise)-noiseWindow:]
		}
	}

	if rms <= d.effectiveThreshold() {
		d.counter = 0
		return false
	}

	d.counter++
	if d.counter >= d.cfg.ConsecutiveFrames {
		d.counter = 0
		return true
	}
	return false
}

// effectiveThreshold derives the detection threshold from the observed noise
// floor: 3x the ambient floor, clamped to [minThreshold, configured]. Callers
// must hold d.mu.
func (d *Detector) effectiveThreshold() float64 {
	if len(d.noise) == 0 {
		return d.cfg.Threshold
	}
	var sum float64
	for _, n := range d.noise {
		sum += n
	}
	adaptive := 3 * (sum / float64(len(d.noise)))
	if adaptive < minThreshold {
		adaptive = minThreshold
	}
	if adaptive > d.cfg.Threshold {
		adaptive = d.cfg.Threshold
	}
	return adaptive
}

// Reset clears the consecutive-frame counter, e.g. when a new utterance or
// session starts.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.counter = 0
	d.mu.Unlock()
}
