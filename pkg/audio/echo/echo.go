// Package echo filters inbound microphone audio against a trailing window of
// recently sent synthesized audio, so that the assistant does not transcribe
// its own speech leaking back through the client's speaker.
package echo

import (
	"sync"
	"time"

	"github.com/parleyvoice/parley/pkg/audio"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultSilenceThreshold = 50.0
	DefaultEchoThreshold    = 1000.0
)

const (
	// Trailing window of outbound frames retained for comparison.
	retainWindow = 2 * time.Second
	maxRetained  = 100

	// An inbound chunk can only be echo of output sent between these bounds
	// ago: sound needs time to travel speaker → air → microphone, and decays
	// quickly after.
	echoDelayMin = 200 * time.Millisecond
	echoDelayMax = 2 * time.Second

	// Sample-level similarity above which a chunk is treated as echo.
	similarityThreshold = 0.7

	// How many leading samples participate in the similarity comparison.
	similaritySamples = 100
)

// Config controls the suppression behavior of a Manager.
type Config struct {
	// Enabled toggles echo comparison in suppress mode. When false, suppress
	// mode degrades to the same silence gate as normal mode.
	Enabled bool

	// SilenceThreshold is the RMS energy below which chunks are rejected in
	// any mode.
	SilenceThreshold float64

	// EchoThreshold is the RMS energy below which chunks are rejected while
	// in suppress mode. Quiet audio during playback is overwhelmingly
	// residual echo rather than the user talking over it.
	EchoThreshold float64
}

// outFrame is one recorded outbound synthesized frame.
type outFrame struct {
	data   []byte
	energy float64
	sentAt time.Time
}

// Manager decides, per inbound PCM chunk, whether it is genuine user speech
// or residual playback echo. Safe for concurrent use.
type Manager struct {
	cfg Config

	mu     sync.Mutex
	recent []outFrame

	now func() time.Time // test hook
}

// New creates a Manager, filling zero Config fields with defaults.
func New(cfg Config) *Manager {
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = DefaultSilenceThreshold
	}
	if cfg.EchoThreshold <= 0 {
		cfg.EchoThreshold = DefaultEchoThreshold
	}
	return &Manager{cfg: cfg, now: time.Now}
}

// ProcessInputAudio inspects one inbound PCM chunk and reports whether it
// should be forwarded to speech recognition. The chunk itself is returned
// unmodified. In suppress mode the chunk is compared against the retained
// outbound window; in normal mode only the silence gate applies.
func (m *Manager) ProcessInputAudio(pcm []byte, suppress bool) ([]byte, bool) {
	energy := audio.RMS16(pcm)

	if !suppress || !m.cfg.Enabled {
		return pcm, energy >= m.cfg.SilenceThreshold
	}

	if energy < m.cfg.EchoThreshold {
		return pcm, false
	}
	if m.isEcho(pcm, energy) {
		return pcm, false
	}
	return pcm, true
}

// RecordOutput adds one outbound synthesized PCM frame to the trailing
// comparison window. Call it for every frame sent to the client.
func (m *Manager) RecordOutput(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	data := make([]byte, len(pcm))
	copy(data, pcm)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.recent = append(m.recent, outFrame{
		data:   data,
		energy: audio.RMS16(pcm),
		sentAt: now,
	})
	m.trimLocked(now)
}

// Clear resets the retained window, e.g. on a new session or utterance.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.recent = nil
	m.mu.Unlock()
}

// isEcho compares the chunk against every retained outbound frame inside the
// plausible echo delay window. A match on energy, length, and sample shape
// means the chunk is acoustic feedback of our own output.
func (m *Manager) isEcho(pcm []byte, energy float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, f := range m.recent {
		age := now.Sub(f.sentAt)
		if age < echoDelayMin || age > echoDelayMax {
			continue
		}
		// Echo arrives attenuated, never louder; allow up to 50% energy drift.
		diff := f.energy - energy
		if diff < 0 {
			diff = -diff
		}
		if diff > energy/2 {
			continue
		}
		// Length must be in the same ballpark.
		lenDiff := len(f.data) - len(pcm)
		if lenDiff < 0 {
			lenDiff = -lenDiff
		}
		if lenDiff > len(pcm)/4 {
			continue
		}
		if similarity(f.data, pcm) > similarityThreshold {
			return true
		}
	}
	return false
}

// similarity measures sample-shape closeness of two PCM buffers in [0, 1]
// over their leading samples. 1 means identical.
func similarity(a, b []byte) float64 {
	sa := audio.BytesToInt16s(a)
	sb := audio.BytesToInt16s(b)

	n := len(sa)
	if len(sb) < n {
		n = len(sb)
	}
	if n > similaritySamples {
		n = similaritySamples
	}
	if n == 0 {
		return 0
	}

	var total float64
	for i := 0; i < n; i++ {
		d := float64(sa[i]) - float64(sb[i])
		if d < 0 {
			d = -d
		}
		total += d
	}
	return 1 - total/(float64(n)*65536)
}

// trimLocked drops frames outside the retain window and caps the slice.
// Callers must hold m.mu.
func (m *Manager) trimLocked(now time.Time) {
	cutoff := now.Add(-retainWindow)
	first := 0
	for first < len(m.recent) && m.recent[first].sentAt.Before(cutoff) {
		first++
	}
	m.recent = m.recent[first:]
	if len(m.recent) > maxRetained {
		m.recent = m.recent[len(m.recent)-maxRetained:]
	}
}
