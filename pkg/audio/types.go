package audio

import "time"

// Frame represents a single frame of audio data flowing through a session.
// Frames are the atomic unit of audio transport — received from a client
// connection, filtered by echo suppression and VAD, transcoded by codecs,
// and paced back out as synthesized speech.
type Frame struct {
	// PCM audio data. Sample rate and channel count are determined by the
	// negotiated session format.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for device sessions, 48000 for calls).
	SampleRate int

	// Channels: 1 for mono (device microphones), 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}
