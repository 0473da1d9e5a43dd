package transport

// Protocol version carried in the welcome acknowledgement.
const protocolVersion = 1

// Inbound control message types.
const (
	TypeHello      = "hello"
	TypeNewSession = "new_session"
	TypePing       = "ping"
)

// AudioParams is the audio format block of the hello handshake, in both
// directions.
type AudioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration"` // milliseconds
}

// InboundMessage is the envelope of every client control message. Fields
// beyond Type are populated per message type.
type InboundMessage struct {
	Type        string       `json:"type"`
	Version     int          `json:"version,omitempty"`
	Transport   string       `json:"transport,omitempty"`
	AudioParams *AudioParams `json:"audio_params,omitempty"`
	Text        string       `json:"text,omitempty"`
}

// welcomeMessage acknowledges a hello handshake with the negotiated format
// and a fresh session identifier.
type welcomeMessage struct {
	Type        string      `json:"type"`
	Version     int         `json:"version"`
	Transport   string      `json:"transport"`
	SessionID   string      `json:"session_id"`
	AudioParams AudioParams `json:"audio_params"`
	Features    []string    `json:"features,omitempty"`
}

type connectedMessage struct {
	Type string `json:"type"`
}

type pongMessage struct {
	Type string `json:"type"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

type asrResultMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Final     bool   `json:"final"`
	SessionID string `json:"session_id,omitempty"`
}

type llmResponseMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

// ttsMarkerMessage brackets a synthesized-speech turn so the client can
// manage its playback buffer.
type ttsMarkerMessage struct {
	Type      string `json:"type"`
	State     string `json:"state"` // "start" or "stop"
	SessionID string `json:"session_id,omitempty"`
}
