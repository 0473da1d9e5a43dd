// Package rtc provides the peer-to-peer audio transport used for direct
// real-time calls: SDP offer/answer exchange, ICE candidate gathering, codec
// negotiation, and raw media frame send/receive over a pion peer connection.
//
// It is independent of the WebSocket message transport; a call session wires
// its frames through the same transcoding and echo-suppression contracts.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/parleyvoice/parley/pkg/audio/codec"
)

// Supported wire codec names for the negotiated audio track.
const (
	CodecOpus = "opus"
	CodecPCMU = "pcmu"
	CodecPCMA = "pcma"
	CodecG722 = "g722"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultStreamID   = "parley-audio"
	DefaultICETimeout = 5 * time.Second
)

// ErrGatheringTimeout is returned when ICE candidate gathering does not
// complete within the configured timeout.
var ErrGatheringTimeout = errors.New("rtc: ICE gathering timed out")

// ErrNoCandidates is returned when gathering completed without producing any
// local candidates.
var ErrNoCandidates = errors.New("rtc: no ICE candidates gathered")

// Config tunes a PeerConnection.
type Config struct {
	// ICEServers for NAT traversal. Empty means host candidates only.
	ICEServers []webrtc.ICEServer

	// StreamID labels the outbound audio track.
	StreamID string

	// ICETimeout bounds candidate gathering in CreateOffer/CreateAnswer.
	ICETimeout time.Duration

	// Codec names the outbound track codec: opus (default), pcmu, pcma or
	// g722.
	Codec string

	// Logger for connection events. Nil uses slog.Default().
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.StreamID == "" {
		c.StreamID = DefaultStreamID
	}
	if c.ICETimeout <= 0 {
		c.ICETimeout = DefaultICETimeout
	}
	if c.Codec == "" {
		c.Codec = CodecOpus
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// PeerConnection is one direct-call audio leg. Safe for concurrent use.
//
// Register OnRemoteTrack before calling SetRemoteDescription: remote-track
// attachment may fire synchronously during that call.
type PeerConnection struct {
	cfg Config
	log *slog.Logger

	pc      *webrtc.PeerConnection
	txTrack *webrtc.TrackLocalStaticSample

	mu         sync.RWMutex
	rxTrack    *webrtc.TrackRemote
	candidates []webrtc.ICECandidateInit
	onTrack    func(*webrtc.TrackRemote)

	// done closes on the first terminal connection state, cancelling any
	// in-flight playback loop polling Next or blocking on Done.
	done     chan struct{}
	doneOnce sync.Once

	closeOnce sync.Once
}

// New builds a peer connection with the audio-only media engine and an
// outbound track for the configured codec.
func New(cfg Config) (*PeerConnection, error) {
	cfg.applyDefaults()

	api := webrtc.NewAPI(webrtc.WithMediaEngine(newMediaEngine()))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("rtc: new peer connection: %w", err)
	}

	p := &PeerConnection{
		cfg:  cfg,
		log:  cfg.Logger,
		pc:   pc,
		done: make(chan struct{}),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		p.mu.Lock()
		p.candidates = append(p.candidates, c.ToJSON())
		p.mu.Unlock()
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Info("peer connection state changed", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			p.doneOnce.Do(func() { close(p.done) })
		}
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.log.Info("remote track attached",
			"codec", remote.Codec().MimeType,
			"ssrc", remote.SSRC(),
		)
		p.mu.Lock()
		p.rxTrack = remote
		handler := p.onTrack
		p.mu.Unlock()
		if handler != nil {
			handler(remote)
		}
	})

	tx, err := webrtc.NewTrackLocalStaticSample(
		codecParameters(cfg.Codec).RTPCodecCapability,
		"audio",
		cfg.StreamID,
	)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("rtc: create local track: %w", err)
	}
	if _, err := pc.AddTrack(tx); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("rtc: add local track: %w", err)
	}
	p.txTrack = tx

	return p, nil
}

// OnRemoteTrack registers a handler invoked when the remote audio track
// attaches. Must be called before SetRemoteDescription.
func (p *PeerConnection) OnRemoteTrack(f func(*webrtc.TrackRemote)) {
	p.mu.Lock()
	p.onTrack = f
	p.mu.Unlock()
}

// CreateOffer generates the local session description, waits for ICE
// candidate gathering to complete, and returns the offer SDP plus the
// gathered candidate strings. Fails if gathering times out or produces no
// candidates.
func (p *PeerConnection) CreateOffer(ctx context.Context) (offer string, candidates []string, err error) {
	desc, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", nil, fmt.Errorf("rtc: create offer: %w", err)
	}
	candidates, err = p.setLocalAndGather(ctx, desc)
	if err != nil {
		return "", nil, err
	}
	return p.pc.LocalDescription().SDP, candidates, nil
}

// CreateAnswer generates the local answer for a previously applied remote
// offer, applies the peer's ICE candidates, waits for local gathering, and
// returns the answer SDP plus local candidate strings.
func (p *PeerConnection) CreateAnswer(ctx context.Context, remoteCandidates []string) (answer string, candidates []string, err error) {
	desc, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", nil, fmt.Errorf("rtc: create answer: %w", err)
	}
	candidates, err = p.setLocalAndGather(ctx, desc)
	if err != nil {
		return "", nil, err
	}

	for _, c := range remoteCandidates {
		if err := p.AddICECandidate(c); err != nil {
			p.log.Warn("rejected remote ICE candidate", "candidate", c, "error", err)
		}
	}
	return p.pc.LocalDescription().SDP, candidates, nil
}

// setLocalAndGather applies desc as the local description and blocks until
// candidate gathering completes, the timeout fires, or ctx ends.
func (p *PeerConnection) setLocalAndGather(ctx context.Context, desc webrtc.SessionDescription) ([]string, error) {
	if err := p.pc.SetLocalDescription(desc); err != nil {
		return nil, fmt.Errorf("rtc: set local description: %w", err)
	}

	select {
	case <-webrtc.GatheringCompletePromise(p.pc):
	case <-time.After(p.cfg.ICETimeout):
		return nil, ErrGatheringTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.candidates) == 0 {
		return nil, ErrNoCandidates
	}
	out := make([]string, len(p.candidates))
	for i, c := range p.candidates {
		out[i] = c.Candidate
	}
	return out, nil
}

// SetRemoteDescription applies the peer's session description. It accepts
// either a JSON-wrapped {type, sdp} object or a bare SDP string; for bare
// strings the type is inferred from the local signaling state (answer when a
// local offer is pending, offer otherwise).
func (p *PeerConnection) SetRemoteDescription(sdp string) error {
	desc, wrapped := parseSessionDescription(sdp)
	if !wrapped {
		desc.Type = webrtc.SDPTypeOffer
		if p.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
			desc.Type = webrtc.SDPTypeAnswer
		}
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("rtc: set remote description: %w", err)
	}
	return nil
}

// AddICECandidate incorporates a late-arriving remote candidate.
func (p *PeerConnection) AddICECandidate(candidate string) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate})
}

// Send writes one outbound audio frame to the local track.
func (p *PeerConnection) Send(frame []byte, duration time.Duration) error {
	if len(frame) == 0 {
		return nil
	}
	return p.txTrack.WriteSample(media.Sample{Data: frame, Duration: duration})
}

// Next pulls one inbound frame payload from the remote track. Before the
// remote track attaches and the connection is established it pauses briefly
// and returns nil so callers can poll without busy-looping.
func (p *PeerConnection) Next(ctx context.Context) ([]byte, error) {
	p.mu.RLock()
	rx := p.rxTrack
	p.mu.RUnlock()

	if rx == nil || p.State() != webrtc.PeerConnectionStateConnected {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.done:
			return nil, errors.New("rtc: connection closed")
		case <-time.After(10 * time.Millisecond):
		}
		return nil, nil
	}

	pkt, _, err := rx.ReadRTP()
	if err != nil {
		return nil, fmt.Errorf("rtc: read RTP: %w", err)
	}
	return pkt.Payload, nil
}

// SelectPreferredCodec inspects the negotiated local description and returns
// the wire format actually selected, for downstream transcoder setup.
func (p *PeerConnection) SelectPreferredCodec() (codec.Format, error) {
	local := p.pc.LocalDescription()
	if local == nil {
		return codec.Format{}, errors.New("rtc: no local description")
	}
	return parseCodecFromSDP(local.SDP)
}

// State reports the current connection lifecycle state.
func (p *PeerConnection) State() webrtc.PeerConnectionState {
	return p.pc.ConnectionState()
}

// Done closes when the connection reaches a terminal state. Playback loops
// select on it to cancel in-flight work.
func (p *PeerConnection) Done() <-chan struct{} {
	return p.done
}

// Close tears the peer connection down. Idempotent.
func (p *PeerConnection) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.doneOnce.Do(func() { close(p.done) })
		err = p.pc.Close()
	})
	return err
}

// parseSessionDescription decodes a wrapped {type, sdp} JSON object, or
// falls back to treating the input as a bare SDP string.
func parseSessionDescription(s string) (desc webrtc.SessionDescription, wrapped bool) {
	if err := json.Unmarshal([]byte(s), &desc); err == nil && desc.SDP != "" {
		return desc, true
	}
	return webrtc.SessionDescription{SDP: s}, false
}

// parseCodecFromSDP extracts the first negotiated audio codec from an SDP
// body by matching the media section's primary payload type against its
// rtpmap attribute.
func parseCodecFromSDP(raw string) (codec.Format, error) {
	desc := sdpDescription{}
	if err := desc.unmarshal(raw); err != nil {
		return codec.Format{}, err
	}
	for _, m := range desc.media {
		if m.kind != "audio" || len(m.formats) == 0 {
			continue
		}
		for _, rtpmap := range m.rtpmaps {
			if !strings.HasPrefix(rtpmap, m.formats[0]+" ") {
				continue
			}
			spec := strings.SplitN(rtpmap, " ", 2)[1]
			parts := strings.Split(spec, "/")
			if len(parts) < 2 {
				continue
			}
			rate, err := strconv.Atoi(parts[1])
			if err != nil {
				continue
			}
			return codec.Format{
				Codec:         strings.ToLower(parts[0]),
				SampleRate:    rate,
				Channels:      1,
				FrameDuration: 20 * time.Millisecond,
			}, nil
		}
	}
	return codec.Format{}, errors.New("rtc: no audio codec in SDP")
}

// sdpDescription is the minimal SDP view needed for codec selection.
type sdpDescription struct {
	media []sdpMedia
}

type sdpMedia struct {
	kind    string
	formats []string
	rtpmaps []string
}

func (d *sdpDescription) unmarshal(raw string) error {
	var cur *sdpMedia
	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "m="):
			fields := strings.Fields(line[2:])
			if len(fields) < 4 {
				return fmt.Errorf("rtc: malformed media line %q", line)
			}
			d.media = append(d.media, sdpMedia{kind: fields[0], formats: fields[3:]})
			cur = &d.media[len(d.media)-1]
		case strings.HasPrefix(line, "a=rtpmap:") && cur != nil:
			cur.rtpmaps = append(cur.rtpmaps, strings.TrimPrefix(line, "a=rtpmap:"))
		}
	}
	if len(d.media) == 0 {
		return errors.New("rtc: no media sections in SDP")
	}
	return nil
}

// codecParameters maps a codec name to its RTP parameters.
func codecParameters(name string) webrtc.RTPCodecParameters {
	switch strings.ToLower(name) {
	case CodecPCMA:
		return webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMA, ClockRate: 8000},
			PayloadType:        8,
		}
	case CodecG722:
		return webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeG722, ClockRate: 8000},
			PayloadType:        9,
		}
	case CodecPCMU:
		return webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000},
			PayloadType:        0,
		}
	default:
		return webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  webrtc.MimeTypeOpus,
				ClockRate: 48000,
				Channels:  2,
			},
			PayloadType: 111,
		}
	}
}

// newMediaEngine registers the audio codecs a call leg may negotiate.
func newMediaEngine() *webrtc.MediaEngine {
	m := &webrtc.MediaEngine{}
	for _, params := range []webrtc.RTPCodecParameters{
		codecParameters(CodecOpus),
		codecParameters(CodecPCMU),
		codecParameters(CodecPCMA),
		codecParameters(CodecG722),
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: "audio/telephone-event", ClockRate: 8000},
			PayloadType:        101,
		},
	} {
		// Registration fails only on duplicate payload types, which the
		// fixed table above cannot produce.
		_ = m.RegisterCodec(params, webrtc.RTPCodecTypeAudio)
	}
	return m
}
