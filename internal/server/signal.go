package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"

	"github.com/parleyvoice/parley/pkg/rtc"
)

// Signaling message types exchanged on /rtc. The client opens the WebSocket,
// sends call_start carrying its offer and gathered candidates, and receives
// an answer message back. Late candidates trickle in as candidate messages
// in either direction. call_end (or closing the socket) tears the peer
// connection down.
const (
	sigCallStart = "call_start"
	sigAnswer    = "answer"
	sigCandidate = "candidate"
	sigCallEnd   = "call_end"
	sigError     = "error"
)

// signalMessage is the JSON envelope for every /rtc frame.
type signalMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// offerData carries the remote description plus any candidates gathered
// before the message was sent.
type offerData struct {
	SDP        string   `json:"sdp"`
	Candidates []string `json:"candidates,omitempty"`
}

type candidateData struct {
	Candidate string `json:"candidate"`
}

type errorData struct {
	Message string `json:"message"`
}

// handleSignaling runs the WebRTC signaling exchange for one direct call.
// One peer connection per socket; a second call_start on the same socket is
// rejected.
func (s *Server) handleSignaling(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("rtc: websocket accept failed", "err", err, "remote", r.RemoteAddr)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "call ended")

	ctx := r.Context()
	var pc *rtc.PeerConnection
	defer func() {
		if pc != nil {
			pc.Close()
		}
	}()

	for {
		var msg signalMessage
		if err := readJSON(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				return
			}
			s.log.Debug("rtc: read ended", "err", err, "remote", r.RemoteAddr)
			return
		}

		switch msg.Type {
		case sigCallStart:
			if pc != nil {
				s.writeSignalError(ctx, ws, "call already in progress")
				continue
			}
			pc, err = s.answerCall(ctx, ws, msg.Data)
			if err != nil {
				s.log.Warn("rtc: call setup failed", "err", err, "remote", r.RemoteAddr)
				s.writeSignalError(ctx, ws, err.Error())
			}

		case sigCandidate:
			if pc == nil {
				s.writeSignalError(ctx, ws, "no call in progress")
				continue
			}
			var cd candidateData
			if err := json.Unmarshal(msg.Data, &cd); err != nil {
				s.writeSignalError(ctx, ws, "malformed candidate")
				continue
			}
			if err := pc.AddICECandidate(cd.Candidate); err != nil {
				s.log.Warn("rtc: add candidate failed", "err", err)
			}

		case sigCallEnd:
			return

		default:
			s.writeSignalError(ctx, ws, fmt.Sprintf("unknown message type %q", msg.Type))
		}
	}
}

// answerCall builds a peer connection, applies the remote offer and replies
// with the local answer plus gathered candidates.
func (s *Server) answerCall(ctx context.Context, ws *websocket.Conn, raw json.RawMessage) (*rtc.PeerConnection, error) {
	var offer offerData
	if err := json.Unmarshal(raw, &offer); err != nil {
		return nil, fmt.Errorf("server: malformed offer: %w", err)
	}
	if offer.SDP == "" {
		return nil, errors.New("server: offer is missing sdp")
	}

	pc, err := rtc.New(rtc.Config{
		ICEServers: s.cfg.RTC.WebRTCServers(),
		ICETimeout: s.cfg.RTC.ICETimeout,
		Codec:      s.cfg.RTC.Codec,
		StreamID:   s.cfg.RTC.StreamID,
		Logger:     s.log,
	})
	if err != nil {
		return nil, err
	}

	if err := pc.SetRemoteDescription(offer.SDP); err != nil {
		pc.Close()
		return nil, err
	}

	answer, candidates, err := pc.CreateAnswer(ctx, offer.Candidates)
	if err != nil {
		pc.Close()
		return nil, err
	}

	reply, err := json.Marshal(offerData{SDP: answer, Candidates: candidates})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("server: marshal answer: %w", err)
	}
	if err := writeJSON(ctx, ws, signalMessage{Type: sigAnswer, Data: reply}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("server: send answer: %w", err)
	}

	s.log.Info("rtc: call established", "state", pc.State())
	return pc, nil
}

func (s *Server) writeSignalError(ctx context.Context, ws *websocket.Conn, message string) {
	data, err := json.Marshal(errorData{Message: message})
	if err != nil {
		return
	}
	if err := writeJSON(ctx, ws, signalMessage{Type: sigError, Data: data}); err != nil {
		s.log.Debug("rtc: error write failed", "err", err)
	}
}

func readJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	_, data, err := ws.Read(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
