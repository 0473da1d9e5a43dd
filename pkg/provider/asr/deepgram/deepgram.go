// Package deepgram provides a Deepgram-backed Transcriber using the Deepgram
// streaming WebSocket API. It implements the asr.Transcriber interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/coder/websocket"

	"github.com/parleyvoice/parley/pkg/provider/asr"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"
)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(t *Transcriber) {
		t.model = model
	}
}

// WithEndpoint overrides the streaming endpoint URL (for tests and proxies).
func WithEndpoint(endpoint string) Option {
	return func(t *Transcriber) {
		t.endpoint = endpoint
	}
}

// Transcriber implements asr.Transcriber backed by the Deepgram streaming
// API. One instance serves one session stream; build a new one per
// renegotiated format.
type Transcriber struct {
	apiKey   string
	model    string
	endpoint string
	cfg      asr.Config

	conn    *websocket.Conn
	results chan asr.Result
	errs    chan error
	audio   chan []byte

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

var _ asr.Transcriber = (*Transcriber)(nil)

// New creates a Transcriber bound to cfg. apiKey must be non-empty.
func New(apiKey string, cfg asr.Config, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	t := &Transcriber{
		apiKey:   apiKey,
		model:    defaultModel,
		endpoint: deepgramEndpoint,
		cfg:      cfg,
		results:  make(chan asr.Result, 64),
		errs:     make(chan error, 16),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Connect dials the streaming endpoint and starts the read/write loops.
func (t *Transcriber) Connect(ctx context.Context) error {
	wsURL, err := t.buildURL()
	if err != nil {
		return fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return fmt.Errorf("deepgram: dial: %w", err)
	}
	t.conn = conn

	// The stream outlives the dial context; Disconnect tears it down.
	loopCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	t.wg.Add(2)
	go t.readLoop(loopCtx)
	go t.writeLoop(loopCtx)
	return nil
}

// buildURL constructs the streaming endpoint URL for the bound config.
func (t *Transcriber) buildURL() (string, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", err
	}

	lang := t.cfg.Language
	if lang == "" {
		lang = defaultLanguage
	}

	q := u.Query()
	q.Set("model", t.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("encoding", "linear16")
	if t.cfg.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(t.cfg.SampleRate))
	}
	if t.cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(t.cfg.Channels))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SendAudio queues a PCM chunk for delivery to Deepgram.
func (t *Transcriber) SendAudio(chunk []byte) error {
	select {
	case <-t.done:
		return errors.New("deepgram: transcriber is closed")
	default:
	}
	select {
	case t.audio <- chunk:
		return nil
	case <-t.done:
		return errors.New("deepgram: transcriber is closed")
	}
}

// Results returns the channel of partial and final recognition events.
func (t *Transcriber) Results() <-chan asr.Result { return t.results }

// Errors returns the channel of unrecoverable stream errors.
func (t *Transcriber) Errors() <-chan error { return t.errs }

// Disconnect flushes pending audio and tears down the stream. Idempotent.
func (t *Transcriber) Disconnect() error {
	t.once.Do(func() {
		close(t.done)
		if t.conn != nil {
			// Ask Deepgram to flush pending audio before we go away.
			_ = t.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		}
		if t.cancel != nil {
			t.cancel()
		}
		t.wg.Wait()
		if t.conn != nil {
			t.conn.Close(websocket.StatusNormalClosure, "session closed")
		} else {
			// Never connected; close the channels ourselves.
			close(t.results)
			close(t.errs)
		}
	})
	return nil
}

// writeLoop drains the audio channel into binary WebSocket messages.
func (t *Transcriber) writeLoop(ctx context.Context) {
	defer t.wg.Done()
	for {
		select {
		case chunk := <-t.audio:
			if err := t.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-t.done:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case chunk := <-t.audio:
					_ = t.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages from Deepgram and dispatches recognition
// events. Read failures while the transcriber is still open surface on the
// error channel for the session to classify.
func (t *Transcriber) readLoop(ctx context.Context) {
	defer t.wg.Done()
	defer close(t.results)
	defer close(t.errs)

	for {
		_, msg, err := t.conn.Read(ctx)
		if err != nil {
			select {
			case <-t.done:
				// Normal teardown.
			default:
				select {
				case t.errs <- fmt.Errorf("deepgram: read: %w", err):
				default:
				}
			}
			return
		}

		r, ok := parseResponse(msg)
		if !ok {
			continue
		}
		select {
		case t.results <- r:
		case <-t.done:
		}
	}
}

// deepgramResponse is the JSON structure of a Deepgram Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseResponse parses a raw WebSocket message into a Result. Returns
// (zero, false) for messages that should be ignored.
func parseResponse(data []byte) (asr.Result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return asr.Result{}, false
	}
	if resp.Type != "Results" {
		return asr.Result{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return asr.Result{}, false
	}
	alt := resp.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return asr.Result{}, false
	}
	return asr.Result{Text: alt.Transcript, Final: resp.IsFinal}, true
}
