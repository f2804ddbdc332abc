// Package deepgram streams microphone audio to Deepgram's live transcription
// WebSocket and surfaces interim and final results as an stt.SessionHandle.
//
// Sessions send KeepAlive messages while no audio flows, since an agent
// often pauses to think and Deepgram drops idle sockets after ten seconds.
// Smart formatting is on by default so spoken prices and dates arrive as
// "$450,000" and "June 3rd".
package deepgram

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/scriptcoach/pkg/failure"
	"github.com/MrWong99/scriptcoach/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// keepAliveEvery must stay below Deepgram's ten second idle timeout.
	keepAliveEvery = 5 * time.Second

	// closeGrace bounds the wait for Deepgram to flush after CloseStream.
	closeGrace = 2 * time.Second
)

var (
	msgKeepAlive   = []byte(`{"type":"KeepAlive"}`)
	msgCloseStream = []byte(`{"type":"CloseStream"}`)
)

// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g. "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default language; StreamConfig.Language overrides it.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithSampleRate sets the default sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithEndpoint overrides the streaming URL.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithEndpointing sets how much trailing silence finalises an utterance.
// Zero leaves Deepgram's default.
func WithEndpointing(d time.Duration) Option {
	return func(p *Provider) { p.endpointing = d }
}

// WithSmartFormat toggles Deepgram's number, currency and date formatting.
func WithSmartFormat(on bool) Option {
	return func(p *Provider) { p.smartFormat = on }
}

// Provider implements stt.Provider.
type Provider struct {
	apiKey      string
	endpoint    string
	model       string
	language    string
	sampleRate  int
	endpointing time.Duration
	smartFormat bool
}

var _ stt.Provider = (*Provider)(nil)

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:      apiKey,
		endpoint:    deepgramEndpoint,
		model:       defaultModel,
		language:    defaultLanguage,
		sampleRate:  defaultSampleRate,
		smartFormat: true,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream dials Deepgram. The returned session lives until Close, not
// until ctx is done.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Token " + p.apiKey}},
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, failure.Remote("deepgram dial", resp.StatusCode, resp.Header.Get("dg-error"))
		}
		return nil, failure.Classify("deepgram dial", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		conn:     conn,
		cancel:   cancel,
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		audio:    make(chan []byte, 256),
		closing:  make(chan struct{}),
		readDone: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.receive(runCtx)
	go s.transmit(runCtx)
	return s, nil
}

func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cmp.Or(cfg.Language, p.language)
	rate := p.sampleRate
	if cfg.SampleRate > 0 {
		rate = cfg.SampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(rate))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	if p.smartFormat {
		q.Set("smart_format", "true")
	}
	if p.endpointing > 0 {
		q.Set("endpointing", strconv.FormatInt(p.endpointing.Milliseconds(), 10))
	}
	for _, kw := range cfg.Keywords {
		// word:boost, e.g. "FSBO:5"
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ── session ───────────────────────────────────────────────────────────────────

type session struct {
	conn     *websocket.Conn
	cancel   context.CancelFunc
	partials chan stt.Transcript
	finals   chan stt.Transcript
	audio    chan []byte

	closing  chan struct{}
	readDone chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

var errClosed = errors.New("deepgram: session is closed")

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.closing:
		return errClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.closing:
		return errClosed
	}
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }
func (s *session) Finals() <-chan stt.Transcript   { return s.finals }

// Close asks Deepgram to flush pending results, waits up to closeGrace for
// it to hang up and then tears the socket down. Finals that arrive during
// the grace period are still delivered.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.closing)
		s.wg.Wait() // transmit exits on closing; receive keeps running

		ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
		_ = s.conn.Write(ctx, websocket.MessageText, msgCloseStream)
		select {
		case <-s.readDone:
		case <-ctx.Done():
		}
		cancel()

		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		<-s.readDone
	})
	return nil
}

// transmit forwards audio and keeps the socket alive during silence.
func (s *session) transmit(ctx context.Context) {
	defer s.wg.Done()
	idle := time.NewTimer(keepAliveEvery)
	defer idle.Stop()

	for {
		var (
			typ  = websocket.MessageBinary
			data []byte
		)
		select {
		case <-s.closing:
			return
		case data = <-s.audio:
		case <-idle.C:
			typ, data = websocket.MessageText, msgKeepAlive
		}
		if err := s.conn.Write(ctx, typ, data); err != nil {
			slog.Debug("deepgram: write failed", "err", err)
			return
		}
		idle.Reset(keepAliveEvery)
	}
}

// receive dispatches results until the socket ends, then closes both
// channels.
func (s *session) receive(ctx context.Context) {
	defer close(s.readDone)
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			return
		}

		t, ok, err := decodeMessage(msg)
		if err != nil {
			slog.Warn("deepgram: stream error", "err", err)
			continue
		}
		if !ok {
			continue
		}

		out := s.partials
		if t.IsFinal {
			out = s.finals
		}
		select {
		case out <- t:
		case <-ctx.Done():
			return
		}
	}
}

// ── wire format ───────────────────────────────────────────────────────────────

type message struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`

	// Set on type "Error".
	Description string `json:"description"`
	Variant     string `json:"variant"`
}

// decodeMessage turns a server message into a Transcript. ok is false for
// metadata, empty results and anything unparseable; err is set only for
// Deepgram's Error messages.
func decodeMessage(data []byte) (t stt.Transcript, ok bool, err error) {
	var m message
	if json.Unmarshal(data, &m) != nil {
		return t, false, nil
	}
	switch m.Type {
	case "Results":
	case "Error":
		return t, false, fmt.Errorf("%s: %s", m.Variant, m.Description)
	default:
		return t, false, nil
	}
	if len(m.Channel.Alternatives) == 0 || m.Channel.Alternatives[0].Transcript == "" {
		return t, false, nil
	}
	alt := m.Channel.Alternatives[0]
	return stt.Transcript{Text: alt.Transcript, IsFinal: m.IsFinal, Confidence: alt.Confidence}, true, nil
}
