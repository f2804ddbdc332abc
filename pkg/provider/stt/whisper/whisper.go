// Package whisper provides an stt.Provider backed by a local whisper.cpp
// server (POST /inference). It lets the practice client recognise speech
// offline.
//
// whisper.cpp transcribes whole clips, so the session cuts the incoming PCM
// into utterances at pauses and sends each one as it completes. Every
// transcribed utterance is emitted as a partial and a final with the same
// text. Audio still buffered when the session closes is transcribed before
// the channels close, so stopping a recording never loses the last words.
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/scriptcoach/pkg/failure"
	"github.com/MrWong99/scriptcoach/pkg/provider/stt"
)

const (
	defaultSilence     = 600 * time.Millisecond
	defaultMaxSegment  = 15 * time.Second
	defaultSampleRate  = 16000
	finalFlushTimeout  = 30 * time.Second
	maxErrorBody       = 4 << 10
	transcriptChanSize = 32
)

// errClosed is returned by SendAudio after Close.
var errClosed = errors.New("whisper: session is closed")

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel forwards a model name to the server. Empty uses whatever model
// the server was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language hint used when a stream does not specify
// one. whisper.cpp expects a bare code such as "en"; region suffixes like
// "en-US" are stripped.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSilence sets how long a pause must last to end an utterance.
func WithSilence(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.silence = d
		}
	}
}

// WithMaxSegment forces an utterance to be sent once it reaches d even
// without a pause.
func WithMaxSegment(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.maxSegment = d
		}
	}
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Provider against a whisper.cpp server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	silence    time.Duration
	maxSegment time.Duration
	httpClient *http.Client
}

// New returns a Provider for the server at serverURL
// (e.g. "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   "en",
		silence:    defaultSilence,
		maxSegment: defaultMaxSegment,
		httpClient: &http.Client{Timeout: finalFlushTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream implements stt.Provider. Keyword hints are ignored; whisper.cpp
// has no boosting API.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, failure.Transport("whisper start", err)
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	lang, _, _ = strings.Cut(lang, "-")

	rate, channels := cfg.SampleRate, cfg.Channels
	if rate <= 0 {
		rate = defaultSampleRate
	}
	if channels <= 0 {
		channels = 1
	}

	s := &session{
		p:        p,
		language: lang,
		rate:     rate,
		channels: channels,
		seg:      newSegmenter(rate, channels, p.silence, p.maxSegment),
		audio:    make(chan []byte, 256),
		partials: make(chan stt.Transcript, transcriptChanSize),
		finals:   make(chan stt.Transcript, transcriptChanSize),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	go s.loop(ctx)
	return s, nil
}

var _ stt.Provider = (*Provider)(nil)

// ---- session ----

type session struct {
	p        *Provider
	language string
	rate     int
	channels int
	seg      *segmenter

	audio    chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
}

// SendAudio queues 16-bit little-endian PCM.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errClosed
	}
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }
func (s *session) Finals() <-chan stt.Transcript   { return s.finals }

// Close transcribes any buffered speech, then closes both channels.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.loopDone
	})
	return nil
}

// loop owns the segmenter. It sends utterances as they complete and the
// remainder on shutdown.
func (s *session) loop(ctx context.Context) {
	defer close(s.loopDone)
	defer close(s.finals)
	defer close(s.partials)

	for {
		select {
		case chunk := <-s.audio:
			if utt := s.seg.push(chunk); utt != nil {
				s.transcribe(ctx, utt)
			}
		case <-ctx.Done():
			s.flush()
			return
		case <-s.done:
			s.drain()
			s.flush()
			return
		}
	}
}

// drain segments whatever the pump delivered before Close.
func (s *session) drain() {
	for {
		select {
		case chunk := <-s.audio:
			if utt := s.seg.push(chunk); utt != nil {
				s.transcribeDetached(utt)
			}
		default:
			return
		}
	}
}

func (s *session) flush() {
	if utt := s.seg.flush(); utt != nil {
		s.transcribeDetached(utt)
	}
}

// transcribeDetached uses a fresh deadline; the session context may already
// be gone.
func (s *session) transcribeDetached(pcm []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()
	s.transcribe(ctx, pcm)
}

func (s *session) transcribe(ctx context.Context, pcm []byte) {
	text, err := s.infer(ctx, pcm)
	if err != nil {
		slog.Warn("whisper: inference failed, utterance dropped", "err", err)
		return
	}
	if text = strings.TrimSpace(text); text == "" {
		return
	}
	select {
	case s.partials <- stt.Transcript{Text: text}:
	default:
	}
	s.finals <- stt.Transcript{Text: text, IsFinal: true}
}

// infer posts pcm as a WAV upload and returns the transcribed text.
func (s *session) infer(ctx context.Context, pcm []byte) (string, error) {
	const op = "whisper inference"

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: build form: %w", err)
	}
	if _, err := fw.Write(encodeWAV(pcm, s.rate, s.channels)); err != nil {
		return "", fmt.Errorf("whisper: build form: %w", err)
	}
	fields := map[string]string{"response_format": "json", "language": s.language, "model": s.p.model}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("whisper: build form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.p.httpClient.Do(req)
	if err != nil {
		return "", failure.Transport(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", failure.Remote(op, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", failure.Classify(op, fmt.Errorf("decode response: %w", err))
	}
	return result.Text, nil
}

var _ stt.SessionHandle = (*session)(nil)

// encodeWAV wraps 16-bit PCM in a RIFF/WAV header.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	le := binary.LittleEndian
	buf.WriteString("RIFF")
	_ = binary.Write(buf, le, uint32(36+len(pcm)))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(buf, le, uint32(16))
	_ = binary.Write(buf, le, uint16(1)) // PCM
	_ = binary.Write(buf, le, uint16(channels))
	_ = binary.Write(buf, le, uint32(sampleRate))
	_ = binary.Write(buf, le, uint32(sampleRate*blockAlign))
	_ = binary.Write(buf, le, uint16(blockAlign))
	_ = binary.Write(buf, le, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(buf, le, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
