package practice

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/scriptcoach/internal/observe"
	"github.com/MrWong99/scriptcoach/pkg/audio"
	"github.com/MrWong99/scriptcoach/pkg/failure"
	"github.com/MrWong99/scriptcoach/pkg/provider/stt"
)

// ListeningPlaceholder is displayed while nothing has been recognised yet.
const ListeningPlaceholder = "Listening..."

// CaptureEvent is one update of the live transcript.
type CaptureEvent struct {
	// Display is every finalised segment followed by the current interim
	// text, trimmed, or [ListeningPlaceholder] when empty.
	Display string

	// Final is set when the update was caused by a finalised segment.
	Final bool
}

// SpeechCapture opens recognizer sessions and, when a microphone is
// configured, streams PCM into them.
type SpeechCapture struct {
	stt      stt.Provider
	mic      audio.Capture
	format   audio.Format
	language string
	keywords []stt.KeywordBoost
	metrics  *observe.Metrics
}

// CaptureOption configures a [SpeechCapture].
type CaptureOption func(*SpeechCapture)

// WithMicrophone streams audio from mic into every recognizer session.
// Without it the recognizer is expected to produce transcripts on its own.
func WithMicrophone(mic audio.Capture, format audio.Format) CaptureOption {
	return func(c *SpeechCapture) {
		c.mic = mic
		if format.SampleRate > 0 {
			c.format = format
		}
	}
}

// WithRecognition sets the language tag and keyword hints.
func WithRecognition(language string, keywords []stt.KeywordBoost) CaptureOption {
	return func(c *SpeechCapture) {
		c.language = language
		c.keywords = keywords
	}
}

// WithCaptureMetrics overrides the metrics sink.
func WithCaptureMetrics(m *observe.Metrics) CaptureOption {
	return func(c *SpeechCapture) { c.metrics = m }
}

// NewSpeechCapture returns a capture adapter over p. A nil p is allowed; Start
// then reports an unsupported capability.
func NewSpeechCapture(p stt.Provider, opts ...CaptureOption) *SpeechCapture {
	c := &SpeechCapture{
		stt:      p,
		format:   audio.DefaultCaptureFormat,
		language: "en-US",
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Start opens a recognizer session and begins recording.
func (c *SpeechCapture) Start(ctx context.Context) (*Recording, error) {
	if c == nil || c.stt == nil {
		return nil, failure.Unsupported("speech recognition")
	}

	handle, err := c.stt.StartStream(ctx, stt.StreamConfig{
		SampleRate: c.format.SampleRate,
		Channels:   c.format.Channels,
		Language:   c.language,
		Keywords:   c.keywords,
	})
	if err != nil {
		return nil, failure.Classify("start recognizer", err)
	}

	r := &Recording{
		handle:   handle,
		events:   make(chan CaptureEvent, 16),
		stopped:  make(chan struct{}),
		ended:    make(chan struct{}),
		pumpDone: make(chan struct{}),
		started:  time.Now(),
		metrics:  c.metrics,
	}

	if c.mic != nil {
		sess, err := c.mic.Start(ctx, c.format)
		if err != nil {
			_ = handle.Close()
			return nil, failure.Unsupported("microphone capture: " + err.Error())
		}
		r.mic = sess
		go func() {
			defer close(r.pumpDone)
			if err := audio.Pump(ctx, sess, handle.SendAudio, audio.DefaultChunkSize); err != nil {
				observe.Logger(ctx).Warn("capture: audio pump stopped", "err", err)
			}
		}()
	} else {
		close(r.pumpDone)
	}

	go r.consume(handle.Partials(), handle.Finals())
	return r, nil
}

// Recording is one running capture.
type Recording struct {
	handle  stt.SessionHandle
	mic     audio.CaptureSession
	metrics *observe.Metrics
	started time.Time

	events   chan CaptureEvent
	stopped  chan struct{}
	ended    chan struct{}
	pumpDone chan struct{}

	mu      sync.Mutex
	final   strings.Builder
	interim string

	stopOnce sync.Once
	result   string
}

// Events yields display updates. The channel is closed once the recognizer
// session has ended, either through Stop or on its own.
func (r *Recording) Events() <-chan CaptureEvent { return r.events }

// Ended is closed when the recognizer session is over.
func (r *Recording) Ended() <-chan struct{} { return r.ended }

// Transcript returns the finalised text so far, trimmed.
func (r *Recording) Transcript() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.TrimSpace(r.final.String())
}

// Stop ends the recording and returns the frozen final transcript. Segments
// the recognizer finalises while closing are still included. Subsequent
// calls return the same text.
func (r *Recording) Stop() string {
	r.stopOnce.Do(func() {
		close(r.stopped)
		if r.mic != nil {
			_ = r.mic.Stop()
		}
		<-r.pumpDone
		if err := r.handle.Close(); err != nil {
			observe.Logger(context.Background()).Debug("capture: close recognizer", "err", err)
		}
		<-r.ended
		r.metrics.CaptureDuration.Record(context.Background(), time.Since(r.started).Seconds())
		r.result = r.Transcript()
	})
	return r.result
}

func (r *Recording) consume(partials, finals <-chan stt.Transcript) {
	defer close(r.ended)
	defer close(r.events)

	for partials != nil || finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			r.emit(r.update(t.Text, false), false)
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			r.emit(r.update(t.Text, true), true)
		}
	}
}

// update folds one recognizer result into the accumulator and returns the
// display text.
func (r *Recording) update(text string, final bool) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if final {
		r.final.WriteString(text)
		r.final.WriteString(" ")
		r.interim = ""
	} else {
		r.interim = text
	}
	return displayText(r.final.String() + r.interim)
}

func (r *Recording) emit(display string, final bool) {
	select {
	case <-r.stopped:
		return
	default:
	}
	select {
	case r.events <- CaptureEvent{Display: display, Final: final}:
	case <-r.stopped:
	}
}

func displayText(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return ListeningPlaceholder
	}
	return s
}
