// Package mock provides test doubles for the stt package interfaces.
//
// A Session is fed by the test: send Transcript values on PartialsCh and
// FinalsCh (or use Say), then call End to simulate the recognizer going away.
//
//	sess := mock.NewSession(8)
//	p := &mock.Provider{Session: sess}
//	sess.Say("Hi, this is Dana")
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/MrWong99/scriptcoach/pkg/provider/stt"
)

// StartStreamCall records one Provider.StartStream invocation.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a mock stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by StartStream. When nil a fresh buffered Session
	// is returned for every call.
	Session stt.SessionHandle

	// StartStreamErr, if non-nil, fails every StartStream call.
	StartStreamErr error

	StartStreamCalls []StartStreamCall
}

var _ stt.Provider = (*Provider)(nil)

// StartStream records the call and returns Session or StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(16), nil
}

// Calls returns a copy of the recorded StartStream calls.
func (p *Provider) Calls() []StartStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StartStreamCall, len(p.StartStreamCalls))
	copy(out, p.StartStreamCalls)
	return out
}

// Session is a mock stt.SessionHandle. Close and End close both channels
// exactly once, so tests must not close them directly.
type Session struct {
	// PartialsCh and FinalsCh back Partials and Finals.
	PartialsCh chan stt.Transcript
	FinalsCh   chan stt.Transcript

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	mu      sync.Mutex
	audio   [][]byte
	closes  int
	endOnce sync.Once
}

var _ stt.SessionHandle = (*Session)(nil)

// NewSession returns a Session whose channels hold buffer transcripts each.
func NewSession(buffer int) *Session {
	return &Session{
		PartialsCh: make(chan stt.Transcript, buffer),
		FinalsCh:   make(chan stt.Transcript, buffer),
	}
}

// Say emits one partial per word prefix followed by the final utterance, the
// way a streaming recognizer refines its hypothesis. Partials are dropped
// when the buffer is full; the final blocks.
func (s *Session) Say(utterance string) {
	words := strings.Fields(utterance)
	for i := 1; i < len(words); i++ {
		select {
		case s.PartialsCh <- stt.Transcript{Text: strings.Join(words[:i], " ")}:
		default:
		}
	}
	s.FinalsCh <- stt.Transcript{Text: utterance, IsFinal: true, Confidence: 1}
}

// SendAudio records a copy of chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, append([]byte(nil), chunk...))
	return s.SendAudioErr
}

// Audio returns the chunks received so far.
func (s *Session) Audio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.audio...)
}

// SendAudioCallCount returns the number of SendAudio calls.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audio)
}

func (s *Session) Partials() <-chan stt.Transcript { return s.PartialsCh }
func (s *Session) Finals() <-chan stt.Transcript   { return s.FinalsCh }

// Close counts the call and ends the session.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.End()
	return nil
}

// End closes both channels without counting a Close, simulating the
// recognizer terminating on its own.
func (s *Session) End() {
	s.endOnce.Do(func() {
		close(s.PartialsCh)
		close(s.FinalsCh)
	})
}

// Closed returns the number of Close calls.
func (s *Session) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
