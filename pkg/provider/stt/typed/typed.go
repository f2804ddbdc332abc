// Package typed provides an stt.Provider for environments without a speech
// recognizer: the user types what they would have said and each line is
// delivered to the open session as if it had been recognised.
//
// Lines are emitted word by word as partial transcripts followed by one
// final transcript, so consumers see the same stream shape a streaming
// recognizer produces.
package typed

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/MrWong99/scriptcoach/pkg/provider/stt"
)

// ErrNoSession is returned by Type when no session is open.
var ErrNoSession = errors.New("typed: no open session")

// bufferSize bounds the per-session transcript channels. Partials beyond it
// are dropped; finals block until the consumer catches up.
const bufferSize = 64

// Provider implements stt.Provider. At most one session is open at a time;
// starting a new one closes the previous.
type Provider struct {
	mu     sync.Mutex
	active *session
}

// New returns a Provider with no open session.
func New() *Provider {
	return &Provider{}
}

// StartStream implements stt.Provider. The stream config is ignored.
func (p *Provider) StartStream(ctx context.Context, _ stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &session{
		partials: make(chan stt.Transcript, bufferSize),
		finals:   make(chan stt.Transcript, bufferSize),
	}

	p.mu.Lock()
	prev := p.active
	p.active = s
	p.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return s, nil
}

// Active reports whether a session is open.
func (p *Provider) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil && !p.active.isClosed()
}

// Type delivers text to the open session. Blank lines are ignored.
func (p *Provider) Type(text string) error {
	p.mu.Lock()
	s := p.active
	p.mu.Unlock()
	if s == nil {
		return ErrNoSession
	}
	return s.deliver(text)
}

var _ stt.Provider = (*Provider)(nil)

// ---- session ----

type session struct {
	mu       sync.Mutex
	closed   bool
	partials chan stt.Transcript
	finals   chan stt.Transcript
}

// SendAudio accepts and discards audio so a microphone pump can run in front
// of a typed session.
func (s *session) SendAudio([]byte) error {
	if s.isClosed() {
		return ErrNoSession
	}
	return nil
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }
func (s *session) Finals() <-chan stt.Transcript   { return s.finals }

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.partials)
	close(s.finals)
	return nil
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) deliver(text string) error {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNoSession
	}
	for i := 1; i < len(words); i++ {
		select {
		case s.partials <- stt.Transcript{Text: strings.Join(words[:i], " ")}:
		default:
		}
	}
	s.finals <- stt.Transcript{Text: strings.Join(words, " "), IsFinal: true, Confidence: 1}
	return nil
}

var _ stt.SessionHandle = (*session)(nil)
