// Package mock provides in-memory mock implementations of the [audio.Player],
// [audio.Playback], [audio.Capture] and [audio.CaptureSession] interfaces for
// use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and ordering.
//
// Typical usage:
//
//	player := &mock.Player{}
//	pb, _ := player.Play(ctx, clip)
//	pb.(*mock.Playback).Finish() // simulate the clip ending
package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/MrWong99/scriptcoach/pkg/audio"
)

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock implementation of [audio.Player]. Each successful Play
// returns a fresh [Playback].
type Player struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by every Play call.
	PlayErr error

	// AutoFinish makes each Playback finish immediately after Play returns.
	AutoFinish bool

	// Clips records the clip passed to every Play call, in order.
	Clips [][]byte

	// Playbacks records every Playback handed out, in order.
	Playbacks []*Playback

	// MaxActive is the highest number of simultaneously unfinished
	// playbacks observed at the moment a new one started.
	MaxActive int
}

// Play implements [audio.Player].
func (p *Player) Play(_ context.Context, clip []byte) (audio.Playback, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := make([]byte, len(clip))
	copy(cp, clip)
	p.Clips = append(p.Clips, cp)
	if p.PlayErr != nil {
		return nil, p.PlayErr
	}

	active := 1
	for _, pb := range p.Playbacks {
		if !pb.IsDone() {
			active++
		}
	}
	p.MaxActive = max(p.MaxActive, active)

	pb := NewPlayback()
	p.Playbacks = append(p.Playbacks, pb)
	if p.AutoFinish {
		pb.Finish()
	}
	return pb, nil
}

// Last returns the most recent Playback, or nil. Thread-safe.
func (p *Player) Last() *Playback {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Playbacks) == 0 {
		return nil
	}
	return p.Playbacks[len(p.Playbacks)-1]
}

// PlayCount returns the number of Play calls. Thread-safe.
func (p *Player) PlayCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Clips)
}

// Ensure Player implements audio.Player at compile time.
var _ audio.Player = (*Player)(nil)

// ─── Playback ─────────────────────────────────────────────────────────────────

// Playback is a mock implementation of [audio.Playback]. It stays "playing"
// until Finish or Stop is called.
type Playback struct {
	mu        sync.Mutex
	done      chan struct{}
	once      sync.Once
	err       error
	stopCalls int
}

// NewPlayback returns an unfinished Playback.
func NewPlayback() *Playback {
	return &Playback{done: make(chan struct{})}
}

// Stop implements [audio.Playback].
func (p *Playback) Stop() error {
	p.mu.Lock()
	p.stopCalls++
	p.mu.Unlock()
	p.once.Do(func() { close(p.done) })
	return nil
}

// Done implements [audio.Playback].
func (p *Playback) Done() <-chan struct{} { return p.done }

// Err implements [audio.Playback].
func (p *Playback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Finish ends playback naturally.
func (p *Playback) Finish() { p.once.Do(func() { close(p.done) }) }

// Fail ends playback with err.
func (p *Playback) Fail(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	})
}

// IsDone reports whether playback has ended.
func (p *Playback) IsDone() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// StopCalls returns how many times Stop was called.
func (p *Playback) StopCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopCalls
}

// Ensure Playback implements audio.Playback at compile time.
var _ audio.Playback = (*Playback)(nil)

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.Capture] that serves PCM from
// Data. Each Start returns a new session reading a copy of Data.
type Capture struct {
	mu sync.Mutex

	// Data is the PCM served by every session.
	Data []byte

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// Formats records the format passed to every Start call.
	Formats []audio.Format

	// Sessions records every session handed out.
	Sessions []*CaptureSession
}

// Start implements [audio.Capture].
func (c *Capture) Start(_ context.Context, format audio.Format) (audio.CaptureSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Formats = append(c.Formats, format)
	if c.StartErr != nil {
		return nil, c.StartErr
	}
	s := &CaptureSession{r: bytes.NewReader(bytes.Clone(c.Data))}
	c.Sessions = append(c.Sessions, s)
	return s, nil
}

// Ensure Capture implements audio.Capture at compile time.
var _ audio.Capture = (*Capture)(nil)

// CaptureSession is a mock implementation of [audio.CaptureSession].
type CaptureSession struct {
	mu        sync.Mutex
	r         io.Reader
	stopped   bool
	stopCalls int
}

// Read implements io.Reader. After Stop it returns io.EOF.
func (s *CaptureSession) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return 0, io.EOF
	}
	return s.r.Read(p)
}

// Stop implements [audio.CaptureSession].
func (s *CaptureSession) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.stopCalls++
	return nil
}

// StopCalls returns how many times Stop was called.
func (s *CaptureSession) StopCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCalls
}

// Ensure CaptureSession implements audio.CaptureSession at compile time.
var _ audio.CaptureSession = (*CaptureSession)(nil)
