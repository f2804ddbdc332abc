// Package audio defines the interfaces for local audio playback and
// microphone capture used by the practice client.
//
// The two primary abstractions are:
//
//   - [Player] starts playback of an encoded clip and returns a [Playback]
//     handle that can be stopped or awaited.
//   - [Capture] opens the microphone and returns a [CaptureSession] that
//     yields raw PCM until stopped.
//
// Implementations live in sub-packages (audio/command runs external tools such
// as ffplay and ffmpeg; audio/mock provides test doubles). The interfaces are
// intentionally narrow to keep the practice orchestrator decoupled from how
// sound reaches the speakers.
package audio

import (
	"context"
	"io"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	// SampleRate in Hz (e.g., 16000 for STT input).
	SampleRate int

	// Channels: 1 for mono.
	Channels int
}

// DefaultCaptureFormat is the PCM format requested from microphones: 16 kHz
// mono signed 16-bit little-endian, which streaming recognizers accept
// without resampling.
var DefaultCaptureFormat = Format{SampleRate: 16000, Channels: 1}

// Player starts playback of encoded audio clips.
//
// Implementations must be safe for concurrent use. Player itself does not
// enforce a single active playback; callers that need "stop previous, start
// new" semantics must stop the previous [Playback] themselves.
type Player interface {
	// Play begins playing clip (e.g. MP3 bytes) and returns immediately with
	// a handle. An error means playback never started.
	Play(ctx context.Context, clip []byte) (Playback, error)
}

// Playback is a handle to one running playback.
type Playback interface {
	// Stop ends playback early. Stopping a finished playback is a no-op.
	// Safe to call more than once and from multiple goroutines.
	Stop() error

	// Done is closed when playback has ended, either naturally or via Stop.
	Done() <-chan struct{}

	// Err reports why playback ended. It is nil for natural completion and
	// for Stop, and only meaningful after Done is closed.
	Err() error
}

// Capture opens a microphone.
type Capture interface {
	// Start begins capturing PCM in the requested format.
	Start(ctx context.Context, format Format) (CaptureSession, error)
}

// CaptureSession is a running capture. Read yields raw PCM (s16le).
type CaptureSession interface {
	io.Reader

	// Stop ends the capture and releases the device. Safe to call more than
	// once.
	Stop() error
}
