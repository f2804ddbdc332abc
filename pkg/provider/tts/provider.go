// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (ElevenLabs directly, or the
// scriptcoach proxy in front of it) and returns a complete encoded audio clip
// for a piece of text. Replies are short, so the practice loop synthesises
// each one in a single request instead of streaming.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// ListVoices returns all voice profiles available from this provider. The
	// list reflects the provider's current catalogue and may change between
	// calls.
	//
	// Returns an error if the provider cannot be reached or if ctx is
	// cancelled before the list is retrieved.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)

	// Synthesize renders req.Text with req.VoiceID and returns the encoded
	// audio (MP3 for ElevenLabs). The returned slice is owned by the caller.
	Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error)
}
