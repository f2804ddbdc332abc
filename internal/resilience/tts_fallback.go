package resilience

import (
	"context"

	"github.com/MrWong99/scriptcoach/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] over a [FallbackGroup].
//
// Voice IDs are provider specific, so both calls of one Speak should land on
// the same backend. That holds as long as the breaker state does not change
// between them; a synthesis failure then simply leaves the reply unvoiced.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] preferring primary.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) {
	f.group.AddFallback(name, p)
}

// ListVoices returns the catalogue of the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// Synthesize renders speech with the first healthy backend.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.SynthesisRequest) ([]byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, req)
	})
}
