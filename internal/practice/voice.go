package practice

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/scriptcoach/internal/observe"
	"github.com/MrWong99/scriptcoach/pkg/audio"
	"github.com/MrWong99/scriptcoach/pkg/provider/tts"
)

// DefaultSynthesisTimeout bounds the voice-list and synthesis calls of one
// Speak. Playback itself is not bounded.
const DefaultSynthesisTimeout = 30 * time.Second

var errNoVoices = errors.New("voice catalogue is empty")

// VoiceClient voices prospect replies. Every failure is logged and absorbed:
// the practice loop works without sound.
type VoiceClient struct {
	tts     tts.Provider
	player  audio.Player
	timeout time.Duration
	metrics *observe.Metrics

	modelID         string
	stability       float64
	similarityBoost float64

	mu      sync.Mutex // guards rng and current
	rng     *rand.Rand
	current audio.Playback
}

// VoiceOption configures a [VoiceClient].
type VoiceOption func(*VoiceClient)

// WithRand sets the source used to pick a voice. Tests use a seeded source.
func WithRand(r *rand.Rand) VoiceOption {
	return func(v *VoiceClient) { v.rng = r }
}

// WithVoiceSettings overrides the synthesis model and voice settings.
// Zero values keep the defaults.
func WithVoiceSettings(modelID string, stability, similarityBoost float64) VoiceOption {
	return func(v *VoiceClient) {
		if modelID != "" {
			v.modelID = modelID
		}
		if stability > 0 {
			v.stability = stability
		}
		if similarityBoost > 0 {
			v.similarityBoost = similarityBoost
		}
	}
}

// WithSynthesisTimeout bounds the remote calls of one Speak.
func WithSynthesisTimeout(d time.Duration) VoiceOption {
	return func(v *VoiceClient) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithVoiceMetrics overrides the metrics sink.
func WithVoiceMetrics(m *observe.Metrics) VoiceOption {
	return func(v *VoiceClient) { v.metrics = m }
}

// NewVoiceClient returns a client that synthesises through p and plays
// through player.
func NewVoiceClient(p tts.Provider, player audio.Player, opts ...VoiceOption) *VoiceClient {
	v := &VoiceClient{
		tts:             p,
		player:          player,
		timeout:         DefaultSynthesisTimeout,
		modelID:         tts.DefaultModel,
		stability:       tts.DefaultStability,
		similarityBoost: tts.DefaultSimilarityBoost,
	}
	for _, o := range opts {
		o(v)
	}
	if v.rng == nil {
		v.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if v.metrics == nil {
		v.metrics = observe.DefaultMetrics()
	}
	return v
}

// Speak voices text with a randomly chosen voice. Any playback still running
// is stopped before the new one starts, and nothing is played once ctx is
// done. It returns the new playback handle, or nil when any step failed.
func (v *VoiceClient) Speak(ctx context.Context, text string) audio.Playback {
	log := observe.Logger(ctx)

	clip, err := v.synthesize(ctx, text)
	if err != nil {
		log.Warn("voice: synthesis failed, continuing without audio", "err", err)
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopLocked()

	// A clip that arrives after its context ended is dropped.
	if err := ctx.Err(); err != nil {
		log.Debug("voice: discarding clip", "err", err)
		return nil
	}
	pb, err := v.player.Play(ctx, clip)
	if err != nil {
		log.Warn("voice: playback failed to start", "err", err)
		return nil
	}
	v.current = pb
	return pb
}

// Stop ends the current playback, if any.
func (v *VoiceClient) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopLocked()
}

func (v *VoiceClient) stopLocked() {
	if v.current == nil {
		return
	}
	if err := v.current.Stop(); err != nil {
		observe.Logger(context.Background()).Debug("voice: stop playback", "err", err)
	}
	v.current = nil
}

func (v *VoiceClient) synthesize(ctx context.Context, text string) ([]byte, error) {
	ctx, span := observe.StartSpan(ctx, "voice.synthesize")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	start := time.Now()
	defer func() { v.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds()) }()

	voices, err := v.tts.ListVoices(ctx)
	if err != nil {
		v.metrics.RecordProviderError(ctx, "tts", "voices")
		observe.FailSpan(span, err)
		return nil, err
	}
	if len(voices) == 0 {
		return nil, errNoVoices
	}
	voice := v.pick(voices)

	clip, err := v.tts.Synthesize(ctx, tts.SynthesisRequest{
		Text:            text,
		VoiceID:         voice.ID,
		ModelID:         v.modelID,
		Stability:       v.stability,
		SimilarityBoost: v.similarityBoost,
	})
	if err != nil {
		v.metrics.RecordProviderError(ctx, "tts", "synthesize")
		observe.FailSpan(span, err)
		return nil, err
	}
	v.metrics.RecordProviderRequest(ctx, "tts", "synthesize", "ok")
	return clip, nil
}

func (v *VoiceClient) pick(voices []tts.VoiceProfile) tts.VoiceProfile {
	v.mu.Lock()
	defer v.mu.Unlock()
	return voices[v.rng.IntN(len(voices))]
}
