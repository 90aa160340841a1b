package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/readaloud/pkg/audio"
	"github.com/MrWong99/readaloud/pkg/provider/tts"
)

// errNoAudio marks a provider that answered without producing audio.
var errNoAudio = errors.New("provider returned no audio")

// TTSFallback is a [tts.Provider] that fails over across several backends,
// each guarded by its own [CircuitBreaker].
//
// A fallback's voice catalogue rarely matches the primary's. The voice is
// passed through unchanged, so a voice a backend does not know counts as a
// failure of that backend.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] that prefers primary.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers provider behind the backends already added.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize renders text on the first backend that returns a non-empty
// payload.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*tts.Audio, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (*tts.Audio, error) {
		a, err := p.Synthesize(ctx, text, voice)
		if err == nil && (a == nil || len(a.Data) == 0) {
			return nil, errNoAudio
		}
		return a, err
	})
}

// SynthesizeStream renders text on the first backend whose stream delivers
// audio. The call blocks until a backend produces its first slice, so a
// stream that closes before any audio fails over like a refused request.
// Once audio flows the backend is committed: a stream that ends early after
// that is passed on as is. The breaker records the outcome when the stream
// ends.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	var out <-chan []byte
	err := f.group.failover(ctx, func(_ string, p tts.Provider, done func(error)) error {
		ch, err := p.SynthesizeStream(ctx, text, voice)
		if err != nil {
			done(err)
			return err
		}
		first, err := firstSlice(ctx, ch)
		if err != nil {
			done(err)
			return err
		}
		out = relay(ctx, first, ch, done)
		return nil
	})
	return out, err
}

// firstSlice waits for the first non-empty slice of ch. On failure the rest
// of ch is drained in the background.
func firstSlice(ctx context.Context, ch <-chan []byte) ([]byte, error) {
	for {
		select {
		case <-ctx.Done():
			go audio.Drain(ch)
			return nil, ctx.Err()
		case b, ok := <-ch:
			if !ok {
				return nil, errNoAudio
			}
			if len(b) > 0 {
				return b, nil
			}
		}
	}
}

// relay forwards first and then the remainder of ch, settling the breaker
// through done once ch closes or ctx ends.
func relay(ctx context.Context, first []byte, ch <-chan []byte, done func(error)) <-chan []byte {
	out := make(chan []byte, 1)
	out <- first
	go func() {
		defer close(out)
		for b := range ch {
			select {
			case out <- b:
			case <-ctx.Done():
				go audio.Drain(ch)
				done(ctx.Err())
				return
			}
		}
		done(nil)
	}()
	return out
}

// ListVoices returns the catalogue of the first backend that answers.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// Ping fails once every backend's breaker is open.
func (f *TTSFallback) Ping(context.Context) error {
	if f.group.Healthy() {
		return nil
	}
	return fmt.Errorf("resilience: %w: every circuit is open %v", ErrAllFailed, f.group.States())
}

// Backends lists the registered backend names in failover order.
func (f *TTSFallback) Backends() []string { return f.group.Names() }

// States maps every backend name to its breaker state.
func (f *TTSFallback) States() map[string]State {
	return f.group.States()
}
