// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., Microsoft Edge
// read-aloud, ElevenLabs, a local Coqui server, or Yandex SpeechKit) and
// presents a uniform interface that returns encoded audio (MP3 or WAV), either
// as one payload or as a stream of byte slices.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
)

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis requests
// may run in parallel, for example when a client prefetches the next chunk
// while the current one is still being synthesised.
type Provider interface {
	// Synthesize renders text with voice and returns the complete encoded
	// payload. The returned Audio has a non-empty ContentType.
	//
	// Returns an error if the service cannot be reached, rejects the request,
	// or ctx is cancelled.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (*Audio, error)

	// SynthesizeStream renders text with voice and returns a channel that emits
	// encoded audio byte slices as the service produces them. Concatenating
	// every slice yields the same payload Synthesize would return.
	//
	// The returned channel is closed by the implementation when synthesis
	// completes or ctx is cancelled. The caller must drain the channel to
	// avoid blocking the provider's internal goroutines.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// encountered mid-stream are signalled by closing the channel early.
	SynthesizeStream(ctx context.Context, text string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns all voice profiles available from this provider. The
	// list reflects the provider's current catalogue and may change between
	// calls.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}

// Collect reads ch to completion and returns the concatenated payload. It
// returns early with ctx.Err() if ctx is cancelled; the remainder of ch is
// drained in the background.
func Collect(ctx context.Context, ch <-chan []byte) ([]byte, error) {
	var out []byte
	for {
		select {
		case <-ctx.Done():
			go func() {
				for range ch {
				}
			}()
			return nil, ctx.Err()
		case b, ok := <-ch:
			if !ok {
				return out, nil
			}
			out = append(out, b...)
		}
	}
}
