// Package mock provides a scriptable [tts.Provider] for tests.
//
// The zero Provider answers every request: Synthesize returns an MP3-typed
// payload of "audio:" + text, SynthesizeStream emits that payload as a single
// slice and ListVoices returns an empty catalogue. Set fields to change the
// answers; every call is recorded for later assertions.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/readaloud/pkg/provider/tts"
)

// SynthesizeCall is one recorded Synthesize or SynthesizeStream request.
type SynthesizeCall struct {
	Ctx   context.Context
	Text  string
	Voice tts.VoiceProfile
}

// ListVoicesCall is one recorded ListVoices request.
type ListVoicesCall struct {
	Ctx context.Context
}

// Provider is a [tts.Provider] driven by its exported fields. Configure it
// before use; the call records are guarded and may be read concurrently
// through the helper methods.
type Provider struct {
	mu sync.Mutex

	// SynthesizeResult replaces the default "audio:" + text payload.
	SynthesizeResult *tts.Audio
	// SynthesizeFunc answers Synthesize when set.
	SynthesizeFunc func(ctx context.Context, text string, voice tts.VoiceProfile) (*tts.Audio, error)
	// SynthesizeErr fails both Synthesize and SynthesizeStream.
	SynthesizeErr error

	// StreamChunks are emitted in order by SynthesizeStream. An empty slice
	// inside is sent as is.
	StreamChunks [][]byte
	// StreamFunc answers SynthesizeStream when set.
	StreamFunc func(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error)

	ListVoicesResult []tts.VoiceProfile
	ListVoicesErr    error

	SynthesizeCalls       []SynthesizeCall
	SynthesizeStreamCalls []SynthesizeCall
	ListVoicesCalls       []ListVoicesCall
}

var _ tts.Provider = (*Provider)(nil)

func (p *Provider) payload(text string) *tts.Audio {
	if p.SynthesizeResult != nil {
		cp := *p.SynthesizeResult
		return &cp
	}
	return &tts.Audio{Data: []byte("audio:" + text), ContentType: tts.ContentTypeMP3}
}

// Synthesize records the request and answers from SynthesizeFunc,
// SynthesizeErr or the configured payload, in that order.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*tts.Audio, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	fn, err, a := p.SynthesizeFunc, p.SynthesizeErr, p.payload(text)
	p.mu.Unlock()

	switch {
	case fn != nil:
		return fn(ctx, text, voice)
	case err != nil:
		return nil, err
	}
	return a, nil
}

// SynthesizeStream records the request and answers from StreamFunc,
// SynthesizeErr, StreamChunks or the Synthesize payload, in that order. The
// channel closes early when ctx ends.
func (p *Provider) SynthesizeStream(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	fn, err := p.StreamFunc, p.SynthesizeErr
	slices := append([][]byte(nil), p.StreamChunks...)
	if len(slices) == 0 {
		slices = [][]byte{p.payload(text).Data}
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, voice)
	}
	if err != nil {
		return nil, err
	}
	ch := make(chan []byte, len(slices))
	go func() {
		defer close(ch)
		for _, b := range slices {
			select {
			case ch <- b:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// ListVoices records the request and returns ListVoicesResult and
// ListVoicesErr.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls = append(p.ListVoicesCalls, ListVoicesCall{Ctx: ctx})
	return p.ListVoicesResult, p.ListVoicesErr
}

// SynthesizeCallCount returns how many Synthesize requests were recorded.
func (p *Provider) SynthesizeCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// StreamCallCount returns how many SynthesizeStream requests were recorded.
func (p *Provider) StreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeStreamCalls)
}

// Reset forgets every recorded call.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls, p.SynthesizeStreamCalls, p.ListVoicesCalls = nil, nil, nil
}
