// Package mock provides a recording implementation of [backend.Client] for use
// in unit tests.
//
// The chunk plan is configured with [Client.Chunks]: each entry is one chunk's
// source text, and the default chunk payload is the bytes of that text. Tests
// that need to control completion order or inject failures set
// [Client.ChunkFunc].
//
// All methods are safe for concurrent use.
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/readaloud/pkg/backend"
)

// SynthesizeCall records a single Synthesize or ChunksInfo invocation.
type SynthesizeCall struct {
	Text  string
	Voice string
}

// ChunkCall records a single SynthesizeChunk invocation.
type ChunkCall struct {
	Text  string
	Voice string
	Index int
}

// Client is a mock implementation of [backend.Client].
type Client struct {
	mu sync.Mutex

	// ---- configurable responses ----

	// Voices is returned by ListVoices.
	Voices []backend.Voice

	// VoicesErr, when non-nil, is returned by ListVoices.
	VoicesErr error

	// SynthesizeResult is returned by Synthesize. When Data is empty the
	// payload defaults to the request text.
	SynthesizeResult backend.Audio

	// SynthesizeErr, when non-nil, is returned by Synthesize.
	SynthesizeErr error

	// Chunks is the chunk plan. ChunksInfo and SynthesizeChunk derive their
	// responses from it.
	Chunks []string

	// ChunksInfoErr, when non-nil, is returned by ChunksInfo.
	ChunksInfoErr error

	// ChunkFunc, when set, replaces the default SynthesizeChunk behaviour.
	// It runs without the mock's lock held and may block.
	ChunkFunc func(ctx context.Context, index int) (backend.Chunk, error)

	// ChunkErr maps chunk indices to errors returned by the default
	// SynthesizeChunk behaviour.
	ChunkErr map[int]error

	// ContentType is used for default payloads. Defaults to "audio/mpeg".
	ContentType string

	// TestAudioResult is returned by TestAudio.
	TestAudioResult backend.Audio

	// TestAudioErr, when non-nil, is returned by TestAudio.
	TestAudioErr error

	// ---- call records ----

	listVoicesCalls int
	synthCalls      []SynthesizeCall
	infoCalls       []SynthesizeCall
	chunkCalls      []ChunkCall
	testAudioCalls  int
}

var _ backend.Client = (*Client)(nil)

// ListVoices implements [backend.Client].
func (c *Client) ListVoices(_ context.Context) ([]backend.Voice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listVoicesCalls++
	if c.VoicesErr != nil {
		return nil, c.VoicesErr
	}
	return slices.Clone(c.Voices), nil
}

// Synthesize implements [backend.Client].
func (c *Client) Synthesize(ctx context.Context, text, voice string) (backend.Audio, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.synthCalls = append(c.synthCalls, SynthesizeCall{Text: text, Voice: voice})
	if err := ctx.Err(); err != nil {
		return backend.Audio{}, err
	}
	if c.SynthesizeErr != nil {
		return backend.Audio{}, c.SynthesizeErr
	}
	if len(c.SynthesizeResult.Data) > 0 {
		return c.SynthesizeResult, nil
	}
	return backend.Audio{Data: []byte(text), ContentType: c.contentType()}, nil
}

// ChunksInfo implements [backend.Client].
func (c *Client) ChunksInfo(ctx context.Context, text, voice string) (backend.ChunksInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.infoCalls = append(c.infoCalls, SynthesizeCall{Text: text, Voice: voice})
	if err := ctx.Err(); err != nil {
		return backend.ChunksInfo{}, err
	}
	if c.ChunksInfoErr != nil {
		return backend.ChunksInfo{}, c.ChunksInfoErr
	}
	info := backend.ChunksInfo{TotalChunks: len(c.Chunks)}
	for _, t := range c.Chunks {
		info.Chunks = append(info.Chunks, backend.ChunkInfo{Text: t})
	}
	return info, nil
}

// SynthesizeChunk implements [backend.Client].
func (c *Client) SynthesizeChunk(ctx context.Context, text, voice string, index int) (backend.Chunk, error) {
	c.mu.Lock()
	c.chunkCalls = append(c.chunkCalls, ChunkCall{Text: text, Voice: voice, Index: index})
	fn := c.ChunkFunc
	c.mu.Unlock()

	if fn != nil {
		return fn(ctx, index)
	}
	if err := ctx.Err(); err != nil {
		return backend.Chunk{}, err
	}
	return c.DefaultChunk(index)
}

// DefaultChunk returns the chunk the mock serves for index when no ChunkFunc
// is set. ChunkFunc implementations may delegate to it.
func (c *Client) DefaultChunk(index int) (backend.Chunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ChunkErr[index]; err != nil {
		return backend.Chunk{}, err
	}
	if index < 0 || index >= len(c.Chunks) {
		return backend.Chunk{}, backend.ErrChunkOutOfRange
	}
	return backend.Chunk{
		Audio: backend.Audio{Data: []byte(c.Chunks[index]), ContentType: c.contentType()},
		Index: index,
		Total: len(c.Chunks),
		Text:  c.Chunks[index],
	}, nil
}

// TestAudio implements [backend.Client].
func (c *Client) TestAudio(_ context.Context) (backend.Audio, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.testAudioCalls++
	if c.TestAudioErr != nil {
		return backend.Audio{}, c.TestAudioErr
	}
	return c.TestAudioResult, nil
}

// ---- inspection ----

// ListVoicesCalls returns how many times ListVoices was called.
func (c *Client) ListVoicesCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listVoicesCalls
}

// SynthesizeCalls returns a copy of all recorded Synthesize calls.
func (c *Client) SynthesizeCalls() []SynthesizeCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.synthCalls)
}

// ChunksInfoCalls returns a copy of all recorded ChunksInfo calls.
func (c *Client) ChunksInfoCalls() []SynthesizeCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.infoCalls)
}

// ChunkCalls returns a copy of all recorded SynthesizeChunk calls.
func (c *Client) ChunkCalls() []ChunkCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.chunkCalls)
}

// ChunkIndices returns the index of every recorded SynthesizeChunk call, in
// call order.
func (c *Client) ChunkIndices() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.chunkCalls))
	for i, call := range c.chunkCalls {
		out[i] = call.Index
	}
	return out
}

// TestAudioCalls returns how many times TestAudio was called.
func (c *Client) TestAudioCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.testAudioCalls
}

// WaitForChunkCalls polls until at least n SynthesizeChunk calls have been
// recorded or timeout elapses.
func (c *Client) WaitForChunkCalls(n int, timeout time.Duration) ([]int, bool) {
	deadline := time.Now().Add(timeout)
	for {
		got := c.ChunkIndices()
		if len(got) >= n {
			return got, true
		}
		if time.Now().After(deadline) {
			return got, false
		}
		time.Sleep(time.Millisecond)
	}
}

// Reset clears all recorded calls. Configured responses are kept.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listVoicesCalls = 0
	c.synthCalls = nil
	c.infoCalls = nil
	c.chunkCalls = nil
	c.testAudioCalls = 0
}

func (c *Client) contentType() string {
	if c.ContentType != "" {
		return c.ContentType
	}
	return "audio/mpeg"
}
