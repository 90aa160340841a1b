// Package backend defines the boundary between the playback engine and the
// speech synthesis service.
//
// A [Client] offers the voice catalogue, single-shot synthesis, the two-step
// chunked synthesis protocol (metadata negotiation followed by per-chunk audio
// requests), and a synthesis-free diagnostic payload. Implementations:
//
//   - backend/remote talks to a readaloud server over HTTP.
//   - internal/synth renders audio in-process through a TTS provider.
//   - backend/mock is a recording test double.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MrWong99/readaloud/pkg/audio"
)

// DefaultVoice is used whenever the voice catalogue is unavailable or empty.
const DefaultVoice = "en-US-AriaNeural"

// ErrEmptyText is returned when a synthesis request carries blank text.
var ErrEmptyText = errors.New("backend: empty text")

// ErrChunkOutOfRange is returned when a chunk index is outside the chunk plan.
var ErrChunkOutOfRange = errors.New("backend: chunk index out of range")

// Voice is one entry of the voice catalogue. The JSON field names follow the
// edge-tts catalogue shape.
type Voice struct {
	ShortName    string `json:"ShortName"`
	FriendlyName string `json:"FriendlyName"`
	Locale       string `json:"Locale,omitempty"`
	Gender       string `json:"Gender,omitempty"`
}

// Audio is an encoded audio payload.
type Audio struct {
	Data        []byte
	ContentType string
}

// Container returns the container of a, preferring the declared content type
// and falling back to sniffing the payload.
func (a Audio) Container() audio.Container {
	if c := audio.ContainerFromContentType(a.ContentType); c != audio.ContainerUnknown {
		return c
	}
	return audio.Detect(a.Data)
}

// Ext returns the file extension ("mp3" or "wav") for a.
func (a Audio) Ext() string {
	return a.Container().Ext()
}

// ChunkInfo describes one planned chunk.
type ChunkInfo struct {
	Text string `json:"text"`
}

// ChunksInfo is the response to chunk metadata negotiation.
type ChunksInfo struct {
	TotalChunks int         `json:"total_chunks"`
	Chunks      []ChunkInfo `json:"chunks_info"`
}

// Texts returns the chunk texts in index order.
func (ci ChunksInfo) Texts() []string {
	out := make([]string, len(ci.Chunks))
	for i, c := range ci.Chunks {
		out[i] = c.Text
	}
	return out
}

// Chunk is the audio for one chunk together with the out-of-band metadata
// delivered alongside it.
type Chunk struct {
	Audio

	// Index is the chunk index the payload belongs to.
	Index int

	// Total is the total number of chunks in the plan.
	Total int

	// Text is the source text this chunk renders.
	Text string
}

// Client is the synthesis backend consumed by the playback engine.
//
// Implementations must be safe for concurrent use.
type Client interface {
	// ListVoices returns the voice catalogue.
	ListVoices(ctx context.Context) ([]Voice, error)

	// Synthesize renders text in one call.
	Synthesize(ctx context.Context, text, voice string) (Audio, error)

	// ChunksInfo returns the chunk plan for text without synthesising audio.
	ChunksInfo(ctx context.Context, text, voice string) (ChunksInfo, error)

	// SynthesizeChunk renders chunk index of the plan for text.
	SynthesizeChunk(ctx context.Context, text, voice string, index int) (Chunk, error)

	// TestAudio returns a short fixed payload for checking audio output.
	TestAudio(ctx context.Context) (Audio, error)
}

// ResolveVoices fetches the voice catalogue, falling back to a single
// [DefaultVoice] entry when the catalogue errors or is empty.
func ResolveVoices(ctx context.Context, c Client, log *slog.Logger) []Voice {
	voices, err := c.ListVoices(ctx)
	if err != nil || len(voices) == 0 {
		if log == nil {
			log = slog.Default()
		}
		log.Warn("failed to load voice options, using default voice", "voice", DefaultVoice, "err", err)
		return []Voice{{ShortName: DefaultVoice, FriendlyName: DefaultVoice}}
	}
	return voices
}

// CheckAudio returns an [*EmptyPayloadError] when a carries no bytes or a
// content type that is not audio.
func CheckAudio(op string, a Audio) error {
	if len(a.Data) == 0 || !isAudioType(a.ContentType) {
		return &EmptyPayloadError{Op: op, ContentType: a.ContentType, Size: len(a.Data)}
	}
	return nil
}

func isAudioType(ct string) bool {
	if ct == "" {
		return true
	}
	ct = strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	return strings.HasPrefix(ct, "audio/") || ct == "application/octet-stream"
}

// ---- errors ----

// FetchError reports a failed request to the synthesis backend, either a
// transport failure (Err set) or a non-success response (StatusCode set).
type FetchError struct {
	// Op names the request, e.g. "synthesize chunk".
	Op string

	// StatusCode is the HTTP status of a non-success response, or 0.
	StatusCode int

	// Message is the server-supplied error text, if any.
	Message string

	// Err is the underlying transport or provider error, if any.
	Err error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	b.WriteString("backend: ")
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *FetchError) Unwrap() error { return e.Err }

// EmptyPayloadError reports an audio response with no bytes or a non-audio
// content type.
type EmptyPayloadError struct {
	Op          string
	ContentType string
	Size        int
}

func (e *EmptyPayloadError) Error() string {
	if e.Size == 0 {
		return fmt.Sprintf("backend: %s: empty audio payload", e.Op)
	}
	return fmt.Sprintf("backend: %s: unexpected content type %q (%d bytes)", e.Op, e.ContentType, e.Size)
}
