package yandex

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	ttspb "github.com/yandex-cloud/go-genproto/yandex/cloud/ai/tts/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/MrWong99/readaloud/pkg/audio"
	"github.com/MrWong99/readaloud/pkg/provider/tts"
)

// ---- fakes ----

type fakeStream struct {
	grpc.ClientStream
	chunks [][]byte
	err    error
}

func (s *fakeStream) Recv() (*ttspb.UtteranceSynthesisResponse, error) {
	if len(s.chunks) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	chunk := &ttspb.AudioChunk{}
	chunk.SetData(s.chunks[0])
	s.chunks = s.chunks[1:]
	resp := &ttspb.UtteranceSynthesisResponse{}
	resp.SetAudioChunk(chunk)
	return resp, nil
}

// fakeClient answers each request via reply and records requests and the
// outgoing metadata.
type fakeClient struct {
	ttspb.SynthesizerClient

	mu       sync.Mutex
	requests []*ttspb.UtteranceSynthesisRequest
	md       []metadata.MD

	reply   func(text string) [][]byte
	callErr error
	recvErr error
}

func (c *fakeClient) UtteranceSynthesis(ctx context.Context, in *ttspb.UtteranceSynthesisRequest, _ ...grpc.CallOption) (ttspb.Synthesizer_UtteranceSynthesisClient, error) {
	md, _ := metadata.FromOutgoingContext(ctx)
	c.mu.Lock()
	c.requests = append(c.requests, in)
	c.md = append(c.md, md)
	c.mu.Unlock()
	if c.callErr != nil {
		return nil, c.callErr
	}
	var chunks [][]byte
	if c.reply != nil {
		chunks = c.reply(in.GetText())
	}
	return &fakeStream{chunks: chunks, err: c.recvErr}, nil
}

func newTestProvider(t *testing.T, c *fakeClient, opts ...Option) *Provider {
	t.Helper()
	p, err := New("key-123", "folder-9", append([]Option{withClient(c)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// ---- tests ----

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "f"); err == nil {
		t.Error("expected error for empty API key")
	}
	p, err := New("k", "", withClient(&fakeClient{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close without connection: %v", err)
	}
}

func TestSynthesize_MP3(t *testing.T) {
	t.Parallel()

	c := &fakeClient{reply: func(string) [][]byte { return [][]byte{[]byte("ab"), nil, []byte("cd")} }}
	p := newTestProvider(t, c)

	res, err := p.Synthesize(context.Background(), "Hello there.", tts.VoiceProfile{ID: "john", SpeedFactor: 1.25})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(res.Data) != "abcd" {
		t.Errorf("Data = %q, want abcd", res.Data)
	}
	if res.ContentType != tts.ContentTypeMP3 {
		t.Errorf("ContentType = %q", res.ContentType)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) != 1 {
		t.Fatalf("got %d requests, want 1", len(c.requests))
	}
	req := c.requests[0]
	if req.GetText() != "Hello there." || req.GetModel() != "general" {
		t.Errorf("request text=%q model=%q", req.GetText(), req.GetModel())
	}
	hints := req.GetHints()
	if len(hints) != 2 || hints[0].GetVoice() != "john" || hints[1].GetSpeed() != 1.25 {
		t.Errorf("hints = %v", hints)
	}
	if got := req.GetOutputAudioSpec().GetContainerAudio().GetContainerAudioType(); got != ttspb.ContainerAudio_MP3 {
		t.Errorf("container = %v, want MP3", got)
	}
	if got := c.md[0].Get("authorization"); len(got) != 1 || got[0] != "Api-Key key-123" {
		t.Errorf("authorization = %v", got)
	}
	if got := c.md[0].Get("x-folder-id"); len(got) != 1 || got[0] != "folder-9" {
		t.Errorf("x-folder-id = %v", got)
	}
}

func TestSynthesize_DefaultVoice(t *testing.T) {
	t.Parallel()

	c := &fakeClient{reply: func(string) [][]byte { return [][]byte{[]byte("x")} }}
	p := newTestProvider(t, c)
	if _, err := p.Synthesize(context.Background(), "Hi.", tts.VoiceProfile{}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	hints := c.requests[0].GetHints()
	if len(hints) != 1 || hints[0].GetVoice() != DefaultVoice {
		t.Errorf("hints = %v, want only the default voice", hints)
	}
}

func TestSynthesize_LongTextSplits(t *testing.T) {
	t.Parallel()

	c := &fakeClient{reply: func(text string) [][]byte { return [][]byte{{byte(len(text) % 256)}} }}
	p := newTestProvider(t, c)

	s := "This sentence has a decent amount of words in it to fill space."
	text := s + " " + s + " " + s + " " + s + " " + s
	res, err := p.Synthesize(context.Background(), text, tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(c.requests) < 2 {
		t.Fatalf("got %d requests, want the text split into several", len(c.requests))
	}
	for _, r := range c.requests {
		if n := len([]rune(r.GetText())); n > maxPieceRunes {
			t.Errorf("piece of %d runes exceeds limit", n)
		}
	}
	if len(res.Data) != len(c.requests) {
		t.Errorf("Data has %d bytes, want one per request", len(res.Data))
	}
}

func TestSynthesize_WAVMerges(t *testing.T) {
	t.Parallel()

	f := audio.Format{SampleRate: 16000, Channels: 1}
	c := &fakeClient{reply: func(text string) [][]byte {
		wav := audio.EncodeWAV(audio.PCM{Data: make([]byte, 2*len(text)), Format: f})
		return [][]byte{wav[:20], wav[20:]}
	}}
	p := newTestProvider(t, c, WithWAV())

	s := "This sentence has a decent amount of words in it to fill space."
	text := s + " " + s + " " + s + " " + s + " " + s
	res, err := p.Synthesize(context.Background(), text, tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.ContentType != tts.ContentTypeWAV {
		t.Errorf("ContentType = %q", res.ContentType)
	}
	info, err := audio.ParseWAV(res.Data)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	var want int
	for _, r := range c.requests {
		want += 2 * len(r.GetText())
	}
	if info.DataSize != want {
		t.Errorf("DataSize = %d, want %d", info.DataSize, want)
	}
	if got := c.requests[0].GetOutputAudioSpec().GetContainerAudio().GetContainerAudioType(); got != ttspb.ContainerAudio_WAV {
		t.Errorf("container = %v, want WAV", got)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tests := []struct {
		name   string
		client *fakeClient
		text   string
	}{
		{"blank text", &fakeClient{}, "  "},
		{"call error", &fakeClient{callErr: errors.New("unavailable")}, "Hi."},
		{"recv error", &fakeClient{recvErr: errors.New("reset")}, "Hi."},
		{"no audio", &fakeClient{}, "Hi."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := newTestProvider(t, tt.client)
			if _, err := p.Synthesize(ctx, tt.text, tts.VoiceProfile{}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSynthesizeStream(t *testing.T) {
	t.Parallel()

	c := &fakeClient{reply: func(string) [][]byte { return [][]byte{[]byte("a"), []byte("b")} }}
	p := newTestProvider(t, c)

	ch, err := p.SynthesizeStream(context.Background(), "One. Two.", tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	got, err := tts.Collect(context.Background(), ch)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if string(got) != "ab" {
		t.Errorf("stream = %q, want ab", got)
	}

	if _, err := p.SynthesizeStream(context.Background(), "", tts.VoiceProfile{}); err == nil {
		t.Error("expected error for empty text")
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, &fakeClient{})
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != len(catalog) {
		t.Fatalf("got %d voices, want %d", len(voices), len(catalog))
	}
	found := false
	for _, v := range voices {
		if v.Provider != "yandex" {
			t.Errorf("voice %s Provider = %q", v.ID, v.Provider)
		}
		if v.ID == DefaultVoice {
			found = true
		}
	}
	if !found {
		t.Errorf("default voice %q missing from catalogue", DefaultVoice)
	}
	// The catalogue itself must not be mutated.
	if catalog[0].Provider != "" {
		t.Error("ListVoices mutated the package catalogue")
	}
}
