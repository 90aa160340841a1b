// Package yandex provides a TTS provider backed by Yandex SpeechKit v3 over
// gRPC. It implements the tts.Provider interface.
//
// SpeechKit limits the length of a single utterance, so long input is packed
// into sentence-aligned pieces that are synthesised one after another. MP3
// pieces are concatenated frame-wise; WAV pieces are merged under one header.
package yandex

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"

	ttspb "github.com/yandex-cloud/go-genproto/yandex/cloud/ai/tts/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"

	"github.com/MrWong99/readaloud/pkg/audio"
	"github.com/MrWong99/readaloud/pkg/provider/tts"
	"github.com/MrWong99/readaloud/pkg/sentence"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	// DefaultEndpoint is the public SpeechKit gRPC endpoint.
	DefaultEndpoint = "tts.api.cloud.yandex.net:443"

	// DefaultVoice is used when a request names no voice.
	DefaultVoice = "marina"

	defaultModel = "general"

	// maxPieceRunes is the longest text sent in one UtteranceSynthesis call.
	maxPieceRunes = 250
)

// Option is a functional option for configuring the Yandex Provider.
type Option func(*Provider)

// WithEndpoint overrides the gRPC endpoint (host:port).
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithModel sets the SpeechKit model name. Defaults to "general".
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithWAV makes the provider request WAV instead of MP3 output.
func WithWAV() Option {
	return func(p *Provider) {
		p.container = ttspb.ContainerAudio_WAV
	}
}

// withClient injects a pre-built synthesizer client. No connection is dialed.
func withClient(c ttspb.SynthesizerClient) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// Provider implements tts.Provider backed by Yandex SpeechKit.
type Provider struct {
	apiKey    string
	folderID  string
	endpoint  string
	model     string
	container ttspb.ContainerAudio_ContainerAudioType

	conn   *grpc.ClientConn
	client ttspb.SynthesizerClient
}

// New creates a Yandex Provider authenticated with an API key. folderID may be
// empty when the key is bound to a service account in the target folder.
func New(apiKey, folderID string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("yandex: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:    apiKey,
		folderID:  folderID,
		endpoint:  DefaultEndpoint,
		model:     defaultModel,
		container: ttspb.ContainerAudio_MP3,
	}
	for _, o := range opts {
		o(p)
	}

	if p.client == nil {
		conn, err := grpc.NewClient(p.endpoint, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
		if err != nil {
			return nil, fmt.Errorf("yandex: connect to %s: %w", p.endpoint, err)
		}
		p.conn = conn
		p.client = ttspb.NewSynthesizerClient(conn)
	}
	return p, nil
}

// Close releases the underlying gRPC connection.
func (p *Provider) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

func (p *Provider) contentType() string {
	if p.container == ttspb.ContainerAudio_WAV {
		return tts.ContentTypeWAV
	}
	return tts.ContentTypeMP3
}

// ---- Synthesize ----

// Synthesize renders text piece by piece and returns the combined payload.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*tts.Audio, error) {
	pieces := sentence.Pack(text, maxPieceRunes)
	if len(pieces) == 0 {
		return nil, errors.New("yandex: text must not be empty")
	}

	parts := make([][]byte, 0, len(pieces))
	for i, piece := range pieces {
		var buf []byte
		err := p.utterance(ctx, piece, voice, func(b []byte) error {
			buf = append(buf, b...)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("yandex: synthesize piece %d: %w", i, err)
		}
		parts = append(parts, buf)
	}

	if p.container == ttspb.ContainerAudio_WAV {
		merged, err := audio.MergeWAV(parts)
		if err != nil {
			return nil, fmt.Errorf("yandex: synthesize: %w", err)
		}
		return &tts.Audio{Data: merged, ContentType: tts.ContentTypeWAV}, nil
	}

	var data []byte
	for _, part := range parts {
		data = append(data, part...)
	}
	if len(data) == 0 {
		return nil, errors.New("yandex: synthesize: no audio received")
	}
	return &tts.Audio{Data: data, ContentType: p.contentType()}, nil
}

// SynthesizeStream emits audio chunks as SpeechKit produces them. WAV output
// is not streamable piece by piece, so it is synthesised in full and emitted
// as a single slice.
func (p *Provider) SynthesizeStream(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	pieces := sentence.Pack(text, maxPieceRunes)
	if len(pieces) == 0 {
		return nil, errors.New("yandex: text must not be empty")
	}

	ch := make(chan []byte, 64)

	if p.container == ttspb.ContainerAudio_WAV {
		go func() {
			defer close(ch)
			res, err := p.Synthesize(ctx, text, voice)
			if err != nil {
				return
			}
			select {
			case ch <- res.Data:
			case <-ctx.Done():
			}
		}()
		return ch, nil
	}

	go func() {
		defer close(ch)
		for _, piece := range pieces {
			err := p.utterance(ctx, piece, voice, func(b []byte) error {
				select {
				case ch <- b:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
			if err != nil {
				return
			}
		}
	}()
	return ch, nil
}

// utterance runs one UtteranceSynthesis call and hands every audio chunk to
// emit in arrival order.
func (p *Provider) utterance(ctx context.Context, text string, voice tts.VoiceProfile, emit func([]byte) error) error {
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Api-Key "+p.apiKey)
	if p.folderID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-folder-id", p.folderID)
	}

	stream, err := p.client.UtteranceSynthesis(ctx, p.buildRequest(text, voice))
	if err != nil {
		return fmt.Errorf("start synthesis: %w", err)
	}

	received := false
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("receive audio: %w", err)
		}
		data := resp.GetAudioChunk().GetData()
		if len(data) == 0 {
			continue
		}
		received = true
		if err := emit(data); err != nil {
			return err
		}
	}
	if !received {
		return errors.New("no audio received")
	}
	return nil
}

func (p *Provider) buildRequest(text string, voice tts.VoiceProfile) *ttspb.UtteranceSynthesisRequest {
	req := &ttspb.UtteranceSynthesisRequest{}
	req.SetModel(p.model)
	req.SetText(text)

	name := voice.ID
	if name == "" {
		name = DefaultVoice
	}
	voiceHint := &ttspb.Hints{}
	voiceHint.SetVoice(name)
	hints := []*ttspb.Hints{voiceHint}

	if voice.SpeedFactor > 0 {
		speedHint := &ttspb.Hints{}
		speedHint.SetSpeed(voice.SpeedFactor)
		hints = append(hints, speedHint)
	}
	req.SetHints(hints)

	containerAudio := &ttspb.ContainerAudio{}
	containerAudio.SetContainerAudioType(p.container)
	spec := &ttspb.AudioFormatOptions{}
	spec.SetContainerAudio(containerAudio)
	req.SetOutputAudioSpec(spec)

	req.SetLoudnessNormalizationType(ttspb.UtteranceSynthesisRequest_LUFS)
	return req
}

// ---- ListVoices ----

// catalog lists the SpeechKit v3 voices. The service has no listing RPC.
var catalog = []tts.VoiceProfile{
	{ID: "alena", Name: "Alena", Locale: "ru-RU", Gender: "Female"},
	{ID: "dasha", Name: "Dasha", Locale: "ru-RU", Gender: "Female"},
	{ID: "jane", Name: "Jane", Locale: "ru-RU", Gender: "Female"},
	{ID: "julia", Name: "Julia", Locale: "ru-RU", Gender: "Female"},
	{ID: "lera", Name: "Lera", Locale: "ru-RU", Gender: "Female"},
	{ID: "marina", Name: "Marina", Locale: "ru-RU", Gender: "Female"},
	{ID: "masha", Name: "Masha", Locale: "ru-RU", Gender: "Female"},
	{ID: "omazh", Name: "Omazh", Locale: "ru-RU", Gender: "Female"},
	{ID: "alexander", Name: "Alexander", Locale: "ru-RU", Gender: "Male"},
	{ID: "anton", Name: "Anton", Locale: "ru-RU", Gender: "Male"},
	{ID: "ermil", Name: "Ermil", Locale: "ru-RU", Gender: "Male"},
	{ID: "filipp", Name: "Filipp", Locale: "ru-RU", Gender: "Male"},
	{ID: "kirill", Name: "Kirill", Locale: "ru-RU", Gender: "Male"},
	{ID: "madirus", Name: "Madirus", Locale: "ru-RU", Gender: "Male"},
	{ID: "zahar", Name: "Zahar", Locale: "ru-RU", Gender: "Male"},
	{ID: "john", Name: "John", Locale: "en-US", Gender: "Male"},
	{ID: "lea", Name: "Lea", Locale: "de-DE", Gender: "Female"},
	{ID: "naomi", Name: "Naomi", Locale: "he-IL", Gender: "Female"},
	{ID: "amira", Name: "Amira", Locale: "kk-KK", Gender: "Female"},
	{ID: "madi", Name: "Madi", Locale: "kk-KK", Gender: "Male"},
	{ID: "nigora", Name: "Nigora", Locale: "uz-UZ", Gender: "Female"},
}

// ListVoices returns the static SpeechKit voice catalogue.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	out := make([]tts.VoiceProfile, len(catalog))
	for i, v := range catalog {
		v.Provider = "yandex"
		v.Metadata = map[string]string{"model": p.model}
		out[i] = v
	}
	return out, nil
}

