// Package coqui implements [tts.Provider] against a self-hosted Coqui TTS
// server. Two server flavours are supported, selected with [WithAPIMode]:
//
//   - [APIModeStandard] (default): the stock tts-server image. GET /api/tts
//     with query parameters; voices from GET /details.
//   - [APIModeXTTS]: the XTTS v2 API server. POST /tts_to_audio/ with a JSON
//     body; voices from GET /studio_speakers.
//
// Coqui renders one utterance per request and its quality drops on long
// input, so Synthesize splits the text into sentences, renders a bounded
// number of them concurrently and joins the results under one WAV header.
package coqui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/readaloud/pkg/audio"
	"github.com/MrWong99/readaloud/pkg/provider/tts"
	"github.com/MrWong99/readaloud/pkg/sentence"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage    = "en"
	defaultTimeout     = 30 * time.Second
	defaultConcurrency = 4

	// streamSlice is the size of each slice emitted by SynthesizeStream.
	streamSlice = 4096

	// maxErrorExcerpt bounds how much of an error body ends up in an error.
	maxErrorExcerpt = 256
)

// APIMode selects the server flavour.
type APIMode string

const (
	APIModeStandard APIMode = "standard"
	APIModeXTTS     APIMode = "xtts"
)

// Option configures a [Provider].
type Option func(*Provider)

// WithLanguage sets the language code sent with every request. Default "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Default 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.http.Timeout = d }
}

// WithAPIMode selects the server flavour. Unknown modes fail in [New].
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.mode = mode }
}

// WithSentenceConcurrency bounds the sentences rendered in parallel for one
// Synthesize call. Default 4.
func WithSentenceConcurrency(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithOutputSampleRate resamples the joined WAV to rate. Zero keeps the
// model's native rate.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) { p.outputRate = rate }
}

// Provider talks to one Coqui server. It is safe for concurrent use.
type Provider struct {
	baseURL     string
	language    string
	mode        APIMode
	dialect     dialect
	concurrency int
	outputRate  int
	http        *http.Client
}

// New creates a Provider for the server at baseURL, e.g.
// "http://localhost:5002".
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("coqui: base URL must not be empty")
	}
	p := &Provider{
		baseURL:     strings.TrimRight(baseURL, "/"),
		language:    defaultLanguage,
		mode:        APIModeStandard,
		concurrency: defaultConcurrency,
		http:        &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	switch p.mode {
	case APIModeStandard:
		p.dialect = standardDialect{}
	case APIModeXTTS:
		p.dialect = xttsDialect{}
	default:
		return nil, fmt.Errorf("coqui: unknown api mode %q", p.mode)
	}
	return p, nil
}

// Synthesize implements [tts.Provider]. The result is always WAV.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*tts.Audio, error) {
	if err := p.check(text, voice); err != nil {
		return nil, err
	}

	sentences := sentence.Split(text)
	wavs := make([][]byte, len(sentences))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, s := range sentences {
		g.Go(func() (err error) {
			wavs[i], err = p.render(gctx, s, voice)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	joined, err := audio.MergeWAV(wavs)
	if err != nil {
		return nil, fmt.Errorf("coqui: join sentences: %w", err)
	}
	if joined, err = p.resample(joined); err != nil {
		return nil, err
	}
	return &tts.Audio{Data: joined, ContentType: tts.ContentTypeWAV}, nil
}

// SynthesizeStream implements [tts.Provider]. The WAV header carries the
// total length, so the payload is rendered in full before the first slice is
// sent. A failed render closes the channel without data.
func (p *Provider) SynthesizeStream(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if err := p.check(text, voice); err != nil {
		return nil, err
	}
	ch := make(chan []byte, 16)
	go func() {
		defer close(ch)
		res, err := p.Synthesize(ctx, text, voice)
		if err != nil {
			return
		}
		for data := res.Data; len(data) > 0; {
			n := min(streamSlice, len(data))
			select {
			case ch <- data[:n]:
			case <-ctx.Done():
				return
			}
			data = data[n:]
		}
	}()
	return ch, nil
}

// ListVoices implements [tts.Provider].
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	resp, err := p.do(ctx, p.dialect.voicesRequest(p.baseURL), "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	voices, err := p.dialect.decodeVoices(resp.Body, p.language)
	if err != nil {
		return nil, fmt.Errorf("coqui: decode voices: %w", err)
	}
	return voices, nil
}

func (p *Provider) check(text string, voice tts.VoiceProfile) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("coqui: text must not be empty")
	}
	if voice.ID == "" && p.dialect.needsVoice() {
		return fmt.Errorf("coqui: %s mode needs a voice id", p.mode)
	}
	return nil
}

// render synthesises one sentence and validates the WAV that comes back.
func (p *Provider) render(ctx context.Context, s string, voice tts.VoiceProfile) ([]byte, error) {
	build, err := p.dialect.synthRequest(p.baseURL, s, voice.ID, p.language)
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}
	resp, err := p.do(ctx, build, "audio/wav")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read audio: %w", err)
	}
	if _, err := audio.ParseWAV(wav); err != nil {
		return nil, fmt.Errorf("coqui: server returned invalid WAV: %w", err)
	}
	return wav, nil
}

func (p *Provider) resample(wav []byte) ([]byte, error) {
	if p.outputRate <= 0 {
		return wav, nil
	}
	pcm, err := audio.Decode(wav)
	if err != nil {
		return nil, fmt.Errorf("coqui: decode joined wav: %w", err)
	}
	if pcm.SampleRate == p.outputRate {
		return wav, nil
	}
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: p.outputRate}}
	return audio.EncodeWAV(conv.Convert(pcm)), nil
}

// do sends the request built by build. A non-200 response becomes an error
// carrying an excerpt of the server's message; its body is closed.
func (p *Provider) do(ctx context.Context, build requestFunc, accept string) (*http.Response, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Accept", accept)

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorExcerpt))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return nil, fmt.Errorf("coqui: %s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, msg)
}
