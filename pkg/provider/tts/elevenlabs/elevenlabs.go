// Package elevenlabs implements [tts.Provider] on the ElevenLabs stream-input
// WebSocket API.
//
// The text is split into sentences and fed to one WebSocket session per
// request; audio frames come back base64 encoded. mp3_* output formats are
// passed through. pcm_* formats are wrapped in a WAV header so that every
// payload the provider returns is self-describing.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/readaloud/pkg/audio"
	"github.com/MrWong99/readaloud/pkg/provider/tts"
	"github.com/MrWong99/readaloud/pkg/sentence"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultBaseURL   = "https://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "mp3_44100_128"
	voicesPath       = "/v1/voices"

	// maxFrame bounds a single server message; frames carry a few hundred
	// milliseconds of base64 audio.
	maxFrame = 8 << 20
)

// errNoAudio is returned when a session ends without any audio.
var errNoAudio = errors.New("elevenlabs: no audio received")

// Option configures a [Provider].
type Option func(*Provider)

// WithModel selects the model, e.g. "eleven_multilingual_v2".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat selects the output format, e.g. "mp3_44100_128" or
// "pcm_24000".
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.outputFormat = format }
}

// WithBaseURL replaces the API origin. The WebSocket origin is derived from
// it by swapping http for ws.
func WithBaseURL(base string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(base, "/") }
}

// WithVoiceSettings overrides the stability and similarity boost sent with
// every session. Both range from 0 to 1.
func WithVoiceSettings(stability, similarity float64) Option {
	return func(p *Provider) {
		p.settings.Stability = stability
		p.settings.SimilarityBoost = similarity
	}
}

// WithHTTPClient sets the client used for the REST endpoints.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider talks to ElevenLabs. It is safe for concurrent use; every
// synthesis opens its own WebSocket.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	baseURL      string
	settings     voiceSettings
	httpClient   *http.Client

	// pcmRate is the sample rate of a pcm_* output format, 0 for mp3.
	pcmRate int
}

// New returns a provider for apiKey. The output format must be an mp3_* or
// pcm_<rate> format.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		baseURL:      defaultBaseURL,
		settings:     voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		httpClient:   http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}

	kind, rate, _ := strings.Cut(p.outputFormat, "_")
	switch kind {
	case "mp3":
	case "pcm":
		n, err := strconv.Atoi(rate)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("elevenlabs: invalid output format %q", p.outputFormat)
		}
		p.pcmRate = n
	default:
		return nil, fmt.Errorf("elevenlabs: unsupported output format %q", p.outputFormat)
	}
	return p, nil
}

func (p *Provider) contentType() string {
	if p.pcmRate > 0 {
		return tts.ContentTypeWAV
	}
	return tts.ContentTypeMP3
}

// ── wire messages ────────────────────────────────────────────────────────────

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// inputMessage is one client frame. The first frame of a session carries the
// key and settings; an empty Text flushes the session.
type inputMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
}

// outputMessage is one server frame.
type outputMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ── synthesis ────────────────────────────────────────────────────────────────

// Synthesize runs one session to completion and returns its audio. Errors
// reported by the server, such as an exhausted quota, are returned.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*tts.Audio, error) {
	conn, parts, err := p.open(ctx, text, voice)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = p.run(ctx, conn, parts, func(b []byte) bool {
		data = append(data, b...)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: synthesize: %w", err)
	}
	if len(data) == 0 {
		return nil, errNoAudio
	}
	if p.pcmRate > 0 {
		data = audio.EncodeWAV(audio.PCM{Format: p.format(), Data: data})
	}
	return &tts.Audio{Data: data, ContentType: p.contentType()}, nil
}

// SynthesizeStream opens a session and emits audio as it arrives. For pcm
// formats the first slice is a streaming WAV header. Server errors end the
// stream early.
func (p *Provider) SynthesizeStream(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	conn, parts, err := p.open(ctx, text, voice)
	if err != nil {
		return nil, err
	}
	out := make(chan []byte, 256)
	emit := func(b []byte) bool {
		select {
		case out <- b:
			return true
		case <-ctx.Done():
			return false
		}
	}
	go func() {
		defer close(out)
		if p.pcmRate > 0 && !emit(audio.StreamingWAVHeader(p.format())) {
			conn.CloseNow()
			return
		}
		_ = p.run(ctx, conn, parts, emit)
	}()
	return out, nil
}

func (p *Provider) format() audio.Format {
	return audio.Format{SampleRate: p.pcmRate, Channels: 1}
}

// open validates the request, dials the session and sends the opening frame.
func (p *Provider) open(ctx context.Context, text string, voice tts.VoiceProfile) (*websocket.Conn, []string, error) {
	if voice.ID == "" {
		return nil, nil, errors.New("elevenlabs: voice.ID must not be empty")
	}
	parts := sentence.Split(text)
	if len(parts) == 0 {
		return nil, nil, errors.New("elevenlabs: text must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voice.ID), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	conn.SetReadLimit(maxFrame)

	vs := p.settings
	if voice.SpeedFactor > 0 {
		vs.Speed = voice.SpeedFactor
	}
	// The opening frame needs a non-empty text; a single space does.
	if err := writeJSON(ctx, conn, inputMessage{Text: " ", VoiceSettings: &vs, XiAPIKey: p.apiKey}); err != nil {
		conn.CloseNow()
		return nil, nil, fmt.Errorf("elevenlabs: open session: %w", err)
	}
	return conn, parts, nil
}

// run sends parts followed by a flush and hands every decoded audio frame to
// emit until the final frame. It stops early when emit returns false and
// always closes conn.
func (p *Provider) run(ctx context.Context, conn *websocket.Conn, parts []string, emit func([]byte) bool) error {
	defer conn.Close(websocket.StatusNormalClosure, "")

	for _, s := range parts {
		// The trailing space ends the last word for the aligner.
		if err := writeJSON(ctx, conn, inputMessage{Text: s + " "}); err != nil {
			return fmt.Errorf("send text: %w", err)
		}
	}
	if err := writeJSON(ctx, conn, inputMessage{}); err != nil {
		return fmt.Errorf("send flush: %w", err)
	}

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var msg outputMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Error != "" {
			return fmt.Errorf("server: %s: %s", msg.Error, msg.Message)
		}
		if msg.Audio != "" {
			b, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				return fmt.Errorf("decode audio: %w", err)
			}
			if len(b) > 0 && !emit(b) {
				return ctx.Err()
			}
		}
		if msg.IsFinal {
			return nil
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// streamURL is the stream-input endpoint for voiceID.
func (p *Provider) streamURL(voiceID string) string {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		u = &url.URL{Scheme: "https", Host: "api.elevenlabs.io"}
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/text-to-speech/" + voiceID + "/stream-input"
	u.RawPath = ""
	u.RawQuery = url.Values{"model_id": {p.model}, "output_format": {p.outputFormat}}.Encode()
	return u.String()
}
