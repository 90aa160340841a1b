// Package edge provides a TTS provider backed by the Microsoft Edge
// "read aloud" speech service. It implements the tts.Provider interface and
// produces 24 kHz mono MP3.
//
// The service speaks a small text-framed protocol over a WebSocket: the
// client sends a speech.config message and an SSML message, and the server
// answers with turn.start, a series of binary audio frames, and turn.end.
// Each binary frame carries a 2-byte big-endian header length, a text header
// block, and the audio bytes.
//
// Long input is split into pieces of at most maxPieceRunes runes, each
// synthesised on its own connection, and the MP3 frames are concatenated.
//
// Typical usage:
//
//	p := edge.New()
//	audio, err := p.Synthesize(ctx, "Hello there.", tts.VoiceProfile{ID: "en-US-AriaNeural"})
package edge

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/readaloud/pkg/provider/tts"
	"github.com/MrWong99/readaloud/pkg/sentence"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	trustedClientToken = "6A5AA1D4EAFF4E9FB37E23D68491D6F4"
	secMSGECVersion    = "1-130.0.2849.68"
	baseHost           = "speech.platform.bing.com/consumer/speech/synthesize/readaloud"
	defaultWSURL       = "wss://" + baseHost + "/edge/v1"
	defaultVoicesURL   = "https://" + baseHost + "/voices/list"
	extensionOrigin    = "chrome-extension://jdiccldimpdaibmpdkjnbmckianbfold"
	userAgent          = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36 Edg/130.0.0.0"

	// DefaultVoice is used when a request carries no voice ID.
	DefaultVoice = "en-US-AriaNeural"

	defaultOutputFormat = "audio-24khz-48kbitrate-mono-mp3"
	defaultTimeout      = 30 * time.Second

	// maxPieceRunes keeps each SSML document well below the service limit.
	maxPieceRunes = 1500

	// windowsEpochOffset is the number of seconds between 1601-01-01 and
	// 1970-01-01.
	windowsEpochOffset = 11644473600
)

// Option is a functional option for configuring an Edge Provider.
type Option func(*Provider)

// WithEndpoints overrides the WebSocket and voice-list URLs. An empty value
// keeps the default.
func WithEndpoints(wsURL, voicesURL string) Option {
	return func(p *Provider) {
		if wsURL != "" {
			p.wsURL = wsURL
		}
		if voicesURL != "" {
			p.voicesURL = voicesURL
		}
	}
}

// WithOutputFormat sets the service output format. Only MP3 formats are
// accepted by New.
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithTimeout bounds each synthesis turn and voice-list request.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

// withClock replaces time.Now for token generation in tests.
func withClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// Provider implements tts.Provider backed by the Edge read-aloud service.
// It is safe for concurrent use.
type Provider struct {
	wsURL        string
	voicesURL    string
	outputFormat string
	timeout      time.Duration
	httpClient   *http.Client
	now          func() time.Time
}

// New creates an Edge Provider. No credentials are required.
func New(opts ...Option) (*Provider, error) {
	p := &Provider{
		wsURL:        defaultWSURL,
		voicesURL:    defaultVoicesURL,
		outputFormat: defaultOutputFormat,
		timeout:      defaultTimeout,
		httpClient:   &http.Client{},
		now:          time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if !strings.HasSuffix(p.outputFormat, "-mp3") {
		return nil, fmt.Errorf("edge: unsupported output format %q", p.outputFormat)
	}
	p.httpClient.Timeout = p.timeout
	return p, nil
}

// ---- token ----

// secMSGEC derives the Sec-MS-GEC token: the uppercase hex sha256 of the
// Windows file-time tick count, rounded down to five minutes, followed by the
// trusted client token.
func secMSGEC(now time.Time) string {
	secs := now.Unix() + windowsEpochOffset
	secs -= secs % 300
	ticks := secs * 10_000_000 // 100ns intervals
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d%s", ticks, trustedClientToken)))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func (p *Provider) authQuery() url.Values {
	q := url.Values{}
	q.Set("TrustedClientToken", trustedClientToken)
	q.Set("Sec-MS-GEC", secMSGEC(p.now()))
	q.Set("Sec-MS-GEC-Version", secMSGECVersion)
	return q
}

func connectionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ---- protocol framing ----

// timestamp formats t the way the service expects in X-Timestamp headers.
func timestamp(t time.Time) string {
	return t.UTC().Format("Mon Jan 02 2006 15:04:05 GMT+0000 (Coordinated Universal Time)")
}

func configMessage(now time.Time, outputFormat string) string {
	return "X-Timestamp:" + timestamp(now) + "\r\n" +
		"Content-Type:application/json; charset=utf-8\r\n" +
		"Path:speech.config\r\n\r\n" +
		`{"context":{"synthesis":{"audio":{"metadataoptions":{"sentenceBoundaryEnabled":"false","wordBoundaryEnabled":"false"},"outputFormat":"` +
		outputFormat + `"}}}}` + "\r\n"
}

func ssmlMessage(now time.Time, requestID, ssml string) string {
	return "X-RequestId:" + requestID + "\r\n" +
		"Content-Type:application/ssml+xml\r\n" +
		"X-Timestamp:" + timestamp(now) + "Z\r\n" +
		"Path:ssml\r\n\r\n" + ssml
}

var shortNameRe = regexp.MustCompile(`^([a-z]{2,3}-[A-Za-z0-9]{2,4})-(.+)$`)

// longVoiceName expands a ShortName such as "en-US-AriaNeural" to the form the
// SSML voice element requires.
func longVoiceName(id string) string {
	if strings.HasPrefix(id, "Microsoft Server Speech") {
		return id
	}
	m := shortNameRe.FindStringSubmatch(id)
	if m == nil {
		return id
	}
	return fmt.Sprintf("Microsoft Server Speech Text to Speech Voice (%s, %s)", m[1], m[2])
}

// buildSSML renders a single-voice SSML document. SpeedFactor maps to a
// relative rate and PitchShift to a Hz offset.
func buildSSML(text string, voice tts.VoiceProfile) string {
	id := voice.ID
	if id == "" {
		id = DefaultVoice
	}
	lang := "en-US"
	if m := shortNameRe.FindStringSubmatch(id); m != nil {
		lang = m[1]
	}
	rate := 0
	if voice.SpeedFactor > 0 {
		rate = int((voice.SpeedFactor - 1) * 100)
	}
	pitch := int(voice.PitchShift * 10)

	return fmt.Sprintf(
		"<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='%s'>"+
			"<voice name='%s'><prosody pitch='%+dHz' rate='%+d%%' volume='+0%%'>%s</prosody></voice></speak>",
		lang, html.EscapeString(longVoiceName(id)), pitch, rate, html.EscapeString(text),
	)
}

// parseTextHeaders splits a text frame into its header map and body.
func parseTextHeaders(msg []byte) (map[string]string, []byte) {
	head, body, _ := strings.Cut(string(msg), "\r\n\r\n")
	headers := make(map[string]string)
	for line := range strings.SplitSeq(head, "\r\n") {
		if k, v, ok := strings.Cut(line, ":"); ok {
			headers[k] = strings.TrimSpace(v)
		}
	}
	return headers, []byte(body)
}

// parseBinaryFrame splits a binary frame into its header map and audio bytes.
func parseBinaryFrame(msg []byte) (map[string]string, []byte, error) {
	if len(msg) < 2 {
		return nil, nil, errors.New("edge: binary frame too short")
	}
	n := int(binary.BigEndian.Uint16(msg[:2]))
	if 2+n > len(msg) {
		return nil, nil, errors.New("edge: binary frame header overruns payload")
	}
	headers, _ := parseTextHeaders(append(msg[2:2+n:2+n], "\r\n\r\n"...))
	return headers, msg[2+n:], nil
}

// ---- Synthesize ----

// Synthesize returns the complete MP3 for text.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*tts.Audio, error) {
	pieces := sentence.Pack(text, maxPieceRunes)
	if len(pieces) == 0 {
		return nil, errors.New("edge: text must not be empty")
	}
	var out []byte
	for _, piece := range pieces {
		err := p.turn(ctx, piece, voice, func(b []byte) error {
			out = append(out, b...)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	if len(out) == 0 {
		return nil, errors.New("edge: no audio received")
	}
	return &tts.Audio{Data: out, ContentType: tts.ContentTypeMP3}, nil
}

// SynthesizeStream emits MP3 frames as the service produces them. The
// channel closes early if a turn fails.
func (p *Provider) SynthesizeStream(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	pieces := sentence.Pack(text, maxPieceRunes)
	if len(pieces) == 0 {
		return nil, errors.New("edge: text must not be empty")
	}

	ch := make(chan []byte, 64)
	go func() {
		defer close(ch)
		for _, piece := range pieces {
			err := p.turn(ctx, piece, voice, func(b []byte) error {
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

// turn runs one config+SSML exchange on a fresh connection and passes every
// audio payload to emit until turn.end.
func (p *Provider) turn(ctx context.Context, text string, voice tts.VoiceProfile, emit func([]byte) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	q := p.authQuery()
	q.Set("ConnectionId", connectionID())
	conn, _, err := websocket.Dial(ctx, p.wsURL+"?"+q.Encode(), &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Origin":        {extensionOrigin},
			"User-Agent":    {userAgent},
			"Pragma":        {"no-cache"},
			"Cache-Control": {"no-cache"},
		},
	})
	if err != nil {
		return fmt.Errorf("edge: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	conn.SetReadLimit(4 << 20)

	now := p.now()
	if err := conn.Write(ctx, websocket.MessageText, []byte(configMessage(now, p.outputFormat))); err != nil {
		return fmt.Errorf("edge: send config: %w", err)
	}
	reqID := connectionID()
	if err := conn.Write(ctx, websocket.MessageText, []byte(ssmlMessage(now, reqID, buildSSML(text, voice)))); err != nil {
		return fmt.Errorf("edge: send ssml: %w", err)
	}

	gotAudio := false
	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("edge: read: %w", err)
		}
		switch typ {
		case websocket.MessageText:
			headers, _ := parseTextHeaders(msg)
			if headers["Path"] == "turn.end" {
				if !gotAudio {
					return errors.New("edge: turn ended without audio")
				}
				return nil
			}
		case websocket.MessageBinary:
			headers, data, err := parseBinaryFrame(msg)
			if err != nil {
				return err
			}
			if headers["Path"] != "audio" || len(data) == 0 {
				continue
			}
			gotAudio = true
			if err := emit(data); err != nil {
				return err
			}
		}
	}
}

// ---- ListVoices ----

// edgeVoice is a single entry of the voices/list response.
type edgeVoice struct {
	Name           string `json:"Name"`
	ShortName      string `json:"ShortName"`
	Gender         string `json:"Gender"`
	Locale         string `json:"Locale"`
	SuggestedCodec string `json:"SuggestedCodec"`
	FriendlyName   string `json:"FriendlyName"`
	Status         string `json:"Status"`
}

// ListVoices fetches the service's voice catalogue.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	q := url.Values{}
	q.Set("trustedclienttoken", trustedClientToken)
	q.Set("Sec-MS-GEC", secMSGEC(p.now()))
	q.Set("Sec-MS-GEC-Version", secMSGECVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.voicesURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("edge: list voices: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("edge: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("edge: list voices: unexpected status %d", resp.StatusCode)
	}

	var voices []edgeVoice
	if err := json.NewDecoder(resp.Body).Decode(&voices); err != nil {
		return nil, fmt.Errorf("edge: list voices decode: %w", err)
	}

	profiles := make([]tts.VoiceProfile, 0, len(voices))
	for _, v := range voices {
		if v.Status == "Deprecated" {
			continue
		}
		profiles = append(profiles, tts.VoiceProfile{
			ID:       v.ShortName,
			Name:     v.FriendlyName,
			Provider: "edge",
			Locale:   v.Locale,
			Gender:   v.Gender,
			Metadata: map[string]string{
				"name":  v.Name,
				"codec": v.SuggestedCodec,
			},
		})
	}
	return profiles, nil
}
