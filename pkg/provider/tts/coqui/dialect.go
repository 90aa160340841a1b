package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"

	"github.com/MrWong99/readaloud/pkg/provider/tts"
)

const (
	standardSynthPath  = "/api/tts"
	standardVoicesPath = "/details"
	xttsSynthPath      = "/tts_to_audio/"
	xttsVoicesPath     = "/studio_speakers"
)

// requestFunc defers request construction until a context is available.
type requestFunc func(ctx context.Context) (*http.Request, error)

// dialect captures what differs between the two Coqui server flavours.
type dialect interface {
	needsVoice() bool
	synthRequest(base, text, voiceID, language string) (requestFunc, error)
	voicesRequest(base string) requestFunc
	decodeVoices(r io.Reader, language string) ([]tts.VoiceProfile, error)
}

func getRequest(rawURL string) requestFunc {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	}
}

func coquiVoice(id, locale string, meta map[string]string) tts.VoiceProfile {
	return tts.VoiceProfile{ID: id, Name: id, Provider: "coqui", Locale: locale, Metadata: meta}
}

// ── standard tts-server ──

type standardDialect struct{}

// details is the body of GET /details. Speakers is empty for single-speaker
// models.
type details struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

func (standardDialect) needsVoice() bool { return false }

func (standardDialect) synthRequest(base, text, voiceID, language string) (requestFunc, error) {
	q := url.Values{"text": {text}}
	if voiceID != "" {
		q.Set("speaker_id", voiceID)
	}
	if language != "" {
		q.Set("language_id", language)
	}
	return getRequest(base + standardSynthPath + "?" + q.Encode()), nil
}

func (standardDialect) voicesRequest(base string) requestFunc {
	return getRequest(base + standardVoicesPath)
}

func (standardDialect) decodeVoices(r io.Reader, language string) ([]tts.VoiceProfile, error) {
	var d details
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return nil, err
	}
	locale := d.Language
	if locale == "" {
		locale = language
	}
	if len(d.Speakers) == 0 {
		name := d.ModelName
		if name == "" {
			name = "default"
		}
		return []tts.VoiceProfile{coquiVoice(name, locale, map[string]string{
			"type": "single-speaker", "model_name": name,
		})}, nil
	}
	speakers := slices.Sorted(slices.Values(d.Speakers))
	voices := make([]tts.VoiceProfile, 0, len(speakers))
	for _, s := range speakers {
		voices = append(voices, coquiVoice(s, locale, map[string]string{
			"type": "speaker", "model_name": d.ModelName,
		}))
	}
	return voices, nil
}

// ── XTTS v2 API server ──

type xttsDialect struct{}

// xttsSynth is the JSON body of POST /tts_to_audio/.
type xttsSynth struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

func (xttsDialect) needsVoice() bool { return true }

func (xttsDialect) synthRequest(base, text, voiceID, language string) (requestFunc, error) {
	body, err := json.Marshal(xttsSynth{Text: text, SpeakerWav: voiceID, Language: language})
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+xttsSynthPath, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, nil
}

func (xttsDialect) voicesRequest(base string) requestFunc {
	return getRequest(base + xttsVoicesPath)
}

// decodeVoices reads GET /studio_speakers, an object keyed by speaker name.
func (xttsDialect) decodeVoices(r io.Reader, language string) ([]tts.VoiceProfile, error) {
	var speakers map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&speakers); err != nil {
		return nil, err
	}
	names := slices.Sorted(maps.Keys(speakers))
	voices := make([]tts.VoiceProfile, 0, len(names))
	for _, n := range names {
		voices = append(voices, coquiVoice(n, language, map[string]string{"type": "studio"}))
	}
	return voices, nil
}
