package elevenlabs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"

	"github.com/MrWong99/readaloud/pkg/provider/tts"
)

type voicesResponse struct {
	Voices []voice `json:"voices"`
}

type voice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// ListVoices returns the voices the API key can use, premade and cloned.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+voicesPath, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("elevenlabs: list voices: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: decode: %w", err)
	}
	return vr.profiles(), nil
}

// profiles maps the catalogue onto voice profiles. Labels become metadata;
// the gender and language labels also fill the typed fields.
func (vr voicesResponse) profiles() []tts.VoiceProfile {
	out := make([]tts.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := maps.Clone(v.Labels)
		if meta == nil {
			meta = map[string]string{}
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		gender := v.Labels["gender"]
		if gender != "" {
			gender = strings.ToUpper(gender[:1]) + gender[1:]
		}
		out = append(out, tts.VoiceProfile{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Gender:   gender,
			Locale:   v.Labels["language"],
			Metadata: meta,
		})
	}
	return out
}
