package synth

import (
	"context"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/readaloud/pkg/provider/tts"
)

// DefaultVoiceMatchThreshold is the minimum Jaro-Winkler similarity for a
// fuzzy voice name match.
const DefaultVoiceMatchThreshold = 0.85

// catalog returns the provider's voice list, loading it on first use. A
// failed load is not cached, so the next call retries.
func (s *Service) catalog(ctx context.Context) ([]tts.VoiceProfile, error) {
	s.voicesMu.Lock()
	defer s.voicesMu.Unlock()
	if s.voices != nil {
		return s.voices, nil
	}
	voices, err := s.provider.ListVoices(ctx)
	if err != nil {
		s.recordProvider(ctx, "voices", err)
		return nil, err
	}
	s.recordProvider(ctx, "voices", nil)
	if voices == nil {
		voices = []tts.VoiceProfile{}
	}
	s.voices = voices
	return voices, nil
}

// InvalidateVoices drops the cached voice catalog.
func (s *Service) InvalidateVoices() {
	s.voicesMu.Lock()
	defer s.voicesMu.Unlock()
	s.voices = nil
}

// ResolveVoice maps a requested voice name to a provider voice:
//
//  1. exact ID match;
//  2. case-insensitive ID or name match;
//  3. best Jaro-Winkler match at or above the match threshold;
//  4. the default voice.
//
// When the catalog cannot be loaded the name is passed through unchanged.
// The configured prosody is set on the result.
func (s *Service) ResolveVoice(ctx context.Context, name string) tts.VoiceProfile {
	vp := s.lookupVoice(ctx, name)
	if s.prosody.speed > 0 {
		vp.SpeedFactor = s.prosody.speed
	}
	if s.prosody.pitch != 0 {
		vp.PitchShift = s.prosody.pitch
	}
	return vp
}

func (s *Service) lookupVoice(ctx context.Context, name string) tts.VoiceProfile {
	def := s.defaults().voice
	if strings.TrimSpace(name) == "" {
		name = def
	}
	voices, err := s.catalog(ctx)
	if err != nil || len(voices) == 0 {
		return tts.VoiceProfile{ID: name}
	}
	if v, ok := matchVoice(voices, name, s.matchThreshold); ok {
		return v
	}
	s.log.Debug("synth: no voice matches, using default", "requested", name, "default", def)
	if v, ok := matchVoice(voices, def, 1); ok {
		return v
	}
	return tts.VoiceProfile{ID: def}
}

func matchVoice(voices []tts.VoiceProfile, name string, threshold float64) (tts.VoiceProfile, bool) {
	for _, v := range voices {
		if v.ID == name {
			return v, true
		}
	}
	for _, v := range voices {
		if strings.EqualFold(v.ID, name) || strings.EqualFold(v.Name, name) {
			return v, true
		}
	}

	want := strings.ToLower(strings.TrimSpace(name))
	var (
		best  tts.VoiceProfile
		score float64
	)
	for _, v := range voices {
		for _, candidate := range []string{v.ID, v.Name} {
			if candidate == "" {
				continue
			}
			if sc := matchr.JaroWinkler(want, strings.ToLower(candidate), false); sc > score {
				best, score = v, sc
			}
		}
	}
	if score >= threshold && score > 0 {
		return best, true
	}
	return tts.VoiceProfile{}, false
}
