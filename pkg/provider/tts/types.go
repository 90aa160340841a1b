package tts

// Content types produced by the built-in providers.
const (
	ContentTypeMP3 = "audio/mpeg"
	ContentTypeWAV = "audio/wav"
)

// Audio is a complete encoded synthesis result.
type Audio struct {
	// Data is the encoded payload.
	Data []byte

	// ContentType is the MIME type of Data, e.g. "audio/mpeg".
	ContentType string
}

// VoiceProfile describes a voice offered by a TTS provider.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier, e.g. "en-US-AriaNeural".
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Locale is the BCP 47 language tag of the voice, e.g. "en-US".
	Locale string

	// Gender is the provider-reported gender ("Female", "Male", or empty).
	Gender string

	// PitchShift adjusts pitch (-10 to +10, 0 = default).
	PitchShift float64

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default, 0 = unset).
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes.
	Metadata map[string]string
}
