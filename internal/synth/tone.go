package synth

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/MrWong99/readaloud/pkg/audio"
	"github.com/MrWong99/readaloud/pkg/backend"
)

// Test tone parameters.
const (
	toneFrequency  = 440.0
	toneSampleRate = 24000
	toneSamples    = toneSampleRate / 2
	toneAmplitude  = 0.3
	toneFadeLen    = toneSampleRate / 100
)

var (
	toneOnce sync.Once
	toneWAV  []byte
)

// TestTone returns a half-second 440 Hz mono WAV. The payload is built once
// and shared; callers must not modify it.
func TestTone() backend.Audio {
	toneOnce.Do(func() {
		pcm := make([]byte, toneSamples*2)
		for i := range toneSamples {
			gain := toneAmplitude
			// Short linear fades keep the edges from clicking.
			if i < toneFadeLen {
				gain *= float64(i) / toneFadeLen
			} else if rem := toneSamples - 1 - i; rem < toneFadeLen {
				gain *= float64(rem) / toneFadeLen
			}
			v := gain * math.Sin(2*math.Pi*toneFrequency*float64(i)/toneSampleRate)
			binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*math.MaxInt16)))
		}
		toneWAV = audio.EncodeWAV(audio.PCM{
			Data:   pcm,
			Format: audio.Format{SampleRate: toneSampleRate, Channels: 1},
		})
	})
	return backend.Audio{Data: toneWAV, ContentType: audio.ContainerWAV.ContentType()}
}
