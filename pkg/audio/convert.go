package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// FormatConverter converts PCM buffers to a target format. It logs once on the
// first format mismatch and once on misaligned input.
// Create one per output; not designed for shared use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns p in the target format. A zero target field keeps the
// corresponding source value. If p already matches, it is returned unchanged.
// Resampling happens before channel conversion.
func (c *FormatConverter) Convert(p PCM) PCM {
	target := c.Target
	if target.SampleRate <= 0 {
		target.SampleRate = p.SampleRate
	}
	if target.Channels <= 0 {
		target.Channels = p.Channels
	}

	if p.Channels > 0 && len(p.Data)%(2*p.Channels) != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio converter: misaligned PCM, truncating to whole frames",
				"bytes", len(p.Data),
				"format", p.Format.String(),
			)
		})
		p.Data = p.Data[:len(p.Data)-len(p.Data)%(2*p.Channels)]
	}

	if p.Format == target {
		return p
	}

	c.warnedMismatch.Do(func() {
		slog.Debug("audio format mismatch: converting",
			"from", p.Format.String(),
			"to", target.String(),
		)
	})

	data := p.Data
	if p.SampleRate != target.SampleRate {
		data = resample16(data, p.Channels, p.SampleRate, target.SampleRate)
	}
	switch {
	case p.Channels == 1 && target.Channels == 2:
		data = monoToStereo(data)
	case p.Channels == 2 && target.Channels == 1:
		data = stereoToMono(data)
	case p.Channels != target.Channels:
		// Unsupported layouts keep their channel count.
		target.Channels = p.Channels
	}
	return PCM{Data: data, Format: target}
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

func putSample(pcm []byte, i int, s int16) {
	binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
}

// monoToStereo duplicates each int16 mono sample into a stereo L+R pair.
// A trailing odd byte is dropped.
func monoToStereo(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n*4)
	for i := range n {
		s := sampleAt(pcm, i)
		putSample(out, 2*i, s)
		putSample(out, 2*i+1, s)
	}
	return out
}

// stereoToMono averages L and R of each stereo frame.
func stereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(sampleAt(pcm, 2*i))
		r := int32(sampleAt(pcm, 2*i+1))
		putSample(out, i, int16((l+r)/2))
	}
	return out
}

// resample16 resamples interleaved 16-bit PCM with the given channel count
// from srcRate to dstRate using linear interpolation. Invalid rates or
// channel counts return the input unchanged.
func resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (2 * channels)
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*2*channels)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for ch := range channels {
			s0 := float64(sampleAt(pcm, idx*channels+ch))
			s1 := float64(sampleAt(pcm, next*channels+ch))
			putSample(out, i*channels+ch, int16(s0*(1-frac)+s1*frac))
		}
	}
	return out
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}
