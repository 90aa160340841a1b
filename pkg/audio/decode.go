package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hajimehoshi/go-mp3"
)

// Container identifies the encoding of an audio payload.
type Container int

const (
	// ContainerUnknown is returned for payloads that match no known signature.
	ContainerUnknown Container = iota

	// ContainerMP3 is an MPEG-1/2 Layer III stream, optionally with an ID3 tag.
	ContainerMP3

	// ContainerWAV is a RIFF/WAVE file carrying 16-bit PCM.
	ContainerWAV
)

// String returns the human-readable name of the container.
func (c Container) String() string {
	switch c {
	case ContainerMP3:
		return "mp3"
	case ContainerWAV:
		return "wav"
	default:
		return "unknown"
	}
}

// ContentType returns the MIME type used on the wire for c.
func (c Container) ContentType() string {
	switch c {
	case ContainerMP3:
		return "audio/mpeg"
	case ContainerWAV:
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

// Ext returns the file extension (without dot) for c.
func (c Container) Ext() string {
	switch c {
	case ContainerWAV:
		return "wav"
	default:
		return "mp3"
	}
}

// ErrUnsupportedFormat is returned by [Decode] for payloads that are neither
// MP3 nor WAV.
var ErrUnsupportedFormat = errors.New("audio: unsupported format")

// Detect inspects the leading bytes of payload and returns its container.
func Detect(payload []byte) Container {
	switch {
	case len(payload) >= 12 && string(payload[0:4]) == "RIFF" && string(payload[8:12]) == "WAVE":
		return ContainerWAV
	case len(payload) >= 3 && string(payload[0:3]) == "ID3":
		return ContainerMP3
	case len(payload) >= 2 && payload[0] == 0xFF && payload[1]&0xE0 == 0xE0:
		return ContainerMP3
	}
	return ContainerUnknown
}

// ContainerFromContentType maps a MIME type to a container. Parameters such
// as "; codecs=..." are ignored.
func ContainerFromContentType(ct string) Container {
	ct, _, _ = strings.Cut(strings.ToLower(strings.TrimSpace(ct)), ";")
	switch ct {
	case "audio/mpeg", "audio/mp3", "audio/mpeg3", "audio/x-mpeg-3":
		return ContainerMP3
	case "audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return ContainerWAV
	}
	return ContainerUnknown
}

// Decode converts an MP3 or WAV payload into PCM. The container is detected
// from the payload itself; the MIME type is not trusted.
//
// MP3 is decoded with go-mp3, which always yields interleaved stereo.
func Decode(payload []byte) (PCM, error) {
	switch Detect(payload) {
	case ContainerWAV:
		info, err := ParseWAV(payload)
		if err != nil {
			return PCM{}, err
		}
		end := info.DataOffset + info.DataSize
		if info.DataSize <= 0 || end > len(payload) {
			end = len(payload)
		}
		return PCM{
			Data:   payload[info.DataOffset:end],
			Format: Format{SampleRate: info.SampleRate, Channels: info.Channels},
		}, nil

	case ContainerMP3:
		dec, err := mp3.NewDecoder(bytes.NewReader(payload))
		if err != nil {
			return PCM{}, fmt.Errorf("audio: decode mp3: %w", err)
		}
		buf := make([]byte, 0, max(dec.Length(), 0))
		out := bytes.NewBuffer(buf)
		if _, err := io.Copy(out, dec); err != nil {
			return PCM{}, fmt.Errorf("audio: decode mp3 frames: %w", err)
		}
		return PCM{
			Data:   out.Bytes(),
			Format: Format{SampleRate: dec.SampleRate(), Channels: 2},
		}, nil
	}
	return PCM{}, ErrUnsupportedFormat
}
