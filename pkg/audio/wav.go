package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAVInfo describes the layout of a RIFF/WAVE payload.
type WAVInfo struct {
	// DataOffset is the byte offset of the first PCM sample.
	DataOffset int

	// DataSize is the declared size of the data chunk. Streaming encoders
	// frequently write 0 or 0xFFFFFFFF here, so callers should clamp it
	// against the payload length.
	DataSize int

	SampleRate    int
	Channels      int
	BitsPerSample int
}

// ParseWAV walks the RIFF chunk list of wav and returns the format and data
// location. Only 16-bit PCM is accepted.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 {
		return WAVInfo{}, errors.New("audio: wav too short to be a RIFF file")
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("audio: wav missing RIFF/WAVE header")
	}

	var info WAVInfo
	foundFmt := false

	off := 12
	for off+8 <= len(wav) {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		body := off + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(wav) {
				return WAVInfo{}, errors.New("audio: wav fmt chunk truncated")
			}
			f := wav[body:]
			info.Channels = int(binary.LittleEndian.Uint16(f[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(f[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(f[14:16]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return WAVInfo{}, errors.New("audio: wav data chunk before fmt chunk")
			}
			if info.BitsPerSample != 16 {
				return WAVInfo{}, fmt.Errorf("audio: wav %d-bit samples not supported", info.BitsPerSample)
			}
			info.DataOffset = body
			info.DataSize = size
			if uint32(size) == 0xFFFFFFFF || body+size > len(wav) {
				info.DataSize = len(wav) - body
			}
			return info, nil
		}

		// Chunks are word-aligned.
		off = body + size + size%2
	}
	return WAVInfo{}, errors.New("audio: wav missing data chunk")
}

// EncodeWAV wraps p in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(p PCM) []byte {
	const headerSize = 44
	out := make([]byte, headerSize+len(p.Data))

	blockAlign := p.Channels * 2
	le := binary.LittleEndian
	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], uint32(36+len(p.Data)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], 16)
	le.PutUint16(out[20:22], 1) // PCM
	le.PutUint16(out[22:24], uint16(p.Channels))
	le.PutUint32(out[24:28], uint32(p.SampleRate))
	le.PutUint32(out[28:32], uint32(p.SampleRate*blockAlign))
	le.PutUint16(out[32:34], uint16(blockAlign))
	le.PutUint16(out[34:36], 16)
	copy(out[36:40], "data")
	le.PutUint32(out[40:44], uint32(len(p.Data)))
	copy(out[headerSize:], p.Data)
	return out
}

// MergeWAV concatenates WAV payloads under a single header. Every part is
// converted to the format of the first one, so parts synthesised at
// different rates still merge into one valid file.
func MergeWAV(parts [][]byte) ([]byte, error) {
	if len(parts) == 0 {
		return nil, errors.New("audio: merge wav: no parts")
	}

	var (
		conv  FormatConverter
		total PCM
	)
	for i, part := range parts {
		p, err := Decode(part)
		if err != nil {
			return nil, fmt.Errorf("audio: merge wav part %d: %w", i, err)
		}
		if Detect(part) != ContainerWAV {
			return nil, fmt.Errorf("audio: merge wav part %d: %w", i, ErrUnsupportedFormat)
		}
		if i == 0 {
			conv.Target = p.Format
			total.Format = p.Format
		}
		total.Data = append(total.Data, conv.Convert(p).Data...)
	}
	return EncodeWAV(total), nil
}

// StreamingWAVHeader returns a 44-byte WAV header for a stream whose length is
// not known in advance. Both size fields are set to 0xFFFFFFFF, which
// [ParseWAV] and most players interpret as "until end of file".
func StreamingWAVHeader(f Format) []byte {
	h := EncodeWAV(PCM{Format: f})
	binary.LittleEndian.PutUint32(h[4:8], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(h[40:44], 0xFFFFFFFF)
	return h
}
