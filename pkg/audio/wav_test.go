package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/readaloud/pkg/audio"
)

func TestEncodeWAV_ParseWAV(t *testing.T) {
	t.Parallel()

	pcm := audio.PCM{
		Data:   samplesToBytes([]int16{1, -1, 2, -2}),
		Format: audio.Format{SampleRate: 22050, Channels: 1},
	}
	wav := audio.EncodeWAV(pcm)
	if len(wav) != 44+len(pcm.Data) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm.Data))
	}

	info, err := audio.ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.DataOffset != 44 || info.DataSize != len(pcm.Data) {
		t.Errorf("offset/size = %d/%d, want 44/%d", info.DataOffset, info.DataSize, len(pcm.Data))
	}
	if info.SampleRate != 22050 || info.Channels != 1 || info.BitsPerSample != 16 {
		t.Errorf("unexpected format %+v", info)
	}
}

func TestParseWAV_SkipsExtraChunks(t *testing.T) {
	t.Parallel()

	base := audio.EncodeWAV(audio.PCM{
		Data:   samplesToBytes([]int16{7, 8}),
		Format: audio.Format{SampleRate: 16000, Channels: 1},
	})

	// Insert an odd-sized LIST chunk between fmt and data.
	var buf bytes.Buffer
	buf.Write(base[:36])
	buf.WriteString("LIST")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(3))
	buf.Write([]byte{'a', 'b', 'c', 0}) // pad byte
	buf.Write(base[36:])

	info, err := audio.ParseWAV(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.DataOffset != 36+12+8 {
		t.Errorf("DataOffset = %d, want %d", info.DataOffset, 36+12+8)
	}
}

func TestParseWAV_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		wav  []byte
	}{
		{"too short", []byte("RIFF")},
		{"not riff", append([]byte("RIFX\x00\x00\x00\x00WAVE"), make([]byte, 32)...)},
		{"no data chunk", audio.EncodeWAV(audio.PCM{Format: audio.Format{SampleRate: 8000, Channels: 1}})[:36]},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := audio.ParseWAV(tc.wav); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDecode_WAV(t *testing.T) {
	t.Parallel()

	data := samplesToBytes([]int16{10, 20, 30, 40})
	got, err := audio.Decode(audio.EncodeWAV(audio.PCM{
		Data:   data,
		Format: audio.Format{SampleRate: 8000, Channels: 2},
	}))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got.Data, data) {
		t.Errorf("Data = %v, want %v", got.Data, data)
	}
	if got.SampleRate != 8000 || got.Channels != 2 {
		t.Errorf("format = %s", got.Format)
	}
}

func TestDecode_Unsupported(t *testing.T) {
	t.Parallel()

	_, err := audio.Decode([]byte("definitely not audio"))
	if !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload []byte
		want    audio.Container
	}{
		{"wav", audio.EncodeWAV(audio.PCM{Format: audio.Format{SampleRate: 8000, Channels: 1}}), audio.ContainerWAV},
		{"id3", []byte("ID3\x04\x00\x00"), audio.ContainerMP3},
		{"frame sync", []byte{0xFF, 0xFB, 0x90, 0x00}, audio.ContainerMP3},
		{"text", []byte("hello"), audio.ContainerUnknown},
		{"empty", nil, audio.ContainerUnknown},
	}
	for _, tc := range tests {
		if got := audio.Detect(tc.payload); got != tc.want {
			t.Errorf("%s: Detect = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestContainerFromContentType(t *testing.T) {
	t.Parallel()

	if got := audio.ContainerFromContentType("audio/mpeg"); got != audio.ContainerMP3 {
		t.Errorf("audio/mpeg = %v", got)
	}
	if got := audio.ContainerFromContentType(" Audio/WAV; codecs=1 "); got != audio.ContainerWAV {
		t.Errorf("audio/wav with params = %v", got)
	}
	if got := audio.ContainerFromContentType("text/plain"); got != audio.ContainerUnknown {
		t.Errorf("text/plain = %v", got)
	}
}

func TestMergeWAV(t *testing.T) {
	t.Parallel()

	a := audio.EncodeWAV(audio.PCM{
		Data:   samplesToBytes([]int16{1, 2}),
		Format: audio.Format{SampleRate: 16000, Channels: 1},
	})
	b := audio.EncodeWAV(audio.PCM{
		Data:   samplesToBytes([]int16{3, 4, 5}),
		Format: audio.Format{SampleRate: 16000, Channels: 1},
	})

	merged, err := audio.MergeWAV([][]byte{a, b})
	if err != nil {
		t.Fatalf("MergeWAV: %v", err)
	}
	got, err := audio.Decode(merged)
	if err != nil {
		t.Fatalf("Decode merged: %v", err)
	}
	want := []int16{1, 2, 3, 4, 5}
	samples := bytesToSamples(got.Data)
	if len(samples) != len(want) {
		t.Fatalf("got %d samples, want %d", len(samples), len(want))
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, samples[i], want[i])
		}
	}
}

func TestMergeWAV_ConvertsToFirstFormat(t *testing.T) {
	t.Parallel()

	a := audio.EncodeWAV(audio.PCM{
		Data:   samplesToBytes([]int16{1, 2}),
		Format: audio.Format{SampleRate: 16000, Channels: 1},
	})
	b := audio.EncodeWAV(audio.PCM{
		Data:   samplesToBytes([]int16{3, 3, 4, 4}),
		Format: audio.Format{SampleRate: 16000, Channels: 2},
	})

	merged, err := audio.MergeWAV([][]byte{a, b})
	if err != nil {
		t.Fatalf("MergeWAV: %v", err)
	}
	got, err := audio.Decode(merged)
	if err != nil {
		t.Fatalf("Decode merged: %v", err)
	}
	if got.Channels != 1 {
		t.Errorf("channels = %d, want 1", got.Channels)
	}
	if n := len(got.Data) / 2; n != 4 {
		t.Errorf("samples = %d, want 4", n)
	}
}

func TestMergeWAV_RejectsNonWAV(t *testing.T) {
	t.Parallel()

	if _, err := audio.MergeWAV(nil); err == nil {
		t.Error("expected error for no parts")
	}
	if _, err := audio.MergeWAV([][]byte{[]byte("junk")}); err == nil {
		t.Error("expected error for junk part")
	}
}

func TestBytesToDuration(t *testing.T) {
	t.Parallel()

	f := audio.Format{SampleRate: 24000, Channels: 1}
	if got := audio.BytesToDuration(48000, f); got != time.Second {
		t.Errorf("BytesToDuration = %v, want 1s", got)
	}
	if got := audio.DurationToBytes(500*time.Millisecond, f); got != 24000 {
		t.Errorf("DurationToBytes = %d, want 24000", got)
	}
	if got := audio.BytesToDuration(100, audio.Format{}); got != 0 {
		t.Errorf("unknown format duration = %v, want 0", got)
	}
}
