package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/readaloud/pkg/backend"
)

// fakeServer serves a two-chunk plan. Chunk payloads are "chunk-<n>".
func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	texts := []string{"Hello world.", "Grüße, Welt!"}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tts/voices", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"voices":[{"ShortName":"en-US-AriaNeural","FriendlyName":"Aria","Locale":"en-US","Gender":"Female"}]}`))
	})
	mux.HandleFunc("GET /api/tts/test", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFF-tone"))
	})
	mux.HandleFunc("POST /api/tts", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text          string `json:"text"`
			Voice         string `json:"voice"`
			GetChunksInfo bool   `json:"get_chunks_info"`
			ChunkIndex    *int   `json:"chunk_index"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch {
		case req.Text == "":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"No text provided"}`))
		case req.Text == "empty":
			w.Header().Set("Content-Type", "audio/mpeg")
		case req.GetChunksInfo:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"total_chunks":2,"chunks_info":[{"text":"Hello world."},{"text":"Grüße, Welt!"}]}`))
		case req.ChunkIndex != nil:
			i := *req.ChunkIndex
			if i >= len(texts) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"Invalid chunk index"}`))
				return
			}
			w.Header().Set("Content-Type", "audio/mpeg")
			w.Header().Set(HeaderTotalChunks, strconv.Itoa(len(texts)))
			w.Header().Set(HeaderChunkIndex, strconv.Itoa(i))
			w.Header().Set(HeaderChunkText, url.PathEscape(texts[i]))
			_, _ = w.Write([]byte("chunk-" + strconv.Itoa(i)))
		default:
			w.Header().Set("Content-Type", "audio/mpeg")
			w.Header().Set("Content-Disposition", "attachment;filename=speech.mp3")
			_, _ = w.Write([]byte("full:" + req.Voice))
		}
	})
	mux.HandleFunc("POST /api/exports", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.URL.Query().Get("voice") != "en-US-AriaNeural" || r.URL.Query().Get("chunks") != "3" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(ExportInfo{ID: "abc", Name: "speech.mp3", Size: len(body)})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(fakeServer(t).URL + "/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_InvalidURL(t *testing.T) {
	t.Parallel()

	for _, u := range []string{"", "localhost:5000", "://x"} {
		if _, err := New(u); err == nil {
			t.Errorf("New(%q): expected error", u)
		}
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()

	voices, err := newTestClient(t).ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	want := backend.Voice{ShortName: "en-US-AriaNeural", FriendlyName: "Aria", Locale: "en-US", Gender: "Female"}
	if len(voices) != 1 || voices[0] != want {
		t.Errorf("voices = %+v", voices)
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	a, err := newTestClient(t).Synthesize(context.Background(), "Hi.", "en-GB-SoniaNeural")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(a.Data) != "full:en-GB-SoniaNeural" || a.ContentType != "audio/mpeg" {
		t.Errorf("audio = %q (%s)", a.Data, a.ContentType)
	}
}

func TestSynthesize_StatusError(t *testing.T) {
	t.Parallel()

	_, err := newTestClient(t).Synthesize(context.Background(), "", "")
	var fe *backend.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error = %v, want *FetchError", err)
	}
	if fe.StatusCode != http.StatusBadRequest || fe.Message != "No text provided" {
		t.Errorf("FetchError = %+v", fe)
	}
}

func TestSynthesize_EmptyPayload(t *testing.T) {
	t.Parallel()

	_, err := newTestClient(t).Synthesize(context.Background(), "empty", "")
	var epe *backend.EmptyPayloadError
	if !errors.As(err, &epe) {
		t.Fatalf("error = %v, want *EmptyPayloadError", err)
	}
}

func TestSynthesize_TransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Synthesize(context.Background(), "Hi.", "")
	var fe *backend.FetchError
	if !errors.As(err, &fe) || fe.Err == nil {
		t.Fatalf("error = %v, want transport *FetchError", err)
	}
}

func TestChunksInfo(t *testing.T) {
	t.Parallel()

	info, err := newTestClient(t).ChunksInfo(context.Background(), "long text", "")
	if err != nil {
		t.Fatalf("ChunksInfo: %v", err)
	}
	if info.TotalChunks != 2 || len(info.Chunks) != 2 || info.Chunks[1].Text != "Grüße, Welt!" {
		t.Errorf("info = %+v", info)
	}
}

func TestSynthesizeChunk(t *testing.T) {
	t.Parallel()

	c := newTestClient(t)
	for i, wantText := range []string{"Hello world.", "Grüße, Welt!"} {
		ch, err := c.SynthesizeChunk(context.Background(), "long text", "", i)
		if err != nil {
			t.Fatalf("SynthesizeChunk(%d): %v", i, err)
		}
		if ch.Index != i || ch.Total != 2 || ch.Text != wantText {
			t.Errorf("chunk %d = {Index:%d Total:%d Text:%q}", i, ch.Index, ch.Total, ch.Text)
		}
		if string(ch.Data) != "chunk-"+strconv.Itoa(i) {
			t.Errorf("chunk %d data = %q", i, ch.Data)
		}
	}

	_, err := c.SynthesizeChunk(context.Background(), "long text", "", 5)
	var fe *backend.FetchError
	if !errors.As(err, &fe) || fe.Message != "Invalid chunk index" {
		t.Errorf("out-of-range error = %v", err)
	}
}

func TestTestAudio(t *testing.T) {
	t.Parallel()

	a, err := newTestClient(t).TestAudio(context.Background())
	if err != nil {
		t.Fatalf("TestAudio: %v", err)
	}
	if a.ContentType != "audio/wav" {
		t.Errorf("ContentType = %q", a.ContentType)
	}
}

func TestUploadExport(t *testing.T) {
	t.Parallel()

	info, err := newTestClient(t).UploadExport(context.Background(),
		backend.Audio{Data: []byte("abc"), ContentType: "audio/mpeg"}, "en-US-AriaNeural", 3)
	if err != nil {
		t.Fatalf("UploadExport: %v", err)
	}
	if info.ID != "abc" || info.Size != 3 || info.Name != "speech.mp3" {
		t.Errorf("info = %+v", info)
	}
}

func TestContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(t).Synthesize(ctx, "Hi.", "")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestTracePropagation(t *testing.T) {
	t.Parallel()

	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("traceparent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"voices":[]}`))
	}))
	t.Cleanup(srv.Close)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	c, err := New(srv.URL, WithPropagator(propagation.TraceContext{}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.ListVoices(ctx); err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if want := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"; <-got != want {
		t.Errorf("traceparent does not carry the caller's span, want %q", want)
	}
}
