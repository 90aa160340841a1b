package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/readaloud/internal/export"
	"github.com/MrWong99/readaloud/internal/observe"
	"github.com/MrWong99/readaloud/pkg/audio"
	"github.com/MrWong99/readaloud/pkg/backend"
)

// Messages returned for rejected synthesis requests.
const (
	msgNoText    = "No text provided"
	msgEmptyText = "Empty text provided"
)

// ttsRequest is the body of POST /api/tts and POST /api/tts/stream. Text is
// a pointer so a missing field can be told apart from an empty one.
type ttsRequest struct {
	Text          *string `json:"text"`
	Voice         string  `json:"voice"`
	GetChunksInfo bool    `json:"get_chunks_info"`
	ChunkIndex    *int    `json:"chunk_index"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"message": "readaloud speech API"})
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTTSRequest(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	text := *req.Text

	switch {
	case req.GetChunksInfo:
		info, err := s.synth.ChunksInfo(ctx, text, req.Voice)
		if err != nil {
			s.respondSynthError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, info)

	case req.ChunkIndex != nil:
		c, err := s.synth.SynthesizeChunk(ctx, text, req.Voice, *req.ChunkIndex)
		if err != nil {
			s.respondSynthError(w, r, err)
			return
		}
		h := w.Header()
		h.Set(HeaderTotalChunks, strconv.Itoa(c.Total))
		h.Set(HeaderChunkIndex, strconv.Itoa(c.Index))
		h.Set(HeaderChunkText, url.PathEscape(c.Text))
		writeAudio(w, c.Audio, "")

	default:
		a, err := s.synth.Synthesize(ctx, text, req.Voice)
		if err != nil {
			s.respondSynthError(w, r, err)
			return
		}
		writeAudio(w, a, "speech."+a.Ext())
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTTSRequest(w, r)
	if !ok {
		return
	}
	sw := &streamWriter{w: w, rc: http.NewResponseController(w)}
	err := s.synth.Stream(r.Context(), *req.Text, req.Voice, sw)
	if err == nil {
		return
	}
	if !sw.started {
		s.respondSynthError(w, r, err)
		return
	}
	// Headers are gone; the client sees a truncated body.
	observe.LoggerFrom(r.Context(), s.log).Warn("server: stream aborted", "bytes", sw.n, "err", err)
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := s.synth.ListVoices(r.Context())
	if err != nil {
		observe.LoggerFrom(r.Context(), s.log).Error("server: list voices", "err", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if voices == nil {
		voices = []backend.Voice{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"voices": voices})
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	a, err := s.synth.TestAudio(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeAudio(w, a, "")
}

// ─── exports ────────────────────────────────────────────────────────────────

func (s *Server) handleSaveExport(w http.ResponseWriter, r *http.Request) {
	if !s.exportsEnabled(w) {
		return
	}
	ctx := r.Context()
	q := r.URL.Query()
	chunks := 0
	if v := q.Get("chunks"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid chunks parameter")
			return
		}
		chunks = n
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUpload))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("payload exceeds %d bytes", mbe.Limit))
			return
		}
		respondError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	a := backend.Audio{Data: data, ContentType: r.Header.Get("Content-Type")}
	if err := backend.CheckAudio("save export", a); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.exports.Save(ctx, a, export.Meta{Voice: q.Get("voice"), Chunks: chunks})
	if err != nil {
		s.metrics.RecordExport(ctx, s.exportBackend, "error")
		observe.LoggerFrom(ctx, s.log).Error("server: save export", "err", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.metrics.RecordExport(ctx, s.exportBackend, "ok")
	observe.LoggerFrom(ctx, s.log).Info("server: export saved", "id", rec.ID, "name", rec.Name, "size", rec.Size)
	respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListExports(w http.ResponseWriter, r *http.Request) {
	if !s.exportsEnabled(w) {
		return
	}
	recs, err := s.exports.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"exports": recs})
}

func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request) {
	if !s.exportsEnabled(w) {
		return
	}
	rec, data, err := s.exports.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, export.ErrNotFound) {
			respondError(w, http.StatusNotFound, "export not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeAudio(w, backend.Audio{Data: data, ContentType: rec.ContentType}, rec.Name)
}

func (s *Server) exportsEnabled(w http.ResponseWriter) bool {
	if s.exports == nil {
		respondError(w, http.StatusNotFound, "exports are not enabled")
		return false
	}
	return true
}

// ─── helpers ────────────────────────────────────────────────────────────────

// decodeTTSRequest parses the request body and rejects missing or blank
// text. It writes the error response itself and reports whether to go on.
func decodeTTSRequest(w http.ResponseWriter, r *http.Request) (ttsRequest, bool) {
	var req ttsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil || req.Text == nil {
		respondError(w, http.StatusBadRequest, msgNoText)
		return req, false
	}
	if strings.TrimSpace(*req.Text) == "" {
		respondError(w, http.StatusBadRequest, msgEmptyText)
		return req, false
	}
	return req, true
}

// respondSynthError maps a synthesis failure to a status code.
func (s *Server) respondSynthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, backend.ErrEmptyText):
		respondError(w, http.StatusBadRequest, msgEmptyText)
	case errors.Is(err, backend.ErrChunkOutOfRange):
		respondError(w, http.StatusBadRequest, err.Error())
	case r.Context().Err() != nil:
		// Client went away; nobody reads the response.
	default:
		observe.LoggerFrom(r.Context(), s.log).Error("server: synthesis failed", "path", r.URL.Path, "err", err)
		respondError(w, http.StatusBadGateway, err.Error())
	}
}

// writeAudio writes a as the response body. A non-empty filename adds an
// attachment Content-Disposition.
func writeAudio(w http.ResponseWriter, a backend.Audio, filename string) {
	ct := a.ContentType
	if ct == "" {
		ct = a.Container().ContentType()
	}
	h := w.Header()
	h.Set("Content-Type", ct)
	h.Set("Content-Length", strconv.Itoa(len(a.Data)))
	if filename != "" {
		h.Set("Content-Disposition", "attachment;filename="+filename)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.Data)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// streamWriter sends headers on the first write, sniffing the container from
// the first bytes, and flushes after every write.
type streamWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
	n       int
}

func (sw *streamWriter) Write(p []byte) (int, error) {
	if !sw.started {
		sw.started = true
		ct := audio.ContainerMP3.ContentType()
		if c := audio.Detect(p); c != audio.ContainerUnknown {
			ct = c.ContentType()
		}
		h := sw.w.Header()
		h.Set("Content-Type", ct)
		h.Set("Content-Disposition", "attachment;filename=speech."+audio.ContainerFromContentType(ct).Ext())
		sw.w.WriteHeader(http.StatusOK)
	}
	n, err := sw.w.Write(p)
	sw.n += n
	if err != nil {
		return n, err
	}
	if err := sw.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return n, err
	}
	return n, nil
}
