// Package server exposes the speech API over HTTP.
//
// Routes:
//
//	GET  /                    service info
//	POST /api/tts             full audio, chunk plan or one chunk
//	POST /api/tts/stream      chunked provider stream
//	GET  /api/tts/voices      voice catalogue
//	GET  /api/tts/test        diagnostic tone
//	POST /api/exports         save an artifact
//	GET  /api/exports         list artifacts
//	GET  /api/exports/{id}    download an artifact
//	GET  /healthz, /readyz    health
//	GET  /metrics             Prometheus scrape endpoint
package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/readaloud/internal/export"
	"github.com/MrWong99/readaloud/internal/health"
	"github.com/MrWong99/readaloud/internal/observe"
	"github.com/MrWong99/readaloud/pkg/backend"
)

// Response headers carrying chunk metadata on POST /api/tts with chunk_index.
const (
	HeaderTotalChunks = "X-Total-Chunks"
	HeaderChunkIndex  = "X-Chunk-Index"
	HeaderChunkText   = "X-Chunk-Text"
)

// DefaultMaxUploadBytes bounds the body of POST /api/exports.
const DefaultMaxUploadBytes = 64 << 20

// Synthesizer is the speech backend served by [Server].
type Synthesizer interface {
	backend.Client

	// Stream writes provider audio for text to w as it is produced.
	Stream(ctx context.Context, text, voice string, w io.Writer) error
}

// Server holds the handlers and their dependencies.
type Server struct {
	synth          Synthesizer
	exports        export.Store
	exportBackend  string
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	origins        []string
	maxUpload      int64
	log            *slog.Logger
}

// Option is a functional option for [New].
type Option func(*Server)

// WithExportStore enables the /api/exports routes. name labels export
// metrics, e.g. "file" or "postgres".
func WithExportStore(st export.Store, name string) Option {
	return func(s *Server) {
		s.exports = st
		s.exportBackend = name
	}
}

// WithHealth sets the health handler. Without it both endpoints report ok.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics sets the metrics used by the request middleware and handlers.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler replaces the /metrics handler. The default is
// [promhttp.Handler].
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithCORSOrigins sets the origins allowed to make cross-origin requests.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithMaxUploadBytes bounds export uploads.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) { s.maxUpload = n }
}

// WithLogger sets the fallback logger. Request handlers log through
// [observe.LoggerFrom] with it so trace ids are attached.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New creates a Server backed by synth.
func New(synth Synthesizer, opts ...Option) *Server {
	s := &Server{
		synth:          synth,
		health:         health.New(nil),
		metricsHandler: promhttp.Handler(),
		maxUpload:      DefaultMaxUploadBytes,
		log:            slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Router builds the HTTP handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(observe.Middleware(s.metrics, observe.WithAccessLog(s.log)))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		ExposedHeaders: []string{HeaderTotalChunks, HeaderChunkIndex, HeaderChunkText, "Content-Disposition", observe.HeaderCorrelationID},
		MaxAge:         300,
	}))

	r.Get("/", s.handleRoot)
	r.Route("/api/tts", func(r chi.Router) {
		r.Post("/", s.handleTTS)
		r.Post("/stream", s.handleStream)
		r.Get("/voices", s.handleVoices)
		r.Get("/test", s.handleTest)
	})
	r.Route("/api/exports", func(r chi.Router) {
		r.Post("/", s.handleSaveExport)
		r.Get("/", s.handleListExports)
		r.Get("/{id}", s.handleGetExport)
	})

	s.health.Register(r)
	r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	return r
}

// HTTPServer wraps [Server.Router] in an [http.Server] listening on addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}
}
