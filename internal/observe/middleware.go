package observe

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// HeaderCorrelationID carries the request trace id back to the client.
const HeaderCorrelationID = "X-Correlation-ID"

// DefaultQuietRoutes are logged at debug level by [Middleware].
var DefaultQuietRoutes = []string{"/healthz", "/readyz", "/metrics"}

// MiddlewareOption configures [Middleware].
type MiddlewareOption func(*middleware)

// WithAccessLog sets the logger for per-request log lines.
// Default: slog.Default().
func WithAccessLog(l *slog.Logger) MiddlewareOption {
	return func(m *middleware) { m.log = l }
}

// WithQuietRoutes replaces [DefaultQuietRoutes]. Matching is on the chi route
// pattern.
func WithQuietRoutes(routes ...string) MiddlewareOption {
	return func(m *middleware) {
		m.quiet = make(map[string]bool, len(routes))
		for _, r := range routes {
			m.quiet[r] = true
		}
	}
}

type middleware struct {
	metrics *Metrics
	log     *slog.Logger
	quiet   map[string]bool
	prop    propagation.TextMapPropagator
}

// responseRecorder captures the status code and body size written by the
// downstream handler. Streamed TTS responses rely on Flush passing through.
type responseRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (r *responseRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.written += int64(n)
	return n, err
}

func (r *responseRecorder) Flush() {
	_ = http.NewResponseController(r.ResponseWriter).Flush()
}

// Unwrap exposes the wrapped writer to [http.ResponseController].
func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *responseRecorder) code() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// Middleware traces, times and logs every request. It continues an incoming
// W3C trace context, echoes the trace id in [HeaderCorrelationID], and
// records [Metrics.HTTPRequestDuration] by method, route and status.
//
// Installed with chi's Use, span names and the "path" attribute use the
// matched route pattern (e.g. "/api/exports/{id}") rather than the raw path.
func Middleware(metrics *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	m := &middleware{
		metrics: metrics,
		prop:    propagation.TraceContext{},
	}
	WithQuietRoutes(DefaultQuietRoutes...)(m)
	for _, o := range opts {
		o(m)
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	return m.wrap
}

func (m *middleware) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx := m.prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
			),
		)
		defer span.End()

		if cid := CorrelationID(ctx); cid != "" {
			w.Header().Set(HeaderCorrelationID, cid)
		}
		m.prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

		r = r.WithContext(ctx)
		rec := &responseRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		route := routePattern(r)
		if route != r.URL.Path {
			span.SetName("HTTP " + r.Method + " " + route)
			span.SetAttributes(semconv.HTTPRoute(route))
		}

		status := rec.code()
		span.SetAttributes(semconv.HTTPResponseStatusCode(status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}

		elapsed := time.Since(start)
		m.metrics.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
			metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("path", route),
				attribute.String("status", strconv.Itoa(status)),
			),
		)

		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelWarn
		case m.quiet[route]:
			level = slog.LevelDebug
		}
		LoggerFrom(ctx, m.log).LogAttrs(ctx, level, "request completed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Int64("bytes", rec.written),
			slog.Duration("duration", elapsed),
		)
	})
}

// routePattern returns the chi route pattern matched for r, or the raw URL
// path when the request was not routed by chi.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
