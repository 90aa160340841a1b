// Package synth renders speech in-process through a [tts.Provider].
//
// [Service] implements [backend.Client]: it plans chunks with
// [sentence.Pack], caches rendered payloads, deduplicates concurrent
// identical requests and resolves loosely spelled voice names against the
// provider's catalogue. The HTTP server and the local player backend both
// sit on top of it.
package synth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/readaloud/internal/observe"
	"github.com/MrWong99/readaloud/pkg/audio"
	"github.com/MrWong99/readaloud/pkg/backend"
	"github.com/MrWong99/readaloud/pkg/provider/tts"
	"github.com/MrWong99/readaloud/pkg/sentence"
)

// Defaults applied when the corresponding option is not given.
const (
	DefaultChunkSize = 500
	DefaultCacheSize = 256
	DefaultCacheTTL  = 30 * time.Minute
)

// planCacheSize bounds the number of pinned chunk plans.
const planCacheSize = 1024

var _ backend.Client = (*Service)(nil)

// settings is the hot-reloadable part of the configuration.
type settings struct {
	voice     string
	chunkSize int
}

// prosody is applied to every resolved voice. Zero values leave the
// provider default in place.
type prosody struct {
	speed float64
	pitch float64
}

// Service synthesises speech through a TTS provider.
// All methods are safe for concurrent use.
type Service struct {
	provider       tts.Provider
	providerName   string
	matchThreshold float64
	requestTimeout time.Duration
	log            *slog.Logger
	metrics        *observe.Metrics

	prosody prosody

	cacheSize int
	cacheTTL  time.Duration
	cache     *cache[backend.Audio]
	plans     *cache[[]string]
	group     singleflight.Group

	mu  sync.RWMutex
	cur settings

	voicesMu sync.Mutex
	voices   []tts.VoiceProfile

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option is a functional option for [New].
type Option func(*Service)

// WithDefaultVoice sets the voice used when a request names none or the name
// cannot be resolved.
func WithDefaultVoice(voice string) Option {
	return func(s *Service) { s.cur.voice = voice }
}

// WithChunkSize sets the maximum chunk length in runes.
func WithChunkSize(n int) Option {
	return func(s *Service) { s.cur.chunkSize = n }
}

// WithProsody sets the speaking rate factor (1.0 is normal) and pitch shift
// (-10 to +10) passed to the provider with every voice. Zero leaves the
// provider default.
func WithProsody(speed, pitch float64) Option {
	return func(s *Service) { s.prosody = prosody{speed: speed, pitch: pitch} }
}

// WithCache sets the cache capacity and entry lifetime. A size of zero
// disables caching; a ttl of zero keeps entries until they are evicted.
func WithCache(size int, ttl time.Duration) Option {
	return func(s *Service) {
		s.cacheSize = size
		s.cacheTTL = ttl
	}
}

// WithVoiceMatchThreshold sets the minimum Jaro-Winkler similarity for fuzzy
// voice matching.
func WithVoiceMatchThreshold(t float64) Option {
	return func(s *Service) { s.matchThreshold = t }
}

// WithRequestTimeout bounds each provider call.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Service) { s.requestTimeout = d }
}

// WithProviderName sets the provider label used in metrics and logs.
func WithProviderName(name string) Option {
	return func(s *Service) { s.providerName = name }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a Service over p. A janitor goroutine sweeps expired cache
// entries and pinned plans until [Service.Close] is called.
func New(p tts.Provider, opts ...Option) *Service {
	s := &Service{
		provider:       p,
		providerName:   "tts",
		matchThreshold: DefaultVoiceMatchThreshold,
		log:            slog.Default(),
		cacheSize:      DefaultCacheSize,
		cacheTTL:       DefaultCacheTTL,
		cur:            settings{voice: backend.DefaultVoice, chunkSize: DefaultChunkSize},
		stop:           make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.cur.voice == "" {
		s.cur.voice = backend.DefaultVoice
	}
	if s.cur.chunkSize <= 0 {
		s.cur.chunkSize = DefaultChunkSize
	}
	s.cache = newCache[backend.Audio](s.cacheSize, s.cacheTTL)
	planTTL := s.cacheTTL
	if planTTL <= 0 {
		planTTL = DefaultCacheTTL
	}
	s.plans = newCache[[]string](planCacheSize, planTTL)
	s.wg.Add(1)
	go s.janitor(janitorInterval(planTTL))
	return s
}

// SetDefaults replaces the default voice and chunk size. Empty or
// non-positive values leave the current setting unchanged.
func (s *Service) SetDefaults(voice string, chunkSize int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if voice != "" {
		s.cur.voice = voice
	}
	if chunkSize > 0 {
		s.cur.chunkSize = chunkSize
	}
	s.log.Info("synth: defaults updated", "voice", s.cur.voice, "chunk_size", s.cur.chunkSize)
}

func (s *Service) defaults() settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Close stops the cache janitor. It is safe to call more than once.
func (s *Service) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	return nil
}

// Ping checks that the provider's voice catalogue can be loaded.
func (s *Service) Ping(ctx context.Context) error {
	if _, err := s.catalog(ctx); err != nil {
		return fmt.Errorf("synth: list voices: %w", err)
	}
	return nil
}

// ─── backend.Client ─────────────────────────────────────────────────────────

// ListVoices returns the provider catalogue in the edge-tts shape.
func (s *Service) ListVoices(ctx context.Context) ([]backend.Voice, error) {
	profiles, err := s.catalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("synth: list voices: %w", err)
	}
	out := make([]backend.Voice, 0, len(profiles))
	for _, p := range profiles {
		name := p.Name
		if name == "" {
			name = p.ID
		}
		out = append(out, backend.Voice{
			ShortName:    p.ID,
			FriendlyName: name,
			Locale:       p.Locale,
			Gender:       p.Gender,
		})
	}
	return out, nil
}

// Synthesize renders text in one call.
func (s *Service) Synthesize(ctx context.Context, text, voice string) (backend.Audio, error) {
	if strings.TrimSpace(text) == "" {
		return backend.Audio{}, backend.ErrEmptyText
	}
	return s.render(ctx, "full", text, voice)
}

// ChunksInfo returns the chunk plan for text and pins it, so later
// [Service.SynthesizeChunk] calls for the same text index into this plan even
// if the chunk size is reloaded meanwhile. A new ChunksInfo call re-plans.
func (s *Service) ChunksInfo(ctx context.Context, text, voice string) (backend.ChunksInfo, error) {
	chunks := s.Plan(text)
	if len(chunks) == 0 {
		return backend.ChunksInfo{}, backend.ErrEmptyText
	}
	s.plans.put(planKey(text), chunks)
	info := backend.ChunksInfo{TotalChunks: len(chunks), Chunks: make([]backend.ChunkInfo, len(chunks))}
	for i, c := range chunks {
		info.Chunks[i] = backend.ChunkInfo{Text: c}
	}
	return info, nil
}

// SynthesizeChunk renders chunk index of the pinned plan for text. Without a
// pinned plan the text is planned with the current chunk size and pinned.
func (s *Service) SynthesizeChunk(ctx context.Context, text, voice string, index int) (backend.Chunk, error) {
	chunks, ok := s.plans.get(planKey(text))
	if !ok {
		chunks = s.Plan(text)
		if len(chunks) > 0 {
			s.plans.put(planKey(text), chunks)
		}
	}
	if len(chunks) == 0 {
		return backend.Chunk{}, backend.ErrEmptyText
	}
	if index < 0 || index >= len(chunks) {
		return backend.Chunk{}, fmt.Errorf("synth: chunk %d of %d: %w", index, len(chunks), backend.ErrChunkOutOfRange)
	}
	a, err := s.render(ctx, "chunk", chunks[index], voice)
	if err != nil {
		return backend.Chunk{}, err
	}
	return backend.Chunk{Audio: a, Index: index, Total: len(chunks), Text: chunks[index]}, nil
}

// TestAudio returns the diagnostic tone without touching the provider.
func (s *Service) TestAudio(context.Context) (backend.Audio, error) {
	return TestTone(), nil
}

// Plan splits text into chunks of at most the current chunk size. It does
// not consult or pin the plan cache.
func (s *Service) Plan(text string) []string {
	return sentence.Pack(text, s.defaults().chunkSize)
}

// Stream writes the provider's audio stream for text to w as it arrives. It
// returns once the stream ends, w fails or ctx is cancelled.
func (s *Service) Stream(ctx context.Context, text, voice string, w io.Writer) error {
	if strings.TrimSpace(text) == "" {
		return backend.ErrEmptyText
	}
	vp := s.ResolveVoice(ctx, voice)

	ctx, span := observe.StartSpan(ctx, "synth.stream")
	defer span.End()
	span.SetAttributes(observe.SynthesisAttrs("stream", vp.ID, text)...)

	start := time.Now()
	ch, err := s.provider.SynthesizeStream(ctx, text, vp)
	if err != nil {
		s.recordProvider(ctx, "stream", err)
		observe.FailSpan(span, err)
		return fmt.Errorf("synth: start stream: %w", err)
	}

	var n int
	for {
		select {
		case <-ctx.Done():
			go audio.Drain(ch)
			s.recordProvider(ctx, "stream", ctx.Err())
			return ctx.Err()
		case b, ok := <-ch:
			if !ok {
				if n == 0 {
					err := errors.New("provider stream produced no audio")
					s.recordProvider(ctx, "stream", err)
					return fmt.Errorf("synth: stream: %w", err)
				}
				s.recordProvider(ctx, "stream", nil)
				s.recordDuration(ctx, "stream", time.Since(start))
				return nil
			}
			if _, err := w.Write(b); err != nil {
				go audio.Drain(ch)
				return fmt.Errorf("synth: write stream: %w", err)
			}
			n += len(b)
		}
	}
}

// ─── internals ──────────────────────────────────────────────────────────────

// render returns the audio for text, serving it from the cache when possible.
func (s *Service) render(ctx context.Context, kind, text, voice string) (backend.Audio, error) {
	vp := s.ResolveVoice(ctx, voice)
	key := cacheKey(voiceKey(vp), text)

	if s.cacheSize > 0 {
		a, ok := s.cache.get(key)
		if s.metrics != nil {
			s.metrics.RecordCacheLookup(ctx, ok)
		}
		if ok {
			return a, nil
		}
	}

	v, err, shared := s.group.Do(key, func() (any, error) {
		a, err := s.synthesize(ctx, kind, text, vp)
		if err != nil {
			return backend.Audio{}, err
		}
		s.cache.put(key, a)
		return a, nil
	})
	if err != nil {
		return backend.Audio{}, err
	}
	if shared {
		s.log.Debug("synth: shared in-flight synthesis", "voice", vp.ID, "kind", kind)
	}
	return v.(backend.Audio), nil
}

func (s *Service) synthesize(ctx context.Context, kind, text string, vp tts.VoiceProfile) (backend.Audio, error) {
	ctx, span := observe.StartSpan(ctx, "synth.synthesize")
	defer span.End()
	span.SetAttributes(observe.SynthesisAttrs(kind, vp.ID, text)...)
	span.SetAttributes(observe.AttrProvider.String(s.providerName))

	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := s.provider.Synthesize(ctx, text, vp)
	if err == nil && (res == nil || len(res.Data) == 0) {
		err = errors.New("provider returned no audio")
	}
	if err != nil {
		s.recordProvider(ctx, kind, err)
		observe.FailSpan(span, err)
		s.log.Warn("synth: synthesis failed", "provider", s.providerName, "voice", vp.ID, "kind", kind, "err", err)
		return backend.Audio{}, fmt.Errorf("synth: synthesize: %w", err)
	}
	s.recordProvider(ctx, kind, nil)
	s.recordDuration(ctx, kind, time.Since(start))

	ct := res.ContentType
	if ct == "" {
		ct = audio.Detect(res.Data).ContentType()
	}
	return backend.Audio{Data: res.Data, ContentType: ct}, nil
}

func (s *Service) recordProvider(ctx context.Context, kind string, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		s.metrics.RecordProviderError(ctx, s.providerName, kind)
	}
	s.metrics.RecordProviderRequest(ctx, s.providerName, kind, status)
}

func (s *Service) recordDuration(ctx context.Context, kind string, d time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.SynthesisDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(observe.Attr("kind", kind)))
}

func (s *Service) janitor(every time.Duration) {
	defer s.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			if n := s.cache.sweep(); n > 0 {
				s.log.Debug("synth: cache entries expired", "count", n)
			}
			s.plans.sweep()
		}
	}
}

func planKey(text string) string {
	return cacheKey("", text)
}

// voiceKey identifies a voice together with its prosody.
func voiceKey(vp tts.VoiceProfile) string {
	if vp.SpeedFactor == 0 && vp.PitchShift == 0 {
		return vp.ID
	}
	return fmt.Sprintf("%s|%g|%g", vp.ID, vp.SpeedFactor, vp.PitchShift)
}

func janitorInterval(ttl time.Duration) time.Duration {
	d := ttl / 2
	if d < time.Second {
		d = time.Second
	}
	return d
}
