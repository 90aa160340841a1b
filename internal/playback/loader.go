package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/readaloud/internal/observe"
	"github.com/MrWong99/readaloud/pkg/backend"
)

// Load triggers, used for logging and metrics.
const (
	triggerDemand   = "demand"
	triggerPrefetch = "prefetch"
	triggerAssembly = "assembly"
)

// LoaderOption is a functional option for [Loader].
type LoaderOption func(*Loader)

// WithLoaderLogger sets the loader's logger.
func WithLoaderLogger(l *slog.Logger) LoaderOption {
	return func(ld *Loader) { ld.log = l }
}

// WithLoaderMetrics records chunk loads to m.
func WithLoaderMetrics(m *observe.Metrics) LoaderOption {
	return func(ld *Loader) { ld.metrics = m }
}

// OnChunkLoaded registers fn to be called after every successful load with
// the chunk index and its source text. fn runs on the loading goroutine.
func OnChunkLoaded(fn func(index int, text string)) LoaderOption {
	return func(ld *Loader) { ld.onLoaded = fn }
}

// Loader fetches chunk audio for one progressive run into its [Store].
//
// Playback loads are single-flight across all chunks: while one is in flight,
// further [Loader.LoadChunk] calls are no-ops. A successful demand load starts
// a background prefetch of the following chunk; prefetches do not chain.
type Loader struct {
	client backend.Client
	text   string
	voice  string

	// ctx is the run context. Prefetches run under it, and results arriving
	// after it is cancelled are discarded.
	ctx context.Context

	store    *Store
	log      *slog.Logger
	metrics  *observe.Metrics
	onLoaded func(index int, text string)

	wg sync.WaitGroup
}

// NewLoader creates a loader for text rendered with voice. The store is empty
// until [Loader.InitializeProgressiveLoading] succeeds.
func NewLoader(ctx context.Context, client backend.Client, text, voice string, opts ...LoaderOption) *Loader {
	l := &Loader{
		client: client,
		text:   text,
		voice:  voice,
		ctx:    ctx,
		store:  NewStore(nil),
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Store returns the loader's chunk store.
func (l *Loader) Store() *Store {
	return l.store
}

// Wait blocks until every background prefetch started by l has finished.
func (l *Loader) Wait() {
	l.wg.Wait()
}

// InitializeProgressiveLoading negotiates the chunk plan with the backend and
// sizes the store accordingly. No audio is requested.
func (l *Loader) InitializeProgressiveLoading(ctx context.Context) (backend.ChunksInfo, error) {
	const op = "chunks info"
	info, err := l.client.ChunksInfo(ctx, l.text, l.voice)
	if err != nil {
		return backend.ChunksInfo{}, fetchErr(op, err)
	}
	if info.TotalChunks < 1 {
		return backend.ChunksInfo{}, &backend.FetchError{Op: op, Message: "backend returned no chunks"}
	}

	texts := info.Texts()
	if len(texts) < info.TotalChunks {
		texts = append(texts, make([]string, info.TotalChunks-len(texts))...)
	}
	l.store = NewStore(texts[:info.TotalChunks])
	info.Chunks = info.Chunks[:min(len(info.Chunks), info.TotalChunks)]
	return info, nil
}

// LoadChunk performs a demand load of chunk i. It returns nil without doing
// anything when chunk i is already Loaded or the loader is busy with any
// chunk. On failure the chunk is marked Error and the error is returned; it
// is not retried.
func (l *Loader) LoadChunk(ctx context.Context, i int) error {
	return l.load(ctx, i, triggerDemand)
}

func (l *Loader) load(ctx context.Context, i int, trigger string) error {
	if i < 0 || i >= l.store.Len() {
		return fmt.Errorf("playback: load chunk %d: %w", i, backend.ErrChunkOutOfRange)
	}
	if !l.store.acquire(i) {
		return nil
	}

	start := time.Now()
	ch, err := l.fetch(ctx, i, trigger)
	if l.ctx.Err() != nil {
		// The run was torn down while the request was in flight.
		l.store.abandon(i, true)
		l.record(trigger, "discarded", start)
		return l.ctx.Err()
	}
	l.store.settle(i, ch, err, true)
	if err != nil {
		l.record(trigger, "error", start)
		l.log.Warn("playback: chunk load failed", "chunk", i, "trigger", trigger, "err", err)
		return err
	}
	l.record(trigger, "ok", start)
	l.log.Debug("playback: chunk loaded", "chunk", i, "trigger", trigger, "bytes", len(ch.Data))

	if l.onLoaded != nil {
		info, _ := l.store.Chunk(i)
		l.onLoaded(i, info.Text)
	}

	if trigger == triggerDemand {
		if next := i + 1; next < l.store.Len() && l.store.State(next) != ChunkLoaded {
			l.prefetch(next)
		}
	}
	return nil
}

func (l *Loader) prefetch(i int) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.load(l.ctx, i, triggerPrefetch); err != nil && l.ctx.Err() == nil {
			l.log.Debug("playback: prefetch failed", "chunk", i, "err", err)
		}
	}()
}

func (l *Loader) fetch(ctx context.Context, i int, trigger string) (ch backend.Chunk, err error) {
	const op = "synthesize chunk"
	ctx, span := observe.StartSpan(ctx, "playback.load_chunk", trace.WithAttributes(
		observe.AttrChunkIndex.Int(i),
		observe.AttrTrigger.String(trigger),
		observe.AttrVoice.String(l.voice),
	))
	defer func() {
		observe.FailSpan(span, err)
		span.End()
	}()

	ch, err = l.client.SynthesizeChunk(ctx, l.text, l.voice, i)
	if err != nil {
		return backend.Chunk{}, fetchErr(op, err)
	}
	if err := backend.CheckAudio(op, ch.Audio); err != nil {
		return backend.Chunk{}, err
	}
	return ch, nil
}

// Ensure returns once chunk i is Loaded:
//
//   - Loaded: returns immediately.
//   - Loading: waits for that load and returns its error, if any.
//   - loader busy with another chunk: waits for it to settle, then loads i.
//   - Pending or Error: issues a demand load, which retries an Error chunk.
func (l *Loader) Ensure(ctx context.Context, i int) error {
	if i < 0 || i >= l.store.Len() {
		return fmt.Errorf("playback: ensure chunk %d: %w", i, backend.ErrChunkOutOfRange)
	}
	for {
		st, done, busyDone, _ := l.store.status(i)
		switch {
		case st == ChunkLoaded:
			return nil
		case st == ChunkLoading:
			if err := wait(ctx, done); err != nil {
				return err
			}
			if st, _, _, err := l.store.status(i); st == ChunkError {
				return err
			}
		case busyDone != nil:
			if err := wait(ctx, busyDone); err != nil {
				return err
			}
		default:
			if err := l.load(ctx, i, triggerDemand); err != nil {
				return err
			}
		}
	}
}

// loadForAssembly loads chunk i without the busy flag and without prefetch.
// A chunk already Loading is awaited instead.
func (l *Loader) loadForAssembly(ctx context.Context, i int) error {
	for {
		st, done, _, _ := l.store.status(i)
		switch st {
		case ChunkLoaded:
			return nil
		case ChunkLoading:
			if err := wait(ctx, done); err != nil {
				return err
			}
			if st, _, _, err := l.store.status(i); st == ChunkError {
				return err
			}
		default:
			if !l.store.begin(i) {
				continue
			}
			start := time.Now()
			ch, err := l.fetch(ctx, i, triggerAssembly)
			l.store.settle(i, ch, err, false)
			if err != nil {
				l.record(triggerAssembly, "error", start)
				return err
			}
			l.record(triggerAssembly, "ok", start)
			return nil
		}
	}
}

func (l *Loader) record(trigger, result string, start time.Time) {
	if l.metrics != nil {
		l.metrics.RecordChunkLoad(context.Background(), trigger, result, time.Since(start))
	}
}

// wait blocks until ch is closed or ctx is done.
func wait(ctx context.Context, ch <-chan struct{}) error {
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
