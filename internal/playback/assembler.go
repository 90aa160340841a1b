package playback

import (
	"bytes"
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/readaloud/pkg/audio"
	"github.com/MrWong99/readaloud/pkg/backend"
)

// ArtifactBaseName is the file name, without extension, of every download.
const ArtifactBaseName = "speech"

// Artifact is an assembled download.
type Artifact struct {
	// Name is the suggested file name, e.g. "speech.mp3".
	Name string

	Audio backend.Audio

	// Chunks is the number of units the artifact was assembled from.
	Chunks int
}

// Download assembles the audio of the current run into one artifact.
//
// In standard mode the completed payload is returned as-is. In progressive
// mode every chunk that is not Loaded is fetched, concurrently and without
// the playback loader's single-flight restriction, and the payloads are
// joined in index order. Download works on stopped and completed runs too.
func (s *Session) Download(ctx context.Context) (Artifact, error) {
	s.mu.Lock()
	r := s.run
	if r == nil {
		s.mu.Unlock()
		return Artifact{}, ErrNoArtifact
	}
	mode, a, loader, total := r.mode, r.audio, r.loader, r.total
	s.mu.Unlock()

	if mode == Standard || loader == nil {
		if len(a.Data) == 0 {
			return Artifact{}, ErrNoArtifact
		}
		return newArtifact(a, 1), nil
	}

	start := time.Now()
	payloads, err := assemble(ctx, loader, total, s.concurrency)
	if s.metrics != nil {
		s.metrics.AssemblyDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		s.log.Warn("playback: download assembly failed", "run", r.id, "err", err)
		return Artifact{}, err
	}
	joined, err := join(payloads)
	if err != nil {
		return Artifact{}, err
	}
	s.log.Info("playback: download assembled", "run", r.id, "chunks", total, "bytes", len(joined.Data))
	return newArtifact(joined, total), nil
}

// assemble loads chunks [0, total) of loader with at most limit concurrent
// fetches and returns their payloads in index order.
func assemble(ctx context.Context, loader *Loader, total, limit int) ([]backend.Audio, error) {
	store := loader.Store()
	out := make([]backend.Audio, total)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(limit, 1))
	for i := range total {
		if a, ok := store.Audio(i); ok {
			out[i] = a
			continue
		}
		g.Go(func() error {
			if err := loader.loadForAssembly(gctx, i); err != nil {
				return &AssemblyError{Index: i, Err: err}
			}
			a, ok := store.Audio(i)
			if !ok {
				return &AssemblyError{Index: i, Err: errStale}
			}
			out[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// join concatenates payloads in order. WAV payloads are merged under one
// header; anything else is byte-concatenated.
func join(payloads []backend.Audio) (backend.Audio, error) {
	allWAV := len(payloads) > 0
	for _, p := range payloads {
		if p.Container() != audio.ContainerWAV {
			allWAV = false
			break
		}
	}
	if allWAV {
		parts := make([][]byte, len(payloads))
		for i, p := range payloads {
			parts[i] = p.Data
		}
		merged, err := audio.MergeWAV(parts)
		if err != nil {
			return backend.Audio{}, &AssemblyError{Index: -1, Err: err}
		}
		return backend.Audio{Data: merged, ContentType: audio.ContainerWAV.ContentType()}, nil
	}

	var buf bytes.Buffer
	for _, p := range payloads {
		buf.Write(p.Data)
	}
	ct := ""
	if len(payloads) > 0 {
		ct = payloads[0].ContentType
	}
	return backend.Audio{Data: buf.Bytes(), ContentType: ct}, nil
}

func newArtifact(a backend.Audio, chunks int) Artifact {
	return Artifact{Name: ArtifactBaseName + "." + a.Ext(), Audio: a, Chunks: chunks}
}
