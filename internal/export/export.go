// Package export persists assembled download artifacts.
//
// A [Store] keeps the encoded audio together with a [Record] describing it.
// Two implementations are provided: [FileStore] writes to a directory and
// [PostgresStore] keeps payloads in a PostgreSQL table.
package export

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/readaloud/pkg/backend"
)

// ErrNotFound is returned by [Store.Get] for an unknown artifact id.
var ErrNotFound = errors.New("export: artifact not found")

// ErrEmpty is returned by [Store.Save] for a payload with no bytes.
var ErrEmpty = errors.New("export: empty payload")

// BaseName is the file name stem of every stored artifact.
const BaseName = "speech"

// Meta describes how an artifact was produced.
type Meta struct {
	// Voice is the voice the audio was rendered with.
	Voice string

	// Chunks is the number of chunks the artifact was assembled from.
	Chunks int
}

// Record describes a stored artifact.
type Record struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Voice       string    `json:"voice,omitempty"`
	Chunks      int       `json:"chunks"`
	Size        int       `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists download artifacts.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores a and returns its record. The id is generated by the store.
	Save(ctx context.Context, a backend.Audio, meta Meta) (Record, error)

	// Get returns the record and payload for id, or [ErrNotFound].
	Get(ctx context.Context, id string) (Record, []byte, error)

	// List returns every record, newest first.
	List(ctx context.Context) ([]Record, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

// newRecord fills the fields shared by every backend.
func newRecord(id string, a backend.Audio, meta Meta, now time.Time) Record {
	ct := a.ContentType
	if ct == "" {
		ct = a.Container().ContentType()
	}
	return Record{
		ID:          id,
		Name:        BaseName + "." + a.Ext(),
		ContentType: ct,
		Voice:       meta.Voice,
		Chunks:      meta.Chunks,
		Size:        len(a.Data),
		CreatedAt:   now.UTC(),
	}
}
