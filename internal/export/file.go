package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/readaloud/pkg/backend"
)

const indexFile = "index.jsonl"

// FileStore keeps each artifact at dir/<id>/speech.<ext> and appends its
// record to dir/index.jsonl.
type FileStore struct {
	dir string
	now func() time.Time

	mu sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("export: file store: dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: create dir: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

// Save writes the payload and appends its record to the index.
func (s *FileStore) Save(_ context.Context, a backend.Audio, meta Meta) (Record, error) {
	if len(a.Data) == 0 {
		return Record{}, ErrEmpty
	}
	rec := newRecord(uuid.NewString(), a, meta, s.now())

	dir := filepath.Join(s.dir, rec.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Record{}, fmt.Errorf("export: create artifact dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, rec.Name), a.Data, 0o644); err != nil {
		return Record{}, fmt.Errorf("export: write artifact: %w", err)
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("export: marshal record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(filepath.Join(s.dir, indexFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return Record{}, fmt.Errorf("export: open index: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return Record{}, fmt.Errorf("export: append index: %w", err)
	}
	if err := f.Close(); err != nil {
		return Record{}, fmt.Errorf("export: close index: %w", err)
	}
	return rec, nil
}

// Get returns the record and payload for id.
func (s *FileStore) Get(_ context.Context, id string) (Record, []byte, error) {
	if uuid.Validate(id) != nil {
		return Record{}, nil, ErrNotFound
	}
	recs, err := s.readIndex()
	if err != nil {
		return Record{}, nil, err
	}
	i := slices.IndexFunc(recs, func(r Record) bool { return r.ID == id })
	if i < 0 {
		return Record{}, nil, ErrNotFound
	}
	rec := recs[i]
	data, err := os.ReadFile(filepath.Join(s.dir, rec.ID, rec.Name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, nil, ErrNotFound
		}
		return Record{}, nil, fmt.Errorf("export: read artifact: %w", err)
	}
	return rec, data, nil
}

// List returns every indexed record, newest first.
func (s *FileStore) List(context.Context) ([]Record, error) {
	recs, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	slices.Reverse(recs)
	return recs, nil
}

// Ping checks that the store directory exists and is a directory.
func (s *FileStore) Ping(context.Context) error {
	fi, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("export: stat dir: %w", err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("export: %s is not a directory", s.dir)
	}
	return nil
}

func (s *FileStore) readIndex() ([]Record, error) {
	s.mu.Lock()
	raw, err := os.ReadFile(filepath.Join(s.dir, indexFile))
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("export: read index: %w", err)
	}

	recs := []Record{}
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for n := 1; sc.Scan(); n++ {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("export: index line %d: %w", n, err)
		}
		recs = append(recs, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("export: scan index: %w", err)
	}
	return recs, nil
}
