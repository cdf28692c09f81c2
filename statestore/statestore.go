// Package statestore implements C2: the per-stream/per-partition cursor
// store with atomic on-disk checkpointing, following the
// reader-writer-lock-guarded in-memory document pattern estuary/flow uses
// for its own local checkpoint cache.
package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// PartitionState is one partition's persisted progress.
type PartitionState struct {
	Cursor    string `json:"cursor,omitempty"`
	Completed bool   `json:"completed"`
}

// StreamState is one stream's persisted progress: an optional top-level
// cursor plus per-partition state keyed by partition id.
type StreamState struct {
	Cursor     string                     `json:"cursor,omitempty"`
	Partitions map[string]*PartitionState `json:"partitions,omitempty"`
}

// Document is the full state document.
type Document struct {
	Streams map[string]*StreamState `json:"streams"`
}

// Store guards a Document with a reader-writer lock and, when configured
// with a path, persists it atomically on every Save (or after every
// mutation, when auto-save is enabled).
type Store struct {
	mu       sync.RWMutex
	doc      Document
	path     string
	autoSave bool
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithPath configures the Store to persist to path on Save (and on every
// mutation if WithAutoSave is also set). Without a path the Store is
// purely in-memory.
func WithPath(path string) Option {
	return func(s *Store) { s.path = path }
}

// WithAutoSave makes every mutating call persist immediately, provided a
// path is configured.
func WithAutoSave() Option {
	return func(s *Store) { s.autoSave = true }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	var s = &Store{doc: Document{Streams: map[string]*StreamState{}}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads a Document from raw JSON bytes, replacing any prior content.
// A nil/empty input is treated as an empty document.
func Load(raw []byte, opts ...Option) (*Store, error) {
	var s = New(opts...)
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.doc); err != nil {
		return nil, fmt.Errorf("loading state document: %w", err)
	}
	if s.doc.Streams == nil {
		s.doc.Streams = map[string]*StreamState{}
	}
	return s, nil
}

// LoadFile reads a Document from a file path; a missing file is treated as
// an empty document (first run).
func LoadFile(path string, opts ...Option) (*Store, error) {
	var raw, err = os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(append(opts, WithPath(path))...), nil
		}
		return nil, fmt.Errorf("reading state file %q: %w", path, err)
	}
	return Load(raw, append(opts, WithPath(path))...)
}

func (s *Store) stream(name string) *StreamState {
	var st, ok = s.doc.Streams[name]
	if !ok {
		st = &StreamState{Partitions: map[string]*PartitionState{}}
		s.doc.Streams[name] = st
	}
	if st.Partitions == nil {
		st.Partitions = map[string]*PartitionState{}
	}
	return st
}

// StreamCursor returns a stream's top-level cursor, if any.
func (s *Store) StreamCursor(stream string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st, ok = s.doc.Streams[stream]
	if !ok || st.Cursor == "" {
		return "", false
	}
	return st.Cursor, true
}

// SetStreamCursor updates a stream's top-level cursor.
func (s *Store) SetStreamCursor(stream, cursor string) error {
	s.mu.Lock()
	s.stream(stream).Cursor = cursor
	s.mu.Unlock()
	return s.maybeAutoSave()
}

// PartitionCursor returns a partition's cursor, if any.
func (s *Store) PartitionCursor(stream, partition string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st, ok = s.doc.Streams[stream]
	if !ok {
		return "", false
	}
	p, ok := st.Partitions[partition]
	if !ok || p.Cursor == "" {
		return "", false
	}
	return p.Cursor, true
}

// SetPartitionCursor updates a partition's cursor.
func (s *Store) SetPartitionCursor(stream, partition, cursor string) error {
	s.mu.Lock()
	var st = s.stream(stream)
	p, ok := st.Partitions[partition]
	if !ok {
		p = &PartitionState{}
		st.Partitions[partition] = p
	}
	p.Cursor = cursor
	s.mu.Unlock()
	return s.maybeAutoSave()
}

// PartitionCompleted reports whether a partition has been marked complete.
func (s *Store) PartitionCompleted(stream, partition string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st, ok = s.doc.Streams[stream]
	if !ok {
		return false
	}
	p, ok := st.Partitions[partition]
	return ok && p.Completed
}

// SetPartitionCompleted marks a partition as completed.
func (s *Store) SetPartitionCompleted(stream, partition string, completed bool) error {
	s.mu.Lock()
	var st = s.stream(stream)
	p, ok := st.Partitions[partition]
	if !ok {
		p = &PartitionState{}
		st.Partitions[partition] = p
	}
	p.Completed = completed
	s.mu.Unlock()
	return s.maybeAutoSave()
}

func (s *Store) maybeAutoSave() error {
	if !s.autoSave || s.path == "" {
		return nil
	}
	return s.Save()
}

// Snapshot returns the raw JSON document under the read lock, suitable for
// embedding in a STATE message.
func (s *Store) Snapshot() (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var raw, err = json.Marshal(s.doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling state document: %w", err)
	}
	return raw, nil
}

// Save persists the document atomically (write-temp-then-rename) to the
// configured path. It is a no-op when no path was configured.
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}
	s.mu.RLock()
	var raw, err = json.MarshalIndent(s.doc, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshaling state document: %w", err)
	}

	var dir = filepath.Dir(s.path)
	var tmp, terr = os.CreateTemp(dir, ".state-*.tmp")
	if terr != nil {
		return fmt.Errorf("creating temp state file: %w", terr)
	}
	var tmpPath = tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp state file into place: %w", err)
	}
	return nil
}
