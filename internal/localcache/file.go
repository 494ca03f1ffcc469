package localcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/matheus3301/wppcrm/internal/unread"
)

// File stores the state as one JSON document:
//
//	{"whatsapp_unread_counts": {...}, "whatsapp_last_seen_messages": {...}}
type File struct {
	path string
}

type document struct {
	Counts   map[string]int   `json:"whatsapp_unread_counts"`
	LastSeen map[string]int64 `json:"whatsapp_last_seen_messages"`
}

// NewFile creates a file-backed cache at path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the cache file location.
func (f *File) Path() string {
	return f.path
}

// Load reads the document. A missing file is an empty state; a corrupt one
// is an error so the caller can decide to start over.
func (f *File) Load(context.Context) (unread.State, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return unread.NewState(), nil
	}
	if err != nil {
		return unread.State{}, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return unread.State{}, fmt.Errorf("parse %s: %w", f.path, err)
	}
	return unread.State{Counts: doc.Counts, LastSeen: doc.LastSeen}.Clone(), nil
}

// Save writes the document to a temp file and renames it into place.
func (f *File) Save(_ context.Context, s unread.State) error {
	s = s.Clone()
	data, err := json.Marshal(document{Counts: s.Counts, LastSeen: s.LastSeen})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, f.path)
}
