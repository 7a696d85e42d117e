// ABOUTME: JSON file persistence for the session registry
// ABOUTME: Whole-file reads on startup and atomic temp-file-and-rename writes

package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrCorruptRegistry is returned by Load when the registry file exists but is
// not a JSON object.
var ErrCorruptRegistry = errors.New("corrupt session registry")

// PersistenceError wraps a failed registry write. The store logs these and
// keeps serving from memory.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("session registry %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Persister loads and saves the registry (user id to raw session id).
// Loaded values are untyped because files written by older versions or
// damaged by hand edits may hold numbers, objects or nulls.
type Persister interface {
	Load() (map[string]any, error)
	Save(entries map[string]string) error
}

// JSONFile persists the registry as a single JSON object on disk.
type JSONFile struct {
	Path string
}

// NewJSONFile returns a Persister writing to path.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{Path: path}
}

// Load reads the whole registry. A missing file is an empty registry.
func (f *JSONFile) Load() (map[string]any, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var entries map[string]any
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRegistry, err)
	}
	if entries == nil {
		entries = map[string]any{}
	}
	return entries, nil
}

// Save writes the registry to a temp file in the same directory, syncs it
// and renames it over the old file, so a crash leaves either the old or the
// new registry in place.
func (f *JSONFile) Save(entries map[string]string) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}

	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.Path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.Path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// Quarantine moves an unreadable registry aside so it can be inspected and
// is never loaded again.
func (f *JSONFile) Quarantine() (string, error) {
	dest := f.Path + ".corrupt"
	if err := os.Rename(f.Path, dest); err != nil {
		return "", fmt.Errorf("moving corrupt registry: %w", err)
	}
	return dest, nil
}
