package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var (
	// ErrDocumentNotFound indicates the named document has never been written.
	ErrDocumentNotFound = errors.New("storage: document not found")
	// ErrCorruptDocument indicates a stored document could not be decoded.
	ErrCorruptDocument = errors.New("storage: corrupt document")
)

// DocumentStore persists whole JSON documents by name.
type DocumentStore interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, payload []byte) error
}

// FileStore keeps documents as files under a directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir exposes the root directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Load reads a document from disk.
func (s *FileStore) Load(_ context.Context, name string) ([]byte, error) {
	payload, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return payload, nil
}

// Save writes through a temp file and rename so readers never see a torn document.
func (s *FileStore) Save(_ context.Context, name string, payload []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

// LoadJSON decodes a stored document into v.
func LoadJSON(ctx context.Context, store DocumentStore, name string, v any) error {
	payload, err := store.Load(ctx, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptDocument, name, err)
	}
	return nil
}

// SaveJSON encodes v with two-space indentation and a trailing newline.
func SaveJSON(ctx context.Context, store DocumentStore, name string, v any) error {
	payload, err := MarshalDocument(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return store.Save(ctx, name, payload)
}

// MarshalDocument renders the on-disk JSON form.
func MarshalDocument(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var _ DocumentStore = (*FileStore)(nil)
