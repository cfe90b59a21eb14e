package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"banana-mall/internal/model"
)

const (
	SchemaVersion   = 1
	PrimaryFileName = ".settings.dat"
)

// Document is the primary persisted form. Nil fields mean "not stored".
type Document struct {
	Version   int                        `json:"version"`
	Settings  json.RawMessage            `json:"settings,omitempty"`
	Histories *[]model.GenerationHistory `json:"histories,omitempty"`
	Current   *model.GeneratedContent    `json:"generatedContent,omitempty"`
}

// Backend is the primary durable store.
type Backend interface {
	Load(ctx context.Context) (Document, error)
	Save(ctx context.Context, doc Document) error
}

// FileBackend stores the document as one JSON file, replaced atomically.
type FileBackend struct {
	path string
}

func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{path: filepath.Join(dir, PrimaryFileName)}
}

func (f *FileBackend) Path() string { return f.path }

func (f *FileBackend) Load(_ context.Context) (Document, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Document{Version: SchemaVersion}, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("read %s: %w", f.path, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode %s: %w", f.path, err)
	}
	switch {
	case doc.Version == 0:
		// Files written before versioning carry the same layout.
		doc.Version = SchemaVersion
	case doc.Version > SchemaVersion:
		return Document{}, fmt.Errorf("%s: schema version %d is newer than supported %d", f.path, doc.Version, SchemaVersion)
	}
	return doc, nil
}

func (f *FileBackend) Save(_ context.Context, doc Document) error {
	doc.Version = SchemaVersion
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	return writeFileAtomic(f.path, data)
}
