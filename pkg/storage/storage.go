// Package storage stores session artifacts (summaries and annotated frames) in a blob store.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
)

var ErrNotFound = errors.New("file not found")
var ErrInvalidName = errors.New("invalid file name")

// Storage is an abstraction of a blob store (eg GCS)
type Storage interface {
	// When finished, you must close the WriteCloser
	WriteFile(ctx context.Context, name string) (io.WriteCloser, error)

	// When finished, you must close File.Reader.
	// Returns ErrNotFound if the file does not exist.
	ReadFile(ctx context.Context, name string) (*File, error)

	DeleteFile(ctx context.Context, name string) error

	// List returns the names of all files that start with 'prefix', sorted
	List(ctx context.Context, prefix string) ([]string, error)
}

// File is an element in blob storage.
type File struct {
	Reader     io.ReadCloser
	ModifiedAt time.Time
	Size       int64
}

// Config selects one of the storage backends. Exactly one must be set.
type Config struct {
	Filesystem *ConfigFilesystem `json:"filesystem,omitempty"`
	GCS        *ConfigGCS        `json:"gcs,omitempty"`
}

type ConfigFilesystem struct {
	Root string `json:"root"`
}

type ConfigGCS struct {
	Bucket string `json:"bucket"`
}

// Open creates the backend described by 'cfg'
func Open(ctx context.Context, log logs.Log, cfg Config) (Storage, error) {
	if cfg.Filesystem != nil && cfg.GCS != nil {
		return nil, errors.New("Only one of filesystem and gcs storage may be configured")
	}
	if cfg.Filesystem != nil {
		s, err := NewStorageFS(log, cfg.Filesystem.Root)
		if err != nil {
			return nil, err
		}
		return s, nil
	} else if cfg.GCS != nil {
		s, err := NewStorageGCS(ctx, log, cfg.GCS.Bucket)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, errors.New("No storage configured")
}

// validateName rejects names that could escape the store's root
func validateName(name string) error {
	if name == "" || strings.Contains(name, "..") || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return fmt.Errorf("%w: '%v'", ErrInvalidName, name)
	}
	return nil
}

func WriteFile(ctx context.Context, s Storage, name string, content io.Reader) error {
	f, err := s.WriteFile(ctx, name)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, content)
	errClose := f.Close()
	if err != nil {
		return err
	}
	return errClose
}

func ReadFile(ctx context.Context, s Storage, name string) ([]byte, error) {
	f, err := s.ReadFile(ctx, name)
	if err != nil {
		return nil, err
	}
	defer f.Reader.Close()
	return io.ReadAll(f.Reader)
}

// WriteJSON writes 'obj' as indented JSON
func WriteJSON(ctx context.Context, s Storage, name string, obj any) error {
	b, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return err
	}
	return WriteFile(ctx, s, name, bytes.NewReader(b))
}

// ReadJSON reads a file written by WriteJSON
func ReadJSON(ctx context.Context, s Storage, name string, obj any) error {
	b, err := ReadFile(ctx, s, name)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, obj)
}
