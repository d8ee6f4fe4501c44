// Package store indexes outputs persisted by the save variants, so callers
// can look them up by id after the request that produced them has ended.
package store

import (
	"errors"
	"time"
)

// DefaultDBPath is the index location relative to the data directory.
const DefaultDBPath = "extractkit.db"

// ErrNotFound is returned when no output has the requested id.
var ErrNotFound = errors.New("output not found")

// Output is one persisted result set.
type Output struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`        // producing operation, e.g. "pdf_to_images"
	SourceName string    `json:"source_name"` // original upload filename
	InputPath  string    `json:"input_path"`
	OutputDir  string    `json:"output_dir"`
	Files      []string  `json:"files"` // relative to the service root
	CreatedAt  time.Time `json:"created_at"`
}

// Store is the persistence facade for the output index. Implementations are
// SQLite (SqlStore) and in-memory (MemStore).
type Store interface {
	SaveOutput(o *Output) error
	GetOutput(id string) (*Output, error)
	// ListOutputs returns outputs newest first.
	ListOutputs() ([]*Output, error)
	Close() error
}
