// Package vector provides the in-process approximate nearest neighbor index
// used for episode similarity search.
package vector

import "errors"

var (
	// ErrDimensionMismatch is returned when a vector's dimension does not
	// match the index.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrNotFound is returned when the given id is not in the index.
	ErrNotFound = errors.New("vector not found")
	// ErrIndexCorrupt is returned when a persisted index cannot be decoded or
	// fails its integrity checks.
	ErrIndexCorrupt = errors.New("index file corrupt")
)

// Result is a single nearest-neighbor hit. Distance is cosine distance in
// [0, 2]; Score is 1 - distance.
type Result struct {
	ID       string
	Distance float32
	Score    float32
}

// Index is the ANN index interface. Implementations are safe for concurrent
// use.
type Index interface {
	// Add inserts a vector. Adding an existing id overwrites it.
	Add(id string, vec []float32) error

	// Search returns up to k live nearest neighbors ordered by distance.
	Search(query []float32, k int) ([]Result, error)

	// Remove tombstones a vector. Tombstoned entries are skipped by Search
	// but stay in the graph until the next rebuild.
	Remove(id string) error

	// Save persists the index to path.
	Save(path string) error

	// Load replaces the index contents from path.
	Load(path string) error

	// Len returns the number of live vectors.
	Len() int

	// Tombstones returns the number of tombstoned entries awaiting rebuild.
	Tombstones() int
}
