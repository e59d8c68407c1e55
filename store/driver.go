package store

import (
	"context"
	"database/sql"
)

// MemoryCounts holds per-tier record counts for statistics reporting.
type MemoryCounts struct {
	Episodes      int64
	Unindexed     int64 // episodes stored without an embedding
	SemanticItems int64
	Procedures    int64
	Learnings     int64
	Checkpoints   int64
}

// Driver is an interface for store driver.
// It contains all methods that a store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// Episode model related methods.
	CreateEpisode(ctx context.Context, create *Episode) (*Episode, error)
	ListEpisodes(ctx context.Context, find *FindEpisode) ([]*Episode, error)
	UpdateEpisode(ctx context.Context, update *UpdateEpisode) error
	DeleteEpisode(ctx context.Context, delete *DeleteEpisode) (int64, error)

	// UpdateEpisodeEmbedding sets the embedding vector for an episode.
	UpdateEpisodeEmbedding(ctx context.Context, id int64, embedding []float32) error

	// IncrementEpisodeAccess atomically bumps access counters for the given
	// episode UIDs.
	IncrementEpisodeAccess(ctx context.Context, uids []string) error

	// VectorSearchEpisodes runs similarity search inside the database. Only
	// the postgres driver supports it; sqlite returns an error and callers
	// fall back to the in-process index or keyword matching.
	VectorSearchEpisodes(ctx context.Context, opts *VectorSearchOptions) ([]*EpisodeWithScore, error)

	// SemanticItem model related methods.
	CreateSemanticItem(ctx context.Context, create *SemanticItem) (*SemanticItem, error)
	ListSemanticItems(ctx context.Context, find *FindSemanticItem) ([]*SemanticItem, error)
	UpdateSemanticItem(ctx context.Context, update *UpdateSemanticItem) error
	DeleteSemanticItem(ctx context.Context, delete *DeleteSemanticItem) error

	// Procedure model related methods.
	UpsertProcedure(ctx context.Context, upsert *Procedure) (*Procedure, error)
	ListProcedures(ctx context.Context, find *FindProcedure) ([]*Procedure, error)
	DeleteProcedure(ctx context.Context, delete *DeleteProcedure) error

	// Learning model related methods.
	CreateLearning(ctx context.Context, create *Learning) (*Learning, error)
	ListLearnings(ctx context.Context, find *FindLearning) ([]*Learning, error)
	UpdateLearning(ctx context.Context, update *UpdateLearning) error
	DeleteLearning(ctx context.Context, delete *DeleteLearning) error

	// Checkpoint model related methods.
	CreateCheckpoint(ctx context.Context, create *Checkpoint) (*Checkpoint, error)
	ListCheckpoints(ctx context.Context, find *FindCheckpoint) ([]*Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, delete *DeleteCheckpoint) error

	// ReplaceMemorySnapshot transactionally replaces all episodes and semantic
	// items with the given snapshot. Used by checkpoint restore (copy-then-swap:
	// either the whole snapshot is applied or nothing changes).
	ReplaceMemorySnapshot(ctx context.Context, episodes []*Episode, items []*SemanticItem) error

	// GetMemoryCounts returns per-tier record counts.
	GetMemoryCounts(ctx context.Context) (*MemoryCounts, error)
}
