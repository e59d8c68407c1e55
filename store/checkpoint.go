package store

// Checkpoint records a restorable pre-compression snapshot. The snapshot
// itself (episode/semantic dumps plus the index blob) lives on disk at
// SnapshotRef; this row only tracks its existence.
type Checkpoint struct {
	ID          int64
	UID         string
	CreatedTs   int64
	SnapshotRef string
}

// FindCheckpoint specifies the conditions for finding checkpoints.
type FindCheckpoint struct {
	ID    *int64
	UID   *string
	Limit int
}

// DeleteCheckpoint specifies the conditions for deleting checkpoints.
type DeleteCheckpoint struct {
	ID  *int64
	UID *string
}
