package store

// SemanticItem represents one unit of generalized knowledge distilled from a
// group of episodes. Append-only except for confidence updates.
type SemanticItem struct {
	ID  int64
	UID string

	Title             string
	Summary           string
	SourceEpisodeUIDs []string
	Confidence        float32 // 0-1
	Embedding         []float32
	CreatedTs         int64
}

// FindSemanticItem specifies the conditions for finding semantic items.
type FindSemanticItem struct {
	ID  *int64
	UID *string
	// SourceEpisodeUID selects items that reference the given episode.
	SourceEpisodeUID *string
	// Query matches title and summary with a LIKE scan. Empty means no
	// keyword filter.
	Query  string
	Limit  int
	Offset int
}

// UpdateSemanticItem specifies mutable semantic item fields.
type UpdateSemanticItem struct {
	ID         int64
	Confidence *float32
}

// DeleteSemanticItem specifies the conditions for deleting semantic items.
type DeleteSemanticItem struct {
	ID  *int64
	UID *string
}
