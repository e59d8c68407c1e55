package store

// Outcome is the recorded result of a task execution.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomePartial:
		return true
	}
	return false
}

// Episode represents one recorded unit of task execution: the task, the
// context it ran in, the actions taken, and how it ended.
type Episode struct {
	ID  int64
	UID string // stable external identifier, also the vector index key

	CreatedTs       int64
	TaskDescription string
	ContextSnapshot string
	QueriesMade     []string
	FilesTouched    []string
	SolutionSummary string
	Outcome         Outcome

	// Embedding is nil when the episode was stored while the embedding
	// provider was unavailable. Such episodes stay keyword-searchable and are
	// reconciled by the embedding runner.
	Embedding []float32

	TokensUsed   int32
	AccessCount  int32
	PatternValue float32 // 0-1, reusability estimate
}

// FindEpisode specifies the conditions for finding episodes.
type FindEpisode struct {
	ID  *int64
	UID *string
	// Query matches task_description and solution_summary with a LIKE scan.
	// Empty means no keyword filter.
	Query string
	// CreatedBefore selects episodes strictly older than the given unix time.
	CreatedBefore *int64
	// WithoutEmbedding selects only episodes that have no stored embedding.
	WithoutEmbedding bool
	Limit            int
	Offset           int
}

// VectorSearchOptions parameterizes database-side similarity search over
// episode embeddings.
type VectorSearchOptions struct {
	Embedding []float32
	Limit     int
}

// EpisodeWithScore pairs an episode with its cosine similarity to a query.
type EpisodeWithScore struct {
	Episode *Episode
	Score   float32
}

// UpdateEpisode specifies mutable episode fields. Nil fields are left as is.
type UpdateEpisode struct {
	ID           int64
	PatternValue *float32
}

// DeleteEpisode specifies the conditions for deleting episodes.
type DeleteEpisode struct {
	ID   *int64
	UID  *string
	UIDs []string
}
