package store

// PatternType classifies what kind of transferable knowledge a learning holds.
type PatternType string

const (
	PatternSolution     PatternType = "solution"
	PatternWorkflow     PatternType = "workflow"
	PatternArchitecture PatternType = "architecture"
	PatternBestPractice PatternType = "best_practice"
	PatternAntiPattern  PatternType = "anti_pattern"
	PatternOptimization PatternType = "optimization"
)

// Learning represents a transferable pattern mined from completed episodes.
type Learning struct {
	ID  int64
	UID string

	PatternType       PatternType
	Pattern           string
	Confidence        float32 // 0-1, always clamped
	AppliedCount      int32
	LastAppliedTs     int64
	SourceEpisodeUIDs []string
	CreatedTs         int64
}

// FindLearning specifies the conditions for finding learnings.
type FindLearning struct {
	ID          *int64
	UID         *string
	PatternType *PatternType
	Limit       int
	Offset      int
}

// UpdateLearning specifies mutable learning fields. Nil fields are left as is.
type UpdateLearning struct {
	ID            int64
	Confidence    *float32
	AppliedCount  *int32
	LastAppliedTs *int64
}

// DeleteLearning specifies the conditions for deleting learnings.
type DeleteLearning struct {
	ID  *int64
	UID *string
}
