package store

import "strings"

// TaskType classifies a coding task. Procedures accumulate per task type.
type TaskType string

const (
	TaskBugfix        TaskType = "bugfix"
	TaskFeatureAdd    TaskType = "feature_add"
	TaskRefactor      TaskType = "refactor"
	TaskTesting       TaskType = "testing"
	TaskDocumentation TaskType = "documentation"
	TaskExploration   TaskType = "exploration"
	TaskOther         TaskType = "other"
)

// taskTypeKeywords maps indicator words to task types. First match wins, in
// the order listed by taskTypeOrder.
var taskTypeKeywords = map[TaskType][]string{
	TaskBugfix:        {"fix", "bug", "error", "crash", "broken", "issue", "fail"},
	TaskTesting:       {"test", "spec", "coverage", "assert"},
	TaskRefactor:      {"refactor", "cleanup", "restructure", "rename", "simplify"},
	TaskDocumentation: {"document", "readme", "docs", "comment", "changelog"},
	TaskExploration:   {"explore", "investigate", "understand", "research", "analyze"},
	TaskFeatureAdd:    {"add", "implement", "create", "build", "feature", "support"},
}

var taskTypeOrder = []TaskType{
	TaskBugfix, TaskTesting, TaskRefactor,
	TaskDocumentation, TaskExploration, TaskFeatureAdd,
}

// InferTaskType guesses the task type from a task description using keyword
// matching. Returns TaskOther when nothing matches.
func InferTaskType(description string) TaskType {
	lowered := strings.ToLower(description)
	for _, taskType := range taskTypeOrder {
		for _, keyword := range taskTypeKeywords[taskType] {
			if strings.Contains(lowered, keyword) {
				return taskType
			}
		}
	}
	return TaskOther
}

// Procedure represents "how-to" knowledge for a task type: the step sequence
// that worked, with an exponentially averaged success rate.
type Procedure struct {
	ID          int64
	TaskType    TaskType
	Steps       []string
	SuccessRate float32 // 0-1, EMA over reported outcomes
	UsageCount  int32
	AvgTokens   int32
	UpdatedTs   int64
}

// FindProcedure specifies the conditions for finding procedures.
type FindProcedure struct {
	ID       *int64
	TaskType *TaskType
	Limit    int
}

// DeleteProcedure specifies the conditions for deleting procedures.
type DeleteProcedure struct {
	ID       *int64
	TaskType *TaskType
}
