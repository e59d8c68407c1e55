package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memerr "github.com/hrygo/recall/internal/errors"
	"github.com/hrygo/recall/store"
)

func TestProceduralFirstSolution(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	procedural := NewProceduralMemory(env.store)

	steps := []string{"reproduce locally", "bisect commits", "patch and add test"}
	procedure, err := procedural.RecordSolution(ctx, store.TaskBugfix, steps, true, 900)
	require.NoError(t, err)
	assert.Equal(t, store.TaskBugfix, procedure.TaskType)
	assert.Equal(t, steps, procedure.Steps)
	assert.Equal(t, float32(1), procedure.SuccessRate)
	assert.Equal(t, int32(1), procedure.UsageCount)
	assert.Equal(t, int32(900), procedure.AvgTokens)

	_, err = procedural.RecordSolution(ctx, "", nil, true, 0)
	assert.Equal(t, memerr.ErrCodeInvalidArgument, memerr.CodeOf(err))
}

func TestProceduralSuccessRateEMA(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	procedural := NewProceduralMemory(env.store)

	goodSteps := []string{"write failing test", "fix", "verify"}
	_, err := procedural.RecordSolution(ctx, store.TaskBugfix, goodSteps, true, 1000)
	require.NoError(t, err)

	procedure, err := procedural.RecordSolution(ctx, store.TaskBugfix, []string{"guess wildly"}, false, 500)
	require.NoError(t, err)

	// 0.7 * 1.0 + 0.3 * 0.0
	assert.InDelta(t, 0.7, procedure.SuccessRate, 1e-6)
	assert.Equal(t, int32(2), procedure.UsageCount)
	// 0.7 * 1000 + 0.3 * 500
	assert.Equal(t, int32(850), procedure.AvgTokens)
	// A failed attempt must not overwrite the known-good steps.
	assert.Equal(t, goodSteps, procedure.Steps)
}

func TestProceduralSuccessReplacesSteps(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	procedural := NewProceduralMemory(env.store)

	_, err := procedural.RecordSolution(ctx, store.TaskRefactor, []string{"old way"}, true, 400)
	require.NoError(t, err)

	newSteps := []string{"extract interface", "move callers", "delete old type"}
	procedure, err := procedural.RecordSolution(ctx, store.TaskRefactor, newSteps, true, 600)
	require.NoError(t, err)
	assert.Equal(t, newSteps, procedure.Steps)
	assert.InDelta(t, 1.0, procedure.SuccessRate, 1e-6)
}

func TestProceduralGetAndList(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	procedural := NewProceduralMemory(env.store)

	missing, err := procedural.GetProcedure(ctx, store.TaskTesting)
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = procedural.RecordSolution(ctx, store.TaskTesting, []string{"table test"}, true, 300)
	require.NoError(t, err)
	_, err = procedural.RecordSolution(ctx, store.TaskBugfix, []string{"bisect"}, true, 300)
	require.NoError(t, err)

	got, err := procedural.GetProcedure(ctx, store.TaskTesting)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"table test"}, got.Steps)

	all, err := procedural.ListProcedures(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestInferTaskType(t *testing.T) {
	assert.Equal(t, store.TaskBugfix, store.InferTaskType("Fix crash on empty config"))
	assert.Equal(t, store.TaskTesting, store.InferTaskType("improve test coverage for parser"))
	assert.Equal(t, store.TaskRefactor, store.InferTaskType("refactor storage layer"))
	assert.Equal(t, store.TaskDocumentation, store.InferTaskType("update the README"))
	assert.Equal(t, store.TaskExploration, store.InferTaskType("investigate slow startup"))
	assert.Equal(t, store.TaskFeatureAdd, store.InferTaskType("implement dark mode"))
	assert.Equal(t, store.TaskOther, store.InferTaskType("misc chores"))
}
