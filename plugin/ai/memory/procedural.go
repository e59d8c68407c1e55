package memory

import (
	"context"
	"time"

	memerr "github.com/hrygo/recall/internal/errors"
	"github.com/hrygo/recall/store"
)

// successRateAlpha is the EMA weight given to the newest outcome.
const successRateAlpha = 0.3

// ProceduralMemory stores "how-to" step sequences per task type. Success
// rates update via exponential moving average so old outcomes fade.
type ProceduralMemory struct {
	store *store.Store
	now   func() time.Time
}

// NewProceduralMemory creates a procedural memory tier.
func NewProceduralMemory(st *store.Store) *ProceduralMemory {
	return &ProceduralMemory{store: st, now: time.Now}
}

// RecordSolution folds one observed solution into the procedure for its task
// type. A new task type starts at success rate 1 or 0 depending on outcome.
func (p *ProceduralMemory) RecordSolution(ctx context.Context, taskType store.TaskType, steps []string, success bool, tokensUsed int32) (*store.Procedure, error) {
	if taskType == "" {
		return nil, memerr.InvalidArgument("task type is required")
	}

	existing, err := p.store.GetProcedureByTaskType(ctx, taskType)
	if err != nil {
		return nil, err
	}

	outcome := float32(0)
	if success {
		outcome = 1
	}

	procedure := &store.Procedure{
		TaskType:  taskType,
		Steps:     steps,
		UpdatedTs: p.now().Unix(),
	}
	if existing == nil {
		procedure.SuccessRate = outcome
		procedure.UsageCount = 1
		procedure.AvgTokens = tokensUsed
	} else {
		procedure.SuccessRate = (1-successRateAlpha)*existing.SuccessRate + successRateAlpha*outcome
		procedure.UsageCount = existing.UsageCount + 1
		procedure.AvgTokens = int32((1-successRateAlpha)*float32(existing.AvgTokens) + successRateAlpha*float32(tokensUsed))
		// Keep the known-good steps when the latest attempt failed.
		if !success && len(existing.Steps) > 0 {
			procedure.Steps = existing.Steps
		}
	}

	return p.store.UpsertProcedure(ctx, procedure)
}

// GetProcedure returns the procedure for a task type, or nil when none is
// recorded yet.
func (p *ProceduralMemory) GetProcedure(ctx context.Context, taskType store.TaskType) (*store.Procedure, error) {
	return p.store.GetProcedureByTaskType(ctx, taskType)
}

// ListProcedures returns all recorded procedures, most used first.
func (p *ProceduralMemory) ListProcedures(ctx context.Context) ([]*store.Procedure, error) {
	return p.store.ListProcedures(ctx, &store.FindProcedure{})
}
