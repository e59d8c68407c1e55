// Package embedding implements the background runner that reconciles episodes
// stored without embeddings, typically after the embedding provider was
// unavailable at record time.
package embedding

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hrygo/recall/plugin/ai"
	"github.com/hrygo/recall/plugin/ai/vector"
	"github.com/hrygo/recall/store"
)

type Runner struct {
	store            *store.Store
	embeddingService ai.EmbeddingService
	index            vector.Index
	interval         time.Duration
	batchSize        int
	concurrency      int
}

// NewRunner creates an embedding reconciliation runner. Small batches keep
// memory peaks low; the long interval keeps the runner off the hot path.
func NewRunner(store *store.Store, embeddingService ai.EmbeddingService, index vector.Index) *Runner {
	return &Runner{
		store:            store,
		embeddingService: embeddingService,
		index:            index,
		interval:         2 * time.Minute,
		batchSize:        8,
		concurrency:      2,
	}
}

// Run starts the background loop. Blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	// Process once on startup so a restart clears the backlog immediately.
	r.reconcile(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.reconcile(ctx)
		case <-ctx.Done():
			slog.Info("embedding runner stopped")
			return
		}
	}
}

// RunOnce processes the current backlog once (for manual trigger).
func (r *Runner) RunOnce(ctx context.Context) {
	r.reconcile(ctx)
}

func (r *Runner) reconcile(ctx context.Context) {
	episodes, err := r.findEpisodesWithoutEmbedding(ctx)
	if err != nil {
		slog.Error("failed to find episodes without embedding", "error", err)
		return
	}
	if len(episodes) == 0 {
		return
	}

	slog.Info("reconciling episode embeddings", "count", len(episodes))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(r.concurrency)
	for i := 0; i < len(episodes); i += r.batchSize {
		end := i + r.batchSize
		if end > len(episodes) {
			end = len(episodes)
		}
		batch := episodes[i:end]
		group.Go(func() error {
			if err := r.processBatch(gctx, batch); err != nil {
				slog.Error("failed to process embedding batch", "size", len(batch), "error", err)
			}
			// Batch failures are logged, not propagated: one bad batch must not
			// stop the rest of the backlog.
			return nil
		})
	}
	_ = group.Wait()
}

func (r *Runner) findEpisodesWithoutEmbedding(ctx context.Context) ([]*store.Episode, error) {
	return r.store.ListEpisodes(ctx, &store.FindEpisode{
		WithoutEmbedding: true,
		// Fetch a larger window than one batch; leftovers wait for the next tick.
		Limit: r.batchSize * 20,
	})
}

func (r *Runner) processBatch(ctx context.Context, episodes []*store.Episode) error {
	if len(episodes) == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	texts := make([]string, len(episodes))
	for i, episode := range episodes {
		texts[i] = episode.TaskDescription + " " + episode.SolutionSummary
	}

	vectors, err := r.embeddingService.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(episodes) {
		slog.Error("embedding batch size mismatch", "want", len(episodes), "got", len(vectors))
		return nil
	}

	for i, episode := range episodes {
		if len(vectors[i]) == 0 {
			continue
		}
		if err := r.store.UpdateEpisodeEmbedding(ctx, episode.ID, vectors[i]); err != nil {
			slog.Error("failed to persist episode embedding", "episode", episode.UID, "error", err)
			continue
		}
		if err := r.index.Add(episode.UID, vectors[i]); err != nil {
			slog.Warn("failed to index episode embedding", "episode", episode.UID, "error", err)
		}
	}
	return nil
}
