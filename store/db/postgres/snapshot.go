package postgres

import (
	"context"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/recall/store"
)

// ReplaceMemorySnapshot replaces all episodes and semantic items inside one
// transaction. Either the whole snapshot lands or nothing changes.
func (d *DB) ReplaceMemorySnapshot(ctx context.Context, episodes []*store.Episode, items []*store.SemanticItem) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin snapshot transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM episode"); err != nil {
		return errors.Wrap(err, "failed to clear episodes")
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM semantic_item"); err != nil {
		return errors.Wrap(err, "failed to clear semantic items")
	}

	episodeFields := []string{
		"uid", "created_ts", "task_description", "context_snapshot",
		"queries_made", "files_touched", "solution_summary", "outcome",
		"embedding", "tokens_used", "access_count", "pattern_value",
	}
	episodeStmt := `INSERT INTO episode (` + strings.Join(episodeFields, ", ") + `)
		VALUES (` + placeholders(len(episodeFields)) + `)`
	for _, episode := range episodes {
		if _, err := tx.ExecContext(ctx, episodeStmt,
			episode.UID, episode.CreatedTs, episode.TaskDescription, episode.ContextSnapshot,
			pq.Array(episode.QueriesMade), pq.Array(episode.FilesTouched),
			episode.SolutionSummary, string(episode.Outcome),
			nullableVector(episode.Embedding), episode.TokensUsed, episode.AccessCount, episode.PatternValue,
		); err != nil {
			return errors.Wrapf(err, "failed to restore episode %s", episode.UID)
		}
	}

	itemFields := []string{
		"uid", "created_ts", "title", "summary", "source_episode_uids", "confidence", "embedding",
	}
	itemStmt := `INSERT INTO semantic_item (` + strings.Join(itemFields, ", ") + `)
		VALUES (` + placeholders(len(itemFields)) + `)`
	for _, item := range items {
		if _, err := tx.ExecContext(ctx, itemStmt,
			item.UID, item.CreatedTs, item.Title, item.Summary,
			pq.Array(item.SourceEpisodeUIDs), item.Confidence,
			nullableVector(item.Embedding),
		); err != nil {
			return errors.Wrapf(err, "failed to restore semantic item %s", item.UID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit snapshot transaction")
	}
	return nil
}

func (d *DB) GetMemoryCounts(ctx context.Context) (*store.MemoryCounts, error) {
	counts := &store.MemoryCounts{}

	queries := []struct {
		stmt string
		dest *int64
	}{
		{"SELECT COUNT(*) FROM episode", &counts.Episodes},
		{"SELECT COUNT(*) FROM episode WHERE embedding IS NULL", &counts.Unindexed},
		{"SELECT COUNT(*) FROM semantic_item", &counts.SemanticItems},
		{"SELECT COUNT(*) FROM procedure", &counts.Procedures},
		{"SELECT COUNT(*) FROM learning", &counts.Learnings},
		{"SELECT COUNT(*) FROM checkpoint", &counts.Checkpoints},
	}
	for _, q := range queries {
		if err := d.db.QueryRowContext(ctx, q.stmt).Scan(q.dest); err != nil {
			return nil, errors.Wrap(err, "failed to count memory records")
		}
	}

	return counts, nil
}
