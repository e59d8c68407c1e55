package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/recall/store"
)

func (d *DB) CreateEpisode(ctx context.Context, create *store.Episode) (*store.Episode, error) {
	fields := []string{
		"uid", "task_description", "context_snapshot",
		"queries_made", "files_touched", "solution_summary", "outcome",
		"embedding", "tokens_used", "access_count", "pattern_value",
	}
	placeholderValues := []any{
		create.UID, create.TaskDescription, create.ContextSnapshot,
		pq.Array(create.QueriesMade), pq.Array(create.FilesTouched),
		create.SolutionSummary, string(create.Outcome),
		nullableVector(create.Embedding), create.TokensUsed, create.AccessCount, create.PatternValue,
	}

	if create.CreatedTs != 0 {
		fields = append(fields, "created_ts")
		placeholderValues = append(placeholderValues, create.CreatedTs)
	}

	stmt := `INSERT INTO episode (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(placeholderValues)) + `)
		RETURNING id, created_ts`

	if err := d.db.QueryRowContext(ctx, stmt, placeholderValues...).Scan(
		&create.ID,
		&create.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create episode")
	}

	return create, nil
}

func (d *DB) ListEpisodes(ctx context.Context, find *store.FindEpisode) ([]*store.Episode, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "episode.id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UID; v != nil {
		where, args = append(where, "episode.uid = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.CreatedBefore; v != nil {
		where, args = append(where, "episode.created_ts < "+placeholder(len(args)+1)), append(args, *v)
	}
	if find.WithoutEmbedding {
		where = append(where, "episode.embedding IS NULL")
	}
	if v := find.Query; v != "" {
		for _, word := range strings.Fields(v) {
			escaped := strings.ReplaceAll(strings.ReplaceAll(word, "%", "\\%"), "_", "\\_")
			pattern := "%" + escaped + "%"
			cond := fmt.Sprintf(
				"(episode.task_description ILIKE %s OR episode.solution_summary ILIKE %s OR array_to_string(episode.files_touched, ' ') ILIKE %s)",
				placeholder(len(args)+1), placeholder(len(args)+2), placeholder(len(args)+3))
			where = append(where, cond)
			args = append(args, pattern, pattern, pattern)
		}
	}

	query := `
		SELECT
			id, uid, created_ts, task_description, context_snapshot,
			queries_made, files_touched, solution_summary, outcome,
			embedding::text, tokens_used, access_count, pattern_value
		FROM episode
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY episode.created_ts DESC, episode.id DESC`

	if find.Limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, find.Limit)
		if find.Offset > 0 {
			query = fmt.Sprintf("%s OFFSET %d", query, find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query episodes")
	}
	defer rows.Close()

	list := make([]*store.Episode, 0)
	for rows.Next() {
		episode, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, episode)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate episodes")
	}

	return list, nil
}

func (d *DB) UpdateEpisode(ctx context.Context, update *store.UpdateEpisode) error {
	set, args := []string{}, []any{}

	if v := update.PatternValue; v != nil {
		set, args = append(set, "pattern_value = "+placeholder(len(args)+1)), append(args, *v)
	}

	if len(set) == 0 {
		return nil
	}

	args = append(args, update.ID)

	stmt := `UPDATE episode SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args))
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to update episode")
	}

	return nil
}

func (d *DB) UpdateEpisodeEmbedding(ctx context.Context, id int64, embedding []float32) error {
	stmt := `UPDATE episode SET embedding = ` + placeholder(1) + ` WHERE id = ` + placeholder(2)
	if _, err := d.db.ExecContext(ctx, stmt, nullableVector(embedding), id); err != nil {
		return errors.Wrap(err, "failed to update episode embedding")
	}
	return nil
}

// VectorSearchEpisodes runs cosine similarity search with pgvector. The <=>
// operator is cosine distance, so ascending order is most similar first.
func (d *DB) VectorSearchEpisodes(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.EpisodeWithScore, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT
			id, uid, created_ts, task_description, context_snapshot,
			queries_made, files_touched, solution_summary, outcome,
			embedding::text, tokens_used, access_count, pattern_value,
			1 - (embedding <=> ` + placeholder(1) + `) AS score
		FROM episode
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> ` + placeholder(2) + `
		LIMIT ` + placeholder(3)

	vec := pgvector.NewVector(opts.Embedding)
	rows, err := d.db.QueryContext(ctx, query, vec, vec, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to vector search episodes")
	}
	defer rows.Close()

	results := make([]*store.EpisodeWithScore, 0, limit)
	for rows.Next() {
		var episode store.Episode
		var queriesMade, filesTouched []string
		var outcome string
		var embedding sql.NullString
		var score float32

		if err := rows.Scan(
			&episode.ID,
			&episode.UID,
			&episode.CreatedTs,
			&episode.TaskDescription,
			&episode.ContextSnapshot,
			pq.Array(&queriesMade),
			pq.Array(&filesTouched),
			&episode.SolutionSummary,
			&outcome,
			&embedding,
			&episode.TokensUsed,
			&episode.AccessCount,
			&episode.PatternValue,
			&score,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan vector search result")
		}

		episode.QueriesMade = queriesMade
		episode.FilesTouched = filesTouched
		episode.Outcome = store.Outcome(outcome)
		episode.Embedding = scanVector(embedding)

		results = append(results, &store.EpisodeWithScore{Episode: &episode, Score: score})
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate vector search results")
	}

	return results, nil
}

func (d *DB) IncrementEpisodeAccess(ctx context.Context, uids []string) error {
	if len(uids) == 0 {
		return nil
	}

	stmt := `UPDATE episode SET access_count = access_count + 1 WHERE uid = ANY(` + placeholder(1) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, pq.Array(uids)); err != nil {
		return errors.Wrap(err, "failed to increment episode access")
	}
	return nil
}

func (d *DB) DeleteEpisode(ctx context.Context, delete *store.DeleteEpisode) (int64, error) {
	where, args := []string{}, []any{}

	if v := delete.ID; v != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := delete.UID; v != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := delete.UIDs; len(v) > 0 {
		where, args = append(where, "uid = ANY("+placeholder(len(args)+1)+")"), append(args, pq.Array(v))
	}

	if len(where) == 0 {
		return 0, errors.New("refusing to delete episodes without a condition")
	}

	stmt := `DELETE FROM episode WHERE ` + strings.Join(where, " AND ")
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete episodes")
	}

	rowsAffected, _ := result.RowsAffected()
	return rowsAffected, nil
}

func scanEpisode(rows *sql.Rows) (*store.Episode, error) {
	var episode store.Episode
	var queriesMade, filesTouched []string
	var outcome string
	var embedding sql.NullString

	if err := rows.Scan(
		&episode.ID,
		&episode.UID,
		&episode.CreatedTs,
		&episode.TaskDescription,
		&episode.ContextSnapshot,
		pq.Array(&queriesMade),
		pq.Array(&filesTouched),
		&episode.SolutionSummary,
		&outcome,
		&embedding,
		&episode.TokensUsed,
		&episode.AccessCount,
		&episode.PatternValue,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan episode")
	}

	episode.QueriesMade = queriesMade
	episode.FilesTouched = filesTouched
	episode.Outcome = store.Outcome(outcome)
	episode.Embedding = scanVector(embedding)

	return &episode, nil
}
