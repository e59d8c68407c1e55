package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

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
		marshalStringSlice(create.QueriesMade), marshalStringSlice(create.FilesTouched),
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
		// Keyword fallback search: every whitespace-separated term must match
		// the description, summary or touched files.
		for _, word := range strings.Fields(v) {
			escaped := strings.ReplaceAll(strings.ReplaceAll(word, "%", "\\%"), "_", "\\_")
			pattern := "%" + escaped + "%"
			cond := fmt.Sprintf(
				"(episode.task_description LIKE %s ESCAPE '\\' OR episode.solution_summary LIKE %s ESCAPE '\\' OR episode.files_touched LIKE %s ESCAPE '\\')",
				placeholder(len(args)+1), placeholder(len(args)+2), placeholder(len(args)+3))
			where = append(where, cond)
			args = append(args, pattern, pattern, pattern)
		}
	}

	query := `
		SELECT
			id, uid, created_ts, task_description, context_snapshot,
			queries_made, files_touched, solution_summary, outcome,
			embedding, tokens_used, access_count, pattern_value
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

// VectorSearchEpisodes is not supported on SQLite; similarity search runs
// through the in-process index instead.
func (d *DB) VectorSearchEpisodes(_ context.Context, _ *store.VectorSearchOptions) ([]*store.EpisodeWithScore, error) {
	return nil, errors.New("vector search in SQL requires PostgreSQL with pgvector")
}

func (d *DB) IncrementEpisodeAccess(ctx context.Context, uids []string) error {
	if len(uids) == 0 {
		return nil
	}

	args := make([]any, 0, len(uids))
	for _, uid := range uids {
		args = append(args, uid)
	}

	stmt := `UPDATE episode SET access_count = access_count + 1 WHERE uid IN (` + placeholders(len(uids)) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to increment episode access")
	}
	return nil
}

func (d *DB) DeleteEpisode(ctx context.Context, delete *store.DeleteEpisode) (int64, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := delete.ID; v != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := delete.UID; v != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := delete.UIDs; len(v) > 0 {
		inArgs := []string{}
		for _, uid := range v {
			inArgs = append(inArgs, placeholder(len(args)+1))
			args = append(args, uid)
		}
		where = append(where, "uid IN ("+strings.Join(inArgs, ", ")+")")
	}

	if len(args) == 0 {
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

// nullableVector maps an empty embedding to NULL.
func nullableVector(vector []float32) any {
	encoded := marshalVector(vector)
	if encoded == "" {
		return nil
	}
	return encoded
}

func scanEpisode(rows *sql.Rows) (*store.Episode, error) {
	var episode store.Episode
	var queriesMade, filesTouched, outcome string
	var embedding sql.NullString

	if err := rows.Scan(
		&episode.ID,
		&episode.UID,
		&episode.CreatedTs,
		&episode.TaskDescription,
		&episode.ContextSnapshot,
		&queriesMade,
		&filesTouched,
		&episode.SolutionSummary,
		&outcome,
		&embedding,
		&episode.TokensUsed,
		&episode.AccessCount,
		&episode.PatternValue,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan episode")
	}

	episode.QueriesMade = unmarshalStringSlice(queriesMade)
	episode.FilesTouched = unmarshalStringSlice(filesTouched)
	episode.Outcome = store.Outcome(outcome)
	if embedding.Valid {
		episode.Embedding = unmarshalVector(embedding.String)
	}

	return &episode, nil
}
