package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/recall/store"
)

func (d *DB) CreateLearning(ctx context.Context, create *store.Learning) (*store.Learning, error) {
	fields := []string{
		"uid", "pattern_type", "pattern", "confidence",
		"applied_count", "last_applied_ts", "source_episode_uids",
	}
	placeholderValues := []any{
		create.UID, string(create.PatternType), create.Pattern, create.Confidence,
		create.AppliedCount, create.LastAppliedTs, marshalStringSlice(create.SourceEpisodeUIDs),
	}

	if create.CreatedTs != 0 {
		fields = append(fields, "created_ts")
		placeholderValues = append(placeholderValues, create.CreatedTs)
	}

	stmt := `INSERT INTO learning (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(placeholderValues)) + `)
		RETURNING id, created_ts`

	if err := d.db.QueryRowContext(ctx, stmt, placeholderValues...).Scan(
		&create.ID,
		&create.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create learning")
	}

	return create, nil
}

func (d *DB) ListLearnings(ctx context.Context, find *store.FindLearning) ([]*store.Learning, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "learning.id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UID; v != nil {
		where, args = append(where, "learning.uid = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.PatternType; v != nil {
		where, args = append(where, "learning.pattern_type = "+placeholder(len(args)+1)), append(args, string(*v))
	}

	query := `
		SELECT
			id, uid, pattern_type, pattern, confidence,
			applied_count, last_applied_ts, source_episode_uids, created_ts
		FROM learning
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY learning.confidence DESC, learning.id DESC`

	if find.Limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, find.Limit)
		if find.Offset > 0 {
			query = fmt.Sprintf("%s OFFSET %d", query, find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query learnings")
	}
	defer rows.Close()

	list := make([]*store.Learning, 0)
	for rows.Next() {
		var learning store.Learning
		var patternType, sourceUIDs string

		if err := rows.Scan(
			&learning.ID,
			&learning.UID,
			&patternType,
			&learning.Pattern,
			&learning.Confidence,
			&learning.AppliedCount,
			&learning.LastAppliedTs,
			&sourceUIDs,
			&learning.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan learning")
		}

		learning.PatternType = store.PatternType(patternType)
		learning.SourceEpisodeUIDs = unmarshalStringSlice(sourceUIDs)
		list = append(list, &learning)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate learnings")
	}

	return list, nil
}

func (d *DB) UpdateLearning(ctx context.Context, update *store.UpdateLearning) error {
	set, args := []string{}, []any{}

	if v := update.Confidence; v != nil {
		set, args = append(set, "confidence = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.AppliedCount; v != nil {
		set, args = append(set, "applied_count = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.LastAppliedTs; v != nil {
		set, args = append(set, "last_applied_ts = "+placeholder(len(args)+1)), append(args, *v)
	}

	if len(set) == 0 {
		return nil
	}

	args = append(args, update.ID)

	stmt := `UPDATE learning SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args))
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to update learning")
	}

	return nil
}

func (d *DB) DeleteLearning(ctx context.Context, delete *store.DeleteLearning) error {
	where, args := []string{}, []any{}

	if v := delete.ID; v != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := delete.UID; v != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *v)
	}

	if len(where) == 0 {
		return errors.New("refusing to delete learnings without a condition")
	}

	stmt := `DELETE FROM learning WHERE ` + strings.Join(where, " AND ")
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to delete learnings")
	}

	return nil
}
