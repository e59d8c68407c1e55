package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/recall/store"
)

func (d *DB) UpsertProcedure(ctx context.Context, upsert *store.Procedure) (*store.Procedure, error) {
	stmt := `INSERT INTO procedure (task_type, steps, success_rate, usage_count, avg_tokens, updated_ts)
		VALUES (` + placeholders(6) + `)
		ON CONFLICT (task_type) DO UPDATE SET
			steps = EXCLUDED.steps,
			success_rate = EXCLUDED.success_rate,
			usage_count = EXCLUDED.usage_count,
			avg_tokens = EXCLUDED.avg_tokens,
			updated_ts = EXCLUDED.updated_ts
		RETURNING id`

	if err := d.db.QueryRowContext(ctx, stmt,
		string(upsert.TaskType),
		marshalStringSlice(upsert.Steps),
		upsert.SuccessRate,
		upsert.UsageCount,
		upsert.AvgTokens,
		upsert.UpdatedTs,
	).Scan(&upsert.ID); err != nil {
		return nil, errors.Wrap(err, "failed to upsert procedure")
	}

	return upsert, nil
}

func (d *DB) ListProcedures(ctx context.Context, find *store.FindProcedure) ([]*store.Procedure, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "procedure.id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.TaskType; v != nil {
		where, args = append(where, "procedure.task_type = "+placeholder(len(args)+1)), append(args, string(*v))
	}

	query := `
		SELECT
			id, task_type, steps, success_rate, usage_count, avg_tokens, updated_ts
		FROM procedure
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY procedure.usage_count DESC, procedure.id ASC`

	if find.Limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query procedures")
	}
	defer rows.Close()

	list := make([]*store.Procedure, 0)
	for rows.Next() {
		var procedure store.Procedure
		var taskType, steps string

		if err := rows.Scan(
			&procedure.ID,
			&taskType,
			&steps,
			&procedure.SuccessRate,
			&procedure.UsageCount,
			&procedure.AvgTokens,
			&procedure.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan procedure")
		}

		procedure.TaskType = store.TaskType(taskType)
		procedure.Steps = unmarshalStringSlice(steps)
		list = append(list, &procedure)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate procedures")
	}

	return list, nil
}

func (d *DB) DeleteProcedure(ctx context.Context, delete *store.DeleteProcedure) error {
	where, args := []string{}, []any{}

	if v := delete.ID; v != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := delete.TaskType; v != nil {
		where, args = append(where, "task_type = "+placeholder(len(args)+1)), append(args, string(*v))
	}

	if len(where) == 0 {
		return errors.New("refusing to delete procedures without a condition")
	}

	stmt := `DELETE FROM procedure WHERE ` + strings.Join(where, " AND ")
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to delete procedures")
	}

	return nil
}
