package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/recall/store"
)

func (d *DB) CreateCheckpoint(ctx context.Context, create *store.Checkpoint) (*store.Checkpoint, error) {
	fields := []string{"uid", "snapshot_ref"}
	placeholderValues := []any{create.UID, create.SnapshotRef}

	if create.CreatedTs != 0 {
		fields = append(fields, "created_ts")
		placeholderValues = append(placeholderValues, create.CreatedTs)
	}

	stmt := `INSERT INTO checkpoint (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(placeholderValues)) + `)
		RETURNING id, created_ts`

	if err := d.db.QueryRowContext(ctx, stmt, placeholderValues...).Scan(
		&create.ID,
		&create.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create checkpoint")
	}

	return create, nil
}

func (d *DB) ListCheckpoints(ctx context.Context, find *store.FindCheckpoint) ([]*store.Checkpoint, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "checkpoint.id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UID; v != nil {
		where, args = append(where, "checkpoint.uid = "+placeholder(len(args)+1)), append(args, *v)
	}

	query := `
		SELECT id, uid, created_ts, snapshot_ref
		FROM checkpoint
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY checkpoint.created_ts DESC, checkpoint.id DESC`

	if find.Limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query checkpoints")
	}
	defer rows.Close()

	list := make([]*store.Checkpoint, 0)
	for rows.Next() {
		var checkpoint store.Checkpoint
		if err := rows.Scan(
			&checkpoint.ID,
			&checkpoint.UID,
			&checkpoint.CreatedTs,
			&checkpoint.SnapshotRef,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan checkpoint")
		}
		list = append(list, &checkpoint)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate checkpoints")
	}

	return list, nil
}

func (d *DB) DeleteCheckpoint(ctx context.Context, delete *store.DeleteCheckpoint) error {
	where, args := []string{}, []any{}

	if v := delete.ID; v != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := delete.UID; v != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *v)
	}

	if len(where) == 0 {
		return errors.New("refusing to delete checkpoints without a condition")
	}

	stmt := `DELETE FROM checkpoint WHERE ` + strings.Join(where, " AND ")
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to delete checkpoints")
	}

	return nil
}
