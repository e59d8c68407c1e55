package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/recall/store"
)

func (d *DB) CreateSemanticItem(ctx context.Context, create *store.SemanticItem) (*store.SemanticItem, error) {
	fields := []string{
		"uid", "title", "summary", "source_episode_uids", "confidence", "embedding",
	}
	placeholderValues := []any{
		create.UID, create.Title, create.Summary,
		marshalStringSlice(create.SourceEpisodeUIDs), create.Confidence,
		nullableVector(create.Embedding),
	}

	if create.CreatedTs != 0 {
		fields = append(fields, "created_ts")
		placeholderValues = append(placeholderValues, create.CreatedTs)
	}

	stmt := `INSERT INTO semantic_item (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(placeholderValues)) + `)
		RETURNING id, created_ts`

	if err := d.db.QueryRowContext(ctx, stmt, placeholderValues...).Scan(
		&create.ID,
		&create.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create semantic item")
	}

	return create, nil
}

func (d *DB) ListSemanticItems(ctx context.Context, find *store.FindSemanticItem) ([]*store.SemanticItem, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "semantic_item.id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UID; v != nil {
		where, args = append(where, "semantic_item.uid = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.SourceEpisodeUID; v != nil {
		where, args = append(where, "semantic_item.source_episode_uids LIKE "+placeholder(len(args)+1)), append(args, "%\""+*v+"\"%")
	}
	if v := find.Query; v != "" {
		for _, word := range strings.Fields(v) {
			escaped := strings.ReplaceAll(strings.ReplaceAll(word, "%", "\\%"), "_", "\\_")
			pattern := "%" + escaped + "%"
			cond := fmt.Sprintf(
				"(semantic_item.title LIKE %s ESCAPE '\\' OR semantic_item.summary LIKE %s ESCAPE '\\')",
				placeholder(len(args)+1), placeholder(len(args)+2))
			where = append(where, cond)
			args = append(args, pattern, pattern)
		}
	}

	query := `
		SELECT
			id, uid, title, summary, source_episode_uids, confidence, embedding, created_ts
		FROM semantic_item
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY semantic_item.confidence DESC, semantic_item.id DESC`

	if find.Limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, find.Limit)
		if find.Offset > 0 {
			query = fmt.Sprintf("%s OFFSET %d", query, find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query semantic items")
	}
	defer rows.Close()

	list := make([]*store.SemanticItem, 0)
	for rows.Next() {
		item, err := scanSemanticItem(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, item)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate semantic items")
	}

	return list, nil
}

func (d *DB) UpdateSemanticItem(ctx context.Context, update *store.UpdateSemanticItem) error {
	set, args := []string{}, []any{}

	if v := update.Confidence; v != nil {
		set, args = append(set, "confidence = "+placeholder(len(args)+1)), append(args, *v)
	}

	if len(set) == 0 {
		return nil
	}

	args = append(args, update.ID)

	stmt := `UPDATE semantic_item SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args))
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to update semantic item")
	}

	return nil
}

func (d *DB) DeleteSemanticItem(ctx context.Context, delete *store.DeleteSemanticItem) error {
	where, args := []string{}, []any{}

	if v := delete.ID; v != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := delete.UID; v != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *v)
	}

	if len(where) == 0 {
		return errors.New("refusing to delete semantic items without a condition")
	}

	stmt := `DELETE FROM semantic_item WHERE ` + strings.Join(where, " AND ")
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to delete semantic items")
	}

	return nil
}

func scanSemanticItem(rows *sql.Rows) (*store.SemanticItem, error) {
	var item store.SemanticItem
	var sourceUIDs string
	var embedding sql.NullString

	if err := rows.Scan(
		&item.ID,
		&item.UID,
		&item.Title,
		&item.Summary,
		&sourceUIDs,
		&item.Confidence,
		&embedding,
		&item.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan semantic item")
	}

	item.SourceEpisodeUIDs = unmarshalStringSlice(sourceUIDs)
	if embedding.Valid {
		item.Embedding = unmarshalVector(embedding.String)
	}

	return &item, nil
}
