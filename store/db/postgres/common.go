package postgres

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"
)

// placeholder returns a numbered placeholder for PostgreSQL (uses $1, $2, ...)
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns n placeholders for PostgreSQL
func placeholders(n int) string {
	list := []string{}
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}

// nullableVector maps an empty embedding to NULL, otherwise to a pgvector
// value.
func nullableVector(vector []float32) any {
	if len(vector) == 0 {
		return nil
	}
	return pgvector.NewVector(vector)
}

// scanVector decodes a nullable pgvector column.
func scanVector(raw sql.NullString) []float32 {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var v pgvector.Vector
	if err := v.Scan(raw.String); err != nil {
		return nil
	}
	return v.Slice()
}
