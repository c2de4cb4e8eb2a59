// Package bookkeeping records which vector ids exist so a repository's vectors can be
// enumerated and deleted. The vector index itself cannot list by namespace.
package bookkeeping

import (
	"context"
	"database/sql"
	"strings"

	"issuedigger/internal/vector"
)

const DefaultPageSize = 100

type PostgresRepo struct {
	db       *sql.DB
	pageSize int
}

func NewPostgresRepo(db *sql.DB, pageSize int) *PostgresRepo {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &PostgresRepo{db: db, pageSize: pageSize}
}

func (r *PostgresRepo) Put(ctx context.Context, key string) error {
	query := `INSERT INTO vector_keys (key) VALUES ($1) ON CONFLICT (key) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query, key)
	return err
}

func (r *PostgresRepo) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM vector_keys WHERE key = $1`
	_, err := r.db.ExecContext(ctx, query, key)
	return err
}

// List returns keys starting with prefix in key order, resuming after cursor. The cursor
// is the last key of the previous page, so keys added or removed between pages neither
// repeat nor shift the listing.
func (r *PostgresRepo) List(ctx context.Context, prefix, cursor string) (vector.KeyPage, error) {
	query := `SELECT key FROM vector_keys WHERE key LIKE $1 ESCAPE '\' AND key > $2 ORDER BY key LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, escapeLike(prefix)+"%", cursor, r.pageSize+1)
	if err != nil {
		return vector.KeyPage{}, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return vector.KeyPage{}, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return vector.KeyPage{}, err
	}

	if len(keys) <= r.pageSize {
		return vector.KeyPage{Keys: keys, Complete: true}, nil
	}
	keys = keys[:r.pageSize]
	return vector.KeyPage{Keys: keys, Cursor: keys[len(keys)-1]}, nil
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM vector_keys`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
