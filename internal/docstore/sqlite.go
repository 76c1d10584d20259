package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteContainer stores documents in an embedded SQLite database.
// Used for local runs and the enrich one-shot command.
type SQLiteContainer struct {
	db     *sql.DB
	pkPath string
}

// NewSQLite opens a SQLite database at the given path and configures
// WAL mode.
func NewSQLite(dsn, pkPath string) (*SQLiteContainer, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	if pkPath == "" {
		pkPath = DefaultPartitionKeyPath
	}
	return &SQLiteContainer{db: db, pkPath: pkPath}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id            TEXT NOT NULL,
	partition_key TEXT NOT NULL DEFAULT '',
	etag          TEXT NOT NULL,
	body          TEXT NOT NULL,
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (id, partition_key)
);

CREATE INDEX IF NOT EXISTS idx_documents_id ON documents (id);
`

// Migrate creates the documents table if missing.
func (s *SQLiteContainer) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

func (s *SQLiteContainer) DeclaredPartitionKeyPath() string { return s.pkPath }

func (s *SQLiteContainer) ReadItem(ctx context.Context, id, pk string) (*Item, error) {
	var (
		raw  string
		etag string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT body, etag FROM documents WHERE id = ? AND partition_key = ?`,
		id, pk).Scan(&raw, &etag)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: read item")
	}

	var body Document
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode item body")
	}
	return &Item{Body: body, ETag: etag}, nil
}

func (s *SQLiteContainer) UpsertItem(ctx context.Context, doc Document, pk string) (*Item, error) {
	id := doc.ID()
	if id == "" {
		return nil, ErrMissingID
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: encode item body")
	}

	etag := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, partition_key, etag, body, updated_at)
		 VALUES (?, ?, ?, ?, datetime('now'))
		 ON CONFLICT (id, partition_key)
		 DO UPDATE SET etag = excluded.etag, body = excluded.body, updated_at = datetime('now')`,
		id, pk, etag, string(raw))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert item")
	}
	return &Item{Body: doc.Clone(), ETag: etag}, nil
}

func (s *SQLiteContainer) ReplaceItem(ctx context.Context, doc Document, pk, etag string) (*Item, error) {
	id := doc.ID()
	if id == "" {
		return nil, ErrMissingID
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: encode item body")
	}

	newETag := uuid.NewString()
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET etag = ?, body = ?, updated_at = datetime('now')
		 WHERE id = ? AND partition_key = ? AND etag = ?`,
		newETag, string(raw), id, pk, etag)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: replace item")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: replace rows affected")
	}
	if affected == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM documents WHERE id = ? AND partition_key = ?`,
			id, pk).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: replace recheck")
		}
		return nil, ErrPreconditionFailed
	}
	return &Item{Body: doc.Clone(), ETag: newETag}, nil
}

func (s *SQLiteContainer) ListIDPrefix(ctx context.Context, prefix string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT body, etag FROM documents WHERE id LIKE ? || '%' ORDER BY id LIMIT ?`,
		prefix, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list by prefix")
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var (
			raw  string
			etag string
		)
		if err := rows.Scan(&raw, &etag); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan item")
		}
		var body Document
		if err := json.Unmarshal([]byte(raw), &body); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode item body")
		}
		out = append(out, Item{Body: body, ETag: etag})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate items")
	}
	return out, nil
}

func (s *SQLiteContainer) DeleteItem(ctx context.Context, id, pk string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE id = ? AND partition_key = ?`, id, pk); err != nil {
		return eris.Wrap(err, "sqlite: delete item")
	}
	return nil
}

func (s *SQLiteContainer) Close() error {
	return s.db.Close()
}
