package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/tabarnam/enrich-cli/internal/db"
	"github.com/tabarnam/enrich-cli/internal/resilience"
)

// PostgresContainer stores documents in a single jsonb table keyed by
// (id, partition_key). Point reads require the matching partition key,
// mirroring a partitioned document database.
type PostgresContainer struct {
	pool    db.Pool
	pkPath  string
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id            TEXT NOT NULL,
	partition_key TEXT NOT NULL DEFAULT '',
	etag          TEXT NOT NULL,
	body          JSONB NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (id, partition_key)
);

CREATE INDEX IF NOT EXISTS idx_documents_id ON documents (id);
`

// NewPostgres creates a PostgresContainer with a connection pool.
func NewPostgres(ctx context.Context, connString, pkPath string, poolCfg *PoolConfig) (*PostgresContainer, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	if pkPath == "" {
		pkPath = DefaultPartitionKeyPath
	}
	return &PostgresContainer{pool: pool, pkPath: pkPath, closeFn: pool.Close}, nil
}

// newPostgresWithPool is used by tests to inject a mock pool.
func newPostgresWithPool(pool db.Pool, pkPath string) *PostgresContainer {
	if pkPath == "" {
		pkPath = DefaultPartitionKeyPath
	}
	return &PostgresContainer{pool: pool, pkPath: pkPath}
}

// Migrate creates the documents table if missing.
func (p *PostgresContainer) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

func (p *PostgresContainer) DeclaredPartitionKeyPath() string { return p.pkPath }

func (p *PostgresContainer) ReadItem(ctx context.Context, id, pk string) (*Item, error) {
	var (
		raw  []byte
		etag string
	)
	err := p.pool.QueryRow(ctx,
		`SELECT body, etag FROM documents WHERE id = $1 AND partition_key = $2`,
		id, pk).Scan(&raw, &etag)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyPgError(err, "postgres: read item")
	}

	var body Document
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, eris.Wrap(err, "postgres: decode item body")
	}
	return &Item{Body: body, ETag: etag}, nil
}

func (p *PostgresContainer) UpsertItem(ctx context.Context, doc Document, pk string) (*Item, error) {
	id := doc.ID()
	if id == "" {
		return nil, ErrMissingID
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: encode item body")
	}

	etag := uuid.NewString()
	_, err = p.pool.Exec(ctx,
		`INSERT INTO documents (id, partition_key, etag, body, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (id, partition_key)
		 DO UPDATE SET etag = EXCLUDED.etag, body = EXCLUDED.body, updated_at = now()`,
		id, pk, etag, raw)
	if err != nil {
		return nil, classifyPgError(err, "postgres: upsert item")
	}
	return &Item{Body: doc.Clone(), ETag: etag}, nil
}

func (p *PostgresContainer) ReplaceItem(ctx context.Context, doc Document, pk, etag string) (*Item, error) {
	id := doc.ID()
	if id == "" {
		return nil, ErrMissingID
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: encode item body")
	}

	newETag := uuid.NewString()
	tag, err := p.pool.Exec(ctx,
		`UPDATE documents SET etag = $1, body = $2, updated_at = now()
		 WHERE id = $3 AND partition_key = $4 AND etag = $5`,
		newETag, raw, id, pk, etag)
	if err != nil {
		return nil, classifyPgError(err, "postgres: replace item")
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a vanished row from a lost etag race.
		var exists bool
		err := p.pool.QueryRow(ctx,
			`SELECT true FROM documents WHERE id = $1 AND partition_key = $2`,
			id, pk).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, classifyPgError(err, "postgres: replace recheck")
		}
		return nil, ErrPreconditionFailed
	}
	return &Item{Body: doc.Clone(), ETag: newETag}, nil
}

func (p *PostgresContainer) ListIDPrefix(ctx context.Context, prefix string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx,
		`SELECT body, etag FROM documents WHERE id LIKE $1 || '%' ORDER BY id LIMIT $2`,
		prefix, limit)
	if err != nil {
		return nil, classifyPgError(err, "postgres: list by prefix")
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var (
			raw  []byte
			etag string
		)
		if err := rows.Scan(&raw, &etag); err != nil {
			return nil, eris.Wrap(err, "postgres: scan item")
		}
		var body Document
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, eris.Wrap(err, "postgres: decode item body")
		}
		out = append(out, Item{Body: body, ETag: etag})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate items")
	}
	return out, nil
}

func (p *PostgresContainer) DeleteItem(ctx context.Context, id, pk string) error {
	if _, err := p.pool.Exec(ctx,
		`DELETE FROM documents WHERE id = $1 AND partition_key = $2`, id, pk); err != nil {
		return classifyPgError(err, "postgres: delete item")
	}
	return nil
}

func (p *PostgresContainer) Close() error {
	if p.closeFn != nil {
		p.closeFn()
	}
	return nil
}

// classifyPgError wraps backend failures, tagging the retryable ones
// so the client's transient-retry loop can recognize them.
func classifyPgError(err error, msg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 53xx = insufficient resources, 57P03 = cannot connect now,
		// 40001/40P01 = serialization/deadlock.
		switch pgErr.Code {
		case "53300", "53400", "57P03", "40001", "40P01":
			return eris.Wrap(&resilience.TransientError{Err: err}, msg)
		}
	}
	if resilience.IsTransient(err) {
		return eris.Wrap(&resilience.TransientError{Err: err}, msg)
	}
	return eris.Wrap(err, msg)
}
