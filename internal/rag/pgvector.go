package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/54b3r/docchat-go/internal/errs"
	"github.com/54b3r/docchat-go/internal/logging"
)

// validTable restricts table names to plain identifiers since they are
// interpolated into DDL.
var validTable = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// PgvectorConfig holds connection parameters for a Postgres/pgvector index.
type PgvectorConfig struct {
	// DSN is a libpq connection string or postgres:// URL.
	DSN string

	// Table is the table holding the records (default: docchat_chunks).
	Table string

	// Dimensions is the declared length of the vector column.
	Dimensions int
}

// PgvectorIndex implements VectorIndex on a Postgres table with a pgvector
// column, scored by cosine distance.
type PgvectorIndex struct {
	pool *pgxpool.Pool
	cfg  *PgvectorConfig
}

// NewPgvectorIndex connects to Postgres and migrates the extension, table
// and HNSW cosine index.
func NewPgvectorIndex(ctx context.Context, cfg *PgvectorConfig) (*PgvectorIndex, error) {
	if cfg.Table == "" {
		cfg.Table = "docchat_chunks"
	}
	if !validTable.MatchString(cfg.Table) {
		return nil, fmt.Errorf("pgvector: invalid table name %q", cfg.Table)
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("pgvector: dimensions must be positive")
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgvector: parse dsn: %w", err)
	}

	idx := &PgvectorIndex{pool: pool, cfg: cfg}
	if err := idx.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

// pgvectorSchema returns the DDL for table. HNSW needs no training rows, so
// the index is valid from the first insert.
func pgvectorSchema(table string, dims int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id        TEXT PRIMARY KEY,
			text      TEXT NOT NULL,
			source    TEXT NOT NULL DEFAULT '',
			metadata  JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding vector(%d) NOT NULL
		)`, table, dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_hnsw_idx ON %s
			USING hnsw (embedding vector_cosine_ops)`, table, table),
	}
}

// migrate creates the schema if it does not exist.
func (p *PgvectorIndex) migrate(ctx context.Context) error {
	stmts := pgvectorSchema(p.cfg.Table, p.cfg.Dimensions)
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return classifyPg("pgvector migrate", err)
		}
	}
	logging.FromContext(ctx).Debug("pgvector: schema ready", slog.String("table", p.cfg.Table))
	return nil
}

// Upsert inserts or overwrites each record inside one transaction.
func (p *PgvectorIndex) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return classifyPg("pgvector begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	stmt := fmt.Sprintf(`INSERT INTO %s (id, text, source, metadata, embedding)
		VALUES ($1, $2, $3, $4::jsonb, $5::vector)
		ON CONFLICT (id) DO UPDATE SET
			text = EXCLUDED.text,
			source = EXCLUDED.source,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding`, p.cfg.Table)

	for _, r := range records {
		extra := r.Metadata.Extra
		if extra == nil {
			extra = map[string]string{}
		}
		meta, err := json.Marshal(extra)
		if err != nil {
			return fmt.Errorf("pgvector: encode metadata for %s: %w", r.ID, err)
		}
		vec := pgvector.NewVector(r.Vector)
		if _, err := tx.Exec(ctx, stmt, r.ID, r.Metadata.Text, r.Metadata.Source, string(meta), vec.String()); err != nil {
			return classifyPg("pgvector upsert", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyPg("pgvector commit", err)
	}
	return nil
}

// Query orders rows by cosine distance and reports 1 - distance as the score.
func (p *PgvectorIndex) Query(ctx context.Context, vector []float32, topK int, includeMetadata bool) ([]Match, error) {
	if topK <= 0 {
		return []Match{}, nil
	}

	q := fmt.Sprintf(`SELECT id, text, source, metadata::text, 1 - (embedding <=> $1::vector) AS score
		FROM %s ORDER BY embedding <=> $1::vector LIMIT $2`, p.cfg.Table)
	rows, err := p.pool.Query(ctx, q, pgvector.NewVector(vector).String(), topK)
	if err != nil {
		return nil, classifyPg("pgvector query", err)
	}
	defer rows.Close()

	matches := make([]Match, 0, topK)
	for rows.Next() {
		var (
			id, text, source, meta string
			score                  float64
		)
		if err := rows.Scan(&id, &text, &source, &meta, &score); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		m := Match{ID: id, Score: float32(score)}
		if includeMetadata {
			m.Metadata = Metadata{Text: text, Source: source}
			extra := map[string]string{}
			if err := json.Unmarshal([]byte(meta), &extra); err != nil {
				return nil, fmt.Errorf("pgvector: decode metadata for %s: %w", id, err)
			}
			if len(extra) > 0 {
				m.Metadata.Extra = extra
			}
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPg("pgvector query", err)
	}
	return matches, nil
}

// Ping checks Postgres connectivity.
func (p *PgvectorIndex) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return classifyPg("pgvector ping", err)
	}
	return nil
}

// Close closes the connection pool.
func (p *PgvectorIndex) Close() error {
	p.pool.Close()
	return nil
}

// classifyPg tags connectivity, timeout and authentication failures as
// errs.ErrIndexUnavailable.
func classifyPg(op string, err error) error {
	var (
		connErr *pgconn.ConnectError
		pgErr   *pgconn.PgError
		netErr  net.Error
	)
	switch {
	case errors.As(err, &connErr), errors.As(err, &netErr), pgconn.Timeout(err),
		errors.Is(err, context.DeadlineExceeded):
		return errs.Wrap(errs.ErrIndexUnavailable, op, err)
	case errors.As(err, &pgErr) && (pgErr.Code == "28P01" || pgErr.Code == "28000"):
		return errs.Wrap(errs.ErrIndexUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
