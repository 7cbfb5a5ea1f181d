package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
)

const (
	documentsTable = "documents"
	blobsTable     = "blobs"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		key        TEXT NOT NULL,
		body       JSONB NOT NULL DEFAULT '{}'::jsonb,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (collection, key)
	)`,
	`CREATE TABLE IF NOT EXISTS blobs (
		id         TEXT PRIMARY KEY,
		data       BYTEA NOT NULL,
		metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Postgres persists documents as JSONB rows keyed by (collection, key).
type Postgres struct {
	db   *sql.DB
	opts options
}

// OpenPostgres connects using the lib/pq driver and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	p := NewPostgres(db, opts...)
	if err := p.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgres wires an existing sql.DB.
func NewPostgres(db *sql.DB, opts ...Option) *Postgres {
	return &Postgres{db: db, opts: buildOptions(opts)}
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func selectDocumentQuery(collection, key string) (string, []any, error) {
	return psql.Select("body").
		From(documentsTable).
		Where(sq.Eq{"collection": collection, "key": key}).
		ToSql()
}

func upsertDocumentQuery(collection, key string, body []byte) (string, []any, error) {
	return psql.Insert(documentsTable).
		Columns("collection", "key", "body", "updated_at").
		Values(collection, key, sq.Expr("?::jsonb", string(body)), sq.Expr("NOW()")).
		Suffix("ON CONFLICT (collection, key) DO UPDATE SET body = documents.body || EXCLUDED.body, updated_at = NOW()").
		ToSql()
}

func (p *Postgres) GetDocument(ctx context.Context, collection, key string) (map[string]any, bool, error) {
	if err := validateKey(collection, key); err != nil {
		return nil, false, err
	}
	query, args, err := selectDocumentQuery(collection, key)
	if err != nil {
		return nil, false, fmt.Errorf("build select: %w", err)
	}
	var raw []byte
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("query document: %w", err)
	}
	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (p *Postgres) UpsertDocument(ctx context.Context, collection, key string, fields map[string]any) error {
	if err := validateKey(collection, key); err != nil {
		return err
	}
	body, err := mergeFields(nil, fields, p.opts.now())
	if err != nil {
		return err
	}
	query, args, err := upsertDocumentQuery(collection, key, body)
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

func (p *Postgres) PutBlob(ctx context.Context, id string, data []byte, metadata map[string]string) error {
	if err := validateKey(blobCollection, id); err != nil {
		return err
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode blob metadata: %w", err)
	}
	query, args, err := upsertBlobQuery(id, data, meta)
	if err != nil {
		return fmt.Errorf("build blob upsert: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert blob: %w", err)
	}
	return nil
}

func upsertBlobQuery(id string, data, meta []byte) (string, []any, error) {
	return psql.Insert(blobsTable).
		Columns("id", "data", "metadata").
		Values(id, data, sq.Expr("?::jsonb", string(meta))).
		Suffix("ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, metadata = EXCLUDED.metadata").
		ToSql()
}

func (p *Postgres) GetBlob(ctx context.Context, id string) (Blob, bool, error) {
	query, args, err := psql.Select("data", "metadata").
		From(blobsTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return Blob{}, false, fmt.Errorf("build blob select: %w", err)
	}
	var (
		data []byte
		meta []byte
	)
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&data, &meta); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Blob{}, false, nil
		}
		return Blob{}, false, fmt.Errorf("query blob: %w", err)
	}
	blob := Blob{ID: id, Data: data}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &blob.Metadata)
	}
	return blob, true, nil
}
