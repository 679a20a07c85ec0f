package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Postgres manages the PostgreSQL connection pool and pgvector operations.
type Postgres struct {
	pool *pgxpool.Pool
}

// New establishes a connection pool to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string, maxConns int) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// initSchema creates the necessary tables and vector extension if they don't exist (Auto-Migration).
// The embedding column is left without a dimension so malformed vectors can be stored and detected.
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS identities (
			key TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			roll_no TEXT NOT NULL DEFAULT '',
			class TEXT NOT NULL DEFAULT '',
			attributes JSONB NOT NULL DEFAULT '{}',
			images TEXT[] NOT NULL DEFAULT '{}',
			enrolled_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS enrollment_images (
			identity_key TEXT NOT NULL,
			slot INT NOT NULL,
			data BYTEA NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (identity_key, slot)
		);
		CREATE TABLE IF NOT EXISTS face_embeddings (
			identity_key TEXT NOT NULL,
			slot INT NOT NULL,
			embedding VECTOR NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (identity_key, slot)
		);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close terminates the database connection pool.
func (s *Postgres) Close(ctx context.Context) {
	s.pool.Close()
}

// ListIdentityKeys returns every key that has metadata or at least one stored embedding.
func (s *Postgres) ListIdentityKeys(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT key FROM identities
		UNION
		SELECT DISTINCT identity_key FROM face_embeddings
		UNION
		SELECT DISTINCT identity_key FROM enrollment_images
		ORDER BY 1
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func scanMeta(row pgx.Row) (types.IdentityMeta, error) {
	var meta types.IdentityMeta
	var attrs []byte
	if err := row.Scan(&meta.Key, &meta.Name, &meta.RollNo, &meta.Class, &attrs, &meta.Images, &meta.EnrolledAt); err != nil {
		return meta, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &meta.Attributes); err != nil {
			return meta, fmt.Errorf("%w: attributes for %s: %v", ErrCorrupt, meta.Key, err)
		}
	}
	return meta, nil
}

const metaColumns = `key, name, roll_no, class, attributes, images, enrolled_at`

// ListMetadata returns all enrolled identities ordered by key.
func (s *Postgres) ListMetadata(ctx context.Context) ([]types.IdentityMeta, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+metaColumns+` FROM identities ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.IdentityMeta
	for rows.Next() {
		meta, err := scanMeta(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, rows.Err()
}

func (s *Postgres) LoadMetadata(ctx context.Context, key string) (types.IdentityMeta, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+metaColumns+` FROM identities WHERE key = $1`, key)
	meta, err := scanMeta(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.IdentityMeta{}, ErrNotFound
	}
	return meta, err
}

// SaveMetadata upserts the consolidated identity record written on the final enrollment slot.
func (s *Postgres) SaveMetadata(ctx context.Context, meta types.IdentityMeta) error {
	attrs, err := json.Marshal(meta.Attributes)
	if err != nil {
		return err
	}
	if meta.Attributes == nil {
		attrs = []byte("{}")
	}
	images := meta.Images
	if images == nil {
		images = []string{}
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO identities (key, name, roll_no, class, attributes, images, enrolled_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (key) DO UPDATE SET
			name = EXCLUDED.name, roll_no = EXCLUDED.roll_no, class = EXCLUDED.class,
			attributes = EXCLUDED.attributes, images = EXCLUDED.images, enrolled_at = NOW()
	`, meta.Key, meta.Name, meta.RollNo, meta.Class, attrs, images)
	return err
}

// UpdateName updates the display name of an enrolled identity.
func (s *Postgres) UpdateName(ctx context.Context, key, name string) error {
	tag, err := s.pool.Exec(ctx, "UPDATE identities SET name = $1 WHERE key = $2", name, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) LoadEmbedding(ctx context.Context, key string, slot int) ([]float32, error) {
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx,
		`SELECT embedding::text FROM face_embeddings WHERE identity_key = $1 AND slot = $2`,
		key, slot).Scan(&vec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: embedding %d for %s: %v", ErrCorrupt, slot, key, err)
	}
	return vec.Slice(), nil
}

// SaveEmbedding overwrites a single slot, leaving the other slots untouched.
func (s *Postgres) SaveEmbedding(ctx context.Context, key string, slot int, vec []float32) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO face_embeddings (identity_key, slot, embedding, updated_at)
		VALUES ($1, $2, $3::vector, NOW())
		ON CONFLICT (identity_key, slot) DO UPDATE SET embedding = EXCLUDED.embedding, updated_at = NOW()
	`, key, slot, pgvector.NewVector(vec))
	return err
}

func (s *Postgres) LoadImage(ctx context.Context, key string, slot int) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM enrollment_images WHERE identity_key = $1 AND slot = $2`, key, slot).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *Postgres) SaveImage(ctx context.Context, key string, slot int, data []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO enrollment_images (identity_key, slot, data, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (identity_key, slot) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`, key, slot, data)
	return err
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Postgres) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS face_embeddings CASCADE;
		DROP TABLE IF EXISTS enrollment_images CASCADE;
		DROP TABLE IF EXISTS identities CASCADE;
	`)
	if err != nil {
		return err
	}
	return initSchema(ctx, s.pool)
}
