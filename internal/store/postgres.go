package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/brandbeacon/mentions-pipeline/internal/model"
)

// Pool is the subset of pgxpool.Pool the store needs. Tests substitute a
// pgxmock pool through the same interface.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
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
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS brands (
	slug        TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	aliases     JSONB NOT NULL DEFAULT '[]',
	keywords    JSONB NOT NULL DEFAULT '[]',
	rss_feeds   JSONB NOT NULL DEFAULT '[]',
	competitors JSONB NOT NULL DEFAULT '[]',
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS mentions (
	id         BIGSERIAL PRIMARY KEY,
	slug       TEXT NOT NULL,
	payload    JSONB NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS envelopes (
	id         BIGSERIAL PRIMARY KEY,
	slug       TEXT NOT NULL,
	payload    JSONB NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS batches (
	batch_id   TEXT PRIMARY KEY,
	total      BIGINT NOT NULL,
	remaining  BIGINT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS brand_meta (
	slug       TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS known_brands (
	slug     TEXT PRIMARY KEY,
	added_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_mentions_slug ON mentions(slug);
CREATE INDEX IF NOT EXISTS idx_mentions_expires_at ON mentions(expires_at);
CREATE INDEX IF NOT EXISTS idx_envelopes_slug ON envelopes(slug);
CREATE INDEX IF NOT EXISTS idx_envelopes_expires_at ON envelopes(expires_at);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

func (s *PostgresStore) ListBrands(ctx context.Context) ([]model.TrackedBrand, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, aliases, keywords, rss_feeds, competitors FROM brands ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list brands")
	}
	defer rows.Close()
	var out []model.TrackedBrand
	for rows.Next() {
		var b model.TrackedBrand
		var aliases, keywords, feeds, competitors []byte
		if err := rows.Scan(&b.Name, &aliases, &keywords, &feeds, &competitors); err != nil {
			return nil, eris.Wrap(err, "postgres: scan brand")
		}
		if err := unmarshalLists(&b, aliases, keywords, feeds, competitors); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertBrand(ctx context.Context, b model.TrackedBrand) error {
	if b.Name == "" {
		return eris.New("store: brand name required")
	}
	aliases, keywords, feeds, competitors, err := marshalLists(b)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO brands (slug, name, aliases, keywords, rss_feeds, competitors, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name,
			aliases = EXCLUDED.aliases,
			keywords = EXCLUDED.keywords,
			rss_feeds = EXCLUDED.rss_feeds,
			competitors = EXCLUDED.competitors,
			updated_at = now()`,
		model.Slug(b.Name), b.Name, aliases, keywords, feeds, competitors)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert brand %s", b.Name)
	}
	return nil
}

func (s *PostgresStore) DeleteBrand(ctx context.Context, name string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM brands WHERE slug = $1`, model.Slug(name)); err != nil {
		return eris.Wrapf(err, "postgres: delete brand %s", name)
	}
	return nil
}

func (s *PostgresStore) AppendMentions(ctx context.Context, slug string, payloads [][]byte, ttl time.Duration) error {
	if len(payloads) == 0 {
		return nil
	}
	exp := time.Now().Add(ttl)
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `UPDATE mentions SET expires_at = $1 WHERE slug = $2`, exp, slug); err != nil {
		return eris.Wrap(err, "postgres: refresh mention ttl")
	}
	for _, p := range payloads {
		if _, err := tx.Exec(ctx,
			`INSERT INTO mentions (slug, payload, expires_at) VALUES ($1, $2, $3)`, slug, p, exp); err != nil {
			return eris.Wrap(err, "postgres: insert mention")
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit mentions")
}

func (s *PostgresStore) MentionCount(ctx context.Context, slug string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM mentions WHERE slug = $1 AND expires_at > now()`, slug).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: mention count")
	}
	return n, nil
}

func (s *PostgresStore) PushEnvelopes(ctx context.Context, slug string, payloads [][]byte, ttl time.Duration) error {
	if len(payloads) == 0 {
		return nil
	}
	exp := time.Now().Add(ttl)
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx)
	for _, p := range payloads {
		if _, err := tx.Exec(ctx,
			`INSERT INTO envelopes (slug, payload, expires_at) VALUES ($1, $2, $3)`, slug, p, exp); err != nil {
			return eris.Wrap(err, "postgres: insert envelope")
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit envelopes")
}

func (s *PostgresStore) PopEnvelope(ctx context.Context, slug string) ([]byte, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		DELETE FROM envelopes WHERE id = (
			SELECT id FROM envelopes
			WHERE slug = $1 AND expires_at > now()
			ORDER BY id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		) RETURNING payload`, slug).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: pop envelope")
	}
	return payload, nil
}

func (s *PostgresStore) QueueLength(ctx context.Context, slug string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM envelopes WHERE slug = $1 AND expires_at > now()`, slug).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: queue length")
	}
	return n, nil
}

func (s *PostgresStore) InitBatch(ctx context.Context, batchID string, total int64, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO batches (batch_id, total, remaining, expires_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (batch_id) DO UPDATE SET
			total = EXCLUDED.total,
			remaining = EXCLUDED.remaining,
			expires_at = EXCLUDED.expires_at`,
		batchID, total, total, time.Now().Add(ttl))
	if err != nil {
		return eris.Wrapf(err, "postgres: init batch %s", batchID)
	}
	return nil
}

func (s *PostgresStore) BatchCounters(ctx context.Context, batchID string) (*model.BatchCounters, error) {
	var c model.BatchCounters
	err := s.pool.QueryRow(ctx,
		`SELECT total, remaining FROM batches WHERE batch_id = $1 AND expires_at > now()`,
		batchID).Scan(&c.Total, &c.Remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: batch counters")
	}
	return &c, nil
}

func (s *PostgresStore) DecrementBatchRemaining(ctx context.Context, batchID string) (int64, error) {
	var remaining int64
	err := s.pool.QueryRow(ctx,
		`UPDATE batches SET remaining = remaining - 1 WHERE batch_id = $1 AND expires_at > now() RETURNING remaining`,
		batchID).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrBatchNotFound
	}
	if err != nil {
		return 0, eris.Wrap(err, "postgres: decrement batch")
	}
	return remaining, nil
}

func (s *PostgresStore) RegisterBrand(ctx context.Context, meta model.BrandMeta, ttl time.Duration) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal brand meta")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO brand_meta (slug, data, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (slug) DO UPDATE SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at`,
		meta.Slug, data, time.Now().Add(ttl))
	if err != nil {
		return eris.Wrapf(err, "postgres: register brand %s", meta.Slug)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO known_brands (slug) VALUES ($1) ON CONFLICT (slug) DO NOTHING`, meta.Slug)
	if err != nil {
		return eris.Wrapf(err, "postgres: add known brand %s", meta.Slug)
	}
	return nil
}

func (s *PostgresStore) GetBrandMeta(ctx context.Context, slug string) (*model.BrandMeta, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM brand_meta WHERE slug = $1 AND expires_at > now()`, slug).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get brand meta")
	}
	var meta model.BrandMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal brand meta")
	}
	return &meta, nil
}

func (s *PostgresStore) KnownBrands(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT slug FROM known_brands ORDER BY slug`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: known brands")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, eris.Wrap(err, "postgres: scan slug")
		}
		out = append(out, slug)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PurgeBrand(ctx context.Context, slug string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM mentions WHERE slug = $1`, slug); err != nil {
		return eris.Wrapf(err, "postgres: purge mentions %s", slug)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM brand_meta WHERE slug = $1`, slug); err != nil {
		return eris.Wrapf(err, "postgres: purge meta %s", slug)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM known_brands WHERE slug = $1`, slug); err != nil {
		return eris.Wrapf(err, "postgres: purge known brand %s", slug)
	}
	return nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context) (int, error) {
	total := 0
	for _, table := range []string{"mentions", "envelopes", "batches", "brand_meta"} {
		tag, err := s.pool.Exec(ctx, `DELETE FROM `+table+` WHERE expires_at <= now()`)
		if err != nil {
			return total, eris.Wrapf(err, "postgres: reap %s", table)
		}
		total += int(tag.RowsAffected())
	}
	return total, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
