package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/brandbeacon/mentions-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
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
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS brands (
	slug        TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	aliases     TEXT NOT NULL DEFAULT '[]',
	keywords    TEXT NOT NULL DEFAULT '[]',
	rss_feeds   TEXT NOT NULL DEFAULT '[]',
	competitors TEXT NOT NULL DEFAULT '[]',
	updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS mentions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	slug       TEXT NOT NULL,
	payload    BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mentions_slug ON mentions(slug);

CREATE TABLE IF NOT EXISTS envelopes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	slug       TEXT NOT NULL,
	payload    BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_envelopes_slug ON envelopes(slug);

CREATE TABLE IF NOT EXISTS batches (
	batch_id   TEXT PRIMARY KEY,
	total      INTEGER NOT NULL,
	remaining  INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS brand_meta (
	slug       TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS known_brands (
	slug     TEXT PRIMARY KEY,
	added_at INTEGER NOT NULL
);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

func (s *SQLiteStore) ListBrands(ctx context.Context) ([]model.TrackedBrand, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, aliases, keywords, rss_feeds, competitors FROM brands ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list brands")
	}
	defer rows.Close()
	var out []model.TrackedBrand
	for rows.Next() {
		var b model.TrackedBrand
		var aliases, keywords, feeds, competitors []byte
		if err := rows.Scan(&b.Name, &aliases, &keywords, &feeds, &competitors); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan brand")
		}
		if err := unmarshalLists(&b, aliases, keywords, feeds, competitors); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertBrand(ctx context.Context, b model.TrackedBrand) error {
	if b.Name == "" {
		return eris.New("store: brand name required")
	}
	aliases, keywords, feeds, competitors, err := marshalLists(b)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO brands (slug, name, aliases, keywords, rss_feeds, competitors, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			name = excluded.name,
			aliases = excluded.aliases,
			keywords = excluded.keywords,
			rss_feeds = excluded.rss_feeds,
			competitors = excluded.competitors,
			updated_at = excluded.updated_at`,
		model.Slug(b.Name), b.Name, aliases, keywords, feeds, competitors, time.Now().UnixMilli())
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert brand %s", b.Name)
	}
	return nil
}

func (s *SQLiteStore) DeleteBrand(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM brands WHERE slug = ?`, model.Slug(name)); err != nil {
		return eris.Wrapf(err, "sqlite: delete brand %s", name)
	}
	return nil
}

func (s *SQLiteStore) AppendMentions(ctx context.Context, slug string, payloads [][]byte, ttl time.Duration) error {
	if len(payloads) == 0 {
		return nil
	}
	exp := time.Now().Add(ttl).UnixMilli()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()
	// Sliding TTL: the whole list moves with the newest append.
	if _, err := tx.ExecContext(ctx, `UPDATE mentions SET expires_at = ? WHERE slug = ?`, exp, slug); err != nil {
		return eris.Wrap(err, "sqlite: refresh mention ttl")
	}
	for _, p := range payloads {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO mentions (slug, payload, expires_at) VALUES (?, ?, ?)`, slug, p, exp); err != nil {
			return eris.Wrap(err, "sqlite: insert mention")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit mentions")
}

func (s *SQLiteStore) MentionCount(ctx context.Context, slug string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mentions WHERE slug = ? AND expires_at > ?`,
		slug, time.Now().UnixMilli()).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: mention count")
	}
	return n, nil
}

func (s *SQLiteStore) PushEnvelopes(ctx context.Context, slug string, payloads [][]byte, ttl time.Duration) error {
	if len(payloads) == 0 {
		return nil
	}
	exp := time.Now().Add(ttl).UnixMilli()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()
	for _, p := range payloads {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO envelopes (slug, payload, expires_at) VALUES (?, ?, ?)`, slug, p, exp); err != nil {
			return eris.Wrap(err, "sqlite: insert envelope")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit envelopes")
}

func (s *SQLiteStore) PopEnvelope(ctx context.Context, slug string) ([]byte, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()
	var id int64
	var payload []byte
	err = tx.QueryRowContext(ctx,
		`SELECT id, payload FROM envelopes WHERE slug = ? AND expires_at > ? ORDER BY id LIMIT 1`,
		slug, time.Now().UnixMilli()).Scan(&id, &payload)
	if err == sql.ErrNoRows {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: pop envelope")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM envelopes WHERE id = ?`, id); err != nil {
		return nil, eris.Wrap(err, "sqlite: delete envelope")
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit pop")
	}
	return payload, nil
}

func (s *SQLiteStore) QueueLength(ctx context.Context, slug string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM envelopes WHERE slug = ? AND expires_at > ?`,
		slug, time.Now().UnixMilli()).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: queue length")
	}
	return n, nil
}

func (s *SQLiteStore) InitBatch(ctx context.Context, batchID string, total int64, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (batch_id, total, remaining, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(batch_id) DO UPDATE SET
			total = excluded.total,
			remaining = excluded.remaining,
			expires_at = excluded.expires_at`,
		batchID, total, total, time.Now().Add(ttl).UnixMilli())
	if err != nil {
		return eris.Wrapf(err, "sqlite: init batch %s", batchID)
	}
	return nil
}

func (s *SQLiteStore) BatchCounters(ctx context.Context, batchID string) (*model.BatchCounters, error) {
	var c model.BatchCounters
	err := s.db.QueryRowContext(ctx,
		`SELECT total, remaining FROM batches WHERE batch_id = ? AND expires_at > ?`,
		batchID, time.Now().UnixMilli()).Scan(&c.Total, &c.Remaining)
	if err == sql.ErrNoRows {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: batch counters")
	}
	return &c, nil
}

func (s *SQLiteStore) DecrementBatchRemaining(ctx context.Context, batchID string) (int64, error) {
	var remaining int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE batches SET remaining = remaining - 1 WHERE batch_id = ? AND expires_at > ? RETURNING remaining`,
		batchID, time.Now().UnixMilli()).Scan(&remaining)
	if err == sql.ErrNoRows {
		return 0, ErrBatchNotFound
	}
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: decrement batch")
	}
	return remaining, nil
}

func (s *SQLiteStore) RegisterBrand(ctx context.Context, meta model.BrandMeta, ttl time.Duration) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal brand meta")
	}
	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO brand_meta (slug, data, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at`,
		meta.Slug, data, now.Add(ttl).UnixMilli())
	if err != nil {
		return eris.Wrapf(err, "sqlite: register brand %s", meta.Slug)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO known_brands (slug, added_at) VALUES (?, ?) ON CONFLICT(slug) DO NOTHING`,
		meta.Slug, now.UnixMilli())
	if err != nil {
		return eris.Wrapf(err, "sqlite: add known brand %s", meta.Slug)
	}
	return nil
}

func (s *SQLiteStore) GetBrandMeta(ctx context.Context, slug string) (*model.BrandMeta, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM brand_meta WHERE slug = ? AND expires_at > ?`,
		slug, time.Now().UnixMilli()).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get brand meta")
	}
	var meta model.BrandMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal brand meta")
	}
	return &meta, nil
}

func (s *SQLiteStore) KnownBrands(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slug FROM known_brands ORDER BY slug`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: known brands")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan slug")
		}
		out = append(out, slug)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PurgeBrand(ctx context.Context, slug string) error {
	// Ordered, not atomic: a retry after partial failure re-deletes cheaply.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM mentions WHERE slug = ?`, slug); err != nil {
		return eris.Wrapf(err, "sqlite: purge mentions %s", slug)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM brand_meta WHERE slug = ?`, slug); err != nil {
		return eris.Wrapf(err, "sqlite: purge meta %s", slug)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM known_brands WHERE slug = ?`, slug); err != nil {
		return eris.Wrapf(err, "sqlite: purge known brand %s", slug)
	}
	return nil
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int, error) {
	now := time.Now().UnixMilli()
	total := 0
	for _, table := range []string{"mentions", "envelopes", "batches", "brand_meta"} {
		res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE expires_at <= ?`, now)
		if err != nil {
			return total, eris.Wrapf(err, "sqlite: reap %s", table)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func marshalLists(b model.TrackedBrand) (aliases, keywords, feeds, competitors []byte, err error) {
	for _, pair := range []struct {
		dst *[]byte
		src []string
	}{
		{&aliases, b.Aliases},
		{&keywords, b.Keywords},
		{&feeds, b.RSSFeeds},
		{&competitors, b.Competitors},
	} {
		if pair.src == nil {
			pair.src = []string{}
		}
		*pair.dst, err = json.Marshal(pair.src)
		if err != nil {
			return nil, nil, nil, nil, eris.Wrap(err, "store: marshal brand lists")
		}
	}
	return aliases, keywords, feeds, competitors, nil
}

func unmarshalLists(b *model.TrackedBrand, aliases, keywords, feeds, competitors []byte) error {
	for _, pair := range []struct {
		dst *[]string
		src []byte
	}{
		{&b.Aliases, aliases},
		{&b.Keywords, keywords},
		{&b.RSSFeeds, feeds},
		{&b.Competitors, competitors},
	} {
		if len(pair.src) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.src, pair.dst); err != nil {
			return eris.Wrap(err, "store: unmarshal brand lists")
		}
		if len(*pair.dst) == 0 {
			*pair.dst = nil
		}
	}
	return nil
}
