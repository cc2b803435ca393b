// Package store owns every piece of durable pipeline state: the brand
// registry, per-brand mention lists, per-brand envelope queues, batch
// counters and the known-brands side channel. All keys are namespaced by
// the deterministic brand slug; TTL-bounded state self-expires so abandoned
// work never leaks.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/brandbeacon/mentions-pipeline/internal/config"
	"github.com/brandbeacon/mentions-pipeline/internal/model"
)

// ErrQueueEmpty is returned by PopEnvelope when a brand's queue is drained.
var ErrQueueEmpty = eris.New("store: queue empty")

// ErrBatchNotFound is returned when a batch's counters are missing or expired.
var ErrBatchNotFound = eris.New("store: batch not found")

// Store is the persistence interface for the mention pipeline. The pipeline
// only ever appends or pushes; reads of batch counters and queue pops belong
// to the external analysis worker, which shares this contract.
type Store interface {
	// Brand registry. The pipeline only calls ListBrands; the write
	// operations exist for the registry's owner (the brands CLI).
	ListBrands(ctx context.Context) ([]model.TrackedBrand, error)
	UpsertBrand(ctx context.Context, b model.TrackedBrand) error
	DeleteBrand(ctx context.Context, name string) error

	// Per-brand mention lists. Every append refreshes the whole list's
	// expiry (sliding TTL).
	AppendMentions(ctx context.Context, slug string, payloads [][]byte, ttl time.Duration) error
	MentionCount(ctx context.Context, slug string) (int, error)

	// Per-brand envelope queues. Push preserves slice order; Pop drains
	// FIFO and returns ErrQueueEmpty once exhausted.
	PushEnvelopes(ctx context.Context, slug string, payloads [][]byte, ttl time.Duration) error
	PopEnvelope(ctx context.Context, slug string) ([]byte, error)
	QueueLength(ctx context.Context, slug string) (int, error)

	// Batch counters. InitBatch writes total and remaining before the first
	// envelope is published. Remaining is decremented only by the consumer.
	InitBatch(ctx context.Context, batchID string, total int64, ttl time.Duration) error
	BatchCounters(ctx context.Context, batchID string) (*model.BatchCounters, error)
	DecrementBatchRemaining(ctx context.Context, batchID string) (int64, error)

	// Brand side channel: slug set plus metadata record, independent of
	// mention data.
	RegisterBrand(ctx context.Context, meta model.BrandMeta, ttl time.Duration) error
	GetBrandMeta(ctx context.Context, slug string) (*model.BrandMeta, error)
	KnownBrands(ctx context.Context) ([]string, error)

	// PurgeBrand removes the mention list, the metadata record and the slug
	// from the known set, in that order. Not atomic; safe to retry.
	PurgeBrand(ctx context.Context, slug string) error

	// DeleteExpired reaps rows past their expiry. Backends with native TTL
	// report zero.
	DeleteExpired(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open constructs the configured backend.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite", "":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
