// Package queue persists normalized mentions and distributes them to the
// downstream analysis worker as batched task envelopes on per-brand queues.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brandbeacon/mentions-pipeline/internal/config"
	"github.com/brandbeacon/mentions-pipeline/internal/model"
	"github.com/brandbeacon/mentions-pipeline/internal/resilience"
	"github.com/brandbeacon/mentions-pipeline/internal/store"
)

// Writer persists mentions and publishes batched envelopes for one brand at
// a time. All store writes go through the retry executor; an exhausted
// retry budget fails the brand's distribution.
type Writer struct {
	store store.Store
	cfg   config.Config
	log   *zap.Logger
	retry resilience.RetryConfig
}

// Result summarises one brand's distribution.
type Result struct {
	BatchID   string
	Envelopes int
	Mentions  int
}

// NewWriter constructs a Writer.
func NewWriter(s store.Store, cfg config.Config, log *zap.Logger) *Writer {
	return &Writer{
		store: s,
		cfg:   cfg,
		log:   log,
		retry: resilience.RetryConfig{
			MaxRetries: cfg.Retry.MaxRetries,
			Backoff:    cfg.Retry.Backoff(),
			OnRetry:    resilience.RetryLogger("queue", "store write"),
		},
	}
}

// Distribute persists the brand's mentions, then chunks them into task
// envelopes and publishes the whole batch FIFO onto the brand's queue.
// Zero mentions is a successful no-op apart from side-channel registration,
// so downstream always learns the brand exists even in a quiet cycle.
func (w *Writer) Distribute(ctx context.Context, brand model.TrackedBrand, mentions []model.NormalizedMention) (*Result, error) {
	slug := model.Slug(brand.Name)

	if err := w.registerBrand(ctx, slug, brand); err != nil {
		return nil, err
	}

	if len(mentions) == 0 {
		w.log.Debug("no mentions to distribute", zap.String("brand", slug))
		return &Result{}, nil
	}

	if err := w.persistMentions(ctx, slug, mentions); err != nil {
		return nil, err
	}

	chunks := chunkMentions(mentions, w.cfg.Pipeline.ChunkSize)
	batchID := uuid.NewString()

	// Counters must exist before the first envelope is visible, so a fast
	// consumer can never observe an envelope without its batch.
	err := resilience.Do(ctx, w.retry, func(ctx context.Context) error {
		return w.store.InitBatch(ctx, batchID, int64(len(chunks)), w.cfg.TTL.Batch())
	})
	if err != nil {
		return nil, eris.Wrapf(err, "queue: init batch for %s", slug)
	}

	payloads := make([][]byte, 0, len(chunks))
	now := time.Now().UnixMilli()
	for i, chunk := range chunks {
		env := model.Envelope{
			EnvelopeID:    envelopeID(slug, now, i),
			BatchID:       batchID,
			SecureContext: model.SecureContext{OrgID: w.cfg.Pipeline.OrgID},
			Task: model.Task{
				Type:     model.TaskTypeClusterMentions,
				Brand:    brand.Name,
				Mentions: chunk,
				Keywords: brand.Keywords,
			},
		}
		data, err := json.Marshal(env)
		if err != nil {
			return nil, eris.Wrapf(err, "queue: marshal envelope for %s", slug)
		}
		payloads = append(payloads, data)
	}

	err = resilience.Do(ctx, w.retry, func(ctx context.Context) error {
		return w.store.PushEnvelopes(ctx, slug, payloads, w.cfg.TTL.Queue())
	})
	if err != nil {
		return nil, eris.Wrapf(err, "queue: push envelopes for %s", slug)
	}

	w.log.Info("distributed batch",
		zap.String("brand", slug),
		zap.String("batch_id", batchID),
		zap.Int("mentions", len(mentions)),
		zap.Int("envelopes", len(chunks)))
	return &Result{BatchID: batchID, Envelopes: len(chunks), Mentions: len(mentions)}, nil
}

// PurgeBrandData removes a brand's mention list, metadata record and slug
// membership, in that order. Each step retries independently so a partial
// failure can be re-run safely.
func (w *Writer) PurgeBrandData(ctx context.Context, brandName string) error {
	slug := model.Slug(brandName)
	err := resilience.Do(ctx, w.retry, func(ctx context.Context) error {
		return w.store.PurgeBrand(ctx, slug)
	})
	if err != nil {
		return eris.Wrapf(err, "queue: purge %s", slug)
	}
	w.log.Info("purged brand data", zap.String("brand", slug))
	return nil
}

func (w *Writer) registerBrand(ctx context.Context, slug string, brand model.TrackedBrand) error {
	meta := model.BrandMeta{
		Slug:      slug,
		Name:      brand.Name,
		Aliases:   brand.Aliases,
		Keywords:  brand.Keywords,
		RSSFeeds:  brand.RSSFeeds,
		UpdatedAt: time.Now().UnixMilli(),
	}
	err := resilience.Do(ctx, w.retry, func(ctx context.Context) error {
		return w.store.RegisterBrand(ctx, meta, w.cfg.TTL.BrandMeta())
	})
	if err != nil {
		return eris.Wrapf(err, "queue: register brand %s", slug)
	}
	return nil
}

func (w *Writer) persistMentions(ctx context.Context, slug string, mentions []model.NormalizedMention) error {
	payloads := make([][]byte, 0, len(mentions))
	for _, m := range mentions {
		data, err := json.Marshal(m)
		if err != nil {
			return eris.Wrapf(err, "queue: marshal mention %s", m.ID)
		}
		payloads = append(payloads, data)
	}
	err := resilience.Do(ctx, w.retry, func(ctx context.Context) error {
		return w.store.AppendMentions(ctx, slug, payloads, w.cfg.TTL.Mention())
	})
	if err != nil {
		return eris.Wrapf(err, "queue: append mentions for %s", slug)
	}
	return nil
}

// chunkMentions splits mentions into ceil(len/size) chunks preserving
// order. A non-positive size collapses to a single chunk.
func chunkMentions(mentions []model.NormalizedMention, size int) [][]model.NormalizedMention {
	if len(mentions) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(mentions)
	}
	var chunks [][]model.NormalizedMention
	for start := 0; start < len(mentions); start += size {
		end := start + size
		if end > len(mentions) {
			end = len(mentions)
		}
		chunks = append(chunks, mentions[start:end])
	}
	return chunks
}

func envelopeID(slug string, nowMs int64, ordinal int) string {
	return fmt.Sprintf("%s-%d-%d-%s", slug, nowMs, ordinal, uuid.NewString()[:8])
}
