// Package orchestrator runs ingestion cycles: it fans adapters out across
// tracked brands, merges and dedupes what comes back, and hands the result
// to the queue writer.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brandbeacon/mentions-pipeline/internal/config"
	"github.com/brandbeacon/mentions-pipeline/internal/model"
	"github.com/brandbeacon/mentions-pipeline/internal/monitoring"
	"github.com/brandbeacon/mentions-pipeline/internal/queue"
	"github.com/brandbeacon/mentions-pipeline/internal/source"
	"github.com/brandbeacon/mentions-pipeline/internal/store"
	"github.com/brandbeacon/mentions-pipeline/internal/validate"
)

// Status is a point-in-time view of the orchestrator.
type Status struct {
	Running     bool      `json:"running"`
	LastTrigger string    `json:"last_trigger,omitempty"`
	LastStart   time.Time `json:"last_start,omitempty"`
	LastEnd     time.Time `json:"last_end,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	Brands      int       `json:"brands"`
	Mentions    int       `json:"mentions"`
	DurationMs  int64     `json:"duration_ms"`
}

// Orchestrator coordinates one ingestion cycle at a time.
type Orchestrator struct {
	registry *source.Registry
	writer   *queue.Writer
	store    store.Store
	cfg      config.Config
	log      *zap.Logger
	metrics  *monitoring.Metrics

	running atomic.Bool
	mu      sync.Mutex
	last    Status
}

// New constructs an Orchestrator. metrics may be nil.
func New(reg *source.Registry, w *queue.Writer, s store.Store, cfg config.Config, log *zap.Logger, m *monitoring.Metrics) *Orchestrator {
	return &Orchestrator{registry: reg, writer: w, store: s, cfg: cfg, log: log, metrics: m}
}

// TriggerManualRun starts a cycle in the background unless one is already
// in flight. The boolean reports whether this call started it.
func (o *Orchestrator) TriggerManualRun(ctx context.Context) bool {
	if !o.running.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer o.running.Store(false)
		o.runLocked(ctx, "manual")
	}()
	return true
}

// RunCycle runs one full cycle synchronously. It returns an error if a
// cycle is already running, or the cycle's own error.
func (o *Orchestrator) RunCycle(ctx context.Context, trigger string) error {
	if !o.running.CompareAndSwap(false, true) {
		return eris.New("orchestrator: cycle already running")
	}
	defer o.running.Store(false)
	return o.runLocked(ctx, trigger)
}

// Status returns the last cycle's summary plus the live running flag.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.last
	st.Running = o.running.Load()
	return st
}

func (o *Orchestrator) runLocked(ctx context.Context, trigger string) error {
	start := time.Now()
	o.mu.Lock()
	o.last = Status{LastTrigger: trigger, LastStart: start}
	o.mu.Unlock()

	brands, mentions, err := o.cycle(ctx)

	d := time.Since(start)
	if o.metrics != nil {
		o.metrics.ObserveCycle(d, err)
	}

	o.mu.Lock()
	o.last.LastEnd = time.Now()
	o.last.Brands = brands
	o.last.Mentions = mentions
	o.last.DurationMs = d.Milliseconds()
	if err != nil {
		o.last.LastError = err.Error()
	}
	o.mu.Unlock()

	if err != nil {
		o.log.Error("ingestion cycle failed",
			zap.String("trigger", trigger), zap.Duration("duration", d), zap.Error(err))
		return err
	}
	o.log.Info("ingestion cycle complete",
		zap.String("trigger", trigger),
		zap.Int("brands", brands),
		zap.Int("mentions", mentions),
		zap.Duration("duration", d))
	return nil
}

func (o *Orchestrator) cycle(ctx context.Context) (brands, mentions int, err error) {
	tracked, err := o.store.ListBrands(ctx)
	if err != nil {
		return 0, 0, eris.Wrap(err, "orchestrator: load brands")
	}
	if len(tracked) == 0 {
		o.log.Warn("no tracked brands, nothing to ingest")
		return 0, 0, nil
	}

	// Brands run concurrently too; their store keys are disjoint, so the
	// only shared state is the mention total.
	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency())

	for _, brand := range tracked {
		g.Go(func() error {
			n, err := o.ingestBrand(gctx, brand)
			if err != nil {
				// One brand failing must not starve the rest of the fleet.
				o.log.Error("brand ingestion failed",
					zap.String("brand", brand.Name), zap.Error(err))
				return nil
			}
			total.Add(int64(n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(tracked), int(total.Load()), err
	}
	return len(tracked), int(total.Load()), nil
}

func (o *Orchestrator) concurrency() int {
	if o.cfg.Pipeline.MaxConcurrent > 0 {
		return o.cfg.Pipeline.MaxConcurrent
	}
	return 4
}

// ingestBrand fans all enabled adapters out for one brand, merges their
// results and distributes the deduped, validated set.
func (o *Orchestrator) ingestBrand(ctx context.Context, brand model.TrackedBrand) (int, error) {
	adapters := o.registry.EnabledFor(brand)
	if len(adapters) == 0 {
		o.log.Warn("no enabled sources for brand", zap.String("brand", brand.Name))
	}

	var mu sync.Mutex
	var raw []model.RawMention

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency())

	for _, src := range adapters {
		g.Go(func() error {
			found, err := src.FetchMentions(gctx, brand)
			if o.metrics != nil {
				o.metrics.ObserveFetch(string(src.Name()), len(found), err)
			}
			if err != nil {
				// Adapter failures degrade the cycle, never abort it.
				o.log.Warn("source fetch failed",
					zap.String("source", string(src.Name())),
					zap.String("brand", brand.Name),
					zap.Error(err))
				return nil
			}
			o.log.Debug("source fetch complete",
				zap.String("source", string(src.Name())),
				zap.String("brand", brand.Name),
				zap.Int("mentions", len(found)))
			mu.Lock()
			raw = append(raw, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, eris.Wrapf(err, "orchestrator: fetch %s", brand.Name)
	}

	deduped := Dedupe(raw)

	normalized := make([]model.NormalizedMention, 0, len(deduped))
	for _, r := range deduped {
		normalized = append(normalized, model.Normalize(brand.Name, r))
	}

	valid, invalid := validate.FilterValid(normalized)
	for _, res := range invalid {
		o.log.Warn("dropping invalid mention",
			zap.String("brand", brand.Name),
			zap.String("id", res.Mention.ID),
			zap.Strings("violations", res.Errors))
	}

	result, err := o.writer.Distribute(ctx, brand, valid)
	if err != nil {
		return 0, err
	}
	if o.metrics != nil {
		o.metrics.ObserveQueued(result.Mentions)
	}
	return result.Mentions, nil
}

// Dedupe collapses raw mentions sharing a (platform, id) pair, keeping the
// one with the later timestamp. First-seen wins ties, and overall order
// follows each pair's first appearance.
func Dedupe(raw []model.RawMention) []model.RawMention {
	type key struct {
		platform model.Platform
		id       string
	}
	index := make(map[key]int, len(raw))
	out := make([]model.RawMention, 0, len(raw))
	for _, m := range raw {
		k := key{m.Platform, m.ID}
		if i, seen := index[k]; seen {
			if m.Timestamp > out[i].Timestamp {
				out[i] = m
			}
			continue
		}
		index[k] = len(out)
		out = append(out, m)
	}
	return out
}
