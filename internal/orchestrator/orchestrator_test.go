package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brandbeacon/mentions-pipeline/internal/config"
	"github.com/brandbeacon/mentions-pipeline/internal/model"
	"github.com/brandbeacon/mentions-pipeline/internal/queue"
	"github.com/brandbeacon/mentions-pipeline/internal/source"
	"github.com/brandbeacon/mentions-pipeline/internal/store"
)

type fakeSource struct {
	name     model.Platform
	mentions []model.RawMention
	err      error
	delay    time.Duration
	calls    atomic.Int32
}

func (f *fakeSource) Name() model.Platform                 { return f.name }
func (f *fakeSource) Enabled(model.TrackedBrand) bool      { return true }
func (f *fakeSource) FetchMentions(ctx context.Context, _ model.TrackedBrand) ([]model.RawMention, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.mentions, f.err
}

func testConfig() config.Config {
	cfg := config.Config{}
	cfg.Pipeline.ChunkSize = 100
	cfg.Pipeline.MaxConcurrent = 4
	cfg.Pipeline.OrgID = "org-test"
	cfg.Retry.MaxRetries = 1
	cfg.Retry.BackoffMs = 1
	cfg.TTL.MentionSecs = 60
	cfg.TTL.BatchSecs = 60
	cfg.TTL.QueueSecs = 60
	cfg.TTL.BrandMetaSecs = 60
	return cfg
}

func newTestOrchestrator(t *testing.T, sources ...source.Source) (*Orchestrator, store.Store) {
	t.Helper()
	s := store.NewMemory()
	t.Cleanup(func() { s.Close() })
	cfg := testConfig()

	reg := source.NewRegistry()
	for _, src := range sources {
		reg.Register(src)
	}
	w := queue.NewWriter(s, cfg, zap.NewNop())
	return New(reg, w, s, cfg, zap.NewNop(), nil), s
}

func rawMention(p model.Platform, id, text string, ts int64) model.RawMention {
	return model.RawMention{
		ID: id, Timestamp: ts, Text: text, Author: "someone",
		URL: "https://example.com/" + id, Platform: p,
	}
}

func TestRunCycleDistributesMentions(t *testing.T) {
	now := time.Now().UnixMilli()
	src := &fakeSource{name: model.PlatformNews, mentions: []model.RawMention{
		rawMention(model.PlatformNews, "a", "Acme ships anvils", now),
		rawMention(model.PlatformNews, "b", "Acme earnings", now),
	}}
	o, s := newTestOrchestrator(t, src)
	ctx := context.Background()

	require.NoError(t, s.UpsertBrand(ctx, model.TrackedBrand{Name: "Acme"}))
	require.NoError(t, o.RunCycle(ctx, "test"))

	n, err := s.MentionCount(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	qn, err := s.QueueLength(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, qn)

	st := o.Status()
	assert.False(t, st.Running)
	assert.Equal(t, "test", st.LastTrigger)
	assert.Equal(t, 1, st.Brands)
	assert.Equal(t, 2, st.Mentions)
	assert.Empty(t, st.LastError)
}

func TestRunCycleRejectsConcurrentRun(t *testing.T) {
	slow := &fakeSource{name: model.PlatformNews, delay: 100 * time.Millisecond}
	o, s := newTestOrchestrator(t, slow)
	ctx := context.Background()
	require.NoError(t, s.UpsertBrand(ctx, model.TrackedBrand{Name: "Acme"}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = o.RunCycle(ctx, "first")
	}()

	time.Sleep(20 * time.Millisecond)
	err := o.RunCycle(ctx, "second")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
	assert.True(t, o.Status().Running)
	wg.Wait()
}

func TestTriggerManualRunSingleFlight(t *testing.T) {
	slow := &fakeSource{name: model.PlatformNews, delay: 100 * time.Millisecond}
	o, s := newTestOrchestrator(t, slow)
	ctx := context.Background()
	require.NoError(t, s.UpsertBrand(ctx, model.TrackedBrand{Name: "Acme"}))

	assert.True(t, o.TriggerManualRun(ctx))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, o.TriggerManualRun(ctx))

	// Once the first run drains, a new trigger is accepted again.
	require.Eventually(t, func() bool { return !o.Status().Running },
		2*time.Second, 10*time.Millisecond)
	assert.True(t, o.TriggerManualRun(ctx))
	require.Eventually(t, func() bool { return !o.Status().Running },
		2*time.Second, 10*time.Millisecond)
}

func TestAdapterFailureIsIsolated(t *testing.T) {
	now := time.Now().UnixMilli()
	broken := &fakeSource{name: model.PlatformReddit, err: eris.New("upstream down")}
	healthy := &fakeSource{name: model.PlatformNews, mentions: []model.RawMention{
		rawMention(model.PlatformNews, "a", "Acme news", now),
	}}
	o, s := newTestOrchestrator(t, broken, healthy)
	ctx := context.Background()
	require.NoError(t, s.UpsertBrand(ctx, model.TrackedBrand{Name: "Acme"}))

	require.NoError(t, o.RunCycle(ctx, "test"))

	n, err := s.MentionCount(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, o.Status().LastError)
}

func TestBrandFailureIsIsolated(t *testing.T) {
	now := time.Now().UnixMilli()
	src := &fakeSource{name: model.PlatformNews, mentions: []model.RawMention{
		rawMention(model.PlatformNews, "a", "shared mention", now),
	}}
	o, s := newTestOrchestrator(t, src)
	ctx := context.Background()
	require.NoError(t, s.UpsertBrand(ctx, model.TrackedBrand{Name: "Acme"}))
	require.NoError(t, s.UpsertBrand(ctx, model.TrackedBrand{Name: "Zenith"}))

	require.NoError(t, o.RunCycle(ctx, "test"))
	assert.Equal(t, 2, o.Status().Brands)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestRunCycleZeroMentions(t *testing.T) {
	quiet := &fakeSource{name: model.PlatformNews}
	o, s := newTestOrchestrator(t, quiet)
	ctx := context.Background()
	require.NoError(t, s.UpsertBrand(ctx, model.TrackedBrand{Name: "Acme"}))

	require.NoError(t, o.RunCycle(ctx, "test"))

	qn, err := s.QueueLength(ctx, "acme")
	require.NoError(t, err)
	assert.Zero(t, qn)

	known, err := s.KnownBrands(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme"}, known)
}

func TestRunCycleNoBrands(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeSource{name: model.PlatformNews})
	require.NoError(t, o.RunCycle(context.Background(), "test"))
	assert.Zero(t, o.Status().Brands)
}

func TestRunCycleDropsInvalidMentions(t *testing.T) {
	now := time.Now().UnixMilli()
	src := &fakeSource{name: model.PlatformNews, mentions: []model.RawMention{
		rawMention(model.PlatformNews, "good", "valid mention", now),
		{ID: "bad", Platform: model.PlatformNews}, // blank text, zero timestamp
	}}
	o, s := newTestOrchestrator(t, src)
	ctx := context.Background()
	require.NoError(t, s.UpsertBrand(ctx, model.TrackedBrand{Name: "Acme"}))

	require.NoError(t, o.RunCycle(ctx, "test"))

	n, err := s.MentionCount(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDedupe(t *testing.T) {
	dupes := []model.RawMention{
		rawMention(model.PlatformNews, "a", "older", 100),
		rawMention(model.PlatformReddit, "a", "different platform", 100),
		rawMention(model.PlatformNews, "a", "newer", 200),
		rawMention(model.PlatformNews, "b", "unique", 50),
	}

	out := Dedupe(dupes)
	require.Len(t, out, 3)
	assert.Equal(t, "newer", out[0].Text)
	assert.Equal(t, model.PlatformReddit, out[1].Platform)
	assert.Equal(t, "unique", out[2].Text)
}

func TestDedupeKeepsFirstOnTie(t *testing.T) {
	out := Dedupe([]model.RawMention{
		rawMention(model.PlatformNews, "a", "first", 100),
		rawMention(model.PlatformNews, "a", "second", 100),
	})
	require.Len(t, out, 1)
	assert.Equal(t, "first", out[0].Text)
}

// rendezvousSource returns only once a second concurrent caller arrives,
// so a cycle that walks brands one at a time trips the timeout flag.
type rendezvousSource struct {
	name     model.Platform
	meet     chan struct{}
	timedOut atomic.Bool
}

func (r *rendezvousSource) Name() model.Platform            { return r.name }
func (r *rendezvousSource) Enabled(model.TrackedBrand) bool { return true }
func (r *rendezvousSource) FetchMentions(ctx context.Context, _ model.TrackedBrand) ([]model.RawMention, error) {
	select {
	case r.meet <- struct{}{}:
	case <-r.meet:
	case <-time.After(500 * time.Millisecond):
		r.timedOut.Store(true)
	}
	return nil, nil
}

func TestBrandsRunConcurrently(t *testing.T) {
	src := &rendezvousSource{name: model.PlatformNews, meet: make(chan struct{})}
	o, s := newTestOrchestrator(t, src)
	ctx := context.Background()
	require.NoError(t, s.UpsertBrand(ctx, model.TrackedBrand{Name: "Acme"}))
	require.NoError(t, s.UpsertBrand(ctx, model.TrackedBrand{Name: "Zenith"}))

	require.NoError(t, o.RunCycle(ctx, "test"))
	assert.False(t, src.timedOut.Load(), "brand fetches never overlapped")
}
