package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brandbeacon/mentions-pipeline/internal/config"
	"github.com/brandbeacon/mentions-pipeline/internal/model"
	"github.com/brandbeacon/mentions-pipeline/internal/store"
)

func testConfig() config.Config {
	cfg := config.Config{}
	cfg.Pipeline.ChunkSize = 100
	cfg.Pipeline.OrgID = "org-test"
	cfg.Retry.MaxRetries = 2
	cfg.Retry.BackoffMs = 1
	cfg.TTL.MentionSecs = 60
	cfg.TTL.BatchSecs = 60
	cfg.TTL.QueueSecs = 60
	cfg.TTL.BrandMetaSecs = 60
	return cfg
}

func newTestWriter(t *testing.T) (*Writer, store.Store) {
	t.Helper()
	s := store.NewMemory()
	t.Cleanup(func() { s.Close() })
	return NewWriter(s, testConfig(), zap.NewNop()), s
}

func makeMentions(brand string, n int) []model.NormalizedMention {
	out := make([]model.NormalizedMention, n)
	for i := range out {
		out[i] = model.NormalizedMention{
			ID:        fmt.Sprintf("news:m%d", i),
			Brand:     brand,
			Text:      fmt.Sprintf("mention %d", i),
			Timestamp: time.Now().UnixMilli(),
			Source:    model.PlatformNews,
		}
	}
	return out
}

func TestDistributeChunksAndCounters(t *testing.T) {
	w, s := newTestWriter(t)
	ctx := context.Background()
	brand := model.TrackedBrand{Name: "Acme", Keywords: []string{"anvils"}}

	res, err := w.Distribute(ctx, brand, makeMentions("Acme", 250))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Envelopes)
	assert.Equal(t, 250, res.Mentions)
	assert.NotEmpty(t, res.BatchID)

	n, err := s.QueueLength(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	counters, err := s.BatchCounters(ctx, res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counters.Total)
	assert.Equal(t, int64(3), counters.Remaining)

	stored, err := s.MentionCount(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 250, stored)
}

func TestDistributeEnvelopeShape(t *testing.T) {
	w, s := newTestWriter(t)
	ctx := context.Background()
	brand := model.TrackedBrand{Name: "Acme Corp", Keywords: []string{"anvils", "rockets"}}

	res, err := w.Distribute(ctx, brand, makeMentions("Acme Corp", 250))
	require.NoError(t, err)

	// FIFO pop yields ordinals 0..2 with sizes 100, 100, 50 and a shared batch id.
	for i, wantLen := range []int{100, 100, 50} {
		raw, err := s.PopEnvelope(ctx, "acme-corp")
		require.NoError(t, err)

		var env model.Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		assert.Equal(t, res.BatchID, env.BatchID)
		assert.Equal(t, "org-test", env.SecureContext.OrgID)
		assert.Equal(t, model.TaskTypeClusterMentions, env.Task.Type)
		assert.Equal(t, "Acme Corp", env.Task.Brand)
		assert.Equal(t, []string{"anvils", "rockets"}, env.Task.Keywords)
		assert.Len(t, env.Task.Mentions, wantLen)
		assert.Contains(t, env.EnvelopeID, "acme-corp-")
		assert.Contains(t, env.EnvelopeID, fmt.Sprintf("-%d-", i))
	}

	_, err = s.PopEnvelope(ctx, "acme-corp")
	assert.ErrorIs(t, err, store.ErrQueueEmpty)
}

func TestDistributePreservesMentionOrder(t *testing.T) {
	w, s := newTestWriter(t)
	ctx := context.Background()

	res, err := w.Distribute(ctx, model.TrackedBrand{Name: "Acme"}, makeMentions("Acme", 7))
	require.NoError(t, err)
	require.Equal(t, 1, res.Envelopes)

	raw, err := s.PopEnvelope(ctx, "acme")
	require.NoError(t, err)
	var env model.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	for i, m := range env.Task.Mentions {
		assert.Equal(t, fmt.Sprintf("news:m%d", i), m.ID)
	}
}

func TestDistributeZeroMentionsIsNoop(t *testing.T) {
	w, s := newTestWriter(t)
	ctx := context.Background()

	res, err := w.Distribute(ctx, model.TrackedBrand{Name: "Quiet Brand"}, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Envelopes)
	assert.Empty(t, res.BatchID)

	n, err := s.QueueLength(ctx, "quiet-brand")
	require.NoError(t, err)
	assert.Zero(t, n)

	// The side channel still learns the brand exists.
	known, err := s.KnownBrands(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"quiet-brand"}, known)
}

func TestDistributeRegistersBrandMeta(t *testing.T) {
	w, s := newTestWriter(t)
	ctx := context.Background()
	brand := model.TrackedBrand{
		Name:     "Acme",
		Aliases:  []string{"acme inc"},
		RSSFeeds: []string{"https://acme.com/feed"},
	}

	_, err := w.Distribute(ctx, brand, makeMentions("Acme", 1))
	require.NoError(t, err)

	meta, err := s.GetBrandMeta(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "Acme", meta.Name)
	assert.Equal(t, []string{"acme inc"}, meta.Aliases)
	assert.Equal(t, []string{"https://acme.com/feed"}, meta.RSSFeeds)
	assert.Positive(t, meta.UpdatedAt)
}

func TestDistributeRetriesStoreFailures(t *testing.T) {
	flaky := &flakyStore{Store: store.NewMemory(), failures: 2}
	w := NewWriter(flaky, testConfig(), zap.NewNop())

	_, err := w.Distribute(context.Background(), model.TrackedBrand{Name: "Acme"}, makeMentions("Acme", 3))
	require.NoError(t, err)
	assert.Zero(t, flaky.failures)
}

func TestDistributeExhaustedRetriesFail(t *testing.T) {
	flaky := &flakyStore{Store: store.NewMemory(), failures: 10}
	w := NewWriter(flaky, testConfig(), zap.NewNop())

	_, err := w.Distribute(context.Background(), model.TrackedBrand{Name: "Acme"}, makeMentions("Acme", 3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "register brand")
}

func TestPurgeBrandData(t *testing.T) {
	w, s := newTestWriter(t)
	ctx := context.Background()

	_, err := w.Distribute(ctx, model.TrackedBrand{Name: "Acme"}, makeMentions("Acme", 5))
	require.NoError(t, err)

	require.NoError(t, w.PurgeBrandData(ctx, "Acme"))

	n, err := s.MentionCount(ctx, "acme")
	require.NoError(t, err)
	assert.Zero(t, n)

	known, err := s.KnownBrands(ctx)
	require.NoError(t, err)
	assert.Empty(t, known)
}

func TestChunkMentions(t *testing.T) {
	cases := []struct {
		n, size  int
		wantLens []int
	}{
		{0, 100, nil},
		{1, 100, []int{1}},
		{100, 100, []int{100}},
		{101, 100, []int{100, 1}},
		{250, 100, []int{100, 100, 50}},
		{5, 0, []int{5}},
	}
	for _, tc := range cases {
		chunks := chunkMentions(makeMentions("b", tc.n), tc.size)
		require.Len(t, chunks, len(tc.wantLens), "n=%d size=%d", tc.n, tc.size)
		for i, want := range tc.wantLens {
			assert.Len(t, chunks[i], want)
		}
	}
}

// flakyStore fails the first N writes of any kind, then delegates.
type flakyStore struct {
	store.Store
	failures int
}

func (f *flakyStore) RegisterBrand(ctx context.Context, meta model.BrandMeta, ttl time.Duration) error {
	if f.failures > 0 {
		f.failures--
		return eris.New("transient store failure")
	}
	return f.Store.RegisterBrand(ctx, meta, ttl)
}
