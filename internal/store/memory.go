package store

import (
	"context"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"

	"github.com/brandbeacon/mentions-pipeline/internal/model"
)

const (
	keyRegistry  = "registry"
	keyKnownSet  = "brands:set"
	prefMentions = "mentions:"
	prefQueue    = "queue:"
	prefMeta     = "meta:"
	prefTotal    = "batch:total:"
	prefRemain   = "batch:remaining:"
)

// MemoryStore keeps all pipeline state in a TTL cache. TTL expiry is native
// to the cache; the mutex serialises read-modify-write cycles on the list
// and set values, which the cache alone cannot make atomic.
type MemoryStore struct {
	mu sync.Mutex
	c  *gocache.Cache
}

// NewMemory returns an empty in-memory store. Expired entries are reaped
// every minute.
func NewMemory() *MemoryStore {
	return &MemoryStore{c: gocache.New(gocache.NoExpiration, time.Minute)}
}

func (m *MemoryStore) ListBrands(_ context.Context) ([]model.TrackedBrand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg := m.registry()
	out := make([]model.TrackedBrand, 0, len(reg))
	for _, b := range reg {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) UpsertBrand(_ context.Context, b model.TrackedBrand) error {
	if b.Name == "" {
		return eris.New("store: brand name required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	reg := m.registry()
	reg[model.Slug(b.Name)] = b
	m.c.Set(keyRegistry, reg, gocache.NoExpiration)
	return nil
}

func (m *MemoryStore) DeleteBrand(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg := m.registry()
	delete(reg, model.Slug(name))
	m.c.Set(keyRegistry, reg, gocache.NoExpiration)
	return nil
}

func (m *MemoryStore) AppendMentions(_ context.Context, slug string, payloads [][]byte, ttl time.Duration) error {
	if len(payloads) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := prefMentions + slug
	list, _ := m.getList(key)
	list = append(list, clone(payloads)...)
	m.c.Set(key, list, ttl)
	return nil
}

func (m *MemoryStore) MentionCount(_ context.Context, slug string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list, _ := m.getList(prefMentions + slug)
	return len(list), nil
}

func (m *MemoryStore) PushEnvelopes(_ context.Context, slug string, payloads [][]byte, ttl time.Duration) error {
	if len(payloads) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := prefQueue + slug
	list, _ := m.getList(key)
	list = append(list, clone(payloads)...)
	m.c.Set(key, list, ttl)
	return nil
}

func (m *MemoryStore) PopEnvelope(_ context.Context, slug string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := prefQueue + slug
	list, exp := m.getList(key)
	if len(list) == 0 {
		return nil, ErrQueueEmpty
	}
	head := list[0]
	rest := list[1:]
	if len(rest) == 0 {
		m.c.Delete(key)
		return head, nil
	}
	ttl := gocache.DefaultExpiration
	if !exp.IsZero() {
		ttl = time.Until(exp)
	}
	m.c.Set(key, rest, ttl)
	return head, nil
}

func (m *MemoryStore) QueueLength(_ context.Context, slug string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list, _ := m.getList(prefQueue + slug)
	return len(list), nil
}

func (m *MemoryStore) InitBatch(_ context.Context, batchID string, total int64, ttl time.Duration) error {
	m.c.Set(prefTotal+batchID, total, ttl)
	m.c.Set(prefRemain+batchID, total, ttl)
	return nil
}

func (m *MemoryStore) BatchCounters(_ context.Context, batchID string) (*model.BatchCounters, error) {
	tv, ok := m.c.Get(prefTotal + batchID)
	if !ok {
		return nil, ErrBatchNotFound
	}
	rv, ok := m.c.Get(prefRemain + batchID)
	if !ok {
		return nil, ErrBatchNotFound
	}
	return &model.BatchCounters{Total: tv.(int64), Remaining: rv.(int64)}, nil
}

func (m *MemoryStore) DecrementBatchRemaining(_ context.Context, batchID string) (int64, error) {
	n, err := m.c.DecrementInt64(prefRemain+batchID, 1)
	if err != nil {
		return 0, ErrBatchNotFound
	}
	return n, nil
}

func (m *MemoryStore) RegisterBrand(_ context.Context, meta model.BrandMeta, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c.Set(prefMeta+meta.Slug, meta, ttl)
	set := m.knownSet()
	set[meta.Slug] = struct{}{}
	m.c.Set(keyKnownSet, set, gocache.NoExpiration)
	return nil
}

func (m *MemoryStore) GetBrandMeta(_ context.Context, slug string) (*model.BrandMeta, error) {
	v, ok := m.c.Get(prefMeta + slug)
	if !ok {
		return nil, nil
	}
	meta := v.(model.BrandMeta)
	return &meta, nil
}

func (m *MemoryStore) KnownBrands(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.knownSet()
	out := make([]string, 0, len(set))
	for slug := range set {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) PurgeBrand(_ context.Context, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c.Delete(prefMentions + slug)
	m.c.Delete(prefMeta + slug)
	set := m.knownSet()
	delete(set, slug)
	m.c.Set(keyKnownSet, set, gocache.NoExpiration)
	return nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context) (int, error) {
	m.c.DeleteExpired()
	return 0, nil
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }

func (m *MemoryStore) Close() error {
	m.c.Flush()
	return nil
}

func (m *MemoryStore) registry() map[string]model.TrackedBrand {
	if v, ok := m.c.Get(keyRegistry); ok {
		return v.(map[string]model.TrackedBrand)
	}
	return map[string]model.TrackedBrand{}
}

func (m *MemoryStore) knownSet() map[string]struct{} {
	if v, ok := m.c.Get(keyKnownSet); ok {
		return v.(map[string]struct{})
	}
	return map[string]struct{}{}
}

func (m *MemoryStore) getList(key string) ([][]byte, time.Time) {
	v, exp, ok := m.c.GetWithExpiration(key)
	if !ok {
		return nil, time.Time{}
	}
	return v.([][]byte), exp
}

func clone(payloads [][]byte) [][]byte {
	out := make([][]byte, len(payloads))
	for i, p := range payloads {
		out[i] = append([]byte(nil), p...)
	}
	return out
}
