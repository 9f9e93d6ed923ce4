package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/openfroyo/froyospec/pkg/engine"
)

func testKey() Key {
	return Key{
		Node: "test.example.com",
		Facts: engine.Facts{
			"hostname": "test",
			"fqdn":     "test.example.com",
			"domain":   "example.com",
		},
		Manifest: "class { 'foo': ensure => 'present' }",
	}
}

func catalogFor(name string) *engine.Catalog {
	return &engine.Catalog{
		Name: name,
		Resources: []engine.Resource{
			{Type: "Class", Title: "Foo"},
		},
	}
}

func TestKey_DigestIsStructural(t *testing.T) {
	a := testKey()
	b := Key{
		Node: "test.example.com",
		Facts: engine.Facts{
			"domain":   "example.com",
			"fqdn":     "test.example.com",
			"hostname": "test",
		},
		Manifest: "class { 'foo': ensure => 'present' }",
	}

	da, err := a.Digest()
	require.NoError(t, err)
	db, err := b.Digest()
	require.NoError(t, err)

	assert.Equal(t, da, db)
	assert.True(t, a.Equal(b))
	assert.Len(t, da, 64)
}

func TestKey_DigestDistinguishesInputs(t *testing.T) {
	base := testKey()
	baseDigest, err := base.Digest()
	require.NoError(t, err)

	variants := map[string]Key{
		"node":     {Node: "other.example.com", Facts: base.Facts, Manifest: base.Manifest},
		"manifest": {Node: base.Node, Facts: base.Facts, Manifest: "include foo"},
		"fact value": {Node: base.Node, Facts: engine.Facts{
			"hostname": "test", "fqdn": "test.example.com", "domain": "example.org",
		}, Manifest: base.Manifest},
		"fact type": {Node: base.Node, Facts: engine.Facts{
			"hostname": "test", "fqdn": "test.example.com", "domain": "example.com", "count": "1",
		}, Manifest: base.Manifest},
	}

	seen := map[string]string{}
	for name, k := range variants {
		d, err := k.Digest()
		require.NoError(t, err, name)
		assert.NotEqual(t, baseDigest, d, name)
		seen[d] = name
	}
	assert.Len(t, seen, len(variants))

	withInt := Key{Facts: engine.Facts{"count": 1}}
	withString := Key{Facts: engine.Facts{"count": "1"}}
	assert.False(t, withInt.Equal(withString))
}

func TestKey_NestedMapsAndNumbers(t *testing.T) {
	a := Key{Facts: engine.Facts{
		"os":    map[string]any{"family": "Debian", "release": map[string]any{"major": 12}},
		"cores": int64(4),
	}}
	b := Key{Facts: engine.Facts{
		"cores": 4,
		"os":    map[any]any{"release": map[string]int{"major": 12}, "family": "Debian"},
	}}
	assert.True(t, a.Equal(b))

	nilFacts := Key{Node: "n"}
	emptyFacts := Key{Node: "n", Facts: engine.Facts{}}
	assert.True(t, nilFacts.Equal(emptyFacts))
}

func TestKey_Unencodable(t *testing.T) {
	k := Key{Facts: engine.Facts{"fn": func() {}}}
	_, err := k.Digest()
	assert.Error(t, err)
}

func TestCache_HitAfterMiss(t *testing.T) {
	ctx := context.Background()
	c := New()

	var calls int
	fn := func(context.Context) (*engine.Catalog, error) {
		calls++
		return catalogFor("test.example.com"), nil
	}

	first, err := c.GetOrCompile(ctx, testKey(), fn)
	require.NoError(t, err)
	second, err := c.GetOrCompile(ctx, testKey(), fn)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Same(t, first, second)

	stats := c.Stats()
	assert.Equal(t, Stats{Lookups: 2, Hits: 1, Misses: 1, Compilations: 1}, stats)

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, ok, err := c.Lookup(ctx, testKey())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Same(t, first, got)
}

func TestCache_FailuresAreNotCached(t *testing.T) {
	ctx := context.Background()
	c := New()
	boom := errors.New("syntax error at line 1")

	var calls int
	_, err := c.GetOrCompile(ctx, testKey(), func(context.Context) (*engine.Catalog, error) {
		calls++
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	catalog, err := c.GetOrCompile(ctx, testKey(), func(context.Context) (*engine.Catalog, error) {
		calls++
		return catalogFor("retry"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "retry", catalog.Name)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(1), c.Stats().Failures)
}

func TestCache_NilCatalog(t *testing.T) {
	c := New()
	_, err := c.GetOrCompile(context.Background(), testKey(), func(context.Context) (*engine.Catalog, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrNilCatalog)
}

func TestCache_InvalidKey(t *testing.T) {
	c := New()
	_, err := c.GetOrCompile(context.Background(), Key{Facts: engine.Facts{"ch": make(chan int)}},
		func(context.Context) (*engine.Catalog, error) {
			t.Fatal("compile must not run for an unencodable key")
			return nil, nil
		})
	assert.True(t, engine.IsConfiguration(err))
}

func TestCache_ConcurrentSingleCompilation(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	c := New()

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) (*engine.Catalog, error) {
		calls.Add(1)
		<-release
		return catalogFor("shared"), nil
	}

	const workers = 16
	var wg sync.WaitGroup
	results := make([]*engine.Catalog, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrCompile(ctx, testKey(), fn)
		}(i)
	}

	// Give the workers time to pile up on the in-flight compilation.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}

	stats := c.Stats()
	assert.Equal(t, int64(workers), stats.Lookups)
	assert.Equal(t, int64(1), stats.Compilations)
	assert.Equal(t, int64(workers-1), stats.Hits)
}

func TestCache_DistinctKeysCompileIndependently(t *testing.T) {
	ctx := context.Background()
	c := New()

	var calls atomic.Int32
	fn := func(context.Context) (*engine.Catalog, error) {
		calls.Add(1)
		return catalogFor("x"), nil
	}

	a := testKey()
	b := testKey()
	b.Manifest = "include bar"

	_, err := c.GetOrCompile(ctx, a, fn)
	require.NoError(t, err)
	_, err = c.GetOrCompile(ctx, b, fn)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
}

func TestMemoryStore_KeepsFirstEntry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, &Entry{Digest: "d", Catalog: catalogFor("first")}))
	require.NoError(t, s.Put(ctx, &Entry{Digest: "d", Catalog: catalogFor("second")}))

	e, ok, err := s.Get(ctx, "d")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", e.Catalog.Name)

	_, ok, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

// freshStore decodes a new catalog on every Get, like a persistent store.
type freshStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	gets    int
}

func (s *freshStore) Get(_ context.Context, digest string) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	e, ok := s.entries[digest]
	if !ok {
		return nil, false, nil
	}
	catalog := *e.Catalog
	e.Catalog = &catalog
	return &e, true, nil
}

func (s *freshStore) Put(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Digest] = *entry
	return nil
}

func (s *freshStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func TestCache_PersistentHitsShareCatalog(t *testing.T) {
	ctx := context.Background()
	digest, err := testKey().Digest()
	require.NoError(t, err)

	store := &freshStore{entries: map[string]Entry{
		digest: {Digest: digest, Catalog: catalogFor("stored")},
	}}
	c := New(WithStore(store))

	fn := func(context.Context) (*engine.Catalog, error) {
		t.Fatal("stored key must not be compiled")
		return nil, nil
	}

	first, err := c.GetOrCompile(ctx, testKey(), fn)
	require.NoError(t, err)
	second, err := c.GetOrCompile(ctx, testKey(), fn)
	require.NoError(t, err)
	looked, ok, err := c.Lookup(ctx, testKey())
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "stored", first.Name)
	assert.Same(t, first, second)
	assert.Same(t, first, looked)
	assert.Equal(t, 1, store.gets, "promoted entries are served from memory")
	assert.Equal(t, int64(2), c.Stats().Hits)
}

func TestCache_CompiledCatalogWrittenThrough(t *testing.T) {
	ctx := context.Background()
	store := &freshStore{entries: map[string]Entry{}}
	c := New(WithStore(store))

	compiled, err := c.GetOrCompile(ctx, testKey(), func(context.Context) (*engine.Catalog, error) {
		return catalogFor("fresh"), nil
	})
	require.NoError(t, err)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := c.GetOrCompile(ctx, testKey(), func(context.Context) (*engine.Catalog, error) {
		return nil, errors.New("should not compile")
	})
	require.NoError(t, err)
	assert.Same(t, compiled, again)
}

func TestCache_CancelledCallerDoesNotFailWaiters(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := New()
	started := make(chan struct{})
	release := make(chan struct{})
	var compileCtxErr atomic.Value

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompile(leaderCtx, testKey(), func(ctx context.Context) (*engine.Catalog, error) {
			close(started)
			<-release
			if err := ctx.Err(); err != nil {
				compileCtxErr.Store(err)
			}
			return catalogFor("shared"), nil
		})
		leaderErr <- err
	}()
	<-started

	type result struct {
		catalog *engine.Catalog
		err     error
	}
	waiter := make(chan result, 1)
	go func() {
		catalog, err := c.GetOrCompile(context.Background(), testKey(), func(context.Context) (*engine.Catalog, error) {
			return nil, errors.New("waiter must not compile")
		})
		waiter <- result{catalog, err}
	}()

	// Let the waiter join the in-flight compilation before the leader leaves.
	time.Sleep(20 * time.Millisecond)
	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(release)
	got := <-waiter
	require.NoError(t, got.err)
	assert.Equal(t, "shared", got.catalog.Name)
	assert.Nil(t, compileCtxErr.Load(), "compilation must not observe the leader's cancellation")

	cached, ok, err := c.Lookup(context.Background(), testKey())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, got.catalog, cached)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Compilations)
	assert.Equal(t, int64(0), stats.Failures)
}

func TestCache_CancelledBeforeLookup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New()
	_, err := c.GetOrCompile(ctx, testKey(), func(context.Context) (*engine.Catalog, error) {
		t.Fatal("cancelled lookup must not compile")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, c.Stats().Compilations)
}
