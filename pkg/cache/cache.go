// Package cache memoizes compiled catalogs by the structural identity of
// their inputs.
//
// A Key combines node name, fact environment and synthesized manifest. Two
// keys built independently from equal inputs produce the same digest, so a
// second build of an equivalent subject reuses the first catalog without
// invoking the compiler. Concurrent lookups for the same digest are
// collapsed: the compile function runs at most once per digest per Cache.
//
// Failed compilations are not stored; the next lookup retries.
//
// A persistent store outlives the process. Its entries are keyed on node,
// facts and manifest only, so a catalog compiled before module sources
// changed is still served until the store is purged.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/openfroyo/froyospec/pkg/engine"
)

// CompileFunc produces the catalog for a key on a cache miss.
type CompileFunc func(ctx context.Context) (*engine.Catalog, error)

// Stats is a snapshot of cache counters.
type Stats struct {
	Lookups      int64 `json:"lookups"`
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Compilations int64 `json:"compilations"`
	Failures     int64 `json:"failures"`
}

// Cache maps keys to compiled catalogs. Every Cache keeps an in-process
// layer in front of its store, so within one process a digest always
// resolves to the same *engine.Catalog.
type Cache struct {
	store  Store
	memory *MemoryStore
	group  singleflight.Group
	logger zerolog.Logger

	lookups      atomic.Int64
	hits         atomic.Int64
	misses       atomic.Int64
	compilations atomic.Int64
	failures     atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithStore sets the backing store. The default is a MemoryStore.
func WithStore(s Store) Option {
	return func(c *Cache) {
		c.store = s
	}
}

// WithLogger sets the cache logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger.With().Str("component", "cache").Logger()
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	if m, ok := c.store.(*MemoryStore); ok {
		c.memory = m
	} else {
		c.memory = NewMemoryStore()
	}
	if c.store == nil {
		c.store = c.memory
	}
	return c
}

// ErrNilCatalog is returned when a compile function succeeds without a catalog.
var ErrNilCatalog = errors.New("compiler returned no catalog")

// GetOrCompile returns the catalog stored for key, invoking fn exactly once
// on a miss. Concurrent callers with structurally equal keys wait for the
// same invocation. Errors from fn are returned unchanged and not cached.
func (c *Cache) GetOrCompile(ctx context.Context, key Key, fn CompileFunc) (*engine.Catalog, error) {
	digest, err := key.Digest()
	if err != nil {
		c.lookups.Add(1)
		return nil, engine.NewConfigurationError("failed to compute cache key", err).
			WithCode(engine.ErrCodeInvalidFacts).
			WithNode(key.Node)
	}
	return c.GetOrCompileDigest(ctx, key, digest, fn)
}

// GetOrCompileDigest is GetOrCompile for a caller that already holds
// key.Digest().
//
// fn runs on a context detached from the caller's cancellation, so one
// caller giving up does not fail the others waiting on the same digest. A
// caller whose ctx ends stops waiting and gets ctx.Err(); the compilation
// itself runs to completion and its catalog is stored.
func (c *Cache) GetOrCompileDigest(ctx context.Context, key Key, digest string, fn CompileFunc) (*engine.Catalog, error) {
	c.lookups.Add(1)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if entry, ok, err := c.get(ctx, digest); err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	} else if ok {
		c.hits.Add(1)
		c.logger.Debug().Str("digest", digest).Str("node", key.Node).Msg("Cache hit")
		return entry.Catalog, nil
	}

	// Only the caller whose closure runs sets compiled; waiters that
	// receive the shared result count as hits.
	var compiled atomic.Bool
	ch := c.group.DoChan(digest, func() (any, error) {
		ctx := context.WithoutCancel(ctx)

		if entry, ok, err := c.get(ctx, digest); err != nil {
			return nil, fmt.Errorf("cache lookup: %w", err)
		} else if ok {
			return entry.Catalog, nil
		}

		compiled.Store(true)
		c.misses.Add(1)
		c.compilations.Add(1)
		c.logger.Debug().Str("digest", digest).Str("node", key.Node).Msg("Cache miss, compiling")

		start := time.Now()
		catalog, err := fn(ctx)
		if err == nil && catalog == nil {
			err = ErrNilCatalog
		}
		if err != nil {
			c.failures.Add(1)
			return nil, err
		}

		entry := &Entry{
			Digest:     digest,
			Key:        key,
			Catalog:    catalog,
			CompiledAt: time.Now().UTC(),
			Duration:   time.Since(start),
		}
		if err := c.put(ctx, entry); err != nil {
			c.logger.Warn().Err(err).Str("digest", digest).Msg("Failed to store compiled catalog")
		}

		c.logger.Info().
			Str("digest", digest).
			Str("node", key.Node).
			Int("resources", len(catalog.Resources)).
			Dur("duration", entry.Duration).
			Msg("Catalog compiled")

		return catalog, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if !compiled.Load() {
			c.hits.Add(1)
		}
		return res.Val.(*engine.Catalog), nil
	}
}

// get checks the in-process layer before the backing store. Entries read
// from the store are promoted so later hits in this process share one
// catalog.
func (c *Cache) get(ctx context.Context, digest string) (*Entry, bool, error) {
	if entry, ok, _ := c.memory.Get(ctx, digest); ok {
		return entry, true, nil
	}
	if c.store == Store(c.memory) {
		return nil, false, nil
	}

	entry, ok, err := c.store.Get(ctx, digest)
	if err != nil || !ok {
		return nil, false, err
	}
	_ = c.memory.Put(ctx, entry)
	entry, _, _ = c.memory.Get(ctx, digest)
	return entry, true, nil
}

// put writes entry to the in-process layer and through to the store.
func (c *Cache) put(ctx context.Context, entry *Entry) error {
	_ = c.memory.Put(ctx, entry)
	if c.store == Store(c.memory) {
		return nil
	}
	return c.store.Put(ctx, entry)
}

// Lookup returns the stored catalog for key without compiling.
func (c *Cache) Lookup(ctx context.Context, key Key) (*engine.Catalog, bool, error) {
	digest, err := key.Digest()
	if err != nil {
		return nil, false, err
	}
	entry, ok, err := c.get(ctx, digest)
	if err != nil || !ok {
		return nil, false, err
	}
	return entry.Catalog, true, nil
}

// Len returns the number of stored catalogs.
func (c *Cache) Len(ctx context.Context) (int, error) {
	return c.store.Len(ctx)
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Lookups:      c.lookups.Load(),
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Compilations: c.compilations.Load(),
		Failures:     c.failures.Load(),
	}
}
