package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/froyospec/pkg/cache"
	"github.com/openfroyo/froyospec/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testEntry(t *testing.T, node, manifest string) *cache.Entry {
	t.Helper()

	key := cache.Key{
		Node:     node,
		Facts:    engine.Facts{"hostname": "test", "processorcount": 4},
		Manifest: manifest,
	}
	digest, err := key.Digest()
	if err != nil {
		t.Fatalf("failed to digest key: %v", err)
	}

	return &cache.Entry{
		Digest: digest,
		Key:    key,
		Catalog: &engine.Catalog{
			Name:    node,
			Classes: []string{"foo"},
			Resources: []engine.Resource{
				{Type: "Class", Title: "Foo", Parameters: map[string]any{"ensure": "present"}},
				{Type: "File", Title: "/etc/foo.conf", Parameters: map[string]any{"mode": "0644"}},
			},
			Edges: []engine.Edge{{Source: "Class[Foo]", Target: "File[/etc/foo.conf]"}},
		},
		CompiledAt: time.Now().UTC().Truncate(time.Second),
		Duration:   1500 * time.Millisecond,
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}

	store, _ := NewSQLiteStore(Config{Path: "unused.db"})
	if err := store.HealthCheck(context.Background()); err == nil {
		t.Error("expected health check to fail before Init")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var count int
	if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM catalogs").Scan(&count); err != nil {
		t.Fatalf("catalogs table does not exist or is not accessible: %v", err)
	}

	// Migrating twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
}

func TestCatalogPutGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	entry := testEntry(t, "test.example.com", "class { 'foo': ensure => 'present' }")
	if err := store.Put(ctx, entry); err != nil {
		t.Fatalf("failed to put entry: %v", err)
	}

	got, ok, err := store.Get(ctx, entry.Digest)
	if err != nil {
		t.Fatalf("failed to get entry: %v", err)
	}
	if !ok {
		t.Fatal("expected entry to be found")
	}

	if got.Key.Node != "test.example.com" {
		t.Errorf("expected node test.example.com, got %s", got.Key.Node)
	}
	if got.Key.Manifest != entry.Key.Manifest {
		t.Errorf("expected manifest %q, got %q", entry.Key.Manifest, got.Key.Manifest)
	}
	if len(got.Catalog.Resources) != 2 {
		t.Fatalf("expected 2 resources, got %d", len(got.Catalog.Resources))
	}
	if r, ok := got.Catalog.Resource("File", "/etc/foo.conf"); !ok || r.Parameters["mode"] != "0644" {
		t.Errorf("unexpected file resource: %+v", r)
	}
	if got.Duration != 1500*time.Millisecond {
		t.Errorf("expected duration 1.5s, got %s", got.Duration)
	}
	if !got.CompiledAt.Equal(entry.CompiledAt) {
		t.Errorf("expected compiled_at %s, got %s", entry.CompiledAt, got.CompiledAt)
	}

	_, ok, err = store.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("unexpected error for missing digest: %v", err)
	}
	if ok {
		t.Error("expected missing digest to be absent")
	}
}

func TestCatalogPutIsFirstWriteWins(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := testEntry(t, "a.example.com", "include foo")
	second := testEntry(t, "a.example.com", "include foo")
	second.Catalog.Version = "second"

	if err := store.Put(ctx, first); err != nil {
		t.Fatalf("failed to put first: %v", err)
	}
	if err := store.Put(ctx, second); err != nil {
		t.Fatalf("failed to put second: %v", err)
	}

	n, err := store.Len(ctx)
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 row, got %d", n)
	}

	got, _, _ := store.Get(ctx, first.Digest)
	if got.Catalog.Version == "second" {
		t.Error("expected first entry to be kept")
	}

	if err := store.Put(ctx, &cache.Entry{Digest: "x"}); err == nil {
		t.Error("expected error for entry without catalog")
	}
}

func TestListDeletePurge(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, e := range []*cache.Entry{
		testEntry(t, "a.example.com", "include a"),
		testEntry(t, "a.example.com", "include b"),
		testEntry(t, "b.example.com", "include a"),
	} {
		if err := store.Put(ctx, e); err != nil {
			t.Fatalf("failed to put entry: %v", err)
		}
	}

	all, err := store.ListRecords(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}

	node := "a.example.com"
	filtered, err := store.ListRecords(ctx, &node, 10, 0)
	if err != nil {
		t.Fatalf("failed to list filtered: %v", err)
	}
	if len(filtered) != 2 {
		t.Errorf("expected 2 records for %s, got %d", node, len(filtered))
	}
	for _, rec := range filtered {
		if rec.Resources != 2 {
			t.Errorf("expected resource count 2, got %d", rec.Resources)
		}
	}

	if err := store.DeleteRecord(ctx, filtered[0].Digest); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if err := store.DeleteRecord(ctx, filtered[0].Digest); err == nil {
		t.Error("expected error deleting missing record")
	}

	removed, err := store.Purge(ctx)
	if err != nil {
		t.Fatalf("failed to purge: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 purged rows, got %d", removed)
	}
}

// TestCacheIntegration runs the catalog cache on top of a file-backed store
// and reopens it to check persistence.
func TestCacheIntegration(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalogs.db")

	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	key := testEntry(t, "test.example.com", "include foo").Key
	calls := 0
	compile := func(context.Context) (*engine.Catalog, error) {
		calls++
		return &engine.Catalog{Name: "test.example.com", Resources: []engine.Resource{{Type: "Class", Title: "Foo"}}}, nil
	}

	c := cache.New(cache.WithStore(store))
	if _, err := c.GetOrCompile(ctx, key, compile); err != nil {
		t.Fatalf("first compile failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	c = cache.New(cache.WithStore(reopened))
	catalog, err := c.GetOrCompile(ctx, key, func(context.Context) (*engine.Catalog, error) {
		return nil, errors.New("must not compile")
	})
	if err != nil {
		t.Fatalf("expected persisted hit, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 compilation, got %d", calls)
	}
	if _, ok := catalog.Resource("Class", "Foo"); !ok {
		t.Error("expected Class[Foo] in persisted catalog")
	}
}
