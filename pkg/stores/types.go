package stores

import (
	"context"
	"time"

	"github.com/openfroyo/froyospec/pkg/cache"
)

// CatalogRecord is a persisted catalog row.
type CatalogRecord struct {
	ID         string    `json:"id"`
	Digest     string    `json:"digest"`
	Node       string    `json:"node"`
	Manifest   string    `json:"manifest"`
	Facts      string    `json:"facts"`   // JSON blob
	Catalog    string    `json:"catalog"` // JSON blob
	Resources  int       `json:"resources"`
	CompiledAt time.Time `json:"compiled_at"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// CatalogStore is a cache.Store with maintenance operations.
type CatalogStore interface {
	cache.Store

	// ListRecords lists stored catalogs, newest first, optionally filtered by node.
	ListRecords(ctx context.Context, node *string, limit, offset int) ([]*CatalogRecord, error)

	// DeleteRecord removes one catalog by digest.
	DeleteRecord(ctx context.Context, digest string) error

	// Purge removes every stored catalog and returns how many were removed.
	Purge(ctx context.Context) (int64, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the backend.
	Close() error
}
