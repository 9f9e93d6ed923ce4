package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/openfroyo/froyospec/pkg/cache"
	"github.com/openfroyo/froyospec/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const timeLayout = "2006-01-02 15:04:05"

// SQLiteStore implements CatalogStore using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

var _ CatalogStore = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every pooled connection to ":memory:" opens its own database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Open creates, initializes and migrates a store in one call.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.path
	if s.path != ":memory:" {
		dsn = fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Get retrieves a cache entry by key digest
func (s *SQLiteStore) Get(ctx context.Context, digest string) (*cache.Entry, bool, error) {
	query := `
		SELECT id, digest, node, manifest, facts, catalog, resources, compiled_at, duration_ms, created_at
		FROM catalogs
		WHERE digest = ?
	`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, digest))
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get catalog: %w", err)
	}

	entry, err := recordToEntry(rec)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

// Put stores a cache entry. An existing row with the same digest is kept.
func (s *SQLiteStore) Put(ctx context.Context, entry *cache.Entry) error {
	if entry == nil || entry.Catalog == nil {
		return fmt.Errorf("entry has no catalog")
	}

	facts, err := json.Marshal(entry.Key.Facts)
	if err != nil {
		return fmt.Errorf("failed to marshal facts: %w", err)
	}
	catalog, err := json.Marshal(entry.Catalog)
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}

	query := `
		INSERT INTO catalogs (
			id, digest, node, manifest, facts, catalog, resources, compiled_at, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(digest) DO NOTHING
	`

	compiledAt := entry.CompiledAt
	if compiledAt.IsZero() {
		compiledAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, query,
		uuid.NewString(),
		entry.Digest,
		entry.Key.Node,
		entry.Key.Manifest,
		string(facts),
		string(catalog),
		len(entry.Catalog.Resources),
		compiledAt.UTC().Format(timeLayout),
		entry.Duration.Milliseconds(),
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert catalog: %w", err)
	}

	return nil
}

// Len returns the number of stored catalogs
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalogs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count catalogs: %w", err)
	}
	return n, nil
}

// ListRecords lists catalogs with an optional node filter and pagination
func (s *SQLiteStore) ListRecords(ctx context.Context, node *string, limit, offset int) ([]*CatalogRecord, error) {
	query := `
		SELECT id, digest, node, manifest, facts, catalog, resources, compiled_at, duration_ms, created_at
		FROM catalogs
		WHERE (? IS NULL OR node = ?)
		ORDER BY compiled_at DESC, digest
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, node, node, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalogs: %w", err)
	}
	defer rows.Close()

	records := []*CatalogRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan catalog: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating catalogs: %w", err)
	}

	return records, nil
}

// DeleteRecord deletes a catalog by digest
func (s *SQLiteStore) DeleteRecord(ctx context.Context, digest string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM catalogs WHERE digest = ?`, digest)
	if err != nil {
		return fmt.Errorf("failed to delete catalog: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("catalog not found: %s", digest)
	}

	return nil
}

// Purge deletes every stored catalog
func (s *SQLiteStore) Purge(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM catalogs`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge catalogs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// HealthCheck verifies the database connection
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*CatalogRecord, error) {
	rec := &CatalogRecord{}
	err := row.Scan(
		&rec.ID,
		&rec.Digest,
		&rec.Node,
		&rec.Manifest,
		&rec.Facts,
		&rec.Catalog,
		&rec.Resources,
		&rec.CompiledAt,
		&rec.DurationMS,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func recordToEntry(rec *CatalogRecord) (*cache.Entry, error) {
	var catalog engine.Catalog
	if err := json.Unmarshal([]byte(rec.Catalog), &catalog); err != nil {
		return nil, fmt.Errorf("failed to decode catalog %s: %w", rec.Digest, err)
	}

	var facts engine.Facts
	if err := json.Unmarshal([]byte(rec.Facts), &facts); err != nil {
		return nil, fmt.Errorf("failed to decode facts %s: %w", rec.Digest, err)
	}

	return &cache.Entry{
		Digest: rec.Digest,
		Key: cache.Key{
			Node:     rec.Node,
			Facts:    facts,
			Manifest: rec.Manifest,
		},
		Catalog:    &catalog,
		CompiledAt: rec.CompiledAt,
		Duration:   time.Duration(rec.DurationMS) * time.Millisecond,
	}, nil
}
