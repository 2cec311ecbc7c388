package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"travel-router/internal/models"

	_ "modernc.org/sqlite"
)

const (
	DefaultDBFileName = "places.db"
	schemaVersion     = 1
)

// PlaceDetailsRepository persists descriptive place details between restarts
type PlaceDetailsRepository interface {
	// Get returns nil, nil when the entry is missing or older than maxAge
	Get(ctx context.Context, placeID string, maxAge time.Duration) (*models.PlaceDetails, error)
	Put(ctx context.Context, placeID string, details *models.PlaceDetails) error
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Store is a SQLite-backed store for place details
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
	now    func() time.Time

	placeDetailsRepo PlaceDetailsRepository
}

// New creates a new SQLite store at the specified path
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	log.Printf("[SQLITE] Opening database: path=%s", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -16000", // 16MB cache
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	store := &Store{
		db:     db,
		dbPath: dbPath,
		now:    time.Now,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	store.placeDetailsRepo = &placeDetailsRepository{store: store}

	return store, nil
}

// GetDBPath returns the current database file path
func (s *Store) GetDBPath() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		return s.createSchema()
	}

	if version < schemaVersion {
		if err := s.runMigrations(version); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);
	INSERT INTO schema_version (version) VALUES (1);

	CREATE TABLE IF NOT EXISTS place_details (
		place_id TEXT PRIMARY KEY,
		address TEXT NOT NULL DEFAULT '',
		website TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		hours TEXT NOT NULL DEFAULT '[]',
		fetched_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_place_details_fetched ON place_details(fetched_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	log.Printf("[SQLITE] Schema initialized: version=%d", schemaVersion)
	return nil
}

func (s *Store) runMigrations(fromVersion int) error {
	log.Printf("[SQLITE] Migrating schema: from=%d to=%d", fromVersion, schemaVersion)
	_, err := s.db.Exec("UPDATE schema_version SET version = ?", schemaVersion)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

// HealthCheck verifies the database connection
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) PlaceDetails() PlaceDetailsRepository { return s.placeDetailsRepo }

// PruneDetailsEvery drops place details older than ttl right away and then on
// every tick of interval. It returns when ctx is cancelled.
func (s *Store) PruneDetailsEvery(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		pruneCtx, cancel := context.WithTimeout(ctx, time.Minute)
		n, err := s.placeDetailsRepo.Prune(pruneCtx, ttl)
		cancel()
		switch {
		case err != nil && ctx.Err() == nil:
			log.Printf("[ERROR] Failed to prune place details: err=%v", err)
		case n > 0:
			log.Printf("[SQLITE] Pruned expired place details: rows=%d", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
