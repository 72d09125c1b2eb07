package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/raine/ewaste-quote/internal/ewaste"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// DetectionCache persists detection results keyed by a digest of the image
// and model that produced them.
type DetectionCache interface {
	GetDetections(key string) (ewaste.DetectionSet, bool, error)
	SetDetections(key string, detections ewaste.DetectionSet) error
}

// SQLiteStore implements DetectionCache using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (creating if needed) the SQLite database at dbPath.
// Use ":memory:" for a throwaway store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL and a busy timeout let parallel CLI invocations share one file.
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) && dbPath != ":memory:" {
		log.Warn().Err(err).Str("dbPath", dbPath).Msg("failed to restrict database permissions")
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	query := `
	CREATE TABLE IF NOT EXISTS detection_cache (
		cache_key TEXT PRIMARY KEY,
		detections TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create detection_cache table: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetDetections returns the cached detections for key. The boolean is false
// when there is no entry.
func (s *SQLiteStore) GetDetections(key string) (ewaste.DetectionSet, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err := s.db.QueryRow(
		"SELECT detections FROM detection_cache WHERE cache_key = ?",
		key,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query detection cache: %w", err)
	}

	detections := ewaste.DetectionSet{}
	if err := json.Unmarshal([]byte(payload), &detections); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached detections: %w", err)
	}
	return detections, true, nil
}

// SetDetections stores detections under key, replacing any previous entry.
func (s *SQLiteStore) SetDetections(key string, detections ewaste.DetectionSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(detections)
	if err != nil {
		return fmt.Errorf("failed to encode detections: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO detection_cache (cache_key, detections, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			detections = excluded.detections,
			created_at = excluded.created_at
	`, key, string(payload), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save detection cache: %w", err)
	}
	return nil
}

// PruneDetections deletes entries created before cutoff and returns how many
// were removed.
func (s *SQLiteStore) PruneDetections(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM detection_cache WHERE created_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune detection cache: %w", err)
	}
	return res.RowsAffected()
}
