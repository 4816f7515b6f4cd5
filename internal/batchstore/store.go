// Package batchstore durably persists the consolidated review list so an
// interrupted review survives a process restart. Each user owns one named
// slot; the TTL is enforced here on read, not by the database.
package batchstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/akazmin/batchlens/internal/models"
)

// TTL is how long a stored batch stays loadable before it is treated as
// absent and purged.
const TTL = 24 * time.Hour

type Store struct {
	conn *sql.DB
	now  func() time.Time
}

func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{conn: conn, now: time.Now}
	if err := store.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *Store) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS batch_slots (
		slot TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`

	_, err := s.conn.Exec(query)
	return err
}

// Save overwrites the slot with results stamped at the current time. Saving
// an empty list clears the slot instead.
func (s *Store) Save(slot string, results []models.ConsolidatedResult) error {
	if len(results) == 0 {
		return s.Clear(slot)
	}

	batch := models.StoredBatch{
		Results:   results,
		Timestamp: s.now(),
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	query := `INSERT OR REPLACE INTO batch_slots (slot, payload, updated_at) VALUES (?, ?, ?)`
	if _, err := s.conn.Exec(query, slot, string(data), batch.Timestamp); err != nil {
		return fmt.Errorf("failed to save batch: %w", err)
	}

	return nil
}

// Load returns the stored batch, or nil when the slot is empty, expired or
// corrupt. Expired and corrupt batches are purged as a side effect.
func (s *Store) Load(slot string) (*models.StoredBatch, error) {
	var payload string
	err := s.conn.QueryRow(`SELECT payload FROM batch_slots WHERE slot = ?`, slot).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}

	var batch models.StoredBatch
	if err := json.Unmarshal([]byte(payload), &batch); err != nil {
		slog.Warn("[STORE] discarding corrupt stored batch", "slot", slot, "error", err)
		if clearErr := s.Clear(slot); clearErr != nil {
			return nil, clearErr
		}
		return nil, nil
	}

	if s.now().Sub(batch.Timestamp) > TTL {
		slog.Info("[STORE] discarding expired stored batch", "slot", slot, "age", s.now().Sub(batch.Timestamp))
		if err := s.Clear(slot); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return &batch, nil
}

func (s *Store) Clear(slot string) error {
	if _, err := s.conn.Exec(`DELETE FROM batch_slots WHERE slot = ?`, slot); err != nil {
		return fmt.Errorf("failed to clear batch: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}
