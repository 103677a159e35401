// Package localstate persists the few values the daemon must remember
// across restarts: the user's sharing intent and the selected radius.
package localstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Keys in the local_state table.
const (
	KeySharingIntent   = "sharing_intent"
	KeyProximityRadius = "proximity_radius"
)

// Store reads and writes local_state.
type Store struct {
	db *sql.DB
}

// New creates a Store on an opened, migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// SharingIntent returns the persisted intent; false when never written.
func (s *Store) SharingIntent(ctx context.Context) (bool, error) {
	v, ok, err := s.get(ctx, KeySharingIntent)
	if err != nil || !ok {
		return false, err
	}
	intent, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s %q: %w", KeySharingIntent, v, err)
	}
	return intent, nil
}

// SaveSharingIntent persists the intent.
func (s *Store) SaveSharingIntent(ctx context.Context, intent bool) error {
	return s.set(ctx, KeySharingIntent, strconv.FormatBool(intent))
}

// Radius returns the persisted radius, or fallback when none is stored or
// the stored value is not accepted by valid.
func (s *Store) Radius(ctx context.Context, fallback int, valid func(int) bool) (int, error) {
	v, ok, err := s.get(ctx, KeyProximityRadius)
	if err != nil {
		return fallback, err
	}
	if !ok {
		return fallback, nil
	}
	r, err := strconv.Atoi(v)
	if err != nil || (valid != nil && !valid(r)) {
		return fallback, nil
	}
	return r, nil
}

// SaveRadius persists the selected radius.
func (s *Store) SaveRadius(ctx context.Context, meters int) error {
	return s.set(ctx, KeyProximityRadius, strconv.Itoa(meters))
}

func (s *Store) get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM local_state WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO local_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}
