// Package state persists the small pieces of cross-run state: the last
// rating selection, the wallpaper archive counter, and the mode-2 rotation
// log. Everything lives in a single sqlite file so each run reads its
// prior state at start and commits updates atomically.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Rotation actions for the alternating mode.
const (
	ActionCollage   = "collage"
	ActionLandscape = "landscape"
)

// Rotation is the persisted alternation state: what to do next and how
// many of each action have been performed so far.
type Rotation struct {
	NextAction     string
	CollageCount   int64
	LandscapeCount int64
}

// Store wraps the sqlite state database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the state database at path and
// initializes the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping state db: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	query := `
	CREATE TABLE IF NOT EXISTS selection (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		ratings TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS rotation (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		action TEXT NOT NULL,
		collage_count INTEGER NOT NULL,
		landscape_count INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create state schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Selection returns the persisted rating selection. The second return is
// false when no selection has ever been saved.
func (s *Store) Selection(ctx context.Context) ([]string, bool, error) {
	var joined string
	err := s.db.QueryRowContext(ctx, "SELECT ratings FROM selection WHERE id = 1").Scan(&joined)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read selection: %w", err)
	}
	if joined == "" {
		return nil, true, nil
	}
	return strings.Split(joined, ","), true, nil
}

// SetSelection persists the rating selection, replacing any prior value.
func (s *Store) SetSelection(ctx context.Context, ratings []string) error {
	joined := strings.Join(ratings, ",")
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO selection (id, ratings) VALUES (1, ?) ON CONFLICT(id) DO UPDATE SET ratings = excluded.ratings",
		joined)
	if err != nil {
		return fmt.Errorf("save selection: %w", err)
	}
	return nil
}

// ArchiveSeq returns the last committed archive number, 0 when none has
// been issued yet.
func (s *Store) ArchiveSeq(ctx context.Context) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM counters WHERE name = 'archive'").Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read archive counter: %w", err)
	}
	return value, nil
}

// NextArchiveSeq increments and returns the used-walls archive counter.
// The first call returns 1.
func (s *Store) NextArchiveSeq(ctx context.Context) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO counters (name, value) VALUES ('archive', 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1
		RETURNING value`).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("bump archive counter: %w", err)
	}
	return value, nil
}

// Rotation returns the current alternation state derived from the latest
// log entry. With no history the first action is a collage.
func (s *Store) Rotation(ctx context.Context) (Rotation, error) {
	var last string
	rot := Rotation{NextAction: ActionCollage}
	err := s.db.QueryRowContext(ctx, `
		SELECT action, collage_count, landscape_count
		FROM rotation ORDER BY id DESC LIMIT 1`).
		Scan(&last, &rot.CollageCount, &rot.LandscapeCount)
	if err == sql.ErrNoRows {
		return rot, nil
	}
	if err != nil {
		return Rotation{}, fmt.Errorf("read rotation state: %w", err)
	}
	if last == ActionCollage {
		rot.NextAction = ActionLandscape
	} else {
		rot.NextAction = ActionCollage
	}
	return rot, nil
}

// RecordRotation appends a performed action to the rotation log, carrying
// the running totals forward. Callers invoke this only after the wallpaper
// was actually set, so a failed run never advances the alternation.
func (s *Store) RecordRotation(ctx context.Context, action string) error {
	if action != ActionCollage && action != ActionLandscape {
		return fmt.Errorf("unknown rotation action %q", action)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotation tx: %w", err)
	}
	defer tx.Rollback()

	var collages, landscapes int64
	err = tx.QueryRowContext(ctx, `
		SELECT collage_count, landscape_count
		FROM rotation ORDER BY id DESC LIMIT 1`).Scan(&collages, &landscapes)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read rotation totals: %w", err)
	}
	if action == ActionCollage {
		collages++
	} else {
		landscapes++
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO rotation (ts, action, collage_count, landscape_count) VALUES (?, ?, ?, ?)",
		time.Now().Unix(), action, collages, landscapes)
	if err != nil {
		return fmt.Errorf("append rotation entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rotation entry: %w", err)
	}
	return nil
}
