// Package history persists played tracks to a local sqlite database.
// The engine emits exactly one record per track whose audio actually
// started; selection alone never records.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/ysokolov/cloudamp/internal/track"
)

const schema = `
CREATE TABLE IF NOT EXISTS plays (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	track_id   INTEGER NOT NULL,
	title      TEXT NOT NULL,
	artist     TEXT NOT NULL,
	duration   INTEGER NOT NULL,
	stream_url TEXT NOT NULL,
	played_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_plays_played_at ON plays(played_at DESC);
`

// Store records and lists played tracks.
type Store struct {
	db *sql.DB
}

// Open creates the database file (and parent directory) if needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordPlay inserts one play event for the track.
func (s *Store) RecordPlay(t track.Track) error {
	_, err := s.db.Exec(
		`INSERT INTO plays (track_id, title, artist, duration, stream_url, played_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Artist, t.DurationMS, t.StreamURL, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record play: %w", err)
	}
	log.Debug().Msgf("Recorded play for track %d", t.ID)
	return nil
}

// Recent returns the most recently played tracks, newest first, with
// duplicates collapsed to their latest play. Returned tracks are marked
// FromHistory so replays get the longer initial-buffering timeout.
func (s *Store) Recent(limit int) ([]track.Track, error) {
	rows, err := s.db.Query(
		`SELECT track_id, title, artist, duration, stream_url, MAX(played_at)
		 FROM plays GROUP BY track_id ORDER BY MAX(played_at) DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var tracks []track.Track
	for rows.Next() {
		var t track.Track
		var playedAt int64
		if err := rows.Scan(&t.ID, &t.Title, &t.Artist, &t.DurationMS, &t.StreamURL, &playedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		t.FromHistory = true
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}
