// Package track defines the track model shared by the queue, the playback
// engine and the history store.
package track

import (
	"fmt"
	"time"
)

// Track is a single playable item. StreamURL is the API endpoint that
// redirects to the actual media URL; it is resolved lazily by the engine.
type Track struct {
	ID           uint64 `json:"id"`
	Title        string `json:"title"`
	Artist       string `json:"artist"`
	Genre        string `json:"genre,omitempty"`
	DurationMS   uint64 `json:"duration"`
	StreamURL    string `json:"stream_url"`
	PermalinkURL string `json:"permalink_url,omitempty"`

	// FromHistory marks tracks replayed from the local history store.
	// These need an extra API round-trip before audio flows, so the
	// source grants them a longer initial-buffering timeout.
	FromHistory bool `json:"-"`
}

// Duration returns the track length as a time.Duration.
func (t *Track) Duration() time.Duration {
	return time.Duration(t.DurationMS) * time.Millisecond
}

// Streamable reports whether the track has a resolvable stream URL.
func (t *Track) Streamable() bool {
	return t.StreamURL != ""
}

// Label returns "Artist - Title" for display, falling back to whichever
// field is present.
func (t *Track) Label() string {
	switch {
	case t.Artist != "" && t.Title != "":
		return fmt.Sprintf("%s - %s", t.Artist, t.Title)
	case t.Title != "":
		return t.Title
	default:
		return fmt.Sprintf("track %d", t.ID)
	}
}
