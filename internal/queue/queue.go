// Package queue holds the playback order. Only the operations the engine
// consumes live here; shuffle and repeat bookkeeping belong to the shell.
package queue

import (
	"sync"

	"github.com/ysokolov/cloudamp/internal/track"
)

// Queue is a position-cursor over an ordered track list. Safe for use
// from the UI goroutine and the engine's polling loop concurrently.
type Queue struct {
	mu     sync.Mutex
	tracks []track.Track
	index  int
}

func New() *Queue {
	return &Queue{index: -1}
}

// Load replaces the queue contents and resets the cursor before the
// first track.
func (q *Queue) Load(tracks []track.Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tracks = append([]track.Track(nil), tracks...)
	q.index = -1
}

// Append adds tracks to the end without moving the cursor.
func (q *Queue) Append(tracks ...track.Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tracks = append(q.tracks, tracks...)
}

// Current returns the track under the cursor.
func (q *Queue) Current() (track.Track, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.index < 0 || q.index >= len(q.tracks) {
		return track.Track{}, false
	}
	return q.tracks[q.index], true
}

// Next advances the cursor and returns the new current track.
func (q *Queue) Next() (track.Track, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.index+1 >= len(q.tracks) {
		return track.Track{}, false
	}
	q.index++
	return q.tracks[q.index], true
}

// Previous moves the cursor back and returns the new current track.
func (q *Queue) Previous() (track.Track, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.index <= 0 {
		return track.Track{}, false
	}
	q.index--
	return q.tracks[q.index], true
}

// PeekNext returns the upcoming track without moving the cursor. The
// prefetcher polls this.
func (q *Queue) PeekNext() (track.Track, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.index+1 >= len(q.tracks) {
		return track.Track{}, false
	}
	return q.tracks[q.index+1], true
}

// JumpTo moves the cursor to the track with the given ID.
func (q *Queue) JumpTo(id uint64) (track.Track, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, t := range q.tracks {
		if t.ID == id {
			q.index = i
			return t, true
		}
	}
	return track.Track{}, false
}

// JumpToIndex moves the cursor to the given position. Unlike JumpTo it
// is unambiguous when the same track ID appears more than once.
func (q *Queue) JumpToIndex(i int) (track.Track, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i < 0 || i >= len(q.tracks) {
		return track.Track{}, false
	}
	q.index = i
	return q.tracks[i], true
}

// Len reports the number of queued tracks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tracks)
}

// Tracks returns a copy of the queue contents for display.
func (q *Queue) Tracks() []track.Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]track.Track(nil), q.tracks...)
}
