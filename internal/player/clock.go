package player

import "time"

// endSlack is how close to the known track end the position must be for
// the sink-empty state to count as a real finish. Anything earlier is an
// underrun gap, not the end of the track.
const endSlack = 2 * time.Second

// playbackClock extrapolates the playback position from wall time.
// It is mutated only by play/pause/resume/seek; the session guards it.
type playbackClock struct {
	start    time.Time
	startPos time.Duration
	pausedAt time.Duration
	paused   bool
}

func newPlaybackClock() playbackClock {
	return playbackClock{start: time.Now()}
}

// position returns the current playback position. While paused it is
// frozen at the pause point. Once the sink reports empty and the
// extrapolated position has reached the known total, it clamps there so
// the readout stops advancing past the end of the track.
func (c *playbackClock) position(total time.Duration, sinkEmpty bool) time.Duration {
	if c.paused {
		return c.pausedAt
	}

	pos := c.startPos + time.Since(c.start)

	if total > 0 {
		if sinkEmpty && pos >= total {
			return total
		}
		if pos > total {
			return total
		}
	}
	return pos
}

func (c *playbackClock) pause(at time.Duration) {
	c.pausedAt = at
	c.paused = true
}

// resume re-bases the wall-clock origin so elapsed time continues from
// the paused position rather than jumping over the paused interval.
func (c *playbackClock) resume() {
	if !c.paused {
		return
	}
	c.startPos = c.pausedAt
	c.start = time.Now()
	c.paused = false
}

// rebase restarts extrapolation from the given position (used by seek).
func (c *playbackClock) rebase(pos time.Duration) {
	c.startPos = pos
	c.start = time.Now()
	c.paused = false
	c.pausedAt = 0
}
