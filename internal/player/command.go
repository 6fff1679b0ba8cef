package player

import "time"

// Command is a transport command consumed by the Controller strictly in
// send order. Exactly one of the concrete types below flows through the
// command channel at a time.
type Command interface {
	isCommand()
}

// PlayCommand loads and starts a new track, replacing any active session.
// PrefetchedURL, when set, is an already-resolved direct media URL that
// lets the pipeline skip redirect resolution entirely.
type PlayCommand struct {
	URL           string
	Token         string
	TrackID       uint64
	DurationMS    uint64
	HistoryTrack  bool
	PrefetchedURL string
}

// PauseCommand freezes playback and the position clock.
type PauseCommand struct{}

// ResumeCommand continues playback, re-basing the clock at the paused
// position.
type ResumeCommand struct{}

// StopCommand drops the active session, zeroes position and clears the
// duration.
type StopCommand struct{}

// SetVolumeCommand persists the volume for future sessions and applies it
// to the active one. The value is clamped to [0, 1].
type SetVolumeCommand struct {
	Volume float64
}

// SeekCommand repositions playback. The network round-trip runs on the
// controller goroutine, never on the caller's.
type SeekCommand struct {
	Position time.Duration
}

func (PlayCommand) isCommand()      {}
func (PauseCommand) isCommand()     {}
func (ResumeCommand) isCommand()    {}
func (StopCommand) isCommand()      {}
func (SetVolumeCommand) isCommand() {}
func (SeekCommand) isCommand()      {}
