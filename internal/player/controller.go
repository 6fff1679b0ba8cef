package player

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ysokolov/cloudamp/internal/api"
	"github.com/ysokolov/cloudamp/internal/config"
)

const (
	// pollInterval paces the controller loop; position and finished
	// snapshots are published at ~20Hz.
	pollInterval = 50 * time.Millisecond

	// commandQueueDepth buffers commands between caller and worker.
	// Sends block rather than drop once it is full, preserving the
	// commands-are-never-dropped guarantee.
	commandQueueDepth = 128
)

// playerSession is the surface the controller drives. *Session satisfies
// it; tests substitute fakes.
type playerSession interface {
	Pause()
	Resume()
	Stop()
	SetGain(float64)
	Seek(time.Duration) error
	Position() time.Duration
	Duration() (time.Duration, bool)
	IsFinished() bool
}

// Snapshot is the published view of playback state, polled by the UI
// goroutine. It may lag true state by up to one poll interval.
type Snapshot struct {
	Position    time.Duration
	Duration    time.Duration
	HasDuration bool
	Finished    bool
}

// Options configures optional controller collaborators.
type Options struct {
	// Bands, when non-nil, enables the frequency analyzer for every
	// session this controller creates.
	Bands *BandEnergy
	// QualityFactor scales the source's adaptive timeouts.
	QualityFactor float64
	// OnTrackStarted is invoked on the worker goroutine when a track's
	// audio actually starts (not on mere selection). History recording
	// hangs off this.
	OnTrackStarted func(trackID uint64)
}

// Controller serializes transport commands onto one dedicated worker
// goroutine and drives at most one Session at a time. Callers never
// block on network or device work; they enqueue commands and poll
// Snapshot.
type Controller struct {
	client *api.Client
	opts   Options

	cmds chan Command
	quit chan struct{}

	// session counter tags asynchronous results; bumped on every
	// user-initiated transport change so stale results can be discarded.
	session atomic.Uint64

	mu       sync.Mutex
	snapshot Snapshot
	volume   float64

	// newSession is swapped out by tests.
	newSession func(SessionConfig) (playerSession, error)
}

// NewController starts the worker goroutine. It runs until Close.
func NewController(client *api.Client, opts Options) *Controller {
	if opts.QualityFactor <= 0 {
		opts.QualityFactor = 1.0
	}
	c := &Controller{
		client: client,
		opts:   opts,
		cmds:   make(chan Command, commandQueueDepth),
		quit:   make(chan struct{}),
		volume: 1.0,
		newSession: func(cfg SessionConfig) (playerSession, error) {
			return NewSession(cfg)
		},
	}
	go c.loop()
	return c
}

// Play enqueues a Play command. Bumps the session counter: any in-flight
// prefetch or fetch tagged with an older session is now stale. The
// published finished flag is cleared here, at enqueue time, so a poll
// landing before the worker picks the command up cannot observe the
// previous track's finished state against the new selection.
func (c *Controller) Play(cmd PlayCommand) {
	c.session.Add(1)
	c.setFinished(false)
	c.send(cmd)
}

func (c *Controller) Pause()  { c.send(PauseCommand{}) }
func (c *Controller) Resume() { c.send(ResumeCommand{}) }

// Stop enqueues a Stop command and invalidates in-flight async results.
func (c *Controller) Stop() {
	c.session.Add(1)
	c.send(StopCommand{})
}

// SetVolume clamps and enqueues a volume change.
func (c *Controller) SetVolume(volume float64) {
	c.send(SetVolumeCommand{Volume: config.ClampVolume(volume)})
}

// Seek enqueues a seek; the network round-trip happens on the worker
// goroutine, never on the caller's. Invalidates in-flight async results.
func (c *Controller) Seek(pos time.Duration) {
	c.session.Add(1)
	c.send(SeekCommand{Position: pos})
}

func (c *Controller) send(cmd Command) {
	select {
	case c.cmds <- cmd:
	case <-c.quit:
	}
}

// Session returns the live session counter. Async dispatchers capture it
// at issue time and compare on delivery.
func (c *Controller) Session() uint64 {
	return c.session.Load()
}

// Snapshot returns the most recently published playback state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Volume returns the currently configured volume.
func (c *Controller) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// Close stops the worker goroutine, tearing down any active session.
func (c *Controller) Close() {
	close(c.quit)
}

func (c *Controller) loop() {
	var active playerSession

	for {
		select {
		case <-c.quit:
			if active != nil {
				active.Stop()
			}
			return
		default:
		}

		// Drain all pending commands without blocking, in send order.
	drain:
		for {
			select {
			case cmd := <-c.cmds:
				active = c.apply(active, cmd)
			default:
				break drain
			}
		}

		if active != nil {
			c.publish(active)
		}

		time.Sleep(pollInterval)
	}
}

func (c *Controller) apply(active playerSession, cmd Command) playerSession {
	switch cmd := cmd.(type) {
	case PlayCommand:
		return c.play(active, cmd)

	case PauseCommand:
		if active != nil {
			active.Pause()
		}

	case ResumeCommand:
		if active != nil {
			active.Resume()
		}

	case StopCommand:
		if active != nil {
			active.Stop()
			active = nil
		}
		c.mu.Lock()
		c.snapshot = Snapshot{Finished: true}
		c.mu.Unlock()
		return nil

	case SetVolumeCommand:
		c.mu.Lock()
		c.volume = cmd.Volume
		c.mu.Unlock()
		if active != nil {
			active.SetGain(cmd.Volume)
		}

	case SeekCommand:
		if active == nil {
			return nil
		}
		// Clear finished before the rebuild so a stale reading cannot
		// leak out mid-seek.
		c.setFinished(false)
		if err := active.Seek(cmd.Position); err != nil {
			// Playback is lost: the old sink was already discarded.
			log.Error().Err(err).Msg("Seek failed, dropping session")
			active.Stop()
			c.setFinished(true)
			return nil
		}
	}
	return active
}

func (c *Controller) play(active playerSession, cmd PlayCommand) playerSession {
	log.Info().Msgf("Play command for track %d (duration: %dms, history: %v)",
		cmd.TrackID, cmd.DurationMS, cmd.HistoryTrack)

	// Clear finished before constructing the new session so a stale
	// finished reading cannot leak into the gap while the old session
	// is torn down.
	c.setFinished(false)

	if active != nil {
		log.Debug().Msg("Stopping previous session")
		active.Stop()
	}

	c.mu.Lock()
	volume := c.volume
	c.mu.Unlock()

	sess, err := c.newSession(SessionConfig{
		Client:        c.client,
		StreamURL:     cmd.URL,
		Token:         cmd.Token,
		TrackID:       cmd.TrackID,
		DurationMS:    cmd.DurationMS,
		HistoryTrack:  cmd.HistoryTrack,
		PrefetchedURL: cmd.PrefetchedURL,
		Gain:          volume,
		QualityFactor: c.opts.QualityFactor,
		Bands:         c.opts.Bands,
	})
	if err != nil {
		log.Error().Err(err).Msgf("Failed to start playback for track %d", cmd.TrackID)
		c.setFinished(true)
		return nil
	}

	sess.SetGain(volume)

	if c.opts.OnTrackStarted != nil {
		c.opts.OnTrackStarted(cmd.TrackID)
	}
	return sess
}

func (c *Controller) publish(active playerSession) {
	dur, hasDur := active.Duration()
	snap := Snapshot{
		Position:    active.Position(),
		Duration:    dur,
		HasDuration: hasDur,
		Finished:    active.IsFinished(),
	}

	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()
}

func (c *Controller) setFinished(finished bool) {
	c.mu.Lock()
	c.snapshot.Finished = finished
	c.mu.Unlock()
}
