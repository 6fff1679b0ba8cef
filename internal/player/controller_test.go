package player

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeSession records transport calls so the controller's dispatch can be
// asserted without touching the network or the audio device.
type fakeSession struct {
	mu       sync.Mutex
	paused   bool
	stopped  bool
	gain     float64
	position time.Duration
	duration time.Duration
	hasDur   bool
	finished bool
	seekErr  error
	seekedTo time.Duration
}

func (f *fakeSession) Pause()  { f.mu.Lock(); f.paused = true; f.mu.Unlock() }
func (f *fakeSession) Resume() { f.mu.Lock(); f.paused = false; f.mu.Unlock() }
func (f *fakeSession) Stop()   { f.mu.Lock(); f.stopped = true; f.mu.Unlock() }

func (f *fakeSession) SetGain(g float64) { f.mu.Lock(); f.gain = g; f.mu.Unlock() }

func (f *fakeSession) Seek(pos time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seekErr != nil {
		return f.seekErr
	}
	f.seekedTo = pos
	return nil
}

func (f *fakeSession) Position() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

func (f *fakeSession) Duration() (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.duration, f.hasDur
}

func (f *fakeSession) IsFinished() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finished
}

// newTestController builds a controller around an injected session
// factory and starts its worker loop, so the factory is in place before
// the goroutine can observe it.
func newTestController(t *testing.T, factory func(SessionConfig) (playerSession, error), opts Options) *Controller {
	t.Helper()
	if opts.QualityFactor <= 0 {
		opts.QualityFactor = 1.0
	}
	c := &Controller{
		opts:       opts,
		cmds:       make(chan Command, commandQueueDepth),
		quit:       make(chan struct{}),
		volume:     1.0,
		newSession: factory,
	}
	go c.loop()
	t.Cleanup(c.Close)
	return c
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestControllerPlayPublishesSnapshot(t *testing.T) {
	sess := &fakeSession{position: 7 * time.Second, duration: time.Minute, hasDur: true}
	started := make(chan uint64, 1)

	c := newTestController(t, func(cfg SessionConfig) (playerSession, error) {
		if cfg.TrackID != 42 {
			t.Errorf("TrackID = %d, want 42", cfg.TrackID)
		}
		if cfg.PrefetchedURL != "https://cdn.example.com/direct" {
			t.Errorf("PrefetchedURL = %q", cfg.PrefetchedURL)
		}
		return sess, nil
	}, Options{OnTrackStarted: func(id uint64) { started <- id }})

	c.Play(PlayCommand{URL: "https://api.example.com/stream", TrackID: 42,
		DurationMS: 60000, PrefetchedURL: "https://cdn.example.com/direct"})

	waitFor(t, func() bool {
		snap := c.Snapshot()
		return snap.Position == 7*time.Second && snap.HasDuration
	}, "snapshot never reflected the fake session")

	select {
	case id := <-started:
		if id != 42 {
			t.Errorf("OnTrackStarted(%d), want 42", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnTrackStarted never fired")
	}
}

func TestControllerPlayReplacesActiveSession(t *testing.T) {
	first := &fakeSession{}
	second := &fakeSession{}
	sessions := []*fakeSession{first, second}
	i := 0

	c := newTestController(t, func(SessionConfig) (playerSession, error) {
		s := sessions[i]
		i++
		return s, nil
	}, Options{})

	c.Play(PlayCommand{TrackID: 1})
	c.Play(PlayCommand{TrackID: 2})

	waitFor(t, func() bool {
		first.mu.Lock()
		defer first.mu.Unlock()
		return first.stopped
	}, "first session was not stopped by the second play")
}

func TestControllerPlayFailureMarksFinished(t *testing.T) {
	c := newTestController(t, func(SessionConfig) (playerSession, error) {
		return nil, errors.New("cdn unreachable")
	}, Options{})

	c.Play(PlayCommand{TrackID: 1})

	waitFor(t, func() bool {
		return c.Snapshot().Finished
	}, "failed play must publish finished so the queue can advance")
}

func TestControllerPlayClearsFinishedAtEnqueue(t *testing.T) {
	// No worker loop: the command stays queued, so the snapshot can only
	// change through Play itself. A poller between enqueue and apply must
	// not see the previous track's finished flag, or it would advance the
	// queue a second time.
	c := &Controller{
		cmds: make(chan Command, commandQueueDepth),
		quit: make(chan struct{}),
		newSession: func(SessionConfig) (playerSession, error) {
			return &fakeSession{}, nil
		},
	}
	c.setFinished(true)

	c.Play(PlayCommand{TrackID: 2})

	if c.Snapshot().Finished {
		t.Error("Play left the finished flag published before the worker applied the command")
	}
}

func TestControllerStopClearsSnapshot(t *testing.T) {
	sess := &fakeSession{position: 30 * time.Second, duration: time.Minute, hasDur: true}
	c := newTestController(t, func(SessionConfig) (playerSession, error) {
		return sess, nil
	}, Options{})

	c.Play(PlayCommand{TrackID: 1})
	waitFor(t, func() bool {
		return c.Snapshot().Position == 30*time.Second
	}, "snapshot never published")

	before := c.Session()
	c.Stop()

	waitFor(t, func() bool {
		snap := c.Snapshot()
		return snap.Finished && snap.Position == 0 && !snap.HasDuration
	}, "stop must zero position and duration and set finished")

	if c.Session() == before {
		t.Error("Stop must bump the session counter")
	}
	sess.mu.Lock()
	stopped := sess.stopped
	sess.mu.Unlock()
	if !stopped {
		t.Error("active session was not stopped")
	}
}

func TestControllerVolumeClampAndApply(t *testing.T) {
	sess := &fakeSession{}
	c := newTestController(t, func(SessionConfig) (playerSession, error) {
		return sess, nil
	}, Options{})

	c.Play(PlayCommand{TrackID: 1})
	c.SetVolume(1.8)

	waitFor(t, func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.gain == 1.0
	}, "clamped volume never reached the session")

	if got := c.Volume(); got != 1.0 {
		t.Errorf("Volume() = %v, want 1.0", got)
	}
}

func TestControllerVolumeAppliesToNextSession(t *testing.T) {
	var got float64
	var mu sync.Mutex
	c := newTestController(t, func(cfg SessionConfig) (playerSession, error) {
		mu.Lock()
		got = cfg.Gain
		mu.Unlock()
		return &fakeSession{}, nil
	}, Options{})

	c.SetVolume(0.3)
	c.Play(PlayCommand{TrackID: 1})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == 0.3
	}, "volume set before play must carry into the new session")
}

func TestControllerSeekDispatch(t *testing.T) {
	sess := &fakeSession{}
	c := newTestController(t, func(SessionConfig) (playerSession, error) {
		return sess, nil
	}, Options{})

	c.Play(PlayCommand{TrackID: 1})
	c.Seek(90 * time.Second)

	waitFor(t, func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.seekedTo == 90*time.Second
	}, "seek never reached the session")
}

func TestControllerSeekFailureDropsSession(t *testing.T) {
	sess := &fakeSession{seekErr: ErrSeekFailed}
	c := newTestController(t, func(SessionConfig) (playerSession, error) {
		return sess, nil
	}, Options{})

	c.Play(PlayCommand{TrackID: 1})
	c.Seek(time.Minute)

	waitFor(t, func() bool {
		return c.Snapshot().Finished
	}, "failed seek must publish finished")

	sess.mu.Lock()
	stopped := sess.stopped
	sess.mu.Unlock()
	if !stopped {
		t.Error("failed seek must stop the broken session")
	}
}

func TestControllerSessionCounter(t *testing.T) {
	c := newTestController(t, func(SessionConfig) (playerSession, error) {
		return &fakeSession{}, nil
	}, Options{})

	start := c.Session()
	c.Play(PlayCommand{TrackID: 1})
	c.Seek(time.Second)
	c.Stop()

	if got := c.Session(); got != start+3 {
		t.Errorf("Session() = %d, want %d (play, seek and stop each bump it)", got, start+3)
	}
}

func TestControllerPauseResume(t *testing.T) {
	sess := &fakeSession{}
	c := newTestController(t, func(SessionConfig) (playerSession, error) {
		return sess, nil
	}, Options{})

	c.Play(PlayCommand{TrackID: 1})
	c.Pause()

	waitFor(t, func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.paused
	}, "pause never reached the session")

	c.Resume()
	waitFor(t, func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return !sess.paused
	}, "resume never reached the session")
}
