package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ysokolov/cloudamp/internal/api"
	"github.com/ysokolov/cloudamp/internal/config"
)

const (
	// sampleQueueDepth bounds the pipeline→source queue in decoded
	// batches; the pipeline blocks once the consumer is this far behind.
	sampleQueueDepth = 512
	// analyzerQueueDepth bounds both analyzer queues; producers drop
	// batches rather than stall when the analyzer lags.
	analyzerQueueDepth = 64

	// seekBytesPerSecond estimates the byte offset for a seek target
	// assuming a constant 128kbps stream. Variable-bitrate files land
	// imprecisely; the first audible frames after a jump may be off.
	seekBytesPerSecond = 16_000

	// seekAttempts bounds the resolve→ranged-GET→rebuild cycle.
	seekAttempts = 3
	seekBackoff  = 500 * time.Millisecond

	// teardownWait caps how long the detached cleanup helper waits for
	// an old pipeline goroutine; stop/seek/replace never block on it.
	teardownWait = 2 * time.Second
)

// ErrSeekFailed is returned when every seek attempt has been exhausted.
// The old sink is already gone by then: playback is lost, not paused.
var ErrSeekFailed = errors.New("seek failed after all attempts")

// SessionConfig carries everything needed to start playing one track.
type SessionConfig struct {
	Client        *api.Client
	StreamURL     string
	Token         string
	TrackID       uint64
	DurationMS    uint64
	HistoryTrack  bool
	PrefetchedURL string
	Gain          float64
	QualityFactor float64
	// Bands enables the frequency analyzer tap; nil disables it and none
	// of its queues or goroutine are created.
	Bands *BandEnergy
}

// Session owns one sink and one pipeline for the currently loaded track,
// plus position and duration bookkeeping. Its methods are driven by the
// controller goroutine.
type Session struct {
	mu sync.Mutex

	client *api.Client
	cfg    SessionConfig

	sink     *sink
	pipeline *pipeline
	finished *atomic.Bool
	clock    playbackClock

	total time.Duration // 0 = unknown
	gain  float64

	// makeSink builds the audio sink; tests swap it out so no speaker is
	// opened.
	makeSink func(*sampleSource, float64) (*sink, error)
}

// NewSession starts streaming and playing the configured track. Audio
// becomes audible as soon as the first decoded frames arrive; the network
// work happens on the pipeline's own goroutine.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Client == nil {
		return nil, errors.New("session requires an api client")
	}

	s := &Session{
		client:   cfg.Client,
		cfg:      cfg,
		total:    time.Duration(cfg.DurationMS) * time.Millisecond,
		gain:     config.ClampVolume(cfg.Gain),
		makeSink: newSink,
	}
	if s.total > 0 {
		log.Debug().Msgf("Starting session for track %d (%v)", cfg.TrackID, s.total)
	} else {
		log.Warn().Msgf("Track %d has unknown duration", cfg.TrackID)
	}

	pl, src, err := s.buildChain()
	if err != nil {
		return nil, err
	}
	pl.start(cfg.StreamURL, cfg.Token, cfg.PrefetchedURL, 0)

	snk, err := s.makeSink(src, s.gain)
	if err != nil {
		pl.shutdown()
		src.release()
		return nil, err
	}

	s.pipeline = pl
	s.sink = snk
	s.clock = newPlaybackClock()
	return s, nil
}

// buildChain wires finished flag, queues, optional analyzer, pipeline and
// source: everything downstream of the network except the sink.
func (s *Session) buildChain() (*pipeline, *sampleSource, error) {
	finished := &atomic.Bool{}
	samples := make(chan []int16, sampleQueueDepth)

	var downloadTap, playbackTap chan []int16
	if s.cfg.Bands != nil {
		downloadTap = make(chan []int16, analyzerQueueDepth)
		playbackTap = make(chan []int16, analyzerQueueDepth)
		go newAnalyzer(s.cfg.Bands, downloadTap, playbackTap).run()
	}

	pl := newPipeline(s.client, samples, downloadTap, finished)
	src := newSampleSource(samples, playbackTap, finished, s.cfg.HistoryTrack, s.cfg.QualityFactor)
	s.finished = finished
	return pl, src, nil
}

// Pause freezes playback and the position clock.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clock.paused {
		return
	}
	pos := s.clock.position(s.total, s.sink.empty())
	s.sink.pause()
	s.clock.pause(pos)
	log.Debug().Msgf("Paused at %v", pos)
}

// Resume continues playback from the paused position.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.clock.paused {
		return
	}
	log.Debug().Msgf("Resuming from %v", s.clock.pausedAt)
	s.sink.resume()
	s.clock.resume()
}

// Stop signals the pipeline to shut down, stops the sink synchronously,
// then detaches a bounded-wait join of the pipeline goroutine so the
// caller never blocks on a network call in flight.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopStreamingLocked()
}

func (s *Session) stopStreamingLocked() {
	if s.pipeline == nil {
		return
	}
	if err := s.pipeline.lastErr(); err != nil {
		log.Debug().Err(err).Msg("Pipeline had failed before teardown")
	}
	s.pipeline.shutdown()
	s.sink.stop()
	detachJoin(s.pipeline.done)
	s.pipeline = nil
}

// detachJoin waits for the pipeline goroutine on a separate goroutine,
// capped at teardownWait. A worker stuck in a slow network teardown can
// never block play/stop/seek.
func detachJoin(done <-chan struct{}) {
	go func() {
		select {
		case <-done:
			log.Debug().Msg("Old pipeline goroutine terminated")
		case <-time.After(teardownWait):
			log.Debug().Msg("Old pipeline goroutine still draining, detaching")
		}
	}()
}

// SetGain applies a clamped volume to the sink and remembers it for
// sinks built by a later seek.
func (s *Session) SetGain(gain float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gain = config.ClampVolume(gain)
	if s.sink != nil {
		s.sink.setGain(s.gain)
	}
}

// Position extrapolates the playback position from wall time.
func (s *Session) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.position(s.total, s.sink.empty())
}

// Duration returns the track's total duration, if known.
func (s *Session) Duration() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.total <= 0 {
		return 0, false
	}
	return s.total, true
}

// IsFinished reports true only when not paused, the sink is empty, and
// either the pipeline flagged a clean end, the remaining time is inside
// the end slack, or the total duration is unknown. The compound check
// avoids false positives during underrun gaps or right after a start.
func (s *Session) IsFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clock.paused {
		return false
	}
	if !s.sink.empty() {
		return false
	}
	if s.finished.Load() {
		return true
	}
	if s.total <= 0 {
		return true
	}
	remaining := s.total - s.clock.position(s.total, true)
	return remaining <= endSlack
}

// Seek tears down the current stream and rebuilds pipeline, source and
// sink at an estimated byte offset for the target position. Up to
// seekAttempts tries with linear backoff; when all fail, the error is
// explicit and playback is lost, the old sink already discarded.
func (s *Session) Seek(target time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if target < 0 {
		target = 0
	}
	log.Info().Msgf("Seeking to %v", target)

	s.stopStreamingLocked()

	offset := int64(target.Seconds()) * seekBytesPerSecond

	var lastErr error
	for attempt := 1; attempt <= seekAttempts; attempt++ {
		if err := s.seekAttempt(target, offset); err != nil {
			lastErr = err
			log.Warn().Err(err).Msgf("Seek attempt %d/%d failed", attempt, seekAttempts)
			if attempt < seekAttempts {
				time.Sleep(seekBackoff * time.Duration(attempt))
			}
			continue
		}
		log.Info().Msgf("Seek completed on attempt %d, streaming from %v", attempt, target)
		return nil
	}

	return fmt.Errorf("%w: %v", ErrSeekFailed, lastErr)
}

// seekAttempt re-resolves the redirect (the direct URL may rotate between
// calls), opens a ranged GET at the estimated offset, and on success
// replaces the playback chain and rebases the clock.
func (s *Session) seekAttempt(target time.Duration, offset int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), resolveBudget)
	directURL, err := s.client.ResolveOnce(ctx, s.cfg.StreamURL, s.cfg.Token)
	cancel()
	if err != nil {
		return err
	}

	pl, src, err := s.buildChain()
	if err != nil {
		return err
	}

	body, contentLength, err := s.client.OpenStream(pl.ctx, directURL, offset)
	if err != nil {
		pl.shutdown()
		src.release()
		return err
	}

	pl.startWithBody(body, directURL, offset, contentLength)

	snk, err := s.makeSink(src, s.gain)
	if err != nil {
		pl.shutdown()
		src.release()
		return err
	}

	s.pipeline = pl
	s.sink = snk
	s.clock.rebase(target)
	return nil
}

// resolveBudget caps one redirect resolution during seek.
const resolveBudget = 10 * time.Second
