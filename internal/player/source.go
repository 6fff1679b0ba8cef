package player

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// minBufferingSamples is roughly two seconds of decoded audio at
	// 44.1kHz; once received, initial buffering counts as complete and
	// the strict mid-playback timeout applies.
	minBufferingSamples = 88200

	// analyzerBatchSize is one decode-frame's worth of samples; consumed
	// audio is forwarded to the playback-phase analyzer queue in batches
	// of this size.
	analyzerBatchSize = 1152

	// Stuck-stream detection thresholds, scaled by the network quality
	// factor. History tracks need an extra API round-trip before any
	// audio flows, so they get the most lenient initial window. Silence
	// mid-playback is far more suspicious than a slow start.
	timeoutInitialBuffering = 12 * time.Second
	timeoutHistoryTrack     = 15 * time.Second
	timeoutMidPlayback      = 5 * time.Second
)

// sampleSource bridges the pipeline's pushed PCM batches to the pull
// interface the speaker drives. It never blocks the audio callback: an
// empty queue yields silence, and a queue that stays empty past the
// adaptive timeout forces a clean finish instead of infinite silence.
type sampleSource struct {
	samples  <-chan []int16
	analyze  chan []int16 // playback-phase tap; nil when disabled
	finished *atomic.Bool

	current []int16
	idx     int

	received          int
	bufferingComplete bool
	lastSample        time.Time
	queueClosed       bool

	historyTrack  bool
	qualityFactor float64

	batch []int16

	ended   atomic.Bool
	tapOnce sync.Once
}

func newSampleSource(samples <-chan []int16, analyze chan []int16, finished *atomic.Bool, historyTrack bool, qualityFactor float64) *sampleSource {
	if qualityFactor <= 0 {
		qualityFactor = 1.0
	}
	return &sampleSource{
		samples:       samples,
		analyze:       analyze,
		finished:      finished,
		lastSample:    time.Now(),
		historyTrack:  historyTrack,
		qualityFactor: qualityFactor,
		batch:         make([]int16, 0, analyzerBatchSize),
	}
}

// Stream fills the output with interleaved stereo samples pulled at the
// speaker's pace. Silence is substituted on underrun; iteration ends
// cleanly once the stream is finished and buffered, or once the stuck
// timeout trips.
func (s *sampleSource) Stream(out [][2]float64) (int, bool) {
	for i := range out {
		l, ok := s.next()
		if !ok {
			s.release()
			if i == 0 {
				return 0, false
			}
			return i, true
		}
		r, ok := s.next()
		if !ok {
			r = l
		}
		out[i][0] = float64(l) / 32768.0
		out[i][1] = float64(r) / 32768.0
	}
	return len(out), true
}

func (s *sampleSource) Err() error { return nil }

// drained reports whether the source has ended iteration, the session's
// notion of "the sink is empty".
func (s *sampleSource) drained() bool {
	return s.ended.Load()
}

// release closes the playback-phase analyzer queue exactly once. The
// analyzer goroutine uses that close as its termination signal. Called
// from the end of iteration and from session teardown.
func (s *sampleSource) release() {
	s.ended.Store(true)
	s.tapOnce.Do(func() {
		if s.analyze != nil {
			close(s.analyze)
		}
	})
}

func (s *sampleSource) next() (int16, bool) {
	if s.idx < len(s.current) {
		v := s.current[s.idx]
		s.idx++
		s.forward(v)
		return v, true
	}

	if !s.queueClosed {
		select {
		case batch, ok := <-s.samples:
			if !ok {
				// Producer gone; whatever is locally buffered already
				// played out. Fall through to the finished/timeout logic.
				s.queueClosed = true
				break
			}
			s.received += len(batch)
			s.lastSample = time.Now()

			if !s.bufferingComplete && s.received > minBufferingSamples {
				s.bufferingComplete = true
				log.Debug().Msgf("Initial buffering complete (%d samples)", s.received)
			}

			if len(batch) > 0 {
				s.current = batch
				s.idx = 1
				s.forward(batch[0])
				return batch[0], true
			}
		default:
		}
	}

	if s.finished.Load() && s.bufferingComplete {
		// Stream ended cleanly after buffering completed.
		return 0, false
	}

	if time.Since(s.lastSample) > s.stuckThreshold() {
		// Stream stuck: force a clean end to prevent infinite silence.
		log.Error().Msgf("Stream stuck for %v (buffered: %v, quality: %.1fx), forcing finish",
			time.Since(s.lastSample).Round(time.Millisecond), s.bufferingComplete, s.qualityFactor)
		s.finished.Store(true)
		return 0, false
	}

	// Yield silence while waiting for more data.
	return 0, true
}

func (s *sampleSource) stuckThreshold() time.Duration {
	base := timeoutMidPlayback
	if !s.bufferingComplete {
		if s.historyTrack {
			base = timeoutHistoryTrack
		} else {
			base = timeoutInitialBuffering
		}
	}
	return time.Duration(float64(base) * s.qualityFactor)
}

// forward accumulates consumed samples and ships them to the
// playback-phase analyzer queue one frame at a time. This keeps feeding
// the analyzer even after the pipeline goroutine has exited, for as long
// as locally buffered samples keep playing.
func (s *sampleSource) forward(v int16) {
	if s.analyze == nil {
		return
	}
	s.batch = append(s.batch, v)
	if len(s.batch) < analyzerBatchSize {
		return
	}
	out := make([]int16, len(s.batch))
	copy(out, s.batch)
	s.batch = s.batch[:0]

	select {
	case s.analyze <- out:
	default:
		// Analyzer lagging; visualization data is disposable.
	}
}
