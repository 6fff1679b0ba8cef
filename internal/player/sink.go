package player

import (
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"
)

const (
	// outputSampleRate is assumed, not read from container metadata.
	outputSampleRate  = beep.SampleRate(44100)
	speakerBufferSize = 250 * time.Millisecond
)

var (
	speakerOnce sync.Once
	speakerErr  error
)

// initSpeaker initializes the audio device once for the process.
func initSpeaker() error {
	speakerOnce.Do(func() {
		speakerErr = speaker.Init(outputSampleRate, outputSampleRate.N(speakerBufferSize))
	})
	if speakerErr != nil {
		return fmt.Errorf("failed to initialize audio output: %w", speakerErr)
	}
	return nil
}

// sink owns the output chain for one session: source → volume → ctrl →
// speaker. Exactly one sink plays at a time; replacing it goes through
// stop() first.
type sink struct {
	source *sampleSource
	volume *effects.Volume
	ctrl   *beep.Ctrl
}

func newSink(source *sampleSource, gain float64) (*sink, error) {
	if err := initSpeaker(); err != nil {
		return nil, err
	}

	exp, silent := gainToVolume(gain)
	volume := &effects.Volume{
		Streamer: source,
		Base:     2,
		Volume:   exp,
		Silent:   silent,
	}
	ctrl := &beep.Ctrl{Streamer: volume}

	speaker.Play(ctrl)

	return &sink{source: source, volume: volume, ctrl: ctrl}, nil
}

func (s *sink) pause() {
	speaker.Lock()
	s.ctrl.Paused = true
	speaker.Unlock()
}

func (s *sink) resume() {
	speaker.Lock()
	s.ctrl.Paused = false
	speaker.Unlock()
}

func (s *sink) setGain(gain float64) {
	exp, silent := gainToVolume(gain)
	speaker.Lock()
	s.volume.Volume = exp
	s.volume.Silent = silent
	speaker.Unlock()
}

// empty reports whether the source has finished iterating; no more
// audio will come out of this sink.
func (s *sink) empty() bool {
	return s.source.drained()
}

// stop removes the sink from the speaker synchronously and releases the
// source's analyzer tap. After stop returns, no Stream call is in flight.
func (s *sink) stop() {
	speaker.Clear()
	s.source.release()
}
