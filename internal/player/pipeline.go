package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ysokolov/cloudamp/internal/api"
)

const (
	networkChunkSize = 64 * 1024

	// openAttempts bounds the initial streaming GET against the CDN.
	openAttempts = 3
	openBackoff  = 500 * time.Millisecond

	// resumeAttempts bounds ranged re-GETs after a mid-stream read error.
	resumeAttempts = 2
	resumeDelay    = 500 * time.Millisecond
)

// pipeline downloads the compressed stream, decodes complete frames out
// of the rolling buffer and forwards fresh PCM to the playback queue and
// the optional download-phase analyzer queue. All network I/O and decode
// work happens on its single goroutine.
type pipeline struct {
	client   *api.Client
	samples  chan<- []int16
	analyze  chan<- []int16 // nil when visualization is disabled
	finished *atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	err atomic.Value // last permanent failure, for observability

	// decode overrides the frame decoder; nil selects minimp3. Tests set
	// it so the chunk loop can be driven with plain bytes.
	decode decodeFunc
}

func newPipeline(client *api.Client, samples chan<- []int16, analyze chan<- []int16, finished *atomic.Bool) *pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &pipeline{
		client:   client,
		samples:  samples,
		analyze:  analyze,
		finished: finished,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// start launches the pipeline goroutine. directURL, when non-empty, is an
// already-resolved media URL (from a prefetch) and redirect resolution is
// skipped entirely.
func (p *pipeline) start(streamURL, token, directURL string, offset int64) {
	go func() {
		defer p.finish()

		if directURL == "" {
			resolved, err := p.client.ResolveStreamURL(p.ctx, streamURL, token)
			if err != nil {
				p.fail(err)
				return
			}
			directURL = resolved
		} else {
			log.Debug().Msg("Using prefetched media URL, skipping redirect resolution")
		}

		body, contentLength, err := p.openWithRetry(directURL, offset)
		if err != nil {
			p.fail(err)
			return
		}

		p.run(body, directURL, offset, contentLength)
	}()
}

// startWithBody launches the pipeline over an already-open media response
// (the seek path opens the ranged GET itself so a failed request can be
// retried before any session state is replaced).
func (p *pipeline) startWithBody(body io.ReadCloser, directURL string, offset, contentLength int64) {
	go func() {
		defer p.finish()
		p.run(body, directURL, offset, contentLength)
	}()
}

// shutdown asks the goroutine to exit at the next chunk boundary. The
// finished flag is left untouched: the caller is tearing the session down.
func (p *pipeline) shutdown() {
	p.cancel()
}

func (p *pipeline) finish() {
	close(p.samples)
	if p.analyze != nil {
		close(p.analyze)
	}
	close(p.done)
}

func (p *pipeline) fail(err error) {
	if p.ctx.Err() != nil {
		return
	}
	p.err.Store(err)
	log.Error().Err(err).Msg("Streaming pipeline failed")
}

// lastErr returns the pipeline's permanent failure, if any.
func (p *pipeline) lastErr() error {
	if v := p.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (p *pipeline) openWithRetry(directURL string, offset int64) (io.ReadCloser, int64, error) {
	var lastErr error
	for attempt := 1; attempt <= openAttempts; attempt++ {
		body, contentLength, err := p.client.OpenStream(p.ctx, directURL, offset)
		if err == nil {
			return body, contentLength, nil
		}
		lastErr = err
		log.Warn().Err(err).Msgf("Media request failed (attempt %d/%d)", attempt, openAttempts)

		if attempt < openAttempts {
			select {
			case <-time.After(openBackoff * time.Duration(attempt)):
			case <-p.ctx.Done():
				return nil, 0, p.ctx.Err()
			}
		}
	}
	return nil, 0, lastErr
}

// run is the chunk loop: read, append, decode new frames, forward, trim.
// Read errors trigger a bounded ranged resume from the byte count
// downloaded so far. A clean end flushes remaining frames and sets the
// finished flag; a shutdown exits without setting it.
func (p *pipeline) run(body io.ReadCloser, directURL string, offset, contentLength int64) {
	defer body.Close()

	buffer := newStreamBuffer(p.decode)
	totalDownloaded := offset
	chunk := make([]byte, networkChunkSize)

	for {
		select {
		case <-p.ctx.Done():
			log.Debug().Msg("Pipeline shutdown signal received, stopping download")
			return
		default:
		}

		n, err := body.Read(chunk)
		if n > 0 {
			totalDownloaded += int64(n)
			buffer.append(chunk[:n])

			if !p.forward(buffer.drainNew()) {
				return
			}
			buffer.trim()
		}

		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if p.ctx.Err() != nil {
			return
		}

		// Mid-stream error: re-issue a ranged GET from where we left off.
		resumed, newBody := p.resume(directURL, totalDownloaded)
		if !resumed {
			p.fail(fmt.Errorf("stream failed and could not resume from byte %d: %w", totalDownloaded, err))
			return
		}
		body.Close()
		body = newBody
	}

	// Clean end: flush whatever complete frames remain.
	p.forward(buffer.drainNew())

	if contentLength > 0 {
		received := totalDownloaded - offset
		if float64(received) < float64(contentLength)*0.95 {
			log.Warn().Msgf("Stream ended prematurely: %d KB of %d KB received",
				received/1024, contentLength/1024)
		}
	}

	log.Debug().Msgf("Stream complete, %d KB downloaded", (totalDownloaded-offset)/1024)
	p.finished.Store(true)
}

// forward pushes fresh PCM to the playback queue (blocking, bounded by
// the queue's depth) and best-effort to the analyzer queue. It reports
// false when the pipeline should exit.
func (p *pipeline) forward(pcm []int16) bool {
	if len(pcm) == 0 {
		return true
	}

	select {
	case p.samples <- pcm:
	case <-p.ctx.Done():
		return false
	}

	if p.analyze != nil {
		// The analyzer is an optional consumer; never stall audio for it.
		select {
		case p.analyze <- pcm:
		default:
		}
	}
	return true
}

func (p *pipeline) resume(directURL string, fromByte int64) (bool, io.ReadCloser) {
	for attempt := 1; attempt <= resumeAttempts; attempt++ {
		log.Warn().Msgf("Stream read error, resume attempt %d/%d from byte %d",
			attempt, resumeAttempts, fromByte)

		select {
		case <-time.After(resumeDelay):
		case <-p.ctx.Done():
			return false, nil
		}

		body, _, err := p.client.OpenStream(p.ctx, directURL, fromByte)
		if err == nil {
			log.Info().Msgf("Stream resumed from byte %d", fromByte)
			return true, body
		}
		log.Warn().Err(err).Msgf("Resume attempt %d/%d failed", attempt, resumeAttempts)
	}
	return false, nil
}
