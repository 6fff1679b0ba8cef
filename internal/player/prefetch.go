package player

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ysokolov/cloudamp/internal/track"
)

// Prefetch only fires inside this progress window of the current track:
// early enough that the resolved URL is ready before the transition, late
// enough that skipped tracks don't waste API calls.
const (
	prefetchWindowLow  = 0.70
	prefetchWindowHigh = 0.80
)

// TokenSource is the synchronous token accessor the engine consumes. It
// returns ok=false when no valid token is available; the engine never
// refreshes tokens itself.
type TokenSource interface {
	Token() (string, bool)
}

// resolveFunc matches api.Client.ResolveStreamURL; tests inject fakes.
type resolveFunc func(ctx context.Context, streamURL, token string) (string, error)

// Prefetcher resolves the next track's direct media URL ahead of time.
// Every dispatch captures the live session counter; a result arriving
// under a different session (the user stopped, sought, or played
// something else meanwhile) is silently discarded.
type Prefetcher struct {
	resolve resolveFunc
	tokens  TokenSource
	session func() uint64

	mu           sync.Mutex
	attemptedFor uint64 // current-track ID a prefetch was already dispatched for
	cachedTrack  uint64
	cachedURL    string
}

// NewPrefetcher wires a prefetcher to the controller's session counter.
func NewPrefetcher(resolve resolveFunc, tokens TokenSource, session func() uint64) *Prefetcher {
	return &Prefetcher{resolve: resolve, tokens: tokens, session: session}
}

// Tick is called from the polling loop with the current track's ID and
// playback progress in [0, 1], plus the next queued track (nil when the
// queue has none). At most one prefetch is dispatched per current track.
func (p *Prefetcher) Tick(currentTrackID uint64, progress float64, next *track.Track) {
	if progress < prefetchWindowLow || progress > prefetchWindowHigh {
		return
	}
	if next == nil || !next.Streamable() {
		return
	}

	p.mu.Lock()
	if p.attemptedFor == currentTrackID || p.cachedTrack == next.ID {
		p.mu.Unlock()
		return
	}
	p.attemptedFor = currentTrackID
	p.mu.Unlock()

	token, ok := p.tokens.Token()
	if !ok {
		log.Debug().Msg("No valid token, skipping prefetch")
		return
	}

	captured := p.session()
	nextID := next.ID
	streamURL := next.StreamURL

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		directURL, err := p.resolve(ctx, streamURL, token)
		if err != nil {
			log.Warn().Err(err).Msgf("Prefetch failed for track %d", nextID)
			return
		}

		if live := p.session(); live != captured {
			log.Debug().Msgf("Discarding stale prefetch for track %d (session %d != %d)",
				nextID, captured, live)
			return
		}

		p.mu.Lock()
		p.cachedTrack = nextID
		p.cachedURL = directURL
		p.mu.Unlock()
		log.Info().Msgf("Prefetched media URL for track %d", nextID)
	}()
}

// Take hands the cached direct URL for the given track to a Play command,
// consuming it. Returns ok=false when nothing valid is cached.
func (p *Prefetcher) Take(trackID uint64) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cachedTrack != trackID || p.cachedURL == "" {
		return "", false
	}
	url := p.cachedURL
	p.cachedTrack = 0
	p.cachedURL = ""
	return url, true
}
