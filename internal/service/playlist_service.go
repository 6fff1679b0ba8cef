// Package service provides the business logic layer for loading and
// holding playlist data.
package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ysokolov/cloudamp/internal/api"
	"github.com/ysokolov/cloudamp/internal/cache"
	"github.com/ysokolov/cloudamp/internal/track"
)

const playlistLoadTimeout = 15 * time.Second

// playlistFetcher is the API surface the service consumes; *api.Client
// satisfies it, tests substitute fakes.
type playlistFetcher interface {
	FetchPlaylist(ctx context.Context, url, token string) ([]track.Track, []byte, error)
}

// PlaylistService loads playlists from local files or remote URLs and
// keeps the resulting track list available for lookups. Remote fetches
// fall back to the last cached copy when the endpoint is unreachable.
type PlaylistService struct {
	apiClient     playlistFetcher
	playlistCache *cache.Cache

	mu     sync.RWMutex
	tracks []track.Track
}

// NewPlaylistService creates a new PlaylistService with the given API client.
func NewPlaylistService(apiClient playlistFetcher) *PlaylistService {
	playlistCache, err := cache.NewCache()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize playlist cache, playlists will not be cached")
	}

	if playlistCache != nil {
		go func() {
			if err := playlistCache.CleanExpired(); err != nil {
				log.Debug().Err(err).Msg("Failed to clean expired cache")
			}
		}()
	}

	return &PlaylistService{
		apiClient:     apiClient,
		playlistCache: playlistCache,
	}
}

// Load reads a playlist from a local path or an http(s) URL and replaces
// the held track list.
func (s *PlaylistService) Load(source, token string) ([]track.Track, error) {
	var tracks []track.Track
	var err error

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		tracks, err = s.loadRemote(source, token)
	} else {
		tracks, err = s.loadFile(source)
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.tracks = tracks
	s.mu.Unlock()

	return tracks, nil
}

func (s *PlaylistService) loadFile(path string) ([]track.Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read playlist file: %w", err)
	}
	return api.ParsePlaylist(data)
}

func (s *PlaylistService) loadRemote(url, token string) ([]track.Track, error) {
	ctx, cancel := context.WithTimeout(context.Background(), playlistLoadTimeout)
	defer cancel()

	tracks, body, err := s.apiClient.FetchPlaylist(ctx, url, token)
	if err == nil {
		if s.playlistCache != nil {
			if cacheErr := s.playlistCache.SavePlaylist(url, body); cacheErr != nil {
				log.Debug().Err(cacheErr).Str("url", url).Msg("Failed to cache playlist")
			}
		}
		return tracks, nil
	}

	if s.playlistCache != nil {
		if cached := s.playlistCache.GetPlaylist(url); cached != nil {
			log.Warn().Err(err).Str("url", url).Msg("Playlist fetch failed, using cached copy")
			return api.ParsePlaylist(cached)
		}
	}
	return nil, err
}

// Tracks returns a copy of the held track list.
func (s *PlaylistService) Tracks() []track.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]track.Track, len(s.tracks))
	copy(result, s.tracks)
	return result
}

// TrackCount reports the number of held tracks.
func (s *PlaylistService) TrackCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracks)
}

// FindByID returns a copy of the track with the given ID. Returns nil
// when no such track is held.
func (s *PlaylistService) FindByID(id uint64) *track.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tracks {
		if t.ID == id {
			// Return a copy to prevent pointer invalidation on reload
			out := t
			return &out
		}
	}
	return nil
}
