// Package cache provides disk-based caching of fetched playlists, so the
// queue can still be filled when the playlist endpoint is unreachable.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultExpiry is how long cached playlists are valid (24 hours).
	DefaultExpiry = 24 * time.Hour
	// PlaylistSubdir is the subdirectory for cached playlists.
	PlaylistSubdir = "playlists"
	// AppName is used for the cache directory name.
	AppName = "cloudamp"
)

// Cache manages disk-based caching of playlist documents, keyed by the
// URL they were fetched from.
type Cache struct {
	baseDir string
	expiry  time.Duration
}

// NewCache creates a new Cache instance with the default expiry.
func NewCache() (*Cache, error) {
	cacheDir, err := GetCacheDir()
	if err != nil {
		return nil, err
	}

	return &Cache{
		baseDir: cacheDir,
		expiry:  DefaultExpiry,
	}, nil
}

// GetCacheDir returns the platform-specific cache directory for the application.
func GetCacheDir() (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user cache directory: %w", err)
	}

	cacheDir := filepath.Join(userCacheDir, AppName)
	return cacheDir, nil
}

func (c *Cache) ensureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

func hashURL(url string) string {
	hash := md5.Sum([]byte(url))
	return hex.EncodeToString(hash[:])
}

func (c *Cache) playlistPath(url string) string {
	return filepath.Join(c.baseDir, PlaylistSubdir, hashURL(url)+".json")
}

// GetPlaylist retrieves a cached playlist document by URL. Returns nil
// if not found or expired.
func (c *Cache) GetPlaylist(url string) []byte {
	path := c.playlistPath(url)

	info, err := os.Stat(path)
	if err != nil {
		return nil
	}

	if time.Since(info.ModTime()) > c.expiry {
		if err := os.Remove(path); err != nil {
			log.Debug().Err(err).Str("file", path).Msg("Failed to remove expired cache file")
		}
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Debug().Err(err).Str("file", path).Msg("Failed to read cached playlist")
		return nil
	}

	return data
}

// SavePlaylist stores a playlist document in the cache, keyed by its URL.
func (c *Cache) SavePlaylist(url string, data []byte) error {
	playlistDir := filepath.Join(c.baseDir, PlaylistSubdir)

	if err := c.ensureDir(playlistDir); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	if err := os.WriteFile(c.playlistPath(url), data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	return nil
}

// CleanExpired removes cache files older than the expiry duration.
func (c *Cache) CleanExpired() error {
	playlistDir := filepath.Join(c.baseDir, PlaylistSubdir)

	entries, err := os.ReadDir(playlistDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	now := time.Now()
	var removed, failed int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			log.Debug().Err(err).Str("file", entry.Name()).Msg("Failed to get file info")
			continue
		}

		if now.Sub(info.ModTime()) > c.expiry {
			filePath := filepath.Join(playlistDir, entry.Name())
			if err := os.Remove(filePath); err != nil {
				log.Debug().Err(err).Str("file", filePath).Msg("Failed to remove expired cache file")
				failed++
			} else {
				removed++
			}
		}
	}

	if removed > 0 || failed > 0 {
		log.Debug().Int("removed", removed).Int("failed", failed).Msg("Cache cleanup completed")
	}

	return nil
}
