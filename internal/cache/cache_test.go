package cache

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHashURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"simple URL", "http://example.com/playlist.json"},
		{"URL with query params", "http://example.com/playlist.json?limit=50"},
		{"empty string", ""},
		{"https URL", "https://api.example.com/users/1/likes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := hashURL(tt.url)

			if len(result) != 32 {
				t.Errorf("hashURL(%q) length = %d, want 32", tt.url, len(result))
			}

			for _, c := range result {
				if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
					t.Errorf("hashURL(%q) contains non-hex character: %c", tt.url, c)
				}
			}
		})
	}
}

func TestHashURLConsistency(t *testing.T) {
	url := "https://api.example.com/playlists/daily"

	hash1 := hashURL(url)
	hash2 := hashURL(url)

	if hash1 != hash2 {
		t.Errorf("hashURL is not consistent: %q != %q", hash1, hash2)
	}
}

func TestHashURLUniqueness(t *testing.T) {
	url1 := "http://example.com/playlist1.json"
	url2 := "http://example.com/playlist2.json"

	hash1 := hashURL(url1)
	hash2 := hashURL(url2)

	if hash1 == hash2 {
		t.Errorf("Different URLs produced same hash: %q", hash1)
	}
}

func TestSaveAndGetPlaylist(t *testing.T) {
	tmpDir := t.TempDir()

	cache := &Cache{
		baseDir: tmpDir,
		expiry:  DefaultExpiry,
	}

	testURL := "http://example.com/playlist.json"
	payload := []byte(`[{"id":1,"title":"Test"}]`)

	err := cache.SavePlaylist(testURL, payload)
	if err != nil {
		t.Fatalf("SavePlaylist() error = %v", err)
	}

	retrieved := cache.GetPlaylist(testURL)
	if retrieved == nil {
		t.Fatal("GetPlaylist() returned nil, expected data")
	}

	if !bytes.Equal(retrieved, payload) {
		t.Errorf("GetPlaylist() = %q, want %q", retrieved, payload)
	}
}

func TestGetPlaylistNonExistent(t *testing.T) {
	tmpDir := t.TempDir()

	cache := &Cache{
		baseDir: tmpDir,
		expiry:  DefaultExpiry,
	}

	result := cache.GetPlaylist("http://example.com/nonexistent.json")
	if result != nil {
		t.Error("GetPlaylist() for nonexistent URL should return nil")
	}
}

func TestGetPlaylistExpired(t *testing.T) {
	tmpDir := t.TempDir()

	cache := &Cache{
		baseDir: tmpDir,
		expiry:  1 * time.Millisecond,
	}

	testURL := "http://example.com/expired-playlist.json"

	err := cache.SavePlaylist(testURL, []byte(`[]`))
	if err != nil {
		t.Fatalf("SavePlaylist() error = %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	result := cache.GetPlaylist(testURL)
	if result != nil {
		t.Error("GetPlaylist() for expired playlist should return nil")
	}

	if _, err := os.Stat(cache.playlistPath(testURL)); !os.IsNotExist(err) {
		t.Error("Expired playlist file should have been deleted")
	}
}

func TestCleanExpired(t *testing.T) {
	tmpDir := t.TempDir()

	cache := &Cache{
		baseDir: tmpDir,
		expiry:  1 * time.Millisecond,
	}

	urls := []string{
		"http://example.com/playlist1.json",
		"http://example.com/playlist2.json",
		"http://example.com/playlist3.json",
	}

	for _, url := range urls {
		if err := cache.SavePlaylist(url, []byte(`[]`)); err != nil {
			t.Fatalf("SavePlaylist(%q) error = %v", url, err)
		}
	}

	time.Sleep(10 * time.Millisecond)

	err := cache.CleanExpired()
	if err != nil {
		t.Fatalf("CleanExpired() error = %v", err)
	}

	playlistDir := filepath.Join(tmpDir, PlaylistSubdir)
	entries, err := os.ReadDir(playlistDir)
	if err != nil {
		t.Fatalf("Failed to read playlist directory: %v", err)
	}

	if len(entries) != 0 {
		t.Errorf("CleanExpired() left %d files, want 0", len(entries))
	}
}

func TestCleanExpiredKeepsValidFiles(t *testing.T) {
	tmpDir := t.TempDir()

	cache := &Cache{
		baseDir: tmpDir,
		expiry:  24 * time.Hour,
	}

	testURL := "http://example.com/valid-playlist.json"

	if err := cache.SavePlaylist(testURL, []byte(`[]`)); err != nil {
		t.Fatalf("SavePlaylist() error = %v", err)
	}

	err := cache.CleanExpired()
	if err != nil {
		t.Fatalf("CleanExpired() error = %v", err)
	}

	result := cache.GetPlaylist(testURL)
	if result == nil {
		t.Error("CleanExpired() should not remove valid (non-expired) playlists")
	}
}

func TestCleanExpiredNonExistentDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	cache := &Cache{
		baseDir: tmpDir,
		expiry:  DefaultExpiry,
	}

	err := cache.CleanExpired()
	if err != nil {
		t.Errorf("CleanExpired() should not error on non-existent directory, got %v", err)
	}
}

func TestGetCacheDir(t *testing.T) {
	dir, err := GetCacheDir()
	if err != nil {
		t.Fatalf("GetCacheDir() error = %v", err)
	}

	if dir == "" {
		t.Error("GetCacheDir() returned empty string")
	}

	if !filepath.IsAbs(dir) {
		t.Errorf("GetCacheDir() = %q, want absolute path", dir)
	}

	if filepath.Base(dir) != AppName {
		t.Errorf("GetCacheDir() directory name = %q, want %q", filepath.Base(dir), AppName)
	}
}

func TestNewCache(t *testing.T) {
	cache, err := NewCache()
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	if cache == nil {
		t.Fatal("NewCache() returned nil")
	} else {
		if cache.baseDir == "" {
			t.Error("NewCache() cache.baseDir is empty")
		}
		if cache.expiry != DefaultExpiry {
			t.Errorf("NewCache() cache.expiry = %v, want %v", cache.expiry, DefaultExpiry)
		}
	}
}

func TestSavePlaylistCreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	cache := &Cache{
		baseDir: tmpDir,
		expiry:  DefaultExpiry,
	}

	err := cache.SavePlaylist("http://example.com/playlist.json", []byte(`[]`))
	if err != nil {
		t.Fatalf("SavePlaylist() error = %v", err)
	}

	playlistDir := filepath.Join(tmpDir, PlaylistSubdir)
	info, err := os.Stat(playlistDir)
	if err != nil {
		t.Fatalf("Playlist directory was not created: %v", err)
	}

	if !info.IsDir() {
		t.Error("PlaylistSubdir should be a directory")
	}
}
