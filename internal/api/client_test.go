package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestResolveStreamURL(t *testing.T) {
	const directURL = "https://cdn.example.com/media/123.mp3"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "OAuth test-token" {
			t.Errorf("Authorization = %q, want %q", got, "OAuth test-token")
		}
		w.Header().Set("Location", directURL)
		w.WriteHeader(http.StatusFound)
	}))
	defer server.Close()

	client := NewClient()
	got, err := client.ResolveStreamURL(context.Background(), server.URL, "test-token")
	if err != nil {
		t.Fatalf("ResolveStreamURL() error = %v", err)
	}
	if got != directURL {
		t.Errorf("ResolveStreamURL() = %q, want %q", got, directURL)
	}
}

func TestResolveStreamURLNoLocation(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient()
	_, err := client.ResolveStreamURL(context.Background(), server.URL, "tok")
	if err == nil {
		t.Fatal("ResolveStreamURL() error = nil, want error")
	}
	if !errors.Is(err, ErrNoLocation) {
		t.Errorf("error = %v, want ErrNoLocation", err)
	}
	if n := requests.Load(); n != ResolveAttempts {
		t.Errorf("server saw %d requests, want %d", n, ResolveAttempts)
	}
}

func TestResolveStreamURLRetriesThenSucceeds(t *testing.T) {
	const directURL = "https://cdn.example.com/media/456.mp3"

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusOK) // no Location on first attempt
			return
		}
		w.Header().Set("Location", directURL)
		w.WriteHeader(http.StatusFound)
	}))
	defer server.Close()

	client := NewClient()
	got, err := client.ResolveStreamURL(context.Background(), server.URL, "tok")
	if err != nil {
		t.Fatalf("ResolveStreamURL() error = %v", err)
	}
	if got != directURL {
		t.Errorf("ResolveStreamURL() = %q, want %q", got, directURL)
	}
	if n := requests.Load(); n != 2 {
		t.Errorf("server saw %d requests, want 2", n)
	}
}

func TestOpenStream(t *testing.T) {
	payload := []byte("compressed audio bytes")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			t.Errorf("unexpected Range header %q on offset 0", r.Header.Get("Range"))
		}
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	client := NewClient()
	body, contentLength, err := client.OpenStream(context.Background(), server.URL, 0)
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}
	defer body.Close()

	if contentLength != int64(len(payload)) {
		t.Errorf("contentLength = %d, want %d", contentLength, len(payload))
	}
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(data) != string(payload) {
		t.Errorf("body = %q, want %q", data, payload)
	}
}

func TestOpenStreamWithOffset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Range"); got != "bytes=4096-" {
			t.Errorf("Range = %q, want %q", got, "bytes=4096-")
		}
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("tail"))
	}))
	defer server.Close()

	client := NewClient()
	body, _, err := client.OpenStream(context.Background(), server.URL, 4096)
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}
	body.Close()
}

func TestFetchPlaylist(t *testing.T) {
	doc := `[{"id":1,"title":"One","stream_url":"https://api.example.com/1"},
	         {"id":2,"title":"Two","stream_url":"https://api.example.com/2"}]`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "OAuth tok" {
			t.Errorf("Authorization = %q, want %q", got, "OAuth tok")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(doc))
	}))
	defer server.Close()

	client := NewClient()
	tracks, body, err := client.FetchPlaylist(context.Background(), server.URL, "tok")
	if err != nil {
		t.Fatalf("FetchPlaylist() error = %v", err)
	}
	if len(tracks) != 2 || tracks[0].Title != "One" || tracks[1].ID != 2 {
		t.Errorf("FetchPlaylist() tracks = %+v", tracks)
	}
	if len(body) == 0 {
		t.Error("FetchPlaylist() returned empty raw body")
	}
}

func TestFetchPlaylistBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient()
	_, _, err := client.FetchPlaylist(context.Background(), server.URL, "tok")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
}

func TestParsePlaylistInvalid(t *testing.T) {
	if _, err := ParsePlaylist([]byte("{not a playlist")); err == nil {
		t.Error("ParsePlaylist() error = nil for invalid document, want error")
	}
}

func TestOpenStreamBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient()
	_, _, err := client.OpenStream(context.Background(), server.URL, 0)
	if err == nil {
		t.Fatal("OpenStream() error = nil, want error")
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if statusErr.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want %d", statusErr.StatusCode, http.StatusForbidden)
	}
}
