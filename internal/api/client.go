// Package api provides the HTTP client for media URL resolution and
// progressive media fetch.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/ysokolov/cloudamp/internal/track"
)

const (
	resolveTimeout = 10 * time.Second
	// ResolveAttempts bounds redirect resolution: transport failures and
	// missing Location headers are retried with linear backoff.
	ResolveAttempts = 2
	// ResolveBackoff is multiplied by the attempt number between retries.
	ResolveBackoff = 500 * time.Millisecond
)

// ErrNoLocation is returned when the stream endpoint responds without a
// Location header to follow.
var ErrNoLocation = errors.New("no Location header in redirect")

// StatusError reports an unexpected HTTP status from the CDN.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("media server returned status %d: %s", e.StatusCode, e.Status)
}

// Client holds the two HTTP clients the engine needs: one that refuses to
// follow redirects (so the Location header can be read), and one tuned for
// long-lived streaming responses.
type Client struct {
	resolver  *resty.Client
	streaming *resty.Client
	metadata  *resty.Client
}

// NewClient creates a Client with sensible transport defaults for
// long-lived audio streams.
func NewClient() *Client {
	noFollow := &http.Client{
		Timeout: resolveTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	streamHTTP := &http.Client{
		Timeout: 0, // no overall timeout, streams are long-lived
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 15 * time.Second,
			DisableKeepAlives:     false,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			DisableCompression:    true,
		},
	}

	return &Client{
		resolver:  resty.NewWithClient(noFollow),
		streaming: resty.NewWithClient(streamHTTP).SetDoNotParseResponse(true),
		metadata:  resty.New().SetTimeout(resolveTimeout),
	}
}

// FetchPlaylist downloads a playlist document and decodes it into tracks.
// Unlike stream resolution this follows redirects normally.
func (c *Client) FetchPlaylist(ctx context.Context, url, token string) ([]track.Track, []byte, error) {
	req := c.metadata.R().SetContext(ctx)
	if token != "" {
		req.SetHeader("Authorization", "OAuth "+token)
	}

	resp, err := req.Get(url)
	if err != nil {
		return nil, nil, fmt.Errorf("playlist request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, nil, &StatusError{StatusCode: resp.StatusCode(), Status: resp.Status()}
	}

	body := resp.Body()
	tracks, err := ParsePlaylist(body)
	if err != nil {
		return nil, nil, err
	}
	return tracks, body, nil
}

// ParsePlaylist decodes a playlist document: a plain JSON array of tracks.
func ParsePlaylist(data []byte) ([]track.Track, error) {
	var tracks []track.Track
	if err := json.Unmarshal(data, &tracks); err != nil {
		return nil, fmt.Errorf("invalid playlist document: %w", err)
	}
	return tracks, nil
}

// ResolveStreamURL issues an authenticated GET against the stream API URL
// without following redirects and returns the Location header, which holds
// the real media URL. Transport failures and missing headers are retried up to
// ResolveAttempts times with linear backoff.
func (c *Client) ResolveStreamURL(ctx context.Context, streamURL, token string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= ResolveAttempts; attempt++ {
		directURL, err := c.ResolveOnce(ctx, streamURL, token)
		if err == nil {
			return directURL, nil
		}
		lastErr = err
		log.Warn().Err(err).Msgf("Redirect resolution failed (attempt %d/%d)", attempt, ResolveAttempts)

		if attempt < ResolveAttempts {
			select {
			case <-time.After(ResolveBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("redirect resolution failed after %d attempts: %w", ResolveAttempts, lastErr)
}

// ResolveOnce performs a single redirect resolution with no retries.
// Seek owns its own attempt budget and calls this directly.
func (c *Client) ResolveOnce(ctx context.Context, streamURL, token string) (string, error) {
	resp, err := c.resolver.R().
		SetContext(ctx).
		SetHeader("Authorization", "OAuth "+token).
		Get(streamURL)
	if err != nil {
		return "", fmt.Errorf("stream endpoint request failed: %w", err)
	}

	location := resp.Header().Get("Location")
	if location == "" {
		return "", ErrNoLocation
	}
	return location, nil
}

// OpenStream opens a streaming GET against the direct media URL. A
// non-zero offset adds a Range header; both 200 and 206 count as success.
// The returned body is not read by resty; the caller owns it.
func (c *Client) OpenStream(ctx context.Context, directURL string, offset int64) (io.ReadCloser, int64, error) {
	req := c.streaming.R().SetContext(ctx)
	if offset > 0 {
		req.SetHeader("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := req.Get(directURL)
	if err != nil {
		return nil, 0, fmt.Errorf("media request failed: %w", err)
	}

	status := resp.StatusCode()
	if status != http.StatusOK && status != http.StatusPartialContent {
		resp.RawBody().Close()
		return nil, 0, &StatusError{StatusCode: status, Status: resp.Status()}
	}

	contentLength := resp.RawResponse.ContentLength
	return resp.RawBody(), contentLength, nil
}
