// Package catalogue is the client side of the song catalogue collaborator.
// The catalogue itself (scraping, parsing, persistence) lives in another
// service; this package only resolves song references to payloads.
package catalogue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jamoveo/rehearsal-backend/internal/models"
	"github.com/jamoveo/rehearsal-backend/internal/rehearsal"
)

// Provider resolves catalogue references to song payloads.
type Provider interface {
	GetSongByID(ctx context.Context, id int) (*models.Song, error)
	GetSongByExternalRef(ctx context.Context, ref string) (*models.Song, error)
}

// Client talks to the catalogue service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a catalogue client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// GetSongByID fetches the payload for a catalogue song id.
func (c *Client) GetSongByID(ctx context.Context, id int) (*models.Song, error) {
	return c.fetch(ctx, fmt.Sprintf("%s/api/songs/%d", c.baseURL, id))
}

// GetSongByExternalRef fetches the payload for an external provider
// reference (the scraped source URL of the song).
func (c *Client) GetSongByExternalRef(ctx context.Context, ref string) (*models.Song, error) {
	return c.fetch(ctx, fmt.Sprintf("%s/api/songs/by-ref?ref=%s", c.baseURL, url.QueryEscape(ref)))
}

func (c *Client) fetch(ctx context.Context, u string) (*models.Song, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building catalogue request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling catalogue: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, rehearsal.ErrSongNotFound
	default:
		return nil, fmt.Errorf("catalogue returned status %d", resp.StatusCode)
	}

	var song models.Song
	if err := json.NewDecoder(resp.Body).Decode(&song); err != nil {
		return nil, fmt.Errorf("decoding catalogue response: %w", err)
	}
	return &song, nil
}

// Static is an in-memory Provider backing tests and local development.
type Static struct {
	byID  map[int]models.Song
	byRef map[string]int
}

// NewStatic creates a static catalogue with the given songs.
func NewStatic(songs ...models.Song) *Static {
	s := &Static{byID: make(map[int]models.Song), byRef: make(map[string]int)}
	for _, song := range songs {
		s.byID[song.ID] = song
	}
	return s
}

// AddRef maps an external reference to a song id.
func (s *Static) AddRef(ref string, id int) { s.byRef[ref] = id }

func (s *Static) GetSongByID(ctx context.Context, id int) (*models.Song, error) {
	song, ok := s.byID[id]
	if !ok {
		return nil, rehearsal.ErrSongNotFound
	}
	return &song, nil
}

func (s *Static) GetSongByExternalRef(ctx context.Context, ref string) (*models.Song, error) {
	id, ok := s.byRef[ref]
	if !ok {
		return nil, rehearsal.ErrSongNotFound
	}
	return s.GetSongByID(ctx, id)
}
