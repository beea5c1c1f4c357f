package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

var ErrSaavnResolveFailed = errors.New("failed to resolve saavn track")

const saavnAPIBase = "https://saavn.dev/api"

// SaavnClient resolves JioSaavn links and queries through the public saavn
// JSON API. Responses carry direct download URLs, so saavn tracks play
// without a yt-dlp round trip.
type SaavnClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewSaavnClient() *SaavnClient {
	return &SaavnClient{
		BaseURL:    saavnAPIBase,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// IsSong reports whether the URL points at a single saavn song.
func (c *SaavnClient) IsSong(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Host)
	if !strings.Contains(host, "saavn.com") && !strings.Contains(host, "jiosaavn.com") {
		return false
	}
	return strings.Contains(u.Path, "/song/")
}

// IsPlaylist reports whether the URL points at a saavn playlist or album.
func (c *SaavnClient) IsPlaylist(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Host)
	if !strings.Contains(host, "saavn.com") && !strings.Contains(host, "jiosaavn.com") {
		return false
	}
	return strings.Contains(u.Path, "/featured/") || strings.Contains(u.Path, "/album/")
}

// ResolveSong fetches a single song's metadata and stream URL.
func (c *SaavnClient) ResolveSong(ctx context.Context, link string) (Track, error) {
	body, err := c.get(ctx, "/songs?link="+url.QueryEscape(link))
	if err != nil {
		return Track{}, err
	}

	song := gjson.GetBytes(body, "data.0")
	if !song.Exists() {
		return Track{}, fmt.Errorf("%w: song not found", ErrSaavnResolveFailed)
	}
	return saavnTrack(song)
}

// Search returns the best match for a free-text query.
func (c *SaavnClient) Search(ctx context.Context, query string) (Track, error) {
	body, err := c.get(ctx, "/search/songs?limit=1&query="+url.QueryEscape(query))
	if err != nil {
		return Track{}, err
	}

	song := gjson.GetBytes(body, "data.results.0")
	if !song.Exists() {
		return Track{}, fmt.Errorf("%w: no search results", ErrSaavnResolveFailed)
	}
	return saavnTrack(song)
}

// Playlist returns up to limit tracks from a playlist or album link.
func (c *SaavnClient) Playlist(ctx context.Context, link string, limit int) ([]Track, error) {
	if limit <= 0 {
		limit = 25
	}

	body, err := c.get(ctx, "/playlists?link="+url.QueryEscape(link))
	if err != nil {
		return nil, err
	}

	songs := gjson.GetBytes(body, "data.songs")
	if !songs.Exists() {
		return nil, fmt.Errorf("%w: playlist not found", ErrSaavnResolveFailed)
	}

	var tracks []Track
	songs.ForEach(func(_, song gjson.Result) bool {
		track, err := saavnTrack(song)
		if err != nil {
			return true
		}
		tracks = append(tracks, track)
		return len(tracks) < limit
	})

	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: empty playlist", ErrSaavnResolveFailed)
	}
	return tracks, nil
}

func (c *SaavnClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: saavn api status %d", ErrSaavnResolveFailed, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func saavnTrack(song gjson.Result) (Track, error) {
	streamURL := bestSaavnDownload(song.Get("downloadUrl"))
	if streamURL == "" {
		return Track{}, fmt.Errorf("%w: no download url", ErrSaavnResolveFailed)
	}

	title := song.Get("name").String()
	if title == "" {
		title = "Unknown Title"
	}

	return Track{
		ID:        song.Get("id").String(),
		Title:     title,
		URL:       streamURL,
		Source:    TrackSourceSaavn,
		Duration:  time.Duration(song.Get("duration").Int()) * time.Second,
		Thumbnail: song.Get("image.@reverse.0.url").String(),
	}, nil
}

// bestSaavnDownload picks the highest advertised quality variant. Qualities
// come as strings like "320kbps".
func bestSaavnDownload(downloads gjson.Result) string {
	best := ""
	bestQuality := -1
	downloads.ForEach(func(_, v gjson.Result) bool {
		quality := qualityRank(v.Get("quality").String())
		if u := v.Get("url").String(); u != "" && quality > bestQuality {
			best = u
			bestQuality = quality
		}
		return true
	})
	return best
}

// qualityRank extracts the leading number from a quality label.
func qualityRank(quality string) int {
	n := 0
	for _, r := range quality {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}
