package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

var ErrResolveFailed = errors.New("failed to resolve track")

// Resolver shells out to yt-dlp for metadata, direct stream URLs, live URLs,
// and downloads. One resolver serves every platform yt-dlp can extract from;
// quality preferences are configuration, not separate clients.
type Resolver struct {
	Binary      string
	DownloadDir string

	// Format selectors passed to yt-dlp -f.
	AudioFormat string
	VideoFormat string
}

func NewResolver(downloadDir string) *Resolver {
	return &Resolver{
		Binary:      "yt-dlp",
		DownloadDir: downloadDir,
		AudioFormat: "bestaudio/best",
		VideoFormat: "bestvideo[height<=?720][width<=?1280]+bestaudio/best",
	}
}

// Resolve fetches a single track's metadata without downloading it.
func (r *Resolver) Resolve(ctx context.Context, input string, sourceHint TrackSource) (Track, error) {
	target := strings.TrimSpace(input)
	if target == "" {
		return Track{}, fmt.Errorf("%w: empty input", ErrResolveFailed)
	}
	if !looksLikeURL(target) {
		switch sourceHint {
		case TrackSourceSoundCloud:
			target = "scsearch1:" + target
		default:
			target = "ytsearch1:" + target
		}
	}

	args := []string{
		"--no-warnings",
		"--dump-single-json",
		"--skip-download",
		"--no-playlist",
		target,
	}

	output, err := r.run(ctx, args)
	if err != nil {
		return Track{}, err
	}

	var root ytDLPItem
	if err := json.Unmarshal(output, &root); err != nil {
		return Track{}, fmt.Errorf("%w: invalid json: %v", ErrResolveFailed, err)
	}

	item, err := pickYTDLPItem(root)
	if err != nil {
		return Track{}, err
	}

	link := item.WebpageURL
	if link == "" {
		link = item.URL
	}
	if link == "" {
		return Track{}, fmt.Errorf("%w: missing track url", ErrResolveFailed)
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = "Unknown Title"
	}

	source := sourceHint
	if source == TrackSourceUnknown || source == "" {
		source = detectSourceFromURL(link)
	}

	duration := time.Duration(item.Duration * float64(time.Second))
	if duration < 0 {
		duration = 0
	}

	return Track{
		ID:        item.ID,
		Title:     title,
		URL:       link,
		Source:    source,
		Duration:  duration,
		Live:      item.IsLive,
		Thumbnail: item.Thumbnail,
	}, nil
}

// LiveStreamURL returns a playable manifest URL for a live reference.
func (r *Resolver) LiveStreamURL(ctx context.Context, ref string) (string, error) {
	args := []string{
		"--no-warnings",
		"-f", "best",
		"-g",
		"--no-playlist",
		watchURL(ref),
	}

	output, err := r.run(ctx, args)
	if err != nil {
		return "", err
	}

	streamURL := firstLine(output)
	if streamURL == "" {
		return "", fmt.Errorf("%w: empty live stream url", ErrResolveFailed)
	}
	return streamURL, nil
}

// DirectURL returns a direct audio stream URL without downloading.
func (r *Resolver) DirectURL(ctx context.Context, ref string) (string, error) {
	args := []string{
		"--no-warnings",
		"-f", r.AudioFormat,
		"-g",
		"--no-playlist",
		watchURL(ref),
	}

	output, err := r.run(ctx, args)
	if err != nil {
		return "", err
	}

	streamURL := firstLine(output)
	if streamURL == "" {
		return "", fmt.Errorf("%w: empty stream url", ErrResolveFailed)
	}
	return streamURL, nil
}

// Download fetches the media to DownloadDir and returns the local path.
// Already-downloaded files are reused.
func (r *Resolver) Download(ctx context.Context, ref string, video bool) (string, error) {
	format := r.AudioFormat
	if video {
		format = r.VideoFormat
	}

	if err := os.MkdirAll(r.DownloadDir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	args := []string{
		"--no-warnings",
		"-f", format,
		"--no-playlist",
		"--no-overwrites",
		"--continue",
		"-o", filepath.Join(r.DownloadDir, "%(id)s.%(ext)s"),
		"--print", "after_move:filepath",
		"--no-simulate",
		watchURL(ref),
	}

	output, err := r.run(ctx, args)
	if err != nil {
		return "", err
	}

	path := firstLine(output)
	if path == "" {
		return "", fmt.Errorf("%w: no downloaded file reported", ErrResolveFailed)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: downloaded file missing: %v", ErrResolveFailed, err)
	}
	return path, nil
}

func (r *Resolver) run(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.Binary, args...)
	output, err := cmd.Output()
	if err != nil {
		detail := ""
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			detail = strings.TrimSpace(string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("%w: yt-dlp failed: %v: %s", ErrResolveFailed, err, detail)
	}
	return output, nil
}

type ytDLPItem struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	WebpageURL string      `json:"webpage_url"`
	URL        string      `json:"url"`
	Duration   float64     `json:"duration"`
	IsLive     bool        `json:"is_live"`
	Thumbnail  string      `json:"thumbnail"`
	Entries    []ytDLPItem `json:"entries"`
}

func pickYTDLPItem(root ytDLPItem) (ytDLPItem, error) {
	if len(root.Entries) == 0 {
		return root, nil
	}

	for _, entry := range root.Entries {
		if entry.WebpageURL != "" || entry.URL != "" || entry.Title != "" {
			return entry, nil
		}
	}

	return ytDLPItem{}, fmt.Errorf("%w: no usable entries", ErrResolveFailed)
}

// watchURL turns a bare YouTube video id into a watch URL; full URLs pass
// through unchanged.
func watchURL(ref string) string {
	if looksLikeURL(ref) {
		return ref
	}
	return "https://www.youtube.com/watch?v=" + ref
}

func firstLine(output []byte) string {
	s := strings.TrimSpace(string(output))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func looksLikeURL(value string) bool {
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		return true
	}

	u, err := url.Parse(value)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func detectSourceFromURL(raw string) TrackSource {
	u, err := url.Parse(raw)
	if err != nil {
		return TrackSourceUnknown
	}

	host := strings.ToLower(u.Host)
	switch {
	case strings.Contains(host, "youtube.com"), strings.Contains(host, "youtu.be"):
		return TrackSourceYouTube
	case strings.Contains(host, "soundcloud.com"):
		return TrackSourceSoundCloud
	case strings.Contains(host, "spotify.com"):
		return TrackSourceSpotify
	case strings.Contains(host, "saavn.com"), strings.Contains(host, "jiosaavn.com"):
		return TrackSourceSaavn
	case strings.Contains(host, "music.apple.com"):
		return TrackSourceApple
	case strings.Contains(host, "resso.com"):
		return TrackSourceResso
	default:
		return TrackSourceUnknown
	}
}
