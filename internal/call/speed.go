package call

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bluele/gcache"
	"github.com/sirupsen/logrus"
)

// videoRateFilters maps common playback speeds to the setpts factor for the
// video-timing filter. The mapping is non-linear for the usual presets; other
// speeds fall back to 1/speed.
var videoRateFilters = map[string]float64{
	"0.5":  2.0,
	"0.75": 1.35,
	"1.5":  0.68,
	"2":    0.5,
}

var knownMediaExts = []string{".mp3", ".mp4", ".wav", ".m4a", ".mkv", ".avi"}

// SpeedEncoder produces rate-adjusted copies of local media files. Outputs are
// cached on disk keyed by (speed, filename); a cache hit skips re-encoding.
type SpeedEncoder struct {
	Binary      string
	ProbeBinary string
	BaseDir     string

	cache gcache.Cache
	log   *logrus.Entry
}

func NewSpeedEncoder(baseDir string) *SpeedEncoder {
	return &SpeedEncoder{
		Binary:      "ffmpeg",
		ProbeBinary: "ffprobe",
		BaseDir:     baseDir,
		cache:       gcache.New(256).LRU().Build(),
		log:         logrus.WithField("component", "speed"),
	}
}

// Encode returns the path of filePath re-encoded at the given speed. On any
// encoding failure it returns the original path: playback degrades to normal
// speed rather than failing the request.
func (s *SpeedEncoder) Encode(ctx context.Context, filePath string, speed float64, video bool) string {
	key := formatSpeed(speed) + "|" + filepath.Base(filePath)
	if v, err := s.cache.Get(key); err == nil {
		if out, ok := v.(string); ok {
			if _, err := os.Stat(out); err == nil {
				return out
			}
		}
	}

	out, err := s.encode(ctx, filePath, speed, video)
	if err != nil {
		s.log.Warnf("re-encode failed, playing original: %v", err)
		return filePath
	}
	_ = s.cache.Set(key, out)
	return out
}

func (s *SpeedEncoder) encode(ctx context.Context, filePath string, speed float64, video bool) (string, error) {
	base := sanitizeBase(filepath.Base(filePath))
	dir := filepath.Join(s.BaseDir, formatSpeed(speed))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create playback dir: %w", err)
	}

	out := filepath.Join(dir, base)
	if _, err := os.Stat(out); err == nil {
		return out, nil
	}

	var args []string
	if video {
		vs, ok := videoRateFilters[formatSpeed(speed)]
		if !ok {
			vs = 1.0 / speed
		}
		args = []string{
			"-i", filePath,
			"-filter:v", fmt.Sprintf("setpts=%.2f*PTS", vs),
			"-filter:a", fmt.Sprintf("atempo=%.2f", speed),
			"-c:v", "libx264", "-c:a", "aac",
			"-preset", "ultrafast", "-crf", "28",
			"-y", out,
		}
	} else {
		args = []string{
			"-i", filePath,
			"-filter:a", fmt.Sprintf("atempo=%.2f", speed),
			"-c:a", "libmp3lame", "-b:a", "128k",
			"-y", out,
		}
	}

	cmd := exec.CommandContext(ctx, s.Binary, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("ffmpeg: %v: %s", err, strings.TrimSpace(string(output)))
	}
	return out, nil
}

// ProbeDuration reads a media file's duration in seconds via ffprobe.
func (s *SpeedEncoder) ProbeDuration(ctx context.Context, path string) (int, error) {
	cmd := exec.CommandContext(ctx, s.ProbeBinary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe output: %w", err)
	}
	return int(seconds), nil
}

func formatSpeed(speed float64) string {
	return strconv.FormatFloat(speed, 'f', -1, 64)
}

// sanitizeBase strips shell-hostile characters and guarantees a media
// extension so ffmpeg can infer the output muxer.
func sanitizeBase(base string) string {
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		}
	}

	clean := strings.TrimSpace(b.String())
	for _, ext := range knownMediaExts {
		if strings.HasSuffix(clean, ext) {
			return clean
		}
	}
	return clean + ".mp3"
}
