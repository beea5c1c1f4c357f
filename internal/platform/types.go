package platform

import "time"

type TrackSource string

const (
	TrackSourceYouTube    TrackSource = "youtube"
	TrackSourceSpotify    TrackSource = "spotify"
	TrackSourceSoundCloud TrackSource = "soundcloud"
	TrackSourceSaavn      TrackSource = "saavn"
	TrackSourceApple      TrackSource = "apple"
	TrackSourceResso      TrackSource = "resso"
	TrackSourceTelegram   TrackSource = "telegram"
	TrackSourceUnknown    TrackSource = "unknown"
)

type Track struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	URL         string        `json:"url"`
	Source      TrackSource   `json:"source"`
	Duration    time.Duration `json:"duration"`
	Live        bool          `json:"live"`
	Thumbnail   string        `json:"thumbnail"`
	RequestedBy string        `json:"requested_by"`
}
