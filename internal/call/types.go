package call

import (
	"context"
	"fmt"
	"time"
)

// SourceKind tells the coordinator how an entry's playable path is resolved.
// It is fixed when the entry is enqueued, never re-derived from the path.
type SourceKind int

const (
	SourceUnknown SourceKind = iota
	SourceLive
	SourceDownloadedVideo
	SourceDownloadedAudio
	SourceIndexed
	SourceTelegram
	SourcePlatform
)

func (k SourceKind) String() string {
	switch k {
	case SourceLive:
		return "live"
	case SourceDownloadedVideo:
		return "downloaded-video"
	case SourceDownloadedAudio:
		return "downloaded-audio"
	case SourceIndexed:
		return "indexed"
	case SourceTelegram:
		return "telegram"
	case SourcePlatform:
		return "platform"
	default:
		return "unknown"
	}
}

type StreamType string

const (
	StreamAudio StreamType = "audio"
	StreamVideo StreamType = "video"
)

// Entry is one pending or playing track in a chat's queue. The head of the
// queue is always the currently-playing (or about-to-play) entry.
type Entry struct {
	Source      SourceKind
	Title       string
	Duration    int // seconds
	RequestedBy string

	// OriginChatID is where status messages are posted; it differs from the
	// voice-chat chat in channel-play mode.
	OriginChatID int64

	Stream   StreamType
	TrackRef string // platform id, URL, or raw path depending on Source
	FilePath string // resolved playable path or URL, set once resolved

	PlayedSec int
	StatusMsg *MessageRef

	// Speed override. OrigDuration snapshots the pre-override duration so a
	// return to 1.0 (or the next track) can restore it.
	Speed        float64
	SpeedPath    string
	OrigDuration int
	HasOrig      bool
}

// ActivePath returns the path the stream is currently served from,
// accounting for a speed-changed re-encode.
func (e *Entry) ActivePath() string {
	if e.SpeedPath != "" {
		return e.SpeedPath
	}
	return e.FilePath
}

func (e *Entry) IsVideo() bool {
	return e.Stream == StreamVideo
}

// StreamSpec is what a Connection needs to begin playback.
type StreamSpec struct {
	Path   string
	Video  bool
	Window string // ffmpeg time window, e.g. "-ss 42 -to 180"
}

// CallStatus is a bit set of call-state change flags reported by a connection.
type CallStatus uint32

const (
	StatusKicked CallStatus = 1 << iota
	StatusLeftGroup
	StatusClosedVoiceChat
	StatusDiscardedCall
	StatusBusyCall
	StatusLeftCall
)

// criticalStatus mandates immediate teardown regardless of queue state.
const criticalStatus = StatusKicked | StatusLeftGroup | StatusClosedVoiceChat |
	StatusDiscardedCall | StatusBusyCall

// Event is a notification emitted by a Connection.
type Event interface {
	EventChatID() int64
}

type StatusEvent struct {
	ChatID int64
	Status CallStatus
}

func (e StatusEvent) EventChatID() int64 { return e.ChatID }

type StreamEndEvent struct {
	ChatID int64
	Media  StreamType
}

func (e StreamEndEvent) EventChatID() int64 { return e.ChatID }

type Participant struct {
	UserID       int64
	MutedByAdmin bool
}

// Connection wraps one helper account's call-signaling handle. Connections are
// created at process start and shared across every chat assigned to them.
type Connection interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	Play(ctx context.Context, chatID int64, spec StreamSpec) error
	Pause(ctx context.Context, chatID int64) error
	Resume(ctx context.Context, chatID int64) error
	Mute(ctx context.Context, chatID int64) error
	Unmute(ctx context.Context, chatID int64) error
	LeaveCall(ctx context.Context, chatID int64) error
	CreateCall(ctx context.Context, chatID int64) error
	SetVolume(ctx context.Context, chatID int64, volume int) error
	Participants(ctx context.Context, chatID int64) ([]Participant, error)

	// Latency reports the last measured round-trip in milliseconds,
	// 0 when unknown.
	Latency() float64

	// Events delivers call-status and stream-end notifications in the
	// order the backend emits them.
	Events() <-chan Event
}

// MessageRef identifies a sent status message for later edits or deletion.
type MessageRef struct {
	ChatID    int64
	MessageID int64
}

// Messenger is the messaging-client collaborator.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) (MessageRef, error)
	SendPhoto(ctx context.Context, chatID int64, photo, caption string) (MessageRef, error)
	EditMessage(ctx context.Context, ref MessageRef, text string) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
}

// Settings is the persistent settings-store collaborator.
type Settings interface {
	Loop(ctx context.Context, chatID int64) (int, error)
	SetLoop(ctx context.Context, chatID int64, count int) error
	AutoEnd(ctx context.Context) (bool, error)
	Lang(ctx context.Context, chatID int64) (string, error)
	MusicOn(ctx context.Context, chatID int64) error
	AddActiveChat(ctx context.Context, chatID int64) error
	RemoveActiveChat(ctx context.Context, chatID int64) error
	AddActiveVideoChat(ctx context.Context, chatID int64) error
	RemoveActiveVideoChat(ctx context.Context, chatID int64) error
}

// Resolver is the download/resolve collaborator: it turns a track reference
// into a local file path or a direct streamable URL.
type Resolver interface {
	LiveStreamURL(ctx context.Context, ref string) (string, error)
	Download(ctx context.Context, ref string, video bool) (string, error)
	DirectURL(ctx context.Context, ref string) (string, error)
}

// Localizer returns the message-key to template-string table for a locale.
type Localizer func(lang string) map[string]string

func formatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	d := time.Duration(seconds) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
