package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hxnx/chorus/config"
	"github.com/hxnx/chorus/internal/call"
	"github.com/hxnx/chorus/internal/database"
	"github.com/hxnx/chorus/internal/locale"
	"github.com/hxnx/chorus/internal/platform"
	"github.com/hxnx/chorus/internal/redis"
	"github.com/hxnx/chorus/internal/settings"
	"github.com/hxnx/chorus/internal/telegram"
)

// Bot owns the long-lived pieces of the daemon: the assistant connection
// pool, the playback coordinator, the event dispatcher, and the auto-end
// sweeper. Chat-command transports plug in on top of PlayRequest and the
// coordinator accessors.
type Bot struct {
	config *config.Config

	pool        *call.Pool
	coordinator *call.Coordinator
	dispatcher  *call.Dispatcher
	autoEnd     *call.AutoEndMonitor
	tracks      *platform.Service
	settings    *settings.Service

	cancel  context.CancelFunc
	started bool

	log *logrus.Entry
}

func New(cfg *config.Config) (*Bot, error) {
	log := logrus.WithField("component", "bot")

	dbc := cfg.GetDBConfig()
	if err := database.Initialize(&database.Config{
		Host:     dbc.Host,
		Port:     dbc.Port,
		User:     dbc.User,
		Password: dbc.Password,
		DBName:   dbc.Name,
		SSLMode:  dbc.SSLMode,
	}); err != nil {
		log.Warnf("database initialization failed: %v", err)
	}

	rdc := cfg.GetRedisConfig()
	redisClient, err := redis.Init(redis.Config{
		Host:     rdc.Host,
		Port:     rdc.Port,
		Password: rdc.Password,
		DB:       rdc.DB,
	})
	if err != nil {
		log.Warnf("redis initialization failed: %v", err)
	}

	store := settings.New(redisClient, database.NewChatRepository())

	seedCtx, seedCancel := context.WithTimeout(context.Background(), 5*time.Second)
	seedAutoEnd(seedCtx, store, cfg.AutoEnd, log)
	seedCancel()

	pool, err := buildPool(cfg, log)
	if err != nil {
		return nil, err
	}

	resolver := platform.NewResolver(cfg.DownloadDir)

	var spotify *platform.SpotifyClient
	if cfg.SpotifyClientID != "" && cfg.SpotifyClientSecret != "" {
		spotify = platform.NewSpotifyClient(cfg.SpotifyClientID, cfg.SpotifyClientSecret)
	}
	tracks := platform.NewService(resolver, spotify, platform.NewSaavnClient())

	queue := call.NewQueueStore(cleanupEntries(log))
	autoEnd := call.NewAutoEndMonitor()

	coordinator := call.NewCoordinator(call.Options{
		Pool:         pool,
		Queue:        queue,
		Settings:     store,
		Messenger:    telegram.NewMessenger(cfg.BotToken),
		Resolver:     resolver,
		Strings:      locale.Strings,
		AutoEnd:      autoEnd,
		Encoder:      call.NewSpeedEncoder(cfg.PlaybackDir),
		LoggerChatID: cfg.LoggerID,
		OwnerChatID:  cfg.OwnerID,
	})

	return &Bot{
		config:      cfg,
		pool:        pool,
		coordinator: coordinator,
		dispatcher:  call.NewDispatcher(coordinator),
		autoEnd:     autoEnd,
		tracks:      tracks,
		settings:    store,
		log:         log,
	}, nil
}

func buildPool(cfg *config.Config, log *logrus.Entry) (*call.Pool, error) {
	sessions := cfg.SessionStrings()
	if len(sessions) == 0 {
		log.Warn("no assistant sessions configured; every join will fail until one is added")
		return call.NewPool(), nil
	}

	factory, err := call.Engine(cfg.CallEngine)
	if err != nil {
		return nil, err
	}

	conns := make([]call.Connection, 0, len(sessions))
	for i, session := range sessions {
		name := fmt.Sprintf("assistant%d", i+1)
		conn, err := factory(name, session)
		if err != nil {
			log.Warnf("assistant %s unavailable: %v", name, err)
			continue
		}
		conns = append(conns, conn)
	}
	return call.NewPool(conns...), nil
}

// cleanupEntries deletes the downloaded files behind dropped queue entries.
// Direct URLs and telegram references have nothing on disk and are skipped.
func cleanupEntries(log *logrus.Entry) call.CleanupFunc {
	return func(entries []*call.Entry) {
		for _, entry := range entries {
			if entry == nil {
				continue
			}
			for _, path := range []string{entry.FilePath, entry.SpeedPath} {
				if path == "" || strings.Contains(path, "://") {
					continue
				}
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					log.Warnf("cleanup %s: %v", path, err)
				}
			}
		}
	}
}

func (b *Bot) Coordinator() *call.Coordinator { return b.coordinator }
func (b *Bot) Tracks() *platform.Service      { return b.tracks }
func (b *Bot) Settings() *settings.Service    { return b.settings }

func (b *Bot) Start() error {
	if b.started {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	startCtx, startCancel := context.WithTimeout(ctx, time.Minute)
	b.pool.StartAll(startCtx)
	startCancel()

	go b.dispatcher.Run(ctx)
	go b.autoEnd.Run(ctx, b.coordinator)

	b.started = true
	b.log.Infof("daemon started with %d assistant(s)", len(b.pool.Connections()))
	return nil
}

func (b *Bot) Stop() error {
	if !b.started {
		return nil
	}
	b.started = false

	if b.cancel != nil {
		b.cancel()
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	for _, chatID := range b.pool.ActiveCalls() {
		if err := b.coordinator.StopStream(stopCtx, chatID); err != nil {
			b.log.Warnf("stop stream in %d: %v", chatID, err)
		}
	}
	b.pool.StopAll(stopCtx)

	if err := database.Close(); err != nil {
		b.log.Warnf("close database: %v", err)
	}
	if err := redis.Close(); err != nil {
		b.log.Warnf("close redis: %v", err)
	}

	b.log.Info("daemon stopped")
	return nil
}

var (
	ErrDurationLimit = errors.New("track exceeds the duration limit")
	ErrVideoLimit    = errors.New("video stream limit reached")
)

// PlayRequest resolves a link or query and enqueues it for the chat, joining
// the voice chat when the queue was empty. Returns the queue position.
func (b *Bot) PlayRequest(ctx context.Context, chatID, originChatID int64, input string, video bool, requestedBy string) (int, error) {
	track, err := b.tracks.ResolveInput(ctx, input, requestedBy)
	if err != nil {
		return 0, err
	}

	if err := admitTrack(b.config, track); err != nil {
		return 0, err
	}
	if video {
		if err := checkVideoLimit(ctx, b.settings, b.config.VideoLimit, b.log); err != nil {
			return 0, err
		}
	}

	entry := entryFromTrack(track, chatID, originChatID, video)
	return b.coordinator.Enqueue(ctx, chatID, entry)
}

// admitTrack rejects tracks longer than the configured duration limit. Live
// streams carry no finite duration and pass through.
func admitTrack(cfg *config.Config, track platform.Track) error {
	if cfg.DurationLimit <= 0 || track.Live {
		return nil
	}
	if int(track.Duration/time.Second) > cfg.DurationLimit {
		return fmt.Errorf("%w: %s runs %s", ErrDurationLimit, track.Title, track.Duration)
	}
	return nil
}

type autoEndSeeder interface {
	SetAutoEnd(ctx context.Context, enabled bool) error
}

// seedAutoEnd pushes the AUTO_END setting into the runtime store at boot so
// the coordinator's flag reflects the configured default.
func seedAutoEnd(ctx context.Context, store autoEndSeeder, enabled bool, log *logrus.Entry) {
	if err := store.SetAutoEnd(ctx, enabled); err != nil {
		log.Warnf("seed auto-end flag: %v", err)
	}
}

type videoChatLister interface {
	ActiveVideoChats(ctx context.Context) ([]int64, error)
}

// checkVideoLimit caps the number of simultaneous video streams. A store
// failure degrades to allowing the stream.
func checkVideoLimit(ctx context.Context, store videoChatLister, limit int, log *logrus.Entry) error {
	if limit <= 0 {
		return nil
	}
	chats, err := store.ActiveVideoChats(ctx)
	if err != nil {
		log.Warnf("count active video chats: %v", err)
		return nil
	}
	if len(chats) >= limit {
		return ErrVideoLimit
	}
	return nil
}

func entryFromTrack(track platform.Track, chatID, originChatID int64, video bool) *call.Entry {
	if originChatID == 0 {
		originChatID = chatID
	}

	entry := &call.Entry{
		Title:        track.Title,
		Duration:     int(track.Duration / time.Second),
		RequestedBy:  track.RequestedBy,
		OriginChatID: originChatID,
		TrackRef:     track.URL,
		Stream:       call.StreamAudio,
	}
	if video {
		entry.Stream = call.StreamVideo
	}

	switch {
	case track.Live:
		entry.Source = call.SourceLive
	case track.Source == platform.TrackSourceSaavn:
		// saavn URLs are already direct streams
		entry.Source = call.SourceIndexed
	case video:
		entry.Source = call.SourceDownloadedVideo
	default:
		entry.Source = call.SourceDownloadedAudio
	}
	return entry
}
