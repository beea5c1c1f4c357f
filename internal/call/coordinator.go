package call

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// errCorruptedEntry marks a queue entry missing the fields needed to play it.
// Such entries are skipped, not fatal.
var errCorruptedEntry = errors.New("corrupted queue entry")

// maxAdvanceDepth bounds how many broken entries a single advance will skip
// before giving up and tearing the chat down.
const maxAdvanceDepth = 32

const defaultResolveTimeout = 90 * time.Second

// Options wires the coordinator's collaborators.
type Options struct {
	Pool      *Pool
	Queue     *QueueStore
	Settings  Settings
	Messenger Messenger
	Resolver  Resolver
	Strings   Localizer
	AutoEnd   *AutoEndMonitor
	Encoder   *SpeedEncoder

	// Artwork picks the status-message photo for an entry; empty means a
	// plain text message.
	Artwork func(*Entry) string

	// LoggerChatID receives StreamCall broadcasts; OwnerChatID receives the
	// admin-rights complaint when that fails. Both optional.
	LoggerChatID int64
	OwnerChatID  int64

	// ResolveTimeout bounds every resolver call. Defaults to 90s.
	ResolveTimeout time.Duration
}

// Coordinator is the per-chat playback state machine: it decides what plays
// next, on which connection, and how to react when playback ends or fails.
//
// Mutations for one chat are serialized behind a per-chat mutex; different
// chats proceed concurrently. Because every operation may suspend on I/O, the
// queue is re-checked after each suspension rather than assumed unchanged.
type Coordinator struct {
	pool      *Pool
	queue     *QueueStore
	settings  Settings
	messenger Messenger
	resolver  Resolver
	strings   Localizer
	autoEnd   *AutoEndMonitor
	encoder   *SpeedEncoder
	artwork   func(*Entry) string

	loggerChatID   int64
	ownerChatID    int64
	resolveTimeout time.Duration

	mu        sync.Mutex
	chatLocks map[int64]*sync.Mutex

	log *logrus.Entry
}

func NewCoordinator(opts Options) *Coordinator {
	timeout := opts.ResolveTimeout
	if timeout <= 0 {
		timeout = defaultResolveTimeout
	}
	artwork := opts.Artwork
	if artwork == nil {
		artwork = func(*Entry) string { return "" }
	}

	return &Coordinator{
		pool:           opts.Pool,
		queue:          opts.Queue,
		settings:       opts.Settings,
		messenger:      opts.Messenger,
		resolver:       opts.Resolver,
		strings:        opts.Strings,
		autoEnd:        opts.AutoEnd,
		encoder:        opts.Encoder,
		artwork:        artwork,
		loggerChatID:   opts.LoggerChatID,
		ownerChatID:    opts.OwnerChatID,
		resolveTimeout: timeout,
		chatLocks:      make(map[int64]*sync.Mutex),
		log:            logrus.WithField("component", "coordinator"),
	}
}

func (c *Coordinator) Queue() *QueueStore { return c.queue }
func (c *Coordinator) Pool() *Pool        { return c.pool }

// lockChat serializes mutations for a single chat.
func (c *Coordinator) lockChat(chatID int64) func() {
	c.mu.Lock()
	l, ok := c.chatLocks[chatID]
	if !ok {
		l = &sync.Mutex{}
		c.chatLocks[chatID] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// conn returns the chat's assigned connection; chats without one are not
// active and every delegated operation fails the same way.
func (c *Coordinator) conn(chatID int64) (Connection, error) {
	if conn, ok := c.pool.Assigned(chatID); ok {
		return conn, nil
	}
	return nil, assistantErr(ReasonNotActive, nil)
}

// Enqueue adds an entry to the chat's queue, joining the call and starting
// playback when the chat is idle. It returns the entry's queue position.
func (c *Coordinator) Enqueue(ctx context.Context, chatID int64, entry *Entry) (int, error) {
	unlock := c.lockChat(chatID)
	defer unlock()

	if c.pool.IsActive(chatID) && c.queue.Len(chatID) > 0 {
		return c.queue.Push(chatID, entry), nil
	}

	if err := c.joinLocked(ctx, chatID, entry); err != nil {
		return 0, err
	}

	entry.PlayedSec = 0
	c.queue.Push(chatID, entry)
	c.sendNowPlaying(ctx, chatID, entry)
	return 0, nil
}

// JoinCall joins the chat's group call and starts streaming the entry. The
// entry is not queued; Enqueue is the usual path.
func (c *Coordinator) JoinCall(ctx context.Context, chatID int64, entry *Entry) error {
	unlock := c.lockChat(chatID)
	defer unlock()
	return c.joinLocked(ctx, chatID, entry)
}

func (c *Coordinator) joinLocked(ctx context.Context, chatID int64, entry *Entry) error {
	conn, err := c.pool.Assign(chatID)
	if err != nil {
		return assistantErr(ReasonNoAssistant, err)
	}

	spec, err := c.resolveEntry(ctx, entry)
	if err != nil {
		c.pool.Release(chatID)
		return assistantErr(ReasonInvalidLink, err)
	}

	err = conn.Play(ctx, chatID, spec)
	if errors.Is(err, ErrNoActiveCall) {
		// No running call: create it once and retry the start.
		if cerr := conn.CreateCall(ctx, chatID); cerr != nil {
			c.pool.Release(chatID)
			if errors.Is(cerr, ErrAdminRequired) {
				return assistantErr(ReasonAdminRequired, cerr)
			}
			return assistantErr(ReasonJoinFailed, cerr)
		}
		err = conn.Play(ctx, chatID, spec)
	}
	if err != nil {
		c.pool.Release(chatID)
		switch {
		case errors.Is(err, ErrAdminRequired):
			return assistantErr(ReasonAdminRequired, err)
		case errors.Is(err, ErrServerError):
			return assistantErr(ReasonServerError, err)
		default:
			return assistantErr(ReasonJoinFailed, err)
		}
	}

	c.pool.MarkActive(chatID)
	c.storeActive(ctx, chatID, entry.IsVideo())
	c.armAutoEnd(ctx, conn, chatID)
	return nil
}

func (c *Coordinator) storeActive(ctx context.Context, chatID int64, video bool) {
	if err := c.settings.AddActiveChat(ctx, chatID); err != nil {
		c.log.WithField("chat_id", chatID).Warnf("add active chat: %v", err)
	}
	if err := c.settings.MusicOn(ctx, chatID); err != nil {
		c.log.WithField("chat_id", chatID).Warnf("music on: %v", err)
	}
	if video {
		if err := c.settings.AddActiveVideoChat(ctx, chatID); err != nil {
			c.log.WithField("chat_id", chatID).Warnf("add active video chat: %v", err)
		}
	}
}

func (c *Coordinator) armAutoEnd(ctx context.Context, conn Connection, chatID int64) {
	if c.autoEnd == nil {
		return
	}
	enabled, err := c.settings.AutoEnd(ctx)
	if err != nil || !enabled {
		return
	}
	users, err := conn.Participants(ctx, chatID)
	if err != nil {
		return
	}
	if len(users) == 1 {
		c.autoEnd.Arm(chatID, time.Now())
	}
}

// resolveEntry builds the streamable reference for an entry according to its
// source kind, with a bounded wait on all resolver I/O.
func (c *Coordinator) resolveEntry(ctx context.Context, entry *Entry) (StreamSpec, error) {
	ctx, cancel := context.WithTimeout(ctx, c.resolveTimeout)
	defer cancel()

	switch entry.Source {
	case SourceLive:
		if entry.TrackRef == "" {
			return StreamSpec{}, errCorruptedEntry
		}
		url, err := c.resolver.LiveStreamURL(ctx, entry.TrackRef)
		if err != nil {
			return StreamSpec{}, fmt.Errorf("resolve live stream: %w", err)
		}
		entry.FilePath = url

	case SourceDownloadedVideo, SourceDownloadedAudio:
		if entry.FilePath == "" {
			if entry.TrackRef == "" {
				return StreamSpec{}, errCorruptedEntry
			}
			path, err := c.resolver.Download(ctx, entry.TrackRef, entry.Source == SourceDownloadedVideo)
			if err != nil {
				return StreamSpec{}, fmt.Errorf("download: %w", err)
			}
			entry.FilePath = path
		}

	case SourceIndexed, SourceTelegram:
		if entry.FilePath == "" {
			entry.FilePath = entry.TrackRef
		}

	case SourcePlatform:
		if entry.FilePath == "" {
			if entry.TrackRef == "" {
				return StreamSpec{}, errCorruptedEntry
			}
			url, err := c.resolver.DirectURL(ctx, entry.TrackRef)
			if err != nil {
				return StreamSpec{}, fmt.Errorf("resolve direct url: %w", err)
			}
			entry.FilePath = url
		}

	default:
		return StreamSpec{}, errCorruptedEntry
	}

	if entry.FilePath == "" {
		return StreamSpec{}, errCorruptedEntry
	}
	return StreamSpec{Path: entry.ActivePath(), Video: entry.IsVideo()}, nil
}

// Advance reacts to a stream-end notification: replay when the loop counter
// is set, otherwise pop and start the next entry, tearing down on exhaustion.
func (c *Coordinator) Advance(ctx context.Context, chatID int64) {
	unlock := c.lockChat(chatID)
	defer unlock()

	conn, ok := c.pool.Assigned(chatID)
	if !ok {
		// Desync: nothing assigned but an end event arrived.
		c.teardownLocked(ctx, nil, chatID)
		return
	}
	c.advanceLocked(ctx, conn, chatID, 0)
}

func (c *Coordinator) advanceLocked(ctx context.Context, conn Connection, chatID int64, depth int) {
	if depth > maxAdvanceDepth {
		c.log.WithField("chat_id", chatID).Error("advance depth exceeded, tearing down")
		c.teardownLocked(ctx, conn, chatID)
		return
	}

	loopN, err := c.settings.Loop(ctx, chatID)
	if err != nil {
		c.log.WithField("chat_id", chatID).Warnf("read loop counter: %v", err)
		loopN = 0
	}

	if loopN > 0 {
		if err := c.settings.SetLoop(ctx, chatID, loopN-1); err != nil {
			c.log.WithField("chat_id", chatID).Warnf("decrement loop counter: %v", err)
		}
	} else if popped := c.queue.PopFront(chatID); popped != nil {
		c.clearStatusMsg(ctx, popped)
		c.queue.Release(popped)
	}

	head := c.queue.PeekFront(chatID)
	if head == nil {
		c.teardownLocked(ctx, conn, chatID)
		return
	}

	// A new head begins playing: per-entry state resets, and any speed
	// override snapshot from the previous stream is restored.
	head.PlayedSec = 0
	if head.HasOrig {
		head.Duration = head.OrigDuration
		head.OrigDuration = 0
		head.HasOrig = false
	}
	head.SpeedPath = ""
	head.Speed = 0

	if err := c.startHead(ctx, conn, chatID, head); err != nil {
		if errors.Is(err, errCorruptedEntry) {
			c.log.WithField("chat_id", chatID).Warnf("skipping corrupted queue entry %q", head.Title)
		} else {
			c.log.WithField("chat_id", chatID).Warnf("start next entry: %v", err)
			c.notify(ctx, head.OriginChatID, "stream_failed")
		}
		c.advanceLocked(ctx, conn, chatID, depth+1)
		return
	}

	c.sendNowPlaying(ctx, chatID, head)
}

func (c *Coordinator) startHead(ctx context.Context, conn Connection, chatID int64, head *Entry) error {
	spec, err := c.resolveEntry(ctx, head)
	if err != nil {
		return err
	}
	if err := conn.Play(ctx, chatID, spec); err != nil {
		return fmt.Errorf("start playback: %w", err)
	}

	// A human in the call cancels any pending auto-end.
	if c.autoEnd != nil && c.autoEnd.Armed(chatID) {
		if users, err := conn.Participants(ctx, chatID); err == nil && len(users) > 1 {
			c.autoEnd.Disarm(chatID)
		}
	}
	return nil
}

// StopStream clears the chat's queue and leaves the call. Safe to call for
// chats that are not active.
func (c *Coordinator) StopStream(ctx context.Context, chatID int64) error {
	unlock := c.lockChat(chatID)
	defer unlock()

	c.teardownLocked(ctx, nil, chatID)
	return nil
}

// ForceStopStream is StopStream preceded by an explicit pop of the playing
// head, releasing its resources ahead of the full clear.
func (c *Coordinator) ForceStopStream(ctx context.Context, chatID int64) error {
	unlock := c.lockChat(chatID)
	defer unlock()

	if head := c.queue.PopFront(chatID); head != nil {
		c.clearStatusMsg(ctx, head)
		c.queue.Release(head)
	}
	c.teardownLocked(ctx, nil, chatID)
	return nil
}

// clearStatusMsg deletes the entry's now-playing message, best effort.
func (c *Coordinator) clearStatusMsg(ctx context.Context, entry *Entry) {
	if entry == nil || entry.StatusMsg == nil {
		return
	}
	if err := c.messenger.DeleteMessage(ctx, *entry.StatusMsg); err != nil {
		c.log.WithField("chat_id", entry.StatusMsg.ChatID).Warnf("delete status message: %v", err)
	}
	entry.StatusMsg = nil
}

// teardownLocked is the single path back to Idle: clear the queue, drop the
// settings-store activity flags, disarm auto-end, and leave the call if we
// are in one. "Already gone" leave failures are expected and ignored.
func (c *Coordinator) teardownLocked(ctx context.Context, conn Connection, chatID int64) {
	c.queue.Clear(chatID)

	if err := c.settings.RemoveActiveVideoChat(ctx, chatID); err != nil {
		c.log.WithField("chat_id", chatID).Warnf("remove active video chat: %v", err)
	}
	if err := c.settings.RemoveActiveChat(ctx, chatID); err != nil {
		c.log.WithField("chat_id", chatID).Warnf("remove active chat: %v", err)
	}
	if err := c.settings.SetLoop(ctx, chatID, 0); err != nil {
		c.log.WithField("chat_id", chatID).Warnf("reset loop counter: %v", err)
	}
	if c.autoEnd != nil {
		c.autoEnd.Disarm(chatID)
	}

	if !c.pool.IsActive(chatID) {
		c.pool.Release(chatID)
		return
	}

	if conn == nil {
		conn, _ = c.pool.Assigned(chatID)
	}
	if conn != nil {
		err := conn.LeaveCall(ctx, chatID)
		switch {
		case err == nil, errors.Is(err, ErrNoActiveCall), errors.Is(err, ErrAlreadyLeft):
		default:
			c.log.WithField("chat_id", chatID).Warnf("leave call: %v", err)
		}
	}

	c.pool.MarkInactive(chatID)
	c.pool.Release(chatID)
}

func (c *Coordinator) PauseStream(ctx context.Context, chatID int64) error {
	conn, err := c.conn(chatID)
	if err != nil {
		return err
	}
	return conn.Pause(ctx, chatID)
}

func (c *Coordinator) ResumeStream(ctx context.Context, chatID int64) error {
	conn, err := c.conn(chatID)
	if err != nil {
		return err
	}
	return conn.Resume(ctx, chatID)
}

func (c *Coordinator) MuteStream(ctx context.Context, chatID int64) error {
	conn, err := c.conn(chatID)
	if err != nil {
		return err
	}
	return conn.Mute(ctx, chatID)
}

func (c *Coordinator) UnmuteStream(ctx context.Context, chatID int64) error {
	conn, err := c.conn(chatID)
	if err != nil {
		return err
	}
	return conn.Unmute(ctx, chatID)
}

// SkipTo starts the given resolved reference on the chat's existing
// connection. Queue ordering is the caller's business.
func (c *Coordinator) SkipTo(ctx context.Context, chatID int64, ref string, video bool) error {
	conn, err := c.conn(chatID)
	if err != nil {
		return err
	}
	if err := conn.Play(ctx, chatID, StreamSpec{Path: ref, Video: video}); err != nil {
		return assistantErr(ReasonStreamFailed, err)
	}
	return nil
}

// Seek restarts the current stream with a time window. Queue position is
// untouched.
func (c *Coordinator) Seek(ctx context.Context, chatID int64, toSec, totalSec int, mode StreamType) error {
	conn, err := c.conn(chatID)
	if err != nil {
		return err
	}
	head := c.queue.PeekFront(chatID)
	if head == nil {
		return assistantErr(ReasonNotActive, nil)
	}

	spec := StreamSpec{
		Path:   head.ActivePath(),
		Video:  mode == StreamVideo,
		Window: fmt.Sprintf("-ss %d -to %d", toSec, totalSec),
	}
	if err := conn.Play(ctx, chatID, spec); err != nil {
		return assistantErr(ReasonStreamFailed, err)
	}

	c.queue.UpdateHead(chatID, func(e *Entry) {
		if e == head {
			e.PlayedSec = toSec
		}
	})
	return nil
}

// ChangeVolume clamps to [1, 200] and falls back to the alternate
// volume-setting call when the primary is unsupported by the connection.
func (c *Coordinator) ChangeVolume(ctx context.Context, chatID int64, volume int) error {
	conn, err := c.conn(chatID)
	if err != nil {
		return err
	}

	if volume < 1 {
		volume = 1
	}
	if volume > 200 {
		volume = 200
	}

	err = conn.SetVolume(ctx, chatID, volume)
	if !errors.Is(err, ErrVolumeUnsupported) {
		return err
	}

	if alt, ok := conn.(interface {
		SetCallProperty(ctx context.Context, chatID int64, volume int) error
	}); ok {
		if err := alt.SetCallProperty(ctx, chatID, volume); err == nil {
			return nil
		}
	}
	return assistantErr(ReasonUnsupported, err)
}

// ChangeSpeed re-encodes the current stream at the requested rate and
// restarts it from the equivalent position.
func (c *Coordinator) ChangeSpeed(ctx context.Context, chatID int64, fileRef string, speed float64) error {
	unlock := c.lockChat(chatID)
	defer unlock()

	conn, err := c.conn(chatID)
	if err != nil {
		return err
	}

	head := c.queue.PeekFront(chatID)
	if head == nil || head.FilePath == "" {
		return assistantErr(ReasonMismatch, errors.New("no active stream"))
	}
	if head.FilePath != fileRef {
		// The stream changed underneath the request.
		return assistantErr(ReasonMismatch, nil)
	}
	if speed <= 0 || speed > 3.0 {
		return assistantErr(ReasonInvalidSpeed, nil)
	}

	normal := math.Abs(speed-1.0) < 0.01
	out := fileRef
	if !normal {
		out = c.encoder.Encode(ctx, fileRef, speed, head.IsVideo())
	}

	duration := head.Duration
	if d, err := c.encoder.ProbeDuration(ctx, out); err == nil && d > 0 {
		duration = d
	}
	position := int(float64(head.PlayedSec) / speed)

	spec := StreamSpec{
		Path:   out,
		Video:  head.IsVideo(),
		Window: fmt.Sprintf("-ss %d -to %d", position, duration),
	}
	if err := conn.Play(ctx, chatID, spec); err != nil {
		return assistantErr(ReasonStreamFailed, err)
	}

	// Re-check the head before mutating: a concurrent teardown or advance may
	// have swapped the stream while we were encoding.
	c.queue.UpdateHead(chatID, func(e *Entry) {
		if e.FilePath != fileRef {
			return
		}
		if normal {
			if e.HasOrig {
				e.Duration = e.OrigDuration
				e.OrigDuration = 0
				e.HasOrig = false
			}
			e.SpeedPath = ""
			e.Speed = 0
			e.PlayedSec = position
			return
		}
		if !e.HasOrig {
			e.OrigDuration = e.Duration
			e.HasOrig = true
		}
		e.PlayedSec = position
		e.Duration = duration
		e.SpeedPath = out
		e.Speed = speed
	})
	return nil
}

// VCParticipants lists the voice-chat participants excluding admin-muted
// ones. Failures yield an empty list, never an error. Querying must not bind
// the chat to a connection, so idle chats borrow one without an assignment.
func (c *Coordinator) VCParticipants(ctx context.Context, chatID int64) []int64 {
	conn, ok := c.pool.Assigned(chatID)
	if !ok {
		conns := c.pool.Connections()
		if len(conns) == 0 {
			return nil
		}
		conn = conns[0]
	}
	participants, err := conn.Participants(ctx, chatID)
	if err != nil {
		c.log.WithField("chat_id", chatID).Warnf("get participants: %v", err)
		return nil
	}

	users := make([]int64, 0, len(participants))
	for _, p := range participants {
		if p.MutedByAdmin {
			continue
		}
		users = append(users, p.UserID)
	}
	return users
}

// Ping returns the cached average latency across connections.
func (c *Coordinator) Ping() float64 {
	return c.pool.AverageLatency()
}

// StreamCall plays a link into the configured logger chat. When the
// assistant lacks admin rights there, the owner is notified instead of the
// error propagating.
func (c *Coordinator) StreamCall(ctx context.Context, link string) {
	if c.loggerChatID == 0 {
		return
	}

	conn, err := c.pool.Assign(c.loggerChatID)
	if err != nil {
		c.log.Warn("no assistant available for logger-chat stream")
		return
	}

	err = conn.Play(ctx, c.loggerChatID, StreamSpec{Path: link})
	switch {
	case err == nil:
	case errors.Is(err, ErrAdminRequired):
		c.log.Warnf("cannot stream to logger chat %d: assistant not admin", c.loggerChatID)
		if c.ownerChatID != 0 {
			if _, serr := c.sendText(ctx, c.ownerChatID,
				"Failed to stream in the logger chat: the assistant is not an admin there."); serr != nil {
				c.log.Warnf("notify owner: %v", serr)
			}
		}
	default:
		c.log.Errorf("logger-chat stream failed: %v", err)
	}
}

// notify posts a localized message to a chat, best effort.
func (c *Coordinator) notify(ctx context.Context, chatID int64, key string) {
	if chatID == 0 {
		return
	}
	if _, err := c.sendText(ctx, chatID, c.text(ctx, chatID, key)); err != nil {
		c.log.WithField("chat_id", chatID).Warnf("notify %s: %v", key, err)
	}
}

func (c *Coordinator) text(ctx context.Context, chatID int64, key string) string {
	lang, err := c.settings.Lang(ctx, chatID)
	if err != nil || lang == "" {
		lang = "en"
	}
	if tbl := c.strings(lang); tbl != nil {
		if s, ok := tbl[key]; ok {
			return s
		}
	}
	return key
}

// sendText sends a message, retrying exactly once after a flood-wait backoff.
func (c *Coordinator) sendText(ctx context.Context, chatID int64, text string) (MessageRef, error) {
	ref, err := c.messenger.SendMessage(ctx, chatID, text)
	var fw *FloodWait
	if errors.As(err, &fw) {
		select {
		case <-ctx.Done():
			return ref, ctx.Err()
		case <-time.After(fw.RetryAfter):
		}
		return c.messenger.SendMessage(ctx, chatID, text)
	}
	return ref, err
}

func (c *Coordinator) sendPhoto(ctx context.Context, chatID int64, photo, caption string) (MessageRef, error) {
	ref, err := c.messenger.SendPhoto(ctx, chatID, photo, caption)
	var fw *FloodWait
	if errors.As(err, &fw) {
		select {
		case <-ctx.Done():
			return ref, ctx.Err()
		case <-time.After(fw.RetryAfter):
		}
		return c.messenger.SendPhoto(ctx, chatID, photo, caption)
	}
	return ref, err
}

// sendNowPlaying posts the status message to the entry's origin chat and
// records the reference on the head entry for later edits.
func (c *Coordinator) sendNowPlaying(ctx context.Context, chatID int64, entry *Entry) {
	origin := entry.OriginChatID
	if origin == 0 {
		origin = chatID
	}

	caption := fmt.Sprintf(
		c.text(ctx, chatID, "now_playing"),
		entry.Title, formatDuration(entry.Duration), entry.RequestedBy,
	)

	var (
		ref MessageRef
		err error
	)
	if photo := c.artwork(entry); photo != "" {
		ref, err = c.sendPhoto(ctx, origin, photo, caption)
	} else {
		ref, err = c.sendText(ctx, origin, caption)
	}
	if err != nil {
		c.log.WithField("chat_id", chatID).Warnf("now-playing notification: %v", err)
		return
	}

	c.queue.UpdateHead(chatID, func(e *Entry) {
		if e == entry {
			e.StatusMsg = &ref
		}
	})
}
