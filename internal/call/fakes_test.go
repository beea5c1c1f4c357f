package call

import (
	"context"
	"sync"
)

type playCall struct {
	ChatID int64
	Spec   StreamSpec
}

type fakeConn struct {
	mu sync.Mutex

	name string

	plays    []playCall
	playErrs []error // consumed one per Play call, nil past the end

	creates   int
	createErr error

	leaves   int
	leaveErr error

	pauses  int
	resumes int
	mutes   int
	unmutes int

	volumes   []int
	volumeErr error

	participants    []Participant
	participantsErr error

	latency float64
	events  chan Event

	started bool
	stopped bool
}

func newFakeConn(name string) *fakeConn {
	return &fakeConn{name: name, events: make(chan Event, 8)}
}

func (f *fakeConn) Name() string { return f.name }

func (f *fakeConn) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeConn) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeConn) Play(ctx context.Context, chatID int64, spec StreamSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var err error
	if len(f.playErrs) > 0 {
		err = f.playErrs[0]
		f.playErrs = f.playErrs[1:]
	}
	if err != nil {
		return err
	}
	f.plays = append(f.plays, playCall{ChatID: chatID, Spec: spec})
	return nil
}

func (f *fakeConn) Pause(ctx context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
	return nil
}

func (f *fakeConn) Resume(ctx context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes++
	return nil
}

func (f *fakeConn) Mute(ctx context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutes++
	return nil
}

func (f *fakeConn) Unmute(ctx context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unmutes++
	return nil
}

func (f *fakeConn) LeaveCall(ctx context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves++
	return f.leaveErr
}

func (f *fakeConn) CreateCall(ctx context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	return f.createErr
}

func (f *fakeConn) SetVolume(ctx context.Context, chatID int64, volume int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.volumeErr != nil {
		return f.volumeErr
	}
	f.volumes = append(f.volumes, volume)
	return nil
}

func (f *fakeConn) Participants(ctx context.Context, chatID int64) ([]Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.participants, f.participantsErr
}

func (f *fakeConn) Latency() float64 { return f.latency }

func (f *fakeConn) Events() <-chan Event { return f.events }

func (f *fakeConn) playCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.plays)
}

func (f *fakeConn) lastPlay() playCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays[len(f.plays)-1]
}

func (f *fakeConn) leaveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leaves
}

type sentMessage struct {
	ChatID int64
	Text   string
	Photo  string
}

type fakeMessenger struct {
	mu sync.Mutex

	sent     []sentMessage
	deleted  []MessageRef
	sendErrs []error // consumed one per send, nil past the end
	nextID   int64
}

func (f *fakeMessenger) send(chatID int64, text, photo string) (MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var err error
	if len(f.sendErrs) > 0 {
		err = f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
	}
	if err != nil {
		return MessageRef{}, err
	}

	f.nextID++
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: text, Photo: photo})
	return MessageRef{ChatID: chatID, MessageID: f.nextID}, nil
}

func (f *fakeMessenger) SendMessage(ctx context.Context, chatID int64, text string) (MessageRef, error) {
	return f.send(chatID, text, "")
}

func (f *fakeMessenger) SendPhoto(ctx context.Context, chatID int64, photo, caption string) (MessageRef, error) {
	return f.send(chatID, caption, photo)
}

func (f *fakeMessenger) EditMessage(ctx context.Context, ref MessageRef, text string) error {
	return nil
}

func (f *fakeMessenger) DeleteMessage(ctx context.Context, ref MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeMessenger) deletedRefs() []MessageRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]MessageRef, len(f.deleted))
	copy(out, f.deleted)
	return out
}

func (f *fakeMessenger) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeSettings struct {
	mu sync.Mutex

	loops   map[int64]int
	autoEnd bool
	langs   map[int64]string
	music   map[int64]bool
	active  map[int64]bool
	video   map[int64]bool
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{
		loops:  make(map[int64]int),
		langs:  make(map[int64]string),
		music:  make(map[int64]bool),
		active: make(map[int64]bool),
		video:  make(map[int64]bool),
	}
}

func (f *fakeSettings) Loop(ctx context.Context, chatID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loops[chatID], nil
}

func (f *fakeSettings) SetLoop(ctx context.Context, chatID int64, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if count == 0 {
		delete(f.loops, chatID)
		return nil
	}
	f.loops[chatID] = count
	return nil
}

func (f *fakeSettings) AutoEnd(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.autoEnd, nil
}

func (f *fakeSettings) Lang(ctx context.Context, chatID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lang, ok := f.langs[chatID]; ok {
		return lang, nil
	}
	return "en", nil
}

func (f *fakeSettings) MusicOn(ctx context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.music[chatID] = true
	return nil
}

func (f *fakeSettings) AddActiveChat(ctx context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[chatID] = true
	return nil
}

func (f *fakeSettings) RemoveActiveChat(ctx context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, chatID)
	return nil
}

func (f *fakeSettings) AddActiveVideoChat(ctx context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.video[chatID] = true
	return nil
}

func (f *fakeSettings) RemoveActiveVideoChat(ctx context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.video, chatID)
	return nil
}

func (f *fakeSettings) isActive(chatID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[chatID]
}

func (f *fakeSettings) loopCount(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loops[chatID]
}

type fakeResolver struct {
	mu sync.Mutex

	liveURL string
	liveErr error

	downloadPath string
	downloadErr  error
	downloads    int

	directURL string
	directErr error
}

func (f *fakeResolver) LiveStreamURL(ctx context.Context, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.liveURL, f.liveErr
}

func (f *fakeResolver) Download(ctx context.Context, ref string, video bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	return f.downloadPath, f.downloadErr
}

func (f *fakeResolver) DirectURL(ctx context.Context, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.directURL, f.directErr
}

var testStrings = map[string]string{
	"now_playing":   "Now playing %s (%s) for %s",
	"stream_failed": "playback failed, skipping",
	"autoend_1":     "everyone left, stream ended",
}

func testLocalizer(lang string) map[string]string {
	return testStrings
}

// rig bundles a coordinator with all of its fake collaborators.
type rig struct {
	coord    *Coordinator
	pool     *Pool
	queue    *QueueStore
	conn     *fakeConn
	settings *fakeSettings
	msgr     *fakeMessenger
	resolver *fakeResolver

	mu      sync.Mutex
	cleaned []*Entry
}

func newRig(conns ...Connection) *rig {
	if len(conns) == 0 {
		conns = []Connection{newFakeConn("assistant1")}
	}

	r := &rig{
		pool:     NewPool(conns...),
		settings: newFakeSettings(),
		msgr:     &fakeMessenger{},
		resolver: &fakeResolver{},
	}
	if fc, ok := conns[0].(*fakeConn); ok {
		r.conn = fc
	}

	r.queue = NewQueueStore(func(entries []*Entry) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.cleaned = append(r.cleaned, entries...)
	})

	enc := NewSpeedEncoder("")
	enc.Binary = "nonexistent-ffmpeg"
	enc.ProbeBinary = "nonexistent-ffprobe"

	r.coord = NewCoordinator(Options{
		Pool:      r.pool,
		Queue:     r.queue,
		Settings:  r.settings,
		Messenger: r.msgr,
		Resolver:  r.resolver,
		Strings:   testLocalizer,
		AutoEnd:   NewAutoEndMonitor(),
		Encoder:   enc,
	})
	return r
}

// playing puts the rig into the Playing state for chatID with the given
// queue, bypassing the join flow.
func (r *rig) playing(chatID int64, entries ...*Entry) {
	r.pool.Assign(chatID)
	r.pool.MarkActive(chatID)
	for _, e := range entries {
		r.queue.Push(chatID, e)
	}
}

func (r *rig) cleanedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cleaned)
}

func indexedEntry(title, path string) *Entry {
	return &Entry{
		Source:   SourceIndexed,
		Title:    title,
		Duration: 180,
		Stream:   StreamAudio,
		TrackRef: path,
	}
}
