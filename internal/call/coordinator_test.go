package call

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueIdleJoinsAndPlays(t *testing.T) {
	r := newRig()
	ctx := context.Background()

	pos, err := r.coord.Enqueue(ctx, 100, indexedEntry("first", "/media/first.mp3"))
	require.NoError(t, err)
	assert.Equal(t, 0, pos)

	require.Equal(t, 1, r.conn.playCount())
	assert.Equal(t, "/media/first.mp3", r.conn.lastPlay().Spec.Path)

	assert.True(t, r.pool.IsActive(100))
	assert.True(t, r.settings.isActive(100))
	assert.True(t, r.settings.music[100])

	msgs := r.msgr.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "Now playing first")
}

func TestEnqueueActiveAppendsWithoutPlaying(t *testing.T) {
	r := newRig()
	ctx := context.Background()

	_, err := r.coord.Enqueue(ctx, 100, indexedEntry("first", "/media/first.mp3"))
	require.NoError(t, err)

	pos, err := r.coord.Enqueue(ctx, 100, indexedEntry("second", "/media/second.mp3"))
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	// Still only the first track started.
	assert.Equal(t, 1, r.conn.playCount())
	assert.Equal(t, 2, r.queue.Len(100))
}

func TestEnqueueVideoMarksVideoChat(t *testing.T) {
	r := newRig()
	ctx := context.Background()

	entry := indexedEntry("clip", "/media/clip.mp4")
	entry.Stream = StreamVideo

	_, err := r.coord.Enqueue(ctx, 100, entry)
	require.NoError(t, err)

	assert.True(t, r.settings.video[100])
	assert.True(t, r.conn.lastPlay().Spec.Video)
}

func TestJoinCreatesCallWhenNoneActive(t *testing.T) {
	r := newRig()
	r.conn.playErrs = []error{ErrNoActiveCall}
	ctx := context.Background()

	_, err := r.coord.Enqueue(ctx, 100, indexedEntry("first", "/media/first.mp3"))
	require.NoError(t, err)

	assert.Equal(t, 1, r.conn.creates)
	assert.Equal(t, 1, r.conn.playCount())
	assert.True(t, r.pool.IsActive(100))
}

func TestJoinAdminRequired(t *testing.T) {
	r := newRig()
	r.conn.playErrs = []error{ErrNoActiveCall}
	r.conn.createErr = ErrAdminRequired
	ctx := context.Background()

	_, err := r.coord.Enqueue(ctx, 100, indexedEntry("first", "/media/first.mp3"))

	var aerr *AssistantErr
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, ReasonAdminRequired, aerr.Reason)

	// Failed joins leave nothing behind.
	_, assigned := r.pool.Assigned(100)
	assert.False(t, assigned)
	assert.False(t, r.pool.IsActive(100))
	assert.Equal(t, 0, r.queue.Len(100))
}

func TestJoinNoAssistant(t *testing.T) {
	r := &rig{
		pool:     NewPool(),
		settings: newFakeSettings(),
		msgr:     &fakeMessenger{},
		resolver: &fakeResolver{},
	}
	r.queue = NewQueueStore(nil)
	r.coord = NewCoordinator(Options{
		Pool:      r.pool,
		Queue:     r.queue,
		Settings:  r.settings,
		Messenger: r.msgr,
		Resolver:  r.resolver,
		Strings:   testLocalizer,
	})

	_, err := r.coord.Enqueue(context.Background(), 100, indexedEntry("first", "/media/first.mp3"))

	var aerr *AssistantErr
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, ReasonNoAssistant, aerr.Reason)
	assert.ErrorIs(t, err, ErrNoAssistant)
}

func TestJoinUnresolvableEntry(t *testing.T) {
	r := newRig()
	r.resolver.directErr = errors.New("no formats found")
	ctx := context.Background()

	entry := &Entry{Source: SourcePlatform, Title: "bad", TrackRef: "ref123", Stream: StreamAudio}
	_, err := r.coord.Enqueue(ctx, 100, entry)

	var aerr *AssistantErr
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, ReasonInvalidLink, aerr.Reason)
	_, assigned := r.pool.Assigned(100)
	assert.False(t, assigned)
}

func TestAdvanceLoopReplaysWithoutPopping(t *testing.T) {
	r := newRig()
	ctx := context.Background()

	a := indexedEntry("looped", "/media/looped.mp3")
	r.playing(100, a)
	r.settings.SetLoop(ctx, 100, 2)

	r.coord.Advance(ctx, 100)

	assert.Equal(t, 1, r.queue.Len(100))
	assert.Same(t, a, r.queue.PeekFront(100))
	assert.Equal(t, 1, r.settings.loopCount(100))
	assert.Equal(t, 1, r.conn.playCount())
}

func TestAdvancePopsAndStartsNext(t *testing.T) {
	r := newRig()
	ctx := context.Background()

	a := indexedEntry("first", "/media/first.mp3")
	b := indexedEntry("second", "/media/second.mp3")
	r.playing(100, a, b)

	r.coord.Advance(ctx, 100)

	assert.Equal(t, 1, r.queue.Len(100))
	assert.Same(t, b, r.queue.PeekFront(100))
	require.Equal(t, 1, r.conn.playCount())
	assert.Equal(t, "/media/second.mp3", r.conn.lastPlay().Spec.Path)
	assert.Equal(t, 1, r.cleanedCount())

	msgs := r.msgr.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "second")
}

func TestAdvanceResetsNextEntryState(t *testing.T) {
	r := newRig()
	ctx := context.Background()

	a := indexedEntry("first", "/media/first.mp3")
	b := indexedEntry("second", "/media/second.mp3")
	b.PlayedSec = 42
	b.Speed = 2.0
	b.SpeedPath = "/playback/2/second.mp3"
	b.OrigDuration = 240
	b.HasOrig = true
	b.Duration = 120
	r.playing(100, a, b)

	r.coord.Advance(ctx, 100)

	assert.Equal(t, 0, b.PlayedSec)
	assert.Equal(t, 240, b.Duration)
	assert.False(t, b.HasOrig)
	assert.Zero(t, b.Speed)
	assert.Empty(t, b.SpeedPath)
}

func TestAdvanceExhaustedTearsDown(t *testing.T) {
	r := newRig()
	ctx := context.Background()

	a := indexedEntry("last", "/media/last.mp3")
	r.playing(100, a)
	r.settings.AddActiveChat(ctx, 100)
	r.settings.SetLoop(ctx, 100, 0)

	r.coord.Advance(ctx, 100)

	assert.Equal(t, 0, r.queue.Len(100))
	assert.Equal(t, 1, r.conn.leaveCount())
	assert.False(t, r.pool.IsActive(100))
	_, assigned := r.pool.Assigned(100)
	assert.False(t, assigned)
	assert.False(t, r.settings.isActive(100))
}

func TestAdvanceSkipsCorruptedEntry(t *testing.T) {
	r := newRig()
	ctx := context.Background()

	a := indexedEntry("first", "/media/first.mp3")
	corrupted := &Entry{Source: SourceUnknown, Title: "broken", Stream: StreamAudio}
	b := indexedEntry("third", "/media/third.mp3")
	r.playing(100, a, corrupted, b)

	r.coord.Advance(ctx, 100)

	// The corrupted entry was skipped silently and the good one started.
	require.Equal(t, 1, r.conn.playCount())
	assert.Equal(t, "/media/third.mp3", r.conn.lastPlay().Spec.Path)
	for _, msg := range r.msgr.messages() {
		assert.NotContains(t, msg.Text, "failed")
	}
	assert.Equal(t, 2, r.cleanedCount())
}

func TestAdvanceStreamFailureNotifiesAndContinues(t *testing.T) {
	r := newRig()
	ctx := context.Background()

	a := indexedEntry("first", "/media/first.mp3")
	b := indexedEntry("second", "/media/second.mp3")
	b.OriginChatID = 555
	r.playing(100, a, b)
	r.conn.playErrs = []error{errors.New("stream rejected")}

	r.coord.Advance(ctx, 100)

	// The failed track produced a notice in its origin chat, then the queue
	// ran out and the call was torn down.
	var notified bool
	for _, msg := range r.msgr.messages() {
		if msg.ChatID == 555 && strings.Contains(msg.Text, "playback failed") {
			notified = true
		}
	}
	assert.True(t, notified)
	assert.Equal(t, 0, r.queue.Len(100))
	assert.Equal(t, 1, r.conn.leaveCount())
}

func TestStopStreamClearsAndLeaves(t *testing.T) {
	r := newRig()
	ctx := context.Background()

	r.playing(100, indexedEntry("first", "/media/first.mp3"), indexedEntry("second", "/media/second.mp3"))
	r.settings.AddActiveChat(ctx, 100)
	r.settings.SetLoop(ctx, 100, 5)

	require.NoError(t, r.coord.StopStream(ctx, 100))

	assert.Equal(t, 0, r.queue.Len(100))
	assert.Equal(t, 1, r.conn.leaveCount())
	assert.False(t, r.pool.IsActive(100))
	assert.Equal(t, 0, r.settings.loopCount(100))
	assert.Equal(t, 2, r.cleanedCount())
}

func TestStopStreamIdleIsNoop(t *testing.T) {
	r := newRig()

	require.NoError(t, r.coord.StopStream(context.Background(), 100))
	assert.Equal(t, 0, r.conn.leaveCount())
}

func TestStopStreamToleratesLeaveAlreadyGone(t *testing.T) {
	r := newRig()
	ctx := context.Background()

	r.playing(100, indexedEntry("first", "/media/first.mp3"))
	r.conn.leaveErr = ErrAlreadyLeft

	require.NoError(t, r.coord.StopStream(ctx, 100))
	assert.False(t, r.pool.IsActive(100))
}

func TestDelegatedOpsRequireActiveChat(t *testing.T) {
	r := newRig()
	ctx := context.Background()

	for name, op := range map[string]func() error{
		"pause":  func() error { return r.coord.PauseStream(ctx, 100) },
		"resume": func() error { return r.coord.ResumeStream(ctx, 100) },
		"mute":   func() error { return r.coord.MuteStream(ctx, 100) },
		"unmute": func() error { return r.coord.UnmuteStream(ctx, 100) },
		"skip":   func() error { return r.coord.SkipTo(ctx, 100, "/media/x.mp3", false) },
		"volume": func() error { return r.coord.ChangeVolume(ctx, 100, 50) },
	} {
		var aerr *AssistantErr
		err := op()
		require.ErrorAs(t, err, &aerr, name)
		assert.Equal(t, ReasonNotActive, aerr.Reason, name)
	}
}

func TestSeekRestartsWithWindow(t *testing.T) {
	r := newRig()
	ctx := context.Background()

	head := indexedEntry("first", "/media/first.mp3")
	head.FilePath = "/media/first.mp3"
	r.playing(100, head)

	require.NoError(t, r.coord.Seek(ctx, 100, 30, 180, StreamAudio))

	require.Equal(t, 1, r.conn.playCount())
	assert.Equal(t, "-ss 30 -to 180", r.conn.lastPlay().Spec.Window)
	assert.Equal(t, 30, head.PlayedSec)
}

func TestChangeVolumeClamps(t *testing.T) {
	r := newRig()
	ctx := context.Background()
	r.playing(100, indexedEntry("first", "/media/first.mp3"))

	require.NoError(t, r.coord.ChangeVolume(ctx, 100, 500))
	require.NoError(t, r.coord.ChangeVolume(ctx, 100, 0))

	assert.Equal(t, []int{200, 1}, r.conn.volumes)
}

func TestChangeVolumeUnsupported(t *testing.T) {
	r := newRig()
	ctx := context.Background()
	r.playing(100, indexedEntry("first", "/media/first.mp3"))
	r.conn.volumeErr = ErrVolumeUnsupported

	err := r.coord.ChangeVolume(ctx, 100, 50)

	var aerr *AssistantErr
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, ReasonUnsupported, aerr.Reason)
}

func TestChangeSpeedRejectsMismatchedFile(t *testing.T) {
	r := newRig()
	ctx := context.Background()

	head := indexedEntry("first", "/media/first.mp3")
	head.FilePath = "/media/first.mp3"
	r.playing(100, head)

	err := r.coord.ChangeSpeed(ctx, 100, "/media/other.mp3", 1.5)

	var aerr *AssistantErr
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, ReasonMismatch, aerr.Reason)
	assert.Equal(t, 0, r.conn.playCount())
}

func TestChangeSpeedRejectsInvalidSpeed(t *testing.T) {
	r := newRig()
	ctx := context.Background()

	head := indexedEntry("first", "/media/first.mp3")
	head.FilePath = "/media/first.mp3"
	r.playing(100, head)

	for _, speed := range []float64{0, -1, 3.5} {
		err := r.coord.ChangeSpeed(ctx, 100, "/media/first.mp3", speed)
		var aerr *AssistantErr
		require.ErrorAs(t, err, &aerr)
		assert.Equal(t, ReasonInvalidSpeed, aerr.Reason)
	}
}

func TestChangeSpeedOverrideAndRestore(t *testing.T) {
	r := newRig()
	ctx := context.Background()

	head := indexedEntry("first", "/media/first.mp3")
	head.FilePath = "/media/first.mp3"
	head.Duration = 200
	head.PlayedSec = 100
	r.playing(100, head)

	// The rig's encoder binary does not exist, so the re-encode degrades to
	// the original file; the bookkeeping must still track the override.
	require.NoError(t, r.coord.ChangeSpeed(ctx, 100, "/media/first.mp3", 2.0))

	assert.Equal(t, 2.0, head.Speed)
	assert.True(t, head.HasOrig)
	assert.Equal(t, 200, head.OrigDuration)
	assert.Equal(t, 50, head.PlayedSec) // 100s at 2x maps to 50s of output

	require.NoError(t, r.coord.ChangeSpeed(ctx, 100, "/media/first.mp3", 1.0))

	assert.Zero(t, head.Speed)
	assert.False(t, head.HasOrig)
	assert.Equal(t, 200, head.Duration)
	assert.Empty(t, head.SpeedPath)
}

func TestAdvanceDeletesPreviousNowPlayingMessage(t *testing.T) {
	r := newRig()
	ctx := context.Background()

	a := indexedEntry("first", "/media/first.mp3")
	a.StatusMsg = &MessageRef{ChatID: 100, MessageID: 9}
	b := indexedEntry("second", "/media/second.mp3")
	r.playing(100, a, b)

	r.coord.Advance(ctx, 100)

	deleted := r.msgr.deletedRefs()
	require.Len(t, deleted, 1)
	assert.Equal(t, MessageRef{ChatID: 100, MessageID: 9}, deleted[0])
	assert.Nil(t, a.StatusMsg)
}

func TestForceStopDeletesNowPlayingMessage(t *testing.T) {
	r := newRig()
	ctx := context.Background()

	a := indexedEntry("first", "/media/first.mp3")
	a.StatusMsg = &MessageRef{ChatID: 100, MessageID: 4}
	r.playing(100, a)

	require.NoError(t, r.coord.ForceStopStream(ctx, 100))
	require.Len(t, r.msgr.deletedRefs(), 1)
}

func TestVCParticipantsFiltersAdminMuted(t *testing.T) {
	r := newRig()
	r.conn.participants = []Participant{
		{UserID: 1},
		{UserID: 2, MutedByAdmin: true},
		{UserID: 3},
	}

	users := r.coord.VCParticipants(context.Background(), 100)
	assert.Equal(t, []int64{1, 3}, users)
}

func TestVCParticipantsDoesNotBindIdleChat(t *testing.T) {
	r := newRig()
	r.conn.participants = []Participant{{UserID: 1}}

	users := r.coord.VCParticipants(context.Background(), 100)
	assert.Equal(t, []int64{1}, users)

	// Querying an idle chat must not create a sticky assignment.
	_, assigned := r.pool.Assigned(100)
	assert.False(t, assigned)
}

func TestSendTextRetriesOnceAfterFloodWait(t *testing.T) {
	r := newRig()
	r.msgr.sendErrs = []error{&FloodWait{RetryAfter: 10 * time.Millisecond}}

	ref, err := r.coord.sendText(context.Background(), 100, "hello")
	require.NoError(t, err)
	assert.NotZero(t, ref.MessageID)
	require.Len(t, r.msgr.messages(), 1)
}

func TestJoinArmsAutoEndForLonelyCall(t *testing.T) {
	r := newRig()
	ctx := context.Background()
	r.settings.autoEnd = true
	r.conn.participants = []Participant{{UserID: 42}} // bot only

	_, err := r.coord.Enqueue(ctx, 100, indexedEntry("first", "/media/first.mp3"))
	require.NoError(t, err)

	assert.True(t, r.coord.autoEnd.Armed(100))
}

func TestJoinDoesNotArmAutoEndWithListeners(t *testing.T) {
	r := newRig()
	ctx := context.Background()
	r.settings.autoEnd = true
	r.conn.participants = []Participant{{UserID: 42}, {UserID: 7}}

	_, err := r.coord.Enqueue(ctx, 100, indexedEntry("first", "/media/first.mp3"))
	require.NoError(t, err)

	assert.False(t, r.coord.autoEnd.Armed(100))
}

func TestTeardownDisarmsAutoEnd(t *testing.T) {
	r := newRig()
	ctx := context.Background()

	r.playing(100, indexedEntry("first", "/media/first.mp3"))
	r.coord.autoEnd.Arm(100, time.Now())

	require.NoError(t, r.coord.StopStream(ctx, 100))
	assert.False(t, r.coord.autoEnd.Armed(100))
}
