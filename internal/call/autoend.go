package call

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// autoEndGrace is how long a bot-only call survives before disconnect.
	autoEndGrace = time.Minute

	autoEndSweepInterval = 40 * time.Second
)

// AutoEndMonitor tracks per-chat disconnect deadlines for calls occupied only
// by the bot. Arm when a join finds a single participant; disarm whenever a
// human shows up or the chat goes inactive.
type AutoEndMonitor struct {
	mu        sync.Mutex
	deadlines map[int64]time.Time
	grace     time.Duration
	log       *logrus.Entry
}

func NewAutoEndMonitor() *AutoEndMonitor {
	return &AutoEndMonitor{
		deadlines: make(map[int64]time.Time),
		grace:     autoEndGrace,
		log:       logrus.WithField("component", "autoend"),
	}
}

func (m *AutoEndMonitor) Arm(chatID int64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadlines[chatID] = now.Add(m.grace)
}

func (m *AutoEndMonitor) Disarm(chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deadlines, chatID)
}

// Armed reports whether a deadline is pending for the chat.
func (m *AutoEndMonitor) Armed(chatID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.deadlines[chatID]
	return ok
}

// Due returns the chats whose deadline has passed and removes them from the
// map; firing is one-shot.
func (m *AutoEndMonitor) Due(now time.Time) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []int64
	for chatID, deadline := range m.deadlines {
		if now.After(deadline) {
			due = append(due, chatID)
			delete(m.deadlines, chatID)
		}
	}
	return due
}

// Run sweeps for expired deadlines until ctx is cancelled. For each due chat
// still without human listeners it triggers the coordinator teardown and posts
// a localized notice.
func (m *AutoEndMonitor) Run(ctx context.Context, c *Coordinator) {
	ticker := time.NewTicker(autoEndSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, chatID := range m.Due(now) {
				m.fire(ctx, c, chatID)
			}
		}
	}
}

func (m *AutoEndMonitor) fire(ctx context.Context, c *Coordinator, chatID int64) {
	users := c.VCParticipants(ctx, chatID)
	if len(users) > 1 {
		return
	}

	m.log.WithField("chat_id", chatID).Info("ending unattended call")
	if err := c.StopStream(ctx, chatID); err != nil {
		m.log.WithField("chat_id", chatID).Warnf("auto-end stop failed: %v", err)
		return
	}
	c.notify(ctx, chatID, "autoend_1")
}
