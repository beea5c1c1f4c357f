package call

import (
	"context"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"github.com/sirupsen/logrus"
)

const latencyCacheTTL = 30 * time.Second

// Pool holds the configured streaming connections and owns the assignment of
// chats to connections plus the active-calls set.
type Pool struct {
	mu     sync.Mutex
	conns  []Connection
	sticky map[int64]Connection
	active map[int64]struct{}
	next   int

	latency gcache.Cache
	log     *logrus.Entry
}

func NewPool(conns ...Connection) *Pool {
	return &Pool{
		conns:   conns,
		sticky:  make(map[int64]Connection),
		active:  make(map[int64]struct{}),
		latency: gcache.New(1).LRU().Build(),
		log:     logrus.WithField("component", "pool"),
	}
}

// Assign returns the connection serving chatID. Selection is sticky: a chat
// keeps its connection until Release. New chats get the least-loaded
// connection, round-robin on ties.
func (p *Pool) Assign(chatID int64) (Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.conns) == 0 {
		return nil, ErrNoAssistant
	}
	if conn, ok := p.sticky[chatID]; ok {
		return conn, nil
	}

	loads := make(map[Connection]int, len(p.conns))
	for _, conn := range p.sticky {
		loads[conn]++
	}

	best := p.conns[p.next%len(p.conns)]
	for i := range p.conns {
		candidate := p.conns[(p.next+i)%len(p.conns)]
		if loads[candidate] < loads[best] {
			best = candidate
		}
	}
	p.next++
	p.sticky[chatID] = best
	return best, nil
}

// Assigned returns the chat's current connection without creating an
// assignment.
func (p *Pool) Assigned(chatID int64) (Connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	conn, ok := p.sticky[chatID]
	return conn, ok
}

// Release drops the chat's sticky assignment.
func (p *Pool) Release(chatID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sticky, chatID)
}

func (p *Pool) MarkActive(chatID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[chatID] = struct{}{}
}

func (p *Pool) MarkInactive(chatID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, chatID)
}

func (p *Pool) IsActive(chatID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[chatID]
	return ok
}

func (p *Pool) ActiveCalls() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]int64, 0, len(p.active))
	for chatID := range p.active {
		out = append(out, chatID)
	}
	return out
}

// Connections returns the configured connections.
func (p *Pool) Connections() []Connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Connection, len(p.conns))
	copy(out, p.conns)
	return out
}

// StartAll starts every configured connection. A failure on one is logged and
// does not prevent the others from starting; the pool degrades to fewer
// concurrent call slots.
func (p *Pool) StartAll(ctx context.Context) {
	for _, conn := range p.Connections() {
		if err := conn.Start(ctx); err != nil {
			p.log.WithField("assistant", conn.Name()).Errorf("failed to start: %v", err)
			continue
		}
		p.log.WithField("assistant", conn.Name()).Info("assistant started")
	}
}

// StopAll stops every configured connection, best effort.
func (p *Pool) StopAll(ctx context.Context) {
	for _, conn := range p.Connections() {
		if err := conn.Stop(ctx); err != nil {
			p.log.WithField("assistant", conn.Name()).Warnf("stop failed: %v", err)
		}
	}
}

// AverageLatency returns the mean latency across connections reporting a
// positive value, 0 if none do. The figure is recomputed at most every 30s.
func (p *Pool) AverageLatency() float64 {
	if v, err := p.latency.Get("avg"); err == nil {
		if ms, ok := v.(float64); ok {
			return ms
		}
	}

	var sum float64
	var n int
	for _, conn := range p.Connections() {
		if ms := conn.Latency(); ms > 0 {
			sum += ms
			n++
		}
	}

	avg := 0.0
	if n > 0 {
		avg = sum / float64(n)
	}
	if err := p.latency.SetWithExpire("avg", avg, latencyCacheTTL); err != nil {
		p.log.Warnf("latency cache set failed: %v", err)
	}
	return avg
}
