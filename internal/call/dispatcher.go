package call

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Dispatcher routes call-status and stream-end notifications from every
// connection to the coordinator. One goroutine per connection preserves the
// order the backend emits events in; errors while handling a notification are
// logged and the notification dropped, never crashing the loop.
type Dispatcher struct {
	coord *Coordinator
	log   *logrus.Entry
}

func NewDispatcher(coord *Coordinator) *Dispatcher {
	return &Dispatcher{
		coord: coord,
		log:   logrus.WithField("component", "dispatcher"),
	}
}

// Run consumes events from every pool connection until ctx is cancelled or
// all event channels close.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, conn := range d.coord.Pool().Connections() {
		wg.Add(1)
		go func(conn Connection) {
			defer wg.Done()
			d.consume(ctx, conn)
		}(conn)
	}
	wg.Wait()
}

func (d *Dispatcher) consume(ctx context.Context, conn Connection) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-conn.Events():
			if !ok {
				return
			}
			d.Handle(ctx, ev)
		}
	}
}

// Handle processes one notification.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithFields(logrus.Fields{
				"update":  loggedEventType(ev),
				"chat_id": ev.EventChatID(),
			}).Errorf("panic while handling update: %v", r)
		}
	}()

	switch ev := ev.(type) {
	case StatusEvent:
		if ev.Status&(criticalStatus|StatusLeftCall) != 0 {
			if err := d.coord.StopStream(ctx, ev.ChatID); err != nil {
				d.log.WithField("chat_id", ev.ChatID).Errorf("teardown failed: %v", err)
			}
		}

	case StreamEndEvent:
		if ev.Media != StreamAudio && ev.Media != StreamVideo {
			return
		}
		// An end notification with no queue state implies desync: the safest
		// reaction is teardown, not advance.
		if d.coord.Queue().Len(ev.ChatID) == 0 {
			if err := d.coord.StopStream(ctx, ev.ChatID); err != nil {
				d.log.WithField("chat_id", ev.ChatID).Errorf("teardown failed: %v", err)
			}
			return
		}
		d.coord.Advance(ctx, ev.ChatID)

	default:
		d.log.WithField("chat_id", ev.EventChatID()).Debugf("ignoring update %T", ev)
	}
}

func loggedEventType(ev Event) string {
	switch ev.(type) {
	case StatusEvent:
		return "call-status"
	case StreamEndEvent:
		return "stream-end"
	default:
		return "unknown"
	}
}
