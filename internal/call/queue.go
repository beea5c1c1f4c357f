package call

import "sync"

// CleanupFunc releases resources held by dropped entries, typically deleting
// downloaded files. It must tolerate nil and already-missing files.
type CleanupFunc func(entries []*Entry)

// QueueStore is the authoritative per-chat ordered queue. The head entry, if
// present, is always the currently-playing or about-to-play track.
//
// All mutation goes through the coordinator; the store itself only guards its
// map so that different chats can proceed concurrently.
type QueueStore struct {
	mu      sync.RWMutex
	queues  map[int64][]*Entry
	cleanup CleanupFunc
}

func NewQueueStore(cleanup CleanupFunc) *QueueStore {
	return &QueueStore{
		queues:  make(map[int64][]*Entry),
		cleanup: cleanup,
	}
}

// Push appends an entry and returns its position (0 = head). When it returns
// 0 the caller is responsible for starting playback.
func (q *QueueStore) Push(chatID int64, entry *Entry) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.queues[chatID] = append(q.queues[chatID], entry)
	return len(q.queues[chatID]) - 1
}

// PopFront removes and returns the head entry, or nil when the queue is empty.
func (q *QueueStore) PopFront(chatID int64) *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := q.queues[chatID]
	if len(queue) == 0 {
		return nil
	}
	head := queue[0]
	q.queues[chatID] = queue[1:]
	return head
}

// PeekFront returns the head entry without removing it, or nil.
func (q *QueueStore) PeekFront(chatID int64) *Entry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	queue := q.queues[chatID]
	if len(queue) == 0 {
		return nil
	}
	return queue[0]
}

// UpdateHead applies a partial update to the head entry. It is a deliberate
// no-op when the queue is empty: races with concurrent pops are expected and
// must not crash the caller.
func (q *QueueStore) UpdateHead(chatID int64, update func(*Entry)) {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := q.queues[chatID]
	if len(queue) == 0 {
		return
	}
	update(queue[0])
}

// Release hands entries that left the queue to the cleanup delegate.
func (q *QueueStore) Release(entries ...*Entry) {
	if len(entries) == 0 || q.cleanup == nil {
		return
	}
	q.cleanup(entries)
}

// Clear empties the chat's queue and hands the dropped entries to the cleanup
// delegate. Idempotent.
func (q *QueueStore) Clear(chatID int64) {
	q.mu.Lock()
	dropped := q.queues[chatID]
	delete(q.queues, chatID)
	q.mu.Unlock()

	if len(dropped) > 0 && q.cleanup != nil {
		q.cleanup(dropped)
	}
}

// Len reports the number of queued entries for a chat.
func (q *QueueStore) Len(chatID int64) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.queues[chatID])
}

// Entries returns a snapshot of the chat's queue.
func (q *QueueStore) Entries(chatID int64) []*Entry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	queue := q.queues[chatID]
	out := make([]*Entry, len(queue))
	copy(out, queue)
	return out
}
