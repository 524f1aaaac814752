package core

import (
	"sync"

	"github.com/dkeye/voiceplay/internal/domain"
)

// RoomQueue is a FIFO of media items. The head is the item currently
// playing (or about to be); Advance pops it once it is done.
type RoomQueue struct {
	mu    sync.Mutex
	items []*domain.MediaItem
}

func NewRoomQueue() *RoomQueue {
	return &RoomQueue{}
}

// Enqueue appends to the tail and returns the item's position, 0 being the head.
func (q *RoomQueue) Enqueue(item *domain.MediaItem) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return len(q.items) - 1
}

// Advance drops the head and returns the new one, or nil when empty.
func (q *RoomQueue) Advance() *domain.MediaItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
		return nil
	}
	return q.items[0]
}

func (q *RoomQueue) Current() *domain.MediaItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// Update runs fn on the head under the queue lock. fn is not called on an
// empty queue.
func (q *RoomQueue) Update(fn func(head *domain.MediaItem)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return
	}
	fn(q.items[0])
}

func (q *RoomQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

func (q *RoomQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a copy of the queue for read-only views.
func (q *RoomQueue) Items() []domain.MediaItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.MediaItem, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, *it)
	}
	return out
}
