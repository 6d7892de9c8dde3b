// Package buffer keeps the recent events of each sender in a bounded cache.
package buffer

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	chat "github.com/roboricindustries/chat-ingest/pkg/schemas/chat/v1"
)

// DefaultMaxPending caps the events kept per sender.
const DefaultMaxPending = 50

type Entry struct {
	Pending  []chat.RawEvent
	LastSeen time.Time
}

// UserBuffer evicts the least recently used sender once size is reached and
// any sender idle for longer than ttl.
type UserBuffer struct {
	// guards read-modify-write of a single entry; the cache locks itself
	mu         sync.Mutex
	cache      *expirable.LRU[string, Entry]
	maxPending int
	now        func() time.Time
}

func NewUserBuffer(size int, ttl time.Duration) *UserBuffer {
	if size <= 0 {
		size = 1
	}
	return &UserBuffer{
		cache:      expirable.NewLRU[string, Entry](size, nil, ttl),
		maxPending: DefaultMaxPending,
		now:        time.Now,
	}
}

// Append records ev for sender and returns the number of pending events.
// The oldest events are dropped past DefaultMaxPending.
func (b *UserBuffer) Append(sender string, ev chat.RawEvent) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, _ := b.cache.Get(sender)
	pending := make([]chat.RawEvent, 0, len(e.Pending)+1)
	pending = append(pending, e.Pending...)
	pending = append(pending, ev)
	if over := len(pending) - b.maxPending; over > 0 {
		pending = pending[over:]
	}
	b.cache.Add(sender, Entry{Pending: pending, LastSeen: b.now()})
	return len(pending)
}

func (b *UserBuffer) Get(sender string) (Entry, bool) {
	return b.cache.Peek(sender)
}

func (b *UserBuffer) Len() int {
	return b.cache.Len()
}
