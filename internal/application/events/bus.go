// Package events provides the sync subsystem's observer registry.
//
// A Bus is constructed once per subsystem and injected into publishers and
// subscribers. Delivery is synchronous and in subscription order; a handler
// that panics is logged and skipped so the others still run.
package events

import (
	"fmt"
	"sync"

	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/logging"
)

// Type identifies a sync lifecycle event.
type Type string

const (
	TypeOnline         Type = "online"
	TypeOffline        Type = "offline"
	TypeSyncStart      Type = "sync-start"
	TypeSyncItemDone   Type = "sync-item-done"
	TypeSyncItemFailed Type = "sync-item-failed"
	TypeSyncComplete   Type = "sync-complete"
)

// Event is a single notification. Only the fields relevant to Type are set:
//
//	sync-start        Pending
//	sync-item-done    Synced, Failed, Total, MutationID
//	sync-item-failed  Synced, Failed, Total, MutationID, Status, Error, Dropped
//	sync-complete     Synced, Failed, Remaining
type Event struct {
	Type       Type   `json:"type"`
	DrainID    string `json:"drainId,omitempty"`
	Pending    int    `json:"pending,omitempty"`
	Synced     int    `json:"synced,omitempty"`
	Failed     int    `json:"failed,omitempty"`
	Total      int    `json:"total,omitempty"`
	Remaining  int    `json:"remaining,omitempty"`
	MutationID int64  `json:"mutationId,omitempty"`
	Status     int    `json:"status,omitempty"`
	Dropped    bool   `json:"dropped,omitempty"`
	Error      string `json:"error,omitempty"`
}

// String renders the event for log lines and the CLI.
func (e Event) String() string {
	switch e.Type {
	case TypeSyncStart:
		return fmt.Sprintf("%s pending=%d", e.Type, e.Pending)
	case TypeSyncItemDone:
		return fmt.Sprintf("%s %d/%d", e.Type, e.Synced+e.Failed, e.Total)
	case TypeSyncItemFailed:
		return fmt.Sprintf("%s %d/%d: %s", e.Type, e.Synced+e.Failed, e.Total, e.Error)
	case TypeSyncComplete:
		return fmt.Sprintf("%s synced=%d failed=%d remaining=%d", e.Type, e.Synced, e.Failed, e.Remaining)
	default:
		return string(e.Type)
	}
}

// Handler receives events.
type Handler func(Event)

type subscription struct {
	id uint64
	fn Handler
}

// Bus is an ordered, synchronous observer registry.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	logger *logging.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers fn and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (b *Bus) Subscribe(fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers e to every current subscriber in subscription order.
// Handlers run on the caller's goroutine; subscribers added or removed
// during delivery take effect for the next event.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s.fn, e)
	}
}

func (b *Bus) deliver(fn Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(e.Type),
				"panic", fmt.Sprint(r),
			)
		}
	}()
	fn(e)
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
