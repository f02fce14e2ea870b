// Package connectivity tracks whether the device can reach the school API.
//
// Status holds the current state and notifies subscribers on transitions.
// It is fed by one or more sources: an HTTP health Probe, a websocket
// Presence channel, or manual SetOnline calls.
package connectivity

import (
	"sync"
	"sync/atomic"

	"github.com/jbctechsolutions/schoolsync/internal/application/ports"
)

// Status is the device's own view of network reachability.
type Status struct {
	online atomic.Bool

	mu     sync.Mutex
	subs   []subscriber
	nextID uint64
}

type subscriber struct {
	id uint64
	fn func(online bool)
}

// Ensure Status implements ConnectivityPort.
var _ ports.ConnectivityPort = (*Status)(nil)

// NewStatus creates a Status with the given initial state.
func NewStatus(online bool) *Status {
	s := &Status{}
	s.online.Store(online)
	return s
}

// IsOnline returns the current state.
func (s *Status) IsOnline() bool {
	return s.online.Load()
}

// SetOnline records the state and notifies subscribers if it changed.
// It reports whether a transition happened.
func (s *Status) SetOnline(online bool) bool {
	if s.online.Swap(online) == online {
		return false
	}

	s.mu.Lock()
	subs := s.subs
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(online)
	}
	return true
}

// Subscribe registers fn for transitions.
func (s *Status) Subscribe(fn func(online bool)) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}
