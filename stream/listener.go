// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"sync"
	"sync/atomic"
)

// Subscription is returned by Listen calls. Cancel stops delivery.
type Subscription struct {
	active atomic.Bool
	remove func()
	once   sync.Once
}

// Cancel removes the listener. A callback already running is not
// interrupted, but no further callbacks start. Safe to call more than
// once and on a nil Subscription.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.active.Store(false)
		s.remove()
	})
}

// Active reports whether the subscription is still receiving events.
func (s *Subscription) Active() bool {
	return s != nil && s.active.Load()
}

type listenerEntry[T any] struct {
	subscription *Subscription
	callback     T
}

// listenerSet is an ordered set of callbacks. Delivery iterates a
// snapshot taken under the lock and checks each entry's subscription
// before invoking it, so removal during delivery takes effect for the
// remaining entries.
type listenerSet[T any] struct {
	mu      sync.Mutex
	entries []*listenerEntry[T]
}

func (l *listenerSet[T]) add(callback T) *Subscription {
	entry := &listenerEntry[T]{callback: callback}
	subscription := &Subscription{}
	subscription.active.Store(true)
	subscription.remove = func() { l.remove(entry) }
	entry.subscription = subscription

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
	return subscription
}

func (l *listenerSet[T]) remove(target *listenerEntry[T]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for index, entry := range l.entries {
		if entry == target {
			l.entries = append(l.entries[:index:index], l.entries[index+1:]...)
			return
		}
	}
}

func (l *listenerSet[T]) each(invoke func(T)) {
	l.mu.Lock()
	snapshot := make([]*listenerEntry[T], len(l.entries))
	copy(snapshot, l.entries)
	l.mu.Unlock()

	for _, entry := range snapshot {
		if entry.subscription.Active() {
			invoke(entry.callback)
		}
	}
}

func (l *listenerSet[T]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
