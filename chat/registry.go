// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"sync"

	"github.com/benedicte-foundation/benedicte/lib/ref"
	"github.com/benedicte-foundation/benedicte/messaging"
	"github.com/benedicte-foundation/benedicte/stream"
)

// roomEntry is the listener state for one room.
type roomEntry struct {
	registry   *registry
	room       ProtocolRoom
	onEvent    func(Event)
	normalizer Normalizer

	mu           sync.Mutex
	state        MemberNames
	subscription Subscription
}

// registry tracks at most one message listener per room, plus the
// pagination exhaustion flag of every room paginated this session.
// generation advances on every clear; writes tagged with an older
// generation belong to a stopped session and are dropped.
type registry struct {
	mu         sync.Mutex
	generation uint64
	entries    map[ref.RoomID]*roomEntry
	exhausted  map[ref.RoomID]bool
}

func newRegistry() *registry {
	return &registry{
		entries:   make(map[ref.RoomID]*roomEntry),
		exhausted: make(map[ref.RoomID]bool),
	}
}

// install creates an entry for room, replacing and cancelling any
// existing one. The entry is not yet listening. Returns nil when
// generation is stale.
func (r *registry) install(generation uint64, room ProtocolRoom, normalizer Normalizer, onEvent func(Event)) *roomEntry {
	entry := &roomEntry{
		registry:   r,
		room:       room,
		onEvent:    onEvent,
		normalizer: normalizer,
		state:      room.State(),
	}
	r.mu.Lock()
	if generation != r.generation {
		r.mu.Unlock()
		return nil
	}
	previous := r.entries[room.ID()]
	r.entries[room.ID()] = entry
	r.mu.Unlock()

	previous.cancel()
	return entry
}

// remove deletes the room's entry if it is still the given one. A nil
// entry matches whatever is registered.
func (r *registry) remove(roomID ref.RoomID, entry *roomEntry) bool {
	r.mu.Lock()
	current, ok := r.entries[roomID]
	if !ok || (entry != nil && current != entry) {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, roomID)
	r.mu.Unlock()

	current.cancel()
	return true
}

// clear removes every entry, forgets pagination state, and returns the
// new generation.
func (r *registry) clear() uint64 {
	r.mu.Lock()
	r.generation++
	generation := r.generation
	entries := r.entries
	r.entries = make(map[ref.RoomID]*roomEntry)
	r.exhausted = make(map[ref.RoomID]bool)
	r.mu.Unlock()

	for _, entry := range entries {
		entry.cancel()
	}
	return generation
}

func (r *registry) current(entry *roomEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[entry.room.ID()] == entry
}

func (r *registry) lookup(roomID ref.RoomID) (*roomEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[roomID]
	return entry, ok
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *registry) setExhausted(generation uint64, roomID ref.RoomID, exhausted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if generation != r.generation {
		return
	}
	r.exhausted[roomID] = exhausted
}

// hasMore reports whether backward pagination may return more events.
// Rooms that have not been paginated report true.
func (r *registry) hasMore(roomID ref.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.exhausted[roomID]
}

// listen subscribes the entry to its room.
func (e *roomEntry) listen() {
	subscription := e.room.Listen(e.handle)
	e.mu.Lock()
	e.subscription = subscription
	e.mu.Unlock()

	// A replacement may have raced the subscription.
	if !e.registry.current(e) {
		subscription.Cancel()
	}
}

func (e *roomEntry) handle(event messaging.Event, direction stream.Direction) {
	if !e.registry.current(e) {
		return
	}

	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	// Forward events may carry state changes; history may reference
	// members the snapshot has not seen yet.
	if direction == stream.Forward || state.MemberName(event.Sender) == event.Sender.String() {
		state = e.room.State()
		e.mu.Lock()
		e.state = state
		e.mu.Unlock()
	}

	if domainEvent := e.normalizer.Normalize(event, direction, state); domainEvent != nil {
		e.onEvent(domainEvent)
	}
}

func (e *roomEntry) refreshState() {
	state := e.room.State()
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
}

func (e *roomEntry) cancel() {
	if e == nil {
		return
	}
	e.mu.Lock()
	subscription := e.subscription
	e.subscription = nil
	e.mu.Unlock()
	if subscription != nil {
		subscription.Cancel()
	}
}
