// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/benedicte-foundation/benedicte/lib/clock"
	"github.com/benedicte-foundation/benedicte/lib/ref"
	"github.com/benedicte-foundation/benedicte/messaging"
)

// Default timings for the sync loop.
const (
	DefaultLongPollTimeout = 30 * time.Second
	DefaultRetryDelay      = 5 * time.Second
)

// Transport is the subset of a Matrix session the stream needs.
// *messaging.DirectSession satisfies it.
type Transport interface {
	UserID() ref.UserID
	Sync(ctx context.Context, options messaging.SyncOptions) (*messaging.SyncResponse, error)
	RoomMessages(ctx context.Context, roomID ref.RoomID, options messaging.RoomMessagesOptions) (*messaging.RoomMessagesResponse, error)
	GetRoomState(ctx context.Context, roomID ref.RoomID) ([]messaging.Event, error)
}

// EventListener receives every event from every room, including
// stripped invite state, as it is folded into the session.
type EventListener func(roomID ref.RoomID, event messaging.Event)

// Config configures a Session.
type Config struct {
	// Transport performs sync and pagination requests. Required.
	Transport Transport

	// Clock times the retry delay. Defaults to the real clock.
	Clock clock.Clock

	Logger *slog.Logger

	// LongPollTimeout is the server-side hold time for each /sync.
	// Defaults to DefaultLongPollTimeout.
	LongPollTimeout time.Duration

	// RetryDelay is the wait after a failed /sync. Defaults to
	// DefaultRetryDelay.
	RetryDelay time.Duration

	// Filter is an optional inline /sync filter or filter ID.
	Filter string
}

// Session is a running sync stream.
type Session struct {
	transport       Transport
	userID          ref.UserID
	clock           clock.Clock
	logger          *slog.Logger
	longPollTimeout time.Duration
	retryDelay      time.Duration
	filter          string

	mu        sync.Mutex
	rooms     map[ref.RoomID]*Room
	order     []ref.RoomID
	nextBatch string
	started   bool
	closed    bool
	err       error

	listeners listenerSet[EventListener]

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Session. It does not contact the server until Start.
func New(config Config) (*Session, error) {
	if config.Transport == nil {
		return nil, errors.New("stream: transport is required")
	}
	userID := config.Transport.UserID()
	if userID.IsZero() {
		return nil, errors.New("stream: transport has no user ID")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.LongPollTimeout <= 0 {
		config.LongPollTimeout = DefaultLongPollTimeout
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultRetryDelay
	}
	return &Session{
		transport:       config.Transport,
		userID:          userID,
		clock:           config.Clock,
		logger:          config.Logger.With("user_id", userID),
		longPollTimeout: config.LongPollTimeout,
		retryDelay:      config.RetryDelay,
		filter:          config.Filter,
		rooms:           make(map[ref.RoomID]*Room),
		done:            make(chan struct{}),
	}, nil
}

// UserID returns the local user's ID.
func (s *Session) UserID() ref.UserID { return s.userID }

// Start performs the initial sync and then continues syncing in the
// background until Close. The background loop is not bound to ctx's
// cancellation; ctx bounds only the initial sync.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("stream: session already started or closed")
	}
	s.started = true
	s.mu.Unlock()

	response, err := s.transport.Sync(ctx, messaging.SyncOptions{
		SetTimeout: true,
		Timeout:    0,
		Filter:     s.filter,
	})
	if err != nil {
		close(s.done)
		return fmt.Errorf("stream: initial sync: %w", err)
	}
	s.apply(ctx, response)

	loopContext, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		close(s.done)
		return errors.New("stream: session closed during start")
	}
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(loopContext)
	return nil
}

// Close stops the sync loop and waits for it to exit. Idempotent. A
// listener must not call Close, since Close waits for the goroutine
// running the listener.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		cancel := s.cancel
		started := s.started
		s.started = true
		s.mu.Unlock()

		switch {
		case cancel != nil:
			cancel()
			<-s.done
		case !started:
			close(s.done)
		}
	})
	return nil
}

// Done is closed when the sync loop exits, whether from Close or a
// terminal error.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the sync loop, or nil while it is
// running or after a clean Close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Listen registers a listener for events in all rooms.
func (s *Session) Listen(listener EventListener) *Subscription {
	return s.listeners.add(listener)
}

// Rooms returns the rooms the user is joined to or invited to, in the
// order they first appeared.
func (s *Session) Rooms() []*Room {
	s.mu.Lock()
	candidates := make([]*Room, 0, len(s.order))
	for _, id := range s.order {
		candidates = append(candidates, s.rooms[id])
	}
	s.mu.Unlock()

	rooms := candidates[:0]
	for _, room := range candidates {
		switch room.Membership() {
		case messaging.MembershipJoin, messaging.MembershipInvite:
			rooms = append(rooms, room)
		}
	}
	return rooms
}

// Room returns a known room.
func (s *Session) Room(id ref.RoomID) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	return room, ok
}

// IsJoined reports whether the user is joined to the room according
// to the latest sync.
func (s *Session) IsJoined(id ref.RoomID) bool {
	room, ok := s.Room(id)
	return ok && room.Membership() == messaging.MembershipJoin
}

func (s *Session) syncToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextBatch
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	for {
		response, err := s.transport.Sync(ctx, messaging.SyncOptions{
			Since:      s.syncToken(),
			SetTimeout: true,
			Timeout:    int(s.longPollTimeout.Milliseconds()),
			Filter:     s.filter,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if messaging.IsMatrixError(err, messaging.ErrCodeUnknownToken) {
				s.logger.Error("sync stopped: access token rejected", "error", err)
				s.mu.Lock()
				s.err = fmt.Errorf("stream: sync: %w", err)
				s.mu.Unlock()
				return
			}
			s.logger.Warn("sync failed, retrying", "error", err, "retry_in", s.retryDelay)
			select {
			case <-ctx.Done():
				return
			case <-s.clock.After(s.retryDelay):
			}
			continue
		}
		if ctx.Err() != nil {
			return
		}
		s.apply(ctx, response)
	}
}

type delivery struct {
	room   *Room
	events []messaging.Event
	joined bool
}

// apply folds a sync response into the rooms, then notifies
// listeners. All state from the response is applied before the first
// listener runs.
func (s *Session) apply(ctx context.Context, response *messaging.SyncResponse) {
	var deliveries []delivery

	for _, id := range sortedKeys(response.Rooms.Join) {
		room := s.roomFor(id)
		deliveries = append(deliveries, delivery{room: room, events: room.applyJoined(response.Rooms.Join[id]), joined: true})
	}
	for _, id := range sortedKeys(response.Rooms.Invite) {
		room := s.roomFor(id)
		deliveries = append(deliveries, delivery{room: room, events: room.applyInvited(response.Rooms.Invite[id])})
	}
	for _, id := range sortedKeys(response.Rooms.Leave) {
		room := s.roomFor(id)
		deliveries = append(deliveries, delivery{room: room, events: room.applyLeft(response.Rooms.Leave[id])})
	}

	for _, delivery := range deliveries {
		if delivery.joined && delivery.room.claimStateBackfill() {
			s.backfillState(ctx, delivery.room)
		}
	}

	s.mu.Lock()
	s.nextBatch = response.NextBatch
	s.mu.Unlock()

	for _, delivery := range deliveries {
		for _, event := range delivery.events {
			s.listeners.each(func(listener EventListener) { listener(delivery.room.id, event) })
			if delivery.joined {
				delivery.room.deliver(event, Forward)
			}
		}
	}
}

// backfillState fetches the full state of a joined room that arrived
// without any, as it does under lazy-loading filters. A failed fetch
// leaves the room with what sync delivers.
func (s *Session) backfillState(ctx context.Context, room *Room) {
	events, err := s.transport.GetRoomState(ctx, room.id)
	if err != nil {
		s.logger.Warn("room state fetch failed", "room_id", room.id, "error", err)
		return
	}
	room.applyHistoricalState(events)
}

func (s *Session) roomFor(id ref.RoomID) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		room = newRoom(s, id)
		s.rooms[id] = room
		s.order = append(s.order, id)
	}
	return room
}

func sortedKeys[V any](rooms map[ref.RoomID]V) []ref.RoomID {
	ids := make([]ref.RoomID, 0, len(rooms))
	for id := range rooms {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b ref.RoomID) int { return strings.Compare(a.String(), b.String()) })
	return ids
}
