// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"

	"github.com/benedicte-foundation/benedicte/lib/ref"
	"github.com/benedicte-foundation/benedicte/messaging"
	"github.com/benedicte-foundation/benedicte/stream"
)

// Protocol is the long-lived event stream of one session. The default
// implementation wraps a *stream.Session.
type Protocol interface {
	Start(ctx context.Context) error
	Close() error
	Rooms() []ProtocolRoom
	Room(id ref.RoomID) (ProtocolRoom, bool)
	IsJoined(id ref.RoomID) bool
	Listen(listener stream.EventListener) Subscription
}

// ProtocolRoom is one room of a Protocol.
type ProtocolRoom interface {
	ID() ref.RoomID
	Summary() stream.Summary
	State() MemberNames
	Timeline() Timeline
	Listen(listener stream.Listener) Subscription
}

// Timeline is a room timeline with a backward pagination cursor.
type Timeline interface {
	ResetPagination()
	Paginate(ctx context.Context, count int, direction stream.Direction) error
	CanPaginate(direction stream.Direction) bool
}

// Subscription is a listener registration.
type Subscription interface {
	Cancel()
}

// ProtocolFactory opens the Protocol for an authenticated session.
type ProtocolFactory func(session messaging.Session, options Options) (Protocol, error)

// OpenStream is the default ProtocolFactory.
func OpenStream(session messaging.Session, options Options) (Protocol, error) {
	streamSession, err := stream.New(stream.Config{
		Transport: session,
		Clock:     options.Clock,
		Logger:    options.Logger,
	})
	if err != nil {
		return nil, err
	}
	return streamProtocol{streamSession}, nil
}

type streamProtocol struct {
	*stream.Session
}

func (p streamProtocol) Rooms() []ProtocolRoom {
	rooms := p.Session.Rooms()
	wrapped := make([]ProtocolRoom, len(rooms))
	for index, room := range rooms {
		wrapped[index] = streamRoom{room}
	}
	return wrapped
}

func (p streamProtocol) Room(id ref.RoomID) (ProtocolRoom, bool) {
	room, ok := p.Session.Room(id)
	if !ok {
		return nil, false
	}
	return streamRoom{room}, true
}

func (p streamProtocol) Listen(listener stream.EventListener) Subscription {
	return p.Session.Listen(listener)
}

type streamRoom struct {
	*stream.Room
}

func (r streamRoom) State() MemberNames { return r.Room.State() }

func (r streamRoom) Timeline() Timeline { return r.Room.LiveTimeline() }

func (r streamRoom) Listen(listener stream.Listener) Subscription {
	return r.Room.Listen(listener)
}
