// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/benedicte-foundation/benedicte/lib/ref"
	"github.com/benedicte-foundation/benedicte/messaging"
	"github.com/benedicte-foundation/benedicte/stream"
)

// ErrUnknownRoom is returned for a room the session has not seen.
var ErrUnknownRoom = errors.New("chat: unknown room")

// Room is a snapshot of one room in the user's room list.
type Room struct {
	ID          ref.RoomID
	DisplayName string
	IsJoined    bool

	// InvitedByUserID is the sender of a pending invite, or the room
	// creator once joined. InvitedByName is that user's display name.
	InvitedByUserID ref.UserID
	InvitedByName   string
}

func roomList(protocol Protocol) []Room {
	handles := protocol.Rooms()
	rooms := make([]Room, 0, len(handles))
	for _, handle := range handles {
		summary := handle.Summary()
		room := Room{
			ID:          summary.ID,
			DisplayName: summary.DisplayName,
			IsJoined:    protocol.IsJoined(summary.ID),
		}
		switch {
		case !summary.Inviter.IsZero():
			room.InvitedByUserID = summary.Inviter
			room.InvitedByName = summary.InviterName
		case !summary.Creator.IsZero():
			room.InvitedByUserID = summary.Creator
			room.InvitedByName = handle.State().MemberName(summary.Creator)
		}
		rooms = append(rooms, room)
	}
	return rooms
}

// Rooms returns the rooms the user is joined or invited to.
func (m *Manager) Rooms() ([]Room, error) {
	active, _, err := m.session()
	if err != nil {
		return nil, err
	}
	return roomList(active.protocol), nil
}

// StartRoomListener calls onRoomsChanged with the full room list
// whenever an event that can change it (membership, name, alias,
// creation) arrives. Replaces any earlier room listener. The callback
// runs on the sync goroutine.
func (m *Manager) StartRoomListener(onRoomsChanged func([]Room)) error {
	active, _, err := m.session()
	if err != nil {
		return err
	}

	protocol := active.protocol
	subscription := protocol.Listen(func(roomID ref.RoomID, event messaging.Event) {
		if roomListAffecting(event) {
			onRoomsChanged(roomList(protocol))
		}
	})

	m.mu.Lock()
	if m.active != active {
		m.mu.Unlock()
		subscription.Cancel()
		return ErrNotAuthenticated
	}
	previous := m.roomSubscription
	m.roomSubscription = subscription
	m.mu.Unlock()

	if previous != nil {
		previous.Cancel()
	}
	return nil
}

// StopRoomListener removes the room listener, if any.
func (m *Manager) StopRoomListener() {
	m.mu.Lock()
	subscription := m.roomSubscription
	m.roomSubscription = nil
	m.mu.Unlock()
	if subscription != nil {
		subscription.Cancel()
	}
}

// JoinFirstRoom joins the first room in the room list and returns it.
// Returns nil, nil when the list is empty. No join request is sent
// when the user is already joined.
func (m *Manager) JoinFirstRoom(ctx context.Context) (joined *Room, err error) {
	span := m.begin("JoinFirstRoom")
	defer func() { span.End(err) }()

	active, _, err := m.session()
	if err != nil {
		return nil, err
	}
	rooms := roomList(active.protocol)
	if len(rooms) == 0 {
		return nil, nil
	}

	room := rooms[0]
	if !active.protocol.IsJoined(room.ID) {
		if err := active.dispatcher.join(ctx, room.ID); err != nil {
			return nil, err
		}
	}
	room.IsJoined = true
	return &room, nil
}

// StartMessageListener starts delivering the room's events to onEvent.
// It resets the room's history cursor, registers the listener, and
// loads one page of history (delivered as historical messages) before
// returning. Starting a listener for a room that already has one
// replaces it. onEvent runs on the sync goroutine for live events and
// on the calling goroutine for history.
func (m *Manager) StartMessageListener(ctx context.Context, roomID ref.RoomID, onEvent func(Event)) (err error) {
	span := m.begin("StartMessageListener", "room_id", roomID.String())
	defer func() { span.End(err) }()

	active, options, err := m.session()
	if err != nil {
		return err
	}
	room, ok := active.protocol.Room(roomID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRoom, roomID)
	}

	timeline := room.Timeline()
	timeline.ResetPagination()
	entry := m.registry.install(active.generation, room, active.normalizer, onEvent)
	if entry == nil {
		return ErrNotAuthenticated
	}
	entry.listen()

	if err := timeline.Paginate(ctx, options.PageSize, stream.Backward); err != nil {
		m.registry.remove(roomID, entry)
		return classify("load history", err)
	}
	m.registry.setExhausted(active.generation, roomID, !timeline.CanPaginate(stream.Backward))
	entry.refreshState()
	return nil
}

// StopMessageListener stops delivery for the room. Safe to call for a
// room without a listener.
func (m *Manager) StopMessageListener(roomID ref.RoomID) {
	m.registry.remove(roomID, nil)
}

// LoadMoreMessages loads one page of older history for the room.
// Events reach the room's message listener, if one is registered,
// marked historical. pageSize <= 0 uses the configured page size.
func (m *Manager) LoadMoreMessages(ctx context.Context, roomID ref.RoomID, pageSize int) (err error) {
	span := m.begin("LoadMoreMessages", "room_id", roomID.String())
	defer func() { span.End(err) }()

	active, options, err := m.session()
	if err != nil {
		return err
	}
	room, ok := active.protocol.Room(roomID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRoom, roomID)
	}
	if pageSize <= 0 {
		pageSize = options.PageSize
	}

	timeline := room.Timeline()
	if err := timeline.Paginate(ctx, pageSize, stream.Backward); err != nil {
		return classify("load history", err)
	}
	m.registry.setExhausted(active.generation, roomID, !timeline.CanPaginate(stream.Backward))
	return nil
}

// HasMoreMessages reports whether older history may remain for the
// room. True for rooms that have not been paginated yet.
func (m *Manager) HasMoreMessages(roomID ref.RoomID) bool {
	return m.registry.hasMore(roomID)
}
