// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"sync"

	"github.com/benedicte-foundation/benedicte/lib/ref"
	"github.com/benedicte-foundation/benedicte/messaging"
)

// Listener receives room events. direction is Forward for live sync
// events and Backward for events returned by pagination.
type Listener func(event messaging.Event, direction Direction)

// Summary is a point-in-time description of a room.
type Summary struct {
	ID          ref.RoomID
	DisplayName string

	// Membership is the local user's membership: join, invite, or
	// leave.
	Membership string

	Creator ref.UserID

	// Inviter is the user who sent the pending invite. Zero unless
	// Membership is invite.
	Inviter     ref.UserID
	InviterName string
}

// IsJoined reports whether the local user is joined.
func (s Summary) IsJoined() bool { return s.Membership == messaging.MembershipJoin }

// Room is one room known to a Session. Rooms are created by the
// Session as they appear in sync responses; they are never removed,
// only marked as left.
type Room struct {
	session  *Session
	id       ref.RoomID
	timeline *Timeline

	mu         sync.Mutex
	membership string
	state      RoomState
	heroes     []string
	inviter    ref.UserID

	// stateRequested is set once a full state fetch has been issued.
	stateRequested bool

	// inviteState holds stripped state from the invite, kept apart
	// from the room state since it is not authoritative.
	inviteState RoomState

	listeners listenerSet[Listener]
}

func newRoom(session *Session, id ref.RoomID) *Room {
	room := &Room{
		session:     session,
		id:          id,
		state:       RoomState{roomID: id},
		inviteState: RoomState{roomID: id},
	}
	room.timeline = &Timeline{room: room}
	return room
}

// ID returns the room ID.
func (r *Room) ID() ref.RoomID { return r.id }

// State returns a snapshot of the room's current state.
func (r *Room) State() RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clone()
}

// Membership returns the local user's membership.
func (r *Room) Membership() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.membership
}

// Summary returns the room's display name, membership, and inviter.
func (r *Room) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	summary := Summary{
		ID:         r.id,
		Membership: r.membership,
		Creator:    r.state.creator,
	}
	if r.membership == messaging.MembershipInvite {
		summary.DisplayName = r.inviteState.displayName(r.session.userID, r.heroes)
		summary.Creator = r.inviteState.creator
		if !r.inviter.IsZero() {
			summary.Inviter = r.inviter
			summary.InviterName = r.inviteState.MemberName(r.inviter)
		}
	} else {
		summary.DisplayName = r.state.displayName(r.session.userID, r.heroes)
	}
	return summary
}

// LiveTimeline returns the room's timeline.
func (r *Room) LiveTimeline() *Timeline { return r.timeline }

// Listen registers a listener for this room's events.
func (r *Room) Listen(listener Listener) *Subscription {
	return r.listeners.add(listener)
}

// applyJoined folds a joined-room sync section into the room. Returns
// the events to deliver, in delivery order.
func (r *Room) applyJoined(joined messaging.JoinedRoom) []messaging.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.membership = messaging.MembershipJoin
	r.inviter = ref.UserID{}
	if len(joined.Summary.Heroes) > 0 {
		r.heroes = joined.Summary.Heroes
	}

	events := make([]messaging.Event, 0,
		len(joined.State.Events)+len(joined.Timeline.Events)+len(joined.Ephemeral.Events))
	for _, event := range joined.State.Events {
		r.state.apply(event)
		events = append(events, r.withRoom(event))
	}
	for _, event := range joined.Timeline.Events {
		r.state.apply(event)
		events = append(events, r.withRoom(event))
	}
	for _, event := range joined.Ephemeral.Events {
		events = append(events, r.withRoom(event))
	}
	r.timeline.noteLive(joined.Timeline)
	return events
}

// applyInvited records a pending invite and returns its stripped state.
func (r *Room) applyInvited(invited messaging.InvitedRoom) []messaging.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.membership = messaging.MembershipInvite
	events := make([]messaging.Event, 0, len(invited.InviteState.Events))
	for _, event := range invited.InviteState.Events {
		r.inviteState.apply(event)
		if event.Type == messaging.EventTypeMember && event.StateKey != nil &&
			*event.StateKey == r.session.userID.String() &&
			event.ContentString("membership") == messaging.MembershipInvite {
			r.inviter = event.Sender
		}
		events = append(events, r.withRoom(event))
	}
	return events
}

// applyLeft marks the room as left and returns its final events.
func (r *Room) applyLeft(left messaging.LeftRoom) []messaging.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.membership = messaging.MembershipLeave
	r.inviter = ref.UserID{}
	events := make([]messaging.Event, 0, len(left.State.Events)+len(left.Timeline.Events))
	for _, event := range left.State.Events {
		r.state.apply(event)
		events = append(events, r.withRoom(event))
	}
	for _, event := range left.Timeline.Events {
		r.state.apply(event)
		events = append(events, r.withRoom(event))
	}
	return events
}

// claimStateBackfill reports whether the room is joined but has seen
// neither a create event nor any member, and marks it so the fetch is
// issued at most once.
func (r *Room) claimStateBackfill() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stateRequested || r.membership != messaging.MembershipJoin {
		return false
	}
	if !r.state.creator.IsZero() || len(r.state.members) > 0 {
		return false
	}
	r.stateRequested = true
	return true
}

// applyHistoricalState folds state returned alongside a pagination
// chunk (lazy-loaded members) without overriding what is already known.
func (r *Room) applyHistoricalState(events []messaging.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range events {
		if event.Type == messaging.EventTypeMember && event.StateKey != nil {
			if userID, err := ref.ParseUserID(*event.StateKey); err == nil {
				if _, known := r.state.members[userID]; known {
					continue
				}
			}
		}
		r.state.apply(event)
	}
}

func (r *Room) withRoom(event messaging.Event) messaging.Event {
	if event.RoomID.IsZero() {
		event.RoomID = r.id
	}
	return event
}

func (r *Room) deliver(event messaging.Event, direction Direction) {
	r.listeners.each(func(listener Listener) { listener(event, direction) })
}
