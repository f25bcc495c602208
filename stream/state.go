// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"maps"
	"slices"
	"strings"

	"github.com/benedicte-foundation/benedicte/lib/ref"
	"github.com/benedicte-foundation/benedicte/messaging"
)

// Member is one user's m.room.member state.
type Member struct {
	UserID      ref.UserID
	DisplayName string
	Membership  string
}

// RoomState is an immutable snapshot of the state a room has
// accumulated from sync responses and pagination.
type RoomState struct {
	roomID         ref.RoomID
	name           string
	canonicalAlias string
	creator        ref.UserID
	members        map[ref.UserID]Member
}

// RoomID returns the room the snapshot belongs to.
func (s RoomState) RoomID() ref.RoomID { return s.roomID }

// Name returns the m.room.name, or "".
func (s RoomState) Name() string { return s.name }

// CanonicalAlias returns the m.room.canonical_alias alias, or "".
func (s RoomState) CanonicalAlias() string { return s.canonicalAlias }

// Creator returns the user that created the room, or the zero UserID
// when the create event has not been seen.
func (s RoomState) Creator() ref.UserID { return s.creator }

// Member returns the membership record for a user.
func (s RoomState) Member(userID ref.UserID) (Member, bool) {
	member, ok := s.members[userID]
	return member, ok
}

// MemberName returns the user's display name in this room, falling
// back to the full user ID when no display name is known.
func (s RoomState) MemberName(userID ref.UserID) string {
	if member, ok := s.members[userID]; ok && member.DisplayName != "" {
		return member.DisplayName
	}
	return userID.String()
}

// Members returns all known members sorted by user ID.
func (s RoomState) Members() []Member {
	members := slices.Collect(maps.Values(s.members))
	slices.SortFunc(members, func(a, b Member) int {
		return strings.Compare(a.UserID.String(), b.UserID.String())
	})
	return members
}

// apply folds one state event into the snapshot. The receiver must be
// exclusively owned by the caller. Returns true when the event changed
// anything.
func (s *RoomState) apply(event messaging.Event) bool {
	if event.StateKey == nil {
		return false
	}
	switch event.Type {
	case messaging.EventTypeMember:
		userID, err := ref.ParseUserID(*event.StateKey)
		if err != nil {
			return false
		}
		if s.members == nil {
			s.members = make(map[ref.UserID]Member)
		}
		s.members[userID] = Member{
			UserID:      userID,
			DisplayName: event.ContentString("displayname"),
			Membership:  event.ContentString("membership"),
		}
		return true
	case messaging.EventTypeName:
		s.name = event.ContentString("name")
		return true
	case messaging.EventTypeCanonicalAlias:
		s.canonicalAlias = event.ContentString("alias")
		return true
	case messaging.EventTypeCreate:
		// Room versions before 11 carry the creator in content; later
		// versions use the event sender.
		if creator, err := ref.ParseUserID(event.ContentString("creator")); err == nil {
			s.creator = creator
		} else {
			s.creator = event.Sender
		}
		return true
	}
	return false
}

// clone returns a copy that does not share the member map.
func (s RoomState) clone() RoomState {
	s.members = maps.Clone(s.members)
	return s
}

// displayName computes the room's display name: the explicit name,
// else the canonical alias, else the names of the other members (the
// heroes when the server supplied them), else the room ID.
func (s RoomState) displayName(self ref.UserID, heroes []string) string {
	if s.name != "" {
		return s.name
	}
	if s.canonicalAlias != "" {
		return s.canonicalAlias
	}

	var names []string
	if len(heroes) > 0 {
		for _, hero := range heroes {
			userID, err := ref.ParseUserID(hero)
			if err != nil || userID == self {
				continue
			}
			names = append(names, s.MemberName(userID))
		}
	} else {
		for _, member := range s.Members() {
			if member.UserID == self {
				continue
			}
			if member.Membership != messaging.MembershipJoin && member.Membership != messaging.MembershipInvite {
				continue
			}
			names = append(names, s.MemberName(member.UserID))
		}
	}
	if len(names) > 0 {
		return strings.Join(names, ", ")
	}
	return s.roomID.String()
}
