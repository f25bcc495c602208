// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"strings"
	"time"

	"github.com/benedicte-foundation/benedicte/lib/clock"
	"github.com/benedicte-foundation/benedicte/lib/ref"
	"github.com/benedicte-foundation/benedicte/messaging"
	"github.com/benedicte-foundation/benedicte/stream"
)

// MemberNames resolves display names from a room state snapshot.
// stream.RoomState implements it.
type MemberNames interface {
	MemberName(userID ref.UserID) string
}

// Normalizer maps raw room events to domain events. It keeps no state
// of its own.
type Normalizer struct {
	// Self is the local user, whose own typing is not reported.
	Self  ref.UserID
	Clock clock.Clock
}

// Normalize returns the domain event for a raw event, or nil when the
// event produces none: message events without a body, typing events
// where only the local user is typing, and every other event type.
//
// The typing user list is treated as a set with the local user removed
// before the sender is picked. A list of [self, alice] yields Started
// from alice even though self is listed first; the event is suppressed
// only when nobody but self is typing.
func (n Normalizer) Normalize(event messaging.Event, direction stream.Direction, names MemberNames) Event {
	switch event.Type {
	case messaging.EventTypeMessage:
		return n.message(event, direction, names)
	case messaging.EventTypeTyping:
		return n.typing(event, names)
	}
	return nil
}

func (n Normalizer) message(event messaging.Event, direction stream.Direction, names MemberNames) Event {
	body := event.ContentString("body")
	if body == "" {
		return nil
	}

	message := &Message{
		RoomID:            event.RoomID,
		EventID:           event.EventID,
		SenderID:          event.Sender,
		SenderDisplayName: memberName(names, event.Sender),
		Body:              body,
		MsgType:           event.ContentString("msgtype"),
		Timestamp:         n.now().Add(-time.Duration(event.Age()) * time.Millisecond),
		IsHistorical:      direction == stream.Backward,
	}

	if url := event.ContentString("url"); url != "" {
		message.AttachmentURL = url
		message.AttachmentID = url[strings.LastIndex(url, "/")+1:]
		if message.MsgType == messaging.MsgTypeImage {
			message.ThumbnailURL = event.ContentString("info", "thumbnail_url")
		}
	}
	return message
}

func (n Normalizer) typing(event messaging.Event, names MemberNames) Event {
	reported := event.ContentStrings("user_ids")
	if len(reported) == 0 {
		return &TypingChange{RoomID: event.RoomID, State: TypingStopped}
	}

	var typists []ref.UserID
	for _, raw := range reported {
		userID, err := ref.ParseUserID(raw)
		if err != nil || userID == n.Self {
			continue
		}
		typists = append(typists, userID)
	}
	if len(typists) == 0 {
		return nil
	}

	return &TypingChange{
		RoomID:            event.RoomID,
		State:             TypingStarted,
		SenderID:          typists[0],
		SenderDisplayName: memberName(names, typists[0]),
		Typists:           typists,
	}
}

func (n Normalizer) now() time.Time {
	if n.Clock == nil {
		return time.Now()
	}
	return n.Clock.Now()
}

func memberName(names MemberNames, userID ref.UserID) string {
	if names == nil {
		return userID.String()
	}
	return names.MemberName(userID)
}
