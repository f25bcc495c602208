// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"fmt"
	"time"

	"github.com/benedicte-foundation/benedicte/lib/ref"
)

// Event is a domain notification: *Message or *TypingChange.
type Event interface {
	event()
}

// Message is a text or attachment message.
type Message struct {
	RoomID            ref.RoomID
	EventID           string
	SenderID          ref.UserID
	SenderDisplayName string
	Body              string

	// MsgType is the Matrix msgtype (m.text, m.image, m.file, ...).
	MsgType string

	// Timestamp is the local clock minus the server-reported event
	// age. It approximates when the event was sent.
	Timestamp time.Time

	// IsHistorical is true for events loaded by backward pagination.
	IsHistorical bool

	// AttachmentID is the media ID of an attachment (the final path
	// segment of its mxc:// URL). Empty for plain text.
	AttachmentID  string
	AttachmentURL string

	// ThumbnailURL is set only for images that carry one.
	ThumbnailURL string
}

// HasAttachment reports whether the message references media.
func (m *Message) HasAttachment() bool { return m.AttachmentID != "" }

func (*Message) event() {}

// TypingState is the kind of a TypingChange.
type TypingState int

const (
	TypingStopped TypingState = iota
	TypingStarted
)

func (s TypingState) String() string {
	switch s {
	case TypingStopped:
		return "stopped"
	case TypingStarted:
		return "started"
	default:
		return fmt.Sprintf("TypingState(%d)", int(s))
	}
}

// TypingChange reports who is typing in a room. A Started change
// always carries SenderID (the first other typist) and lists every
// other user currently typing in Typists. A Stopped change carries no
// sender: nobody is typing.
type TypingChange struct {
	RoomID            ref.RoomID
	State             TypingState
	SenderID          ref.UserID
	SenderDisplayName string
	Typists           []ref.UserID
}

func (*TypingChange) event() {}
