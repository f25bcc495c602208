// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"github.com/benedicte-foundation/benedicte/lib/ref"
)

// Event types consumed or produced by the session layer.
const (
	EventTypeMessage        = "m.room.message"
	EventTypeMember         = "m.room.member"
	EventTypeName           = "m.room.name"
	EventTypeCanonicalAlias = "m.room.canonical_alias"
	EventTypeCreate         = "m.room.create"
	EventTypeTyping         = "m.typing"
)

// Message types for m.room.message content.
const (
	MsgTypeText  = "m.text"
	MsgTypeImage = "m.image"
	MsgTypeFile  = "m.file"
)

// Membership values.
const (
	MembershipJoin   = "join"
	MembershipInvite = "invite"
	MembershipLeave  = "leave"
	MembershipBan    = "ban"
)

// LoginRequest is the body of POST /login for password auth.
type LoginRequest struct {
	Type     string `json:"type"`
	User     string `json:"user"`
	Password string `json:"password"`

	// InitialDeviceDisplayName names the device on first login.
	InitialDeviceDisplayName string `json:"initial_device_display_name,omitempty"`
}

// AuthResponse is the homeserver's reply to a successful login.
type AuthResponse struct {
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token"`
	HomeServer  string     `json:"home_server,omitempty"`
	DeviceID    string     `json:"device_id"`
}

// ExchangeResponse is the identity provider's reply to a token
// exchange.
type ExchangeResponse struct {
	UserID      ref.UserID `json:"userId"`
	AccessToken string     `json:"accessToken"`
}

// MessageContent is the content of an m.room.message event. URL is
// set for attachments (mxc:// content URI).
type MessageContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
	URL     string `json:"url,omitempty"`
}

// NewTextMessage builds plain text message content.
func NewTextMessage(body string) MessageContent {
	return MessageContent{MsgType: MsgTypeText, Body: body}
}

// TypingRequest is the body of PUT /rooms/{roomId}/typing/{userId}.
// Timeout is in milliseconds and is always sent; servers ignore it when
// Typing is false.
type TypingRequest struct {
	Typing  bool  `json:"typing"`
	Timeout int64 `json:"timeout"`
}

// Event is a Matrix event as it appears in /sync, /messages, and
// /state responses. Content stays untyped; consumers extract the
// fields they need.
type Event struct {
	EventID        string         `json:"event_id,omitempty"`
	Type           string         `json:"type"`
	Sender         ref.UserID     `json:"sender,omitempty"`
	OriginServerTS int64          `json:"origin_server_ts,omitempty"`
	Content        map[string]any `json:"content"`
	RoomID         ref.RoomID     `json:"room_id,omitempty"`
	StateKey       *string        `json:"state_key,omitempty"`
	Unsigned       *EventUnsigned `json:"unsigned,omitempty"`
}

// EventUnsigned carries server-computed metadata.
type EventUnsigned struct {
	// Age is milliseconds since the event was sent, as measured by the
	// homeserver when it served the response.
	Age           int64  `json:"age,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// Age returns unsigned.age, or 0 when absent.
func (e Event) Age() int64 {
	if e.Unsigned == nil {
		return 0
	}
	return e.Unsigned.Age
}

// IsState reports whether the event carries a state key.
func (e Event) IsState() bool { return e.StateKey != nil }

// ContentString returns a string field of Content, following nested
// objects for each additional key. Returns "" when any step is missing
// or has the wrong type.
func (e Event) ContentString(keys ...string) string {
	var current any = e.Content
	for _, key := range keys {
		object, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current = object[key]
	}
	value, _ := current.(string)
	return value
}

// ContentStrings returns a []string field of Content. Non-string
// elements are skipped.
func (e Event) ContentStrings(key string) []string {
	raw, ok := e.Content[key].([]any)
	if !ok {
		return nil
	}
	values := make([]string, 0, len(raw))
	for _, element := range raw {
		if value, ok := element.(string); ok {
			values = append(values, value)
		}
	}
	return values
}

// SendEventResponse is the reply to PUT /send.
type SendEventResponse struct {
	EventID string `json:"event_id"`
}

// RoomMessagesOptions controls GET /rooms/{roomId}/messages.
type RoomMessagesOptions struct {
	// From is the pagination token to start from.
	From string
	// Direction is "b" (backward) or "f" (forward). Default "b".
	Direction string
	// Limit is the maximum number of events. Zero uses the server
	// default.
	Limit int
}

// RoomMessagesResponse is a page of room history. End is empty when
// there is no more history in the requested direction.
type RoomMessagesResponse struct {
	Start string  `json:"start"`
	End   string  `json:"end,omitempty"`
	Chunk []Event `json:"chunk"`
	State []Event `json:"state,omitempty"`
}

// SyncOptions controls GET /sync.
type SyncOptions struct {
	// Since is the next_batch token from the previous sync. Empty for
	// the initial sync.
	Since string
	// Timeout is the long-poll wait in milliseconds. Sent only when
	// SetTimeout is true, so that zero (return immediately) can be
	// expressed.
	Timeout    int
	SetTimeout bool
	// Filter is an inline JSON filter or a filter ID.
	Filter string
}

// SyncResponse is the body of a /sync response.
type SyncResponse struct {
	NextBatch string          `json:"next_batch"`
	Presence  PresenceSection `json:"presence,omitempty"`
	Rooms     RoomsSection    `json:"rooms"`
}

// PresenceSection carries m.presence events.
type PresenceSection struct {
	Events []Event `json:"events"`
}

// RoomsSection groups rooms by the user's membership.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoom  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoom `json:"invite,omitempty"`
	Leave  map[ref.RoomID]LeftRoom    `json:"leave,omitempty"`
}

// JoinedRoom is a joined room's slice of a sync response.
type JoinedRoom struct {
	Summary   RoomSummary      `json:"summary,omitempty"`
	State     StateSection     `json:"state"`
	Timeline  TimelineSection  `json:"timeline"`
	Ephemeral EphemeralSection `json:"ephemeral"`
}

// RoomSummary holds the fields used to compute a display name when the
// room has no explicit name.
type RoomSummary struct {
	Heroes             []string `json:"m.heroes,omitempty"`
	JoinedMemberCount  int      `json:"m.joined_member_count,omitempty"`
	InvitedMemberCount int      `json:"m.invited_member_count,omitempty"`
}

// InvitedRoom is a pending invite. InviteState holds stripped state
// events that include the inviter's m.room.member event.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// LeftRoom is a room the user has left since the last sync.
type LeftRoom struct {
	State    StateSection    `json:"state"`
	Timeline TimelineSection `json:"timeline"`
}

// TimelineSection is the timeline slice of a room in a sync response.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// StateSection holds state events.
type StateSection struct {
	Events []Event `json:"events"`
}

// EphemeralSection holds non-persisted events such as m.typing.
type EphemeralSection struct {
	Events []Event `json:"events"`
}

// RoomMember is a member of a room.
type RoomMember struct {
	UserID      ref.UserID `json:"user_id"`
	DisplayName string     `json:"displayname,omitempty"`
	Membership  string     `json:"membership,omitempty"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
}

// RoomMembersResponse is the body of GET /rooms/{roomId}/members.
type RoomMembersResponse struct {
	Chunk []RoomMemberEvent `json:"chunk"`
}

// RoomMemberEvent is an m.room.member event from the members
// endpoint. The member is identified by StateKey; some servers also
// echo it in UserID.
type RoomMemberEvent struct {
	Type     string            `json:"type"`
	StateKey string            `json:"state_key"`
	UserID   string            `json:"user_id,omitempty"`
	Sender   ref.UserID        `json:"sender,omitempty"`
	Content  RoomMemberContent `json:"content"`
}

// RoomMemberContent is the content of an m.room.member event.
type RoomMemberContent struct {
	Membership  string `json:"membership"`
	DisplayName string `json:"displayname,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// DisplayNameResponse is the display name field of a profile.
type DisplayNameResponse struct {
	DisplayName string `json:"displayname"`
}

// PresenceStatus is the body of GET /presence/{userId}/status.
type PresenceStatus struct {
	Presence        string `json:"presence"`
	LastActiveAgo   int64  `json:"last_active_ago,omitempty"`
	CurrentlyActive bool   `json:"currently_active,omitempty"`
	StatusMsg       string `json:"status_msg,omitempty"`
}

// UploadResponse is the reply to a media upload.
type UploadResponse struct {
	ContentURI string `json:"content_uri"`
}
