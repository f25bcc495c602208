// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"io"
	"time"

	"github.com/benedicte-foundation/benedicte/lib/ref"
)

// Session is the set of authenticated operations the chat layer uses.
// *DirectSession implements it against a homeserver; tests substitute
// in-memory fakes.
type Session interface {
	// UserID returns the fully-qualified Matrix user ID.
	UserID() ref.UserID

	// HomeServer returns the homeserver name.
	HomeServer() string

	// DeviceID returns the device ID bound to the access token.
	DeviceID() string

	// Close releases resources held by the session. Idempotent.
	Close() error

	// SendEvent sends a room event with the given transaction ID.
	SendEvent(ctx context.Context, roomID ref.RoomID, eventType, transactionID string, content any) (string, error)

	// JoinRoom joins a room by ID.
	JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error)

	// SetTyping reports the user's typing state.
	SetTyping(ctx context.Context, roomID ref.RoomID, typing bool, timeout time.Duration) error

	// GetRoomMembers returns the members of a room.
	GetRoomMembers(ctx context.Context, roomID ref.RoomID) ([]RoomMember, error)

	// GetDisplayName fetches a user's display name.
	GetDisplayName(ctx context.Context, userID ref.UserID) (string, error)

	// GetPresence fetches a user's presence.
	GetPresence(ctx context.Context, userID ref.UserID) (*PresenceStatus, error)

	// GetRoomState fetches a room's full current state.
	GetRoomState(ctx context.Context, roomID ref.RoomID) ([]Event, error)

	// RoomMessages fetches a page of room history.
	RoomMessages(ctx context.Context, roomID ref.RoomID, options RoomMessagesOptions) (*RoomMessagesResponse, error)

	// Sync performs a sync with the homeserver.
	Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error)

	// UploadMedia uploads content to the media repository.
	UploadMedia(ctx context.Context, request UploadRequest) (string, error)

	// DownloadMedia streams media content into a writer.
	DownloadMedia(ctx context.Context, request DownloadRequest, destination io.Writer) (*DownloadInfo, error)
}

// Compile-time check: *DirectSession implements Session.
var _ Session = (*DirectSession)(nil)
