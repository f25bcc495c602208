// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/benedicte-foundation/benedicte/lib/ref"
	"github.com/benedicte-foundation/benedicte/lib/secret"
)

// DirectSession is an authenticated Matrix session.
//
// The access token is stored in a secret.Buffer. Close releases it;
// requests issued after Close fail without reaching the network.
type DirectSession struct {
	client      *Client
	accessToken *secret.Buffer
	userID      ref.UserID
	homeServer  string
	deviceID    string
}

// UserID returns the fully-qualified Matrix user ID.
func (s *DirectSession) UserID() ref.UserID { return s.userID }

// HomeServer returns the homeserver name reported at login.
func (s *DirectSession) HomeServer() string { return s.homeServer }

// DeviceID returns the device ID for this session.
func (s *DirectSession) DeviceID() string { return s.deviceID }

// AccessToken returns a heap copy of the access token, or "" after
// Close. Use only at boundaries that need a string.
func (s *DirectSession) AccessToken() string { return s.accessToken.String() }

// Close releases the access token memory. Idempotent.
func (s *DirectSession) Close() error {
	return s.accessToken.Close()
}

// SendEvent sends a room event using the idempotent PUT form and
// returns the event ID. The caller owns transaction ID generation; an
// empty transactionID is rejected.
func (s *DirectSession) SendEvent(ctx context.Context, roomID ref.RoomID, eventType, transactionID string, content any) (string, error) {
	if transactionID == "" {
		return "", fmt.Errorf("messaging: send event to %q: transaction ID is required", roomID)
	}
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/%s/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(eventType),
		url.PathEscape(transactionID),
	)

	body, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, content)
	if err != nil {
		return "", fmt.Errorf("messaging: send event to %q failed: %w", roomID, err)
	}

	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", malformed("send response", err)
	}
	return response.EventID, nil
}

// JoinRoom joins a room by ID and returns the joined room ID.
func (s *DirectSession) JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error) {
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomID.String())
	body, err := s.client.doRequest(ctx, http.MethodPost, path, s.accessToken, struct{}{})
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: join room %s failed: %w", roomID, err)
	}

	var response struct {
		RoomID ref.RoomID `json:"room_id"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.RoomID{}, malformed("join response", err)
	}
	if response.RoomID.IsZero() {
		return roomID, nil
	}
	return response.RoomID, nil
}

// SetTyping reports the session user's typing state in a room. timeout
// is forwarded as a hint for how long the server should keep the
// indicator alive.
func (s *DirectSession) SetTyping(ctx context.Context, roomID ref.RoomID, typing bool, timeout time.Duration) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/typing/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(s.userID.String()),
	)
	request := TypingRequest{Typing: typing, Timeout: timeout.Milliseconds()}
	if _, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, request); err != nil {
		return fmt.Errorf("messaging: set typing in %q failed: %w", roomID, err)
	}
	return nil
}

// GetRoomMembers returns the members of a room.
func (s *DirectSession) GetRoomMembers(ctx context.Context, roomID ref.RoomID) ([]RoomMember, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/members", url.PathEscape(roomID.String()))
	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: get room members for %q failed: %w", roomID, err)
	}

	var response RoomMembersResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, malformed("room members response", err)
	}

	members := make([]RoomMember, 0, len(response.Chunk))
	for _, event := range response.Chunk {
		raw := event.StateKey
		if raw == "" {
			raw = event.UserID
		}
		userID, err := ref.ParseUserID(raw)
		if err != nil {
			return nil, malformed("room members response", err)
		}
		members = append(members, RoomMember{
			UserID:      userID,
			DisplayName: event.Content.DisplayName,
			Membership:  event.Content.Membership,
			AvatarURL:   event.Content.AvatarURL,
		})
	}
	return members, nil
}

// GetDisplayName fetches a user's display name from their profile.
// Returns "" (not an error) when the profile has no display name.
func (s *DirectSession) GetDisplayName(ctx context.Context, userID ref.UserID) (string, error) {
	path := "/_matrix/client/v3/profile/" + url.PathEscape(userID.String())
	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil)
	if err != nil {
		return "", fmt.Errorf("messaging: get display name for %q failed: %w", userID, err)
	}

	var response DisplayNameResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", malformed("profile response", err)
	}
	return response.DisplayName, nil
}

// GetPresence fetches a user's presence.
func (s *DirectSession) GetPresence(ctx context.Context, userID ref.UserID) (*PresenceStatus, error) {
	path := fmt.Sprintf("/_matrix/client/v3/presence/%s/status", url.PathEscape(userID.String()))
	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: get presence for %q failed: %w", userID, err)
	}

	var response PresenceStatus
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, malformed("presence response", err)
	}
	if response.Presence == "" {
		return nil, malformed("presence response", fmt.Errorf("missing presence field"))
	}
	return &response, nil
}

// GetRoomState fetches all current state events of a room.
func (s *DirectSession) GetRoomState(ctx context.Context, roomID ref.RoomID) ([]Event, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/state", url.PathEscape(roomID.String()))
	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: get room state for %q failed: %w", roomID, err)
	}

	var events []Event
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, malformed("room state response", err)
	}
	return events, nil
}

// RoomMessages fetches a page of room history.
func (s *DirectSession) RoomMessages(ctx context.Context, roomID ref.RoomID, options RoomMessagesOptions) (*RoomMessagesResponse, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/messages", url.PathEscape(roomID.String()))

	query := url.Values{}
	if options.From != "" {
		query.Set("from", options.From)
	}
	direction := options.Direction
	if direction == "" {
		direction = "b"
	}
	query.Set("dir", direction)
	if options.Limit > 0 {
		query.Set("limit", strconv.Itoa(options.Limit))
	}

	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: room messages for %q failed: %w", roomID, err)
	}

	var response RoomMessagesResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, malformed("messages response", err)
	}
	return &response, nil
}

// Sync performs a sync with the homeserver. For the initial sync leave
// options.Since empty; for long-polling set Timeout and SetTimeout.
func (s *DirectSession) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	if options.SetTimeout {
		query.Set("timeout", strconv.Itoa(options.Timeout))
	}
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}

	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/sync", s.accessToken, nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: sync failed: %w", err)
	}

	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, malformed("sync response", err)
	}
	return &response, nil
}
