// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"sync/atomic"

	"github.com/benedicte-foundation/benedicte/lib/ref"
	"github.com/benedicte-foundation/benedicte/lib/secret"
)

// Credentials identify an authenticated session.
type Credentials struct {
	UserID     ref.UserID
	HomeServer string
	DeviceID   string

	accessToken *secret.Buffer
}

// NewCredentials builds Credentials. The store that receives them
// takes ownership of accessToken and closes it when the credentials
// are replaced or cleared.
func NewCredentials(userID ref.UserID, homeServer, deviceID string, accessToken *secret.Buffer) Credentials {
	return Credentials{
		UserID:      userID,
		HomeServer:  homeServer,
		DeviceID:    deviceID,
		accessToken: accessToken,
	}
}

// AccessToken returns the access token, or "" once the credentials
// have been cleared from their store.
func (c Credentials) AccessToken() string { return c.accessToken.String() }

// CredentialStore holds the single active session's credentials. The
// record is swapped as one pointer, so a reader sees either the whole
// previous record or the whole new one, never a mix. Safe for
// concurrent use.
type CredentialStore struct {
	current atomic.Pointer[Credentials]
}

// Set replaces the stored credentials, releasing the previous token.
func (s *CredentialStore) Set(credentials Credentials) {
	previous := s.current.Swap(&credentials)
	if previous != nil && previous.accessToken != credentials.accessToken {
		previous.accessToken.Close()
	}
}

// Current returns the stored credentials and whether there are any.
func (s *CredentialStore) Current() (Credentials, bool) {
	credentials := s.current.Load()
	if credentials == nil {
		return Credentials{}, false
	}
	return *credentials, true
}

// Clear removes the stored credentials and zeroes the token. Safe to
// call when nothing is stored.
func (s *CredentialStore) Clear() {
	if previous := s.current.Swap(nil); previous != nil {
		previous.accessToken.Close()
	}
}
