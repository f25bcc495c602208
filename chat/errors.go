// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"errors"
	"fmt"

	"github.com/benedicte-foundation/benedicte/messaging"
)

var (
	// ErrNotConfigured is returned by network operations before
	// Configure.
	ErrNotConfigured = errors.New("chat: manager is not configured")

	// ErrNotAuthenticated is returned by operations that need an
	// active session when there is none.
	ErrNotAuthenticated = errors.New("chat: no active session")

	// ErrInvalidMessage is returned by SendMessage unless exactly one
	// of text or attachment is supplied.
	ErrInvalidMessage = errors.New("chat: message needs either text or an attachment (content URL and filename), not both")
)

// AuthenticationError reports a failed login or token exchange.
type AuthenticationError struct {
	// Method is "password" or "token".
	Method string
	Err    error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("chat: %s authentication failed: %v", e.Method, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// NetworkError reports a transport failure or non-2xx response.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("chat: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// DecodeError reports a response body that did not have the expected
// shape.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("chat: %s: unexpected response: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// classify wraps a messaging error as a DecodeError when the response
// was malformed and as a NetworkError otherwise.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, messaging.ErrMalformedResponse) {
		return &DecodeError{Op: op, Err: err}
	}
	return &NetworkError{Op: op, Err: err}
}
