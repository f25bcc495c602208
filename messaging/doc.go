// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the Matrix client-server API used by the
// chat session layer.
//
// [Client] is unauthenticated. It performs password login and builds
// sessions from existing tokens. [ExchangeToken] trades an external
// identity-provider token for Matrix credentials against a separate
// auth server.
//
// [DirectSession] wraps a Client with an access token held in a
// secret.Buffer. It covers sending events with transaction IDs,
// joining rooms, typing notifications, membership, profile and
// presence lookups, /sync long-polling, backward history via
// /messages, and media upload and download with progress reporting.
//
// Non-2xx responses are returned as [*MatrixError] with the Matrix
// error code and HTTP status. Responses that do not decode into the
// expected shape wrap [ErrMalformedResponse]. Everything else is a
// transport failure. Request URLs are built by concatenating
// url.PathEscape'd segments, never through url.URL, so room IDs and
// user IDs containing reserved characters are encoded exactly once.
package messaging
