// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

// Package chat is the session and event-routing layer applications
// build on. A [Manager] authenticates against a Matrix homeserver,
// holds one logical session, lists and joins rooms, and turns the raw
// sync stream into two kinds of notification: [Message] and
// [TypingChange].
//
// The Manager is an explicitly constructed value, not a process-wide
// singleton. Its lifecycle is:
//
//	Unconfigured -> Configuring -> Authenticating -> Active -> Stopped
//
// [Manager.Configure] must be called before any network operation.
// A login moves the Manager through Authenticating to Active; a failed
// login leaves no partial session behind. [Manager.StopSession] closes
// the sync stream, clears the stored credentials, and discards every
// room listener.
//
// Inbound events flow from the stream package through the
// [Normalizer] to the callback given to [Manager.StartMessageListener].
// Each room has at most one message listener; starting a second one
// replaces the first, and callbacks belonging to a replaced or stopped
// listener are discarded.
//
// Outbound writes (text and attachment messages, joins) carry a fresh
// transaction ID from [NewTransactionID], so the homeserver can tell
// retries of one call apart from distinct calls.
//
// Operations that need a session return [ErrNotAuthenticated] when
// none is active, except [Manager.SendTypingState], which is a silent
// no-op in that case.
package chat
