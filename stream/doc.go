// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream maintains a long-lived Matrix /sync stream for one
// authenticated user and exposes it as rooms with state, a live
// timeline, and listeners.
//
// A [Session] performs an initial sync when started and then
// long-polls in a background goroutine, resuming from the last
// next_batch token. Each sync response is folded into per-room state
// (members, name, canonical alias, creator, inviter) before any
// listener runs, so a listener observing an event can resolve the
// sender's display name from [Room.State].
//
// Within a room, events reach listeners in the order the server
// returned them: the state section, then the timeline, then ephemeral
// events. Listeners are invoked from the sync goroutine (for live
// events) or from the goroutine calling [Timeline.Paginate] (for
// history) with no stream locks held, so a listener may call back into
// the Session or Room. A cancelled [Subscription] receives nothing
// further.
//
// Sync failures are retried after a fixed delay measured on the
// injected clock. An M_UNKNOWN_TOKEN response is terminal: the loop
// stops and [Session.Err] reports it.
package stream
