// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Components that compute timestamps or wait between retries accept a
// Clock instead of calling the time package. Production wiring uses
// Real(); tests use Fake() and move time explicitly:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	session := stream.New(stream.Config{Clock: c, ...})
//	c.WaitForTimers(1)         // the sync loop is now backing off
//	c.Advance(5 * time.Second) // release it
package clock
