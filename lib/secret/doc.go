// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds access tokens and passwords in memory that is
// allocated outside the Go heap via mmap, locked against swap with
// mlock, and excluded from core dumps with madvise(MADV_DONTDUMP).
// Close zeroes and releases the region.
//
// A closed Buffer reads as empty rather than panicking: session
// teardown closes the token while in-flight requests may still hold
// the Buffer, and those requests must fail cleanly instead of
// crashing the process.
package secret
