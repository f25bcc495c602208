// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the CBOR configuration for locally produced binary
// records (instrumentation batches). Encoding is Core Deterministic
// (RFC 8949 §4.2), so identical values give identical bytes, and types
// with MarshalText (ref.UserID, ref.RoomID) encode as text strings.
package codec
