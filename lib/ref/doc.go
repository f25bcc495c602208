// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated Matrix identifier types.
//
// UserID and RoomID are immutable value types parsed once at the
// boundary where raw strings enter the process (login responses,
// /sync payloads, CLI flags). Downstream code passes the typed values
// and never re-validates. Both types implement encoding.TextMarshaler
// and encoding.TextUnmarshaler so they can appear directly in JSON,
// YAML, and CBOR structures.
package ref
