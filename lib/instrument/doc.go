// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

// Package instrument records call spans and HTTP request summaries
// for the analytics collaborator.
//
// A Recorder accumulates records in memory and hands them to a Sink as
// a Batch once the configured threshold is reached (or on Flush and
// Close). Every batch carries the configured analytics key verbatim
// and a per-Recorder sequence number. The key has no other effect.
//
// SpoolSink appends batches to a file as framed, optionally compressed
// CBOR. ReadSpool decodes such a file back into batches for upload or
// inspection.
//
// A nil *Recorder is valid and records nothing, so components can take
// an optional Recorder without nil checks at every call site.
package instrument
