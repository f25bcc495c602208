// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package instrument

import "time"

// Outcome values for Call.Outcome.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Call is one completed SDK operation (login, start session, send).
type Call struct {
	Name       string            `cbor:"name"`
	Start      time.Time         `cbor:"start"`
	DurationNS int64             `cbor:"duration_ns"`
	Outcome    string            `cbor:"outcome"`
	Error      string            `cbor:"error,omitempty"`
	Attributes map[string]string `cbor:"attributes,omitempty"`
}

// Request is one completed HTTP exchange with the homeserver or the
// identity provider. Path excludes the query string, which may carry
// tokens.
type Request struct {
	Method     string    `cbor:"method"`
	Host       string    `cbor:"host"`
	Path       string    `cbor:"path"`
	StatusCode int       `cbor:"status_code"`
	Start      time.Time `cbor:"start"`
	DurationNS int64     `cbor:"duration_ns"`
	Error      string    `cbor:"error,omitempty"`
}

// Batch is the unit handed to a Sink.
type Batch struct {
	Key            string    `cbor:"key,omitempty"`
	SequenceNumber uint64    `cbor:"sequence_number"`
	Calls          []Call    `cbor:"calls,omitempty"`
	Requests       []Request `cbor:"requests,omitempty"`
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int { return len(b.Calls) + len(b.Requests) }
