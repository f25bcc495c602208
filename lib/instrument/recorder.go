// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package instrument

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/benedicte-foundation/benedicte/lib/clock"
)

// Sink receives flushed batches. WriteBatch is called with the
// Recorder's flush lock held, so batches arrive in sequence order.
type Sink interface {
	WriteBatch(*Batch) error
	Close() error
}

// Config configures a Recorder.
type Config struct {
	// Key is the analytics key stamped on every batch.
	Key string

	// Sink receives batches. Required.
	Sink Sink

	// FlushThreshold is the record count that triggers a flush. Zero
	// or negative means flush only on Flush and Close.
	FlushThreshold int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Recorder accumulates calls and requests. Safe for concurrent use.
type Recorder struct {
	key            string
	sink           Sink
	flushThreshold int
	clock          clock.Clock
	logger         *slog.Logger

	mu             sync.Mutex
	calls          []Call
	requests       []Request
	sequenceNumber uint64
	closed         bool

	// flushMu serializes sink writes so sequence numbers reach the
	// sink in order.
	flushMu sync.Mutex
}

// NewRecorder creates a Recorder writing to config.Sink.
func NewRecorder(config Config) (*Recorder, error) {
	if config.Sink == nil {
		return nil, errors.New("instrument: sink is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Recorder{
		key:            config.Key,
		sink:           config.Sink,
		flushThreshold: config.FlushThreshold,
		clock:          config.Clock,
		logger:         config.Logger,
	}, nil
}

// Span is an in-progress Call. End it exactly once.
type Span struct {
	recorder *Recorder
	call     Call
	once     sync.Once
}

// Begin starts a span. attributes are key/value pairs; a trailing odd
// key is dropped.
func (r *Recorder) Begin(name string, attributes ...string) *Span {
	if r == nil {
		return nil
	}
	span := &Span{
		recorder: r,
		call:     Call{Name: name, Start: r.clock.Now()},
	}
	if len(attributes) >= 2 {
		span.call.Attributes = make(map[string]string, len(attributes)/2)
		for index := 0; index+1 < len(attributes); index += 2 {
			span.call.Attributes[attributes[index]] = attributes[index+1]
		}
	}
	return span
}

// End completes the span with the outcome implied by err.
func (s *Span) End(err error) {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.call.DurationNS = s.recorder.clock.Now().Sub(s.call.Start).Nanoseconds()
		s.call.Outcome = OutcomeOK
		if err != nil {
			s.call.Outcome = OutcomeError
			s.call.Error = err.Error()
		}
		s.recorder.add(func() { s.recorder.calls = append(s.recorder.calls, s.call) })
	})
}

// RecordRequest adds a completed HTTP exchange.
func (r *Recorder) RecordRequest(request Request) {
	if r == nil {
		return
	}
	r.add(func() { r.requests = append(r.requests, request) })
}

func (r *Recorder) add(appendRecord func()) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	appendRecord()
	full := r.flushThreshold > 0 && len(r.calls)+len(r.requests) >= r.flushThreshold
	r.mu.Unlock()

	if full {
		if err := r.Flush(); err != nil {
			r.logger.Warn("instrumentation flush failed", "error", err)
		}
	}
}

// drain takes the accumulated records as a batch, or nil when empty.
func (r *Recorder) drain() *Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 && len(r.requests) == 0 {
		return nil
	}
	batch := &Batch{
		Key:            r.key,
		SequenceNumber: r.sequenceNumber,
		Calls:          r.calls,
		Requests:       r.requests,
	}
	r.calls = nil
	r.requests = nil
	r.sequenceNumber++
	return batch
}

// Flush writes accumulated records to the sink. A no-op when nothing
// is pending.
func (r *Recorder) Flush() error {
	if r == nil {
		return nil
	}
	r.flushMu.Lock()
	defer r.flushMu.Unlock()
	batch := r.drain()
	if batch == nil {
		return nil
	}
	return r.sink.WriteBatch(batch)
}

// Close flushes pending records and closes the sink. Records added
// after Close are dropped. Idempotent.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	alreadyClosed := r.closed
	r.closed = true
	r.mu.Unlock()
	if alreadyClosed {
		return nil
	}
	return errors.Join(r.Flush(), r.sink.Close())
}
