// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benedicte-foundation/benedicte/messaging"
)

// Direction is the direction events travel relative to the timeline.
type Direction int

const (
	// Forward events are new: they arrive from the live sync stream.
	Forward Direction = iota

	// Backward events are history, returned newest-first by
	// pagination.
	Backward
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ErrUnsupportedDirection is returned for forward pagination. Live
// events already arrive through the sync stream.
var ErrUnsupportedDirection = errors.New("stream: only backward pagination is supported")

// Timeline is a room's event timeline with a backward pagination
// cursor.
type Timeline struct {
	room *Room

	// paginateMu serializes Paginate calls for the room.
	paginateMu sync.Mutex

	mu        sync.Mutex
	livePrev  string
	from      string
	started   bool
	exhausted bool
}

// noteLive records the prev_batch token of a live timeline section.
// Called with the room lock held.
func (t *Timeline) noteLive(section messaging.TimelineSection) {
	if section.PrevBatch == "" {
		return
	}
	t.mu.Lock()
	t.livePrev = section.PrevBatch
	t.mu.Unlock()
}

// ResetPagination moves the backward cursor to the live edge: the
// next Paginate returns the room's most recent events.
func (t *Timeline) ResetPagination() {
	liveEdge := t.room.session.syncToken()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.from = liveEdge
	if t.from == "" {
		t.from = t.livePrev
	}
	t.started = true
	t.exhausted = false
}

// CanPaginate reports whether more events may be available in the
// given direction.
func (t *Timeline) CanPaginate(direction Direction) bool {
	if direction != Backward {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.exhausted
}

// Paginate fetches up to count events in the given direction and
// delivers them to the room's listeners tagged Backward, newest
// first. It returns once delivery is complete. When the server reports
// no further history, CanPaginate(Backward) becomes false and later
// calls return nil without a request.
func (t *Timeline) Paginate(ctx context.Context, count int, direction Direction) error {
	if direction != Backward {
		return ErrUnsupportedDirection
	}
	if count <= 0 {
		return fmt.Errorf("stream: pagination count must be positive, got %d", count)
	}

	t.paginateMu.Lock()
	defer t.paginateMu.Unlock()

	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		t.ResetPagination()
		t.mu.Lock()
	}
	if t.exhausted {
		t.mu.Unlock()
		return nil
	}
	from := t.from
	t.mu.Unlock()

	room := t.room
	response, err := room.session.transport.RoomMessages(ctx, room.id, messaging.RoomMessagesOptions{
		From:      from,
		Direction: "b",
		Limit:     count,
	})
	if err != nil {
		return fmt.Errorf("stream: paginating %s: %w", room.id, err)
	}

	room.applyHistoricalState(response.State)

	t.mu.Lock()
	if response.End == "" || len(response.Chunk) == 0 {
		t.exhausted = true
	} else {
		t.from = response.End
	}
	t.mu.Unlock()

	room.session.logger.Debug("paginated room history",
		"room_id", room.id,
		"events", len(response.Chunk),
		"exhausted", response.End == "" || len(response.Chunk) == 0,
	)

	for _, event := range response.Chunk {
		room.deliver(room.withRoom(event), Backward)
	}
	return nil
}
