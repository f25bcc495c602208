// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"testing"
	"time"

	"github.com/benedicte-foundation/benedicte/lib/clock"
	"github.com/benedicte-foundation/benedicte/lib/ref"
	"github.com/benedicte-foundation/benedicte/messaging"
	"github.com/benedicte-foundation/benedicte/stream"
)

var (
	selfID  = ref.MustParseUserID("@me:local")
	aliceID = ref.MustParseUserID("@alice:local")
	bobID   = ref.MustParseUserID("@bob:local")
)

// names is a MemberNames backed by a map.
type names map[ref.UserID]string

func (n names) MemberName(userID ref.UserID) string {
	if name, ok := n[userID]; ok {
		return name
	}
	return userID.String()
}

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testNormalizer() Normalizer {
	return Normalizer{Self: selfID, Clock: clock.Fake(testEpoch)}
}

func messageEvent(sender ref.UserID, content map[string]any, age int64) messaging.Event {
	event := messaging.Event{
		EventID: "$event",
		Type:    messaging.EventTypeMessage,
		Sender:  sender,
		RoomID:  ref.MustParseRoomID("!room:local"),
		Content: content,
	}
	if age > 0 {
		event.Unsigned = &messaging.EventUnsigned{Age: age}
	}
	return event
}

func typingEvent(userIDs ...string) messaging.Event {
	raw := make([]any, len(userIDs))
	for index, userID := range userIDs {
		raw[index] = userID
	}
	return messaging.Event{Type: messaging.EventTypeTyping, Content: map[string]any{"user_ids": raw}}
}

func TestNormalizeMessage(t *testing.T) {
	normalizer := testNormalizer()
	event := messageEvent(aliceID, map[string]any{"msgtype": "m.text", "body": "hello"}, 90_000)

	result := normalizer.Normalize(event, stream.Forward, names{aliceID: "Alice"})
	message, ok := result.(*Message)
	if !ok {
		t.Fatalf("Normalize returned %T, want *Message", result)
	}
	if message.Body != "hello" || message.SenderID != aliceID || message.SenderDisplayName != "Alice" {
		t.Errorf("message = %+v", message)
	}
	if want := testEpoch.Add(-90 * time.Second); !message.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", message.Timestamp, want)
	}
	if message.IsHistorical {
		t.Error("forward event marked historical")
	}
	if message.HasAttachment() {
		t.Error("text message reports an attachment")
	}

	historical := normalizer.Normalize(event, stream.Backward, names{}).(*Message)
	if !historical.IsHistorical {
		t.Error("backward event not marked historical")
	}
	if historical.SenderDisplayName != aliceID.String() {
		t.Errorf("unknown sender name = %q, want the user ID", historical.SenderDisplayName)
	}
}

func TestNormalizeEmptyBodyDropped(t *testing.T) {
	normalizer := testNormalizer()
	for _, content := range []map[string]any{
		{"msgtype": "m.text", "body": ""},
		{"msgtype": "m.text"},
		{"msgtype": "m.text", "body": 42},
		nil,
	} {
		if result := normalizer.Normalize(messageEvent(aliceID, content, 0), stream.Forward, names{}); result != nil {
			t.Errorf("content %v produced %#v, want nothing", content, result)
		}
	}
}

func TestNormalizeAttachment(t *testing.T) {
	normalizer := testNormalizer()

	image := normalizer.Normalize(messageEvent(aliceID, map[string]any{
		"msgtype": "m.image",
		"body":    "photo.png",
		"url":     "mxc://local/AbCdEf",
		"info":    map[string]any{"thumbnail_url": "mxc://local/thumb"},
	}, 0), stream.Forward, names{}).(*Message)
	if image.AttachmentID != "AbCdEf" || image.AttachmentURL != "mxc://local/AbCdEf" {
		t.Errorf("attachment = (%q, %q)", image.AttachmentID, image.AttachmentURL)
	}
	if image.ThumbnailURL != "mxc://local/thumb" {
		t.Errorf("ThumbnailURL = %q", image.ThumbnailURL)
	}

	file := normalizer.Normalize(messageEvent(aliceID, map[string]any{
		"msgtype": "m.file",
		"body":    "report.pdf",
		"url":     "mxc://local/report",
		"info":    map[string]any{"thumbnail_url": "mxc://local/thumb"},
	}, 0), stream.Forward, names{}).(*Message)
	if file.AttachmentID != "report" {
		t.Errorf("AttachmentID = %q, want report", file.AttachmentID)
	}
	if file.ThumbnailURL != "" {
		t.Errorf("non-image ThumbnailURL = %q, want empty", file.ThumbnailURL)
	}
}

func TestNormalizeTyping(t *testing.T) {
	normalizer := testNormalizer()
	memberNames := names{aliceID: "Alice", bobID: "Bob"}

	t.Run("nobody typing", func(t *testing.T) {
		change, ok := normalizer.Normalize(typingEvent(), stream.Forward, memberNames).(*TypingChange)
		if !ok {
			t.Fatal("empty typist set produced no TypingChange")
		}
		if change.State != TypingStopped || !change.SenderID.IsZero() || change.SenderDisplayName != "" || len(change.Typists) != 0 {
			t.Errorf("change = %+v, want Stopped with no sender", change)
		}
	})

	t.Run("only self typing", func(t *testing.T) {
		if result := normalizer.Normalize(typingEvent(selfID.String()), stream.Forward, memberNames); result != nil {
			t.Errorf("self typing produced %#v, want nothing", result)
		}
	})

	t.Run("other user typing", func(t *testing.T) {
		change := normalizer.Normalize(typingEvent(aliceID.String()), stream.Forward, memberNames).(*TypingChange)
		if change.State != TypingStarted || change.SenderID != aliceID || change.SenderDisplayName != "Alice" {
			t.Errorf("change = %+v", change)
		}
	})

	t.Run("several typists", func(t *testing.T) {
		change := normalizer.Normalize(typingEvent(selfID.String(), bobID.String(), aliceID.String()), stream.Forward, memberNames).(*TypingChange)
		if change.SenderID != bobID || change.SenderDisplayName != "Bob" {
			t.Errorf("sender = %s (%q), want the first other typist", change.SenderID, change.SenderDisplayName)
		}
		if len(change.Typists) != 2 || change.Typists[0] != bobID || change.Typists[1] != aliceID {
			t.Errorf("Typists = %v, want [bob alice]", change.Typists)
		}
	})
}

func TestNormalizeIgnoresOtherTypes(t *testing.T) {
	normalizer := testNormalizer()
	for _, eventType := range []string{messaging.EventTypeMember, messaging.EventTypeName, "m.reaction", "m.receipt"} {
		event := messaging.Event{Type: eventType, Sender: aliceID, Content: map[string]any{"body": "x"}}
		if result := normalizer.Normalize(event, stream.Forward, names{}); result != nil {
			t.Errorf("%s produced %#v", eventType, result)
		}
	}
}
