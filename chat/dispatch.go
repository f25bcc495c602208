// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/benedicte-foundation/benedicte/lib/ref"
	"github.com/benedicte-foundation/benedicte/messaging"
)

// OutgoingMessage is the argument to SendMessage. Set Text for a text
// message, or ContentURL and Filename for an attachment that has
// already been uploaded.
type OutgoingMessage struct {
	Text string

	// ContentURL is the mxc:// URI returned by the upload.
	ContentURL string

	// Filename is the attachment's display name. Its extension
	// selects the message type.
	Filename string
}

func (m OutgoingMessage) validate() error {
	hasText := m.Text != ""
	hasAttachment := m.ContentURL != "" || m.Filename != ""
	switch {
	case hasText && !hasAttachment:
		return nil
	case !hasText && m.ContentURL != "" && m.Filename != "":
		return nil
	default:
		return ErrInvalidMessage
	}
}

// attachmentTypes maps lowercase file extensions to message types.
// Unlisted extensions are sent as m.file.
var attachmentTypes = map[string]string{
	"png":  messaging.MsgTypeImage,
	"jpeg": messaging.MsgTypeImage,
	"jpg":  messaging.MsgTypeImage,
	"bmp":  messaging.MsgTypeImage,
	"pdf":  messaging.MsgTypeFile,
	"doc":  messaging.MsgTypeText,
	"docx": messaging.MsgTypeText,
	"txt":  messaging.MsgTypeText,
}

// ClassifyAttachment returns the message type for a filename by its
// extension, case-insensitively.
func ClassifyAttachment(filename string) string {
	extension := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if msgType, ok := attachmentTypes[extension]; ok {
		return msgType
	}
	return messaging.MsgTypeFile
}

// dispatcher builds outbound requests and sends them through the
// messaging session. Every write gets a fresh transaction ID.
type dispatcher struct {
	session messaging.Session
	logger  *slog.Logger
	newID   func() string
}

func newDispatcher(session messaging.Session, logger *slog.Logger) *dispatcher {
	return &dispatcher{session: session, logger: logger, newID: NewTransactionID}
}

func (d *dispatcher) send(ctx context.Context, roomID ref.RoomID, message OutgoingMessage) (string, error) {
	if err := message.validate(); err != nil {
		return "", err
	}

	content := messaging.NewTextMessage(message.Text)
	if message.Text == "" {
		content = messaging.MessageContent{
			MsgType: ClassifyAttachment(message.Filename),
			Body:    message.Filename,
			URL:     message.ContentURL,
		}
	}

	transactionID := d.newID()
	eventID, err := d.session.SendEvent(ctx, roomID, messaging.EventTypeMessage, transactionID, content)
	if err != nil {
		return "", classify("send message", err)
	}
	d.logger.Debug("message sent",
		"room_id", roomID,
		"event_id", eventID,
		"transaction_id", transactionID,
		"msgtype", content.MsgType,
	)
	return eventID, nil
}

// join joins a room. The join endpoint takes no transaction ID; the
// generated one correlates the request in logs.
func (d *dispatcher) join(ctx context.Context, roomID ref.RoomID) error {
	transactionID := d.newID()
	d.logger.Debug("joining room", "room_id", roomID, "transaction_id", transactionID)
	if _, err := d.session.JoinRoom(ctx, roomID); err != nil {
		return classify("join room", err)
	}
	d.logger.Info("joined room", "room_id", roomID, "transaction_id", transactionID)
	return nil
}

func (d *dispatcher) typing(ctx context.Context, roomID ref.RoomID, typing bool, timeout time.Duration) error {
	if err := d.session.SetTyping(ctx, roomID, typing, timeout); err != nil {
		return classify("set typing", err)
	}
	return nil
}
