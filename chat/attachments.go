// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/benedicte-foundation/benedicte/lib/netutil"
	"github.com/benedicte-foundation/benedicte/messaging"
)

// Transfer is an attachment upload or download running in the
// background. Exactly one of the request's OnComplete or OnFailure is
// called, after the last progress report, before Wait returns.
type Transfer struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func startTransfer(ctx context.Context, run func(context.Context) error) *Transfer {
	ctx, cancel := context.WithCancel(ctx)
	transfer := &Transfer{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(transfer.done)
		defer cancel()
		transfer.err = run(ctx)
	}()
	return transfer
}

// Wait blocks until the transfer finishes and returns its error.
func (t *Transfer) Wait() error {
	<-t.done
	return t.err
}

// Done is closed when the transfer finishes.
func (t *Transfer) Done() <-chan struct{} { return t.done }

// Cancel aborts the transfer. The failure callback receives the
// context error.
func (t *Transfer) Cancel() { t.cancel() }

// DownloadRequest describes an attachment download.
type DownloadRequest struct {
	// AttachmentID is the media ID (Message.AttachmentID).
	AttachmentID string

	// Server is the media's origin server. Defaults to the session's
	// homeserver.
	Server string

	// Destination is the file to write. Defaults to AttachmentID in
	// the configured download directory. An existing file is
	// replaced.
	Destination string

	OnProgress func(netutil.Progress)
	OnComplete func(DownloadResult)
	OnFailure  func(error)
}

// DownloadResult describes a completed download.
type DownloadResult struct {
	Path        string
	Size        int64
	ContentType string

	// Digest is the hex BLAKE3-256 of the content.
	Digest string
}

// UploadRequest describes an attachment upload.
type UploadRequest struct {
	// Path is the local file to upload.
	Path string

	// ContentType defaults to the type registered for the file's
	// extension, then application/octet-stream.
	ContentType string

	OnProgress func(netutil.Progress)
	OnComplete func(UploadResult)
	OnFailure  func(error)
}

// UploadResult describes a completed upload. Pass ContentURI and
// Filename to SendMessage to post the attachment.
type UploadResult struct {
	ContentURI string
	Filename   string
	Size       int64
}

// DownloadAttachment starts downloading an attachment. The file is
// written to a temporary name beside the destination and renamed into
// place only when complete.
func (m *Manager) DownloadAttachment(ctx context.Context, request DownloadRequest) (*Transfer, error) {
	active, options, err := m.session()
	if err != nil {
		return nil, err
	}
	if request.AttachmentID == "" || strings.ContainsAny(request.AttachmentID, `/\`) {
		return nil, fmt.Errorf("chat: invalid attachment ID %q", request.AttachmentID)
	}
	server := request.Server
	if server == "" {
		server = active.rest.HomeServer()
	}
	destination := request.Destination
	if destination == "" {
		destination = filepath.Join(options.DownloadDir, request.AttachmentID)
	}

	span := m.begin("DownloadAttachment", "attachment_id", request.AttachmentID)
	return startTransfer(ctx, func(ctx context.Context) error {
		result, err := download(ctx, active.rest, messaging.DownloadRequest{
			Server:   server,
			MediaID:  request.AttachmentID,
			Progress: request.OnProgress,
		}, destination)
		span.End(err)
		if err != nil {
			if request.OnFailure != nil {
				request.OnFailure(err)
			}
			return err
		}
		options.Logger.Debug("attachment downloaded",
			"attachment_id", request.AttachmentID,
			"path", result.Path,
			"size", result.Size,
		)
		if request.OnComplete != nil {
			request.OnComplete(*result)
		}
		return nil
	}), nil
}

func download(ctx context.Context, session messaging.Session, request messaging.DownloadRequest, destination string) (result *DownloadResult, err error) {
	directory := filepath.Dir(destination)
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("chat: download %s: %w", request.MediaID, err)
	}
	file, err := os.CreateTemp(directory, ".download-*")
	if err != nil {
		return nil, fmt.Errorf("chat: download %s: %w", request.MediaID, err)
	}
	defer func() {
		if err != nil {
			file.Close()
			os.Remove(file.Name())
		}
	}()

	hasher := blake3.New()
	info, err := session.DownloadMedia(ctx, request, io.MultiWriter(file, hasher))
	if err != nil {
		return nil, classify("download attachment", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("chat: download %s: %w", request.MediaID, err)
	}
	if err := os.Rename(file.Name(), destination); err != nil {
		return nil, fmt.Errorf("chat: download %s: %w", request.MediaID, err)
	}
	return &DownloadResult{
		Path:        destination,
		Size:        info.Size,
		ContentType: info.ContentType,
		Digest:      hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// UploadAttachment starts uploading a local file to the media
// repository.
func (m *Manager) UploadAttachment(ctx context.Context, request UploadRequest) (*Transfer, error) {
	active, options, err := m.session()
	if err != nil {
		return nil, err
	}
	if request.Path == "" {
		return nil, errors.New("chat: upload path is required")
	}
	contentType := request.ContentType
	if contentType == "" {
		contentType = ContentTypeForFilename(request.Path)
	}

	span := m.begin("UploadAttachment")
	return startTransfer(ctx, func(ctx context.Context) error {
		result, err := upload(ctx, active.rest, request.Path, contentType, request.OnProgress)
		span.End(err)
		if err != nil {
			if request.OnFailure != nil {
				request.OnFailure(err)
			}
			return err
		}
		options.Logger.Debug("attachment uploaded", "content_uri", result.ContentURI, "size", result.Size)
		if request.OnComplete != nil {
			request.OnComplete(*result)
		}
		return nil
	}), nil
}

func upload(ctx context.Context, session messaging.Session, path, contentType string, progress func(netutil.Progress)) (*UploadResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("chat: upload: %w", err)
	}
	defer file.Close()
	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("chat: upload: %w", err)
	}

	filename := filepath.Base(path)
	contentURI, err := session.UploadMedia(ctx, messaging.UploadRequest{
		ContentType: contentType,
		Filename:    filename,
		Body:        file,
		Size:        stat.Size(),
		Progress:    progress,
	})
	if err != nil {
		return nil, classify("upload attachment", err)
	}
	return &UploadResult{ContentURI: contentURI, Filename: filename, Size: stat.Size()}, nil
}

var registerTypes sync.Once

// ContentTypeForFilename returns the media type for a filename's
// extension, or application/octet-stream.
func ContentTypeForFilename(filename string) string {
	registerTypes.Do(func() {
		// Not every platform's mime table knows these.
		mime.AddExtensionType(".bmp", "image/bmp")
		mime.AddExtensionType(".doc", "application/msword")
		mime.AddExtensionType(".docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document")
	})
	if contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); contentType != "" {
		return contentType
	}
	return "application/octet-stream"
}
