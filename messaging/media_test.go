// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/benedicte-foundation/benedicte/lib/netutil"
)

func TestUploadMedia(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		content := []byte("fake png bytes")
		_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			assertAuth(t, request, "test-token")
			if request.Method != http.MethodPost || request.URL.Path != "/_matrix/media/v3/upload" {
				t.Errorf("unexpected request: %s %s", request.Method, request.URL.Path)
			}
			if got := request.URL.Query().Get("filename"); got != "photo.png" {
				t.Errorf("filename = %q, want photo.png", got)
			}
			if got := request.Header.Get("Content-Type"); got != "image/png" {
				t.Errorf("Content-Type = %q, want image/png", got)
			}
			body, _ := io.ReadAll(request.Body)
			if !bytes.Equal(body, content) {
				t.Errorf("body = %q, want %q", body, content)
			}
			writeJSON(writer, UploadResponse{ContentURI: "mxc://local/media1"})
		}))

		var reports []netutil.Progress
		uri, err := session.UploadMedia(context.Background(), UploadRequest{
			ContentType: "image/png",
			Filename:    "photo.png",
			Body:        bytes.NewReader(content),
			Size:        int64(len(content)),
			Progress:    func(progress netutil.Progress) { reports = append(reports, progress) },
		})
		if err != nil {
			t.Fatalf("UploadMedia failed: %v", err)
		}
		if uri != "mxc://local/media1" {
			t.Errorf("uri = %q, want mxc://local/media1", uri)
		}
		if len(reports) == 0 {
			t.Fatal("no progress reported")
		}
		last := reports[len(reports)-1]
		if last.Completed != int64(len(content)) || last.Total != int64(len(content)) {
			t.Errorf("final progress = %+v", last)
		}
	})

	t.Run("default content type", func(t *testing.T) {
		_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if got := request.Header.Get("Content-Type"); got != "application/octet-stream" {
				t.Errorf("Content-Type = %q", got)
			}
			if _, present := request.URL.Query()["filename"]; present {
				t.Error("filename should be omitted when empty")
			}
			writeJSON(writer, UploadResponse{ContentURI: "mxc://local/media2"})
		}))
		if _, err := session.UploadMedia(context.Background(), UploadRequest{Body: strings.NewReader("x"), Size: -1}); err != nil {
			t.Fatalf("UploadMedia failed: %v", err)
		}
	})

	t.Run("too large", func(t *testing.T) {
		_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			io.Copy(io.Discard, request.Body)
			writeError(writer, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "file too large")
		}))
		_, err := session.UploadMedia(context.Background(), UploadRequest{Body: strings.NewReader("x"), Size: 1})
		if !IsMatrixError(err, ErrCodeTooLarge) {
			t.Fatalf("expected M_TOO_LARGE, got %v", err)
		}
		if StatusCode(err) != http.StatusRequestEntityTooLarge {
			t.Errorf("StatusCode = %d, want 413", StatusCode(err))
		}
	})

	t.Run("non-mxc content URI", func(t *testing.T) {
		_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			io.Copy(io.Discard, request.Body)
			writeJSON(writer, UploadResponse{ContentURI: "https://local/media"})
		}))
		_, err := session.UploadMedia(context.Background(), UploadRequest{Body: strings.NewReader("x"), Size: 1})
		if !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("expected ErrMalformedResponse, got %v", err)
		}
	})

	t.Run("nil body", func(t *testing.T) {
		_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			t.Error("request should not be sent")
		}))
		if _, err := session.UploadMedia(context.Background(), UploadRequest{}); err == nil {
			t.Fatal("expected error for nil body")
		}
	})
}

func TestDownloadMedia(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		content := bytes.Repeat([]byte("abcdefgh"), 4096)
		_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			assertAuth(t, request, "test-token")
			if request.URL.Path != "/_matrix/media/v3/download/local/media1" {
				t.Errorf("path = %q", request.URL.Path)
			}
			writer.Header().Set("Content-Type", "application/pdf")
			writer.Header().Set("Content-Length", strconv.Itoa(len(content)))
			writer.Write(content)
		}))

		var destination bytes.Buffer
		var reports []netutil.Progress
		info, err := session.DownloadMedia(context.Background(), DownloadRequest{
			Server:   "local",
			MediaID:  "media1",
			Progress: func(progress netutil.Progress) { reports = append(reports, progress) },
		}, &destination)
		if err != nil {
			t.Fatalf("DownloadMedia failed: %v", err)
		}
		if !bytes.Equal(destination.Bytes(), content) {
			t.Errorf("downloaded %d bytes, want %d", destination.Len(), len(content))
		}
		if info.ContentType != "application/pdf" || info.Size != int64(len(content)) {
			t.Errorf("info = %+v", info)
		}
		if len(reports) == 0 {
			t.Fatal("no progress reported")
		}
		for index := 1; index < len(reports); index++ {
			if reports[index].Completed < reports[index-1].Completed {
				t.Errorf("progress went backwards: %+v then %+v", reports[index-1], reports[index])
			}
		}
		last := reports[len(reports)-1]
		if last.Fraction() != 1 {
			t.Errorf("final fraction = %v, want 1", last.Fraction())
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			writeError(writer, http.StatusNotFound, ErrCodeNotFound, "not found")
		}))
		var destination bytes.Buffer
		_, err := session.DownloadMedia(context.Background(), DownloadRequest{Server: "local", MediaID: "gone"}, &destination)
		if !IsMatrixError(err, ErrCodeNotFound) {
			t.Fatalf("expected M_NOT_FOUND, got %v", err)
		}
		if destination.Len() != 0 {
			t.Errorf("destination has %d bytes after failure", destination.Len())
		}
	})

	t.Run("missing media ID", func(t *testing.T) {
		_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			t.Error("request should not be sent")
		}))
		if _, err := session.DownloadMedia(context.Background(), DownloadRequest{Server: "local"}, io.Discard); err == nil {
			t.Fatal("expected error for missing media ID")
		}
	})
}

func TestParseContentURI(t *testing.T) {
	server, mediaID, err := ParseContentURI("mxc://example.org/abc123")
	if err != nil {
		t.Fatalf("ParseContentURI failed: %v", err)
	}
	if server != "example.org" || mediaID != "abc123" {
		t.Errorf("got (%q, %q), want (example.org, abc123)", server, mediaID)
	}

	for _, invalid := range []string{"", "https://example.org/abc", "mxc://", "mxc://example.org", "mxc://example.org/", "mxc:///abc", "mxc://example.org/a/b"} {
		if _, _, err := ParseContentURI(invalid); err == nil {
			t.Errorf("ParseContentURI(%q) should fail", invalid)
		}
	}
}
