// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/benedicte-foundation/benedicte/lib/netutil"
)

// UploadRequest describes a media upload.
type UploadRequest struct {
	// ContentType is sent as the Content-Type header. Defaults to
	// application/octet-stream.
	ContentType string
	// Filename is passed to the server as the filename query
	// parameter. Optional.
	Filename string
	// Body supplies the content.
	Body io.Reader
	// Size is the content length in bytes, or -1 if unknown.
	Size int64
	// Progress receives upload progress. Optional.
	Progress netutil.ProgressFunc
}

// DownloadRequest identifies media on a homeserver.
type DownloadRequest struct {
	// Server is the server name from the mxc:// URI.
	Server string
	// MediaID is the media ID from the mxc:// URI.
	MediaID string
	// Progress receives download progress. Optional.
	Progress netutil.ProgressFunc
}

// DownloadInfo describes a completed download.
type DownloadInfo struct {
	ContentType string
	Size        int64
}

// UploadMedia uploads content to the homeserver's media repository
// and returns the content URI (e.g., "mxc://example.org/abc123").
func (s *DirectSession) UploadMedia(ctx context.Context, request UploadRequest) (string, error) {
	if request.Body == nil {
		return "", fmt.Errorf("messaging: upload body is required")
	}
	contentType := request.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	var query url.Values
	if request.Filename != "" {
		query = url.Values{"filename": {request.Filename}}
	}
	size := request.Size
	if size < 0 {
		size = -1
	}

	body := netutil.NewProgressReader(request.Body, size, request.Progress)
	response, err := s.client.send(ctx, http.MethodPost, "/_matrix/media/v3/upload",
		s.accessToken, contentType, body, size, query)
	if err != nil {
		return "", fmt.Errorf("messaging: media upload failed: %w", err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return "", fmt.Errorf("messaging: media upload failed: reading response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", fmt.Errorf("messaging: media upload failed: %w",
			errorFromResponse(http.MethodPost, "/_matrix/media/v3/upload", response.StatusCode, responseBody))
	}

	var uploadResponse UploadResponse
	if err := json.Unmarshal(responseBody, &uploadResponse); err != nil {
		return "", malformed("upload response", err)
	}
	if !strings.HasPrefix(uploadResponse.ContentURI, "mxc://") {
		return "", malformed("upload response", fmt.Errorf("content_uri %q is not an mxc URI", uploadResponse.ContentURI))
	}
	return uploadResponse.ContentURI, nil
}

// DownloadMedia streams media into destination, reporting progress as
// bytes arrive. The response body is not size-capped: media is
// written incrementally, never buffered whole.
func (s *DirectSession) DownloadMedia(ctx context.Context, request DownloadRequest, destination io.Writer) (*DownloadInfo, error) {
	if request.Server == "" || request.MediaID == "" {
		return nil, fmt.Errorf("messaging: download requires server and media ID")
	}
	path := "/_matrix/media/v3/download/" + url.PathEscape(request.Server) + "/" + url.PathEscape(request.MediaID)

	response, err := s.client.send(ctx, http.MethodGet, path, s.accessToken, "", nil, -1)
	if err != nil {
		return nil, fmt.Errorf("messaging: media download failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, fmt.Errorf("messaging: media download failed: %w",
			errorFromResponse(http.MethodGet, path, response.StatusCode, []byte(netutil.ErrorBody(response.Body))))
	}

	writer := netutil.NewProgressWriter(destination, response.ContentLength, request.Progress)
	if _, err := io.Copy(writer, response.Body); err != nil {
		return nil, fmt.Errorf("messaging: media download of %s/%s interrupted: %w", request.Server, request.MediaID, err)
	}
	return &DownloadInfo{
		ContentType: response.Header.Get("Content-Type"),
		Size:        writer.Written(),
	}, nil
}

// ParseContentURI splits an mxc://server/mediaID URI.
func ParseContentURI(uri string) (server, mediaID string, err error) {
	rest, found := strings.CutPrefix(uri, "mxc://")
	if !found {
		return "", "", fmt.Errorf("messaging: %q is not an mxc URI", uri)
	}
	server, mediaID, found = strings.Cut(rest, "/")
	if !found || server == "" || mediaID == "" || strings.Contains(mediaID, "/") {
		return "", "", fmt.Errorf("messaging: malformed mxc URI %q", uri)
	}
	return server, mediaID, nil
}
