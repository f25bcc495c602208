// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/benedicte-foundation/benedicte/lib/clock"
	"github.com/benedicte-foundation/benedicte/lib/instrument"
)

// DefaultPageSize is the history page size when Options.PageSize is
// zero.
const DefaultPageSize = 20

// DefaultTokenExchangeHeaders are sent with every token exchange
// unless Options.TokenExchangeHeaders is set.
var DefaultTokenExchangeHeaders = map[string]string{"typeAuth": "/individu"}

// Options configures a Manager. The zero value is usable: every field
// has a default.
type Options struct {
	// PageSize is the number of events loaded per history page.
	PageSize int

	// AnalyticsKey is stamped on every instrumentation batch. It has
	// no other effect.
	AnalyticsKey string

	// AnalyticsSink receives instrumentation batches. When nil,
	// nothing is recorded.
	AnalyticsSink instrument.Sink

	// AnalyticsFlushThreshold is the number of records buffered before
	// a batch is written. Zero flushes only on Close.
	AnalyticsFlushThreshold int

	// HTTPClient is used for every homeserver and token-exchange
	// request. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	Logger *slog.Logger
	Clock  clock.Clock

	// HomeserverURL maps a homeserver name (a login server host or the
	// home_server of a session) to its base URL. Defaults to
	// "https://" + name.
	HomeserverURL func(serverName string) string

	// TokenExchangeHeaders are added to the token exchange request.
	// Defaults to DefaultTokenExchangeHeaders.
	TokenExchangeHeaders map[string]string

	// DownloadDir is where attachments are saved when a download
	// request names no destination. Defaults to ~/Downloads.
	DownloadDir string

	// OpenProtocol opens the event stream for a session. Defaults to
	// OpenStream.
	OpenProtocol ProtocolFactory
}

func (o Options) withDefaults() (Options, error) {
	if o.PageSize < 0 {
		return o, fmt.Errorf("chat: page size must not be negative, got %d", o.PageSize)
	}
	if o.PageSize == 0 {
		o.PageSize = DefaultPageSize
	}
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.HomeserverURL == nil {
		o.HomeserverURL = func(serverName string) string { return "https://" + serverName }
	}
	if o.TokenExchangeHeaders == nil {
		o.TokenExchangeHeaders = DefaultTokenExchangeHeaders
	}
	if o.DownloadDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			o.DownloadDir = filepath.Join(home, "Downloads")
		} else {
			o.DownloadDir = os.TempDir()
		}
	}
	if o.OpenProtocol == nil {
		o.OpenProtocol = OpenStream
	}
	return o, nil
}
