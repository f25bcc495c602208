// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides bounded HTTP body reads and progress
// reporting for transfers.
//
// ReadResponse, DecodeResponse, and ErrorBody cap reads at
// MaxResponseSize so a misbehaving homeserver cannot exhaust memory.
// They are for JSON API responses. Media downloads stream through
// ProgressWriter instead.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
)

// MaxResponseSize bounds JSON API response reads: 64 MB. An initial
// /sync against a large account is the biggest legitimate response
// and stays well below this.
const MaxResponseSize int64 = 64 << 20

// maxErrorBody bounds the portion of an error response kept for
// diagnostics.
const maxErrorBody int64 = 64 << 10

// ReadResponse reads a JSON API response body up to MaxResponseSize.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a bounded response body and JSON-decodes it
// into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := ReadResponse(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an error response body for use in diagnostics. Read
// errors are ignored: a partial body is still useful in a message.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	return string(data)
}
