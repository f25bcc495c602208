// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"
)

type failReader struct{}

func (failReader) Read([]byte) (int, error) { return 0, fmt.Errorf("connection reset") }

func TestReadResponse(t *testing.T) {
	t.Run("normal body", func(t *testing.T) {
		data, err := ReadResponse(bytes.NewReader([]byte(`{"status":"ok"}`)))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(data) != `{"status":"ok"}` {
			t.Fatalf("got %q, want %q", data, `{"status":"ok"}`)
		}
	})

	t.Run("read error propagates", func(t *testing.T) {
		if _, err := ReadResponse(failReader{}); err == nil {
			t.Fatal("expected error from failing reader")
		}
	})
}

func TestDecodeResponse(t *testing.T) {
	var result struct {
		UserID string `json:"user_id"`
	}
	if err := DecodeResponse(strings.NewReader(`{"user_id":"@a:b"}`), &result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.UserID != "@a:b" {
		t.Errorf("got %q, want %q", result.UserID, "@a:b")
	}

	if err := DecodeResponse(strings.NewReader(`{not json`), &result); err == nil {
		t.Error("expected error for malformed JSON")
	}
	if err := DecodeResponse(failReader{}, &result); err == nil {
		t.Error("expected error from failing reader")
	}
}

func TestErrorBodyTruncates(t *testing.T) {
	large := strings.Repeat("x", int(maxErrorBody)+100)
	if got := ErrorBody(strings.NewReader(large)); int64(len(got)) != maxErrorBody {
		t.Errorf("ErrorBody length = %d, want %d", len(got), maxErrorBody)
	}
	if got := ErrorBody(failReader{}); got != "" {
		t.Errorf("ErrorBody(failing) = %q, want empty", got)
	}
}

func TestProgressReader(t *testing.T) {
	var reports []Progress
	reader := NewProgressReader(strings.NewReader("hello world"), 11, func(progress Progress) {
		reports = append(reports, progress)
	})

	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("got %q, want %q", data, "hello world")
	}
	if len(reports) == 0 {
		t.Fatal("no progress reported")
	}
	last := reports[len(reports)-1]
	if last.Completed != 11 || last.Total != 11 {
		t.Errorf("final progress = %+v, want {11 11}", last)
	}
	if last.Fraction() != 1 {
		t.Errorf("Fraction() = %v, want 1", last.Fraction())
	}
}

func TestProgressWriter(t *testing.T) {
	var buffer bytes.Buffer
	var calls int
	writer := NewProgressWriter(&buffer, -1, func(progress Progress) {
		calls++
		if progress.Fraction() != -1 {
			t.Errorf("Fraction() with unknown total = %v, want -1", progress.Fraction())
		}
	})
	for _, chunk := range []string{"ab", "cd", "e"} {
		if _, err := writer.Write([]byte(chunk)); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 3 {
		t.Errorf("report called %d times, want 3", calls)
	}
	if writer.Written() != 5 {
		t.Errorf("Written() = %d, want 5", writer.Written())
	}

	silent := NewProgressWriter(io.Discard, 0, nil)
	if _, err := silent.Write([]byte("x")); err != nil {
		t.Fatalf("nil report func: %v", err)
	}
}
