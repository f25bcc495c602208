// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import "io"

// Progress is a snapshot of a transfer. Total is -1 when the size is
// not known in advance (no Content-Length).
type Progress struct {
	Completed int64
	Total     int64
}

// Fraction returns Completed/Total in [0, 1], or -1 when Total is
// unknown.
func (p Progress) Fraction() float64 {
	if p.Total < 0 {
		return -1
	}
	if p.Total == 0 {
		return 1
	}
	fraction := float64(p.Completed) / float64(p.Total)
	if fraction > 1 {
		return 1
	}
	return fraction
}

// ProgressFunc receives transfer progress. It is called from the
// goroutine performing the transfer.
type ProgressFunc func(Progress)

// ProgressReader wraps a reader and reports bytes consumed after every
// Read that returns data. Used for uploads, where the HTTP client
// pulls from the body.
type ProgressReader struct {
	reader   io.Reader
	progress Progress
	report   ProgressFunc
}

// NewProgressReader returns a reader that reports to report, which may
// be nil.
func NewProgressReader(reader io.Reader, total int64, report ProgressFunc) *ProgressReader {
	return &ProgressReader{
		reader:   reader,
		progress: Progress{Total: total},
		report:   report,
	}
}

func (r *ProgressReader) Read(buffer []byte) (int, error) {
	count, err := r.reader.Read(buffer)
	if count > 0 {
		r.progress.Completed += int64(count)
		if r.report != nil {
			r.report(r.progress)
		}
	}
	return count, err
}

// ProgressWriter wraps a writer and reports bytes written. Used for
// downloads, where the response body is copied into a file.
type ProgressWriter struct {
	writer   io.Writer
	progress Progress
	report   ProgressFunc
}

// NewProgressWriter returns a writer that reports to report, which may
// be nil.
func NewProgressWriter(writer io.Writer, total int64, report ProgressFunc) *ProgressWriter {
	return &ProgressWriter{
		writer:   writer,
		progress: Progress{Total: total},
		report:   report,
	}
}

func (w *ProgressWriter) Write(data []byte) (int, error) {
	count, err := w.writer.Write(data)
	if count > 0 {
		w.progress.Completed += int64(count)
		if w.report != nil {
			w.report(w.progress)
		}
	}
	return count, err
}

// Written returns the number of bytes written so far.
func (w *ProgressWriter) Written() int64 { return w.progress.Completed }
