// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package instrument

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/benedicte-foundation/benedicte/lib/codec"
)

// maxFrameSize bounds a single decoded frame.
const maxFrameSize = 16 << 20

// Frame layout: compression tag (1 byte), uvarint raw length, uvarint
// payload length, payload. The payload decompresses to one CBOR Batch.

// SpoolSink appends batches to a writer as frames.
type SpoolSink struct {
	mu          sync.Mutex
	writer      io.Writer
	closer      io.Closer
	compression Compression
}

// NewSpoolSink writes frames to writer. If writer is an io.Closer it
// is closed by Close.
func NewSpoolSink(writer io.Writer, compression Compression) *SpoolSink {
	sink := &SpoolSink{writer: writer, compression: compression}
	if closer, ok := writer.(io.Closer); ok {
		sink.closer = closer
	}
	return sink
}

// OpenSpoolFile opens path for appending, creating it if needed.
func OpenSpoolFile(path string, compression Compression) (*SpoolSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("instrument: opening spool: %w", err)
	}
	return NewSpoolSink(file, compression), nil
}

// WriteBatch encodes and appends one frame.
func (s *SpoolSink) WriteBatch(batch *Batch) error {
	raw, err := codec.Marshal(batch)
	if err != nil {
		return fmt.Errorf("instrument: encoding batch: %w", err)
	}

	tag := s.compression
	payload, err := compress(raw, tag)
	if errors.Is(err, errIncompressible) {
		tag, payload = CompressionNone, raw
	} else if err != nil {
		return fmt.Errorf("instrument: %w", err)
	}

	header := make([]byte, 1, 1+2*binary.MaxVarintLen64)
	header[0] = byte(tag)
	header = binary.AppendUvarint(header, uint64(len(raw)))
	header = binary.AppendUvarint(header, uint64(len(payload)))

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.writer.Write(append(header, payload...)); err != nil {
		return fmt.Errorf("instrument: writing frame: %w", err)
	}
	return nil
}

// Close closes the underlying writer when it is closable.
func (s *SpoolSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closer == nil {
		return nil
	}
	closer := s.closer
	s.closer = nil
	return closer.Close()
}

// ReadSpool decodes every frame in reader.
func ReadSpool(reader io.Reader) ([]Batch, error) {
	buffered := bufio.NewReader(reader)
	var batches []Batch
	for {
		tagByte, err := buffered.ReadByte()
		if err == io.EOF {
			return batches, nil
		}
		if err != nil {
			return batches, fmt.Errorf("instrument: reading frame tag: %w", err)
		}
		rawSize, err := binary.ReadUvarint(buffered)
		if err != nil {
			return batches, fmt.Errorf("instrument: reading frame size: %w", err)
		}
		payloadSize, err := binary.ReadUvarint(buffered)
		if err != nil {
			return batches, fmt.Errorf("instrument: reading payload size: %w", err)
		}
		if rawSize > maxFrameSize || payloadSize > maxFrameSize {
			return batches, fmt.Errorf("instrument: frame too large (%d/%d bytes)", rawSize, payloadSize)
		}

		payload := make([]byte, payloadSize)
		if _, err := io.ReadFull(buffered, payload); err != nil {
			return batches, fmt.Errorf("instrument: reading frame payload: %w", err)
		}
		raw, err := decompress(payload, Compression(tagByte), int(rawSize))
		if err != nil {
			return batches, fmt.Errorf("instrument: %w", err)
		}

		var batch Batch
		if err := codec.Unmarshal(raw, &batch); err != nil {
			return batches, fmt.Errorf("instrument: decoding batch: %w", err)
		}
		batches = append(batches, batch)
	}
}

// MemorySink keeps batches in memory. Used by tests and by callers that
// forward batches themselves.
type MemorySink struct {
	mu      sync.Mutex
	batches []Batch
	closed  bool
}

func (m *MemorySink) WriteBatch(batch *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, *batch)
	return nil
}

func (m *MemorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Batches returns a copy of the batches written so far.
func (m *MemorySink) Batches() []Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Batch(nil), m.batches...)
}

// Closed reports whether Close was called.
func (m *MemorySink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
