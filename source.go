// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package metaplan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// SourceKind describes where the bytes of a ByteSource live.
type SourceKind int

const (
	// SourceBuffer is an in-memory byte slice. Reads are free.
	SourceBuffer SourceKind = iota
	// SourceFile is a random access handle, typically an *os.File.
	SourceFile
	// SourceStream is a forward only stream, e.g. a network response body.
	SourceStream
)

func (k SourceKind) String() string {
	switch k {
	case SourceBuffer:
		return "buffer"
	case SourceFile:
		return "file"
	case SourceStream:
		return "stream"
	default:
		return fmt.Sprintf("SourceKind(%d)", int(k))
	}
}

// ByteSource provides the raw bytes of an image to a Reader.
type ByteSource interface {
	// Fetch reads up to length bytes starting at offset.
	// At the end of the source it returns fewer bytes (possibly none) and no error.
	Fetch(ctx context.Context, offset int64, length int) ([]byte, error)

	// Size returns the total size of the source, if known.
	Size() (int64, bool)

	// Kind returns the kind of source.
	Kind() SourceKind

	// Close releases the underlying handle.
	// It is safe to call Close more than once.
	Close() error
}

// NewBufferSource returns a ByteSource reading from b.
// The returned slices share memory with b.
func NewBufferSource(b []byte) ByteSource {
	return &bufferSource{b: b}
}

type bufferSource struct {
	b []byte
}

func (s *bufferSource) Fetch(ctx context.Context, offset int64, length int) ([]byte, error) {
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("invalid range %d:%d", offset, length)
	}
	if offset >= int64(len(s.b)) {
		return nil, nil
	}
	end := min(offset+int64(length), int64(len(s.b)))
	return s.b[offset:end:end], nil
}

func (s *bufferSource) Size() (int64, bool) {
	return int64(len(s.b)), true
}

func (s *bufferSource) Kind() SourceKind {
	return SourceBuffer
}

func (s *bufferSource) Close() error {
	return nil
}

// OpenFile opens the file at filename as a ByteSource.
// If the file cannot be opened, the error wraps ErrSourceUnavailable.
func OpenFile(filename string) (ByteSource, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	return NewReaderAtSource(f, fi.Size()), nil
}

// NewReaderAtSource returns a ByteSource reading from r, which holds size bytes.
// A negative size means the size is unknown.
// If r implements io.Closer, it is closed when the source is closed.
func NewReaderAtSource(r io.ReaderAt, size int64) ByteSource {
	return &readerAtSource{r: r, size: size}
}

type readerAtSource struct {
	r    io.ReaderAt
	size int64

	closeOnce sync.Once
	closeErr  error
}

func (s *readerAtSource) Fetch(ctx context.Context, offset int64, length int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("invalid range %d:%d", offset, length)
	}
	if s.size >= 0 {
		if offset >= s.size {
			return nil, nil
		}
		length = int(min(int64(length), s.size-offset))
	}
	b := make([]byte, length)
	n, err := s.r.ReadAt(b, offset)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return b[:n], nil
}

func (s *readerAtSource) Size() (int64, bool) {
	return s.size, s.size >= 0
}

func (s *readerAtSource) Kind() SourceKind {
	return SourceFile
}

func (s *readerAtSource) Close() error {
	s.closeOnce.Do(func() {
		if c, ok := s.r.(io.Closer); ok {
			s.closeErr = c.Close()
		}
	})
	return s.closeErr
}

// NewStreamSource returns a ByteSource reading from the forward only stream r.
// Consumed bytes are retained so earlier offsets can be fetched again.
// If r implements io.Closer, it is closed when the source is closed.
func NewStreamSource(r io.Reader) ByteSource {
	return &streamSource{r: r}
}

// Streams are consumed in steps of at most this many bytes.
const streamReadStep = 64 * 1024

type streamSource struct {
	mu  sync.Mutex
	r   io.Reader
	buf bytes.Buffer
	eof bool

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (s *streamSource) Fetch(ctx context.Context, offset int64, length int) ([]byte, error) {
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("invalid range %d:%d", offset, length)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrClosed
	}

	// Read forward in bounded steps; nothing is allocated ahead of the data.
	want := offset + int64(length)
	for !s.eof && int64(s.buf.Len()) < want {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := min(want-int64(s.buf.Len()), streamReadStep)
		_, err := io.CopyN(&s.buf, s.r, n)
		if s.closed.Load() {
			return nil, ErrClosed
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.eof = true
				break
			}
			return nil, err
		}
	}

	buf := s.buf.Bytes()
	if offset >= int64(len(buf)) {
		return nil, nil
	}
	end := min(want, int64(len(buf)))
	b := make([]byte, end-offset)
	copy(b, buf[offset:end])
	return b, nil
}

func (s *streamSource) Size() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eof {
		return int64(s.buf.Len()), true
	}
	return -1, false
}

func (s *streamSource) Kind() SourceKind {
	return SourceStream
}

// Close does not wait for a pending Fetch; closing the stream
// interrupts it and its result is discarded.
func (s *streamSource) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if c, ok := s.r.(io.Closer); ok {
			s.closeErr = c.Close()
		}
	})
	return s.closeErr
}
