// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package metaplan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// maxBufSize is how far past the loaded end Ensure may reach
// when the size of the source is not known.
const maxBufSize = 10 * 1024 * 1024

// errGrowthCancelled signals that the Reader was closed while a growth was pending.
var errGrowthCancelled = errors.New("growth cancelled")

// Reader exposes a growing, randomly addressable view of a ByteSource.
//
// A Reader is created per read operation and must be closed when done.
// Growth is safe for concurrent use, but a Reader is meant to have a single owner.
type Reader struct {
	src     ByteSource
	opts    ReaderOptions
	chunked bool

	// Serializes growth.
	growMu sync.Mutex

	mu      sync.Mutex
	buf     []byte // len(buf) is the byte length of the view.
	loaded  spans
	size    int64 // -1 if not known.
	growths int
	closed  bool
}

// Open opens a Reader on src and fetches the first chunk.
//
// In-memory buffers are never chunked. If opts.Mode is ChunkOff, the whole
// source is fetched at once. Otherwise FirstChunkSize bytes are fetched and
// the view grows on demand. A zero FirstChunkSize or ChunkSize is taken from
// DefaultReaderOptions for DetectEnvironment.
//
// If the first fetch fails, src is closed and the error is returned wrapped in
// ErrSourceUnavailable.
func Open(ctx context.Context, src ByteSource, opts ReaderOptions) (*Reader, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: no source provided", ErrSourceUnavailable)
	}

	defaults := DefaultReaderOptions(DetectEnvironment())
	if opts.FirstChunkSize <= 0 {
		opts.FirstChunkSize = defaults.FirstChunkSize
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaults.ChunkSize
	}

	r := &Reader{
		src:  src,
		opts: opts,
		size: -1,
	}
	if size, found := src.Size(); found {
		r.size = size
	}

	var err error
	switch {
	case src.Kind() == SourceBuffer:
		n := int64(opts.FirstChunkSize)
		if opts.Mode == ChunkOff || n > r.size {
			n = r.size
		}
		err = r.growBuffer(ctx, n)
	case opts.Mode == ChunkOff:
		err = r.readAll(ctx)
	default:
		r.chunked = true
		_, err = r.grow(ctx, 0, opts.FirstChunkSize, false)
	}

	if err != nil {
		src.Close()
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	return r, nil
}

// ByteLength returns the length of the current view.
func (r *Reader) ByteLength() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// LoadedBytes returns the number of bytes actually fetched into the view.
// With scattered reads this is less than ByteLength.
func (r *Reader) LoadedBytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, sp := range r.loaded {
		n += sp.end - sp.start
	}
	return n
}

// Chunked reports whether the source is read in chunks.
func (r *Reader) Chunked() bool {
	return r.chunked
}

// Kind returns the kind of the underlying source.
func (r *Reader) Kind() SourceKind {
	return r.src.Kind()
}

// Size returns the total size of the source, if known.
func (r *Reader) Size() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size, r.size >= 0
}

// ReadNextChunk appends ChunkSize bytes to the view, fewer at the end of the source.
// It returns the number of bytes appended, which is 0 once the source is exhausted.
// If the ChunkLimit is reached, it returns ErrChunkLimit.
func (r *Reader) ReadNextChunk(ctx context.Context) (int, error) {
	r.growMu.Lock()
	defer r.growMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, ErrClosed
	}
	start := int64(len(r.buf))
	exhausted := r.size >= 0 && start >= r.size
	limited := r.limitReached()
	r.mu.Unlock()

	if exhausted {
		return 0, nil
	}

	if r.src.Kind() == SourceBuffer {
		before := start
		if err := r.growBuffer(ctx, min(start+int64(r.opts.ChunkSize), r.size)); err != nil {
			if err == errGrowthCancelled {
				return 0, nil
			}
			return 0, err
		}
		return r.ByteLength() - int(before), nil
	}

	if limited {
		return 0, ErrChunkLimit
	}

	n, err := r.grow(ctx, start, r.opts.ChunkSize, true)
	if err == errGrowthCancelled {
		return 0, nil
	}
	return n, err
}

// Ensure makes sure that length bytes starting at offset are loaded,
// fetching the missing part in a single growth if needed.
// It returns io.ErrUnexpectedEOF if the range extends past the end of the source,
// or, if the size is not known, reaches more than maxBufSize past the loaded end.
func (r *Reader) Ensure(ctx context.Context, offset int64, length int) error {
	if offset < 0 || length < 0 {
		return fmt.Errorf("invalid range %d:%d", offset, length)
	}
	end := offset + int64(length)

	r.growMu.Lock()
	defer r.growMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.size >= 0 && end > r.size {
		r.mu.Unlock()
		return io.ErrUnexpectedEOF
	}
	if r.size < 0 && end-int64(len(r.buf)) > int64(max(maxBufSize, r.opts.ChunkSize)) {
		r.mu.Unlock()
		return io.ErrUnexpectedEOF
	}
	gap, missing := r.loaded.firstGap(offset, end)
	limited := r.limitReached()
	r.mu.Unlock()

	if !missing {
		return nil
	}

	if r.src.Kind() == SourceBuffer {
		if err := r.growBuffer(ctx, end); err != nil {
			if err == errGrowthCancelled {
				return ErrClosed
			}
			return err
		}
		return nil
	}

	if limited {
		return ErrChunkLimit
	}

	// Round up to whole chunks to reduce the number of round trips.
	n := roundToMul(int(end-gap), r.opts.ChunkSize)
	if _, err := r.grow(ctx, gap, n, true); err != nil {
		if err == errGrowthCancelled {
			return ErrClosed
		}
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, missing := r.loaded.firstGap(offset, end); missing {
		return io.ErrUnexpectedEOF
	}
	return nil
}

// Bytes returns length bytes starting at offset without doing any I/O.
// The range must have been loaded, see Ensure.
// The returned slice must not be modified.
func (r *Reader) Bytes(offset int64, length int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	end := offset + int64(length)
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("invalid range %d:%d", offset, length)
	}
	if _, missing := r.loaded.firstGap(offset, end); missing {
		return nil, fmt.Errorf("range %d:%d is not loaded: %w", offset, end, io.ErrUnexpectedEOF)
	}
	return r.buf[offset:end:end], nil
}

// ReadAt is Ensure followed by Bytes.
func (r *Reader) ReadAt(ctx context.Context, offset int64, length int) ([]byte, error) {
	if err := r.Ensure(ctx, offset, length); err != nil {
		return nil, err
	}
	return r.Bytes(offset, length)
}

// Close releases the underlying source.
// A growth pending when Close is called is discarded.
// It is safe to call Close more than once.
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	return r.src.Close()
}

// limitReached must be called with mu held.
func (r *Reader) limitReached() bool {
	return r.chunked && r.opts.ChunkLimit >= 0 && r.growths >= r.opts.ChunkLimit
}

// growBuffer extends the view of an in-memory source to end. No copying is done.
func (r *Reader) growBuffer(ctx context.Context, end int64) error {
	b, err := r.src.Fetch(ctx, 0, int(end))
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errGrowthCancelled
	}
	r.buf = b
	r.loaded = spans{{0, int64(len(b))}}
	return nil
}

func (r *Reader) readAll(ctx context.Context) error {
	if r.size >= 0 {
		_, err := r.grow(ctx, 0, int(r.size), false)
		return err
	}
	for {
		r.mu.Lock()
		start := int64(len(r.buf))
		r.mu.Unlock()
		n, err := r.grow(ctx, start, r.opts.ChunkSize, false)
		if err != nil {
			return err
		}
		if n < r.opts.ChunkSize {
			return nil
		}
	}
}

// grow fetches length bytes at start and copies them into the view.
// growMu must be held (or the Reader not yet shared).
func (r *Reader) grow(ctx context.Context, start int64, length int, count bool) (int, error) {
	b, err := r.src.Fetch(ctx, start, length)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, errGrowthCancelled
	}
	if err != nil {
		return 0, err
	}

	end := start + int64(len(b))
	if end > int64(len(r.buf)) {
		if end <= int64(cap(r.buf)) {
			r.buf = r.buf[:end]
		} else {
			buf := make([]byte, end, max(end, 2*int64(cap(r.buf))))
			copy(buf, r.buf)
			r.buf = buf
		}
	}
	copy(r.buf[start:end], b)
	r.loaded = r.loaded.add(start, end)

	if len(b) < length {
		if size, found := r.src.Size(); found {
			r.size = size
		} else if len(b) > 0 || start == int64(len(r.buf)) {
			r.size = end
		}
	}
	// An empty fetch at the end of the source is not a growth.
	if count && len(b) > 0 {
		r.growths++
	}

	return len(b), nil
}

func roundToMul(n, m int) int {
	k := (n + m - 1) / m
	return k * m
}

type span struct {
	start, end int64
}

// spans is a sorted list of non overlapping, non adjacent ranges.
type spans []span

func (s spans) add(start, end int64) spans {
	if start >= end {
		return s
	}
	var out spans
	inserted := false
	for _, sp := range s {
		switch {
		case sp.end < start:
			out = append(out, sp)
		case sp.start > end:
			if !inserted {
				out = append(out, span{start, end})
				inserted = true
			}
			out = append(out, sp)
		default:
			start = min(start, sp.start)
			end = max(end, sp.end)
		}
	}
	if !inserted {
		out = append(out, span{start, end})
	}
	return out
}

// firstGap returns the first offset in [start, end) that is not loaded.
func (s spans) firstGap(start, end int64) (int64, bool) {
	if start >= end {
		return 0, false
	}
	for _, sp := range s {
		if sp.start <= start && start < sp.end {
			start = sp.end
		}
		if start >= end {
			return 0, false
		}
	}
	return start, true
}
