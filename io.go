// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package metaplan

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
)

const (
	byteOrderBigEndian    = 0x4d4d
	byteOrderLittleEndian = 0x4949
)

// streamReader is a cursor over a Reader that provides methods to read binary data.
// Reads outside the loaded view grow the Reader.
// Note that this is not thread safe.
type streamReader struct {
	ctx       context.Context
	r         *Reader
	byteOrder binary.ByteOrder

	pos     int64
	readErr error
}

func newStreamReader(ctx context.Context, r *Reader, byteOrder binary.ByteOrder) *streamReader {
	return &streamReader{
		ctx:       ctx,
		r:         r,
		byteOrder: byteOrder,
	}
}

func (e *streamReader) read2() uint16 {
	return e.byteOrder.Uint16(e.readBytesVolatile(2))
}

func (e *streamReader) read2E() (uint16, error) {
	b, err := e.readBytesVolatileE(2)
	if err != nil {
		return 0, err
	}
	return e.byteOrder.Uint16(b), nil
}

func (e *streamReader) read4() uint32 {
	return e.byteOrder.Uint32(e.readBytesVolatile(4))
}

// readBytesVolatile reads n bytes at the current position.
// The returned slice must not be modified or retained.
func (e *streamReader) readBytesVolatile(n int) []byte {
	b, err := e.readBytesVolatileE(n)
	if err != nil {
		e.stop(err)
	}
	return b
}

func (e *streamReader) readBytesVolatileE(n int) ([]byte, error) {
	b, err := e.r.ReadAt(e.ctx, e.pos, n)
	if err != nil {
		return nil, err
	}
	e.pos += int64(n)
	return b, nil
}

// readBytesAt reads n bytes at the absolute offset pos without moving the cursor.
func (e *streamReader) readBytesAt(pos int64, n int) []byte {
	b, err := e.r.ReadAt(e.ctx, pos, n)
	if err != nil {
		e.stop(err)
	}
	return b
}

// peek returns n bytes at the current position without moving the cursor,
// or nil if they extend past the end of the file.
func (e *streamReader) peek(n int) []byte {
	b, err := e.r.ReadAt(e.ctx, e.pos, n)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		e.stop(err)
	}
	return b
}

func (e *streamReader) preservePos(f func() error) error {
	pos := e.pos
	err := f()
	e.pos = pos
	return err
}

func (e *streamReader) seek(pos int64) {
	e.pos = pos
}

func (e *streamReader) skip(n int64) {
	e.pos += n
}

func (e *streamReader) stop(err error) {
	if err != nil {
		e.readErr = err
	}
	panic(errStop)
}
