// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package metaplan

import (
	"encoding/binary"
	"errors"
	"io"
)

// Size in bytes of each TIFF field type.
var tiffTypeSize = map[uint16]uint32{
	1:  1, // BYTE
	2:  1, // ASCII
	3:  2, // SHORT
	4:  4, // LONG
	5:  8, // RATIONAL
	6:  1, // SBYTE
	7:  1, // UNDEFINED
	8:  2, // SSHORT
	9:  4, // SLONG
	10: 8, // SRATIONAL
	11: 4, // FLOAT
	12: 8, // DOUBLE
	13: 4, // IFD
}

// Sub IFDs reachable from a parent IFD.
var ifdPointers = map[Block][]struct {
	tag   uint16
	child Block
}{
	IFD0: {{TagExifIFDPointer, EXIF}, {TagGPSIFDPointer, GPS}},
	EXIF: {{TagInteropIFDPointer, Interop}},
}

// A directory holds at most this many entries.
const maxIFDEntries = 1000

type walkerTIFF struct {
	*baseWalker
	// Offset of the TIFF header from the start of the file.
	base int64

	visited map[int64]bool
}

func (e *walkerTIFF) walk() error {
	e.seek(e.base)

	switch e.read2() {
	case byteOrderBigEndian:
		e.byteOrder = binary.BigEndian
	case byteOrderLittleEndian:
		e.byteOrder = binary.LittleEndian
	default:
		return newInvalidFormatErrorf("invalid TIFF byte order")
	}

	if id := e.read2(); id != 42 {
		return newInvalidFormatErrorf("invalid TIFF magic %d", id)
	}

	ifd0Offset := e.read4()
	if ifd0Offset < 8 {
		return newInvalidFormatErrorf("invalid IFD0 offset %d", ifd0Offset)
	}

	if !e.plan.Traverse(IFD0) {
		return nil
	}

	e.visited = make(map[int64]bool)

	// Main image.
	next, err := e.walkIFD(IFD0, ifd0Offset)
	if err != nil {
		return err
	}

	// Thumbnail IFD.
	if next == 0 || !e.plan.Traverse(Thumbnail) {
		return nil
	}
	_, err = e.walkIFD(Thumbnail, next)
	return err
}

// walkIFD walks the IFD at offset (relative to the TIFF header) and
// returns the offset of the next IFD in the chain.
func (e *walkerTIFF) walkIFD(block Block, offset uint32) (uint32, error) {
	pos := e.base + int64(offset)
	if e.visited[pos] {
		e.opts.Warnf("IFD loop detected at offset %d", pos)
		return 0, nil
	}
	e.visited[pos] = true

	e.seek(pos)
	numEntries := e.read2()
	if numEntries > maxIFDEntries {
		return 0, newInvalidFormatErrorf("too many entries (%d) in %s", numEntries, block)
	}

	// Make sure the whole directory is loaded with one growth.
	e.readBytesAt(pos, 2+12*int(numEntries)+4)

	type subIFD struct {
		block  Block
		offset uint32
	}
	var children []subIFD

	for i := 0; i < int(numEntries); i++ {
		entry := e.readEntry(block)

		for _, p := range ifdPointers[block] {
			if entry.Tag == p.tag && e.plan.Traverse(p.child) && len(entry.Value) == 4 {
				children = append(children, subIFD{p.child, e.byteOrder.Uint32(entry.Value)})
			}
		}

		if !e.plan.Parses(block, entry.Tag) {
			continue
		}

		e.tagCount++
		if e.tagCount > e.opts.LimitNumTags {
			return 0, ErrStopWalking
		}

		if err := e.opts.HandleTag(entry); err != nil {
			return 0, err
		}
	}

	next := e.read4()

	for _, c := range children {
		if _, err := e.walkIFD(c.block, c.offset); err != nil {
			return 0, err
		}
	}

	return next, nil
}

// An entry is represented in 12 bytes:
//   - 2 bytes for the tag ID
//   - 2 bytes for the data type
//   - 4 bytes for the number of data values of the specified type
//   - 4 bytes for the value itself, if it fits, otherwise for a pointer to another location where the data may be found;
//     this could be a pointer to the beginning of another IFD.
func (e *walkerTIFF) readEntry(block Block) Entry {
	entryPos := e.pos
	tag := e.read2()
	typ := e.read2()
	count := e.read4()
	valuePos := e.pos
	e.skip(4)

	entry := Entry{
		Block:       block,
		Tag:         tag,
		Type:        typ,
		Count:       count,
		ByteOrder:   e.byteOrder,
		ValueOffset: valuePos,
	}

	size, found := tiffTypeSize[typ]
	if !found {
		e.opts.Warnf("unknown TIFF type %d for tag 0x%04x at offset %d", typ, tag, entryPos)
		return entry
	}

	valLen := uint64(size) * uint64(count)

	if valLen > 4 {
		entry.ValueOffset = e.base + int64(e.byteOrder.Uint32(e.readBytesAt(valuePos, 4)))
	}

	if !e.plan.Parses(block, tag) && !isIFDPointer(block, tag) {
		return entry
	}
	if valLen > uint64(e.opts.LimitTagSize) {
		return entry
	}

	b, err := e.r.ReadAt(e.ctx, entry.ValueOffset, int(valLen))
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			e.opts.Warnf("value of tag 0x%04x in %s points outside the file", tag, block)
			return entry
		}
		e.stop(err)
	}
	entry.Value = make([]byte, len(b))
	copy(entry.Value, b)

	return entry
}

func isIFDPointer(block Block, tag uint16) bool {
	for _, p := range ifdPointers[block] {
		if p.tag == tag {
			return true
		}
	}
	return false
}
