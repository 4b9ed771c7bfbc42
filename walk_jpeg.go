// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package metaplan

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const (
	markerSOI   = 0xffd8
	markerEOI   = 0xffd9
	markerSOS   = 0xffda
	markerApp0  = 0xffe0
	markerApp1  = 0xffe1
	markerApp2  = 0xffe2
	markerApp13 = 0xffed
)

var (
	markerJFIF = []byte("JFIF\x00")
	markerEXIF = []byte("Exif\x00\x00")
	markerXMP  = []byte("http://ns.adobe.com/xap/1.0/\x00")
	markerICC  = []byte("ICC_PROFILE\x00")
	markerIPTC = []byte("Photoshop 3.0\x00")
)

type walkerJPEG struct {
	*baseWalker
}

func (e *walkerJPEG) walk() error {
	e.byteOrder = binary.BigEndian

	soi, err := e.read2E()
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	if err != nil || soi != markerSOI {
		return newInvalidFormatErrorf("missing JPEG SOI marker")
	}

	// These are the segments we're looking for.
	var remaining []Block
	for _, b := range []Block{TIFF, JFIF, IPTC, XMP, ICC} {
		if e.plan.Traverse(b) {
			remaining = append(remaining, b)
		}
	}

	found := func(b Block) bool {
		for i, bb := range remaining {
			if bb == b {
				remaining = append(remaining[:i], remaining[i+1:]...)
				return true
			}
		}
		return false
	}

	for {
		if len(remaining) == 0 {
			// Done.
			return nil
		}

		marker, err := e.read2E()
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				// Allow a truncated file after the last segment.
				return nil
			}
			return err
		}

		if marker == markerSOS || marker == markerEOI {
			// Start of scan. We're done.
			return nil
		}

		if marker>>8 != 0xff {
			return newInvalidFormatErrorf("invalid JPEG marker 0x%04x at offset %d", marker, e.pos-2)
		}

		if marker == 0xffff || marker == 0xff01 || (marker >= 0xffd0 && marker <= 0xffd7) {
			// Fill byte or standalone marker without a length.
			if marker == 0xffff {
				e.skip(-1)
			}
			continue
		}

		// Read the 16-bit length of the segment. The value includes the 2 bytes for the
		// length itself, so we subtract 2 to get the number of remaining bytes.
		length := int64(e.read2())
		if length < 2 {
			return newInvalidFormatErrorf("invalid JPEG segment length %d", length)
		}
		length -= 2
		start := e.pos

		head := e.peek(int(min(length, int64(len(markerXMP)))))

		var (
			block       Block
			headerLen   int
			matchesHead bool
		)

		switch marker {
		case markerApp0:
			block, headerLen, matchesHead = JFIF, 0, bytes.HasPrefix(head, markerJFIF)
		case markerApp1:
			if bytes.HasPrefix(head, markerEXIF) {
				block, headerLen, matchesHead = TIFF, len(markerEXIF), true
			} else if bytes.HasPrefix(head, markerXMP) {
				block, headerLen, matchesHead = XMP, len(markerXMP), true
			}
		case markerApp2:
			block, headerLen, matchesHead = ICC, len(markerICC), bytes.HasPrefix(head, markerICC)
		case markerApp13:
			block, headerLen, matchesHead = IPTC, len(markerIPTC), bytes.HasPrefix(head, markerIPTC)
		}

		if matchesHead && found(block) {
			seg := Segment{
				Block:  block,
				Offset: start + int64(headerLen),
				Length: length - int64(headerLen),
			}
			if err := e.handleSegment(seg); err != nil {
				return err
			}
			if block == TIFF {
				tiff := &walkerTIFF{baseWalker: e.baseWalker, base: seg.Offset}
				if err := e.preservePos(tiff.walk); err != nil {
					return err
				}
				// The TIFF header may have switched the byte order.
				e.byteOrder = binary.BigEndian
			}
		}

		e.seek(start + length)
	}
}
