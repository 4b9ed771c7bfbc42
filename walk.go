// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package metaplan

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

const (
	// ImageFormatAuto signals that the image format should be detected from the first bytes.
	ImageFormatAuto ImageFormat = iota
	// JPEG is the JPEG image format.
	JPEG
	// TIFFFormat is the TIFF image format.
	TIFFFormat
)

// ImageFormat is the image format.
type ImageFormat int

func (f ImageFormat) String() string {
	switch f {
	case JPEG:
		return "JPEG"
	case TIFFFormat:
		return "TIFF"
	case ImageFormatAuto:
		return "ImageFormatAuto"
	default:
		return fmt.Sprintf("ImageFormat(%d)", int(f))
	}
}

// WalkOptions contains the options for the Walk function.
type WalkOptions struct {
	// Options holds the resolved plan, see Resolve.
	Options Options

	// The image format. Detected from the magic bytes if not set.
	ImageFormat ImageFormat

	// HandleSegment is called for each enabled segment found.
	HandleSegment func(seg Segment) error

	// HandleTag is called for each IFD entry the plan says should be parsed.
	HandleTag func(entry Entry) error

	// Warnf will be called for each warning.
	Warnf func(string, ...any)

	// LimitNumTags is the maximum number of tags to report.
	// Default value is 5000.
	LimitNumTags uint32

	// LimitTagSize is the maximum size in bytes of a tag value to read.
	// Entries with larger values are reported with a nil Value.
	// Default value is 10000.
	LimitTagSize uint32
}

// Segment is a top level metadata segment located in the image.
type Segment struct {
	Block Block
	// Offset of the segment payload from the start of the file.
	Offset int64
	// Length of the payload in bytes, -1 if not known.
	Length int64
}

// Entry is a raw IFD entry.
type Entry struct {
	Block     Block
	Tag       uint16
	Type      uint16
	Count     uint32
	ByteOrder binary.ByteOrder

	// ValueOffset is the absolute offset of the value in the file.
	ValueOffset int64

	// Value holds the raw value bytes.
	// It is nil if the value is larger than LimitTagSize or the type is unknown.
	Value []byte
}

// Text returns an ASCII value as a string.
// Values that are not valid UTF-8 are decoded as ISO-8859-1.
func (e Entry) Text() string {
	b := trimBytesNulls(e.Value)
	if utf8.Valid(b) {
		return printableString(string(b))
	}
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return printableString(string(s))
}

// Walk locates the metadata segments and IFD entries in the image read by r,
// consulting opts.Options.Plan for what to report.
// Bytes are pulled from r as needed, so a chunked Reader only grows when
// metadata lives beyond what has already been loaded.
//
// Walk does not close r.
func Walk(ctx context.Context, r *Reader, opts WalkOptions) (err error) {
	var base *baseWalker

	errFinal := func(err2 error) error {
		if (err2 == nil || err2 == errStop) && base != nil {
			err2 = base.streamErr()
		}
		if err2 == nil || err2 == errStop || err2 == ErrStopWalking {
			return nil
		}
		if errors.Is(err2, ErrChunkLimit) {
			opts.Warnf("%s", err2)
			return nil
		}
		if errors.Is(err2, io.ErrUnexpectedEOF) || err2 == io.EOF {
			return newInvalidFormatErrorf("unexpected end of file")
		}
		return err2
	}

	defer func() {
		err = errFinal(err)
	}()

	defer func() {
		if rec := recover(); rec != nil {
			if errp, ok := rec.(error); ok {
				err = errp
			} else {
				err = fmt.Errorf("unknown panic: %v", rec)
			}
		}
	}()

	if r == nil {
		return fmt.Errorf("no reader provided")
	}

	const (
		defaultLimitNumTags = 5000
		defaultLimitTagSize = 10000
	)

	if opts.LimitNumTags == 0 {
		opts.LimitNumTags = defaultLimitNumTags
	}
	if opts.LimitTagSize == 0 {
		opts.LimitTagSize = defaultLimitTagSize
	}
	if opts.HandleSegment == nil {
		opts.HandleSegment = func(Segment) error { return nil }
	}
	if opts.HandleTag == nil {
		opts.HandleTag = func(Entry) error { return nil }
	}
	if opts.Warnf == nil {
		opts.Warnf = func(string, ...any) {}
	}

	if opts.ImageFormat == ImageFormatAuto {
		opts.ImageFormat, err = detectFormat(ctx, r)
		if err != nil {
			return err
		}
	}

	base = &baseWalker{
		streamReader: newStreamReader(ctx, r, binary.BigEndian),
		opts:         opts,
		plan:         opts.Options.Plan,
	}

	switch opts.ImageFormat {
	case JPEG:
		return (&walkerJPEG{baseWalker: base}).walk()
	case TIFFFormat:
		if !base.plan.Enabled(TIFF) {
			return nil
		}
		length := int64(-1)
		if size, found := r.Size(); found {
			length = size
		}
		if err := base.handleSegment(Segment{Block: TIFF, Offset: 0, Length: length}); err != nil {
			return err
		}
		return (&walkerTIFF{baseWalker: base}).walk()
	default:
		return fmt.Errorf("unsupported image format %v", opts.ImageFormat)
	}
}

var (
	magicJPEG     = []byte{0xff, 0xd8}
	magicTIFFLE   = []byte{'I', 'I', 42, 0}
	magicTIFFBE   = []byte{'M', 'M', 0, 42}
	errNoMagicHit = newInvalidFormatErrorf("unknown image format")
)

func detectFormat(ctx context.Context, r *Reader) (ImageFormat, error) {
	b, err := r.ReadAt(ctx, 0, 4)
	if err != nil {
		if err == io.ErrUnexpectedEOF {
			return 0, errNoMagicHit
		}
		return 0, err
	}
	switch {
	case bytes.HasPrefix(b, magicJPEG):
		return JPEG, nil
	case bytes.Equal(b, magicTIFFLE), bytes.Equal(b, magicTIFFBE):
		return TIFFFormat, nil
	default:
		return 0, errNoMagicHit
	}
}

type baseWalker struct {
	*streamReader
	opts     WalkOptions
	plan     Plan
	tagCount uint32
}

func (w *baseWalker) streamErr() error {
	return w.readErr
}

func (w *baseWalker) handleSegment(seg Segment) error {
	if !w.plan.Enabled(seg.Block) {
		return nil
	}
	return w.opts.HandleSegment(seg)
}
