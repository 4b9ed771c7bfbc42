// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

// Package metaplan resolves user facing metadata options into a per block
// parsing plan and reads image files in chunks so that the plan can be
// evaluated without loading the whole file.
package metaplan

import (
	"errors"
	"fmt"
)

var (
	// ErrStopWalking is a sentinel error to signal that the walk should stop.
	ErrStopWalking = fmt.Errorf("stop walking")

	// ErrSourceUnavailable is returned when the underlying source cannot be opened.
	ErrSourceUnavailable = errors.New("metaplan: source unavailable")

	// ErrClosed is returned when a closed Reader is used.
	ErrClosed = errors.New("metaplan: reader closed")

	// ErrChunkLimit is returned when a Reader would need more chunks than
	// ReaderOptions.ChunkLimit allows.
	ErrChunkLimit = errors.New("metaplan: chunk limit reached")

	// ErrInvalidFormat is returned when the bytes do not look like a supported image.
	ErrInvalidFormat = errors.New("metaplan: invalid format")

	// Internal error to signal that we should stop any further processing.
	errStop = fmt.Errorf("stop")
)

// IsInvalidFormat reports whether err is, or wraps, ErrInvalidFormat.
func IsInvalidFormat(err error) bool {
	return errors.Is(err, ErrInvalidFormat)
}

// IsSourceUnavailable reports whether err is, or wraps, ErrSourceUnavailable.
func IsSourceUnavailable(err error) bool {
	return errors.Is(err, ErrSourceUnavailable)
}

func newInvalidFormatErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidFormat, fmt.Sprintf(format, args...))
}

// Block is a named top level metadata section.
type Block int

const (
	// IFD0 is the main image IFD.
	IFD0 Block = iota
	// EXIF is the EXIF sub IFD.
	EXIF
	// GPS is the GPS sub IFD.
	GPS
	// Interop is the interoperability IFD, referenced from the EXIF IFD.
	Interop
	// Thumbnail is IFD1, which holds the embedded thumbnail.
	Thumbnail
	// TIFF is the TIFF segment (APP1 Exif in JPEG, the whole file in TIFF).
	TIFF
	// JFIF is the APP0 JFIF segment.
	JFIF
	// IPTC is the APP13 Photoshop/IPTC segment.
	IPTC
	// XMP is the XMP packet segment.
	XMP
	// ICC is the APP2 ICC profile segment.
	ICC

	numBlocks
)

var blockNames = [numBlocks]string{
	IFD0:      "ifd0",
	EXIF:      "exif",
	GPS:       "gps",
	Interop:   "interop",
	Thumbnail: "thumbnail",
	TIFF:      "tiff",
	JFIF:      "jfif",
	IPTC:      "iptc",
	XMP:       "xmp",
	ICC:       "icc",
}

// Blocks returns all blocks in their canonical order.
func Blocks() []Block {
	blocks := make([]Block, numBlocks)
	for i := range blocks {
		blocks[i] = Block(i)
	}
	return blocks
}

func (b Block) String() string {
	if b < 0 || b >= numBlocks {
		return fmt.Sprintf("Block(%d)", int(b))
	}
	return blockNames[b]
}

// IsIFD reports whether b is stored as an IFD inside the TIFF segment.
func (b Block) IsIFD() bool {
	return b >= IFD0 && b <= Thumbnail
}

// ParseBlock returns the Block with the given name, e.g. "gps".
func ParseBlock(name string) (Block, bool) {
	for i, s := range blockNames {
		if s == name {
			return Block(i), true
		}
	}
	return 0, false
}

// Tags with special meaning to the resolver.
const (
	// TagMakerNote is the vendor specific maker note stored in the EXIF IFD.
	TagMakerNote uint16 = 0x927C
	// TagUserComment is the user comment stored in the EXIF IFD.
	TagUserComment uint16 = 0x9286
	// TagXMP is ApplicationNotes, which holds an XMP packet in TIFF files.
	TagXMP uint16 = 0x02BC
	// TagIPTC is the IPTC-NAA record embedded in IFD0.
	TagIPTC uint16 = 0x83BB
	// TagICC is the ICC profile embedded in IFD0.
	TagICC uint16 = 0x8773

	// TagExifIFDPointer points from IFD0 to the EXIF IFD.
	TagExifIFDPointer uint16 = 0x8769
	// TagGPSIFDPointer points from IFD0 to the GPS IFD.
	TagGPSIFDPointer uint16 = 0x8825
	// TagInteropIFDPointer points from the EXIF IFD to the interoperability IFD.
	TagInteropIFDPointer uint16 = 0xA005
)
