// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package metaplan_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"

	qt "github.com/frankban/quicktest"
)

// testEntry is an IFD entry. The value is encoded according to its Go type:
// string as ASCII, uint16 as SHORT, uint32 as LONG, []uint32 as RATIONAL
// pairs and []byte as UNDEFINED.
type testEntry struct {
	tag   uint16
	value any
}

// testTIFF describes a TIFF file (or the TIFF part of a JPEG APP1 segment).
type testTIFF struct {
	order binary.ByteOrder

	ifd0    []testEntry
	exif    []testEntry
	gps     []testEntry
	interop []testEntry
	ifd1    []testEntry

	// gap is the number of padding bytes inserted before the sub IFDs,
	// which gives a file with the metadata scattered.
	gap int

	// trailer is the number of bytes appended after the last IFD
	// to simulate image data.
	trailer int
}

type rawEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func (t testTIFF) encode(e testEntry) rawEntry {
	order := t.order
	switch v := e.value.(type) {
	case string:
		b := append([]byte(v), 0)
		return rawEntry{e.tag, 2, uint32(len(b)), b}
	case uint16:
		b := make([]byte, 2)
		order.PutUint16(b, v)
		return rawEntry{e.tag, 3, 1, b}
	case uint32:
		b := make([]byte, 4)
		order.PutUint32(b, v)
		return rawEntry{e.tag, 4, 1, b}
	case []uint32:
		b := make([]byte, 4*len(v))
		for i, n := range v {
			order.PutUint32(b[i*4:], n)
		}
		return rawEntry{e.tag, 5, uint32(len(v) / 2), b}
	case []byte:
		return rawEntry{e.tag, 7, uint32(len(v)), v}
	default:
		panic("unsupported test value type")
	}
}

func ifdSize(entries []rawEntry) int {
	n := 2 + 12*len(entries) + 4
	for _, e := range entries {
		if len(e.data) > 4 {
			n += len(e.data) + len(e.data)%2
		}
	}
	return n
}

func (t testTIFF) Bytes() []byte {
	if t.order == nil {
		t.order = binary.LittleEndian
	}
	order := t.order

	encodeAll := func(entries []testEntry) []rawEntry {
		var raw []rawEntry
		for _, e := range entries {
			raw = append(raw, t.encode(e))
		}
		return raw
	}

	ifd0 := encodeAll(t.ifd0)
	exif := encodeAll(t.exif)
	gps := encodeAll(t.gps)
	interop := encodeAll(t.interop)
	ifd1 := encodeAll(t.ifd1)

	// Pointer placeholders, filled in below.
	if t.exif != nil {
		ifd0 = append(ifd0, rawEntry{0x8769, 4, 1, make([]byte, 4)})
	}
	if t.gps != nil {
		ifd0 = append(ifd0, rawEntry{0x8825, 4, 1, make([]byte, 4)})
	}
	if t.interop != nil {
		exif = append(exif, rawEntry{0xA005, 4, 1, make([]byte, 4)})
	}

	off := 8
	layout := func(entries []rawEntry, present bool) int {
		if !present {
			return 0
		}
		o := off
		off += ifdSize(entries)
		return o
	}

	ifd0Off := layout(ifd0, true)
	ifd1Off := layout(ifd1, t.ifd1 != nil)
	off += t.gap
	exifOff := layout(exif, t.exif != nil)
	interopOff := layout(interop, t.interop != nil)
	gpsOff := layout(gps, t.gps != nil)
	total := off + t.trailer

	setPointer := func(entries []rawEntry, tag uint16, v int) {
		for _, e := range entries {
			if e.tag == tag {
				order.PutUint32(e.data, uint32(v))
			}
		}
	}
	setPointer(ifd0, 0x8769, exifOff)
	setPointer(ifd0, 0x8825, gpsOff)
	setPointer(exif, 0xA005, interopOff)

	buf := make([]byte, total)
	if order == binary.LittleEndian {
		copy(buf, "II")
	} else {
		copy(buf, "MM")
	}
	order.PutUint16(buf[2:], 42)
	order.PutUint32(buf[4:], uint32(ifd0Off))

	writeIFD := func(entries []rawEntry, at, next int) {
		if at == 0 && len(entries) == 0 {
			return
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })
		p := at
		order.PutUint16(buf[p:], uint16(len(entries)))
		p += 2
		dataOff := at + 2 + 12*len(entries) + 4
		for _, e := range entries {
			order.PutUint16(buf[p:], e.tag)
			order.PutUint16(buf[p+2:], e.typ)
			order.PutUint32(buf[p+4:], e.count)
			if len(e.data) <= 4 {
				copy(buf[p+8:], e.data)
			} else {
				order.PutUint32(buf[p+8:], uint32(dataOff))
				copy(buf[dataOff:], e.data)
				dataOff += len(e.data) + len(e.data)%2
			}
			p += 12
		}
		order.PutUint32(buf[p:], uint32(next))
	}

	writeIFD(ifd0, ifd0Off, ifd1Off)
	if t.ifd1 != nil {
		writeIFD(ifd1, ifd1Off, 0)
	}
	if t.exif != nil {
		writeIFD(exif, exifOff, 0)
	}
	if t.interop != nil {
		writeIFD(interop, interopOff, 0)
	}
	if t.gps != nil {
		writeIFD(gps, gpsOff, 0)
	}

	return buf
}

func jpegSegment(marker uint16, payload ...[]byte) []byte {
	body := bytes.Join(payload, nil)
	b := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint16(b, marker)
	binary.BigEndian.PutUint16(b[2:], uint16(len(body)+2))
	return append(b, body...)
}

// testJPEG returns a JPEG with the given segments followed by a fake scan.
func testJPEG(segments ...[]byte) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xd8})
	for _, s := range segments {
		buf.Write(s)
	}
	buf.Write(jpegSegment(0xffda, make([]byte, 10)))
	buf.Write(bytes.Repeat([]byte{0x42}, 2048))
	buf.Write([]byte{0xff, 0xd9})
	return buf.Bytes()
}

func segJFIF() []byte {
	return jpegSegment(0xffe0, []byte("JFIF\x00"), []byte{1, 1, 0, 0, 1, 0, 1, 0, 0})
}

func segEXIF(tiff []byte) []byte {
	return jpegSegment(0xffe1, []byte("Exif\x00\x00"), tiff)
}

func segXMP() []byte {
	return jpegSegment(0xffe1, []byte("http://ns.adobe.com/xap/1.0/\x00"), []byte(`<x:xmpmeta xmlns:x="adobe:ns:meta/"></x:xmpmeta>`))
}

func segICC() []byte {
	return jpegSegment(0xffe2, []byte("ICC_PROFILE\x00"), []byte{1, 1}, make([]byte, 128))
}

func segIPTC() []byte {
	return jpegSegment(0xffed, []byte("Photoshop 3.0\x00"), []byte("8BIM\x04\x04\x00\x00\x00\x00\x00\x00"))
}

func segCOM() []byte {
	return jpegSegment(0xfffe, []byte("a comment"))
}

// sunriseTIFF is a TIFF with entries in all IFDs.
func sunriseTIFF() testTIFF {
	return testTIFF{
		ifd0: []testEntry{
			{0x010F, "Canon"},
			{0x0110, "Canon EOS R5"},
			{0x0112, uint16(1)},
			{0x02BC, []byte("<x:xmpmeta/>")},
			{0x83BB, []byte{0x1c, 0x02, 0x00, 0x00, 0x00}},
			{0x8773, make([]byte, 16)},
		},
		exif: []testEntry{
			{0x829A, []uint32{1, 200}},
			{0x9003, "2024:05:29 17:19:21"},
			{0x927C, make([]byte, 64)},
			{0x9286, []byte("ASCII\x00\x00\x00Sunrise in Spain")},
		},
		gps: []testEntry{
			{0x0001, "N"},
			{0x0002, []uint32{36, 1, 35, 1, 50, 1}},
			{0x0003, "W"},
		},
		interop: []testEntry{
			{0x0001, "R98"},
		},
		ifd1: []testEntry{
			{0x0201, uint32(1338)},
			{0x0202, uint32(4096)},
		},
	}
}

func writeTempFile(c *qt.C, name string, data []byte) string {
	c.Helper()
	filename := filepath.Join(c.TempDir(), name)
	c.Assert(os.WriteFile(filename, data, 0o644), qt.IsNil)
	return filename
}
