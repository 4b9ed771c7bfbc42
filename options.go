// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package metaplan

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

const (
	defaultFirstChunkSizeNode    = 512
	defaultFirstChunkSizeBrowser = 64 * 1024
	defaultChunkSize             = 64 * 1024
	defaultChunkLimit            = 5
)

// ChunkMode controls whether a Reader fetches its source in chunks.
type ChunkMode int

const (
	// ChunkAuto lets the Reader decide based on the source kind.
	ChunkAuto ChunkMode = iota
	// ChunkOn requests chunked reading.
	ChunkOn
	// ChunkOff requests that the whole source is read at once.
	ChunkOff
)

func (m ChunkMode) String() string {
	switch m {
	case ChunkOn:
		return "on"
	case ChunkOff:
		return "off"
	default:
		return "auto"
	}
}

// ReaderOptions shapes how a Reader fetches bytes from its source.
type ReaderOptions struct {
	// Mode is the requested chunk mode.
	// In-memory buffers are never read in chunked mode.
	Mode ChunkMode

	// FirstChunkSize is the number of bytes fetched when the Reader is opened.
	FirstChunkSize int

	// ChunkSize is the number of bytes fetched on each subsequent growth.
	ChunkSize int

	// ChunkLimit is the maximum number of growths after the first fetch.
	// A negative value means no limit.
	ChunkLimit int
}

// DefaultReaderOptions returns the reader defaults for env.
func DefaultReaderOptions(env Environment) ReaderOptions {
	first := defaultFirstChunkSizeBrowser
	if env.Kind == EnvNode {
		first = defaultFirstChunkSizeNode
	}
	return ReaderOptions{
		FirstChunkSize: first,
		ChunkSize:      defaultChunkSize,
		ChunkLimit:     defaultChunkLimit,
	}
}

// Options is the result of Resolve.
type Options struct {
	// Plan tells the segment decoders what to parse.
	Plan Plan

	// Reader tells the Reader how to fetch bytes.
	Reader ReaderOptions
}

// Resolve turns raw user input into Options.
//
// input is either true (enable all blocks except the thumbnail),
// nil (defaults) or a map with the keys described below.
// Any other value resolves to the defaults.
//
// Block keys (ifd0, exif, gps, interop, thumbnail, tiff, jfif, iptc, xmp, icc)
// take a boolean, a list of tag IDs to pick or an object with the keys
// enabled, pick and skip.
// The feature keys makerNote and userComment toggle single tags in the EXIF IFD.
// The reader keys are firstChunkSize, firstChunkSizeNode, firstChunkSizeBrowser,
// chunkSize, chunkLimit and chunked.
//
// Unknown keys are ignored and malformed values are coerced, so Resolve never fails.
func Resolve(input any, env Environment) Options {
	var s settings
	blanket := false

	switch v := input.(type) {
	case bool:
		blanket = v
	case map[string]any:
		for k, vv := range v {
			if m, found := mutations[k]; found {
				m(&s, vv)
			}
		}
	}

	return Options{
		Plan:   s.plan(blanket),
		Reader: s.readerOptions(env),
	}
}

var (
	defaultEnabled = [numBlocks]bool{
		TIFF: true,
		IFD0: true,
		EXIF: true,
		GPS:  true,
	}

	blanketEnabled = [numBlocks]bool{
		IFD0:    true,
		EXIF:    true,
		GPS:     true,
		Interop: true,
		TIFF:    true,
		JFIF:    true,
		IPTC:    true,
		XMP:     true,
		ICC:     true,
	}

	// Segments that are also stored as a tag in IFD0.
	embeddedInIFD0 = []struct {
		block Block
		tag   uint16
	}{
		{XMP, TagXMP},
		{IPTC, TagIPTC},
		{ICC, TagICC},
	}
)

type optBool struct {
	set bool
	v   bool
}

type optInt struct {
	set bool
	v   int
}

type blockSettings struct {
	enabled optBool
	pick    []uint16
	skip    []uint16
}

// settings holds the explicit values found in the input.
type settings struct {
	blocks [numBlocks]blockSettings

	makerNote   optBool
	userComment optBool

	chunked               optBool
	firstChunkSize        optInt
	firstChunkSizeNode    optInt
	firstChunkSizeBrowser optInt
	chunkSize             optInt
	chunkLimit            optInt
}

type mutation func(s *settings, v any)

var mutations = func() map[string]mutation {
	m := map[string]mutation{
		"makerNote":   func(s *settings, v any) { s.makerNote = optBool{true, truthy(v)} },
		"userComment": func(s *settings, v any) { s.userComment = optBool{true, truthy(v)} },
		"chunked": func(s *settings, v any) {
			if v != nil {
				s.chunked = optBool{true, truthy(v)}
			}
		},
		"firstChunkSize":        sizeMutation(func(s *settings) *optInt { return &s.firstChunkSize }),
		"firstChunkSizeNode":    sizeMutation(func(s *settings) *optInt { return &s.firstChunkSizeNode }),
		"firstChunkSizeBrowser": sizeMutation(func(s *settings) *optInt { return &s.firstChunkSizeBrowser }),
		"chunkSize":             sizeMutation(func(s *settings) *optInt { return &s.chunkSize }),
		"chunkLimit": func(s *settings, v any) {
			if i, ok := toInt(v); ok {
				s.chunkLimit = optInt{true, i}
			}
		},
	}
	for _, b := range Blocks() {
		b := b
		m[b.String()] = func(s *settings, v any) {
			s.blocks[b] = parseBlockSettings(v)
		}
	}
	return m
}()

func sizeMutation(field func(s *settings) *optInt) mutation {
	return func(s *settings, v any) {
		if i, ok := toInt(v); ok && i > 0 {
			*field(s) = optInt{true, i}
		}
	}
}

func parseBlockSettings(v any) blockSettings {
	switch vv := v.(type) {
	case []any, []int, []uint16:
		return blockSettings{pick: toTagIDs(vv)}
	case map[string]any:
		// An object enables the block unless it says otherwise.
		bs := blockSettings{enabled: optBool{true, true}}
		if e, found := vv["enabled"]; found {
			bs.enabled = optBool{true, truthy(e)}
		}
		bs.pick = toTagIDs(vv["pick"])
		bs.skip = toTagIDs(vv["skip"])
		return bs
	default:
		return blockSettings{enabled: optBool{true, truthy(v)}}
	}
}

func (s *settings) plan(blanket bool) Plan {
	enabled := defaultEnabled
	if blanket {
		enabled = blanketEnabled
	}

	for _, b := range Blocks() {
		bs := s.blocks[b]
		switch {
		case bs.enabled.set:
			enabled[b] = bs.enabled.v
		case len(bs.pick) > 0:
			// Picking tags implies the block.
			enabled[b] = true
		}
	}

	// The IFD blocks live in the TIFF segment. With the segment turned off,
	// only the IFD blocks asked for are kept, and they turn the segment back on.
	if !enabled[TIFF] {
		for _, b := range []Block{IFD0, EXIF, GPS, Interop, Thumbnail} {
			bs := s.blocks[b]
			asked := bs.enabled.v || (!bs.enabled.set && len(bs.pick) > 0)
			if b == EXIF && (s.makerNote.v || s.userComment.v) && !bs.enabled.set {
				asked = true
			}
			enabled[b] = asked
			if asked {
				enabled[TIFF] = true
			}
		}
	}

	// The derived skip and pick sets are computed after all the direct
	// assignments above so the key order in the input never matters.
	var skip, pick [numBlocks]map[uint16]bool
	for _, b := range Blocks() {
		skip[b] = toSet(s.blocks[b].skip)
		pick[b] = toSet(s.blocks[b].pick)
	}

	features := []struct {
		tag uint16
		on  bool
	}{
		{TagMakerNote, s.makerNote.v},
		{TagUserComment, s.userComment.v},
	}
	for _, f := range features {
		if f.on {
			if len(pick[EXIF]) > 0 {
				pick[EXIF][f.tag] = true
			}
		} else {
			skip[EXIF][f.tag] = true
		}
	}

	for _, e := range embeddedInIFD0 {
		if enabled[e.block] {
			if len(pick[IFD0]) > 0 {
				pick[IFD0][e.tag] = true
			}
		} else {
			skip[IFD0][e.tag] = true
		}
	}

	pointers := []struct {
		parent Block
		tag    uint16
		needed bool
	}{
		{IFD0, TagExifIFDPointer, enabled[EXIF] || enabled[Interop]},
		{IFD0, TagGPSIFDPointer, enabled[GPS]},
		{EXIF, TagInteropIFDPointer, enabled[Interop]},
	}
	for _, p := range pointers {
		if !p.needed {
			continue
		}
		delete(skip[p.parent], p.tag)
		if len(pick[p.parent]) > 0 {
			pick[p.parent][p.tag] = true
		}
	}

	var p Plan
	for _, b := range Blocks() {
		p.blocks[b] = BlockPlan{
			Enabled: enabled[b],
			Skip:    fromSet(skip[b]),
			Pick:    fromSet(pick[b]),
		}
	}
	return p
}

func (s *settings) readerOptions(env Environment) ReaderOptions {
	opts := DefaultReaderOptions(env)

	if s.chunked.set {
		if s.chunked.v {
			opts.Mode = ChunkOn
		} else {
			opts.Mode = ChunkOff
		}
	}

	switch {
	case env.Kind == EnvNode && s.firstChunkSizeNode.set:
		opts.FirstChunkSize = s.firstChunkSizeNode.v
	case env.Kind == EnvBrowser && s.firstChunkSizeBrowser.set:
		opts.FirstChunkSize = s.firstChunkSizeBrowser.v
	case s.firstChunkSize.set:
		opts.FirstChunkSize = s.firstChunkSize.v
	}

	if s.chunkSize.set {
		opts.ChunkSize = s.chunkSize.v
	}
	if s.chunkLimit.set {
		opts.ChunkLimit = s.chunkLimit.v
	}

	return opts
}

func toSet(tags []uint16) map[uint16]bool {
	m := make(map[uint16]bool, len(tags))
	for _, tag := range tags {
		m[tag] = true
	}
	return m
}

func fromSet(m map[uint16]bool) TagSet {
	tags := make([]uint16, 0, len(m))
	for tag := range m {
		tags = append(tags, tag)
	}
	return newTagSet(tags...)
}

// truthy applies the non-empty test to v.
func truthy(v any) bool {
	switch vv := v.(type) {
	case nil:
		return false
	case bool:
		return vv
	case string:
		return vv != ""
	case json.Number:
		f, err := vv.Float64()
		return err == nil && f != 0
	case int:
		return vv != 0
	case int64:
		return vv != 0
	case uint64:
		return vv != 0
	case float64:
		return vv != 0 && !math.IsNaN(vv)
	case []any:
		return len(vv) > 0
	case []int:
		return len(vv) > 0
	case []uint16:
		return len(vv) > 0
	case map[string]any:
		return len(vv) > 0
	default:
		return true
	}
}

func toInt(v any) (int, bool) {
	switch vv := v.(type) {
	case int:
		return vv, true
	case int64:
		return int(vv), true
	case uint16:
		return int(vv), true
	case uint64:
		if vv > math.MaxInt32 {
			return 0, false
		}
		return int(vv), true
	case float64:
		if vv != math.Trunc(vv) || math.IsInf(vv, 0) || math.Abs(vv) > math.MaxInt32 {
			return 0, false
		}
		return int(vv), true
	case json.Number:
		return toInt(string(vv))
	case string:
		s := strings.TrimSpace(vv)
		if i, err := strconv.ParseInt(s, 0, 64); err == nil && i <= math.MaxInt32 && i >= math.MinInt32 {
			return int(i), true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return toInt(f)
		}
		return 0, false
	default:
		return 0, false
	}
}

func toTagIDs(v any) []uint16 {
	var items []any
	switch vv := v.(type) {
	case []any:
		items = vv
	case []int:
		for _, i := range vv {
			items = append(items, i)
		}
	case []uint16:
		return append([]uint16(nil), vv...)
	default:
		return nil
	}

	var tags []uint16
	for _, item := range items {
		i, ok := toInt(item)
		if !ok || i < 0 || i > math.MaxUint16 {
			continue
		}
		tags = append(tags, uint16(i))
	}
	return tags
}
