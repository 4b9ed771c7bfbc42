// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package metaplan

import (
	"fmt"
	"slices"
	"strings"
)

// TagSet is an immutable set of tag IDs.
// The zero value is an empty set.
type TagSet struct {
	m map[uint16]struct{}
}

func newTagSet(tags ...uint16) TagSet {
	if len(tags) == 0 {
		return TagSet{}
	}
	m := make(map[uint16]struct{}, len(tags))
	for _, tag := range tags {
		m[tag] = struct{}{}
	}
	return TagSet{m: m}
}

// Has reports whether tag is in the set.
func (s TagSet) Has(tag uint16) bool {
	_, found := s.m[tag]
	return found
}

// Len returns the number of tags in the set.
func (s TagSet) Len() int {
	return len(s.m)
}

// Tags returns the tags in ascending order.
func (s TagSet) Tags() []uint16 {
	tags := make([]uint16, 0, len(s.m))
	for tag := range s.m {
		tags = append(tags, tag)
	}
	slices.Sort(tags)
	return tags
}

func (s TagSet) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, tag := range s.Tags() {
		if i > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "0x%04X", tag)
	}
	sb.WriteString("]")
	return sb.String()
}

// BlockPlan describes how a single block should be parsed.
type BlockPlan struct {
	// Enabled reports whether the block should be parsed at all.
	Enabled bool

	// Skip holds tags that must not be parsed.
	// Only consulted when Enabled is true.
	Skip TagSet

	// Pick, if not empty, holds the only tags that should be parsed.
	Pick TagSet
}

// Parses reports whether tag should be parsed in this block.
func (b BlockPlan) Parses(tag uint16) bool {
	if !b.Enabled {
		return false
	}
	if b.Skip.Has(tag) {
		return false
	}
	return b.Pick.Len() == 0 || b.Pick.Has(tag)
}

// Plan is the resolved, per block parsing plan.
// A Plan is never modified after it has been created by Resolve.
type Plan struct {
	blocks [numBlocks]BlockPlan
}

// Block returns the plan for b.
func (p Plan) Block(b Block) BlockPlan {
	if b < 0 || b >= numBlocks {
		return BlockPlan{}
	}
	return p.blocks[b]
}

// Enabled reports whether b is enabled.
func (p Plan) Enabled(b Block) bool {
	return p.Block(b).Enabled
}

// Parses reports whether tag in block b should be parsed.
func (p Plan) Parses(b Block, tag uint16) bool {
	if b.IsIFD() && !p.Enabled(TIFF) {
		return false
	}
	return p.Block(b).Parses(tag)
}

// Traverse reports whether a decoder needs to visit the IFD for b,
// either to report its tags or to follow pointers to enabled sub IFDs.
func (p Plan) Traverse(b Block) bool {
	if !b.IsIFD() {
		return p.Enabled(b)
	}
	if !p.Enabled(TIFF) {
		return false
	}
	switch b {
	case IFD0:
		for _, bb := range []Block{IFD0, EXIF, GPS, Interop, Thumbnail} {
			if p.Enabled(bb) {
				return true
			}
		}
		return false
	case EXIF:
		return p.Enabled(EXIF) || p.Enabled(Interop)
	default:
		return p.Enabled(b)
	}
}

// String returns a one line per block summary of the plan.
func (p Plan) String() string {
	var sb strings.Builder
	for _, b := range Blocks() {
		bp := p.blocks[b]
		fmt.Fprintf(&sb, "%-9s enabled=%t", b, bp.Enabled)
		if bp.Skip.Len() > 0 {
			fmt.Fprintf(&sb, " skip=%s", bp.Skip)
		}
		if bp.Pick.Len() > 0 {
			fmt.Fprintf(&sb, " pick=%s", bp.Pick)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
