// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package metaplan

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/google/go-cmp/cmp"
)

func TestSpans(t *testing.T) {
	c := qt.New(t)

	var s spans
	s = s.add(10, 20)
	s = s.add(30, 40)
	s = s.add(0, 5)
	c.Assert(s, qt.CmpEquals(cmp.AllowUnexported(span{})), spans{{0, 5}, {10, 20}, {30, 40}})

	s = s.add(20, 30)
	c.Assert(s, qt.CmpEquals(cmp.AllowUnexported(span{})), spans{{0, 5}, {10, 40}})

	s = s.add(3, 12)
	c.Assert(s, qt.CmpEquals(cmp.AllowUnexported(span{})), spans{{0, 40}})

	s = s.add(50, 50)
	c.Assert(s, qt.CmpEquals(cmp.AllowUnexported(span{})), spans{{0, 40}})

	s = s.add(100, 200)
	gap, missing := s.firstGap(10, 150)
	c.Assert(missing, qt.IsTrue)
	c.Assert(gap, qt.Equals, int64(40))

	gap, missing = s.firstGap(60, 150)
	c.Assert(missing, qt.IsTrue)
	c.Assert(gap, qt.Equals, int64(60))

	_, missing = s.firstGap(100, 200)
	c.Assert(missing, qt.IsFalse)
	_, missing = s.firstGap(5, 5)
	c.Assert(missing, qt.IsFalse)
	gap, missing = s.firstGap(150, 201)
	c.Assert(missing, qt.IsTrue)
	c.Assert(gap, qt.Equals, int64(200))
}

func TestRoundToMul(t *testing.T) {
	c := qt.New(t)

	c.Assert(roundToMul(1, 100), qt.Equals, 100)
	c.Assert(roundToMul(100, 100), qt.Equals, 100)
	c.Assert(roundToMul(101, 100), qt.Equals, 200)
}

func TestEnvironmentForGOOS(t *testing.T) {
	c := qt.New(t)

	c.Assert(environmentForGOOS("linux").Kind, qt.Equals, EnvNode)
	c.Assert(environmentForGOOS("darwin").Kind, qt.Equals, EnvNode)
	c.Assert(environmentForGOOS("js").Kind, qt.Equals, EnvBrowser)
	c.Assert(environmentForGOOS("wasip1").Kind, qt.Equals, EnvUnknown)
	c.Assert(EnvBrowser.String(), qt.Equals, "browser")
}

func TestTagSet(t *testing.T) {
	c := qt.New(t)

	var empty TagSet
	c.Assert(empty.Len(), qt.Equals, 0)
	c.Assert(empty.Has(1), qt.IsFalse)
	c.Assert(empty.String(), qt.Equals, "[]")

	s := newTagSet(0x9286, 0x927C, 0x9286)
	c.Assert(s.Len(), qt.Equals, 2)
	c.Assert(s.Tags(), qt.DeepEquals, []uint16{0x927C, 0x9286})
	c.Assert(s.String(), qt.Equals, "[0x927C 0x9286]")
}

func TestTruthy(t *testing.T) {
	c := qt.New(t)

	for _, v := range []any{true, 1, -1, "false", 0.1, []any{0}, []int{0}, []uint16{1}, map[string]any{"a": nil}, struct{}{}} {
		c.Assert(truthy(v), qt.IsTrue, qt.Commentf("%v", v))
	}
	for _, v := range []any{false, 0, "", nil, 0.0, []any{}, []int{}, []uint16{}, map[string]any{}} {
		c.Assert(truthy(v), qt.IsFalse, qt.Commentf("%v", v))
	}
}
