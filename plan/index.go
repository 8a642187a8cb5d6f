// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package plan

import (
	"slices"
)

// IndexMap maps input ids to output ids.
// The zero value is the identity map.
type IndexMap struct {
	m map[int]int
}

// Compact returns the map numbering the given ids 0, 1, ... in ascending
// order. Ids not in the list are not mapped.
func Compact(ids []int) IndexMap {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	m := IndexMap{m: make(map[int]int, len(ids))}
	for i, id := range ids {
		m.m[id] = i
	}
	return m
}

// Constant returns the map sending every id in ids to out.
func Constant(ids []int, out int) IndexMap {
	m := IndexMap{m: make(map[int]int, len(ids))}
	for _, id := range ids {
		m.m[id] = out
	}
	return m
}

// Get returns the output id of id.
func (m IndexMap) Get(id int) (int, bool) {
	if m.m == nil {
		return id, true
	}
	o, ok := m.m[id]
	return o, ok
}

// Identity reports whether the map is the identity.
func (m IndexMap) Identity() bool { return m.m == nil }

// IndexMaps holds the id maps of every indexed axis.
type IndexMaps struct {
	Observation IndexMap
	Array       IndexMap
	Scan        IndexMap
	State       IndexMap
	Field       IndexMap
	Window      IndexMap
	Antenna     IndexMap

	// DataDesc gives the output data descriptions of an input one, one per
	// output window slice.
	DataDesc map[int][]int
}

// NewIndexMap returns the map holding the given input to output pairs.
func NewIndexMap(m map[int]int) IndexMap {
	o := IndexMap{m: make(map[int]int, len(m))}
	for k, v := range m {
		o.m[k] = v
	}
	return o
}
