// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package output

import (
	"github.com/lsst-lpc/mstransform/ms"
)

// Key locates the output row of a baseline at a given time.
type Key struct {
	Ant1, Ant2 int
	Bucket     int64
}

// KeyOf returns the baseline key of a row.
func KeyOf(r *ms.Row) Key {
	return Key{
		Ant1:   r.Ant1,
		Ant2:   r.Ant2,
		Bucket: ms.TimeBucket(r.Time),
	}
}

// BaselineIndex groups the rows of a chunk by baseline key, in order of
// first occurrence.
type BaselineIndex struct {
	idx  map[Key]int
	keys []Key
	rows [][]int
}

// NewBaselineIndex returns an empty index.
func NewBaselineIndex() *BaselineIndex {
	return &BaselineIndex{idx: make(map[Key]int)}
}

// Index builds the index of the given rows.
func Index(rows []ms.Row) *BaselineIndex {
	b := NewBaselineIndex()
	for i := range rows {
		b.Add(KeyOf(&rows[i]), i)
	}
	return b
}

// Add records row under key k and returns the group of k.
func (b *BaselineIndex) Add(k Key, row int) int {
	g, ok := b.idx[k]
	if !ok {
		g = len(b.keys)
		b.idx[k] = g
		b.keys = append(b.keys, k)
		b.rows = append(b.rows, nil)
	}
	b.rows[g] = append(b.rows[g], row)
	return g
}

// Lookup returns the group of key k.
func (b *BaselineIndex) Lookup(k Key) (int, bool) {
	g, ok := b.idx[k]
	return g, ok
}

// Len returns the number of groups.
func (b *BaselineIndex) Len() int { return len(b.keys) }

// Group returns the key and the rows of group g.
func (b *BaselineIndex) Group(g int) (Key, []int) {
	return b.keys[g], b.rows[g]
}
