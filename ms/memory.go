// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ms

import (
	"io"
	"slices"
	"sort"

	"github.com/pkg/errors"
)

// Meta holds the subtables of a measurement set.
type Meta struct {
	Observatory Observatory
	Windows     []Window
	DataDescs   []DataDescription
	Fields      []Field
	Aux         []AuxTable
	Columns     []Column
}

// Memory is an in-memory measurement set. It can serve as an input Dataset
// and as an output Table.
type Memory struct {
	Meta Meta
	Rows []Row
	Tile TileShape

	flushed int
	closed  bool
}

// NewMemory returns an empty in-memory measurement set.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Windows() []Window                   { return m.Meta.Windows }
func (m *Memory) DataDescriptions() []DataDescription { return m.Meta.DataDescs }
func (m *Memory) Fields() []Field                     { return m.Meta.Fields }
func (m *Memory) Observatory() Observatory            { return m.Meta.Observatory }
func (m *Memory) AuxTables() []AuxTable               { return m.Meta.Aux }

func (m *Memory) HasColumn(c Column) bool {
	return slices.Contains(m.Meta.Columns, c)
}

// Window returns the window referenced by a data description.
func (m *Memory) Window(ddid int) (Window, bool) {
	for _, dd := range m.Meta.DataDescs {
		if dd.ID != ddid {
			continue
		}
		for _, w := range m.Meta.Windows {
			if w.ID == dd.Window {
				return w, true
			}
		}
	}
	return Window{}, false
}

func (m *Memory) AddRows(n int) (int, error) {
	if m.closed {
		return 0, errors.Errorf("ms: table closed")
	}
	beg := len(m.Rows)
	m.Rows = append(m.Rows, make([]Row, n)...)
	return beg, nil
}

func (m *Memory) SetTileShape(shape TileShape) error {
	m.Tile = shape
	return nil
}

func (m *Memory) PutRow(i int, row Row) error {
	if i < 0 || i >= len(m.Rows) {
		return errors.Errorf("ms: row %d out of range [0, %d)", i, len(m.Rows))
	}
	m.Rows[i] = row
	return nil
}

func (m *Memory) PutWindows(ws []Window) error {
	m.Meta.Windows = slices.Clone(ws)
	return nil
}

func (m *Memory) PutDataDescriptions(dds []DataDescription) error {
	m.Meta.DataDescs = slices.Clone(dds)
	return nil
}

func (m *Memory) PutAux(aux []AuxTable) error {
	m.Meta.Aux = slices.Clone(aux)
	return nil
}

// Flushed returns the number of rows covered by the last Flush.
func (m *Memory) Flushed() int { return m.flushed }

func (m *Memory) Flush() error {
	m.flushed = len(m.Rows)
	return nil
}

func (m *Memory) Close() error {
	m.closed = true
	return m.Flush()
}

// IterOptions controls how rows are grouped into chunks.
type IterOptions struct {
	// CombineWindows drops the data description from the sort and chunk
	// keys and replaces the time by its TimeBucket, so that all windows
	// observed in one integration share a chunk.
	CombineWindows bool
}

// Iter returns an iterator over the rows of the measurement set sorted by
// observation, array, scan, state, field, data description and time.
// Each chunk holds the rows sharing all these keys.
func (m *Memory) Iter(opts IterOptions) Iterator {
	idx := make([]int, len(m.Rows))
	for i := range idx {
		idx[i] = i
	}
	keys := func(r *Row) [7]float64 {
		dd, t := float64(r.DataDesc), r.Time
		if opts.CombineWindows {
			dd, t = 0, float64(TimeBucket(r.Time))
		}
		return [7]float64{
			float64(r.Observation), float64(r.Array), float64(r.Scan),
			float64(r.State), float64(r.Field), dd, t,
		}
	}
	sort.SliceStable(idx, func(i, j int) bool {
		ki := keys(&m.Rows[idx[i]])
		kj := keys(&m.Rows[idx[j]])
		return slices.Compare(ki[:], kj[:]) < 0
	})

	var chunks [][]int
	for i, ri := range idx {
		if i == 0 || keys(&m.Rows[ri]) != keys(&m.Rows[idx[i-1]]) {
			chunks = append(chunks, nil)
		}
		chunks[len(chunks)-1] = append(chunks[len(chunks)-1], ri)
	}
	return &memIter{rows: m.Rows, chunks: chunks}
}

type memIter struct {
	rows   []Row
	chunks [][]int
	cur    int
}

func (it *memIter) Next() (*Chunk, error) {
	if it.cur >= len(it.chunks) {
		return nil, io.EOF
	}
	ids := it.chunks[it.cur]
	it.cur++
	chunk := &Chunk{Rows: make([]Row, len(ids))}
	for i, id := range ids {
		chunk.Rows[i] = it.rows[id]
	}
	return chunk, nil
}

var (
	_ Dataset = (*Memory)(nil)
	_ Table   = (*Memory)(nil)
)
