// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package output

import (
	"reflect"
	"testing"

	"github.com/lsst-lpc/mstransform/kernel"
	"github.com/lsst-lpc/mstransform/ms"
	"github.com/lsst-lpc/mstransform/plan"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats/scalar"
)

type tileCounter struct {
	*ms.Memory
	tiles int
}

func (t *tileCounter) SetTileShape(shape ms.TileShape) error {
	t.tiles++
	return t.Memory.SetTileShape(shape)
}

func stripe(vs ...float64) kernel.Stripe[complex128] {
	s := kernel.NewStripe[complex128](len(vs), false)
	for i, v := range vs {
		s.Data[i] = complex(v, 0)
	}
	return s
}

func weights(vs ...float64) kernel.Stripe[float64] {
	s := kernel.NewStripe[float64](len(vs), false)
	copy(s.Data, vs)
	return s
}

func TestBaselineIndex(t *testing.T) {
	rows := []ms.Row{
		{Ant1: 0, Ant2: 1, Time: 10, DataDesc: 0},
		{Ant1: 0, Ant2: 2, Time: 10, DataDesc: 0},
		{Ant1: 0, Ant2: 1, Time: 10.00001, DataDesc: 1}, // same 0.1 ms bucket
		{Ant1: 0, Ant2: 2, Time: 10, DataDesc: 1},
		{Ant1: 0, Ant2: 1, Time: 10.001, DataDesc: 1},
	}
	idx := Index(rows)
	if got, want := idx.Len(), 3; got != want {
		t.Fatalf("invalid group count: got=%d, want=%d", got, want)
	}
	for g, want := range [][]int{{0, 2}, {1, 3}, {4}} {
		_, got := idx.Group(g)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("group %d: got=%v, want=%v", g, got, want)
		}
	}
	if g, ok := idx.Lookup(KeyOf(&rows[3])); !ok || g != 1 {
		t.Fatalf("invalid lookup: %d %v", g, ok)
	}
}

func TestAssemblerDirect(t *testing.T) {
	tbl := &tileCounter{Memory: ms.NewMemory()}
	a := New(plan.Reshape, Direct{Table: tbl}, zerolog.Nop())
	shape := Shape{Corr: 1, Chan: 2, Columns: []ms.Column{ms.DataColumn}}

	for chunk := 0; chunk < 2; chunk++ {
		for r := 0; r < 2; r++ {
			i := a.Add(ms.Row{Ant1: r, Ant2: 3, Weight: []float64{4}, Sigma: []float64{0.5}}, shape, []int{7})
			s := stripe(1, 2)
			s.Flags[1] = true
			a.PutData(i, ms.DataColumn, 0, s)
			a.PutWeights(i, 0, weights(4, 4))
		}
		if err := a.Flush(); err != nil {
			t.Fatalf("could not flush: %+v", err)
		}
	}
	if err := a.Close(nil, nil, nil); err != nil {
		t.Fatalf("could not close: %+v", err)
	}

	switch {
	case a.Written() != 4 || len(tbl.Rows) != 4:
		t.Fatalf("invalid row count: written=%d table=%d", a.Written(), len(tbl.Rows))
	case tbl.tiles != 1:
		t.Fatalf("tile shape set %d times", tbl.tiles)
	case tbl.Flushed() == 0:
		t.Fatalf("table was not flushed")
	}
	row := tbl.Rows[3]
	switch {
	case row.DataDesc != 7 || row.Ant1 != 1:
		t.Fatalf("invalid identifiers: %+v", row)
	case !reflect.DeepEqual(row.Flags, [][]bool{{false, true}}):
		t.Fatalf("invalid flags: %v", row.Flags)
	case !scalar.EqualWithinAbs(row.SigmaSpectrum[0][0], 0.5, 1e-12):
		t.Fatalf("invalid sigma spectrum: %v", row.SigmaSpectrum)
	case row.Weight[0] != 4 || row.Sigma[0] != 0.5:
		t.Fatalf("invalid scalars: %v %v", row.Weight, row.Sigma)
	}
}

func TestAssemblerColumns(t *testing.T) {
	tbl := ms.NewMemory()
	a := New(plan.Reshape, Direct{Table: tbl}, zerolog.Nop())
	shape := Shape{Corr: 1, Chan: 3, Columns: []ms.Column{ms.CorrectedColumn, ms.DataColumn}}
	i := a.Add(ms.Row{Ant1: 0, Ant2: 1}, shape, []int{0})

	corrected := stripe(10, 20, 30)
	corrected.Flags[0] = true
	data := stripe(1, 2, 3)
	data.Flags[2] = true
	a.PutData(i, ms.CorrectedColumn, 0, corrected)
	a.PutData(i, ms.DataColumn, 0, data)
	a.PutWeights(i, 0, weights(4, 1, 0))
	if err := a.Close(nil, nil, nil); err != nil {
		t.Fatalf("could not close: %+v", err)
	}

	row := tbl.Rows[0]
	switch {
	case !reflect.DeepEqual(row.Flags, [][]bool{{true, false, true}}):
		t.Fatalf("flags should accumulate over columns: %v", row.Flags)
	case !reflect.DeepEqual(row.Data[ms.CorrectedColumn][0], []complex128{10, 20, 30}):
		t.Fatalf("invalid corrected data: %v", row.Data[ms.CorrectedColumn])
	case !reflect.DeepEqual(row.Data[ms.DataColumn][0], []complex128{1, 2, 3}):
		t.Fatalf("invalid data: %v", row.Data[ms.DataColumn])
	case !reflect.DeepEqual(row.WeightSpectrum[0], []float64{4, 1, 0}):
		t.Fatalf("invalid weight spectrum: %v", row.WeightSpectrum)
	case row.SigmaSpectrum[0][0] != 0.5 || row.SigmaSpectrum[0][1] != 1 || row.SigmaSpectrum[0][2] != kernel.InvalidSigma:
		t.Fatalf("invalid sigma spectrum: %v", row.SigmaSpectrum)
	}
}

func TestAssemblerSliced(t *testing.T) {
	tbl := ms.NewMemory()
	a := New(plan.Sliced, Direct{Table: tbl}, zerolog.Nop())
	shape := Shape{Corr: 1, Chan: 5, Columns: []ms.Column{ms.DataColumn}}

	i := a.Add(ms.Row{Ant1: 0, Ant2: 1}, shape, []int{0, 1})
	a.PutData(i, ms.DataColumn, 0, stripe(1, 2, 3, 4, 5))
	a.PutWeights(i, 0, weights(1, 1, 1, 2, 2))
	if err := a.Flush(); err != nil {
		t.Fatalf("could not flush: %+v", err)
	}

	if len(tbl.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(tbl.Rows))
	}
	first, last := tbl.Rows[0], tbl.Rows[1]
	if first.DataDesc != 0 || last.DataDesc != 1 {
		t.Fatalf("invalid data descriptions: %d %d", first.DataDesc, last.DataDesc)
	}
	if got, want := last.Data[ms.DataColumn][0], []complex128{4, 5, 0}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid padded data: got=%v, want=%v", got, want)
	}
	if got, want := last.Flags[0], []bool{false, false, true}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid padded flags: got=%v, want=%v", got, want)
	}
	if got := last.SigmaSpectrum[0][2]; got != kernel.InvalidSigma {
		t.Fatalf("padded sigma should be invalid, got %v", got)
	}
	if got := last.Weight[0]; !scalar.EqualWithinAbs(got, 2, 1e-12) {
		t.Fatalf("invalid slice weight: %v", got)
	}
	if got := first.Weight[0]; !scalar.EqualWithinAbs(got, 1, 1e-12) {
		t.Fatalf("invalid slice weight: %v", got)
	}
	if tbl.Tile.Chan != 3 {
		t.Fatalf("invalid tile shape: %+v", tbl.Tile)
	}
}

func TestAssemblerBuffer(t *testing.T) {
	var (
		tbl = ms.NewMemory()
		buf = new(Buffer)
		a   = New(plan.Block, buf, zerolog.Nop())
	)
	shape := Shape{Corr: 1, Chan: 2, Columns: []ms.Column{ms.DataColumn}}
	i := a.Add(ms.Row{Ant1: 0, Ant2: 1}, shape, []int{0})
	a.PutData(i, ms.DataColumn, 0, stripe(1, 2))
	ws := []ms.Window{{ID: 0, Name: "out"}}
	if err := a.Close(ws, nil, nil); err != nil {
		t.Fatalf("could not close: %+v", err)
	}
	if len(tbl.Rows) != 0 || len(buf.Rows) != 1 {
		t.Fatalf("buffered rows leaked: table=%d buffer=%d", len(tbl.Rows), len(buf.Rows))
	}

	buf.Rows[0].Data[ms.DataColumn][0][0] = 42
	if err := buf.Commit(tbl); err != nil {
		t.Fatalf("could not commit: %+v", err)
	}
	switch {
	case len(tbl.Rows) != 1 || tbl.Rows[0].Data[ms.DataColumn][0][0] != 42:
		t.Fatalf("invalid committed rows: %+v", tbl.Rows)
	case !reflect.DeepEqual(tbl.Meta.Windows, ws):
		t.Fatalf("invalid committed windows: %+v", tbl.Meta.Windows)
	case len(buf.Rows) != 0:
		t.Fatalf("buffer should be empty after commit")
	}
}
