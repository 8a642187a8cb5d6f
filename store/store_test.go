// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"reflect"
	"testing"

	"github.com/lsst-lpc/mstransform/grid"
	"github.com/lsst-lpc/mstransform/kernel"
	"github.com/lsst-lpc/mstransform/ms"
)

func sampleRow(ant int) ms.Row {
	return ms.Row{
		Scan: 2, Field: 1, DataDesc: 3, Ant1: ant, Ant2: ant + 1,
		Time: 5e9, Interval: 10, UVW: [3]float64{1, 2, 3},
		Data: map[ms.Column][][]complex128{
			ms.DataColumn:      {{1 + 2i, 3}, {-1i, 0}},
			ms.CorrectedColumn: {{1, 1}, {2, 2}},
		},
		Flags:          [][]bool{{false, true}, {false, false}},
		Weight:         []float64{2, 2},
		Sigma:          []float64{0.5, kernel.InvalidSigma},
		WeightSpectrum: [][]float64{{2, 0}, {2, 2}},
		SigmaSpectrum:  [][]float64{{0.7, kernel.InvalidSigma}, {0.7, 0.7}},
	}
}

func TestTable(t *testing.T) {
	tbl, err := Open("")
	if err != nil {
		t.Fatalf("could not open in-memory store: %+v", err)
	}
	defer tbl.Close()

	beg, err := tbl.AddRows(2)
	if err != nil || beg != 0 {
		t.Fatalf("could not add rows: beg=%d err=%+v", beg, err)
	}
	rows := []ms.Row{sampleRow(0), sampleRow(4)}
	for i, row := range rows {
		if err := tbl.PutRow(beg+i, row); err != nil {
			t.Fatalf("could not put row %d: %+v", i, err)
		}
	}
	if err := tbl.PutRow(5, rows[0]); err == nil {
		t.Fatalf("expected an out of range error")
	}
	ws := []ms.Window{{ID: 0, Name: "out", Frame: grid.LSRK, Grid: grid.Uniform(1e9, 1e6, 2)}}
	dds := []ms.DataDescription{{ID: 0, Window: 0}}
	aux := []ms.AuxTable{{Name: "SYSCAL", Rows: []ms.AuxRow{{Window: 0, Time: 5e9, Values: []float64{40}}}}}
	for _, err := range []error{
		tbl.SetTileShape(ms.TileShape{Corr: 2, Chan: 2, Rows: 2}),
		tbl.PutWindows(ws),
		tbl.PutDataDescriptions(dds),
		tbl.PutAux(aux),
		tbl.Flush(),
	} {
		if err != nil {
			t.Fatalf("could not write table: %+v", err)
		}
	}

	m, err := tbl.Load()
	if err != nil {
		t.Fatalf("could not load: %+v", err)
	}
	switch {
	case !reflect.DeepEqual(m.Rows, rows):
		t.Fatalf("invalid rows:\ngot= %+v\nwant=%+v", m.Rows, rows)
	case !reflect.DeepEqual(m.Meta.Windows, ws):
		t.Fatalf("invalid windows: %+v", m.Meta.Windows)
	case !reflect.DeepEqual(m.Meta.DataDescs, dds):
		t.Fatalf("invalid data descriptions: %+v", m.Meta.DataDescs)
	case !reflect.DeepEqual(m.Meta.Aux, aux):
		t.Fatalf("invalid aux tables: %+v", m.Meta.Aux)
	case m.Tile != (ms.TileShape{Corr: 2, Chan: 2, Rows: 2}):
		t.Fatalf("invalid tile shape: %+v", m.Tile)
	}
	want := []ms.Column{ms.DataColumn, ms.CorrectedColumn, ms.WeightSpectrumColumn, ms.SigmaSpectrumColumn}
	if !reflect.DeepEqual(m.Meta.Columns, want) {
		t.Fatalf("invalid columns: %v", m.Meta.Columns)
	}
}

func TestTableReopen(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Open(dir)
	if err != nil {
		t.Fatalf("could not open store: %+v", err)
	}
	if _, err := tbl.AddRows(3); err != nil {
		t.Fatalf("could not add rows: %+v", err)
	}
	if err := tbl.PutRow(2, sampleRow(1)); err != nil {
		t.Fatalf("could not put row: %+v", err)
	}
	if err := tbl.Close(); err != nil {
		t.Fatalf("could not close: %+v", err)
	}

	tbl, err = Open(dir)
	if err != nil {
		t.Fatalf("could not reopen store: %+v", err)
	}
	defer tbl.Close()
	if got, want := tbl.Len(), 3; got != want {
		t.Fatalf("invalid row count: got=%d, want=%d", got, want)
	}
	beg, err := tbl.AddRows(1)
	if err != nil || beg != 3 {
		t.Fatalf("rows should be appended: beg=%d err=%+v", beg, err)
	}
	m, err := tbl.Load()
	if err != nil {
		t.Fatalf("could not load: %+v", err)
	}
	if m.Rows[2].Ant1 != 1 || m.Rows[0].Data != nil {
		t.Fatalf("invalid reloaded rows: %+v", m.Rows)
	}
}
