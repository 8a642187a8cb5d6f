// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mstransform

import (
	"bytes"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/lsst-lpc/mstransform/grid"
	"github.com/lsst-lpc/mstransform/ms"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

func TestSpectra(t *testing.T) {
	m := newDataset(
		ms.Window{ID: 0, Name: "a", Grid: grid.Uniform(1e9, 1e6, 3)},
		ms.Window{ID: 1, Name: "b", Grid: grid.Uniform(2e9, 1e6, 2)},
	)
	r0 := newRow(0, 0, 10, 1, 2, 3)
	r1 := newRow(0, 1, 10, 3, -4, 5)
	r1.Flags[0][2] = true
	r2 := newRow(0, 0, 20, 5, 6, 7)
	r2.Flags[0][2] = true
	r3 := newRow(1, 0, 10, 1, 1)
	r3.Flags[0][1] = true
	m.Rows = []ms.Row{r2, r0, r1, r3}

	specs, wfs := Spectra(m, ms.DataColumn, 0)
	if len(specs) != 2 || len(wfs) != 2 {
		t.Fatalf("invalid window count: %d %d", len(specs), len(wfs))
	}

	a := specs[0]
	if a.Name != "a" || !floats.EqualApprox(a.Amps, []float64{3, 4, 3}, 1e-12) {
		t.Fatalf("invalid spectrum: %+v", a)
	}
	if got := specs[1].Flags; !reflect.DeepEqual(got, []bool{false, true}) {
		t.Fatalf("invalid flags: %v", got)
	}

	wf := wfs[0]
	if c, r := wf.Dims(); c != 2 || r != 3 {
		t.Fatalf("invalid waterfall dims: (%d, %d)", c, r)
	}
	if wf.X(0) != 10 || wf.X(1) != 20 || wf.Y(1) != a.Freqs[1] {
		t.Fatalf("invalid waterfall axes: %v %v", wf.Times, wf.Freqs)
	}
	if got := wf.Amps[0]; !floats.EqualApprox(got, []float64{2, 3, 3}, 1e-12) {
		t.Fatalf("invalid waterfall row: %v", got)
	}
	if !math.IsNaN(wf.Z(1, 2)) {
		t.Fatalf("flagged cell should be NaN, got %v", wf.Z(1, 2))
	}
}

func TestSpectrumCSV(t *testing.T) {
	want := Spectrum{
		Freqs: []float64{1e9, 1.001e9, 1.002e9},
		Amps:  []float64{0.5, 1.5, 0},
		Flags: []bool{false, false, true},
	}
	buf := new(bytes.Buffer)
	if err := WriteSpectrum(buf, want); err != nil {
		t.Fatalf("could not write spectrum: %+v", err)
	}
	got, err := LoadSpectrum(buf)
	if err != nil {
		t.Fatalf("could not load spectrum: %+v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid spectrum:\ngot= %+v\nwant=%+v", got, want)
	}

	got, err = LoadSpectrum(strings.NewReader("# freq,amp,flag\n1,2,0\n3,4,1\n"))
	if err != nil {
		t.Fatalf("could not load commented spectrum: %+v", err)
	}
	if !reflect.DeepEqual(got.Amps, []float64{2, 4}) || !reflect.DeepEqual(got.Flags, []bool{false, true}) {
		t.Fatalf("invalid commented spectrum: %+v", got)
	}
}

func TestPlot(t *testing.T) {
	m := newDataset(ms.Window{ID: 0, Name: "a", Grid: grid.Uniform(1e9, 1e6, 4)})
	r := newRow(0, 0, 10, 1, 2, 3, 4)
	r.Flags[0][3] = true
	m.Rows = []ms.Row{r, newRow(0, 0, 20, 2, 3, 4, 5)}
	specs, wfs := Spectra(m, ms.DataColumn, 0)

	c := vgimg.PngCanvas{Canvas: vgimg.New(10*vg.Centimeter, 15*vg.Centimeter)}
	if err := Plot(draw.New(c), specs[0], wfs[0]); err != nil {
		t.Fatalf("could not plot: %+v", err)
	}
	buf := new(bytes.Buffer)
	if _, err := c.WriteTo(buf); err != nil {
		t.Fatalf("could not encode plot: %+v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("invalid PNG output")
	}
}
