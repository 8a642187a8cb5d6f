// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grid

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestNew(t *testing.T) {
	_, err := New([]float64{1, 2}, []float64{1})
	if !errors.Is(err, ErrChannelMismatch) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrChannelMismatch)
	}
	_, err = New([]float64{1, 2}, []float64{1, 0})
	if !errors.Is(err, ErrChannelMismatch) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrChannelMismatch)
	}
	g, err := New([]float64{1, 2}, []float64{1, 1})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := g.Bandwidth(), 2.0; got != want {
		t.Fatalf("invalid bandwidth: got=%v, want=%v", got, want)
	}
}

func TestNumBins(t *testing.T) {
	for n := 1; n < 64; n++ {
		for w := 1; w < 12; w++ {
			got := NumBins(n, w)
			want := int(math.Ceil(float64(n) / float64(w)))
			if got != want {
				t.Fatalf("n=%d w=%d: got=%d, want=%d", n, w, got, want)
			}
		}
	}
}

func TestAverage(t *testing.T) {
	in := Uniform(1, 1, 8)
	for _, tc := range []struct {
		bin    int
		freqs  []float64
		widths []float64
	}{
		{bin: 1, freqs: in.Freqs, widths: in.Widths},
		{bin: 4, freqs: []float64{2.5, 6.5}, widths: []float64{4, 4}},
		{bin: 3, freqs: []float64{2, 5, 7.5}, widths: []float64{3, 3, 2}},
	} {
		got := Average(in, tc.bin)
		if !floats.Equal(got.Freqs, tc.freqs) {
			t.Fatalf("bin=%d: invalid freqs: got=%v, want=%v", tc.bin, got.Freqs, tc.freqs)
		}
		if !floats.Equal(got.Widths, tc.widths) {
			t.Fatalf("bin=%d: invalid widths: got=%v, want=%v", tc.bin, got.Widths, tc.widths)
		}
	}
}

func TestUnion(t *testing.T) {
	a := Uniform(1, 1, 2)
	b := Uniform(4, 1, 2)
	u := Union(a, b)
	if got, want := u.Freqs, []float64{1, 2, 3, 4, 5}; !floats.Equal(got, want) {
		t.Fatalf("invalid union: got=%v, want=%v", got, want)
	}
	if !u.IsUniform() {
		t.Fatalf("union grid should be uniform")
	}
}

func TestSlice(t *testing.T) {
	gs := Slice(Uniform(1, 1, 5), 2)
	if len(gs) != 2 {
		t.Fatalf("invalid number of windows: %d", len(gs))
	}
	if got, want := gs[0].Freqs, []float64{1, 2, 3}; !floats.Equal(got, want) {
		t.Fatalf("invalid first window: got=%v, want=%v", got, want)
	}
	if got, want := gs[1].Freqs, []float64{4, 5, 6}; !floats.Equal(got, want) {
		t.Fatalf("invalid padded window: got=%v, want=%v", got, want)
	}
}

func TestResolve(t *testing.T) {
	msg := zerolog.Nop()
	in := Uniform(1, 1, 8)

	t.Run("no-regrid", func(t *testing.T) {
		res, err := Resolve(in, Spec{PreAverage: 4}, nil, msg)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := res.Output.Freqs, []float64{2.5, 6.5}; !floats.Equal(got, want) {
			t.Fatalf("invalid output: got=%v, want=%v", got, want)
		}
		if got, want := res.WeightScale(), 4.0; got != want {
			t.Fatalf("invalid weight scale: got=%v, want=%v", got, want)
		}
	})

	t.Run("bin-clamp", func(t *testing.T) {
		res, err := Resolve(in, Spec{PreAverage: 20}, nil, msg)
		if err != nil {
			t.Fatal(err)
		}
		if res.Output.Len() != 1 || len(res.Corrections) != 1 {
			t.Fatalf("invalid clamp: out=%v corrections=%v", res.Output, res.Corrections)
		}
	})

	t.Run("start-beyond-band", func(t *testing.T) {
		res, err := Resolve(in, Spec{Regrid: true, Mode: ModeFrequency, Start: 20}, nil, msg)
		if err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		if len(res.Corrections) == 0 || res.Corrections[0].Param != "start" {
			t.Fatalf("missing start correction: %v", res.Corrections)
		}
		if got, want := res.Corrections[0].Applied, 8.0; got != want {
			t.Fatalf("invalid clamped start: got=%v, want=%v", got, want)
		}
		if got, want := res.Output.Freqs, []float64{8}; !floats.Equal(got, want) {
			t.Fatalf("invalid output: got=%v, want=%v", got, want)
		}
	})

	t.Run("width-clamp", func(t *testing.T) {
		res, err := Resolve(in, Spec{Regrid: true, Mode: ModeFrequency, Start: math.NaN(), Width: 100}, nil, msg)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := res.Output.Widths, []float64{8}; !floats.Equal(got, want) {
			t.Fatalf("invalid output widths: got=%v, want=%v", got, want)
		}
		if len(res.Corrections) == 0 || res.Corrections[0].Param != "width" {
			t.Fatalf("missing width correction: %v", res.Corrections)
		}
	})

	t.Run("symmetric-band", func(t *testing.T) {
		res, err := Resolve(in, Spec{Regrid: true, Mode: ModeFrequency, Start: 3, Width: 1, NChan: 8}, nil, msg)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := res.Output.Freqs, []float64{5, 6, 7, 8}; !floats.EqualApprox(got, want, 1e-9) {
			t.Fatalf("invalid output: got=%v, want=%v", got, want)
		}
	})

	t.Run("auto-pre-average", func(t *testing.T) {
		res, err := Resolve(in, Spec{Regrid: true, Mode: ModeChannel, Start: math.NaN(), Width: 2}, nil, msg)
		if err != nil {
			t.Fatal(err)
		}
		if !res.AutoPreAverage || res.PreAverage != 2 {
			t.Fatalf("expected automatic pre-averaging: %+v", res)
		}
		if got, want := res.Output.Freqs, []float64{1.5, 3.5, 5.5, 7.5}; !floats.Equal(got, want) {
			t.Fatalf("invalid output: got=%v, want=%v", got, want)
		}
		if got, want := res.WeightScale(), 2.0; got != want {
			t.Fatalf("invalid weight scale: got=%v, want=%v", got, want)
		}
	})

	t.Run("no-auto-pre-average", func(t *testing.T) {
		res, err := Resolve(Uniform(1, 1, 9), Spec{Regrid: true, Mode: ModeFrequency, Start: math.NaN(), Width: 2}, nil, msg)
		if err != nil {
			t.Fatal(err)
		}
		if res.AutoPreAverage {
			t.Fatalf("9 channels are not divisible by 2")
		}
		if got, want := res.RegridScale, 2.0; got != want {
			t.Fatalf("invalid regrid scale: got=%v, want=%v", got, want)
		}
	})

	t.Run("descending", func(t *testing.T) {
		desc := Uniform(8, -1, 8)
		res, err := Resolve(desc, Spec{PreAverage: 2}, nil, msg)
		if err != nil {
			t.Fatal(err)
		}
		if !res.Descending {
			t.Fatalf("grid should be flagged as descending")
		}
		if got, want := res.Output.Freqs, []float64{1.5, 3.5, 5.5, 7.5}; !floats.Equal(got, want) {
			t.Fatalf("invalid working output: got=%v, want=%v", got, want)
		}
		pub := res.Published()
		if got, want := pub.Freqs, []float64{7.5, 5.5, 3.5, 1.5}; !floats.Equal(got, want) {
			t.Fatalf("invalid published output: got=%v, want=%v", got, want)
		}
		if pub.Widths[0] != -2 {
			t.Fatalf("published widths should keep the input sign: %v", pub.Widths)
		}
		if desc.Widths[0] != -1 {
			t.Fatalf("input grid was modified: %v", desc.Widths)
		}
	})

	t.Run("velocity", func(t *testing.T) {
		const rest = 1.42040575e9
		g := Uniform(rest-5e5, 1e5, 10)
		_, err := Resolve(g, Spec{Regrid: true, Mode: ModeVelocity, Start: math.NaN()}, nil, msg)
		if err == nil {
			t.Fatalf("expected an error without rest frequency")
		}
		res, err := Resolve(g, Spec{Regrid: true, Mode: ModeVelocity, Start: math.NaN(), RestFreq: rest}, nil, msg)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := res.Output.Len(), 10; got != want {
			t.Fatalf("invalid number of channels: got=%d, want=%d", got, want)
		}
		for i := 1; i < res.Output.Len(); i++ {
			if res.Output.Freqs[i] <= res.Output.Freqs[i-1] {
				t.Fatalf("output grid not ascending: %v", res.Output.Freqs)
			}
		}
		if !scalar.EqualWithinAbs(res.Output.Widths[0], 1e5, 1) {
			t.Fatalf("invalid radio width: %v", res.Output.Widths[0])
		}
	})
}

func TestMapOverlaps(t *testing.T) {
	a := Uniform(1, 1, 2)
	b := Uniform(4, 1, 2)
	chans := append(Channels(0, a), Channels(1, b)...)
	SortChannels(chans)

	out := Union(a, b)
	table := MapOverlaps(chans, out)
	if len(table) != 5 {
		t.Fatalf("invalid table size: %d", len(table))
	}
	for dst, want := range []float64{1, 1, 0, 1, 1} {
		got := table.Coverage(dst, nil)
		if !scalar.EqualWithinAbs(got, want, 1e-12) {
			t.Fatalf("chan %d: invalid coverage: got=%v, want=%v", dst, got, want)
		}
	}
	if got := table.Coverage(2, nil); got >= 1 {
		t.Fatalf("gap channel must have a coverage < 1: %v", got)
	}

	half := MapOverlaps(Channels(0, Uniform(1, 1, 4)), Uniform(1.5, 1, 3))
	for dst, row := range half {
		if len(row) != 2 {
			t.Fatalf("chan %d: invalid contributors: %v", dst, row)
		}
		for _, c := range row {
			if c.Unity() || !scalar.EqualWithinAbs(c.Fraction, 0.5, 1e-12) {
				t.Fatalf("chan %d: invalid fraction: %v", dst, c)
			}
		}
	}
	wide := MapOverlaps(Channels(0, Uniform(2, 2, 1)), Uniform(1.5, 1, 2))
	for dst := range wide {
		if got := wide.Coverage(dst, nil); !scalar.EqualWithinAbs(got, 1, 1e-12) {
			t.Fatalf("chan %d: wide input should fully cover: %v", dst, got)
		}
		if c := wide[dst][0]; !scalar.EqualWithinAbs(c.Fraction, 0.5, 1e-12) {
			t.Fatalf("chan %d: invalid fraction: %v", dst, c)
		}
	}
	if got, want := table.Windows(), []int{0, 1}; len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("invalid windows: got=%v, want=%v", got, want)
	}
}

func TestConverter(t *testing.T) {
	obs := Observer{
		Position: r3.Vec{X: -1601185.4, Y: -5041977.5, Z: 3554875.9},
		Epoch:    4.9e9,
	}
	dir := Direction{RA: 1.2, Dec: -0.3}

	conv, err := NewConverter(LSRK, LSRK, obs, dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := conv(1e9); got != 1e9 {
		t.Fatalf("identity conversion changed frequency: %v", got)
	}

	for _, frame := range []Frame{Geo, Bary, LSRK, LSRD, Galacto, LGroup, CMB} {
		fwd, err := NewConverter(Topo, frame, obs, dir, nil)
		if err != nil {
			t.Fatal(err)
		}
		bwd, err := NewConverter(frame, Topo, obs, dir, nil)
		if err != nil {
			t.Fatal(err)
		}
		f := fwd(1e9)
		if math.Abs(f-1e9)/1e9 > 2e-3 {
			t.Fatalf("%v: implausible doppler factor: %v", frame, f/1e9)
		}
		if got := bwd(f); !scalar.EqualWithinRel(got, 1e9, 1e-5) {
			t.Fatalf("%v: round trip failed: got=%v", frame, got)
		}
	}

	_, err = NewConverter(Topo, Source, obs, dir, &SourceVelocity{Velocity: 1e4, Frame: Geo})
	if !errors.Is(err, ErrVelocityFrame) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrVelocityFrame)
	}

	lsrk, err := NewConverter(Topo, LSRK, obs, dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	src, err := NewConverter(Topo, Source, obs, dir, &SourceVelocity{Velocity: 3e4, Frame: LSRK})
	if err != nil {
		t.Fatal(err)
	}
	if src(1e9) <= lsrk(1e9) {
		t.Fatalf("receding source frame should raise frequencies: %v <= %v", src(1e9), lsrk(1e9))
	}
}

func TestParseFrame(t *testing.T) {
	for _, tc := range []struct {
		name string
		want Frame
		err  bool
	}{
		{"topo", Topo, false},
		{"LSRK", LSRK, false},
		{"lsr", LSRK, false},
		{"BARY", Bary, false},
		{"source", Source, false},
		{"helio", Topo, true},
	} {
		got, err := ParseFrame(tc.name)
		if (err != nil) != tc.err {
			t.Fatalf("%s: invalid error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got=%v, want=%v", tc.name, got, tc.want)
		}
	}
}
