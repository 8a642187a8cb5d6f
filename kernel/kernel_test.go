// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/lsst-lpc/mstransform/grid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
)

func stripe(data []float64, flags ...bool) Stripe[float64] {
	s := Stripe[float64]{Data: data, Flags: make([]bool, len(data))}
	copy(s.Flags, flags)
	return s
}

func TestAverageStripe(t *testing.T) {
	const (
		F = true
		U = false
	)
	for _, tc := range []struct {
		name  string
		kind  Average
		in    Stripe[float64]
		width int
		want  []float64
		flags []bool
	}{
		{
			name:  "plain",
			kind:  Plain,
			in:    stripe([]float64{1, 2, 3, 4, 5, 6, 7, 8}),
			width: 4,
			want:  []float64{2.5, 6.5},
			flags: []bool{U, U},
		},
		{
			name:  "plain-partial-bin",
			kind:  Plain,
			in:    stripe([]float64{1, 2, 3, 4, 5}),
			width: 2,
			want:  []float64{1.5, 3.5, 5},
			flags: []bool{U, U, U},
		},
		{
			name:  "flag",
			kind:  Flag,
			in:    stripe([]float64{1, 100, 3, 5}, U, F, U, U),
			width: 2,
			want:  []float64{1, 4},
			flags: []bool{U, U},
		},
		{
			name:  "flag-all-flagged",
			kind:  Flag,
			in:    stripe([]float64{2, 4, 1, 1}, F, F, U, U),
			width: 2,
			want:  []float64{3, 1},
			flags: []bool{F, U},
		},
		{
			name:  "cumsum",
			kind:  CumSum,
			in:    stripe([]float64{1, 2, 3, 4}),
			width: 2,
			want:  []float64{3, 7},
			flags: []bool{U, U},
		},
		{
			name:  "nonzero-flagged-prefix",
			kind:  FlagNonZero,
			in:    stripe([]float64{10, 20, 1, 3}, F, F, U, U),
			width: 4,
			want:  []float64{2},
			flags: []bool{U},
		},
		{
			name:  "nonzero-skip-flagged",
			kind:  FlagNonZero,
			in:    stripe([]float64{1, 100, 3, 100}, U, F, U, F),
			width: 4,
			want:  []float64{2},
			flags: []bool{U},
		},
		{
			name:  "nonzero-all-flagged",
			kind:  FlagNonZero,
			in:    stripe([]float64{2, 4}, F, F),
			width: 2,
			want:  []float64{3},
			flags: []bool{F},
		},
		{
			name:  "nonzero-cumsum",
			kind:  FlagCumSumNonZero,
			in:    stripe([]float64{10, 20, 1, 3}, F, F, U, U),
			width: 4,
			want:  []float64{4},
			flags: []bool{U},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := AverageStripe(tc.kind, tc.in, tc.width)
			if got.Len() != len(tc.want) {
				t.Fatalf("invalid length: got=%d, want=%d", got.Len(), len(tc.want))
			}
			if !floats.EqualApprox(got.Data, tc.want, 1e-12) {
				t.Fatalf("invalid data:\ngot= %v\nwant=%v", got.Data, tc.want)
			}
			for i := range tc.flags {
				if got.Flags[i] != tc.flags[i] {
					t.Fatalf("invalid flags:\ngot= %v\nwant=%v", got.Flags, tc.flags)
				}
			}
		})
	}
}

func TestAverageStripeWeighted(t *testing.T) {
	in := Stripe[complex128]{
		Data:    []complex128{1, 3i, 5, 7},
		Flags:   []bool{false, false, true, false},
		Weights: []float64{1, 3, 10, 2},
	}
	got := AverageStripe(FlagWeight, in, 2)
	if want := (1 + 9i) / 4; cmplx.Abs(got.Data[0]-want) > 1e-12 {
		t.Fatalf("invalid bin 0: got=%v, want=%v", got.Data[0], want)
	}
	if got.Data[1] != 7 || got.Flags[1] {
		t.Fatalf("invalid bin 1: got=%v (flag=%v)", got.Data[1], got.Flags[1])
	}
	if !floats.Equal(got.Weights, []float64{4, 2}) {
		t.Fatalf("invalid weights: %v", got.Weights)
	}

	flagged := AverageStripe(FlagWeight, Stripe[complex128]{
		Data:    []complex128{2, 8},
		Flags:   []bool{true, true},
		Weights: []float64{3, 1},
	}, 2)
	if flagged.Data[0] != 3.5 || !flagged.Flags[0] || flagged.Weights[0] != 0 {
		t.Fatalf("all-flagged bin should keep the weighted mean of its inputs: got=%v (flag=%v, weight=%v)",
			flagged.Data[0], flagged.Flags[0], flagged.Weights[0])
	}

	zero := AverageStripe(Weight, Stripe[complex128]{Data: []complex128{1, 2}, Weights: []float64{0, 0}}, 2)
	if !zero.Flags[0] {
		t.Fatalf("zero total weight should flag the output")
	}
}

func TestWeightSigma(t *testing.T) {
	for _, w := range []float64{1e-30, 1e-3, 0.25, 1, 42, 1e12} {
		s := WeightToSigma(w)
		if got := SigmaToWeight(s); !scalar.EqualWithinRel(got, w, 1e-12) {
			t.Fatalf("round trip of %v: got=%v", w, got)
		}
	}
	for _, w := range []float64{0, -1, math.NaN(), math.Inf(1), 1e-40} {
		if got := WeightToSigma(w); got != InvalidSigma {
			t.Fatalf("weight %v: got sigma=%v, want=%v", w, got, InvalidSigma)
		}
	}
	for _, s := range []float64{0, -2, InvalidSigma, math.NaN(), math.Inf(1)} {
		if got := SigmaToWeight(s); got != 0 {
			t.Fatalf("sigma %v: got weight=%v, want=0", s, got)
		}
	}
	if got, want := ScaleSigma(2, 4), 1.0; got != want {
		t.Fatalf("invalid scaled sigma: got=%v, want=%v", got, want)
	}
	if got := ScaleSigma(InvalidSigma, 4); got != InvalidSigma {
		t.Fatalf("invalid sigma should stay invalid: %v", got)
	}
}

func TestRowScalar(t *testing.T) {
	if got := RowScalar(stripe([]float64{1, 100, 3}, false, true, false)); got != 2 {
		t.Fatalf("invalid unflagged mean: %v", got)
	}
	if got := RowScalar(stripe([]float64{1, 3}, true, true)); got != 2 {
		t.Fatalf("invalid all-flagged mean: %v", got)
	}
}

func TestHanning(t *testing.T) {
	flat := HanningStripe(stripe([]float64{1, 1, 1, 1}))
	if !floats.EqualApprox(flat.Data, []float64{1, 1, 1, 1}, 1e-12) {
		t.Fatalf("flat spectrum not preserved: %v", flat.Data)
	}

	in := stripe([]float64{0, 4, 8}, true)
	got := HanningStripe(in)
	if want := 4.0 / 0.75; !scalar.EqualWithinAbs(got.Data[1], want, 1e-12) {
		t.Fatalf("flagged neighbour not excluded: got=%v, want=%v", got.Data[1], want)
	}
	if !got.Flags[0] || got.Flags[1] || got.Flags[2] {
		t.Fatalf("invalid flags: %v", got.Flags)
	}

	ws := HanningWeights(Stripe[float64]{Data: make([]float64, 3), Weights: []float64{1, 1, 1}})
	if want := 1 / 0.375; !scalar.EqualWithinAbs(ws.Data[1], want, 1e-12) {
		t.Fatalf("invalid propagated weight: got=%v, want=%v", ws.Data[1], want)
	}
}

func TestFourierSmooth(t *testing.T) {
	in := Stripe[complex128]{
		Data:  []complex128{2 + 1i, 2 + 1i, 2 + 1i, 2 + 1i, 2 + 1i, 2 + 1i},
		Flags: []bool{false, false, true, false, false, false},
	}
	got := FourierSmoothStripe(in, 2)
	for i, v := range got.Data {
		if cmplx.Abs(v-(2+1i)) > 1e-9 {
			t.Fatalf("channel %d: got=%v, want=%v", i, v, 2+1i)
		}
	}
	if !got.Flags[2] {
		t.Fatalf("flag not preserved")
	}
}

func TestRegrid(t *testing.T) {
	var (
		from = []float64{0, 1, 2, 3}
		in   = stripe([]float64{0, 10, 20, 30})
		to   = []float64{0.5, 2.5, 3.5}
	)
	for _, tc := range []struct {
		m     Method
		extra bool
		want  []float64
		flags []bool
	}{
		{Linear, false, []float64{5, 25, 0}, []bool{false, false, true}},
		{Linear, true, []float64{5, 25, 30}, []bool{false, false, false}},
		{Nearest, false, []float64{0, 20, 0}, []bool{false, false, true}},
		{Spline, false, []float64{5, 25, 0}, []bool{false, false, true}},
	} {
		t.Run(tc.m.String(), func(t *testing.T) {
			got := RegridStripe(in, from, to, tc.m, tc.extra)
			if !floats.EqualApprox(got.Data, tc.want, 1e-9) {
				t.Fatalf("invalid data:\ngot= %v\nwant=%v", got.Data, tc.want)
			}
			for i := range tc.flags {
				if got.Flags[i] != tc.flags[i] {
					t.Fatalf("invalid flags:\ngot= %v\nwant=%v", got.Flags, tc.flags)
				}
			}
		})
	}

	t.Run("flagged-input", func(t *testing.T) {
		in := stripe([]float64{0, 1000, 1000, 30}, false, true, true, false)
		got := RegridStripe(in, from, []float64{1.5}, Linear, false)
		if !got.Flags[0] {
			t.Fatalf("output between flagged inputs should be flagged")
		}
		if !scalar.EqualWithinAbs(got.Data[0], 15, 1e-9) {
			t.Fatalf("flagged inputs should not be fitted: got=%v", got.Data[0])
		}
	})
}

func TestShift(t *testing.T) {
	const n = 8
	in := NewStripe[complex128](n, false)
	for i := range in.Data {
		in.Data[i] = complex(math.Cos(2*math.Pi*float64(i)/n), math.Sin(4*math.Pi*float64(i)/n))
	}
	got := ShiftStripe(in, 1)
	if !got.Flags[0] {
		t.Fatalf("channel with no source should be flagged")
	}
	for i := 1; i < n; i++ {
		if cmplx.Abs(got.Data[i]-in.Data[i-1]) > 1e-9 {
			t.Fatalf("channel %d: got=%v, want=%v", i, got.Data[i], in.Data[i-1])
		}
	}

	if got, want := ShiftChannels(250e3, 2e6, 8), 1.0; got != want {
		t.Fatalf("invalid shift: got=%v, want=%v", got, want)
	}
}

func TestUniformize(t *testing.T) {
	in := stripe([]float64{0, 10, 30})
	got, to := Uniformize(in, []float64{0, 1, 3})
	if !floats.EqualApprox(to, []float64{0, 1.5, 3}, 1e-12) {
		t.Fatalf("invalid grid: %v", to)
	}
	if !floats.EqualApprox(got.Data, []float64{0, 20, 30}, 1e-9) {
		t.Fatalf("invalid data: %v", got.Data)
	}
}

func TestPhaseShift(t *testing.T) {
	s := Stripe[complex128]{Data: []complex128{1, 1i}}
	PhaseShift(s, [3]float64{100, 50, 0}, 0, 0, []float64{1e9, 2e9})
	if s.Data[0] != 1 || s.Data[1] != 1i {
		t.Fatalf("zero offset should be a no-op: %v", s.Data)
	}

	PhaseShift(s, [3]float64{100, 50, 10}, 1e-3, -2e-3, []float64{1e9, 2e9})
	for i, v := range s.Data {
		if !scalar.EqualWithinAbs(cmplx.Abs(v), 1, 1e-12) {
			t.Fatalf("channel %d: amplitude changed: %v", i, cmplx.Abs(v))
		}
	}
	path := 100*1e-3 + 50*-2e-3 + 10*(math.Sqrt(1-1e-6-4e-6)-1)
	want := -2 * math.Pi * path * 1e9 / SpeedOfLight
	if got := cmplx.Phase(s.Data[0]); !scalar.EqualWithinAbs(got, want, 1e-9) {
		t.Fatalf("invalid phase: got=%v, want=%v", got, want)
	}
}

func TestCombine(t *testing.T) {
	var (
		g0 = grid.Uniform(1e9, 1e6, 4)
		g1 = grid.Uniform(1e9, 1e6, 4)
	)
	chans := append(grid.Channels(0, g0), grid.Channels(1, g1)...)
	grid.SortChannels(chans)
	contribs := grid.MapOverlaps(chans, g0)

	src := map[int]Stripe[complex128]{
		0: {Data: []complex128{1, 2, 3, 4}, Flags: []bool{false, false, true, false}, Weights: []float64{1, 1, 1, 1}},
		1: {Data: []complex128{3, 4, 5, 6}, Flags: []bool{false, false, false, false}, Weights: []float64{1, 1, 1, 1}},
	}
	get := func(w int) (Stripe[complex128], bool) { s, ok := src[w]; return s, ok }

	got := CombineStripe(4, contribs, get)
	want := []complex128{2, 3, 5, 5}
	for i := range want {
		if cmplx.Abs(got.Data[i]-want[i]) > 1e-12 || got.Flags[i] {
			t.Fatalf("channel %d: got=%v (flag=%v), want=%v", i, got.Data[i], got.Flags[i], want[i])
		}
	}

	t.Run("gap", func(t *testing.T) {
		var (
			a   = grid.Uniform(1e9, 1e6, 2)
			b   = grid.Uniform(1e9+3e6, 1e6, 2)
			out = grid.Union(a, b)
		)
		chans := append(grid.Channels(0, a), grid.Channels(1, b)...)
		contribs := grid.MapOverlaps(chans, out)
		src := map[int]Stripe[float64]{
			0: stripe([]float64{1, 2}),
			1: stripe([]float64{4, 5}),
		}
		got := CombineStripe(out.Len(), contribs, func(w int) (Stripe[float64], bool) { s, ok := src[w]; return s, ok })
		if got.Len() != 5 {
			t.Fatalf("invalid length: %d", got.Len())
		}
		if !got.Flags[2] {
			t.Fatalf("gap channel should be flagged")
		}
		if got.Flags[0] || got.Flags[4] || got.Data[4] != 5 {
			t.Fatalf("invalid edges: %v %v", got.Data, got.Flags)
		}
	})

	t.Run("odd-partial-discard", func(t *testing.T) {
		contribs := grid.Contributions{{
			{SrcWindow: 0, SrcChan: 0, Fraction: 1, Cover: 1},
			{SrcWindow: 1, SrcChan: 0, Fraction: 0.5, Cover: 0.5},
		}}
		src := map[int]Stripe[float64]{
			0: stripe([]float64{2}),
			1: stripe([]float64{100}),
		}
		got := CombineStripe(1, contribs, func(w int) (Stripe[float64], bool) { s, ok := src[w]; return s, ok })
		if got.Data[0] != 2 || got.Flags[0] {
			t.Fatalf("partial contributor should be dropped: got=%v (flag=%v)", got.Data[0], got.Flags[0])
		}
	})

	t.Run("wider-input", func(t *testing.T) {
		var (
			a   = grid.Uniform(1e9, 1e6, 2)
			b   = grid.Uniform(1e9+2.5e6, 2e6, 1)
			out = grid.Union(a, b)
		)
		chans := append(grid.Channels(0, a), grid.Channels(1, b)...)
		contribs := grid.MapOverlaps(chans, out)
		src := map[int]Stripe[float64]{
			0: stripe([]float64{1, 2}),
			1: stripe([]float64{7}),
		}
		got := CombineStripe(out.Len(), contribs, func(w int) (Stripe[float64], bool) { s, ok := src[w]; return s, ok })
		if got.Len() != 4 {
			t.Fatalf("invalid length: %d", got.Len())
		}
		for i, want := range []float64{1, 2, 7, 7} {
			if got.Flags[i] || !scalar.EqualWithinAbs(got.Data[i], want, 1e-12) {
				t.Fatalf("channel %d: got=%v (flag=%v), want=%v", i, got.Data[i], got.Flags[i], want)
			}
		}
		if !scalar.EqualWithinAbs(got.Weights[2], 0.5, 1e-12) {
			t.Fatalf("wide channel weight should scale with its overlap: %v", got.Weights)
		}
	})
}
