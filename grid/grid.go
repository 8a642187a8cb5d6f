// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package grid computes spectral window channel grids: pre-averaging,
// reference-frame conversion, regridding boundaries and the channel overlap
// tables used when spectral windows are combined.
package grid

import (
	"math"
	"slices"

	"github.com/pkg/errors"
)

var (
	// ErrChannelMismatch reports channel frequency and width arrays that
	// cannot describe the same grid.
	ErrChannelMismatch = errors.New("grid: channel/width mismatch")
)

// tol is the relative tolerance used when comparing channel boundaries.
const tol = 1e-6

// Grid is an ordered sequence of channel centres and widths, in Hz.
// Widths may be negative for descending grids.
type Grid struct {
	Freqs  []float64
	Widths []float64
}

// New returns a grid from the provided centres and widths.
func New(freqs, widths []float64) (Grid, error) {
	if len(freqs) != len(widths) {
		return Grid{}, errors.Wrapf(ErrChannelMismatch, "got %d frequencies and %d widths", len(freqs), len(widths))
	}
	if len(freqs) == 0 {
		return Grid{}, errors.Wrap(ErrChannelMismatch, "empty grid")
	}
	for i, w := range widths {
		if w == 0 || math.IsNaN(w) || math.IsNaN(freqs[i]) {
			return Grid{}, errors.Wrapf(ErrChannelMismatch, "invalid channel %d (freq=%v, width=%v)", i, freqs[i], w)
		}
	}
	return Grid{Freqs: freqs, Widths: widths}, nil
}

// Uniform returns a grid of n channels of the given width whose first
// channel is centred on f0.
func Uniform(f0, width float64, n int) Grid {
	g := Grid{
		Freqs:  make([]float64, n),
		Widths: make([]float64, n),
	}
	for i := range g.Freqs {
		g.Freqs[i] = f0 + float64(i)*width
		g.Widths[i] = width
	}
	return g
}

func (g Grid) Len() int { return len(g.Freqs) }

func (g Grid) Clone() Grid {
	return Grid{
		Freqs:  slices.Clone(g.Freqs),
		Widths: slices.Clone(g.Widths),
	}
}

// Lo returns the lower frequency edge of channel i.
func (g Grid) Lo(i int) float64 { return g.Freqs[i] - math.Abs(g.Widths[i])/2 }

// Hi returns the upper frequency edge of channel i.
func (g Grid) Hi(i int) float64 { return g.Freqs[i] + math.Abs(g.Widths[i])/2 }

// Edges returns the lowest and highest frequency covered by the grid.
func (g Grid) Edges() (lo, hi float64) {
	lo = math.Inf(+1)
	hi = math.Inf(-1)
	for i := range g.Freqs {
		lo = math.Min(lo, g.Lo(i))
		hi = math.Max(hi, g.Hi(i))
	}
	return lo, hi
}

// Bandwidth returns the total bandwidth, the sum of the channel widths.
func (g Grid) Bandwidth() float64 {
	var bw float64
	for _, w := range g.Widths {
		bw += math.Abs(w)
	}
	return bw
}

// RefFreq returns the frequency of the first channel.
func (g Grid) RefFreq() float64 {
	if len(g.Freqs) == 0 {
		return 0
	}
	return g.Freqs[0]
}

// Descending reports whether channel frequencies decrease with the channel index.
func (g Grid) Descending() bool {
	return len(g.Freqs) > 1 && g.Freqs[len(g.Freqs)-1] < g.Freqs[0]
}

// Reversed returns a copy of the grid with the channel order reversed and
// positive widths.
func (g Grid) Reversed() Grid {
	o := g.Clone()
	slices.Reverse(o.Freqs)
	slices.Reverse(o.Widths)
	for i, w := range o.Widths {
		o.Widths[i] = math.Abs(w)
	}
	return o
}

// IsUniform reports whether all channels share the same width and spacing.
func (g Grid) IsUniform() bool {
	if len(g.Freqs) < 2 {
		return true
	}
	w0 := math.Abs(g.Widths[0])
	d0 := g.Freqs[1] - g.Freqs[0]
	for i := range g.Freqs {
		if math.Abs(math.Abs(g.Widths[i])-w0) > tol*w0 {
			return false
		}
		if i > 0 && math.Abs((g.Freqs[i]-g.Freqs[i-1])-d0) > tol*math.Abs(d0) {
			return false
		}
	}
	return true
}

// Sub returns channels [start, start+n) of the grid.
func (g Grid) Sub(start, n int) Grid {
	return Grid{
		Freqs:  slices.Clone(g.Freqs[start : start+n]),
		Widths: slices.Clone(g.Widths[start : start+n]),
	}
}

// NumBins returns the number of bins of the given width needed to cover n
// channels. Only the final bin may be incomplete.
func NumBins(n, width int) int {
	if width <= 1 {
		return n
	}
	return (n + width - 1) / width
}

// Average box-averages consecutive channels of the grid by bin.
// The centre of an output channel is the mean of its input centres and its
// width is the sum of its input widths.
func Average(g Grid, bin int) Grid {
	if bin <= 1 {
		return g.Clone()
	}
	n := NumBins(g.Len(), bin)
	o := Grid{
		Freqs:  make([]float64, n),
		Widths: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		beg := i * bin
		end := min(beg+bin, g.Len())
		var f, w float64
		for j := beg; j < end; j++ {
			f += g.Freqs[j]
			w += g.Widths[j]
		}
		o.Freqs[i] = f / float64(end-beg)
		o.Widths[i] = w
	}
	return o
}

// Union returns the uniform grid spanning all the provided grids, sampled at
// the narrowest channel width found. Frequency ranges not covered by any
// input grid still get channels.
func Union(gs ...Grid) Grid {
	var (
		lo = math.Inf(+1)
		hi = math.Inf(-1)
		w  = math.Inf(+1)
	)
	for _, g := range gs {
		glo, ghi := g.Edges()
		lo = math.Min(lo, glo)
		hi = math.Max(hi, ghi)
		for _, v := range g.Widths {
			w = math.Min(w, math.Abs(v))
		}
	}
	if math.IsInf(w, +1) {
		return Grid{}
	}
	n := int(math.Ceil((hi-lo)/w - tol))
	n = max(n, 1)
	return Uniform(lo+w/2, w, n)
}

// Slice splits the grid into n windows of equal channel count.
// The last window is padded with channels extrapolated from the last
// channel width when the channel count is not a multiple of n.
func Slice(g Grid, n int) []Grid {
	if n <= 1 {
		return []Grid{g.Clone()}
	}
	per := NumBins(g.Len(), n)
	out := make([]Grid, 0, n)
	for k := 0; k < n; k++ {
		beg := k * per
		sub := Grid{
			Freqs:  make([]float64, per),
			Widths: make([]float64, per),
		}
		for i := 0; i < per; i++ {
			j := beg + i
			switch {
			case j < g.Len():
				sub.Freqs[i] = g.Freqs[j]
				sub.Widths[i] = g.Widths[j]
			default:
				last := g.Len() - 1
				w := g.Widths[last]
				sub.Freqs[i] = g.Freqs[last] + float64(j-last)*w
				sub.Widths[i] = w
			}
		}
		out = append(out, sub)
	}
	return out
}
