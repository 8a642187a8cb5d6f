// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"github.com/lsst-lpc/mstransform/grid"
)

const unityTol = 1e-6

// CombineStripe builds a stripe of n output channels from the overlapping
// channels of several windows. src returns the stripe of one source window,
// and false when the window is missing from the current row group.
//
// Each output channel is the overlap-and-weight average of its unflagged
// contributors. When an odd number of partial-overlap contributors sits
// next to at least one full-overlap contributor, the partial ones are
// dropped. An output channel not fully covered by unflagged contributors
// is flagged. The output weights hold the overlap-scaled weight sum.
func CombineStripe[T Sample](n int, contribs grid.Contributions, src func(window int) (Stripe[T], bool)) Stripe[T] {
	out := NewStripe[T](n, true)

	type term struct {
		v T
		f float64
		w float64
	}
	var unity, partial, flagged []term

	for k := 0; k < n && k < len(contribs); k++ {
		unity, partial, flagged = unity[:0], partial[:0], flagged[:0]
		var cover float64
		for _, c := range contribs[k] {
			s, ok := src(c.SrcWindow)
			if !ok || c.SrcChan >= s.Len() {
				continue
			}
			t := term{v: s.Data[c.SrcChan], f: c.Fraction, w: s.weight(c.SrcChan)}
			switch {
			case s.flag(c.SrcChan):
				flagged = append(flagged, t)
			case c.Unity():
				unity = append(unity, t)
				cover += c.Cover
			default:
				partial = append(partial, t)
				cover += c.Cover
			}
		}

		kept := unity
		if len(unity) == 0 || len(partial)%2 == 0 {
			kept = append(kept, partial...)
		}

		var (
			acc  T
			norm float64
		)
		for _, t := range kept {
			acc += scale(t.v, t.f*t.w)
			norm += t.f * t.w
		}
		if norm > 0 {
			out.Data[k] = scale(acc, 1/norm)
			out.Weights[k] = norm
			out.Flags[k] = cover < 1-unityTol
			continue
		}

		// no usable contributor: keep the overlap-weighted mean of the
		// flagged ones.
		acc, norm = *new(T), 0
		for _, t := range flagged {
			acc += scale(t.v, t.f)
			norm += t.f
		}
		if norm > 0 {
			out.Data[k] = scale(acc, 1/norm)
		}
		out.Flags[k] = true
	}
	for k := len(contribs); k < n; k++ {
		out.Flags[k] = true
	}
	return out
}
