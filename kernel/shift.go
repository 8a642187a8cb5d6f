// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// ShiftChannels returns the fractional channel shift implied by a frequency
// offset over a uniform band of n channels.
func ShiftChannels(offset, bandwidth float64, n int) float64 {
	if bandwidth == 0 {
		return 0
	}
	return offset / bandwidth * float64(n)
}

// ShiftStripe moves the stripe by shift channels towards higher channel
// indices, applying a linear phase ramp in the Fourier domain.
// Flags and weights follow the nearest source channel; channels whose source
// falls outside the stripe are flagged.
func ShiftStripe[T Sample](in Stripe[T], shift float64) Stripe[T] {
	n := in.Len()
	if n < 2 || shift == 0 {
		return in.Clone()
	}

	var (
		fft = fourier.NewCmplxFFT(n)
		seq = make([]complex128, n)
		out = NewStripe[T](n, in.Weights != nil)
	)
	for i, v := range in.Data {
		seq[i] = toComplex(v)
	}
	coeffs := fft.Coefficients(nil, seq)
	for k := range coeffs {
		f := float64(k)
		if k > n/2 {
			f = float64(k - n)
		}
		if n%2 == 0 && k == n/2 {
			// Keep the Nyquist term real so real inputs stay real.
			coeffs[k] *= complex(math.Cos(math.Pi*shift), 0)
			continue
		}
		coeffs[k] *= cmplx.Exp(complex(0, -2*math.Pi*f*shift/float64(n)))
	}
	seq = fft.Sequence(seq, coeffs)

	norm := 1 / float64(n)
	for i := range out.Data {
		out.Data[i] = fromComplex[T](seq[i] * complex(norm, 0))
		src := int(math.Round(float64(i) - shift))
		if src < 0 || src >= n {
			out.Flags[i] = true
			continue
		}
		out.Flags[i] = in.flag(src)
		if out.Weights != nil {
			out.Weights[i] = in.Weights[src]
		}
	}
	return out
}

// Uniformize linearly resamples the stripe onto n uniformly spaced channel
// centres spanning the same range as from. It returns the stripe unchanged
// when from is already uniform.
func Uniformize[T Sample](in Stripe[T], from []float64) (Stripe[T], []float64) {
	n := len(from)
	if n < 3 || uniform(from) {
		return in, from
	}
	var (
		lo = from[0]
		dx = (from[n-1] - from[0]) / float64(n-1)
		to = make([]float64, n)
	)
	for i := range to {
		to[i] = lo + float64(i)*dx
	}
	to[n-1] = from[n-1]
	return RegridStripe(in, from, to, Linear, false), to
}

func uniform(xs []float64) bool {
	dx := xs[1] - xs[0]
	tol := 1e-6 * math.Abs(dx)
	for i := 2; i < len(xs); i++ {
		if math.Abs(xs[i]-xs[i-1]-dx) > tol {
			return false
		}
	}
	return true
}
