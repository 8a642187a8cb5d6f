// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Smooth selects a smoothing kernel.
type Smooth int

const (
	Hanning Smooth = iota
	Fourier
)

func (s Smooth) String() string {
	switch s {
	case Hanning:
		return "hanning"
	case Fourier:
		return "fourier"
	}
	return "invalid"
}

var hanningTaps = [3]float64{0.25, 0.5, 0.25}

// HanningStripe convolves the stripe with the 3-tap Hanning kernel.
// Flagged and missing neighbours are excluded from the convolution weight.
// An output channel is flagged when its input channel is flagged or when no
// unflagged tap is available.
func HanningStripe[T Sample](in Stripe[T]) Stripe[T] {
	n := in.Len()
	out := NewStripe[T](n, in.Weights != nil)
	for i := 0; i < n; i++ {
		var (
			acc, all   T
			norm, nall float64
		)
		for k, c := range hanningTaps {
			j := i + k - 1
			if j < 0 || j >= n {
				continue
			}
			all += scale(in.Data[j], c)
			nall += c
			if in.flag(j) {
				continue
			}
			acc += scale(in.Data[j], c)
			norm += c
		}
		switch {
		case norm > 0:
			out.Data[i] = scale(acc, 1/norm)
			out.Flags[i] = in.flag(i)
		default:
			out.Data[i] = scale(all, 1/nall)
			out.Flags[i] = true
		}
	}
	if in.Weights != nil {
		copy(out.Weights, HanningWeights(in).Data)
	}
	return out
}

// FourierSmoothStripe convolves the stripe with a Gaussian of the given full
// width at half maximum (in channels), in the Fourier domain.
// Flagged channels are excluded through a normalized convolution.
func FourierSmoothStripe[T Sample](in Stripe[T], fwhm float64) Stripe[T] {
	n := in.Len()
	if n < 2 || fwhm <= 0 {
		return in.Clone()
	}

	var (
		m     = nextPow2(2 * n)
		fft   = fourier.NewCmplxFFT(m)
		sigma = fwhm / (2 * math.Sqrt(2*math.Ln2))
		data  = make([]complex128, m)
		mask  = make([]complex128, m)
		out   = NewStripe[T](n, in.Weights != nil)
	)
	for i := 0; i < n; i++ {
		if in.flag(i) {
			continue
		}
		data[i] = toComplex(in.Data[i])
		mask[i] = 1
	}

	taper := func(seq []complex128) []complex128 {
		coeffs := fft.Coefficients(nil, seq)
		for i := range coeffs {
			k := float64(i)
			if i > m/2 {
				k = float64(i - m)
			}
			f := k / float64(m)
			coeffs[i] *= complex(math.Exp(-2*math.Pi*math.Pi*sigma*sigma*f*f), 0)
		}
		return fft.Sequence(nil, coeffs)
	}
	sdata := taper(data)
	smask := taper(mask)

	for i := 0; i < n; i++ {
		norm := real(smask[i])
		switch {
		case norm > 1e-6*float64(m):
			out.Data[i] = fromComplex[T](sdata[i] / complex(norm, 0))
			out.Flags[i] = in.flag(i)
		default:
			out.Data[i] = in.Data[i]
			out.Flags[i] = true
		}
	}
	if in.Weights != nil {
		copy(out.Weights, in.Weights)
	}
	return out
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
