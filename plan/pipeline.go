// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package plan

import (
	"github.com/lsst-lpc/mstransform/grid"
	"github.com/lsst-lpc/mstransform/kernel"
)

// Doppler holds the time-dependent part of a frame conversion, evaluated
// once per chunk.
type Doppler struct {
	Ratio  float64 // conv_t(f) / conv_ref(f)
	Offset float64 // conv_t(fc) - conv_ref(fc), at the band centre fc, in Hz
}

// NoDoppler is the Doppler term of an unconverted window.
var NoDoppler = Doppler{Ratio: 1}

// StripeFunc transforms a visibility stripe.
type StripeFunc func(s kernel.Stripe[complex128], d Doppler) kernel.Stripe[complex128]

// WeightFunc transforms a weight spectrum, held in the Data of the stripe.
type WeightFunc func(s kernel.Stripe[float64], d Doppler) kernel.Stripe[float64]

// Pipeline is the stripe transform of one spectral window (or of the
// combined window).
type Pipeline struct {
	Start int // first selected channel
	NChan int // number of selected channels

	Res     grid.Resolution
	Ops     StripeOps
	Average kernel.Average
	Smooth  kernel.Smooth
	FWHM    float64 // Fourier smoothing width, in channels
	Method  kernel.Method
	Extrap  bool

	Data   StripeFunc
	Weight WeightFunc
}

// Prepare selects the channels of a full input stripe and puts them in
// ascending frequency order. The returned stripe does not share storage
// with s.
func Prepare[T kernel.Sample](p *Pipeline, s kernel.Stripe[T]) kernel.Stripe[T] {
	end := min(p.Start+p.NChan, s.Len())
	o := s.Sub(p.Start, end).Clone()
	if p.Res.Descending {
		o.Reverse()
	}
	return o
}

// Publish puts a transformed stripe back in the channel order of the input.
func Publish[T kernel.Sample](p *Pipeline, s kernel.Stripe[T]) kernel.Stripe[T] {
	if p.Res.Descending {
		s.Reverse()
	}
	return s
}

// NumOut returns the number of output channels.
func (p *Pipeline) NumOut() int { return p.Res.Output.Len() }

// source returns the channel centres the regridding runs from.
func (p *Pipeline) source(d Doppler) []float64 {
	from := p.Res.Regridded.Freqs
	if d.Ratio == 1 || d.Ratio == 0 {
		return from
	}
	out := make([]float64, len(from))
	for i, f := range from {
		out[i] = f * d.Ratio
	}
	return out
}

// bind composes the stripe closures for the pipeline operations.
func (p *Pipeline) bind() {
	type dataOp func(kernel.Stripe[complex128], Doppler) kernel.Stripe[complex128]
	type weightOp func(kernel.Stripe[float64], Doppler) kernel.Stripe[float64]
	var (
		data    []dataOp
		weights []weightOp
	)

	if bin := p.Res.PreAverage; bin > 1 {
		kind := p.Average
		data = append(data, func(s kernel.Stripe[complex128], _ Doppler) kernel.Stripe[complex128] {
			return kernel.AverageStripe(kind, s, bin)
		})
		weights = append(weights, func(s kernel.Stripe[float64], _ Doppler) kernel.Stripe[float64] {
			return kernel.AverageWeights(s, bin)
		})
	}

	if p.Ops.Has(OpSmooth) {
		switch p.Smooth {
		case kernel.Fourier:
			fwhm := p.FWHM
			data = append(data, func(s kernel.Stripe[complex128], _ Doppler) kernel.Stripe[complex128] {
				return kernel.FourierSmoothStripe(s, fwhm)
			})
		default:
			data = append(data, func(s kernel.Stripe[complex128], _ Doppler) kernel.Stripe[complex128] {
				return kernel.HanningStripe(s)
			})
			weights = append(weights, func(s kernel.Stripe[float64], _ Doppler) kernel.Stripe[float64] {
				return kernel.HanningWeights(kernel.Stripe[float64]{Data: s.Data, Flags: s.Flags, Weights: s.Data})
			})
		}
	}

	if p.Ops.Has(OpRegrid) {
		var (
			to     = p.Res.Output.Freqs
			extrap = p.Extrap
			scale  = p.Res.RegridScale
			n      = p.Res.Output.Len()
			bw     = p.Res.Output.Bandwidth()
		)
		switch p.Method {
		case kernel.FFTShift:
			data = append(data, func(s kernel.Stripe[complex128], d Doppler) kernel.Stripe[complex128] {
				u, _ := kernel.Uniformize(s, p.Res.Regridded.Freqs)
				return kernel.ShiftStripe(u, kernel.ShiftChannels(d.Offset, bw, n))
			})
			// weights follow the nearest source channel.
			weights = append(weights, func(s kernel.Stripe[float64], d Doppler) kernel.Stripe[float64] {
				u, _ := kernel.Uniformize(s, p.Res.Regridded.Freqs)
				o := kernel.ShiftStripe(kernel.Stripe[float64]{Data: u.Data, Flags: u.Flags, Weights: u.Data}, kernel.ShiftChannels(d.Offset, bw, n))
				o.Data, o.Weights = o.Weights, nil
				return o
			})
		default:
			method := p.Method
			data = append(data, func(s kernel.Stripe[complex128], d Doppler) kernel.Stripe[complex128] {
				return kernel.RegridStripe(s, p.source(d), to, method, extrap)
			})
			weights = append(weights, func(s kernel.Stripe[float64], d Doppler) kernel.Stripe[float64] {
				return kernel.RegridWeights(s, p.source(d), to, extrap, scale)
			})
		}
	}

	p.Data = func(s kernel.Stripe[complex128], d Doppler) kernel.Stripe[complex128] {
		for _, op := range data {
			s = op(s, d)
		}
		return s
	}
	p.Weight = func(s kernel.Stripe[float64], d Doppler) kernel.Stripe[float64] {
		for _, op := range weights {
			s = op(s, d)
		}
		return s
	}
}
