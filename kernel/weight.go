// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"math"
)

const (
	// InvalidSigma marks a sigma derived from a degenerate weight.
	InvalidSigma = -1.0

	// epsilon is the smallest normal float32, the threshold under which a
	// weight or sigma is considered degenerate.
	epsilon = 0x1p-126
)

func usable(v float64) bool {
	return v > epsilon && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// WeightToSigma returns 1/sqrt(w), or InvalidSigma when w is not a positive
// finite number.
func WeightToSigma(w float64) float64 {
	if !usable(w) {
		return InvalidSigma
	}
	return 1 / math.Sqrt(w)
}

// SigmaToWeight returns 1/sigma², or 0 when sigma is not a positive finite
// number.
func SigmaToWeight(sigma float64) float64 {
	if !usable(sigma) {
		return 0
	}
	return 1 / (sigma * sigma)
}

// WeightsToSigmas converts a weight spectrum to a sigma spectrum.
// If dst is nil, a new slice is allocated.
func WeightsToSigmas(dst, ws []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(ws))
	}
	for i, w := range ws {
		dst[i] = WeightToSigma(w)
	}
	return dst
}

// SigmasToWeights converts a sigma spectrum to a weight spectrum.
// If dst is nil, a new slice is allocated.
func SigmasToWeights(dst, sigmas []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(sigmas))
	}
	for i, s := range sigmas {
		dst[i] = SigmaToWeight(s)
	}
	return dst
}

// ScaleSigma returns the sigma matching a weight multiplied by scale.
func ScaleSigma(sigma, scale float64) float64 {
	if sigma == InvalidSigma || !usable(scale) {
		return sigma
	}
	return sigma / math.Sqrt(scale)
}

// HanningWeights propagates the weights of the stripe through the 3-tap
// Hanning kernel, as the inverse of the propagated variance:
//
//	w = (Σc)² / Σ(c²/w)
//
// over the unflagged taps with a positive weight. The returned stripe holds
// the weights in Data and mirrors the flags of HanningStripe.
func HanningWeights[T Sample](in Stripe[T]) Stripe[float64] {
	n := in.Len()
	out := NewStripe[float64](n, false)
	for i := 0; i < n; i++ {
		var sumc, sumv float64
		for k, c := range hanningTaps {
			j := i + k - 1
			if j < 0 || j >= n || in.flag(j) {
				continue
			}
			w := in.weight(j)
			if !usable(w) {
				continue
			}
			sumc += c
			sumv += c * c / w
		}
		if sumv == 0 {
			out.Flags[i] = true
			continue
		}
		out.Data[i] = sumc * sumc / sumv
		out.Flags[i] = in.flag(i)
	}
	return out
}

// AverageWeights accumulates a weight spectrum over bins of width channels,
// keeping the sum of the weights of the run retained by the data kernel.
func AverageWeights(in Stripe[float64], width int) Stripe[float64] {
	return AverageStripe(FlagCumSumNonZero, Stripe[float64]{Data: in.Data, Flags: in.Flags}, width)
}

// RegridWeights interpolates a weight spectrum onto a new grid and rescales
// it by the ratio of the output to the input channel width.
func RegridWeights(in Stripe[float64], from, to []float64, extrapolate bool, scale float64) Stripe[float64] {
	out := RegridStripe(Stripe[float64]{Data: in.Data, Flags: in.Flags}, from, to, Linear, extrapolate)
	for i := range out.Data {
		out.Data[i] *= scale
		if out.Data[i] < 0 {
			out.Data[i] = 0
		}
	}
	return out
}

// RowScalar reduces a weight or sigma spectrum to one value: the mean of the
// unflagged channels, or the mean of every channel when all are flagged.
func RowScalar(s Stripe[float64]) float64 {
	var (
		sum, all float64
		n        int
	)
	for i, v := range s.Data {
		all += v
		if s.flag(i) {
			continue
		}
		sum += v
		n++
	}
	switch {
	case n > 0:
		return sum / float64(n)
	case len(s.Data) > 0:
		return all / float64(len(s.Data))
	}
	return 0
}
