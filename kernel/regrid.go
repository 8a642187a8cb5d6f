// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/interp"
)

// Method is a 1-D interpolation method.
type Method int

const (
	Nearest Method = iota
	Linear
	Cubic
	Spline
	FFTShift
)

// ParseMethod returns the interpolation method named s.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(s) {
	case "nearest":
		return Nearest, nil
	case "", "linear":
		return Linear, nil
	case "cubic":
		return Cubic, nil
	case "spline":
		return Spline, nil
	case "fftshift":
		return FFTShift, nil
	}
	return Linear, errors.Errorf("kernel: unknown interpolation method %q", s)
}

func (m Method) String() string {
	switch m {
	case Nearest:
		return "nearest"
	case Linear:
		return "linear"
	case Cubic:
		return "cubic"
	case Spline:
		return "spline"
	case FFTShift:
		return "fftshift"
	}
	return "invalid"
}

// predictor returns a fitted predictor of ys(xs) for the method.
// Methods needing more points than available degrade to simpler ones.
func predictor(m Method, xs, ys []float64) interp.Predictor {
	switch {
	case len(xs) == 1:
		return constant(ys[0])
	case m == Nearest:
		return nearest{xs: xs, ys: ys}
	}

	var fp interp.FittablePredictor = &interp.PiecewiseLinear{}
	switch {
	case m == Cubic && len(xs) >= 5:
		fp = &interp.AkimaSpline{}
	case m == Spline && len(xs) >= 3:
		fp = &interp.NaturalCubic{}
	}
	if err := fp.Fit(xs, ys); err != nil {
		return nearest{xs: xs, ys: ys}
	}
	return fp
}

type constant float64

func (c constant) Predict(float64) float64 { return float64(c) }

type nearest struct {
	xs, ys []float64
}

func (p nearest) Predict(x float64) float64 {
	return p.ys[nearestIndex(p.xs, x)]
}

func nearestIndex(xs []float64, x float64) int {
	i := sort.SearchFloat64s(xs, x)
	switch {
	case i == 0:
		return 0
	case i == len(xs):
		return len(xs) - 1
	case x-xs[i-1] <= xs[i]-x:
		return i - 1
	}
	return i
}

// RegridStripe interpolates the stripe sampled at the ascending channel
// centres from onto the ascending channel centres to.
// Flagged input channels do not take part in the fit. Output channels
// outside [from[0], from[n-1]] are flagged unless extrapolate is set, in
// which case they take the value of the nearest edge. Output channels whose
// neighbouring input channels are all flagged are flagged too.
func RegridStripe[T Sample](in Stripe[T], from, to []float64, m Method, extrapolate bool) Stripe[T] {
	var (
		out = NewStripe[T](len(to), in.Weights != nil)
		xs  = make([]float64, 0, in.Len())
		re  = make([]float64, 0, in.Len())
		im  = make([]float64, 0, in.Len())
		ws  = make([]float64, 0, in.Len())
		cpx = isComplex[T]()
	)
	for i := 0; i < in.Len(); i++ {
		if in.flag(i) {
			continue
		}
		c := toComplex(in.Data[i])
		xs = append(xs, from[i])
		re = append(re, real(c))
		im = append(im, imag(c))
		ws = append(ws, in.weight(i))
	}
	if len(xs) == 0 {
		for i := range out.Flags {
			out.Flags[i] = true
		}
		return out
	}

	var (
		pre = predictor(m, xs, re)
		pim interp.Predictor
		pw  interp.Predictor
		lo  = from[0]
		hi  = from[len(from)-1]
		eps = 1e-9 * (hi - lo + 1)
	)
	if cpx {
		pim = predictor(m, xs, im)
	}
	if in.Weights != nil {
		pw = predictor(Linear, xs, ws)
	}

	for k, x := range to {
		outside := x < lo-eps || x > hi+eps
		if outside && !extrapolate {
			out.Flags[k] = true
			continue
		}
		v := complex(pre.Predict(x), 0)
		if cpx {
			v = complex(real(v), pim.Predict(x))
		}
		out.Data[k] = fromComplex[T](v)
		out.Flags[k] = bracketFlagged(in, from, x, m)
		if pw != nil {
			out.Weights[k] = pw.Predict(x)
		}
	}
	return out
}

// bracketFlagged reports whether the input channels around x are flagged.
func bracketFlagged[T Sample](in Stripe[T], from []float64, x float64, m Method) bool {
	if in.Flags == nil {
		return false
	}
	if m == Nearest {
		return in.Flags[nearestIndex(from, x)]
	}
	i := sort.SearchFloat64s(from, x)
	switch {
	case i == 0:
		return in.Flags[0]
	case i == len(from):
		return in.Flags[len(from)-1]
	case from[i] == x:
		return in.Flags[i]
	}
	return in.Flags[i-1] && in.Flags[i]
}
