// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kernel implements the numeric transforms applied to one
// correlation's channel stripe: channel averaging, smoothing, regridding,
// sub-channel shifts, window combination and weight/sigma propagation.
//
// Kernels are generic over the sample type so that visibilities
// (complex128) and weight or sigma spectra (float64) share one
// implementation.
package kernel

import (
	"slices"
)

// Sample is the type of the values held by a stripe.
type Sample interface {
	float64 | complex128
}

// Stripe is one correlation's worth of channels.
// Weights is optional; kernels that need per-channel weights treat a nil
// Weights as unit weights.
type Stripe[T Sample] struct {
	Data    []T
	Flags   []bool
	Weights []float64
}

// NewStripe returns a zeroed stripe of n channels.
func NewStripe[T Sample](n int, weights bool) Stripe[T] {
	s := Stripe[T]{
		Data:  make([]T, n),
		Flags: make([]bool, n),
	}
	if weights {
		s.Weights = make([]float64, n)
	}
	return s
}

func (s Stripe[T]) Len() int { return len(s.Data) }

func (s Stripe[T]) Clone() Stripe[T] {
	return Stripe[T]{
		Data:    slices.Clone(s.Data),
		Flags:   slices.Clone(s.Flags),
		Weights: slices.Clone(s.Weights),
	}
}

// Reverse reverses the channel order in place.
func (s Stripe[T]) Reverse() {
	slices.Reverse(s.Data)
	slices.Reverse(s.Flags)
	slices.Reverse(s.Weights)
}

// Sub returns channels [beg, end) of the stripe, sharing storage.
func (s Stripe[T]) Sub(beg, end int) Stripe[T] {
	o := Stripe[T]{Data: s.Data[beg:end]}
	if s.Flags != nil {
		o.Flags = s.Flags[beg:end]
	}
	if s.Weights != nil {
		o.Weights = s.Weights[beg:end]
	}
	return o
}

func (s Stripe[T]) flag(i int) bool {
	return s.Flags != nil && s.Flags[i]
}

func (s Stripe[T]) weight(i int) float64 {
	if s.Weights == nil {
		return 1
	}
	return s.Weights[i]
}

// AllFlagged reports whether every channel of the stripe is flagged.
func (s Stripe[T]) AllFlagged() bool {
	if s.Flags == nil || len(s.Flags) == 0 {
		return false
	}
	for _, f := range s.Flags {
		if !f {
			return false
		}
	}
	return true
}

func scale[T Sample](v T, f float64) T {
	switch x := any(v).(type) {
	case complex128:
		return any(x * complex(f, 0)).(T)
	case float64:
		return any(x * f).(T)
	}
	panic("kernel: invalid sample type")
}

func toComplex[T Sample](v T) complex128 {
	switch x := any(v).(type) {
	case complex128:
		return x
	case float64:
		return complex(x, 0)
	}
	panic("kernel: invalid sample type")
}

func fromComplex[T Sample](c complex128) T {
	var v T
	switch any(v).(type) {
	case complex128:
		return any(c).(T)
	case float64:
		return any(real(c)).(T)
	}
	panic("kernel: invalid sample type")
}

func isComplex[T Sample]() bool {
	var v T
	_, ok := any(v).(complex128)
	return ok
}
