// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package plan

import (
	"strings"

	"github.com/lsst-lpc/mstransform/kernel"
)

// CubeTransform is the transform applied to a whole data cube.
type CubeTransform int

const (
	Copy CubeTransform = iota
	AverageCube
	SmoothCube
	RegridCube
	CombineCube
	SeparateCube
)

func (c CubeTransform) String() string {
	switch c {
	case Copy:
		return "copy"
	case AverageCube:
		return "average"
	case SmoothCube:
		return "smooth"
	case RegridCube:
		return "regrid"
	case CombineCube:
		return "combine"
	case SeparateCube:
		return "separate"
	}
	return "invalid"
}

// SelectCube returns the cube transform for a configuration.
// The first matching option wins: combine, regrid, average, smooth, then
// separate when more than one output window is requested per input window.
func SelectCube(combine, regrid, average, smooth bool, nspw int) CubeTransform {
	switch {
	case combine:
		return CombineCube
	case regrid:
		return RegridCube
	case average:
		return AverageCube
	case smooth:
		return SmoothCube
	case nspw > 1:
		return SeparateCube
	}
	return Copy
}

// StripeOps is the set of operations composed on each stripe.
// They always run in the order average, smooth, regrid.
type StripeOps uint8

const (
	OpAverage StripeOps = 1 << iota
	OpSmooth
	OpRegrid
)

// SelectOps returns the stripe composition for the three switches.
func SelectOps(average, smooth, regrid bool) StripeOps {
	var ops StripeOps
	if average {
		ops |= OpAverage
	}
	if smooth {
		ops |= OpSmooth
	}
	if regrid {
		ops |= OpRegrid
	}
	return ops
}

func (ops StripeOps) Has(op StripeOps) bool { return ops&op != 0 }

func (ops StripeOps) String() string {
	if ops == 0 {
		return "identity"
	}
	var names []string
	for _, v := range []struct {
		op   StripeOps
		name string
	}{
		{OpAverage, "average"},
		{OpSmooth, "smooth"},
		{OpRegrid, "regrid"},
	} {
		if ops.Has(v.op) {
			names = append(names, v.name)
		}
	}
	return strings.Join(names, "+")
}

// SelectAverage returns the averaging kernel used on visibilities.
// With time averaging, weights are propagated by the time averager and the
// channel kernel only needs to honour flags.
func SelectAverage(weightSpectrum, timeAverage, ignoreFlags bool) kernel.Average {
	switch {
	case ignoreFlags && weightSpectrum && !timeAverage:
		return kernel.Weight
	case ignoreFlags:
		return kernel.Plain
	case weightSpectrum && !timeAverage:
		return kernel.FlagWeightNonZero
	case weightSpectrum:
		return kernel.FlagNonZero
	}
	return kernel.Flag
}

// Writer selects how output planes are written.
type Writer int

const (
	Block   Writer = iota // one plane, same shape as the input
	Reshape               // one plane, channel count differs from the input
	Sliced                // plane split over several output windows
)

func (w Writer) String() string {
	switch w {
	case Block:
		return "block"
	case Reshape:
		return "reshape"
	case Sliced:
		return "sliced"
	}
	return "invalid"
}

// SelectWriter returns the writer for nspw output windows per plane.
func SelectWriter(nspw int, reshaped bool) Writer {
	switch {
	case nspw > 1:
		return Sliced
	case reshaped:
		return Reshape
	}
	return Block
}
