// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"math"
	"math/cmplx"
)

// SpeedOfLight in m/s.
const SpeedOfLight = 299792458.0

// PhaseShift rotates the visibilities of one correlation so that the phase
// centre moves by the direction cosine offsets (dl, dm), in place.
// uvw is the baseline in metres and freqs the channel centres in Hz.
func PhaseShift(s Stripe[complex128], uvw [3]float64, dl, dm float64, freqs []float64) {
	if dl == 0 && dm == 0 {
		return
	}
	var (
		dn   = math.Sqrt(1-dl*dl-dm*dm) - 1
		path = uvw[0]*dl + uvw[1]*dm + uvw[2]*dn
	)
	for i, f := range freqs {
		phase := -2 * math.Pi * path * f / SpeedOfLight
		s.Data[i] *= cmplx.Rect(1, phase)
	}
}
