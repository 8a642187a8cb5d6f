// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

// Average selects how flags and weights feed a channel-average reduction.
type Average int

const (
	Plain             Average = iota // box mean, flags and weights ignored
	Flag                             // mean of unflagged channels
	Weight                           // weighted mean, flags ignored
	FlagWeight                       // weighted mean of unflagged channels
	CumSum                           // plain sum, no normalization
	FlagNonZero                      // mean of the same-flag run anchored at the bin start
	FlagWeightNonZero                // weighted FlagNonZero
	FlagCumSumNonZero                // FlagNonZero without normalization
)

var averageNames = [...]string{
	Plain:             "plain",
	Flag:              "flag",
	Weight:            "weight",
	FlagWeight:        "flag-weight",
	CumSum:            "cumsum",
	FlagNonZero:       "flag-nonzero",
	FlagWeightNonZero: "flag-weight-nonzero",
	FlagCumSumNonZero: "flag-cumsum-nonzero",
}

func (a Average) String() string {
	if a < 0 || int(a) >= len(averageNames) {
		return "invalid"
	}
	return averageNames[a]
}

// Weighted reports whether the kernel uses per-channel weights.
func (a Average) Weighted() bool {
	switch a {
	case Weight, FlagWeight, FlagWeightNonZero:
		return true
	}
	return false
}

// Normalized reports whether the kernel divides its accumulator.
func (a Average) Normalized() bool {
	switch a {
	case CumSum, FlagCumSumNonZero:
		return false
	}
	return true
}

type reducer[T Sample] func(s Stripe[T], beg, end int) (v T, flag bool, w float64)

func reducerOf[T Sample](kind Average) reducer[T] {
	switch kind {
	case Flag:
		return flagMean[T]
	case Weight:
		return weightMean[T]
	case FlagWeight:
		return flagWeightMean[T]
	case CumSum:
		return cumSum[T]
	case FlagNonZero:
		return func(s Stripe[T], beg, end int) (T, bool, float64) { return nonZero(s, beg, end, false, true) }
	case FlagWeightNonZero:
		return func(s Stripe[T], beg, end int) (T, bool, float64) { return nonZero(s, beg, end, true, true) }
	case FlagCumSumNonZero:
		return func(s Stripe[T], beg, end int) (T, bool, float64) { return nonZero(s, beg, end, false, false) }
	default:
		return plainMean[T]
	}
}

// AverageStripe collapses consecutive bins of width channels into one
// channel. The output has ceil(n/width) channels: only the last bin may hold
// fewer channels. The output weights hold the weight sum of each bin.
func AverageStripe[T Sample](kind Average, in Stripe[T], width int) Stripe[T] {
	if width < 1 {
		width = 1
	}
	var (
		n   = (in.Len() + width - 1) / width
		out = NewStripe[T](n, true)
		red = reducerOf[T](kind)
	)
	for i := 0; i < n; i++ {
		beg := i * width
		end := min(beg+width, in.Len())
		out.Data[i], out.Flags[i], out.Weights[i] = red(in, beg, end)
	}
	return out
}

func plainMean[T Sample](s Stripe[T], beg, end int) (T, bool, float64) {
	var (
		acc  T
		w    float64
		flag = true
	)
	for i := beg; i < end; i++ {
		acc += s.Data[i]
		w += s.weight(i)
		flag = flag && s.flag(i)
	}
	return scale(acc, 1/float64(end-beg)), flag, w
}

func cumSum[T Sample](s Stripe[T], beg, end int) (T, bool, float64) {
	var (
		acc  T
		w    float64
		flag = true
	)
	for i := beg; i < end; i++ {
		acc += s.Data[i]
		w += s.weight(i)
		flag = flag && s.flag(i)
	}
	return acc, flag, w
}

func flagMean[T Sample](s Stripe[T], beg, end int) (T, bool, float64) {
	var (
		acc T
		all T
		n   int
		w   float64
	)
	for i := beg; i < end; i++ {
		all += s.Data[i]
		if s.flag(i) {
			continue
		}
		acc += s.Data[i]
		w += s.weight(i)
		n++
	}
	if n == 0 {
		return scale(all, 1/float64(end-beg)), true, 0
	}
	return scale(acc, 1/float64(n)), false, w
}

func weightMean[T Sample](s Stripe[T], beg, end int) (T, bool, float64) {
	var (
		acc  T
		norm float64
		flag = true
	)
	for i := beg; i < end; i++ {
		wi := s.weight(i)
		acc += scale(s.Data[i], wi)
		norm += wi
		flag = flag && s.flag(i)
	}
	if norm <= 0 {
		var zero T
		return zero, true, 0
	}
	return scale(acc, 1/norm), flag, norm
}

func flagWeightMean[T Sample](s Stripe[T], beg, end int) (T, bool, float64) {
	var (
		acc, accAll   T
		all           T
		norm, normAll float64
		n             int
	)
	for i := beg; i < end; i++ {
		wi := s.weight(i)
		all += s.Data[i]
		accAll += scale(s.Data[i], wi)
		normAll += wi
		if s.flag(i) {
			continue
		}
		acc += scale(s.Data[i], wi)
		norm += wi
		n++
	}
	switch {
	case n == 0 && normAll > 0:
		return scale(accAll, 1/normAll), true, 0
	case n == 0:
		return scale(all, 1/float64(end-beg)), true, 0
	case norm <= 0:
		var zero T
		return zero, true, 0
	}
	return scale(acc, 1/norm), false, norm
}

// nonZero accumulates the run of channels sharing the flag state of the
// first channel of the bin. An unflagged channel following a flagged run
// restarts the accumulation, discarding the flagged prefix; flagged channels
// following an unflagged run are skipped.
func nonZero[T Sample](s Stripe[T], beg, end int, weighted, normalize bool) (T, bool, float64) {
	wgt := func(i int) float64 {
		if weighted {
			return s.weight(i)
		}
		return 1
	}
	var (
		acc  = scale(s.Data[beg], wgt(beg))
		norm = wgt(beg)
		wsum = s.weight(beg)
		flag = s.flag(beg)
	)
	for i := beg + 1; i < end; i++ {
		fi := s.flag(i)
		switch {
		case flag && !fi:
			acc = scale(s.Data[i], wgt(i))
			norm = wgt(i)
			wsum = s.weight(i)
			flag = false
		case flag == fi:
			acc += scale(s.Data[i], wgt(i))
			norm += wgt(i)
			wsum += s.weight(i)
		}
	}
	if !normalize {
		return acc, flag, wsum
	}
	if norm <= 0 {
		var zero T
		return zero, true, 0
	}
	return scale(acc, 1/norm), flag, wsum
}
