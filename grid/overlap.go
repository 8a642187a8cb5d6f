// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grid

import (
	"math"
	"sort"
)

// Channel is one input channel tagged with its spectral window.
type Channel struct {
	Window int
	Index  int
	Freq   float64
	Width  float64
}

// Channels returns the channels of the grid, tagged with window.
func Channels(window int, g Grid) []Channel {
	chans := make([]Channel, g.Len())
	for i := range chans {
		chans[i] = Channel{
			Window: window,
			Index:  i,
			Freq:   g.Freqs[i],
			Width:  math.Abs(g.Widths[i]),
		}
	}
	return chans
}

// SortChannels sorts channels by frequency, then by window.
func SortChannels(chans []Channel) {
	sort.SliceStable(chans, func(i, j int) bool {
		if chans[i].Freq != chans[j].Freq {
			return chans[i].Freq < chans[j].Freq
		}
		return chans[i].Window < chans[j].Window
	})
}

// Contribution is the share of an input channel in an output channel.
type Contribution struct {
	SrcWindow int
	SrcChan   int
	DstChan   int
	Fraction  float64 // overlap length over the input channel width
	Cover     float64 // overlap length over the output channel width
	Flagged   bool
}

// Unity reports whether the whole input channel falls in the output channel.
func (c Contribution) Unity() bool { return c.Fraction >= 1-tol }

// Contributions holds the contributors of each output channel, indexed by
// output channel.
type Contributions [][]Contribution

// MapOverlaps computes, for every channel of out, the input channels that
// overlap it and their overlap fraction.
func MapOverlaps(chans []Channel, out Grid) Contributions {
	table := make(Contributions, out.Len())
	for dst := range table {
		var (
			olo = out.Lo(dst)
			ohi = out.Hi(dst)
			ow  = ohi - olo
		)
		for _, ch := range chans {
			var (
				lo = math.Max(olo, ch.Freq-ch.Width/2)
				hi = math.Min(ohi, ch.Freq+ch.Width/2)
				ov = hi - lo
			)
			if ov <= tol*ch.Width {
				continue
			}
			table[dst] = append(table[dst], Contribution{
				SrcWindow: ch.Window,
				SrcChan:   ch.Index,
				DstChan:   dst,
				Fraction:  math.Min(1, ov/ch.Width),
				Cover:     math.Min(1, ov/ow),
			})
		}
	}
	return table
}

// Coverage returns the share of output channel dst covered by its
// contributors that are not flagged. It reaches 1 when the channel is fully
// covered, whatever the input channel widths.
func (cs Contributions) Coverage(dst int, flagged func(Contribution) bool) float64 {
	var sum float64
	for _, c := range cs[dst] {
		if flagged != nil && flagged(c) {
			continue
		}
		sum += c.Cover
	}
	return sum
}

// Windows returns the sorted set of windows contributing to the table.
func (cs Contributions) Windows() []int {
	set := make(map[int]struct{})
	for _, row := range cs {
		for _, c := range row {
			set[c.SrcWindow] = struct{}{}
		}
	}
	ws := make([]int, 0, len(set))
	for w := range set {
		ws = append(ws, w)
	}
	sort.Ints(ws)
	return ws
}
