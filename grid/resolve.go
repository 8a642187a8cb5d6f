// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grid

import (
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Mode selects how the start and width of an output grid are expressed.
type Mode int

const (
	ModeChannel Mode = iota
	ModeFrequency
	ModeVelocity
)

// ParseMode returns the regridding mode named s.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "channel", "channel_b":
		return ModeChannel, nil
	case "frequency":
		return ModeFrequency, nil
	case "velocity":
		return ModeVelocity, nil
	}
	return ModeChannel, errors.Errorf("grid: unknown regrid mode %q", s)
}

// Spec describes the requested output grid of a spectral window.
type Spec struct {
	Mode     Mode
	Start    float64 // channel index, Hz or m/s; NaN selects the band edge
	Width    float64 // channels, Hz or m/s; 0 selects the natural width
	NChan    int     // <= 0 selects as many channels as fit
	RestFreq float64 // Hz, velocity mode only
	VelType  VelocityType

	// PreAverage is the explicit pre-averaging bin factor; <= 1 disables it.
	PreAverage int

	// Regrid enables the computation of new output boundaries. When false,
	// the output grid is the (pre-averaged, converted) input grid.
	Regrid bool
}

// Correction records a degrading correction applied to a request.
type Correction struct {
	Param     string
	Requested float64
	Applied   float64
	Reason    string
}

// Resolution is the outcome of resolving a spectral window grid.
// All grids are in ascending frequency order; Descending records whether the
// original input was descending.
type Resolution struct {
	Input      Grid // input grid, as selected
	Converted  Grid // after explicit pre-averaging and frame conversion
	Regridded  Grid // grid the interpolation runs from (after automatic pre-averaging)
	Output     Grid
	Descending bool

	PreAverage      int  // bin factor applied before regridding (1: none)
	AutoPreAverage  bool // whether PreAverage was inserted automatically
	PreAverageScale float64
	RegridScale     float64 // Output.Widths[0] / Regridded.Widths[0]

	Corrections []Correction
}

// WeightScale returns the ratio of the output to the input channel width,
// accounting for all pre-averaging and regridding.
func (r Resolution) WeightScale() float64 {
	return r.PreAverageScale * r.RegridScale
}

// Published returns the output grid in the channel order of the input.
func (r Resolution) Published() Grid {
	if r.Descending {
		o := r.Output.Reversed()
		for i := range o.Widths {
			o.Widths[i] = -o.Widths[i]
		}
		return o
	}
	return r.Output.Clone()
}

// Resolve computes the output grid of a spectral window from its input
// grid, the requested output specification and a frame conversion (nil for
// none). Degrading corrections are logged on msg and recorded in the
// resolution.
func Resolve(in Grid, spec Spec, conv Converter, msg zerolog.Logger) (Resolution, error) {
	if _, err := New(in.Freqs, in.Widths); err != nil {
		return Resolution{}, err
	}

	res := Resolution{
		Input:           in.Clone(),
		PreAverage:      1,
		PreAverageScale: 1,
		RegridScale:     1,
	}
	work := in.Clone()
	if in.Descending() || (in.Len() == 1 && in.Widths[0] < 0) {
		res.Descending = true
		work = in.Reversed()
	}
	for i, w := range work.Widths {
		work.Widths[i] = math.Abs(w)
	}

	bin := spec.PreAverage
	if bin > work.Len() {
		res.correct(msg, Correction{
			Param: "chanbin", Requested: float64(bin), Applied: float64(work.Len()),
			Reason: "bin width larger than the number of selected channels",
		})
		bin = work.Len()
	}
	if bin > 1 {
		avg := Average(work, bin)
		res.PreAverage = bin
		res.PreAverageScale = avg.Widths[0] / work.Widths[0]
		work = avg
	}

	if conv != nil {
		work = convert(work, conv)
	}
	res.Converted = work.Clone()
	res.Regridded = work.Clone()

	if !spec.Regrid {
		res.Output = work.Clone()
		return res, nil
	}

	var (
		out Grid
		err error
	)
	switch spec.Mode {
	case ModeChannel:
		out = res.channelGrid(work, spec, msg)
	case ModeFrequency:
		out = res.freqGrid(work, spec, msg)
	case ModeVelocity:
		out, err = res.velocityGrid(work, spec, msg)
	default:
		err = errors.Errorf("grid: invalid regrid mode %d", spec.Mode)
	}
	if err != nil {
		return res, err
	}
	res.Output = out

	// keep interpolation errors bounded: when the output channels are
	// (close to) an integer multiple of the natural width dividing the band,
	// average first.
	if res.PreAverage == 1 {
		ratio := out.Widths[0] / work.Widths[0]
		factor := int(math.Floor(ratio + tol))
		if factor >= 2 && work.Len()%factor == 0 {
			res.PreAverage = factor
			res.AutoPreAverage = true
			res.Regridded = Average(work, factor)
			res.PreAverageScale = res.Regridded.Widths[0] / work.Widths[0]
			msg.Debug().Int("factor", factor).Msg("automatic pre-averaging before regridding")
		}
	}
	res.RegridScale = out.Widths[0] / res.Regridded.Widths[0]

	return res, nil
}

func (res *Resolution) correct(msg zerolog.Logger, c Correction) {
	res.Corrections = append(res.Corrections, c)
	msg.Warn().
		Str("param", c.Param).
		Float64("requested", c.Requested).
		Float64("applied", c.Applied).
		Msg(c.Reason)
}

// convert applies the frame conversion to every channel centre and edge.
func convert(g Grid, conv Converter) Grid {
	o := Grid{
		Freqs:  make([]float64, g.Len()),
		Widths: make([]float64, g.Len()),
	}
	for i := range g.Freqs {
		lo := conv(g.Lo(i))
		hi := conv(g.Hi(i))
		o.Freqs[i] = conv(g.Freqs[i])
		o.Widths[i] = math.Abs(hi - lo)
	}
	return o
}

func (res *Resolution) channelGrid(in Grid, spec Spec, msg zerolog.Logger) Grid {
	var (
		n     = in.Len()
		start = 0
		width = 1
	)
	if !math.IsNaN(spec.Start) && spec.Start > 0 {
		start = int(math.Round(spec.Start))
	}
	if spec.Width != 0 {
		width = max(int(math.Round(math.Abs(spec.Width))), 1)
	}
	if width > n {
		res.correct(msg, Correction{
			Param: "width", Requested: float64(width), Applied: float64(n),
			Reason: "requested width exceeds the available bandwidth",
		})
		width = n
	}
	if start > n-width {
		res.correct(msg, Correction{
			Param: "start", Requested: float64(start), Applied: float64(n - width),
			Reason: "requested start beyond the last channel",
		})
		start = n - width
	}

	lo, w, nchan := res.partition(msg, 0, float64(n), float64(start), float64(width), spec.NChan)
	start = int(math.Round(lo))
	width = int(math.Round(w))
	if start+nchan*width > n {
		start = n - nchan*width
	}

	out := Grid{
		Freqs:  make([]float64, nchan),
		Widths: make([]float64, nchan),
	}
	for k := range out.Freqs {
		beg := start + k*width
		end := beg + width - 1
		flo := in.Lo(beg)
		fhi := in.Hi(end)
		out.Freqs[k] = (flo + fhi) / 2
		out.Widths[k] = fhi - flo
	}
	return out
}

func (res *Resolution) freqGrid(in Grid, spec Spec, msg zerolog.Logger) Grid {
	var (
		lo, hi = in.Edges()
		width  = math.Abs(spec.Width)
	)
	if width == 0 {
		width = in.Widths[0]
	}
	if width > hi-lo {
		res.correct(msg, Correction{
			Param: "width", Requested: width, Applied: hi - lo,
			Reason: "requested width exceeds the available bandwidth",
		})
		width = hi - lo
	}

	start := spec.Start
	switch {
	case math.IsNaN(start):
		start = lo + width/2
	case start > hi-width/2:
		res.correct(msg, Correction{
			Param: "start", Requested: start, Applied: hi - width/2,
			Reason: "requested start beyond the last channel",
		})
		start = hi - width/2
	case start < lo+width/2-tol*width:
		res.correct(msg, Correction{
			Param: "start", Requested: start, Applied: lo + width/2,
			Reason: "requested start before the first channel",
		})
		start = lo + width/2
	}

	beg, w, n := res.partition(msg, lo, hi, start-width/2, width, spec.NChan)
	return Uniform(beg+w/2, w, n)
}

func (res *Resolution) velocityGrid(in Grid, spec Spec, msg zerolog.Logger) (Grid, error) {
	if spec.RestFreq <= 0 {
		return Grid{}, errors.Errorf("grid: velocity mode needs a positive rest frequency (got %v)", spec.RestFreq)
	}
	var (
		flo, fhi = in.Edges()
		vt       = spec.VelType
		rest     = spec.RestFreq
		vlo      = vt.ToVelocity(fhi, rest)
		vhi      = vt.ToVelocity(flo, rest)
		width    = math.Abs(spec.Width)
	)
	if width == 0 {
		// natural width, evaluated at the first channel.
		width = math.Abs(vt.ToVelocity(in.Lo(0), rest) - vt.ToVelocity(in.Hi(0), rest))
	}
	if width > vhi-vlo {
		res.correct(msg, Correction{
			Param: "width", Requested: width, Applied: vhi - vlo,
			Reason: "requested width exceeds the available bandwidth",
		})
		width = vhi - vlo
	}

	start := spec.Start
	switch {
	case math.IsNaN(start):
		start = vlo + width/2
	case start > vhi-width/2:
		res.correct(msg, Correction{
			Param: "start", Requested: start, Applied: vhi - width/2,
			Reason: "requested start beyond the last channel",
		})
		start = vhi - width/2
	case start < vlo+width/2-tol*width:
		res.correct(msg, Correction{
			Param: "start", Requested: start, Applied: vlo + width/2,
			Reason: "requested start before the first channel",
		})
		start = vlo + width/2
	}

	beg, w, n := res.partition(msg, vlo, vhi, start-width/2, width, spec.NChan)
	type channel struct{ f, w float64 }
	chans := make([]channel, n)
	for k := range chans {
		a := vt.ToFreq(beg+float64(k)*w, rest)
		b := vt.ToFreq(beg+float64(k+1)*w, rest)
		chans[k] = channel{f: (a + b) / 2, w: math.Abs(a - b)}
	}
	sort.Slice(chans, func(i, j int) bool { return chans[i].f < chans[j].f })

	out := Grid{
		Freqs:  make([]float64, n),
		Widths: make([]float64, n),
	}
	for i, c := range chans {
		out.Freqs[i] = c.f
		out.Widths[i] = c.w
	}
	return out, nil
}

// partition lays uniform channels of the given width over [lo, hi),
// starting at beg. An explicit nchan that does not fit degrades to the
// largest band symmetric around the centre of the requested band.
func (res *Resolution) partition(msg zerolog.Logger, lo, hi, beg, width float64, nchan int) (float64, float64, int) {
	avail := int(math.Floor((hi-beg)/width + tol))
	avail = max(avail, 1)
	switch {
	case nchan <= 0:
		return beg, width, avail
	case nchan <= avail:
		return beg, width, nchan
	}

	var (
		centre = beg + float64(nchan)*width/2
		half   float64
	)
	centre = math.Max(lo, math.Min(hi, centre))
	half = math.Min(centre-lo, hi-centre)
	n := int(math.Floor(2*half/width + tol))
	n = max(n, 1)
	nbeg := centre - float64(n)*width/2
	if nbeg < lo-tol*width {
		nbeg = lo
	}
	res.correct(msg, Correction{
		Param: "nchan", Requested: float64(nchan), Applied: float64(n),
		Reason: "requested bandwidth exceeds the available bandwidth, using the largest symmetric band",
	})
	return nbeg, width, n
}
