// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package plan resolves a transform configuration against the metadata of
// a measurement set into an immutable plan: per-window grids and stripe
// pipelines, combination tables, output tables and index maps.
package plan

import (
	"math"
	"slices"

	"github.com/lsst-lpc/mstransform/config"
	"github.com/lsst-lpc/mstransform/grid"
	"github.com/lsst-lpc/mstransform/kernel"
	"github.com/lsst-lpc/mstransform/ms"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrConfig reports a configuration that cannot be applied to a dataset.
var ErrConfig = errors.New("plan: invalid configuration")

// WindowPlan holds everything the transform needs about one selected input
// spectral window.
type WindowPlan struct {
	ID    int // input window id
	Name  string
	Frame grid.Frame

	Pipeline

	// Slices are the output grids, in the channel order of the input, and
	// OutIDs the matching output window ids.
	Slices []grid.Grid
	OutIDs []int

	WeightScale float64 // output over input channel width
	SigmaScale  float64 // 1/sqrt(WeightScale)

	centre    float64 // band centre, in the input frame
	refCentre float64 // band centre converted at the reference epoch
}

// Padding returns the number of channels padding the last slice.
func (wp *WindowPlan) Padding() int {
	n := 0
	for _, s := range wp.Slices {
		n += s.Len()
	}
	return n - wp.NumOut()
}

// CombinedPlan describes the merge of all selected windows into one.
type CombinedPlan struct {
	// Pipeline runs on the merged stripe, from the union grid to the output.
	Pipeline

	Windows  []int // contributing input windows, ascending
	Union    grid.Grid
	Contribs grid.Contributions

	Slices []grid.Grid
	OutIDs []int

	WeightScale float64
	SigmaScale  float64

	centre    float64
	refCentre float64
}

// Padding returns the number of channels padding the last slice.
func (cp *CombinedPlan) Padding() int {
	n := 0
	for _, s := range cp.Slices {
		n += s.Len()
	}
	return n - cp.NumOut()
}

// Plan is a resolved transform run. It is immutable once built.
type Plan struct {
	Cube    CubeTransform
	Ops     StripeOps
	Average kernel.Average
	Writer  Writer
	NSpw    int

	// Columns are the data columns to transform, highest priority first.
	Columns        []ms.Column
	WeightSpectrum bool // whether the input carries weight spectra
	IgnoreFlags    bool
	BufferMode     bool
	PhaseShift     config.PhaseShift

	ids     []int
	windows map[int]*WindowPlan
	ddwin   map[int]int // input data description -> input window

	Combined *CombinedPlan

	OutWindows   []ms.Window
	OutDataDescs []ms.DataDescription
	Aux          []ms.AuxTable
	Maps         IndexMaps

	Corrections []grid.Correction
	RefTime     float64
	RefField    int

	outFrame grid.Frame
	convert  bool
	obs      ms.Observatory
	fields   map[int]ms.Field
	inputs   map[int]ms.Window
	nextID   int
}

// Windows returns the selected input window ids, ascending.
func (p *Plan) Windows() []int { return p.ids }

// Window returns the plan of input window id.
func (p *Plan) Window(id int) (*WindowPlan, bool) {
	wp, ok := p.windows[id]
	return wp, ok
}

// WindowOf returns the plan of the window referenced by an input data
// description.
func (p *Plan) WindowOf(ddid int) (*WindowPlan, bool) {
	id, ok := p.ddwin[ddid]
	if !ok {
		return nil, false
	}
	return p.Window(id)
}

// Doppler returns the change of the frame conversion of a window between
// the reference epoch and time t, for rows of the given field.
func (p *Plan) Doppler(wp *WindowPlan, field int, t float64) (Doppler, error) {
	if !p.convert || wp.Frame == p.outFrame || !p.Ops.Has(OpRegrid) {
		return NoDoppler, nil
	}
	return p.doppler(wp.Frame, wp.centre, wp.refCentre, field, t)
}

// CombinedDoppler is the Doppler term of the combined window. Windows are
// merged on their reference-epoch grids, so the merged stripe carries no
// time dependence.
func (p *Plan) CombinedDoppler() Doppler { return NoDoppler }

func (p *Plan) doppler(from grid.Frame, centre, ref float64, field int, t float64) (Doppler, error) {
	f, ok := p.fields[field]
	if !ok {
		f, ok = p.fields[p.RefField]
	}
	var (
		dir grid.Direction
		src *grid.SourceVelocity
	)
	if ok {
		dir = f.Dir
		src = f.Velocity
	}
	conv, err := grid.NewConverter(from, p.outFrame, p.obs.Observer(t), dir, src)
	if err != nil {
		return NoDoppler, errors.Wrapf(err, "could not convert field %d at t=%v", field, t)
	}
	ft := conv(centre)
	if ref == 0 {
		return NoDoppler, nil
	}
	return Doppler{Ratio: ft / ref, Offset: ft - ref}, nil
}

// Resolve builds the plan of a transform run over ds.
// Degrading corrections are logged on msg and recorded in the plan.
func Resolve(ds ms.Dataset, cfg config.Config, msg zerolog.Logger) (*Plan, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(ErrConfig, err.Error())
	}

	p := &Plan{
		NSpw:           cfg.NSpw,
		WeightSpectrum: ds.HasColumn(ms.WeightSpectrumColumn),
		IgnoreFlags:    cfg.IgnoreFlags,
		BufferMode:     cfg.BufferMode,
		PhaseShift:     cfg.PhaseShift,
		windows:        make(map[int]*WindowPlan),
		ddwin:          make(map[int]int),
		obs:            ds.Observatory(),
		fields:         make(map[int]ms.Field),
		inputs:         make(map[int]ms.Window),
		RefTime:        ds.Observatory().Epoch,
		RefField:       -1,
	}

	var err error
	p.Columns, err = columns(ds, cfg.DataColumn)
	if err != nil {
		return nil, err
	}

	for _, f := range ds.Fields() {
		p.fields[f.ID] = f
		if p.RefField < 0 || f.ID < p.RefField {
			p.RefField = f.ID
		}
	}
	for _, w := range ds.Windows() {
		p.inputs[w.ID] = w
	}
	for _, dd := range ds.DataDescriptions() {
		p.ddwin[dd.ID] = dd.Window
	}

	if cfg.Regrid.OutFrame != "" {
		p.outFrame, err = grid.ParseFrame(cfg.Regrid.OutFrame)
		if err != nil {
			return nil, errors.Wrap(ErrConfig, err.Error())
		}
		p.convert = true
	}

	sels, err := selections(ds.Windows(), cfg)
	if err != nil {
		return nil, err
	}

	average := false
	for i := range sels {
		if cfg.Bin(i) > 1 {
			average = true
		}
	}
	var (
		smooth = cfg.Smoothing()
		regrid = cfg.Regrid.Enabled || p.convert
	)
	p.Ops = SelectOps(average, smooth, regrid)
	p.Cube = SelectCube(cfg.CombineSpws, regrid, average, smooth, cfg.NSpw)
	p.Average = SelectAverage(p.WeightSpectrum, cfg.TimeAverage.Enabled, cfg.IgnoreFlags)

	base, err := pipeline(cfg, p.Ops)
	if err != nil {
		return nil, err
	}
	base.Average = p.Average
	spec, err := gridSpec(cfg)
	if err != nil {
		return nil, err
	}

	for i, sel := range sels {
		wp, err := p.resolveWindow(sel, base, spec, cfg.Bin(i), cfg.CombineSpws, msg)
		if err != nil {
			return nil, err
		}
		p.ids = append(p.ids, wp.ID)
		p.windows[wp.ID] = wp
	}

	var rws []ms.Rewrite
	switch {
	case cfg.CombineSpws:
		if err := p.resolveCombined(base, spec, cfg.Bin(0), msg); err != nil {
			return nil, err
		}
		cp := p.Combined
		cp.OutIDs, cp.Slices = p.split(cp.Res, msg)
		p.NSpw = len(cp.Slices)
		p.Writer = SelectWriter(p.NSpw, true)
		for _, id := range p.ids {
			for k, oid := range cp.OutIDs {
				rws = append(rws, ms.Rewrite{Source: id, ID: oid, Grid: cp.Slices[k]})
			}
		}
		p.Maps.Window = Constant(p.ids, cp.OutIDs[0])

	default:
		var (
			reshaped bool
			nspw     = 1
			firsts   = make(map[int]int, len(p.ids))
		)
		for _, id := range p.ids {
			wp := p.windows[id]
			wp.OutIDs, wp.Slices = p.split(wp.Res, msg.With().Int("spw", id).Logger())
			if wp.NumOut() != wp.NChan {
				reshaped = true
			}
			nspw = max(nspw, len(wp.Slices))
			firsts[id] = wp.OutIDs[0]
			for k, oid := range wp.OutIDs {
				rws = append(rws, ms.Rewrite{Source: id, ID: oid, Grid: wp.Slices[k]})
			}
		}
		p.NSpw = nspw
		p.Writer = SelectWriter(nspw, reshaped)
		p.Maps.Window = NewIndexMap(firsts)
	}

	p.OutWindows, p.OutDataDescs, p.Maps.DataDesc = ms.RewriteWindows(ds.Windows(), ds.DataDescriptions(), rws)
	fids := make([]int, 0, len(p.fields))
	for id := range p.fields {
		fids = append(fids, id)
	}
	if len(fids) > 0 {
		p.Maps.Field = Compact(fids)
	}
	p.Aux = ms.Multiplex(ds.AuxTables(), p.outWindows)

	msg.Debug().
		Str("cube", p.Cube.String()).
		Str("ops", p.Ops.String()).
		Str("average", p.Average.String()).
		Str("writer", p.Writer.String()).
		Int("nspw", p.NSpw).
		Int("corrections", len(p.Corrections)).
		Msg("resolved transform plan")

	return p, nil
}

// outWindows returns the output windows of an input window.
func (p *Plan) outWindows(id int) []int {
	if p.Combined != nil {
		if _, ok := p.windows[id]; ok {
			return p.Combined.OutIDs
		}
		return nil
	}
	if wp, ok := p.windows[id]; ok {
		return wp.OutIDs
	}
	return nil
}

func columns(ds ms.Dataset, name string) ([]ms.Column, error) {
	cols, err := ms.ParseColumns(name)
	if err != nil {
		return nil, errors.Wrap(ErrConfig, err.Error())
	}
	all := name == "all"
	out := cols[:0]
	for _, c := range cols {
		switch {
		case ds.HasColumn(c):
			out = append(out, c)
		case !all:
			return nil, errors.Wrapf(ErrConfig, "missing column %v", c)
		}
	}
	if len(out) == 0 {
		return nil, errors.Wrap(ErrConfig, "no data column to transform")
	}
	slices.SortStableFunc(out, func(a, b ms.Column) int { return b.Priority() - a.Priority() })
	return out, nil
}

func selections(ws []ms.Window, cfg config.Config) ([]config.Selection, error) {
	sels, err := cfg.Selections()
	if err != nil {
		return nil, errors.Wrap(ErrConfig, err.Error())
	}
	if len(sels) == 0 {
		for _, w := range ws {
			sels = append(sels, config.Selection{Window: w.ID, End: -1})
		}
	}
	seen := make(map[int]bool, len(sels))
	for _, sel := range sels {
		if seen[sel.Window] {
			return nil, errors.Wrapf(ErrConfig, "window %d selected twice", sel.Window)
		}
		seen[sel.Window] = true
		if !slices.ContainsFunc(ws, func(w ms.Window) bool { return w.ID == sel.Window }) {
			return nil, errors.Wrapf(ErrConfig, "unknown window %d", sel.Window)
		}
	}
	if len(sels) == 0 {
		return nil, errors.Wrap(ErrConfig, "no spectral window selected")
	}
	slices.SortStableFunc(sels, func(a, b config.Selection) int { return a.Window - b.Window })
	return sels, nil
}

func pipeline(cfg config.Config, ops StripeOps) (Pipeline, error) {
	p := Pipeline{
		Ops:    ops,
		Smooth: kernel.Hanning,
		FWHM:   cfg.SmoothWidth,
		Extrap: cfg.Regrid.Extrapolate,
	}
	if cfg.Smooth == "fourier" {
		p.Smooth = kernel.Fourier
	}
	var err error
	p.Method, err = kernel.ParseMethod(cfg.Regrid.Interpolation)
	if err != nil {
		return p, errors.Wrap(ErrConfig, err.Error())
	}
	return p, nil
}

func gridSpec(cfg config.Config) (grid.Spec, error) {
	var (
		rg   = cfg.Regrid
		spec = grid.Spec{
			Start:    math.NaN(),
			Width:    rg.Width,
			NChan:    rg.NChan,
			RestFreq: rg.RestFreq,
			Regrid:   rg.Enabled,
		}
		err error
	)
	if rg.Start != nil {
		spec.Start = *rg.Start
	}
	spec.Mode, err = grid.ParseMode(rg.Mode)
	if err != nil {
		return spec, errors.Wrap(ErrConfig, err.Error())
	}
	spec.VelType, err = grid.ParseVelocityType(rg.VelType)
	if err != nil {
		return spec, errors.Wrap(ErrConfig, err.Error())
	}
	if rg.Interpolation == "fftshift" {
		// the shift keeps the natural grid.
		spec.Regrid = false
	}
	return spec, nil
}

// converter returns the conversion of a window into the output frame at
// the reference epoch, or nil when no conversion is requested.
func (p *Plan) converter(from grid.Frame) (grid.Converter, error) {
	if !p.convert || from == p.outFrame {
		return nil, nil
	}
	var (
		dir grid.Direction
		src *grid.SourceVelocity
	)
	if f, ok := p.fields[p.RefField]; ok {
		dir = f.Dir
		src = f.Velocity
	}
	conv, err := grid.NewConverter(from, p.outFrame, p.obs.Observer(p.RefTime), dir, src)
	if err != nil {
		return nil, errors.Wrapf(err, "could not convert %v to %v", from, p.outFrame)
	}
	return conv, nil
}

func (p *Plan) resolveWindow(sel config.Selection, base Pipeline, spec grid.Spec, bin int, combine bool, msg zerolog.Logger) (*WindowPlan, error) {
	w := p.inputs[sel.Window]
	log := msg.With().Int("spw", w.ID).Logger()

	nchan := w.Grid.Len()
	start, end := sel.Start, sel.End
	if end < 0 || end >= nchan {
		if end >= nchan {
			p.record(log, grid.Correction{
				Param: "spw", Requested: float64(end), Applied: float64(nchan - 1),
				Reason: "channel selection beyond the last channel",
			})
		}
		end = nchan - 1
	}
	if start > end {
		return nil, errors.Wrapf(ErrConfig, "empty channel selection %d~%d for window %d", sel.Start, sel.End, w.ID)
	}

	wp := &WindowPlan{
		ID:       w.ID,
		Name:     w.Name,
		Frame:    w.Frame,
		Pipeline: base,
	}
	wp.Start = start
	wp.NChan = end - start + 1
	in := w.Grid.Sub(start, wp.NChan)

	conv, err := p.converter(w.Frame)
	if err != nil {
		return nil, err
	}

	if combine {
		// windows are merged on their converted natural grids; the combined
		// pipeline does the rest.
		wp.Res, err = grid.Resolve(in, grid.Spec{}, conv, log)
		wp.Ops = 0
	} else {
		s := spec
		s.PreAverage = bin
		wp.Res, err = grid.Resolve(in, s, conv, log)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not resolve grid of window %d", w.ID)
	}
	p.Corrections = append(p.Corrections, wp.Res.Corrections...)
	if wp.Method == kernel.FFTShift && wp.Ops.Has(OpRegrid) {
		wp.Res.Output = uniform(wp.Res.Regridded)
		wp.Res.RegridScale = 1
	}

	wp.WeightScale = wp.Res.WeightScale()
	wp.SigmaScale = 1 / math.Sqrt(wp.WeightScale)
	lo, hi := in.Edges()
	wp.centre = (lo + hi) / 2
	wp.refCentre = wp.centre
	if conv != nil {
		wp.refCentre = conv(wp.centre)
	}
	wp.bind()
	return wp, nil
}

func (p *Plan) resolveCombined(base Pipeline, spec grid.Spec, bin int, msg zerolog.Logger) error {
	var (
		grids = make([]grid.Grid, 0, len(p.ids))
		chans []grid.Channel
	)
	for _, id := range p.ids {
		wp := p.windows[id]
		grids = append(grids, wp.Res.Converted)
		chans = append(chans, grid.Channels(id, wp.Res.Converted)...)
	}
	grid.SortChannels(chans)

	cp := &CombinedPlan{
		Pipeline: base,
		Windows:  slices.Clone(p.ids),
		Union:    grid.Union(grids...),
	}
	cp.Contribs = grid.MapOverlaps(chans, cp.Union)
	cp.NChan = cp.Union.Len()

	log := msg.With().Str("spw", "combined").Logger()
	s := spec
	s.PreAverage = bin
	res, err := grid.Resolve(cp.Union, s, nil, log)
	if err != nil {
		return errors.Wrap(err, "could not resolve combined grid")
	}
	p.Corrections = append(p.Corrections, res.Corrections...)
	cp.Res = res
	if cp.Method == kernel.FFTShift && cp.Ops.Has(OpRegrid) {
		cp.Res.Output = uniform(cp.Res.Regridded)
		cp.Res.RegridScale = 1
	}
	cp.WeightScale = cp.Res.WeightScale()
	cp.SigmaScale = 1 / math.Sqrt(cp.WeightScale)
	lo, hi := cp.Union.Edges()
	cp.centre = (lo + hi) / 2
	cp.refCentre = cp.centre
	cp.bind()
	p.Combined = cp
	return nil
}

// split slices the output grid of a resolution into NSpw windows and
// allocates their output ids. With N slices per window, the r-th selected
// window gets the ids r*N, ..., r*N+N-1.
func (p *Plan) split(res grid.Resolution, msg zerolog.Logger) ([]int, []grid.Grid) {
	var (
		out = res.Published()
		n   = p.NSpw
	)
	if n > out.Len() {
		p.record(msg, grid.Correction{
			Param: "nspw", Requested: float64(n), Applied: float64(out.Len()),
			Reason: "more output windows requested than output channels",
		})
		n = out.Len()
	}
	parts := grid.Slice(out, n)
	ids := make([]int, len(parts))
	for k := range ids {
		ids[k] = p.nextID
		p.nextID++
	}
	return ids, parts
}

func (p *Plan) record(msg zerolog.Logger, c grid.Correction) {
	p.Corrections = append(p.Corrections, c)
	msg.Warn().
		Str("param", c.Param).
		Float64("requested", c.Requested).
		Float64("applied", c.Applied).
		Msg(c.Reason)
}

// uniform returns the uniform grid with the same channel count spanning
// the channel centres of g.
func uniform(g grid.Grid) grid.Grid {
	n := g.Len()
	if n < 3 || g.IsUniform() {
		return g.Clone()
	}
	dx := (g.Freqs[n-1] - g.Freqs[0]) / float64(n-1)
	return grid.Uniform(g.Freqs[0], dx, n)
}
