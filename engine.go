// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mstransform transforms the spectral axis of measurement sets:
// channel averaging, smoothing, regridding, frame conversion, spectral
// window combination and splitting.
package mstransform

import (
	"context"
	"io"
	"slices"
	"time"

	"github.com/lsst-lpc/mstransform/config"
	"github.com/lsst-lpc/mstransform/grid"
	"github.com/lsst-lpc/mstransform/kernel"
	"github.com/lsst-lpc/mstransform/metrics"
	"github.com/lsst-lpc/mstransform/ms"
	"github.com/lsst-lpc/mstransform/output"
	"github.com/lsst-lpc/mstransform/plan"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Engine runs a transform over the chunks of a measurement set.
type Engine struct {
	plan *plan.Plan
	msg  zerolog.Logger
	buf  *output.Buffer

	freqs map[int][]float64 // selected input channel centres, ascending
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger of the engine.
func WithLogger(msg zerolog.Logger) Option {
	return func(e *Engine) { e.msg = msg }
}

// New resolves the transform described by cfg over ds.
func New(ds ms.Dataset, cfg config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		msg:   zerolog.Nop(),
		freqs: make(map[int][]float64),
	}
	for _, opt := range opts {
		opt(e)
	}

	p, err := plan.Resolve(ds, cfg, e.msg)
	if err != nil {
		return nil, errors.Wrap(err, "could not resolve transform plan")
	}
	e.plan = p
	for _, c := range p.Corrections {
		metrics.Corrections.WithLabelValues(c.Param).Inc()
	}
	if p.BufferMode {
		e.buf = new(output.Buffer)
	}
	for _, id := range p.Windows() {
		wp, _ := p.Window(id)
		e.freqs[id] = ascending(wp.Res.Input)
	}
	return e, nil
}

// Plan returns the resolved plan.
func (e *Engine) Plan() *plan.Plan { return e.plan }

// Buffer returns the output buffer in buffer mode, nil otherwise.
func (e *Engine) Buffer() *output.Buffer { return e.buf }

// IterOptions returns how the input rows must be chunked.
func (e *Engine) IterOptions() ms.IterOptions {
	return ms.IterOptions{CombineWindows: e.plan.Combined != nil}
}

// Run pulls chunks from it until exhaustion, transforms them and writes
// the result to tbl. In buffer mode, nothing reaches tbl: rows and
// subtables stay in the buffer until committed.
func (e *Engine) Run(ctx context.Context, it ms.Iterator, tbl ms.Table) error {
	var target output.Target = output.Direct{Table: tbl}
	if e.buf != nil {
		target = e.buf
	}
	a := output.New(e.plan.Writer, target, e.msg)

	nchunks := 0
	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "transform interrupted")
		}
		chunk, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrapf(err, "could not read chunk %d", nchunks)
		}

		start := time.Now()
		if err := e.transform(a, chunk); err != nil {
			return errors.Wrapf(err, "could not transform chunk %d", nchunks)
		}
		if err := a.Flush(); err != nil {
			return errors.Wrapf(err, "could not write chunk %d", nchunks)
		}
		metrics.ChunkDuration.Observe(time.Since(start).Seconds())
		nchunks++
	}

	p := e.plan
	if err := a.Close(p.OutWindows, p.OutDataDescs, p.Aux); err != nil {
		return errors.Wrap(err, "could not close output")
	}
	e.msg.Info().Int("chunks", nchunks).Int("rows", a.Written()).Msg("transform done")
	return nil
}

// Transform transforms one chunk and returns its output rows.
func (e *Engine) Transform(chunk *ms.Chunk) ([]ms.Row, error) {
	buf := new(output.Buffer)
	a := output.New(e.plan.Writer, buf, e.msg)
	if err := e.transform(a, chunk); err != nil {
		return nil, err
	}
	if err := a.Flush(); err != nil {
		return nil, err
	}
	return buf.Rows, nil
}

func (e *Engine) transform(a *output.Assembler, chunk *ms.Chunk) error {
	metrics.RowsRead.Add(float64(len(chunk.Rows)))
	if e.plan.Combined != nil {
		return e.combine(a, chunk)
	}
	for i := range chunk.Rows {
		row := &chunk.Rows[i]
		wp, ok := e.plan.WindowOf(row.DataDesc)
		if !ok {
			continue
		}
		meta, ok := e.meta(row)
		if !ok {
			continue
		}
		if err := e.window(a, wp, meta, row); err != nil {
			return errors.Wrapf(err, "row %d", i)
		}
	}
	return nil
}

// meta returns the identifiers of the output row of an input row, or false
// when the row is not selected.
func (e *Engine) meta(row *ms.Row) (ms.Row, bool) {
	maps := &e.plan.Maps
	out := ms.Row{
		Time:     row.Time,
		Exposure: row.Exposure,
		Interval: row.Interval,
		UVW:      row.UVW,
		FlagRow:  row.FlagRow,
		Weight:   slices.Clone(row.Weight),
		Sigma:    slices.Clone(row.Sigma),
	}
	for _, v := range []struct {
		m   plan.IndexMap
		in  int
		out *int
	}{
		{maps.Observation, row.Observation, &out.Observation},
		{maps.Array, row.Array, &out.Array},
		{maps.Scan, row.Scan, &out.Scan},
		{maps.State, row.State, &out.State},
		{maps.Field, row.Field, &out.Field},
		{maps.Antenna, row.Ant1, &out.Ant1},
		{maps.Antenna, row.Ant2, &out.Ant2},
	} {
		id, ok := v.m.Get(v.in)
		if !ok {
			return out, false
		}
		*v.out = id
	}
	return out, true
}

// window runs the stripe pipeline of one window over every correlation of
// a row.
func (e *Engine) window(a *output.Assembler, wp *plan.WindowPlan, meta ms.Row, row *ms.Row) error {
	p := e.plan
	d, err := p.Doppler(wp, row.Field, row.Time)
	if err != nil {
		return err
	}

	var (
		ncorr = row.NumCorr()
		pl    = &wp.Pipeline
		shape = output.Shape{Corr: ncorr, Chan: wp.NumOut(), Columns: p.Columns}
		i     = a.Add(meta, shape, p.Maps.DataDesc[row.DataDesc])
		sink  output.Sink = a
		out   = a.Row(i)
	)
	for c := 0; c < ncorr; c++ {
		ws := weightSpectrum(row, c)
		for _, col := range p.Columns {
			s := plan.Prepare(pl, inputStripe(row, col, c, ws))
			e.phaseShift(s, wp.ID, row.UVW)
			s = plan.Publish(pl, pl.Data(s, d))
			sink.PutData(i, col, c, s)
		}

		w := plan.Prepare(pl, kernel.Stripe[float64]{Data: ws, Flags: inputFlags(row, c)})
		w = plan.Publish(pl, pl.Weight(w, d))
		sink.PutWeights(i, c, w)

		switch {
		case row.WeightSpectrum != nil:
			out.Weight[c] = kernel.RowScalar(kernel.Stripe[float64]{Data: out.WeightSpectrum[c], Flags: out.Flags[c]})
			out.Sigma[c] = kernel.WeightToSigma(out.Weight[c])
		case c < len(row.Weight):
			out.Weight[c] = row.Weight[c] * wp.WeightScale
			if c < len(row.Sigma) {
				out.Sigma[c] = kernel.ScaleSigma(row.Sigma[c], wp.WeightScale)
			} else {
				out.Sigma[c] = kernel.WeightToSigma(out.Weight[c])
			}
		}
	}
	return nil
}

// combine merges the rows of all windows observed on one baseline at one
// time into a single row.
func (e *Engine) combine(a *output.Assembler, chunk *ms.Chunk) error {
	var (
		p    = e.plan
		cp   = p.Combined
		pl   = &cp.Pipeline
		d    = p.CombinedDoppler()
		idx  = output.Index(chunk.Rows)
		sink output.Sink = a
	)
	for g := 0; g < idx.Len(); g++ {
		_, members := idx.Group(g)
		var (
			rows  = make(map[int]*ms.Row, len(members))
			first *ms.Row
		)
		for _, j := range members {
			row := &chunk.Rows[j]
			wp, ok := p.WindowOf(row.DataDesc)
			if !ok {
				continue
			}
			if _, dup := rows[wp.ID]; dup {
				continue
			}
			rows[wp.ID] = row
			if first == nil {
				first = row
			}
		}
		if first == nil {
			continue
		}
		meta, ok := e.meta(first)
		if !ok {
			continue
		}
		ncorr := first.NumCorr()
		for id, row := range rows {
			if row.NumCorr() != ncorr {
				return errors.Errorf("window %d has %d correlations, want %d", id, row.NumCorr(), ncorr)
			}
		}

		var (
			shape = output.Shape{Corr: ncorr, Chan: cp.NumOut(), Columns: p.Columns}
			i     = a.Add(meta, shape, p.Maps.DataDesc[first.DataDesc])
			out   = a.Row(i)
		)
		prepared := make(map[int]kernel.Stripe[complex128], len(rows))
		src := func(id int) (kernel.Stripe[complex128], bool) {
			s, ok := prepared[id]
			return s, ok
		}
		for c := 0; c < ncorr; c++ {
			var weights kernel.Stripe[float64]
			for k, col := range p.Columns {
				for id, row := range rows {
					wp, _ := p.Window(id)
					s := plan.Prepare(&wp.Pipeline, inputStripe(row, col, c, weightSpectrum(row, c)))
					e.phaseShift(s, id, row.UVW)
					prepared[id] = s
				}
				s := kernel.CombineStripe(cp.Union.Len(), cp.Contribs, src)
				if k == 0 {
					weights = kernel.Stripe[float64]{Data: slices.Clone(s.Weights), Flags: slices.Clone(s.Flags)}
				}
				s = plan.Publish(pl, pl.Data(plan.Prepare(pl, s), d))
				sink.PutData(i, col, c, s)
			}
			w := plan.Publish(pl, pl.Weight(plan.Prepare(pl, weights), d))
			sink.PutWeights(i, c, w)
			out.Weight[c] = kernel.RowScalar(kernel.Stripe[float64]{Data: out.WeightSpectrum[c], Flags: out.Flags[c]})
			out.Sigma[c] = kernel.WeightToSigma(out.Weight[c])
		}
	}
	return nil
}

// phaseShift rotates the visibilities of a prepared stripe of window id to
// the shifted phase centre.
func (e *Engine) phaseShift(s kernel.Stripe[complex128], id int, uvw [3]float64) {
	ps := e.plan.PhaseShift
	if !ps.Enabled || (ps.DX == 0 && ps.DY == 0) {
		return
	}
	kernel.PhaseShift(s, uvw, ps.DX, ps.DY, e.freqs[id])
}

// inputStripe returns the stripe of correlation c of a data column, with
// the row flag folded into the channel flags.
func inputStripe(row *ms.Row, col ms.Column, c int, ws []float64) kernel.Stripe[complex128] {
	var data []complex128
	if plane := row.Data[col]; c < len(plane) {
		data = plane[c]
	}
	if data == nil {
		data = make([]complex128, row.NumChan())
	}
	return kernel.Stripe[complex128]{
		Data:    data,
		Flags:   inputFlags(row, c),
		Weights: ws,
	}
}

func inputFlags(row *ms.Row, c int) []bool {
	flags := row.Flags[c]
	if !row.FlagRow {
		return flags
	}
	out := make([]bool, len(flags))
	for i := range out {
		out[i] = true
	}
	return out
}

// weightSpectrum returns the weight spectrum of correlation c, synthesized
// from the row weight when the input carries none.
func weightSpectrum(row *ms.Row, c int) []float64 {
	if c < len(row.WeightSpectrum) {
		return row.WeightSpectrum[c]
	}
	w := 1.0
	if c < len(row.Weight) {
		w = row.Weight[c]
	}
	ws := make([]float64, row.NumChan())
	for i := range ws {
		ws[i] = w
	}
	return ws
}

func ascending(g grid.Grid) []float64 {
	fs := slices.Clone(g.Freqs)
	if g.Descending() {
		slices.Reverse(fs)
	}
	return fs
}
