// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package output assembles transformed rows and writes them to an output
// table, directly or through an in-memory buffer.
package output

import (
	"slices"

	"github.com/lsst-lpc/mstransform/kernel"
	"github.com/lsst-lpc/mstransform/metrics"
	"github.com/lsst-lpc/mstransform/ms"
	"github.com/lsst-lpc/mstransform/plan"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Target is where assembled rows go: a Direct table or a *Buffer.
type Target interface {
	target()
}

// Direct writes rows straight into a table.
type Direct struct {
	Table ms.Table
}

func (Direct) target() {}

// Buffer holds output rows in memory until they are committed.
// Rows may be modified freely before Commit.
type Buffer struct {
	Rows []ms.Row
	Tile ms.TileShape

	Windows   []ms.Window
	DataDescs []ms.DataDescription
	Aux       []ms.AuxTable
}

func (*Buffer) target() {}

// SetSubtables records the output subtables to write on Commit.
func (b *Buffer) SetSubtables(ws []ms.Window, dds []ms.DataDescription, aux []ms.AuxTable) {
	b.Windows = ws
	b.DataDescs = dds
	b.Aux = aux
}

// Commit writes the buffered rows and subtables into tbl, then empties the
// buffer.
func (b *Buffer) Commit(tbl ms.Table) error {
	if len(b.Rows) > 0 {
		beg, err := tbl.AddRows(len(b.Rows))
		if err != nil {
			return errors.Wrapf(err, "could not add %d rows", len(b.Rows))
		}
		if err := tbl.SetTileShape(b.Tile); err != nil {
			return errors.Wrap(err, "could not set tile shape")
		}
		for i, row := range b.Rows {
			if err := tbl.PutRow(beg+i, row); err != nil {
				return errors.Wrapf(err, "could not write row %d", beg+i)
			}
		}
	}
	if err := putSubtables(tbl, b.Windows, b.DataDescs, b.Aux); err != nil {
		return err
	}
	if err := tbl.Flush(); err != nil {
		return errors.Wrap(err, "could not flush table")
	}
	metrics.RowsWritten.WithLabelValues("table").Add(float64(len(b.Rows)))
	b.Rows = nil
	return nil
}

func putSubtables(tbl ms.Table, ws []ms.Window, dds []ms.DataDescription, aux []ms.AuxTable) error {
	if err := tbl.PutWindows(ws); err != nil {
		return errors.Wrap(err, "could not write spectral windows")
	}
	if err := tbl.PutDataDescriptions(dds); err != nil {
		return errors.Wrap(err, "could not write data descriptions")
	}
	if err := tbl.PutAux(aux); err != nil {
		return errors.Wrap(err, "could not write auxiliary tables")
	}
	return nil
}

// Sink receives transformed stripes for the pending rows of a chunk.
type Sink interface {
	PutData(row int, col ms.Column, corr int, s kernel.Stripe[complex128])
	PutWeights(row, corr int, s kernel.Stripe[float64])
}

// Shape is the shape of the output planes of a row.
type Shape struct {
	Corr    int
	Chan    int
	Columns []ms.Column
}

type pending struct {
	row ms.Row
	dds []int
}

// Assembler accumulates the output rows of a chunk and writes them out.
type Assembler struct {
	writer plan.Writer
	target Target
	msg    zerolog.Logger

	rows []pending
	tile ms.TileShape
	next int // number of rows written so far
}

// New returns an assembler writing to t with the given writer.
func New(w plan.Writer, t Target, msg zerolog.Logger) *Assembler {
	return &Assembler{writer: w, target: t, msg: msg}
}

// Written returns the number of output rows written so far.
func (a *Assembler) Written() int { return a.next }

// Pending returns the number of rows waiting for Flush.
func (a *Assembler) Pending() int { return len(a.rows) }

// Add adds a pending output row with the identifiers and scalars of meta
// and zeroed planes of the given shape. dds are the output data
// descriptions of the row, one per output window slice.
// It returns the index of the pending row.
func (a *Assembler) Add(meta ms.Row, shape Shape, dds []int) int {
	row := meta
	row.Data = make(map[ms.Column][][]complex128, len(shape.Columns))
	for _, col := range shape.Columns {
		row.Data[col] = newPlane[complex128](shape.Corr, shape.Chan)
	}
	row.Flags = newPlane[bool](shape.Corr, shape.Chan)
	row.WeightSpectrum = newPlane[float64](shape.Corr, shape.Chan)
	row.SigmaSpectrum = newPlane[float64](shape.Corr, shape.Chan)
	row.Weight = make([]float64, shape.Corr)
	row.Sigma = make([]float64, shape.Corr)
	if len(meta.Weight) == shape.Corr {
		copy(row.Weight, meta.Weight)
	}
	if len(meta.Sigma) == shape.Corr {
		copy(row.Sigma, meta.Sigma)
	}
	a.rows = append(a.rows, pending{row: row, dds: slices.Clone(dds)})
	return len(a.rows) - 1
}

// Row returns pending row i.
func (a *Assembler) Row(i int) *ms.Row { return &a.rows[i].row }

// PutData stores the stripe of a correlation of a data column.
// Flags accumulate over columns.
func (a *Assembler) PutData(i int, col ms.Column, corr int, s kernel.Stripe[complex128]) {
	row := &a.rows[i].row
	copy(row.Data[col][corr], s.Data)
	flags := row.Flags[corr]
	for j := range flags {
		if j < len(s.Flags) && s.Flags[j] {
			flags[j] = true
		}
	}
}

// PutWeights stores the weight spectrum of a correlation and derives its
// sigma spectrum.
func (a *Assembler) PutWeights(i, corr int, s kernel.Stripe[float64]) {
	row := &a.rows[i].row
	copy(row.WeightSpectrum[corr], s.Data)
	kernel.WeightsToSigmas(row.SigmaSpectrum[corr], row.WeightSpectrum[corr])
}

// Flush writes the pending rows to the target. The tile shape is set once
// per batch.
func (a *Assembler) Flush() error {
	if len(a.rows) == 0 {
		return nil
	}
	var out []ms.Row
	for _, p := range a.rows {
		switch a.writer {
		case plan.Sliced:
			out = append(out, slice(p.row, p.dds)...)
		default:
			row := p.row
			if len(p.dds) > 0 {
				row.DataDesc = p.dds[0]
			}
			out = append(out, row)
		}
	}
	a.rows = a.rows[:0]

	shape := ms.TileShape{Rows: len(out)}
	if len(out) > 0 {
		shape.Corr = out[0].NumCorr()
		shape.Chan = out[0].NumChan()
	}
	flagged := 0
	for i := range out {
		for _, fs := range out[i].Flags {
			for _, f := range fs {
				if f {
					flagged++
				}
			}
		}
	}
	metrics.FlaggedSamples.Add(float64(flagged))

	switch t := a.target.(type) {
	case Direct:
		beg, err := t.Table.AddRows(len(out))
		if err != nil {
			return errors.Wrapf(err, "could not add %d rows", len(out))
		}
		if shape.Corr != a.tile.Corr || shape.Chan != a.tile.Chan {
			if err := t.Table.SetTileShape(shape); err != nil {
				return errors.Wrap(err, "could not set tile shape")
			}
			a.tile = shape
		}
		for i, row := range out {
			if err := t.Table.PutRow(beg+i, row); err != nil {
				return errors.Wrapf(err, "could not write row %d", beg+i)
			}
		}
		metrics.RowsWritten.WithLabelValues("table").Add(float64(len(out)))

	case *Buffer:
		t.Rows = append(t.Rows, out...)
		t.Tile = shape
		t.Tile.Rows = len(t.Rows)
		metrics.RowsWritten.WithLabelValues("buffer").Add(float64(len(out)))

	default:
		return errors.Errorf("output: invalid target %T", a.target)
	}

	a.next += len(out)
	a.msg.Debug().Int("rows", len(out)).Int("written", a.next).Msg("flushed chunk")
	return nil
}

// Close writes the output subtables. With a Buffer target, they are kept
// for Commit.
func (a *Assembler) Close(ws []ms.Window, dds []ms.DataDescription, aux []ms.AuxTable) error {
	if err := a.Flush(); err != nil {
		return err
	}
	switch t := a.target.(type) {
	case Direct:
		if err := putSubtables(t.Table, ws, dds, aux); err != nil {
			return err
		}
		if err := t.Table.Flush(); err != nil {
			return errors.Wrap(err, "could not flush table")
		}
	case *Buffer:
		t.SetSubtables(ws, dds, aux)
	}
	return nil
}

// slice splits a row over len(dds) output windows of equal channel count.
// The last slice is zero padded, with its padded channels flagged. Scalar
// weights are reduced again over the channels of each slice.
func slice(row ms.Row, dds []int) []ms.Row {
	n := len(dds)
	if n <= 1 {
		if n == 1 {
			row.DataDesc = dds[0]
		}
		return []ms.Row{row}
	}
	var (
		nchan = row.NumChan()
		ncorr = row.NumCorr()
		per   = (nchan + n - 1) / n
		out   = make([]ms.Row, n)
	)
	for k := range out {
		var (
			beg = k * per
			end = min(beg+per, nchan)
			o   = row
		)
		o.DataDesc = dds[k]
		o.Data = make(map[ms.Column][][]complex128, len(row.Data))
		for col, plane := range row.Data {
			o.Data[col] = subPlane(plane, beg, end, per, 0)
		}
		o.Flags = subPlane(row.Flags, beg, end, per, true)
		o.WeightSpectrum = subPlane(row.WeightSpectrum, beg, end, per, 0)
		o.SigmaSpectrum = subPlane(row.SigmaSpectrum, beg, end, per, kernel.InvalidSigma)
		o.Weight = make([]float64, ncorr)
		o.Sigma = make([]float64, ncorr)
		for c := 0; c < ncorr; c++ {
			o.Weight[c] = kernel.RowScalar(kernel.Stripe[float64]{
				Data:  o.WeightSpectrum[c][:max(end-beg, 0)],
				Flags: o.Flags[c][:max(end-beg, 0)],
			})
			o.Sigma[c] = kernel.WeightToSigma(o.Weight[c])
		}
		out[k] = o
	}
	return out
}

// subPlane returns channels [beg, end) of every correlation of plane,
// padded to n channels with pad.
func subPlane[T any](plane [][]T, beg, end, n int, pad T) [][]T {
	out := make([][]T, len(plane))
	for c, v := range plane {
		o := make([]T, n)
		if beg < end {
			copy(o, v[beg:end])
		}
		for j := max(end-beg, 0); j < n; j++ {
			o[j] = pad
		}
		out[c] = o
	}
	return out
}

func newPlane[T any](ncorr, nchan int) [][]T {
	plane := make([][]T, ncorr)
	for c := range plane {
		plane[c] = make([]T, nchan)
	}
	return plane
}

var _ Sink = (*Assembler)(nil)
