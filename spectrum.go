// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mstransform

import (
	"bufio"
	"cmp"
	"encoding/csv"
	"io"
	"math"
	"math/cmplx"
	"slices"

	"github.com/lsst-lpc/mstransform/ms"
	"github.com/pkg/errors"
	"go-hep.org/x/hep/csvutil"
	"gonum.org/v1/plot/plotter"
)

// Spectrum is the time and baseline averaged amplitude spectrum of one
// spectral window.
type Spectrum struct {
	Name  string
	Freqs []float64
	Amps  []float64
	Flags []bool // set where every sample of the channel is flagged
}

// Waterfall holds the baseline averaged amplitudes of one spectral window
// over time. Fully flagged cells are NaN.
type Waterfall struct {
	Times []float64
	Freqs []float64
	Amps  [][]float64 // [time][channel]
}

func (wf Waterfall) Dims() (c, r int)   { return len(wf.Times), len(wf.Freqs) }
func (wf Waterfall) Z(c, r int) float64 { return wf.Amps[c][r] }
func (wf Waterfall) X(c int) float64    { return wf.Times[c] }
func (wf Waterfall) Y(r int) float64    { return wf.Freqs[r] }

type accum struct {
	sum []float64
	n   []int
}

func newAccum(n int) *accum {
	return &accum{sum: make([]float64, n), n: make([]int, n)}
}

func (a *accum) add(vs []complex128, flags []bool) {
	for i, v := range vs {
		if i >= len(a.sum) || (i < len(flags) && flags[i]) {
			continue
		}
		a.sum[i] += cmplx.Abs(v)
		a.n[i]++
	}
}

// Spectra returns, for each spectral window of m, the amplitude spectrum and
// the waterfall of correlation corr of a data column.
func Spectra(m *ms.Memory, col ms.Column, corr int) ([]Spectrum, []Waterfall) {
	ws := slices.Clone(m.Meta.Windows)
	slices.SortFunc(ws, func(a, b ms.Window) int { return cmp.Compare(a.ID, b.ID) })

	var (
		total = make(map[int]*accum, len(ws))
		times = make(map[int]map[float64]*accum, len(ws))
		nchan = make(map[int]int, len(ws))
	)
	for _, w := range ws {
		nchan[w.ID] = w.Grid.Len()
		total[w.ID] = newAccum(w.Grid.Len())
		times[w.ID] = make(map[float64]*accum)
	}

	for i := range m.Rows {
		row := &m.Rows[i]
		w, ok := m.Window(row.DataDesc)
		if !ok {
			continue
		}
		plane := row.Data[col]
		if corr >= len(plane) || corr >= len(row.Flags) {
			continue
		}
		total[w.ID].add(plane[corr], row.Flags[corr])
		a, ok := times[w.ID][row.Time]
		if !ok {
			a = newAccum(nchan[w.ID])
			times[w.ID][row.Time] = a
		}
		a.add(plane[corr], row.Flags[corr])
	}

	var (
		specs = make([]Spectrum, len(ws))
		wfs   = make([]Waterfall, len(ws))
	)
	for k, w := range ws {
		a := total[w.ID]
		s := Spectrum{
			Name:  w.Name,
			Freqs: slices.Clone(w.Grid.Freqs),
			Amps:  make([]float64, len(a.sum)),
			Flags: make([]bool, len(a.sum)),
		}
		for i := range a.sum {
			if a.n[i] == 0 {
				s.Flags[i] = true
				continue
			}
			s.Amps[i] = a.sum[i] / float64(a.n[i])
		}
		specs[k] = s

		wf := Waterfall{Freqs: slices.Clone(w.Grid.Freqs)}
		for t := range times[w.ID] {
			wf.Times = append(wf.Times, t)
		}
		slices.Sort(wf.Times)
		for _, t := range wf.Times {
			a := times[w.ID][t]
			vs := make([]float64, len(a.sum))
			for i := range vs {
				vs[i] = math.NaN()
				if a.n[i] > 0 {
					vs[i] = a.sum[i] / float64(a.n[i])
				}
			}
			wf.Amps = append(wf.Amps, vs)
		}
		wfs[k] = wf
	}
	return specs, wfs
}

// LoadSpectrum reads a spectrum from r.
// LoadSpectrum expects 3 columns of the form (frequency, amplitude, flag),
// with flag a 0 or 1 integer. Lines starting with '#' are skipped.
func LoadSpectrum(r io.Reader) (Spectrum, error) {
	tbl := &csvutil.Table{
		Reader: csv.NewReader(bufio.NewReader(r)),
	}
	defer tbl.Close()
	tbl.Reader.Comment = '#'

	rows, err := tbl.ReadRows(0, -1)
	if err != nil {
		return Spectrum{}, errors.Wrap(err, "mstransform: could not read rows")
	}
	defer rows.Close()

	var (
		s  Spectrum
		id = 0
	)
	for rows.Next() {
		var (
			f, amp float64
			flag   int
		)
		if err := rows.Scan(&f, &amp, &flag); err != nil {
			return Spectrum{}, errors.Wrapf(err, "mstransform: could not scan row %d", id)
		}
		s.Freqs = append(s.Freqs, f)
		s.Amps = append(s.Amps, amp)
		s.Flags = append(s.Flags, flag != 0)
		id++
	}

	if err := rows.Err(); err != nil && err != io.EOF {
		return Spectrum{}, errors.Wrap(err, "mstransform: error while processing rows")
	}
	return s, nil
}

// WriteSpectrum writes s to w in the format read by LoadSpectrum.
func WriteSpectrum(w io.Writer, s Spectrum) error {
	tbl := &csvutil.Table{
		Writer: csv.NewWriter(w),
	}
	for i, f := range s.Freqs {
		flag := 0
		if i < len(s.Flags) && s.Flags[i] {
			flag = 1
		}
		if err := tbl.WriteRow(f, s.Amps[i], flag); err != nil {
			_ = tbl.Close()
			return errors.Wrapf(err, "mstransform: could not write channel %d", i)
		}
	}
	if err := tbl.Close(); err != nil {
		return errors.Wrap(err, "mstransform: could not flush spectrum")
	}
	return nil
}

var _ plotter.GridXYZ = Waterfall{}
