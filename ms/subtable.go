// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ms

import (
	"slices"
	"sort"

	"github.com/lsst-lpc/mstransform/grid"
)

// Rewrite describes an output spectral window built from an input one.
type Rewrite struct {
	Source int // input window id
	ID     int // output window id
	Grid   grid.Grid
}

// RewriteWindows builds the output spectral-window and data-description
// tables. Output windows inherit the metadata of their first source window.
// Output data descriptions are numbered in output window order, one per
// polarization setup used by the source window.
// The returned map gives the output data descriptions of each input one.
func RewriteWindows(ws []Window, dds []DataDescription, rws []Rewrite) ([]Window, []DataDescription, map[int][]int) {
	src := make(map[int]Window, len(ws))
	for _, w := range ws {
		src[w.ID] = w
	}

	var (
		out  = make([]Window, 0, len(rws))
		done = make(map[int]bool)
	)
	for _, rw := range rws {
		if done[rw.ID] {
			continue
		}
		done[rw.ID] = true
		w := src[rw.Source]
		w.ID = rw.ID
		w.Grid = rw.Grid.Clone()
		out = append(out, w)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	var (
		odds  []DataDescription
		ddmap = make(map[int][]int)
		seen  = make(map[[2]int]int) // (out window, polarization) -> out ddid
	)
	for _, w := range out {
		var sources []int
		for _, rw := range rws {
			if rw.ID == w.ID {
				sources = append(sources, rw.Source)
			}
		}
		for _, dd := range dds {
			if !slices.Contains(sources, dd.Window) {
				continue
			}
			key := [2]int{w.ID, dd.Polarization}
			id, ok := seen[key]
			if !ok {
				id = len(odds)
				seen[key] = id
				odds = append(odds, DataDescription{ID: id, Window: w.ID, Polarization: dd.Polarization})
			}
			if !slices.Contains(ddmap[dd.ID], id) {
				ddmap[dd.ID] = append(ddmap[dd.ID], id)
			}
		}
	}
	return out, odds, ddmap
}

// Multiplex rewrites time-dependent auxiliary tables so that every row
// references an output window. spws gives the output windows of an input
// window. Rows of unmapped windows are dropped; rows for all windows are
// kept as is. Rows that collapse onto the same output window and time keep
// the first occurrence only.
func Multiplex(aux []AuxTable, spws func(window int) []int) []AuxTable {
	out := make([]AuxTable, 0, len(aux))
	for _, tbl := range aux {
		type key struct {
			window int
			time   float64
		}
		var (
			rows []AuxRow
			seen = make(map[key]bool)
		)
		for _, row := range tbl.Rows {
			ids := []int{row.Window}
			if row.Window >= 0 {
				ids = spws(row.Window)
			}
			for _, id := range ids {
				k := key{id, row.Time}
				if seen[k] {
					continue
				}
				seen[k] = true
				r := row
				r.Window = id
				r.Values = slices.Clone(row.Values)
				rows = append(rows, r)
			}
		}
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].Time != rows[j].Time {
				return rows[i].Time < rows[j].Time
			}
			return rows[i].Window < rows[j].Window
		})
		out = append(out, AuxTable{Name: tbl.Name, Rows: rows})
	}
	return out
}
