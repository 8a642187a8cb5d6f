// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ms describes the measurement-set data model consumed and produced
// by the transform engine: spectral windows, data descriptions, fields, rows
// and the dataset, iterator and table interfaces.
package ms

import (
	"math"
	"strings"

	"github.com/lsst-lpc/mstransform/grid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"
)

// Column identifies an optional column of the main table.
type Column int

const (
	DataColumn Column = iota
	CorrectedColumn
	ModelColumn
	WeightSpectrumColumn
	SigmaSpectrumColumn
)

func (c Column) String() string {
	switch c {
	case DataColumn:
		return "DATA"
	case CorrectedColumn:
		return "CORRECTED_DATA"
	case ModelColumn:
		return "MODEL_DATA"
	case WeightSpectrumColumn:
		return "WEIGHT_SPECTRUM"
	case SigmaSpectrumColumn:
		return "SIGMA_SPECTRUM"
	}
	return "UNKNOWN"
}

// Priority ranks columns when several are transformed together:
// the weight spectrum follows the column of highest priority.
func (c Column) Priority() int {
	switch c {
	case CorrectedColumn:
		return 2
	case DataColumn:
		return 1
	}
	return 0
}

// ParseColumns parses a data column selection: data, corrected, model, all
// or a comma separated list of them.
func ParseColumns(s string) ([]Column, error) {
	var cols []Column
	for _, tok := range strings.Split(strings.ToLower(s), ",") {
		switch strings.TrimSpace(tok) {
		case "", "data":
			cols = append(cols, DataColumn)
		case "corrected", "corrected_data":
			cols = append(cols, CorrectedColumn)
		case "model", "model_data":
			cols = append(cols, ModelColumn)
		case "all":
			cols = append(cols, DataColumn, CorrectedColumn, ModelColumn)
		default:
			return nil, errors.Errorf("ms: unknown data column %q", tok)
		}
	}
	return cols, nil
}

// Window is a spectral window.
type Window struct {
	ID    int
	Name  string
	Frame grid.Frame
	Grid  grid.Grid
}

// DataDescription pairs a spectral window with a polarization setup.
type DataDescription struct {
	ID           int
	Window       int
	Polarization int
}

// Field is an observed field.
type Field struct {
	ID       int
	Name     string
	Dir      grid.Direction       // phase centre
	Velocity *grid.SourceVelocity // systemic velocity, if known
}

// Observatory locates the array and the epoch of the observation.
type Observatory struct {
	Name     string
	Position r3.Vec  // ITRF, in metres
	Epoch    float64 // start of the observation, MJD seconds
}

// Observer returns the observatory as seen at time t (MJD seconds).
func (o Observatory) Observer(t float64) grid.Observer {
	return grid.Observer{Position: o.Position, Epoch: t}
}

// AuxRow is a row of a time-dependent auxiliary table.
// A negative Window applies to every window.
type AuxRow struct {
	Window int
	Time   float64
	Values []float64
}

// AuxTable is a time-dependent auxiliary table indexed by spectral window
// (SOURCE, FEED, SYSCAL, FREQ_OFFSET, CALDEVICE, SYSPOWER).
type AuxTable struct {
	Name string
	Rows []AuxRow
}

// Row is one visibility row. Cubes are indexed as [correlation][channel].
type Row struct {
	Observation int
	Array       int
	Scan        int
	State       int
	Field       int
	DataDesc    int
	Ant1        int
	Ant2        int
	Time        float64 // MJD seconds
	Exposure    float64
	Interval    float64
	UVW         [3]float64

	Data           map[Column][][]complex128
	Flags          [][]bool
	FlagRow        bool
	Weight         []float64 // per correlation
	Sigma          []float64 // per correlation
	WeightSpectrum [][]float64
	SigmaSpectrum  [][]float64
}

// NumCorr returns the number of correlations of the row.
func (r *Row) NumCorr() int { return len(r.Flags) }

// bucketsPerSecond sets the time bucket of TimeBucket to 0.1 ms.
const bucketsPerSecond = 1e4

// TimeBucket returns the time bucket of t. Rows of different windows whose
// times fall in one bucket belong to the same integration.
func TimeBucket(t float64) int64 {
	return int64(math.Round(t * bucketsPerSecond))
}

// NumChan returns the number of channels of the row.
func (r *Row) NumChan() int {
	if len(r.Flags) == 0 {
		return 0
	}
	return len(r.Flags[0])
}

// Chunk is a group of rows delivered at once by an Iterator.
type Chunk struct {
	Rows []Row
}

// Time returns the time of the first row of the chunk.
func (c *Chunk) Time() float64 {
	if len(c.Rows) == 0 {
		return 0
	}
	return c.Rows[0].Time
}

// Dataset gives access to the metadata of an input measurement set.
type Dataset interface {
	Windows() []Window
	DataDescriptions() []DataDescription
	Fields() []Field
	Observatory() Observatory
	AuxTables() []AuxTable
	HasColumn(Column) bool
}

// Iterator delivers the rows of a measurement set, one chunk at a time.
// Next returns io.EOF once all rows have been delivered.
type Iterator interface {
	Next() (*Chunk, error)
}

// TileShape is the storage tile shape of the output cubes.
type TileShape struct {
	Corr int
	Chan int
	Rows int
}

// Table is an output measurement set.
type Table interface {
	// AddRows appends n empty rows and returns the index of the first one.
	AddRows(n int) (int, error)
	SetTileShape(shape TileShape) error
	PutRow(i int, row Row) error

	PutWindows(ws []Window) error
	PutDataDescriptions(dds []DataDescription) error
	PutAux(aux []AuxTable) error

	Flush() error
	Close() error
}
