// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package store implements an output measurement-set table on top of a
// badger key-value store.
package store

import (
	"encoding/binary"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/lsst-lpc/mstransform/ms"
	"github.com/pkg/errors"
)

var (
	rowPrefix    = []byte("row:")
	keyRows      = []byte("meta:nrows")
	keyTile      = []byte("meta:tile")
	keyWindows   = []byte("meta:windows")
	keyDataDescs = []byte("meta:ddesc")
	keyAux       = []byte("meta:aux")
)

// Table is a measurement-set table stored in badger.
// Rows are written through a write batch committed on Flush.
type Table struct {
	db    *badger.DB
	owned bool
	batch *badger.WriteBatch
	nrows int
}

// Open opens the table stored under dir, creating it if needed.
// An empty dir opens an in-memory table.
func Open(dir string) (*Table, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open store %q", dir)
	}
	tbl, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	tbl.owned = true
	return tbl, nil
}

// New returns a table stored in db. The caller keeps ownership of db.
func New(db *badger.DB) (*Table, error) {
	tbl := &Table{db: db}
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyRows)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			return nil
		case err != nil:
			return err
		}
		return item.Value(func(val []byte) error {
			tbl.nrows = int(binary.BigEndian.Uint64(val))
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not read row count")
	}
	tbl.batch = db.NewWriteBatch()
	return tbl, nil
}

// Len returns the number of rows of the table.
func (tbl *Table) Len() int { return tbl.nrows }

func (tbl *Table) AddRows(n int) (int, error) {
	if n < 0 {
		return 0, errors.Errorf("store: invalid row count %d", n)
	}
	beg := tbl.nrows
	tbl.nrows += n
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(tbl.nrows))
	if err := tbl.batch.Set(keyRows, buf[:]); err != nil {
		return 0, errors.Wrap(err, "could not store row count")
	}
	return beg, nil
}

func (tbl *Table) SetTileShape(shape ms.TileShape) error {
	return tbl.put(keyTile, shape)
}

func (tbl *Table) PutRow(i int, row ms.Row) error {
	if i < 0 || i >= tbl.nrows {
		return errors.Errorf("store: row %d out of range [0, %d)", i, tbl.nrows)
	}
	return tbl.put(rowKey(i), encodeRow(row))
}

func (tbl *Table) PutWindows(ws []ms.Window) error {
	return tbl.put(keyWindows, ws)
}

func (tbl *Table) PutDataDescriptions(dds []ms.DataDescription) error {
	return tbl.put(keyDataDescs, dds)
}

func (tbl *Table) PutAux(aux []ms.AuxTable) error {
	return tbl.put(keyAux, aux)
}

// Flush commits the pending writes.
func (tbl *Table) Flush() error {
	if err := tbl.batch.Flush(); err != nil {
		return errors.Wrap(err, "could not commit writes")
	}
	tbl.batch = tbl.db.NewWriteBatch()
	return nil
}

// Close flushes the table and closes the store it owns.
func (tbl *Table) Close() error {
	err := tbl.Flush()
	tbl.batch.Cancel()
	if tbl.owned {
		if e := tbl.db.Close(); e != nil && err == nil {
			err = errors.Wrap(e, "could not close store")
		}
	}
	return err
}

func (tbl *Table) put(key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "could not encode %s", key)
	}
	if err := tbl.batch.Set(key, raw); err != nil {
		return errors.Wrapf(err, "could not store %s", key)
	}
	return nil
}

// Load reads back the committed content of the table.
func (tbl *Table) Load() (*ms.Memory, error) {
	m := ms.NewMemory()
	err := tbl.db.View(func(txn *badger.Txn) error {
		for _, v := range []struct {
			key []byte
			ptr any
		}{
			{keyTile, &m.Tile},
			{keyWindows, &m.Meta.Windows},
			{keyDataDescs, &m.Meta.DataDescs},
			{keyAux, &m.Meta.Aux},
		} {
			if err := get(txn, v.key, v.ptr); err != nil {
				return err
			}
		}

		m.Rows = make([]ms.Row, tbl.nrows)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: rowPrefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			i := int(binary.BigEndian.Uint64(item.Key()[len(rowPrefix):]))
			if i >= len(m.Rows) {
				return errors.Errorf("store: row %d beyond the row count %d", i, len(m.Rows))
			}
			var rec record
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return errors.Wrapf(err, "could not decode row %d", i)
			}
			m.Rows[i] = rec.row()
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not load table")
	}
	m.Meta.Columns = columns(m.Rows)
	return m, nil
}

func get(txn *badger.Txn, key []byte, ptr any) error {
	item, err := txn.Get(key)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil
	case err != nil:
		return errors.Wrapf(err, "could not read %s", key)
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, ptr); err != nil {
			return errors.Wrapf(err, "could not decode %s", key)
		}
		return nil
	})
}

// rowKey orders rows by index under a lexicographic iteration.
func rowKey(i int) []byte {
	key := make([]byte, len(rowPrefix)+8)
	copy(key, rowPrefix)
	binary.BigEndian.PutUint64(key[len(rowPrefix):], uint64(i))
	return key
}

func columns(rows []ms.Row) []ms.Column {
	var cols []ms.Column
	for _, c := range []ms.Column{ms.DataColumn, ms.CorrectedColumn, ms.ModelColumn} {
		for _, row := range rows {
			if _, ok := row.Data[c]; ok {
				cols = append(cols, c)
				break
			}
		}
	}
	for _, row := range rows {
		if row.WeightSpectrum != nil {
			cols = append(cols, ms.WeightSpectrumColumn, ms.SigmaSpectrumColumn)
			break
		}
	}
	return cols
}

// record is the stored form of a row. Complex samples are stored as
// (real, imaginary) pairs.
type record struct {
	Observation int        `json:"obs"`
	Array       int        `json:"array"`
	Scan        int        `json:"scan"`
	State       int        `json:"state"`
	Field       int        `json:"field"`
	DataDesc    int        `json:"ddid"`
	Ant1        int        `json:"ant1"`
	Ant2        int        `json:"ant2"`
	Time        float64    `json:"time"`
	Exposure    float64    `json:"exposure"`
	Interval    float64    `json:"interval"`
	UVW         [3]float64 `json:"uvw"`

	Data           map[string][][][2]float64 `json:"data,omitempty"`
	Flags          [][]bool                  `json:"flag"`
	FlagRow        bool                      `json:"flag_row"`
	Weight         []float64                 `json:"weight"`
	Sigma          []float64                 `json:"sigma"`
	WeightSpectrum [][]float64               `json:"weight_spectrum,omitempty"`
	SigmaSpectrum  [][]float64               `json:"sigma_spectrum,omitempty"`
}

func encodeRow(row ms.Row) record {
	rec := record{
		Observation:    row.Observation,
		Array:          row.Array,
		Scan:           row.Scan,
		State:          row.State,
		Field:          row.Field,
		DataDesc:       row.DataDesc,
		Ant1:           row.Ant1,
		Ant2:           row.Ant2,
		Time:           row.Time,
		Exposure:       row.Exposure,
		Interval:       row.Interval,
		UVW:            row.UVW,
		Flags:          row.Flags,
		FlagRow:        row.FlagRow,
		Weight:         row.Weight,
		Sigma:          row.Sigma,
		WeightSpectrum: row.WeightSpectrum,
		SigmaSpectrum:  row.SigmaSpectrum,
	}
	if len(row.Data) > 0 {
		rec.Data = make(map[string][][][2]float64, len(row.Data))
	}
	for col, plane := range row.Data {
		out := make([][][2]float64, len(plane))
		for c, vs := range plane {
			out[c] = make([][2]float64, len(vs))
			for j, v := range vs {
				out[c][j] = [2]float64{real(v), imag(v)}
			}
		}
		rec.Data[col.String()] = out
	}
	return rec
}

func (rec record) row() ms.Row {
	row := ms.Row{
		Observation:    rec.Observation,
		Array:          rec.Array,
		Scan:           rec.Scan,
		State:          rec.State,
		Field:          rec.Field,
		DataDesc:       rec.DataDesc,
		Ant1:           rec.Ant1,
		Ant2:           rec.Ant2,
		Time:           rec.Time,
		Exposure:       rec.Exposure,
		Interval:       rec.Interval,
		UVW:            rec.UVW,
		Flags:          rec.Flags,
		FlagRow:        rec.FlagRow,
		Weight:         rec.Weight,
		Sigma:          rec.Sigma,
		WeightSpectrum: rec.WeightSpectrum,
		SigmaSpectrum:  rec.SigmaSpectrum,
	}
	if len(rec.Data) > 0 {
		row.Data = make(map[ms.Column][][]complex128, len(rec.Data))
	}
	for name, plane := range rec.Data {
		col, ok := columnOf(name)
		if !ok {
			continue
		}
		out := make([][]complex128, len(plane))
		for c, vs := range plane {
			out[c] = make([]complex128, len(vs))
			for j, v := range vs {
				out[c][j] = complex(v[0], v[1])
			}
		}
		row.Data[col] = out
	}
	return row
}

func columnOf(name string) (ms.Column, bool) {
	for _, c := range []ms.Column{ms.DataColumn, ms.CorrectedColumn, ms.ModelColumn} {
		if strings.EqualFold(c.String(), name) {
			return c, true
		}
	}
	return 0, false
}

var _ ms.Table = (*Table)(nil)
