// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mstransform transforms the spectral axis of a measurement set.
//
// Usage:
//
//	mstransform [options] input.ms
//
// The input and output measurement sets use the text format of package ms.
// With -db, the output is stored in a badger database instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/lsst-lpc/mstransform"
	"github.com/lsst-lpc/mstransform/config"
	"github.com/lsst-lpc/mstransform/ms"
	"github.com/lsst-lpc/mstransform/store"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

func main() {
	var (
		cfgName = flag.String("c", "", "path to a YAML configuration file")
		oname   = flag.String("o", "out.ms", "path to the output measurement set")
		dbDir   = flag.String("db", "", "store the output in a badger database under this directory")
		plot    = flag.Bool("plot", false, "plot the spectra of the output windows")
		column  = flag.String("plot-col", "data", "data column to plot")
	)

	flag.Parse()

	cfg, err := config.Load(*cfgName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mstransform: %+v\n", err)
		os.Exit(1)
	}
	msg := cfg.NewLogger(os.Stderr, true).With().Str("cmd", "mstransform").Logger()

	if flag.NArg() != 1 {
		flag.Usage()
		msg.Fatal().Msg("missing input measurement set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	out, err := run(ctx, msg, cfg, flag.Arg(0), *oname, *dbDir)
	if err != nil {
		msg.Fatal().Err(err).Msg("could not transform measurement set")
	}

	if !*plot {
		return
	}
	cols, err := ms.ParseColumns(*column)
	if err != nil || len(cols) != 1 {
		msg.Fatal().Str("column", *column).Msg("invalid plot column")
	}
	if err := plotSpectra(msg, out, cols[0], strings.TrimSuffix(filepath.Base(*oname), filepath.Ext(*oname))); err != nil {
		msg.Fatal().Err(err).Msg("could not plot spectra")
	}
}

func run(ctx context.Context, msg zerolog.Logger, cfg config.Config, iname, oname, dbDir string) (*ms.Memory, error) {
	f, err := os.Open(iname)
	if err != nil {
		return nil, errors.Wrap(err, "could not open input")
	}
	defer f.Close()

	in, err := ms.Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "could not parse %q", iname)
	}
	msg.Info().
		Str("input", iname).
		Int("rows", len(in.Rows)).
		Int("windows", len(in.Meta.Windows)).
		Msg("loaded measurement set")

	e, err := mstransform.New(in, cfg, mstransform.WithLogger(msg))
	if err != nil {
		return nil, err
	}
	p := e.Plan()
	msg.Info().
		Stringer("cube", p.Cube).
		Stringer("writer", p.Writer).
		Int("corrections", len(p.Corrections)).
		Msg("resolved plan")

	var tbl ms.Table
	switch dbDir {
	case "":
		out := ms.NewMemory()
		out.Meta.Observatory = in.Meta.Observatory
		out.Meta.Fields = in.Meta.Fields
		out.Meta.Columns = withSpectra(p.Columns)
		tbl = out
	default:
		db, err := store.Open(dbDir)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		tbl = db
	}

	if err := e.Run(ctx, in.Iter(e.IterOptions()), tbl); err != nil {
		return nil, err
	}
	if buf := e.Buffer(); buf != nil {
		if err := buf.Commit(tbl); err != nil {
			return nil, errors.Wrap(err, "could not commit buffered rows")
		}
	}

	var out *ms.Memory
	switch t := tbl.(type) {
	case *ms.Memory:
		out = t
	case *store.Table:
		if err := t.Flush(); err != nil {
			return nil, err
		}
		out, err = t.Load()
		if err != nil {
			return nil, err
		}
		out.Meta.Observatory = in.Meta.Observatory
		out.Meta.Fields = in.Meta.Fields
	}

	if err := write(oname, out); err != nil {
		return nil, err
	}
	msg.Info().Str("output", oname).Int("rows", len(out.Rows)).Msg("wrote measurement set")
	return out, nil
}

func withSpectra(cols []ms.Column) []ms.Column {
	out := append([]ms.Column(nil), cols...)
	return append(out, ms.WeightSpectrumColumn, ms.SigmaSpectrumColumn)
}

func write(oname string, m *ms.Memory) error {
	o, err := os.Create(oname)
	if err != nil {
		return errors.Wrap(err, "could not create output file")
	}
	defer o.Close()

	if err := ms.Write(o, m); err != nil {
		return errors.Wrapf(err, "could not write %q", oname)
	}
	if err := o.Close(); err != nil {
		return errors.Wrap(err, "could not close output file")
	}
	return nil
}

func plotSpectra(msg zerolog.Logger, m *ms.Memory, col ms.Column, prefix string) error {
	specs, wfs := mstransform.Spectra(m, col, 0)

	var grp errgroup.Group
	for i := range specs {
		i, spec, wf := i, specs[i], wfs[i]
		grp.Go(func() error {
			name := fmt.Sprintf("%s-spw%d.png", prefix, i)
			if err := process(name, spec, wf); err != nil {
				return errors.Wrapf(err, "could not plot window %d", i)
			}
			msg.Info().Str("plot", name).Msg("plotted window")
			return nil
		})
	}
	return grp.Wait()
}

func process(oname string, spec mstransform.Spectrum, wf mstransform.Waterfall) error {
	const (
		width  = 20 * vg.Centimeter
		height = 30 * vg.Centimeter
	)

	c := vgimg.PngCanvas{Canvas: vgimg.New(width, height)}
	if err := mstransform.Plot(draw.New(c), spec, wf); err != nil {
		return errors.Wrap(err, "could not plot spectrum")
	}

	o, err := os.Create(oname)
	if err != nil {
		return errors.Wrapf(err, "could not create output file")
	}
	defer o.Close()
	if _, err := c.WriteTo(o); err != nil {
		return errors.Wrapf(err, "could not create output plot")
	}
	return o.Close()
}
