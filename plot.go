// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mstransform

import (
	"fmt"
	"image/color"

	"github.com/pkg/errors"
	"go-hep.org/x/hep/hplot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Plot draws the amplitude spectrum of a window on the top of dc and its
// waterfall below.
func Plot(dc draw.Canvas, spec Spectrum, wf Waterfall) error {
	if err := topPlot(dc, spec); err != nil {
		return err
	}
	if err := bottomPlot(dc, wf); err != nil {
		return err
	}
	return nil
}

func topPlot(dc draw.Canvas, spec Spectrum) error {
	var (
		pt     = dc.Size()
		height = pt.Y
		width  = pt.X
	)

	top := draw.Canvas{
		Canvas: dc,
		Rectangle: vg.Rectangle{
			Min: vg.Point{X: 0, Y: 0.6 * height},
			Max: vg.Point{X: width, Y: height},
		},
	}

	p := hplot.New()
	p.Title.Text = fmt.Sprintf("%s -- nchan=%d", spec.Name, len(spec.Freqs))
	p.X.Label.Text = "Frequency [Hz]"
	p.Y.Label.Text = "Amplitude"

	line, err := hplot.NewLine(hplot.ZipXY(spec.Freqs, spec.Amps))
	if err != nil {
		return errors.Wrap(err, "mstransform: could not create spectrum line")
	}
	line.LineStyle.Color = color.RGBA{R: 255, A: 255}
	p.Add(line, hplot.NewGrid())

	var flagged plotter.XYs
	for i, f := range spec.Flags {
		if f {
			flagged = append(flagged, plotter.XY{X: spec.Freqs[i], Y: spec.Amps[i]})
		}
	}
	if len(flagged) > 0 {
		sca, err := hplot.NewScatter(flagged)
		if err != nil {
			return errors.Wrap(err, "mstransform: could not create flag markers")
		}
		sca.GlyphStyle.Color = color.Black
		sca.GlyphStyle.Shape = draw.CrossGlyph{}
		p.Add(sca)
	}

	p.Draw(top)
	return nil
}

func bottomPlot(dc draw.Canvas, wf Waterfall) error {
	var (
		pt     = dc.Size()
		height = pt.Y
		width  = pt.X
	)

	bottom := draw.Canvas{
		Canvas: dc,
		Rectangle: vg.Rectangle{
			Min: vg.Point{X: 0, Y: 0},
			Max: vg.Point{X: width, Y: 0.6 * height},
		},
	}

	p := hplot.New()
	p.X.Label.Text = "Time [s]"
	p.Y.Label.Text = "Frequency [Hz]"
	if len(wf.Times) == 0 || len(wf.Freqs) == 0 {
		p.Draw(bottom)
		return nil
	}
	pal := palette.Rainbow(255, 0, 1, 1, 1, 1)
	hmap := plotter.NewHeatMap(wf, pal)
	hmap.NaN = color.Black
	p.Add(hmap)
	p.Draw(bottom)

	return nil
}
