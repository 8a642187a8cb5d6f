// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("could not load defaults: %+v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("invalid defaults:\ngot= %+v\nwant=%+v", cfg, Default())
	}
}

func TestLoadFile(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "run.yaml")
	err := os.WriteFile(fname, []byte(`
combine_spws: true
chan_average: true
chan_bin: [4, 2]
datacolumn: corrected
regrid:
  enabled: true
  mode: frequency
  start: 1.0e9
  width: 2.0e6
  out_frame: lsrk
select:
  - "0:0~3"
  - "1"
`), 0644)
	if err != nil {
		t.Fatalf("could not write config: %+v", err)
	}

	t.Setenv("MSTRANSFORM_NSPW", "2")
	t.Setenv("MSTRANSFORM_REGRID_INTERPOLATION", "cubic")

	cfg, err := Load(fname)
	if err != nil {
		t.Fatalf("could not load: %+v", err)
	}
	switch {
	case !cfg.CombineSpws, cfg.NSpw != 2, cfg.DataColumn != "corrected":
		t.Fatalf("invalid top-level values: %+v", cfg)
	case !reflect.DeepEqual(cfg.ChanBin, []int{4, 2}):
		t.Fatalf("invalid bins: %v", cfg.ChanBin)
	case cfg.Regrid.Start == nil || *cfg.Regrid.Start != 1e9:
		t.Fatalf("invalid start: %v", cfg.Regrid.Start)
	case cfg.Regrid.Interpolation != "cubic", cfg.Regrid.Mode != "frequency", cfg.Regrid.OutFrame != "lsrk":
		t.Fatalf("invalid regrid: %+v", cfg.Regrid)
	}
	if got, want := cfg.Bin(1), 2; got != want {
		t.Fatalf("invalid bin: got=%d, want=%d", got, want)
	}
	if got, want := cfg.Bin(5), 4; got != want {
		t.Fatalf("invalid fallback bin: got=%d, want=%d", got, want)
	}

	sels, err := cfg.Selections()
	if err != nil {
		t.Fatalf("could not parse selections: %+v", err)
	}
	want := []Selection{{Window: 0, Start: 0, End: 3}, {Window: 1, End: -1}}
	if !reflect.DeepEqual(sels, want) {
		t.Fatalf("invalid selections:\ngot= %+v\nwant=%+v", sels, want)
	}
}

func TestLoadEnvList(t *testing.T) {
	t.Setenv("MSTRANSFORM_CHAN_AVERAGE", "true")
	t.Setenv("MSTRANSFORM_CHAN_BIN", "8, 4")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("could not load: %+v", err)
	}
	if !cfg.ChanAverage || !reflect.DeepEqual(cfg.ChanBin, []int{8, 4}) {
		t.Fatalf("invalid channel averaging: %v %v", cfg.ChanAverage, cfg.ChanBin)
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		edit func(*Config)
	}{
		{"nspw", func(c *Config) { c.NSpw = 0 }},
		{"bin", func(c *Config) { c.ChanBin = []int{0} }},
		{"smooth", func(c *Config) { c.Smooth = "boxcar" }},
		{"mode", func(c *Config) { c.Regrid.Mode = "wavelength" }},
		{"interpolation", func(c *Config) { c.Regrid.Interpolation = "sinc" }},
		{"frame", func(c *Config) { c.Regrid.OutFrame = "ICRS" }},
		{"column", func(c *Config) { c.DataColumn = "float" }},
		{"select", func(c *Config) { c.Select = []string{"0:4~2"} }},
		{"span", func(c *Config) { c.TimeAverage.Span = []string{"baseline"} }},
		{"rest-freq", func(c *Config) {
			c.Regrid.Enabled = true
			c.Regrid.Mode = "velocity"
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.edit(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected a validation error")
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("default configuration should be valid: %+v", err)
	}
}

func TestParseSelection(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Selection
		err  bool
	}{
		{in: "3", want: Selection{Window: 3, End: -1}},
		{in: "1:2~5", want: Selection{Window: 1, Start: 2, End: 5}},
		{in: "1:7", want: Selection{Window: 1, Start: 7, End: 7}},
		{in: "x", err: true},
		{in: "-1", err: true},
		{in: "1:a~b", err: true},
	} {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseSelection(tc.in)
			switch {
			case tc.err && err == nil:
				t.Fatalf("expected an error")
			case !tc.err && err != nil:
				t.Fatalf("could not parse: %+v", err)
			case !tc.err && got != tc.want:
				t.Fatalf("got=%+v, want=%+v", got, tc.want)
			}
		})
	}
}

func TestWrite(t *testing.T) {
	cfg := Default()
	cfg.ChanAverage = true
	cfg.ChanBin = []int{4}

	fname := filepath.Join(t.TempDir(), "out.yaml")
	if err := cfg.Write(fname); err != nil {
		t.Fatalf("could not write: %+v", err)
	}
	got, err := Load(fname)
	if err != nil {
		t.Fatalf("could not load back: %+v", err)
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Fatalf("configurations differ:\ngot= %+v\nwant=%+v", got, cfg)
	}
}
