// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads and validates the configuration of a transform run.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables prefixed with MSTRANSFORM_ (MSTRANSFORM_CHAN_BIN,
// MSTRANSFORM_REGRID_NCHAN, ...).
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/lsst-lpc/mstransform/grid"
	"github.com/pkg/errors"
)

// EnvPrefix prefixes the environment variables overriding the configuration.
const EnvPrefix = "MSTRANSFORM_"

// Config describes a transform run.
type Config struct {
	CombineSpws bool `koanf:"combine_spws"`
	NSpw        int  `koanf:"nspw" validate:"gte=1"`

	ChanAverage bool  `koanf:"chan_average"`
	ChanBin     []int `koanf:"chan_bin" validate:"dive,gte=1"` // one value for all windows, or one per selected window

	Hanning     bool    `koanf:"hanning"`                                 // enables smoothing with the kernel named by Smooth
	Smooth      string  `koanf:"smooth" validate:"oneof=hanning fourier"` // fourier enables smoothing on its own
	SmoothWidth float64 `koanf:"smooth_width" validate:"gte=0"` // Fourier smoothing FWHM, in channels

	Regrid      Regrid      `koanf:"regrid"`
	PhaseShift  PhaseShift  `koanf:"phase_shift"`
	TimeAverage TimeAverage `koanf:"time_average"`

	DataColumn  string   `koanf:"datacolumn" validate:"oneof=data corrected model all"`
	IgnoreFlags bool     `koanf:"ignore_flags"`
	BufferMode  bool     `koanf:"buffer_mode"`
	Select      []string `koanf:"select" validate:"dive,spwsel"` // window[:start~end]

	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn error disabled"`
}

// Regrid describes the requested output grid.
type Regrid struct {
	Enabled       bool     `koanf:"enabled"`
	Mode          string   `koanf:"mode" validate:"oneof=channel frequency velocity"`
	Start         *float64 `koanf:"start"` // channel, Hz or m/s; nil selects the band edge
	Width         float64  `koanf:"width"` // channels, Hz or m/s; 0 selects the natural width
	NChan         int      `koanf:"nchan" validate:"gte=-1"`
	Interpolation string   `koanf:"interpolation" validate:"oneof=nearest linear cubic spline fftshift"`
	Extrapolate   bool     `koanf:"extrapolate"`
	OutFrame      string   `koanf:"out_frame" validate:"omitempty,frame"`
	RestFreq      float64  `koanf:"rest_freq" validate:"gte=0"`
	VelType       string   `koanf:"veltype" validate:"oneof=radio optical"`
}

// PhaseShift describes a phase-centre offset, in radians.
type PhaseShift struct {
	Enabled bool    `koanf:"enabled"`
	DX      float64 `koanf:"dx"`
	DY      float64 `koanf:"dy"`
}

// TimeAverage describes time averaging, performed by the row iterator.
type TimeAverage struct {
	Enabled bool     `koanf:"enabled"`
	Bin     float64  `koanf:"bin" validate:"gte=0"` // seconds
	Span    []string `koanf:"span" validate:"dive,oneof=scan state field"`
}

// Default returns the default configuration: a plain copy of the data column.
func Default() Config {
	return Config{
		NSpw:        1,
		ChanBin:     []int{1},
		Smooth:      "hanning",
		SmoothWidth: 3,
		Regrid: Regrid{
			Mode:          "channel",
			NChan:         -1,
			Interpolation: "linear",
			VelType:       "radio",
		},
		DataColumn: "data",
		LogLevel:   "info",
	}
}

// Load loads the configuration from the defaults, the YAML file at path
// (if not empty) and the environment, and validates it.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	def := Default()
	if err := k.Load(structs.Provider(def, "koanf"), nil); err != nil {
		return Config{}, errors.Wrap(err, "could not load defaults")
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, errors.Wrapf(err, "could not load config file %q", path)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, errors.Wrap(err, "could not load environment")
	}
	if err := splitLists(k); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "could not decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var sections = []string{"regrid", "phase_shift", "time_average"}

// envKey maps MSTRANSFORM_REGRID_OUT_FRAME to regrid.out_frame.
func envKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	for _, sec := range sections {
		if rest, ok := strings.CutPrefix(key, sec+"_"); ok {
			return sec + "." + rest
		}
	}
	return key
}

// splitLists turns comma separated list values coming from the environment
// into lists.
func splitLists(k *koanf.Koanf) error {
	for _, path := range []string{"chan_bin", "select", "time_average.span"} {
		str, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		var vs []any
		for _, tok := range strings.Split(str, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			vs = append(vs, tok)
		}
		if err := k.Set(path, vs); err != nil {
			return errors.Wrapf(err, "could not set %s", path)
		}
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("frame", func(fl validator.FieldLevel) bool {
		_, err := grid.ParseFrame(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("spwsel", func(fl validator.FieldLevel) bool {
		_, err := ParseSelection(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks the configuration.
func (cfg Config) Validate() error {
	if err := validate.Struct(cfg); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	if cfg.Regrid.Mode == "velocity" && cfg.Regrid.Enabled && cfg.Regrid.RestFreq == 0 {
		return errors.Errorf("invalid configuration: velocity regridding needs a rest frequency")
	}
	return nil
}

// Selection selects channels [Start, End] of a spectral window.
// A negative End selects up to the last channel.
type Selection struct {
	Window int
	Start  int
	End    int
}

// ParseSelection parses a window selection of the form "id" or "id:start~end".
func ParseSelection(s string) (Selection, error) {
	sel := Selection{End: -1}
	id, rng, ok := strings.Cut(strings.TrimSpace(s), ":")
	var err error
	sel.Window, err = strconv.Atoi(id)
	if err != nil || sel.Window < 0 {
		return sel, errors.Errorf("config: invalid window selection %q", s)
	}
	if !ok {
		return sel, nil
	}
	beg, end, ok := strings.Cut(rng, "~")
	if !ok {
		end = beg
	}
	sel.Start, err = strconv.Atoi(beg)
	if err != nil {
		return sel, errors.Errorf("config: invalid channel range %q", s)
	}
	sel.End, err = strconv.Atoi(end)
	if err != nil || sel.Start < 0 || sel.End < sel.Start {
		return sel, errors.Errorf("config: invalid channel range %q", s)
	}
	return sel, nil
}

// Selections returns the parsed window selections.
func (cfg Config) Selections() ([]Selection, error) {
	sels := make([]Selection, 0, len(cfg.Select))
	for _, s := range cfg.Select {
		sel, err := ParseSelection(s)
		if err != nil {
			return nil, err
		}
		sels = append(sels, sel)
	}
	return sels, nil
}

// Bin returns the channel-average bin factor of the i-th selected window.
func (cfg Config) Bin(i int) int {
	switch {
	case !cfg.ChanAverage || len(cfg.ChanBin) == 0:
		return 1
	case i < len(cfg.ChanBin):
		return cfg.ChanBin[i]
	}
	return cfg.ChanBin[0]
}

// Smoothing reports whether the spectra are smoothed.
func (cfg Config) Smoothing() bool {
	return cfg.Hanning || cfg.Smooth == "fourier"
}

// YAML returns the configuration encoded as YAML.
func (cfg Config) YAML() ([]byte, error) {
	raw, err := yaml.Parser().Marshal(structsMap(cfg))
	if err != nil {
		return nil, errors.Wrap(err, "could not encode configuration")
	}
	return raw, nil
}

// Write writes the configuration as YAML to path.
func (cfg Config) Write(path string) error {
	raw, err := cfg.YAML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return errors.Wrapf(err, "could not write configuration to %q", path)
	}
	return nil
}

func structsMap(cfg Config) map[string]any {
	k := koanf.New(".")
	_ = k.Load(structs.Provider(cfg, "koanf"), nil)
	return k.Raw()
}
