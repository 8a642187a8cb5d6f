// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ms

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lsst-lpc/mstransform/grid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"
)

// Parse parses a measurement set in its text form.
//
// The stream is made of sections introduced by a *NAME line:
//
//	*OBSERVATORY       name x y z epoch
//	*COLUMNS           DATA CORRECTED_DATA MODEL_DATA WEIGHT_SPECTRUM ...
//	*SPECTRAL_WINDOW   id frame nchan freq0 width [name]
//	*CHANNELS          id freq:width freq:width ...
//	*DATA_DESCRIPTION  id window polarization
//	*FIELD             id name ra dec [velocity rate epoch frame]
//	*AUX               table window time values...
//	*DATA              ROW key=value... followed by DATA, CORRECTED_DATA,
//	                   MODEL_DATA, FLAG, WEIGHT_SPECTRUM and SIGMA_SPECTRUM
//	                   lines, one per correlation.
//
// Empty lines and lines starting with '#' are ignored.
func Parse(r io.Reader) (*Memory, error) {
	var (
		m    = NewMemory()
		sec  sectionKind
		line int
		aux  = make(map[string]int)
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line++
		txt := strings.TrimSpace(sc.Text())
		if len(txt) == 0 || txt[0] == '#' {
			continue
		}
		if txt[0] == '*' {
			switch txt {
			case "*OBSERVATORY":
				sec = observatorySection
			case "*COLUMNS":
				sec = columnsSection
			case "*SPECTRAL_WINDOW":
				sec = windowSection
			case "*CHANNELS":
				sec = channelsSection
			case "*DATA_DESCRIPTION":
				sec = ddescSection
			case "*FIELD":
				sec = fieldSection
			case "*AUX":
				sec = auxSection
			case "*DATA":
				sec = dataSection
			default:
				return nil, errors.Errorf("ms: unknown section %q (line %d)", txt, line)
			}
			continue
		}

		var (
			err    error
			tokens = strings.Fields(txt)
		)
		switch sec {
		case observatorySection:
			err = parseObservatory(&m.Meta.Observatory, tokens)

		case columnsSection:
			for _, tok := range tokens {
				c, ok := columnByName(tok)
				if !ok {
					err = errors.Errorf("unknown column %q", tok)
					break
				}
				m.Meta.Columns = append(m.Meta.Columns, c)
			}

		case windowSection:
			var w Window
			w, err = parseWindow(tokens)
			m.Meta.Windows = append(m.Meta.Windows, w)

		case channelsSection:
			err = parseChannels(m.Meta.Windows, tokens)

		case ddescSection:
			var vs []int
			vs, err = atois(tokens, 3)
			if err == nil {
				m.Meta.DataDescs = append(m.Meta.DataDescs, DataDescription{
					ID: vs[0], Window: vs[1], Polarization: vs[2],
				})
			}

		case fieldSection:
			var f Field
			f, err = parseField(tokens)
			m.Meta.Fields = append(m.Meta.Fields, f)

		case auxSection:
			err = parseAux(&m.Meta, aux, tokens)

		case dataSection:
			err = parseData(m, tokens)

		default:
			err = errors.Errorf("data outside of any section")
		}
		if err != nil {
			return nil, errors.Wrapf(err, "could not parse line %d %q", line, txt)
		}
	}

	err := sc.Err()
	if err == io.EOF {
		err = nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not scan measurement set")
	}

	if len(m.Meta.DataDescs) == 0 {
		for _, w := range m.Meta.Windows {
			m.Meta.DataDescs = append(m.Meta.DataDescs, DataDescription{ID: w.ID, Window: w.ID})
		}
	}
	if len(m.Meta.Columns) == 0 {
		m.Meta.Columns = []Column{DataColumn}
	}
	return m, nil
}

type sectionKind byte

const (
	undefinedSection sectionKind = iota
	observatorySection
	columnsSection
	windowSection
	channelsSection
	ddescSection
	fieldSection
	auxSection
	dataSection
)

func columnByName(name string) (Column, bool) {
	for _, c := range []Column{DataColumn, CorrectedColumn, ModelColumn, WeightSpectrumColumn, SigmaSpectrumColumn} {
		if strings.EqualFold(c.String(), name) {
			return c, true
		}
	}
	return 0, false
}

func parseObservatory(o *Observatory, tokens []string) error {
	if len(tokens) != 5 {
		return errors.Errorf("observatory needs 5 fields, got %d", len(tokens))
	}
	vs, err := atofs(tokens[1:])
	if err != nil {
		return err
	}
	o.Name = tokens[0]
	o.Position = r3.Vec{X: vs[0], Y: vs[1], Z: vs[2]}
	o.Epoch = vs[3]
	return nil
}

func parseWindow(tokens []string) (Window, error) {
	var w Window
	if len(tokens) < 5 {
		return w, errors.Errorf("spectral window needs at least 5 fields, got %d", len(tokens))
	}
	id, err := strconv.Atoi(tokens[0])
	if err != nil {
		return w, errors.Wrapf(err, "could not parse window id")
	}
	frame, err := grid.ParseFrame(tokens[1])
	if err != nil {
		return w, err
	}
	nchan, err := strconv.Atoi(tokens[2])
	if err != nil {
		return w, errors.Wrapf(err, "could not parse channel count")
	}
	vs, err := atofs(tokens[3:5])
	if err != nil {
		return w, err
	}
	w = Window{
		ID:    id,
		Frame: frame,
		Grid:  grid.Uniform(vs[0], vs[1], nchan),
	}
	if len(tokens) > 5 {
		w.Name = strings.Join(tokens[5:], " ")
	}
	return w, nil
}

func parseChannels(ws []Window, tokens []string) error {
	id, err := strconv.Atoi(tokens[0])
	if err != nil {
		return errors.Wrapf(err, "could not parse window id")
	}
	idx := -1
	for i, w := range ws {
		if w.ID == id {
			idx = i
		}
	}
	if idx < 0 {
		return errors.Errorf("channels for undeclared window %d", id)
	}
	var freqs, widths []float64
	for _, tok := range tokens[1:] {
		f, w, ok := strings.Cut(tok, ":")
		if !ok {
			return errors.Errorf("invalid channel %q", tok)
		}
		vs, err := atofs([]string{f, w})
		if err != nil {
			return err
		}
		freqs = append(freqs, vs[0])
		widths = append(widths, vs[1])
	}
	g, err := grid.New(freqs, widths)
	if err != nil {
		return errors.Wrapf(err, "invalid grid for window %d", id)
	}
	ws[idx].Grid = g
	return nil
}

func parseField(tokens []string) (Field, error) {
	var f Field
	if len(tokens) != 4 && len(tokens) != 8 {
		return f, errors.Errorf("field needs 4 or 8 fields, got %d", len(tokens))
	}
	id, err := strconv.Atoi(tokens[0])
	if err != nil {
		return f, errors.Wrapf(err, "could not parse field id")
	}
	vs, err := atofs(tokens[2:4])
	if err != nil {
		return f, err
	}
	f = Field{ID: id, Name: tokens[1], Dir: grid.Direction{RA: vs[0], Dec: vs[1]}}
	if len(tokens) == 8 {
		vs, err := atofs(tokens[4:7])
		if err != nil {
			return f, err
		}
		frame, err := grid.ParseFrame(tokens[7])
		if err != nil {
			return f, err
		}
		f.Velocity = &grid.SourceVelocity{Velocity: vs[0], Rate: vs[1], Epoch: vs[2], Frame: frame}
	}
	return f, nil
}

func parseAux(meta *Meta, idx map[string]int, tokens []string) error {
	if len(tokens) < 3 {
		return errors.Errorf("aux row needs at least 3 fields, got %d", len(tokens))
	}
	w, err := strconv.Atoi(tokens[1])
	if err != nil {
		return errors.Wrapf(err, "could not parse aux window")
	}
	vs, err := atofs(tokens[2:])
	if err != nil {
		return err
	}
	name := strings.ToUpper(tokens[0])
	i, ok := idx[name]
	if !ok {
		i = len(meta.Aux)
		idx[name] = i
		meta.Aux = append(meta.Aux, AuxTable{Name: name})
	}
	meta.Aux[i].Rows = append(meta.Aux[i].Rows, AuxRow{Window: w, Time: vs[0], Values: vs[1:]})
	return nil
}

func parseData(m *Memory, tokens []string) error {
	if tokens[0] == "ROW" {
		row, err := parseRow(tokens[1:])
		if err != nil {
			return err
		}
		m.Rows = append(m.Rows, row)
		return nil
	}
	if len(m.Rows) == 0 {
		return errors.Errorf("%s line before the first ROW", tokens[0])
	}
	row := &m.Rows[len(m.Rows)-1]
	switch key := tokens[0]; key {
	case "FLAG":
		flags := make([]bool, len(tokens)-1)
		for i, tok := range tokens[1:] {
			v, err := strconv.ParseBool(tok)
			if err != nil {
				return errors.Wrapf(err, "could not parse flag %q", tok)
			}
			flags[i] = v
		}
		row.Flags = append(row.Flags, flags)
	case "WEIGHT_SPECTRUM":
		vs, err := atofs(tokens[1:])
		if err != nil {
			return err
		}
		row.WeightSpectrum = append(row.WeightSpectrum, vs)
	case "SIGMA_SPECTRUM":
		vs, err := atofs(tokens[1:])
		if err != nil {
			return err
		}
		row.SigmaSpectrum = append(row.SigmaSpectrum, vs)
	default:
		col, ok := columnByName(key)
		if !ok || col > ModelColumn {
			return errors.Errorf("unknown row field %q", key)
		}
		vs := make([]complex128, len(tokens)-1)
		for i, tok := range tokens[1:] {
			v, err := strconv.ParseComplex(tok, 128)
			if err != nil {
				return errors.Wrapf(err, "could not parse visibility %q", tok)
			}
			vs[i] = v
		}
		if row.Data == nil {
			row.Data = make(map[Column][][]complex128)
		}
		row.Data[col] = append(row.Data[col], vs)
	}
	return nil
}

func parseRow(tokens []string) (Row, error) {
	var row Row
	for _, tok := range tokens {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			return row, errors.Errorf("invalid row field %q", tok)
		}
		var err error
		switch k {
		case "obs":
			row.Observation, err = strconv.Atoi(v)
		case "array":
			row.Array, err = strconv.Atoi(v)
		case "scan":
			row.Scan, err = strconv.Atoi(v)
		case "state":
			row.State, err = strconv.Atoi(v)
		case "field":
			row.Field, err = strconv.Atoi(v)
		case "ddid":
			row.DataDesc, err = strconv.Atoi(v)
		case "ant1":
			row.Ant1, err = strconv.Atoi(v)
		case "ant2":
			row.Ant2, err = strconv.Atoi(v)
		case "time":
			row.Time, err = strconv.ParseFloat(v, 64)
		case "exposure":
			row.Exposure, err = strconv.ParseFloat(v, 64)
		case "interval":
			row.Interval, err = strconv.ParseFloat(v, 64)
		case "flagrow":
			row.FlagRow, err = strconv.ParseBool(v)
		case "uvw":
			var vs []float64
			vs, err = atofs(strings.Split(v, ","))
			if err == nil && len(vs) != 3 {
				err = errors.Errorf("uvw needs 3 values")
			}
			if err == nil {
				copy(row.UVW[:], vs)
			}
		case "weight":
			row.Weight, err = atofs(strings.Split(v, ","))
		case "sigma":
			row.Sigma, err = atofs(strings.Split(v, ","))
		default:
			err = errors.Errorf("unknown key %q", k)
		}
		if err != nil {
			return row, errors.Wrapf(err, "could not parse row field %q", tok)
		}
	}
	return row, nil
}

func atofs(tokens []string) ([]float64, error) {
	vs := make([]float64, len(tokens))
	for i, tok := range tokens {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "could not parse float %q", tok)
		}
		vs[i] = v
	}
	return vs, nil
}

func atois(tokens []string, n int) ([]int, error) {
	if len(tokens) != n {
		return nil, errors.Errorf("expected %d fields, got %d", n, len(tokens))
	}
	vs := make([]int, n)
	for i, tok := range tokens {
		v, err := strconv.Atoi(tok)
		if err != nil {
			return nil, errors.Wrapf(err, "could not parse int %q", tok)
		}
		vs[i] = v
	}
	return vs, nil
}

// Write writes the measurement set in the text form read by Parse.
func Write(w io.Writer, m *Memory) error {
	bw := bufio.NewWriter(w)
	ftoa := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	join := func(vs []float64, sep string) string {
		strs := make([]string, len(vs))
		for i, v := range vs {
			strs[i] = ftoa(v)
		}
		return strings.Join(strs, sep)
	}

	o := m.Meta.Observatory
	name := o.Name
	if name == "" {
		name = "UNKNOWN"
	}
	fmt.Fprintf(bw, "*OBSERVATORY\n%s %s %s %s %s\n", name, ftoa(o.Position.X), ftoa(o.Position.Y), ftoa(o.Position.Z), ftoa(o.Epoch))

	fmt.Fprintf(bw, "*COLUMNS\n")
	for i, c := range m.Meta.Columns {
		if i > 0 {
			bw.WriteString(" ")
		}
		bw.WriteString(c.String())
	}
	bw.WriteString("\n")

	fmt.Fprintf(bw, "*SPECTRAL_WINDOW\n")
	for _, sw := range m.Meta.Windows {
		var f0, w0 float64
		if sw.Grid.Len() > 0 {
			f0, w0 = sw.Grid.Freqs[0], sw.Grid.Widths[0]
		}
		fmt.Fprintf(bw, "%d %v %d %s %s", sw.ID, sw.Frame, sw.Grid.Len(), ftoa(f0), ftoa(w0))
		if sw.Name != "" {
			fmt.Fprintf(bw, " %s", sw.Name)
		}
		bw.WriteString("\n")
	}
	fmt.Fprintf(bw, "*CHANNELS\n")
	for _, sw := range m.Meta.Windows {
		fmt.Fprintf(bw, "%d", sw.ID)
		for i := range sw.Grid.Freqs {
			fmt.Fprintf(bw, " %s:%s", ftoa(sw.Grid.Freqs[i]), ftoa(sw.Grid.Widths[i]))
		}
		bw.WriteString("\n")
	}

	fmt.Fprintf(bw, "*DATA_DESCRIPTION\n")
	for _, dd := range m.Meta.DataDescs {
		fmt.Fprintf(bw, "%d %d %d\n", dd.ID, dd.Window, dd.Polarization)
	}

	fmt.Fprintf(bw, "*FIELD\n")
	for _, f := range m.Meta.Fields {
		fmt.Fprintf(bw, "%d %s %s %s", f.ID, f.Name, ftoa(f.Dir.RA), ftoa(f.Dir.Dec))
		if sv := f.Velocity; sv != nil {
			fmt.Fprintf(bw, " %s %s %s %v", ftoa(sv.Velocity), ftoa(sv.Rate), ftoa(sv.Epoch), sv.Frame)
		}
		bw.WriteString("\n")
	}

	if len(m.Meta.Aux) > 0 {
		fmt.Fprintf(bw, "*AUX\n")
		for _, tbl := range m.Meta.Aux {
			for _, row := range tbl.Rows {
				fmt.Fprintf(bw, "%s %d %s", tbl.Name, row.Window, ftoa(row.Time))
				if len(row.Values) > 0 {
					fmt.Fprintf(bw, " %s", join(row.Values, " "))
				}
				bw.WriteString("\n")
			}
		}
	}

	fmt.Fprintf(bw, "*DATA\n")
	for _, row := range m.Rows {
		fmt.Fprintf(bw,
			"ROW obs=%d array=%d scan=%d state=%d field=%d ddid=%d ant1=%d ant2=%d time=%s exposure=%s interval=%s uvw=%s",
			row.Observation, row.Array, row.Scan, row.State, row.Field, row.DataDesc,
			row.Ant1, row.Ant2, ftoa(row.Time), ftoa(row.Exposure), ftoa(row.Interval),
			join(row.UVW[:], ","),
		)
		if row.FlagRow {
			bw.WriteString(" flagrow=true")
		}
		if len(row.Weight) > 0 {
			fmt.Fprintf(bw, " weight=%s", join(row.Weight, ","))
		}
		if len(row.Sigma) > 0 {
			fmt.Fprintf(bw, " sigma=%s", join(row.Sigma, ","))
		}
		bw.WriteString("\n")
		for _, c := range []Column{DataColumn, CorrectedColumn, ModelColumn} {
			for _, vs := range row.Data[c] {
				bw.WriteString(c.String())
				for _, v := range vs {
					fmt.Fprintf(bw, " %s", strconv.FormatComplex(v, 'g', -1, 128))
				}
				bw.WriteString("\n")
			}
		}
		for _, fs := range row.Flags {
			bw.WriteString("FLAG")
			for _, f := range fs {
				fmt.Fprintf(bw, " %d", btoi(f))
			}
			bw.WriteString("\n")
		}
		for _, vs := range row.WeightSpectrum {
			fmt.Fprintf(bw, "WEIGHT_SPECTRUM %s\n", join(vs, " "))
		}
		for _, vs := range row.SigmaSpectrum {
			fmt.Fprintf(bw, "SIGMA_SPECTRUM %s\n", join(vs, " "))
		}
	}

	err := bw.Flush()
	if err != nil {
		return errors.Wrap(err, "could not write measurement set")
	}
	return nil
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}
