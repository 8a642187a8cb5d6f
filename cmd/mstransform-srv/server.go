// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	uuid "github.com/hashicorp/go-uuid"
	"github.com/lsst-lpc/mstransform"
	"github.com/lsst-lpc/mstransform/config"
	"github.com/lsst-lpc/mstransform/grid"
	"github.com/lsst-lpc/mstransform/ms"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

const cookieName = "MSTRANSFORM_SRV"

type server struct {
	dir  string
	quit chan int
	msg  zerolog.Logger

	mu      sync.RWMutex
	cookies map[string]*http.Cookie
	ids     map[string]map[string]struct{}
}

func newServer(dir string, mux *http.ServeMux, msg zerolog.Logger) *server {
	app := &server{
		dir:     dir,
		quit:    make(chan int),
		msg:     msg,
		cookies: make(map[string]*http.Cookie),
		ids:     make(map[string]map[string]struct{}),
	}
	go app.run()

	mux.Handle("/", app.wrap(app.rootHandle))
	mux.Handle("/run", app.wrap(app.runHandle))
	mux.Handle("/dl", app.wrap(app.dlHandle))
	mux.Handle("/rm", app.wrap(app.rmHandle))
	return app
}

func (srv *server) run() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	srv.gc()
	for {
		select {
		case <-ticker.C:
			srv.gc()
		case <-srv.quit:
			return
		}
	}
}

func (srv *server) Shutdown() {
	close(srv.quit)
}

func (srv *server) gc() {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	now := time.Now()
	for name, cookie := range srv.cookies {
		if !now.After(cookie.Expires) {
			continue
		}
		delete(srv.cookies, name)
		for id := range srv.ids[cookie.Value] {
			os.RemoveAll(filepath.Join(srv.dir, "id", id))
		}
		delete(srv.ids, cookie.Value)
	}
}

func (srv *server) setCookie(w http.ResponseWriter, r *http.Request) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	cookie, err := r.Cookie(cookieName)
	if err != nil && err != http.ErrNoCookie {
		return err
	}

	if cookie != nil {
		return nil
	}

	v, err := uuid.GenerateUUID()
	if err != nil {
		return errors.Wrapf(err, "could not generate UUID")
	}

	cookie = &http.Cookie{
		Name:    cookieName,
		Value:   v,
		Expires: time.Now().Add(24 * time.Hour),
	}
	srv.cookies[cookie.Value] = cookie
	srv.ids[cookie.Value] = make(map[string]struct{})
	http.SetCookie(w, cookie)
	return nil
}

func (srv *server) wrap(fn func(w http.ResponseWriter, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := srv.setCookie(w, r)
		if err != nil {
			srv.msg.Error().Err(err).Msg("could not retrieve cookie")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if err := fn(w, r); err != nil {
			srv.msg.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func (srv *server) rootHandle(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet {
		return errors.Errorf("invalid request %q for /", r.Method)
	}

	t, err := template.New("upload").Parse(page)
	if err != nil {
		return err
	}

	def, err := yamlDefault()
	if err != nil {
		return err
	}
	return t.Execute(w, struct {
		Config string
	}{def})
}

// result is the response of a transform request.
type result struct {
	Image       string            `json:"data"`
	Rows        int               `json:"rows"`
	Windows     int               `json:"windows"`
	Corrections []grid.Correction `json:"corrections"`
}

func (srv *server) runHandle(w http.ResponseWriter, r *http.Request) error {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return errors.Wrap(err, "could not retrieve cookie")
	}

	err = r.ParseMultipartForm(500 << 20)
	if err != nil {
		return errors.Wrapf(err, "could not parse multipart form")
	}

	id := r.PostFormValue("id")
	if id == "" || strings.ContainsAny(id, `/\.`) {
		return errors.Errorf("invalid form ID %q", id)
	}

	f, handler, err := r.FormFile("input-file")
	if err != nil {
		return errors.Wrapf(err, "could not access input file")
	}
	defer f.Close()
	fname := strings.TrimPrefix(handler.Filename, `C:\fakepath\`)
	msg := srv.msg.With().Str("id", id).Str("file", fname).Logger()

	dir := filepath.Join(srv.dir, "id", id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "could not create output directory for %q", id)
	}

	cfgName := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgName, []byte(r.PostFormValue("config")), 0644); err != nil {
		return errors.Wrap(err, "could not save configuration")
	}
	cfg, err := config.Load(cfgName)
	if err != nil {
		return errors.Wrap(err, "could not load configuration")
	}

	in, err := ms.Parse(f)
	if err != nil {
		return errors.Wrapf(err, "could not parse input file")
	}

	out, res, err := transform(r.Context(), msg, in, cfg)
	if err != nil {
		return err
	}

	srv.mu.Lock()
	if srv.ids[cookie.Value] == nil {
		srv.ids[cookie.Value] = make(map[string]struct{})
	}
	srv.ids[cookie.Value][id] = struct{}{}
	srv.mu.Unlock()

	img, err := srv.save(dir, fname, out)
	if err != nil {
		return errors.Wrapf(err, "could not save report for %q", fname)
	}
	res.Image = base64.StdEncoding.EncodeToString(img)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		return errors.Wrapf(err, "could not encode to json")
	}
	return nil
}

func transform(ctx context.Context, msg zerolog.Logger, in *ms.Memory, cfg config.Config) (*ms.Memory, result, error) {
	e, err := mstransform.New(in, cfg, mstransform.WithLogger(msg))
	if err != nil {
		return nil, result{}, err
	}

	out := ms.NewMemory()
	out.Meta.Observatory = in.Meta.Observatory
	out.Meta.Fields = in.Meta.Fields
	out.Meta.Columns = append(append([]ms.Column(nil), e.Plan().Columns...), ms.WeightSpectrumColumn, ms.SigmaSpectrumColumn)

	if err := e.Run(ctx, in.Iter(e.IterOptions()), out); err != nil {
		return nil, result{}, errors.Wrap(err, "could not transform input")
	}
	if buf := e.Buffer(); buf != nil {
		if err := buf.Commit(out); err != nil {
			return nil, result{}, errors.Wrap(err, "could not commit output")
		}
	}
	msg.Info().Int("rows", len(out.Rows)).Msg("transformed")

	return out, result{
		Rows:        len(out.Rows),
		Windows:     len(out.Meta.Windows),
		Corrections: e.Plan().Corrections,
	}, nil
}

// save writes the output measurement set, the spectra of its windows and
// the plot of the first one under dir. It returns the PNG plot.
func (srv *server) save(dir, fname string, out *ms.Memory) ([]byte, error) {
	bname := strings.TrimSuffix(fname, filepath.Ext(fname))

	o, err := os.Create(filepath.Join(dir, bname+".out.ms"))
	if err != nil {
		return nil, errors.Wrap(err, "could not create output file")
	}
	defer o.Close()
	if err := ms.Write(o, out); err != nil {
		return nil, errors.Wrap(err, "could not write output file")
	}
	if err := o.Close(); err != nil {
		return nil, errors.Wrap(err, "could not close output file")
	}

	specs, wfs := mstransform.Spectra(out, out.Meta.Columns[0], 0)
	for i, spec := range specs {
		name := filepath.Join(dir, fmt.Sprintf("%s.spw%d.csv", bname, i))
		if err := writeSpectrum(name, spec); err != nil {
			return nil, err
		}
	}

	const (
		width  = 20 * vg.Centimeter
		height = 30 * vg.Centimeter
	)

	c := vgimg.PngCanvas{Canvas: vgimg.New(width, height)}
	if len(specs) > 0 {
		if err := mstransform.Plot(draw.New(c), specs[0], wfs[0]); err != nil {
			return nil, errors.Wrap(err, "could not create in-memory plot")
		}
	}

	img := new(bytes.Buffer)
	if _, err := c.WriteTo(img); err != nil {
		return nil, errors.Wrap(err, "could not create image plot")
	}
	if err := os.WriteFile(filepath.Join(dir, bname+".png"), img.Bytes(), 0644); err != nil {
		return nil, errors.Wrap(err, "could not save plot")
	}
	return img.Bytes(), nil
}

func writeSpectrum(name string, spec mstransform.Spectrum) error {
	f, err := os.Create(name)
	if err != nil {
		return errors.Wrapf(err, "could not create spectrum file %q", name)
	}
	defer f.Close()
	if err := mstransform.WriteSpectrum(f, spec); err != nil {
		return err
	}
	return f.Close()
}

func (srv *server) dlHandle(w http.ResponseWriter, r *http.Request) error {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return errors.Wrap(err, "could not retrieve cookie")
	}

	if err := r.ParseForm(); err != nil {
		return errors.Wrapf(err, "could not parse form")
	}

	id := r.Form.Get("id")
	if id == "" {
		return errors.Errorf("invalid ID")
	}

	srv.mu.RLock()
	defer srv.mu.RUnlock()
	if _, ok := srv.ids[cookie.Value][id]; !ok {
		return errors.Errorf("unknown ID %q", id)
	}

	dir := filepath.Join(srv.dir, "id", id)
	matches, err := filepath.Glob(filepath.Join(dir, "*.out.ms"))
	if err != nil {
		return errors.Wrapf(err, "could not find output file for %q", id)
	}
	if len(matches) != 1 {
		return errors.Errorf("invalid number of output files for id %q: got=%d, want=1", id, len(matches))
	}

	fname := matches[0]
	f, err := os.Open(fname)
	if err != nil {
		return errors.Wrapf(err, "could not open output file for id %q", id)
	}
	defer f.Close()

	w.Header().Set("Content-Description", "File Transfer")
	w.Header().Set("Content-Transfer-Encoding", "binary")
	w.Header().Set("Content-Disposition", "attachment; filename="+filepath.Base(fname))
	w.Header().Set("Content-Type", "application/force-download")

	if _, err := io.Copy(w, f); err != nil {
		return errors.Wrapf(err, "could not copy output file for id %q", id)
	}
	return nil
}

func (srv *server) rmHandle(w http.ResponseWriter, r *http.Request) error {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return errors.Wrap(err, "could not retrieve cookie")
	}

	if err := r.ParseMultipartForm(500 << 20); err != nil {
		return errors.Wrapf(err, "could not parse multipart form")
	}

	id := r.PostFormValue("id")
	if id == "" {
		return errors.Errorf("invalid ID")
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if _, ok := srv.ids[cookie.Value][id]; !ok {
		return errors.Errorf("unknown ID %q", id)
	}
	delete(srv.ids[cookie.Value], id)

	dir := filepath.Join(srv.dir, "id", id)
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "could not remove output results directory %q", id)
	}
	return nil
}

func yamlDefault() (string, error) {
	raw, err := config.Default().YAML()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

const page = `<html>
<head>
	<title>MS Transform</title>

	<meta name="viewport" content="width=device-width, initial-scale=1">
	<link rel="stylesheet" href="https://www.w3schools.com/w3css/3/w3.css">
	<script src="https://ajax.googleapis.com/ajax/libs/jquery/3.1.1/jquery.min.js"></script>

	<style>
	.loader {
		border: 16px solid #f3f3f3;
		border-radius: 50%;
		border-top: 16px solid #3498db;
		width: 120px;
		height: 120px;
		animation: spin 2s linear infinite;
	}

	@keyframes spin {
		0% { transform: rotate(0deg); }
		100% { transform: rotate(360deg); }
	}
	</style>

<script type="text/javascript">
	"use strict"

	function run() {
		var id = uuidv4();

		var file = $("#app-form input")[0].files[0];
		var uri = $("#input-file").val();

		var data = new FormData();
		data.append("config", $("#config").val());
		data.append("input-file", file, uri);
		data.append("id", id);

		plotPlaceholder(id);

		$.ajax({
			url: "/run",
			method: "POST",
			data: data,
			processData: false,
			contentType: false,
			success: function(data, status) {
				plotCallback(data, status, id);
			},
			error: function(e) {
				$("#"+id).remove();
				alert("processing failed: "+e.responseText);
			}
		});
	};

	function uuidv4() {
		return 'xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx'.replace(/[xy]/g, function(c) {
			var r = Math.random() * 16 | 0, v = c == 'x' ? r : (r & 0x3 | 0x8);
			return v.toString(16);
		});
	}

	function plotPlaceholder(id) {
		var node = $("<div></div>");
		node.attr("id", id);
		node.addClass("w3-panel w3-white w3-card-2 w3-display-container w3-content w3-center");
		node.css("width","100%");
		node.html("<div class=\"loader w3-white\" style=\"display: block; margin: auto;\"></div>");
		$("#app-display").prepend(node);
	};

	function plotCallback(data, status, id) {
		var notes = "";
		(data.corrections || []).forEach(function(c) {
			notes += "<li>"+c.Param+": "+c.Requested+" &rarr; "+c.Applied+" ("+c.Reason+")</li>";
		});
		$("#"+id).html(
			"<img src=\"data:image/png;base64, "+ data.data + "\" />"
			+"<p>rows="+data.rows+" windows="+data.windows+"</p>"
			+"<ul>"+notes+"</ul>"
			+"<span onclick=\"rmResults('"+id+"')\" class=\"w3-button w3-display-topright w3-hover-red w3-tiny\">X</span>"
			+"<input type=\"button\" value=\"Download\" onclick=\"window.location.href='/dl?id="+id+"'\"/>"
		);
	};

	function rmResults(id) {
		var data = new FormData();
		data.append("id", id);

		$.ajax({
			url: "/rm",
			method: "POST",
			data: data,
			processData: false,
			contentType: false,
			error: function(e) {
				alert("removing ["+id+"] failed: "+e.responseText);
			}
		});

		$("#"+id).remove();
	}
</script>
</head>
<body>

<div id="app-sidebar" class="w3-sidebar w3-bar-block w3-card-4 w3-light-grey" style="width:30%">
	<div class="w3-bar-item w3-card-2 w3-black">
		<h2>MS Transform</h2>
	</div>
	<div class="w3-bar-item">
		<form id="app-form" enctype="multipart/form-data">
			Measurement set:
			<input id="input-file" type="file" name="input-file"/>
			<br>
			Configuration:
			<textarea id="config" name="config" rows="30" style="width:100%; font-family:monospace">{{.Config}}</textarea>
			<br>
			<input type="button" onclick="run()" value="Run">
		</form>
	</div>
</div>

<div style="margin-left:30%; height:100%" class="w3-grey" id="app-container">
	<div class="w3-container w3-content w3-center" style="width:100%" id="app-display">
	</div>
</div>

</body>
</html>
`
