// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mstransform-srv runs a web server transforming uploaded
// measurement sets.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/lsst-lpc/mstransform/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/acme/autocert"
)

var (
	addrFlag = flag.String("addr", ":8080", "server address:port")
	servFlag = flag.String("serv", "http", "server protocol")
	hostFlag = flag.String("host", "", "server domain name for TLS")
	logFlag  = flag.String("log", "info", "log level")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(
			os.Stderr,
			`Usage: mstransform-srv [options]

ex:

 $> mstransform-srv -addr :8080 -serv https -host example.com

options:
`,
		)
		flag.PrintDefaults()
	}

	flag.Parse()

	cfg := config.Default()
	cfg.LogLevel = *logFlag
	msg := cfg.NewLogger(os.Stderr, false).With().Str("cmd", "mstransform-srv").Logger()

	dir, err := os.MkdirTemp("", "mstransform-srv-")
	if err != nil {
		msg.Fatal().Err(err).Msg("could not create temporary directory")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, msg, dir); err != nil {
		msg.Error().Err(err).Msg("server failed")
	}
}

func run(ctx context.Context, msg zerolog.Logger, dir string) error {
	defer func() {
		msg.Info().Str("dir", dir).Msg("shutdown sequence: removing directory")
		os.RemoveAll(dir)
	}()

	mux := http.NewServeMux()
	srv := newServer(dir, mux, msg)
	defer srv.Shutdown()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              *addrFlag,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		msg.Info().Str("serv", *servFlag).Str("addr", *addrFlag).Msg("server listening")
		switch *servFlag {
		case "https":
			m := autocert.Manager{
				Prompt:     autocert.AcceptTOS,
				HostPolicy: autocert.HostWhitelist(*hostFlag),
				Cache:      autocert.DirCache("certs"),
			}
			server.TLSConfig = &tls.Config{GetCertificate: m.GetCertificate}
			errc <- server.ListenAndServeTLS("", "")
		default:
			errc <- server.ListenAndServe()
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(sctx)
}
