// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metrics exposes the prometheus metrics of transform runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsRead counts the input rows consumed from the row iterator.
	RowsRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mstransform_rows_read_total",
			Help: "Total number of input rows read",
		},
	)

	// RowsWritten counts the output rows, by target (table or buffer).
	RowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mstransform_rows_written_total",
			Help: "Total number of output rows written",
		},
		[]string{"target"},
	)

	// FlaggedSamples counts output samples flagged by the transform.
	FlaggedSamples = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mstransform_flagged_samples_total",
			Help: "Total number of flagged output samples",
		},
	)

	// Corrections counts the degrading corrections applied while planning.
	Corrections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mstransform_corrections_total",
			Help: "Total number of configuration corrections",
		},
		[]string{"param"},
	)

	// ChunkDuration tracks the time spent transforming one chunk.
	ChunkDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mstransform_chunk_duration_seconds",
			Help:    "Duration of chunk transforms in seconds",
			Buckets: prometheus.ExponentialBuckets(1e-5, 4, 10),
		},
	)
)
