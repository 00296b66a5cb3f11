// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package temporal

import (
	"errors"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dreamsxin/temporal/types"
)

// Option configures a Journal at Open time.
type Option func(*Journal)

// WithLogger sets the logger used for non-fatal events. Defaults to a nop
// logger.
func WithLogger(logger log.Logger) Option {
	return func(j *Journal) { j.logger = logger }
}

// WithMetricsRegisterer sets where journal metrics are registered.
// Defaults to a private registry.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(j *Journal) { j.reg = reg }
}

// WithWAL substitutes the write-ahead log implementation. Pass wal.NewMemory
// to trade durability for speed, or a stub in tests. When set, the journal
// does not open the default file WAL.
func WithWAL(w types.WriteAheadLog) Option {
	return func(j *Journal) { j.wal = w }
}

// WithMetaStore substitutes the meta store. When set, the journal does not
// open the default bbolt store and skips its lock.
func WithMetaStore(m types.MetaStore) Option {
	return func(j *Journal) { j.meta = m }
}

// WithMaterializedView attaches a view that is updated from every appended
// event and rebuilt during recovery.
func WithMaterializedView(v types.MaterializedView) Option {
	return func(j *Journal) { j.view = v }
}

// WithSegmentLimits overrides the segment rotation thresholds. Zero leaves
// a threshold at its default.
func WithSegmentLimits(maxEvents, maxBytes uint32) Option {
	return func(j *Journal) {
		j.segMaxEvents = maxEvents
		j.segMaxBytes = maxBytes
	}
}

func (j *Journal) applyDefaultsAndValidate() error {
	if j.dir == "" {
		return errors.New("journal directory is required")
	}
	if j.logger == nil {
		j.logger = log.NewNopLogger()
	}
	if j.reg == nil {
		j.reg = prometheus.NewRegistry()
	}
	j.metrics = newJournalMetrics(j.reg)
	return nil
}
