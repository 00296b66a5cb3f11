// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package temporal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type journalMetrics struct {
	appends               prometheus.Counter
	eventsWritten         prometheus.Counter
	payloadBytesWritten   prometheus.Counter
	eventsRead            prometheus.Counter
	walRecordsReplayed    prometheus.Counter
	segmentRotations      prometheus.Counter
	flushes               prometheus.Counter
	checkpoints           prometheus.Counter
	lastSegmentAgeSeconds prometheus.Gauge
}

func newJournalMetrics(reg prometheus.Registerer) *journalMetrics {
	return &journalMetrics{
		appends: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "journal_appends",
			Help: "journal_appends counts the number of calls to Append i.e." +
				" number of events pushed through the write path.",
		}),
		eventsWritten: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "journal_events_written",
			Help: "journal_events_written counts events appended to the WAL.",
		}),
		payloadBytesWritten: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "journal_payload_bytes_written",
			Help: "journal_payload_bytes_written counts payload bytes of appended" +
				" events. Actual bytes written to disk differ due to framing," +
				" metadata and compression.",
		}),
		eventsRead: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "journal_events_read",
			Help: "journal_events_read counts events returned by queries.",
		}),
		walRecordsReplayed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "journal_wal_records_replayed",
			Help: "journal_wal_records_replayed counts WAL records applied during" +
				" recovery that were not already present in a segment.",
		}),
		segmentRotations: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "journal_segment_rotations",
			Help: "journal_segment_rotations counts how many times we move to a" +
				" new segment file.",
		}),
		flushes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "journal_flushes",
			Help: "journal_flushes counts calls to Flush.",
		}),
		checkpoints: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "journal_checkpoints",
			Help: "journal_checkpoints counts completed checkpoints i.e. WAL" +
				" truncations after durable segment flushes.",
		}),
		lastSegmentAgeSeconds: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "journal_last_segment_age_seconds",
			Help: "journal_last_segment_age_seconds is set each time an append" +
				" rotates a segment and describes the number of seconds between when that" +
				" segment file was created and when it was sealed. this gives a" +
				" rough estimate how quickly writes are filling the disk.",
		}),
	}
}
