// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultRegistry is registered against and exposed by the daemon process.
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		JobsTotal, JobRunDuration, JobRunTotal, RetriesTotal,
		EffectQueueDepth, SnapshotLagEntries, LogTailGapTotal,
		CASConflictTotal, SnapshotSaveDuration,
	)
}

// JobsTotal counts jobs by terminal outcome (success|terminal_error|cancelled).
var JobsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wflow_jobs_total",
		Help: "jobs moved to archive, by terminal outcome",
	},
	[]string{"partition", "outcome"},
)

// JobRunDuration is the duration of a single Host.Run call for a RunJob
// effect; the backoff wait and the log append are not included.
var JobRunDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "wflow_job_run_duration_seconds",
		Help:    "duration of a single RunJob effect dispatch",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"partition", "workflow"},
)

// JobRunTotal counts run attempts, classified by result kind.
var JobRunTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wflow_job_run_total",
		Help: "RunJob attempts, by result kind",
	},
	[]string{"partition", "result"}, // success|step_effect|worker_err|wflow_err
)

// RetriesTotal counts retries triggered by Transient/WorkerErr results.
var RetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wflow_retries_total",
		Help: "retry effects emitted by the reducer",
	},
	[]string{"partition"},
)

// EffectQueueDepth is the instantaneous length of the effect worker's inbound
// channel, for observing backpressure.
var EffectQueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "wflow_effect_queue_depth",
		Help: "current length of the partition worker's effect command channel",
	},
	[]string{"partition"},
)

// SnapshotLagEntries is the gap between the last snapshot's entry id and the
// last applied entry id.
var SnapshotLagEntries = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "wflow_snapshot_lag_entries",
		Help: "entries applied since the last successful snapshot",
	},
	[]string{"partition"},
)

// LogTailGapTotal counts gaps observed while tailing the log.
var LogTailGapTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wflow_log_tail_gap_total",
		Help: "gaps observed while tailing the log",
	},
	[]string{"partition"},
)

// CASConflictTotal counts CAS conflicts on the log-append and snapshot-save
// retry loops.
var CASConflictTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wflow_cas_conflict_total",
		Help: "CAS conflicts observed, by call site",
	},
	[]string{"site"}, // logstore.append|snapstore.save
)

// SnapshotSaveDuration is the duration of SaveSnapshot, including its CAS
// retry loop.
var SnapshotSaveDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "wflow_snapshot_save_duration_seconds",
		Help:    "duration of SaveSnapshot including CAS retry loop",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"partition"},
)
