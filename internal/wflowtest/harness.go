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

// Package wflowtest is deterministic-replay scaffolding for the engine's
// testable properties (spec.md §8, scenarios S1-S6): build a Harness over
// an in-memory kvstore, drive it through ScheduleJob/CancelJob, poll its
// log with WaitUntilEntry/WaitUntilNoActiveJobs, and stop it so a second
// Harness can be built over the same log/snapshot store to assert
// replay-from-log-only equivalence. This is the Go analogue of the
// original's WflowTestContext builder (wflow/test/{cancel_job,fails_once,
// fails_until_told,recover_from_log}.rs): schedule_job, wait_until_entry,
// wait_until_no_active_jobs, stop.
package wflowtest

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dman-os/wflow/effectworker"
	"github.com/dman-os/wflow/kvstore"
	"github.com/dman-os/wflow/logstore"
	"github.com/dman-os/wflow/metastore"
	"github.com/dman-os/wflow/partition"
	"github.com/dman-os/wflow/partitionstate"
	"github.com/dman-os/wflow/pkg/config"
	"github.com/dman-os/wflow/servicehost/nativehost"
	"github.com/dman-os/wflow/snapstore"
	"github.com/dman-os/wflow/wflowtypes"
)

// LogEntryRecord is one slot read back off the partition log: either a
// decoded PartitionLogEntry, or a Gap (the counter advanced past Idx but no
// payload was ever written there).
type LogEntryRecord struct {
	Idx   wflowtypes.EntryId
	Entry wflowtypes.PartitionLogEntry
	Gap   bool
}

// Option configures a Harness's underlying stores. The zero value builds a
// fresh in-memory store for everything; passing WithLog/WithSnap lets a
// second Harness resume the first's log and snapshots exactly the way the
// original's with_logstore/with_snapstore builder options let a second
// WflowTestContext replay the first's history.
type Option func(*harnessOptions)

type harnessOptions struct {
	kv   kvstore.Store
	log  logstore.Store
	snap snapstore.Store
}

// WithKV reuses an existing kvstore.Store (and, transitively, anything
// built directly on it that the caller did not also override).
func WithKV(kv kvstore.Store) Option {
	return func(o *harnessOptions) { o.kv = kv }
}

// WithLog reuses an existing log store, carrying its full history into the
// new Harness — the S3/recover-from-log scenario's "drop all in-memory
// state, boot a fresh partition against the same log" step.
func WithLog(log logstore.Store) Option {
	return func(o *harnessOptions) { o.log = log }
}

// WithSnap reuses an existing snapshot store.
func WithSnap(snap snapstore.Store) Option {
	return func(o *harnessOptions) { o.snap = snap }
}

// Harness wires one partition's full stack (stores, Worker, effectworker,
// nativehost) for a single test. It always runs a single partition (id 0);
// the multi-partition topology ingress.Router adds is out of scope for
// these replay scenarios, which spec.md §8 states in terms of one
// partition's log.
type Harness struct {
	t *testing.T

	KV   kvstore.Store
	Log  logstore.Store
	Snap snapstore.Store
	Meta metastore.Store
	Host *nativehost.Host

	Worker *partition.Worker

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds and starts a Harness, registering workflows (key -> native
// function) before the worker starts, mirroring the original's
// InitialWorkload ordering used whenever a scenario's second run needs the
// workload registered before replay begins.
func New(t *testing.T, workflows map[string]nativehost.WorkflowFunc, opts ...Option) *Harness {
	t.Helper()

	var o harnessOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.kv == nil {
		o.kv = kvstore.NewMemStore()
	}
	if o.log == nil {
		o.log = logstore.NewKVLogStore(o.kv, "log/")
	}
	if o.snap == nil {
		o.snap = snapstore.NewAtomicKVSnapStore(o.kv, "snap/", 10)
	}

	ctx, cancel := context.WithCancel(context.Background())

	meta, err := metastore.NewKVMetaStore(ctx, o.kv, "meta/", wflowtypes.PartitionsMeta{Version: 1, PartitionCount: 1})
	require.NoError(t, err)

	host := nativehost.New()
	for key, fn := range workflows {
		host.Register(key, fn)
		_, _, err := meta.SetWorkflow(ctx, key, wflowtypes.WorkflowMeta{Key: key, Service: wflowtypes.NativeService()})
		require.NoError(t, err)
	}

	worker := partition.NewWorker(0, o.log, o.snap, meta, config.PartitionConfig{SnapshotEveryNEntries: 1000, EffectQueueSize: 64})
	require.NoError(t, worker.Start(ctx))

	select {
	case <-worker.ReplayDone():
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("wflowtest: timed out waiting for initial replay")
	}

	ew := effectworker.New("0", host, worker.LookupJob, worker.AppendEntry, config.EffectWorkerConfig{Concurrency: 8})
	go ew.Run(ctx, worker.EffectsOut())

	h := &Harness{t: t, KV: o.kv, Log: o.log, Snap: o.snap, Meta: meta, Host: host, Worker: worker, ctx: ctx, cancel: cancel}
	t.Cleanup(h.Stop)
	return h
}

// Stop cancels the harness's context, stopping its worker and effect
// worker goroutines. Safe to call more than once.
func (h *Harness) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
}

// ScheduleJob appends a JobInitEvent for jobID under workflowKey.
func (h *Harness) ScheduleJob(jobID wflowtypes.JobId, workflowKey string, argsJson string) {
	h.t.Helper()
	require.NoError(h.t, h.Worker.ScheduleJob(h.ctx, jobID, workflowKey, argsJson, nil))
}

// CancelJob appends a JobCancelEvent for jobID.
func (h *Harness) CancelJob(jobID wflowtypes.JobId, reason string) {
	h.t.Helper()
	require.NoError(h.t, h.Worker.CancelJob(h.ctx, jobID, reason))
}

// JobStatus returns jobID's current materialized state.
func (h *Harness) JobStatus(jobID wflowtypes.JobId) (partitionstate.JobState, bool) {
	return h.Worker.JobStatus(jobID)
}

// LogSnapshot reads every entry currently in the log, from 0 up to (but not
// including) the log's current head, in order.
func (h *Harness) LogSnapshot() []LogEntryRecord {
	h.t.Helper()
	latest, err := h.Log.LatestIdx(h.ctx)
	require.NoError(h.t, err)
	if latest == 0 {
		return nil
	}

	tailCtx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	ch := h.Log.Tail(tailCtx, 0)

	out := make([]LogEntryRecord, 0, latest)
	for i := wflowtypes.EntryId(0); i < latest; i++ {
		e, ok := <-ch
		if !ok {
			h.t.Fatalf("wflowtest: log tail closed early at idx %d (wanted %d entries)", i, latest)
		}
		rec := LogEntryRecord{Idx: e.Idx, Gap: e.Gap}
		if !e.Gap {
			decoded, err := wflowtypes.UnmarshalEntry(e.Val)
			require.NoError(h.t, err)
			rec.Entry = decoded
		}
		out = append(out, rec)
	}
	return out
}

// WaitUntilEntry polls the log (every 10ms, up to timeout) until some
// record satisfies pred, returning true on success. The Go analogue of the
// original's wait_until_entry(partition_idx, timeout_count, predicate).
func (h *Harness) WaitUntilEntry(timeout time.Duration, pred func(LogEntryRecord) bool) bool {
	h.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		for _, rec := range h.LogSnapshot() {
			if pred(rec) {
				return true
			}
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// WaitUntilNoActiveJobs polls the worker's active job count until it is
// zero, returning true on success.
func (h *Harness) WaitUntilNoActiveJobs(timeout time.Duration) bool {
	h.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if h.Worker.ActiveJobCount() == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// InduceGap advances the log's counter by one slot without writing a
// payload under it, the scenario S6 describes as "a hole at entry_id=N
// (counter advanced but no payload)". It requires direct kvstore access
// since logstore.Store's own Append always writes a payload atomically
// with the claim, and assumes the default Harness log prefix "log/" (a
// Harness built with WithLog over a differently-prefixed store cannot use
// this helper).
func (h *Harness) InduceGap() {
	h.t.Helper()
	for {
		guard, err := h.KV.NewCAS(h.ctx, []byte("log/counter"))
		require.NoError(h.t, err)
		cur, exists := guard.Current()
		var id uint64
		if exists {
			v, perr := strconv.ParseUint(string(cur), 10, 64)
			require.NoError(h.t, perr)
			id = v
		}
		_, err = guard.Swap(h.ctx, []byte(strconv.FormatUint(id+1, 10)))
		if err == kvstore.ErrCASConflict {
			continue
		}
		require.NoError(h.t, err)
		return
	}
}
