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

// Package ingress is the engine's command API: schedule/cancel a job,
// register a workflow, check status, stop a partition. It generalizes the
// original's PartitionLogIngress (which wrapped a single partition log) to
// route across the full partition topology by hashing the job id, since
// this engine runs more than one partition per process.
package ingress

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/dman-os/wflow/metastore"
	"github.com/dman-os/wflow/partition"
	"github.com/dman-os/wflow/partitionstate"
	pkgerrors "github.com/dman-os/wflow/pkg/errors"
	"github.com/dman-os/wflow/wflowtypes"
)

// Router is the command API surface spec.md §6 calls out, generalized to
// route across every partition this process owns. It does not start or stop
// partition workers itself (cmd/wflowd wires those up and calls Register);
// Router only ever dispatches to workers already handed to it.
type Router struct {
	meta metastore.Store

	partitionCountOnce sync.Once
	partitionCount     int

	mu      sync.RWMutex
	workers map[wflowtypes.PartitionId]*partition.Worker
	cancels map[wflowtypes.PartitionId]context.CancelFunc
}

// NewRouter builds an empty Router; call Register for each partition this
// process owns before accepting commands.
func NewRouter(meta metastore.Store) *Router {
	return &Router{
		meta:    meta,
		workers: make(map[wflowtypes.PartitionId]*partition.Worker),
		cancels: make(map[wflowtypes.PartitionId]context.CancelFunc),
	}
}

// Register associates a started partition.Worker with its id and the cancel
// func that will stop it, so StopPartition has something to call. cmd/wflowd
// calls this once per partition right after Worker.Start succeeds.
func (r *Router) Register(id wflowtypes.PartitionId, w *partition.Worker, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[id] = w
	r.cancels[id] = cancel
}

// partitionFor hashes jobID into [0, PartitionsMeta.PartitionCount) — the
// fixed topology size recorded in the metastore at startup, not the number of
// workers currently registered in this process. Using len(r.workers) here
// would have meant StopPartition (which deletes an entry from that map)
// silently remapped every other job's hash bucket, routing in-flight jobs to
// the wrong partition. A topology change (PartitionsMeta.Version bump) is out
// of scope here, same as spec.md's cross-partition coordination Non-goal.
func (r *Router) partitionFor(jobID wflowtypes.JobId) (*partition.Worker, error) {
	r.partitionCountOnce.Do(func() {
		if meta, err := r.meta.GetPartitions(context.Background()); err == nil {
			r.partitionCount = meta.PartitionCount
		}
	})

	r.mu.RLock()
	defer r.mu.RUnlock()
	count := r.partitionCount
	if count <= 0 {
		count = len(r.workers)
	}
	if count == 0 {
		return nil, fmt.Errorf("ingress: no partitions registered")
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(jobID))
	idx := wflowtypes.PartitionId(h.Sum64() % uint64(count))
	w, ok := r.workers[idx]
	if !ok {
		return nil, fmt.Errorf("ingress: partition %d not registered", idx)
	}
	return w, nil
}

// ScheduleJob appends a JobInit entry to the job's partition, mirroring the
// original WflowIngress::add_job. Returns the job's assigned partition so
// callers (e.g. httpapi) can report it back.
func (r *Router) ScheduleJob(
	ctx context.Context,
	jobID wflowtypes.JobId,
	workflowKey string,
	argsJson string,
	override *wflowtypes.RetryPolicy,
) (wflowtypes.PartitionId, error) {
	w, err := r.partitionFor(jobID)
	if err != nil {
		return 0, err
	}
	if _, ok, err := r.meta.GetWorkflow(ctx, workflowKey); err != nil {
		return 0, pkgerrors.Wrapf(err, "ingress: looking up workflow %q", workflowKey)
	} else if !ok {
		return 0, fmt.Errorf("%w: %q", pkgerrors.ErrWorkflowNotFound, workflowKey)
	}
	if err := w.ScheduleJob(ctx, jobID, workflowKey, argsJson, override); err != nil {
		return 0, err
	}
	return w.ID(), nil
}

// CancelJob requests cancellation of a previously scheduled job.
func (r *Router) CancelJob(ctx context.Context, jobID wflowtypes.JobId, reason string) error {
	w, err := r.partitionFor(jobID)
	if err != nil {
		return err
	}
	return w.CancelJob(ctx, jobID, reason)
}

// JobStatus looks up a job's current materialized state.
func (r *Router) JobStatus(jobID wflowtypes.JobId) (partitionstate.JobState, bool, error) {
	w, err := r.partitionFor(jobID)
	if err != nil {
		return partitionstate.JobState{}, false, err
	}
	js, ok := w.JobStatus(jobID)
	return js, ok, nil
}

// RegisterWorkflow is an admin operation: registers or updates a workflow
// definition every partition's reducer can subsequently schedule jobs
// against.
func (r *Router) RegisterWorkflow(ctx context.Context, key string, meta wflowtypes.WorkflowMeta) (wflowtypes.WorkflowMeta, bool, error) {
	return r.meta.SetWorkflow(ctx, key, meta)
}

// StopPartition is an admin operation: cancels the context a partition
// worker was started with, causing its tail loop and effect dispatch to
// unwind. The partition is deregistered so subsequent commands routed to it
// fail fast instead of hanging on a dead worker.
func (r *Router) StopPartition(id wflowtypes.PartitionId) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.cancels[id]
	if !ok {
		return fmt.Errorf("ingress: partition %d not registered", id)
	}
	cancel()
	delete(r.workers, id)
	delete(r.cancels, id)
	return nil
}

// Partitions returns the ids of every partition currently registered.
func (r *Router) Partitions() []wflowtypes.PartitionId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]wflowtypes.PartitionId, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	return ids
}
