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

// Package effectworker consumes PartitionEffect batches emitted by a
// partition's reducer, dispatches RunJob/AbortRun through a
// servicehost.Host, and appends the resulting JobRunEvent back onto the
// log. Grounded on original `wflow/partition/tokio/effect_worker.rs`'s
// TokioEffectWorker: one goroutine drains the inbound channel, but unlike
// the original's strictly sequential dispatch, each RunJob effect runs in
// its own goroutine bounded by a concurrency semaphore and an optional
// rate limiter, since nothing about dispatching two unrelated jobs'
// effects requires serializing them.
package effectworker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dman-os/wflow/partitionstate"
	"github.com/dman-os/wflow/pkg/config"
	"github.com/dman-os/wflow/pkg/metrics"
	"github.com/dman-os/wflow/pkg/tracing"
	"github.com/dman-os/wflow/servicehost"
	"github.com/dman-os/wflow/wflowtypes"
)

// JobLookup reads a job's current materialized state. Supplied by the
// owning partition.Worker so effectworker never needs its own copy of
// PartitionJobsState or the locking around it.
type JobLookup func(id wflowtypes.JobId) (partitionstate.JobState, bool)

// Appender persists a reduced log entry, returning the id it was assigned.
// Satisfied by logstore.Store.Append with the payload already encoded via
// wflowtypes.MarshalEntry.
type Appender func(ctx context.Context, payload []byte) (wflowtypes.EntryId, error)

// Worker dispatches effects for a single partition.
type Worker struct {
	partitionLabel string
	host           servicehost.Host
	lookupJob      JobLookup
	appendEntry    Appender
	defaultPolicy  wflowtypes.RetryPolicy

	sem     chan struct{}
	limiter *rate.Limiter

	mu          sync.Mutex
	cancelByJob map[wflowtypes.JobId]context.CancelFunc
}

// New builds a Worker for one partition. cfg.Concurrency <= 0 defaults to
// 4; cfg.RateLimitQPS <= 0 disables rate limiting.
func New(partitionLabel string, host servicehost.Host, lookupJob JobLookup, appendEntry Appender, cfg config.EffectWorkerConfig) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	var limiter *rate.Limiter
	if cfg.RateLimitQPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = int(cfg.RateLimitQPS)
			if burst <= 0 {
				burst = 1
			}
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitQPS), burst)
	}
	defaultMax := cfg.DefaultRetryMax
	var defaultPolicy wflowtypes.RetryPolicy
	if defaultMax > 0 {
		defaultPolicy = wflowtypes.NewBackoffPolicy(0, 0, 1, defaultMax)
	} else {
		defaultPolicy = wflowtypes.Immediate()
	}

	return &Worker{
		partitionLabel: partitionLabel,
		host:           host,
		lookupJob:      lookupJob,
		appendEntry:    appendEntry,
		defaultPolicy:  defaultPolicy,
		sem:            make(chan struct{}, concurrency),
		limiter:        limiter,
		cancelByJob:    make(map[wflowtypes.JobId]context.CancelFunc),
	}
}

// Run drains in until ctx is cancelled or in closes, dispatching every
// effect in each received batch.
func (w *Worker) Run(ctx context.Context, in <-chan wflowtypes.JobPartitionEffectsEntry) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-in:
			if !ok {
				return
			}
			metrics.EffectQueueDepth.WithLabelValues(w.partitionLabel).Set(float64(len(in)))
			for i, effect := range batch.Effects {
				effect, index := effect, i
				switch effect.Kind {
				case wflowtypes.EffectRunJob:
					wg.Add(1)
					w.sem <- struct{}{}
					go func() {
						defer wg.Done()
						defer func() { <-w.sem }()
						w.dispatchRunJob(ctx, wflowtypes.EffectId{SourceEntryId: batch.SourceEntryId, EffectIndex: index}, effect)
					}()
				case wflowtypes.EffectAbortRun:
					w.dispatchAbort(effect)
				}
			}
		}
	}
}

func (w *Worker) dispatchAbort(effect wflowtypes.PartitionEffect) {
	w.mu.Lock()
	cancel, ok := w.cancelByJob[effect.JobId]
	w.mu.Unlock()
	if ok {
		cancel()
	}
}

func (w *Worker) dispatchRunJob(ctx context.Context, effectId wflowtypes.EffectId, effect wflowtypes.PartitionEffect) {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
	}

	job, ok := w.lookupJob(effect.JobId)
	var result wflowtypes.JobRunResult
	if !ok {
		result = wflowtypes.JobRunResult{
			Kind: wflowtypes.RunResultWorkerErr,
			WorkerErr: &wflowtypes.JobRunWorkerError{
				Kind: wflowtypes.WorkerErrJobNotFound,
				Msg:  fmt.Sprintf("job %s not active in this partition's working state", effect.JobId),
			},
		}
	} else {
		runId := effect.RunJob.RunId

		// cancelByJob is registered before the backoff wait below, not after
		// it: an AbortRun effect can be dispatched for this job while a retry
		// is still sleeping off its backoff. Registering only after the sleep
		// would make dispatchAbort's lookup miss entirely and the cancel
		// would be silently lost, letting a cancelled job's retry run anyway.
		runCtx, cancel := context.WithCancel(ctx)
		w.mu.Lock()
		w.cancelByJob[effect.JobId] = cancel
		w.mu.Unlock()
		defer func() {
			w.mu.Lock()
			delete(w.cancelByJob, effect.JobId)
			w.mu.Unlock()
			cancel()
		}()

		if runId > 1 {
			policy := job.EffectiveRetryPolicy(w.defaultPolicy)
			if delay := policy.DelayForAttempt(int(runId) - 1); delay > 0 {
				select {
				case <-time.After(delay):
				case <-runCtx.Done():
					// cancelled mid-backoff: fall through into host.Run with
					// the already-cancelled runCtx rather than returning
					// here, so the workflow's own ctx-aware logic reports the
					// terminal outcome the same way it would for a cancel
					// landing mid-run. Returning here instead would leave
					// this run's effect permanently outstanding, since no
					// JobRunEvent would ever retire it.
				case <-ctx.Done():
					return
				}
			}
		}

		rjctx := servicehost.RunJobCtx{
			EffectId: effectId,
			RunId:    runId,
			WorkerId: effect.RunJob.PreferredWorkerId,
		}

		argsJson := effect.RunJob.ArgsJson
		if argsJson == "" {
			argsJson = job.InitArgsJson
		}

		spanCtx, span := tracing.StartRunSpan(runCtx, string(effect.JobId), uint64(runId))

		start := time.Now()
		var session servicehost.Session
		var err error
		result, session, err = w.host.Run(spanCtx, rjctx, job.Workflow.Key, effect.JobId, job, argsJson)
		metrics.JobRunDuration.WithLabelValues(w.partitionLabel, job.Workflow.Key).Observe(time.Since(start).Seconds())
		span.End()
		if err != nil {
			result = wflowtypes.JobRunResult{
				Kind:      wflowtypes.RunResultWorkerErr,
				WorkerErr: &wflowtypes.JobRunWorkerError{Kind: wflowtypes.WorkerErrOther, Msg: err.Error()},
			}
		}
		if result.IsTerminal() && session != nil {
			w.host.DropSession(ctx, session)
		}
	}

	metrics.JobRunTotal.WithLabelValues(w.partitionLabel, string(result.Kind)).Inc()

	now := time.Now().UTC()
	run := wflowtypes.JobRunEvent{
		JobId:     effect.JobId,
		Timestamp: now,
		EffectId:  effectId,
		RunId:     effect.RunJob.RunId,
		StartAt:   now,
		EndAt:     now,
		Result:    result,
	}
	payload, err := wflowtypes.MarshalEntry(wflowtypes.NewJobEffectResultEntry(run))
	if err != nil {
		return
	}
	_, _ = w.appendEntry(ctx, payload)
}
