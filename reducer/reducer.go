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

// Package reducer is the pure fold from a log prefix to partition state:
// no I/O, no clock reads, no randomness. Every timestamp a rule needs lives
// in the entry being reduced. Given identical inputs, Reduce always
// produces byte-identical mutations and an identical emitted effect list —
// this is what lets partition.Worker replay a log from any prefix and land
// on the same state twice.
package reducer

import (
	"sort"

	"github.com/dman-os/wflow/partitionstate"
	"github.com/dman-os/wflow/wflowtypes"
)

// Reduce applies one PartitionLogEntry to jobs and effects, mutating both
// in place, and returns the PartitionEffect list newly emitted by this
// entry (empty for the EntryJobPartitionEffects variant, which only
// installs — see the doc comment on partition.Worker.applyEntry for why
// that split exists).
//
// sourceEntryId is the EntryId the entry currently being reduced was
// assigned by the log. Reduce itself does not read it: the caller records
// that id as the receipt's SourceEntryId, and installing takes each
// EffectId.SourceEntryId from the EntryJobPartitionEffects' own field.
func Reduce(
	jobs *partitionstate.PartitionJobsState,
	effects *partitionstate.ActiveEffects,
	sourceEntryId wflowtypes.EntryId,
	entry wflowtypes.PartitionLogEntry,
) []wflowtypes.PartitionEffect {
	switch entry.Kind {
	case wflowtypes.EntryJobInit:
		return reduceJobInit(jobs, entry.JobInit)
	case wflowtypes.EntryJobEffectResult:
		return reduceJobEffectResult(jobs, effects, entry.JobEffectResult)
	case wflowtypes.EntryJobCancel:
		return reduceJobCancel(jobs, effects, entry.JobCancel)
	case wflowtypes.EntryJobPartitionEffects:
		reduceInstallEffects(effects, entry.PartitionEffects)
		return nil
	default:
		return nil
	}
}

func reduceJobInit(jobs *partitionstate.PartitionJobsState, e *wflowtypes.JobInitEvent) []wflowtypes.PartitionEffect {
	if e == nil {
		return nil
	}
	if jobs.Known(e.JobId) {
		// idempotent re-delivery
		return nil
	}
	jobs.Active[e.JobId] = partitionstate.NewJobState(*e)
	return sortEffects([]wflowtypes.PartitionEffect{
		{
			JobId: e.JobId,
			Kind:  wflowtypes.EffectRunJob,
			RunJob: &wflowtypes.RunJobDeets{
				RunId:    1,
				ArgsJson: e.ArgsJson,
			},
		},
	})
}

func reduceJobEffectResult(
	jobs *partitionstate.PartitionJobsState,
	effects *partitionstate.ActiveEffects,
	e *wflowtypes.JobRunEvent,
) []wflowtypes.PartitionEffect {
	if e == nil {
		return nil
	}
	job, ok := jobs.Get(e.JobId)
	if !ok {
		// entry for a job that is not (or no longer) active; archived jobs
		// accept no further mutation, and an unknown job means the init
		// entry was lost — either way there is nothing to reduce.
		return nil
	}

	if e.Result.Kind == wflowtypes.RunResultStepEffect && e.Result.StepEffect != nil {
		se := e.Result.StepEffect
		for len(job.Steps) <= int(se.StepId) {
			job.Steps = append(job.Steps, partitionstate.JobStepState{Kind: partitionstate.JobStepEffect})
		}
		job.Steps[se.StepId].Attempts = append(job.Steps[se.StepId].Attempts, *se)
		jobs.Active[e.JobId] = job
		// the run effect remains outstanding; no new partition effect
		return nil
	}

	job.Runs = append(job.Runs, *e)

	if e.Result.RetiresEffect() {
		effects.Retire(e.EffectId)
	}

	if e.Result.IsTerminal() {
		jobs.Active[e.JobId] = job
		jobs.Archive_(e.JobId)
		return nil
	}

	// Transient WflowErr or WorkerErr: retry unless cancelling, or unless
	// the effective policy's MaxAttempts has been exceeded (an extension
	// consuming RetryPolicy.Backoff.MaxAttempts, since only the reducer
	// ever decides whether a job moves to archive).
	jobs.Active[e.JobId] = job
	if job.Cancelling {
		return nil
	}

	nextRunId := job.LastRunId() + 1
	policy := effectiveRetryPolicy(job, e.Result)
	if policy.ExceedsMaxAttempts(int(nextRunId)) {
		jobs.Archive_(e.JobId)
		return nil
	}

	return sortEffects([]wflowtypes.PartitionEffect{
		{
			JobId: e.JobId,
			Kind:  wflowtypes.EffectRunJob,
			RunJob: &wflowtypes.RunJobDeets{
				RunId:    nextRunId,
				ArgsJson: job.InitArgsJson,
			},
		},
	})
}

// effectiveRetryPolicy resolves the policy that governs this particular
// failure: a Transient's own override policy first, then the job's
// workflow-init override, else RetryImmediate.
func effectiveRetryPolicy(job partitionstate.JobState, result wflowtypes.JobRunResult) wflowtypes.RetryPolicy {
	if result.Kind == wflowtypes.RunResultWflowErr && result.WflowErr != nil && result.WflowErr.RetryPolicy != nil {
		return *result.WflowErr.RetryPolicy
	}
	return job.EffectiveRetryPolicy(wflowtypes.Immediate())
}

func reduceJobCancel(
	jobs *partitionstate.PartitionJobsState,
	effects *partitionstate.ActiveEffects,
	e *wflowtypes.JobCancelEvent,
) []wflowtypes.PartitionEffect {
	if e == nil {
		return nil
	}
	job, ok := jobs.Get(e.JobId)
	if !ok {
		return nil
	}
	job.Cancelling = true
	jobs.Active[e.JobId] = job

	activeRunIds := effects.ActiveRunEffectIds(e.JobId)
	if len(activeRunIds) == 0 {
		return nil
	}
	out := make([]wflowtypes.PartitionEffect, 0, len(activeRunIds))
	for range activeRunIds {
		out = append(out, wflowtypes.PartitionEffect{
			JobId: e.JobId,
			Kind:  wflowtypes.EffectAbortRun,
			Abort: &wflowtypes.AbortRunDeets{Reason: e.Reason},
		})
	}
	return sortEffects(out)
}

func reduceInstallEffects(effects *partitionstate.ActiveEffects, e *wflowtypes.JobPartitionEffectsEntry) {
	if e == nil {
		return
	}
	for idx, effect := range e.Effects {
		id := wflowtypes.EffectId{SourceEntryId: e.SourceEntryId, EffectIndex: idx}
		effects.Install(id, effect)
	}
}

// sortEffects enforces the tie-break rule: effects triggered by one entry
// are emitted in a stable order sorted by (job_id, kind).
func sortEffects(in []wflowtypes.PartitionEffect) []wflowtypes.PartitionEffect {
	sort.SliceStable(in, func(i, j int) bool {
		if in[i].JobId != in[j].JobId {
			return in[i].JobId < in[j].JobId
		}
		return in[i].Kind < in[j].Kind
	})
	return in
}
