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

// Package partitionstate holds the mutable, in-memory shape a partition's
// reducer folds log entries into: JobState, PartitionJobsState, and
// ActiveEffects. None of it performs I/O; mutation happens only inside
// reducer.Reduce (through the helpers here or directly on the exported
// maps) so state transitions stay centralized and deterministic.
package partitionstate

import (
	"encoding/json"

	"github.com/dman-os/wflow/wflowtypes"
)

// JobStepKind discriminates JobStepState's variants. Effect is presently
// the only one (a deterministic step whose result is cached across runs).
type JobStepKind string

const JobStepEffect JobStepKind = "effect"

// JobStepState is the per-step history attached to a job; step_id is the
// index into PartitionJobsState's owning JobState.Steps slice.
type JobStepState struct {
	Kind     JobStepKind                  `json:"kind"`
	Attempts []wflowtypes.JobEffectResult `json:"attempts"`
}

// JobState is a job's full materialized history, and the Journal a
// servicehost.Host consults to decide which steps to replay vs re-execute.
type JobState struct {
	InitArgsJson        string                  `json:"init_args_json"`
	Workflow            wflowtypes.WorkflowMeta `json:"workflow"`
	OverrideRetryPolicy *wflowtypes.RetryPolicy `json:"override_retry_policy,omitempty"`
	Cancelling          bool                    `json:"cancelling"`
	Runs                []wflowtypes.JobRunEvent `json:"runs"`
	Steps               []JobStepState           `json:"steps"`
}

// NewJobState materializes the initial JobState from a JobInitEvent.
func NewJobState(e wflowtypes.JobInitEvent) JobState {
	return JobState{
		InitArgsJson:        e.ArgsJson,
		Workflow:            e.Workflow,
		OverrideRetryPolicy: e.OverrideRetryPolicy,
		Cancelling:          false,
	}
}

// EffectiveRetryPolicy resolves the policy a retry decision should honor:
// the job's override if set, else the workflow-level default passed in.
func (s JobState) EffectiveRetryPolicy(workflowDefault wflowtypes.RetryPolicy) wflowtypes.RetryPolicy {
	if s.OverrideRetryPolicy != nil {
		return *s.OverrideRetryPolicy
	}
	return workflowDefault
}

// LastRunId returns the highest run id recorded so far, or 0 if the job has
// not yet produced a run.
func (s JobState) LastRunId() wflowtypes.RunId {
	if len(s.Runs) == 0 {
		return 0
	}
	return s.Runs[len(s.Runs)-1].RunId
}

// Clone returns a deep copy sufficient to let the reducer mutate a working
// copy without aliasing slices shared with a snapshot or a previous state.
func (s JobState) Clone() JobState {
	out := s
	out.Runs = append([]wflowtypes.JobRunEvent(nil), s.Runs...)
	out.Steps = make([]JobStepState, len(s.Steps))
	for i, step := range s.Steps {
		out.Steps[i] = JobStepState{Kind: step.Kind, Attempts: append([]wflowtypes.JobEffectResult(nil), step.Attempts...)}
	}
	if s.OverrideRetryPolicy != nil {
		rp := *s.OverrideRetryPolicy
		out.OverrideRetryPolicy = &rp
	}
	return out
}

// PartitionJobsState holds every job this partition knows about, split
// between jobs still receiving log entries (Active) and jobs that have
// reached a terminal outcome (Archive). Once a job moves to Archive it is
// never moved back and no further entry may mutate it.
type PartitionJobsState struct {
	Active  map[wflowtypes.JobId]JobState `json:"active"`
	Archive map[wflowtypes.JobId]JobState `json:"archive"`
}

// NewPartitionJobsState builds an empty state.
func NewPartitionJobsState() *PartitionJobsState {
	return &PartitionJobsState{
		Active:  make(map[wflowtypes.JobId]JobState),
		Archive: make(map[wflowtypes.JobId]JobState),
	}
}

// Get returns the active JobState for id, if any; archived jobs are not
// visible through Get since no further mutation should ever target them.
func (s *PartitionJobsState) Get(id wflowtypes.JobId) (JobState, bool) {
	js, ok := s.Active[id]
	return js, ok
}

// Known reports whether id is in either Active or Archive, the condition
// JobInit idempotency checks against.
func (s *PartitionJobsState) Known(id wflowtypes.JobId) bool {
	if _, ok := s.Active[id]; ok {
		return true
	}
	_, ok := s.Archive[id]
	return ok
}

// Archive_ moves id from Active to Archive. No-op if id is not active.
func (s *PartitionJobsState) Archive_(id wflowtypes.JobId) {
	js, ok := s.Active[id]
	if !ok {
		return
	}
	delete(s.Active, id)
	s.Archive[id] = js
}

// Clone returns a deep copy of the jobs state.
func (s *PartitionJobsState) Clone() *PartitionJobsState {
	out := NewPartitionJobsState()
	for id, js := range s.Active {
		out.Active[id] = js.Clone()
	}
	for id, js := range s.Archive {
		out.Archive[id] = js.Clone()
	}
	return out
}

// ActiveEffects maps every scheduled-but-not-yet-completed effect by its
// stable EffectId.
type ActiveEffects struct {
	byId map[wflowtypes.EffectId]wflowtypes.PartitionEffect
}

// NewActiveEffects builds an empty ActiveEffects.
func NewActiveEffects() *ActiveEffects {
	return &ActiveEffects{byId: make(map[wflowtypes.EffectId]wflowtypes.PartitionEffect)}
}

// Install records effect under id, overwriting any prior entry — used both
// for fresh scheduling and for re-installing on replay from a persisted
// JobPartitionEffectsEntry.
func (a *ActiveEffects) Install(id wflowtypes.EffectId, effect wflowtypes.PartitionEffect) {
	a.byId[id] = effect
}

// Retire removes id, the counterpart to Install once an outcome is observed.
func (a *ActiveEffects) Retire(id wflowtypes.EffectId) {
	delete(a.byId, id)
}

// Get looks up the effect scheduled under id.
func (a *ActiveEffects) Get(id wflowtypes.EffectId) (wflowtypes.PartitionEffect, bool) {
	e, ok := a.byId[id]
	return e, ok
}

// ActiveRunEffectIds returns every EffectId of a RunJob effect currently
// outstanding for jobID, the set JobCancel's AbortRun effects target.
func (a *ActiveEffects) ActiveRunEffectIds(jobID wflowtypes.JobId) []wflowtypes.EffectId {
	var ids []wflowtypes.EffectId
	for id, e := range a.byId {
		if e.JobId == jobID && e.Kind == wflowtypes.EffectRunJob {
			ids = append(ids, id)
		}
	}
	return ids
}

// Clone returns a deep-enough copy for the reducer's read-modify-write.
func (a *ActiveEffects) Clone() *ActiveEffects {
	out := NewActiveEffects()
	for id, e := range a.byId {
		out.byId[id] = e
	}
	return out
}

// AsMap exposes the underlying map; partition.Worker ranges over it to
// re-dispatch the active effects after startup replay.
func (a *ActiveEffects) AsMap() map[wflowtypes.EffectId]wflowtypes.PartitionEffect {
	return a.byId
}

// MarshalJSON encodes ActiveEffects as the snapshot payload format's
// string-keyed list: EffectId is a composite key, so plain map[K]V JSON
// (which requires a string-like key) can't express it directly.
func (a *ActiveEffects) MarshalJSON() ([]byte, error) {
	type kv struct {
		Key   string                        `json:"key"`
		Value wflowtypes.PartitionEffect    `json:"value"`
	}
	out := make([]kv, 0, len(a.byId))
	for id, e := range a.byId {
		out = append(out, kv{Key: id.String(), Value: e})
	}
	return json.Marshal(out)
}
