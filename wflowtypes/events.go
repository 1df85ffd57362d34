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

package wflowtypes

import "time"

// JobInitEvent creates a job.
type JobInitEvent struct {
	JobId                JobId        `json:"job_id"`
	Timestamp            time.Time    `json:"timestamp"`
	ArgsJson             string       `json:"args_json"`
	OverrideRetryPolicy  *RetryPolicy `json:"override_retry_policy,omitempty"`
	Workflow             WorkflowMeta `json:"workflow"`
}

// JobCancelEvent requests cancellation of an active job.
type JobCancelEvent struct {
	JobId     JobId     `json:"job_id"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// JobRunResultKind discriminates JobRunResult's variants.
type JobRunResultKind string

const (
	RunResultSuccess     JobRunResultKind = "success"
	RunResultStepEffect  JobRunResultKind = "step_effect"
	RunResultWorkerErr   JobRunResultKind = "worker_err"
	RunResultWflowErr    JobRunResultKind = "wflow_err"
)

// JobWorkerErrKind discriminates JobRunWorkerError's variants.
type JobWorkerErrKind string

const (
	WorkerErrWflowNotFound JobWorkerErrKind = "wflow_not_found"
	WorkerErrJobNotFound   JobWorkerErrKind = "job_not_found"
	WorkerErrOther         JobWorkerErrKind = "other"
)

// JobRunWorkerError is a host-internal failure, distinct from a workflow
// error: the host itself could not complete the call.
type JobRunWorkerError struct {
	Kind JobWorkerErrKind `json:"kind"`
	Msg  string           `json:"msg,omitempty"`
}

// JobErrorKind discriminates JobError's variants.
type JobErrorKind string

const (
	JobErrTransient JobErrorKind = "transient"
	JobErrTerminal  JobErrorKind = "terminal"
)

// JobError is a workflow-reported failure. Transient carries an optional
// RetryPolicy override for this failure only; Terminal archives the job.
type JobError struct {
	Kind         JobErrorKind `json:"kind"`
	ErrorJson    string       `json:"error_json"`
	RetryPolicy  *RetryPolicy `json:"retry_policy,omitempty"`
}

// JobEffectResultDeetsKind discriminates JobEffectResult's inner result.
type JobEffectResultDeetsKind string

const (
	EffectResultSuccess JobEffectResultDeetsKind = "success"
	EffectResultErr     JobEffectResultDeetsKind = "effect_err"
)

// JobEffectResult records the outcome of one deterministic step within a
// run; it does not retire the run's RunJob effect (the run keeps going).
type JobEffectResult struct {
	StepId    uint64                   `json:"step_id"`
	AttemptId uint64                   `json:"attempt_id"`
	StartAt   time.Time                `json:"start_at"`
	EndAt     time.Time                `json:"end_at"`
	Kind      JobEffectResultDeetsKind `json:"kind"`
	Value     []byte                   `json:"value,omitempty"`
	Err       *JobError                `json:"err,omitempty"`
}

// JobRunResult is the tagged outcome of a single run attempt.
type JobRunResult struct {
	Kind        JobRunResultKind   `json:"kind"`
	ValueJson   string             `json:"value_json,omitempty"`
	StepEffect  *JobEffectResult   `json:"step_effect,omitempty"`
	WorkerErr   *JobRunWorkerError `json:"worker_err,omitempty"`
	WflowErr    *JobError          `json:"wflow_err,omitempty"`
}

// IsTerminal reports whether this result ends the run permanently
// (success or a terminal workflow error) rather than leaving it retryable
// or still in progress.
func (r JobRunResult) IsTerminal() bool {
	switch r.Kind {
	case RunResultSuccess:
		return true
	case RunResultWflowErr:
		return r.WflowErr != nil && r.WflowErr.Kind == JobErrTerminal
	default:
		return false
	}
}

// RetiresEffect reports whether this result retires the ActiveEffects entry
// for the run (StepEffect never does — the run is still outstanding).
func (r JobRunResult) RetiresEffect() bool {
	return r.Kind != RunResultStepEffect
}

// JobRunEvent records the outcome of a run attempt.
type JobRunEvent struct {
	JobId     JobId        `json:"job_id"`
	Timestamp time.Time    `json:"timestamp"`
	EffectId  EffectId     `json:"effect_id"`
	RunId     RunId        `json:"run_id"`
	StartAt   time.Time    `json:"start_at"`
	EndAt     time.Time    `json:"end_at"`
	Result    JobRunResult `json:"result"`
}

// JobEventKind discriminates JobEvent's two shapes.
type JobEventKind string

const (
	JobEventInit JobEventKind = "init"
	JobEventRun  JobEventKind = "run"
)

// JobEvent is one of the two event shapes a PartitionLogEntry's
// JobEvent variant wraps.
type JobEvent struct {
	Kind JobEventKind  `json:"kind"`
	Init *JobInitEvent `json:"init,omitempty"`
	Run  *JobRunEvent  `json:"run,omitempty"`
}
