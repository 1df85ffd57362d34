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

// PartitionEffectKind discriminates PartitionEffect's two variants.
type PartitionEffectKind string

const (
	EffectRunJob   PartitionEffectKind = "run_job"
	EffectAbortRun PartitionEffectKind = "abort_run"
)

// RunJobDeets parameterizes an EffectRunJob PartitionEffect.
type RunJobDeets struct {
	RunId             RunId  `json:"run_id"`
	ArgsJson          string `json:"args_json"`
	PreferredWorkerId string `json:"preferred_worker_id,omitempty"`
}

// AbortRunDeets parameterizes an EffectAbortRun PartitionEffect.
type AbortRunDeets struct {
	Reason string `json:"reason"`
}

// PartitionEffect is an externally-visible action emitted by the reducer
// and handed to the effect worker over its command channel.
type PartitionEffect struct {
	JobId   JobId               `json:"job_id"`
	Kind    PartitionEffectKind `json:"kind"`
	RunJob  *RunJobDeets        `json:"run_job,omitempty"`
	Abort   *AbortRunDeets      `json:"abort,omitempty"`
}

// JobPartitionEffectsEntry is the reducer's own persisted receipt for the
// effects it emitted while reducing SourceEntryId: on replay it lets the
// worker distinguish "already scheduled" from "needs to be scheduled again".
type JobPartitionEffectsEntry struct {
	SourceEntryId EntryId           `json:"source_entry_id"`
	Effects       []PartitionEffect `json:"effects"`
}
