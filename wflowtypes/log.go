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

import (
	"encoding/json"
	"fmt"
)

// LogEntryKind discriminates PartitionLogEntry's four variants, the
// self-describing tagged record vocabulary of the canonical log payload
// format.
type LogEntryKind string

const (
	EntryJobInit            LogEntryKind = "job_init"
	EntryJobEffectResult    LogEntryKind = "job_effect_result"
	EntryJobCancel          LogEntryKind = "job_cancel"
	EntryJobPartitionEffects LogEntryKind = "job_partition_effects"
)

// PartitionLogEntry is the sole payload type ever appended to a
// partition's log. Exactly one of the pointer fields matching Kind is set.
type PartitionLogEntry struct {
	Kind             LogEntryKind              `json:"kind"`
	JobInit          *JobInitEvent             `json:"job_init,omitempty"`
	JobEffectResult  *JobRunEvent              `json:"job_effect_result,omitempty"`
	JobCancel        *JobCancelEvent           `json:"job_cancel,omitempty"`
	PartitionEffects *JobPartitionEffectsEntry `json:"job_partition_effects,omitempty"`
}

// NewJobInitEntry wraps e as a PartitionLogEntry.
func NewJobInitEntry(e JobInitEvent) PartitionLogEntry {
	return PartitionLogEntry{Kind: EntryJobInit, JobInit: &e}
}

// NewJobEffectResultEntry wraps e as a PartitionLogEntry.
func NewJobEffectResultEntry(e JobRunEvent) PartitionLogEntry {
	return PartitionLogEntry{Kind: EntryJobEffectResult, JobEffectResult: &e}
}

// NewJobCancelEntry wraps e as a PartitionLogEntry.
func NewJobCancelEntry(e JobCancelEvent) PartitionLogEntry {
	return PartitionLogEntry{Kind: EntryJobCancel, JobCancel: &e}
}

// NewJobPartitionEffectsEntry wraps e as a PartitionLogEntry.
func NewJobPartitionEffectsEntry(e JobPartitionEffectsEntry) PartitionLogEntry {
	return PartitionLogEntry{Kind: EntryJobPartitionEffects, PartitionEffects: &e}
}

// MarshalEntry is the canonical encode path for appending to the log.
func MarshalEntry(e PartitionLogEntry) ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEntry is the canonical decode path for entries read back from
// the log. Implementations must accept prior wire-format versions for
// replay; today there is only one version.
func UnmarshalEntry(data []byte) (PartitionLogEntry, error) {
	var e PartitionLogEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return PartitionLogEntry{}, fmt.Errorf("wflowtypes: unmarshal log entry: %w", err)
	}
	return e, nil
}
