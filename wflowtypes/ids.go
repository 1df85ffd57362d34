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

// Package wflowtypes is the engine's wire-level data model: the types every
// other package (reducer, partitionstate, logstore, snapstore, ...)
// exchanges. Nothing here performs I/O; JSON via encoding/json is the
// canonical textual encoding (struct field order pins key order on
// encode/decode across this module).
package wflowtypes

import "fmt"

// PartitionId names a partition; opaque 64-bit value.
type PartitionId int64

// JobId identifies a job; stable across retries.
type JobId string

// EntryId is a monotonically increasing id assigned by the log on append.
type EntryId uint64

// RunId is a per-job counter incremented on each run attempt, starting at 1.
type RunId uint64

// EffectId names an effect scheduled by reducing a specific log entry: a
// pair (source entry id, effect index within that entry).
type EffectId struct {
	SourceEntryId EntryId `json:"source_entry_id"`
	EffectIndex   int     `json:"effect_index"`
}

func (e EffectId) String() string {
	return fmt.Sprintf("%d_%d", e.SourceEntryId, e.EffectIndex)
}
