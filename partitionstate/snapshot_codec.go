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

package partitionstate

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dman-os/wflow/wflowtypes"
)

// UnmarshalJSON decodes the snapshot payload format's string-keyed effects
// list, splitting each "<entry_id>_<effect_index>" key back into an
// EffectId.
func (a *ActiveEffects) UnmarshalJSON(data []byte) error {
	type kv struct {
		Key   string                     `json:"key"`
		Value wflowtypes.PartitionEffect `json:"value"`
	}
	var in []kv
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	a.byId = make(map[wflowtypes.EffectId]wflowtypes.PartitionEffect, len(in))
	for _, item := range in {
		id, err := parseEffectId(item.Key)
		if err != nil {
			return fmt.Errorf("partitionstate: %w", err)
		}
		a.byId[id] = item.Value
	}
	return nil
}

func parseEffectId(key string) (wflowtypes.EffectId, error) {
	idx := strings.LastIndexByte(key, '_')
	if idx < 0 {
		return wflowtypes.EffectId{}, fmt.Errorf("malformed effect id key %q", key)
	}
	sourceEntryId, err := strconv.ParseUint(key[:idx], 10, 64)
	if err != nil {
		return wflowtypes.EffectId{}, fmt.Errorf("malformed effect id key %q: %w", key, err)
	}
	effectIndex, err := strconv.Atoi(key[idx+1:])
	if err != nil {
		return wflowtypes.EffectId{}, fmt.Errorf("malformed effect id key %q: %w", key, err)
	}
	return wflowtypes.EffectId{SourceEntryId: wflowtypes.EntryId(sourceEntryId), EffectIndex: effectIndex}, nil
}

// SnapshotPayload is the serialized shape persisted by snapstore, matching
// spec.md §6's snapshot payload format exactly.
type SnapshotPayload struct {
	Jobs    *PartitionJobsState `json:"jobs"`
	Effects *ActiveEffects      `json:"effects"`
}
