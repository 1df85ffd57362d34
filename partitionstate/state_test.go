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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dman-os/wflow/wflowtypes"
)

func TestActiveEffects_SnapshotRoundtrip(t *testing.T) {
	effects := NewActiveEffects()
	id := wflowtypes.EffectId{SourceEntryId: 7, EffectIndex: 2}
	effects.Install(id, wflowtypes.PartitionEffect{
		JobId: "job-1",
		Kind:  wflowtypes.EffectRunJob,
		RunJob: &wflowtypes.RunJobDeets{RunId: 1, ArgsJson: "{}"},
	})

	data, err := json.Marshal(effects)
	require.NoError(t, err)

	roundtripped := NewActiveEffects()
	require.NoError(t, json.Unmarshal(data, roundtripped))

	got, ok := roundtripped.Get(id)
	require.True(t, ok)
	require.Equal(t, wflowtypes.JobId("job-1"), got.JobId)
	require.Equal(t, wflowtypes.RunId(1), got.RunJob.RunId)
}

func TestPartitionJobsState_ArchiveMovesJob(t *testing.T) {
	state := NewPartitionJobsState()
	state.Active["j1"] = NewJobState(wflowtypes.JobInitEvent{JobId: "j1", ArgsJson: "{}"})

	require.True(t, state.Known("j1"))
	_, active := state.Get("j1")
	require.True(t, active)

	state.Archive_("j1")

	_, stillActive := state.Get("j1")
	require.False(t, stillActive)
	require.True(t, state.Known("j1"))
	_, archived := state.Archive["j1"]
	require.True(t, archived)
}

func TestJobState_CloneDoesNotAliasSlices(t *testing.T) {
	js := NewJobState(wflowtypes.JobInitEvent{JobId: "j1", ArgsJson: "{}"})
	js.Runs = append(js.Runs, wflowtypes.JobRunEvent{RunId: 1})

	clone := js.Clone()
	clone.Runs[0].RunId = 99

	require.Equal(t, wflowtypes.RunId(1), js.Runs[0].RunId)
	require.Equal(t, wflowtypes.RunId(99), clone.Runs[0].RunId)
}
