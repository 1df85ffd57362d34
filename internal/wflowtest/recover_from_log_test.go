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

package wflowtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dman-os/wflow/servicehost/nativehost"
	"github.com/dman-os/wflow/wflowtypes"
)

// TestRecoverFromLogOnly covers S3: run the fails-once scenario (S2) to
// completion, then drop all in-memory state and snapshots and boot a fresh
// partition against nothing but the first run's log. The second partition
// must land on the same final state and must not append any duplicate
// JobPartitionEffects receipt while replaying.
func TestRecoverFromLogOnly(t *testing.T) {
	store := NewFlagStore()
	h1 := New(t, map[string]nativehost.WorkflowFunc{"fails_once": FailsOnceWorkflow(store)})

	const jobID = wflowtypes.JobId("j1")
	h1.ScheduleJob(jobID, "fails_once", `{"key":"j1"}`)
	require.True(t, h1.WaitUntilNoActiveJobs(5*time.Second), "job never archived in first run")

	wantState, archived := h1.JobStatus(jobID)
	require.True(t, archived)
	wantLog := h1.LogSnapshot()
	h1.Stop()

	// Fresh store for the second partition's metastore/snapshots; only the
	// log is carried over. A second FlagStore is irrelevant here since the
	// workflow is never re-run, only replayed from its recorded outcomes.
	h2 := New(t, map[string]nativehost.WorkflowFunc{"fails_once": FailsOnceWorkflow(NewFlagStore())}, WithLog(h1.Log))

	gotState, archived2 := h2.JobStatus(jobID)
	require.True(t, archived2, "job should already be archived purely from replay")
	assert.Equal(t, wantState.Runs, gotState.Runs)

	gotLog := h2.LogSnapshot()
	require.Equal(t, len(wantLog), len(gotLog), "replay must not append any new entries")
	for i := range wantLog {
		assert.Equal(t, wantLog[i].Gap, gotLog[i].Gap, "entry %d gap mismatch", i)
		assert.Equal(t, wantLog[i].Entry, gotLog[i].Entry, "entry %d mismatch", i)
	}

	var receiptsForEntryZero int
	for _, rec := range gotLog {
		if !rec.Gap && rec.Entry.Kind == wflowtypes.EntryJobPartitionEffects && rec.Entry.PartitionEffects.SourceEntryId == 0 {
			receiptsForEntryZero++
		}
	}
	assert.Equal(t, 1, receiptsForEntryZero, "replay must not duplicate the JobInit receipt")
}
