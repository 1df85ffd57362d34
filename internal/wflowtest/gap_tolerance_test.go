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

// TestGapTolerance covers S6: a crashed appender can claim an entry_id and
// die before writing its payload, leaving a hole. Tailing the log must
// surface entries 0, 1, 2, then a gap at entry_id 3, then resume at 4
// onward rather than wedging, and the partition worker reducing that same
// log must simply skip the gap.
func TestGapTolerance(t *testing.T) {
	h := New(t, map[string]nativehost.WorkflowFunc{"echo": nativehost.WorkflowFunc(EchoWorkflow)})

	filler := func(reason string) []byte {
		payload, err := wflowtypes.MarshalEntry(wflowtypes.NewJobCancelEntry(wflowtypes.JobCancelEvent{
			JobId:  wflowtypes.JobId("nonexistent"),
			Reason: reason,
		}))
		require.NoError(t, err)
		return payload
	}

	for i := 0; i < 3; i++ {
		_, err := h.Log.Append(h.ctx, filler("before-gap"))
		require.NoError(t, err)
	}

	h.InduceGap()

	for i := 0; i < 2; i++ {
		_, err := h.Log.Append(h.ctx, filler("after-gap"))
		require.NoError(t, err)
	}

	require.True(t, h.WaitUntilEntry(5*time.Second, func(rec LogEntryRecord) bool {
		return rec.Idx == 4
	}), "tail never reached entry 4 past the gap")

	log := h.LogSnapshot()
	require.Len(t, log, 6)

	for i := 0; i < 3; i++ {
		assert.False(t, log[i].Gap, "entry %d should not be a gap", i)
		assert.Equal(t, wflowtypes.EntryId(i), log[i].Idx)
	}

	assert.True(t, log[3].Gap, "entry 3 should be a gap")
	assert.Equal(t, wflowtypes.EntryId(3), log[3].Idx)

	for i := 4; i < 6; i++ {
		assert.False(t, log[i].Gap, "entry %d should not be a gap", i)
		assert.Equal(t, wflowtypes.EntryId(i), log[i].Idx)
	}

	// the worker's own reducer pass over this same log must not wedge on
	// the gap or otherwise crash the partition.
	require.True(t, h.WaitUntilNoActiveJobs(time.Second))
}
