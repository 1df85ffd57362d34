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

package snapstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dman-os/wflow/kvstore"
	"github.com/dman-os/wflow/partitionstate"
	"github.com/dman-os/wflow/wflowtypes"
)

func samplePayload(jobId wflowtypes.JobId) partitionstate.SnapshotPayload {
	jobs := partitionstate.NewPartitionJobsState()
	jobs.Active[jobId] = partitionstate.NewJobState(wflowtypes.JobInitEvent{JobId: jobId, ArgsJson: "{}"})
	return partitionstate.SnapshotPayload{Jobs: jobs, Effects: partitionstate.NewActiveEffects()}
}

func TestAtomicKVSnapStore_SaveThenLoadRoundtrips(t *testing.T) {
	ctx := context.Background()
	store := NewAtomicKVSnapStore(kvstore.NewMemStore(), "s:", 0)

	require.NoError(t, store.SaveSnapshot(ctx, 1, 10, samplePayload("j1")))

	entryId, payload, ok, err := store.LoadLatestSnapshot(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 10, entryId)
	_, active := payload.Jobs.Get("j1")
	require.True(t, active)
}

func TestAtomicKVSnapStore_LoadAbsentReturnsNotOk(t *testing.T) {
	ctx := context.Background()
	store := NewAtomicKVSnapStore(kvstore.NewMemStore(), "s:", 0)

	_, _, ok, err := store.LoadLatestSnapshot(ctx, 42)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAtomicKVSnapStore_MonotoneRejectsOlderEntryId(t *testing.T) {
	ctx := context.Background()
	store := NewAtomicKVSnapStore(kvstore.NewMemStore(), "s:", 0)

	require.NoError(t, store.SaveSnapshot(ctx, 1, 10, samplePayload("j1")))
	require.NoError(t, store.SaveSnapshot(ctx, 1, 5, samplePayload("j2")))

	entryId, payload, ok, err := store.LoadLatestSnapshot(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 10, entryId)
	_, hasOld := payload.Jobs.Get("j1")
	require.True(t, hasOld, "the newer-entry_id snapshot must not have been overwritten")
}

func TestAtomicKVSnapStore_PartitionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := NewAtomicKVSnapStore(kvstore.NewMemStore(), "s:", 0)

	require.NoError(t, store.SaveSnapshot(ctx, 1, 10, samplePayload("j1")))
	require.NoError(t, store.SaveSnapshot(ctx, 2, 3, samplePayload("j2")))

	e1, _, ok, err := store.LoadLatestSnapshot(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 10, e1)

	e2, _, ok, err := store.LoadLatestSnapshot(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 3, e2)
}
