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

package ingress

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dman-os/wflow/kvstore"
	"github.com/dman-os/wflow/logstore"
	"github.com/dman-os/wflow/metastore"
	"github.com/dman-os/wflow/partition"
	"github.com/dman-os/wflow/pkg/config"
	pkgerrors "github.com/dman-os/wflow/pkg/errors"
	"github.com/dman-os/wflow/snapstore"
	"github.com/dman-os/wflow/wflowtypes"
)

func newTestRouter(t *testing.T, partitionCount int) (*Router, metastore.Store) {
	t.Helper()
	kv := kvstore.NewMemStore()
	meta, err := metastore.NewKVMetaStore(context.Background(), kv, "meta/", wflowtypes.PartitionsMeta{Version: 1, PartitionCount: partitionCount})
	require.NoError(t, err)

	r := NewRouter(meta)
	for i := 0; i < partitionCount; i++ {
		id := wflowtypes.PartitionId(i)
		log := logstore.NewKVLogStore(kv, fmt.Sprintf("log/%d/", id))
		snap := snapstore.NewAtomicKVSnapStore(kv, fmt.Sprintf("snap/%d/", id), 10)
		w := partition.NewWorker(id, log, snap, meta, config.PartitionConfig{SnapshotEveryNEntries: 1000, EffectQueueSize: 16})
		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, w.Start(ctx))
		select {
		case <-w.ReplayDone():
		case <-time.After(time.Second):
			cancel()
			t.Fatal("timed out waiting for replay")
		}
		r.Register(id, w, cancel)
	}
	return r, meta
}

func TestRouter_ScheduleJobUnknownWorkflowErrors(t *testing.T) {
	r, _ := newTestRouter(t, 2)
	_, err := r.ScheduleJob(context.Background(), "job-1", "ghost", `{}`, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, pkgerrors.ErrWorkflowNotFound))
}

func TestRouter_ScheduleJobRoutesAndReportsStatus(t *testing.T) {
	r, meta := newTestRouter(t, 3)
	_, _, err := meta.SetWorkflow(context.Background(), "demo", wflowtypes.WorkflowMeta{Key: "demo", Service: wflowtypes.NativeService()})
	require.NoError(t, err)

	partitionId, err := r.ScheduleJob(context.Background(), "job-1", "demo", `{"n":1}`, nil)
	require.NoError(t, err)
	require.Contains(t, r.Partitions(), partitionId)

	require.Eventually(t, func() bool {
		js, ok, err := r.JobStatus("job-1")
		return err == nil && ok && js.Workflow.Key == "demo"
	}, time.Second, 10*time.Millisecond)

	// scheduling the same job id again always resolves to the same partition.
	secondPartitionId, err := r.ScheduleJob(context.Background(), "job-1", "demo", `{"n":2}`, nil)
	require.NoError(t, err)
	require.Equal(t, partitionId, secondPartitionId)
}

func TestRouter_StopPartitionDeregisters(t *testing.T) {
	r, meta := newTestRouter(t, 1)
	_, _, err := meta.SetWorkflow(context.Background(), "demo", wflowtypes.WorkflowMeta{Key: "demo", Service: wflowtypes.NativeService()})
	require.NoError(t, err)

	require.NoError(t, r.StopPartition(0))
	require.Empty(t, r.Partitions())

	_, err = r.ScheduleJob(context.Background(), "job-1", "demo", `{}`, nil)
	require.Error(t, err)
}
