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

package metastore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dman-os/wflow/kvstore"
	"github.com/dman-os/wflow/wflowtypes"
)

func TestKVMetaStore_SeedsDefaultPartitionsOnce(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemStore()
	s, err := NewKVMetaStore(ctx, kv, "m:", wflowtypes.PartitionsMeta{Version: 1, PartitionCount: 4})
	require.NoError(t, err)

	got, err := s.GetPartitions(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, got.PartitionCount)

	// re-opening with a different default must not clobber what's stored.
	s2, err := NewKVMetaStore(ctx, kv, "m:", wflowtypes.PartitionsMeta{Version: 99, PartitionCount: 99})
	require.NoError(t, err)
	got2, err := s2.GetPartitions(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, got2.PartitionCount)
}

func TestKVMetaStore_WorkflowRoundtripAndPrevReturn(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemStore()
	s, err := NewKVMetaStore(ctx, kv, "m:", wflowtypes.PartitionsMeta{PartitionCount: 1})
	require.NoError(t, err)

	_, hadPrev, err := s.SetWorkflow(ctx, "echo", wflowtypes.WorkflowMeta{Key: "echo", Service: wflowtypes.NativeService()})
	require.NoError(t, err)
	require.False(t, hadPrev)

	got, ok, err := s.GetWorkflow(ctx, "echo")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "echo", got.Key)

	prev, hadPrev, err := s.SetWorkflow(ctx, "echo", wflowtypes.WorkflowMeta{Key: "echo", Service: wflowtypes.SandboxedService("wasm-1")})
	require.NoError(t, err)
	require.True(t, hadPrev)
	require.Equal(t, wflowtypes.ServiceNative, prev.Service.Kind)
}

func TestKVMetaStore_SetWorkflowRejectsReservedKey(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemStore()
	s, err := NewKVMetaStore(ctx, kv, "m:", wflowtypes.PartitionsMeta{PartitionCount: 1})
	require.NoError(t, err)

	_, _, err = s.SetWorkflow(ctx, partitionsKey, wflowtypes.WorkflowMeta{Key: partitionsKey})
	require.ErrorIs(t, err, ErrReservedKey)
}

func TestKVMetaStore_SetPartitionsOverwrites(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemStore()
	s, err := NewKVMetaStore(ctx, kv, "m:", wflowtypes.PartitionsMeta{PartitionCount: 1})
	require.NoError(t, err)

	require.NoError(t, s.SetPartitions(ctx, wflowtypes.PartitionsMeta{Version: 2, PartitionCount: 8}))
	got, err := s.GetPartitions(ctx)
	require.NoError(t, err)
	require.Equal(t, 8, got.PartitionCount)
	require.EqualValues(t, 2, got.Version)
}
