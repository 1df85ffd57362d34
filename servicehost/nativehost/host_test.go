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

package nativehost

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dman-os/wflow/partitionstate"
	"github.com/dman-os/wflow/servicehost"
	"github.com/dman-os/wflow/wflowtypes"
)

func TestHost_RunDispatchesToRegisteredFunc(t *testing.T) {
	h := New()
	h.Register("echo", func(ctx context.Context, jobID wflowtypes.JobId, journal partitionstate.JobState, argsJson string) (wflowtypes.JobRunResult, error) {
		return wflowtypes.JobRunResult{Kind: wflowtypes.RunResultSuccess, ValueJson: argsJson}, nil
	})

	result, session, err := h.Run(context.Background(), servicehost.RunJobCtx{}, "echo", "j1", partitionstate.JobState{}, `{"x":1}`)
	require.NoError(t, err)
	require.Nil(t, session)
	require.Equal(t, wflowtypes.RunResultSuccess, result.Kind)
	require.Equal(t, `{"x":1}`, result.ValueJson)
}

func TestHost_RunUnknownWorkflowReturnsWflowNotFound(t *testing.T) {
	h := New()
	result, _, err := h.Run(context.Background(), servicehost.RunJobCtx{}, "missing", "j1", partitionstate.JobState{}, "{}")
	require.NoError(t, err)
	require.Equal(t, wflowtypes.RunResultWorkerErr, result.Kind)
	require.Equal(t, wflowtypes.WorkerErrWflowNotFound, result.WorkerErr.Kind)
}

func TestHost_RunRecoversPanicIntoWorkerErr(t *testing.T) {
	h := New()
	h.Register("boom", func(ctx context.Context, jobID wflowtypes.JobId, journal partitionstate.JobState, argsJson string) (wflowtypes.JobRunResult, error) {
		panic("kaboom")
	})

	result, _, err := h.Run(context.Background(), servicehost.RunJobCtx{}, "boom", "j1", partitionstate.JobState{}, "{}")
	require.NoError(t, err)
	require.Equal(t, wflowtypes.RunResultWorkerErr, result.Kind)
	require.Equal(t, wflowtypes.WorkerErrOther, result.WorkerErr.Kind)
	require.Contains(t, result.WorkerErr.Msg, "kaboom")
}
