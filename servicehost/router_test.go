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

package servicehost

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dman-os/wflow/partitionstate"
	"github.com/dman-os/wflow/wflowtypes"
)

type stubHost struct {
	name   string
	called bool
}

func (h *stubHost) Run(ctx context.Context, rjctx RunJobCtx, workflowKey string, jobID wflowtypes.JobId, journal partitionstate.JobState, argsJson string) (wflowtypes.JobRunResult, Session, error) {
	h.called = true
	return wflowtypes.JobRunResult{Kind: wflowtypes.RunResultSuccess, ValueJson: h.name}, nil, nil
}

func (h *stubHost) DropSession(ctx context.Context, session Session) {}

func TestRouter_DispatchesByServiceKind(t *testing.T) {
	native := &stubHost{name: "native"}
	sandboxed := &stubHost{name: "sandboxed"}
	router := NewRouter(native, sandboxed)

	journal := partitionstate.JobState{Workflow: wflowtypes.WorkflowMeta{Key: "demo", Service: wflowtypes.NativeService()}}
	result, _, err := router.Run(context.Background(), RunJobCtx{}, "demo", "job-1", journal, "{}")
	require.NoError(t, err)
	require.Equal(t, "native", result.ValueJson)
	require.True(t, native.called)
	require.False(t, sandboxed.called)
}

func TestRouter_MissingBackendReturnsWorkerErr(t *testing.T) {
	router := NewRouter(nil, nil)
	journal := partitionstate.JobState{Workflow: wflowtypes.WorkflowMeta{Key: "demo", Service: wflowtypes.SandboxedService("wl-1")}}
	result, _, err := router.Run(context.Background(), RunJobCtx{}, "demo", "job-1", journal, "{}")
	require.NoError(t, err)
	require.Equal(t, wflowtypes.RunResultWorkerErr, result.Kind)
	require.Equal(t, wflowtypes.WorkerErrWflowNotFound, result.WorkerErr.Kind)
}
