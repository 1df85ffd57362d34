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

package grpchost

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dman-os/wflow/wflowtypes"
)

func TestDecodeReply_Success(t *testing.T) {
	reply, err := structpb.NewStruct(map[string]any{
		"kind":       "success",
		"value_json": `{"ok":true}`,
	})
	require.NoError(t, err)

	result, session, err := decodeReply(reply)
	require.NoError(t, err)
	require.Nil(t, session)
	require.Equal(t, wflowtypes.RunResultSuccess, result.Kind)
	require.Equal(t, `{"ok":true}`, result.ValueJson)
}

func TestDecodeReply_WorkerErrWithSession(t *testing.T) {
	reply, err := structpb.NewStruct(map[string]any{
		"kind":            "worker_err",
		"worker_err_kind": "other",
		"msg":             "sandbox crashed",
		"session_id":      "sess-1",
	})
	require.NoError(t, err)

	result, session, err := decodeReply(reply)
	require.NoError(t, err)
	require.Equal(t, "sess-1", session)
	require.Equal(t, wflowtypes.RunResultWorkerErr, result.Kind)
	require.Equal(t, wflowtypes.WorkerErrOther, result.WorkerErr.Kind)
}

func TestDecodeReply_MissingKindErrors(t *testing.T) {
	_, _, err := decodeReply(&structpb.Struct{})
	require.Error(t, err)
}

func TestDecodeReply_UnrecognizedKindErrors(t *testing.T) {
	reply, err := structpb.NewStruct(map[string]any{"kind": "what"})
	require.NoError(t, err)
	_, _, err = decodeReply(reply)
	require.Error(t, err)
}
