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
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dman-os/wflow/partitionstate"
	"github.com/dman-os/wflow/servicehost"
	"github.com/dman-os/wflow/wflowtypes"
)

func marshalJournal(journal partitionstate.JobState) (string, error) {
	raw, err := json.Marshal(journal)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// decodeReply interprets the structpb.Struct a sandboxed runner sends back:
// a "kind" discriminant field plus kind-specific fields, mirroring
// wflowtypes.JobRunResult's own JSON shape so the wire contract and the
// engine's internal result type stay in lockstep.
func decodeReply(reply *structpb.Struct) (wflowtypes.JobRunResult, servicehost.Session, error) {
	fields := reply.GetFields()
	if fields["kind"] == nil {
		return wflowtypes.JobRunResult{}, nil, fmt.Errorf("reply missing \"kind\" field")
	}
	kind := fields["kind"].GetStringValue()

	var session servicehost.Session
	if sid := fields["session_id"].GetStringValue(); sid != "" {
		session = sid
	}

	switch kind {
	case string(wflowtypes.RunResultSuccess):
		return wflowtypes.JobRunResult{
			Kind:      wflowtypes.RunResultSuccess,
			ValueJson: fields["value_json"].GetStringValue(),
		}, session, nil

	case string(wflowtypes.RunResultStepEffect):
		return wflowtypes.JobRunResult{
			Kind: wflowtypes.RunResultStepEffect,
			StepEffect: &wflowtypes.JobEffectResult{
				StepId: uint64(fields["step_id"].GetNumberValue()),
				Kind:   wflowtypes.JobEffectResultDeetsKind(fields["effect_kind"].GetStringValue()),
				Value:  []byte(fields["value_json"].GetStringValue()),
			},
		}, session, nil

	case string(wflowtypes.RunResultWorkerErr):
		return wflowtypes.JobRunResult{
			Kind: wflowtypes.RunResultWorkerErr,
			WorkerErr: &wflowtypes.JobRunWorkerError{
				Kind: wflowtypes.JobWorkerErrKind(fields["worker_err_kind"].GetStringValue()),
				Msg:  fields["msg"].GetStringValue(),
			},
		}, session, nil

	case string(wflowtypes.RunResultWflowErr):
		return wflowtypes.JobRunResult{
			Kind: wflowtypes.RunResultWflowErr,
			WflowErr: &wflowtypes.JobError{
				Kind:      wflowtypes.JobErrorKind(fields["error_kind"].GetStringValue()),
				ErrorJson: fields["error_json"].GetStringValue(),
			},
		}, session, nil

	default:
		return wflowtypes.JobRunResult{}, nil, fmt.Errorf("unrecognized reply kind %q", kind)
	}
}
