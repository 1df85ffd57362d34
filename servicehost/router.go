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
	"fmt"

	"github.com/dman-os/wflow/partitionstate"
	"github.com/dman-os/wflow/wflowtypes"
)

// Router dispatches by a job's WorkflowMeta.Service.Kind, the same
// decision the original's match on WflowServiceMeta made inline inside
// TokioEffectWorker.run_job_effect. Splitting it out as its own Host lets
// the effect worker stay oblivious to how many backends exist.
type Router struct {
	native    Host
	sandboxed Host
}

// NewRouter builds a Router. Either backend may be nil; Run reports a
// WorkerErr if the job's service kind has no backend registered.
func NewRouter(native, sandboxed Host) *Router {
	return &Router{native: native, sandboxed: sandboxed}
}

func (r *Router) backendFor(kind wflowtypes.ServiceKind) (Host, bool) {
	switch kind {
	case wflowtypes.ServiceNative:
		return r.native, r.native != nil
	case wflowtypes.ServiceSandboxed:
		return r.sandboxed, r.sandboxed != nil
	default:
		return nil, false
	}
}

func (r *Router) Run(
	ctx context.Context,
	rjctx RunJobCtx,
	workflowKey string,
	jobID wflowtypes.JobId,
	journal partitionstate.JobState,
	argsJson string,
) (wflowtypes.JobRunResult, Session, error) {
	backend, ok := r.backendFor(journal.Workflow.Service.Kind)
	if !ok {
		return wflowtypes.JobRunResult{
			Kind: wflowtypes.RunResultWorkerErr,
			WorkerErr: &wflowtypes.JobRunWorkerError{
				Kind: wflowtypes.WorkerErrWflowNotFound,
				Msg:  fmt.Sprintf("no service host registered for workflow %q's service kind %q", workflowKey, journal.Workflow.Service.Kind),
			},
		}, nil, nil
	}
	return backend.Run(ctx, rjctx, workflowKey, jobID, journal, argsJson)
}

func (r *Router) DropSession(ctx context.Context, session Session) {
	if r.native != nil {
		r.native.DropSession(ctx, session)
	}
	if r.sandboxed != nil {
		r.sandboxed.DropSession(ctx, session)
	}
}
