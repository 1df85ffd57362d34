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

// Package servicehost is the polymorphic boundary between an effect
// worker and the backend that actually executes a workflow's code: an
// in-process Go function (nativehost) or an out-of-process sandboxed
// runner reached over gRPC (grpchost). Grounded on the original's
// WflowServiceHost trait, generalized from one fixed ExtraArgs type
// parameter to a plain argsJson string since Go has no associated-type
// equivalent worth the complexity here.
package servicehost

import (
	"context"

	"github.com/dman-os/wflow/partitionstate"
	"github.com/dman-os/wflow/wflowtypes"
)

// RunJobCtx carries the identifying metadata a host needs to correlate a
// dispatch with the effect and run that triggered it, and to pick a
// preferred worker when the host load-balances across many.
type RunJobCtx struct {
	EffectId wflowtypes.EffectId
	RunId    wflowtypes.RunId
	WorkerId string
}

// Session is opaque host-retained state a Host may hand back from Run —
// typically a handle to a remote sandbox process kept alive across a job's
// deterministic step replays. Hosts that are stateless per-call (like
// nativehost) always return a nil Session.
type Session any

// Host is the adapter every effect worker dispatches RunJob effects
// through. ctx cancellation is how a host learns of an AbortRun effect: the
// effect worker cancels the same ctx it called Run with, and Run is
// expected to unwind and return a result (or an error, if it could not
// unwind cleanly) rather than leaving the caller blocked.
type Host interface {
	// Run dispatches one job run attempt and blocks until the host
	// produces a result. workflowKey selects which workflow's code runs;
	// journal is the job's state thus far. argsJson is the job's init
	// arguments.
	Run(
		ctx context.Context,
		rjctx RunJobCtx,
		workflowKey string,
		jobID wflowtypes.JobId,
		journal partitionstate.JobState,
		argsJson string,
	) (wflowtypes.JobRunResult, Session, error)

	// DropSession releases any host-side resources tied to session once a
	// job reaches a terminal outcome. A nil session is a no-op.
	DropSession(ctx context.Context, session Session)
}
