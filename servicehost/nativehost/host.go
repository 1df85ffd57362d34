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

// Package nativehost dispatches RunJob effects to in-process Go functions
// registered by workflow key — the direct analogue of the original's
// LocalNativeHost, generalized from a no-op stub into a working registry.
package nativehost

import (
	"context"
	"fmt"
	"sync"

	"github.com/dman-os/wflow/partitionstate"
	"github.com/dman-os/wflow/pkg/errors"
	"github.com/dman-os/wflow/servicehost"
	"github.com/dman-os/wflow/wflowtypes"
)

// WorkflowFunc is a native workflow implementation. It observes ctx for
// cancellation (the host's abort signal) and returns the job's run result
// directly; the host wraps a panic into a WorkerErr so a buggy workflow
// function can't take down the effect worker goroutine. What the function
// returns after ctx cancellation is passed through unchanged.
type WorkflowFunc func(ctx context.Context, jobID wflowtypes.JobId, journal partitionstate.JobState, argsJson string) (wflowtypes.JobRunResult, error)

// Host is a servicehost.Host backed by a registry of WorkflowFuncs.
type Host struct {
	mu        sync.RWMutex
	workflows map[string]WorkflowFunc
}

// New builds an empty registry. Workflows are added with Register before
// any job referencing them is scheduled.
func New() *Host {
	return &Host{workflows: make(map[string]WorkflowFunc)}
}

// Register binds key to fn, overwriting any prior registration.
func (h *Host) Register(key string, fn WorkflowFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.workflows[key] = fn
}

func (h *Host) lookup(key string) (WorkflowFunc, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.workflows[key]
	return fn, ok
}

// Run executes the registered function for workflowKey synchronously,
// recovering a panic into a WorkerErr result rather than propagating it.
func (h *Host) Run(
	ctx context.Context,
	rjctx servicehost.RunJobCtx,
	workflowKey string,
	jobID wflowtypes.JobId,
	journal partitionstate.JobState,
	argsJson string,
) (result wflowtypes.JobRunResult, session servicehost.Session, err error) {
	fn, ok := h.lookup(workflowKey)
	if !ok {
		return wflowtypes.JobRunResult{
			Kind: wflowtypes.RunResultWorkerErr,
			WorkerErr: &wflowtypes.JobRunWorkerError{
				Kind: wflowtypes.WorkerErrWflowNotFound,
				Msg:  fmt.Sprintf("no native workflow registered under key %q", workflowKey),
			},
		}, nil, nil
	}

	defer func() {
		if r := recover(); r != nil {
			result = wflowtypes.JobRunResult{
				Kind: wflowtypes.RunResultWorkerErr,
				WorkerErr: &wflowtypes.JobRunWorkerError{
					Kind: wflowtypes.WorkerErrOther,
					Msg:  fmt.Sprintf("workflow %q panicked: %v", workflowKey, r),
				},
			}
			err = nil
		}
	}()

	res, runErr := fn(ctx, jobID, journal, argsJson)
	if runErr != nil {
		return wflowtypes.JobRunResult{}, nil, errors.Wrapf(runErr, "nativehost: running workflow %q", workflowKey)
	}
	return res, nil, nil
}

// DropSession is a no-op: nativehost never hands out a non-nil Session.
func (h *Host) DropSession(ctx context.Context, session servicehost.Session) {}
