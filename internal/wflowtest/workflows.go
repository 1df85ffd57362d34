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

package wflowtest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dman-os/wflow/partitionstate"
	"github.com/dman-os/wflow/servicehost/nativehost"
	"github.com/dman-os/wflow/wflowtypes"
)

// keyedArgs is the shape every test workflow's args_json shares: a "key"
// naming a slot in a FlagStore, the Go stand-in for the original's wasmtime
// keyvalue plugin (test_wflows workloads read/write a named counter or flag
// to decide their own outcome across retries and restarts).
type keyedArgs struct {
	Key string `json:"key"`
}

// FlagStore is shared, process-lifetime state a test workflow consults to
// decide whether to fail. Each test builds its own FlagStore for its
// workflows; recover-from-log gives its second Harness a fresh one, so only
// the log carries over from the first run.
type FlagStore struct {
	mu      sync.Mutex
	counts  map[string]int
	flags   map[string]bool
}

// NewFlagStore builds an empty FlagStore.
func NewFlagStore() *FlagStore {
	return &FlagStore{counts: make(map[string]int), flags: make(map[string]bool)}
}

// Increment bumps key's counter and returns the new value.
func (s *FlagStore) Increment(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key]++
	return s.counts[key]
}

// SetFlag marks key as set.
func (s *FlagStore) SetFlag(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[key] = true
}

// Flag reports whether key has been set.
func (s *FlagStore) Flag(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[key]
}

func transientErr(msg string) wflowtypes.JobRunResult {
	return wflowtypes.JobRunResult{
		Kind: wflowtypes.RunResultWflowErr,
		WflowErr: &wflowtypes.JobError{
			Kind:      wflowtypes.JobErrTransient,
			ErrorJson: msg,
		},
	}
}

func terminalErr(msg string) wflowtypes.JobRunResult {
	return wflowtypes.JobRunResult{
		Kind: wflowtypes.RunResultWflowErr,
		WflowErr: &wflowtypes.JobError{
			Kind:      wflowtypes.JobErrTerminal,
			ErrorJson: msg,
		},
	}
}

func success(valueJson string) wflowtypes.JobRunResult {
	return wflowtypes.JobRunResult{Kind: wflowtypes.RunResultSuccess, ValueJson: valueJson}
}

// EchoWorkflow succeeds immediately, echoing its args back as the result —
// S1's happy-path workflow.
func EchoWorkflow(_ context.Context, _ wflowtypes.JobId, _ partitionstate.JobState, argsJson string) (wflowtypes.JobRunResult, error) {
	return success(argsJson), nil
}

// FailsOnceWorkflow fails transiently on a job's first run and succeeds on
// every run after — S2's transient-then-success workflow, grounded on the
// original's "fails_once" test workload.
func FailsOnceWorkflow(store *FlagStore) nativehost.WorkflowFunc {
	return func(_ context.Context, _ wflowtypes.JobId, _ partitionstate.JobState, argsJson string) (wflowtypes.JobRunResult, error) {
		var args keyedArgs
		if err := json.Unmarshal([]byte(argsJson), &args); err != nil {
			return wflowtypes.JobRunResult{}, err
		}
		if store.Increment(args.Key) == 1 {
			return transientErr("failing once as instructed"), nil
		}
		return success(argsJson), nil
	}
}

// failsUntilToldBlockFor is how long FailsUntilToldWorkflow waits before
// reporting a transient failure, giving an AbortRun effect issued mid-run a
// real window to land — without a block, the run would complete before the
// cancel command could ever reach an in-flight effect.
const failsUntilToldBlockFor = 150 * time.Millisecond

// FailsUntilToldWorkflow fails transiently on every run until store's flag
// for the job's key is set, then succeeds. It honors ctx cancellation (an
// AbortRun effect) by reporting a terminal error rather than unwinding
// silently — S4's cancel-a-retrying-job workflow, grounded on the
// original's "fails_until_told" test workload.
func FailsUntilToldWorkflow(store *FlagStore) nativehost.WorkflowFunc {
	return func(ctx context.Context, _ wflowtypes.JobId, _ partitionstate.JobState, argsJson string) (wflowtypes.JobRunResult, error) {
		var args keyedArgs
		if err := json.Unmarshal([]byte(argsJson), &args); err != nil {
			return wflowtypes.JobRunResult{}, err
		}
		if store.Flag(args.Key) {
			return success(argsJson), nil
		}
		select {
		case <-ctx.Done():
			return terminalErr("aborted"), nil
		case <-time.After(failsUntilToldBlockFor):
			return transientErr("waiting for flag to be set"), nil
		}
	}
}
