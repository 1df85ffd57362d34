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

package effectworker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dman-os/wflow/partitionstate"
	"github.com/dman-os/wflow/pkg/config"
	"github.com/dman-os/wflow/servicehost"
	"github.com/dman-os/wflow/wflowtypes"
)

type fakeHost struct {
	mu       sync.Mutex
	runs     []wflowtypes.JobId
	runFn    func(ctx context.Context, rjctx servicehost.RunJobCtx, workflowKey string, jobID wflowtypes.JobId, journal partitionstate.JobState, argsJson string) (wflowtypes.JobRunResult, servicehost.Session, error)
	dropped  []servicehost.Session
}

func (h *fakeHost) Run(ctx context.Context, rjctx servicehost.RunJobCtx, workflowKey string, jobID wflowtypes.JobId, journal partitionstate.JobState, argsJson string) (wflowtypes.JobRunResult, servicehost.Session, error) {
	h.mu.Lock()
	h.runs = append(h.runs, jobID)
	h.mu.Unlock()
	if h.runFn != nil {
		return h.runFn(ctx, rjctx, workflowKey, jobID, journal, argsJson)
	}
	return wflowtypes.JobRunResult{Kind: wflowtypes.RunResultSuccess, ValueJson: "42"}, nil, nil
}

func (h *fakeHost) DropSession(ctx context.Context, session servicehost.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropped = append(h.dropped, session)
}

func sampleJob() partitionstate.JobState {
	return partitionstate.NewJobState(wflowtypes.JobInitEvent{
		JobId:    "job-1",
		ArgsJson: `{"n":1}`,
		Workflow: wflowtypes.WorkflowMeta{Key: "demo"},
	})
}

func newTestWorker(host servicehost.Host, lookup JobLookup, appended *[]wflowtypes.EntryId) *Worker {
	var mu sync.Mutex
	appendFn := func(ctx context.Context, payload []byte) (wflowtypes.EntryId, error) {
		mu.Lock()
		defer mu.Unlock()
		id := wflowtypes.EntryId(len(*appended))
		*appended = append(*appended, id)
		return id, nil
	}
	return New("p0", host, lookup, appendFn, config.EffectWorkerConfig{Concurrency: 2})
}

func runEffect(id wflowtypes.RunId) wflowtypes.PartitionEffect {
	return wflowtypes.PartitionEffect{
		JobId: "job-1",
		Kind:  wflowtypes.EffectRunJob,
		RunJob: &wflowtypes.RunJobDeets{
			RunId:    id,
			ArgsJson: `{"n":1}`,
		},
	}
}

func TestWorker_DispatchesRunJobAndAppendsResult(t *testing.T) {
	host := &fakeHost{}
	job := sampleJob()
	lookup := func(id wflowtypes.JobId) (partitionstate.JobState, bool) { return job, id == "job-1" }
	var appended []wflowtypes.EntryId

	w := newTestWorker(host, lookup, &appended)
	in := make(chan wflowtypes.JobPartitionEffectsEntry, 1)
	in <- wflowtypes.JobPartitionEffectsEntry{SourceEntryId: 7, Effects: []wflowtypes.PartitionEffect{runEffect(1)}}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Run(ctx, in)

	require.Len(t, host.runs, 1)
	require.Equal(t, wflowtypes.JobId("job-1"), host.runs[0])
	require.Len(t, appended, 1)
}

func TestWorker_UnknownJobProducesWorkerErrWithoutCallingHost(t *testing.T) {
	host := &fakeHost{}
	lookup := func(id wflowtypes.JobId) (partitionstate.JobState, bool) { return partitionstate.JobState{}, false }
	var appended []wflowtypes.EntryId

	w := newTestWorker(host, lookup, &appended)
	in := make(chan wflowtypes.JobPartitionEffectsEntry, 1)
	in <- wflowtypes.JobPartitionEffectsEntry{SourceEntryId: 1, Effects: []wflowtypes.PartitionEffect{runEffect(1)}}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Run(ctx, in)

	require.Empty(t, host.runs)
	require.Len(t, appended, 1)
}

func TestWorker_AbortRunCancelsInFlightRunContext(t *testing.T) {
	started := make(chan struct{})
	host := &fakeHost{
		runFn: func(ctx context.Context, rjctx servicehost.RunJobCtx, workflowKey string, jobID wflowtypes.JobId, journal partitionstate.JobState, argsJson string) (wflowtypes.JobRunResult, servicehost.Session, error) {
			close(started)
			<-ctx.Done()
			return wflowtypes.JobRunResult{
				Kind:     wflowtypes.RunResultWorkerErr,
				WorkerErr: &wflowtypes.JobRunWorkerError{Kind: wflowtypes.WorkerErrOther, Msg: "aborted"},
			}, nil, nil
		},
	}
	job := sampleJob()
	lookup := func(id wflowtypes.JobId) (partitionstate.JobState, bool) { return job, true }
	var appended []wflowtypes.EntryId

	w := newTestWorker(host, lookup, &appended)
	in := make(chan wflowtypes.JobPartitionEffectsEntry, 2)
	in <- wflowtypes.JobPartitionEffectsEntry{SourceEntryId: 1, Effects: []wflowtypes.PartitionEffect{runEffect(1)}}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx, in)
		close(done)
	}()

	<-started
	in <- wflowtypes.JobPartitionEffectsEntry{
		SourceEntryId: 2,
		Effects: []wflowtypes.PartitionEffect{{
			JobId: "job-1",
			Kind:  wflowtypes.EffectAbortRun,
			Abort: &wflowtypes.AbortRunDeets{Reason: "user requested"},
		}},
	}
	close(in)
	<-done

	require.Len(t, appended, 1)
}

func TestWorker_RetryDelaysBeforeDispatchingSecondAttempt(t *testing.T) {
	host := &fakeHost{}
	job := sampleJob()
	override := wflowtypes.NewBackoffPolicy(30*time.Millisecond, time.Second, 2, 5)
	job.OverrideRetryPolicy = &override
	lookup := func(id wflowtypes.JobId) (partitionstate.JobState, bool) { return job, true }
	var appended []wflowtypes.EntryId

	w := newTestWorker(host, lookup, &appended)
	in := make(chan wflowtypes.JobPartitionEffectsEntry, 1)
	in <- wflowtypes.JobPartitionEffectsEntry{SourceEntryId: 1, Effects: []wflowtypes.PartitionEffect{runEffect(2)}}
	close(in)

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Run(ctx, in)
	elapsed := time.Since(start)

	require.Len(t, host.runs, 1)
	require.GreaterOrEqual(t, elapsed, 25*time.Millisecond)
}
