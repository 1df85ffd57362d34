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

package httpapi

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/require"

	"github.com/dman-os/wflow/ingress"
	"github.com/dman-os/wflow/kvstore"
	"github.com/dman-os/wflow/logstore"
	"github.com/dman-os/wflow/metastore"
	"github.com/dman-os/wflow/partition"
	"github.com/dman-os/wflow/pkg/config"
	"github.com/dman-os/wflow/snapstore"
	"github.com/dman-os/wflow/wflowtypes"
)

func buildTestServer(t *testing.T) (*server.Hertz, metastore.Store) {
	t.Helper()
	kv := kvstore.NewMemStore()
	meta, err := metastore.NewKVMetaStore(context.Background(), kv, "meta/", wflowtypes.PartitionsMeta{Version: 1, PartitionCount: 1})
	require.NoError(t, err)

	log := logstore.NewKVLogStore(kv, "log/")
	snap := snapstore.NewAtomicKVSnapStore(kv, "snap/", 10)
	w := partition.NewWorker(0, log, snap, meta, config.PartitionConfig{SnapshotEveryNEntries: 1000, EffectQueueSize: 16})
	require.NoError(t, w.Start(context.Background()))
	select {
	case <-w.ReplayDone():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for replay")
	}

	router := ingress.NewRouter(meta)
	_, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	router.Register(0, w, cancel)

	handler := NewHandler(router)
	httpRouter := NewRouter(handler)
	return httpRouter.Build(":0"), meta
}

func TestRouter_HealthCheck(t *testing.T) {
	s, _ := buildTestServer(t)
	w := ut.PerformRequest(s.Engine, "GET", "/api/health", nil)
	require.Equal(t, 200, w.Result().StatusCode())
}

func TestRouter_ScheduleJobUnknownWorkflowReturns404(t *testing.T) {
	s, _ := buildTestServer(t)
	body := []byte(`{"job_id":"job-1","workflow_key":"ghost"}`)
	w := ut.PerformRequest(s.Engine, "POST", "/api/jobs", &ut.Body{Body: bytes.NewReader(body), Len: len(body)})
	require.Equal(t, 404, w.Result().StatusCode())
}

func TestRouter_ScheduleJobAndFetchStatus(t *testing.T) {
	s, meta := buildTestServer(t)
	_, _, err := meta.SetWorkflow(context.Background(), "demo", wflowtypes.WorkflowMeta{Key: "demo", Service: wflowtypes.NativeService()})
	require.NoError(t, err)

	body := []byte(`{"job_id":"job-1","workflow_key":"demo","args_json":"{}"}`)
	w := ut.PerformRequest(s.Engine, "POST", "/api/jobs", &ut.Body{Body: bytes.NewReader(body), Len: len(body)})
	require.Equal(t, 202, w.Result().StatusCode())

	require.Eventually(t, func() bool {
		w := ut.PerformRequest(s.Engine, "GET", "/api/jobs/job-1", nil)
		return w.Result().StatusCode() == 200
	}, time.Second, 10*time.Millisecond)
}

func TestRouter_RegisterWorkflowWithoutJWTIsOpen(t *testing.T) {
	s, _ := buildTestServer(t)
	body := []byte(`{"service":{"kind":"native"}}`)
	w := ut.PerformRequest(s.Engine, "POST", "/api/workflows/demo", &ut.Body{Body: bytes.NewReader(body), Len: len(body)})
	require.Equal(t, 200, w.Result().StatusCode())
}

func TestRouter_StopPartitionInvalidIdReturns400(t *testing.T) {
	s, _ := buildTestServer(t)
	w := ut.PerformRequest(s.Engine, "POST", "/api/admin/partitions/not-a-number/stop", &ut.Body{Body: bytes.NewReader(nil), Len: 0})
	require.Equal(t, 400, w.Result().StatusCode())
}
