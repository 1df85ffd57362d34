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

package wflowtypes

// ServiceKind discriminates the backing host for a workflow's WorkflowMeta.
type ServiceKind string

const (
	ServiceNative    ServiceKind = "native"
	ServiceSandboxed ServiceKind = "sandboxed"
)

// WorkflowService is a tagged variant identifying the backing host.
// Kind == ServiceSandboxed carries WorkloadId; Kind == ServiceNative ignores it.
type WorkflowService struct {
	Kind       ServiceKind `json:"kind"`
	WorkloadId string      `json:"workload_id,omitempty"`
}

// NativeService builds a WorkflowService dispatched by nativehost.Host.
func NativeService() WorkflowService {
	return WorkflowService{Kind: ServiceNative}
}

// SandboxedService builds a WorkflowService dispatched by grpchost.Host.
func SandboxedService(workloadId string) WorkflowService {
	return WorkflowService{Kind: ServiceSandboxed, WorkloadId: workloadId}
}

// WorkflowMeta registers a workflow definition by key.
type WorkflowMeta struct {
	Key     string          `json:"key"`
	Service WorkflowService `json:"service"`
}

// PartitionsMeta records the partition layout; Version bumps on any change
// so callers relying on a cached copy can detect staleness.
type PartitionsMeta struct {
	Version        int64 `json:"version"`
	PartitionCount int   `json:"partition_count"`
}
