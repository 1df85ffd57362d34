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

// Package httpapi is a thin Hertz front door over ingress.Router: it binds
// HTTP verbs 1:1 to the command API, all under /api (POST /jobs, POST /jobs/{id}/cancel,
// GET /jobs/{id}, POST /workflows/{key}, POST /admin/partitions/{id}/stop).
// No protocol design happens here — framing stays out of scope per spec.md's
// Non-goals, same as the teacher's handler.go stays a thin dispatch layer
// over its Engine/DocumentService.
package httpapi

import (
	"context"
	"errors"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/dman-os/wflow/ingress"
	pkgerrors "github.com/dman-os/wflow/pkg/errors"
	"github.com/dman-os/wflow/wflowtypes"
)

// Handler adapts ingress.Router to Hertz request/response handling.
type Handler struct {
	router *ingress.Router
}

// NewHandler builds a Handler over a wired-up ingress.Router.
func NewHandler(router *ingress.Router) *Handler {
	return &Handler{router: router}
}

func (h *Handler) HealthCheck(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, map[string]interface{}{
		"status":     "ok",
		"partitions": len(h.router.Partitions()),
	})
}

// scheduleJobRequest is the POST /jobs request body.
type scheduleJobRequest struct {
	JobId       string                `json:"job_id" binding:"required"`
	WorkflowKey string                `json:"workflow_key" binding:"required"`
	ArgsJson    string                `json:"args_json"`
	RetryPolicy *wflowtypes.RetryPolicy `json:"retry_policy,omitempty"`
}

// ScheduleJob handles POST /jobs.
func (h *Handler) ScheduleJob(ctx context.Context, c *app.RequestContext) {
	var req scheduleJobRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.ArgsJson == "" {
		req.ArgsJson = "{}"
	}
	partitionId, err := h.router.ScheduleJob(ctx, wflowtypes.JobId(req.JobId), req.WorkflowKey, req.ArgsJson, req.RetryPolicy)
	if err != nil {
		writeCommandError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusAccepted, map[string]interface{}{
		"job_id":       req.JobId,
		"partition_id": partitionId,
	})
}

// cancelJobRequest is the POST /jobs/{id}/cancel request body.
type cancelJobRequest struct {
	Reason string `json:"reason"`
}

// CancelJob handles POST /jobs/:id/cancel.
func (h *Handler) CancelJob(ctx context.Context, c *app.RequestContext) {
	jobId := c.Param("id")
	var req cancelJobRequest
	// an empty body is valid; only malformed JSON is an error.
	if len(c.Request.Body()) > 0 {
		if err := c.BindJSON(&req); err != nil {
			c.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}
	if err := h.router.CancelJob(ctx, wflowtypes.JobId(jobId), req.Reason); err != nil {
		writeCommandError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"job_id": jobId, "status": "cancel_requested"})
}

// GetJob handles GET /jobs/:id.
func (h *Handler) GetJob(ctx context.Context, c *app.RequestContext) {
	jobId := c.Param("id")
	job, found, err := h.router.JobStatus(wflowtypes.JobId(jobId))
	if err != nil {
		writeCommandError(ctx, c, err)
		return
	}
	if !found {
		c.JSON(consts.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"job_id":      jobId,
		"workflow":    job.Workflow,
		"cancelling":  job.Cancelling,
		"run_count":   len(job.Runs),
		"last_run_id": job.LastRunId(),
	})
}

// registerWorkflowRequest is the POST /workflows/:key request body.
type registerWorkflowRequest struct {
	Service wflowtypes.WorkflowService `json:"service" binding:"required"`
}

// RegisterWorkflow handles POST /workflows/:key (admin route).
func (h *Handler) RegisterWorkflow(ctx context.Context, c *app.RequestContext) {
	key := c.Param("key")
	var req registerWorkflowRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	_, hadPrev, err := h.router.RegisterWorkflow(ctx, key, wflowtypes.WorkflowMeta{Key: key, Service: req.Service})
	if err != nil {
		writeCommandError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"key": key, "updated": hadPrev})
}

// StopPartition handles POST /admin/partitions/:id/stop (admin route).
func (h *Handler) StopPartition(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	raw, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid partition id"})
		return
	}
	partitionId := wflowtypes.PartitionId(raw)
	if err := h.router.StopPartition(partitionId); err != nil {
		writeCommandError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"partition_id": partitionId, "status": "stopped"})
}

// writeCommandError translates ingress sentinel errors to the status codes
// spec.md §7's error taxonomy implies: not-found conditions are 404,
// backpressure/shutdown are 503, everything else is a 500.
func writeCommandError(ctx context.Context, c *app.RequestContext, err error) {
	switch {
	case errors.Is(err, pkgerrors.ErrWorkflowNotFound):
		c.JSON(consts.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, pkgerrors.ErrBackpressured), errors.Is(err, pkgerrors.ErrShuttingDown):
		c.JSON(consts.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		hlog.CtxErrorf(ctx, "command failed: %v", err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
