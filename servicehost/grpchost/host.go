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

// Package grpchost dispatches RunJob effects to an out-of-process
// sandboxed-component runner over gRPC — the concrete path behind a
// WorkflowMeta.Service of Kind Sandboxed. The request/reply wire messages
// are google.golang.org/protobuf's structpb.Struct (a generic, schema-less
// protobuf message), not codegen'd types: this repo is built without
// running protoc, so a hand-maintained .proto/.pb.go pair is out of reach,
// and structpb is the library's own answer for exactly this situation —
// genuine protobuf wire encoding over a real gRPC ClientConn, no codegen
// step required. See DESIGN.md for the fuller rationale.
package grpchost

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dman-os/wflow/partitionstate"
	"github.com/dman-os/wflow/pkg/config"
	"github.com/dman-os/wflow/pkg/errors"
	"github.com/dman-os/wflow/servicehost"
	"github.com/dman-os/wflow/wflowtypes"
)

const runMethod = "/wflow.ServiceHost/Run"

// Host dispatches Run over a single gRPC ClientConn to a sandboxed runner.
type Host struct {
	cc         *grpc.ClientConn
	runTimeout time.Duration
}

// Dial opens the gRPC connection described by cfg: plaintext when
// cfg.TLSEnable is false (local dev only); otherwise mTLS with credentials
// from Vault's PKI secrets engine when cfg.VaultPKIPath is set and
// vault.Enable is true, else from the static cert/key/ca files.
func Dial(ctx context.Context, cfg config.GRPCHostConfig, vault config.VaultConfig, runTimeout time.Duration) (*Host, error) {
	creds, err := dialCredentials(ctx, cfg, vault)
	if err != nil {
		return nil, errors.Wrap(err, "grpchost: resolving transport credentials")
	}
	cc, err := grpc.NewClient(cfg.Endpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, errors.Wrapf(err, "grpchost: dialing %s", cfg.Endpoint)
	}
	if runTimeout <= 0 {
		runTimeout = 30 * time.Second
	}
	return &Host{cc: cc, runTimeout: runTimeout}, nil
}

func dialCredentials(ctx context.Context, cfg config.GRPCHostConfig, vault config.VaultConfig) (credentials.TransportCredentials, error) {
	if !cfg.TLSEnable {
		return insecure.NewCredentials(), nil
	}
	if cfg.VaultPKIPath != "" && vault.Enable {
		return vaultIssuedCredentials(ctx, cfg, vault)
	}
	return staticFileCredentials(cfg)
}

// vaultIssuedCredentials requests a short-lived client certificate from
// Vault's PKI secrets engine once per Dial call, so no cert/key files are
// needed on disk; the issued certificate is used for the life of the
// returned Host.
func vaultIssuedCredentials(ctx context.Context, cfg config.GRPCHostConfig, vault config.VaultConfig) (credentials.TransportCredentials, error) {
	client, err := vaultapi.NewClient(&vaultapi.Config{Address: vault.Address})
	if err != nil {
		return nil, errors.Wrap(err, "grpchost: building vault client")
	}
	client.SetToken(vault.Token)

	secret, err := client.Logical().WriteWithContext(ctx, cfg.VaultPKIPath, map[string]interface{}{
		"common_name": cfg.TLSServerName,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "grpchost: issuing cert from vault path %s", cfg.VaultPKIPath)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("grpchost: vault returned no data for %s", cfg.VaultPKIPath)
	}

	certPEM, _ := secret.Data["certificate"].(string)
	keyPEM, _ := secret.Data["private_key"].(string)
	caPEM, _ := secret.Data["issuing_ca"].(string)
	if certPEM == "" || keyPEM == "" {
		return nil, fmt.Errorf("grpchost: vault response missing certificate/private_key fields")
	}

	cert, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM))
	if err != nil {
		return nil, errors.Wrap(err, "grpchost: parsing vault-issued keypair")
	}
	pool := x509.NewCertPool()
	if caPEM != "" {
		pool.AppendCertsFromPEM([]byte(caPEM))
	}
	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		ServerName:   cfg.TLSServerName,
	}), nil
}

func staticFileCredentials(cfg config.GRPCHostConfig) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.Wrap(err, "grpchost: loading client keypair")
	}
	pool := x509.NewCertPool()
	if cfg.CAFile != "" {
		caPEM, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, errors.Wrap(err, "grpchost: reading ca file")
		}
		pool.AppendCertsFromPEM(caPEM)
	}
	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		ServerName:   cfg.TLSServerName,
	}), nil
}

// Close releases the underlying ClientConn.
func (h *Host) Close() error {
	return h.cc.Close()
}

// Run marshals the run request into a structpb.Struct, invokes the
// sandboxed runner, and decodes its reply back into a JobRunResult.
func (h *Host) Run(
	ctx context.Context,
	rjctx servicehost.RunJobCtx,
	workflowKey string,
	jobID wflowtypes.JobId,
	journal partitionstate.JobState,
	argsJson string,
) (wflowtypes.JobRunResult, servicehost.Session, error) {
	runCtx, cancel := context.WithTimeout(ctx, h.runTimeout)
	defer cancel()

	journalJson, err := marshalJournal(journal)
	if err != nil {
		return wflowtypes.JobRunResult{}, nil, errors.Wrap(err, "grpchost: encoding journal")
	}

	req, err := structpb.NewStruct(map[string]any{
		"effect_id":    rjctx.EffectId.String(),
		"run_id":       float64(rjctx.RunId),
		"worker_id":    rjctx.WorkerId,
		"workflow_key": workflowKey,
		"job_id":       string(jobID),
		"args_json":    argsJson,
		"journal_json": journalJson,
	})
	if err != nil {
		return wflowtypes.JobRunResult{}, nil, errors.Wrap(err, "grpchost: building request message")
	}

	reply := &structpb.Struct{}
	if err := h.cc.Invoke(runCtx, runMethod, req, reply); err != nil {
		return wflowtypes.JobRunResult{}, nil, errors.Wrap(err, "grpchost: invoking Run")
	}

	result, session, err := decodeReply(reply)
	if err != nil {
		return wflowtypes.JobRunResult{}, nil, errors.Wrap(err, "grpchost: decoding reply")
	}
	return result, session, nil
}

// DropSession tells the remote runner to release a session's resources.
func (h *Host) DropSession(ctx context.Context, session servicehost.Session) {
	id, ok := session.(string)
	if !ok || id == "" {
		return
	}
	req, err := structpb.NewStruct(map[string]any{"session_id": id})
	if err != nil {
		return
	}
	_ = h.cc.Invoke(ctx, "/wflow.ServiceHost/DropSession", req, &structpb.Struct{})
}
