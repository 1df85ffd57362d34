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

// Command wflowd is the engine's daemon: it wires config -> stores ->
// partitions -> effect workers -> service hosts -> ingress -> the HTTP
// front door, the same shape as the teacher's cmd/api and cmd/worker
// combined into one process (this engine has no control/data-plane split
// to preserve; every partition is both).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/dman-os/wflow/effectworker"
	"github.com/dman-os/wflow/ingress"
	"github.com/dman-os/wflow/ingress/httpapi"
	"github.com/dman-os/wflow/kvstore"
	"github.com/dman-os/wflow/logstore"
	"github.com/dman-os/wflow/metastore"
	"github.com/dman-os/wflow/partition"
	"github.com/dman-os/wflow/pkg/config"
	applog "github.com/dman-os/wflow/pkg/log"
	"github.com/dman-os/wflow/pkg/metrics"
	"github.com/dman-os/wflow/pkg/tracing"
	"github.com/dman-os/wflow/servicehost"
	"github.com/dman-os/wflow/servicehost/grpchost"
	"github.com/dman-os/wflow/servicehost/nativehost"
	"github.com/dman-os/wflow/snapstore"
	"github.com/dman-os/wflow/wflowtypes"
)

// runningPartition bundles what the shutdown path needs for one partition:
// its id, its worker, and the cancel func that stops it.
type runningPartition struct {
	id     wflowtypes.PartitionId
	worker *partition.Worker
	cancel context.CancelFunc
}

func main() {
	logger, err := applog.NewLogger(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadDaemonConfig()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger, err = applog.NewLogger(&applog.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to rebuild logger from config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Monitoring.Tracing.Enable {
		tp, err := tracing.InitTracer(ctx, tracing.OTelConfig{
			ServiceName:    cfg.Monitoring.Tracing.ServiceName,
			ExportEndpoint: cfg.Monitoring.Tracing.ExportEndpoint,
			Insecure:       cfg.Monitoring.Tracing.Insecure,
		})
		if err != nil {
			logger.Error("failed to init tracer, continuing without tracing", "error", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
			logger.Info("tracing enabled", "endpoint", cfg.Monitoring.Tracing.ExportEndpoint)
		}
	}

	kv, err := buildKVStore(ctx, cfg.KVStore)
	if err != nil {
		logger.Error("failed to build kv store", "error", err)
		os.Exit(1)
	}

	logPrefix := cfg.LogStore.KeyPrefix
	if logPrefix == "" {
		logPrefix = "wflow/log/"
	}
	metaPrefix := cfg.MetaStore.KeyPrefix
	if metaPrefix == "" {
		metaPrefix = "wflow/meta/"
	}
	snapPrefix := cfg.SnapStore.KeyPrefix
	if snapPrefix == "" {
		snapPrefix = "wflow/snapshot/"
	}
	maxCASRetries := cfg.SnapStore.MaxCASRetries
	if maxCASRetries <= 0 {
		maxCASRetries = 100
	}
	partitionCount := cfg.Partition.Count
	if partitionCount <= 0 {
		partitionCount = 1
	}

	meta, err := metastore.NewKVMetaStore(ctx, kv, metaPrefix, wflowtypes.PartitionsMeta{Version: 1, PartitionCount: partitionCount})
	if err != nil {
		logger.Error("failed to build metastore", "error", err)
		os.Exit(1)
	}

	native := nativehost.New()
	var sandboxed servicehost.Host
	if cfg.ServiceHost.Type == "grpc" {
		runTimeout := 30 * time.Second
		if cfg.ServiceHost.RunTimeout != "" {
			if d, err := time.ParseDuration(cfg.ServiceHost.RunTimeout); err == nil {
				runTimeout = d
			}
		}
		grpcHost, err := grpchost.Dial(ctx, cfg.ServiceHost.GRPC, cfg.Vault, runTimeout)
		if err != nil {
			logger.Error("failed to dial grpc service host", "error", err)
			os.Exit(1)
		}
		defer grpcHost.Close()
		sandboxed = grpcHost
	}
	host := servicehost.NewRouter(native, sandboxed)

	ingressRouter := ingress.NewRouter(meta)
	partitions := make([]*runningPartition, 0, partitionCount)

	for i := 0; i < partitionCount; i++ {
		id := wflowtypes.PartitionId(i)
		log := logstore.NewKVLogStore(kv, fmt.Sprintf("%s%d/", logPrefix, id))
		snap := snapstore.NewAtomicKVSnapStore(kv, fmt.Sprintf("%s%d/", snapPrefix, id), maxCASRetries)

		worker := partition.NewWorker(id, log, snap, meta, cfg.Partition)
		pctx, cancel := context.WithCancel(ctx)
		if err := worker.Start(pctx); err != nil {
			logger.Error("failed to start partition", "partition_id", id, "error", err)
			cancel()
			os.Exit(1)
		}

		ew := effectworker.New(fmt.Sprintf("%d", id), host, worker.LookupJob, worker.AppendEntry, cfg.EffectWorker)
		go ew.Run(pctx, worker.EffectsOut())

		ingressRouter.Register(id, worker, cancel)
		partitions = append(partitions, &runningPartition{id: id, worker: worker, cancel: cancel})
		logger.Info("partition started", "partition_id", id)
	}

	for _, p := range partitions {
		select {
		case <-p.worker.ReplayDone():
		case <-ctx.Done():
			return
		}
	}
	logger.Info("all partitions caught up on replay")

	handler := httpapi.NewHandler(ingressRouter)
	httpRouter := httpapi.NewRouter(handler)
	if adminPassword := os.Getenv("WFLOW_ADMIN_PASSWORD"); cfg.Ingress.Middleware.JWTKey != "" && adminPassword != "" {
		timeout := parseDurationOr(cfg.Ingress.Middleware.JWTTimeout, time.Hour)
		maxRefresh := parseDurationOr(cfg.Ingress.Middleware.JWTMaxRefresh, time.Hour)
		jwtAuth, err := httpapi.NewJWTAuth([]byte(cfg.Ingress.Middleware.JWTKey), timeout, maxRefresh, map[string]string{
			"admin": adminPassword,
		})
		if err != nil {
			logger.Warn("failed to init jwt auth, admin routes left open", "error", err)
		} else {
			httpRouter.SetJWT(jwtAuth)
			logger.Info("jwt auth enabled for admin routes")
		}
	}

	port := cfg.Ingress.Port
	if port == 0 {
		port = 8090
	}
	addr := fmt.Sprintf("%s:%d", cfg.Ingress.Host, port)
	hertzServer := httpRouter.Build(addr)
	go func() {
		logger.Info("ingress http api listening", "addr", addr)
		if err := hertzServer.Run(); err != nil {
			logger.Error("ingress http server exited", "error", err)
		}
	}()

	if cfg.Monitoring.Prometheus.Enable {
		metricsAddr := fmt.Sprintf(":%d", cfg.Monitoring.Prometheus.Port)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.DefaultRegistry, promhttp.HandlerOpts{}))
		metricsServer := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			logger.Info("metrics listening", "addr", metricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server exited", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	for _, p := range partitions {
		p.cancel()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = hertzServer.Shutdown(shutdownCtx)
	logger.Info("wflowd stopped")
}

func buildKVStore(ctx context.Context, cfg config.KVStoreConfig) (kvstore.Store, error) {
	switch cfg.Type {
	case "postgres":
		return kvstore.NewPGStore(ctx, cfg.DSN)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: cfg.PoolSize,
		})
		return kvstore.NewRedisStore(client), nil
	default:
		return kvstore.NewMemStore(), nil
	}
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return fallback
}
