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

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full configuration struct for the daemon (cmd/wflowd).
type Config struct {
	Ingress      IngressConfig      `mapstructure:"ingress"`
	Partition    PartitionConfig    `mapstructure:"partition"`
	KVStore      KVStoreConfig      `mapstructure:"kvstore"`
	LogStore     LogStoreConfig     `mapstructure:"logstore"`
	MetaStore    MetaStoreConfig    `mapstructure:"metastore"`
	SnapStore    SnapStoreConfig    `mapstructure:"snapstore"`
	ServiceHost  ServiceHostConfig  `mapstructure:"service_host"`
	EffectWorker EffectWorkerConfig `mapstructure:"effect_worker"`
	Vault        VaultConfig        `mapstructure:"vault"`
	Log          LogConfig          `mapstructure:"log"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
}

// PartitionConfig holds partition topology and snapshot throttling settings.
type PartitionConfig struct {
	Count                  int    `mapstructure:"count"`                     // static partition count, <=0 defaults to 1
	SnapshotEveryNEntries  int    `mapstructure:"snapshot_every_n_entries"`  // snapshot after every N applied log entries, <=0 defaults to 500
	EffectQueueSize        int    `mapstructure:"effect_queue_size"`         // channel capacity from partition worker to effect worker, <=0 defaults to 256
	ChangeNotifyBufferSize int    `mapstructure:"change_notify_buffer_size"` // not read: the change notifier is an unbuffered close-and-replace channel
	StartupReplayTimeout   string `mapstructure:"startup_replay_timeout"`    // not read: startup replay runs without a timeout
}

// KVStoreConfig configures the underlying KV+CAS storage backend shared by
// logstore/metastore/snapstore.
type KVStoreConfig struct {
	Type     string `mapstructure:"type"`     // memory | postgres | redis
	DSN      string `mapstructure:"dsn"`      // required when type=postgres
	Addr     string `mapstructure:"addr"`     // required when type=redis
	Password string `mapstructure:"password"` // optional when type=redis
	DB       int    `mapstructure:"db"`       // logical db number when type=redis
	PoolSize int    `mapstructure:"pool_size"`
}

// LogStoreConfig configures log storage; empty fields fall back to the
// KVStore backend.
type LogStoreConfig struct {
	KeyPrefix string `mapstructure:"key_prefix"` // log entry key prefix, defaults to "wflow/log/" when empty
}

// MetaStoreConfig configures workflow/partition metadata storage; empty
// fields fall back to the KVStore backend.
type MetaStoreConfig struct {
	KeyPrefix string `mapstructure:"key_prefix"` // defaults to "wflow/meta/" when empty
}

// SnapStoreConfig configures snapshot storage; empty fields fall back to the
// KVStore backend.
type SnapStoreConfig struct {
	KeyPrefix     string `mapstructure:"key_prefix"`      // defaults to "wflow/snapshot/" when empty
	MaxCASRetries int    `mapstructure:"max_cas_retries"` // <=0 defaults to 100
}

// ServiceHostConfig configures the workflow execution backend (where
// dispatched effects actually run).
type ServiceHostConfig struct {
	Type       string         `mapstructure:"type"` // native | grpc
	GRPC       GRPCHostConfig `mapstructure:"grpc"`
	RunTimeout string         `mapstructure:"run_timeout"` // timeout for a single RunJob effect call, defaults to 30s when empty
}

// GRPCHostConfig configures the sandboxed gRPC service host.
type GRPCHostConfig struct {
	Endpoint      string `mapstructure:"endpoint"`
	TLSEnable     bool   `mapstructure:"tls_enable"`
	TLSServerName string `mapstructure:"tls_server_name"`
	VaultPKIPath  string `mapstructure:"vault_pki_path"` // empty means don't fetch a client cert from Vault, use local files instead
	CertFile      string `mapstructure:"cert_file"`
	KeyFile       string `mapstructure:"key_file"`
	CAFile        string `mapstructure:"ca_file"`
}

// VaultConfig configures the Vault client grpchost uses to issue/rotate mTLS
// credentials.
type VaultConfig struct {
	Enable  bool   `mapstructure:"enable"`
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"` // supports "${VAULT_TOKEN}"-style injection from the environment
}

// EffectWorkerConfig configures the effect worker's concurrency, retry, and
// rate limiting.
type EffectWorkerConfig struct {
	Concurrency     int     `mapstructure:"concurrency"`       // concurrent in-flight RunJob calls per partition, <=0 defaults to 4
	RateLimitQPS    float64 `mapstructure:"rate_limit_qps"`    // <=0 disables rate limiting
	RateLimitBurst  int     `mapstructure:"rate_limit_burst"`  // <=0 uses int(QPS) or 1
	DefaultRetryMax int     `mapstructure:"default_retry_max"` // >0 gives jobs with no override policy a zero-delay Backoff in the effect worker; the reducer does not read it, so it does not cap retries
}

// IngressConfig configures the HTTP ingress (the external ScheduleJob/CancelJob surface).
type IngressConfig struct {
	Port       int              `mapstructure:"port"`
	Host       string           `mapstructure:"host"`
	Timeout    string           `mapstructure:"timeout"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Middleware MiddlewareConfig `mapstructure:"middleware"`
}

// CORSConfig configures CORS.
type CORSConfig struct {
	Enable       bool     `mapstructure:"enable"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// MiddlewareConfig configures HTTP middleware; JWT only guards admin routes
// (registering a workflow, stopping a partition).
type MiddlewareConfig struct {
	RateLimit     bool   `mapstructure:"rate_limit"`
	RateLimitRPS  int    `mapstructure:"rate_limit_rps"`
	JWTKey        string `mapstructure:"jwt_key"`
	JWTTimeout    string `mapstructure:"jwt_timeout"`     // e.g. "1h"
	JWTMaxRefresh string `mapstructure:"jwt_max_refresh"` // e.g. "1h"
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig configures monitoring.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// TracingConfig configures distributed tracing (OpenTelemetry).
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// PrometheusConfig configures Prometheus.
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
	Port   int  `mapstructure:"port"`
}

// LoadConfig loads the config file, resolving sensitive fields referenced as "${ENV_VAR}".
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	resolveEnvRef(&config.Vault.Token)
	resolveEnvRef(&config.KVStore.Password)
	resolveEnvRef(&config.Ingress.Middleware.JWTKey)

	return &config, nil
}

// resolveEnvRef replaces a "${VAR}" placeholder with the environment
// variable's value, leaving the field untouched if it isn't in that form.
func resolveEnvRef(field *string) {
	if !strings.HasPrefix(*field, "${") || !strings.HasSuffix(*field, "}") {
		return
	}
	envVar := strings.TrimSuffix(strings.TrimPrefix(*field, "${"), "}")
	if val := os.Getenv(envVar); val != "" {
		*field = val
	}
}

// LoadDaemonConfig loads the daemon configuration (configs/wflowd.yaml only).
func LoadDaemonConfig() (*Config, error) {
	return LoadConfig("configs/wflowd.yaml")
}
