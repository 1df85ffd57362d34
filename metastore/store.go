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

// Package metastore tracks what workflows exist and how jobs route to
// partitions. It is a thin JSON-over-kvstore.Store layer, grounded on the
// original's KvStoreMetadtaStore: one reserved key holds PartitionsMeta,
// every other key is a workflow's registration.
package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dman-os/wflow/kvstore"
	"github.com/dman-os/wflow/wflowtypes"
)

// ErrReservedKey is returned by SetWorkflow when called with the key
// metastore reserves internally for PartitionsMeta.
var ErrReservedKey = errors.New("metastore: workflow key collides with the reserved partitions key")

// partitionsKey mirrors the original's deliberately-unlikely-to-collide
// PARTITION_STORE_KEY sentinel.
const partitionsKey = "_____partition-store"

// Store is the metadata interface spec.md §4.3 describes.
type Store interface {
	// GetWorkflow looks up a registered workflow by its routing key.
	GetWorkflow(ctx context.Context, key string) (wflowtypes.WorkflowMeta, bool, error)
	// SetWorkflow registers or updates a workflow, returning its prior
	// registration if any. Returns ErrReservedKey for the partitions key.
	SetWorkflow(ctx context.Context, key string, meta wflowtypes.WorkflowMeta) (prev wflowtypes.WorkflowMeta, hadPrev bool, err error)
	// GetPartitions returns the current partition topology.
	GetPartitions(ctx context.Context) (wflowtypes.PartitionsMeta, error)
	// SetPartitions overwrites the partition topology.
	SetPartitions(ctx context.Context, meta wflowtypes.PartitionsMeta) error
}

// KVMetaStore is the Store implementation over kvstore.Store.
type KVMetaStore struct {
	kv        kvstore.Store
	keyPrefix string
}

// NewKVMetaStore builds a metastore, seeding the reserved partitions key
// with defaultPartitions if it does not already exist (mirroring the
// original's constructor-time initialization).
func NewKVMetaStore(ctx context.Context, kv kvstore.Store, keyPrefix string, defaultPartitions wflowtypes.PartitionsMeta) (*KVMetaStore, error) {
	s := &KVMetaStore{kv: kv, keyPrefix: keyPrefix}
	_, ok, err := s.kv.Get(ctx, s.rawPartitionsKey())
	if err != nil {
		return nil, fmt.Errorf("metastore: checking partitions key: %w", err)
	}
	if !ok {
		if err := s.SetPartitions(ctx, defaultPartitions); err != nil {
			return nil, fmt.Errorf("metastore: seeding partitions key: %w", err)
		}
	}
	return s, nil
}

func (s *KVMetaStore) rawPartitionsKey() []byte {
	return []byte(s.keyPrefix + partitionsKey)
}

func (s *KVMetaStore) workflowKey(key string) []byte {
	return []byte(s.keyPrefix + key)
}

func (s *KVMetaStore) GetWorkflow(ctx context.Context, key string) (wflowtypes.WorkflowMeta, bool, error) {
	raw, ok, err := s.kv.Get(ctx, s.workflowKey(key))
	if err != nil || !ok {
		return wflowtypes.WorkflowMeta{}, false, err
	}
	var meta wflowtypes.WorkflowMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return wflowtypes.WorkflowMeta{}, false, fmt.Errorf("metastore: decoding workflow %q: %w", key, err)
	}
	return meta, true, nil
}

func (s *KVMetaStore) SetWorkflow(ctx context.Context, key string, meta wflowtypes.WorkflowMeta) (wflowtypes.WorkflowMeta, bool, error) {
	if key == partitionsKey {
		return wflowtypes.WorkflowMeta{}, false, ErrReservedKey
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return wflowtypes.WorkflowMeta{}, false, fmt.Errorf("metastore: encoding workflow %q: %w", key, err)
	}
	prevRaw, hadPrev, err := s.kv.Set(ctx, s.workflowKey(key), raw)
	if err != nil {
		return wflowtypes.WorkflowMeta{}, false, fmt.Errorf("metastore: writing workflow %q: %w", key, err)
	}
	if !hadPrev {
		return wflowtypes.WorkflowMeta{}, false, nil
	}
	var prev wflowtypes.WorkflowMeta
	if err := json.Unmarshal(prevRaw, &prev); err != nil {
		return wflowtypes.WorkflowMeta{}, false, fmt.Errorf("metastore: decoding previous workflow %q: %w", key, err)
	}
	return prev, true, nil
}

func (s *KVMetaStore) GetPartitions(ctx context.Context) (wflowtypes.PartitionsMeta, error) {
	raw, ok, err := s.kv.Get(ctx, s.rawPartitionsKey())
	if err != nil {
		return wflowtypes.PartitionsMeta{}, fmt.Errorf("metastore: reading partitions: %w", err)
	}
	if !ok {
		return wflowtypes.PartitionsMeta{}, fmt.Errorf("metastore: partitions key missing; store was not initialized via NewKVMetaStore")
	}
	var meta wflowtypes.PartitionsMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return wflowtypes.PartitionsMeta{}, fmt.Errorf("metastore: decoding partitions: %w", err)
	}
	return meta, nil
}

func (s *KVMetaStore) SetPartitions(ctx context.Context, meta wflowtypes.PartitionsMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("metastore: encoding partitions: %w", err)
	}
	if _, _, err := s.kv.Set(ctx, s.rawPartitionsKey(), raw); err != nil {
		return fmt.Errorf("metastore: writing partitions: %w", err)
	}
	return nil
}
