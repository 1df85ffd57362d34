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

// Package snapstore persists periodic PartitionJobsState/ActiveEffects
// snapshots so a partition worker can skip replaying its whole log on
// startup. Saves are monotone (a snapshot never regresses to an older
// entry_id) and CAS-protected against concurrent writers racing on the same
// partition's snapshot key.
package snapstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dman-os/wflow/kvstore"
	"github.com/dman-os/wflow/partitionstate"
	"github.com/dman-os/wflow/pkg/errors"
	"github.com/dman-os/wflow/pkg/metrics"
	"github.com/dman-os/wflow/wflowtypes"
)

const defaultMaxCASRetries = 100

// snapshotWithMetadata is the on-wire envelope: the payload plus the
// entry_id it was taken at and a save timestamp, so LoadLatestSnapshot can
// report both without a second read.
type snapshotWithMetadata struct {
	EntryId   wflowtypes.EntryId              `json:"entry_id"`
	Timestamp time.Time                       `json:"timestamp"`
	Snapshot  partitionstate.SnapshotPayload  `json:"snapshot"`
}

// Store is the snapshot persistence interface spec.md §4's snapshot store
// describes.
type Store interface {
	// SaveSnapshot persists snapshot as the latest for partitionId, taken
	// at entryId. A no-op if the stored snapshot's entry_id is already >=
	// entryId.
	SaveSnapshot(ctx context.Context, partitionId wflowtypes.PartitionId, entryId wflowtypes.EntryId, snapshot partitionstate.SnapshotPayload) error
	// LoadLatestSnapshot returns the most recently saved snapshot for
	// partitionId, if any.
	LoadLatestSnapshot(ctx context.Context, partitionId wflowtypes.PartitionId) (wflowtypes.EntryId, partitionstate.SnapshotPayload, bool, error)
}

// AtomicKVSnapStore is the Store implementation over kvstore.Store,
// grounded on the original's AtomicKvSnapStore.
type AtomicKVSnapStore struct {
	kv            kvstore.Store
	keyPrefix     string
	maxCASRetries int
}

// NewAtomicKVSnapStore builds a snapstore over kv. maxCASRetries <= 0 uses
// the default of 100, matching the original's MAX_CAS_RETRIES constant.
func NewAtomicKVSnapStore(kv kvstore.Store, keyPrefix string, maxCASRetries int) *AtomicKVSnapStore {
	if maxCASRetries <= 0 {
		maxCASRetries = defaultMaxCASRetries
	}
	return &AtomicKVSnapStore{kv: kv, keyPrefix: keyPrefix, maxCASRetries: maxCASRetries}
}

func (s *AtomicKVSnapStore) snapshotKey(partitionId wflowtypes.PartitionId) []byte {
	return []byte(fmt.Sprintf("%s__snapshot_partition_%d", s.keyPrefix, partitionId))
}

func (s *AtomicKVSnapStore) SaveSnapshot(
	ctx context.Context,
	partitionId wflowtypes.PartitionId,
	entryId wflowtypes.EntryId,
	snapshot partitionstate.SnapshotPayload,
) error {
	label := fmt.Sprintf("%d", partitionId)
	timer := prometheusTimer(label)
	defer timer()

	key := s.snapshotKey(partitionId)
	guard, err := s.kv.NewCAS(ctx, key)
	if err != nil {
		return fmt.Errorf("snapstore: acquiring CAS: %w", err)
	}

	for attempt := 0; attempt < s.maxCASRetries; attempt++ {
		if current, ok := guard.Current(); ok {
			var existing snapshotWithMetadata
			if err := json.Unmarshal(current, &existing); err == nil {
				if existing.EntryId >= entryId {
					// existing snapshot is newer or equal; not an error,
					// just nothing to do (the monotone invariant).
					return nil
				}
			}
		}

		withMeta := snapshotWithMetadata{EntryId: entryId, Timestamp: time.Now().UTC(), Snapshot: snapshot}
		raw, err := json.Marshal(withMeta)
		if err != nil {
			return fmt.Errorf("snapstore: encoding snapshot: %w", err)
		}

		fresh, err := guard.Swap(ctx, raw)
		if err == nil {
			return nil
		}
		if err != kvstore.ErrCASConflict {
			return fmt.Errorf("snapstore: swapping snapshot: %w", err)
		}
		metrics.CASConflictTotal.WithLabelValues("snapstore.save").Inc()
		guard = fresh
	}
	return fmt.Errorf("snapstore: failed to save snapshot for partition %d after %d CAS retries: concurrent modifications: %w", partitionId, s.maxCASRetries, errors.ErrCASConflict)
}

func (s *AtomicKVSnapStore) LoadLatestSnapshot(
	ctx context.Context,
	partitionId wflowtypes.PartitionId,
) (wflowtypes.EntryId, partitionstate.SnapshotPayload, bool, error) {
	raw, ok, err := s.kv.Get(ctx, s.snapshotKey(partitionId))
	if err != nil {
		return 0, partitionstate.SnapshotPayload{}, false, fmt.Errorf("snapstore: reading snapshot: %w", err)
	}
	if !ok {
		return 0, partitionstate.SnapshotPayload{}, false, nil
	}
	var withMeta snapshotWithMetadata
	if err := json.Unmarshal(raw, &withMeta); err != nil {
		return 0, partitionstate.SnapshotPayload{}, false, fmt.Errorf("snapstore: decoding snapshot: %w", err)
	}
	return withMeta.EntryId, withMeta.Snapshot, true, nil
}
