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

// Package logstore is the append-only, gap-tolerant byte log every
// partition replays from. It is built on top of kvstore.Store exactly as a
// reference log would be: an appender claims the next EntryId via CAS on a
// counter key, then writes id -> payload; tailing polls a broadcast signal
// on the counter and reads each index in turn, reporting a missing payload
// below the current counter as a gap rather than an error.
package logstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dman-os/wflow/kvstore"
	"github.com/dman-os/wflow/pkg/metrics"
	"github.com/dman-os/wflow/wflowtypes"
)

// gapConfirmRetries/gapConfirmDelay bound how long Tail waits for a
// concurrent Append that has already bumped the counter to land its payload
// before the missing entry is reported as a permanent gap. Append claims an
// id via CAS and only writes the payload afterward, so a slower Append can
// momentarily look identical to a crashed one that claimed an id and died;
// without this grace window a fast sibling Append's broadcast could wake a
// Tail mid-race and mislabel the slower write as a gap.
const (
	gapConfirmRetries = 20
	gapConfirmDelay   = 5 * time.Millisecond
)

// Entry is one slot produced by Tail: either a decoded payload at Idx, or a
// Gap (Val is nil) when the counter advanced past Idx but no payload was
// ever written there — a crashed appender that claimed an id and died
// before persisting it.
type Entry struct {
	Idx wflowtypes.EntryId
	Val []byte
	Gap bool
}

// Store is the log interface every partition worker replays from.
type Store interface {
	// Append claims the next EntryId and durably writes payload under it.
	Append(ctx context.Context, payload []byte) (wflowtypes.EntryId, error)
	// Tail streams entries starting at from in id order. The returned
	// channel blocks once caught up to the head and resumes on the next
	// Append; closing ctx terminates the tail and closes the channel.
	Tail(ctx context.Context, from wflowtypes.EntryId) <-chan Entry
	// LatestIdx returns the count of entries ever claimed — equivalently,
	// the id that will be assigned to the next Append. 0 means the log is
	// empty.
	LatestIdx(ctx context.Context) (wflowtypes.EntryId, error)
}

const counterKey = "counter"

// KVLogStore is the Store implementation grounded on the original's
// KvStoreLog: a CAS'd counter key plus one kv_store entry per log slot,
// scoped under keyPrefix so multiple logs (one per partition) can share a
// single kvstore.Store.
type KVLogStore struct {
	kv         kvstore.Store
	keyPrefix  string
	partition  string
	notifier   *notifier
}

// NewKVLogStore builds a log over kv, namespacing every key it touches
// under keyPrefix (typically "wflow/log/<partition_id>/").
func NewKVLogStore(kv kvstore.Store, keyPrefix string) *KVLogStore {
	return &KVLogStore{
		kv:        kv,
		keyPrefix: keyPrefix,
		notifier:  newNotifier(),
	}
}

func (s *KVLogStore) counterKeyBytes() []byte {
	return []byte(s.keyPrefix + counterKey)
}

func (s *KVLogStore) entryKey(id wflowtypes.EntryId) []byte {
	return []byte(s.keyPrefix + "entry:" + strconv.FormatUint(uint64(id), 10))
}

// Append claims the next id off the counter via CAS, retrying on conflict,
// then writes the payload and broadcasts to any in-flight tails. Ids are
// 0-based: the counter holds the count of entries claimed so far, which
// doubles as the id about to be assigned (mirroring the reference
// implementation's fetch_add-returns-old-value scheme).
func (s *KVLogStore) Append(ctx context.Context, payload []byte) (wflowtypes.EntryId, error) {
	for {
		guard, err := s.kv.NewCAS(ctx, s.counterKeyBytes())
		if err != nil {
			return 0, fmt.Errorf("logstore: acquiring counter CAS: %w", err)
		}
		cur, ok := guard.Current()
		var id uint64
		if ok {
			v, perr := strconv.ParseUint(string(cur), 10, 64)
			if perr != nil {
				return 0, fmt.Errorf("logstore: corrupt counter value: %w", perr)
			}
			id = v
		}
		nextCount := []byte(strconv.FormatUint(id+1, 10))
		_, err = guard.Swap(ctx, nextCount)
		if err != nil {
			if err == kvstore.ErrCASConflict {
				metrics.CASConflictTotal.WithLabelValues("logstore.append").Inc()
				continue
			}
			return 0, fmt.Errorf("logstore: swapping counter: %w", err)
		}

		entryId := wflowtypes.EntryId(id)
		if _, _, err := s.kv.Set(ctx, s.entryKey(entryId), payload); err != nil {
			return 0, fmt.Errorf("logstore: writing entry %d: %w", entryId, err)
		}
		s.notifier.broadcast(entryId)
		return entryId, nil
	}
}

// LatestIdx reads the counter key directly; 0 means the log is empty.
func (s *KVLogStore) LatestIdx(ctx context.Context) (wflowtypes.EntryId, error) {
	val, ok, err := s.kv.Get(ctx, s.counterKeyBytes())
	if err != nil {
		return 0, fmt.Errorf("logstore: reading counter: %w", err)
	}
	if !ok {
		return 0, nil
	}
	v, err := strconv.ParseUint(string(val), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("logstore: corrupt counter value: %w", err)
	}
	return wflowtypes.EntryId(v), nil
}

// Tail starts a goroutine that streams entries starting at from, blocking
// on the notifier once caught up, and closes the returned channel when ctx
// is done.
func (s *KVLogStore) Tail(ctx context.Context, from wflowtypes.EntryId) <-chan Entry {
	out := make(chan Entry)
	go func() {
		defer close(out)
		next := from
		for {
			// taken before the Get so an Append that lands between the
			// Get and the wait below still closes this channel.
			waitCh := s.notifier.wait()
			val, ok, err := s.kv.Get(ctx, s.entryKey(next))
			if err != nil {
				// transient store error; let the caller decide whether to
				// retry by re-calling Tail. We don't retry internally to
				// avoid masking a persistently broken store.
				return
			}
			if ok {
				select {
				case out <- Entry{Idx: next, Val: val}:
				case <-ctx.Done():
					return
				}
				next++
				continue
			}

			count, err := s.LatestIdx(ctx)
			if err != nil {
				return
			}
			if uint64(next) < uint64(count) {
				// The counter has already advanced past next, but that only
				// means some Append won its CAS race for a later id — its
				// payload write for next may still be in flight rather than
				// lost. Give it a short grace window to land before calling
				// this a permanent gap, so a momentary race between two
				// concurrent Appends isn't mistaken for a crashed appender.
				landed := false
				for i := 0; i < gapConfirmRetries; i++ {
					select {
					case <-time.After(gapConfirmDelay):
					case <-ctx.Done():
						return
					}
					if val, ok, err := s.kv.Get(ctx, s.entryKey(next)); err == nil && ok {
						select {
						case out <- Entry{Idx: next, Val: val}:
						case <-ctx.Done():
							return
						}
						landed = true
						break
					}
				}
				if landed {
					next++
					continue
				}

				metrics.LogTailGapTotal.WithLabelValues(s.partition).Inc()
				select {
				case out <- Entry{Idx: next, Gap: true}:
				case <-ctx.Done():
					return
				}
				next++
				continue
			}

			// caught up to the head; wait for the next Append.
			select {
			case <-waitCh:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// WithPartitionLabel sets the label used for LogTailGapTotal, since a
// KVLogStore is constructed before its owning partition.Worker knows its
// own id in some wiring paths.
func (s *KVLogStore) WithPartitionLabel(label string) *KVLogStore {
	s.partition = label
	return s
}
