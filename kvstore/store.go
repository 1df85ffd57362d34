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

// Package kvstore is the minimal storage primitive underneath the log,
// metadata, and snapshot stores. Keys and values are opaque byte sequences.
package kvstore

import (
	"context"
	"errors"
)

// ErrStoreError wraps transient backend failures (connection, timeout, ...).
var ErrStoreError = errors.New("kvstore: store error")

// ErrCASConflict is returned by Guard.Swap when the key's value changed
// since the guard was captured. It is not a failure mode callers should log
// as an error — it drives a read-modify-write retry loop.
var ErrCASConflict = errors.New("kvstore: cas conflict")

// Store is the transactional key-value abstraction every other store in
// this engine (log, metadata, snapshot) is built on.
type Store interface {
	// Get performs a strong read of the current value for key.
	Get(ctx context.Context, key []byte) (value []byte, ok bool, err error)
	// Set unconditionally overwrites key, returning the previous value if any.
	Set(ctx context.Context, key []byte, value []byte) (prev []byte, hadPrev bool, err error)
	// NewCAS captures a snapshot of (key, current value) to compare against
	// on a later Swap.
	NewCAS(ctx context.Context, key []byte) (Guard, error)
}

// Guard is a captured (key, value) snapshot used to perform a
// compare-and-swap. A Guard is single-use: after Swap returns, discard it
// and use the fresh guard returned on conflict (if any).
type Guard interface {
	// Current returns the value observed when the guard was captured.
	Current() (value []byte, ok bool)
	// Swap replaces the value iff it is unchanged since the guard was
	// captured. On ErrCASConflict the returned Guard is seeded with the
	// newly observed value so the caller can retry its read-modify-write.
	Swap(ctx context.Context, newValue []byte) (fresh Guard, err error)
}
