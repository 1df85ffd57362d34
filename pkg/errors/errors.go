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

// Package errors provides shared error helpers with no dependency on
// internal packages.
package errors

import (
	"errors"
	"fmt"
)

// Common sentinel errors (extend with new error codes as needed).
var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidArg = errors.New("invalid argument")

	// ErrWorkflowNotFound means the referenced workflow key was not found in
	// the metadata store.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrBackpressured means a queue/channel is full; the caller should back
	// off and retry.
	ErrBackpressured = errors.New("backpressured")
	// ErrShuttingDown means the partition worker is stopping and no longer
	// accepts new commands.
	ErrShuttingDown = errors.New("shutting down")
	// ErrStoreError means the underlying KV/log/snapshot store returned an
	// error that wasn't a CAS conflict.
	ErrStoreError = errors.New("store error")
	// ErrCASConflict means a CAS write's version didn't match; the caller
	// should retry the whole read-modify-write loop.
	ErrCASConflict = errors.New("cas conflict")
)

// Wrap attaches a message to err.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
