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

import "time"

// RetryPolicyKind discriminates RetryPolicy's two variants.
type RetryPolicyKind string

const (
	// RetryImmediate retries with no delay.
	RetryImmediate RetryPolicyKind = "immediate"
	// RetryBackoff retries after an exponentially growing delay, up to
	// MaxAttempts. Resolves the "retry backoff" open question in spec.md §9.
	RetryBackoff RetryPolicyKind = "backoff"
)

// RetryPolicy is a tagged union consulted by the reducer to decide whether
// to retry (both variants do), and by the effect worker alone to decide how
// long to wait before re-dispatching a retried RunJob effect.
type RetryPolicy struct {
	Kind    RetryPolicyKind `json:"kind"`
	Backoff *BackoffPolicy  `json:"backoff,omitempty"`
}

// BackoffPolicy parameterizes RetryBackoff.
type BackoffPolicy struct {
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
	MaxAttempts  int           `json:"max_attempts"`
}

// Immediate builds a zero-delay RetryPolicy.
func Immediate() RetryPolicy {
	return RetryPolicy{Kind: RetryImmediate}
}

// NewBackoffPolicy builds a RetryBackoff RetryPolicy.
func NewBackoffPolicy(initial, max time.Duration, multiplier float64, maxAttempts int) RetryPolicy {
	return RetryPolicy{Kind: RetryBackoff, Backoff: &BackoffPolicy{
		InitialDelay: initial,
		MaxDelay:     max,
		Multiplier:   multiplier,
		MaxAttempts:  maxAttempts,
	}}
}

// DelayForAttempt returns how long the effect worker should wait before
// dispatching the given 1-indexed retry attempt. attempt 1 is the first
// retry (i.e. the run that follows the original run_id=1 failure).
func (p RetryPolicy) DelayForAttempt(attempt int) time.Duration {
	if p.Kind != RetryBackoff || p.Backoff == nil {
		return 0
	}
	b := p.Backoff
	delay := b.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * b.Multiplier)
		if delay > b.MaxDelay {
			delay = b.MaxDelay
			break
		}
	}
	if delay > b.MaxDelay {
		delay = b.MaxDelay
	}
	return delay
}

// ExceedsMaxAttempts reports whether attempt (1-indexed) is beyond the
// policy's MaxAttempts. Immediate never caps attempts on its own.
func (p RetryPolicy) ExceedsMaxAttempts(attempt int) bool {
	if p.Kind != RetryBackoff || p.Backoff == nil || p.Backoff.MaxAttempts <= 0 {
		return false
	}
	return attempt > p.Backoff.MaxAttempts
}
