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

package snapstore

import (
	"time"

	"github.com/dman-os/wflow/pkg/metrics"
)

// prometheusTimer starts a timer for SnapshotSaveDuration{partition=label}
// and returns a func to stop it, covering the full CAS retry loop.
func prometheusTimer(label string) func() {
	start := time.Now()
	return func() {
		metrics.SnapshotSaveDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}
}
