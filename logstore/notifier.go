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

package logstore

import (
	"sync"

	"github.com/dman-os/wflow/wflowtypes"
)

// notifier is a Go stand-in for tokio::sync::watch: every wait() call gets
// a channel that closes the next time broadcast() runs, so any number of
// tailers can block on "has the counter advanced" without missing a signal
// that fired between their Get and their wait.
type notifier struct {
	mu     sync.Mutex
	ch     chan struct{}
	latest wflowtypes.EntryId
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{})}
}

func (n *notifier) wait() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch
}

func (n *notifier) broadcast(latest wflowtypes.EntryId) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.latest = latest
	close(n.ch)
	n.ch = make(chan struct{})
}
