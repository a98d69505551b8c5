/*
Copyright The Pgha Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package supervisor

import (
	"sync"
	"time"
)

// RestartTracker records local database start failures so the FSM
// driver can decide, on a PRIMARY, whether to tolerate a crashed
// postmaster for a little longer before reporting "not running" to the
// monitor (avoiding a needless failover for a database that is about to
// come back up on its own). It satisfies internal/fsm.RestartTracker.
type RestartTracker struct {
	mu        sync.Mutex
	failures  []time.Time
	firstFail time.Time
}

// RecordFailure appends a failure timestamp, called by the DB controller
// each time it observes the local instance failing to stay up.
func (t *RestartTracker) RecordFailure(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.firstFail.IsZero() {
		t.firstFail = now
	}
	t.failures = append(t.failures, now)
}

// RecordSuccess clears the failure history once the instance has been
// running successfully again, so a later isolated crash is not counted
// against an old window.
func (t *RestartTracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failures = nil
	t.firstFail = time.Time{}
}

// FailuresWithinWindow returns how many failures were recorded within
// the trailing window ending at now.
func (t *RestartTracker) FailuresWithinWindow(now time.Time, window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	cutoff := now.Add(-window)
	for _, fail := range t.failures {
		if fail.After(cutoff) {
			count++
		}
	}
	return count
}
