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
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("RestartTracker", func() {
	It("counts only failures within the trailing window", func() {
		var tracker RestartTracker
		base := time.Now()

		tracker.RecordFailure(base.Add(-2 * time.Minute))
		tracker.RecordFailure(base.Add(-10 * time.Second))
		tracker.RecordFailure(base.Add(-5 * time.Second))

		Expect(tracker.FailuresWithinWindow(base, 30*time.Second)).To(Equal(2))
		Expect(tracker.FailuresWithinWindow(base, 5*time.Minute)).To(Equal(3))
	})

	It("clears history on RecordSuccess", func() {
		var tracker RestartTracker
		now := time.Now()
		tracker.RecordFailure(now)
		tracker.RecordSuccess()
		Expect(tracker.FailuresWithinWindow(now, time.Hour)).To(Equal(0))
	})
})
