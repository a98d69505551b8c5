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

package orchestrator

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pgha-project/pgha/internal/fsm"
	"github.com/pgha-project/pgha/internal/monitor"
	"github.com/pgha-project/pgha/pkg/postgres"
)

var _ = Describe("nextGoal", func() {
	DescribeTable("advances a node once it has reported the previous goal",
		func(reported, goal, expected fsm.NodeState, ok bool) {
			n := monitor.Node{ReportedState: reported, GoalState: goal}
			next, advanced := nextGoal(n)
			Expect(advanced).To(Equal(ok))
			if ok {
				Expect(next).To(Equal(expected))
			}
		},
		Entry("report_lsn -> prep_promotion", fsm.ReportLSN, fsm.ReportLSN, fsm.PrepPromotion, true),
		Entry("prep_promotion -> stop_replication", fsm.PrepPromotion, fsm.PrepPromotion, fsm.StopReplication, true),
		Entry("stop_replication -> wait_primary", fsm.StopReplication, fsm.StopReplication, fsm.WaitPrimary, true),
		Entry("wait_primary -> primary", fsm.WaitPrimary, fsm.WaitPrimary, fsm.Primary, true),
		Entry("draining -> demote_timeout", fsm.Draining, fsm.Draining, fsm.DemoteTimeout, true),
		Entry("demote_timeout -> demoted", fsm.DemoteTimeout, fsm.DemoteTimeout, fsm.Demoted, true),
		Entry("not yet caught up does not advance", fsm.Init, fsm.WaitPrimary, fsm.NoState, false),
		Entry("secondary has no automatic next goal", fsm.Secondary, fsm.Secondary, fsm.NoState, false),
	)
})

var _ = Describe("pickPromotionCandidate", func() {
	It("returns nil with no candidates", func() {
		Expect(pickPromotionCandidate(nil)).To(BeNil())
	})

	It("picks the candidate with the highest reported LSN", func() {
		candidates := []monitor.Node{
			{NodeID: 2, ReportedLSN: postgres.LSN("0/100")},
			{NodeID: 3, ReportedLSN: postgres.LSN("0/300")},
			{NodeID: 4, ReportedLSN: postgres.LSN("0/200")},
		}
		best := pickPromotionCandidate(candidates)
		Expect(best).NotTo(BeNil())
		Expect(best.NodeID).To(Equal(int64(3)))
	})

	It("breaks ties on the lowest node_id", func() {
		candidates := []monitor.Node{
			{NodeID: 5, ReportedLSN: postgres.LSN("0/100")},
			{NodeID: 2, ReportedLSN: postgres.LSN("0/100")},
		}
		best := pickPromotionCandidate(candidates)
		Expect(best).NotTo(BeNil())
		Expect(best.NodeID).To(Equal(int64(2)))
	})
})
