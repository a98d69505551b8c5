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

package fsm

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pgha-project/pgha/pkg/postgres"
)

var _ = Describe("transition lookup", func() {
	It("finds every documented edge", func() {
		edges := []struct{ from, to NodeState }{
			{Init, Single},
			{Init, WaitStandby},
			{WaitStandby, CatchingUp},
			{CatchingUp, Secondary},
			{Single, WaitPrimary},
			{WaitPrimary, Primary},
			{Secondary, PrepPromotion},
			{PrepPromotion, StopReplication},
			{StopReplication, WaitPrimary},
			{Demoted, CatchingUp},
		}
		for _, edge := range edges {
			_, ok := Lookup(edge.from, edge.to)
			Expect(ok).To(BeTrue(), "expected a transition from %s to %s", edge.from, edge.to)
		}
	})

	It("falls back to the any_state wildcard for DROPPED", func() {
		_, ok := Lookup(Secondary, Dropped)
		Expect(ok).To(BeTrue())
	})

	It("reports false for an undefined edge", func() {
		_, ok := Lookup(Maintenance, Secondary)
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("ensure-running-before-transition policy", func() {
	It("forbids starting postgres before reaching DRAINING", func() {
		Expect(MustEnsureRunningBeforeTransition(Primary, Draining)).To(BeFalse())
	})

	It("forbids starting postgres on the DEMOTED -> CATCHINGUP rewind edge", func() {
		Expect(MustEnsureRunningBeforeTransition(Demoted, CatchingUp)).To(BeFalse())
	})

	It("requires postgres running before an ordinary edge", func() {
		Expect(MustEnsureRunningBeforeTransition(Single, WaitPrimary)).To(BeTrue())
	})
})

var _ = Describe("CATCHINGUP -> SECONDARY", func() {
	It("fails while the standby has not caught up within tolerance", func() {
		db := newFakeDB()
		db.lsn = postgres.LSN("1/0")
		tc := &TransitionContext{DB: db, Source: ReplicationSource{TargetLSN: postgres.LSN("1/100")}, LSNCatchupTolerance: 0}

		err := transitionCatchingUpToSecondary(context.Background(), tc)
		Expect(err).To(HaveOccurred())
	})

	It("reconciles replication slots once caught up", func() {
		db := newFakeDB()
		db.lsn = postgres.LSN("1/100")
		tc := &TransitionContext{
			DB:                  db,
			Source:              ReplicationSource{TargetLSN: postgres.LSN("1/100")},
			LSNCatchupTolerance: 0,
			Peers:               []PeerSlot{{NodeID: 2, SlotName: "pgha_2", ReportedLSN: postgres.LSN("1/50")}},
		}

		Expect(transitionCatchingUpToSecondary(context.Background(), tc)).To(Succeed())
		Expect(db.slots).To(HaveKey("pgha_2"))
		Expect(db.slots["pgha_2"]).To(Equal(postgres.LSN("1/50")))
	})
})

var _ = Describe("WAIT_PRIMARY -> PRIMARY", func() {
	It("refuses to promote while no standby has connected", func() {
		db := newFakeDB()
		db.syncState = ""
		err := transitionWaitPrimaryToPrimary(context.Background(), &TransitionContext{DB: db})
		Expect(err).To(HaveOccurred())
	})

	It("promotes once a synchronous standby is connected", func() {
		db := newFakeDB()
		db.syncState = "sync"
		Expect(transitionWaitPrimaryToPrimary(context.Background(), &TransitionContext{DB: db})).To(Succeed())
	})
})

var _ = Describe("replication slot reconciliation", func() {
	It("drops slots for peers no longer in the group", func() {
		db := newFakeDB()
		db.slots["pgha_stale"] = postgres.LSN("1/0")
		db.lsn = postgres.LSN("1/100")

		tc := &TransitionContext{DB: db}
		Expect(reconcileReplicationSlots(context.Background(), tc)).To(Succeed())
		Expect(db.slots).NotTo(HaveKey("pgha_stale"))
	})

	It("never advances a slot past the local current LSN", func() {
		db := newFakeDB()
		db.lsn = postgres.LSN("1/10")
		tc := &TransitionContext{
			DB:    db,
			Peers: []PeerSlot{{NodeID: 2, SlotName: "pgha_2", ReportedLSN: postgres.LSN("1/999")}},
		}

		Expect(reconcileReplicationSlots(context.Background(), tc)).To(Succeed())
		Expect(db.slots["pgha_2"]).To(Equal(postgres.LSN("1/10")))
	})
})
