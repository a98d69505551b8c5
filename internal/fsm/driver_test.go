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
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pgha-project/pgha/pkg/postgres"
)

var _ = Describe("Driver", func() {
	var (
		dir     string
		monitor *fakeMonitor
		db      *fakeDB
		driver  *Driver
		ctx     context.Context
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp(os.TempDir(), "fsm_driver_")
		Expect(err).NotTo(HaveOccurred())

		monitor = &fakeMonitor{registerResponse: RegisterResponse{NodeID: 1, GroupID: 0, Name: "node-a", AssignedRole: Init}}
		db = newFakeDB()
		ctx = context.Background()

		driver = &Driver{
			Monitor:   monitor,
			DB:        db,
			StatePath: filepath.Join(dir, "pg_autoctl.state"),
			Formation: "default",
			NodeName:  "node-a",
		}
	})

	AfterEach(func() {
		Expect(os.RemoveAll(dir)).To(Succeed())
	})

	It("registers and persists the assigned role", func() {
		Expect(driver.RegisterAndInit(ctx, 42, Init, 100, true)).To(Succeed())
		Expect(driver.State().CurrentNodeID).To(Equal(int64(1)))
		Expect(driver.State().AssignedRole).To(Equal(Init))

		reloaded := &Driver{StatePath: driver.StatePath}
		Expect(reloaded.LoadState()).To(Succeed())
		Expect(reloaded.State().CurrentNodeID).To(Equal(int64(1)))
	})

	It("reports no_state without error when nothing has registered", func() {
		Expect(driver.LoadState()).To(Succeed())
		Expect(driver.State()).To(BeNil())
	})

	It("drives INIT to SINGLE on the first fsm_step and starts postgres", func() {
		Expect(driver.RegisterAndInit(ctx, 42, Single, 100, true)).To(Succeed())
		driver.state.CurrentRole = Init
		Expect(driver.state.AssignedRole).To(Equal(Single))

		tc := &TransitionContext{DB: db}
		Expect(driver.FSMStep(ctx, tc)).To(Succeed())

		Expect(driver.State().CurrentRole).To(Equal(Single))
		Expect(db.running).To(BeTrue())
	})

	It("does not advance current_role when the transition fails", func() {
		Expect(driver.RegisterAndInit(ctx, 42, Secondary, 100, true)).To(Succeed())
		driver.state.CurrentRole = WaitStandby
		driver.state.AssignedRole = CatchingUp

		tc := &TransitionContext{
			DB:     db,
			Source: ReplicationSource{TargetLSN: postgres.LSN("0/100")},
		}
		// db has no running instance and fails to report progress since
		// it never catches up; this only exercises the WAIT_STANDBY ->
		// CATCHINGUP edge, which always succeeds once started, so force
		// an undefined edge instead to exercise the failure path.
		driver.state.CurrentRole = Maintenance
		driver.state.AssignedRole = Secondary

		err := driver.FSMStep(ctx, tc)
		Expect(err).To(HaveOccurred())
		Expect(driver.State().CurrentRole).To(Equal(Maintenance))
	})

	It("leaves current_role untouched once it matches assigned_role", func() {
		Expect(driver.RegisterAndInit(ctx, 42, Single, 100, true)).To(Succeed())
		driver.state.CurrentRole = Single
		driver.state.AssignedRole = Single

		Expect(driver.FSMStep(ctx, &TransitionContext{DB: db})).To(Succeed())
		Expect(db.startCalls).To(Equal(0))
		Expect(driver.State().CurrentRole).To(Equal(Single))
	})

	It("extends primary restart tolerance before reporting pg_is_running=false", func() {
		Expect(driver.RegisterAndInit(ctx, 42, Primary, 100, true)).To(Succeed())
		driver.state.CurrentRole = Primary
		driver.MaxPrimaryRestartRetries = 3
		driver.Restarts = &fakeRestartTracker{failures: 1}

		Expect(driver.NodeActive(ctx, false, 1, postgres.LSN("0/0"), "")).To(Succeed())
		Expect(monitor.nodeActiveCalls).To(Equal(1))
		Expect(monitor.lastPgIsRunning).To(BeTrue())
	})

	It("ensures the database is stopped when current_role demands it", func() {
		Expect(driver.RegisterAndInit(ctx, 42, Demoted, 100, true)).To(Succeed())
		driver.state.CurrentRole = Demoted
		db.running = true

		Expect(driver.EnsureCurrentState(ctx, &TransitionContext{DB: db})).To(Succeed())
		Expect(db.running).To(BeFalse())
	})

	It("ensures the database is running for an ordinary role", func() {
		Expect(driver.RegisterAndInit(ctx, 42, Secondary, 100, true)).To(Succeed())
		driver.state.CurrentRole = Secondary
		db.running = false

		Expect(driver.EnsureCurrentState(ctx, &TransitionContext{DB: db})).To(Succeed())
		Expect(db.running).To(BeTrue())
	})

	It("reconciles replication slots for a steady primary with no pending transition", func() {
		Expect(driver.RegisterAndInit(ctx, 42, Primary, 100, true)).To(Succeed())
		driver.state.CurrentRole = Primary
		db.running = true
		db.slots["pgha_5"] = postgres.InvalidLSN

		tc := &TransitionContext{
			DB:    db,
			Peers: []PeerSlot{{NodeID: 7, SlotName: "pgha_7", ReportedLSN: postgres.LSN("0/50")}},
		}
		Expect(driver.EnsureCurrentState(ctx, tc)).To(Succeed())

		Expect(db.slots).NotTo(HaveKey("pgha_5"))
		Expect(db.slots).To(HaveKey("pgha_7"))
	})

	It("does not touch replication slots while catching up", func() {
		Expect(driver.RegisterAndInit(ctx, 42, CatchingUp, 100, true)).To(Succeed())
		driver.state.CurrentRole = CatchingUp
		db.running = true
		db.slots["pgha_5"] = postgres.InvalidLSN

		tc := &TransitionContext{DB: db}
		Expect(driver.EnsureCurrentState(ctx, tc)).To(Succeed())

		Expect(db.slots).To(HaveKey("pgha_5"))
	})
})
