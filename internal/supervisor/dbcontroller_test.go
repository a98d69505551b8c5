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
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pgha-project/pgha/internal/fsm"
)

var _ = Describe("DBController", func() {
	var (
		ctx    context.Context
		dir    string
		path   string
		db     *fakeDB
		ctrl   *DBController
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		dir, err = os.MkdirTemp(os.TempDir(), "dbcontroller_")
		Expect(err).NotTo(HaveOccurred())

		path = filepath.Join(dir, "pg_autoctl.status")
		db = &fakeDB{}
		ctrl = &DBController{DB: db, ExpectedStatusPath: path, Restarts: &RestartTracker{}, SupervisorPID: os.Getpid()}
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("does nothing when the expected status is unknown", func() {
		Expect(ctrl.reconcileOnce(ctx)).To(Succeed())
		Expect(db.startCalls).To(Equal(0))
		Expect(db.stopCalls).To(Equal(0))
	})

	It("stops a running database when the expected status is stopped", func() {
		db.running = true
		Expect(fsm.WriteExpectedPostgresStatus(path, fsm.ExpectedPostgresStatusStopped)).To(Succeed())

		Expect(ctrl.reconcileOnce(ctx)).To(Succeed())
		Expect(db.stopCalls).To(Equal(1))
		Expect(db.running).To(BeFalse())
	})

	It("leaves a stopped database alone when the expected status is stopped", func() {
		Expect(fsm.WriteExpectedPostgresStatus(path, fsm.ExpectedPostgresStatusStopped)).To(Succeed())

		Expect(ctrl.reconcileOnce(ctx)).To(Succeed())
		Expect(db.stopCalls).To(Equal(0))
	})

	It("starts a stopped database when the expected status is running", func() {
		Expect(fsm.WriteExpectedPostgresStatus(path, fsm.ExpectedPostgresStatusRunning)).To(Succeed())

		Expect(ctrl.reconcileOnce(ctx)).To(Succeed())
		Expect(db.startCalls).To(Equal(1))
		Expect(db.running).To(BeTrue())
		Expect(ctrl.Restarts.FailuresWithinWindow(time.Now(), time.Minute)).To(Equal(0))
	})

	It("records a failure when starting the database errors out", func() {
		db.startErr = context.DeadlineExceeded
		Expect(fsm.WriteExpectedPostgresStatus(path, fsm.ExpectedPostgresStatusRunning)).To(Succeed())

		err := ctrl.reconcileOnce(ctx)
		Expect(err).To(HaveOccurred())
		Expect(ctrl.Restarts.FailuresWithinWindow(time.Now(), time.Minute)).To(Equal(1))
	})

	It("restarts postgres when running as a subprocess but not as our child", func() {
		db.running = true
		db.isChild = false
		Expect(fsm.WriteExpectedPostgresStatus(path, fsm.ExpectedPostgresStatusRunningAsSubprocess)).To(Succeed())

		Expect(ctrl.reconcileOnce(ctx)).To(Succeed())
		Expect(db.isChildCalls).To(Equal(1))
		Expect(db.stopCalls).To(Equal(1))
		Expect(db.startCalls).To(Equal(1))
	})

	It("leaves postgres alone when it is already our child", func() {
		db.running = true
		db.isChild = true
		Expect(fsm.WriteExpectedPostgresStatus(path, fsm.ExpectedPostgresStatusRunningAsSubprocess)).To(Succeed())

		Expect(ctrl.reconcileOnce(ctx)).To(Succeed())
		Expect(db.stopCalls).To(Equal(0))
		Expect(db.startCalls).To(Equal(0))
	})
})
