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
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pgha-project/pgha/pkg/postgres"
)

var _ = Describe("KeeperState persistence", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp(os.TempDir(), "fsm_keeperstate_")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(os.RemoveAll(dir)).To(Succeed())
	})

	It("writes then reads back the identical struct", func() {
		path := filepath.Join(dir, "pg_autoctl.state")
		original := KeeperState{
			CurrentNodeID:       1,
			CurrentGroup:        0,
			CurrentRole:         Primary,
			AssignedRole:        Primary,
			LastMonitorContact:  1700000000,
			SystemIdentifier:    1234567890123,
			PgControlVersion:    1300,
			CatalogVersionNo:    202307071,
			XlogLSNLastReported: postgres.LSN("3/A9FFFBE8"),
		}

		Expect(original.Write(path)).To(Succeed())

		loaded, err := ReadKeeperState(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(*loaded).To(Equal(original))
	})

	It("rejects a state file with a mismatched version header", func() {
		path := filepath.Join(dir, "pg_autoctl.state")
		Expect(os.WriteFile(path, []byte{0x00, 0x00, 0x00, 0x02}, 0o600)).To(Succeed())

		_, err := ReadKeeperState(path)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("ExpectedPostgresStatus persistence", func() {
	It("round-trips every defined status", func() {
		dir, err := os.MkdirTemp(os.TempDir(), "fsm_status_")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		path := filepath.Join(dir, "pg_autoctl.pg_status")
		for _, status := range []ExpectedPostgresStatus{
			ExpectedPostgresStatusStopped,
			ExpectedPostgresStatusRunning,
			ExpectedPostgresStatusRunningAsSubprocess,
		} {
			Expect(WriteExpectedPostgresStatus(path, status)).To(Succeed())
			read, err := ReadExpectedPostgresStatus(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(read).To(Equal(status))
		}
	})

	It("treats a missing file as unknown rather than an error", func() {
		status, err := ReadExpectedPostgresStatus(filepath.Join(os.TempDir(), "does-not-exist-pg-status"))
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(ExpectedPostgresStatusUnknown))
	})
})
