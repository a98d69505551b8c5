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

package pgctl

import (
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pgha-project/pgha/internal/fsm"
)

var _ = Describe("standby.signal style rendering", func() {
	var server *Server

	BeforeEach(func() {
		dir, err := os.MkdirTemp(os.TempDir(), "pgctl_repl_")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { os.RemoveAll(dir) })
		server = &Server{PGData: dir}
	})

	It("writes standby.signal and postgresql.auto.conf, reporting changed on first write", func() {
		source := fsm.ReplicationSource{
			PrimaryHost: "primary.internal", PrimaryPort: 5432,
			ReplicationUser: "pgha_repl", ReplicationPass: "s3cret",
			SlotName: "pgha_2", ApplicationName: "pgha_2",
		}

		changed, err := server.writeStandbySignalStyle(source)
		Expect(err).NotTo(HaveOccurred())
		Expect(changed).To(BeTrue())

		Expect(server.PGData + "/" + standbySignalName).To(BeAnExistingFile())
		Expect(server.PGData + "/" + autoConfName).To(BeAnExistingFile())
	})

	It("reports unchanged when applying the identical source twice", func() {
		source := fsm.ReplicationSource{
			PrimaryHost: "primary.internal", PrimaryPort: 5432,
			ReplicationUser: "pgha_repl", ReplicationPass: "s3cret",
			SlotName: "pgha_2", ApplicationName: "pgha_2",
		}

		_, err := server.writeStandbySignalStyle(source)
		Expect(err).NotTo(HaveOccurred())

		changed, err := server.writeStandbySignalStyle(source)
		Expect(err).NotTo(HaveOccurred())
		Expect(changed).To(BeFalse())
	})

	It("reports changed when the primary host differs", func() {
		base := fsm.ReplicationSource{PrimaryHost: "a", PrimaryPort: 5432, SlotName: "pgha_2"}
		_, err := server.writeStandbySignalStyle(base)
		Expect(err).NotTo(HaveOccurred())

		changed, err := server.writeStandbySignalStyle(fsm.ReplicationSource{PrimaryHost: "b", PrimaryPort: 5432, SlotName: "pgha_2"})
		Expect(err).NotTo(HaveOccurred())
		Expect(changed).To(BeTrue())
	})
})

var _ = Describe("recovery.conf style rendering", func() {
	It("removes a stale standby.signal left over from a newer rendering", func() {
		dir, err := os.MkdirTemp(os.TempDir(), "pgctl_recoveryconf_")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		Expect(os.WriteFile(dir+"/"+standbySignalName, []byte{}, 0o600)).To(Succeed())

		server := &Server{PGData: dir}
		_, err = server.writeRecoveryConfStyle(fsm.ReplicationSource{PrimaryHost: "a", PrimaryPort: 5432, SlotName: "pgha_2"})
		Expect(err).NotTo(HaveOccurred())

		Expect(dir + "/" + standbySignalName).NotTo(BeAnExistingFile())
		Expect(dir + "/" + recoveryConfName).To(BeAnExistingFile())
	})
})
