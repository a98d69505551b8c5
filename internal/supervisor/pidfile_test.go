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
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("PIDFile", func() {
	It("round-trips the header and service lines", func() {
		dir, err := os.MkdirTemp(os.TempDir(), "pidfile_")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		path := filepath.Join(dir, "pg_autoctl.pid")
		original := PIDFile{
			SupervisorPID:  4242,
			PGData:         "/var/lib/postgresql/16/main",
			AgentVersion:   "1.0.0",
			RequiredSchema: "1.0",
			SemaphoreID:    "17",
			Services:       map[int]string{4243: "fsm", 4244: "db-controller"},
		}

		Expect(original.Write(path)).To(Succeed())

		loaded, err := ReadPIDFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.SupervisorPID).To(Equal(4242))
		Expect(loaded.PGData).To(Equal("/var/lib/postgresql/16/main"))
		Expect(loaded.Services).To(HaveKeyWithValue(4243, "fsm"))
		Expect(loaded.Services).To(HaveKeyWithValue(4244, "db-controller"))
	})

	It("rejects a file missing the required header lines", func() {
		dir, err := os.MkdirTemp(os.TempDir(), "pidfile_bad_")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		path := filepath.Join(dir, "pg_autoctl.pid")
		Expect(os.WriteFile(path, []byte("4242\n"), 0o600)).To(Succeed())

		_, err = ReadPIDFile(path)
		Expect(err).To(HaveOccurred())
	})
})
