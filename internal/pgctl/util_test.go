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
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("isEmptyDir", func() {
	It("treats a missing directory as empty", func() {
		empty, err := isEmptyDir(filepath.Join(os.TempDir(), "pgha-does-not-exist"))
		Expect(err).NotTo(HaveOccurred())
		Expect(empty).To(BeTrue())
	})

	It("treats a directory with entries as non-empty", func() {
		dir, err := os.MkdirTemp(os.TempDir(), "pgctl_isempty_")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		Expect(os.WriteFile(filepath.Join(dir, "PG_VERSION"), []byte("16\n"), 0o600)).To(Succeed())

		empty, err := isEmptyDir(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(empty).To(BeFalse())
	})
})

var _ = Describe("HBA managed-section stripping", func() {
	It("keeps user content above the marker and drops everything below it", func() {
		dir, err := os.MkdirTemp(os.TempDir(), "pgctl_hba_")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		path := filepath.Join(dir, "pg_hba.conf")
		content := "local all all trust\n" + hbaMarkerBegin + "host replication old_peer 0.0.0.0/0 md5\n"
		Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())

		kept, err := readHBAWithoutManagedSection(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(kept)).To(Equal("local all all trust\n"))
	})
})
