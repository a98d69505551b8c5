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

package config

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const sampleINI = `
pgdata = /data/pg
node_name = node-a
host = 10.0.0.1
port = 5432
formation = default
group_id = 0
monitor = http://10.0.0.9:8001
`

func writeSample(dir, contents string) string {
	path := filepath.Join(dir, "pg_autoctl.ini")
	Expect(os.WriteFile(path, []byte(contents), 0o600)).To(Succeed())
	return path
}

var _ = Describe("Loader", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp(os.TempDir(), "config_")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("loads a configuration file and applies defaults", func() {
		path := writeSample(dir, sampleINI)
		loader := NewLoader(path)
		cfg, err := loader.Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.PGData).To(Equal("/data/pg"))
		Expect(cfg.NodeName).To(Equal("node-a"))
		Expect(cfg.NodeActiveIntervalSeconds).To(Equal(5))
		Expect(cfg.ReplicationQuorum).To(BeTrue())
	})

	It("accepts a reload that only changes the monitor URI", func() {
		path := writeSample(dir, sampleINI)
		loader := NewLoader(path)
		_, err := loader.Load()
		Expect(err).NotTo(HaveOccurred())

		updated := sampleINI + "\nmonitor = http://10.0.0.10:8001\n"
		Expect(os.WriteFile(path, []byte(updated), 0o600)).To(Succeed())

		cfg, err := loader.Reload()
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.MonitorURI).To(Equal("http://10.0.0.10:8001"))
	})

	It("refuses a reload that changes pgdata", func() {
		path := writeSample(dir, sampleINI)
		loader := NewLoader(path)
		original, err := loader.Load()
		Expect(err).NotTo(HaveOccurred())

		changed := `
pgdata = /data/other
node_name = node-a
host = 10.0.0.1
port = 5432
formation = default
group_id = 0
monitor = http://10.0.0.9:8001
`
		Expect(os.WriteFile(path, []byte(changed), 0o600)).To(Succeed())

		cfg, err := loader.Reload()
		Expect(err).To(HaveOccurred())
		Expect(cfg.PGData).To(Equal(original.PGData))
	})

	It("refuses a reload that changes the node name", func() {
		path := writeSample(dir, sampleINI)
		loader := NewLoader(path)
		_, err := loader.Load()
		Expect(err).NotTo(HaveOccurred())

		changed := `
pgdata = /data/pg
node_name = node-b
host = 10.0.0.1
port = 5432
formation = default
group_id = 0
monitor = http://10.0.0.9:8001
`
		Expect(os.WriteFile(path, []byte(changed), 0o600)).To(Succeed())

		_, err = loader.Reload()
		Expect(err).To(HaveOccurred())
	})
})
