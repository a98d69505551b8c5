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

package cfgfile

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pgha-project/pgha/internal/config"
)

var _ = Describe("Path", func() {
	It("places the config file next to the state and init files under pgdata", func() {
		Expect(Path("/data/pg")).To(Equal(filepath.Join("/data/pg", "pg_autoctl.ini")))
	})
})

var _ = Describe("Write", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp(os.TempDir(), "cfgfile_")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("renders a configuration that internal/config.Loader can load back", func() {
		path := Path(dir)
		cfg := config.Config{
			PGData:                    dir,
			PGBin:                     "/usr/lib/postgresql/16/bin",
			NodeName:                  "node-a",
			Host:                      "10.0.0.1",
			Port:                      5432,
			Formation:                 "default",
			GroupID:                   0,
			CandidatePriority:         100,
			ReplicationQuorum:         true,
			MonitorURI:                "http://10.0.0.9:8001",
			ReplicationUser:           "pgha_replicator",
			ReplicationPassword:       "s3cr3t",
			NodeActiveIntervalSeconds: 5,
			SSLMode:                   "prefer",
		}

		Expect(Write(path, cfg)).To(Succeed())

		loaded, err := config.NewLoader(path).Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.PGData).To(Equal(cfg.PGData))
		Expect(loaded.NodeName).To(Equal(cfg.NodeName))
		Expect(loaded.Port).To(Equal(cfg.Port))
		Expect(loaded.MonitorURI).To(Equal(cfg.MonitorURI))
		Expect(loaded.ReplicationUser).To(Equal(cfg.ReplicationUser))
		Expect(loaded.ReplicationQuorum).To(Equal(cfg.ReplicationQuorum))
		Expect(loaded.SSLMode).To(Equal(cfg.SSLMode))
	})

	It("overwrites an existing configuration file", func() {
		path := Path(dir)
		first := config.Config{PGData: dir, NodeName: "node-a", MonitorURI: "http://10.0.0.9:8001"}
		Expect(Write(path, first)).To(Succeed())

		second := first
		second.MonitorURI = "http://10.0.0.10:8001"
		Expect(Write(path, second)).To(Succeed())

		loaded, err := config.NewLoader(path).Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.MonitorURI).To(Equal("http://10.0.0.10:8001"))
	})
})
