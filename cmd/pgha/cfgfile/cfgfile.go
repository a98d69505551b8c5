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

// Package cfgfile locates and renders the keeper's pg_autoctl.ini,
// shared between `create postgres` (which writes it), `run` (which loads
// it through internal/config.Loader) and `enable|disable monitor` (which
// load it, change the monitor URI and write it back).
package cfgfile

import (
	"fmt"
	"path/filepath"

	"github.com/pgha-project/pgha/internal/config"
	"github.com/pgha-project/pgha/pkg/fileutils"
)

// Path returns the canonical configuration file location for a data
// directory: a sibling of the state and init files, so the three on-disk
// contracts a keeper owns live in one place.
func Path(pgdata string) string {
	return filepath.Join(pgdata, "pg_autoctl.ini")
}

// Write renders cfg as the INI format internal/config.Loader expects.
func Write(path string, cfg config.Config) error {
	body := fmt.Sprintf(
		"pgdata = %s\n"+
			"pg_config = %s\n"+
			"node_name = %s\n"+
			"host = %s\n"+
			"port = %d\n"+
			"formation = %s\n"+
			"group_id = %d\n"+
			"candidate_priority = %d\n"+
			"replication_quorum = %t\n"+
			"monitor = %s\n"+
			"monitor_conninfo = %s\n"+
			"replication_user = %s\n"+
			"replication_password = %s\n"+
			"node_active_interval = %d\n"+
			"sslmode = %s\n",
		cfg.PGData, cfg.PGBin, cfg.NodeName, cfg.Host, cfg.Port,
		cfg.Formation, cfg.GroupID, cfg.CandidatePriority, cfg.ReplicationQuorum,
		cfg.MonitorURI, cfg.MonitorConninfo, cfg.ReplicationUser, cfg.ReplicationPassword,
		cfg.NodeActiveIntervalSeconds, cfg.SSLMode,
	)

	if _, err := fileutils.WriteFileAtomic(path, []byte(body)); err != nil {
		return fmt.Errorf("while writing configuration %q: %w", path, err)
	}
	return nil
}
