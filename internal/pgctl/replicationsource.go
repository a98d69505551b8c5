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
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/pgha-project/pgha/internal/fsm"
	"github.com/pgha-project/pgha/pkg/fileutils"
	"github.com/pgha-project/pgha/pkg/postgres"
)

const standbySignalName = "standby.signal"
const autoConfName = "postgresql.auto.conf"
const recoveryConfName = "recovery.conf"
const autoConfMarkerBegin = "# pgha replication source, do not edit below this line\n"

// WriteReplicationSource renders source to disk using whichever style
// this engine version supports, restarting the database only when the
// rendered content actually changed. Applying the same source twice must
// therefore never trigger a second restart.
func (s *Server) WriteReplicationSource(ctx context.Context, source fsm.ReplicationSource) (bool, error) {
	version, err := s.engineVersionForRendering()
	if err != nil {
		return false, err
	}

	var changed bool
	if postgres.UsesStandbySignalFile(version) {
		changed, err = s.writeStandbySignalStyle(source)
	} else {
		changed, err = s.writeRecoveryConfStyle(source)
	}
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}

	running, err := s.IsRunning(ctx)
	if err != nil {
		return changed, err
	}
	if running {
		if err := s.Stop(ctx); err != nil {
			return changed, fmt.Errorf("while stopping postgres to apply replication source: %w", err)
		}
		if err := s.Start(ctx); err != nil {
			return changed, fmt.Errorf("while restarting postgres after replication source change: %w", err)
		}
	}
	return changed, nil
}

// engineVersionForRendering prefers the live server_version_num, falling
// back to control data when the instance is not currently running (a
// fresh base backup, or mid-rewind).
func (s *Server) engineVersionForRendering() (int, error) {
	if running, err := s.IsRunning(context.Background()); err == nil && running {
		if version, err := s.postgresVersion(); err == nil {
			return version, nil
		}
	}

	data, err := s.ReadControlData()
	if err != nil {
		return 0, fmt.Errorf("while determining engine version for replication source rendering: %w", err)
	}
	// PG_CONTROL_VERSION tracks the control-file layout, not the server
	// version directly, but every layout bump to date has coincided with
	// a major version bump, so comparing against the cutover's control
	// version is equivalent for the versions pgha supports.
	return data.PgControlVersion * 100, nil
}

func conninfo(source fsm.ReplicationSource) string {
	conninfo := fmt.Sprintf("host=%s port=%d user=%s password=%s sslmode=%s application_name=%s",
		source.PrimaryHost, source.PrimaryPort, source.ReplicationUser, source.ReplicationPass,
		sslModeOrDefault(source.SSLMode), source.ApplicationName)
	return conninfo
}

func sslModeOrDefault(mode string) string {
	if mode == "" {
		return "prefer"
	}
	return mode
}

func (s *Server) writeStandbySignalStyle(source fsm.ReplicationSource) (bool, error) {
	signalPath := s.PGData + "/" + standbySignalName
	signalChanged, err := fileutils.WriteFileAtomic(signalPath, []byte{})
	if err != nil {
		return false, fmt.Errorf("while writing %s: %w", standbySignalName, err)
	}

	autoConfPath := s.PGData + "/" + autoConfName
	existing, err := fileReadOrEmpty(autoConfPath)
	if err != nil {
		return false, err
	}

	marker := []byte(autoConfMarkerBegin)
	base := existing
	if idx := bytes.Index(existing, marker); idx >= 0 {
		base = existing[:idx]
	}

	buf := bytes.NewBuffer(base)
	buf.WriteString(autoConfMarkerBegin)
	fmt.Fprintf(buf, "primary_conninfo = '%s'\n", conninfo(source))
	fmt.Fprintf(buf, "primary_slot_name = '%s'\n", source.SlotName)
	if source.TargetLSN != "" && source.TargetLSN != postgres.InvalidLSN {
		fmt.Fprintf(buf, "recovery_target_lsn = '%s'\n", source.TargetLSN)
		buf.WriteString("recovery_target_action = 'promote'\n")
	}

	autoConfChanged, err := fileutils.WriteFileAtomic(autoConfPath, buf.Bytes())
	if err != nil {
		return false, fmt.Errorf("while writing %s: %w", autoConfName, err)
	}

	return signalChanged || autoConfChanged, nil
}

func (s *Server) writeRecoveryConfStyle(source fsm.ReplicationSource) (bool, error) {
	buf := &bytes.Buffer{}
	buf.WriteString("standby_mode = 'on'\n")
	fmt.Fprintf(buf, "primary_conninfo = '%s'\n", conninfo(source))
	fmt.Fprintf(buf, "primary_slot_name = '%s'\n", source.SlotName)
	if source.TargetLSN != "" && source.TargetLSN != postgres.InvalidLSN {
		fmt.Fprintf(buf, "recovery_target_lsn = '%s'\n", source.TargetLSN)
		buf.WriteString("recovery_target_action = 'promote'\n")
	}

	// A standby.signal may be left over from a newer-engine rendering
	// that this node has since been downgraded away from; it is harmless
	// to remove since recovery.conf alone governs standby mode here.
	_ = os.Remove(s.PGData + "/" + standbySignalName)

	return fileutils.WriteFileAtomic(s.PGData+"/"+recoveryConfName, buf.Bytes())
}
