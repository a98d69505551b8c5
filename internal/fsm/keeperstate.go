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
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/pgha-project/pgha/pkg/fileutils"
	"github.com/pgha-project/pgha/pkg/postgres"
)

// keeperStateVersion is bumped whenever the on-disk layout of KeeperState
// changes incompatibly.
const keeperStateVersion uint32 = 1

const lsnFieldWidth = 20

// KeeperState is the keeper's durable view of its own role, written
// exclusively by the FSM driver and read on every process start.
type KeeperState struct {
	CurrentNodeID        int64
	CurrentGroup         int64
	CurrentRole          NodeState
	AssignedRole         NodeState
	LastMonitorContact   int64
	SystemIdentifier     uint64
	PgControlVersion     uint32
	CatalogVersionNo     uint32
	XlogLSNLastReported  postgres.LSN
}

// KeeperStatePath returns the canonical state-file location inside a data directory.
func KeeperStatePath(pgdata string) string {
	return pgdata + "/pg_autoctl.state"
}

// Write persists state atomically (write-to-temp-then-rename) to path.
func (state KeeperState) Write(path string) error {
	buf := &bytes.Buffer{}

	if err := binary.Write(buf, binary.BigEndian, keeperStateVersion); err != nil {
		return fmt.Errorf("while encoding keeper state version: %w", err)
	}

	fields := []interface{}{
		state.CurrentNodeID,
		state.CurrentGroup,
		int32(state.CurrentRole),
		int32(state.AssignedRole),
		state.LastMonitorContact,
		state.SystemIdentifier,
		state.PgControlVersion,
		state.CatalogVersionNo,
	}
	for _, field := range fields {
		if err := binary.Write(buf, binary.BigEndian, field); err != nil {
			return fmt.Errorf("while encoding keeper state: %w", err)
		}
	}

	var lsnField [lsnFieldWidth]byte
	copy(lsnField[:], state.XlogLSNLastReported)
	if _, err := buf.Write(lsnField[:]); err != nil {
		return fmt.Errorf("while encoding reported LSN: %w", err)
	}

	if _, err := fileutils.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("while writing keeper state to %q: %w", path, err)
	}
	return nil
}

// ReadKeeperState loads and decodes the state file at path.
func ReadKeeperState(path string) (*KeeperState, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("while reading keeper state %q: %w", path, err)
	}

	buf := bytes.NewReader(raw)

	var version uint32
	if err := binary.Read(buf, binary.BigEndian, &version); err != nil {
		return nil, fmt.Errorf("while decoding keeper state version: %w", err)
	}
	if version != keeperStateVersion {
		return nil, fmt.Errorf("keeper state %q has version %d, expected %d", path, version, keeperStateVersion)
	}

	var state KeeperState
	var currentRole, assignedRole int32

	fields := []interface{}{
		&state.CurrentNodeID,
		&state.CurrentGroup,
		&currentRole,
		&assignedRole,
		&state.LastMonitorContact,
		&state.SystemIdentifier,
		&state.PgControlVersion,
		&state.CatalogVersionNo,
	}
	for _, field := range fields {
		if err := binary.Read(buf, binary.BigEndian, field); err != nil {
			return nil, fmt.Errorf("while decoding keeper state %q: %w", path, err)
		}
	}
	state.CurrentRole = NodeState(currentRole)
	state.AssignedRole = NodeState(assignedRole)

	var lsnField [lsnFieldWidth]byte
	if _, err := buf.Read(lsnField[:]); err != nil {
		return nil, fmt.Errorf("while decoding reported LSN in %q: %w", path, err)
	}
	state.XlogLSNLastReported = postgres.LSN(bytes.TrimRight(lsnField[:], "\x00"))

	return &state, nil
}

// InitState records what `create postgres` found in PGDATA when it
// began, so a crashed init can be resumed idempotently
// instead of reinitializing a directory that already has data in it.
type InitState int

const (
	InitStateUnknown InitState = iota
	InitStatePGDataEmpty
	InitStatePGDataExists
	InitStateRunning
	InitStatePrimary
)

// KeeperInitState is the content of pg_autoctl.init.
type KeeperInitState struct {
	State InitState
}

func KeeperInitStatePath(pgdata string) string {
	return pgdata + "/pg_autoctl.init"
}

func (init KeeperInitState) Write(path string) error {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.BigEndian, int32(init.State)); err != nil {
		return fmt.Errorf("while encoding init state: %w", err)
	}
	if _, err := fileutils.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("while writing init state to %q: %w", path, err)
	}
	return nil
}

func ReadKeeperInitState(path string) (*KeeperInitState, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("while reading init state %q: %w", path, err)
	}
	var state int32
	if err := binary.Read(bytes.NewReader(raw), binary.BigEndian, &state); err != nil {
		return nil, fmt.Errorf("while decoding init state %q: %w", path, err)
	}
	return &KeeperInitState{State: InitState(state)}, nil
}

// RemoveKeeperInitState deletes the init marker once `create postgres`
// has completed successfully.
func RemoveKeeperInitState(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("while removing init state %q: %w", path, err)
	}
	return nil
}

// ExpectedPostgresStatus is the only inter-process channel between the
// FSM driver and the DB controller: the driver writes it, the controller
// reads it every polling interval and reconciles the running database
// against it. No other file is written by both processes.
type ExpectedPostgresStatus int

const (
	ExpectedPostgresStatusUnknown ExpectedPostgresStatus = iota
	ExpectedPostgresStatusStopped
	ExpectedPostgresStatusRunning
	ExpectedPostgresStatusRunningAsSubprocess
)

func (s ExpectedPostgresStatus) String() string {
	switch s {
	case ExpectedPostgresStatusStopped:
		return "stopped"
	case ExpectedPostgresStatusRunning:
		return "running"
	case ExpectedPostgresStatusRunningAsSubprocess:
		return "running_as_subprocess"
	default:
		return "unknown"
	}
}

func ExpectedPostgresStatusPath(pgdata string) string {
	return pgdata + "/pg_autoctl.pg_status"
}

func WriteExpectedPostgresStatus(path string, status ExpectedPostgresStatus) error {
	if _, err := fileutils.WriteFileAtomic(path, []byte(status.String())); err != nil {
		return fmt.Errorf("while writing expected postgres status to %q: %w", path, err)
	}
	return nil
}

func ReadExpectedPostgresStatus(path string) (ExpectedPostgresStatus, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ExpectedPostgresStatusUnknown, nil
		}
		return ExpectedPostgresStatusUnknown, fmt.Errorf("while reading expected postgres status %q: %w", path, err)
	}

	switch string(raw) {
	case "stopped":
		return ExpectedPostgresStatusStopped, nil
	case "running":
		return ExpectedPostgresStatusRunning, nil
	case "running_as_subprocess":
		return ExpectedPostgresStatusRunningAsSubprocess, nil
	default:
		return ExpectedPostgresStatusUnknown, nil
	}
}
