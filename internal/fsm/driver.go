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
	"context"
	"fmt"
	"time"

	"github.com/pgha-project/pgha/internal/errclass"
	"github.com/pgha-project/pgha/internal/log"
	"github.com/pgha-project/pgha/pkg/fileutils"
	"github.com/pgha-project/pgha/pkg/postgres"
)

// RestartTracker reports how many times the local database has failed to
// start inside a trailing window, the input to the PRIMARY restart-
// tolerance policy. internal/supervisor owns the writer side; the driver
// only ever reads it.
type RestartTracker interface {
	FailuresWithinWindow(now time.Time, window time.Duration) int
}

// Driver runs one node's keeper FSM: it holds the durable KeeperState,
// looks up and executes transitions, and talks to the monitor.
type Driver struct {
	Monitor  MonitorClient
	DB       LocalPostgresServer
	Restarts RestartTracker

	StatePath     string
	InitStatePath string

	Formation string
	NodeName  string
	Host      string
	Port      int

	ReplicationUser     string
	ReplicationPassword string
	LSNCatchupTolerance int64

	MaxPrimaryRestartRetries     int
	PrimaryRestartFailureTimeout time.Duration

	state *KeeperState
}

// State returns the in-memory KeeperState, or nil if none has been loaded
// or registered yet.
func (d *Driver) State() *KeeperState {
	return d.state
}

// LoadState reads the on-disk state file into memory. It is not an error
// for the file to be absent: that means this node has never registered.
func (d *Driver) LoadState() error {
	if exists, err := fileutils.FileExists(d.StatePath); err != nil {
		return err
	} else if !exists {
		d.state = nil
		return nil
	}

	state, err := ReadKeeperState(d.StatePath)
	if err != nil {
		return err
	}
	d.state = state
	return nil
}

// RegisterAndInit contacts the monitor to join a formation, then writes
// the resulting KeeperState. The monitor commits the registration before
// the state file is written, and nothing here undoes it: if the write
// fails, the node row stays on the monitor with no local state file.
// register_node does not look up an existing row for the same host and
// port, so a retry inserts a new row, which the monitor's unique
// (formation, group_id, name) constraint rejects when the name and group
// are unchanged.
func (d *Driver) RegisterAndInit(ctx context.Context, systemIdentifier uint64, desiredInitial NodeState, candidatePriority int, replicationQuorum bool) error {
	resp, err := d.Monitor.RegisterNode(ctx, RegisterRequest{
		Formation:         d.Formation,
		Name:              d.NodeName,
		Host:              d.Host,
		Port:              d.Port,
		SystemIdentifier:  systemIdentifier,
		DesiredInitial:    desiredInitial,
		Kind:              "postgres",
		CandidatePriority: candidatePriority,
		ReplicationQuorum: replicationQuorum,
	})
	if err != nil {
		return fmt.Errorf("while registering with the monitor: %w", err)
	}

	state := &KeeperState{
		CurrentNodeID:    resp.NodeID,
		CurrentGroup:     resp.GroupID,
		CurrentRole:      NoState,
		AssignedRole:     resp.AssignedRole,
		SystemIdentifier: systemIdentifier,
	}
	if err := state.Write(d.StatePath); err != nil {
		return fmt.Errorf("while persisting keeper state after registration: %w", err)
	}

	d.NodeName = resp.Name
	d.state = state
	return nil
}

// NodeActive reports this node's current status to the monitor and
// records the newly assigned role. It does not execute any transition;
// FSMStep does that on the next loop iteration.
func (d *Driver) NodeActive(ctx context.Context, pgIsRunning bool, timelineID int, lsn postgres.LSN, syncState string) error {
	if d.state == nil {
		return errclass.MakeUnretryable(fmt.Errorf("node_active called before registration"))
	}

	reportedRunning := pgIsRunning
	if d.state.CurrentRole == Primary && !pgIsRunning && d.Restarts != nil {
		failures := d.Restarts.FailuresWithinWindow(time.Now(), d.PrimaryRestartFailureTimeout)
		if failures < d.MaxPrimaryRestartRetries {
			log.Warning("postgres is not running but within the primary restart tolerance window, "+
				"not yet reporting down", "failures", failures, "max", d.MaxPrimaryRestartRetries)
			reportedRunning = true
		}
	}

	resp, err := d.Monitor.NodeActive(ctx, NodeActiveRequest{
		Formation:     d.Formation,
		NodeID:        d.state.CurrentNodeID,
		GroupID:       d.state.CurrentGroup,
		ReportedState: d.state.CurrentRole,
		PgIsRunning:   reportedRunning,
		TimelineID:    timelineID,
		LSN:           lsn,
		SyncState:     syncState,
	})
	if err != nil {
		return fmt.Errorf("while reporting node_active to the monitor: %w", err)
	}

	d.state.AssignedRole = resp.AssignedState
	d.state.XlogLSNLastReported = lsn
	d.state.LastMonitorContact = time.Now().Unix()
	if resp.Name != "" {
		d.NodeName = resp.Name
	}

	return d.state.Write(d.StatePath)
}

// FSMStep executes at most one transition: if current_role already
// equals assigned_role there is nothing to do. On success, current_role
// is advanced and persisted; on failure, current_role is left untouched
// so the next loop iteration retries the same edge.
func (d *Driver) FSMStep(ctx context.Context, tc *TransitionContext) error {
	if d.state == nil {
		return errclass.MakeUnretryable(fmt.Errorf("fsm_step called before registration"))
	}
	if d.state.CurrentRole == d.state.AssignedRole {
		return nil
	}

	from, to := d.state.CurrentRole, d.state.AssignedRole
	transition, ok := Lookup(from, to)
	if !ok {
		return errclass.MakeUnretryable(
			fmt.Errorf("no transition defined from %s to %s", from, to))
	}

	tc.LSNCatchupTolerance = d.LSNCatchupTolerance
	tc.ReplicationUser = d.ReplicationUser
	tc.ReplicationPassword = d.ReplicationPassword

	if MustEnsureRunningBeforeTransition(from, to) {
		running, err := tc.DB.IsRunning(ctx)
		if err != nil {
			return fmt.Errorf("while checking postgres status before transition: %w", err)
		}
		if !running {
			if err := tc.DB.Start(ctx); err != nil {
				return fmt.Errorf("while starting postgres ahead of transition %s -> %s: %w", from, to, err)
			}
		}
	}

	log.Info("executing fsm transition", "from", from, "to", to)
	if err := transition(ctx, tc); err != nil {
		log.Error(err, "transition failed, current_role left unchanged", "from", from, "to", to)
		return fmt.Errorf("transition %s -> %s failed: %w", from, to, err)
	}

	d.state.CurrentRole = to
	if err := d.state.Write(d.StatePath); err != nil {
		return fmt.Errorf("while persisting state after transition %s -> %s: %w", from, to, err)
	}

	log.Info("transition complete", "current_role", to)
	return nil
}

// EnsureCurrentState reconciles the local database's running-or-stopped
// shape with what current_role requires, without performing a role
// transition, and keeps replication slots complete against the current
// peer list for roles that hold slots of their own. It is idempotent: two
// consecutive calls are equivalent to one.
func (d *Driver) EnsureCurrentState(ctx context.Context, tc *TransitionContext) error {
	if d.state == nil {
		return nil
	}

	running, err := tc.DB.IsRunning(ctx)
	if err != nil {
		return fmt.Errorf("while checking postgres status: %w", err)
	}

	if d.state.CurrentRole.RequiresDatabaseStopped() {
		if running {
			if err := tc.DB.Stop(ctx); err != nil {
				return fmt.Errorf("while stopping postgres to honor current_role %s: %w", d.state.CurrentRole, err)
			}
		}
		return nil
	}

	if !running && !d.state.CurrentRole.IsHazardousToStartBefore() {
		if err := tc.DB.Start(ctx); err != nil {
			return fmt.Errorf("while starting postgres to honor current_role %s: %w", d.state.CurrentRole, err)
		}
	}

	// Slot completeness only applies to roles that hold slots for
	// downstream peers. CATCHINGUP is excluded per
	// reconcileReplicationSlots' own policy; a node steady in PRIMARY or
	// SECONDARY otherwise never revisits its slot set once no transition
	// is pending, even as peers join, leave, or get dropped underneath it.
	if d.state.CurrentRole == Primary || d.state.CurrentRole == Secondary {
		if err := reconcileReplicationSlots(ctx, tc); err != nil {
			return fmt.Errorf("while reconciling replication slots: %w", err)
		}
	}

	return nil
}
