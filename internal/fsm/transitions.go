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

	"github.com/pgha-project/pgha/internal/log"
)

// TransitionContext bundles everything a transition function may need:
// the local database capability, the replication source to apply when
// becoming or remaining a standby, and the current peer list for slot
// maintenance folded into the transition itself (WAIT_PRIMARY, the
// CATCHINGUP -> SECONDARY handoff).
type TransitionContext struct {
	DB       LocalPostgresServer
	Source   ReplicationSource
	Peers    []PeerSlot
	SlotName string

	ReplicationUser     string
	ReplicationPassword string

	LSNCatchupTolerance int64
}

// TransitionFunc performs one FSM edge. It returns an error when the
// transition could not be completed; current_role is then NOT advanced,
// matching the "retry on next loop" failure policy.
type TransitionFunc func(ctx context.Context, tc *TransitionContext) error

type transitionKey struct {
	from NodeState
	to   NodeState
}

var transitionTable = map[transitionKey]TransitionFunc{
	{Init, Single}:               transitionInitToSingle,
	{Init, WaitStandby}:          transitionInitToWaitStandby,
	{WaitStandby, CatchingUp}:    transitionWaitStandbyToCatchingUp,
	{CatchingUp, Secondary}:      transitionCatchingUpToSecondary,
	{Single, WaitPrimary}:        transitionSingleToWaitPrimary,
	{WaitPrimary, Primary}:       transitionWaitPrimaryToPrimary,
	{Primary, PrepareMaintenance}:      transitionQuiesceWrites,
	{PrepareMaintenance, WaitMaintenance}: transitionNoOp,
	{WaitMaintenance, Maintenance}:      transitionStopDatabase,
	{Primary, Draining}:           transitionQuiesceWrites,
	{Draining, DemoteTimeout}:     transitionStopDatabase,
	{DemoteTimeout, Demoted}:      transitionStopDatabase,
	{Secondary, PrepPromotion}:    transitionFinishApplyingWAL,
	{PrepPromotion, StopReplication}: transitionPromote,
	{StopReplication, WaitPrimary}:   transitionNoOp,
	{Secondary, ReportLSN}:        transitionNoOp,
	{Demoted, CatchingUp}:         transitionDemotedToCatchingUp,
	{AnyState, Dropped}:           transitionToDropped,
	{Secondary, FastForward}:      transitionSecondaryToFastForward,
	{FastForward, CatchingUp}:     transitionWaitStandbyToCatchingUp,
	{Maintenance, CatchingUp}:     transitionWaitStandbyToCatchingUp,
}

// Lookup finds the transition function for (from, to), falling back to
// the AnyState wildcard (used for DROPPED, reachable from any role).
func Lookup(from, to NodeState) (TransitionFunc, bool) {
	if fn, ok := transitionTable[transitionKey{from, to}]; ok {
		return fn, true
	}
	if fn, ok := transitionTable[transitionKey{AnyState, to}]; ok {
		return fn, true
	}
	return nil, false
}

// MustEnsureRunningBeforeTransition implements the "ensure current state
// before transition" policy: Postgres must be running before any
// transition except ones touching DRAINING, DEMOTED or DEMOTE_TIMEOUT,
// where starting it first would be a split-brain hazard.
func MustEnsureRunningBeforeTransition(from, to NodeState) bool {
	return !from.IsHazardousToStartBefore() && !to.IsHazardousToStartBefore()
}

func transitionInitToSingle(ctx context.Context, tc *TransitionContext) error {
	if err := tc.DB.InitializeDataDirectory(ctx); err != nil {
		return fmt.Errorf("while initializing data directory: %w", err)
	}
	if err := tc.DB.Start(ctx); err != nil {
		return fmt.Errorf("while starting postgres: %w", err)
	}
	if err := tc.DB.InstallHBA(ctx, tc.Peers); err != nil {
		return fmt.Errorf("while installing pg_hba rules: %w", err)
	}
	if err := tc.DB.CreateReplicationUser(ctx, tc.ReplicationUser, tc.ReplicationPassword); err != nil {
		return fmt.Errorf("while creating the replication role: %w", err)
	}
	return nil
}

func transitionInitToWaitStandby(ctx context.Context, tc *TransitionContext) error {
	if err := tc.DB.BaseBackup(ctx, tc.Source); err != nil {
		return fmt.Errorf("while taking a base backup from the primary: %w", err)
	}
	if _, err := tc.DB.WriteReplicationSource(ctx, tc.Source); err != nil {
		return fmt.Errorf("while writing replication source configuration: %w", err)
	}
	if err := tc.DB.Start(ctx); err != nil {
		return fmt.Errorf("while starting postgres as a standby: %w", err)
	}
	return nil
}

func transitionWaitStandbyToCatchingUp(ctx context.Context, tc *TransitionContext) error {
	if _, err := tc.DB.WriteReplicationSource(ctx, tc.Source); err != nil {
		return fmt.Errorf("while writing replication source configuration: %w", err)
	}
	running, err := tc.DB.IsRunning(ctx)
	if err != nil {
		return fmt.Errorf("while checking postgres status: %w", err)
	}
	if !running {
		if err := tc.DB.Start(ctx); err != nil {
			return fmt.Errorf("while starting postgres to begin streaming: %w", err)
		}
	}
	return nil
}

func transitionCatchingUpToSecondary(ctx context.Context, tc *TransitionContext) error {
	lsn, err := tc.DB.CurrentLSN(ctx)
	if err != nil {
		return fmt.Errorf("while reading current LSN: %w", err)
	}
	if !lsn.GreaterOrEqual(tc.Source.TargetLSN, tc.LSNCatchupTolerance) {
		return fmt.Errorf("standby LSN %s has not yet caught up to primary LSN %s", lsn, tc.Source.TargetLSN)
	}
	return reconcileReplicationSlots(ctx, tc)
}

func transitionSingleToWaitPrimary(ctx context.Context, tc *TransitionContext) error {
	if err := tc.DB.InstallHBA(ctx, tc.Peers); err != nil {
		return fmt.Errorf("while opening pg_hba to the joining standby: %w", err)
	}
	return nil
}

func transitionWaitPrimaryToPrimary(ctx context.Context, tc *TransitionContext) error {
	syncState, err := tc.DB.SyncState(ctx)
	if err != nil {
		return fmt.Errorf("while reading synchronous_standby replication state: %w", err)
	}
	if syncState == "" {
		log.Warning("synchronous standby not yet connected, staying in wait_primary")
		return fmt.Errorf("no standby has connected yet (empty sync_state)")
	}
	return reconcileReplicationSlots(ctx, tc)
}

func transitionQuiesceWrites(ctx context.Context, tc *TransitionContext) error {
	// Quiescing writes is a reload-only change (read-only GUCs), the
	// database keeps running until the later stop transition.
	if err := tc.DB.Reload(ctx); err != nil {
		return fmt.Errorf("while quiescing writes: %w", err)
	}
	return nil
}

func transitionStopDatabase(ctx context.Context, tc *TransitionContext) error {
	running, err := tc.DB.IsRunning(ctx)
	if err != nil {
		return fmt.Errorf("while checking postgres status: %w", err)
	}
	if running {
		if err := tc.DB.Stop(ctx); err != nil {
			return fmt.Errorf("while stopping postgres: %w", err)
		}
	}
	return nil
}

func transitionFinishApplyingWAL(ctx context.Context, tc *TransitionContext) error {
	lsn, err := tc.DB.CurrentLSN(ctx)
	if err != nil {
		return fmt.Errorf("while reading current LSN before promotion: %w", err)
	}
	log.Info("standby has caught up, proceeding to promotion", "lsn", lsn)
	return nil
}

func transitionPromote(ctx context.Context, tc *TransitionContext) error {
	if err := tc.DB.Promote(ctx); err != nil {
		return fmt.Errorf("while promoting to primary: %w", err)
	}
	return nil
}

func transitionDemotedToCatchingUp(ctx context.Context, tc *TransitionContext) error {
	if err := tc.DB.Rewind(ctx, tc.Source); err != nil {
		return fmt.Errorf("while rewinding to the new primary's timeline: %w", err)
	}
	if _, err := tc.DB.WriteReplicationSource(ctx, tc.Source); err != nil {
		return fmt.Errorf("while writing replication source configuration: %w", err)
	}
	return tc.DB.Start(ctx)
}

func transitionSecondaryToFastForward(ctx context.Context, tc *TransitionContext) error {
	if _, err := tc.DB.WriteReplicationSource(ctx, tc.Source); err != nil {
		return fmt.Errorf("while writing replication source configuration for fast-forward: %w", err)
	}
	return nil
}

func transitionToDropped(ctx context.Context, tc *TransitionContext) error {
	running, err := tc.DB.IsRunning(ctx)
	if err != nil {
		return fmt.Errorf("while checking postgres status before dropping: %w", err)
	}
	if running {
		if err := tc.DB.Stop(ctx); err != nil {
			return fmt.Errorf("while stopping postgres before dropping: %w", err)
		}
	}
	return nil
}

func transitionNoOp(_ context.Context, _ *TransitionContext) error {
	return nil
}

// reconcileReplicationSlots creates missing slots, drops slots for peers
// no longer in the group, and advances each remaining slot up to the
// peer's last-reported LSN (never past our own current LSN). It applies
// no role check itself: EnsureCurrentState does not call it while the node
// is CATCHINGUP, and the CATCHINGUP -> SECONDARY transition calls it only
// once the standby has caught up, as its last step.
func reconcileReplicationSlots(ctx context.Context, tc *TransitionContext) error {
	existing, err := tc.DB.ExistingReplicationSlots(ctx)
	if err != nil {
		return fmt.Errorf("while listing existing replication slots: %w", err)
	}

	wanted := make(map[string]PeerSlot, len(tc.Peers))
	for _, peer := range tc.Peers {
		wanted[peer.SlotName] = peer
	}

	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}

	for name := range have {
		if _, ok := wanted[name]; !ok {
			if err := tc.DB.DropReplicationSlot(ctx, name); err != nil {
				return fmt.Errorf("while dropping stale replication slot %q: %w", name, err)
			}
		}
	}

	localLSN, err := tc.DB.CurrentLSN(ctx)
	if err != nil {
		return fmt.Errorf("while reading current LSN for slot maintenance: %w", err)
	}

	for name, peer := range wanted {
		if !have[name] {
			if err := tc.DB.CreateReplicationSlot(ctx, name); err != nil {
				return fmt.Errorf("while creating replication slot %q: %w", name, err)
			}
		}

		target := peer.ReportedLSN
		if localLSN.Less(target) {
			target = localLSN
		}
		if err := tc.DB.AdvanceReplicationSlot(ctx, name, target); err != nil {
			return fmt.Errorf("while advancing replication slot %q: %w", name, err)
		}
	}

	return nil
}
