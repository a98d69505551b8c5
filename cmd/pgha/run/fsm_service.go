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

package run

import (
	"context"
	"sync"
	"time"

	"github.com/pgha-project/pgha/internal/config"
	"github.com/pgha-project/pgha/internal/fsm"
	"github.com/pgha-project/pgha/internal/log"
	"github.com/pgha-project/pgha/internal/rpcclient"
)

// fsmService is the keeper's main loop: on each tick (or on an early
// wakeup from the monitor's notification channel) it reports the current
// status via node_active, then attempts at most one FSM transition.
type fsmService struct {
	driver     *fsm.Driver
	client     *rpcclient.Client
	statusPath string

	// wake carries early-wakeup signals from the monitor's notification
	// listener; it is nil-safe (a send on a nil channel never proceeds, so
	// Wake is a no-op when no listener is wired up).
	wake chan struct{}

	mu  sync.Mutex
	cfg config.Config
}

// Wake requests an out-of-band tick, bypassing the fixed interval, for a
// caller with more timely news than the next tick would otherwise pick up.
// It never blocks: a tick already pending coalesces with this one.
func (f *fsmService) Wake() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *fsmService) setConfig(cfg config.Config) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
}

func (f *fsmService) interval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cfg.NodeActiveIntervalSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(f.cfg.NodeActiveIntervalSeconds) * time.Second
}

// Run ticks until ctx is cancelled, calling tick on every interval.
func (f *fsmService) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := f.tick(ctx); err != nil {
				log.Error(err, "fsm loop iteration failed")
			}
			ticker.Reset(f.interval())
		case <-f.wake:
			if err := f.tick(ctx); err != nil {
				log.Error(err, "fsm loop iteration failed")
			}
			ticker.Reset(f.interval())
		}
	}
}

func (f *fsmService) tick(ctx context.Context) error {
	state := f.driver.State()
	if state == nil {
		return nil
	}

	pgIsRunning, err := f.driver.DB.IsRunning(ctx)
	if err != nil {
		return err
	}

	var lsn = state.XlogLSNLastReported
	var syncState string
	if pgIsRunning {
		if l, err := f.driver.DB.CurrentLSN(ctx); err == nil {
			lsn = l
		}
		syncState, _ = f.driver.DB.SyncState(ctx)
	}

	if err := f.driver.NodeActive(ctx, pgIsRunning, 1, lsn, syncState); err != nil {
		return err
	}

	tc, err := f.buildTransitionContext(ctx)
	if err != nil {
		log.Warning("could not assemble transition context, will retry next tick", "error", err.Error())
		return nil
	}

	if err := f.driver.EnsureCurrentState(ctx, tc); err != nil {
		return err
	}

	if err := f.driver.FSMStep(ctx, tc); err != nil {
		return err
	}

	return f.writeExpectedStatus()
}

func (f *fsmService) writeExpectedStatus() error {
	state := f.driver.State()
	status := fsm.ExpectedPostgresStatusRunning
	if state.CurrentRole.RequiresDatabaseStopped() {
		status = fsm.ExpectedPostgresStatusStopped
	}
	return fsm.WriteExpectedPostgresStatus(f.statusPath, status)
}

// buildTransitionContext gathers whatever peer/replication-source
// information the next transition might need. It is rebuilt on every
// tick rather than cached, since the group's shape can change between
// ticks (a peer joining, the primary moving).
func (f *fsmService) buildTransitionContext(ctx context.Context) (*fsm.TransitionContext, error) {
	f.mu.Lock()
	cfg := f.cfg
	f.mu.Unlock()

	state := f.driver.State()

	tc := &fsm.TransitionContext{
		DB:                  f.driver.DB,
		SlotName:            slotName(state.CurrentNodeID),
		ReplicationUser:     cfg.ReplicationUser,
		ReplicationPassword: cfg.ReplicationPassword,
		LSNCatchupTolerance: f.driver.LSNCatchupTolerance,
	}

	peers, err := f.client.GetOtherNodes(ctx, state.CurrentNodeID)
	if err == nil {
		tc.Peers = make([]fsm.PeerSlot, 0, len(peers))
		for _, peer := range peers {
			tc.Peers = append(tc.Peers, fsm.PeerSlot{
				NodeID:      peer.NodeID,
				SlotName:    slotName(peer.NodeID),
				ReportedLSN: peer.LSN,
			})
		}
	}

	if state.CurrentRole != fsm.Single && state.CurrentRole != fsm.WaitPrimary && state.CurrentRole != fsm.Primary {
		primary, err := f.client.GetPrimary(ctx, cfg.Formation, state.CurrentGroup)
		if err != nil {
			return nil, err
		}
		tc.Source = fsm.ReplicationSource{
			PrimaryHost:     primary.Host,
			PrimaryPort:     primary.Port,
			ReplicationUser: cfg.ReplicationUser,
			ReplicationPass: cfg.ReplicationPassword,
			SlotName:        tc.SlotName,
			ApplicationName: cfg.NodeName,
			SSLMode:         cfg.SSLMode,
		}
		if needsTargetLSN(state.CurrentRole, state.AssignedRole) {
			tc.Source.TargetLSN = primary.LSN
		}
	}

	return tc, nil
}

// needsTargetLSN reports whether TargetLSN must be populated on the
// replication source being assembled. It serves two distinct purposes,
// and only these:
//
//   - The rewind-to-a-known-point paths spec.md §4.1 describes (SECONDARY
//     -> FAST_FORWARD, any edge out of FAST_FORWARD such as FAST_FORWARD
//     -> CATCHINGUP, and DEMOTED -> CATCHINGUP once the old primary
//     rejoins as a standby): Postgres itself must stop recovery at the new
//     primary's reported LSN, via recovery_target_lsn/recovery_target_action
//     = promote written into the replication source.
//   - The CATCHINGUP -> SECONDARY promotion-readiness gate, which only
//     ever compares TargetLSN against the local LSN and never writes it to
//     Postgres (transitionCatchingUpToSecondary never calls
//     WriteReplicationSource).
//
// Every other standby-like state (an ordinary INIT -> WAIT_STANDBY join,
// plain WAIT_STANDBY -> CATCHINGUP catch-up) must never get a recovery
// target, or recovery_target_action=promote would make it self-promote
// the instant it reaches that LSN while the real primary is still up.
func needsTargetLSN(current, assigned fsm.NodeState) bool {
	switch {
	case current == fsm.Secondary && assigned == fsm.FastForward:
		return true
	case current == fsm.FastForward:
		return true
	case current == fsm.Demoted && assigned == fsm.CatchingUp:
		return true
	case current == fsm.CatchingUp && assigned == fsm.Secondary:
		return true
	default:
		return false
	}
}
