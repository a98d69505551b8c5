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

// Package orchestrator is the monitor's pure decision algorithm: given
// reported state, health and LSN, it decides the next goal state for every
// node in a group. It has no knowledge of HTTP or SQL wire formats — those
// live in rpcserver and store respectively.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/pgha-project/pgha/internal/fsm"
	"github.com/pgha-project/pgha/internal/log"
	"github.com/pgha-project/pgha/internal/monitor"
	"github.com/pgha-project/pgha/internal/monitor/store"
)

// networkPartitionTimeout is the default duration after which a node
// without a fresh report is treated as DOWN for failover purposes.
const networkPartitionTimeout = 10 * time.Second

// Notifier publishes state-change notifications (internal/monitor/notify).
type Notifier interface {
	Publish(ctx context.Context, n monitor.Node, goal fsm.NodeState) error
}

// Orchestrator drives role assignment for every registered group.
type Orchestrator struct {
	Store                   *store.Store
	Notify                  Notifier
	NetworkPartitionTimeout time.Duration
}

func (o *Orchestrator) partitionTimeout() time.Duration {
	if o.NetworkPartitionTimeout > 0 {
		return o.NetworkPartitionTimeout
	}
	return networkPartitionTimeout
}

// RegisterNode implements register_node: the first node in a group enters
// SINGLE, every subsequent one enters WAIT_STANDBY. Transactional: the
// insert and the system-identifier bookkeeping commit or roll back
// together (spec.md §4.3's BEGIN/COMMIT registration guarantee).
func (o *Orchestrator) RegisterNode(ctx context.Context, p monitor.RegisterNodeParams) (monitor.Node, error) {
	groupID := p.GroupIDHint

	tx, err := o.Store.BeginTx(ctx)
	if err != nil {
		return monitor.Node{}, fmt.Errorf("while starting registration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := store.UpsertGroupSystemIdentifier(ctx, tx, p.Formation, groupID, p.SystemIdentifier); err != nil {
		return monitor.Node{}, err
	}

	count, err := store.CountNodesInGroup(ctx, tx, p.Formation, groupID)
	if err != nil {
		return monitor.Node{}, err
	}

	goal := fsm.WaitStandby
	if count == 0 {
		goal = fsm.Single
	}

	nodeID, err := store.InsertNode(ctx, tx, p, groupID, goal)
	if err != nil {
		return monitor.Node{}, err
	}

	if err := tx.Commit(); err != nil {
		return monitor.Node{}, fmt.Errorf("while committing registration of %q: %w", p.Name, err)
	}

	node, err := store.GetNode(ctx, o.Store.ExecQ(), nodeID)
	if err != nil {
		return monitor.Node{}, err
	}

	if count > 0 {
		// A new standby is joining: the existing primary must prepare to
		// accept it (SINGLE -> WAIT_PRIMARY).
		if err := o.promotePrimaryToWaitPrimary(ctx, p.Formation, groupID); err != nil {
			log.Error(err, "failed to move existing primary to wait_primary after new registration")
		}
	}

	o.notify(ctx, node, goal)
	return node, nil
}

func (o *Orchestrator) promotePrimaryToWaitPrimary(ctx context.Context, formation string, groupID int64) error {
	nodes, err := store.ListNodesInGroup(ctx, o.Store.ExecQ(), formation, groupID)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if n.GoalState == fsm.Single {
			if err := store.SetGoalState(ctx, o.Store.ExecQ(), n.NodeID, fsm.WaitPrimary); err != nil {
				return err
			}
			n.GoalState = fsm.WaitPrimary
			o.notify(ctx, n, fsm.WaitPrimary)
		}
	}
	return nil
}

// NodeActive implements node_active: records the report, then computes and
// returns the next goal state.
func (o *Orchestrator) NodeActive(ctx context.Context, p monitor.NodeActiveParams) (fsm.NodeState, error) {
	health := monitor.HealthHealthy
	if !p.PgIsRunning {
		health = monitor.HealthUnhealthy
	}

	if err := store.UpdateReport(ctx, o.Store.ExecQ(), p.NodeID, p.ReportedState, p.LSN, p.TimelineID, health); err != nil {
		return fsm.NoState, err
	}

	if !p.PgIsRunning {
		if err := o.handlePrimaryDown(ctx, p); err != nil {
			log.Error(err, "failover evaluation failed")
		}
	}

	node, err := store.GetNode(ctx, o.Store.ExecQ(), p.NodeID)
	if err != nil {
		return fsm.NoState, err
	}

	// Advance the happy-path transitions that only the monitor can trigger
	// (the peer's own goal depends on this node's reported state).
	if err := o.advanceGroup(ctx, p.Formation, p.GroupID); err != nil {
		log.Error(err, "failed to advance group state machine")
	}

	node, err = store.GetNode(ctx, o.Store.ExecQ(), p.NodeID)
	if err != nil {
		return fsm.NoState, err
	}
	return node.GoalState, nil
}

// handlePrimaryDown implements the failover trigger: a primary reporting
// pg_is_running=false (or reported DOWN via the partition sweep) is moved
// toward DRAINING/DEMOTE_TIMEOUT, and the best eligible standby is promoted.
func (o *Orchestrator) handlePrimaryDown(ctx context.Context, p monitor.NodeActiveParams) error {
	node, err := store.GetNode(ctx, o.Store.ExecQ(), p.NodeID)
	if err != nil {
		return err
	}
	if node.GoalState != fsm.Primary && node.GoalState != fsm.Single {
		return nil
	}

	return o.PerformFailover(ctx, p.Formation, p.GroupID)
}

// PerformFailover is the shared entry point for both the automatic
// failover trigger and the operator-triggered `perform failover` command
// (SPEC_FULL.md §4, supplemented feature).
func (o *Orchestrator) PerformFailover(ctx context.Context, formation string, groupID int64) error {
	nodes, err := store.ListNodesInGroup(ctx, o.Store.ExecQ(), formation, groupID)
	if err != nil {
		return err
	}

	var primary *monitor.Node
	candidates := make([]monitor.Node, 0, len(nodes))
	for i := range nodes {
		n := nodes[i]
		if n.GoalState == fsm.Primary || n.GoalState == fsm.Single {
			primary = &nodes[i]
			continue
		}
		if n.CandidatePriority > 0 {
			candidates = append(candidates, n)
		}
	}
	if primary == nil {
		return fmt.Errorf("no primary to fail over in %s/%d", formation, groupID)
	}

	if err := o.setGoal(ctx, *primary, fsm.Draining); err != nil {
		return err
	}

	best := pickPromotionCandidate(candidates)
	if best == nil {
		log.Warning("no eligible standby to promote", "formation", formation, "group", groupID)
		return nil
	}

	if err := o.setGoal(ctx, *best, fsm.ReportLSN); err != nil {
		return err
	}

	for _, n := range nodes {
		if n.NodeID == primary.NodeID || n.NodeID == best.NodeID {
			continue
		}
		if err := o.setGoal(ctx, n, fsm.FastForward); err != nil {
			return err
		}
	}
	return nil
}

// pickPromotionCandidate selects the eligible standby with the highest
// reported LSN, ties broken by lowest node_id (deterministic, matching
// get_most_advanced_standby).
func pickPromotionCandidate(candidates []monitor.Node) *monitor.Node {
	var best *monitor.Node
	for i := range candidates {
		n := &candidates[i]
		if best == nil {
			best = n
			continue
		}
		if best.ReportedLSN.Less(n.ReportedLSN) ||
			(n.ReportedLSN == best.ReportedLSN && n.NodeID < best.NodeID) {
			best = n
		}
	}
	return best
}

// advanceGroup drives the non-failover happy-path transitions that depend
// on nodes' reported states (e.g. the promoted-standby sequence REPORT_LSN
// -> PREP_PROMOTION -> STOP_REPLICATION -> WAIT_PRIMARY -> PRIMARY, one
// step each time the node reports the goal it was given). The monitor does
// not look at sync_state: WAIT_PRIMARY -> PRIMARY is assigned as soon as
// the node reports WAIT_PRIMARY.
func (o *Orchestrator) advanceGroup(ctx context.Context, formation string, groupID int64) error {
	nodes, err := store.ListNodesInGroup(ctx, o.Store.ExecQ(), formation, groupID)
	if err != nil {
		return err
	}

	for _, n := range nodes {
		next, ok := nextGoal(n)
		if !ok {
			continue
		}
		if err := o.setGoal(ctx, n, next); err != nil {
			return err
		}
	}
	return nil
}

// nextGoal advances a node whose reported state has caught up with its
// current goal, to the next goal in the documented promotion/demotion
// sequences.
func nextGoal(n monitor.Node) (fsm.NodeState, bool) {
	if n.ReportedState != n.GoalState {
		return fsm.NoState, false
	}
	switch n.GoalState {
	case fsm.ReportLSN:
		return fsm.PrepPromotion, true
	case fsm.PrepPromotion:
		return fsm.StopReplication, true
	case fsm.StopReplication:
		return fsm.WaitPrimary, true
	case fsm.WaitPrimary:
		return fsm.Primary, true
	case fsm.PrepareMaintenance:
		return fsm.WaitMaintenance, true
	case fsm.Draining:
		return fsm.DemoteTimeout, true
	case fsm.DemoteTimeout:
		return fsm.Demoted, true
	default:
		return fsm.NoState, false
	}
}

func (o *Orchestrator) setGoal(ctx context.Context, n monitor.Node, goal fsm.NodeState) error {
	if n.GoalState == goal {
		return nil
	}
	if err := store.SetGoalState(ctx, o.Store.ExecQ(), n.NodeID, goal); err != nil {
		return err
	}
	n.GoalState = goal
	o.notify(ctx, n, goal)
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, n monitor.Node, goal fsm.NodeState) {
	if o.Notify == nil {
		return
	}
	if err := o.Notify.Publish(ctx, n, goal); err != nil {
		log.Error(err, "failed to publish state notification", "node_id", n.NodeID)
	}
}

// GetOtherNodes implements get_other_nodes. Nodes whose goal is DROPPED
// are left out, so peers stop keeping a replication slot for them.
func (o *Orchestrator) GetOtherNodes(ctx context.Context, formation string, groupID, excludeNodeID int64) ([]monitor.NodeAddress, error) {
	nodes, err := store.ListNodesInGroup(ctx, o.Store.ExecQ(), formation, groupID)
	if err != nil {
		return nil, err
	}
	var peers []monitor.NodeAddress
	for _, n := range nodes {
		if n.NodeID == excludeNodeID || n.GoalState == fsm.Dropped {
			continue
		}
		peers = append(peers, toAddress(n))
	}
	return peers, nil
}

// GetPrimary implements get_primary.
func (o *Orchestrator) GetPrimary(ctx context.Context, formation string, groupID int64) (monitor.NodeAddress, error) {
	nodes, err := store.ListNodesInGroup(ctx, o.Store.ExecQ(), formation, groupID)
	if err != nil {
		return monitor.NodeAddress{}, err
	}
	for _, n := range nodes {
		if n.GoalState == fsm.Primary || n.GoalState == fsm.Single {
			return toAddress(n), nil
		}
	}
	return monitor.NodeAddress{}, fmt.Errorf("no primary in %s/%d", formation, groupID)
}

// GetMostAdvancedStandby implements get_most_advanced_standby.
func (o *Orchestrator) GetMostAdvancedStandby(ctx context.Context, formation string, groupID int64) (monitor.NodeAddress, error) {
	nodes, err := store.ListNodesInGroup(ctx, o.Store.ExecQ(), formation, groupID)
	if err != nil {
		return monitor.NodeAddress{}, err
	}
	var standbys []monitor.Node
	for _, n := range nodes {
		if n.GoalState == fsm.Secondary {
			standbys = append(standbys, n)
		}
	}
	best := pickPromotionCandidate(standbys)
	if best == nil {
		return monitor.NodeAddress{}, fmt.Errorf("no standby in %s/%d", formation, groupID)
	}
	return toAddress(*best), nil
}

func toAddress(n monitor.Node) monitor.NodeAddress {
	return monitor.NodeAddress{
		NodeID:   n.NodeID,
		Name:     n.Name,
		Host:     n.Host,
		Port:     n.Port,
		LSN:      n.ReportedLSN,
		IsQuorum: n.ReplicationQuorum,
	}
}

// RemoveNode implements drop node: moves the node to DROPPED, which takes
// it out of get_other_nodes so the primary's next reconciliation drops its
// replication slot. The row itself is deleted by ConfirmNodeDropped
// (`drop node --destroy`) or later by PruneDroppedNodes.
func (o *Orchestrator) RemoveNode(ctx context.Context, nodeID int64) error {
	n, err := store.GetNode(ctx, o.Store.ExecQ(), nodeID)
	if err != nil {
		return err
	}
	return o.setGoal(ctx, n, fsm.Dropped)
}

// ConfirmNodeDropped deletes the node row unconditionally. The RPC server
// calls it right after RemoveNode for `drop node --destroy`, without
// waiting for the node to report DROPPED.
func (o *Orchestrator) ConfirmNodeDropped(ctx context.Context, nodeID int64) error {
	return store.DeleteNode(ctx, o.Store.ExecQ(), nodeID)
}

// UpdateNodeMetadata implements `set node candidate-priority|replication-quorum`.
func (o *Orchestrator) UpdateNodeMetadata(ctx context.Context, nodeID int64, candidatePriority *int, replicationQuorum *bool) error {
	return store.UpdateNodeMetadata(ctx, o.Store.ExecQ(), nodeID, candidatePriority, replicationQuorum)
}

// FindNodeByNodeID implements find_node_by_nodeid.
func (o *Orchestrator) FindNodeByNodeID(ctx context.Context, nodeID int64) (monitor.Node, error) {
	return store.GetNode(ctx, o.Store.ExecQ(), nodeID)
}

// GroupStatus backs `show state`.
func (o *Orchestrator) GroupStatus(ctx context.Context, formation string, groupID int64) (monitor.GroupStatus, error) {
	nodes, err := store.ListNodesInGroup(ctx, o.Store.ExecQ(), formation, groupID)
	if err != nil {
		return monitor.GroupStatus{}, err
	}
	return monitor.GroupStatus{Formation: formation, GroupID: groupID, Nodes: nodes}, nil
}

// SweepPartitions marks nodes with a stale last report as unhealthy and
// triggers failover for any group whose primary just went stale. Intended
// to run on a short ticker inside the monitor service.
func (o *Orchestrator) SweepPartitions(ctx context.Context) error {
	cutoff := time.Now().Add(-o.partitionTimeout())
	stale, err := store.MarkUnhealthyBefore(ctx, o.Store.ExecQ(), cutoff)
	if err != nil {
		return err
	}
	for _, n := range stale {
		if n.GoalState == fsm.Primary || n.GoalState == fsm.Single {
			if err := o.PerformFailover(ctx, n.Formation, n.GroupID); err != nil {
				log.Error(err, "partition-triggered failover failed", "node_id", n.NodeID)
			}
		}
	}
	return nil
}

// PruneDroppedNodes reclaims rows for nodes that reached the dropped state
// and have been silent since before retention, intended to run on the
// cron schedule `create monitor --prune-schedule` parses.
func (o *Orchestrator) PruneDroppedNodes(ctx context.Context, retention time.Duration) (int64, error) {
	return store.PruneDroppedNodes(ctx, o.Store.ExecQ(), time.Now().Add(-retention))
}
