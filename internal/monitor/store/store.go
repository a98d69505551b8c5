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

// Package store persists MonitorState in a Postgres database the monitor
// owns, via lib/pq. The monitor's own high availability is delegated to
// this database's own replication, same as every other node's.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/pgha-project/pgha/internal/fsm"
	"github.com/pgha-project/pgha/internal/monitor"
	"github.com/pgha-project/pgha/pkg/postgres"
)

// SchemaVersion is the required monitor schema version; keepers compare
// this against their own required version on every node_active call and
// treat an incompatible version as an unretryable error. The keeper does
// not exit on it: its FSM loop logs the error and tries again on the next
// tick.
const SchemaVersion = "1.0"

// execer is satisfied by both *sql.DB and *sql.Tx, letting every query
// helper below run either standalone or inside RegisterNode's transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store wraps the monitor's backing database connection.
type Store struct {
	db *sql.DB
}

// Open connects to the monitor's database via lib/pq and ensures the
// schema exists.
func Open(ctx context.Context, conninfo string) (*Store, error) {
	db, err := sql.Open("postgres", conninfo)
	if err != nil {
		return nil, fmt.Errorf("while opening monitor database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("while connecting to monitor database: %w", err)
	}

	s := &Store{db: db}
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the monitor's bookkeeping tables if they do not
// already exist. Idempotent, safe to call on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS pgha_node (
	node_id             bigserial PRIMARY KEY,
	formation           text NOT NULL,
	group_id            bigint NOT NULL,
	name                text NOT NULL,
	host                text NOT NULL,
	port                integer NOT NULL,
	system_identifier   numeric(20,0) NOT NULL DEFAULT 0,
	candidate_priority  integer NOT NULL DEFAULT 100,
	replication_quorum  boolean NOT NULL DEFAULT true,
	reported_state      text NOT NULL DEFAULT 'init',
	goal_state          text NOT NULL DEFAULT 'init',
	health              integer NOT NULL DEFAULT 0,
	reported_lsn        text NOT NULL DEFAULT '0/0',
	reported_timeline   integer NOT NULL DEFAULT 0,
	last_report_time    timestamptz,
	UNIQUE (formation, group_id, name)
);

CREATE TABLE IF NOT EXISTS pgha_group (
	formation           text NOT NULL,
	group_id            bigint NOT NULL,
	system_identifier   numeric(20,0) NOT NULL DEFAULT 0,
	PRIMARY KEY (formation, group_id)
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("while ensuring monitor schema: %w", err)
	}
	return nil
}

// BeginTx starts a transaction used by RegisterNode so the insert and the
// role-assignment decision commit or roll back together.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// CountNodesInGroup returns how many nodes are already registered in
// (formation, group), used to decide the first node's initial role.
func CountNodesInGroup(ctx context.Context, q execer, formation string, groupID int64) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT count(*) FROM pgha_node WHERE formation = $1 AND group_id = $2`,
		formation, groupID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("while counting nodes in group: %w", err)
	}
	return count, nil
}

// InsertNode inserts a freshly registered node and returns its assigned
// node_id.
func InsertNode(ctx context.Context, q execer, p monitor.RegisterNodeParams, groupID int64, goal fsm.NodeState) (int64, error) {
	var nodeID int64
	err := q.QueryRowContext(ctx, `
INSERT INTO pgha_node
	(formation, group_id, name, host, port, system_identifier,
	 candidate_priority, replication_quorum, reported_state, goal_state, health, last_report_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, $10, now())
RETURNING node_id`,
		p.Formation, groupID, p.Name, p.Host, p.Port, p.SystemIdentifier,
		p.CandidatePriority, p.ReplicationQuorum, goal.String(), int(monitor.HealthUnknown)).
		Scan(&nodeID)
	if err != nil {
		return 0, fmt.Errorf("while inserting node %q: %w", p.Name, err)
	}
	return nodeID, nil
}

// UpsertGroupSystemIdentifier records the group's system_identifier the
// first time it is observed, and errors if a later node reports a
// different one (spec's system_identifier invariant).
func UpsertGroupSystemIdentifier(ctx context.Context, q execer, formation string, groupID int64, systemIdentifier uint64) error {
	var existing uint64
	err := q.QueryRowContext(ctx,
		`SELECT system_identifier FROM pgha_group WHERE formation = $1 AND group_id = $2`,
		formation, groupID).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		_, err := q.ExecContext(ctx,
			`INSERT INTO pgha_group (formation, group_id, system_identifier) VALUES ($1, $2, $3)`,
			formation, groupID, systemIdentifier)
		if err != nil {
			return fmt.Errorf("while recording group system identifier: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("while reading group system identifier: %w", err)
	case existing != 0 && existing != systemIdentifier:
		return fmt.Errorf("system identifier mismatch in group %s/%d: group has %d, node reports %d",
			formation, groupID, existing, systemIdentifier)
	default:
		return nil
	}
}

// GetNode fetches one node by id.
func GetNode(ctx context.Context, q execer, nodeID int64) (monitor.Node, error) {
	row := q.QueryRowContext(ctx, `
SELECT node_id, formation, group_id, name, host, port, system_identifier,
       candidate_priority, replication_quorum, reported_state, goal_state,
       health, reported_lsn, reported_timeline, last_report_time
FROM pgha_node WHERE node_id = $1`, nodeID)
	return scanNode(row)
}

// ListNodesInGroup returns every node of (formation, group), ordered by
// node_id, the ordering get_other_nodes promises.
func ListNodesInGroup(ctx context.Context, q execer, formation string, groupID int64) ([]monitor.Node, error) {
	rows, err := q.QueryContext(ctx, `
SELECT node_id, formation, group_id, name, host, port, system_identifier,
       candidate_priority, replication_quorum, reported_state, goal_state,
       health, reported_lsn, reported_timeline, last_report_time
FROM pgha_node WHERE formation = $1 AND group_id = $2 ORDER BY node_id`, formation, groupID)
	if err != nil {
		return nil, fmt.Errorf("while listing nodes in group: %w", err)
	}
	defer rows.Close()

	var nodes []monitor.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanNode(row scannable) (monitor.Node, error) {
	var (
		n             monitor.Node
		reportedState string
		goalState     string
		lsn           string
		lastReport    sql.NullTime
		health        int
	)
	err := row.Scan(&n.NodeID, &n.Formation, &n.GroupID, &n.Name, &n.Host, &n.Port,
		&n.SystemIdentifier, &n.CandidatePriority, &n.ReplicationQuorum,
		&reportedState, &goalState, &health, &lsn, &n.ReportedTimeline, &lastReport)
	if err != nil {
		return monitor.Node{}, fmt.Errorf("while scanning node row: %w", err)
	}

	n.Health = monitor.Health(health)
	n.ReportedLSN = postgres.LSN(lsn)
	if lastReport.Valid {
		n.LastReportTime = lastReport.Time
	}
	if state, ok := fsm.ParseNodeState(reportedState); ok {
		n.ReportedState = state
	}
	if state, ok := fsm.ParseNodeState(goalState); ok {
		n.GoalState = state
	}
	return n, nil
}

// UpdateReport applies one node_active report: reported state, LSN,
// timeline, health and last_report_time (only set when the caller reached
// the monitor, per spec.md §9's consistent-rule clarification).
func UpdateReport(ctx context.Context, q execer, nodeID int64, reportedState fsm.NodeState, lsn postgres.LSN, timeline int32, health monitor.Health) error {
	_, err := q.ExecContext(ctx, `
UPDATE pgha_node
SET reported_state = $2, reported_lsn = $3, reported_timeline = $4,
    health = $5, last_report_time = now()
WHERE node_id = $1`, nodeID, reportedState.String(), string(lsn), timeline, int(health))
	if err != nil {
		return fmt.Errorf("while updating node %d report: %w", nodeID, err)
	}
	return nil
}

// SetGoalState records the monitor's decision for a node.
func SetGoalState(ctx context.Context, q execer, nodeID int64, goal fsm.NodeState) error {
	_, err := q.ExecContext(ctx, `UPDATE pgha_node SET goal_state = $2 WHERE node_id = $1`, nodeID, goal.String())
	if err != nil {
		return fmt.Errorf("while setting goal state for node %d: %w", nodeID, err)
	}
	return nil
}

// MarkUnhealthyBefore flags as unhealthy every node whose last report is
// older than the network partition timeout, without waiting on its next
// node_active call.
func MarkUnhealthyBefore(ctx context.Context, q execer, cutoff time.Time) ([]monitor.Node, error) {
	rows, err := q.QueryContext(ctx, `
UPDATE pgha_node SET health = $1
WHERE last_report_time < $2 AND health != $1
RETURNING node_id, formation, group_id, name, host, port, system_identifier,
          candidate_priority, replication_quorum, reported_state, goal_state,
          health, reported_lsn, reported_timeline, last_report_time`,
		int(monitor.HealthUnhealthy), cutoff)
	if err != nil {
		return nil, fmt.Errorf("while marking stale nodes unhealthy: %w", err)
	}
	defer rows.Close()

	var nodes []monitor.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// UpdateNodeMetadata implements the CLI-exposed `set node
// candidate-priority|replication-quorum` path.
func UpdateNodeMetadata(ctx context.Context, q execer, nodeID int64, candidatePriority *int, replicationQuorum *bool) error {
	if candidatePriority != nil {
		if _, err := q.ExecContext(ctx, `UPDATE pgha_node SET candidate_priority = $2 WHERE node_id = $1`, nodeID, *candidatePriority); err != nil {
			return fmt.Errorf("while updating candidate priority for node %d: %w", nodeID, err)
		}
	}
	if replicationQuorum != nil {
		if _, err := q.ExecContext(ctx, `UPDATE pgha_node SET replication_quorum = $2 WHERE node_id = $1`, nodeID, *replicationQuorum); err != nil {
			return fmt.Errorf("while updating replication quorum for node %d: %w", nodeID, err)
		}
	}
	return nil
}

// RenameNode implements the monitor's right to rename a node at
// node_active time.
func RenameNode(ctx context.Context, q execer, nodeID int64, name string) error {
	_, err := q.ExecContext(ctx, `UPDATE pgha_node SET name = $2 WHERE node_id = $1`, nodeID, name)
	if err != nil {
		return fmt.Errorf("while renaming node %d: %w", nodeID, err)
	}
	return nil
}

// DeleteNode removes a node row entirely (the final step of
// `drop node --destroy`).
func DeleteNode(ctx context.Context, q execer, nodeID int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM pgha_node WHERE node_id = $1`, nodeID)
	if err != nil {
		return fmt.Errorf("while deleting node %d: %w", nodeID, err)
	}
	return nil
}

// PruneDroppedNodes deletes nodes that reached the dropped state and have
// not reported since before cutoff, reclaiming the rows a plain
// `drop node` (without --destroy) leaves behind once the node has reported
// DROPPED. Returns how many rows were removed, for the caller to log.
func PruneDroppedNodes(ctx context.Context, q execer, cutoff time.Time) (int64, error) {
	res, err := q.ExecContext(ctx,
		`DELETE FROM pgha_node WHERE reported_state = $1 AND last_report_time < $2`,
		fsm.Dropped.String(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("while pruning dropped nodes: %w", err)
	}
	return res.RowsAffected()
}

// ExecQ returns the connection pool as an execer, for running the query
// helpers above outside a transaction.
func (s *Store) ExecQ() execer { return s.db }

// DB returns the raw connection pool; notify.NewPublisher uses it to issue
// pg_notify.
func (s *Store) DB() *sql.DB { return s.db }
