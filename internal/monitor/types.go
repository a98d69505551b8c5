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

// Package monitor holds the central coordinator's domain types, shared by
// its store, orchestrator, rpcserver and notify subpackages.
package monitor

import (
	"time"

	"github.com/pgha-project/pgha/internal/fsm"
	"github.com/pgha-project/pgha/pkg/postgres"
)

// Health is the monitor's view of whether a node is reachable.
type Health int

const (
	HealthUnknown Health = iota
	HealthHealthy
	HealthUnhealthy
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Node is one row of MonitorState: everything the monitor knows and has
// decided about a single registered node.
type Node struct {
	NodeID            int64
	Name              string
	Host              string
	Port              int
	Formation         string
	GroupID           int64
	CandidatePriority int
	ReplicationQuorum bool
	SystemIdentifier  uint64
	ReportedState     fsm.NodeState
	GoalState         fsm.NodeState
	Health            Health
	ReportedLSN       postgres.LSN
	ReportedTimeline  int32
	LastReportTime    time.Time
}

// NodeAddress is the peer-discovery projection returned by
// get_other_nodes/get_primary/get_most_advanced_standby — only what a
// keeper needs to reach and replicate from a peer.
type NodeAddress struct {
	NodeID  int64
	Name    string
	Host    string
	Port    int
	LSN     postgres.LSN
	IsQuorum bool
}

// GroupStatus is the read-only projection backing `show state`.
type GroupStatus struct {
	Formation string
	GroupID   int64
	Nodes     []Node
}

// RegisterNodeParams is the input to orchestrator.RegisterNode.
type RegisterNodeParams struct {
	Formation         string
	Name              string
	Host              string
	Port              int
	SystemIdentifier  uint64
	DBName            string
	NodeIDHint        int64
	GroupIDHint       int64
	DesiredInitial    fsm.NodeState
	Kind              string
	CandidatePriority int
	ReplicationQuorum bool
}

// NodeActiveParams is the input to orchestrator.NodeActive.
type NodeActiveParams struct {
	Formation     string
	NodeID        int64
	GroupID       int64
	ReportedState fsm.NodeState
	PgIsRunning   bool
	TimelineID    int32
	LSN           postgres.LSN
	SyncState     string
}
