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

	"github.com/pgha-project/pgha/pkg/postgres"
)

// ReplicationSource describes how a standby should stream from its
// upstream: everything needed to render recovery.conf or the
// standby-signal-plus-auto.conf pair, and nothing else.
type ReplicationSource struct {
	PrimaryHost       string
	PrimaryPort       int
	ReplicationUser   string
	ReplicationPass   string
	SlotName          string
	ApplicationName   string
	MaximumBackupRate string
	SSLMode           string
	TargetLSN         postgres.LSN
}

// PeerSlot is one peer's replication-slot bookkeeping as seen from this
// node: used to reconcile slots on the primary and on secondaries.
type PeerSlot struct {
	NodeID       int64
	SlotName     string
	ReportedLSN  postgres.LSN
}

// LocalPostgresServer is the capability a transition function uses to
// drive the local database. internal/pgctl provides the implementation
// that actually shells out to the engine's binaries and the replication
// protocol; fsm only depends on this interface so transition logic can be
// tested without a real postgres.
type LocalPostgresServer interface {
	IsRunning(ctx context.Context) (bool, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Reload(ctx context.Context) error
	Promote(ctx context.Context) error
	Rewind(ctx context.Context, source ReplicationSource) error

	InitializeDataDirectory(ctx context.Context) error
	CreateReplicationUser(ctx context.Context, user, password string) error
	InstallHBA(ctx context.Context, peers []PeerSlot) error

	BaseBackup(ctx context.Context, source ReplicationSource) error
	WriteReplicationSource(ctx context.Context, source ReplicationSource) (changed bool, err error)

	CurrentLSN(ctx context.Context) (postgres.LSN, error)
	SyncState(ctx context.Context) (string, error)

	CreateReplicationSlot(ctx context.Context, name string) error
	DropReplicationSlot(ctx context.Context, name string) error
	AdvanceReplicationSlot(ctx context.Context, name string, lsn postgres.LSN) error
	ExistingReplicationSlots(ctx context.Context) ([]string, error)
}

// MonitorClient is the capability a transition or the driver's RPC loop
// uses to talk to the central coordinator. internal/rpcclient implements
// it over HTTP.
type MonitorClient interface {
	RegisterNode(ctx context.Context, req RegisterRequest) (RegisterResponse, error)
	NodeActive(ctx context.Context, req NodeActiveRequest) (NodeActiveResponse, error)
}

// RegisterRequest is what the keeper sends when joining a formation for
// the first time.
type RegisterRequest struct {
	Formation         string
	Name              string
	Host              string
	Port              int
	SystemIdentifier  uint64
	DBName            string
	NodeIDHint        int64
	GroupIDHint       int64
	DesiredInitial    NodeState
	Kind              string
	CandidatePriority int
	ReplicationQuorum bool
	ClusterName       string
}

// RegisterResponse is the monitor's answer to RegisterNode.
type RegisterResponse struct {
	NodeID       int64
	GroupID      int64
	Name         string
	AssignedRole NodeState
}

// NodeActiveRequest is the per-cycle report a keeper sends to the
// monitor.
type NodeActiveRequest struct {
	Formation     string
	NodeID        int64
	GroupID       int64
	ReportedState NodeState
	PgIsRunning   bool
	TimelineID    int
	LSN           postgres.LSN
	SyncState     string
}

// NodeActiveResponse is the monitor's answer: the state the keeper should
// now drive itself to, plus any renaming the monitor performed.
type NodeActiveResponse struct {
	AssignedState NodeState
	Name          string
}
