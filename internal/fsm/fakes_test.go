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
	"time"

	"github.com/pgha-project/pgha/pkg/postgres"
)

type fakeMonitor struct {
	registerResponse RegisterResponse
	nodeActiveState  NodeState
	nodeActiveCalls  int
	lastPgIsRunning  bool
}

func (m *fakeMonitor) RegisterNode(ctx context.Context, req RegisterRequest) (RegisterResponse, error) {
	return m.registerResponse, nil
}

func (m *fakeMonitor) NodeActive(ctx context.Context, req NodeActiveRequest) (NodeActiveResponse, error) {
	m.nodeActiveCalls++
	m.lastPgIsRunning = req.PgIsRunning
	return NodeActiveResponse{AssignedState: m.nodeActiveState}, nil
}

type fakeDB struct {
	running    bool
	startCalls int
	stopCalls  int
	lsn        postgres.LSN
	syncState  string
	slots      map[string]postgres.LSN
}

func newFakeDB() *fakeDB {
	return &fakeDB{slots: map[string]postgres.LSN{}}
}

func (f *fakeDB) IsRunning(ctx context.Context) (bool, error) { return f.running, nil }

func (f *fakeDB) Start(ctx context.Context) error {
	f.running = true
	f.startCalls++
	return nil
}

func (f *fakeDB) Stop(ctx context.Context) error {
	f.running = false
	f.stopCalls++
	return nil
}

func (f *fakeDB) Reload(ctx context.Context) error               { return nil }
func (f *fakeDB) Promote(ctx context.Context) error               { f.syncState = ""; return nil }
func (f *fakeDB) Rewind(ctx context.Context, source ReplicationSource) error { return nil }

func (f *fakeDB) InitializeDataDirectory(ctx context.Context) error { return nil }
func (f *fakeDB) CreateReplicationUser(ctx context.Context, user, password string) error {
	return nil
}
func (f *fakeDB) InstallHBA(ctx context.Context, peers []PeerSlot) error { return nil }

func (f *fakeDB) BaseBackup(ctx context.Context, source ReplicationSource) error { return nil }
func (f *fakeDB) WriteReplicationSource(ctx context.Context, source ReplicationSource) (bool, error) {
	return true, nil
}

func (f *fakeDB) CurrentLSN(ctx context.Context) (postgres.LSN, error) { return f.lsn, nil }
func (f *fakeDB) SyncState(ctx context.Context) (string, error)        { return f.syncState, nil }

func (f *fakeDB) CreateReplicationSlot(ctx context.Context, name string) error {
	f.slots[name] = postgres.InvalidLSN
	return nil
}
func (f *fakeDB) DropReplicationSlot(ctx context.Context, name string) error {
	delete(f.slots, name)
	return nil
}
func (f *fakeDB) AdvanceReplicationSlot(ctx context.Context, name string, lsn postgres.LSN) error {
	f.slots[name] = lsn
	return nil
}
func (f *fakeDB) ExistingReplicationSlots(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(f.slots))
	for name := range f.slots {
		names = append(names, name)
	}
	return names, nil
}

type fakeRestartTracker struct {
	failures int
}

func (f *fakeRestartTracker) FailuresWithinWindow(now time.Time, window time.Duration) int {
	return f.failures
}
