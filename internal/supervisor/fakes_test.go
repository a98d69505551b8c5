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

package supervisor

import (
	"context"

	"github.com/pgha-project/pgha/internal/fsm"
	"github.com/pgha-project/pgha/pkg/postgres"
)

// fakeDB is a minimal fsm.LocalPostgresServer double, extended with
// IsRunningAsChildOf so it also satisfies the optional interface the
// controller type-asserts for in the RunningAsSubprocess branch.
type fakeDB struct {
	running       bool
	startErr      error
	startCalls    int
	stopCalls     int
	isChild       bool
	isChildErr    error
	isChildCalls  int
}

func (f *fakeDB) IsRunning(ctx context.Context) (bool, error) { return f.running, nil }

func (f *fakeDB) Start(ctx context.Context) error {
	f.startCalls++
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeDB) Stop(ctx context.Context) error {
	f.stopCalls++
	f.running = false
	return nil
}

func (f *fakeDB) Reload(ctx context.Context) error { return nil }
func (f *fakeDB) Promote(ctx context.Context) error { return nil }
func (f *fakeDB) Rewind(ctx context.Context, source fsm.ReplicationSource) error { return nil }

func (f *fakeDB) InitializeDataDirectory(ctx context.Context) error { return nil }
func (f *fakeDB) CreateReplicationUser(ctx context.Context, user, password string) error {
	return nil
}
func (f *fakeDB) InstallHBA(ctx context.Context, peers []fsm.PeerSlot) error { return nil }

func (f *fakeDB) BaseBackup(ctx context.Context, source fsm.ReplicationSource) error { return nil }
func (f *fakeDB) WriteReplicationSource(ctx context.Context, source fsm.ReplicationSource) (bool, error) {
	return true, nil
}

func (f *fakeDB) CurrentLSN(ctx context.Context) (postgres.LSN, error) { return postgres.InvalidLSN, nil }
func (f *fakeDB) SyncState(ctx context.Context) (string, error)        { return "", nil }

func (f *fakeDB) CreateReplicationSlot(ctx context.Context, name string) error  { return nil }
func (f *fakeDB) DropReplicationSlot(ctx context.Context, name string) error    { return nil }
func (f *fakeDB) AdvanceReplicationSlot(ctx context.Context, name string, lsn postgres.LSN) error {
	return nil
}
func (f *fakeDB) ExistingReplicationSlots(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (f *fakeDB) IsRunningAsChildOf(ctx context.Context, pid int) (bool, error) {
	f.isChildCalls++
	return f.isChild, f.isChildErr
}

var _ fsm.LocalPostgresServer = (*fakeDB)(nil)
