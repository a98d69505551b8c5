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

package pgctl

import (
	"context"
	"fmt"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pgha-project/pgha/pkg/postgres"
)

// IdentifySystemResult mirrors the replication-protocol IDENTIFY_SYSTEM
// response: the peer's system identifier, timeline and current LSN. The
// base-backup and replication-source paths do not call IdentifySystem, so
// a base backup source's system identifier is not checked against it.
type IdentifySystemResult struct {
	SystemID string
	Timeline int32
	XLogPos  postgres.LSN
}

// IdentifySystem connects to host:port in replication mode and issues
// IDENTIFY_SYSTEM, the same call the engine's own standby startup path
// uses to validate it is following the cluster it thinks it is.
func IdentifySystem(ctx context.Context, host string, port int, user, password, dbName string) (*IdentifySystemResult, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s replication=database sslmode=disable",
		host, port, user, password, dbName)

	conn, err := pgconn.Connect(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("while connecting to %s:%d for replication: %w", host, port, err)
	}
	defer conn.Close(ctx)

	sysident, err := pglogrepl.IdentifySystem(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("while running IDENTIFY_SYSTEM against %s:%d: %w", host, port, err)
	}

	return &IdentifySystemResult{
		SystemID: sysident.SystemID,
		Timeline: sysident.Timeline,
		XLogPos:  postgres.LSN(sysident.XLogPos.String()),
	}, nil
}
