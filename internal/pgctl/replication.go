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
	"database/sql"
	"fmt"

	"github.com/pgha-project/pgha/pkg/postgres"
)

// CurrentLSN returns pg_current_wal_lsn() on a primary, or
// pg_last_wal_replay_lsn() on a standby, whichever applies to this
// instance's current recovery status.
func (s *Server) CurrentLSN(ctx context.Context) (postgres.LSN, error) {
	conn, err := s.db()
	if err != nil {
		return postgres.InvalidLSN, err
	}

	var inRecovery bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_is_in_recovery()").Scan(&inRecovery); err != nil {
		return postgres.InvalidLSN, fmt.Errorf("while checking recovery status: %w", err)
	}

	query := "SELECT pg_current_wal_lsn()"
	if inRecovery {
		query = "SELECT pg_last_wal_replay_lsn()"
	}

	var lsn string
	if err := conn.QueryRowContext(ctx, query).Scan(&lsn); err != nil {
		return postgres.InvalidLSN, fmt.Errorf("while reading current LSN: %w", err)
	}
	return postgres.LSN(lsn), nil
}

// SyncState reads the sync_state column of pg_stat_replication for the
// single synchronous (or potential) standby connection, returning "" if
// none is connected yet. An empty value on a PRIMARY is a WARNING
// condition for the caller, not a hard failure: a standby may be
// momentarily disconnected and the monitor escalates via timeouts.
func (s *Server) SyncState(ctx context.Context) (string, error) {
	conn, err := s.db()
	if err != nil {
		return "", err
	}

	var state string
	err = conn.QueryRowContext(ctx,
		"SELECT sync_state FROM pg_stat_replication ORDER BY sync_state = 'sync' DESC LIMIT 1").Scan(&state)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("while reading replication sync_state: %w", err)
	}
	return state, nil
}

// CreateReplicationUser creates (or updates the password of) the
// replication role standbys authenticate as.
func (s *Server) CreateReplicationUser(ctx context.Context, user, password string) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx,
		fmt.Sprintf(`DO $$ BEGIN
			IF NOT EXISTS (SELECT FROM pg_roles WHERE rolname = %s) THEN
				CREATE ROLE %s WITH REPLICATION LOGIN PASSWORD %s;
			ELSE
				ALTER ROLE %s WITH PASSWORD %s;
			END IF;
		END $$;`,
			postgres.QuoteLiteral(user), postgres.QuoteIdentifier(user), postgres.QuoteLiteral(password),
			postgres.QuoteIdentifier(user), postgres.QuoteLiteral(password)),
	); err != nil {
		return fmt.Errorf("while creating replication role %q: %w", user, err)
	}
	return nil
}
