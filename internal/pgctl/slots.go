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

	"github.com/pgha-project/pgha/pkg/postgres"
)

// ExistingReplicationSlots lists the physical replication slots
// currently defined on this instance.
func (s *Server) ExistingReplicationSlots(ctx context.Context) ([]string, error) {
	conn, err := s.db()
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx,
		"SELECT slot_name FROM pg_replication_slots WHERE slot_type = 'physical'")
	if err != nil {
		return nil, fmt.Errorf("while listing replication slots: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("while scanning replication slot name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// CreateReplicationSlot creates a physical, non-reserved-WAL replication
// slot for a peer.
func (s *Server) CreateReplicationSlot(ctx context.Context, name string) error {
	if valid, err := postgres.IsValidSlotName(name); !valid {
		return fmt.Errorf("refusing to create invalid replication slot %q: %w", name, err)
	}

	conn, err := s.db()
	if err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx,
		"SELECT pg_create_physical_replication_slot($1)", name); err != nil {
		return fmt.Errorf("while creating replication slot %q: %w", name, err)
	}
	return nil
}

// DropReplicationSlot drops a physical replication slot for a peer that
// has left the group.
func (s *Server) DropReplicationSlot(ctx context.Context, name string) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx,
		"SELECT pg_drop_replication_slot($1)", name); err != nil {
		return fmt.Errorf("while dropping replication slot %q: %w", name, err)
	}
	return nil
}

// AdvanceReplicationSlot moves a slot's restart LSN forward to lsn,
// freeing WAL the peer no longer needs, without the peer itself being
// connected. Capped by the caller at the local current LSN.
func (s *Server) AdvanceReplicationSlot(ctx context.Context, name string, lsn postgres.LSN) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx,
		"SELECT pg_replication_slot_advance($1, $2)", name, string(lsn)); err != nil {
		return fmt.Errorf("while advancing replication slot %q to %s: %w", name, lsn, err)
	}
	return nil
}
