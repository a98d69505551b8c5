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

// Package pgctl is the local database driver: it shells out to the
// engine's own binaries (pg_ctl, pg_basebackup, pg_rewind,
// pg_controldata) and talks to the running instance over lib/pq and the
// replication protocol, implementing internal/fsm's LocalPostgresServer
// interface.
package pgctl

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/lib/pq"

	"github.com/pgha-project/pgha/internal/fsm"
)

var _ fsm.LocalPostgresServer = (*Server)(nil)

// Server drives one local Postgres instance.
type Server struct {
	PGData  string
	PGBin   string // directory containing pg_ctl, pg_basebackup, pg_rewind, pg_controldata
	Port    int
	DBName  string
	Host    string // listen_addresses value used for local connections, typically "localhost"

	ReplicationUser     string
	ReplicationPassword string

	// InitdbOptions is a shell-quoted string of extra flags appended to
	// initdb, e.g. "--data-checksums --encoding=UTF8 --locale=C".
	InitdbOptions string

	mu   sync.Mutex
	conn *sql.DB
}

// dsn builds the connection string for the local administrative
// connection, always targeting DBName over TCP loopback.
func (s *Server) dsn() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s sslmode=disable", s.Host, s.Port, s.DBName)
}

// db lazily opens (and caches) the administrative connection pool.
func (s *Server) db() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return s.conn, nil
	}

	conn, err := sql.Open("postgres", s.dsn())
	if err != nil {
		return nil, fmt.Errorf("while opening connection to local postgres: %w", err)
	}
	s.conn = conn
	return conn, nil
}

// pgCtlPath returns the full path to pg_ctl under PGBin.
func (s *Server) pgCtlPath() string {
	return s.PGBin + "/pg_ctl"
}

// postgresVersion reads the engine's numeric version (server_version_num)
// from the running instance, used to decide recovery.conf vs
// standby.signal rendering.
func (s *Server) postgresVersion() (int, error) {
	conn, err := s.db()
	if err != nil {
		return 0, err
	}

	var version int
	if err := conn.QueryRow("SHOW server_version_num").Scan(&version); err != nil {
		return 0, fmt.Errorf("while reading server_version_num: %w", err)
	}
	return version, nil
}
