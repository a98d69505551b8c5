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

package create

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-password/password"
	"github.com/spf13/cobra"

	"github.com/pgha-project/pgha/cmd/pgha/cfgfile"
	"github.com/pgha-project/pgha/cmd/pgha/exitcode"
	"github.com/pgha-project/pgha/internal/config"
	"github.com/pgha-project/pgha/internal/fsm"
	"github.com/pgha-project/pgha/internal/log"
	"github.com/pgha-project/pgha/internal/pgctl"
	"github.com/pgha-project/pgha/internal/rpcclient"
	"github.com/pgha-project/pgha/pkg/fileutils"
)

type postgresOptions struct {
	pgdata   string
	pgbin    string
	name     string
	host     string
	port     int
	formation string
	groupID  int64
	monitor         string
	monitorConninfo string
	dbname          string

	replicationUser     string
	replicationPassword string
	candidatePriority   int
	replicationQuorum   bool
	sslMode             string
	initdbOptions       string
}

func newPostgresCmd() *cobra.Command {
	opts := &postgresOptions{}

	cmd := &cobra.Command{
		Use:   "postgres",
		Short: "Initialize a postgres node and register it with the monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreatePostgres(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.pgdata, "pgdata", "", "data directory (required)")
	flags.StringVar(&opts.pgbin, "pgbin", "", "directory containing pg_ctl and friends")
	flags.StringVar(&opts.name, "name", "", "node name (required)")
	flags.StringVar(&opts.host, "host", "localhost", "hostname or address other nodes use to reach this one")
	flags.IntVar(&opts.port, "port", 5432, "postgres port")
	flags.StringVar(&opts.formation, "formation", "default", "formation to join")
	flags.Int64Var(&opts.groupID, "group-id", 0, "group hint within the formation")
	flags.StringVar(&opts.monitor, "monitor", "", "monitor base URL, e.g. http://10.0.0.1:8001 (required)")
	flags.StringVar(&opts.monitorConninfo, "monitor-conninfo", "", "libpq conninfo to the monitor's own database, for low-latency LISTEN/NOTIFY wakeups (optional; node_active polling alone still works without it)")
	flags.StringVar(&opts.dbname, "dbname", "postgres", "application database name")
	flags.StringVar(&opts.replicationUser, "replication-user", "pgha_replicator", "replication role name")
	flags.StringVar(&opts.replicationPassword, "replication-password", "", "replication role password")
	flags.IntVar(&opts.candidatePriority, "candidate-priority", 100, "promotion candidate priority")
	flags.BoolVar(&opts.replicationQuorum, "replication-quorum", true, "count this node towards synchronous quorum")
	flags.StringVar(&opts.sslMode, "ssl-mode", "prefer", "libpq sslmode for replication connections")
	flags.StringVar(&opts.initdbOptions, "initdb-options", "", "extra space-separated flags passed to initdb, e.g. \"--data-checksums --locale=C\"")

	return cmd
}

func runCreatePostgres(ctx context.Context, opts *postgresOptions) error {
	if opts.pgdata == "" || opts.name == "" || opts.monitor == "" {
		return exitcode.Wrap(exitcode.BadArgs,
			fmt.Errorf("--pgdata, --name and --monitor are all required"))
	}

	statePath := fsm.KeeperStatePath(opts.pgdata)
	if exists, err := fileutils.FileExists(statePath); err != nil {
		return exitcode.Wrap(exitcode.Internal, err)
	} else if exists {
		log.Info("node is already initialized, nothing to do", "pgdata", opts.pgdata)
		return nil
	}

	initStatePath := fsm.KeeperInitStatePath(opts.pgdata)
	if err := (fsm.KeeperInitState{State: fsm.InitStatePGDataExists}).Write(initStatePath); err != nil {
		return exitcode.Wrap(exitcode.Internal, err)
	}

	if opts.replicationPassword == "" {
		generated, err := password.Generate(64, 10, 0, false, true)
		if err != nil {
			return exitcode.Wrap(exitcode.Internal, fmt.Errorf("while generating replication password: %w", err))
		}
		opts.replicationPassword = generated
	}

	db := &pgctl.Server{
		PGData:              opts.pgdata,
		PGBin:               opts.pgbin,
		Port:                opts.port,
		DBName:              opts.dbname,
		Host:                "localhost",
		ReplicationUser:     opts.replicationUser,
		ReplicationPassword: opts.replicationPassword,
		InitdbOptions:       opts.initdbOptions,
	}

	if err := db.InitializeDataDirectory(ctx); err != nil {
		return exitcode.Wrap(exitcode.DBError, err)
	}
	if err := db.Start(ctx); err != nil {
		return exitcode.Wrap(exitcode.DBError, err)
	}
	if err := db.CreateReplicationUser(ctx, opts.replicationUser, opts.replicationPassword); err != nil {
		return exitcode.Wrap(exitcode.DBError, err)
	}

	controlData, err := db.ReadControlData()
	if err != nil {
		return exitcode.Wrap(exitcode.DBError, err)
	}

	monitorClient := rpcclient.New(opts.monitor)
	driver := &fsm.Driver{
		Monitor:             monitorClient,
		DB:                  db,
		StatePath:           statePath,
		InitStatePath:       initStatePath,
		Formation:           opts.formation,
		NodeName:            opts.name,
		Host:                opts.host,
		Port:                opts.port,
		ReplicationUser:     opts.replicationUser,
		ReplicationPassword: opts.replicationPassword,
	}

	if err := driver.RegisterAndInit(ctx, controlData.SystemIdentifier, fsm.Init,
		opts.candidatePriority, opts.replicationQuorum); err != nil {
		return exitcode.Wrap(exitcode.MonitorError, err)
	}

	cfg := config.Config{
		PGData:                    opts.pgdata,
		PGBin:                     opts.pgbin,
		NodeName:                  opts.name,
		Host:                      opts.host,
		Port:                      opts.port,
		Formation:                 opts.formation,
		GroupID:                   driver.State().CurrentGroup,
		CandidatePriority:         opts.candidatePriority,
		ReplicationQuorum:         opts.replicationQuorum,
		MonitorURI:                opts.monitor,
		MonitorConninfo:           opts.monitorConninfo,
		ReplicationUser:           opts.replicationUser,
		ReplicationPassword:       opts.replicationPassword,
		NodeActiveIntervalSeconds: 5,
		SSLMode:                   opts.sslMode,
	}
	if err := cfgfile.Write(cfgfile.Path(opts.pgdata), cfg); err != nil {
		return exitcode.Wrap(exitcode.Internal, err)
	}

	if err := fsm.RemoveKeeperInitState(initStatePath); err != nil {
		return exitcode.Wrap(exitcode.Internal, err)
	}

	log.Info("node registered with the monitor",
		"node_id", driver.State().CurrentNodeID, "group_id", driver.State().CurrentGroup,
		"assigned_role", driver.State().AssignedRole)
	return nil
}
