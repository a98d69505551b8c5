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
	"net/http"
	"time"

	"github.com/robfig/cron"
	"github.com/spf13/cobra"

	"github.com/pgha-project/pgha/cmd/pgha/exitcode"
	"github.com/pgha-project/pgha/internal/log"
	"github.com/pgha-project/pgha/internal/metrics"
	"github.com/pgha-project/pgha/internal/monitor/notify"
	"github.com/pgha-project/pgha/internal/monitor/orchestrator"
	"github.com/pgha-project/pgha/internal/monitor/rpcserver"
	"github.com/pgha-project/pgha/internal/monitor/store"
	"github.com/pgha-project/pgha/internal/pgctl"
	"github.com/pgha-project/pgha/internal/supervisor"
)

type monitorOptions struct {
	pgdata   string
	pgbin    string
	port     int
	dbname   string
	conninfo string
	listen   string

	partitionSweepInterval  time.Duration
	networkPartitionTimeout time.Duration
	pruneSchedule           string
	pruneRetention          time.Duration
}

func newMonitorCmd() *cobra.Command {
	opts := &monitorOptions{}

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Initialize the monitor's own database and start serving RPC requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreateMonitor(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.pgdata, "pgdata", "", "data directory for the monitor's own database (required unless --conninfo points elsewhere)")
	flags.StringVar(&opts.pgbin, "pgbin", "", "directory containing pg_ctl and friends")
	flags.IntVar(&opts.port, "port", 5433, "port for the monitor's own database, when initialized here")
	flags.StringVar(&opts.dbname, "dbname", "pgha_monitor", "monitor database name")
	flags.StringVar(&opts.conninfo, "conninfo", "", "connection string to the monitor database (overrides --pgdata/--port/--dbname)")
	flags.StringVar(&opts.listen, "listen", ":8001", "address the RPC server listens on")
	flags.DurationVar(&opts.partitionSweepInterval, "partition-sweep-interval", 2*time.Second, "how often to sweep for stale node reports")
	flags.DurationVar(&opts.networkPartitionTimeout, "network-partition-timeout", 10*time.Second, "how long without a report before a node is considered unreachable")
	flags.StringVar(&opts.pruneSchedule, "prune-schedule", "0 * * * *", "cron schedule on which to reclaim rows for long-dropped nodes")
	flags.DurationVar(&opts.pruneRetention, "prune-retention", 24*time.Hour, "how long a dropped node's row is kept before it is pruned")

	return cmd
}

func runCreateMonitor(ctx context.Context, opts *monitorOptions) error {
	conninfo := opts.conninfo
	if conninfo == "" {
		if opts.pgdata == "" {
			return exitcode.Wrap(exitcode.BadArgs, fmt.Errorf("one of --conninfo or --pgdata is required"))
		}

		db := &pgctl.Server{
			PGData: opts.pgdata,
			PGBin:  opts.pgbin,
			Port:   opts.port,
			DBName: opts.dbname,
			Host:   "localhost",
		}
		if err := db.InitializeDataDirectory(ctx); err != nil {
			return exitcode.Wrap(exitcode.DBError, err)
		}
		if err := db.Start(ctx); err != nil {
			return exitcode.Wrap(exitcode.DBError, err)
		}
		conninfo = fmt.Sprintf("host=localhost port=%d dbname=%s sslmode=disable", opts.port, opts.dbname)
	}

	st, err := store.Open(ctx, conninfo)
	if err != nil {
		return exitcode.Wrap(exitcode.DBError, err)
	}
	defer st.Close()

	publisher := notify.NewPublisher(st.DB())
	orch := &orchestrator.Orchestrator{
		Store:                   st,
		Notify:                  publisher,
		NetworkPartitionTimeout: opts.networkPartitionTimeout,
	}

	pruneSchedule, err := cron.Parse(opts.pruneSchedule)
	if err != nil {
		return exitcode.Wrap(exitcode.BadArgs, fmt.Errorf("invalid --prune-schedule %q: %w", opts.pruneSchedule, err))
	}

	rpc := rpcserver.NewServer(orch)
	httpServer := &http.Server{Addr: opts.listen, Handler: withMetrics(rpc)}

	sup := &supervisor.Supervisor{
		Services: []supervisor.Service{
			{
				Name: "rpcserver",
				Run: func(ctx context.Context) error {
					errCh := make(chan error, 1)
					go func() { errCh <- httpServer.ListenAndServe() }()
					select {
					case <-ctx.Done():
						shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
						defer cancel()
						return httpServer.Shutdown(shutdownCtx)
					case err := <-errCh:
						if err == http.ErrServerClosed {
							return nil
						}
						return err
					}
				},
			},
			{
				Name: "partition-sweep",
				Run: func(ctx context.Context) error {
					ticker := time.NewTicker(opts.partitionSweepInterval)
					defer ticker.Stop()
					for {
						select {
						case <-ctx.Done():
							return nil
						case <-ticker.C:
							if err := orch.SweepPartitions(ctx); err != nil {
								log.Error(err, "partition sweep failed")
							}
						}
					}
				},
			},
			{
				Name: "prune-dropped-nodes",
				Run: func(ctx context.Context) error {
					next := pruneSchedule.Next(time.Now())
					for {
						timer := time.NewTimer(time.Until(next))
						select {
						case <-ctx.Done():
							timer.Stop()
							return nil
						case now := <-timer.C:
							if n, err := orch.PruneDroppedNodes(ctx, opts.pruneRetention); err != nil {
								log.Error(err, "pruning dropped nodes failed")
							} else if n > 0 {
								log.Info("pruned dropped nodes", "count", n)
							}
							next = pruneSchedule.Next(now)
						}
					}
				},
			},
		},
	}

	log.Info("monitor listening", "address", opts.listen)
	if err := sup.Run(ctx); err != nil {
		return exitcode.Wrap(exitcode.Internal, err)
	}
	return nil
}

// withMetrics wraps the RPC handler so /metrics is reachable on the same
// listener, avoiding a second port for a single-process monitor.
func withMetrics(h http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", h)
	return mux
}
