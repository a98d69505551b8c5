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

// Package run implements `pgha run`: the keeper's long-lived process,
// supervising the FSM driver loop and the DB controller loop side by
// side for the lifetime of the node.
package run

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgha-project/pgha/cmd/pgha/cfgfile"
	"github.com/pgha-project/pgha/cmd/pgha/exitcode"
	"github.com/pgha-project/pgha/internal/config"
	"github.com/pgha-project/pgha/internal/fsm"
	"github.com/pgha-project/pgha/internal/log"
	"github.com/pgha-project/pgha/internal/metrics"
	"github.com/pgha-project/pgha/internal/monitor/notify"
	"github.com/pgha-project/pgha/internal/pgctl"
	"github.com/pgha-project/pgha/internal/rpcclient"
	"github.com/pgha-project/pgha/internal/supervisor"
)

const defaultMaxPrimaryRestartRetries = 3
const defaultPrimaryRestartFailureTimeout = 20 * time.Second
const lsnCatchupTolerance = 8 * 1024 * 1024 // 8 MiB
const agentVersion = "0.1.0"

type options struct {
	pgdata       string
	configPath   string
	metricsAddr  string
}

// NewCmd builds the `run` command.
func NewCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the keeper: drive the local FSM and supervise the local database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeeper(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.pgdata, "pgdata", os.Getenv("PGDATA"), "data directory (defaults to $PGDATA)")
	flags.StringVar(&opts.configPath, "config", "", "configuration file path (defaults to <pgdata>/pg_autoctl.ini)")
	flags.StringVar(&opts.metricsAddr, "metrics-listen", ":9187", "address the Prometheus scrape endpoint listens on")

	return cmd
}

// slotName is the replication slot name convention for a peer's node id.
func slotName(nodeID int64) string {
	return fmt.Sprintf("pgha_%d", nodeID)
}

func runKeeper(ctx context.Context, opts *options) error {
	if opts.pgdata == "" {
		return exitcode.Wrap(exitcode.BadArgs, fmt.Errorf("--pgdata (or $PGDATA) is required"))
	}

	configPath := opts.configPath
	if configPath == "" {
		configPath = cfgfile.Path(opts.pgdata)
	}

	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return exitcode.Wrap(exitcode.BadConfig, err)
	}

	db := &pgctl.Server{
		PGData:              cfg.PGData,
		PGBin:                cfg.PGBin,
		Port:                cfg.Port,
		DBName:               "postgres",
		Host:                 "localhost",
		ReplicationUser:      cfg.ReplicationUser,
		ReplicationPassword:  cfg.ReplicationPassword,
	}

	monitorClient := rpcclient.New(cfg.MonitorURI)

	driver := &fsm.Driver{
		Monitor:                      monitorClient,
		DB:                           db,
		StatePath:                    fsm.KeeperStatePath(cfg.PGData),
		InitStatePath:                fsm.KeeperInitStatePath(cfg.PGData),
		Formation:                    cfg.Formation,
		NodeName:                     cfg.NodeName,
		Host:                         cfg.Host,
		Port:                         cfg.Port,
		ReplicationUser:              cfg.ReplicationUser,
		ReplicationPassword:          cfg.ReplicationPassword,
		LSNCatchupTolerance:          lsnCatchupTolerance,
		MaxPrimaryRestartRetries:     defaultMaxPrimaryRestartRetries,
		PrimaryRestartFailureTimeout: defaultPrimaryRestartFailureTimeout,
	}
	if err := driver.LoadState(); err != nil {
		return exitcode.Wrap(exitcode.BadConfig, err)
	}
	if driver.State() == nil {
		return exitcode.Wrap(exitcode.BadConfig,
			fmt.Errorf("%q has not been initialized yet, run `pgha create postgres` first", cfg.PGData))
	}

	restarts := &supervisor.RestartTracker{}
	driver.Restarts = restarts

	dbController := &supervisor.DBController{
		DB:                 db,
		ExpectedStatusPath: fsm.ExpectedPostgresStatusPath(cfg.PGData),
		Restarts:           restarts,
		SupervisorPID:      os.Getpid(),
	}

	fsmLoop := &fsmService{
		driver:     driver,
		client:     monitorClient,
		cfg:        cfg,
		statusPath: fsm.ExpectedPostgresStatusPath(cfg.PGData),
		wake:       make(chan struct{}, 1),
	}

	metricsServer := &http.Server{Addr: opts.metricsAddr, Handler: metrics.Handler()}

	pidPath := cfg.PGData + "/pg_autoctl.pid"
	pidFile := supervisor.PIDFile{
		SupervisorPID:  os.Getpid(),
		PGData:         cfg.PGData,
		AgentVersion:   agentVersion,
		RequiredSchema: rpcclient.RequiredSchemaVersion(),
		SemaphoreID:    fmt.Sprintf("%d", os.Getpid()),
		Services: map[int]string{
			os.Getpid(): "supervisor",
		},
	}
	if err := pidFile.Write(pidPath); err != nil {
		return exitcode.Wrap(exitcode.Internal, err)
	}
	defer os.Remove(pidPath)

	services := []supervisor.Service{
		{Name: "fsm", Run: fsmLoop.Run},
		{Name: "dbcontroller", Run: dbController.Run},
		{
			Name: "metrics",
			Run: func(ctx context.Context) error {
				errCh := make(chan error, 1)
				go func() { errCh <- metricsServer.ListenAndServe() }()
				select {
				case <-ctx.Done():
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return metricsServer.Shutdown(shutdownCtx)
				case err := <-errCh:
					if err == http.ErrServerClosed {
						return nil
					}
					return err
				}
			},
		},
	}

	if cfg.MonitorConninfo != "" {
		subscriber, err := notify.NewSubscriber(cfg.MonitorConninfo)
		if err != nil {
			return exitcode.Wrap(exitcode.MonitorError, err)
		}
		services = append(services, supervisor.Service{
			Name: "notify-listener",
			Run: func(ctx context.Context) error {
				go func() {
					for {
						select {
						case <-ctx.Done():
							return
						case _, ok := <-subscriber.Payloads:
							if !ok {
								return
							}
							fsmLoop.Wake()
						}
					}
				}()
				return subscriber.Run(ctx)
			},
		})
	}

	sup := &supervisor.Supervisor{
		PIDPath:  pidPath,
		Services: services,
		OnReload: func(ctx context.Context) error {
			newCfg, err := loader.Reload()
			if err != nil {
				return err
			}
			fsmLoop.setConfig(newCfg)
			monitorClient.SetBaseURL(newCfg.MonitorURI)
			return nil
		},
	}

	log.Info("keeper starting", "pgdata", cfg.PGData, "node_name", cfg.NodeName, "monitor", cfg.MonitorURI)
	if err := sup.Run(ctx); err != nil {
		return exitcode.Wrap(exitcode.Internal, err)
	}
	return nil
}
