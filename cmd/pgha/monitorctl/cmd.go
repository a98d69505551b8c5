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

// Package monitorctl implements `enable monitor` and `disable monitor`:
// pointing a running keeper at a (possibly new) monitor, or detaching it
// by clearing the monitor URI, without restarting the process — both
// update the configuration file and SIGHUP the running supervisor. The
// keeper keeps no local cache of its peers; with the URI cleared, its
// calls to the monitor fail and are retried.
package monitorctl

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pgha-project/pgha/cmd/pgha/cfgfile"
	"github.com/pgha-project/pgha/cmd/pgha/exitcode"
	"github.com/pgha-project/pgha/internal/config"
	"github.com/pgha-project/pgha/internal/log"
	"github.com/pgha-project/pgha/internal/supervisor"
)

// NewEnableCmd builds the `enable` command tree.
func NewEnableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enable [cmd]",
		Short: "Enable a keeper feature",
	}
	cmd.AddCommand(newEnableMonitorCmd())
	return cmd
}

// NewDisableCmd builds the `disable` command tree.
func NewDisableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disable [cmd]",
		Short: "Disable a keeper feature",
	}
	cmd.AddCommand(newDisableMonitorCmd())
	return cmd
}

func newEnableMonitorCmd() *cobra.Command {
	var pgdata, monitorURI string

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Point this node at a monitor and reload the running keeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pgdata == "" || monitorURI == "" {
				return exitcode.Wrap(exitcode.BadArgs, fmt.Errorf("--pgdata and --monitor are both required"))
			}
			return setMonitor(pgdata, monitorURI)
		},
	}
	cmd.Flags().StringVar(&pgdata, "pgdata", os.Getenv("PGDATA"), "data directory")
	cmd.Flags().StringVar(&monitorURI, "monitor", "", "monitor base URL to switch to")
	return cmd
}

func newDisableMonitorCmd() *cobra.Command {
	var pgdata string

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Detach this node from its monitor and reload the running keeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pgdata == "" {
				return exitcode.Wrap(exitcode.BadArgs, fmt.Errorf("--pgdata is required"))
			}
			return setMonitor(pgdata, "")
		},
	}
	cmd.Flags().StringVar(&pgdata, "pgdata", os.Getenv("PGDATA"), "data directory")
	return cmd
}

func setMonitor(pgdata, monitorURI string) error {
	path := cfgfile.Path(pgdata)
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		return exitcode.Wrap(exitcode.BadConfig, err)
	}

	cfg.MonitorURI = monitorURI
	if err := cfgfile.Write(path, cfg); err != nil {
		return exitcode.Wrap(exitcode.Internal, err)
	}

	pidPath := pgdata + "/pg_autoctl.pid"
	pidFile, err := supervisor.ReadPIDFile(pidPath)
	if err != nil {
		log.Warning("configuration updated, but no running keeper found to reload", "pgdata", pgdata, "error", err.Error())
		return nil
	}

	if err := syscall.Kill(pidFile.SupervisorPID, syscall.SIGHUP); err != nil {
		return exitcode.Wrap(exitcode.Internal, fmt.Errorf("while signaling supervisor pid %d: %w", pidFile.SupervisorPID, err))
	}

	log.Info("configuration updated, keeper reloading", "pgdata", pgdata, "monitor", monitorURI)
	return nil
}
