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

// Package failover implements `perform failover`, the operator-triggered
// entry point that shares its decision algorithm with the monitor's
// automatic primary-down path.
package failover

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgha-project/pgha/cmd/pgha/exitcode"
	"github.com/pgha-project/pgha/internal/log"
	"github.com/pgha-project/pgha/internal/rpcclient"
)

// NewCmd builds the `perform` command tree.
func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "perform [cmd]",
		Short: "Trigger an operator-requested action on a formation",
	}
	cmd.AddCommand(newFailoverCmd())
	return cmd
}

func newFailoverCmd() *cobra.Command {
	var monitorURI, formation string
	var groupID int64

	cmd := &cobra.Command{
		Use:   "failover",
		Short: "Trigger a planned failover within a group",
		RunE: func(cmd *cobra.Command, args []string) error {
			if monitorURI == "" {
				return exitcode.Wrap(exitcode.BadArgs, fmt.Errorf("--monitor is required"))
			}
			client := rpcclient.New(monitorURI)
			if err := client.PerformFailover(cmd.Context(), formation, groupID); err != nil {
				return exitcode.Wrap(exitcode.MonitorError, err)
			}
			log.Info("failover requested", "formation", formation, "group_id", groupID)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&monitorURI, "monitor", "", "monitor base URL")
	flags.StringVar(&formation, "formation", "default", "formation to fail over")
	flags.Int64Var(&groupID, "group-id", 0, "group to fail over")

	return cmd
}
