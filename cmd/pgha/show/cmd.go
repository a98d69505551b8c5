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

// Package show implements `show state` and `show uri`, the read-only
// reporting commands backed by the monitor's group_status and get_primary
// RPCs.
package show

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgha-project/pgha/cmd/pgha/exitcode"
	"github.com/pgha-project/pgha/internal/cliui"
	"github.com/pgha-project/pgha/internal/fsm"
	"github.com/pgha-project/pgha/internal/monitor"
	"github.com/pgha-project/pgha/internal/rpcclient"
	"github.com/pgha-project/pgha/pkg/postgres"
)

// NewCmd builds the `show` command tree.
func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [cmd]",
		Short: "Print the current state of a formation or the primary's connection string",
	}
	cmd.AddCommand(newStateCmd())
	cmd.AddCommand(newURICmd())
	return cmd
}

func newStateCmd() *cobra.Command {
	var monitorURI, formation string
	var groupID int64

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print every node's reported and assigned state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if monitorURI == "" {
				return exitcode.Wrap(exitcode.BadArgs, fmt.Errorf("--monitor is required"))
			}
			client := rpcclient.New(monitorURI)
			status, err := client.GroupStatus(cmd.Context(), formation, groupID)
			if err != nil {
				return exitcode.Wrap(exitcode.MonitorError, err)
			}
			cliui.PrintNodeStates(toDomainGroupStatus(status))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&monitorURI, "monitor", "", "monitor base URL")
	flags.StringVar(&formation, "formation", "default", "formation to display")
	flags.Int64Var(&groupID, "group-id", 0, "group to display")

	return cmd
}

func newURICmd() *cobra.Command {
	var monitorURI, formation, dbname string
	var groupID int64

	cmd := &cobra.Command{
		Use:   "uri",
		Short: "Print the connection string to reach the current primary",
		RunE: func(cmd *cobra.Command, args []string) error {
			if monitorURI == "" {
				return exitcode.Wrap(exitcode.BadArgs, fmt.Errorf("--monitor is required"))
			}
			client := rpcclient.New(monitorURI)
			primary, err := client.GetPrimary(cmd.Context(), formation, groupID)
			if err != nil {
				return exitcode.Wrap(exitcode.MonitorError, err)
			}
			cliui.PrintURI(monitorURI, monitor.NodeAddress{
				NodeID: primary.NodeID,
				Name:   primary.Name,
				Host:   primary.Host,
				Port:   primary.Port,
			}, dbname)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&monitorURI, "monitor", "", "monitor base URL")
	flags.StringVar(&formation, "formation", "default", "formation to display")
	flags.Int64Var(&groupID, "group-id", 0, "group to display")
	flags.StringVar(&dbname, "dbname", "postgres", "application database name")

	return cmd
}

// toDomainGroupStatus adapts rpcclient's wire-shaped GroupStatus back
// into internal/monitor's domain type, which internal/cliui renders.
func toDomainGroupStatus(status rpcclient.GroupStatus) monitor.GroupStatus {
	out := monitor.GroupStatus{Formation: status.Formation, GroupID: status.GroupID}
	for _, n := range status.Nodes {
		reported, _ := fsm.ParseNodeState(n.ReportedState)
		goal, _ := fsm.ParseNodeState(n.GoalState)
		out.Nodes = append(out.Nodes, monitor.Node{
			NodeID:        n.NodeID,
			Name:          n.Name,
			Host:          n.Host,
			Port:          n.Port,
			ReportedState: reported,
			GoalState:     goal,
			Health:        monitor.Health(n.Health),
			ReportedLSN:   postgres.LSN(n.ReportedLSN),
		})
	}
	return out
}
