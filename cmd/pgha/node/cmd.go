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

// Package node implements `drop node` and `set node
// candidate-priority|replication-quorum`: the monitor-facing node
// administration commands.
package node

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgha-project/pgha/cmd/pgha/exitcode"
	"github.com/pgha-project/pgha/internal/rpcclient"
)

// NewDropCmd builds the `drop` command tree.
func NewDropCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drop [cmd]",
		Short: "Remove a node or formation object",
	}
	cmd.AddCommand(newDropNodeCmd())
	return cmd
}

// NewSetCmd builds the `set` command tree.
func NewSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set [cmd]",
		Short: "Change a node's metadata on the monitor",
	}

	setNode := &cobra.Command{
		Use:   "node [cmd]",
		Short: "Change one node's metadata",
	}
	setNode.AddCommand(newSetCandidatePriorityCmd())
	setNode.AddCommand(newSetReplicationQuorumCmd())
	cmd.AddCommand(setNode)

	return cmd
}

func newDropNodeCmd() *cobra.Command {
	var monitorURI string
	var nodeID int64
	var destroy bool

	cmd := &cobra.Command{
		Use:   "node",
		Short: "Remove a node from its formation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if monitorURI == "" || nodeID == 0 {
				return exitcode.Wrap(exitcode.BadArgs, fmt.Errorf("--monitor and --node-id are both required"))
			}
			client := rpcclient.New(monitorURI)
			if err := client.RemoveNode(cmd.Context(), nodeID, destroy); err != nil {
				return exitcode.Wrap(exitcode.MonitorError, err)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&monitorURI, "monitor", "", "monitor base URL")
	flags.Int64Var(&nodeID, "node-id", 0, "node id to drop")
	flags.BoolVar(&destroy, "destroy", false, "delete the row immediately instead of waiting for DROPPED confirmation")

	return cmd
}

func newSetCandidatePriorityCmd() *cobra.Command {
	var monitorURI string
	var nodeID int64
	var priority int

	cmd := &cobra.Command{
		Use:   "candidate-priority",
		Short: "Set a node's promotion candidate priority",
		RunE: func(cmd *cobra.Command, args []string) error {
			if monitorURI == "" || nodeID == 0 {
				return exitcode.Wrap(exitcode.BadArgs, fmt.Errorf("--monitor and --node-id are both required"))
			}
			client := rpcclient.New(monitorURI)
			err := client.UpdateNodeMetadata(cmd.Context(), nodeID, rpcclient.UpdateNodeMetadataRequest{
				CandidatePriority: &priority,
			})
			if err != nil {
				return exitcode.Wrap(exitcode.MonitorError, err)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&monitorURI, "monitor", "", "monitor base URL")
	flags.Int64Var(&nodeID, "node-id", 0, "node id to update")
	flags.IntVar(&priority, "value", 100, "new candidate priority (0 excludes the node from promotion)")

	return cmd
}

func newSetReplicationQuorumCmd() *cobra.Command {
	var monitorURI string
	var nodeID int64
	var quorum bool

	cmd := &cobra.Command{
		Use:   "replication-quorum",
		Short: "Set whether a node counts towards synchronous quorum",
		RunE: func(cmd *cobra.Command, args []string) error {
			if monitorURI == "" || nodeID == 0 {
				return exitcode.Wrap(exitcode.BadArgs, fmt.Errorf("--monitor and --node-id are both required"))
			}
			client := rpcclient.New(monitorURI)
			err := client.UpdateNodeMetadata(cmd.Context(), nodeID, rpcclient.UpdateNodeMetadataRequest{
				ReplicationQuorum: &quorum,
			})
			if err != nil {
				return exitcode.Wrap(exitcode.MonitorError, err)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&monitorURI, "monitor", "", "monitor base URL")
	flags.Int64Var(&nodeID, "node-id", 0, "node id to update")
	flags.BoolVar(&quorum, "value", true, "whether the node counts towards synchronous quorum")

	return cmd
}
