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

/*
The pgha command is the agent and CLI for the distributed finite-state-
machine Postgres high-availability system: `pgha run` drives a node's
keeper, `pgha create monitor` stands up the central coordinator, and the
remaining subcommands administer a running formation.
*/
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pgha-project/pgha/cmd/pgha/create"
	"github.com/pgha-project/pgha/cmd/pgha/exitcode"
	"github.com/pgha-project/pgha/cmd/pgha/failover"
	"github.com/pgha-project/pgha/cmd/pgha/monitorctl"
	"github.com/pgha-project/pgha/cmd/pgha/node"
	"github.com/pgha-project/pgha/cmd/pgha/run"
	"github.com/pgha-project/pgha/cmd/pgha/show"
	"github.com/pgha-project/pgha/internal/log"
)

func main() {
	var debug, jsonLogs bool

	cmd := &cobra.Command{
		Use:           "pgha [cmd]",
		Short:         "Distributed finite-state-machine Postgres high-availability agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return log.SetupLogger(debug, jsonLogs)
		},
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable verbose logging")
	cmd.PersistentFlags().BoolVar(&jsonLogs, "json", false, "emit JSON-structured logs instead of the console encoder")

	cmd.AddCommand(create.NewCmd())
	cmd.AddCommand(run.NewCmd())
	cmd.AddCommand(monitorctl.NewEnableCmd())
	cmd.AddCommand(monitorctl.NewDisableCmd())
	cmd.AddCommand(node.NewDropCmd())
	cmd.AddCommand(node.NewSetCmd())
	cmd.AddCommand(show.NewCmd())
	cmd.AddCommand(failover.NewCmd())

	if err := cmd.Execute(); err != nil {
		log.Error(err, "command failed")
		os.Exit(exitcode.CodeOf(err))
	}
}
