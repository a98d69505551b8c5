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

// Package create implements `create postgres` and `create monitor`: the
// two one-shot bootstrap commands that turn an empty data directory into
// a registered keeper or a running monitor.
package create

import (
	"github.com/spf13/cobra"
)

// NewCmd builds the `create` command tree.
func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create [cmd]",
		Short: "Initialize a postgres node or a monitor",
	}

	cmd.AddCommand(newPostgresCmd())
	cmd.AddCommand(newMonitorCmd())

	return cmd
}
