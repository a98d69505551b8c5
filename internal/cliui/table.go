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

// Package cliui renders `show state`/`show uri` output: a table via
// cheynewallace/tabby, with role/health coloring via logrusorgru/aurora/v3.
package cliui

import (
	"fmt"

	"github.com/cheynewallace/tabby"
	"github.com/logrusorgru/aurora/v3"

	"github.com/pgha-project/pgha/internal/fsm"
	"github.com/pgha-project/pgha/internal/monitor"
)

// PrintNodeStates renders `show state`: one row per node, colored by role.
func PrintNodeStates(status monitor.GroupStatus) {
	t := tabby.New()
	t.AddHeader("Name", "Node", "Host:Port", "LSN", "Reported State", "Assigned State", "Health")

	for _, n := range status.Nodes {
		t.AddLine(
			n.Name,
			fmt.Sprintf("%d", n.NodeID),
			fmt.Sprintf("%s:%d", n.Host, n.Port),
			string(n.ReportedLSN),
			colorState(n.ReportedState),
			colorState(n.GoalState),
			colorHealth(n.Health),
		)
	}

	t.Print()
}

func colorState(s fsm.NodeState) string {
	switch s {
	case fsm.Primary, fsm.Single:
		return aurora.Green(s.String()).String()
	case fsm.Demoted, fsm.DemoteTimeout, fsm.Draining, fsm.Dropped:
		return aurora.Red(s.String()).String()
	case fsm.Secondary, fsm.CatchingUp:
		return aurora.Cyan(s.String()).String()
	default:
		return aurora.Yellow(s.String()).String()
	}
}

func colorHealth(h monitor.Health) string {
	switch h {
	case monitor.HealthHealthy:
		return aurora.Green(h.String()).String()
	case monitor.HealthUnhealthy:
		return aurora.Red(h.String()).String()
	default:
		return aurora.Yellow(h.String()).String()
	}
}

// PrintURI renders `show uri`: the connection string to reach the current
// primary, plus the monitor's own URI for reference.
func PrintURI(monitorURI string, primary monitor.NodeAddress, dbName string) {
	t := tabby.New()
	t.AddHeader("Connection", "URI")
	t.AddLine("Monitor", monitorURI)
	t.AddLine("Formation primary", fmt.Sprintf("postgres://%s:%d/%s?sslmode=prefer", primary.Host, primary.Port, dbName))
	t.Print()
}
