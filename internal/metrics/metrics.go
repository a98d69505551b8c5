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

// Package metrics exposes the keeper's and monitor's internal counters as
// Prometheus gauges/counters, grounded on the teacher's own metrics
// registration pattern: a package-level registry, constructors returning
// already-registered collectors, and an http.Handler for the scrape
// endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// Registry is the collector registry this package's metrics live in,
// separate from the default global registry so a single process can embed
// both keeper and monitor metrics without collisions.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// NodeState is 1 for the NodeState this keeper currently reports as
	// current_role, 0 for every other state; used to chart role changes.
	NodeState = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pgha",
		Subsystem: "keeper",
		Name:      "node_state",
		Help:      "1 for the node's current reported state, labeled by state name.",
	}, []string{"state"})

	// FSMTransitionsTotal counts (current_role, assigned_role) transition
	// attempts, labeled by from state, to state and outcome.
	FSMTransitionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pgha",
		Subsystem: "keeper",
		Name:      "fsm_transitions_total",
		Help:      "Count of FSM transition attempts, labeled by from state, to state and outcome.",
	}, []string{"from", "to", "outcome"})

	// DBRestartsTotal counts times the DB controller has had to (re)start
	// the local Postgres instance.
	DBRestartsTotal = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: "pgha",
		Subsystem: "keeper",
		Name:      "db_restarts_total",
		Help:      "Count of times the DB controller started Postgres.",
	})

	// MonitorRPCDuration observes node_active/register_node call latency.
	MonitorRPCDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pgha",
		Subsystem: "rpcclient",
		Name:      "monitor_rpc_duration_seconds",
		Help:      "Latency of monitor RPC calls, labeled by method and outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "outcome"})

	// GroupsTotal reports the number of replication groups the monitor is
	// currently tracking, labeled by formation.
	GroupsTotal = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pgha",
		Subsystem: "monitor",
		Name:      "groups_total",
		Help:      "Number of replication groups tracked, labeled by formation.",
	}, []string{"formation"})

	// FailoversTotal counts monitor-triggered failovers, labeled by trigger
	// (automatic vs operator-requested).
	FailoversTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pgha",
		Subsystem: "monitor",
		Name:      "failovers_total",
		Help:      "Count of failovers performed, labeled by trigger.",
	}, []string{"trigger"})
)

// Handler returns the HTTP handler that serves Registry's metrics in the
// Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
