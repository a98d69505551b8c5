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

// Package fsm implements the keeper's finite-state machine: the node
// state enum, the transition table driving it, and the driver that
// executes one transition at a time against a local database and a
// monitor.
package fsm

import (
	"encoding/json"
	"fmt"
)

// NodeState is one value of the closed set of states a node can report
// as its current or assigned role.
type NodeState int

const (
	NoState NodeState = iota
	Init
	Single
	WaitPrimary
	Primary
	JoinPrimary
	ApplySettings
	WaitStandby
	CatchingUp
	Secondary
	PrepPromotion
	StopReplication
	PrepareMaintenance
	WaitMaintenance
	Maintenance
	JoinSecondary
	FastForward
	Draining
	DemoteTimeout
	Demoted
	ReportLSN
	Dropped
	AnyState
)

var stateNames = map[NodeState]string{
	NoState:            "no_state",
	Init:               "init",
	Single:             "single",
	WaitPrimary:        "wait_primary",
	Primary:            "primary",
	JoinPrimary:        "join_primary",
	ApplySettings:      "apply_settings",
	WaitStandby:        "wait_standby",
	CatchingUp:         "catchingup",
	Secondary:          "secondary",
	PrepPromotion:      "prep_promotion",
	StopReplication:    "stop_replication",
	PrepareMaintenance: "prepare_maintenance",
	WaitMaintenance:    "wait_maintenance",
	Maintenance:        "maintenance",
	JoinSecondary:      "join_secondary",
	FastForward:        "fast_forward",
	Draining:           "draining",
	DemoteTimeout:      "demote_timeout",
	Demoted:            "demoted",
	ReportLSN:          "report_lsn",
	Dropped:            "dropped",
	AnyState:           "any_state",
}

var namesToState = func() map[string]NodeState {
	out := make(map[string]NodeState, len(stateNames))
	for state, name := range stateNames {
		out[name] = state
	}
	return out
}()

// String renders the state the way it is reported to the monitor and
// printed by `show state`.
func (s NodeState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown_state"
}

// ParseNodeState looks a state up by its wire/CLI name.
func ParseNodeState(name string) (NodeState, bool) {
	state, ok := namesToState[name]
	return state, ok
}

// MarshalJSON renders the state as its wire name rather than the
// underlying int, so the monitor's RPC and notification payloads carry the
// same names `show state` and the CLI accept.
func (s NodeState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses the state from its wire name.
func (s *NodeState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	state, ok := ParseNodeState(name)
	if !ok {
		return fmt.Errorf("unknown node state %q", name)
	}
	*s = state
	return nil
}

// IsValid reports whether s is one of the defined states (excluding the
// AnyState wildcard, which only appears on the "from" side of a
// transition-table lookup key).
func (s NodeState) IsValid() bool {
	_, ok := stateNames[s]
	return ok && s != AnyState
}

// RequiresDatabaseStopped reports whether a node reporting s must have its
// local database stopped, per the single-writer and safe-shutdown
// invariants.
func (s NodeState) RequiresDatabaseStopped() bool {
	switch s {
	case Demoted, DemoteTimeout, Draining, Maintenance, WaitMaintenance, Dropped:
		return true
	default:
		return false
	}
}

// IsHazardousToStartBefore reports whether Postgres must NOT be started
// before a transition where s is either the source or the target state:
// starting it could create a second writer.
func (s NodeState) IsHazardousToStartBefore() bool {
	switch s {
	case Draining, Demoted, DemoteTimeout:
		return true
	default:
		return false
	}
}
