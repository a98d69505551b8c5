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

// Package notify publishes and receives the monitor's "state" pub/sub
// channel over Postgres LISTEN/NOTIFY, via lib/pq's pq.Listener — the one
// piece of the original wire protocol kept byte-for-byte, because it is
// exactly the idiomatic Go way to consume Postgres notifications.
package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/pgha-project/pgha/internal/fsm"
	"github.com/pgha-project/pgha/internal/log"
	"github.com/pgha-project/pgha/internal/monitor"
)

// Channel is the named pub/sub channel every keeper subscribes to.
const Channel = "state"

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
)

// Payload is the JSON body carried on Channel.
type Payload struct {
	NodeID        int64         `json:"node_id"`
	GroupID       int64         `json:"group_id"`
	Formation     string        `json:"formation"`
	ReportedState string        `json:"reported_state"`
	GoalState     string        `json:"goal_state"`
	Name          string        `json:"name"`
	Host          string        `json:"host"`
	Port          int           `json:"port"`
	LSN           string        `json:"lsn"`
	Timeline      int32         `json:"timeline"`
	Health        string        `json:"health"`
}

// Publisher issues NOTIFY on Channel via the pg_notify SQL function, reusing the
// monitor's own connection pool.
type Publisher struct {
	db *sql.DB
}

// NewPublisher builds a Publisher over an already-open monitor database
// connection (the same pool the store uses).
func NewPublisher(db *sql.DB) *Publisher {
	return &Publisher{db: db}
}

// Publish serializes a node's new goal state and issues pg_notify.
func (p *Publisher) Publish(ctx context.Context, n monitor.Node, goal fsm.NodeState) error {
	payload := Payload{
		NodeID:        n.NodeID,
		GroupID:       n.GroupID,
		Formation:     n.Formation,
		ReportedState: n.ReportedState.String(),
		GoalState:     goal.String(),
		Name:          n.Name,
		Host:          n.Host,
		Port:          n.Port,
		LSN:           string(n.ReportedLSN),
		Timeline:      n.ReportedTimeline,
		Health:        n.Health.String(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("while marshaling state notification: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, Channel, string(body))
	if err != nil {
		return fmt.Errorf("while notifying channel %q: %w", Channel, err)
	}
	return nil
}

// Subscriber is the keeper side: it wraps a pq.Listener on Channel and
// surfaces decoded payloads on a buffered channel.
type Subscriber struct {
	listener *pq.Listener
	Payloads chan Payload
}

// NewSubscriber opens a pq.Listener against conninfo and subscribes to
// Channel. The listener's event callback logs the events that carry an
// error; other events are not logged.
func NewSubscriber(conninfo string) (*Subscriber, error) {
	s := &Subscriber{Payloads: make(chan Payload, 16)}

	s.listener = pq.NewListener(conninfo, minReconnectInterval, maxReconnectInterval, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Error(err, "notification listener event", "event", int(ev))
		}
	})

	if err := s.listener.Listen(Channel); err != nil {
		return nil, fmt.Errorf("while subscribing to channel %q: %w", Channel, err)
	}
	return s, nil
}

// Run forwards decoded notifications onto Payloads until ctx is cancelled.
// Malformed payloads are logged at WARN and skipped, per the protocol-error
// handling policy.
func (s *Subscriber) Run(ctx context.Context) error {
	defer s.listener.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-s.listener.Notify:
			if !ok {
				return nil
			}
			if n == nil {
				continue
			}
			var payload Payload
			if err := json.Unmarshal([]byte(n.Extra), &payload); err != nil {
				log.Warning("discarding malformed state notification", "error", err.Error())
				continue
			}
			select {
			case s.Payloads <- payload:
			case <-ctx.Done():
				return nil
			}
		case <-time.After(90 * time.Second):
			// pq.Listener recommends a periodic Ping to detect a dead
			// connection that hasn't yet triggered a reconnect event.
			_ = s.listener.Ping()
		}
	}
}
