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

// Package rpcclient is the keeper side of the monitor's RPC surface: an
// HTTP+JSON client implementing fsm.MonitorClient, retried with
// internal/backoff's interactive policy for one-shot calls like
// register_and_init and its unbounded policy for the main node_active loop.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/blang/semver"

	"github.com/pgha-project/pgha/internal/backoff"
	"github.com/pgha-project/pgha/internal/errclass"
	"github.com/pgha-project/pgha/internal/fsm"
)

// schemaVersion is the extension-version requirement this build of the
// keeper enforces against the monitor's reported schema version (spec.md
// §4.3's extension-version compatibility check). Exported as
// RequiredSchemaVersion for the pid file, which records it for operator
// tooling to compare across a fleet.
const schemaVersion = "1.0"

// RequiredSchemaVersion returns the monitor schema version this build of
// the keeper requires.
func RequiredSchemaVersion() string {
	return schemaVersion
}

// schemaCompatible reports whether a monitor reporting got satisfies a
// keeper built against required: same major, and a minor that is at least
// what the keeper needs, so the monitor may run a schema with additive
// (backwards-compatible) columns ahead of what this build knows about.
func schemaCompatible(required, got string) (bool, error) {
	want, err := semver.Parse(required + ".0")
	if err != nil {
		return false, fmt.Errorf("while parsing required schema version %q: %w", required, err)
	}
	have, err := semver.Parse(got + ".0")
	if err != nil {
		return false, fmt.Errorf("while parsing reported schema version %q: %w", got, err)
	}
	return have.Major == want.Major && have.Minor >= want.Minor, nil
}

// Client talks to one monitor base URL. The base URL can be swapped out
// at runtime by SetBaseURL (the keeper's `enable|disable monitor` reload
// path does this from the supervisor's SIGHUP handler while the FSM loop
// goroutine is concurrently reading it), so it is guarded by a mutex
// rather than exposed as a plain field.
type Client struct {
	HTTPClient *http.Client

	mu      sync.RWMutex
	baseURL string
}

// New builds a Client with a sane default HTTP client timeout.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// SetBaseURL points the client at a new monitor base URL.
func (c *Client) SetBaseURL(baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = baseURL
}

// BaseURL returns the monitor base URL the client currently targets.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

var _ fsm.MonitorClient = (*Client)(nil)

// ErrSchemaMismatch is returned, wrapped as unretryable, when the monitor's
// schema version is not compatible with schemaVersion (see
// schemaCompatible). The keeper process does not exit on it: the FSM loop
// logs the error and tries again on its next tick.
type ErrSchemaMismatch struct {
	Want, Got string
}

func (e *ErrSchemaMismatch) Error() string {
	return fmt.Sprintf("monitor schema version mismatch: keeper requires %s, monitor reports %s", e.Want, e.Got)
}

type registerRequestBody struct {
	Formation         string `json:"formation"`
	Name              string `json:"name"`
	Host              string `json:"host"`
	Port              int    `json:"port"`
	SystemIdentifier  uint64 `json:"system_identifier"`
	DBName            string `json:"dbname"`
	NodeIDHint        int64  `json:"node_id_hint"`
	GroupIDHint       int64  `json:"group_id_hint"`
	DesiredInitial    string `json:"desired_initial_role"`
	Kind              string `json:"kind"`
	CandidatePriority int    `json:"candidate_priority"`
	ReplicationQuorum bool   `json:"replication_quorum"`
}

type registerResponseBody struct {
	NodeID        int64  `json:"node_id"`
	GroupID       int64  `json:"group_id"`
	Name          string `json:"name"`
	AssignedState string `json:"assigned_state"`
}

// RegisterNode implements fsm.MonitorClient, retried with the interactive
// (≤30s) policy since it is called from a blocking CLI command.
func (c *Client) RegisterNode(ctx context.Context, req fsm.RegisterRequest) (fsm.RegisterResponse, error) {
	body := registerRequestBody{
		Formation:         req.Formation,
		Name:              req.Name,
		Host:              req.Host,
		Port:              req.Port,
		SystemIdentifier:  req.SystemIdentifier,
		DBName:            req.DBName,
		NodeIDHint:        req.NodeIDHint,
		GroupIDHint:       req.GroupIDHint,
		DesiredInitial:    req.DesiredInitial.String(),
		Kind:              req.Kind,
		CandidatePriority: req.CandidatePriority,
		ReplicationQuorum: req.ReplicationQuorum,
	}

	var resp registerResponseBody
	err := backoff.Retry(ctx, backoff.NewInteractive(), func() error {
		return c.postJSON(ctx, "/rpc/register_node", body, &resp)
	})
	if err != nil {
		return fsm.RegisterResponse{}, err
	}

	assigned, _ := fsm.ParseNodeState(resp.AssignedState)
	return fsm.RegisterResponse{
		NodeID:       resp.NodeID,
		GroupID:      resp.GroupID,
		Name:         resp.Name,
		AssignedRole: assigned,
	}, nil
}

type nodeActiveRequestBody struct {
	Formation     string `json:"formation"`
	NodeID        int64  `json:"node_id"`
	GroupID       int64  `json:"group_id"`
	ReportedState string `json:"reported_state"`
	PgIsRunning   bool   `json:"pg_is_running"`
	TimelineID    int    `json:"timeline_id"`
	LSN           string `json:"lsn"`
	SyncState     string `json:"sync_state"`
}

type nodeActiveResponseBody struct {
	AssignedState string `json:"assigned_state"`
	SchemaVersion string `json:"schema_version"`
}

// NodeActive implements fsm.MonitorClient, retried with the unbounded
// main-loop policy: a monitor that is briefly unreachable must not cause
// the keeper to give up and self-demote (spec.md §8's boundary behavior).
func (c *Client) NodeActive(ctx context.Context, req fsm.NodeActiveRequest) (fsm.NodeActiveResponse, error) {
	body := nodeActiveRequestBody{
		Formation:     req.Formation,
		NodeID:        req.NodeID,
		GroupID:       req.GroupID,
		ReportedState: req.ReportedState.String(),
		PgIsRunning:   req.PgIsRunning,
		TimelineID:    req.TimelineID,
		LSN:           string(req.LSN),
		SyncState:     req.SyncState,
	}

	var resp nodeActiveResponseBody
	err := backoff.Retry(ctx, backoff.NewUnbounded(), func() error {
		return c.postJSON(ctx, "/rpc/node_active", body, &resp)
	})
	if err != nil {
		return fsm.NodeActiveResponse{}, err
	}

	if resp.SchemaVersion != "" {
		compatible, err := schemaCompatible(schemaVersion, resp.SchemaVersion)
		if err != nil || !compatible {
			return fsm.NodeActiveResponse{}, errclass.MakeUnretryable(
				&ErrSchemaMismatch{Want: schemaVersion, Got: resp.SchemaVersion})
		}
	}

	assigned, _ := fsm.ParseNodeState(resp.AssignedState)
	return fsm.NodeActiveResponse{AssignedState: assigned}, nil
}

// postJSON issues one POST attempt. Transport errors and 5xx responses are
// retryable; 4xx responses are wrapped as unretryable since they indicate a
// request the monitor will never accept as-is.
func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return errclass.MakeUnretryable(fmt.Errorf("while encoding request to %s: %w", path, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL()+path, bytes.NewReader(encoded))
	if err != nil {
		return errclass.MakeUnretryable(fmt.Errorf("while building request to %s: %w", path, err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("while calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("monitor returned %d for %s", resp.StatusCode, path)
	}
	if resp.StatusCode >= 400 {
		return errclass.MakeUnretryable(fmt.Errorf("monitor rejected %s with status %d", path, resp.StatusCode))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("while decoding response from %s: %w", path, err)
		}
	}
	return nil
}
