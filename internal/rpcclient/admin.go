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

package rpcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pgha-project/pgha/internal/backoff"
	"github.com/pgha-project/pgha/internal/errclass"
)

// NodeAddress mirrors internal/monitor.NodeAddress without importing the
// monitor package, keeping the keeper/CLI side free of a dependency on the
// monitor's internal storage types.
type NodeAddress struct {
	NodeID   int64  `json:"NodeID"`
	Name     string `json:"Name"`
	Host     string `json:"Host"`
	Port     int    `json:"Port"`
	LSN      string `json:"LSN"`
	IsQuorum bool   `json:"IsQuorum"`
}

// GetPrimary calls get_primary, used by `show uri` and by standbys
// rendering their ReplicationSource.
func (c *Client) GetPrimary(ctx context.Context, formation string, groupID int64) (NodeAddress, error) {
	var addr NodeAddress
	err := backoff.Retry(ctx, backoff.NewInteractive(), func() error {
		return c.getJSON(ctx, fmt.Sprintf("/rpc/get_primary/%s/%d", formation, groupID), &addr)
	})
	return addr, err
}

// GetOtherNodes calls get_other_nodes, used to maintain replication slots
// and HBA entries for peers.
func (c *Client) GetOtherNodes(ctx context.Context, nodeID int64) ([]NodeAddress, error) {
	var addrs []NodeAddress
	err := backoff.Retry(ctx, backoff.NewInteractive(), func() error {
		return c.getJSON(ctx, fmt.Sprintf("/rpc/get_other_nodes/%d", nodeID), &addrs)
	})
	return addrs, err
}

// RemoveNode calls remove_node; destroy also tells the monitor to delete
// the row immediately rather than waiting for the DROPPED confirmation.
func (c *Client) RemoveNode(ctx context.Context, nodeID int64, destroy bool) error {
	path := fmt.Sprintf("/rpc/remove_node/%d", nodeID)
	if destroy {
		path += "?destroy=true"
	}
	return backoff.Retry(ctx, backoff.NewInteractive(), func() error {
		return c.postJSON(ctx, path, struct{}{}, nil)
	})
}

// UpdateNodeMetadataRequest is the body for `set node
// candidate-priority|replication-quorum`.
type UpdateNodeMetadataRequest struct {
	CandidatePriority *int  `json:"candidate_priority"`
	ReplicationQuorum *bool `json:"replication_quorum"`
}

// UpdateNodeMetadata calls update_node_metadata.
func (c *Client) UpdateNodeMetadata(ctx context.Context, nodeID int64, req UpdateNodeMetadataRequest) error {
	return backoff.Retry(ctx, backoff.NewInteractive(), func() error {
		return c.postJSON(ctx, fmt.Sprintf("/rpc/update_node_metadata/%d", nodeID), req, nil)
	})
}

// PerformFailover calls the operator-triggered failover entry point.
func (c *Client) PerformFailover(ctx context.Context, formation string, groupID int64) error {
	return backoff.Retry(ctx, backoff.NewInteractive(), func() error {
		return c.postJSON(ctx, fmt.Sprintf("/rpc/perform_failover/%s/%d", formation, groupID), struct{}{}, nil)
	})
}

// NodeStatus is the `show state` projection of one node.
type NodeStatus struct {
	NodeID        int64  `json:"NodeID"`
	Name          string `json:"Name"`
	Host          string `json:"Host"`
	Port          int    `json:"Port"`
	ReportedState string `json:"ReportedState"`
	GoalState     string `json:"GoalState"`
	Health        int    `json:"Health"`
	ReportedLSN   string `json:"ReportedLSN"`
}

// GroupStatus is the `show state` projection of one group.
type GroupStatus struct {
	Formation string       `json:"Formation"`
	GroupID   int64        `json:"GroupID"`
	Nodes     []NodeStatus `json:"Nodes"`
}

// GroupStatus calls group_status, backing `show state`.
func (c *Client) GroupStatus(ctx context.Context, formation string, groupID int64) (GroupStatus, error) {
	var status GroupStatus
	err := backoff.Retry(ctx, backoff.NewInteractive(), func() error {
		return c.getJSON(ctx, fmt.Sprintf("/rpc/group_status/%s/%d", formation, groupID), &status)
	})
	return status, err
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL()+path, nil)
	if err != nil {
		return fmt.Errorf("while building request to %s: %w", path, err)
	}

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
