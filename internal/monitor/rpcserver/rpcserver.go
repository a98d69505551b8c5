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

// Package rpcserver exposes the monitor's orchestrator over HTTP+JSON,
// routed with gorilla/mux. This is the implementation-level resolution of
// spec.md §6's "SQL function calls over a pooled connection": the monitor
// is a standalone Go service here, not a Postgres extension, so its RPC
// surface is HTTP rather than SQL functions (see DESIGN.md).
package rpcserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/pgha-project/pgha/internal/fsm"
	"github.com/pgha-project/pgha/internal/log"
	"github.com/pgha-project/pgha/internal/monitor"
	"github.com/pgha-project/pgha/internal/monitor/orchestrator"
	"github.com/pgha-project/pgha/internal/monitor/store"
	"github.com/pgha-project/pgha/pkg/postgres"
)

// Server wraps an orchestrator behind the monitor's RPC surface.
type Server struct {
	Orchestrator *orchestrator.Orchestrator
	router       *mux.Router
}

// NewServer builds the route table. Every handler expects and returns JSON.
func NewServer(o *orchestrator.Orchestrator) *Server {
	s := &Server{Orchestrator: o}
	r := mux.NewRouter()
	r.Use(requestIDMiddleware)

	r.HandleFunc("/rpc/register_node", s.handleRegisterNode).Methods(http.MethodPost)
	r.HandleFunc("/rpc/node_active", s.handleNodeActive).Methods(http.MethodPost)
	r.HandleFunc("/rpc/get_other_nodes/{node_id}", s.handleGetOtherNodes).Methods(http.MethodGet)
	r.HandleFunc("/rpc/get_primary/{formation}/{group_id}", s.handleGetPrimary).Methods(http.MethodGet)
	r.HandleFunc("/rpc/get_most_advanced_standby/{formation}/{group_id}", s.handleGetMostAdvancedStandby).Methods(http.MethodGet)
	r.HandleFunc("/rpc/remove_node/{node_id}", s.handleRemoveNode).Methods(http.MethodPost)
	r.HandleFunc("/rpc/update_node_metadata/{node_id}", s.handleUpdateNodeMetadata).Methods(http.MethodPost)
	r.HandleFunc("/rpc/find_node_by_nodeid/{node_id}", s.handleFindNode).Methods(http.MethodGet)
	r.HandleFunc("/rpc/perform_failover/{formation}/{group_id}", s.handlePerformFailover).Methods(http.MethodPost)
	r.HandleFunc("/rpc/group_status/{formation}/{group_id}", s.handleGroupStatus).Methods(http.MethodGet)
	r.HandleFunc("/rpc/schema_version", s.handleSchemaVersion).Methods(http.MethodGet)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error(err, "failed to encode RPC response")
	}
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

type registerNodeRequest struct {
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

type registerNodeResponse struct {
	NodeID       int64  `json:"node_id"`
	GroupID      int64  `json:"group_id"`
	Name         string `json:"name"`
	AssignedState string `json:"assigned_state"`
}

func (s *Server) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	var req registerNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	desired, _ := fsm.ParseNodeState(req.DesiredInitial)
	node, err := s.Orchestrator.RegisterNode(r.Context(), monitor.RegisterNodeParams{
		Formation:         req.Formation,
		Name:              req.Name,
		Host:              req.Host,
		Port:              req.Port,
		SystemIdentifier:  req.SystemIdentifier,
		DBName:            req.DBName,
		NodeIDHint:        req.NodeIDHint,
		GroupIDHint:       req.GroupIDHint,
		DesiredInitial:    desired,
		Kind:              req.Kind,
		CandidatePriority: req.CandidatePriority,
		ReplicationQuorum: req.ReplicationQuorum,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, registerNodeResponse{
		NodeID:        node.NodeID,
		GroupID:       node.GroupID,
		Name:          node.Name,
		AssignedState: node.GoalState.String(),
	})
}

type nodeActiveRequest struct {
	Formation     string `json:"formation"`
	NodeID        int64  `json:"node_id"`
	GroupID       int64  `json:"group_id"`
	ReportedState string `json:"reported_state"`
	PgIsRunning   bool   `json:"pg_is_running"`
	TimelineID    int32  `json:"timeline_id"`
	LSN           string `json:"lsn"`
	SyncState     string `json:"sync_state"`
}

type nodeActiveResponse struct {
	AssignedState string `json:"assigned_state"`
	SchemaVersion string `json:"schema_version"`
}

func (s *Server) handleNodeActive(w http.ResponseWriter, r *http.Request) {
	var req nodeActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	reportedState, _ := fsm.ParseNodeState(req.ReportedState)
	goal, err := s.Orchestrator.NodeActive(r.Context(), monitor.NodeActiveParams{
		Formation:     req.Formation,
		NodeID:        req.NodeID,
		GroupID:       req.GroupID,
		ReportedState: reportedState,
		PgIsRunning:   req.PgIsRunning,
		TimelineID:    req.TimelineID,
		LSN:           postgres.LSN(req.LSN),
		SyncState:     req.SyncState,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, nodeActiveResponse{
		AssignedState: goal.String(),
		SchemaVersion: store.SchemaVersion,
	})
}

func (s *Server) handleGetOtherNodes(w http.ResponseWriter, r *http.Request) {
	nodeID, err := parseInt64(mux.Vars(r)["node_id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	node, err := s.Orchestrator.FindNodeByNodeID(r.Context(), nodeID)
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}
	peers, err := s.Orchestrator.GetOtherNodes(r.Context(), node.Formation, node.GroupID, nodeID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, peers)
}

func (s *Server) handleGetPrimary(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	groupID, err := parseInt64(vars["group_id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	addr, err := s.Orchestrator.GetPrimary(r.Context(), vars["formation"], groupID)
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}
	respondJSON(w, http.StatusOK, addr)
}

func (s *Server) handleGetMostAdvancedStandby(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	groupID, err := parseInt64(vars["group_id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	addr, err := s.Orchestrator.GetMostAdvancedStandby(r.Context(), vars["formation"], groupID)
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}
	respondJSON(w, http.StatusOK, addr)
}

func (s *Server) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	nodeID, err := parseInt64(mux.Vars(r)["node_id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	destroy := r.URL.Query().Get("destroy") == "true"
	if err := s.Orchestrator.RemoveNode(r.Context(), nodeID); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if destroy {
		if err := s.Orchestrator.ConfirmNodeDropped(r.Context(), nodeID); err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type updateNodeMetadataRequest struct {
	CandidatePriority *int  `json:"candidate_priority"`
	ReplicationQuorum *bool `json:"replication_quorum"`
}

func (s *Server) handleUpdateNodeMetadata(w http.ResponseWriter, r *http.Request) {
	nodeID, err := parseInt64(mux.Vars(r)["node_id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	var req updateNodeMetadataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Orchestrator.UpdateNodeMetadata(r.Context(), nodeID, req.CandidatePriority, req.ReplicationQuorum); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleFindNode(w http.ResponseWriter, r *http.Request) {
	nodeID, err := parseInt64(mux.Vars(r)["node_id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	node, err := s.Orchestrator.FindNodeByNodeID(r.Context(), nodeID)
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}
	respondJSON(w, http.StatusOK, node)
}

func (s *Server) handlePerformFailover(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	groupID, err := parseInt64(vars["group_id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Orchestrator.PerformFailover(r.Context(), vars["formation"], groupID); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGroupStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	groupID, err := parseInt64(vars["group_id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	status, err := s.Orchestrator.GroupStatus(r.Context(), vars["formation"], groupID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleSchemaVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"schema_version": store.SchemaVersion})
}

func parseInt64(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.New("invalid id " + strconv.Quote(s))
	}
	return v, nil
}
