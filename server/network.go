/*
Copyright (C) 2024  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/launix-de/rfdb/datalog"
	"github.com/launix-de/rfdb/graph"
	"github.com/launix-de/rfdb/storage"
)

// Request is one wire command. Unused fields stay empty; the command
// decides which ones it reads.
type Request struct {
	Cmd  string `json:"cmd"`
	Name string `json:"name,omitempty"`
	Mode string `json:"mode,omitempty"`

	Nodes []graph.NodeRecord `json:"nodes,omitempty"`
	Edges []graph.EdgeRecord `json:"edges,omitempty"`

	CoreNodes []storage.NodeRecord `json:"core_nodes,omitempty"`
	CoreEdges []storage.EdgeRecord `json:"core_edges,omitempty"`

	Id             string            `json:"id,omitempty"`
	Src            string            `json:"src,omitempty"`
	Dst            string            `json:"dst,omitempty"`
	EdgeType       string            `json:"edge_type,omitempty"`
	NodeType       string            `json:"node_type,omitempty"`
	EdgeTypes      []string          `json:"edge_types,omitempty"`
	Types          []string          `json:"types,omitempty"`
	Start          []string          `json:"start,omitempty"`
	MaxDepth       int               `json:"max_depth,omitempty"`
	Backward       bool              `json:"backward,omitempty"`
	SkipValidation bool              `json:"skip_validation,omitempty"`
	Query          *graph.AttrQuery  `json:"query,omitempty"`
	Fields         []graph.FieldDecl `json:"fields,omitempty"`
	ChangedFiles   []string          `json:"changed_files,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
	Version        uint64            `json:"version,omitempty"`
	FromVersion    uint64            `json:"from_version,omitempty"`
	ToVersion      uint64            `json:"to_version,omitempty"`
	TagKey         string            `json:"tag_key,omitempty"`
	TagValue       string            `json:"tag_value,omitempty"`
	Datalog        string            `json:"datalog,omitempty"`
	Rules          []string          `json:"rules,omitempty"`
	Ephemeral      bool              `json:"ephemeral,omitempty"`
}

// Response is the wire answer envelope.
type Response struct {
	Ok    bool        `json:"ok"`
	Error string      `json:"error,omitempty"`
	Code  string      `json:"code,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

func okResponse(data interface{}) Response {
	return Response{Ok: true, Data: data}
}

func errResponse(err error) Response {
	resp := Response{Ok: false, Error: err.Error(), Code: "INTERNAL_ERROR"}
	if ge, ok := err.(*storage.GraphError); ok {
		resp.Code = ge.Code()
	}
	return resp
}

// Server speaks one JSON command per websocket message and single-shot
// JSON over HTTP POST.
type Server struct {
	manager  *DatabaseManager
	log      *zap.SugaredLogger
	upgrader websocket.Upgrader
}

// NewServer wires the manager into a wire endpoint.
func NewServer(manager *DatabaseManager, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{
		manager: manager,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 16,
			WriteBufferSize: 1 << 16,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ListenAndServe starts the HTTP server on the port (non-blocking is
// the caller's business).
func (s *Server) ListenAndServe(port string) error {
	server := &http.Server{
		Addr:           ":" + port,
		Handler:        s,
		ReadTimeout:    300 * time.Second,
		WriteTimeout:   300 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return server.ListenAndServe()
}

func (s *Server) ServeHTTP(res http.ResponseWriter, req *http.Request) {
	switch {
	case req.URL.Path == "/ws":
		s.serveWebsocket(res, req)
	case req.URL.Path == "/metrics":
		res.Header().Set("Content-Type", "application/json")
		json.NewEncoder(res).Encode(Metrics())
	case req.URL.Path == "/databases":
		res.Header().Set("Content-Type", "application/json")
		json.NewEncoder(res).Encode(s.manager.ListDatabases())
	case req.Method == http.MethodPost:
		session := NewClientSession()
		defer session.ClearDatabase()
		var request Request
		if err := json.NewDecoder(req.Body).Decode(&request); err != nil {
			res.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(res).Encode(errResponse(fmt.Errorf("bad request: %w", err)))
			return
		}
		res.Header().Set("Content-Type", "application/json")
		json.NewEncoder(res).Encode(s.Execute(session, &request))
	default:
		http.NotFound(res, req)
	}
}

func (s *Server) serveWebsocket(res http.ResponseWriter, req *http.Request) {
	conn, err := s.upgrader.Upgrade(res, req, nil)
	if err != nil {
		s.log.Warnw("websocket upgrade failed", "error", err)
		return
	}
	atomic.AddInt64(&ActiveConnections, 1)
	session := NewClientSession()
	s.log.Infow("session connected", "session", session.Id, "remote", req.RemoteAddr)
	defer func() {
		session.ClearDatabase()
		conn.Close()
		atomic.AddInt64(&ActiveConnections, -1)
		s.log.Infow("session closed", "session", session.Id)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var request Request
		var response Response
		if err := json.Unmarshal(raw, &request); err != nil {
			response = errResponse(fmt.Errorf("bad request: %w", err))
		} else {
			response = s.Execute(session, &request)
		}
		out, err := json.Marshal(response)
		if err != nil {
			out = []byte(`{"ok":false,"error":"response serialization failed"}`)
		}
		if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
			return
		}
	}
}

// Execute runs one command against the session's database under the
// appropriate lock.
func (s *Server) Execute(session *ClientSession, req *Request) Response {
	atomic.AddInt64(&TotalQueries, 1)

	switch req.Cmd {
	case "create_database":
		if err := s.manager.CreateDatabase(req.Name, req.Ephemeral); err != nil {
			return errResponse(err)
		}
		return okResponse(req.Name)
	case "drop_database":
		if err := s.manager.DropDatabase(req.Name); err != nil {
			return errResponse(err)
		}
		return okResponse(req.Name)
	case "list_databases":
		return okResponse(s.manager.ListDatabases())
	case "use_database":
		db, err := s.manager.GetDatabase(req.Name)
		if err != nil {
			return errResponse(err)
		}
		session.SetDatabase(db, AccessModeFromString(req.Mode))
		return okResponse(map[string]string{"database": req.Name, "mode": AccessModeFromString(req.Mode).String()})
	case "metrics":
		return okResponse(Metrics())
	}

	db := session.Database()
	if db == nil {
		return errResponse(&storage.GraphError{Kind: storage.ErrNoDatabaseSelected, Msg: "no database selected"})
	}

	if isWriteCommand(req.Cmd) {
		if !session.CanWrite() {
			return errResponse(&storage.GraphError{Kind: storage.ErrReadOnlyMode, Msg: "operation not allowed in read-only mode"})
		}
		atomic.AddInt64(&TotalWrites, 1)
		var response Response
		err := db.Write(func(engine *graph.Engine) error {
			response = s.executeWrite(engine, req, db.Name)
			return nil
		})
		if err != nil {
			return errResponse(err)
		}
		return response
	}

	var response Response
	err := db.Read(func(engine *graph.Engine) error {
		response = s.executeRead(engine, req)
		return nil
	})
	if err != nil {
		return errResponse(err)
	}
	return response
}

func isWriteCommand(cmd string) bool {
	switch cmd {
	case "add_nodes", "add_edges", "delete_node", "delete_edge",
		"flush", "compact", "commit_batch", "tag_snapshot",
		"archive_snapshot", "declare_fields", "clear":
		return true
	}
	return false
}

func (s *Server) executeWrite(engine *graph.Engine, req *Request, dbName string) Response {
	switch req.Cmd {
	case "add_nodes":
		if err := engine.AddNodes(req.Nodes); err != nil {
			return errResponse(err)
		}
		return okResponse(len(req.Nodes))
	case "add_edges":
		if err := engine.AddEdges(req.Edges, req.SkipValidation); err != nil {
			return errResponse(err)
		}
		return okResponse(len(req.Edges))
	case "delete_node":
		id, err := storage.ParseNodeID(req.Id)
		if err != nil {
			return errResponse(err)
		}
		engine.DeleteNode(id)
		return okResponse(req.Id)
	case "delete_edge":
		src, err := storage.ParseNodeID(req.Src)
		if err != nil {
			return errResponse(err)
		}
		dst, err := storage.ParseNodeID(req.Dst)
		if err != nil {
			return errResponse(err)
		}
		found := false
		for _, edge := range engine.GetOutgoingEdges(src, []string{req.EdgeType}) {
			if edge.Dst == dst {
				found = true
				break
			}
		}
		if !found {
			return errResponse(storage.ErrEdgeNotFoundAt(src, dst))
		}
		engine.DeleteEdge(src, dst, req.EdgeType)
		return okResponse(nil)
	case "flush":
		if err := engine.Flush(); err != nil {
			return errResponse(err)
		}
		return okResponse(engine.ManifestVersion())
	case "compact":
		if err := engine.Compact(); err != nil {
			return errResponse(err)
		}
		return okResponse(engine.ManifestVersion())
	case "commit_batch":
		delta, err := engine.CommitBatch(req.CoreNodes, req.CoreEdges, req.ChangedFiles, req.Tags)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(delta)
	case "tag_snapshot":
		if err := engine.TagSnapshot(req.Version, req.Tags); err != nil {
			return errResponse(err)
		}
		return okResponse(req.Version)
	case "archive_snapshot":
		tag := req.Name
		if tag == "" {
			return errResponse(fmt.Errorf("archive_snapshot needs a name"))
		}
		archive, err := storage.OpenArchive()
		if err != nil {
			return errResponse(err)
		}
		if err := engine.ArchiveSnapshot(context.Background(), archive, dbName, tag); err != nil {
			return errResponse(err)
		}
		return okResponse(fmt.Sprintf("%s/%s.jsonl.lz4", dbName, tag))
	case "declare_fields":
		engine.DeclareFields(req.Fields)
		return okResponse(len(req.Fields))
	case "clear":
		engine.Clear()
		return okResponse(nil)
	}
	return errResponse(fmt.Errorf("unknown command: %s", req.Cmd))
}

func (s *Server) executeRead(engine *graph.Engine, req *Request) Response {
	switch req.Cmd {
	case "get_node":
		id, err := storage.ParseNodeID(req.Id)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(engine.GetNode(id))
	case "node_exists":
		id, err := storage.ParseNodeID(req.Id)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(engine.NodeExists(id))
	case "find_by_type":
		return okResponse(engine.FindByType(req.NodeType))
	case "find_by_attr":
		query := req.Query
		if query == nil {
			query = &graph.AttrQuery{}
		}
		return okResponse(engine.FindByAttr(query))
	case "neighbors":
		id, err := storage.ParseNodeID(req.Id)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(engine.Neighbors(id, req.EdgeTypes))
	case "get_outgoing_edges":
		id, err := storage.ParseNodeID(req.Id)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(engine.GetOutgoingEdges(id, req.EdgeTypes))
	case "get_incoming_edges":
		id, err := storage.ParseNodeID(req.Id)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(engine.GetIncomingEdges(id, req.EdgeTypes))
	case "get_all_edges":
		return okResponse(engine.GetAllEdges())
	case "bfs", "reachability":
		start := make([]storage.NodeID, 0, len(req.Start))
		for _, raw := range req.Start {
			id, err := storage.ParseNodeID(raw)
			if err != nil {
				return errResponse(err)
			}
			start = append(start, id)
		}
		if req.Cmd == "bfs" {
			return okResponse(engine.BFS(start, req.MaxDepth, req.EdgeTypes))
		}
		return okResponse(engine.Reachability(start, req.MaxDepth, req.EdgeTypes, req.Backward))
	case "count_nodes_by_type":
		return okResponse(engine.CountNodesByType(req.Types))
	case "count_edges_by_type":
		return okResponse(engine.CountEdgesByType(req.Types))
	case "node_count":
		return okResponse(engine.NodeCount())
	case "edge_count":
		return okResponse(engine.EdgeCount())
	case "stats":
		return okResponse(engine.ShardStats())
	case "find_snapshot":
		version, found := engine.FindSnapshot(req.TagKey, req.TagValue)
		if !found {
			return okResponse(nil)
		}
		return okResponse(version)
	case "list_snapshots":
		return okResponse(engine.ListSnapshots(req.TagKey))
	case "diff_snapshots":
		diff, err := engine.DiffSnapshots(req.FromVersion, req.ToVersion)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(diff)
	case "is_endpoint":
		id, err := storage.ParseNodeID(req.Id)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(engine.IsEndpoint(id))
	case "datalog_query":
		evaluator := datalog.NewEvaluator(engine)
		for _, ruleText := range req.Rules {
			rule, err := datalog.ParseRule(ruleText)
			if err != nil {
				return errResponse(err)
			}
			evaluator.AddRule(*rule)
		}
		bindings, err := evaluator.QueryText(req.Datalog)
		if err != nil {
			return errResponse(err)
		}
		out := make([]map[string]string, 0, len(bindings))
		for _, b := range bindings {
			row := make(map[string]string, len(b))
			for _, k := range b.SortedVars() {
				row[k] = b[k].AsStr()
			}
			out = append(out, row)
		}
		return okResponse(out)
	}
	return errResponse(fmt.Errorf("unknown command: %s", req.Cmd))
}
