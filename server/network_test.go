package server

import (
	"testing"

	"github.com/launix-de/rfdb/graph"
	"github.com/launix-de/rfdb/storage"
)

func testServer(t *testing.T) (*Server, *ClientSession) {
	t.Helper()
	m, err := NewDatabaseManager(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(m, nil)
	session := NewClientSession()
	t.Cleanup(session.ClearDatabase)

	resp := srv.Execute(session, &Request{Cmd: "create_database", Name: "t", Ephemeral: true})
	if !resp.Ok {
		t.Fatalf("create failed: %+v", resp)
	}
	resp = srv.Execute(session, &Request{Cmd: "use_database", Name: "t", Mode: "write"})
	if !resp.Ok {
		t.Fatalf("use failed: %+v", resp)
	}
	return srv, session
}

func TestExecuteRequiresDatabase(t *testing.T) {
	m, err := NewDatabaseManager(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(m, nil)
	session := NewClientSession()
	resp := srv.Execute(session, &Request{Cmd: "node_count"})
	if resp.Ok || resp.Code != "NO_DATABASE_SELECTED" {
		t.Fatalf("expected NO_DATABASE_SELECTED, got %+v", resp)
	}
}

func TestExecuteReadOnlyRejected(t *testing.T) {
	srv, session := testServer(t)
	resp := srv.Execute(session, &Request{Cmd: "use_database", Name: "t", Mode: "read"})
	if !resp.Ok {
		t.Fatal(resp.Error)
	}
	resp = srv.Execute(session, &Request{Cmd: "add_nodes", Nodes: []graph.NodeRecord{{}}})
	if resp.Ok || resp.Code != "READ_ONLY_MODE" {
		t.Fatalf("expected READ_ONLY_MODE, got %+v", resp)
	}
}

func TestExecuteWriteAndQuery(t *testing.T) {
	srv, session := testServer(t)
	nodeType := "FUNCTION"
	name := "main"
	file := "src/a.js"
	semantic := "FUNCTION:main@src/a.js"
	id := storage.NewNodeID(semantic)

	resp := srv.Execute(session, &Request{Cmd: "add_nodes", Nodes: []graph.NodeRecord{{
		Id: id, NodeType: &nodeType, Name: &name, File: &file, SemanticID: &semantic,
	}}})
	if !resp.Ok {
		t.Fatalf("add_nodes failed: %+v", resp)
	}
	resp = srv.Execute(session, &Request{Cmd: "find_by_type", NodeType: "FUNCTION"})
	if !resp.Ok {
		t.Fatalf("find_by_type failed: %+v", resp)
	}
	ids, ok := resp.Data.([]storage.NodeID)
	if !ok || len(ids) != 1 || ids[0] != id {
		t.Fatalf("find_by_type data = %+v", resp.Data)
	}
	resp = srv.Execute(session, &Request{Cmd: "get_node", Id: id.String()})
	if !resp.Ok || resp.Data == nil {
		t.Fatalf("get_node failed: %+v", resp)
	}
	resp = srv.Execute(session, &Request{Cmd: "node_count"})
	if !resp.Ok || resp.Data.(int) != 1 {
		t.Fatalf("node_count = %+v", resp.Data)
	}
}

func TestExecuteDatalog(t *testing.T) {
	srv, session := testServer(t)
	nodeType := "FUNCTION"
	name := "main"
	file := "src/a.js"
	semantic := "FUNCTION:main@src/a.js"
	srv.Execute(session, &Request{Cmd: "add_nodes", Nodes: []graph.NodeRecord{{
		Id: storage.NewNodeID(semantic), NodeType: &nodeType, Name: &name, File: &file, SemanticID: &semantic,
	}}})

	resp := srv.Execute(session, &Request{Cmd: "datalog_query", Datalog: `node(X, "FUNCTION", N, F)`})
	if !resp.Ok {
		t.Fatalf("datalog_query failed: %+v", resp)
	}
	rows := resp.Data.([]map[string]string)
	if len(rows) != 1 || rows[0]["N"] != "main" {
		t.Fatalf("datalog rows = %+v", rows)
	}
}

func TestExecuteArchiveSnapshot(t *testing.T) {
	prev := storage.Settings.Archive
	storage.Settings.Archive = storage.ArchiveSettings{Backend: "file", Basepath: t.TempDir()}
	t.Cleanup(func() { storage.Settings.Archive = prev })

	srv, session := testServer(t)
	nodeType := "FUNCTION"
	name := "main"
	file := "src/a.js"
	semantic := "FUNCTION:main@src/a.js"
	srv.Execute(session, &Request{Cmd: "add_nodes", Nodes: []graph.NodeRecord{{
		Id: storage.NewNodeID(semantic), NodeType: &nodeType, Name: &name, File: &file, SemanticID: &semantic,
	}}})

	resp := srv.Execute(session, &Request{Cmd: "archive_snapshot", Name: "v1"})
	if !resp.Ok {
		t.Fatalf("archive_snapshot failed: %+v", resp)
	}
	archive, err := storage.OpenArchive()
	if err != nil {
		t.Fatal(err)
	}
	data, err := archive.Get(t.Context(), "t/v1.jsonl.lz4")
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("archived dump is empty")
	}

	resp = srv.Execute(session, &Request{Cmd: "archive_snapshot"})
	if resp.Ok {
		t.Fatal("archive_snapshot without a name accepted")
	}
}

func TestExecuteUnknownCommand(t *testing.T) {
	srv, session := testServer(t)
	resp := srv.Execute(session, &Request{Cmd: "frobnicate"})
	if resp.Ok {
		t.Fatal("unknown command accepted")
	}
}
