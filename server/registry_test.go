package server

import (
	"testing"

	"github.com/launix-de/rfdb/graph"
	"github.com/launix-de/rfdb/storage"
)

func testNode(semantic string) graph.NodeRecord {
	nodeType := "FUNCTION"
	name := "a"
	file := "x.js"
	s := semantic
	return graph.NodeRecord{
		Id:         storage.NewNodeID(semantic),
		NodeType:   &nodeType,
		Name:       &name,
		File:       &file,
		SemanticID: &s,
	}
}

func TestRegistryCreateGetDrop(t *testing.T) {
	m, err := NewDatabaseManager(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.CreateDatabase("proj", false); err != nil {
		t.Fatal(err)
	}
	if err := m.CreateDatabase("proj", false); err == nil {
		t.Fatal("duplicate create must fail")
	} else if !storage.IsKind(err, storage.ErrDatabaseExists) {
		t.Fatalf("wrong error kind: %v", err)
	}

	db, err := m.GetDatabase("proj")
	if err != nil {
		t.Fatal(err)
	}
	err = db.Write(func(e *graph.Engine) error {
		return e.AddNodes([]graph.NodeRecord{testNode("FUNCTION:a@x.js")})
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := m.DropDatabase("proj"); err != nil {
		t.Fatal(err)
	}
	if m.DatabaseExists("proj") {
		t.Fatal("database still registered after drop")
	}
	if _, err := m.GetDatabase("proj"); err == nil {
		t.Fatal("get after drop must fail")
	}
}

func TestRegistryDropInUse(t *testing.T) {
	m, err := NewDatabaseManager(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.CreateDatabase("busy", true); err != nil {
		t.Fatal(err)
	}
	db, err := m.GetDatabase("busy")
	if err != nil {
		t.Fatal(err)
	}
	session := NewClientSession()
	session.SetDatabase(db, AccessWrite)
	if err := m.DropDatabase("busy"); err == nil {
		t.Fatal("drop of in-use database must fail")
	} else if !storage.IsKind(err, storage.ErrDatabaseInUse) {
		t.Fatalf("wrong error kind: %v", err)
	}
	session.ClearDatabase()
	if err := m.DropDatabase("busy"); err != nil {
		t.Fatal(err)
	}
}

func TestRegistryInvalidName(t *testing.T) {
	m, err := NewDatabaseManager(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, bad := range []string{"", "../evil", "a b", "-lead"} {
		if err := m.CreateDatabase(bad, true); err == nil {
			t.Fatalf("name %q accepted", bad)
		}
	}
}

func TestRegistryReopenDiscovers(t *testing.T) {
	dir := t.TempDir()
	m, err := NewDatabaseManager(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.CreateDatabase("keep", false); err != nil {
		t.Fatal(err)
	}
	db, err := m.GetDatabase("keep")
	if err != nil {
		t.Fatal(err)
	}
	err = db.Write(func(e *graph.Engine) error {
		if err := e.AddNodes([]graph.NodeRecord{testNode("FUNCTION:a@x.js")}); err != nil {
			return err
		}
		return e.Flush()
	})
	if err != nil {
		t.Fatal(err)
	}

	m2, err := NewDatabaseManager(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !m2.DatabaseExists("keep") {
		t.Fatal("existing database not discovered")
	}
	db2, err := m2.GetDatabase("keep")
	if err != nil {
		t.Fatal(err)
	}
	_ = db2.Read(func(e *graph.Engine) error {
		if e.NodeCount() != 1 {
			t.Fatalf("node count %d, want 1", e.NodeCount())
		}
		return nil
	})
}

func TestSessionModes(t *testing.T) {
	m, err := NewDatabaseManager(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.CreateDatabase("s", true); err != nil {
		t.Fatal(err)
	}
	db, _ := m.GetDatabase("s")
	session := NewClientSession()
	if session.HasDatabase() {
		t.Fatal("fresh session has a database")
	}
	session.SetDatabase(db, AccessRead)
	if session.CanWrite() {
		t.Fatal("read session can write")
	}
	session.SetDatabase(db, AccessWrite)
	if !session.CanWrite() {
		t.Fatal("write session cannot write")
	}
	if db.ConnectionCount() != 1 {
		t.Fatalf("connection count %d, want 1 (re-select must not double-count)", db.ConnectionCount())
	}
	session.ClearDatabase()
	if db.ConnectionCount() != 0 {
		t.Fatalf("connection count %d after clear", db.ConnectionCount())
	}
}
