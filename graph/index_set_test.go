package graph

import (
	"testing"

	"github.com/launix-de/rfdb/storage"
)

func TestIndexSetLookup(t *testing.T) {
	x := NewIndexSet()
	x.Declare([]FieldDecl{{Name: "method"}, {Name: "async", FieldType: FieldBool}})

	a := storage.NodeRecord{Id: storage.NewNodeID("a"), NodeType: "CALL", Metadata: `{"method":"GET","async":true}`}
	b := storage.NodeRecord{Id: storage.NewNodeID("b"), NodeType: "CALL", Metadata: `{"method":"POST"}`}
	c := storage.NodeRecord{Id: storage.NewNodeID("c"), NodeType: "CALL", Metadata: `{"other":1}`}
	x.IndexNode(&a)
	x.IndexNode(&b)
	x.IndexNode(&c)

	if ids := x.Lookup("method", "GET"); len(ids) != 1 || ids[0] != a.Id {
		t.Fatalf("method=GET -> %v", ids)
	}
	if ids := x.Lookup("async", "true"); len(ids) != 1 || ids[0] != a.Id {
		t.Fatalf("async=true -> %v", ids)
	}
	if ids := x.Lookup("method", "DELETE"); len(ids) != 0 {
		t.Fatalf("method=DELETE -> %v", ids)
	}
}

func TestIndexSetNodeTypeRestriction(t *testing.T) {
	x := NewIndexSet()
	x.Declare([]FieldDecl{{Name: "method", NodeTypes: []string{"CALL"}}})

	call := storage.NodeRecord{Id: storage.NewNodeID("call"), NodeType: "CALL", Metadata: `{"method":"GET"}`}
	fn := storage.NodeRecord{Id: storage.NewNodeID("fn"), NodeType: "FUNCTION", Metadata: `{"method":"GET"}`}
	x.IndexNode(&call)
	x.IndexNode(&fn)

	if ids := x.Lookup("method", "GET"); len(ids) != 1 || ids[0] != call.Id {
		t.Fatalf("restriction ignored: %v", ids)
	}
}

func TestIndexSetUndeclaredSkipped(t *testing.T) {
	x := NewIndexSet()
	a := storage.NodeRecord{Id: storage.NewNodeID("a"), Metadata: `{"method":"GET"}`}
	x.IndexNode(&a)
	if x.Len() != 0 {
		t.Fatal("undeclared fields must not be indexed")
	}
}
