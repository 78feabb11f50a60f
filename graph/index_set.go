/*
Copyright (C) 2023  Carl-Philip Hänsch

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
package graph

import (
	"encoding/json"

	"github.com/google/btree"
	"github.com/launix-de/rfdb/storage"
)

// fieldIndexEntry orders the metadata index by (field, value, node).
type fieldIndexEntry struct {
	field string
	value string
	node  storage.NodeID
}

func fieldIndexLess(a, b fieldIndexEntry) bool {
	if a.field != b.field {
		return a.field < b.field
	}
	if a.value != b.value {
		return a.value < b.value
	}
	if a.node.Hi != b.node.Hi {
		return a.node.Hi < b.node.Hi
	}
	return a.node.Lo < b.node.Lo
}

// IndexSet holds the in-memory secondary indexes over declared
// metadata fields. Purely an acceleration hint: lookups that miss the
// index fall back to scanning, and stale entries are filtered against
// the store afterwards.
type IndexSet struct {
	declared map[string]FieldDecl
	tree     *btree.BTreeG[fieldIndexEntry]
}

// NewIndexSet creates an empty index set.
func NewIndexSet() *IndexSet {
	return &IndexSet{
		declared: make(map[string]FieldDecl),
		tree:     btree.NewG[fieldIndexEntry](32, fieldIndexLess),
	}
}

// Declare replaces the declared field set. Existing entries of
// undeclared fields stay in the tree; they just stop being queried.
func (x *IndexSet) Declare(fields []FieldDecl) {
	x.declared = make(map[string]FieldDecl, len(fields))
	for _, f := range fields {
		x.declared[f.Name] = f
	}
}

// Declared reports whether a field is declared for indexing.
func (x *IndexSet) Declared(field string) bool {
	_, ok := x.declared[field]
	return ok
}

// DeclaredFields returns the declaration list.
func (x *IndexSet) DeclaredFields() []FieldDecl {
	out := make([]FieldDecl, 0, len(x.declared))
	for _, f := range x.declared {
		out = append(out, f)
	}
	return out
}

// IndexNode extracts the declared fields from a node's metadata JSON
// and records them. Non-object metadata is skipped.
func (x *IndexSet) IndexNode(record *storage.NodeRecord) {
	if len(x.declared) == 0 || record.Metadata == "" {
		return
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(record.Metadata), &parsed); err != nil {
		return
	}
	for name, decl := range x.declared {
		raw, ok := parsed[name]
		if !ok {
			continue
		}
		if decl.NodeTypes != nil && !containsStr(decl.NodeTypes, record.NodeType) {
			continue
		}
		x.tree.ReplaceOrInsert(fieldIndexEntry{
			field: name,
			value: jsonScalarString(raw),
			node:  record.Id,
		})
	}
}

// Lookup returns the node ids recorded for field=value.
func (x *IndexSet) Lookup(field, value string) []storage.NodeID {
	var out []storage.NodeID
	from := fieldIndexEntry{field: field, value: value}
	x.tree.AscendGreaterOrEqual(from, func(e fieldIndexEntry) bool {
		if e.field != field || e.value != value {
			return false
		}
		out = append(out, e.node)
		return true
	})
	return out
}

// Len returns the number of index entries.
func (x *IndexSet) Len() int {
	return x.tree.Len()
}

// Clear drops all entries and declarations.
func (x *IndexSet) Clear() {
	x.declared = make(map[string]FieldDecl)
	x.tree.Clear(false)
}

// jsonScalarString canonicalizes a JSON scalar for index matching,
// the same way filter values arrive as strings over the wire.
func jsonScalarString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
