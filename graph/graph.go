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

// Package graph exposes the unified GraphStore contract over the
// sharded columnar storage: legacy record translation, attribute
// queries, traversal and the snapshot API.
package graph

import (
	"github.com/launix-de/rfdb/storage"
)

// GraphStore is the engine contract consumed by the wire handlers and
// the Datalog evaluator. This is the only dynamic dispatch boundary;
// below it, everything is statically typed.
type GraphStore interface {
	AddNodes(nodes []NodeRecord) error
	AddEdges(edges []EdgeRecord, skipValidation bool) error
	DeleteNode(id storage.NodeID)
	DeleteEdge(src, dst storage.NodeID, edgeType string)

	GetNode(id storage.NodeID) *NodeRecord
	NodeExists(id storage.NodeID) bool
	GetNodeIdentifier(id storage.NodeID) (string, bool)
	FindByType(nodeType string) []storage.NodeID
	FindByAttr(query *AttrQuery) []storage.NodeID

	Neighbors(id storage.NodeID, edgeTypes []string) []storage.NodeID
	GetOutgoingEdges(id storage.NodeID, edgeTypes []string) []EdgeRecord
	GetIncomingEdges(id storage.NodeID, edgeTypes []string) []EdgeRecord
	GetAllEdges() []EdgeRecord
	BFS(start []storage.NodeID, maxDepth int, edgeTypes []string) []storage.NodeID

	CountNodesByType(types []string) map[string]int
	CountEdgesByType(types []string) map[string]int
	NodeCount() int
	EdgeCount() int

	Flush() error
	Compact() error
	Clear()
	DeclareFields(fields []FieldDecl)
}
