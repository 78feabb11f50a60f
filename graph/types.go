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
package graph

import (
	"github.com/launix-de/rfdb/storage"
)

// NodeRecord is the legacy record shape spoken by clients. Optional
// attributes are pointers; the engine translates to the columnar shape
// (non-optional strings, metadata "" = absent) on the way in and back
// on the way out.
type NodeRecord struct {
	Id         storage.NodeID `json:"id"`
	NodeType   *string        `json:"node_type,omitempty"`
	Name       *string        `json:"name,omitempty"`
	File       *string        `json:"file,omitempty"`
	Exported   bool           `json:"exported"`
	Metadata   *string        `json:"metadata,omitempty"`
	SemanticID *string        `json:"semantic_id,omitempty"`
}

// EdgeRecord is the legacy edge shape.
type EdgeRecord struct {
	Src      storage.NodeID `json:"src"`
	Dst      storage.NodeID `json:"dst"`
	EdgeType *string        `json:"edge_type,omitempty"`
	Metadata *string        `json:"metadata,omitempty"`
}

// MetadataFilter matches one metadata JSON key against a value.
type MetadataFilter struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// AttrQuery filters nodes by attributes. All set fields must match
// (AND semantics). NodeType supports the trailing wildcard "http:*".
type AttrQuery struct {
	// Deprecated node-level version filter. Kept for wire
	// compatibility; the query engine ignores it.
	Version         *string          `json:"version,omitempty"`
	NodeType        *string          `json:"node_type,omitempty"`
	File            *string          `json:"file,omitempty"`
	Name            *string          `json:"name,omitempty"`
	Exported        *bool            `json:"exported,omitempty"`
	MetadataFilters []MetadataFilter `json:"metadata_filters,omitempty"`
}

// FieldType hints how a declared metadata field is shaped.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldBool   FieldType = "bool"
	FieldInt    FieldType = "int"
	FieldId     FieldType = "id"
)

// FieldDecl declares a metadata field worth indexing. Plugins declare
// the fields they write; the engine builds in-memory secondary indexes
// for them so attribute lookups skip JSON parsing. A hint only, never
// required for correctness.
type FieldDecl struct {
	Name      string    `json:"name"`
	FieldType FieldType `json:"field_type,omitempty"`
	// restrict indexing to these node types; nil = all
	NodeTypes []string `json:"node_types,omitempty"`
}

// strPtr helpers for the optional legacy fields
func strPtr(s string) *string {
	return &s
}

func strOr(p *string, fallback string) string {
	if p == nil {
		return fallback
	}
	return *p
}
