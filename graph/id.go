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
	"fmt"

	"github.com/launix-de/rfdb/storage"
)

// ComputeNodeID derives the physical 128 bit id from a semantic id.
func ComputeNodeID(semanticID string) storage.NodeID {
	return storage.NewNodeID(semanticID)
}

// SemanticID builds the canonical "<type>:<name>@<file>" identity.
func SemanticID(nodeType, name, file string) string {
	return fmt.Sprintf("%s:%s@%s", nodeType, name, file)
}
