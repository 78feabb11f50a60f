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

// BFS walks the graph breadth-first from the start set, up to maxDepth
// hops, expanding via the neighbors callback. The start nodes are part
// of the result (depth 0). Visit order within one depth is the
// neighbor order.
func BFS(start []storage.NodeID, maxDepth int, neighbors func(storage.NodeID) []storage.NodeID) []storage.NodeID {
	visited := make(map[storage.NodeID]struct{}, len(start))
	var result []storage.NodeID
	frontier := make([]storage.NodeID, 0, len(start))
	for _, id := range start {
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}
		result = append(result, id)
		frontier = append(frontier, id)
	}
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []storage.NodeID
		for _, id := range frontier {
			for _, n := range neighbors(id) {
				if _, ok := visited[n]; ok {
					continue
				}
				visited[n] = struct{}{}
				result = append(result, n)
				next = append(next, n)
			}
		}
		frontier = next
	}
	return result
}
