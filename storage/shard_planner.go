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
package storage

import "path"

// ShardPlanner deterministically assigns file paths to shards by
// hashing the parent directory, so one directory always lands in one
// shard. Stateless.
type ShardPlanner struct {
	shardCount uint16
}

// NewShardPlanner panics on shardCount == 0, a programming error.
func NewShardPlanner(shardCount uint16) *ShardPlanner {
	if shardCount == 0 {
		panic("shard_count must be > 0")
	}
	return &ShardPlanner{shardCount: shardCount}
}

// ShardCount returns the number of shards distributed across.
func (p *ShardPlanner) ShardCount() uint16 {
	return p.shardCount
}

// ComputeShardID maps a file path to its shard. Files without a parent
// directory hash the empty string and share one shard.
func (p *ShardPlanner) ComputeShardID(filePath string) uint16 {
	dir := path.Dir(filePath)
	if dir == "." || dir == "/" {
		dir = ""
	}
	return uint16(HashLow64(dir) % uint64(p.shardCount))
}

// Plan groups a batch of file paths by shard. Every input file appears
// in exactly one shard's list.
func (p *ShardPlanner) Plan(files []string) map[uint16][]string {
	out := make(map[uint16][]string)
	for _, f := range files {
		id := p.ComputeShardID(f)
		out[id] = append(out[id], f)
	}
	return out
}
