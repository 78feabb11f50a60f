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

import "os"
import "bufio"
import "runtime"
import "strconv"
import "strings"

const (
	mb = 1024 * 1024
	gb = 1024 * 1024 * 1024

	// estimated bytes per buffered node record
	bytesPerNode = 220

	writeBufferMin      = 10 * mb
	writeBufferMax      = 100 * mb
	writeBufferFraction = 0.02
)

// SystemResources is a snapshot of the host machine.
type SystemResources struct {
	TotalMemoryBytes     uint64
	AvailableMemoryBytes uint64
	CPUCount             int
}

// DetectResources probes RAM from /proc/meminfo and the logical CPU
// count. On systems without /proc, memory values fall back to zero and
// the derived profile degrades to the conservative end.
func DetectResources() SystemResources {
	res := SystemResources{CPUCount: runtime.NumCPU()}
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return res
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		var target *uint64
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			target = &res.TotalMemoryBytes
		case strings.HasPrefix(line, "MemAvailable:"):
			target = &res.AvailableMemoryBytes
		default:
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			if kb, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
				*target = kb * 1024
			}
		}
	}
	return res
}

// MemoryPressure returns 1 - available/total, clamped to [0, 1].
func (r *SystemResources) MemoryPressure() float64 {
	if r.TotalMemoryBytes == 0 {
		return 1.0
	}
	p := 1.0 - float64(r.AvailableMemoryBytes)/float64(r.TotalMemoryBytes)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// TuningProfile holds the adaptive parameters derived from a resource
// snapshot. Advisory: wrong values degrade performance, not
// correctness.
type TuningProfile struct {
	ShardCount           uint16
	SegmentThreshold     int
	WriteBufferNodeLimit int
	WriteBufferByteLimit int
	CompactionThreads    int
	MemoryPressure       float64
}

// DefaultTuningProfile is used for ephemeral engines and tests.
func DefaultTuningProfile() TuningProfile {
	return TuningProfile{
		ShardCount:           4,
		SegmentThreshold:     4,
		WriteBufferNodeLimit: (10 * mb) / bytesPerNode,
		WriteBufferByteLimit: 10 * mb,
		CompactionThreads:    1,
	}
}

// TuningProfileFromResources is the pure derivation:
//
//	shard_count:       < 2 GiB RAM -> 1, else next_power_of_two(cpus) capped at 16
//	segment_threshold: < 4 GiB -> 2, < 16 GiB -> 4, else 8
//	buffer bytes:      clamp(available * 0.02, 10 MiB, 100 MiB)
//	buffer nodes:      buffer bytes / 220
//	compaction threads: < 4 GiB -> 1, else clamp(cpu/2, 1, 4)
func TuningProfileFromResources(res SystemResources) TuningProfile {
	var shardCount uint16 = 1
	if res.TotalMemoryBytes >= 2*gb {
		raw := nextPowerOfTwo(res.CPUCount)
		if raw > 16 {
			raw = 16
		}
		shardCount = uint16(raw)
	}

	segmentThreshold := 8
	compactionThreads := clampInt(res.CPUCount/2, 1, 4)
	switch {
	case res.TotalMemoryBytes < 4*gb:
		segmentThreshold = 2
		compactionThreads = 1
	case res.TotalMemoryBytes < 16*gb:
		segmentThreshold = 4
	}

	byteLimit := clampInt(int(float64(res.AvailableMemoryBytes)*writeBufferFraction), writeBufferMin, writeBufferMax)

	profile := TuningProfile{
		ShardCount:           shardCount,
		SegmentThreshold:     segmentThreshold,
		WriteBufferNodeLimit: byteLimit / bytesPerNode,
		WriteBufferByteLimit: byteLimit,
		CompactionThreads:    compactionThreads,
		MemoryPressure:       res.MemoryPressure(),
	}
	applySettingsOverrides(&profile)
	return profile
}

// AutoTune probes the system and derives the profile, honoring
// explicit Settings overrides.
func AutoTune() TuningProfile {
	return TuningProfileFromResources(DetectResources())
}

func applySettingsOverrides(p *TuningProfile) {
	if Settings.ShardCount > 0 {
		p.ShardCount = Settings.ShardCount
	}
	if Settings.SegmentThreshold > 0 {
		p.SegmentThreshold = Settings.SegmentThreshold
	}
	if n := writeBufferLimitBytes(); n > 0 {
		p.WriteBufferByteLimit = int(n)
		p.WriteBufferNodeLimit = int(n) / bytesPerNode
	}
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
