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
package server

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"
)

// ActiveConnections tracks the current number of wire connections.
// Single atomic, no mutex on the hot path.
var ActiveConnections int64

// TotalQueries is atomically incremented per command. The background
// sampler reads it to compute queries/sec.
var TotalQueries int64

// TotalWrites is atomically incremented per mutation command.
var TotalWrites int64

// metricsSnapshot holds all sampled values, atomically swapped by the
// background goroutine. Readers load the pointer; zero contention.
type metricsSnapshot struct {
	cpuUsage   float64 // 0-100
	qps        float64 // queries per second, averaged over 10 s
	maxConn10m int64   // max active connections over 10 minutes
}

var currentSnapshot unsafe.Pointer // *metricsSnapshot

func loadSnapshot() *metricsSnapshot {
	p := atomic.LoadPointer(&currentSnapshot)
	if p == nil {
		return &metricsSnapshot{}
	}
	return (*metricsSnapshot)(p)
}

// MetricsView is the exported sampler state.
type MetricsView struct {
	CPUUsage          float64 `json:"cpu_usage"`
	QueriesPerSecond  float64 `json:"queries_per_second"`
	ActiveConnections int64   `json:"active_connections"`
	MaxConnections10m int64   `json:"max_connections_10m"`
	TotalQueries      int64   `json:"total_queries"`
	TotalWrites       int64   `json:"total_writes"`
}

// Metrics returns the latest sample.
func Metrics() MetricsView {
	snap := loadSnapshot()
	return MetricsView{
		CPUUsage:          snap.cpuUsage,
		QueriesPerSecond:  snap.qps,
		ActiveConnections: atomic.LoadInt64(&ActiveConnections),
		MaxConnections10m: snap.maxConn10m,
		TotalQueries:      atomic.LoadInt64(&TotalQueries),
		TotalWrites:       atomic.LoadInt64(&TotalWrites),
	}
}

// InitMetricsSampler starts the single background goroutine that
// samples CPU from /proc/stat, QPS from the counter delta and the
// connection high-water mark.
func InitMetricsSampler() {
	snap := &metricsSnapshot{maxConn10m: 1}
	atomic.StorePointer(&currentSnapshot, unsafe.Pointer(snap))

	go func() {
		var prevIdle, prevTotal uint64
		var prevQueries int64

		// circular buffer: 10 one-second QPS samples
		const qpsBuckets = 10
		qpsBuf := [qpsBuckets]float64{}
		qpsIdx := 0

		// circular buffer: 600 one-second connection samples (10 min)
		const connBuckets = 600
		connBuf := [connBuckets]int64{}
		connIdx := 0

		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			next := &metricsSnapshot{}

			// CPU usage from /proc/stat delta
			idle, total, ok := readProcStat()
			if ok && prevTotal > 0 && total > prevTotal {
				idleDelta := float64(idle - prevIdle)
				totalDelta := float64(total - prevTotal)
				next.cpuUsage = 100.0 * (1.0 - idleDelta/totalDelta)
			}
			if ok {
				prevIdle, prevTotal = idle, total
			}

			// QPS from counter delta, averaged over the ring
			queries := atomic.LoadInt64(&TotalQueries)
			qpsBuf[qpsIdx] = float64(queries - prevQueries)
			qpsIdx = (qpsIdx + 1) % qpsBuckets
			prevQueries = queries
			sum := 0.0
			for _, v := range qpsBuf {
				sum += v
			}
			next.qps = sum / qpsBuckets

			// connection high-water mark over the ring
			connBuf[connIdx] = atomic.LoadInt64(&ActiveConnections)
			connIdx = (connIdx + 1) % connBuckets
			var max int64 = 1
			for _, v := range connBuf {
				if v > max {
					max = v
				}
			}
			next.maxConn10m = max

			atomic.StorePointer(&currentSnapshot, unsafe.Pointer(next))
		}
	}()
}

// readProcStat returns (idle, total) jiffies of the aggregate cpu line.
func readProcStat() (uint64, uint64, bool) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, 0, false
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, false
	}
	var total, idle uint64
	for i, field := range fields[1:] {
		v, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			continue
		}
		total += v
		if i == 3 { // idle column
			idle = v
		}
	}
	return idle, total, true
}
