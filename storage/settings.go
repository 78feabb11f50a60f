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
import "encoding/json"
import "github.com/dc0d/onexit"
import "github.com/docker/go-units"
import "go.uber.org/zap"

// ArchiveSettings selects where snapshot dumps are shipped.
// Backend "file" (default) keeps them in a local directory, "s3" talks
// to an S3-compatible bucket.
type ArchiveSettings struct {
	Backend         string `json:"backend"`
	Basepath        string `json:"basepath"`
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	Prefix          string `json:"prefix"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	ForcePathStyle  bool   `json:"force_path_style"`
}

// SettingsT carries process-wide tuning knobs. Zero values mean
// "derive from the machine" (see resource.go).
type SettingsT struct {
	// Strict fsync behavior for manifest commits
	Durability DurabilityMode
	// 0 = auto-tune from cpu count / RAM
	ShardCount uint16
	// 0 = auto-tune; otherwise L0 segment count that triggers compaction
	SegmentThreshold int
	// "" = auto-tune; human readable, e.g. "64MB"
	WriteBufferLimit string
	// hard cap on buffered records, safety belt behind auto-flush
	DeltaLogLimit int
	// verbose flush/compaction logging
	Trace bool
	// snapshot archive target
	Archive ArchiveSettings
}

var Settings SettingsT = SettingsT{Durability: DurabilityStrict, DeltaLogLimit: 10_000_000}

// log is the package logger; replaced by InitSettings.
var log *zap.SugaredLogger = zap.NewNop().Sugar()

// InitSettings applies Settings and installs the logger. Call after
// filling Settings.
func InitSettings(logger *zap.SugaredLogger) {
	if logger != nil {
		log = logger
	}
	onexit.Register(func() { _ = log.Sync() })
}

// LoadSettingsFile merges a JSON settings file into Settings. Sizes are
// accepted in human readable form.
func LoadSettingsFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errIo("settings read", err)
	}
	var file struct {
		Durability       string          `json:"durability"`
		ShardCount       uint16          `json:"shard_count"`
		SegmentThreshold int             `json:"segment_threshold"`
		WriteBufferLimit string          `json:"write_buffer_limit"`
		DeltaLogLimit    int             `json:"delta_log_limit"`
		Trace            bool            `json:"trace"`
		Archive          ArchiveSettings `json:"archive"`
	}
	if err := json.Unmarshal(raw, &file); err != nil {
		return errSerialization("settings", err)
	}
	switch file.Durability {
	case "", "strict":
		Settings.Durability = DurabilityStrict
	case "relaxed":
		Settings.Durability = DurabilityRelaxed
	default:
		return errInvalidFormat("durability must be strict or relaxed")
	}
	if file.ShardCount > 0 {
		Settings.ShardCount = file.ShardCount
	}
	if file.SegmentThreshold > 0 {
		Settings.SegmentThreshold = file.SegmentThreshold
	}
	if file.WriteBufferLimit != "" {
		if _, err := units.RAMInBytes(file.WriteBufferLimit); err != nil {
			return errInvalidFormat("write_buffer_limit: " + err.Error())
		}
		Settings.WriteBufferLimit = file.WriteBufferLimit
	}
	if file.DeltaLogLimit > 0 {
		Settings.DeltaLogLimit = file.DeltaLogLimit
	}
	Settings.Trace = file.Trace
	switch file.Archive.Backend {
	case "", "file", "s3":
		if file.Archive != (ArchiveSettings{}) {
			Settings.Archive = file.Archive
		}
	default:
		return errInvalidFormat("archive backend must be file or s3")
	}
	return nil
}

// writeBufferLimitBytes resolves the configured override, 0 = none.
func writeBufferLimitBytes() int64 {
	if Settings.WriteBufferLimit == "" {
		return 0
	}
	n, err := units.RAMInBytes(Settings.WriteBufferLimit)
	if err != nil {
		return 0
	}
	return n
}

// HumanSize formats a byte count for stats output.
func HumanSize(n uint64) string {
	return units.BytesSize(float64(n))
}
