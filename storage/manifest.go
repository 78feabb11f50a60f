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
import "fmt"
import "sort"
import "time"
import "bufio"
import "strings"
import "path/filepath"
import "encoding/json"

// DurabilityMode selects how aggressively the manifest store fsyncs.
type DurabilityMode int

const (
	// DurabilityStrict fsyncs files and directories on every commit.
	DurabilityStrict DurabilityMode = iota
	// DurabilityRelaxed elides directory fsyncs. A power loss may drop
	// the latest commit but never corrupts prior ones.
	DurabilityRelaxed
)

// SegmentDescriptor is the manifest entry for one live segment.
// The distinct value sets allow descriptor-level zone pruning without
// touching the segment file.
type SegmentDescriptor struct {
	SegmentId   uint64      `json:"segment_id"`
	SegmentType SegmentType `json:"segment_type"`
	ShardId     *uint16     `json:"shard_id"`
	RecordCount uint64      `json:"record_count"`
	ByteSize    uint64      `json:"byte_size"`
	NodeTypes   []string    `json:"node_types"`
	FilePaths   []string    `json:"file_paths"`
	EdgeTypes   []string    `json:"edge_types"`
}

// DescriptorFromMeta builds a descriptor from flush metadata.
func DescriptorFromMeta(segID uint64, segType SegmentType, shardID *uint16, meta *SegmentMeta) SegmentDescriptor {
	return SegmentDescriptor{
		SegmentId:   segID,
		SegmentType: segType,
		ShardId:     shardID,
		RecordCount: meta.RecordCount,
		ByteSize:    meta.ByteSize,
		NodeTypes:   sortedKeys(meta.NodeTypes),
		FilePaths:   sortedKeys(meta.FilePaths),
		EdgeTypes:   sortedKeys(meta.EdgeTypes),
	}
}

// FilePath resolves the segment file below the database root:
// segments/<2-digit shard>/seg_<6-digit id>_<nodes|edges>.seg
func (d *SegmentDescriptor) FilePath(dbPath string) string {
	shard := uint16(0)
	if d.ShardId != nil {
		shard = *d.ShardId
	}
	return filepath.Join(dbPath, "segments", fmt.Sprintf("%02d", shard),
		fmt.Sprintf("seg_%06d_%s.seg", d.SegmentId, d.SegmentType))
}

// MayContain prunes a segment from a scan using the descriptor's
// distinct value sets. Nil filters do not constrain; an empty set means
// the descriptor carries no information for that dimension.
func (d *SegmentDescriptor) MayContain(nodeType, file, edgeType *string) bool {
	if nodeType != nil && len(d.NodeTypes) > 0 && !containsString(d.NodeTypes, *nodeType) {
		return false
	}
	if file != nil && len(d.FilePaths) > 0 && !containsString(d.FilePaths, *file) {
		return false
	}
	if edgeType != nil && len(d.EdgeTypes) > 0 && !containsString(d.EdgeTypes, *edgeType) {
		return false
	}
	return true
}

// tombstonedEdgeKey serializes as the JSON triple [src, dst, type].
type tombstonedEdgeKey EdgeKey

func (k tombstonedEdgeKey) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]string{k.Src.String(), k.Dst.String(), k.Type})
}

func (k *tombstonedEdgeKey) UnmarshalJSON(data []byte) error {
	var triple [3]string
	if err := json.Unmarshal(data, &triple); err != nil {
		return err
	}
	src, err := ParseNodeID(triple[0])
	if err != nil {
		return err
	}
	dst, err := ParseNodeID(triple[1])
	if err != nil {
		return err
	}
	k.Src, k.Dst, k.Type = src, dst, triple[2]
	return nil
}

// CompactionInfo records the latest compaction in the manifest.
type CompactionInfo struct {
	ManifestVersion  uint64 `json:"manifest_version"`
	TimestampMs      uint64 `json:"timestamp_ms"`
	L0SegmentsMerged uint32 `json:"l0_segments_merged"`
}

// Manifest is one committed version: the full list of live segments,
// the tombstone union and the tag map. Self-contained per version.
type Manifest struct {
	Version            uint64              `json:"version"`
	NodeSegments       []SegmentDescriptor `json:"node_segments"`
	EdgeSegments       []SegmentDescriptor `json:"edge_segments"`
	TombstonedNodeIds  []NodeID            `json:"tombstoned_node_ids"`
	TombstonedEdgeKeys []tombstonedEdgeKey `json:"tombstoned_edge_keys"`
	Tags               map[string]string   `json:"tags"`
	CompactionInfo     *CompactionInfo     `json:"compaction_info,omitempty"`
}

// TombstoneEdgeKeys returns the tombstoned edge keys as EdgeKey values.
func (m *Manifest) TombstoneEdgeKeys() []EdgeKey {
	out := make([]EdgeKey, len(m.TombstonedEdgeKeys))
	for i, k := range m.TombstonedEdgeKeys {
		out[i] = EdgeKey(k)
	}
	return out
}

// SetTombstones replaces the manifest's tombstone lists.
func (m *Manifest) SetTombstones(nodeIds []NodeID, edgeKeys []EdgeKey) {
	m.TombstonedNodeIds = nodeIds
	m.TombstonedEdgeKeys = make([]tombstonedEdgeKey, len(edgeKeys))
	for i, k := range edgeKeys {
		m.TombstonedEdgeKeys[i] = tombstonedEdgeKey(k)
	}
}

// SnapshotInfo is the listing entry of one tagged or untagged version.
type SnapshotInfo struct {
	Version      uint64            `json:"version"`
	Tags         map[string]string `json:"tags"`
	NodeSegments int               `json:"node_segments"`
	EdgeSegments int               `json:"edge_segments"`
}

// SnapshotDiff is the set difference between two versions.
type SnapshotDiff struct {
	FromVersion       uint64   `json:"from_version"`
	ToVersion         uint64   `json:"to_version"`
	SegmentsAdded     []uint64 `json:"segments_added"`
	SegmentsRemoved   []uint64 `json:"segments_removed"`
	TombstonesAdded   []NodeID `json:"tombstones_added"`
	TombstonesRemoved []NodeID `json:"tombstones_removed"`
}

// ManifestStore owns the manifest files of one database and serializes
// commits. Only one commit may be in progress at a time; the caller
// holds the database's writer lock.
//
// On-disk layout below the database root:
//
//	current.json        single-line pointer {"version": V}
//	manifests/NNNN.json one self-contained file per version
//	manifest_index.json append-only log of known versions
type ManifestStore struct {
	dbPath     string // "" for ephemeral stores
	current    *Manifest
	versions   []uint64
	nextSegID  uint64
	durability DurabilityMode
	// ephemeral stores keep superseded manifests here for snapshot ops
	history map[uint64]*Manifest
}

type currentPointer struct {
	Version uint64 `json:"version"`
}

type indexEntry struct {
	Version     uint64 `json:"version"`
	TimestampMs uint64 `json:"timestamp_ms"`
}

// CreateManifestStore initializes the manifest area of a new database
// and commits version 1, the empty initial state.
func CreateManifestStore(dbPath string) (*ManifestStore, error) {
	if err := os.MkdirAll(filepath.Join(dbPath, "manifests"), 0750); err != nil {
		return nil, errIo("manifest dir create", err)
	}
	s := &ManifestStore{
		dbPath:     dbPath,
		nextSegID:  1,
		durability: Settings.Durability,
		history:    make(map[uint64]*Manifest),
	}
	initial := &Manifest{
		Version:      1,
		NodeSegments: []SegmentDescriptor{},
		EdgeSegments: []SegmentDescriptor{},
		Tags:         map[string]string{},
	}
	if err := s.Commit(initial); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenManifestStore loads the current manifest of an existing database.
func OpenManifestStore(dbPath string) (*ManifestStore, error) {
	raw, err := os.ReadFile(filepath.Join(dbPath, "current.json"))
	if err != nil {
		return nil, errIo("current.json read", err)
	}
	var ptr currentPointer
	if err := json.Unmarshal(raw, &ptr); err != nil {
		return nil, errSerialization("current.json", err)
	}
	s := &ManifestStore{
		dbPath:     dbPath,
		durability: Settings.Durability,
		history:    make(map[uint64]*Manifest),
	}
	current, err := s.loadVersion(ptr.Version)
	if err != nil {
		return nil, err
	}
	s.current = current
	s.versions, err = s.readIndex()
	if err != nil {
		return nil, err
	}
	// skip index entries past the committed pointer (aborted commits)
	trimmed := s.versions[:0]
	for _, v := range s.versions {
		if v <= ptr.Version {
			trimmed = append(trimmed, v)
		}
	}
	s.versions = trimmed
	s.nextSegID = maxSegmentID(current) + 1
	return s, nil
}

// EphemeralManifestStore keeps everything in memory (tests, scratch
// databases).
func EphemeralManifestStore() *ManifestStore {
	s := &ManifestStore{
		nextSegID:  1,
		durability: DurabilityRelaxed,
		history:    make(map[uint64]*Manifest),
	}
	initial := &Manifest{
		Version:      1,
		NodeSegments: []SegmentDescriptor{},
		EdgeSegments: []SegmentDescriptor{},
		Tags:         map[string]string{},
	}
	// in-memory commit can not fail
	_ = s.Commit(initial)
	return s
}

// Current returns the committed manifest.
func (s *ManifestStore) Current() *Manifest {
	return s.current
}

// Versions returns all known committed versions, ascending.
func (s *ManifestStore) Versions() []uint64 {
	return s.versions
}

// NextSegmentID allocates a database-unique segment id.
func (s *ManifestStore) NextSegmentID() uint64 {
	id := s.nextSegID
	s.nextSegID++
	return id
}

// SetDurability switches between Strict and Relaxed fsync behavior.
func (s *ManifestStore) SetDurability(mode DurabilityMode) {
	s.durability = mode
}

// CreateManifest derives the successor manifest from the current one:
// version+1, the given full segment lists, tombstones carried over,
// fresh tag map.
func (s *ManifestStore) CreateManifest(nodeSegments, edgeSegments []SegmentDescriptor, compaction *CompactionInfo) *Manifest {
	next := &Manifest{
		Version:      s.current.Version + 1,
		NodeSegments: nodeSegments,
		EdgeSegments: edgeSegments,
		Tags:         map[string]string{},
	}
	next.TombstonedNodeIds = append([]NodeID{}, s.current.TombstonedNodeIds...)
	next.TombstonedEdgeKeys = append([]tombstonedEdgeKey{}, s.current.TombstonedEdgeKeys...)
	next.CompactionInfo = compaction
	return next
}

// Commit atomically publishes a manifest as the new current version:
//
//  1. write manifests/NNNN.json under a temporary name, fsync
//  2. rename to the final name (atomic on the same filesystem)
//  3. fsync the manifests directory
//  4. rewrite current.json the same way, fsync the database root
//  5. append the version to manifest_index.json
//
// A crash between step 2 and step 4 leaves an orphan manifest that is
// ignored because current.json still names the predecessor.
func (s *ManifestStore) Commit(m *Manifest) error {
	if s.current != nil && m.Version != s.current.Version+1 {
		return errInvalidFormat(fmt.Sprintf("manifest version %d does not succeed %d", m.Version, s.current.Version))
	}
	if s.dbPath == "" {
		if s.current != nil {
			s.history[s.current.Version] = s.current
		}
		s.current = m
		s.versions = append(s.versions, m.Version)
		s.history[m.Version] = m
		return nil
	}

	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errSerialization("manifest", err)
	}
	manifestDir := filepath.Join(s.dbPath, "manifests")
	finalPath := filepath.Join(manifestDir, fmt.Sprintf("%04d.json", m.Version))
	if err := s.atomicWrite(manifestDir, finalPath, body); err != nil {
		return err
	}

	ptr, err := json.Marshal(currentPointer{Version: m.Version})
	if err != nil {
		return errSerialization("current pointer", err)
	}
	if err := s.atomicWrite(s.dbPath, filepath.Join(s.dbPath, "current.json"), ptr); err != nil {
		return err
	}

	if err := s.appendIndex(m.Version); err != nil {
		return err
	}

	s.current = m
	s.versions = append(s.versions, m.Version)
	return nil
}

// TagSnapshot attaches tags to a historical version.
func (s *ManifestStore) TagSnapshot(version uint64, tags map[string]string) error {
	m, err := s.loadVersion(version)
	if err != nil {
		return err
	}
	if m.Tags == nil {
		m.Tags = map[string]string{}
	}
	for k, v := range tags {
		m.Tags[k] = v
	}
	if s.dbPath == "" {
		s.history[version] = m
		if s.current.Version == version {
			s.current = m
		}
		return nil
	}
	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errSerialization("manifest", err)
	}
	manifestDir := filepath.Join(s.dbPath, "manifests")
	finalPath := filepath.Join(manifestDir, fmt.Sprintf("%04d.json", version))
	if err := s.atomicWrite(manifestDir, finalPath, body); err != nil {
		return err
	}
	if s.current.Version == version {
		s.current = m
	}
	return nil
}

// FindSnapshot scans versions newest-first for a tag match.
func (s *ManifestStore) FindSnapshot(key, value string) (uint64, bool) {
	for i := len(s.versions) - 1; i >= 0; i-- {
		m, err := s.loadVersion(s.versions[i])
		if err != nil {
			continue
		}
		if m.Tags[key] == value {
			return m.Version, true
		}
	}
	return 0, false
}

// ListSnapshots lists all versions, optionally only those carrying the
// given tag key.
func (s *ManifestStore) ListSnapshots(filterTag string) []SnapshotInfo {
	var out []SnapshotInfo
	for _, v := range s.versions {
		m, err := s.loadVersion(v)
		if err != nil {
			continue
		}
		if filterTag != "" {
			if _, ok := m.Tags[filterTag]; !ok {
				continue
			}
		}
		out = append(out, SnapshotInfo{
			Version:      m.Version,
			Tags:         m.Tags,
			NodeSegments: len(m.NodeSegments),
			EdgeSegments: len(m.EdgeSegments),
		})
	}
	return out
}

// DiffSnapshots computes the segment and tombstone set differences
// between two versions.
func (s *ManifestStore) DiffSnapshots(fromVersion, toVersion uint64) (*SnapshotDiff, error) {
	from, err := s.loadVersion(fromVersion)
	if err != nil {
		return nil, err
	}
	to, err := s.loadVersion(toVersion)
	if err != nil {
		return nil, err
	}
	fromSegs := segmentIDSet(from)
	toSegs := segmentIDSet(to)
	diff := &SnapshotDiff{FromVersion: fromVersion, ToVersion: toVersion}
	for id := range toSegs {
		if _, ok := fromSegs[id]; !ok {
			diff.SegmentsAdded = append(diff.SegmentsAdded, id)
		}
	}
	for id := range fromSegs {
		if _, ok := toSegs[id]; !ok {
			diff.SegmentsRemoved = append(diff.SegmentsRemoved, id)
		}
	}
	sort.Slice(diff.SegmentsAdded, func(i, j int) bool { return diff.SegmentsAdded[i] < diff.SegmentsAdded[j] })
	sort.Slice(diff.SegmentsRemoved, func(i, j int) bool { return diff.SegmentsRemoved[i] < diff.SegmentsRemoved[j] })

	fromTombs := make(map[NodeID]struct{}, len(from.TombstonedNodeIds))
	for _, id := range from.TombstonedNodeIds {
		fromTombs[id] = struct{}{}
	}
	toTombs := make(map[NodeID]struct{}, len(to.TombstonedNodeIds))
	for _, id := range to.TombstonedNodeIds {
		toTombs[id] = struct{}{}
	}
	for id := range toTombs {
		if _, ok := fromTombs[id]; !ok {
			diff.TombstonesAdded = append(diff.TombstonesAdded, id)
		}
	}
	for id := range fromTombs {
		if _, ok := toTombs[id]; !ok {
			diff.TombstonesRemoved = append(diff.TombstonesRemoved, id)
		}
	}
	return diff, nil
}

// -- internals ---------------------------------------------------------------

func (s *ManifestStore) loadVersion(version uint64) (*Manifest, error) {
	if s.dbPath == "" {
		if m, ok := s.history[version]; ok {
			return m, nil
		}
		if s.current != nil && s.current.Version == version {
			return s.current, nil
		}
		return nil, errInvalidFormat(fmt.Sprintf("unknown manifest version %d", version))
	}
	raw, err := os.ReadFile(filepath.Join(s.dbPath, "manifests", fmt.Sprintf("%04d.json", version)))
	if err != nil {
		return nil, errIo("manifest read", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errSerialization("manifest", err)
	}
	if m.Tags == nil {
		m.Tags = map[string]string{}
	}
	return &m, nil
}

// atomicWrite writes body to a temp file in dir, fsyncs, renames over
// finalPath and fsyncs dir (Strict only).
func (s *ManifestStore) atomicWrite(dir, finalPath string, body []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-manifest-*")
	if err != nil {
		return errIo("temp file create", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errIo("temp file write", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errIo("temp file sync", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errIo("temp file close", err)
	}
	if err := os.Rename(tmpName, finalPath); err != nil {
		os.Remove(tmpName)
		return errIo("manifest rename", err)
	}
	if s.durability == DurabilityStrict {
		if err := syncDir(dir); err != nil {
			return err
		}
	}
	return nil
}

func (s *ManifestStore) appendIndex(version uint64) error {
	f, err := os.OpenFile(filepath.Join(s.dbPath, "manifest_index.json"),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return errIo("manifest index open", err)
	}
	defer f.Close()
	entry, err := json.Marshal(indexEntry{Version: version, TimestampMs: uint64(time.Now().UnixMilli())})
	if err != nil {
		return errSerialization("manifest index entry", err)
	}
	if _, err := f.Write(append(entry, '\n')); err != nil {
		return errIo("manifest index append", err)
	}
	if s.durability == DurabilityStrict {
		if err := f.Sync(); err != nil {
			return errIo("manifest index sync", err)
		}
	}
	return nil
}

func (s *ManifestStore) readIndex() ([]uint64, error) {
	f, err := os.Open(filepath.Join(s.dbPath, "manifest_index.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return []uint64{s.current.Version}, nil
		}
		return nil, errIo("manifest index open", err)
	}
	defer f.Close()
	var versions []uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e indexEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue // tolerate torn trailing writes
		}
		versions = append(versions, e.Version)
	}
	return versions, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return errIo("dir open", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return errIo("dir sync", err)
	}
	return nil
}

func maxSegmentID(m *Manifest) uint64 {
	var max uint64
	for _, d := range m.NodeSegments {
		if d.SegmentId > max {
			max = d.SegmentId
		}
	}
	for _, d := range m.EdgeSegments {
		if d.SegmentId > max {
			max = d.SegmentId
		}
	}
	return max
}

func segmentIDSet(m *Manifest) map[uint64]struct{} {
	set := make(map[uint64]struct{}, len(m.NodeSegments)+len(m.EdgeSegments))
	for _, d := range m.NodeSegments {
		set[d.SegmentId] = struct{}{}
	}
	for _, d := range m.EdgeSegments {
		set[d.SegmentId] = struct{}{}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
