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
package storage

import "io"
import "os"
import "bufio"
import "strings"
import "encoding/json"
import "github.com/pierrec/lz4/v4"
import "github.com/ulikunitz/xz"

// Database dumps are JSONL: one record per line, nodes first, then
// edges. The file extension picks the compression: .lz4, .xz, or
// plain. Dumps are a portable escape hatch next to the binary segment
// format and feed the snapshot archive.

type dumpLine struct {
	Kind        string `json:"kind"` // "node" or "edge"
	SemanticID  string `json:"semantic_id,omitempty"`
	Id          string `json:"id,omitempty"`
	NodeType    string `json:"node_type,omitempty"`
	Name        string `json:"name,omitempty"`
	File        string `json:"file,omitempty"`
	ContentHash uint64 `json:"content_hash,omitempty"`
	Src         string `json:"src,omitempty"`
	Dst         string `json:"dst,omitempty"`
	EdgeType    string `json:"edge_type,omitempty"`
	Metadata    string `json:"metadata,omitempty"`
}

// openDumpWriter wraps the file in the compressor the extension asks
// for.
func openDumpWriter(path string) (io.WriteCloser, *os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, errIo("dump create", err)
	}
	switch {
	case strings.HasSuffix(path, ".lz4"):
		return lz4.NewWriter(f), f, nil
	case strings.HasSuffix(path, ".xz"):
		w, err := xz.NewWriter(f)
		if err != nil {
			f.Close()
			return nil, nil, errIo("xz writer", err)
		}
		return w, f, nil
	default:
		return nopWriteCloser{f}, f, nil
	}
}

func openDumpReader(path string) (io.Reader, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errIo("dump open", err)
	}
	switch {
	case strings.HasSuffix(path, ".lz4"):
		return lz4.NewReader(f), f, nil
	case strings.HasSuffix(path, ".xz"):
		r, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, errIo("xz reader", err)
		}
		return r, f, nil
	default:
		return f, f, nil
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}

// ExportDump writes every live record of the store as JSONL.
func ExportDump(store *MultiShardStore, path string) error {
	w, f, err := openDumpWriter(path)
	if err != nil {
		return err
	}
	defer f.Close()
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	for _, r := range store.FindNodes(nil, nil) {
		line := dumpLine{
			Kind:        "node",
			SemanticID:  r.SemanticID,
			Id:          r.Id.String(),
			NodeType:    r.NodeType,
			Name:        r.Name,
			File:        r.File,
			ContentHash: r.ContentHash,
			Metadata:    r.Metadata,
		}
		if err := enc.Encode(&line); err != nil {
			return errSerialization("dump line", err)
		}
	}
	for _, e := range store.AllEdges(nil) {
		line := dumpLine{
			Kind:     "edge",
			Src:      e.Src.String(),
			Dst:      e.Dst.String(),
			EdgeType: e.EdgeType,
			Metadata: e.Metadata,
		}
		if err := enc.Encode(&line); err != nil {
			return errSerialization("dump line", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return errIo("dump flush", err)
	}
	if err := w.Close(); err != nil {
		return errIo("dump close", err)
	}
	return f.Sync()
}

// ImportDump reads a JSONL dump back into record slices ready for
// AddNodes/AddEdges.
func ImportDump(path string) ([]NodeRecord, []EdgeRecord, error) {
	r, f, err := openDumpReader(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var nodes []NodeRecord
	var edges []EdgeRecord
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var line dumpLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			return nil, nil, errSerialization("dump line", err)
		}
		switch line.Kind {
		case "node":
			id, err := ParseNodeID(line.Id)
			if err != nil {
				// tolerate dumps that only carry the semantic id
				id = NewNodeID(line.SemanticID)
			}
			nodes = append(nodes, NodeRecord{
				SemanticID:  line.SemanticID,
				Id:          id,
				NodeType:    line.NodeType,
				Name:        line.Name,
				File:        line.File,
				ContentHash: line.ContentHash,
				Metadata:    line.Metadata,
			})
		case "edge":
			src, err := ParseNodeID(line.Src)
			if err != nil {
				return nil, nil, err
			}
			dst, err := ParseNodeID(line.Dst)
			if err != nil {
				return nil, nil, err
			}
			edges = append(edges, EdgeRecord{
				Src:      src,
				Dst:      dst,
				EdgeType: line.EdgeType,
				Metadata: line.Metadata,
			})
		default:
			return nil, nil, errInvalidFormat("unknown dump line kind: " + line.Kind)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, errIo("dump read", err)
	}
	return nodes, edges, nil
}
