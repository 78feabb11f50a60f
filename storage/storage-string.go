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
import "strings"
import "unicode/utf8"
import "encoding/binary"

// StringTable is the per-segment deduplicated string dictionary.
//
// While building, a reverse map deduplicates interned strings. After
// load from a segment the table is read-only: offsets index into one
// concatenated dictionary string.
//
// Binary layout:
//
//	[string_count u32][data_len u32]
//	[(offset u32, length u32) x string_count]
//	[concatenated utf8 bytes]
type StringTable struct {
	dictionary string
	offsets    []uint32
	lengths    []uint32
	// build helpers, unused after load
	sb         strings.Builder
	reverseMap map[string]uint32
}

// NewStringTable creates an empty table ready for interning.
func NewStringTable() *StringTable {
	return &StringTable{reverseMap: make(map[string]uint32)}
}

// Intern returns the index of v, appending it on first use.
func (s *StringTable) Intern(v string) uint32 {
	if idx, ok := s.reverseMap[v]; ok {
		// reuse of string
		return idx
	}
	idx := uint32(len(s.offsets))
	s.offsets = append(s.offsets, uint32(s.sb.Len()))
	s.lengths = append(s.lengths, uint32(len(v)))
	s.sb.WriteString(v)
	s.reverseMap[v] = idx
	s.dictionary = "" // invalidate materialized view
	return idx
}

// Get returns the string at index i. The second return is false when i
// is out of range.
func (s *StringTable) Get(i uint32) (string, bool) {
	if int(i) >= len(s.offsets) {
		return "", false
	}
	if s.dictionary == "" && s.sb.Len() > 0 {
		s.dictionary = s.sb.String()
	}
	start := s.offsets[i]
	return s.dictionary[start : start+s.lengths[i]], true
}

// Len returns the number of interned strings.
func (s *StringTable) Len() int {
	return len(s.offsets)
}

// WriteTo serializes the table.
func (s *StringTable) WriteTo(w io.Writer) error {
	data := s.dictionary
	if data == "" && s.sb.Len() > 0 {
		data = s.sb.String()
	}
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(s.offsets)))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return errIo("string table write", err)
	}
	entry := make([]byte, 8)
	for i := range s.offsets {
		binary.LittleEndian.PutUint32(entry[0:4], s.offsets[i])
		binary.LittleEndian.PutUint32(entry[4:8], s.lengths[i])
		if _, err := w.Write(entry); err != nil {
			return errIo("string table write", err)
		}
	}
	if _, err := io.WriteString(w, data); err != nil {
		return errIo("string table write", err)
	}
	return nil
}

// SerializedSize returns the byte size WriteTo will produce.
func (s *StringTable) SerializedSize() int {
	data := len(s.dictionary)
	if data == 0 {
		data = s.sb.Len()
	}
	return 8 + 8*len(s.offsets) + data
}

// StringTableFromBytes loads a read-only table from a serialized slice.
func StringTableFromBytes(b []byte) (*StringTable, error) {
	if len(b) < 8 {
		return nil, errInvalidFormat("string table too small")
	}
	count := binary.LittleEndian.Uint32(b[0:4])
	dataLen := binary.LittleEndian.Uint32(b[4:8])
	need := 8 + 8*int(count) + int(dataLen)
	if len(b) < need {
		return nil, errInvalidFormat("string table truncated")
	}
	s := &StringTable{
		offsets: make([]uint32, count),
		lengths: make([]uint32, count),
	}
	pos := 8
	for i := uint32(0); i < count; i++ {
		s.offsets[i] = binary.LittleEndian.Uint32(b[pos : pos+4])
		s.lengths[i] = binary.LittleEndian.Uint32(b[pos+4 : pos+8])
		if int(s.offsets[i])+int(s.lengths[i]) > int(dataLen) {
			return nil, errInvalidFormat("string table entry out of bounds")
		}
		pos += 8
	}
	data := b[pos : pos+int(dataLen)]
	if !utf8.Valid(data) {
		return nil, errInvalidFormat("string table contains invalid utf8")
	}
	s.dictionary = string(data)
	return s, nil
}
