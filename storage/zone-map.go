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

import "io"
import "sort"
import "unicode/utf8"
import "encoding/binary"

// ZoneMap tracks the distinct string values per indexed field of a
// segment, so whole segments can be skipped during attribute scans.
//
// A field that accumulates more than MaxZoneMapValuesPerField distinct
// values is dropped from the serialized form and treated as "all values
// possible" afterwards.
//
// Binary layout (fields and values sorted lexicographically, so a
// rewrite of the same content is byte-exact):
//
//	[field_count u32]
//	per field: [name_len u16][name][value_count u32]
//	           per value: [value_len u16][value]
type ZoneMap struct {
	fields map[string]map[string]struct{}
}

// NewZoneMap creates an empty zone map.
func NewZoneMap() *ZoneMap {
	return &ZoneMap{fields: make(map[string]map[string]struct{})}
}

// Add records that value appears for field.
func (z *ZoneMap) Add(field, value string) {
	set, ok := z.fields[field]
	if !ok {
		set = make(map[string]struct{})
		z.fields[field] = set
	}
	set[value] = struct{}{}
}

// Contains reports whether the segment may contain value for field.
// An untracked field answers true: either it was never indexed or it
// was dropped for exceeding the value cap, and in both cases any value
// is possible.
func (z *ZoneMap) Contains(field, value string) bool {
	set, ok := z.fields[field]
	if !ok {
		return true
	}
	_, ok = set[value]
	return ok
}

// GetValues returns the tracked distinct values of field, or nil when
// the field is untracked.
func (z *ZoneMap) GetValues(field string) map[string]struct{} {
	return z.fields[field]
}

// FieldCount returns the number of tracked fields.
func (z *ZoneMap) FieldCount() int {
	return len(z.fields)
}

// WriteTo serializes the zone map, skipping oversized fields.
func (z *ZoneMap) WriteTo(w io.Writer) error {
	names := make([]string, 0, len(z.fields))
	for name, values := range z.fields {
		if len(values) > MaxZoneMapValuesPerField {
			continue // all values possible
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var num [4]byte
	binary.LittleEndian.PutUint32(num[:], uint32(len(names)))
	if _, err := w.Write(num[:]); err != nil {
		return errIo("zone map write", err)
	}
	var short [2]byte
	for _, name := range names {
		binary.LittleEndian.PutUint16(short[:], uint16(len(name)))
		if _, err := w.Write(short[:]); err != nil {
			return errIo("zone map write", err)
		}
		if _, err := io.WriteString(w, name); err != nil {
			return errIo("zone map write", err)
		}
		values := make([]string, 0, len(z.fields[name]))
		for v := range z.fields[name] {
			values = append(values, v)
		}
		sort.Strings(values)
		binary.LittleEndian.PutUint32(num[:], uint32(len(values)))
		if _, err := w.Write(num[:]); err != nil {
			return errIo("zone map write", err)
		}
		for _, v := range values {
			binary.LittleEndian.PutUint16(short[:], uint16(len(v)))
			if _, err := w.Write(short[:]); err != nil {
				return errIo("zone map write", err)
			}
			if _, err := io.WriteString(w, v); err != nil {
				return errIo("zone map write", err)
			}
		}
	}
	return nil
}

// SerializedSize returns the byte size WriteTo will produce.
func (z *ZoneMap) SerializedSize() int {
	size := 4
	for name, values := range z.fields {
		if len(values) > MaxZoneMapValuesPerField {
			continue
		}
		size += 2 + len(name) + 4
		for v := range values {
			size += 2 + len(v)
		}
	}
	return size
}

// ZoneMapFromBytes loads a zone map from its serialized form.
func ZoneMapFromBytes(b []byte) (*ZoneMap, error) {
	if len(b) < 4 {
		return nil, errInvalidFormat("zone map too small")
	}
	pos := 0
	fieldCount := int(binary.LittleEndian.Uint32(b[pos : pos+4]))
	pos += 4
	z := NewZoneMap()
	for i := 0; i < fieldCount; i++ {
		if pos+2 > len(b) {
			return nil, errInvalidFormat("zone map field truncated")
		}
		nameLen := int(binary.LittleEndian.Uint16(b[pos : pos+2]))
		pos += 2
		if pos+nameLen > len(b) {
			return nil, errInvalidFormat("zone map field truncated")
		}
		name := b[pos : pos+nameLen]
		if !utf8.Valid(name) {
			return nil, errInvalidFormat("zone map contains invalid utf8")
		}
		pos += nameLen
		if pos+4 > len(b) {
			return nil, errInvalidFormat("zone map field truncated")
		}
		valueCount := int(binary.LittleEndian.Uint32(b[pos : pos+4]))
		pos += 4
		set := make(map[string]struct{}, valueCount)
		for j := 0; j < valueCount; j++ {
			if pos+2 > len(b) {
				return nil, errInvalidFormat("zone map value truncated")
			}
			valLen := int(binary.LittleEndian.Uint16(b[pos : pos+2]))
			pos += 2
			if pos+valLen > len(b) {
				return nil, errInvalidFormat("zone map value truncated")
			}
			val := b[pos : pos+valLen]
			if !utf8.Valid(val) {
				return nil, errInvalidFormat("zone map contains invalid utf8")
			}
			pos += valLen
			set[string(val)] = struct{}{}
		}
		z.fields[string(name)] = set
	}
	return z, nil
}
