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
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// sessionSeq seeds from the clock so ids differ across restarts.
var sessionSeq uint64 = uint64(time.Now().UnixNano())

// newSessionID builds a uuid-shaped session id from a process-local
// sequence mixed with the clock. crypto/rand would do, but a
// connection storm right after boot can stall on low-entropy hosts,
// and session ids only need to be unique, not unguessable.
func newSessionID() string {
	seq := atomic.AddUint64(&sessionSeq, 1)
	now := uint64(time.Now().UnixNano())
	var raw [16]byte
	binary.LittleEndian.PutUint64(raw[0:8], now^(seq<<21))
	binary.LittleEndian.PutUint64(raw[8:16], seq)
	// stamp RFC4122 version 4 + variant bits so the id parses as a uuid
	raw[6] = (raw[6] & 0x0f) | 0x40
	raw[8] = (raw[8] & 0x3f) | 0x80
	return uuid.UUID(raw).String()
}

// AccessMode is the per-session database access level.
type AccessMode int

const (
	AccessRead AccessMode = iota
	AccessWrite
)

// AccessModeFromString defaults unknown strings to read access.
func AccessModeFromString(s string) AccessMode {
	if s == "write" || s == "rw" {
		return AccessWrite
	}
	return AccessRead
}

func (m AccessMode) String() string {
	if m == AccessWrite {
		return "write"
	}
	return "read"
}

// IsWrite reports whether this mode permits mutation.
func (m AccessMode) IsWrite() bool {
	return m == AccessWrite
}

// ClientSession is the per-connection state: the selected database and
// the granted access mode.
type ClientSession struct {
	Id       string
	database *Database
	mode     AccessMode
}

// NewClientSession assigns a fresh session id.
func NewClientSession() *ClientSession {
	return &ClientSession{Id: newSessionID()}
}

// SetDatabase selects a database; the previous selection is released.
func (s *ClientSession) SetDatabase(db *Database, mode AccessMode) {
	if s.database != nil {
		s.database.RemoveConnection()
	}
	s.database = db
	s.mode = mode
	db.AddConnection()
}

// ClearDatabase releases the selection.
func (s *ClientSession) ClearDatabase() {
	if s.database != nil {
		s.database.RemoveConnection()
		s.database = nil
	}
}

// Database returns the selected database, nil when none is selected.
func (s *ClientSession) Database() *Database {
	return s.database
}

// CurrentDBName returns the selected database name, "" when none.
func (s *ClientSession) CurrentDBName() string {
	if s.database == nil {
		return ""
	}
	return s.database.Name
}

// CanWrite reports whether the session may mutate its database.
func (s *ClientSession) CanWrite() bool {
	return s.database != nil && s.mode.IsWrite()
}

// HasDatabase reports whether a database is selected.
func (s *ClientSession) HasDatabase() bool {
	return s.database != nil
}
