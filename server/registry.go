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
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	NonLockingReadMap "github.com/launix-de/NonLockingReadMap"
	"go.uber.org/zap"

	"github.com/launix-de/rfdb/graph"
	"github.com/launix-de/rfdb/storage"
)

var validDatabaseName = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_.-]*$`)

// dbState is the mutable half of a Database, held behind a pointer so
// the registry map can copy Database values freely.
type dbState struct {
	mu          sync.RWMutex
	engine      *graph.Engine
	connections int64
}

// Database wraps one engine with the reader/writer lock that gives the
// single-writer guarantee the core relies on, plus a connection count
// for drop protection.
type Database struct {
	Name      string
	Ephemeral bool
	state     *dbState
}

// GetKey implements the NonLockingReadMap key contract.
func (d Database) GetKey() string {
	return d.Name
}

// ComputeSize implements the NonLockingReadMap size contract; rough.
func (d Database) ComputeSize() uint {
	return uint(64 + len(d.Name))
}

// AddConnection counts a session attaching.
func (d *Database) AddConnection() {
	atomic.AddInt64(&d.state.connections, 1)
}

// RemoveConnection counts a session detaching.
func (d *Database) RemoveConnection() {
	atomic.AddInt64(&d.state.connections, -1)
}

// ConnectionCount returns the attached session count.
func (d *Database) ConnectionCount() int {
	return int(atomic.LoadInt64(&d.state.connections))
}

// IsInUse reports whether any session is attached.
func (d *Database) IsInUse() bool {
	return d.ConnectionCount() > 0
}

// Read runs fn under the shared reader lock.
func (d *Database) Read(fn func(*graph.Engine) error) error {
	d.state.mu.RLock()
	defer d.state.mu.RUnlock()
	return fn(d.state.engine)
}

// Write runs fn under the exclusive writer lock.
func (d *Database) Write(fn func(*graph.Engine) error) error {
	d.state.mu.Lock()
	defer d.state.mu.Unlock()
	return fn(d.state.engine)
}

// DatabaseInfo is the listing view of a registered database.
type DatabaseInfo struct {
	Name        string `json:"name"`
	Ephemeral   bool   `json:"ephemeral"`
	NodeCount   int    `json:"node_count"`
	EdgeCount   int    `json:"edge_count"`
	Connections int    `json:"connections"`
}

// DatabaseManager is the multi-database registry: named engines below
// one base directory, read-mostly via a non-locking map, writes (create
// and drop) serialized by a mutex.
type DatabaseManager struct {
	basePath  string
	databases NonLockingReadMap.NonLockingReadMap[Database, string]
	writeMu   sync.Mutex
	log       *zap.SugaredLogger
	watcher   *fsnotify.Watcher
}

// NewDatabaseManager scans basePath for existing <name>.rfdb
// directories and registers them lazily (opened on first use).
func NewDatabaseManager(basePath string, logger *zap.SugaredLogger) (*DatabaseManager, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := os.MkdirAll(basePath, 0750); err != nil {
		return nil, &storage.GraphError{Kind: storage.ErrIo, Msg: "base dir create", Err: err}
	}
	m := &DatabaseManager{
		basePath:  basePath,
		databases: NonLockingReadMap.New[Database, string](),
		log:       logger,
	}
	entries, err := os.ReadDir(basePath)
	if err != nil {
		return nil, &storage.GraphError{Kind: storage.ErrIo, Msg: "base dir scan", Err: err}
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), ".rfdb") {
			name := strings.TrimSuffix(e.Name(), ".rfdb")
			m.databases.Set(&Database{Name: name, state: &dbState{}})
			m.log.Infow("discovered database", "name", name)
		}
	}
	return m, nil
}

// Watch follows the base directory so databases created or removed by
// external tooling appear without a restart.
func (m *DatabaseManager) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return &storage.GraphError{Kind: storage.ErrIo, Msg: "watcher create", Err: err}
	}
	if err := watcher.Add(m.basePath); err != nil {
		watcher.Close()
		return &storage.GraphError{Kind: storage.ErrIo, Msg: "watcher add", Err: err}
	}
	m.watcher = watcher
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, ".rfdb") {
					continue
				}
				name := strings.TrimSuffix(filepath.Base(event.Name), ".rfdb")
				switch {
				case event.Op.Has(fsnotify.Create):
					if m.databases.Get(name) == nil {
						m.databases.Set(&Database{Name: name, state: &dbState{}})
						m.log.Infow("database appeared", "name", name)
					}
				case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
					if db := m.databases.Get(name); db != nil && !db.IsInUse() {
						m.databases.Remove(name)
						m.log.Infow("database disappeared", "name", name)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.log.Warnw("watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the watcher and flushes every open engine.
func (m *DatabaseManager) Close() {
	if m.watcher != nil {
		m.watcher.Close()
	}
	for _, db := range m.databases.GetAll() {
		if db.state.engine == nil || db.Ephemeral {
			continue
		}
		if err := db.Write(func(e *graph.Engine) error { return e.Flush() }); err != nil {
			m.log.Warnw("flush on close failed", "database", db.Name, "error", err)
		}
	}
}

func (m *DatabaseManager) dbPath(name string) string {
	return filepath.Join(m.basePath, name+".rfdb")
}

// CreateDatabase creates a named database, on disk or ephemeral.
func (m *DatabaseManager) CreateDatabase(name string, ephemeral bool) error {
	if !validDatabaseName.MatchString(name) {
		return &storage.GraphError{Kind: storage.ErrInvalidDatabaseName, Msg: "invalid database name: " + name}
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if m.databases.Get(name) != nil {
		return &storage.GraphError{Kind: storage.ErrDatabaseExists, Msg: "database already exists: " + name}
	}
	db := &Database{Name: name, Ephemeral: ephemeral, state: &dbState{}}
	if ephemeral {
		db.state.engine = graph.EphemeralEngine()
	} else {
		engine, err := graph.CreateEngine(m.dbPath(name))
		if err != nil {
			return err
		}
		engine.SetLogger(m.log)
		db.state.engine = engine
	}
	m.databases.Set(db)
	m.log.Infow("created database", "name", name, "ephemeral", ephemeral)
	return nil
}

// GetDatabase returns a registered database, opening its engine on
// first use.
func (m *DatabaseManager) GetDatabase(name string) (*Database, error) {
	db := m.databases.Get(name)
	if db == nil {
		return nil, &storage.GraphError{Kind: storage.ErrDatabaseNotFound, Msg: "database not found: " + name}
	}
	if db.state.engine == nil {
		m.writeMu.Lock()
		defer m.writeMu.Unlock()
		if db.state.engine == nil {
			engine, err := graph.OpenEngine(m.dbPath(name))
			if err != nil {
				return nil, err
			}
			engine.SetLogger(m.log)
			db.state.engine = engine
		}
	}
	return db, nil
}

// DatabaseExists reports whether the name is registered.
func (m *DatabaseManager) DatabaseExists(name string) bool {
	return m.databases.Get(name) != nil
}

// DropDatabase unregisters a database and deletes its files. Fails
// while sessions are attached.
func (m *DatabaseManager) DropDatabase(name string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	db := m.databases.Get(name)
	if db == nil {
		return &storage.GraphError{Kind: storage.ErrDatabaseNotFound, Msg: "database not found: " + name}
	}
	if db.IsInUse() {
		return &storage.GraphError{Kind: storage.ErrDatabaseInUse, Msg: "database is in use: " + name}
	}
	m.databases.Remove(name)
	if !db.Ephemeral {
		if err := os.RemoveAll(m.dbPath(name)); err != nil {
			return &storage.GraphError{Kind: storage.ErrIo, Msg: "database remove", Err: err}
		}
	}
	m.log.Infow("dropped database", "name", name)
	return nil
}

// ListDatabases returns the registry listing with live counts for
// open engines.
func (m *DatabaseManager) ListDatabases() []DatabaseInfo {
	var out []DatabaseInfo
	for _, db := range m.databases.GetAll() {
		info := DatabaseInfo{
			Name:        db.Name,
			Ephemeral:   db.Ephemeral,
			Connections: db.ConnectionCount(),
		}
		if db.state.engine != nil {
			_ = db.Read(func(e *graph.Engine) error {
				info.NodeCount = e.NodeCount()
				info.EdgeCount = e.EdgeCount()
				return nil
			})
		}
		out = append(out, info)
	}
	return out
}

// CleanupEphemeralIfUnused drops an ephemeral database nobody uses.
func (m *DatabaseManager) CleanupEphemeralIfUnused(name string) {
	db := m.databases.Get(name)
	if db != nil && db.Ephemeral && !db.IsInUse() {
		m.writeMu.Lock()
		m.databases.Remove(name)
		m.writeMu.Unlock()
		m.log.Infow("cleaned up ephemeral database", "name", name)
	}
}
