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
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/launix-de/rfdb/graph"
	"github.com/launix-de/rfdb/server"
	"github.com/launix-de/rfdb/storage"
)

const newprompt = "\033[32mrfdb>\033[0m "
const resultprompt = "\033[31m=\033[0m "

var replCompleter = readline.NewPrefixCompleter(
	readline.PcItem("use"),
	readline.PcItem("create"),
	readline.PcItem("drop"),
	readline.PcItem("dbs"),
	readline.PcItem("stats"),
	readline.PcItem("count"),
	readline.PcItem("find"),
	readline.PcItem("get"),
	readline.PcItem("bfs"),
	readline.PcItem("datalog"),
	readline.PcItem("flush"),
	readline.PcItem("compact"),
	readline.PcItem("dump"),
	readline.PcItem("import"),
	readline.PcItem("archive"),
	readline.PcItem("snapshots"),
	readline.PcItem("metrics"),
	readline.PcItem("help"),
	readline.PcItem("exit"),
)

// Repl runs the interactive shell against the local registry.
func Repl(manager *server.DatabaseManager, logger *zap.SugaredLogger) {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            newprompt,
		HistoryFile:       ".rfdb-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		AutoComplete:      replCompleter,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	srv := server.NewServer(manager, logger)
	session := server.NewClientSession()
	defer session.ClearDatabase()

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			panic(err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		// anti-panic func
		func() {
			defer func() {
				if r := recover(); r != nil {
					fmt.Println("panic:", r, string(debug.Stack()))
				}
			}()
			replCommand(srv, session, manager, line)
		}()
	}
}

func replCommand(srv *server.Server, session *server.ClientSession, manager *server.DatabaseManager, line string) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	execute := func(req *server.Request) {
		resp := srv.Execute(session, req)
		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Println(resultprompt + string(out))
	}

	switch cmd {
	case "help":
		fmt.Print(`commands:
  create <db> [ephemeral]    create a database
  drop <db>                  drop a database
  use <db> [read|write]      select a database
  dbs                        list databases
  stats                      per-shard stats of the current database
  count                      node/edge counts
  find <type>                node ids by type ("http:*" wildcards work)
  get <id-hex>               look up one node
  bfs <id-hex> <depth> [t..] breadth-first walk
  datalog <query>            evaluate a Datalog query
  flush | compact            persistence maintenance
  dump <file> | import <file> JSONL dump (.lz4/.xz by extension)
  archive <tag>              ship a snapshot dump to the configured archive
  snapshots                  list manifest versions
  metrics                    server counters
`)
	case "create":
		if len(args) < 1 {
			fmt.Println("usage: create <db> [ephemeral]")
			return
		}
		execute(&server.Request{Cmd: "create_database", Name: args[0],
			Ephemeral: len(args) > 1 && args[1] == "ephemeral"})
	case "drop":
		if len(args) < 1 {
			fmt.Println("usage: drop <db>")
			return
		}
		execute(&server.Request{Cmd: "drop_database", Name: args[0]})
	case "use":
		if len(args) < 1 {
			fmt.Println("usage: use <db> [read|write]")
			return
		}
		mode := "write"
		if len(args) > 1 {
			mode = args[1]
		}
		execute(&server.Request{Cmd: "use_database", Name: args[0], Mode: mode})
	case "dbs":
		execute(&server.Request{Cmd: "list_databases"})
	case "stats":
		execute(&server.Request{Cmd: "stats"})
		if session.HasDatabase() {
			db := session.Database()
			_ = db.Read(func(engine *graph.Engine) error {
				buffered := 0
				for _, s := range engine.ShardStats() {
					buffered += s.WriteBufferBytes
				}
				fmt.Printf("%sbuffered: %s across %d shards\n",
					resultprompt, storage.HumanSize(uint64(buffered)), len(engine.ShardStats()))
				return nil
			})
		}
	case "count":
		execute(&server.Request{Cmd: "node_count"})
		execute(&server.Request{Cmd: "edge_count"})
	case "find":
		if len(args) < 1 {
			fmt.Println("usage: find <type>")
			return
		}
		execute(&server.Request{Cmd: "find_by_type", NodeType: args[0]})
	case "get":
		if len(args) < 1 {
			fmt.Println("usage: get <id-hex>")
			return
		}
		execute(&server.Request{Cmd: "get_node", Id: args[0]})
	case "bfs":
		if len(args) < 2 {
			fmt.Println("usage: bfs <id-hex> <depth> [edge types...]")
			return
		}
		depth, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Println("bad depth:", args[1])
			return
		}
		execute(&server.Request{Cmd: "bfs", Start: []string{args[0]}, MaxDepth: depth, EdgeTypes: args[2:]})
	case "datalog":
		execute(&server.Request{Cmd: "datalog_query", Datalog: strings.TrimSpace(strings.TrimPrefix(line, "datalog"))})
	case "flush":
		execute(&server.Request{Cmd: "flush"})
	case "compact":
		execute(&server.Request{Cmd: "compact"})
	case "archive":
		if len(args) < 1 {
			fmt.Println("usage: archive <tag>")
			return
		}
		execute(&server.Request{Cmd: "archive_snapshot", Name: args[0]})
	case "snapshots":
		execute(&server.Request{Cmd: "list_snapshots"})
	case "metrics":
		execute(&server.Request{Cmd: "metrics"})
	case "dump":
		if len(args) < 1 || !session.HasDatabase() {
			fmt.Println("usage: dump <file> (with a database selected)")
			return
		}
		db := session.Database()
		err := db.Read(func(engine *graph.Engine) error {
			return engine.ExportDump(args[0])
		})
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Println(resultprompt + "dumped to " + args[0])
	case "import":
		if len(args) < 1 || !session.HasDatabase() {
			fmt.Println("usage: import <file> (with a database selected)")
			return
		}
		nodes, edges, err := storage.ImportDump(args[0])
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		db := session.Database()
		err = db.Write(func(engine *graph.Engine) error {
			delta, err := engine.CommitBatch(nodes, edges, nil, nil)
			if err != nil {
				return err
			}
			fmt.Printf("%simported %d nodes, %d edges (version %d)\n",
				resultprompt, len(nodes), len(edges), delta.ManifestVersion)
			return nil
		})
		if err != nil {
			fmt.Println("error:", err)
		}
	default:
		fmt.Println("unknown command, try help")
	}
}
