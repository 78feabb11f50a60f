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

// rfdb — embedded graph storage for code intelligence workloads.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dc0d/onexit"
	"go.uber.org/zap"

	"github.com/launix-de/rfdb/server"
	"github.com/launix-de/rfdb/storage"
)

func main() {
	fmt.Print(`rfdb Copyright (C) 2024   Carl-Philip Hänsch
    This program comes with ABSOLUTELY NO WARRANTY;
    This is free software, and you are welcome to redistribute it
    under certain conditions;
`)

	dataDir := flag.String("data", "data", "base directory for databases")
	port := flag.String("port", "4457", "wire protocol port (empty = no server)")
	settingsFile := flag.String("settings", "", "settings JSON file")
	shell := flag.Bool("shell", true, "run the interactive shell")
	flag.Parse()

	zlog, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init failed:", err)
		os.Exit(1)
	}
	logger := zlog.Sugar()

	if *settingsFile != "" {
		if err := storage.LoadSettingsFile(*settingsFile); err != nil {
			logger.Fatalw("settings load failed", "file", *settingsFile, "error", err)
		}
	}
	storage.InitSettings(logger)

	manager, err := server.NewDatabaseManager(*dataDir, logger)
	if err != nil {
		logger.Fatalw("database manager init failed", "error", err)
	}
	onexit.Register(manager.Close)
	if err := manager.Watch(); err != nil {
		logger.Warnw("directory watch unavailable", "error", err)
	}

	server.InitMetricsSampler()

	if *port != "" {
		srv := server.NewServer(manager, logger)
		go func() {
			logger.Infow("wire protocol listening", "port", *port)
			if err := srv.ListenAndServe(*port); err != nil {
				logger.Errorw("server stopped", "error", err)
			}
		}()
	}

	if *shell {
		Repl(manager, logger)
	} else {
		select {}
	}
}
