// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Command kdbd is the update daemon: it binds a listening socket,
// accepts framed DB_READ/DB_WRITE requests, and fans write
// notifications out to subscribers (spec §4.6).
package main

import (
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dunn0052/kdb/daemon"
	"github.com/dunn0052/kdb/schema"
)

func main() {
	cmd := flag.NewFlagSet("kdbd", flag.ExitOnError)
	address := cmd.String("a", os.Getenv("KDB_INET_ADDRESS"), "address to bind (defaults to KDB_INET_ADDRESS)")
	port := cmd.String("p", os.Getenv("KDB_INET_PORT"), "port to bind (defaults to KDB_INET_PORT)")
	workers := cmd.Int("w", 0, "dispatch worker count (0 = number of CPUs)")
	if err := cmd.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	logger := log.New(os.Stderr, "kdbd: ", log.LstdFlags)

	installDir := os.Getenv("KDB_INSTALL_DIR")
	if installDir == "" {
		logger.Fatal("KDB_INSTALL_DIR is not set")
	}
	manifestPath := filepath.Join(installDir, "db", schema.ManifestName)
	reg, err := schema.LoadRegistry(manifestPath)
	if err != nil {
		logger.Fatalf("loading registry: %v", err)
	}
	atomicReg := schema.NewAtomicRegistry(reg)

	l, err := net.Listen("tcp", net.JoinHostPort(*address, *port))
	if err != nil {
		logger.Fatalf("binding %s:%s: %v", *address, *port, err)
	}
	logger.Printf("listening on %s", l.Addr())

	dbDir := filepath.Join(installDir, "db", "db")
	d := daemon.New(l, atomicReg, dbDir, *workers, daemon.WithLogger(logger))

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		logger.Print("shutting down")
		d.Stop()
	}()

	if err := d.Serve(); err != nil {
		logger.Fatalf("serve: %v", err)
	}
}
