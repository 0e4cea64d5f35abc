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

// Command talker is a minimal acceptor that listens on a port for a
// fixed amount of time, useful for exercising a peer's Connect path
// without running the full update daemon.
package main

import (
	"flag"
	"log"
	"net"
	"os"
	"time"

	"github.com/dunn0052/kdb/accept"
)

func main() {
	cmd := flag.NewFlagSet("talker", flag.ExitOnError)
	port := cmd.String("p", "", "port to listen on (required)")
	wait := cmd.Int("w", 10, "seconds to accept connections before exiting")
	if err := cmd.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	logger := log.New(os.Stderr, "talker: ", log.LstdFlags)
	if *port == "" {
		logger.Fatal("-p port is required")
	}

	l, err := net.Listen("tcp", net.JoinHostPort("", *port))
	if err != nil {
		logger.Fatalf("binding port %s: %v", *port, err)
	}
	a := accept.New(l, accept.WithLogger(logger))
	logger.Printf("accepting on %s", l.Addr())

	go a.Serve()
	time.Sleep(time.Duration(*wait) * time.Second)
	a.Stop()
}
