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

// Command listener is an interactive acceptor: it prints every
// connection event it observes and lets an operator type either plain
// text or an OFRI, each broadcast as a TEXT frame to every connected peer.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/dunn0052/kdb/accept"
	"github.com/dunn0052/kdb/taskq"
	"github.com/dunn0052/kdb/wire"
)

func main() {
	cmd := flag.NewFlagSet("listener", flag.ExitOnError)
	connectAddress := cmd.String("c", "", "connection address for the other end")
	connectPort := cmd.String("p", "", "connection port for the other end")
	listenPort := cmd.String("l", "", "listening port (required)")
	if err := cmd.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	logger := log.New(os.Stderr, "listener: ", log.LstdFlags)
	if *listenPort == "" {
		logger.Fatal("-l listening port is required")
	}

	l, err := net.Listen("tcp", net.JoinHostPort("", *listenPort))
	if err != nil {
		logger.Fatalf("listening on port %s: %v", *listenPort, err)
	}
	a := accept.New(l, accept.WithLogger(logger))
	a.OnClientConnect(func(c accept.Connection) {
		logger.Printf("client %s:%s connected", c.Address, c.Port)
	})
	a.OnServerConnect(func(c accept.Connection) {
		logger.Printf("connected to %s:%s", c.Address, c.Port)
	})
	a.OnDisconnect(func(c accept.Connection) {
		logger.Printf("client %s:%s disconnected", c.Address, c.Port)
	})

	logger.Printf("listening for connections on %s", l.Addr())
	go a.Serve()

	if *connectAddress != "" && *connectPort != "" {
		if _, err := a.Connect(*connectAddress, *connectPort); err != nil {
			logger.Printf("could not connect to %s:%s: %v", *connectAddress, *connectPort, err)
		}
	}

	outgoing := taskq.NewQueue[[]byte]()
	go readStdin(logger, outgoing)

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for {
			buf, ok := outgoing.Pop()
			if !ok {
				return
			}
			a.SendAll(buf)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc

	outgoing.Done()
	<-drained
	a.Stop()
	logger.Print("done listening")
}

// readStdin turns operator input into outgoing frames: a line starting
// with "ofri" prompts for an object/field/record/index quadruple and
// emits a TEXT frame carrying it (the daemon is what actually
// interprets DB_WRITE requests; this tool only relays raw input), any
// other line is sent as a TEXT frame verbatim.
func readStdin(logger *log.Logger, outgoing *taskq.Queue[[]byte]) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "ofri") {
			fmt.Println("enter ofri: object record field index")
			if !scanner.Scan() {
				return
			}
			fields := strings.Fields(scanner.Text())
			if len(fields) != 4 {
				logger.Printf("failed to read ofri: %q", scanner.Text())
				continue
			}
			record, _ := strconv.Atoi(fields[1])
			field, _ := strconv.Atoi(fields[2])
			index, _ := strconv.Atoi(fields[3])
			payload := []byte(fmt.Sprintf("%s.%d.%d.%d", fields[0], field, record, index))
			outgoing.Push(wire.Encode(wire.Frame{Header: wire.Header{Type: wire.Text}, Payload: payload}))
			continue
		}
		outgoing.Push(wire.Encode(wire.Frame{Header: wire.Header{Type: wire.Text}, Payload: []byte(line + "\x00")}))
	}
}
