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

// Package accept implements the non-blocking listen/accept loop shared
// by every kdb daemon: a single listening socket polled on a timeout,
// an outgoing Connect, and a set of multicast connection-lifecycle
// events (spec §4.5).
package accept

import (
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dunn0052/kdb/taskq"
)

// defaultPollInterval bounds how long Accept blocks before the loop
// rechecks stop_requested, standing in for the original's non-blocking
// socket plus fixed sleep.
const defaultPollInterval = 200 * time.Millisecond

// Connection is one live TCP peer, identified by an opaque token so
// callers (the update daemon's subscription table) don't need to key
// on the net.Conn itself.
type Connection struct {
	Token   uuid.UUID
	Conn    net.Conn
	Address string
	Port    string
}

func newConnection(c net.Conn) Connection {
	host, port := splitHostPort(c.RemoteAddr().String())
	return Connection{
		Token:   uuid.New(),
		Conn:    c,
		Address: host,
		Port:    port,
	}
}

func splitHostPort(addr string) (host, port string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, ""
	}
	return host, port
}

// Hook is a connection-lifecycle callback. Hooks are invoked in
// registration order on the acceptor's own goroutine; a panicking hook
// is recovered and logged so it cannot bring down the accept loop.
type Hook func(Connection)

// Acceptor runs the accept loop for one listening socket and tracks
// every connection it has produced, either by accepting or by Connect.
type Acceptor struct {
	listener net.Listener
	worker   taskq.StoppableWorker
	Logger   *log.Logger

	pollInterval time.Duration

	mu    sync.Mutex
	conns map[uuid.UUID]Connection

	onClientConnect []Hook
	onServerConnect []Hook
	onDisconnect    []Hook
}

// Option configures an Acceptor.
type Option func(*Acceptor)

// WithLogger sets the logger used for accept-loop diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(a *Acceptor) { a.Logger = l }
}

// WithPollInterval overrides how often the accept loop rechecks
// stop_requested between accept attempts.
func WithPollInterval(d time.Duration) Option {
	return func(a *Acceptor) { a.pollInterval = d }
}

// New wraps an already-bound listener. Callers typically construct l
// with net.Listen("tcp", address+":"+port).
func New(l net.Listener, opts ...Option) *Acceptor {
	a := &Acceptor{
		listener:     l,
		Logger:       log.New(os.Stderr, "", log.LstdFlags),
		pollInterval: defaultPollInterval,
		conns:        make(map[uuid.UUID]Connection),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OnClientConnect registers a hook fired after a successful Accept.
func (a *Acceptor) OnClientConnect(h Hook) { a.onClientConnect = append(a.onClientConnect, h) }

// OnServerConnect registers a hook fired after a successful Connect.
func (a *Acceptor) OnServerConnect(h Hook) { a.onServerConnect = append(a.onServerConnect, h) }

// OnDisconnect registers a hook fired when a tracked connection is
// removed, either because a SendAll write to it failed or because a
// caller reported its end via NotifyDisconnect. The accept loop itself
// never fires it.
func (a *Acceptor) OnDisconnect(h Hook) { a.onDisconnect = append(a.onDisconnect, h) }

func (a *Acceptor) fire(hooks []Hook, c Connection) {
	for _, h := range hooks {
		a.invoke(h, c)
	}
}

func (a *Acceptor) invoke(h Hook, c Connection) {
	defer func() {
		if r := recover(); r != nil {
			a.Logger.Printf("accept: hook panicked: %v", r)
		}
	}()
	h(c)
}

// Serve runs the accept loop until Stop is called. It only returns
// early on a non-timeout error from the listener.
func (a *Acceptor) Serve() error {
	done := make(chan struct{})
	var err error
	a.worker.Start(func(stopRequested func() bool) {
		for !stopRequested() {
			if tl, ok := a.listener.(interface {
				SetDeadline(time.Time) error
			}); ok {
				tl.SetDeadline(time.Now().Add(a.pollInterval))
			}
			conn, acceptErr := a.listener.Accept()
			if acceptErr != nil {
				if ne, ok := acceptErr.(net.Error); ok && ne.Timeout() {
					continue
				}
				if stopRequested() {
					break
				}
				err = acceptErr
				break
			}
			c := newConnection(conn)
			a.mu.Lock()
			a.conns[c.Token] = c
			a.mu.Unlock()
			a.fire(a.onClientConnect, c)
		}
		close(done)
	})
	<-done
	return err
}

// Connect opens an outgoing connection to addr:port and emits
// on_server_connect.
func (a *Acceptor) Connect(addr, port string) (Connection, error) {
	conn, err := net.Dial("tcp", net.JoinHostPort(addr, port))
	if err != nil {
		return Connection{}, err
	}
	c := newConnection(conn)
	a.mu.Lock()
	a.conns[c.Token] = c
	a.mu.Unlock()
	a.fire(a.onServerConnect, c)
	return c, nil
}

// NotifyDisconnect reports that token's connection has ended (a read
// returned EOF or an error). It removes the connection from the
// tracked set and emits on_disconnect exactly once.
func (a *Acceptor) NotifyDisconnect(token uuid.UUID) {
	a.mu.Lock()
	c, ok := a.conns[token]
	if ok {
		delete(a.conns, token)
	}
	a.mu.Unlock()
	if ok {
		a.fire(a.onDisconnect, c)
	}
}

// SendAll writes pkg to every currently tracked connection, retrying
// short writes. A write error is treated as a disconnect.
func (a *Acceptor) SendAll(pkg []byte) {
	a.mu.Lock()
	peers := make([]Connection, 0, len(a.conns))
	for _, c := range a.conns {
		peers = append(peers, c)
	}
	a.mu.Unlock()

	for _, c := range peers {
		if err := writeAll(c.Conn, pkg); err != nil {
			a.NotifyDisconnect(c.Token)
		}
	}
}

func writeAll(c net.Conn, buf []byte) error {
	for len(buf) > 0 {
		n, err := c.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// Connections returns a snapshot of every currently tracked connection.
func (a *Acceptor) Connections() []Connection {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Connection, 0, len(a.conns))
	for _, c := range a.conns {
		out = append(out, c)
	}
	return out
}

// Stop halts the accept loop and closes the listening socket. Already
// accepted connections are left open; callers are responsible for
// closing them.
func (a *Acceptor) Stop() {
	a.worker.Stop()
	a.listener.Close()
}
