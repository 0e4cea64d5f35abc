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

// Package daemon implements the update daemon (spec §4.6): it accepts
// connections via package accept, deframes requests via package wire,
// and dispatches DB_READ/DB_WRITE against package store, fanning writes
// out to subscribers.
package daemon

import (
	"io"
	"log"
	"net"
	"os"
	"sync"

	"github.com/dchest/siphash"
	"github.com/google/uuid"

	"github.com/dunn0052/kdb/accept"
	"github.com/dunn0052/kdb/errcode"
	"github.com/dunn0052/kdb/key"
	"github.com/dunn0052/kdb/schema"
	"github.com/dunn0052/kdb/store"
	"github.com/dunn0052/kdb/taskq"
	"github.com/dunn0052/kdb/wire"
)

// packet bundles a decoded frame with the connection it arrived on;
// it is the element type of the daemon's incoming dispatch pool.
// Replies and notifications are not queued: they are written straight
// to the peer's connection by the worker handling the packet.
type packet struct {
	conn  accept.Connection
	frame wire.Frame
}

// subscription keys the subscription table by the exact field/record/
// index being watched, scoped to one object's ordinal.
type subscription struct {
	objectNumber uint32
	field        key.Field
	record       key.Record
	index        key.Index
}

// Daemon is the long-lived update daemon coordinator. It owns the
// monitored-objects map and the subscription table, both guarded by mu.
// There is no separate coordinator goroutine: the acceptor's hooks and
// the pool's workers read and modify these maps directly under mu.
type Daemon struct {
	reg    *schema.AtomicRegistry
	dbDir  string
	logger *log.Logger

	acceptor *accept.Acceptor
	pool     *taskq.Pool[packet]

	mu        sync.Mutex
	monitored map[string]*store.Handle // keyed by canonical object name
	subs      map[subscription][]accept.Connection

	connsMu sync.Mutex
	conns   map[uuid.UUID]net.Conn
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithLogger overrides the daemon's diagnostic logger.
func WithLogger(l *log.Logger) Option {
	return func(d *Daemon) { d.logger = l }
}

// New builds a Daemon that serves objects out of dbDir using reg for
// schema lookups, listening on l with workers dispatch parallelism.
func New(l net.Listener, reg *schema.AtomicRegistry, dbDir string, workers int, opts ...Option) *Daemon {
	d := &Daemon{
		reg:       reg,
		dbDir:     dbDir,
		logger:    log.New(os.Stderr, "", log.LstdFlags),
		monitored: make(map[string]*store.Handle),
		subs:      make(map[subscription][]accept.Connection),
		conns:     make(map[uuid.UUID]net.Conn),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.acceptor = accept.New(l, accept.WithLogger(d.logger))
	d.acceptor.OnClientConnect(d.onConnect)
	d.acceptor.OnDisconnect(d.onDisconnect)
	d.pool = taskq.NewPool(workers, d.handle)
	return d
}

// Serve runs the accept loop until Stop is called.
func (d *Daemon) Serve() error {
	return d.acceptor.Serve()
}

// Stop halts the accept loop and the dispatch pool, then closes every
// monitored object's mapping.
func (d *Daemon) Stop() {
	d.acceptor.Stop()
	d.pool.Stop()

	d.mu.Lock()
	for _, h := range d.monitored {
		h.Close()
	}
	d.mu.Unlock()
}

// Stats is a point-in-time snapshot of daemon load.
type Stats struct {
	Connections       int
	MonitoredObjects  int
	SubscriptionCount int
	PendingDispatched int
}

// Stats returns the current connection, monitored-object, subscription,
// and queued-work counts.
func (d *Daemon) Stats() Stats {
	d.connsMu.Lock()
	conns := len(d.conns)
	d.connsMu.Unlock()

	d.mu.Lock()
	monitored := len(d.monitored)
	subs := 0
	for _, peers := range d.subs {
		subs += len(peers)
	}
	d.mu.Unlock()

	return Stats{
		Connections:       conns,
		MonitoredObjects:  monitored,
		SubscriptionCount: subs,
		PendingDispatched: d.pool.Len(),
	}
}

func (d *Daemon) onConnect(c accept.Connection) {
	d.connsMu.Lock()
	d.conns[c.Token] = c.Conn
	d.connsMu.Unlock()
	go d.readLoop(c)
}

func (d *Daemon) onDisconnect(c accept.Connection) {
	d.connsMu.Lock()
	delete(d.conns, c.Token)
	d.connsMu.Unlock()
	c.Conn.Close()

	d.mu.Lock()
	for k, peers := range d.subs {
		d.subs[k] = removeConn(peers, c.Token)
	}
	d.mu.Unlock()
}

func removeConn(peers []accept.Connection, token uuid.UUID) []accept.Connection {
	out := peers[:0]
	for _, p := range peers {
		if p.Token != token {
			out = append(out, p)
		}
	}
	return out
}

// readLoop pulls frames off c's connection until it closes or errors,
// submitting each to the dispatch pool keyed by peer so one peer's
// requests enter the same home queue in arrival order. Idle workers may
// steal from that queue, so one peer's requests are not guaranteed to
// be handled by the same worker.
func (d *Daemon) readLoop(c accept.Connection) {
	for {
		f, err := wire.ReadFrame(c.Conn)
		if err != nil {
			if err != io.EOF {
				d.logger.Printf("daemon: %s: %v", c.Address, err)
			}
			d.acceptor.NotifyDisconnect(c.Token)
			return
		}
		hash := siphash.Hash(0, 0, c.Token[:])
		d.pool.SubmitKeyed(hash, packet{conn: c, frame: f})
	}
}

// handle dispatches one packet by data_type, per spec §4.6.
func (d *Daemon) handle(p packet) {
	switch p.frame.Header.Type {
	case wire.DBRead:
		d.handleRead(p)
	case wire.DBWrite:
		d.handleWrite(p)
	default:
		d.logger.Printf("daemon: dropping %s frame from %s", p.frame.Header.Type, p.conn.Address)
	}
}

func (d *Daemon) handleRead(p packet) {
	k, err := wire.DecodeOFRI(p.frame.Payload)
	if err != nil {
		d.logger.Printf("daemon: bad DB_READ payload from %s: %v", p.conn.Address, err)
		return
	}
	obj, ok := d.reg.Load().LookupOrdinal(k.ObjectNumber)
	if !ok {
		d.logger.Printf("daemon: unknown object number %d", k.ObjectNumber)
		return
	}
	h, err := d.handleFor(obj.Name)
	if err != nil {
		d.logger.Printf("daemon: %v", err)
		return
	}
	ofri := key.OFRI{Object: obj.Name, Field: k.Field, Record: k.Record, Index: k.Index}
	value := h.Get(ofri)
	if value == nil {
		d.logger.Printf("daemon: %s out of range", ofri)
		return
	}

	if p.frame.Header.Address != "" {
		d.subscribe(k.ObjectNumber, k.Field, k.Record, k.Index, p.conn)
	}

	resp := wire.Frame{
		Header:  wire.Header{Address: p.conn.Address, Port: p.conn.Port, Type: wire.DBRead},
		Payload: append([]byte(nil), value...),
	}
	if err := wire.WriteFrame(p.conn.Conn, resp); err != nil {
		d.acceptor.NotifyDisconnect(p.conn.Token)
	}
}

func (d *Daemon) handleWrite(p packet) {
	k, value, err := wire.DecodeDBWrite(p.frame.Payload)
	if err != nil {
		d.logger.Printf("daemon: bad DB_WRITE payload from %s: %v", p.conn.Address, err)
		return
	}
	obj, ok := d.reg.Load().LookupOrdinal(k.ObjectNumber)
	if !ok {
		d.logger.Printf("daemon: unknown object number %d", k.ObjectNumber)
		return
	}
	h, err := d.handleFor(obj.Name)
	if err != nil {
		d.logger.Printf("daemon: %v", err)
		return
	}
	ofri := key.OFRI{Object: obj.Name, Field: k.Field, Record: k.Record, Index: k.Index}
	if err := h.WriteValue(ofri, string(value)); err != nil {
		d.logger.Printf("daemon: write %s: %v", ofri, err)
		return
	}
	d.notifySubscribers(k.ObjectNumber, k.Field, k.Record, k.Index, h)
}

// handleFor returns the monitored handle for name, lazily opening it
// if this is the first request to touch it.
func (d *Daemon) handleFor(name key.Object) (*store.Handle, error) {
	canon := name.Canonical()

	d.mu.Lock()
	defer d.mu.Unlock()
	if h, ok := d.monitored[canon]; ok {
		return h, nil
	}
	h, err := store.Open(d.reg.Load(), d.dbDir, name)
	if err != nil {
		return nil, errcode.New(errcode.NotFound, "opening %s: %v", name, err)
	}
	d.monitored[canon] = h
	return h, nil
}

func (d *Daemon) subscribe(objectNumber uint32, f key.Field, r key.Record, i key.Index, c accept.Connection) {
	subKey := subscription{objectNumber: objectNumber, field: f, record: r, index: i}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.subs[subKey] {
		if existing.Token == c.Token {
			return
		}
	}
	d.subs[subKey] = append(d.subs[subKey], c)
}

// notifySubscribers pushes a DB_READ-shaped notification carrying the
// newly written value to every subscriber of (objectNumber,f,r,i).
// Sends are best-effort: a failed send drops that subscription.
func (d *Daemon) notifySubscribers(objectNumber uint32, f key.Field, r key.Record, i key.Index, h *store.Handle) {
	subKey := subscription{objectNumber: objectNumber, field: f, record: r, index: i}

	d.mu.Lock()
	peers := append([]accept.Connection(nil), d.subs[subKey]...)
	d.mu.Unlock()
	if len(peers) == 0 {
		return
	}

	value := h.Get(key.OFRI{Object: h.Object().Name, Field: f, Record: r, Index: i})
	if value == nil {
		return
	}

	var failed []uuid.UUID
	for _, c := range peers {
		notice := wire.Frame{
			Header:  wire.Header{Address: c.Address, Port: c.Port, Type: wire.DBRead},
			Payload: append([]byte(nil), value...),
		}
		if err := wire.WriteFrame(c.Conn, notice); err != nil {
			failed = append(failed, c.Token)
		}
	}
	if len(failed) == 0 {
		return
	}
	d.mu.Lock()
	remaining := d.subs[subKey][:0]
	for _, c := range d.subs[subKey] {
		drop := false
		for _, t := range failed {
			if c.Token == t {
				drop = true
				break
			}
		}
		if !drop {
			remaining = append(remaining, c)
		}
	}
	d.subs[subKey] = remaining
	d.mu.Unlock()
}
