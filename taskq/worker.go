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

// Package taskq is the concurrency fabric shared by the update daemon
// and (eventually) the trace profiler: a stoppable daemon-thread
// primitive, an MPMC blocking queue, and a work-stealing pool built on
// top of both.
package taskq

import "sync/atomic"

// StoppableWorker runs a single long-lived goroutine and exposes a
// one-shot, idempotent stop signal the goroutine body can poll. It is
// the Go rendering of the original DaemonThread/StoppableTask template:
// the promise/future stop flag becomes an atomic.Bool, and the
// overridable execute(args) hook becomes a closure passed to Start.
type StoppableWorker struct {
	stopped atomic.Bool
	done    chan struct{}
}

// Start launches body on a new goroutine. body should poll
// StopRequested periodically and return once it observes true.
// Start must only be called once per StoppableWorker.
func (w *StoppableWorker) Start(body func(stopRequested func() bool)) {
	w.done = make(chan struct{})
	go func() {
		defer close(w.done)
		body(w.StopRequested)
	}()
}

// StopRequested reports whether Stop has been called.
func (w *StoppableWorker) StopRequested() bool {
	return w.stopped.Load()
}

// Stop raises the stop signal and blocks until the worker goroutine
// returns. It is idempotent: calling it more than once, or before
// Start, is a no-op.
func (w *StoppableWorker) Stop() {
	if !w.stopped.CompareAndSwap(false, true) {
		return
	}
	if w.done != nil {
		<-w.done
	}
}
