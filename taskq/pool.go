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

package taskq

import (
	"runtime"
	"sync/atomic"
)

// candidateRounds is how many multiples of N candidate queues a
// producer probes with TryPush before falling back to a blocking push
// on its home queue (spec §4.3: "up to 3·N candidate queues").
const candidateRounds = 3

// Pool is a work-stealing pool of N queues, one per worker, where N
// defaults to the number of logical CPUs. Producers spread work across
// queues via a round-robin cursor; each worker prefers stealing from
// any queue before blocking on its own.
type Pool[T any] struct {
	queues  []*Queue[T]
	workers []StoppableWorker
	cursor  atomic.Uint64
}

// NewPool constructs a Pool with n queues/workers (n <= 0 defaults to
// runtime.NumCPU()) and starts n workers, each invoking handle for
// every task it pops.
func NewPool[T any](n int, handle func(T)) *Pool[T] {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	p := &Pool[T]{
		queues:  make([]*Queue[T], n),
		workers: make([]StoppableWorker, n),
	}
	for i := range p.queues {
		p.queues[i] = NewQueue[T]()
	}
	for i := range p.workers {
		i := i
		p.workers[i].Start(func(stopRequested func() bool) {
			p.runWorker(i, stopRequested, handle)
		})
	}
	return p
}

func (p *Pool[T]) runWorker(id int, stopRequested func() bool, handle func(T)) {
	n := len(p.queues)
	for !stopRequested() {
		if v, ok := p.steal(id); ok {
			handle(v)
			continue
		}
		// Nothing to steal; block on our own queue. If it returns
		// false, the queue has been marked Done and is drained, so
		// wait for Stop to land.
		if v, ok := p.queues[id%n].Pop(); ok {
			handle(v)
		}
	}
	// Drain whatever is left in our own queue before exiting.
	for {
		v, ok := p.queues[id].TryPop()
		if !ok {
			return
		}
		handle(v)
	}
}

// steal tries TryPop on every queue starting at this worker's own index.
func (p *Pool[T]) steal(id int) (v T, ok bool) {
	n := len(p.queues)
	for i := 0; i < n; i++ {
		if v, ok = p.queues[(id+i)%n].TryPop(); ok {
			return v, true
		}
	}
	return v, false
}

// Submit distributes v to the pool: it tries TryPush on up to
// 3·N candidate queues starting at the round-robin cursor, falling
// back to a blocking Push on the cursor's home queue (spec §4.3).
func (p *Pool[T]) Submit(v T) {
	n := len(p.queues)
	start := int(p.cursor.Add(1)) % n
	for i := 0; i < candidateRounds*n; i++ {
		if p.queues[(start+i)%n].TryPush(v) {
			return
		}
	}
	p.queues[start].Push(v)
}

// SubmitKeyed distributes v to the home queue selected by hash modulo
// the queue count, rather than round-robin, so that repeated
// submissions with the same hash enter the same queue in submission
// order (the update daemon passes a hash of the peer's connection
// token). Any worker may steal from that queue, so tasks with the same
// hash are not guaranteed to run on the same worker.
func (p *Pool[T]) SubmitKeyed(hash uint64, v T) {
	n := len(p.queues)
	home := int(hash % uint64(n))
	for i := 0; i < candidateRounds; i++ {
		if p.queues[(home+i)%n].TryPush(v) {
			return
		}
	}
	p.queues[home].Push(v)
}

// Stop marks every queue Done, then stops every worker; each worker
// drains its own queue after observing Stop before exiting (spec
// §4.3 shutdown order).
func (p *Pool[T]) Stop() {
	for _, q := range p.queues {
		q.Done()
	}
	for i := range p.workers {
		p.workers[i].Stop()
	}
}

// Len returns the number of tasks currently buffered across all of the
// pool's queues (submitted but not yet popped by a worker).
func (p *Pool[T]) Len() int {
	n := 0
	for _, q := range p.queues {
		n += q.Len()
	}
	return n
}
