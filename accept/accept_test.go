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

package accept

import (
	"net"
	"sync"
	"testing"
	"time"
)

func listen(t *testing.T) net.Listener {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestOnClientConnectFires(t *testing.T) {
	l := listen(t)
	a := New(l, WithPollInterval(20*time.Millisecond))

	var mu sync.Mutex
	var got Connection
	connected := make(chan struct{})
	a.OnClientConnect(func(c Connection) {
		mu.Lock()
		got = c
		mu.Unlock()
		close(connected)
	})

	go a.Serve()
	defer a.Stop()

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for on_client_connect")
	}

	mu.Lock()
	defer mu.Unlock()
	if got.Token.String() == "" {
		t.Fatal("expected a non-empty token")
	}
}

func TestNotifyDisconnectFiresOnce(t *testing.T) {
	l := listen(t)
	a := New(l, WithPollInterval(20*time.Millisecond))

	var count int
	var mu sync.Mutex
	a.OnClientConnect(func(c Connection) {
		a.NotifyDisconnect(c.Token)
		a.NotifyDisconnect(c.Token) // should be a no-op the second time
	})
	a.OnDisconnect(func(c Connection) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	go a.Serve()
	defer a.Stop()

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("on_disconnect fired %d times, want 1", count)
	}
}

func TestHookPanicDoesNotAbortLoop(t *testing.T) {
	l := listen(t)
	a := New(l, WithPollInterval(20*time.Millisecond))

	var second bool
	var mu sync.Mutex
	done := make(chan struct{})
	a.OnClientConnect(func(c Connection) {
		panic("boom")
	})
	a.OnClientConnect(func(c Connection) {
		mu.Lock()
		second = true
		mu.Unlock()
		close(done)
	})

	go a.Serve()
	defer a.Stop()

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out: panicking hook should not prevent later hooks from running")
	}
	mu.Lock()
	defer mu.Unlock()
	if !second {
		t.Fatal("second hook did not run")
	}
}

func TestConnectEmitsOnServerConnect(t *testing.T) {
	l := listen(t)
	server := New(l, WithPollInterval(20*time.Millisecond))
	go server.Serve()
	defer server.Stop()

	clientListener := listen(t)
	defer clientListener.Close()
	client := New(clientListener)
	fired := make(chan struct{})
	client.OnServerConnect(func(c Connection) { close(fired) })

	host, port, _ := net.SplitHostPort(l.Addr().String())
	if _, err := client.Connect(host, port); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for on_server_connect")
	}
}
