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

package store

import (
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/dunn0052/kdb/key"
	"github.com/dunn0052/kdb/schema"
)

func bassRegistry(t *testing.T, install string) (*schema.Registry, string) {
	t.Helper()
	writeBassSchema(t, install)
	c := schema.NewCompiler(install)
	if _, err := c.Compile(); err != nil {
		t.Fatal(err)
	}
	reg, err := schema.LoadRegistry(c.ManifestPath)
	if err != nil {
		t.Fatal(err)
	}
	return reg, c.DBDir
}

func writeBassSchema(t *testing.T, install string) {
	t.Helper()
	skmDir := filepath.Join(install, "db", "skm")
	if err := os.MkdirAll(skmDir, 0o777); err != nil {
		t.Fatal(err)
	}
	const bass = "1 BASS 10\n1 F1 C 4\n2 F2 C 4\n3 F3 C 4\n4 F4 C 4\n0\n"
	if err := os.WriteFile(filepath.Join(skmDir, "BASS.skm"), []byte(bass), 0o666); err != nil {
		t.Fatal(err)
	}
}

// TestAddressing is scenario S2.
func TestAddressing(t *testing.T) {
	install := t.TempDir()
	reg, dbDir := bassRegistry(t, install)
	h, err := Open(reg, dbDir, key.Object("BASS"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	base := uintptr(unsafe.Pointer(&h.mem[0]))
	got := h.Get(key.OFRI{Object: "BASS", Field: 2, Record: 5, Index: 1})
	if got == nil {
		t.Fatal("expected non-nil slice")
	}
	wantOffset := 5*16 + 8 + 1
	gotOffset := int(uintptr(unsafe.Pointer(&got[0])) - base)
	if gotOffset != wantOffset {
		t.Fatalf("byte offset = %d, want %d", gotOffset, wantOffset)
	}
}

// TestWriteReadRoundTrip is scenario S3.
func TestWriteReadRoundTrip(t *testing.T) {
	install := t.TempDir()
	reg, dbDir := bassRegistry(t, install)
	h, err := Open(reg, dbDir, key.Object("BASS"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	k := key.OFRI{Object: "BASS", Field: 0, Record: 0, Index: 0}
	if err := h.WriteValue(k, "A"); err != nil {
		t.Fatal(err)
	}
	got, err := h.ReadValue(k)
	if err != nil {
		t.Fatal(err)
	}
	if got != "A" {
		t.Fatalf("got %q, want %q", got, "A")
	}
}

// TestOversizeWrite is scenario S4.
func TestOversizeWrite(t *testing.T) {
	install := t.TempDir()
	reg, dbDir := bassRegistry(t, install)
	h, err := Open(reg, dbDir, key.Object("BASS"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	k := key.OFRI{Object: "BASS", Field: 0, Record: 0, Index: 0}
	if err := h.WriteValue(k, "A"); err != nil {
		t.Fatal(err)
	}
	if err := h.WriteValue(k, "ABCDE"); err == nil {
		t.Fatal("expected BAD_ARG for oversize write")
	}
	got, err := h.ReadValue(k)
	if err != nil {
		t.Fatal(err)
	}
	if got != "A" {
		t.Fatalf("bytes should be unchanged after rejected write, got %q", got)
	}
}

func TestGetOutOfRangeReturnsNil(t *testing.T) {
	install := t.TempDir()
	reg, dbDir := bassRegistry(t, install)
	h, err := Open(reg, dbDir, key.Object("BASS"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	if got := h.Get(key.OFRI{Object: "BASS", Field: 0, Record: 10, Index: 0}); got != nil {
		t.Fatal("expected nil for out-of-range record")
	}
	if got := h.Get(key.OFRI{Object: "BASS", Field: 0, Record: 0, Index: 4}); got != nil {
		t.Fatal("expected nil for out-of-range index")
	}
}

func TestCloseOnUnopenedHandleIsNoop(t *testing.T) {
	var h Handle
	if err := h.Close(); err != nil {
		t.Fatalf("Close on never-opened handle should be a no-op, got %v", err)
	}
}

func TestNumericRoundTrip(t *testing.T) {
	install := t.TempDir()
	skmDir := filepath.Join(install, "db", "skm")
	if err := os.MkdirAll(skmDir, 0o777); err != nil {
		t.Fatal(err)
	}
	const nums = "2 NUMS 1\n1 N1 N 1\n2 U1 U 1\n3 B1 B 1\n0\n"
	if err := os.WriteFile(filepath.Join(skmDir, "NUMS.skm"), []byte(nums), 0o666); err != nil {
		t.Fatal(err)
	}
	c := schema.NewCompiler(install)
	if _, err := c.Compile(); err != nil {
		t.Fatal(err)
	}
	reg, err := schema.LoadRegistry(c.ManifestPath)
	if err != nil {
		t.Fatal(err)
	}
	h, err := Open(reg, c.DBDir, key.Object("NUMS"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	cases := []struct {
		field key.Field
		value string
	}{
		{0, "-42"},
		{1, "42"},
		{2, "0"},
	}
	for _, c := range cases {
		k := key.OFRI{Object: "NUMS", Field: c.field, Record: 0, Index: 0}
		if err := h.WriteValue(k, c.value); err != nil {
			t.Fatalf("write %v: %v", c, err)
		}
		got, err := h.ReadValue(k)
		if err != nil {
			t.Fatalf("read %v: %v", c, err)
		}
		if got != c.value {
			t.Fatalf("field %d: got %q, want %q", c.field, got, c.value)
		}
	}
}
