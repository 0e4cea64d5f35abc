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

package schema

import (
	"path/filepath"
	"testing"

	"github.com/dunn0052/kdb/key"
)

func TestManifestRoundTrip(t *testing.T) {
	reg := &Registry{byName: make(map[string]*Object)}
	reg.put(&Object{
		Ordinal:     1,
		Name:        key.Object("BASS"),
		RecordCount: 10,
		RecordSize:  16,
		Fields: []Field{
			{Name: "F1", Type: TypeChar, Count: 4, Size: 4, Offset: 0},
			{Name: "F2", Type: TypeChar, Count: 4, Size: 4, Offset: 4},
		},
	})

	path := filepath.Join(t.TempDir(), ManifestName)
	if err := reg.SaveManifest(path); err != nil {
		t.Fatal(err)
	}
	got, err := LoadRegistry(path)
	if err != nil {
		t.Fatal(err)
	}
	obj, ok := got.Lookup(key.Object("BASS"))
	if !ok {
		t.Fatal("BASS missing after round trip")
	}
	if obj.RecordCount != 10 || obj.RecordSize != 16 || len(obj.Fields) != 2 {
		t.Fatalf("unexpected round-tripped object: %+v", obj)
	}
}

func TestAtomicRegistrySwap(t *testing.T) {
	reg := &Registry{byName: make(map[string]*Object)}
	a := NewAtomicRegistry(reg)
	if a.Load() != reg {
		t.Fatal("expected initial registry to be loaded")
	}

	reg2 := &Registry{byName: make(map[string]*Object)}
	prev := a.Swap(reg2)
	if prev != reg {
		t.Fatal("Swap should return previous registry")
	}
	if a.Load() != reg2 {
		t.Fatal("expected swapped registry to be active")
	}
}
