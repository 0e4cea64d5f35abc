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
	"os"
	"path/filepath"
	"testing"

	"github.com/dunn0052/kdb/key"
)

const bassSchema = `
1 BASS 10
1 F1 C 4
2 F2 C 4
3 F3 C 4
4 F4 C 4
0
`

func writeBass(t *testing.T, install string) {
	t.Helper()
	skmDir := filepath.Join(install, "db", "skm")
	if err := os.MkdirAll(skmDir, 0o777); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(skmDir, "BASS.skm"), []byte(bassSchema), 0o666); err != nil {
		t.Fatal(err)
	}
}

// TestSchemaRoundTrip is scenario S1 from the specification.
func TestSchemaRoundTrip(t *testing.T) {
	install := t.TempDir()
	writeBass(t, install)

	c := NewCompiler(install)
	results, err := c.Compile()
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("unexpected results: %+v", results)
	}

	info, err := os.Stat(filepath.Join(install, "db", "db", "BASS.db"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 160 {
		t.Fatalf("BASS.db size = %d, want 160", info.Size())
	}

	reg, err := LoadRegistry(c.ManifestPath)
	if err != nil {
		t.Fatal(err)
	}
	obj, ok := reg.Lookup(key.Object("bass"))
	if !ok {
		t.Fatal("BASS not found in registry")
	}
	if obj.RecordSize != 16 {
		t.Fatalf("record size = %d, want 16", obj.RecordSize)
	}
	if len(obj.Fields) != 4 {
		t.Fatalf("field count = %d, want 4", len(obj.Fields))
	}
	wantOffsets := []int{0, 4, 8, 12}
	for i, f := range obj.Fields {
		if f.Size != 4 {
			t.Errorf("field %d size = %d, want 4", i, f.Size)
		}
		if f.Offset != wantOffsets[i] {
			t.Errorf("field %d offset = %d, want %d", i, f.Offset, wantOffsets[i])
		}
	}
}

func TestCompileSkipsMalformedSchemaButContinues(t *testing.T) {
	install := t.TempDir()
	writeBass(t, install)
	skmDir := filepath.Join(install, "db", "skm")
	if err := os.WriteFile(filepath.Join(skmDir, "BROKEN.skm"), []byte("not a valid header at all\n"), 0o666); err != nil {
		t.Fatal(err)
	}

	c := NewCompiler(install)
	results, err := c.Compile()
	if err != nil {
		t.Fatal(err)
	}
	var ok, failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		} else {
			ok++
		}
	}
	if ok != 1 || failed != 1 {
		t.Fatalf("expected 1 ok + 1 failed, got ok=%d failed=%d (%+v)", ok, failed, results)
	}
}

func TestPaddingHintOnMisalignedRecord(t *testing.T) {
	install := t.TempDir()
	skmDir := filepath.Join(install, "db", "skm")
	if err := os.MkdirAll(skmDir, 0o777); err != nil {
		t.Fatal(err)
	}
	odd := "1 ODD 1\n1 F1 C 3\n0\n"
	if err := os.WriteFile(filepath.Join(skmDir, "ODD.skm"), []byte(odd), 0o666); err != nil {
		t.Fatal(err)
	}
	c := NewCompiler(install)
	results, err := c.Compile()
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("odd-size object should still be registered: %+v", results)
	}
	if results[0].Object.RecordSize%4 == 0 {
		t.Fatal("expected a non-multiple-of-4 record size for this fixture")
	}
}
