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

package key

import "testing"

func TestObjectCaseInsensitiveEquality(t *testing.T) {
	a := Object("bass")
	b := Object("BASS")
	if !a.Equal(b) {
		t.Fatalf("expected %q to equal %q", a, b)
	}
}

func TestObjectPadRoundTrip(t *testing.T) {
	o := Object("bass")
	padded, err := o.Pad()
	if err != nil {
		t.Fatal(err)
	}
	if len(padded) != NameSize {
		t.Fatalf("expected %d bytes, got %d", NameSize, len(padded))
	}
	got := ParseObject(padded)
	if got != Object("BASS") {
		t.Fatalf("round trip: got %q, want BASS", got)
	}
}

func TestObjectPadTooLong(t *testing.T) {
	o := Object("this-name-is-absolutely-too-long-for-the-field")
	if _, err := o.Pad(); err == nil {
		t.Fatal("expected error for oversize object name")
	}
}

func TestOFRIString(t *testing.T) {
	k := OFRI{Object: "BASS", Field: 2, Record: 5, Index: 1}
	want := "BASS.2.5.1"
	if got := k.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
