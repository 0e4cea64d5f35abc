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

// Package key defines the primitive addressing types shared by every
// other kdb package: object names and the (object, field, record, index)
// quantum of data.
package key

import (
	"fmt"
	"strings"
)

// NameSize is the fixed, NUL-padded width of an on-disk object name.
const NameSize = 20

// Object is an ASCII object name, at most NameSize bytes, compared
// case-insensitively via its upper-case canonical form.
type Object string

// Canonical returns the upper-cased form of o used for registry lookups
// and on-disk comparisons.
func (o Object) Canonical() string {
	return strings.ToUpper(string(o))
}

// Equal reports whether o and other name the same object, ignoring case.
func (o Object) Equal(other Object) bool {
	return o.Canonical() == other.Canonical()
}

// Pad returns the NUL-padded NameSize-byte on-disk representation of o.
// It returns an error if the canonical name exceeds NameSize bytes.
func (o Object) Pad() ([NameSize]byte, error) {
	var out [NameSize]byte
	name := o.Canonical()
	if len(name) > NameSize {
		return out, fmt.Errorf("key: object name %q exceeds %d bytes", name, NameSize)
	}
	copy(out[:], name)
	return out, nil
}

// ParseObject reconstructs an Object from its NUL-padded on-disk form.
func ParseObject(padded [NameSize]byte) Object {
	n := 0
	for n < len(padded) && padded[n] != 0 {
		n++
	}
	return Object(padded[:n])
}

// Field, Record, and Index are the unsigned 32-bit components of an OFRI.
type (
	Field  uint32
	Record uint32
	Index  uint32
)

// OFRI is the smallest addressable quantum of data: one element of one
// field of one record of one object.
type OFRI struct {
	Object Object
	Field  Field
	Record Record
	Index  Index
}

// String renders an OFRI the way the original implementation logged one:
// OBJECT.FIELD.RECORD.INDEX.
func (k OFRI) String() string {
	return fmt.Sprintf("%s.%d.%d.%d", k.Object, k.Field, k.Record, k.Index)
}

// OR references a whole record of an object, with no field/index component.
type OR struct {
	Object Object
	Record Record
}

// String renders an OR as OBJECT.RECORD.
func (k OR) String() string {
	return fmt.Sprintf("%s.%d", k.Object, k.Record)
}
