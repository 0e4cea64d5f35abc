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

// Package schema holds the compiled, in-memory layout of kdb objects:
// field descriptors, object descriptors, and the process-wide registry
// that maps object names to them.
package schema

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/dunn0052/kdb/key"
)

// Type is a one-letter field type code, per the schema grammar.
type Type byte

const (
	TypeObject Type = 'O'
	TypeField  Type = 'F'
	TypeRecord Type = 'R'
	TypeIndex  Type = 'I'
	TypeChar   Type = 'C'
	TypeString Type = 'S'
	TypeInt    Type = 'N'
	TypeUint   Type = 'U'
	TypeBool   Type = 'B'
	TypeByte   Type = 'Y'
	TypePad    Type = 'X'
)

// ByteSize returns the element size in bytes for t, or 0 for an
// unrecognized type code.
func (t Type) ByteSize() int {
	switch t {
	case TypeObject:
		return key.NameSize
	case TypeField, TypeRecord, TypeIndex, TypeInt, TypeUint:
		return 4
	case TypeChar, TypeString, TypeBool, TypeByte, TypePad:
		return 1
	default:
		return 0
	}
}

func (t Type) Valid() bool {
	return t.ByteSize() != 0
}

// Field is the compiled descriptor of one field within an object record.
type Field struct {
	Ordinal int
	Name    string
	Type    Type
	// Count is the number of elements; >1 means the field is an array.
	Count int
	// Size is Count * Type.ByteSize().
	Size int
	// Offset is the byte offset of this field within its record.
	Offset int
}

// Object is the compiled descriptor of one object: its name, record
// count, fields in declaration order, and total record size.
type Object struct {
	Ordinal     int
	Name        key.Object
	RecordCount uint32
	Fields      []Field
	// RecordSize is the sum of all field sizes; must be a multiple of 4.
	RecordSize int
}

// FileSize returns the required backing-file length for o.
func (o *Object) FileSize() int64 {
	return int64(o.RecordCount) * int64(o.RecordSize)
}

// Field looks up a field by its ordinal number.
func (o *Object) Field(f key.Field) (*Field, bool) {
	idx := int(f)
	if idx < 0 || idx >= len(o.Fields) {
		return nil, false
	}
	return &o.Fields[idx], true
}

// SortFields normalizes the field list into offset order. The compiler
// and LoadRegistry both already assign offsets in field order, and
// neither calls SortFields; it is for descriptors assembled by hand.
func (o *Object) SortFields() {
	slices.SortFunc(o.Fields, func(a, b Field) bool {
		return a.Offset < b.Offset
	})
}

// Validate checks the invariants from spec §3.3: offsets are the
// running sum of prior sizes, and RecordSize is a multiple of 4.
func (o *Object) Validate() error {
	running := 0
	for i := range o.Fields {
		f := &o.Fields[i]
		if f.Offset != running {
			return fmt.Errorf("schema: object %s field %s: offset %d, want %d", o.Name, f.Name, f.Offset, running)
		}
		running += f.Size
	}
	if running != o.RecordSize {
		return fmt.Errorf("schema: object %s: record size %d does not match field sum %d", o.Name, o.RecordSize, running)
	}
	if o.RecordSize%4 != 0 {
		return fmt.Errorf("schema: object %s: record size %d is not a multiple of 4 (padding hint: add %d bytes of X)", o.Name, o.RecordSize, 4-o.RecordSize%4)
	}
	return nil
}
