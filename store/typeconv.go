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
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/dunn0052/kdb/errcode"
	"github.com/dunn0052/kdb/key"
	"github.com/dunn0052/kdb/schema"
)

// ReadValue performs a typed read at the element addressed by k,
// converting raw bytes to a string according to the field's type code
// (spec §4.2, §6.1). String-like types read up to the first NUL or the
// end of the field; numeric and bool types read the one element.
func (h *Handle) ReadValue(k key.OFRI) (string, error) {
	field, start, end, ok := h.resolve(k)
	if !ok {
		return "", nullObjErr(k)
	}
	raw := h.mem[start:end]

	switch field.Type {
	case schema.TypeObject, schema.TypeChar, schema.TypeString, schema.TypeByte:
		return string(bytesUntilNUL(raw)), nil
	case schema.TypeInt:
		return strconv.FormatInt(int64(int32(binary.LittleEndian.Uint32(raw))), 10), nil
	case schema.TypeField, schema.TypeRecord, schema.TypeIndex, schema.TypeUint:
		return strconv.FormatUint(uint64(binary.LittleEndian.Uint32(raw)), 10), nil
	case schema.TypeBool:
		if raw[0] != 0 {
			return "1", nil
		}
		return "0", nil
	default:
		return "", errcode.New(errcode.BadArg, "unknown type code %q on field %s", field.Type, field.Name)
	}
}

// WriteValue performs a typed write of value at the element addressed
// by k. A string-like value may fill the field from element k.Index to
// its end, and the rest of that span is zeroed. Oversized string-like
// writes and malformed numeric literals
// (other than the legitimate literal "0") fail with BadArg and leave
// the underlying bytes unchanged (spec §4.2, §8 scenario S4).
func (h *Handle) WriteValue(k key.OFRI, value string) error {
	field, start, end, ok := h.resolve(k)
	if !ok {
		return nullObjErr(k)
	}
	raw := h.mem[start:end]

	switch field.Type {
	case schema.TypeObject, schema.TypeChar, schema.TypeString, schema.TypeByte:
		if len(value) > len(raw) {
			return errcode.New(errcode.BadArg, "value %q exceeds field %s width %d", value, field.Name, len(raw))
		}
		for i := range raw {
			raw[i] = 0
		}
		copy(raw, value)
		return nil
	case schema.TypeInt:
		n, err := strconv.ParseInt(value, 10, 32)
		if err != nil && value != "0" {
			return errcode.New(errcode.BadArg, "value %q is not a valid signed integer for field %s", value, field.Name)
		}
		binary.LittleEndian.PutUint32(raw, uint32(int32(n)))
		return nil
	case schema.TypeField, schema.TypeRecord, schema.TypeIndex, schema.TypeUint:
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil && value != "0" {
			return errcode.New(errcode.BadArg, "value %q is not a valid unsigned integer for field %s", value, field.Name)
		}
		binary.LittleEndian.PutUint32(raw, uint32(n))
		return nil
	case schema.TypeBool:
		upper := strings.ToUpper(value)
		if upper == "FALSE" || upper == "0" {
			raw[0] = 0
		} else {
			raw[0] = 1
		}
		return nil
	default:
		return errcode.New(errcode.BadArg, "unknown type code %q on field %s", field.Type, field.Name)
	}
}

func bytesUntilNUL(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}
