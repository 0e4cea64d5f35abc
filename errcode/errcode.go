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

// Package errcode defines the small, composable set of result codes
// used across kdb instead of ad-hoc error strings, along with an error
// type that carries one.
package errcode

import "fmt"

// Code is a bitmask of result kinds. Zero value is OK. Callers that
// perform multiple sub-operations may OR codes together so the union
// of failures is visible without losing the earliest failure's detail;
// see (*Error).Or.
type Code uint32

const (
	OK Code = 0
	// FAIL is a generic I/O failure.
	FAIL Code = 1 << iota
	// NotFound means a missing object, schema, or file.
	NotFound
	// BadArg means a conversion failure, out-of-range index, or
	// oversized write.
	BadArg
	// MallocFail means an allocator or ftruncate failure.
	MallocFail
	// ConnectionFail means a transport could not be established.
	ConnectionFail
	// NullObj means a key resolved to no valid memory.
	NullObj
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case FAIL:
		return "FAIL"
	case NotFound:
		return "NOT_FOUND"
	case BadArg:
		return "BAD_ARG"
	case MallocFail:
		return "MALLOC_FAIL"
	case ConnectionFail:
		return "CONNECTION_FAIL"
	case NullObj:
		return "NULL_OBJ"
	default:
		return fmt.Sprintf("Code(%#x)", uint32(c))
	}
}

// Is reports whether c has every bit of want set.
func (c Code) Is(want Code) bool {
	return c&want == want
}

// Error pairs a Code with the detail that produced it.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// New builds an *Error from a code and a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Or composes e with another code, returning a new *Error whose Code is
// the bitwise union of both and whose message keeps the earlier detail.
func (e *Error) Or(c Code) *Error {
	if e == nil {
		return &Error{Code: c}
	}
	return &Error{Code: e.Code | c, Msg: e.Msg}
}

// CodeOf extracts the Code from err, returning FAIL for any non-nil
// error that isn't an *Error and OK for a nil error.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return FAIL
}
