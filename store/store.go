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

// Package store maps an object's backing file into memory and resolves
// (object, field, record, index) keys into typed reads and writes
// against it. It performs no locking of its own: concurrent access is
// safe only to the extent the platform guarantees for a shared memory
// segment (spec §4.2).
package store

import (
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"

	"github.com/dunn0052/kdb/errcode"
	"github.com/dunn0052/kdb/key"
	"github.com/dunn0052/kdb/schema"
)

// Handle is a process-local mapping of one object's backing file.
// Each process exclusively owns its own Handle; the mapped bytes
// themselves are shared with the kernel and any other process that has
// opened the same file.
type Handle struct {
	object *schema.Object
	mem    []byte // nil until Open succeeds
}

// Open locates obj in reg, opens <dbDir>/<OBJECT>.db read-write, and
// maps the whole file shared read/write. Open is idempotent in effect
// but not in cost: calling it again on a fresh Handle duplicates the
// mapping.
func Open(reg *schema.Registry, dbDir string, name key.Object) (*Handle, error) {
	obj, ok := reg.Lookup(name)
	if !ok {
		return nil, errcode.New(errcode.NotFound, "object %s is not registered", name)
	}
	path := filepath.Join(dbDir, name.Canonical()+schema.DBExt)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errcode.New(errcode.NotFound, "backing file %s: %v", path, err)
		}
		return nil, errcode.New(errcode.FAIL, "opening %s: %v", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errcode.New(errcode.FAIL, "stat %s: %v", path, err)
	}
	if info.Size() != obj.FileSize() {
		return nil, errcode.New(errcode.FAIL, "backing file %s is %d bytes, registry expects %d", path, info.Size(), obj.FileSize())
	}

	mem, err := mmap(f, int(info.Size()))
	if err != nil {
		return nil, errcode.New(errcode.FAIL, "mmap %s: %v", path, err)
	}
	return &Handle{object: obj, mem: mem}, nil
}

// Close unmaps h. It is a no-op on a Handle that was never successfully
// mapped (e.g. produced by a failed Open), so deferring Close next to
// Open is always safe.
func (h *Handle) Close() error {
	if h == nil || h.mem == nil {
		return nil
	}
	err := munmap(h.mem)
	h.mem = nil
	if err != nil {
		return errcode.New(errcode.FAIL, "munmap: %v", err)
	}
	return nil
}

// Object returns the descriptor this handle was opened against.
func (h *Handle) Object() *schema.Object {
	return h.object
}

// Stat returns (record count, record size, backing file size) for DBDebug.
func (h *Handle) Stat() (recordCount uint32, recordSize int, fileSize int64) {
	return h.object.RecordCount, h.object.RecordSize, h.object.FileSize()
}

// Checksum returns a blake2b-128 digest of the entire mapped region, for
// DBDebug to compare two instances of the same object (e.g. before/after
// a provisioning run, or across a replica) without diffing raw bytes.
func (h *Handle) Checksum() ([16]byte, error) {
	if h == nil || h.mem == nil {
		return [16]byte{}, errcode.New(errcode.NullObj, "checksum of an unopened handle")
	}
	digest, err := blake2b.New(16, nil)
	if err != nil {
		return [16]byte{}, errcode.New(errcode.FAIL, "blake2b: %v", err)
	}
	digest.Write(h.mem)
	var sum [16]byte
	digest.Sum(sum[:0])
	return sum, nil
}

// resolve computes the byte range addressed by k (from element k.Index
// to the end of the field), returning ok=false if
// any part of the key (out-of-range record/index, or an unmapped
// handle) would fall outside the mapping.
func (h *Handle) resolve(k key.OFRI) (field *schema.Field, start, end int, ok bool) {
	if h == nil || h.mem == nil {
		return nil, 0, 0, false
	}
	f, found := h.object.Field(k.Field)
	if !found {
		return nil, 0, 0, false
	}
	if uint32(k.Record) >= h.object.RecordCount {
		return nil, 0, 0, false
	}
	elemSize := f.Size / f.Count
	if int(k.Index) >= f.Count {
		return nil, 0, 0, false
	}
	fieldStart := int(k.Record)*h.object.RecordSize + f.Offset
	start = fieldStart + int(k.Index)*elemSize
	end = fieldStart + f.Size
	if end > len(h.mem) {
		return nil, 0, 0, false
	}
	return f, start, end, true
}

// Get returns a byte slice viewing the field addressed by k, starting at
// element k.Index and running to the end of the field (the whole field
// for index 0), or nil if k addresses a range outside the mapping
// (spec §4.2, §8 invariant 3).
func (h *Handle) Get(k key.OFRI) []byte {
	_, start, end, ok := h.resolve(k)
	if !ok {
		return nil
	}
	return h.mem[start:end]
}

func nullObjErr(k key.OFRI) error {
	return errcode.New(errcode.NullObj, "no mapped memory for %s", k)
}
