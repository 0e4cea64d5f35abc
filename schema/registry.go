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
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/dunn0052/kdb/key"
)

// ManifestName is the well-known file name for the registry manifest,
// written by the compiler and read by every other component; line k
// (1-indexed) holds the object whose Ordinal == k.
const ManifestName = "allDBs.manifest"

// Registry is the immutable, read-only mapping from canonical object
// name to compiled descriptor. It is produced once by the schema
// compiler and shared by every other component.
type Registry struct {
	byName map[string]*Object
	byLine []*Object // index 0 unused; line k at index k
}

// Lookup resolves name to its descriptor using exact, case-insensitive
// match on the canonical form.
func (r *Registry) Lookup(name key.Object) (*Object, bool) {
	o, ok := r.byName[name.Canonical()]
	return o, ok
}

// LookupOrdinal resolves an object_number (as carried in wire frames)
// to its descriptor.
func (r *Registry) LookupOrdinal(n uint32) (*Object, bool) {
	idx := int(n)
	if idx < 0 || idx >= len(r.byLine) || r.byLine[idx] == nil {
		return nil, false
	}
	return r.byLine[idx], true
}

// Objects returns every registered object, in manifest line order.
func (r *Registry) Objects() []*Object {
	out := make([]*Object, 0, len(r.byName))
	for _, o := range r.byLine {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

// marshalManifestLine returns the serialized form of one Object on one manifest
// line: object_number name record_count field*(name,type,count)
func marshalManifestLine(o *Object) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s %d", o.Ordinal, o.Name.Canonical(), o.RecordCount)
	for _, f := range o.Fields {
		fmt.Fprintf(&b, " %s,%c,%d", f.Name, f.Type, f.Count)
	}
	return b.String()
}

func unmarshalManifestLine(line string) (*Object, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return nil, fmt.Errorf("schema: malformed manifest line %q", line)
	}
	ordinal, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("schema: bad object number in %q: %w", line, err)
	}
	count, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("schema: bad record count in %q: %w", line, err)
	}
	o := &Object{
		Ordinal:     ordinal,
		Name:        key.Object(fields[1]),
		RecordCount: uint32(count),
	}
	offset := 0
	for i, spec := range fields[3:] {
		parts := strings.Split(spec, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("schema: bad field spec %q in %q", spec, line)
		}
		typ := Type(parts[1][0])
		if !typ.Valid() {
			return nil, fmt.Errorf("schema: unknown type code %q in %q", parts[1], line)
		}
		n, err := strconv.Atoi(parts[2])
		if err != nil || n < 1 {
			return nil, fmt.Errorf("schema: bad element count %q in %q", parts[2], line)
		}
		size := typ.ByteSize() * n
		o.Fields = append(o.Fields, Field{
			Ordinal: i,
			Name:    parts[0],
			Type:    typ,
			Count:   n,
			Size:    size,
			Offset:  offset,
		})
		offset += size
	}
	o.RecordSize = offset
	return o, nil
}

// LoadRegistry reads a manifest file and builds a Registry from it.
// Malformed lines are skipped with their line number reported in the
// returned error; the remaining lines are still loaded.
func LoadRegistry(manifestPath string) (*Registry, error) {
	f, err := os.Open(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("schema: opening manifest: %w", err)
	}
	defer f.Close()

	r := &Registry{byName: make(map[string]*Object)}
	var errs []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		o, err := unmarshalManifestLine(line)
		if err != nil {
			errs = append(errs, fmt.Sprintf("line %d: %v", lineNo, err))
			continue
		}
		r.put(o)
	}
	if err := scanner.Err(); err != nil {
		return r, fmt.Errorf("schema: reading manifest: %w", err)
	}
	if len(errs) > 0 {
		return r, fmt.Errorf("schema: %d malformed manifest line(s): %s", len(errs), strings.Join(errs, "; "))
	}
	return r, nil
}

func (r *Registry) put(o *Object) {
	r.byName[o.Name.Canonical()] = o
	for len(r.byLine) <= o.Ordinal {
		r.byLine = append(r.byLine, nil)
	}
	r.byLine[o.Ordinal] = o
}

// SaveManifest writes the registry back out in the stable line-per-
// object-number form LoadRegistry expects, extending with blank lines
// where an ordinal has no object (spec §4.1.4).
func (r *Registry) SaveManifest(manifestPath string) error {
	f, err := os.Create(manifestPath)
	if err != nil {
		return fmt.Errorf("schema: creating manifest: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for i := 1; i < len(r.byLine); i++ {
		if r.byLine[i] == nil {
			fmt.Fprintln(w)
			continue
		}
		fmt.Fprintln(w, marshalManifestLine(r.byLine[i]))
	}
	return w.Flush()
}

// AtomicRegistry holds a hot-swappable *Registry, so a long-running
// process (the update daemon) can observe a schema recompile without
// restarting. The zero value is not usable; construct with
// NewAtomicRegistry.
type AtomicRegistry struct {
	p atomic.Pointer[Registry]
}

// NewAtomicRegistry wraps an initial registry for hot-swapping.
func NewAtomicRegistry(r *Registry) *AtomicRegistry {
	a := &AtomicRegistry{}
	a.p.Store(r)
	return a
}

// Load returns the currently active registry.
func (a *AtomicRegistry) Load() *Registry {
	return a.p.Load()
}

// Swap atomically replaces the active registry, returning the previous one.
func (a *AtomicRegistry) Swap(r *Registry) *Registry {
	return a.p.Swap(r)
}

// Reload re-reads manifestPath and swaps it in if it parses cleanly.
func (a *AtomicRegistry) Reload(manifestPath string) error {
	r, err := LoadRegistry(manifestPath)
	if err != nil {
		return err
	}
	a.Swap(r)
	return nil
}
