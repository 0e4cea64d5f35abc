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
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dchest/siphash"
	"github.com/klauspost/compress/zstd"

	"github.com/dunn0052/kdb/key"
)

// SkmExt and DBExt are the schema and backing-file extensions, per
// spec §6.2.
const (
	SkmExt = ".skm"
	DBExt  = ".db"
)

// Compiler reads a directory of .skm schema files and produces a
// Registry plus the manifest and backing files that describe it.
type Compiler struct {
	// SkmDir holds the text schema files.
	SkmDir string
	// DBDir holds (or will hold) the backing .db files.
	DBDir string
	// ManifestPath is where the compiled manifest is written/read.
	ManifestPath string

	Logger *log.Logger
}

// CompilerOption configures a Compiler, in the same functional-option
// shape the rest of kdb uses for long-lived components.
type CompilerOption func(*Compiler)

// WithLogger sets the logger used to report per-schema-file failures.
func WithLogger(l *log.Logger) CompilerOption {
	return func(c *Compiler) { c.Logger = l }
}

// NewCompiler builds a Compiler rooted at installDir, following the
// layout in spec §6.2 (installDir/db/skm, installDir/db/db).
func NewCompiler(installDir string, opts ...CompilerOption) *Compiler {
	c := &Compiler{
		SkmDir:       filepath.Join(installDir, "db", "skm"),
		DBDir:        filepath.Join(installDir, "db", "db"),
		ManifestPath: filepath.Join(installDir, "db", ManifestName),
		Logger:       log.New(os.Stderr, "", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result summarizes one schema file's compilation outcome.
type Result struct {
	File   string
	Object *Object
	Err    error
}

// Compile parses every .skm file in c.SkmDir, provisions their backing
// files, and writes the combined manifest. Malformed or unreadable
// schema files are reported in the returned slice but do not prevent
// the rest of the directory from being processed (spec §4.1 failure
// semantics). The manifest is flushed even if some files failed, so
// repeat runs converge.
func (c *Compiler) Compile() ([]Result, error) {
	entries, err := os.ReadDir(c.SkmDir)
	if err != nil {
		return nil, fmt.Errorf("schema: reading %s: %w", c.SkmDir, err)
	}

	if err := os.MkdirAll(c.DBDir, 0o777); err != nil {
		return nil, fmt.Errorf("schema: creating %s: %w", c.DBDir, err)
	}

	reg, err := c.loadOrEmptyRegistry()
	if err != nil {
		c.Logger.Printf("schema: starting from an empty registry: %v", err)
		reg = &Registry{byName: make(map[string]*Object)}
	}
	if err := c.backupManifest(); err != nil {
		c.Logger.Printf("schema: manifest backup skipped: %v", err)
	}

	var results []Result
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), SkmExt) {
			continue
		}
		path := filepath.Join(c.SkmDir, ent.Name())
		obj, err := c.compileOne(path)
		if err != nil {
			c.Logger.Printf("schema: %s: %v", ent.Name(), err)
			results = append(results, Result{File: ent.Name(), Err: err})
			continue
		}
		if err := c.provision(obj); err != nil {
			c.Logger.Printf("schema: %s: provisioning backing file: %v", ent.Name(), err)
			results = append(results, Result{File: ent.Name(), Object: obj, Err: err})
			continue
		}
		reg.put(obj)
		results = append(results, Result{File: ent.Name(), Object: obj})
	}

	if err := reg.SaveManifest(c.ManifestPath); err != nil {
		return results, fmt.Errorf("schema: writing manifest: %w", err)
	}
	return results, nil
}

func (c *Compiler) loadOrEmptyRegistry() (*Registry, error) {
	if _, err := os.Stat(c.ManifestPath); err != nil {
		return &Registry{byName: make(map[string]*Object)}, nil
	}
	return LoadRegistry(c.ManifestPath)
}

// backupManifest snapshots the previous manifest, zstd-compressed,
// into a file whose name carries a siphash digest of its contents.
// The digest only names the backup; nothing compares it, so a
// concurrent compiler run is not detected.
func (c *Compiler) backupManifest() error {
	data, err := os.ReadFile(c.ManifestPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return err
	}
	defer enc.Close()
	compressed := enc.EncodeAll(data, nil)

	digest := siphash.Hash(0, 0, data)
	backupPath := fmt.Sprintf("%s.%x.zst.bak", c.ManifestPath, digest)
	return os.WriteFile(backupPath, compressed, 0o666)
}

// compileOne parses a single schema file into an Object descriptor.
func (c *Compiler) compileOne(path string) (*Object, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	obj := &Object{}
	scanner := bufio.NewScanner(f)
	headerSeen := false
	terminated := false
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !headerSeen {
			if err := parseHeader(line, obj); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			headerSeen = true
			continue
		}
		if terminated {
			c.Logger.Printf("schema: %s: ignoring field line %d after terminator", filepath.Base(path), lineNo)
			continue
		}
		if strings.HasPrefix(line, "0") {
			terminated = true
			continue
		}
		field, err := parseFieldLine(line, len(obj.Fields), obj.RecordSize)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		obj.Fields = append(obj.Fields, *field)
		obj.RecordSize += field.Size
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !headerSeen {
		return nil, fmt.Errorf("schema file %s has no object header", path)
	}
	if obj.RecordSize%4 != 0 {
		c.Logger.Printf("schema: %s: record size %d not a multiple of 4; pad with %d bytes of X",
			obj.Name, obj.RecordSize, 4-obj.RecordSize%4)
	}
	return obj, nil
}

// parseHeader parses "<object_number> <OBJECT_NAME> <record_count>".
func parseHeader(line string, obj *Object) error {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return fmt.Errorf("malformed object header %q", line)
	}
	ordinal, err := strconv.Atoi(fields[0])
	if err != nil {
		return fmt.Errorf("bad object number %q: %w", fields[0], err)
	}
	count, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return fmt.Errorf("bad record count %q: %w", fields[2], err)
	}
	obj.Ordinal = ordinal
	obj.Name = key.Object(fields[1])
	obj.RecordCount = uint32(count)
	return nil
}

// parseFieldLine parses "<field_number> <FIELD_NAME> <type_code> <num_elements>".
func parseFieldLine(line string, ordinal, offset int) (*Field, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return nil, fmt.Errorf("malformed field line %q", line)
	}
	typ := Type(strings.ToUpper(fields[2])[0])
	if !typ.Valid() {
		return nil, fmt.Errorf("unknown type code %q", fields[2])
	}
	n, err := strconv.Atoi(fields[3])
	if err != nil || n < 1 {
		return nil, fmt.Errorf("bad element count %q", fields[3])
	}
	return &Field{
		Ordinal: ordinal,
		Name:    fields[1],
		Type:    typ,
		Count:   n,
		Size:    typ.ByteSize() * n,
		Offset:  offset,
	}, nil
}

// provision ensures obj's backing file exists at exactly its computed
// length, creating it with mode 0666 and truncating without ever
// overwriting existing bytes.
func (c *Compiler) provision(obj *Object) error {
	return Provision(c.DBDir, obj)
}

// Provision creates (if absent) and sizes obj's backing file under
// dbDir, without requiring a full schema recompile. It is the
// operation InstantiateDB performs standalone, re-running only file
// provisioning against an already-compiled registry.
func Provision(dbDir string, obj *Object) error {
	path := filepath.Join(dbDir, obj.Name.Canonical()+DBExt)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Truncate(obj.FileSize())
}
