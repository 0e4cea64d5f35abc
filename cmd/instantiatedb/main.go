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

// Command instantiatedb (re-)creates and sizes backing .db files for
// objects already present in the compiled registry, without running
// the schema compiler.
package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/dunn0052/kdb/key"
	"github.com/dunn0052/kdb/schema"
)

func main() {
	cmd := flag.NewFlagSet("instantiatedb", flag.ExitOnError)
	object := cmd.String("object", "", "name of db object to generate")
	all := cmd.Bool("a", false, "generate every registered object's backing file")
	if err := cmd.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	logger := log.New(os.Stderr, "instantiatedb: ", 0)

	installDir := os.Getenv("KDB_INSTALL_DIR")
	if installDir == "" {
		logger.Fatal("KDB_INSTALL_DIR is not set")
	}
	manifestPath := filepath.Join(installDir, "db", schema.ManifestName)
	reg, err := schema.LoadRegistry(manifestPath)
	if err != nil {
		logger.Fatalf("loading registry: %v", err)
	}
	dbDir := filepath.Join(installDir, "db", "db")

	switch {
	case *object != "":
		generate(logger, reg, dbDir, key.Object(*object))
	case *all:
		for _, obj := range reg.Objects() {
			generate(logger, reg, dbDir, obj.Name)
		}
	default:
		cmd.Usage()
		os.Exit(1)
	}
}

func generate(logger *log.Logger, reg *schema.Registry, dbDir string, name key.Object) {
	obj, ok := reg.Lookup(name)
	if !ok {
		logger.Printf("could not find %s in the registry; run the schema compiler again", name)
		return
	}
	if err := schema.Provision(dbDir, obj); err != nil {
		logger.Printf("failed to generate %s%s: %v", name, schema.DBExt, err)
		return
	}
	logger.Printf("generated %s%s", filepath.Join(dbDir, name.Canonical()), schema.DBExt)
}
