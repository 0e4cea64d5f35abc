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

// Command dbset reads or writes a single field value directly against
// a mapped object file, bypassing the update daemon.
package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/dunn0052/kdb/key"
	"github.com/dunn0052/kdb/schema"
	"github.com/dunn0052/kdb/store"
)

func main() {
	cmd := flag.NewFlagSet("dbset", flag.ExitOnError)
	object := cmd.String("o", "", "object name (required)")
	field := cmd.Uint("f", 0, "field number in object (required)")
	record := cmd.Uint("r", 0, "record number (required)")
	index := cmd.Uint("i", 0, "index of field")
	value := cmd.String("v", "", "value to write; if omitted, the current value is read and printed")
	hasValue := false
	if err := cmd.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}
	cmd.Visit(func(f *flag.Flag) {
		if f.Name == "v" {
			hasValue = true
		}
	})

	logger := log.New(os.Stderr, "dbset: ", 0)
	if *object == "" {
		logger.Fatal("-o object is required")
	}

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

	h, err := store.Open(reg, dbDir, key.Object(*object))
	if err != nil {
		logger.Fatalf("opening %s: %v", *object, err)
	}
	defer h.Close()

	ofri := key.OFRI{
		Object: key.Object(*object),
		Field:  key.Field(*field),
		Record: key.Record(*record),
		Index:  key.Index(*index),
	}

	if hasValue {
		if err := h.WriteValue(ofri, *value); err != nil {
			logger.Fatalf("failed to update %s with %q: %v", ofri, *value, err)
		}
		logger.Printf("updated %s = %s", ofri, *value)
		return
	}

	got, err := h.ReadValue(ofri)
	if err != nil {
		logger.Fatalf("failed to read %s: %v", ofri, err)
	}
	logger.Printf("value of %s = %s", ofri, got)
}
