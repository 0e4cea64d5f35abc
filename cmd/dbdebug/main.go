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

// Command dbdebug prints a registered object's compiled layout: every
// field's size and offset, flagging any padding the compiler inserted.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/dunn0052/kdb/key"
	"github.com/dunn0052/kdb/schema"
	"github.com/dunn0052/kdb/store"
)

func main() {
	cmd := flag.NewFlagSet("dbdebug", flag.ExitOnError)
	object := cmd.String("o", "", "name of object to report on")
	all := cmd.Bool("a", false, "report on every registered object")
	if err := cmd.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	logger := log.New(os.Stderr, "", 0)

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
		fmt.Println("-- dbdebug object report --")
		if err := printObjectInfo(reg, dbDir, key.Object(*object)); err != nil {
			logger.Printf("%v", err)
		}
		fmt.Println("-- dbdebug end report --")
	case *all:
		fmt.Println("-- dbdebug all report --")
		for _, obj := range reg.Objects() {
			if err := printObjectInfo(reg, dbDir, obj.Name); err != nil {
				logger.Printf("%v", err)
			}
			fmt.Println()
		}
		fmt.Println("-- dbdebug end report --")
	default:
		cmd.Usage()
		os.Exit(1)
	}
}

func printObjectInfo(reg *schema.Registry, dbDir string, name key.Object) error {
	obj, ok := reg.Lookup(name)
	if !ok {
		return fmt.Errorf("could not find object: %s", name)
	}

	fmt.Printf("members of %s\n", obj.Name)
	var fieldSum, paddingSum int
	for _, f := range obj.Fields {
		fmt.Printf("  %s field size: %d field offset: %d\n", f.Name, f.Size, f.Offset)
		if f.Offset != fieldSum {
			added := f.Offset - fieldSum
			fmt.Printf("  warning: padding of %d was added before field %s\n", added, f.Name)
			fieldSum += added
			paddingSum += added
		}
		fieldSum += f.Size
	}
	fmt.Printf("%s sum of field sizes: %d\n", obj.Name, fieldSum-paddingSum)
	fmt.Printf("%s record size: %d\n", obj.Name, obj.RecordSize)
	if paddingSum != 0 {
		fmt.Printf("%d bytes of padding in %s%s are needed\n", paddingSum, obj.Name, schema.SkmExt)
	}

	h, err := store.Open(reg, dbDir, name)
	if err != nil {
		fmt.Printf("  checksum: backing file unavailable: %v\n", err)
		return nil
	}
	defer h.Close()
	sum, err := h.Checksum()
	if err != nil {
		fmt.Printf("  checksum: %v\n", err)
		return nil
	}
	fmt.Printf("%s blake2b-128: %x\n", obj.Name, sum)
	return nil
}
