// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// crowdliftdumpdb dumps the contents of a crowdliftd campaign database for
// debugging. The daemon must not be running against the database while this
// tool reads it.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/crowdlift/crowdlift/campaigns"
	"github.com/davecgh/go-spew/spew"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

var dbDirectory = flag.String("d", filepath.Join(defaultHomeDir(),
	"data", "campaigns"), "crowdliftd campaign database directory")

func defaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".crowdliftd")
}

func _main() error {
	flag.Parse()

	fmt.Printf("Database: %v\n", *dbDirectory)

	db, err := leveldb.OpenFile(*dbDirectory, &opt.Options{
		ReadOnly: true,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	i := db.NewIterator(nil, nil)
	defer i.Release()
	for i.Next() {
		fmt.Printf("%v\n", strings.Repeat("=", 80))
		key := string(i.Key())
		value := i.Value()

		switch {
		case key == "campaigns":
			var cs []campaigns.Campaign
			if err := json.Unmarshal(value, &cs); err != nil {
				return fmt.Errorf("decode %v: %v", key, err)
			}
			fmt.Printf("Key   : %v\n", key)
			fmt.Printf("Record: %v", spew.Sdump(cs))
		case strings.HasPrefix(key, "launch:"):
			var ls campaigns.LaunchState
			if err := json.Unmarshal(value, &ls); err != nil {
				return fmt.Errorf("decode %v: %v", key, err)
			}
			fmt.Printf("Key   : %v\n", key)
			fmt.Printf("Record: %v", spew.Sdump(ls))
		default:
			fmt.Printf("Key   : %v\n", key)
			fmt.Printf("Record: %x\n", value)
		}
	}
	return i.Error()
}

func main() {
	err := _main()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
