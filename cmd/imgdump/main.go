// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"os"
)

type config struct {
	wantTypes   bool
	wantMethods bool
	wantFields  bool
	wantStrings bool
	wantInit    bool
	wantStats   bool
}

func main() {
	dumpCmd := flag.NewFlagSet("dump", flag.ExitOnError)
	dumpTypes := dumpCmd.Bool("types", false, "Dump type table")
	dumpMethods := dumpCmd.Bool("methods", false, "Dump method table")
	dumpFields := dumpCmd.Bool("fields", false, "Dump field table")
	dumpStrings := dumpCmd.Bool("strings", false, "Dump interned string table")
	dumpInit := dumpCmd.Bool("init", false, "Dump static initializer order")
	dumpStats := dumpCmd.Bool("stats", false, "Dump memory estimate")

	verCmd := flag.NewFlagSet("version", flag.ExitOnError)

	if len(os.Args) < 2 {
		showHelp()
	}

	switch os.Args[1] {
	case "dump":
		dumpCmd.Parse(os.Args[3:])

		cfg := config{
			wantTypes:   *dumpTypes,
			wantMethods: *dumpMethods,
			wantFields:  *dumpFields,
			wantStrings: *dumpStrings,
			wantInit:    *dumpInit,
			wantStats:   *dumpStats,
		}

		if len(os.Args) < 3 {
			showHelp()
		}
		if err := parse(os.Args[2], cfg); err != nil {
			fmt.Println("Error:", err)
			os.Exit(1)
		}

	case "version":
		verCmd.Parse(os.Args[2:])
		fmt.Println("You are using version 0.0.1")
	default:
		showHelp()
	}
}

func showHelp() {
	fmt.Print(
		`
╔╗╔╔═╗╔╗╔╔═╗╦╔╦╗╔═╗╔═╗╔═╗
║║║╠═╣║║║║ ║║║║║║ ╦║ ║╠═╝
╝╚╝╩ ╩╝╚╝╚═╝╩╩ ╩╚═╝╚═╝╩
	dumps a compiled execution set
`)
	fmt.Println("\nAvailable sub-commands 'dump' or 'version' subcommands")
	os.Exit(1)
}
