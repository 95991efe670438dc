// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command phantomd drives the bridge lifecycle from the shell: init,
// start, stop, status, verify, and the group/rule/preset management
// operations, all against a single sqlite store file.
package main

import (
	"fmt"
	"os"

	brerr "phantomd.dev/bridge/internal/errors"
	"phantomd.dev/bridge/internal/logging"
)

const defaultDBPath = "/var/lib/phantomd/phantomd.db"

func dbPath() string {
	if p := os.Getenv("PHANTOMD_DB_PATH"); p != "" {
		return p
	}
	return defaultDBPath
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	log := logging.Default().WithComponent("cli")
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "init":
		err = runInit(args)
	case "start":
		err = runStart(args)
	case "stop":
		err = runStop(args)
	case "status":
		err = runStatus(args)
	case "verify":
		err = runVerify(args)
	case "flush":
		err = runFlush(args)
	case "group":
		err = runGroup(args)
	case "rule":
		err = runRule(args)
	case "preset":
		err = runPreset(args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "phantomd: unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Error("command failed", "command", cmd, "error", err)
		fmt.Fprintf(os.Stderr, "phantomd: %v (code=%d)\n", err, brerr.CodeOf(err))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: phantomd <command> [arguments]

lifecycle:
  init                         open the store, reset stale state, ensure the private table
  start                        reconcile all enabled groups into the kernel
  stop                         tear down every applied rule and flush the table
  status [-json]               print the current lifecycle state and rule counts
  verify                       compare kernel state against the declared store
  flush                        drop every rule from the private table

groups:
  group create [-meta json] <name> <type> <priority>
  group list
  group enable <name>
  group disable <name>
  group delete <name>

rules:
  rule add-fw [flags] <group>       see: phantomd rule add-fw -h
  rule add-rt [flags] <group>       see: phantomd rule add-rt -h
  rule list-fw <group-id>
  rule list-rt <group-id>
  rule rm-fw <rule-id>
  rule rm-rt <rule-id>

presets:
  preset vpn <name> <wg-iface> <wg-port> <wg-subnet> <out-iface>
  preset multihop <name> <in-iface> <out-iface> <fwmark> <table-id> <subnet>
  preset killswitch <wg-port> <wstunnel-port> <wg-iface>
  preset dns <wg-iface>
  preset ipv6block

the store path defaults to ` + defaultDBPath + `, override with -db or $PHANTOMD_DB_PATH.
`)
}
